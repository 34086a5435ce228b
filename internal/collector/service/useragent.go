package service

import (
	"github.com/mssola/useragent"

	"neurotravel/internal/collector/models"
)

// ParseUserAgent extracts browser, OS and device class from a User-Agent
// header value. An empty string yields the zero Client.
func ParseUserAgent(raw string) models.Client {
	if raw == "" {
		return models.Client{}
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	return models.Client{
		Browser:        name,
		BrowserVersion: version,
		OS:             ua.OS(),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
}
