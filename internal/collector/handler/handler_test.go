package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"neurotravel/internal/collector/handler"
	"neurotravel/internal/collector/models"
	"neurotravel/internal/collector/service"
	"neurotravel/internal/collector/store"
	jwttoken "neurotravel/internal/jwt_token"
	"neurotravel/internal/platform/metrics"
	"neurotravel/pkg/platform/clock"
	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry"
	"neurotravel/pkg/telemetry/transport"
	"neurotravel/pkg/testutil"
)

const signingKey = "collector-test-key"

type HandlerSuite struct {
	suite.Suite
	store  *store.Memory
	tokens *jwttoken.JWTService
	router http.Handler
	server *httptest.Server
	now    time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.store = store.NewMemory(0)
	s.tokens = jwttoken.NewJWTService(signingKey, "")

	svc := service.New(s.store, service.WithLogger(logger), service.WithMetrics(m))
	h := handler.New(svc, handler.WithLogger(logger), handler.WithMetrics(m))
	s.router = handler.NewRouter(h, handler.RouterConfig{
		Validator: s.tokens,
		Gatherer:  reg,
		Clock:     clock.Fake(s.now),
		Logger:    logger,
	})
	s.server = httptest.NewServer(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) post(path, body, token string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *HandlerSuite) token(stream string) string {
	tok, err := s.tokens.GenerateIngestToken("s-1", stream, time.Minute)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) TestAcceptsAnalyticsBatch() {
	resp := s.post("/api/analytics", `{"events":[{"name":"page_view","sessionId":"s-1"},{"name":"user_action","sessionId":"s-1"}]}`, s.token("analytics"))

	s.Equal(http.StatusAccepted, resp.StatusCode)
	var body handler.IngestResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal(2, body.Accepted)
	s.Len(s.store.Events(), 2)
}

func (s *HandlerSuite) TestAcceptsPerformanceEnvelope() {
	env := models.Envelope{Metrics: []telemetry.PerformanceMetric{
		{Name: "page_load_time", Value: 950, SessionID: "s-1"},
	}}
	req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/performance", env), s.token("performance"))

	w := testutil.DoRequest(s.router, req)

	s.Equal(http.StatusAccepted, w.Code)
	s.Equal(1, testutil.UnmarshalResponse[handler.IngestResponse](s.T(), w).Accepted)
	s.Require().Len(s.store.Metrics(), 1)
}

func (s *HandlerSuite) TestUnknownStreamIsNotFound() {
	resp := s.post("/api/logs", `{"events":[{"name":"page_view"}]}`, s.token(""))
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestEmptyEnvelopeIsBadRequest() {
	resp := s.post("/api/errors", `{"errors":[]}`, s.token("errors"))
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestMalformedBodyIsBadRequest() {
	resp := s.post("/api/performance", `{"metrics":`, s.token(""))
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestOversizedBodyIsRejected() {
	big := `{"events":[{"name":"` + strings.Repeat("x", handler.MaxBodyBytes) + `"}]}`
	req := testutil.WithBearer(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/analytics", big), s.token(""))

	w := testutil.DoRequest(s.router, req)

	testutil.AssertStatusAndError(s.T(), w, http.StatusRequestEntityTooLarge, "payload_too_large")
}

func (s *HandlerSuite) TestMissingTokenIsUnauthorized() {
	resp := s.post("/api/analytics", `{"events":[{"name":"page_view"}]}`, "")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Empty(s.store.Events())
}

func (s *HandlerSuite) TestTokenForOtherStreamIsUnauthorized() {
	resp := s.post("/api/analytics", `{"events":[{"name":"page_view"}]}`, s.token("errors"))
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *HandlerSuite) TestHealthAndMetrics() {
	resp, err := http.Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.post("/api/analytics", `{"events":[{"name":"page_view"}]}`, s.token(""))

	mresp, err := http.Get(s.server.URL + "/metrics")
	s.Require().NoError(err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	s.Require().NoError(err)
	s.Contains(string(raw), `neurotravel_collector_records_accepted_total{stream="analytics"} 1`)
}

// The production client transport and the collector agree on paths,
// envelopes and tokens.
func (s *HandlerSuite) TestClientTransportRoundTrip() {
	ctx := context.Background()
	tr := transport.NewHTTP(s.server.URL, transport.WithSigner(s.tokens))

	err := tr.Send(ctx, transport.NewBatch(telemetry.StreamErrors, "s-1", []telemetry.ErrorReport{{
		ID:        "e-1",
		Message:   "boom",
		Severity:  telemetry.SeverityCritical,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
		SessionID: "s-1",
	}}))
	s.Require().NoError(err)

	stored := s.store.Errors()
	s.Require().Len(stored, 1)
	s.Equal("Firefox", stored[0].Client.Browser)
	s.Equal(telemetry.SeverityCritical, stored[0].Severity)

	err = tr.Send(ctx, transport.NewBatch(telemetry.StreamPerformance, "s-1", []telemetry.PerformanceMetric{}))
	s.ErrorIs(err, sentinel.ErrRejected, "empty batches are refused")
}
