// Package identity attaches the session and bound user to telemetry records.
package identity

import (
	"sync"

	"github.com/google/uuid"

	"neurotravel/pkg/telemetry"
)

// Binder holds the session identifier for one process lifetime and the user
// bound to it by the host application. Safe for concurrent use.
type Binder struct {
	sessionOnce sync.Once
	sessionID   string

	mu     sync.RWMutex
	userID string
	props  telemetry.UserProperties
}

func NewBinder() *Binder {
	return &Binder{}
}

// SessionID returns the session identifier, generating it on first call.
// UUIDv7 carries a millisecond timestamp followed by random bits.
func (b *Binder) SessionID() string {
	b.sessionOnce.Do(func() {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		b.sessionID = id.String()
	})
	return b.sessionID
}

// Bind sets the current user, overwriting any earlier binding. There is no
// unbind; a new session starts with a new Binder.
func (b *Binder) Bind(userID string, props telemetry.UserProperties) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userID = userID
	props.AccessibilityNeeds = append([]string(nil), props.AccessibilityNeeds...)
	b.props = props
}

// UserID returns the bound user, or "" before Bind.
func (b *Binder) UserID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userID
}

// Properties returns a copy of the bound user's properties.
func (b *Binder) Properties() telemetry.UserProperties {
	b.mu.RLock()
	defer b.mu.RUnlock()
	props := b.props
	props.AccessibilityNeeds = append([]string(nil), b.props.AccessibilityNeeds...)
	return props
}
