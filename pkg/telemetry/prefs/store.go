// Package prefs persists small client-side preference flags (the telemetry
// opt-out among them) across process restarts.
package prefs

import "context"

// Namespace prefixes every key this module writes so it cannot collide with
// unrelated application storage.
const Namespace = "neurotravel.telemetry."

// Key returns the namespaced storage key for name.
func Key(name string) string { return Namespace + name }

// Store is a durable string key-value store. Get returns sentinel.ErrNotFound
// (possibly wrapped) for missing keys. Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
