package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, transports and sinks return
// these (optionally wrapped) so callers can branch with errors.Is without
// depending on a concrete backend:
// - ErrNotFound: key or record does not exist in the store
// - ErrUnavailable: backend or collector temporarily unreachable
// - ErrInvalidState: component used in the wrong lifecycle state
// - ErrRejected: remote side answered but refused the payload
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
	ErrRejected     = errors.New("rejected")
)
