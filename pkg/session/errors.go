package session

import "errors"

// ErrSessionNotFound is returned when an operation references a session id
// that is not (or no longer) in the store.
var ErrSessionNotFound = errors.New("session not found")
