package relay

import "errors"

var (
	// ErrConflict is returned when a relay is already active for the session id.
	ErrConflict = errors.New("session already active")
	// ErrNotFound is returned when no relay is active for the session id.
	ErrNotFound = errors.New("no such session")
	// ErrNotReady rejects audio and end-of-speech before negotiation completes.
	ErrNotReady = errors.New("session not ready")
	// ErrOpenFailed is returned when the upstream link could not be opened.
	ErrOpenFailed = errors.New("could not open upstream connection")
	// ErrInvalidAudio rejects empty or undecodable audio payloads.
	ErrInvalidAudio = errors.New("invalid audio payload")
)

// ErrInvalidSessionID is returned for an empty session id.
var ErrInvalidSessionID = errors.New("session id is required")
