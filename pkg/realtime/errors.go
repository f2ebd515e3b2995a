package realtime

import "errors"

var (
	// ErrNotReady is returned when audio or control frames are sent before negotiation completes.
	ErrNotReady = errors.New("realtime link not ready")
	// ErrClosed is returned when operating on a link that has been closed.
	ErrClosed = errors.New("realtime link closed")
	// ErrAlreadyOpen is returned by a second Open on the same link.
	ErrAlreadyOpen = errors.New("realtime link already opened")
	// ErrHandshakeTimeout is the close reason when no acknowledgement arrives in time.
	ErrHandshakeTimeout = errors.New("realtime negotiation timed out")
	// ErrMalformedFrame wraps every inbound frame decoding failure.
	ErrMalformedFrame = errors.New("malformed realtime frame")
)
