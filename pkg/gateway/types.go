package gateway

import (
	"context"
	"time"

	"github.com/harun/voxrelay/pkg/chat"
	"github.com/harun/voxrelay/pkg/relay"
)

// SessionManager is the relay surface the HTTP routes drive.
type SessionManager interface {
	Start(ctx context.Context, id string) error
	SubmitAudio(id, encoded string) error
	EndSpeech(id string) error
	Status(id string) (relay.Status, error)
	Events(id string) ([]relay.Event, error)
	Stop(ctx context.Context, id string) (relay.Teardown, error)
}

// PushSource delivers the push frames of one session.
type PushSource interface {
	Subscribe(sessionID string, buffer int) (<-chan relay.Push, func())
}

// ChatStreamer streams a text chat reply token by token.
type ChatStreamer interface {
	Stream(ctx context.Context, messages []chat.Message, onToken func(string) error) (string, error)
}

// Identity is the logged-in user and the relay session bound to their login.
type Identity struct {
	User      string `json:"u"`
	SessionID string `json:"sid"`
	IssuedAt  int64  `json:"iat"`
}

// LoginRequest is the body of POST /login, as JSON or a form.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Success bool   `json:"success"`
	User    string `json:"user"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse acknowledges a command.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// StartResponse is returned by POST /api/start_dialogue.
type StartResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// StopResponse is returned by POST /api/stop_dialogue.
type StopResponse struct {
	Success        bool   `json:"success"`
	Recording      string `json:"recording,omitempty"`
	RecordingError string `json:"recording_error,omitempty"`
}

// AudioRequest is the body of POST /api/send_audio.
type AudioRequest struct {
	Audio string `json:"audio"`
}

// DisconnectedStatus is the status of a login with no active relay.
type DisconnectedStatus struct {
	Connected bool `json:"connected"`
}

// TestAudioResponse carries the generated test tone.
type TestAudioResponse struct {
	Success bool   `json:"success"`
	Audio   string `json:"audio"`
	Message string `json:"message"`
	Size    int    `json:"size"`
}

// AudioDevicesResponse tells the client that devices are its business.
type AudioDevicesResponse struct {
	Message    string `json:"message"`
	ClientSide bool   `json:"client_side"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// ClientInfo describes a connected push client.
type ClientInfo struct {
	ID           string    `json:"id"`
	User         string    `json:"user"`
	SessionID    string    `json:"session_id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Idle         bool      `json:"idle"`
}
