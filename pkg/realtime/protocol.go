// Package realtime speaks the realtime speech API session protocol over a single WebSocket.
package realtime

// Client frame types.
const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
)

// Server frame types.
const (
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeConversationCreated    = "conversation.created"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated        = "response.created"
	TypeResponseAudioDelta     = "response.audio.delta"
	TypeResponseAudioDone      = "response.audio.done"
	TypeResponseDone           = "response.done"
	TypeError                  = "error"
)

const (
	// AudioFormatPCM16 is the only audio format tag used in both directions.
	AudioFormatPCM16 = "pcm16"

	DefaultVoice              = "alloy"
	DefaultVADThreshold       = 0.5
	DefaultTranscriptionModel = "whisper-1"
	DefaultInstructions       = "You are a helpful voice assistant. Answer briefly and clearly."
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type      string  `json:"type"`
	Threshold float64 `json:"threshold"`
}

// InputAudioTranscription asks the upstream to transcribe user audio.
type InputAudioTranscription struct {
	Model string `json:"model"`
}

// SessionConfig is the body of a session.update frame.
type SessionConfig struct {
	Modalities              []string                 `json:"modalities"`
	Voice                   string                   `json:"voice"`
	Instructions            string                   `json:"instructions"`
	TurnDetection           TurnDetection            `json:"turn_detection"`
	InputAudioFormat        string                   `json:"input_audio_format"`
	OutputAudioFormat       string                   `json:"output_audio_format"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
}

// NewSessionConfig returns the negotiation payload for a text+audio session with server VAD.
// Empty arguments fall back to the defaults.
func NewSessionConfig(voice, instructions string, vadThreshold float64, transcriptionModel string) SessionConfig {
	if voice == "" {
		voice = DefaultVoice
	}
	if instructions == "" {
		instructions = DefaultInstructions
	}
	if vadThreshold <= 0 || vadThreshold > 1 {
		vadThreshold = DefaultVADThreshold
	}
	if transcriptionModel == "" {
		transcriptionModel = DefaultTranscriptionModel
	}
	return SessionConfig{
		Modalities:   []string{"text", "audio"},
		Voice:        voice,
		Instructions: instructions,
		TurnDetection: TurnDetection{
			Type:      "server_vad",
			Threshold: vadThreshold,
		},
		InputAudioFormat:  AudioFormatPCM16,
		OutputAudioFormat: AudioFormatPCM16,
		InputAudioTranscription: &InputAudioTranscription{
			Model: transcriptionModel,
		},
	}
}

// SessionUpdate is the first frame sent after the socket opens.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// AudioAppend carries one base64 PCM16 chunk.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// AudioCommit marks the end of an utterance.
type AudioCommit struct {
	Type string `json:"type"`
}

// ObjectRef is the id-bearing object nested in session and conversation frames.
type ObjectRef struct {
	ID string `json:"id"`
}

// ResponseRef is the response object nested in response.* frames.
type ResponseRef struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// APIError is the body of an upstream error frame.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ServerFrame is a decoded inbound frame. Only the fields relevant to its Type are set.
type ServerFrame struct {
	Type         string       `json:"type"`
	EventID      string       `json:"event_id,omitempty"`
	Session      *ObjectRef   `json:"session,omitempty"`
	Conversation *ObjectRef   `json:"conversation,omitempty"`
	Response     *ResponseRef `json:"response,omitempty"`
	ItemID       string       `json:"item_id,omitempty"`
	Transcript   string       `json:"transcript,omitempty"`
	Delta        string       `json:"delta,omitempty"`
	Error        *APIError    `json:"error,omitempty"`

	// Audio is the decoded Delta of a response.audio.delta frame.
	Audio []byte `json:"-"`
}
