// Package chat streams text chat completions from the OpenAI API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
)

const tracerName = "voxrelay/chat"

var (
	// ErrNoMessages is returned for an empty conversation.
	ErrNoMessages = errors.New("no messages")
	// ErrInvalidRole is returned for a message whose role is not system, user or assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// Roles accepted in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a text conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures a Streamer.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  zerolog.Logger
	// Options are appended to the client options, after APIKey and BaseURL.
	Options []option.RequestOption
}

// Streamer streams chat completions token by token.
type Streamer struct {
	client openai.Client
	model  string
	logger zerolog.Logger
}

// NewStreamer creates a streamer for cfg.Model.
func NewStreamer(cfg Config) *Streamer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, cfg.Options...)

	return &Streamer{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger.With().Str("component", "chat").Logger(),
	}
}

// Validate checks a conversation before it is sent upstream.
func Validate(messages []Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidRole, i, m.Role)
		}
	}
	return nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Stream sends messages upstream and calls onToken for every content delta.
// It returns the full reply. Cancelling ctx aborts the upstream request;
// an error from onToken does the same and is returned as is.
func (s *Streamer) Stream(ctx context.Context, messages []Message, onToken func(string) error) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "chat.stream",
		attribute.String("chat.model", s.model),
		attribute.Int("chat.messages", len(messages)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := s.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(s.model),
		Messages: toParams(messages),
	})
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		reply.WriteString(token)
		if err := onToken(token); err != nil {
			cancel()
			s.finish(span, started, "aborted", err)
			return reply.String(), err
		}
	}

	if err := stream.Err(); err != nil {
		status := "error"
		if errors.Is(err, context.Canceled) {
			status = "aborted"
		}
		logger.Warn().Err(err).Str("status", status).Msg("Chat stream ended early")
		s.finish(span, started, status, err)
		return reply.String(), fmt.Errorf("chat stream: %w", err)
	}

	logger.Debug().Int("chars", reply.Len()).Msg("Chat stream complete")
	s.finish(span, started, "success", nil)
	return reply.String(), nil
}

func (s *Streamer) finish(span trace.Span, started time.Time, status string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RecordChatStream(status, time.Since(started))
}
