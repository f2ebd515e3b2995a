package gateway

import (
	"net/http"

	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/chat"
	"github.com/harun/voxrelay/pkg/gateway/sse"
)

// Chat stream events.
const (
	ChatEventConnected = "connected"
	ChatEventToken     = "token"
	ChatEventComplete  = "complete"
	ChatEventError     = "error"
)

// handleChat streams a text chat reply as Server-Sent Events. A client that
// disconnects cancels the upstream request.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat request")
		return
	}
	if err := chat.Validate(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, err := sse.New(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	id, _ := identityFromContext(ctx)

	if err := stream.Send(ChatEventConnected, map[string]string{"session_id": id.SessionID}); err != nil {
		return
	}

	reply, err := s.chat.Stream(ctx, req.Messages, func(token string) error {
		return stream.Send(ChatEventToken, map[string]string{"content": token})
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("Chat stream cancelled by client")
			return
		}
		logger.Warn().Err(err).Msg("Chat stream failed")
		_ = stream.Send(ChatEventError, map[string]string{"error": err.Error()})
		return
	}

	_ = stream.Send(ChatEventComplete, map[string]string{"content": reply})
}
