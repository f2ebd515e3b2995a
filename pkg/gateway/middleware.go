package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/relay"
)

// traced gives every request a trace id, echoed in the response header.
func (s *Server) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.FromRequest(r)
		tracing.InjectHeader(ctx, w.Header())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireLogin rejects requests without a valid login cookie and puts the
// identity on the request context.
func (s *Server) requireLogin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.FromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		ctx := withIdentity(r.Context(), id)
		ctx = tracing.WithUser(ctx, id.User)
		ctx = tracing.WithSessionID(ctx, id.SessionID)
		next(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps relay rejections onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrInvalidAudio), errors.Is(err, relay.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrConflict), errors.Is(err, relay.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, relay.ErrOpenFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// remoteHost is the client address without its port.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sameOrigin accepts WebSocket upgrades without an Origin header or from the
// host serving the page.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
