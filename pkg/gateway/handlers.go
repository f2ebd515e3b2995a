package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/audio"
	"github.com/harun/voxrelay/pkg/relay"
)

const maxBodyBytes = 4 << 20

// Test tone parameters.
const (
	testToneFrequency = 1000
	testToneDuration  = time.Second
	testToneAmplitude = 0.3
)

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	remote := remoteHost(r)

	if ok, retry := s.limiter.Allow(remote); !ok {
		observability.RecordLogin("rate_limited")
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req LoginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid login request")
			return
		}
	} else {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}

	id, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		observability.RecordLogin("failure")
		observability.RecordAuthAudit(r.Context(), "login", req.Username, false, map[string]interface{}{"remote": remote})
		logger.Warn().Str("user", req.Username).Str("remote", remote).Msg("Login failed")
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err := s.auth.SetCookie(w, r, id); err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}
	s.limiter.Reset(remote)

	observability.RecordLogin("success")
	observability.RecordAuthAudit(r.Context(), "login", id.User, true, map[string]interface{}{
		"remote":      remote,
		"simple_mode": s.auth.SimpleMode(),
	})
	logger.Info().Str("user", id.User).Bool("simple_mode", s.auth.SimpleMode()).Msg("User logged in")

	writeJSON(w, http.StatusOK, LoginResponse{Success: true, User: id.User})
}

// handleLogout stops the caller's relay, if any, and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, err := s.auth.FromRequest(r); err == nil {
		ctx := tracing.CloneContext(tracing.WithSessionID(tracing.WithUser(r.Context(), id.User), id.SessionID))
		if _, err := s.sessions.Stop(ctx, id.SessionID); err != nil && !errors.Is(err, relay.ErrNotFound) {
			s.logger.Warn().Err(err).Str("session_id", id.SessionID).Msg("Failed to stop session on logout")
		}
		observability.RecordAuthAudit(ctx, "logout", id.User, true, nil)
	}
	s.auth.ClearCookie(w)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleStartDialogue(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	err := s.sessions.Start(r.Context(), id.SessionID)
	observability.RecordSessionAudit(r.Context(), "start_dialogue", id.SessionID, err)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StartResponse{Success: true, SessionID: id.SessionID})
}

func (s *Server) handleStopDialogue(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	td, err := s.sessions.Stop(r.Context(), id.SessionID)
	observability.RecordSessionAudit(r.Context(), "stop_dialogue", id.SessionID, err)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := StopResponse{Success: true}
	if td.RecordingPath != "" {
		resp.Recording = filepath.Base(td.RecordingPath)
	}
	if td.Err != nil {
		resp.RecordingError = td.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSendAudio(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req AudioRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Audio) == "" {
		writeError(w, http.StatusBadRequest, "missing audio data")
		return
	}

	if err := s.sessions.SubmitAudio(id.SessionID, req.Audio); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleEndAudio(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	if err := s.sessions.EndSpeech(id.SessionID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	st, err := s.sessions.Status(id.SessionID)
	if errors.Is(err, relay.ErrNotFound) {
		writeJSON(w, http.StatusOK, DisconnectedStatus{Connected: false})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	events, err := s.sessions.Events(id.SessionID)
	if err != nil && !errors.Is(err, relay.ErrNotFound) {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if events == nil {
		events = []relay.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTestAudio(w http.ResponseWriter, r *http.Request) {
	pcm := audio.SineTone(testToneFrequency, testToneDuration, audio.SampleRate, testToneAmplitude)
	writeJSON(w, http.StatusOK, TestAudioResponse{
		Success: true,
		Audio:   base64.StdEncoding.EncodeToString(pcm),
		Message: "Test tone generated (PCM16, 24kHz, 1kHz)",
		Size:    len(pcm),
	})
}

func (s *Server) handleAudioDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AudioDevicesResponse{
		Message:    "Audio devices are managed by the browser",
		ClientSide: true,
	})
}

// handleRecording serves one recording file. Directory listings are refused.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/recordings/")
	if name == "" || strings.Contains(name, "/") || name != path.Base(name) || !strings.HasSuffix(name, ".wav") {
		http.NotFound(w, r)
		return
	}
	if s.recordingsDir == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, filepath.Join(s.recordingsDir, name))
}
