package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/relay"
)

type fakeSessions struct {
	mu       sync.Mutex
	active   map[string]bool
	stopped  []string
	startErr error
	audioErr error
	endErr   error
	teardown relay.Teardown
	audio    []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{active: make(map[string]bool)}
}

func (f *fakeSessions) set(fn func(*fakeSessions)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSessions) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeSessions) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.active[id] {
		return relay.ErrConflict
	}
	f.active[id] = true
	return nil
}

func (f *fakeSessions) SubmitAudio(id, encoded string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.audioErr != nil {
		return f.audioErr
	}
	if !f.active[id] {
		return relay.ErrNotFound
	}
	f.audio = append(f.audio, encoded)
	return nil
}

func (f *fakeSessions) EndSpeech(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	if !f.active[id] {
		return relay.ErrNotFound
	}
	return nil
}

func (f *fakeSessions) Status(id string) (relay.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return relay.Status{}, relay.ErrNotFound
	}
	return relay.Status{SessionID: id, Connected: true, Ready: true, State: relay.StateReady}, nil
}

func (f *fakeSessions) Events(id string) ([]relay.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return nil, relay.ErrNotFound
	}
	return []relay.Event{{Seq: 1, Type: relay.CategorySession, Data: "ready"}}, nil
}

func (f *fakeSessions) Stop(_ context.Context, id string) (relay.Teardown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return relay.Teardown{}, relay.ErrNotFound
	}
	delete(f.active, id)
	f.stopped = append(f.stopped, id)
	return f.teardown, nil
}

type testEnv struct {
	server   *Server
	http     *httptest.Server
	client   *http.Client
	sessions *fakeSessions
	hub      *relay.Hub
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	sessions := newFakeSessions()
	hub := relay.NewHub()
	cfg := Config{
		Sessions:      sessions,
		Push:          hub,
		Auth:          NewAuthHandler("test-secret", "", "", time.Hour),
		RecordingsDir: t.TempDir(),
		PingInterval:  time.Second,
		Logger:        zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		server:   srv,
		http:     ts,
		client:   &http.Client{Jar: jar},
		sessions: sessions,
		hub:      hub,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) login(t *testing.T, user string) Identity {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/login", LoginRequest{Username: user})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u, err := url.Parse(e.http.URL)
	require.NoError(t, err)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == CookieName {
			id, err := e.server.auth.Decode(c.Value)
			require.NoError(t, err)
			return id
		}
	}
	t.Fatal("login cookie not set")
	return Identity{}
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{Push: relay.NewHub(), Auth: NewAuthHandler("s", "", "", 0)})
	assert.Error(t, err)

	_, err = NewServer(Config{Sessions: newFakeSessions(), Auth: NewAuthHandler("s", "", "", 0)})
	assert.Error(t, err)

	_, err = NewServer(Config{Sessions: newFakeSessions(), Push: relay.NewHub()})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	t.Run("json login sets the cookie", func(t *testing.T) {
		env := newTestEnv(t, nil)

		resp := env.do(t, http.MethodPost, "/login", LoginRequest{Username: "alice"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body LoginResponse
		decodeJSON(t, resp, &body)
		assert.True(t, body.Success)
		assert.Equal(t, "alice", body.User)
		assert.NotEmpty(t, resp.Header.Get(tracing.TraceHeader))
	})

	t.Run("form login with configured credentials", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) {
			c.Auth = NewAuthHandler("test-secret", "admin", "hunter2", time.Hour)
		})

		form := url.Values{"username": {"admin"}, "password": {"wrong"}}
		resp, err := env.client.PostForm(env.http.URL+"/login", form)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		form.Set("password", "hunter2")
		resp, err = env.client.PostForm(env.http.URL+"/login", form)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("rate limits repeated attempts", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.LoginRateLimit = 2 })

		for i := 0; i < 2; i++ {
			resp := env.do(t, http.MethodPost, "/login", LoginRequest{Username: "x"})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		}

		resp := env.do(t, http.MethodPost, "/login", LoginRequest{Username: "alice"})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	})
}

func TestRoutesRequireLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/start_dialogue"},
		{http.MethodPost, "/api/stop_dialogue"},
		{http.MethodPost, "/api/send_audio"},
		{http.MethodPost, "/api/end_audio"},
		{http.MethodGet, "/api/status"},
		{http.MethodGet, "/api/events"},
		{http.MethodPost, "/api/chat"},
		{http.MethodGet, "/ws"},
		{http.MethodGet, "/recordings/dialogue_1.wav"},
	} {
		resp := env.do(t, route.method, route.path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, route.path)
	}
}

func TestDialogueLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.login(t, "alice")

	resp := env.do(t, http.MethodGet, "/api/status", nil)
	var disconnected map[string]interface{}
	decodeJSON(t, resp, &disconnected)
	assert.Equal(t, map[string]interface{}{"connected": false}, disconnected)

	resp = env.do(t, http.MethodGet, "/api/events", nil)
	var none []relay.Event
	decodeJSON(t, resp, &none)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	resp = env.do(t, http.MethodPost, "/api/start_dialogue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var started StartResponse
	decodeJSON(t, resp, &started)
	assert.Equal(t, id.SessionID, started.SessionID)

	resp = env.do(t, http.MethodPost, "/api/start_dialogue", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/status", nil)
	var st relay.Status
	decodeJSON(t, resp, &st)
	assert.True(t, st.Connected)
	assert.Equal(t, id.SessionID, st.SessionID)

	resp = env.do(t, http.MethodPost, "/api/send_audio", AudioRequest{Audio: "AAAA"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/end_audio", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/events", nil)
	var events []relay.Event
	decodeJSON(t, resp, &events)
	assert.Len(t, events, 1)

	env.sessions.set(func(f *fakeSessions) {
		f.teardown = relay.Teardown{RecordingPath: filepath.Join("static", "recordings", "dialogue_1.wav")}
	})
	resp = env.do(t, http.MethodPost, "/api/stop_dialogue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stopped StopResponse
	decodeJSON(t, resp, &stopped)
	assert.True(t, stopped.Success)
	assert.Equal(t, "dialogue_1.wav", stopped.Recording)

	resp = env.do(t, http.MethodPost, "/api/stop_dialogue", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendAudioErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "alice")

	resp := env.do(t, http.MethodPost, "/api/send_audio", AudioRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/send_audio", AudioRequest{Audio: "AAAA"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/start_dialogue", nil).StatusCode)

	env.sessions.set(func(f *fakeSessions) { f.audioErr = relay.ErrInvalidAudio })
	resp = env.do(t, http.MethodPost, "/api/send_audio", AudioRequest{Audio: "!!"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.sessions.set(func(f *fakeSessions) { f.audioErr = relay.ErrNotReady })
	resp = env.do(t, http.MethodPost, "/api/send_audio", AudioRequest{Audio: "AAAA"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartOpenFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "alice")
	env.sessions.set(func(f *fakeSessions) { f.startErr = relay.ErrOpenFailed })

	resp := env.do(t, http.MethodPost, "/api/start_dialogue", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body ErrorResponse
	decodeJSON(t, resp, &body)
	assert.NotEmpty(t, body.Error)
}

func TestLogoutStopsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.login(t, "alice")
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/start_dialogue", nil).StatusCode)

	resp := env.do(t, http.MethodGet, "/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{id.SessionID}, env.sessions.stoppedIDs())

	resp = env.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUtilityRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/generate_test_audio", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tone TestAudioResponse
	decodeJSON(t, resp, &tone)
	pcm, err := base64.StdEncoding.DecodeString(tone.Audio)
	require.NoError(t, err)
	assert.Len(t, pcm, 48000)
	assert.Equal(t, 48000, tone.Size)

	resp = env.do(t, http.MethodGet, "/api/audio_devices", nil)
	var devices AudioDevicesResponse
	decodeJSON(t, resp, &devices)
	assert.True(t, devices.ClientSide)

	resp = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordingsRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "alice")

	data := []byte("RIFF....WAVE")
	require.NoError(t, os.WriteFile(filepath.Join(env.server.recordingsDir, "dialogue_1.wav"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.server.recordingsDir, "notes.txt"), data, 0o644))

	resp := env.do(t, http.MethodGet, "/recordings/dialogue_1.wav", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))

	resp = env.do(t, http.MethodGet, "/recordings/notes.txt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/recordings/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/recordings/missing.wav", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(relay.ErrInvalidSessionID))
	assert.Equal(t, http.StatusNotFound, statusFor(relay.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(relay.ErrConflict))
	assert.Equal(t, http.StatusBadGateway, statusFor(relay.ErrOpenFailed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestSameOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://relay.local/ws", nil)
	assert.True(t, sameOrigin(r))

	r.Header.Set("Origin", "http://relay.local")
	assert.True(t, sameOrigin(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, sameOrigin(r))
}
