package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/voxrelay/pkg/chat"
)

type fakeChat struct {
	tokens []string
	err    error

	mu  sync.Mutex
	got []chat.Message
}

func (f *fakeChat) received() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func (f *fakeChat) Stream(_ context.Context, messages []chat.Message, onToken func(string) error) (string, error) {
	f.mu.Lock()
	f.got = messages
	f.mu.Unlock()

	var b strings.Builder
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
	if f.err != nil {
		return b.String(), f.err
	}
	return b.String(), nil
}

type sseEvent struct {
	Event string
	Data  map[string]string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()

	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.Data))
		case line == "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestChatStreamsTokens(t *testing.T) {
	streamer := &fakeChat{tokens: []string{"Hel", "lo"}}
	env := newTestEnv(t, func(c *Config) { c.Chat = streamer })
	env.login(t, "alice")

	resp := env.do(t, http.MethodPost, "/api/chat", ChatRequest{Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp)
	require.Len(t, events, 4)
	assert.Equal(t, ChatEventConnected, events[0].Event)
	assert.Equal(t, ChatEventToken, events[1].Event)
	assert.Equal(t, "Hel", events[1].Data["content"])
	assert.Equal(t, "lo", events[2].Data["content"])
	assert.Equal(t, ChatEventComplete, events[3].Event)
	assert.Equal(t, "Hello", events[3].Data["content"])

	got := streamer.received()
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
}

func TestChatUpstreamError(t *testing.T) {
	streamer := &fakeChat{tokens: []string{"partial"}, err: errors.New("chat stream: boom")}
	env := newTestEnv(t, func(c *Config) { c.Chat = streamer })
	env.login(t, "alice")

	resp := env.do(t, http.MethodPost, "/api/chat", ChatRequest{Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}}})
	events := readSSE(t, resp)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, ChatEventError, last.Event)
	assert.Contains(t, last.Data["error"], "boom")
}

func TestChatRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Chat = &fakeChat{} })
	env.login(t, "alice")

	resp := env.do(t, http.MethodPost, "/api/chat", ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/chat", ChatRequest{Messages: []chat.Message{{Role: "wizard", Content: "hi"}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "alice")

	resp := env.do(t, http.MethodPost, "/api/chat", ChatRequest{Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}}})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
