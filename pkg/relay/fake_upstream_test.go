package relay

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/harun/voxrelay/pkg/realtime"
)

type fakeUpstream struct {
	cfg     realtime.Config
	handler realtime.Handler

	mu      sync.Mutex
	ready   bool
	openErr error
	sendErr error
	sent    [][]byte
	commits int
	closes  int
}

func (f *fakeUpstream) Open(ctx context.Context) error {
	if f.openErr != nil {
		f.handler(realtime.Event{Kind: realtime.EventClosed, Err: f.openErr, Code: 1006})
		return f.openErr
	}
	f.handler(realtime.Event{Kind: realtime.EventOpened})
	f.handler(realtime.Event{Kind: realtime.EventConfigured})
	f.frame(&realtime.ServerFrame{Type: realtime.TypeSessionCreated, Session: &realtime.ObjectRef{ID: "sess_fake"}})
	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
	f.frame(&realtime.ServerFrame{Type: realtime.TypeSessionUpdated})
	return nil
}

func (f *fakeUpstream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return realtime.ErrNotReady
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, pcm)
	return nil
}

func (f *fakeUpstream) SendEndOfSpeech() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return realtime.ErrNotReady
	}
	f.commits++
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	f.closes++
	first := f.closes == 1
	f.ready = false
	f.mu.Unlock()
	if first {
		f.handler(realtime.Event{Kind: realtime.EventClosed, Code: 1000})
	}
	return nil
}

func (f *fakeUpstream) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeUpstream) frame(frame *realtime.ServerFrame) {
	f.handler(realtime.Event{Kind: realtime.EventFrame, Frame: frame})
}

func (f *fakeUpstream) audioDelta(pcm []byte) {
	f.frame(&realtime.ServerFrame{
		Type:  realtime.TypeResponseAudioDelta,
		Delta: base64.StdEncoding.EncodeToString(pcm),
		Audio: pcm,
	})
}

// fakeFactory records every upstream it builds.
type fakeFactory struct {
	mu        sync.Mutex
	upstreams []*fakeUpstream
	openErr   error
}

func (ff *fakeFactory) build(cfg realtime.Config, handler realtime.Handler) Upstream {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	up := &fakeUpstream{cfg: cfg, handler: handler, openErr: ff.openErr}
	ff.upstreams = append(ff.upstreams, up)
	return up
}

func (ff *fakeFactory) last() *fakeUpstream {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.upstreams[len(ff.upstreams)-1]
}
