package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// InstructionsWatcher serves the system instructions from a file and reloads
// them when the file changes. New relay sessions read Current; sessions that
// are already open keep what they were configured with.
type InstructionsWatcher struct {
	path     string
	fallback string
	debounce time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	current  string
	onReload func(string)

	watcher  *fsnotify.Watcher
	timer    *time.Timer
	timerMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewInstructionsWatcher reads path once. fallback is served while the file is
// missing or empty.
func NewInstructionsWatcher(path, fallback string, logger zerolog.Logger) (*InstructionsWatcher, error) {
	w := &InstructionsWatcher{
		path:     filepath.Clean(path),
		fallback: fallback,
		debounce: 100 * time.Millisecond,
		logger:   logger.With().Str("component", "instructions").Str("path", path).Logger(),
		current:  fallback,
		done:     make(chan struct{}),
	}
	if err := w.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return w, nil
}

// Current returns the instructions new sessions should use.
func (w *InstructionsWatcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers fn to run after each successful reload.
func (w *InstructionsWatcher) OnReload(fn func(string)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Start watches the file's directory so editors that replace the file by
// rename are seen too.
func (w *InstructionsWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	go w.eventLoop()

	w.logger.Info().Msg("Instructions watcher started")
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *InstructionsWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

func (w *InstructionsWatcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *InstructionsWatcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.reload(); err != nil && !os.IsNotExist(err) {
			w.logger.Warn().Err(err).Msg("Failed to reload instructions")
		}
	})
}

func (w *InstructionsWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	text := strings.TrimSpace(string(data))
	if err != nil || text == "" {
		text = w.fallback
	}

	w.mu.Lock()
	changed := text != w.current
	w.current = text
	fn := w.onReload
	w.mu.Unlock()

	if err != nil {
		return err
	}
	if changed {
		w.logger.Info().Int("chars", len(text)).Msg("Instructions reloaded")
		if fn != nil {
			fn(text)
		}
	}
	return nil
}
