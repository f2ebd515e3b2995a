// Package recordings manages the dialogue recordings written by relay sessions.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/voxrelay/internal/observability"
)

// Prefix and Ext identify files the janitor owns.
const (
	Prefix = "dialogue_"
	Ext    = ".wav"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// JanitorConfig configures a Janitor.
type JanitorConfig struct {
	Dir       string
	Retention time.Duration // 0 disables pruning
	Schedule  string        // cron expression or descriptor such as @hourly
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Janitor removes recordings older than the retention period on a schedule.
type Janitor struct {
	dir       string
	retention time.Duration
	schedule  cron.Schedule
	logger    zerolog.Logger
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor validates the schedule. A zero retention yields a janitor whose
// Start is a no-op.
func NewJanitor(cfg JanitorConfig) (*Janitor, error) {
	if cfg.Dir == "" {
		return nil, errors.New("recordings dir is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Janitor{
		dir:       cfg.Dir,
		retention: cfg.Retention,
		schedule:  sched,
		logger:    cfg.Logger.With().Str("component", "recordings").Logger(),
		now:       cfg.Now,
	}, nil
}

// Start schedules pruning. It is a no-op when retention is disabled or the
// janitor is already running.
func (j *Janitor) Start() {
	if j.retention <= 0 {
		j.logger.Info().Msg("Recording retention disabled")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return
	}

	c := cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{j.logger}))
	c.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.Prune(); err != nil {
			j.logger.Error().Err(err).Msg("Recording prune failed")
		}
	}))
	c.Start()
	j.cron = c

	j.logger.Info().
		Str("dir", j.dir).
		Dur("retention", j.retention).
		Time("next_run", j.schedule.Next(j.now())).
		Msg("Recording janitor started")
}

// Stop stops the schedule and waits for a running prune to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Prune deletes recordings whose modification time is older than the
// retention period and returns their names. Files it does not own are kept.
func (j *Janitor) Prune() ([]string, error) {
	if j.retention <= 0 {
		return nil, nil
	}

	entries, err := List(j.dir)
	if err != nil {
		return nil, err
	}

	cutoff := j.now().Add(-j.retention)
	var removed []string
	var errs []error
	for _, e := range entries {
		if !e.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Name)
	}

	if len(removed) > 0 {
		observability.RecordRecordingsPruned(len(removed))
		j.logger.Info().Int("removed", len(removed)).Msg("Pruned old recordings")
	}
	return removed, errors.Join(errs...)
}

// Entry describes one recording on disk.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// List returns the recordings in dir, newest first. A missing dir is empty.
func List(dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings dir: %w", err)
	}

	var out []Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, Prefix) || !strings.HasSuffix(name, Ext) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: name, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ModTime.After(out[b].ModTime) })
	return out, nil
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
