// Package maintenance runs the background sweeps that keep long-lived
// state bounded: stale conversation threads time out, fact confidence
// decays, the tool-output buffer drops expired entries, and leftover
// temp media files are deleted.
package maintenance

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ligolabs/ligo/internal/memory"
	"github.com/ligolabs/ligo/internal/store"
)

// Sweep cadences. Cron granularity is one minute; the worker ticks
// twice per minute and dedupes fires within the same minute.
const (
	threadSweepCron = "* * * * *"
	bufferSweepCron = "*/10 * * * *"
	factDecayCron   = "0 3 * * *"
	tempCleanCron   = "0 * * * *"
)

const (
	defaultDecayOlderThan = 7 * 24 * time.Hour
	defaultDecayFactor    = 0.95
	defaultDecayFloor     = 0.3
	defaultTempMaxAge     = 6 * time.Hour
)

// tempPrefixes are the temp-file families the gateway creates.
var tempPrefixes = []string{"ligo-voice-", "ligo-tg-"}

// Options configures the worker. Zero values get defaults.
type Options struct {
	Stores *store.Stores
	Buffer *memory.ToolBuffer

	ThreadInactivity time.Duration

	DecayOlderThan time.Duration
	DecayFactor    float64
	DecayFloor     float64

	TempDir    string
	TempMaxAge time.Duration

	Log *slog.Logger
}

type job struct {
	name string
	expr string
	run  func(ctx context.Context) (int, error)

	lastFired time.Time
}

// Worker ticks the sweep jobs on their cron schedules.
type Worker struct {
	gron *gronx.Gronx
	jobs []*job
	log  *slog.Logger
	now  func() time.Time

	mu sync.Mutex
}

// New builds the worker with the standard four sweeps.
func New(opts Options) *Worker {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.DecayOlderThan <= 0 {
		opts.DecayOlderThan = defaultDecayOlderThan
	}
	if opts.DecayFactor <= 0 {
		opts.DecayFactor = defaultDecayFactor
	}
	if opts.DecayFloor <= 0 {
		opts.DecayFloor = defaultDecayFloor
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.TempMaxAge <= 0 {
		opts.TempMaxAge = defaultTempMaxAge
	}

	w := &Worker{
		gron: gronx.New(),
		log:  log.With("component", "maintenance"),
		now:  time.Now,
	}

	w.jobs = []*job{
		{name: "thread_timeout", expr: threadSweepCron, run: func(ctx context.Context) (int, error) {
			cutoff := w.now().Add(-opts.ThreadInactivity)
			return opts.Stores.Threads.ExpireInactive(ctx, cutoff)
		}},
		{name: "tool_buffer", expr: bufferSweepCron, run: func(ctx context.Context) (int, error) {
			return opts.Buffer.Sweep(), nil
		}},
		{name: "fact_decay", expr: factDecayCron, run: func(ctx context.Context) (int, error) {
			olderThan := w.now().Add(-opts.DecayOlderThan)
			return opts.Stores.Facts.Decay(ctx, olderThan, opts.DecayFactor, opts.DecayFloor)
		}},
		{name: "temp_media", expr: tempCleanCron, run: func(ctx context.Context) (int, error) {
			return cleanTempMedia(opts.TempDir, w.now().Add(-opts.TempMaxAge))
		}},
	}
	return w
}

// Run ticks until the context is cancelled. Blocking.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.fireDue(ctx)
		}
	}
}

func (w *Worker) fireDue(ctx context.Context) {
	now := w.now()
	minute := now.Truncate(time.Minute)

	w.mu.Lock()
	var due []*job
	for _, j := range w.jobs {
		if j.lastFired.Equal(minute) {
			continue
		}
		if ok, err := w.gron.IsDue(j.expr, now); err == nil && ok {
			j.lastFired = minute
			due = append(due, j)
		}
	}
	w.mu.Unlock()

	for _, j := range due {
		n, err := j.run(ctx)
		if err != nil {
			w.log.Warn("sweep failed", "job", j.name, "error", err)
			continue
		}
		if n > 0 {
			w.log.Info("sweep done", "job", j.name, "affected", n)
		}
	}
}

// cleanTempMedia removes gateway temp files older than the cutoff.
func cleanTempMedia(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !hasTempPrefix(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func hasTempPrefix(name string) bool {
	for _, p := range tempPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
