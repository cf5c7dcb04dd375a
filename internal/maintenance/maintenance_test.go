package maintenance

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligolabs/ligo/internal/memory"
	"github.com/ligolabs/ligo/internal/store"
)

type fakeThreadStore struct {
	store.ThreadStore
	expired int
	cutoff  time.Time
}

func (f *fakeThreadStore) ExpireInactive(ctx context.Context, cutoff time.Time) (int, error) {
	f.expired++
	f.cutoff = cutoff
	return 2, nil
}

type fakeFactStore struct {
	store.FactStore
	decayed   int
	olderThan time.Time
	factor    float64
	floor     float64
}

func (f *fakeFactStore) Decay(ctx context.Context, olderThan time.Time, factor, floor float64) (int, error) {
	f.decayed++
	f.olderThan = olderThan
	f.factor = factor
	f.floor = floor
	return 3, nil
}

func testWorker(threads *fakeThreadStore, facts *fakeFactStore, tempDir string) *Worker {
	return New(Options{
		Stores:           &store.Stores{Threads: threads, Facts: facts},
		Buffer:           memory.NewToolBuffer(10),
		ThreadInactivity: 30 * time.Minute,
		TempDir:          tempDir,
		TempMaxAge:       time.Hour,
		Log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestFireDueRunsMinutelyJobs(t *testing.T) {
	threads := &fakeThreadStore{}
	facts := &fakeFactStore{}
	w := testWorker(threads, facts, t.TempDir())

	// 12:07 is due for the thread sweep but not for decay (03:00) or
	// the 10-minute buffer sweep.
	at := time.Date(2026, 3, 10, 12, 7, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	w.fireDue(context.Background())

	if threads.expired != 1 {
		t.Fatalf("thread sweeps = %d, want 1", threads.expired)
	}
	want := at.Add(-30 * time.Minute)
	if !threads.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", threads.cutoff, want)
	}
	if facts.decayed != 0 {
		t.Fatal("fact decay fired off schedule")
	}
}

func TestFireDueDedupesWithinMinute(t *testing.T) {
	threads := &fakeThreadStore{}
	facts := &fakeFactStore{}
	w := testWorker(threads, facts, t.TempDir())

	at := time.Date(2026, 3, 10, 12, 7, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	w.fireDue(context.Background())
	w.now = func() time.Time { return at.Add(30 * time.Second) }
	w.fireDue(context.Background())

	if threads.expired != 1 {
		t.Fatalf("thread sweeps = %d, want 1 within one minute", threads.expired)
	}

	w.now = func() time.Time { return at.Add(time.Minute) }
	w.fireDue(context.Background())
	if threads.expired != 2 {
		t.Fatalf("thread sweeps = %d, want 2 after the next minute", threads.expired)
	}
}

func TestFactDecayFiresAtThree(t *testing.T) {
	threads := &fakeThreadStore{}
	facts := &fakeFactStore{}
	w := testWorker(threads, facts, t.TempDir())

	at := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	w.fireDue(context.Background())

	if facts.decayed != 1 {
		t.Fatalf("decays = %d, want 1", facts.decayed)
	}
	if facts.factor != defaultDecayFactor || facts.floor != defaultDecayFloor {
		t.Fatalf("decay knobs = %v/%v", facts.factor, facts.floor)
	}
	if !facts.olderThan.Equal(at.Add(-defaultDecayOlderThan)) {
		t.Fatalf("olderThan = %v", facts.olderThan)
	}
}

func TestCleanTempMedia(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "ligo-voice-abc.mp3")
	fresh := filepath.Join(dir, "ligo-tg-xyz.jpg")
	other := filepath.Join(dir, "unrelated.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(other, stale, stale); err != nil {
		t.Fatal(err)
	}

	removed, err := cleanTempMedia(dir, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("cleanTempMedia: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("stale voice note survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh media deleted")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatal("unrelated file deleted")
	}
}
