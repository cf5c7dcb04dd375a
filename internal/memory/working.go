package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// workingRing is the in-process bounded ring for one (agent, memory
// key). The DB copy written after every append is what restart replay
// reads back.
type workingRing struct {
	size    int
	entries []store.MemoryEntry
}

func (r *workingRing) append(e store.MemoryEntry) {
	r.entries = append(r.entries, e)
	if len(r.entries) > r.size {
		r.entries = r.entries[len(r.entries)-r.size:]
	}
}

// WorkingMemory holds every ring and keeps the persistent copy in sync.
type WorkingMemory struct {
	size  int
	store store.MemoryStore

	mu    sync.Mutex
	rings map[string]*workingRing // agentID|memoryKey
}

func NewWorkingMemory(size int, st store.MemoryStore) *WorkingMemory {
	if size <= 0 {
		size = 10
	}
	return &WorkingMemory{size: size, store: st, rings: make(map[string]*workingRing)}
}

func ringKey(agentID uuid.UUID, memoryKey string) string {
	return agentID.String() + "|" + memoryKey
}

// ring returns the in-process ring, replaying the persisted copy on
// first touch after a restart.
func (w *WorkingMemory) ring(ctx context.Context, agentID uuid.UUID, memoryKey string) (*workingRing, error) {
	key := ringKey(agentID, memoryKey)
	if r, ok := w.rings[key]; ok {
		return r, nil
	}
	r := &workingRing{size: w.size}
	persisted, err := w.store.LoadRing(ctx, agentID, memoryKey)
	if err != nil {
		return nil, fmt.Errorf("load ring: %w", err)
	}
	for _, e := range persisted {
		r.append(e)
	}
	w.rings[key] = r
	return r, nil
}

// Append adds one entry and persists the ring before returning, so a
// crash between turns never loses an acknowledged write.
func (w *WorkingMemory) Append(ctx context.Context, agentID uuid.UUID, memoryKey string, e store.MemoryEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, err := w.ring(ctx, agentID, memoryKey)
	if err != nil {
		return err
	}
	r.append(e)
	if err := w.store.SaveRing(ctx, agentID, memoryKey, r.entries); err != nil {
		return fmt.Errorf("persist ring: %w", err)
	}
	return nil
}

// Recent returns up to n most recent entries, oldest first.
func (w *WorkingMemory) Recent(ctx context.Context, agentID uuid.UUID, memoryKey string, n int) ([]store.MemoryEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, err := w.ring(ctx, agentID, memoryKey)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]store.MemoryEntry, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out, nil
}

// Clear drops the ring in memory and in the DB.
func (w *WorkingMemory) Clear(ctx context.Context, agentID uuid.UUID, memoryKey string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rings, ringKey(agentID, memoryKey))
	return w.store.DeleteRing(ctx, agentID, memoryKey)
}
