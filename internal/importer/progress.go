package importer

import (
	"context"
	"sync"
	"time"

	"github.com/almeidatech/quizbank/internal/model"
)

// ProgressTracker stores the live progress snapshot for running imports.
// The in-memory implementation serves a single node; RedisTracker shares
// progress across nodes. Implementations must be safe for concurrent use.
type ProgressTracker interface {
	Set(ctx context.Context, p model.BatchProgress) error
	Get(ctx context.Context, importID string) (model.BatchProgress, bool, error)
	Delete(ctx context.Context, importID string) error
}

// memoryProgressTTL matches the redis backend: finished imports answer from
// the persisted record, so a snapshot older than this is garbage.
const memoryProgressTTL = 24 * time.Hour

type memoryEntry struct {
	progress  model.BatchProgress
	expiresAt time.Time
}

// MemoryTracker is a process-local ProgressTracker backed by a map. Entries
// expire after memoryProgressTTL: Get drops an expired entry on sight, and
// Set sweeps the whole map at most once per TTL so abandoned imports cannot
// accumulate for the life of the process.
type MemoryTracker struct {
	mu        sync.Mutex
	m         map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{m: make(map[string]memoryEntry), now: time.Now}
}

func (t *MemoryTracker) Set(_ context.Context, p model.BatchProgress) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.m[p.ImportID] = memoryEntry{progress: p, expiresAt: now.Add(memoryProgressTTL)}
	if now.Sub(t.lastSweep) >= memoryProgressTTL {
		for id, e := range t.m {
			if now.After(e.expiresAt) {
				delete(t.m, id)
			}
		}
		t.lastSweep = now
	}
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, importID string) (model.BatchProgress, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[importID]
	if !ok {
		return model.BatchProgress{}, false, nil
	}
	if t.now().After(e.expiresAt) {
		delete(t.m, importID)
		return model.BatchProgress{}, false, nil
	}
	return e.progress, true, nil
}

func (t *MemoryTracker) Delete(_ context.Context, importID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, importID)
	return nil
}
