package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryHistory keeps the most recent entries in memory. It is used when no
// database path is configured.
type MemoryHistory struct {
	mu      sync.RWMutex
	max     int
	entries []*UploadEntry
	total   int64
	failed  int64
}

// NewMemoryHistory keeps at most max entries; older ones are dropped.
func NewMemoryHistory(max int) *MemoryHistory {
	if max <= 0 {
		max = 100
	}
	return &MemoryHistory{max: max}
}

func (m *MemoryHistory) Record(_ context.Context, e *UploadEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	cp := *e
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &cp)
	if len(m.entries) > m.max {
		m.entries = m.entries[len(m.entries)-m.max:]
	}
	m.total++
	if !e.OK {
		m.failed++
	}
	return nil
}

func (m *MemoryHistory) Get(_ context.Context, id string) (*UploadEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (m *MemoryHistory) List(_ context.Context, offset, limit int) ([]*UploadEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*UploadEntry{}
	for i := len(m.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *m.entries[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryHistory) Count(context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total, m.failed, nil
}

func (m *MemoryHistory) Close() error { return nil }
