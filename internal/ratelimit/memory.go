package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// MemoryWindows keeps windows in process memory, sharded by key hash so
// unrelated keys rarely contend on the same lock.
type MemoryWindows struct {
	shards [shardCount]windowShard
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// NewMemoryWindows creates an empty in-memory window store.
func NewMemoryWindows() *MemoryWindows {
	m := &MemoryWindows{}
	for i := range m.shards {
		m.shards[i].windows = make(map[string]*Window)
	}
	return m
}

func (m *MemoryWindows) shard(key string) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

// Hit applies the fixed-window step under the key's shard lock.
func (m *MemoryWindows) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.After(w.ResetAt) {
		w = &Window{Count: 1, ResetAt: now.Add(window)}
		s.windows[key] = w
		return *w, true, nil
	}
	if w.Count >= limit {
		return *w, false, nil
	}
	w.Count++
	return *w, true, nil
}

// Len returns the number of tracked windows.
func (m *MemoryWindows) Len() int {
	n := 0
	for i := range m.shards {
		m.shards[i].mu.Lock()
		n += len(m.shards[i].windows)
		m.shards[i].mu.Unlock()
	}
	return n
}
