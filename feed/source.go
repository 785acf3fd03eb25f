package feed

import (
	"context"
	"sort"
	"sync"
)

// Entry is one event of the upstream feed. SequenceNumber is strictly
// increasing along the feed.
type Entry struct {
	SequenceNumber int64
	Data           []byte
}

// Source reads the upstream feed.
type Source interface {
	// Fetch returns up to limit entries with a sequence number greater than
	// after, in ascending order. An empty result means the caller is caught up.
	Fetch(ctx context.Context, after int64, limit int) ([]Entry, error)
}

// MemorySource is an in-process feed, numbered from 1.
type MemorySource struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Append adds entries to the feed and returns the sequence number of the last
// one.
func (m *MemorySource) Append(data ...[]byte) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range data {
		m.entries = append(m.entries, Entry{
			SequenceNumber: int64(len(m.entries) + 1),
			Data:           d,
		})
	}
	return int64(len(m.entries))
}

func (m *MemorySource) Fetch(ctx context.Context, after int64, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].SequenceNumber > after
	})
	end := start + limit
	if end > len(m.entries) {
		end = len(m.entries)
	}
	out := make([]Entry, end-start)
	copy(out, m.entries[start:end])
	return out, nil
}
