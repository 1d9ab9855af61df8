package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore — хранилище в памяти для режима без БД и тестов.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (m *MemoryStore) Append(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, dup := m.ids[r.ID]; dup {
			continue
		}
		m.ids[r.ID] = struct{}{}
		m.records = append(m.records, r)
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	matched := make([]Record, 0)
	for _, r := range m.records {
		if f.Match(r) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if f.Match(r) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			delete(m.ids, r.ID)
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// Len — количество записей (для тестов и health-эндпоинта в режиме без БД)
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
