package report

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrReportNotFound is returned by Store.Get for an unknown report id.
var ErrReportNotFound = errors.New("report not found")

// Store persists generated reports. Implementations must be safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context) ([]*Report, error)
}

// MemoryStore keeps reports in memory. It backs tests and embedders that
// bring their own persistence on top of List.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*Report)}
}

// Save stores the report, replacing any previous report with the same id.
func (s *MemoryStore) Save(_ context.Context, r *Report) error {
	if r == nil || r.ID == "" {
		return errors.New("report must have an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	return nil
}

// Get returns the report with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return r, nil
}

// List returns all reports, newest first.
func (s *MemoryStore) List(_ context.Context) ([]*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
