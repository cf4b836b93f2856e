// Package memstore provides an in-memory implementation of review.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lynN18he/reviewops/internal/review"
)

// Store holds review entries in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*row // record ID -> entry
	seq     int64
	now     func() time.Time
}

type row struct {
	entry review.Entry
	seq   int64
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		entries: make(map[string]*row),
		now:     time.Now,
	}
}

// Exists reports whether a record with id has been inserted.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok, nil
}

// Insert stores a copy of rec unless its ID is already present.
func (s *Store) Insert(_ context.Context, rec *review.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[rec.ID]; ok {
		return false, nil
	}
	s.seq++
	s.entries[rec.ID] = &row{
		entry: review.Entry{Record: *rec, InsertedAt: s.now()},
		seq:   s.seq,
	}
	return true, nil
}

// UpdateAnalysis overwrites the non-empty fields of a.
func (s *Store) UpdateAnalysis(_ context.Context, id string, a review.Analysis) (bool, error) {
	if a.Empty() {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	if a.Attribution != nil {
		cp := *a.Attribution
		r.entry.Attribution = &cp
	}
	if a.Action != nil {
		cp := *a.Action
		r.entry.Action = &cp
	}
	if a.RiskLevel != "" {
		r.entry.RiskLevel = a.RiskLevel
	}
	return true, nil
}

// Get returns a copy of the entry for id.
func (s *Store) Get(_ context.Context, id string) (*review.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[id]
	if !ok {
		return nil, false, nil
	}
	e := copyEntry(r.entry)
	return &e, true, nil
}

// AllRecords returns every entry, newest first.
func (s *Store) AllRecords(ctx context.Context) ([]review.Entry, error) {
	return s.History(ctx, 0)
}

// History returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) History(_ context.Context, limit int) ([]review.Entry, error) {
	s.mu.RLock()
	rows := make([]*row, 0, len(s.entries))
	for _, r := range s.entries {
		rows = append(rows, r)
	}
	out := make([]review.Entry, 0, len(rows))
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	for _, r := range rows {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyEntry(r.entry))
	}
	s.mu.RUnlock()
	return out, nil
}

func copyEntry(e review.Entry) review.Entry {
	if e.Attribution != nil {
		a := *e.Attribution
		e.Attribution = &a
	}
	if e.Action != nil {
		p := *e.Action
		e.Action = &p
	}
	return e
}
