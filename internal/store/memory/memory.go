// Package memory holds an in-memory Store used by tests and local runs.
// Safe for concurrent use. Not meant for production deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/store"
)

// Store keeps transactions keyed by ID with a canonical-hash index.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]domain.Transaction
	byHash map[string]string // hash -> transaction ID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byID:   make(map[string]domain.Transaction),
		byHash: make(map[string]string),
	}
}

// Query returns transactions matching the filter, ordered by date.
func (s *Store) Query(_ context.Context, f store.Filter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, t := range s.byID {
		if !f.From.IsZero() && t.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.Date.Before(f.To) {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.OutflowOnly && t.Outflow <= 0 {
			continue
		}
		if f.InflowOnly && t.Inflow <= 0 {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// Insert adds new rows. A duplicate canonical hash is rejected, matching
// the unique constraint the SQL backends enforce.
func (s *Store) Insert(_ context.Context, txs []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txs {
		if _, dup := s.byHash[t.CanonicalHash]; dup {
			return fmt.Errorf("memory store: duplicate canonical hash %s", t.CanonicalHash)
		}
	}
	for _, t := range txs {
		s.byID[t.ID] = t
		s.byHash[t.CanonicalHash] = t.ID
	}
	return nil
}

// Upsert writes full rows, replacing any existing row with the same ID.
func (s *Store) Upsert(_ context.Context, txs []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txs {
		s.byID[t.ID] = t
		s.byHash[t.CanonicalHash] = t.ID
	}
	return nil
}

// LookupHashes returns the subset of hashes already present.
func (s *Store) LookupHashes(_ context.Context, hashes []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, h := range hashes {
		if _, ok := s.byHash[h]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// Unclustered returns embedded rows without a cluster label.
func (s *Store) Unclustered(_ context.Context) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, t := range s.byID {
		if len(t.Embedding) > 0 && t.ClusterID == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AssignClusters writes cluster labels keyed by transaction ID.
func (s *Store) AssignClusters(_ context.Context, labels map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, label := range labels {
		t, ok := s.byID[id]
		if !ok {
			return fmt.Errorf("memory store: unknown transaction %s", id)
		}
		l := label
		t.ClusterID = &l
		s.byID[id] = t
	}
	return nil
}

// Len reports the number of stored transactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
