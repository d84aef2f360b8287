// Package store defines the transaction store contract consumed by the
// analytics engine. Implementations live in the subpackages: postgres is
// the primary backend, bigquery mirrors it for warehouse deployments, and
// memory backs tests.
package store

import (
	"context"
	"time"

	"github.com/dvoronkov/ledgerlens/internal/domain"
)

// Filter narrows a Query call. Zero values mean "no restriction".
type Filter struct {
	From         time.Time
	To           time.Time
	Category     string
	OutflowOnly  bool
	InflowOnly   bool
}

// Store is the persistence contract for transactions. Upsert must write
// full rows: the backing schemas carry non-null constraints on columns
// the analytics passes never touch, so sparse patches are rejected.
type Store interface {
	Query(ctx context.Context, f Filter) ([]domain.Transaction, error)
	Insert(ctx context.Context, txs []domain.Transaction) error
	Upsert(ctx context.Context, txs []domain.Transaction) error

	// LookupHashes returns the subset of hashes already present. One call
	// receives at most one dedup chunk (500 hashes); chunking is the
	// caller's concern.
	LookupHashes(ctx context.Context, hashes []string) ([]string, error)

	// Unclustered returns transactions that have an embedding but no
	// cluster assignment yet.
	Unclustered(ctx context.Context) ([]domain.Transaction, error)

	// AssignClusters writes cluster labels keyed by transaction ID.
	AssignClusters(ctx context.Context, labels map[string]int) error

	Close() error
}
