// Package postgres implements the transaction store on PostgreSQL via
// sqlx. A unique index on canonical_hash backs deduplication: concurrent
// ingestions racing past the read-side check cannot double-insert, the
// conflicting rows are simply skipped.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/store"
)

const defaultTimeout = 30 * time.Second

// Schema creates the transactions table. Applied by the operator or a
// migration runner, kept here so the shape lives next to the queries.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id                  UUID PRIMARY KEY,
    date                DATE NOT NULL,
    booked_at           TIMESTAMPTZ NOT NULL,
    category            TEXT NOT NULL,
    counterpart         TEXT NOT NULL,
    comment             TEXT NOT NULL DEFAULT '',
    outflow             NUMERIC(14,2) NOT NULL DEFAULT 0,
    inflow              NUMERIC(14,2) NOT NULL DEFAULT 0,
    source_account      TEXT NOT NULL DEFAULT '',
    destination_account TEXT NOT NULL DEFAULT '',
    canonical_hash      TEXT NOT NULL,
    embedding           DOUBLE PRECISION[],
    cluster_id          INTEGER,
    is_anomaly          BOOLEAN NOT NULL DEFAULT FALSE,
    anomaly_reason      TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_canonical_hash_key
    ON transactions (canonical_hash);
CREATE INDEX IF NOT EXISTS transactions_date_idx ON transactions (date);
`

type row struct {
	ID                 string          `db:"id"`
	Date               time.Time       `db:"date"`
	BookedAt           time.Time       `db:"booked_at"`
	Category           string          `db:"category"`
	Counterpart        string          `db:"counterpart"`
	Comment            string          `db:"comment"`
	Outflow            float64         `db:"outflow"`
	Inflow             float64         `db:"inflow"`
	SourceAccount      string          `db:"source_account"`
	DestinationAccount string          `db:"destination_account"`
	CanonicalHash      string          `db:"canonical_hash"`
	Embedding          pq.Float64Array `db:"embedding"`
	ClusterID          *int            `db:"cluster_id"`
	IsAnomaly          bool            `db:"is_anomaly"`
	AnomalyReason      string          `db:"anomaly_reason"`
	CreatedAt          time.Time       `db:"created_at"`
}

func (r *row) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:                 r.ID,
		Date:               r.Date,
		BookedAt:           r.BookedAt,
		Category:           r.Category,
		Counterpart:        r.Counterpart,
		Comment:            r.Comment,
		Outflow:            r.Outflow,
		Inflow:             r.Inflow,
		SourceAccount:      r.SourceAccount,
		DestinationAccount: r.DestinationAccount,
		CanonicalHash:      r.CanonicalHash,
		Embedding:          []float64(r.Embedding),
		ClusterID:          r.ClusterID,
		IsAnomaly:          r.IsAnomaly,
		AnomalyReason:      r.AnomalyReason,
		CreatedAt:          r.CreatedAt,
	}
}

func fromDomain(t *domain.Transaction) row {
	return row{
		ID:                 t.ID,
		Date:               t.Date,
		BookedAt:           t.BookedAt,
		Category:           t.Category,
		Counterpart:        t.Counterpart,
		Comment:            t.Comment,
		Outflow:            t.Outflow,
		Inflow:             t.Inflow,
		SourceAccount:      t.SourceAccount,
		DestinationAccount: t.DestinationAccount,
		CanonicalHash:      t.CanonicalHash,
		Embedding:          pq.Float64Array(t.Embedding),
		ClusterID:          t.ClusterID,
		IsAnomaly:          t.IsAnomaly,
		AnomalyReason:      t.AnomalyReason,
		CreatedAt:          t.CreatedAt,
	}
}

// Store is the PostgreSQL-backed transaction store.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, timeout: defaultTimeout}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: defaultTimeout}
}

// Query returns transactions matching the filter, ordered by date.
func (s *Store) Query(ctx context.Context, f store.Filter) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := `SELECT * FROM transactions WHERE 1=1`
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		q += fmt.Sprintf(" AND "+clause, len(args))
	}
	if !f.From.IsZero() {
		add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("date < $%d", f.To)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.OutflowOnly {
		q += " AND outflow > 0"
	}
	if f.InflowOnly {
		q += " AND inflow > 0"
	}
	q += " ORDER BY date, id"

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	out := make([]domain.Transaction, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

const insertColumns = `(id, date, booked_at, category, counterpart, comment,
		outflow, inflow, source_account, destination_account, canonical_hash,
		embedding, cluster_id, is_anomaly, anomaly_reason, created_at)
	VALUES (:id, :date, :booked_at, :category, :counterpart, :comment,
		:outflow, :inflow, :source_account, :destination_account, :canonical_hash,
		:embedding, :cluster_id, :is_anomaly, :anomaly_reason, :created_at)`

// Insert adds rows atomically. Hash conflicts from concurrent ingestions
// are skipped rather than failing the batch.
func (s *Store) Insert(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres store: begin insert: %w", err)
	}
	defer tx.Rollback()

	q := `INSERT INTO transactions ` + insertColumns +
		` ON CONFLICT (canonical_hash) DO NOTHING`
	for i := range txs {
		r := fromDomain(&txs[i])
		if _, err := tx.NamedExecContext(ctx, q, &r); err != nil {
			return fmt.Errorf("postgres store: insert %s: %w", txs[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres store: commit insert: %w", err)
	}
	return nil
}

// Upsert writes full rows keyed by ID. Payloads must be complete rows;
// the NOT NULL columns reject sparse patches.
func (s *Store) Upsert(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres store: begin upsert: %w", err)
	}
	defer tx.Rollback()

	q := `INSERT INTO transactions ` + insertColumns + `
	ON CONFLICT (id) DO UPDATE SET
		date = EXCLUDED.date,
		booked_at = EXCLUDED.booked_at,
		category = EXCLUDED.category,
		counterpart = EXCLUDED.counterpart,
		comment = EXCLUDED.comment,
		outflow = EXCLUDED.outflow,
		inflow = EXCLUDED.inflow,
		source_account = EXCLUDED.source_account,
		destination_account = EXCLUDED.destination_account,
		canonical_hash = EXCLUDED.canonical_hash,
		embedding = EXCLUDED.embedding,
		cluster_id = EXCLUDED.cluster_id,
		is_anomaly = EXCLUDED.is_anomaly,
		anomaly_reason = EXCLUDED.anomaly_reason`
	for i := range txs {
		r := fromDomain(&txs[i])
		if _, err := tx.NamedExecContext(ctx, q, &r); err != nil {
			return fmt.Errorf("postgres store: upsert %s: %w", txs[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres store: commit upsert: %w", err)
	}
	return nil
}

// LookupHashes returns the subset of hashes already stored. Callers pass
// at most one dedup chunk per call.
func (s *Store) LookupHashes(ctx context.Context, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []string
	err := s.db.SelectContext(ctx, &out,
		`SELECT canonical_hash FROM transactions WHERE canonical_hash = ANY($1)`,
		pq.Array(hashes))
	if err != nil {
		return nil, fmt.Errorf("postgres store: hash lookup: %w", err)
	}
	return out, nil
}

// Unclustered returns embedded rows that have no cluster label yet.
func (s *Store) Unclustered(ctx context.Context) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM transactions
		 WHERE embedding IS NOT NULL AND cluster_id IS NULL
		 ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: unclustered query: %w", err)
	}
	out := make([]domain.Transaction, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// AssignClusters writes cluster labels keyed by transaction ID.
func (s *Store) AssignClusters(ctx context.Context, labels map[string]int) error {
	if len(labels) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres store: begin cluster assignment: %w", err)
	}
	defer tx.Rollback()

	for id, label := range labels {
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET cluster_id = $1 WHERE id = $2`, label, id); err != nil {
			return fmt.Errorf("postgres store: assigning cluster to %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres store: commit cluster assignment: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
