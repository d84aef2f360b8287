// Package bigquery implements the transaction store on BigQuery for
// warehouse deployments. The row schema mirrors the Postgres backend;
// upserts run as MERGE statements so full rows replace full rows.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/store"
)

const transactionsTable = "transactions"

// TransactionRow is the BigQuery schema of one transaction.
type TransactionRow struct {
	ID                 string                 `bigquery:"id"`
	Date               civil.Date             `bigquery:"date"`
	BookedAt           time.Time              `bigquery:"booked_at"`
	Category           string                 `bigquery:"category"`
	Counterpart        string                 `bigquery:"counterpart"`
	Comment            string                 `bigquery:"comment"`
	Outflow            float64                `bigquery:"outflow"`
	Inflow             float64                `bigquery:"inflow"`
	SourceAccount      string                 `bigquery:"source_account"`
	DestinationAccount string                 `bigquery:"destination_account"`
	CanonicalHash      string                 `bigquery:"canonical_hash"`
	Embedding          []float64              `bigquery:"embedding"`
	ClusterID          bigquery.NullInt64     `bigquery:"cluster_id"`
	IsAnomaly          bool                   `bigquery:"is_anomaly"`
	AnomalyReason      string                 `bigquery:"anomaly_reason"`
	CreatedAt          time.Time              `bigquery:"created_at"`
	UpdatedAt          bigquery.NullTimestamp `bigquery:"updated_at"`
}

func toRow(t *domain.Transaction) *TransactionRow {
	r := &TransactionRow{
		ID:                 t.ID,
		Date:               civil.DateOf(t.Date),
		BookedAt:           t.BookedAt,
		Category:           t.Category,
		Counterpart:        t.Counterpart,
		Comment:            t.Comment,
		Outflow:            t.Outflow,
		Inflow:             t.Inflow,
		SourceAccount:      t.SourceAccount,
		DestinationAccount: t.DestinationAccount,
		CanonicalHash:      t.CanonicalHash,
		Embedding:          t.Embedding,
		IsAnomaly:          t.IsAnomaly,
		AnomalyReason:      t.AnomalyReason,
		CreatedAt:          t.CreatedAt,
	}
	if t.ClusterID != nil {
		r.ClusterID = bigquery.NullInt64{Int64: int64(*t.ClusterID), Valid: true}
	}
	return r
}

func (r *TransactionRow) toDomain() domain.Transaction {
	t := domain.Transaction{
		ID:                 r.ID,
		Date:               r.Date.In(time.UTC),
		BookedAt:           r.BookedAt,
		Category:           r.Category,
		Counterpart:        r.Counterpart,
		Comment:            r.Comment,
		Outflow:            r.Outflow,
		Inflow:             r.Inflow,
		SourceAccount:      r.SourceAccount,
		DestinationAccount: r.DestinationAccount,
		CanonicalHash:      r.CanonicalHash,
		Embedding:          r.Embedding,
		IsAnomaly:          r.IsAnomaly,
		AnomalyReason:      r.AnomalyReason,
		CreatedAt:          r.CreatedAt,
	}
	if r.ClusterID.Valid {
		id := int(r.ClusterID.Int64)
		t.ClusterID = &id
	}
	return t
}

// Store is the BigQuery-backed transaction store. It holds a shared
// client to avoid reconnecting per operation.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// New creates a Store with a shared BigQuery client.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery store: creating client: %w", err)
	}
	return &Store{client: client, projectID: projectID, datasetID: datasetID}, nil
}

func (s *Store) table() string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, transactionsTable)
}

// Query returns transactions matching the filter, ordered by date.
func (s *Store) Query(ctx context.Context, f store.Filter) ([]domain.Transaction, error) {
	query := `SELECT * FROM ` + s.table() + ` WHERE TRUE`
	var params []bigquery.QueryParameter
	if !f.From.IsZero() {
		query += ` AND date >= @from`
		params = append(params, bigquery.QueryParameter{Name: "from", Value: civil.DateOf(f.From)})
	}
	if !f.To.IsZero() {
		query += ` AND date < @to`
		params = append(params, bigquery.QueryParameter{Name: "to", Value: civil.DateOf(f.To)})
	}
	if f.Category != "" {
		query += ` AND category = @category`
		params = append(params, bigquery.QueryParameter{Name: "category", Value: f.Category})
	}
	if f.OutflowOnly {
		query += ` AND outflow > 0`
	}
	if f.InflowOnly {
		query += ` AND inflow > 0`
	}
	query += ` ORDER BY date, id`

	q := s.client.Query(query)
	q.Parameters = params
	return s.readRows(ctx, q)
}

// Insert streams new rows into the transactions table.
func (s *Store) Insert(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]*TransactionRow, len(txs))
	for i := range txs {
		rows[i] = toRow(&txs[i])
	}
	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("bigquery store: inserting rows: %w", err)
	}
	return nil
}

// Upsert merges full rows keyed by id.
func (s *Store) Upsert(ctx context.Context, txs []domain.Transaction) error {
	for i := range txs {
		r := toRow(&txs[i])
		query := `
		MERGE ` + s.table() + ` T
		USING (SELECT @id AS id) S
		ON T.id = S.id
		WHEN MATCHED THEN UPDATE SET
			date = @date, booked_at = @booked_at, category = @category,
			counterpart = @counterpart, comment = @comment,
			outflow = @outflow, inflow = @inflow,
			source_account = @source_account, destination_account = @destination_account,
			canonical_hash = @canonical_hash, embedding = @embedding,
			cluster_id = @cluster_id, is_anomaly = @is_anomaly,
			anomaly_reason = @anomaly_reason, updated_at = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN INSERT
			(id, date, booked_at, category, counterpart, comment, outflow, inflow,
			 source_account, destination_account, canonical_hash, embedding,
			 cluster_id, is_anomaly, anomaly_reason, created_at)
		VALUES
			(@id, @date, @booked_at, @category, @counterpart, @comment, @outflow, @inflow,
			 @source_account, @destination_account, @canonical_hash, @embedding,
			 @cluster_id, @is_anomaly, @anomaly_reason, CURRENT_TIMESTAMP())`

		q := s.client.Query(query)
		q.Parameters = []bigquery.QueryParameter{
			{Name: "id", Value: r.ID},
			{Name: "date", Value: r.Date},
			{Name: "booked_at", Value: r.BookedAt},
			{Name: "category", Value: r.Category},
			{Name: "counterpart", Value: r.Counterpart},
			{Name: "comment", Value: r.Comment},
			{Name: "outflow", Value: r.Outflow},
			{Name: "inflow", Value: r.Inflow},
			{Name: "source_account", Value: r.SourceAccount},
			{Name: "destination_account", Value: r.DestinationAccount},
			{Name: "canonical_hash", Value: r.CanonicalHash},
			{Name: "embedding", Value: r.Embedding},
			{Name: "cluster_id", Value: r.ClusterID},
			{Name: "is_anomaly", Value: r.IsAnomaly},
			{Name: "anomaly_reason", Value: r.AnomalyReason},
		}
		job, err := q.Run(ctx)
		if err != nil {
			return fmt.Errorf("bigquery store: upsert %s: %w", r.ID, err)
		}
		status, err := job.Wait(ctx)
		if err != nil {
			return fmt.Errorf("bigquery store: upsert %s: waiting: %w", r.ID, err)
		}
		if status.Err() != nil {
			return fmt.Errorf("bigquery store: upsert %s: %w", r.ID, status.Err())
		}
	}
	return nil
}

// LookupHashes returns the subset of hashes already stored. One call
// receives at most one dedup chunk, which BigQuery handles comfortably
// inside a single UNNEST parameter.
func (s *Store) LookupHashes(ctx context.Context, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	q := s.client.Query(`
		SELECT canonical_hash FROM ` + s.table() + `
		WHERE canonical_hash IN UNNEST(@hashes)`)
	q.Parameters = []bigquery.QueryParameter{{Name: "hashes", Value: hashes}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery store: hash lookup: %w", err)
	}
	var out []string
	for {
		var row struct {
			CanonicalHash string `bigquery:"canonical_hash"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery store: hash lookup: iterating: %w", err)
		}
		out = append(out, row.CanonicalHash)
	}
	return out, nil
}

// Unclustered returns embedded rows without a cluster label.
func (s *Store) Unclustered(ctx context.Context) ([]domain.Transaction, error) {
	q := s.client.Query(`
		SELECT * FROM ` + s.table() + `
		WHERE ARRAY_LENGTH(embedding) > 0 AND cluster_id IS NULL
		ORDER BY date, id`)
	return s.readRows(ctx, q)
}

// AssignClusters writes cluster labels keyed by transaction ID.
func (s *Store) AssignClusters(ctx context.Context, labels map[string]int) error {
	for id, label := range labels {
		q := s.client.Query(`
			UPDATE ` + s.table() + `
			SET cluster_id = @cluster_id, updated_at = CURRENT_TIMESTAMP()
			WHERE id = @id`)
		q.Parameters = []bigquery.QueryParameter{
			{Name: "cluster_id", Value: int64(label)},
			{Name: "id", Value: id},
		}
		job, err := q.Run(ctx)
		if err != nil {
			return fmt.Errorf("bigquery store: assigning cluster to %s: %w", id, err)
		}
		if _, err := job.Wait(ctx); err != nil {
			return fmt.Errorf("bigquery store: assigning cluster to %s: waiting: %w", id, err)
		}
	}
	return nil
}

func (s *Store) readRows(ctx context.Context, q *bigquery.Query) ([]domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery store: reading query: %w", err)
	}
	var out []domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery store: iterating: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Close closes the shared BigQuery client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ store.Store = (*Store)(nil)
