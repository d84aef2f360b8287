// Package ingest orchestrates the ingestion path: parse raw records,
// deduplicate against the store, embed, insert, then schedule a
// best-effort clustering pass.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvoronkov/ledgerlens/internal/dedup"
	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/embedding"
	"github.com/dvoronkov/ledgerlens/internal/jobs"
	"github.com/dvoronkov/ledgerlens/internal/metrics"
	"github.com/dvoronkov/ledgerlens/internal/store"
)

// RawRecord is one incoming transaction as the caller supplies it. Dates
// arrive as DD.MM.YYYY or YYYY-MM-DD; BookedAt is optional RFC 3339 and
// falls back to noon on the transaction date.
type RawRecord struct {
	Date               string  `json:"date"`
	BookedAt           string  `json:"booked_at,omitempty"`
	Category           string  `json:"category"`
	Counterpart        string  `json:"counterpart"`
	Comment            string  `json:"comment"`
	Outflow            float64 `json:"outflow"`
	Inflow             float64 `json:"inflow"`
	SourceAccount      string  `json:"source_account"`
	DestinationAccount string  `json:"destination_account"`
}

// Options are the per-request ingestion flags.
type Options struct {
	// ExcludeDebtAccounts drops records touching a configured debt
	// account (credit cards, loans) before any other processing.
	ExcludeDebtAccounts bool
	// SkipEmbedding bypasses the embedding gateway; records land without
	// vectors and stay invisible to the clusterer.
	SkipEmbedding bool
}

// ErrInvalidBatch marks caller mistakes (bad dates, negative amounts,
// empty batch) as opposed to collaborator failures.
var ErrInvalidBatch = errors.New("invalid batch")

// Result reports the outcome of one ingestion batch.
type Result struct {
	Inserted int    `json:"inserted"`
	Message  string `json:"message,omitempty"`
}

// Service wires the ingestion collaborators together.
type Service struct {
	store        store.Store
	gateway      embedding.Gateway
	publisher    jobs.Publisher
	debtAccounts map[string]struct{}
	workers      int
	log          zerolog.Logger
}

// New creates an ingestion service. gateway may be nil when embedding is
// disabled globally; publisher may be nil to disable background
// clustering (CLI one-shots). workers bounds the concurrent embedding
// calls per batch; zero or negative selects the default.
func New(st store.Store, gateway embedding.Gateway, publisher jobs.Publisher, debtAccounts []string, workers int, log zerolog.Logger) *Service {
	debt := make(map[string]struct{}, len(debtAccounts))
	for _, a := range debtAccounts {
		debt[normalizeAccount(a)] = struct{}{}
	}
	if workers <= 0 {
		workers = embedding.DefaultWorkers
	}
	return &Service{
		store:        st,
		gateway:      gateway,
		publisher:    publisher,
		debtAccounts: debt,
		workers:      workers,
		log:          log,
	}
}

// Ingest validates and parses the batch, filters duplicates, embeds the
// survivors and inserts them, then schedules a clustering pass. Any
// collaborator failure aborts the whole batch; nothing is partially
// committed.
func (s *Service) Ingest(ctx context.Context, records []RawRecord, opts Options) (*Result, error) {
	batch, err := s.parse(records, opts)
	if err != nil {
		return nil, err
	}

	fresh, err := dedup.FilterNew(ctx, batch, s.store)
	if err != nil {
		return nil, err
	}
	metrics.DedupDropped.Add(float64(len(batch) - len(fresh)))

	if len(fresh) == 0 {
		return &Result{Inserted: 0, Message: "no new transactions"}, nil
	}

	if !opts.SkipEmbedding && s.gateway != nil {
		if err := embedding.EmbedBatch(ctx, s.gateway, fresh, s.workers); err != nil {
			metrics.EmbeddingFailures.Inc()
			return nil, fmt.Errorf("ingest: embedding batch: %w", err)
		}
	}

	if err := s.store.Insert(ctx, fresh); err != nil {
		return nil, fmt.Errorf("ingest: inserting batch: %w", err)
	}
	metrics.IngestedTransactions.Add(float64(len(fresh)))

	s.scheduleClusterPass(ctx)

	return &Result{Inserted: len(fresh)}, nil
}

func (s *Service) parse(records []RawRecord, opts Options) ([]domain.Transaction, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("ingest: %w: no records", ErrInvalidBatch)
	}

	out := make([]domain.Transaction, 0, len(records))
	for i, r := range records {
		if opts.ExcludeDebtAccounts && s.touchesDebtAccount(&r) {
			continue
		}
		if r.Outflow < 0 || r.Inflow < 0 {
			return nil, fmt.Errorf("ingest: %w: record %d: negative amount", ErrInvalidBatch, i)
		}

		date, err := dedup.ParseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w: record %d: %v", ErrInvalidBatch, i, err)
		}

		bookedAt := date.Add(12 * time.Hour)
		if r.BookedAt != "" {
			bookedAt, err = time.Parse(time.RFC3339, r.BookedAt)
			if err != nil {
				return nil, fmt.Errorf("ingest: %w: record %d: bad booked_at %q", ErrInvalidBatch, i, r.BookedAt)
			}
		}

		out = append(out, domain.Transaction{
			ID:                 uuid.New().String(),
			Date:               date,
			BookedAt:           bookedAt,
			Category:           strings.TrimSpace(r.Category),
			Counterpart:        strings.TrimSpace(r.Counterpart),
			Comment:            strings.TrimSpace(r.Comment),
			Outflow:            r.Outflow,
			Inflow:             r.Inflow,
			SourceAccount:      strings.TrimSpace(r.SourceAccount),
			DestinationAccount: strings.TrimSpace(r.DestinationAccount),
			CreatedAt:          time.Now().UTC(),
		})
	}
	return out, nil
}

func (s *Service) touchesDebtAccount(r *RawRecord) bool {
	_, src := s.debtAccounts[normalizeAccount(r.SourceAccount)]
	_, dst := s.debtAccounts[normalizeAccount(r.DestinationAccount)]
	return src || dst
}

func normalizeAccount(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// scheduleClusterPass submits a fire-and-forget clustering job. Failures
// are logged and counted; the ingestion outcome is already decided.
func (s *Service) scheduleClusterPass(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	job := &jobs.ClusterPassJob{TriggeredBy: "ingest"}
	if err := s.publisher.PublishClusterPass(context.WithoutCancel(ctx), job); err != nil {
		s.log.Warn().Err(err).Msg("Failed to schedule clustering pass")
	}
}
