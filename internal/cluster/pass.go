package cluster

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/metrics"
	"github.com/dvoronkov/ledgerlens/internal/store"
)

// Pass is the background clustering job body. It is strictly incremental:
// only rows that carry an embedding and have never been labeled are
// fetched, clustered, and written back.
type Pass struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger
}

// NewPass creates a clustering pass over the given store.
func NewPass(st store.Store, cfg Config, log zerolog.Logger) *Pass {
	return &Pass{store: st, cfg: cfg, log: log}
}

// Run executes one pass. Fewer unclustered rows than the minimum cluster
// size is a logged no-op, not an error. Errors are returned to the job
// runner for logging and counting; they never reach the ingestion caller.
func (p *Pass) Run(ctx context.Context) error {
	txs, err := p.store.Unclustered(ctx)
	if err != nil {
		metrics.ClusterPassOutcomes.WithLabelValues("failed").Inc()
		return fmt.Errorf("cluster pass: fetching unclustered rows: %w", err)
	}

	if len(txs) < p.cfg.MinClusterSize {
		p.log.Info().
			Int("available", len(txs)).
			Int("min_cluster_size", p.cfg.MinClusterSize).
			Msg("Too few unclustered transactions, skipping pass")
		metrics.ClusterPassOutcomes.WithLabelValues("skipped").Inc()
		return nil
	}

	vectors := make([][]float64, len(txs))
	for i := range txs {
		vectors[i] = txs[i].Embedding
	}

	labels := Labels(vectors, p.cfg)
	assignment := make(map[string]int, len(txs))
	for i := range txs {
		assignment[txs[i].ID] = labels[i]
	}

	if err := p.store.AssignClusters(ctx, assignment); err != nil {
		metrics.ClusterPassOutcomes.WithLabelValues("failed").Inc()
		return fmt.Errorf("cluster pass: writing labels: %w", err)
	}

	clustered := 0
	for _, l := range labels {
		if l != domain.ClusterNoise {
			clustered++
		}
	}
	p.log.Info().
		Int("total", len(txs)).
		Int("clustered", clustered).
		Int("noise", len(txs)-clustered).
		Msg("Clustering pass completed")
	metrics.ClusterPassOutcomes.WithLabelValues("completed").Inc()
	return nil
}

// Summaries recomputes the per-cluster description from currently
// labeled transactions. Noise rows are excluded.
func Summaries(txs []domain.Transaction) []domain.ClusterSummary {
	byID := make(map[int][]*domain.Transaction)
	for i := range txs {
		if txs[i].ClusterID == nil || *txs[i].ClusterID == domain.ClusterNoise {
			continue
		}
		byID[*txs[i].ClusterID] = append(byID[*txs[i].ClusterID], &txs[i])
	}

	out := make([]domain.ClusterSummary, 0, len(byID))
	for id, members := range byID {
		s := domain.ClusterSummary{ClusterID: id, Count: len(members)}
		categories := make(map[string]int)
		counterparts := make(map[string]int)
		var outflow, inflow float64
		for _, t := range members {
			s.TransactionIDs = append(s.TransactionIDs, t.ID)
			outflow += t.Outflow
			inflow += t.Inflow
			categories[t.Category]++
			counterparts[t.Counterpart]++
		}
		s.AvgOutflow = outflow / float64(len(members))
		s.AvgInflow = inflow / float64(len(members))
		s.TopCategory = mostFrequent(categories)
		s.TopCounterpart = mostFrequent(counterparts)
		out = append(out, s)
	}
	return out
}

func mostFrequent(counts map[string]int) string {
	best, bestCount := "", -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}
