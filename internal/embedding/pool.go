package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dvoronkov/ledgerlens/internal/domain"
)

// DefaultWorkers bounds the concurrent gateway calls of one batch.
const DefaultWorkers = 4

// EmbedBatch attaches embeddings to every transaction in place, calling
// the gateway with bounded concurrency. The first failure cancels the
// remaining calls and fails the whole batch; no partial result is
// reported back even though some records may already carry vectors.
func EmbedBatch(ctx context.Context, gw Gateway, txs []domain.Transaction, workers int) error {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range txs {
		g.Go(func() error {
			vec, err := gw.Embed(ctx, txs[i].EmbeddingText())
			if err != nil {
				return err
			}
			txs[i].Embedding = vec
			return nil
		})
	}
	return g.Wait()
}
