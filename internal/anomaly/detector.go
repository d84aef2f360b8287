// Package anomaly flags statistical outliers in outflow amounts, per
// category, using a mean + 3 sigma threshold.
package anomaly

import (
	"fmt"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/stats"
)

const (
	// MinCategorySize is the smallest category that gets analyzed;
	// below this the variance estimate is not worth acting on.
	MinCategorySize = 5

	// SigmaMultiplier sets the outlier cutoff at mean + 3*stddev.
	SigmaMultiplier = 3.0
)

// Detect examines positive-outflow transactions grouped by category and
// returns full copies of the rows to flag, with IsAnomaly set and a
// human-readable reason attached. Deterministic over its input: rerunning
// on unchanged data reproduces the same flags. Callers persist the result
// with a full-row upsert; the store schemas reject sparse patches.
func Detect(txs []domain.Transaction) []domain.Transaction {
	byCategory := make(map[string][]int)
	for i := range txs {
		if txs[i].Outflow > 0 {
			byCategory[txs[i].Category] = append(byCategory[txs[i].Category], i)
		}
	}

	var flagged []domain.Transaction
	for category, idxs := range byCategory {
		if len(idxs) < MinCategorySize {
			continue
		}
		amounts := make([]float64, len(idxs))
		for j, i := range idxs {
			amounts[j] = txs[i].Outflow
		}
		mean := stats.Mean(amounts)
		threshold := mean + SigmaMultiplier*stats.StdDev(amounts)

		for _, i := range idxs {
			if txs[i].Outflow > threshold {
				t := txs[i]
				t.IsAnomaly = true
				t.AnomalyReason = fmt.Sprintf(
					"Amount %.2f significantly exceeds the average (%.2f) for category '%s'.",
					t.Outflow, mean, category)
				flagged = append(flagged, t)
			}
		}
	}
	return flagged
}
