package forecast

import (
	"fmt"
	"sort"
	"time"

	"github.com/dvoronkov/ledgerlens/internal/domain"
)

// SeriesType selects which scalar series a forecast runs over.
type SeriesType string

const (
	SeriesIncome   SeriesType = "income"
	SeriesExpenses SeriesType = "expenses"
)

const periodLayout = "2006-01"

// BuildSeries aggregates raw transactions into chronologically sorted
// monthly {income, expenses} buckets, optionally restricted to one
// category. Bucket indices are zero-based period numbers.
func BuildSeries(txs []domain.Transaction, category string) []domain.SeriesPoint {
	buckets := make(map[string]*domain.SeriesPoint)
	for i := range txs {
		t := &txs[i]
		if category != "" && t.Category != category {
			continue
		}
		period := t.Date.Format(periodLayout)
		b, ok := buckets[period]
		if !ok {
			b = &domain.SeriesPoint{Period: period}
			buckets[period] = b
		}
		b.Income += t.Inflow
		b.Expenses += t.Outflow
	}

	out := make([]domain.SeriesPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	for i := range out {
		out[i].Index = i
	}
	return out
}

// Values extracts the scalar series of interest from the monthly buckets.
func Values(series []domain.SeriesPoint, st SeriesType) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		if st == SeriesIncome {
			out[i] = p.Income
		} else {
			out[i] = p.Expenses
		}
	}
	return out
}

// futureLabels continues the monthly period labels past the end of the
// series.
func futureLabels(series []domain.SeriesPoint, periods int) ([]string, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("forecast: empty series")
	}
	last, err := time.Parse(periodLayout, series[len(series)-1].Period)
	if err != nil {
		return nil, fmt.Errorf("forecast: bad period label %q: %w", series[len(series)-1].Period, err)
	}
	labels := make([]string, periods)
	for i := 0; i < periods; i++ {
		labels[i] = last.AddDate(0, i+1, 0).Format(periodLayout)
	}
	return labels, nil
}

// monthOf returns the calendar month (1..12) of a period label.
func monthOf(label string) int {
	t, err := time.Parse(periodLayout, label)
	if err != nil {
		return 0
	}
	return int(t.Month())
}
