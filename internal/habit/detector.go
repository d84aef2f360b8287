// Package habit detects recurring spend patterns inside one
// calendar-month slice of transactions.
//
// Candidate groups are formed by exact counterpart matching on the
// normalized (trimmed, lowercased) payee. A group becomes a habit when it
// has at least MinOccurrences transactions, its occurrence gaps pass the
// regularity test, and it spans at least MinDistinctWeeks ISO weeks.
package habit

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvoronkov/ledgerlens/internal/domain"
)

const (
	// MinOccurrences is the smallest group considered a habit candidate.
	MinOccurrences = 4

	// MinDistinctWeeks is the required spread of occurrences.
	MinDistinctWeeks = 3
)

// Detector runs habit detection under a fixed tolerance.
type Detector struct {
	tol Tolerance
}

// NewDetector creates a detector; a zero-mode tolerance falls back to the
// canonical max-deviation rule.
func NewDetector(tol Tolerance) *Detector {
	if tol.Mode == "" {
		tol = DefaultTolerance()
	}
	return &Detector{tol: tol}
}

// Detect groups the current month's transactions by counterpart, applies
// the size, regularity and spread tests, and returns surviving habits
// keyed by name. previous holds the immediately preceding calendar
// month's transactions and feeds the trend delta; it may be empty. Each
// transaction is consumed by at most one habit.
func (d *Detector) Detect(current, previous []domain.Transaction) map[string]domain.Habit {
	groups := groupByCounterpart(current)
	prevTotals := totalsByCounterpart(previous)

	habits := make(map[string]domain.Habit)
	seen := make(map[string]struct{}, len(current))

	for key, members := range groups {
		group := make([]*domain.Transaction, 0, len(members))
		for _, t := range members {
			if _, used := seen[t.ID]; !used {
				group = append(group, t)
			}
		}
		if len(group) < MinOccurrences {
			continue
		}

		dates := datesOf(group)
		if !Regular(dates, d.tol) {
			continue
		}
		if DistinctWeeks(dates) < MinDistinctWeeks {
			continue
		}

		h := buildHabit(group)
		h.Trend = h.Total - prevTotals[key]
		habits[h.Name] = h

		for _, t := range group {
			seen[t.ID] = struct{}{}
		}
	}
	return habits
}

func groupByCounterpart(txs []domain.Transaction) map[string][]*domain.Transaction {
	groups := make(map[string][]*domain.Transaction)
	for i := range txs {
		t := &txs[i]
		if t.Outflow <= 0 {
			continue
		}
		key := normalizeCounterpart(t.Counterpart)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], t)
	}
	return groups
}

func totalsByCounterpart(txs []domain.Transaction) map[string]float64 {
	totals := make(map[string]float64)
	for i := range txs {
		if txs[i].Outflow > 0 {
			totals[normalizeCounterpart(txs[i].Counterpart)] += txs[i].Outflow
		}
	}
	return totals
}

func normalizeCounterpart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func buildHabit(group []*domain.Transaction) domain.Habit {
	h := domain.Habit{
		Occurrences: len(group),
		ByTimeOfDay: map[string]int{"night": 0, "morning": 0, "afternoon": 0, "evening": 0},
	}

	counterparts := make(map[string]int)
	categories := make(map[string]int)
	for _, t := range group {
		h.Total += t.Outflow
		counterparts[strings.TrimSpace(t.Counterpart)]++
		categories[t.Category]++

		h.ByTimeOfDay[timeOfDayBucket(t.BookedAt.Hour())]++
		h.ByWeekday[int(t.BookedAt.Weekday())]++
	}
	h.Average = h.Total / float64(len(group))
	h.Category = mostFrequent(categories)

	h.Name = majority(counterparts)
	if h.Name == "" {
		// No group-level majority: fall back to a synthesized name.
		h.Name = fmt.Sprintf("%s / %s (~%.2f)",
			strings.TrimSpace(group[0].Counterpart), group[0].Category, h.Average)
	}
	return h
}

// mostFrequent returns the highest-count key, breaking ties
// lexicographically so reruns stay deterministic.
func mostFrequent(counts map[string]int) string {
	best, bestCount := "", -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}

// majority returns the most frequent key, or "" when the winner does not
// hold a strict plurality over the runner-up.
func majority(counts map[string]int) string {
	best, bestCount, runnerUp := "", 0, 0
	for k, c := range counts {
		switch {
		case c > bestCount:
			runnerUp = bestCount
			best, bestCount = k, c
		case c == bestCount:
			runnerUp = c
		case c > runnerUp:
			runnerUp = c
		}
	}
	if bestCount == runnerUp {
		return ""
	}
	return best
}

func timeOfDayBucket(hour int) string {
	switch {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

func datesOf(group []*domain.Transaction) []time.Time {
	dates := make([]time.Time, len(group))
	for i, t := range group {
		dates[i] = t.Date
	}
	return dates
}
