package habit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoronkov/ledgerlens/internal/domain"
)

func day(year int, month time.Month, d, hour int) time.Time {
	return time.Date(year, month, d, hour, 30, 0, 0, time.UTC)
}

func occurrence(id, counterpart string, at time.Time, outflow float64) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		Date:        time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC),
		BookedAt:    at,
		Counterpart: counterpart,
		Category:    "Subscriptions",
		Outflow:     outflow,
	}
}

func weekly(counterpart string, startDay, count int, outflow float64) []domain.Transaction {
	txs := make([]domain.Transaction, 0, count)
	for i := 0; i < count; i++ {
		at := day(2024, time.May, startDay+7*i, 9)
		txs = append(txs, occurrence(fmt.Sprintf("%s-%d", counterpart, i), counterpart, at, outflow))
	}
	return txs
}

func TestRegular_Boundary(t *testing.T) {
	// Gaps [7 7 7 7]: perfectly regular.
	regular := []time.Time{
		day(2024, time.May, 1, 0), day(2024, time.May, 8, 0),
		day(2024, time.May, 15, 0), day(2024, time.May, 22, 0), day(2024, time.May, 29, 0),
	}
	assert.True(t, Regular(regular, DefaultTolerance()))

	// Gaps [7 1 30 2]: mean 10, deviations well past 3 days.
	irregular := []time.Time{
		day(2024, time.May, 1, 0), day(2024, time.May, 8, 0),
		day(2024, time.May, 9, 0), day(2024, time.June, 8, 0), day(2024, time.June, 10, 0),
	}
	assert.False(t, Regular(irregular, DefaultTolerance()))
}

func TestRegular_QuantileMode(t *testing.T) {
	tol := DefaultTolerance()
	tol.Mode = ModeQuantile

	// Gaps [7 7 7 14]: mean 8.75; three of four gaps within 2 days = 75%.
	dates := []time.Time{
		day(2024, time.May, 1, 0), day(2024, time.May, 8, 0),
		day(2024, time.May, 15, 0), day(2024, time.May, 22, 0), day(2024, time.June, 5, 0),
	}
	assert.True(t, Regular(dates, tol))
	assert.False(t, Regular(dates, DefaultTolerance()), "strict mode rejects the long gap")
}

func TestRegular_TooFewDates(t *testing.T) {
	assert.False(t, Regular([]time.Time{day(2024, time.May, 1, 0)}, DefaultTolerance()))
	assert.False(t, Regular(nil, DefaultTolerance()))
}

func TestDistinctWeeks(t *testing.T) {
	// Mon 2024-05-06, Wed 2024-05-08 (same week), Mon 2024-05-13, Tue 2024-05-21.
	dates := []time.Time{
		day(2024, time.May, 6, 0), day(2024, time.May, 8, 0),
		day(2024, time.May, 13, 0), day(2024, time.May, 21, 0),
	}
	assert.Equal(t, 3, DistinctWeeks(dates))
}

func TestDetect_WeeklyHabit(t *testing.T) {
	d := NewDetector(DefaultTolerance())
	current := weekly("Coffee Corner", 2, 4, 4.5)

	habits := d.Detect(current, nil)
	require.Len(t, habits, 1)

	h, ok := habits["Coffee Corner"]
	require.True(t, ok, "habit named after the dominant counterpart")
	assert.Equal(t, 4, h.Occurrences)
	assert.InDelta(t, 18.0, h.Total, 1e-9)
	assert.InDelta(t, 4.5, h.Average, 1e-9)
	assert.Equal(t, "Subscriptions", h.Category)
	assert.Equal(t, 4, h.ByTimeOfDay["morning"])
	assert.Equal(t, 0, h.ByTimeOfDay["evening"])
}

func TestDetect_TrendAgainstPreviousMonth(t *testing.T) {
	d := NewDetector(DefaultTolerance())
	current := weekly("Gym", 3, 4, 25)

	previous := []domain.Transaction{
		occurrence("p1", "Gym", day(2024, time.April, 5, 18), 25),
		occurrence("p2", "Gym", day(2024, time.April, 12, 18), 25),
	}

	habits := d.Detect(current, previous)
	require.Len(t, habits, 1)
	assert.InDelta(t, 100-50, habits["Gym"].Trend, 1e-9)
}

func TestDetect_RejectsIrregularAndSmallGroups(t *testing.T) {
	d := NewDetector(DefaultTolerance())

	// Three occurrences: under the minimum size.
	small := weekly("Bakery", 1, 3, 3)

	// Four occurrences bunched into one week: fails the spread test.
	bunched := []domain.Transaction{
		occurrence("b1", "Kiosk", day(2024, time.May, 6, 12), 2),
		occurrence("b2", "Kiosk", day(2024, time.May, 7, 12), 2),
		occurrence("b3", "Kiosk", day(2024, time.May, 8, 12), 2),
		occurrence("b4", "Kiosk", day(2024, time.May, 9, 12), 2),
	}

	habits := d.Detect(append(small, bunched...), nil)
	assert.Empty(t, habits)
}

func TestDetect_CounterpartNormalization(t *testing.T) {
	d := NewDetector(DefaultTolerance())
	txs := []domain.Transaction{
		occurrence("n1", "Netflix", day(2024, time.May, 1, 21), 12),
		occurrence("n2", " netflix ", day(2024, time.May, 8, 21), 12),
		occurrence("n3", "NETFLIX", day(2024, time.May, 15, 21), 12),
		occurrence("n4", "Netflix", day(2024, time.May, 22, 21), 12),
	}
	habits := d.Detect(txs, nil)
	require.Len(t, habits, 1)
	for _, h := range habits {
		assert.Equal(t, 4, h.Occurrences)
		assert.Equal(t, "Netflix", h.Name, "most frequent spelling wins")
	}
}

func TestDetect_IgnoresInflows(t *testing.T) {
	d := NewDetector(DefaultTolerance())
	txs := weekly("Employer", 1, 4, 0)
	for i := range txs {
		txs[i].Inflow = 2500
	}
	assert.Empty(t, d.Detect(txs, nil))
}
