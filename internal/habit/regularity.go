package habit

import (
	"math"
	"sort"
	"time"
)

// ToleranceMode selects how gap deviations are judged.
type ToleranceMode string

const (
	// ModeMaxDeviation accepts a group when every inter-occurrence gap
	// deviates from the mean gap by at most MaxDeviationDays.
	ModeMaxDeviation ToleranceMode = "max_deviation"
	// ModeQuantile accepts a group when at least QuantileShare of the
	// gaps deviate from the mean gap by at most QuantileWindowDays. This
	// looser rule existed alongside the strict one in earlier versions
	// of the detector; it is kept selectable rather than silently folded
	// into one number.
	ModeQuantile ToleranceMode = "quantile"
)

// Tolerance parameterizes the regularity test.
type Tolerance struct {
	Mode              ToleranceMode
	MaxDeviationDays  float64
	QuantileWindowDays float64
	QuantileShare     float64
}

// DefaultTolerance is the canonical regularity rule: every gap within
// 3 days of the mean gap.
func DefaultTolerance() Tolerance {
	return Tolerance{
		Mode:               ModeMaxDeviation,
		MaxDeviationDays:   3,
		QuantileWindowDays: 2,
		QuantileShare:      0.7,
	}
}

// Gaps returns the day gaps between consecutive occurrence dates, sorted
// ascending first.
func Gaps(dates []time.Time) []float64 {
	if len(dates) < 2 {
		return nil
	}
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Sub(sorted[i-1]).Hours()/24)
	}
	return gaps
}

// Regular reports whether the occurrence dates form a regular temporal
// pattern under the given tolerance.
func Regular(dates []time.Time, tol Tolerance) bool {
	gaps := Gaps(dates)
	if len(gaps) == 0 {
		return false
	}
	var mean float64
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))

	switch tol.Mode {
	case ModeQuantile:
		within := 0
		for _, g := range gaps {
			if math.Abs(g-mean) <= tol.QuantileWindowDays {
				within++
			}
		}
		return float64(within) >= tol.QuantileShare*float64(len(gaps))
	default:
		for _, g := range gaps {
			if math.Abs(g-mean) > tol.MaxDeviationDays {
				return false
			}
		}
		return true
	}
}

// DistinctWeeks counts distinct ISO weeks spanned by the dates, mapping
// each date to its week start (Monday) and counting unique starts.
func DistinctWeeks(dates []time.Time) int {
	weeks := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		offset := (int(d.Weekday()) + 6) % 7 // days since Monday
		start := d.AddDate(0, 0, -offset)
		weeks[start.Format("2006-01-02")] = struct{}{}
	}
	return len(weeks)
}
