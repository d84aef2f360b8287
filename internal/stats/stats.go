// Package stats holds the small numeric helpers shared by the analytics
// passes. Everything operates on plain float64 slices; callers own any
// filtering or bucketing.
package stats

import "math"

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// SampleStdDev returns the sample (n-1) standard deviation of xs.
func SampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// OLS fits y = intercept + slope*x by ordinary least squares over the
// implicit x = 0..len(ys)-1. A degenerate fit (fewer than 2 points)
// returns a flat line at the mean.
func OLS(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	if len(ys) < 2 {
		return 0, Mean(ys)
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, Mean(ys)
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// LagCorrelation returns the Pearson correlation between the series and
// a copy of itself shifted by lag periods (the sample autocorrelation of
// the overlapping windows). Returns 0 when the overlap is shorter than
// two points or either window has zero variance.
func LagCorrelation(xs []float64, lag int) float64 {
	n := len(xs)
	if lag <= 0 || n-lag < 2 {
		return 0
	}
	a, b := xs[lag:], xs[:n-lag]
	ma, mb := Mean(a), Mean(b)

	var num, denA, denB float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		num += da * db
		denA += da * da
		denB += db * db
	}
	if denA == 0 || denB == 0 {
		return 0
	}
	return num / math.Sqrt(denA*denB)
}
