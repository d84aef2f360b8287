package forecast

import (
	"math"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/stats"
)

const (
	// seasonalityMinPeriods is the shortest history the autocorrelation
	// diagnostic runs on.
	seasonalityMinPeriods = 24

	// seasonalityMaxLag bounds the autocorrelation scan (monthly data, so
	// one year).
	seasonalityMaxLag = 12

	// seasonalityThreshold is the minimum absolute correlation treated as
	// a seasonal signal.
	seasonalityThreshold = 0.3

	// accuracyTrainShare is the chronological train split used for
	// backtesting.
	accuracyTrainShare = 0.75

	// accuracyMinPeriods is the shortest history that still yields a
	// non-empty test split worth scoring.
	accuracyMinPeriods = 4

	// fallbackBandShare is the +/- band applied when no residuals can be
	// computed for a confidence interval.
	fallbackBandShare = 0.2
)

// accuracy backtests the selected model on a chronological 75/25 split
// and scores the held-out tail. Histories shorter than accuracyMinPeriods
// (or splits with an empty tail) return nil metrics rather than failing
// the forecast. Only the linear and moving-average paths are refit;
// every other model name scores the linear path.
func accuracy(values []float64, model string) domain.Accuracy {
	if len(values) < accuracyMinPeriods {
		return domain.Accuracy{}
	}
	trainN := int(float64(len(values)) * accuracyTrainShare)
	if trainN < 1 || trainN >= len(values) {
		return domain.Accuracy{}
	}
	train, test := values[:trainN], values[trainN:]

	var predicted []float64
	if model == ModelMovingAverage {
		predicted = movingAverageForecast(train, len(test))
	} else {
		predicted = linearForecast(train, len(test))
	}

	var absSum, sqSum, pctSum float64
	for i, actual := range test {
		diff := predicted[i] - actual
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if actual != 0 {
			pctSum += math.Abs(diff / actual)
		}
	}
	n := float64(len(test))
	mae := absSum / n
	rmse := math.Sqrt(sqSum / n)
	mape := pctSum / n * 100

	return domain.Accuracy{MAE: &mae, RMSE: &rmse, MAPE: &mape}
}

// seasonality scans sample autocorrelations at lags 1..12 and reports the
// strongest one when it clears the threshold. Needs at least 24 periods.
func seasonality(values []float64) domain.Seasonality {
	if len(values) < seasonalityMinPeriods {
		return domain.Seasonality{}
	}

	// The dominant lag is the one with the strongest positive
	// correlation: a seasonal pattern repeats at its period, it does not
	// anti-correlate with it. Lag 6 of a 12-month cycle has a larger
	// |corr| than lag 12 but is the half-period mirror, not the season.
	bestLag, bestCorr := 0, 0.0
	for lag := 1; lag <= seasonalityMaxLag; lag++ {
		corr := stats.LagCorrelation(values, lag)
		if corr > bestCorr {
			bestLag, bestCorr = lag, corr
		}
	}

	if bestCorr <= seasonalityThreshold {
		return domain.Seasonality{}
	}
	return domain.Seasonality{Seasonal: true, Lag: &bestLag, Strength: bestCorr}
}

// intervals derives confidence bounds from one-step-ahead residuals of a
// trailing moving-average baseline over history. With no residuals
// available the band degrades to +/-20% of each estimate. Lower bounds
// are floored at zero.
func intervals(values, estimates []float64, confidenceLevel float64) (lower, upper []float64) {
	lower = make([]float64, len(estimates))
	upper = make([]float64, len(estimates))

	var residuals []float64
	for i := movingAverageWindow; i < len(values); i++ {
		baseline := stats.Mean(values[i-movingAverageWindow : i])
		residuals = append(residuals, values[i]-baseline)
	}

	if len(residuals) == 0 {
		for i, e := range estimates {
			lower[i] = math.Max(0, e*(1-fallbackBandShare))
			upper[i] = e * (1 + fallbackBandShare)
		}
		return lower, upper
	}

	margin := zScore(confidenceLevel) * stats.SampleStdDev(residuals)
	for i, e := range estimates {
		lower[i] = math.Max(0, e-margin)
		upper[i] = e + margin
	}
	return lower, upper
}

func zScore(confidenceLevel float64) float64 {
	switch confidenceLevel {
	case 0.95:
		return 1.96
	case 0.99:
		return 2.58
	default:
		return 1.64
	}
}
