// Package forecast builds monthly aggregate series from transactions and
// produces point forecasts with accuracy, seasonality and confidence
// diagnostics under a choice of models.
package forecast

import (
	"errors"
	"fmt"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/stats"
)

// Model names accepted by Forecast.
const (
	ModelLinear               = "linear"
	ModelMovingAverage        = "moving_average"
	ModelExponentialSmoothing = "exponential_smoothing"
	ModelARIMA                = "arima"
	ModelProphet              = "prophet"
	ModelEnsemble             = "ensemble"
)

const (
	// MinPeriods is the shortest history a forecast accepts.
	MinPeriods = 3

	// smoothingAlpha is the single-exponential-smoothing factor.
	smoothingAlpha = 0.3

	// movingAverageWindow is the trailing window of the moving-average
	// model and of the residual baseline for confidence intervals.
	movingAverageWindow = 3

	// historyWindow is how many trailing observed points a result carries
	// for context.
	historyWindow = 12
)

var (
	// ErrInsufficientData rejects forecasts over fewer than MinPeriods
	// monthly buckets.
	ErrInsufficientData = errors.New("forecast: insufficient data, need at least 3 periods")

	// ErrUnknownModel rejects unrecognized model names.
	ErrUnknownModel = errors.New("forecast: unknown model")
)

// Request carries the forecast parameters.
type Request struct {
	Model           string
	Periods         int
	Category        string
	Type            SeriesType
	ConfidenceLevel float64
}

// Forecast produces point estimates for the requested future periods plus
// accuracy, seasonality and confidence diagnostics. The series must hold
// at least MinPeriods buckets.
func Forecast(series []domain.SeriesPoint, req Request) (*domain.ForecastResult, error) {
	if len(series) < MinPeriods {
		return nil, ErrInsufficientData
	}
	if req.Periods <= 0 {
		return nil, fmt.Errorf("forecast: periods must be positive, got %d", req.Periods)
	}

	values := Values(series, req.Type)

	estimates, err := pointForecast(values, series, req.Model, req.Periods)
	if err != nil {
		return nil, err
	}

	labels, err := futureLabels(series, req.Periods)
	if err != nil {
		return nil, err
	}

	lower, upper := intervals(values, estimates, req.ConfidenceLevel)

	points := make([]domain.ForecastPoint, req.Periods)
	for i := range points {
		points[i] = domain.ForecastPoint{
			Period:   labels[i],
			Estimate: estimates[i],
			Lower:    lower[i],
			Upper:    upper[i],
		}
	}

	slope, _ := stats.OLS(values)
	result := &domain.ForecastResult{
		Model:       req.Model,
		Trend:       trendDirection(slope),
		Points:      points,
		Accuracy:    accuracy(values, req.Model),
		Seasonality: seasonality(values),
		History:     trailingHistory(series),
	}
	return result, nil
}

// pointForecast dispatches to the model implementations. Every estimate
// is floored at zero.
func pointForecast(values []float64, series []domain.SeriesPoint, model string, periods int) ([]float64, error) {
	var out []float64
	switch model {
	case ModelLinear:
		out = linearForecast(values, periods)
	case ModelMovingAverage:
		out = movingAverageForecast(values, periods)
	case ModelExponentialSmoothing:
		out = exponentialSmoothingForecast(values, periods)
	case ModelARIMA:
		out = arimaForecast(values, periods)
	case ModelProphet:
		out = prophetForecast(values, series, periods)
	case ModelEnsemble:
		out = ensembleForecast(values, series, periods)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	for i, v := range out {
		if v < 0 {
			out[i] = 0
		}
	}
	return out, nil
}

// linearForecast projects an ordinary-least-squares fit forward.
func linearForecast(values []float64, periods int) []float64 {
	slope, intercept := stats.OLS(values)
	out := make([]float64, periods)
	for i := 0; i < periods; i++ {
		out[i] = intercept + slope*float64(len(values)+i)
	}
	return out
}

// movingAverageForecast repeats the mean of the trailing window flat.
func movingAverageForecast(values []float64, periods int) []float64 {
	window := movingAverageWindow
	if len(values) < window {
		window = len(values)
	}
	level := stats.Mean(values[len(values)-window:])
	out := make([]float64, periods)
	for i := range out {
		out[i] = level
	}
	return out
}

// exponentialSmoothingForecast applies single exponential smoothing once
// over the full history and repeats the final smoothed level flat. The
// level is not updated between forecast steps.
func exponentialSmoothingForecast(values []float64, periods int) []float64 {
	level := values[0]
	for _, v := range values[1:] {
		level = smoothingAlpha*v + (1-smoothingAlpha)*level
	}
	out := make([]float64, periods)
	for i := range out {
		out[i] = level
	}
	return out
}

// arimaForecast is a lightweight AR(1) surrogate: the mean first
// difference added successively to the last observation.
func arimaForecast(values []float64, periods int) []float64 {
	if len(values) < 3 {
		return movingAverageForecast(values, periods)
	}
	diffs := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs = append(diffs, values[i]-values[i-1])
	}
	drift := stats.Mean(diffs)
	last := values[len(values)-1]

	out := make([]float64, periods)
	for i := range out {
		last += drift
		out[i] = last
	}
	return out
}

// prophetForecast is a linear trend plus an additive monthly seasonal
// component: the average detrended residual of each calendar month across
// history.
func prophetForecast(values []float64, series []domain.SeriesPoint, periods int) []float64 {
	slope, intercept := stats.OLS(values)

	residualSum := make(map[int]float64)
	residualCount := make(map[int]int)
	for i, v := range values {
		month := monthOf(series[i].Period)
		trend := intercept + slope*float64(i)
		residualSum[month] += v - trend
		residualCount[month]++
	}
	seasonal := func(month int) float64 {
		if residualCount[month] == 0 {
			return 0
		}
		return residualSum[month] / float64(residualCount[month])
	}

	labels, err := futureLabels(series, periods)
	if err != nil {
		return linearForecast(values, periods)
	}
	out := make([]float64, periods)
	for i := 0; i < periods; i++ {
		out[i] = intercept + slope*float64(len(values)+i) + seasonal(monthOf(labels[i]))
	}
	return out
}

// ensembleForecast averages the linear, moving-average, smoothing and
// prophet outputs period by period.
func ensembleForecast(values []float64, series []domain.SeriesPoint, periods int) []float64 {
	parts := [][]float64{
		linearForecast(values, periods),
		movingAverageForecast(values, periods),
		exponentialSmoothingForecast(values, periods),
		prophetForecast(values, series, periods),
	}
	out := make([]float64, periods)
	for i := 0; i < periods; i++ {
		var sum float64
		for _, p := range parts {
			sum += p[i]
		}
		out[i] = sum / float64(len(parts))
	}
	return out
}

func trendDirection(slope float64) string {
	switch {
	case slope > 0:
		return "increasing"
	case slope < 0:
		return "decreasing"
	default:
		return "stable"
	}
}

func trailingHistory(series []domain.SeriesPoint) []domain.SeriesPoint {
	if len(series) <= historyWindow {
		return append([]domain.SeriesPoint(nil), series...)
	}
	return append([]domain.SeriesPoint(nil), series[len(series)-historyWindow:]...)
}
