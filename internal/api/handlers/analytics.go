package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/dvoronkov/ledgerlens/internal/anomaly"
	"github.com/dvoronkov/ledgerlens/internal/api/middleware"
	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/forecast"
	"github.com/dvoronkov/ledgerlens/internal/habit"
	"github.com/dvoronkov/ledgerlens/internal/store"
)

// AnalyticsHandler handles anomaly, habit and forecast endpoints.
type AnalyticsHandler struct {
	store         store.Store
	habits        *habit.Detector
	forecastCache *gocache.Cache
	log           zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler. forecastTTL
// bounds how long forecast responses are served from cache.
func NewAnalyticsHandler(st store.Store, forecastTTL time.Duration, log zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		store:         st,
		habits:        habit.NewDetector(habit.DefaultTolerance()),
		forecastCache: gocache.New(forecastTTL, 2*forecastTTL),
		log:           log,
	}
}

// DetectAnomalies handles POST /api/analytics/anomalies/detect
func (h *AnalyticsHandler) DetectAnomalies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txs, err := h.store.Query(ctx, store.Filter{Category: req.Category, OutflowOnly: true})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	flagged := anomaly.Detect(txs)
	if len(flagged) > 0 {
		if err := h.store.Upsert(ctx, flagged); err != nil {
			h.log.Error().Err(err).Msg("Failed to persist anomaly flags")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to persist anomaly flags")
			return
		}
	}

	if flagged == nil {
		flagged = []domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"detected":  len(flagged),
		"anomalies": flagged,
	})
}

// DetectHabits handles GET /api/analytics/habits?month=&year=
func (h *AnalyticsHandler) DetectHabits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		middleware.WriteError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1970 {
		middleware.WriteError(w, http.StatusBadRequest, "year is required")
		return
	}

	monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	current, err := h.store.Query(ctx, store.Filter{
		From: monthStart, To: monthStart.AddDate(0, 1, 0), OutflowOnly: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}
	previous, err := h.store.Query(ctx, store.Filter{
		From: monthStart.AddDate(0, -1, 0), To: monthStart, OutflowOnly: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	habits := h.habits.Detect(current, previous)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"month":  month,
		"year":   year,
		"count":  len(habits),
		"habits": habits,
	})
}

// Forecast handles GET /api/analytics/forecast
func (h *AnalyticsHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := forecast.Request{
		Model:           forecast.ModelLinear,
		Periods:         3,
		Category:        q.Get("category"),
		Type:            forecast.SeriesExpenses,
		ConfidenceLevel: 0.95,
	}
	if m := q.Get("model"); m != "" {
		req.Model = m
	}
	if p := q.Get("periods"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 24 {
			middleware.WriteError(w, http.StatusBadRequest, "periods must be between 1 and 24")
			return
		}
		req.Periods = n
	}
	if ty := q.Get("type"); ty != "" {
		st := forecast.SeriesType(ty)
		if st != forecast.SeriesIncome && st != forecast.SeriesExpenses {
			middleware.WriteError(w, http.StatusBadRequest, "type must be income or expenses")
			return
		}
		req.Type = st
	}
	if c := q.Get("confidence"); c != "" {
		level, err := strconv.ParseFloat(c, 64)
		if err != nil || level <= 0 || level >= 1 {
			middleware.WriteError(w, http.StatusBadRequest, "confidence must be in (0, 1)")
			return
		}
		req.ConfidenceLevel = level
	}

	key := fmt.Sprintf("%s|%d|%s|%s|%.2f", req.Model, req.Periods, req.Category, req.Type, req.ConfidenceLevel)
	if cached, ok := h.forecastCache.Get(key); ok {
		middleware.WriteJSON(w, http.StatusOK, cached)
		return
	}

	txs, err := h.store.Query(ctx, store.Filter{Category: req.Category})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	series := forecast.BuildSeries(txs, req.Category)
	result, err := forecast.Forecast(series, req)
	if err != nil {
		if errors.Is(err, forecast.ErrInsufficientData) || errors.Is(err, forecast.ErrUnknownModel) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to compute forecast")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute forecast")
		return
	}

	h.forecastCache.Set(key, result, gocache.DefaultExpiration)
	middleware.WriteJSON(w, http.StatusOK, result)
}
