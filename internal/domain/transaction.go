package domain

import (
	"time"
)

// ClusterNoise is the cluster label assigned to transactions that did not
// fall into any dense group during clustering.
const ClusterNoise = -1

// Transaction is one normalized ledger record. Identity fields are set at
// ingestion time; Embedding, ClusterID and the anomaly fields are attached
// by later independent passes and may be absent.
type Transaction struct {
	ID string `json:"id"`

	Date     time.Time `json:"date"`      // calendar date of the transaction
	BookedAt time.Time `json:"booked_at"` // full local timestamp, used for time-of-day buckets

	Category    string `json:"category"`
	Counterpart string `json:"counterpart"` // payee or income source
	Comment     string `json:"comment"`

	Outflow float64 `json:"outflow"` // >= 0
	Inflow  float64 `json:"inflow"`  // >= 0

	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`

	// CanonicalHash is the dedup fingerprint of the identity fields.
	// Unique within the store.
	CanonicalHash string `json:"canonical_hash"`

	// Embedding is present only if the embedding gateway succeeded for
	// this record.
	Embedding []float64 `json:"embedding,omitempty"`

	// ClusterID is nil until the clustering pass has seen this record;
	// ClusterNoise means the pass saw it and left it unassigned.
	ClusterID *int `json:"cluster_id,omitempty"`

	IsAnomaly     bool   `json:"is_anomaly"`
	AnomalyReason string `json:"anomaly_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingText is the free text sent to the embedding gateway for this
// transaction.
func (t *Transaction) EmbeddingText() string {
	return t.Counterpart + " " + t.Category + " " + t.Comment
}

// ClusterSummary is the derived description of one cluster. Ephemeral:
// recomputed from the current cluster assignment, never stored.
type ClusterSummary struct {
	ClusterID      int      `json:"cluster_id"`
	TransactionIDs []string `json:"transaction_ids"`
	Count          int      `json:"count"`
	AvgOutflow     float64  `json:"avg_outflow"`
	AvgInflow      float64  `json:"avg_inflow"`
	TopCategory    string   `json:"top_category"`
	TopCounterpart string   `json:"top_counterpart"`
}

// Habit is a recurring spend aggregate over one calendar-month slice.
type Habit struct {
	Name        string  `json:"name"`
	Occurrences int     `json:"occurrences"`
	Total       float64 `json:"total"`
	Average     float64 `json:"average"`
	Category    string  `json:"category"`

	// ByTimeOfDay buckets occurrences by the local hour of BookedAt:
	// night <6h, morning <12h, afternoon <18h, evening >=18h.
	ByTimeOfDay map[string]int `json:"by_time_of_day"`

	// ByWeekday counts occurrences per weekday, 0=Sunday .. 6=Saturday.
	ByWeekday [7]int `json:"by_weekday"`

	// Trend is this period's total minus the same group's total over the
	// immediately preceding calendar month.
	Trend float64 `json:"trend"`
}

// SeriesPoint is one monthly bucket of the aggregate income/expense series.
type SeriesPoint struct {
	Period   string  `json:"period"` // YYYY-MM
	Index    int     `json:"index"`  // zero-based chronological index
	Income   float64 `json:"income"`
	Expenses float64 `json:"expenses"`
}

// ForecastPoint is one forecast period with its confidence interval.
type ForecastPoint struct {
	Period   string  `json:"period"`
	Estimate float64 `json:"estimate"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// Accuracy holds backtest error metrics. All fields are nil when history
// is too short to hold out a test split.
type Accuracy struct {
	MAE  *float64 `json:"mae"`
	RMSE *float64 `json:"rmse"`
	MAPE *float64 `json:"mape"`
}

// Seasonality reports the autocorrelation diagnostic of the series.
type Seasonality struct {
	Seasonal bool    `json:"seasonal"`
	Lag      *int    `json:"lag,omitempty"`
	Strength float64 `json:"strength"`
}

// ForecastResult is the full response of one forecast request.
type ForecastResult struct {
	Model       string          `json:"model"`
	Trend       string          `json:"trend"` // increasing, decreasing or stable
	Points      []ForecastPoint `json:"points"`
	Accuracy    Accuracy        `json:"accuracy"`
	Seasonality Seasonality     `json:"seasonality"`

	// History is a trailing window of the observed series, for context.
	History []SeriesPoint `json:"history"`
}
