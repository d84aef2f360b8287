package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoronkov/ledgerlens/internal/dedup"
	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/ingest"
	"github.com/dvoronkov/ledgerlens/internal/jobs"
	"github.com/dvoronkov/ledgerlens/internal/jobs/inmemory"
	"github.com/dvoronkov/ledgerlens/internal/store/memory"
)

type fixedGateway struct{}

func (fixedGateway) Embed(context.Context, string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func newTestRouter(t *testing.T, st *memory.Store) *chi.Mux {
	t.Helper()
	log := zerolog.Nop()

	svc := ingest.New(st, fixedGateway{}, nil, nil, 0, log)
	tx := NewTransactionsHandler(svc, log)
	an := NewAnalyticsHandler(st, 5*time.Minute, log)
	jb := NewJobsHandler(inmemory.NewStore(), log)

	r := chi.NewRouter()
	r.Post("/api/transactions/ingest", tx.Ingest)
	r.Post("/api/analytics/anomalies/detect", an.DetectAnomalies)
	r.Get("/api/analytics/habits", an.DetectHabits)
	r.Get("/api/analytics/forecast", an.Forecast)
	r.Get("/api/jobs", jb.ListJobs)
	r.Get("/api/jobs/{jobID}", jb.GetJob)
	r.Get("/healthz", Health)
	return r
}

func seed(t *testing.T, st *memory.Store, txs []domain.Transaction) {
	t.Helper()
	for i := range txs {
		if txs[i].ID == "" {
			txs[i].ID = uuid.New().String()
		}
		if txs[i].CanonicalHash == "" {
			txs[i].CanonicalHash = dedup.Hash(&txs[i])
		}
	}
	require.NoError(t, st.Insert(context.Background(), txs))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIngestEndpoint(t *testing.T) {
	st := memory.New()
	router := newTestRouter(t, st)

	body := `{"transactions":[
		{"date":"15.01.2024","category":"Groceries","counterpart":"Tesco","outflow":42.5},
		{"date":"2024-01-16","category":"Salary","counterpart":"Acme","inflow":3200}
	]}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transactions/ingest", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Inserted)

	// Same batch again: everything is a duplicate.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transactions/ingest", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, "no new transactions", res.Message)
}

func TestIngestEndpointRejectsBadInput(t *testing.T) {
	router := newTestRouter(t, memory.New())

	for name, body := range map[string]string{
		"malformed json": `{"transactions":`,
		"empty batch":    `{"transactions":[]}`,
		"bad date":       `{"transactions":[{"date":"Jan 15","category":"X","outflow":1}]}`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transactions/ingest", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestDetectAnomaliesEndpoint(t *testing.T) {
	st := memory.New()
	router := newTestRouter(t, st)

	var txs []domain.Transaction
	for i := 0; i < 12; i++ {
		txs = append(txs, domain.Transaction{
			Date: day(2024, time.January, 1+i), Category: "Groceries",
			Counterpart: "Tesco", Outflow: 20 + float64(i)*0.1,
		})
	}
	txs = append(txs, domain.Transaction{
		Date: day(2024, time.January, 20), Category: "Groceries",
		Counterpart: "Harrods", Outflow: 500,
	})
	seed(t, st, txs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analytics/anomalies/detect", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Detected  int                  `json:"detected"`
		Anomalies []domain.Transaction `json:"anomalies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.Detected)
	assert.Equal(t, 500.0, res.Anomalies[0].Outflow)
	assert.True(t, res.Anomalies[0].IsAnomaly)
	assert.NotEmpty(t, res.Anomalies[0].AnomalyReason)
}

func TestDetectHabitsEndpoint(t *testing.T) {
	st := memory.New()
	router := newTestRouter(t, st)

	var txs []domain.Transaction
	for _, d := range []int{3, 10, 17, 24} {
		txs = append(txs, domain.Transaction{
			Date: day(2024, time.March, d), BookedAt: day(2024, time.March, d).Add(18 * time.Hour),
			Category: "Sport", Counterpart: "PureGym", Comment: "membership", Outflow: 9.99,
		})
	}
	seed(t, st, txs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/habits?month=3&year=2024", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Count  int                     `json:"count"`
		Habits map[string]domain.Habit `json:"habits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.Count)
	h, ok := res.Habits["PureGym"]
	require.True(t, ok, "expected a habit keyed by its counterpart name")
	assert.Equal(t, 4, h.Occurrences)
}

func TestDetectHabitsEndpointValidation(t *testing.T) {
	router := newTestRouter(t, memory.New())

	for _, target := range []string{
		"/api/analytics/habits",
		"/api/analytics/habits?month=13&year=2024",
		"/api/analytics/habits?month=0&year=2024",
		"/api/analytics/habits?month=3",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestForecastEndpoint(t *testing.T) {
	st := memory.New()
	router := newTestRouter(t, st)

	var txs []domain.Transaction
	for m := 1; m <= 6; m++ {
		txs = append(txs, domain.Transaction{
			Date: day(2024, time.Month(m), 10), Category: "Groceries",
			Counterpart: "Tesco", Outflow: 100 + float64(m)*10,
		})
	}
	seed(t, st, txs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/forecast?model=linear&periods=2", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res domain.ForecastResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "linear", res.Model)
	assert.Equal(t, "increasing", res.Trend)
	require.Len(t, res.Points, 2)
	assert.Equal(t, "2024-07", res.Points[0].Period)
	assert.InDelta(t, 170, res.Points[0].Estimate, 1e-6)
}

func TestForecastEndpointValidation(t *testing.T) {
	st := memory.New()
	router := newTestRouter(t, st)

	seed(t, st, []domain.Transaction{
		{Date: day(2024, time.January, 10), Category: "Groceries", Outflow: 100},
	})

	cases := map[string]int{
		"/api/analytics/forecast?periods=0":        http.StatusBadRequest,
		"/api/analytics/forecast?periods=25":       http.StatusBadRequest,
		"/api/analytics/forecast?type=weekly":      http.StatusBadRequest,
		"/api/analytics/forecast?confidence=1.5":   http.StatusBadRequest,
		"/api/analytics/forecast?model=neural-net": http.StatusBadRequest,
		"/api/analytics/forecast":                  http.StatusBadRequest, // single period of history
	}
	for target, want := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, want, rec.Code, target)
	}
}

func TestForecastEndpointCachesResponses(t *testing.T) {
	st := memory.New()
	router := newTestRouter(t, st)

	var txs []domain.Transaction
	for m := 1; m <= 4; m++ {
		txs = append(txs, domain.Transaction{
			Date: day(2024, time.Month(m), 5), Category: "Rent", Outflow: 900,
		})
	}
	seed(t, st, txs)

	target := "/api/analytics/forecast?model=moving_average&periods=1"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	firstBody := rec.Body.String()

	// New data does not change the answer while the cache entry lives.
	seed(t, st, []domain.Transaction{
		{Date: day(2024, time.April, 20), Category: "Rent", Outflow: 5000},
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, firstBody, rec.Body.String())
}

func TestJobsEndpoints(t *testing.T) {
	log := zerolog.Nop()
	jobStore := inmemory.NewStore()
	jb := NewJobsHandler(jobStore, log)

	job := &jobs.ClusterPassJob{JobID: "j-1", Status: jobs.JobStatusCompleted, TriggeredBy: "ingest", CreatedAt: time.Now()}
	require.NoError(t, jobStore.SaveJob(context.Background(), job))

	r := chi.NewRouter()
	r.Get("/api/jobs", jb.ListJobs)
	r.Get("/api/jobs/{jobID}", jb.GetJob)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/j-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/jobs?status=%s", jobs.JobStatusCompleted), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Count)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, memory.New())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
