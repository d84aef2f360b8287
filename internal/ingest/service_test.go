package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoronkov/ledgerlens/internal/embedding"
	"github.com/dvoronkov/ledgerlens/internal/jobs"
	"github.com/dvoronkov/ledgerlens/internal/store/memory"
)

type stubGateway struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGateway) Embed(_ context.Context, text string) ([]float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return []float64{float64(len(text)), 1.0}, nil
}

type stubPublisher struct {
	mu        sync.Mutex
	published []*jobs.ClusterPassJob
	err       error
}

func (p *stubPublisher) PublishClusterPass(_ context.Context, job *jobs.ClusterPassJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, job)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func sampleRecords() []RawRecord {
	return []RawRecord{
		{Date: "15.01.2024", Category: "Groceries", Counterpart: "Tesco", Outflow: 42.50},
		{Date: "2024-01-16", Category: "Transport", Counterpart: "TfL", Comment: "monthly pass", Outflow: 160.00},
		{Date: "17.01.2024", Category: "Salary", Counterpart: "Acme Corp", Inflow: 3200.00},
	}
}

func TestIngestInsertsAndSchedulesClustering(t *testing.T) {
	st := memory.New()
	gw := &stubGateway{}
	pub := &stubPublisher{}
	svc := New(st, gw, pub, nil, 0, zerolog.Nop())

	res, err := svc.Ingest(context.Background(), sampleRecords(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, st.Len())
	assert.Equal(t, 3, gw.calls)
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, "ingest", pub.published[0].TriggeredBy)
}

func TestIngestIsIdempotent(t *testing.T) {
	st := memory.New()
	svc := New(st, &stubGateway{}, nil, nil, 0, zerolog.Nop())

	first, err := svc.Ingest(context.Background(), sampleRecords(), Options{})
	require.NoError(t, err)
	require.Equal(t, 3, first.Inserted)

	second, err := svc.Ingest(context.Background(), sampleRecords(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, "no new transactions", second.Message)
	assert.Equal(t, 3, st.Len())
}

func TestIngestKeepsLastIntraBatchDuplicate(t *testing.T) {
	st := memory.New()
	svc := New(st, &stubGateway{}, nil, nil, 0, zerolog.Nop())

	records := sampleRecords()
	records = append(records, records[0]) // same canonical content twice

	res, err := svc.Ingest(context.Background(), records, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, st.Len())
}

func TestIngestSkipEmbedding(t *testing.T) {
	st := memory.New()
	gw := &stubGateway{}
	svc := New(st, gw, nil, nil, 0, zerolog.Nop())

	res, err := svc.Ingest(context.Background(), sampleRecords(), Options{SkipEmbedding: true})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Zero(t, gw.calls)

	unclustered, err := st.Unclustered(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unclustered, "records without vectors must stay invisible to the clusterer")
}

func TestIngestExcludesDebtAccounts(t *testing.T) {
	st := memory.New()
	svc := New(st, &stubGateway{}, nil, []string{"Credit Card"}, 0, zerolog.Nop())

	records := sampleRecords()
	records = append(records, RawRecord{
		Date: "18.01.2024", Category: "Repayment", Counterpart: "Bank",
		Outflow: 500, DestinationAccount: "credit card",
	})

	res, err := svc.Ingest(context.Background(), records, Options{ExcludeDebtAccounts: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)

	// Without the flag the same record goes through.
	res, err = svc.Ingest(context.Background(), records, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngestEmbeddingFailureAbortsBatch(t *testing.T) {
	st := memory.New()
	gw := &stubGateway{err: errors.New("gateway down")}
	pub := &stubPublisher{}
	svc := New(st, gw, pub, nil, 0, zerolog.Nop())

	_, err := svc.Ingest(context.Background(), sampleRecords(), Options{})
	require.Error(t, err)

	assert.Zero(t, st.Len())
	assert.Zero(t, pub.count(), "no clustering pass after a failed batch")
}

func TestIngestValidation(t *testing.T) {
	svc := New(memory.New(), &stubGateway{}, nil, nil, 0, zerolog.Nop())

	_, err := svc.Ingest(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	_, err = svc.Ingest(context.Background(), []RawRecord{
		{Date: "not-a-date", Category: "X", Outflow: 1},
	}, Options{})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	_, err = svc.Ingest(context.Background(), []RawRecord{
		{Date: "15.01.2024", Category: "X", Outflow: -5},
	}, Options{})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	_, err = svc.Ingest(context.Background(), []RawRecord{
		{Date: "15.01.2024", BookedAt: "yesterday", Category: "X", Outflow: 5},
	}, Options{})
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

// concurrencyGateway tracks the highest number of overlapping Embed
// calls it has seen.
type concurrencyGateway struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (g *concurrencyGateway) Embed(_ context.Context, _ string) ([]float64, error) {
	g.mu.Lock()
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return []float64{1}, nil
}

func TestIngestWorkerCountConfigurable(t *testing.T) {
	svc := New(memory.New(), &stubGateway{}, nil, nil, 2, zerolog.Nop())
	assert.Equal(t, 2, svc.workers)

	svc = New(memory.New(), &stubGateway{}, nil, nil, 0, zerolog.Nop())
	assert.Equal(t, embedding.DefaultWorkers, svc.workers)
}

func TestIngestSingleWorkerSerializesEmbedding(t *testing.T) {
	gw := &concurrencyGateway{}
	svc := New(memory.New(), gw, nil, nil, 1, zerolog.Nop())

	records := make([]RawRecord, 0, 8)
	for i := 0; i < 8; i++ {
		records = append(records, RawRecord{
			Date: fmt.Sprintf("%02d.01.2024", i+1), Category: "Groceries",
			Counterpart: "Tesco", Outflow: 10 + float64(i),
		})
	}

	res, err := svc.Ingest(context.Background(), records, Options{})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Inserted)
	assert.Equal(t, 1, gw.maxSeen, "one worker must not overlap gateway calls")
}

func TestIngestPublisherFailureDoesNotFailBatch(t *testing.T) {
	st := memory.New()
	pub := &stubPublisher{err: errors.New("queue full")}
	svc := New(st, &stubGateway{}, pub, nil, 0, zerolog.Nop())

	res, err := svc.Ingest(context.Background(), sampleRecords(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
}
