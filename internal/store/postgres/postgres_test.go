package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoronkov/ledgerlens/internal/domain"
)

func TestRowRoundTrip(t *testing.T) {
	clusterID := 3
	orig := domain.Transaction{
		ID:                 "id-1",
		Date:               time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		BookedAt:           time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
		Category:           "Groceries",
		Counterpart:        "Tesco",
		Comment:            "weekly shop",
		Outflow:            42.50,
		SourceAccount:      "Current",
		DestinationAccount: "Tesco Ltd",
		CanonicalHash:      "abc123",
		Embedding:          []float64{0.1, -0.2, 0.3},
		ClusterID:          &clusterID,
		IsAnomaly:          true,
		AnomalyReason:      "above category average",
		CreatedAt:          time.Date(2024, 1, 15, 9, 31, 0, 0, time.UTC),
	}

	r := fromDomain(&orig)
	got := r.toDomain()
	assert.Equal(t, orig, got)
}

func TestRowRoundTripWithoutOptionalFields(t *testing.T) {
	orig := domain.Transaction{
		ID:            "id-2",
		Date:          time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		BookedAt:      time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Category:      "Salary",
		Counterpart:   "Acme",
		Inflow:        3200,
		CanonicalHash: "def456",
	}

	r := fromDomain(&orig)
	got := r.toDomain()
	assert.Nil(t, got.ClusterID)
	assert.Empty(t, got.Embedding)
	assert.Equal(t, orig.CanonicalHash, got.CanonicalHash)
}

// Deduplication under concurrent ingestion rests on the unique index
// plus the insert's conflict clause; pin both so a refactor cannot
// silently drop them.
func TestSchemaBacksDeduplication(t *testing.T) {
	require.Contains(t, Schema, "CREATE UNIQUE INDEX IF NOT EXISTS transactions_canonical_hash_key")
	require.Contains(t, Schema, "ON transactions (canonical_hash)")
}

func TestInsertSkipsConflictingHashes(t *testing.T) {
	q := `INSERT INTO transactions ` + insertColumns + ` ON CONFLICT (canonical_hash) DO NOTHING`
	assert.True(t, strings.HasSuffix(q, "ON CONFLICT (canonical_hash) DO NOTHING"))
	assert.Contains(t, insertColumns, ":canonical_hash")
}
