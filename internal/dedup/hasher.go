// Package dedup computes canonical transaction hashes and filters
// incoming batches against hashes the store has already seen.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvoronkov/ledgerlens/internal/domain"
)

// LookupChunkSize bounds one store hash-lookup call. The store contract
// guarantees chunks of 500 complete without timing out.
const LookupChunkSize = 500

const hashDelimiter = "|"

// HashLookup resolves which of the given hashes already exist in the
// store. Receives at most LookupChunkSize hashes per call.
type HashLookup interface {
	LookupHashes(ctx context.Context, hashes []string) ([]string, error)
}

// Hash returns the canonical fingerprint of a transaction's identity
// fields: date as YYYY-MM-DD, trimmed category, counterpart and comment,
// and both amounts fixed to two decimals, joined with "|", then SHA-256.
// Records that agree on these fields are duplicates regardless of any
// other field.
func Hash(t *domain.Transaction) string {
	parts := []string{
		t.Date.Format("2006-01-02"),
		strings.TrimSpace(t.Category),
		strings.TrimSpace(t.Counterpart),
		strings.TrimSpace(t.Comment),
		decimal.NewFromFloat(t.Outflow).StringFixed(2),
		decimal.NewFromFloat(t.Inflow).StringFixed(2),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, hashDelimiter)))
	return hex.EncodeToString(sum[:])
}

// ParseDate accepts the two calendar renderings seen in source exports,
// DD.MM.YYYY and YYYY-MM-DD, and normalizes to a single date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"02.01.2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("dedup: unrecognized date %q", s)
}

// FilterNew removes from batch every transaction whose canonical hash is
// already present in the store, then drops intra-batch duplicates keeping
// the last occurrence. Hashes are stamped onto the returned records. Pure
// apart from the store read: a lookup error on any chunk aborts the whole
// operation with no partial state.
func FilterNew(ctx context.Context, batch []domain.Transaction, lookup HashLookup) ([]domain.Transaction, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(batch))
	for i := range batch {
		batch[i].CanonicalHash = Hash(&batch[i])
		hashes[i] = batch[i].CanonicalHash
	}

	existing := make(map[string]struct{})
	for start := 0; start < len(hashes); start += LookupChunkSize {
		end := start + LookupChunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		found, err := lookup.LookupHashes(ctx, hashes[start:end])
		if err != nil {
			return nil, fmt.Errorf("dedup: hash lookup chunk %d: %w", start/LookupChunkSize, err)
		}
		for _, h := range found {
			existing[h] = struct{}{}
		}
	}

	fresh := make([]domain.Transaction, 0, len(batch))
	for _, t := range batch {
		if _, seen := existing[t.CanonicalHash]; !seen {
			fresh = append(fresh, t)
		}
	}

	// Second pass catches duplicates inside the batch itself; the last
	// occurrence wins.
	lastIdx := make(map[string]int, len(fresh))
	for i, t := range fresh {
		lastIdx[t.CanonicalHash] = i
	}
	out := make([]domain.Transaction, 0, len(lastIdx))
	for i, t := range fresh {
		if lastIdx[t.CanonicalHash] == i {
			out = append(out, t)
		}
	}
	return out, nil
}
