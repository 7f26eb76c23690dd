// Package sessionstore implements C2: a typed wrapper over an external
// Redis-semantics key/value store holding session metadata that survives a
// proxy restart. See §3 and §4.2 of the design for the exact contract.
package sessionstore

import (
	"context"
	"time"

	"github.com/sujalsin/enterprisebridge/internal/models"
)

// Store is the C2 contract. All operations are atomic with respect to a
// single session key. Implementations must never block request handling on
// store unavailability beyond a bounded timeout (§5: store op default 2s).
type Store interface {
	// Get returns the session record for (proto, inboxIDHash), or
	// coreerrors.ErrMissing if none exists.
	Get(ctx context.Context, proto models.Protocol, inboxIDHash string) (models.SessionRecord, error)

	// PutNew creates a new record if and only if one does not already exist,
	// returning coreerrors.ErrAlreadyExists otherwise.
	PutNew(ctx context.Context, rec models.SessionRecord, ttl time.Duration) error

	// Touch resets the key's TTL and bumps last_used_at, returning
	// coreerrors.ErrMissing if the record is gone (already expired/retired).
	Touch(ctx context.Context, proto models.Protocol, inboxIDHash string, ttl time.Duration) error

	// MarkRetired transitions a record to status=retired.
	MarkRetired(ctx context.Context, proto models.Protocol, inboxIDHash string) error

	// MarkRefreshing transitions a record to status=refreshing, used by C5
	// when an OAuth token is about to expire (§4.5 step 4).
	MarkRefreshing(ctx context.Context, proto models.Protocol, inboxIDHash string) error

	// IncrStat atomically increments one stat field. Per §4.2 this never
	// fails a request on its own: implementations log and drop errors
	// rather than returning them.
	IncrStat(ctx context.Context, proto models.Protocol, inboxIDHash string, field models.StatField, delta int64)

	// ScanActive returns a restartable iterator over all non-retired
	// session records for proto. It must tolerate concurrent mutation
	// (duplicates or skipped recently-added entries are acceptable) and
	// must terminate.
	ScanActive(ctx context.Context, proto models.Protocol) (Iterator, error)

	// GlobalStats returns the protocol-wide aggregate counters accumulated
	// alongside every IncrStat call (NEW: backs pool_stats' aggregate mode
	// without requiring a full SCAN).
	GlobalStats(ctx context.Context) (models.Stats, error)
}

// Iterator walks a Store's scan_active results one record at a time.
type Iterator interface {
	// Next advances the iterator. It returns (record, true, nil) while
	// records remain, (zero, false, nil) when exhausted, or a non-nil error
	// if the underlying scan failed.
	Next(ctx context.Context) (models.SessionRecord, bool, error)
}

func sessionKey(proto models.Protocol, inboxIDHash string) string {
	return "session:" + string(proto) + ":" + inboxIDHash
}

const globalStatsKey = "stats:global"
