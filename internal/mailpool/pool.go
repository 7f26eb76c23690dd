// Package mailpool implements C3 (IMAP Connection Pool) and C4 (SMTP
// Connection Pool): per-inbox-id exclusive live protocol handles, built on
// demand via C1 and kept warm across checkouts until idle health probes or
// explicit failure retire them. Each inbox id gets at most one live handle
// per protocol, held under its own mutex, rather than a shared worker pool.
package mailpool

import (
	"context"
	"fmt"
	"time"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
)

// Outcome is reported by the caller at Checkin time so the pool knows
// whether the handle it lent out is still good.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFailed
)

const (
	defaultIdleProbeThreshold = 60 * time.Second
	defaultIMAPOpTimeout      = 15 * time.Second
	defaultSMTPOpTimeout      = 30 * time.Second
	defaultDialTimeout        = 10 * time.Second
)

// ProbeOutcome is the result of the keep-alive worker (C5) asking a pool to
// probe whatever live handle it holds for a given inbox id hash.
type ProbeOutcome int

const (
	// ProbeNoHandle means this pool instance holds no live handle for the
	// hash (e.g. owned by a different instance, or never built). The caller
	// should still refresh the session record's TTL.
	ProbeNoHandle ProbeOutcome = iota
	// ProbeHealthy means a live handle existed and answered NOOP.
	ProbeHealthy
	// ProbeFailed means a live handle existed but failed NOOP; it has been
	// closed and dropped. The caller must not refresh the TTL this tick.
	ProbeFailed
)

// ProbeResult additionally reports OAuth token freshness when known, so C5
// can emit token_expiring_soon without a separate credential lookup.
type ProbeResult struct {
	Outcome        ProbeOutcome
	IsOAuth        bool
	TokenExpiresAt time.Time
}

// runWithDeadline runs fn to completion or until ctx is done, whichever
// comes first. If the deadline breaches first, abort closes the handle that
// was mid-command (§5: "Cancellation during a protocol command MUST close
// the handle, not leave it in a half-spoken tagged state") and the call
// returns coreerrors.ErrDeadlineExceeded. fn must be safe to let run to
// completion in the background after a timeout (its result is discarded).
func runWithDeadline(ctx context.Context, abort func(), fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		abort()
		return fmt.Errorf("%w: %v", coreerrors.ErrDeadlineExceeded, ctx.Err())
	}
}
