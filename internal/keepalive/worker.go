// Package keepalive implements C5: a fixed-interval sweep of active
// sessions that refreshes TTLs and issues protocol-level keep-alives before
// they expire out of the session store (§4.5).
package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/sujalsin/enterprisebridge/internal/mailpool"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
)

const tokenExpiringSoonWindow = 60 * time.Second

// Worker runs the keep-alive sweep on a fixed ticker.
type Worker struct {
	store    sessionstore.Store
	imapPool *mailpool.IMAPPool
	smtpPool *mailpool.SMTPPool
	interval time.Duration
	log      zerolog.Logger
}

// NewWorker builds a Worker. interval <= 0 falls back to the default of
// 25s.
func NewWorker(store sessionstore.Store, imapPool *mailpool.IMAPPool, smtpPool *mailpool.SMTPPool, interval time.Duration, log zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = 25 * time.Second
	}
	return &Worker{store: store, imapPool: imapPool, smtpPool: smtpPool, interval: interval, log: log}
}

// Run blocks ticking every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.log.Warn().Err(err).Msg("keepalive_tick_had_errors")
			}
		}
	}
}

// Tick runs one sweep over both protocols. Exported so tests don't need to
// wait out a real ticker. Scan failures
// from each protocol are independent (one store partition being unreachable
// must not hide the other's), so they are collected with go-multierror
// rather than the first one short-circuiting the sweep.
func (w *Worker) Tick(ctx context.Context) error {
	var total, success, failed int
	var errs *multierror.Error
	for _, proto := range []models.Protocol{models.ProtocolIMAP, models.ProtocolSMTP} {
		t, s, f, err := w.sweepProtocol(ctx, proto)
		total += t
		success += s
		failed += f
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	w.log.Info().Int("total", total).Int("success", success).Int("failed", failed).Msg("keepalive_tick")
	return errs.ErrorOrNil()
}

func (w *Worker) sweepProtocol(ctx context.Context, proto models.Protocol) (total, success, failed int, err error) {
	it, scanErr := w.store.ScanActive(ctx, proto)
	if scanErr != nil {
		w.log.Warn().Err(scanErr).Str("protocol", string(proto)).Msg("keepalive_scan_failed")
		return 0, 0, 0, fmt.Errorf("%s: %w", proto, scanErr)
	}

	staleAfter := time.Duration(0)
	for {
		rec, ok, iterErr := it.Next(ctx)
		if iterErr != nil {
			w.log.Warn().Err(iterErr).Str("protocol", string(proto)).Msg("keepalive_scan_iteration_failed")
			return total, success, failed, fmt.Errorf("%s: %w", proto, iterErr)
		}
		if !ok {
			break
		}

		ttl := time.Duration(rec.TTLSeconds) * time.Second
		staleAfter = ttl - 2*w.interval
		lastRefreshed := time.UnixMilli(rec.LastRefreshedMS)
		if time.Since(lastRefreshed) < staleAfter {
			continue
		}

		total++
		if w.refreshOne(ctx, proto, rec) {
			success++
		} else {
			failed++
		}
	}
	return total, success, failed, nil
}

// refreshOne implements §4.5 step 2: probe the pool, touch the store on
// anything other than a failed probe, and flag OAuth tokens nearing
// expiry.
func (w *Worker) refreshOne(ctx context.Context, proto models.Protocol, rec models.SessionRecord) bool {
	result := w.probe(ctx, proto, rec.InboxIDHash)

	if result.IsOAuth && !result.TokenExpiresAt.IsZero() {
		if time.Until(result.TokenExpiresAt) < tokenExpiringSoonWindow {
			w.log.Warn().Str("protocol", string(proto)).Str("inbox_hash", rec.InboxIDHash).Msg("token_expiring_soon")
			if err := w.store.MarkRefreshing(ctx, proto, rec.InboxIDHash); err != nil {
				w.log.Warn().Err(err).Str("protocol", string(proto)).Msg("keepalive_mark_refreshing_failed")
			}
		}
	}

	if result.Outcome == mailpool.ProbeFailed {
		w.log.Warn().Str("protocol", string(proto)).Str("inbox_hash", rec.InboxIDHash).Msg("keepalive_probe_failed")
		return false
	}

	ttl := time.Duration(rec.TTLSeconds) * time.Second
	if err := w.store.Touch(ctx, proto, rec.InboxIDHash, ttl); err != nil {
		w.log.Warn().Err(err).Str("protocol", string(proto)).Str("inbox_hash", rec.InboxIDHash).Msg("keepalive_touch_failed")
		return false
	}
	return true
}

func (w *Worker) probe(ctx context.Context, proto models.Protocol, hash string) mailpool.ProbeResult {
	switch proto {
	case models.ProtocolIMAP:
		return w.imapPool.ProbeByHash(ctx, hash)
	case models.ProtocolSMTP:
		return w.smtpPool.ProbeByHash(ctx, hash)
	default:
		return mailpool.ProbeResult{Outcome: mailpool.ProbeNoHandle}
	}
}
