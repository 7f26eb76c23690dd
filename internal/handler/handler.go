// Package handler implements C7: the binding of the four core-exposed
// operations (§6 — list_messages, send_message, get_message, pool_stats) to
// C1 (internal/creds), C2 (internal/sessionstore), C3/C4
// (internal/mailpool), and C6 (internal/transform). It is a plain Go
// interface, transport-independent — cmd/proxyd is the only place that
// knows about HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/rs/zerolog"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/hashid"
	"github.com/sujalsin/enterprisebridge/internal/mailpool"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
	"github.com/sujalsin/enterprisebridge/internal/transform"
)

// Core is the C7 contract: the four operations §6 exposes to the
// out-of-scope HTTP adapter.
type Core interface {
	ListMessages(ctx context.Context, inboxID string, limit int, cursor string) (ListResult, error)
	SendMessage(ctx context.Context, inboxID string, msg models.OutgoingMessage) (string, error)
	GetMessage(ctx context.Context, inboxID string, messageUID uint32) (models.TransformedMessage, error)
	PoolStats(ctx context.Context, inboxID string) (StatsResult, error)
}

// ListResult is list_messages' output (§6): a page of transformed messages
// plus an opaque cursor for the next page.
type ListResult struct {
	Messages   []models.TransformedMessage
	NextCursor string
}

// StatsResult is pool_stats' output (§6). When inbox_id is empty it reports
// the protocol-wide aggregate (GlobalStats); otherwise it reports the one
// session's persisted counters. LiveIMAP/LiveSMTP are always this instance's
// own in-memory handle counts, since pool_stats makes no promise about other
// instances (§3 shared-resource policy).
type StatsResult struct {
	Hits     int64
	Misses   int64
	LiveIMAP int
	LiveSMTP int
}

// Service is the default Core implementation, wiring C1/C2/C3/C4/C6
// together the way §6 prescribes.
type Service struct {
	imapPool    *mailpool.IMAPPool
	smtpPool    *mailpool.SMTPPool
	store       sessionstore.Store
	transformer *transform.Transformer
	log         zerolog.Logger
}

// NewService constructs C7 over already-built pools, store, and transformer.
func NewService(imapPool *mailpool.IMAPPool, smtpPool *mailpool.SMTPPool, store sessionstore.Store, transformer *transform.Transformer, log zerolog.Logger) *Service {
	return &Service{
		imapPool:    imapPool,
		smtpPool:    smtpPool,
		store:       store,
		transformer: transformer,
		log:         log,
	}
}

var _ Core = (*Service)(nil)

// defaultListLimit caps list_messages when the caller passes limit <= 0.
const defaultListLimit = 50

// ListMessages implements §6 list_messages: checkout -> FETCH recent UIDs ->
// transform each -> checkin. cursor is currently unused beyond being echoed
// back empty; FetchRecent only supports "most recent N" (§4.3), so there is
// no earlier page to resume from yet.
func (s *Service) ListMessages(ctx context.Context, inboxID string, limit int, cursor string) (ListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	raw, err := s.imapPool.FetchRecent(ctx, inboxID, limit)
	if err != nil {
		return ListResult{}, err
	}

	out := make([]models.TransformedMessage, 0, len(raw))
	for _, msg := range raw {
		out = append(out, s.transformer.Transform(msg))
	}

	return ListResult{Messages: out}, nil
}

// SendMessage implements §6 send_message: checkout -> compose+send -> checkin.
func (s *Service) SendMessage(ctx context.Context, inboxID string, msg models.OutgoingMessage) (string, error) {
	return s.smtpPool.Send(ctx, inboxID, msg)
}

// GetMessage implements §6 get_message: a single-message variant of
// ListMessages that issues one UID FETCH for exactly messageUID against the
// selected INBOX. The core carries no persistent message index (§1
// Non-goals), so the message is read from the upstream server each time; it
// need not fall within the most-recent window list_messages returns.
func (s *Service) GetMessage(ctx context.Context, inboxID string, messageUID uint32) (models.TransformedMessage, error) {
	h, err := s.imapPool.Checkout(ctx, inboxID)
	if err != nil {
		return models.TransformedMessage{}, err
	}
	outcome := mailpool.OutcomeOK
	defer func() { s.imapPool.Checkin(h, outcome) }()

	raw, err := fetchByUID(ctx, h, messageUID)
	if err != nil {
		outcome = mailpool.OutcomeFailed
		return models.TransformedMessage{}, err
	}
	if raw == nil {
		return models.TransformedMessage{}, coreerrors.ErrNotFound
	}

	return s.transformer.Transform(raw), nil
}

// PoolStats implements §6 pool_stats. With inboxID empty it reports the
// protocol-wide aggregate; otherwise the one session's persisted counters.
// Live handle counts are always this instance's own (§3).
func (s *Service) PoolStats(ctx context.Context, inboxID string) (StatsResult, error) {
	result := StatsResult{
		LiveIMAP: s.imapPool.LiveHandles(),
		LiveSMTP: s.smtpPool.LiveHandles(),
	}

	if inboxID == "" {
		stats, err := s.store.GlobalStats(ctx)
		if err != nil {
			return StatsResult{}, err
		}
		result.Hits = stats.Hits
		result.Misses = stats.Misses
		return result, nil
	}

	hash := hashid.Hash(inboxID)
	var combinedHits, combinedMisses int64
	for _, proto := range []models.Protocol{models.ProtocolIMAP, models.ProtocolSMTP} {
		rec, err := s.store.Get(ctx, proto, hash)
		if err != nil {
			if errors.Is(err, coreerrors.ErrMissing) {
				continue
			}
			return StatsResult{}, err
		}
		combinedHits += rec.Stats.Hits
		combinedMisses += rec.Stats.Misses
	}
	result.Hits = combinedHits
	result.Misses = combinedMisses
	return result, nil
}

// fetchByUID issues a single UID FETCH BODY.PEEK[] for exactly one message,
// the get_message variant of FetchRecent's "last N" window (§4.3).
func fetchByUID(ctx context.Context, h *mailpool.Handle, uid uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	fetchErr := make(chan error, 1)
	go func() { fetchErr <- h.Client().UidFetch(seqset, items, messages) }()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrDeadlineExceeded, ctx.Err())
	case err := <-fetchErr:
		if err != nil {
			return nil, fmt.Errorf("%w: %v", coreerrors.ErrUpstreamProtocolError, err)
		}
	}

	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 4096)
		for {
			n, readErr := body.Read(tmp)
			if n > 0 {
				buf = append(buf, tmp[:n]...)
			}
			if readErr != nil {
				break
			}
		}
		return buf, nil
	}
	return nil, nil
}
