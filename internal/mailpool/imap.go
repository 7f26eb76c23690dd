package mailpool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/creds"
	"github.com/sujalsin/enterprisebridge/internal/hashid"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
)

// imapHandle is the live in-memory handle described in §3 ("Live Handle
// (in-memory only, C3/C4)"): {protocol_client, inbox_id, created_at,
// last_used_at, in_use_flag, healthy_flag}. in_use_flag is implicit in
// whether imapSlot.mu is held.
type imapHandle struct {
	client     *imapclient.Client
	inboxID    string
	createdAt  time.Time
	lastUsedAt time.Time
}

// imapSlot serializes every checkout for one inbox id. Holding mu IS
// "in_use"; releasing it returns the handle to the idle pool.
type imapSlot struct {
	mu     sync.Mutex
	handle *imapHandle // nil until first successful build
}

// IMAPPool is C3.
type IMAPPool struct {
	mu    sync.Mutex // guards slots + lru, never held across I/O
	slots map[string]*imapSlot
	lru   *lru

	resolver      creds.Resolver
	store         sessionstore.Store
	log           zerolog.Logger
	sessionTTL    time.Duration
	maxHandles    int
	idleThreshold time.Duration
	opTimeout     time.Duration
	dialTimeout   time.Duration
	plainDial     bool // non-TLS connections; test servers only
}

// IMAPOption configures an IMAPPool at construction time.
type IMAPOption func(*IMAPPool)

// WithPlainDialIMAP disables TLS for the upstream connection. It exists for
// tests against in-memory IMAP servers and must never be used in production.
func WithPlainDialIMAP() IMAPOption {
	return func(p *IMAPPool) { p.plainDial = true }
}

// NewIMAPPool constructs an empty pool. maxHandles <= 0 falls back to the
// spec default of 512 (§5).
func NewIMAPPool(resolver creds.Resolver, store sessionstore.Store, sessionTTL time.Duration, maxHandles int, log zerolog.Logger, opts ...IMAPOption) *IMAPPool {
	if maxHandles <= 0 {
		maxHandles = 512
	}
	p := &IMAPPool{
		slots:         make(map[string]*imapSlot),
		lru:           newLRU(),
		resolver:      resolver,
		store:         store,
		log:           log,
		sessionTTL:    sessionTTL,
		maxHandles:    maxHandles,
		idleThreshold: defaultIdleProbeThreshold,
		opTimeout:     defaultIMAPOpTimeout,
		dialTimeout:   defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle is a live protocol handle checked out from a pool, exclusively
// owned by the caller between Checkout and the matching Checkin.
type Handle struct {
	InboxID     string
	inboxIDHash string
	client      *imapclient.Client
	slot        *imapSlot
}

// Client exposes the underlying IMAP client for the duration of the
// checkout. Callers must not retain it past Checkin.
func (h *Handle) Client() *imapclient.Client { return h.client }

// Checkout acquires the single handle for inboxID, blocking concurrent
// callers for the same id (§4.3 "Per-id exclusivity"). It builds the handle
// on first use and health-probes idle handles before returning them.
func (p *IMAPPool) Checkout(ctx context.Context, inboxID string) (*Handle, error) {
	slot := p.slotFor(inboxID)
	slot.mu.Lock()

	hash := hashid.Hash(inboxID)
	hit, err := p.ensureHealthy(ctx, inboxID, hash, slot)
	if err != nil {
		slot.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.lru.touch(inboxID)
	p.mu.Unlock()

	if !hit {
		now := time.Now().UnixMilli()
		rec := models.SessionRecord{InboxIDHash: hash, Protocol: models.ProtocolIMAP, CreatedAtMS: now, LastUsedAtMS: now,
			LastRefreshedMS: now, TTLSeconds: int64(p.sessionTTL / time.Second), Status: models.StatusActive}
		if err := p.store.PutNew(ctx, rec, p.sessionTTL); err != nil && !errors.Is(err, coreerrors.ErrAlreadyExists) {
			p.log.Warn().Err(err).Str("protocol", "imap").Msg("session_create_failed_on_checkout")
		}
	}
	if hit {
		p.store.IncrStat(ctx, models.ProtocolIMAP, hash, models.StatHits, 1)
	} else {
		p.store.IncrStat(ctx, models.ProtocolIMAP, hash, models.StatMisses, 1)
	}
	if err := p.store.Touch(ctx, models.ProtocolIMAP, hash, p.sessionTTL); err != nil {
		p.log.Warn().Err(err).Str("protocol", "imap").Msg("session_touch_failed_on_checkout")
	}

	return &Handle{InboxID: inboxID, inboxIDHash: hash, client: slot.handle.client, slot: slot}, nil
}

// ProbeByHash is C5's entry point into C3: find the slot (if any) this
// instance holds for inboxIDHash, issue NOOP against its live handle, and
// report whether the corresponding credential's OAuth token is about to
// expire. It never builds a new handle.
func (p *IMAPPool) ProbeByHash(ctx context.Context, inboxIDHash string) ProbeResult {
	slot, inboxID := p.findSlotByHash(inboxIDHash)
	if slot == nil {
		return ProbeResult{Outcome: ProbeNoHandle}
	}

	result := ProbeResult{Outcome: ProbeNoHandle}
	if cred, err := p.resolver.Resolve(inboxID); err == nil && cred.AuthKind == models.AuthOAuthBearer {
		result.IsOAuth = true
		result.TokenExpiresAt = cred.TokenExpiresAt
	}

	if !slot.mu.TryLock() {
		// in use by a concurrent checkout; skip probing this tick rather
		// than blocking the sweep on one slow inbox.
		return result
	}
	defer slot.mu.Unlock()

	if slot.handle == nil {
		return result
	}

	err := runWithDeadline(ctx, func() { _ = slot.handle.client.Logout() }, func() error {
		return slot.handle.client.Noop()
	})
	if err != nil {
		p.log.Info().Str("protocol", "imap").Msg("keepalive_probe_failed_closing_handle")
		p.closeAndClearLocked(slot)
		result.Outcome = ProbeFailed
		return result
	}

	slot.handle.lastUsedAt = time.Now()
	result.Outcome = ProbeHealthy
	return result
}

func (p *IMAPPool) findSlotByHash(inboxIDHash string) (*imapSlot, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, slot := range p.slots {
		if hashid.Hash(id) == inboxIDHash {
			return slot, id
		}
	}
	return nil, ""
}

// Checkin returns a handle previously obtained from Checkout. outcome =
// OutcomeFailed closes and drops the handle so the next checkout rebuilds.
func (p *IMAPPool) Checkin(h *Handle, outcome Outcome) {
	if h == nil {
		return
	}
	if outcome == OutcomeFailed {
		p.closeAndClearLocked(h.slot)
	} else if h.slot.handle != nil {
		h.slot.handle.lastUsedAt = time.Now()
	}
	h.slot.mu.Unlock()
}

// FetchRecent is the §4.3 convenience wrapper: checkout, UID SEARCH ALL,
// take the last n, UID FETCH BODY.PEEK[], checkin.
func (p *IMAPPool) FetchRecent(ctx context.Context, inboxID string, n int) ([][]byte, error) {
	h, err := p.Checkout(ctx, inboxID)
	if err != nil {
		return nil, err
	}
	outcome := OutcomeOK
	defer func() { p.Checkin(h, outcome) }()

	var uids []uint32
	err = runWithDeadline(ctx, func() { _ = h.client.Logout() }, func() error {
		criteria := imap.NewSearchCriteria()
		found, searchErr := h.client.UidSearch(criteria)
		uids = found
		return searchErr
	})
	if err != nil {
		outcome = OutcomeFailed
		return nil, wrapUpstreamErr(err)
	}

	if len(uids) > n {
		uids = uids[len(uids)-n:]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	err = runWithDeadline(ctx, func() { _ = h.client.Logout() }, func() error {
		return h.client.UidFetch(seqset, items, messages)
	})
	if err != nil {
		outcome = OutcomeFailed
		return nil, wrapUpstreamErr(err)
	}

	var raw [][]byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 4096)
		for {
			nRead, readErr := body.Read(tmp)
			if nRead > 0 {
				buf = append(buf, tmp[:nRead]...)
			}
			if readErr != nil {
				break
			}
		}
		raw = append(raw, buf)
	}
	return raw, nil
}

// ensureHealthy returns true if slot.handle was already open and healthy
// (a hit), false if it had to be built fresh (a miss). It never returns with
// slot.handle left in an unusable state: on unrecoverable failure it returns
// a non-nil error and leaves slot.handle nil.
func (p *IMAPPool) ensureHealthy(ctx context.Context, inboxID, hash string, slot *imapSlot) (bool, error) {
	if slot.handle == nil {
		return false, p.rebuildWithRetry(ctx, inboxID, slot)
	}

	if time.Since(slot.handle.lastUsedAt) <= p.idleThreshold {
		return true, nil
	}

	probeErr := runWithDeadline(ctx, func() { _ = slot.handle.client.Logout() }, func() error {
		return slot.handle.client.Noop()
	})
	if probeErr == nil {
		return true, nil
	}

	p.log.Info().Str("protocol", "imap").Msg("idle_probe_failed_rebuilding")
	p.closeAndClearLocked(slot)
	return false, p.rebuildWithRetry(ctx, inboxID, slot)
}

// rebuildWithRetry attempts to build a fresh handle, retrying once on
// failure (§4.3: "transparently rebuild once. Two consecutive rebuild
// failures surface as UpstreamUnavailable").
func (p *IMAPPool) rebuildWithRetry(ctx context.Context, inboxID string, slot *imapSlot) error {
	h, err := p.buildHandle(ctx, inboxID)
	if err == nil {
		slot.handle = h
		p.evictIfOverCapacity(inboxID)
		return nil
	}
	p.log.Warn().Err(err).Str("protocol", "imap").Msg("handle_build_failed_retrying")

	h, err = p.buildHandle(ctx, inboxID)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrUpstreamUnavailable, err)
	}
	slot.handle = h
	p.evictIfOverCapacity(inboxID)
	return nil
}

func (p *IMAPPool) buildHandle(ctx context.Context, inboxID string) (*imapHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrDeadlineExceeded, err)
	}

	cred, err := p.resolver.Resolve(inboxID)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cred.Host, cred.Port)
	dialer := &net.Dialer{Timeout: p.dialTimeout}
	var c *imapclient.Client
	if p.plainDial {
		c, err = imapclient.DialWithDialer(dialer, addr)
	} else {
		c, err = imapclient.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: cred.Host})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: imap dial: %v", coreerrors.ErrUpstreamUnavailable, err)
	}

	if err := authenticateIMAP(c, cred); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: imap auth: %v", coreerrors.ErrUpstreamAuthFailed, err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: imap select: %v", coreerrors.ErrUpstreamProtocolError, err)
	}

	now := time.Now()
	return &imapHandle{client: c, inboxID: inboxID, createdAt: now, lastUsedAt: now}, nil
}

func authenticateIMAP(c *imapclient.Client, cred models.Credentials) error {
	if cred.AuthKind == models.AuthOAuthBearer {
		authClient := sasl.NewXoauth2Client(cred.User, cred.Secret)
		return c.Authenticate(authClient)
	}
	return c.Login(cred.User, cred.Secret)
}

// LiveHandles returns the number of inbox ids currently holding an open
// handle in this pool instance, for the in-memory component of pool_stats.
func (p *IMAPPool) LiveHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.len()
}

func (p *IMAPPool) slotFor(inboxID string) *imapSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[inboxID]
	if !ok {
		s = &imapSlot{}
		p.slots[inboxID] = s
	}
	return s
}

// closeAndClearLocked logs the handle out and clears it. Caller must hold
// slot.mu.
func (p *IMAPPool) closeAndClearLocked(slot *imapSlot) {
	if slot.handle == nil {
		return
	}
	if err := slot.handle.client.Logout(); err != nil {
		p.log.Debug().Err(err).Msg("imap_logout_on_close_failed")
	}
	p.mu.Lock()
	p.lru.remove(slot.handle.inboxID)
	p.mu.Unlock()
	slot.handle = nil
}

// evictIfOverCapacity drops the least-recently-used id other than justBuilt
// when the pool is at max_live_handles_per_protocol (§5). Eviction closes the
// handle gracefully; it does not touch the just-built slot.
func (p *IMAPPool) evictIfOverCapacity(justBuilt string) {
	p.mu.Lock()
	p.lru.touch(justBuilt)
	if p.lru.len() <= p.maxHandles {
		p.mu.Unlock()
		return
	}
	victim, ok := p.lru.oldest()
	if !ok || victim == justBuilt {
		p.mu.Unlock()
		return
	}
	p.lru.remove(victim)
	slot, ok := p.slots[victim]
	delete(p.slots, victim)
	p.mu.Unlock()

	if !ok {
		return
	}
	slot.mu.Lock()
	p.closeAndClearLocked(slot)
	slot.mu.Unlock()
}

func wrapUpstreamErr(err error) error {
	return fmt.Errorf("%w: %v", coreerrors.ErrUpstreamProtocolError, err)
}
