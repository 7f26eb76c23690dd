package mailpool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	smtpclient "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/creds"
	"github.com/sujalsin/enterprisebridge/internal/hashid"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
)

type smtpHandle struct {
	client     *smtpclient.Client
	inboxID    string
	createdAt  time.Time
	lastUsedAt time.Time
	fromAddr   string
}

type smtpSlot struct {
	mu     sync.Mutex
	handle *smtpHandle
}

// SMTPPool is C4.
type SMTPPool struct {
	mu    sync.Mutex
	slots map[string]*smtpSlot
	lru   *lru

	resolver      creds.Resolver
	store         sessionstore.Store
	log           zerolog.Logger
	sessionTTL    time.Duration
	maxHandles    int
	idleThreshold time.Duration
	opTimeout     time.Duration
	dialTimeout   time.Duration
	heloName      string
	plainDial     bool // non-TLS connections; test servers only
}

// SMTPOption configures an SMTPPool at construction time.
type SMTPOption func(*SMTPPool)

// WithPlainDialSMTP disables TLS for the upstream connection. It exists for
// tests against in-memory SMTP servers and must never be used in production.
func WithPlainDialSMTP() SMTPOption {
	return func(p *SMTPPool) { p.plainDial = true }
}

// NewSMTPPool constructs an empty pool. maxHandles <= 0 falls back to 512.
func NewSMTPPool(resolver creds.Resolver, store sessionstore.Store, sessionTTL time.Duration, maxHandles int, log zerolog.Logger, opts ...SMTPOption) *SMTPPool {
	if maxHandles <= 0 {
		maxHandles = 512
	}
	p := &SMTPPool{
		slots:         make(map[string]*smtpSlot),
		lru:           newLRU(),
		resolver:      resolver,
		store:         store,
		log:           log,
		sessionTTL:    sessionTTL,
		maxHandles:    maxHandles,
		idleThreshold: defaultIdleProbeThreshold,
		opTimeout:     defaultSMTPOpTimeout,
		dialTimeout:   defaultDialTimeout,
		heloName:      "enterprisebridge",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SMTPHandle is the live SMTP handle checked out from the pool.
type SMTPHandle struct {
	InboxID     string
	inboxIDHash string
	client      *smtpclient.Client
	fromAddr    string
	slot        *smtpSlot
}

// Checkout acquires the single SMTP handle for inboxID (§4.4).
func (p *SMTPPool) Checkout(ctx context.Context, inboxID string) (*SMTPHandle, error) {
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
		rec := models.SessionRecord{InboxIDHash: hash, Protocol: models.ProtocolSMTP, CreatedAtMS: now, LastUsedAtMS: now,
			LastRefreshedMS: now, TTLSeconds: int64(p.sessionTTL / time.Second), Status: models.StatusActive}
		if err := p.store.PutNew(ctx, rec, p.sessionTTL); err != nil && !errors.Is(err, coreerrors.ErrAlreadyExists) {
			p.log.Warn().Err(err).Str("protocol", "smtp").Msg("session_create_failed_on_checkout")
		}
	}
	if hit {
		p.store.IncrStat(ctx, models.ProtocolSMTP, hash, models.StatHits, 1)
	} else {
		p.store.IncrStat(ctx, models.ProtocolSMTP, hash, models.StatMisses, 1)
	}
	if err := p.store.Touch(ctx, models.ProtocolSMTP, hash, p.sessionTTL); err != nil {
		p.log.Warn().Err(err).Str("protocol", "smtp").Msg("session_touch_failed_on_checkout")
	}

	return &SMTPHandle{InboxID: inboxID, inboxIDHash: hash, client: slot.handle.client, fromAddr: slot.handle.fromAddr, slot: slot}, nil
}

// ProbeByHash is C5's entry point into C4; see IMAPPool.ProbeByHash. SMTP's
// probe is NOOP, falling back to RSET on failure before declaring the
// handle dead (§4.4: "Health probe is NOOP or RSET").
func (p *SMTPPool) ProbeByHash(ctx context.Context, inboxIDHash string) ProbeResult {
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
		return result
	}
	defer slot.mu.Unlock()

	if slot.handle == nil {
		return result
	}

	err := runWithDeadline(ctx, func() { _ = slot.handle.client.Close() }, func() error {
		return slot.handle.client.Noop()
	})
	if err != nil {
		err = runWithDeadline(ctx, func() { _ = slot.handle.client.Close() }, func() error {
			return slot.handle.client.Reset()
		})
	}
	if err != nil {
		p.log.Info().Str("protocol", "smtp").Msg("keepalive_probe_failed_closing_handle")
		p.closeAndClearLocked(slot)
		result.Outcome = ProbeFailed
		return result
	}

	slot.handle.lastUsedAt = time.Now()
	result.Outcome = ProbeHealthy
	return result
}

func (p *SMTPPool) findSlotByHash(inboxIDHash string) (*smtpSlot, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, slot := range p.slots {
		if hashid.Hash(id) == inboxIDHash {
			return slot, id
		}
	}
	return nil, ""
}

// Checkin returns a handle previously obtained from Checkout.
func (p *SMTPPool) Checkin(h *SMTPHandle, outcome Outcome) {
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

// Send composes and delivers one outgoing message for inboxID, returning a
// generated message id (§4.4: "the pool composes the MIME envelope; the
// handler need not").
func (p *SMTPPool) Send(ctx context.Context, inboxID string, msg models.OutgoingMessage) (string, error) {
	h, err := p.Checkout(ctx, inboxID)
	if err != nil {
		return "", err
	}
	outcome := OutcomeOK
	defer func() { p.Checkin(h, outcome) }()

	messageID := uuid.NewString()
	envelope, err := composeEnvelope(h.fromAddr, msg, messageID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", coreerrors.ErrUpstreamProtocolError, err)
	}

	recipients := append(append(append([]string{}, msg.To...), msg.CC...), msg.BCC...)

	sendErr := runWithDeadline(ctx, func() { _ = h.client.Close() }, func() error {
		if err := h.client.Mail(h.fromAddr, nil); err != nil {
			return err
		}
		for _, rcpt := range recipients {
			if err := h.client.Rcpt(rcpt, nil); err != nil {
				return err
			}
		}
		w, err := h.client.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(envelope); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
	if sendErr != nil {
		outcome = OutcomeFailed
		return "", fmt.Errorf("%w: %v", coreerrors.ErrUpstreamProtocolError, sendErr)
	}
	return messageID, nil
}

func (p *SMTPPool) ensureHealthy(ctx context.Context, inboxID, hash string, slot *smtpSlot) (bool, error) {
	if slot.handle == nil {
		return false, p.rebuildWithRetry(ctx, inboxID, slot)
	}

	if time.Since(slot.handle.lastUsedAt) <= p.idleThreshold {
		return true, nil
	}

	probeErr := runWithDeadline(ctx, func() { _ = slot.handle.client.Close() }, func() error {
		return slot.handle.client.Noop()
	})
	if probeErr == nil {
		return true, nil
	}

	p.log.Info().Str("protocol", "smtp").Msg("idle_probe_failed_rebuilding")
	p.closeAndClearLocked(slot)
	return false, p.rebuildWithRetry(ctx, inboxID, slot)
}

func (p *SMTPPool) rebuildWithRetry(ctx context.Context, inboxID string, slot *smtpSlot) error {
	h, err := p.buildHandle(ctx, inboxID)
	if err == nil {
		slot.handle = h
		p.evictIfOverCapacity(inboxID)
		return nil
	}
	p.log.Warn().Err(err).Str("protocol", "smtp").Msg("handle_build_failed_retrying")

	h, err = p.buildHandle(ctx, inboxID)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrUpstreamUnavailable, err)
	}
	slot.handle = h
	p.evictIfOverCapacity(inboxID)
	return nil
}

func (p *SMTPPool) buildHandle(ctx context.Context, inboxID string) (*smtpHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrDeadlineExceeded, err)
	}

	cred, err := p.resolver.Resolve(inboxID)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cred.Host, cred.Port)
	rawConn, err := net.DialTimeout("tcp", addr, p.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: smtp dial: %v", coreerrors.ErrUpstreamUnavailable, err)
	}

	conn := net.Conn(rawConn)
	if !p.plainDial {
		conn = tls.Client(rawConn, &tls.Config{ServerName: cred.Host})
	}

	c, err := smtpclient.NewClient(conn, cred.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: smtp handshake: %v", coreerrors.ErrUpstreamUnavailable, err)
	}

	if err := c.Hello(p.heloName); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: smtp hello: %v", coreerrors.ErrUpstreamProtocolError, err)
	}

	authClient := authenticationFor(cred)
	if err := c.Auth(authClient); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: smtp auth: %v", coreerrors.ErrUpstreamAuthFailed, err)
	}

	now := time.Now()
	return &smtpHandle{client: c, inboxID: inboxID, createdAt: now, lastUsedAt: now, fromAddr: cred.User}, nil
}

func authenticationFor(cred models.Credentials) sasl.Client {
	if cred.AuthKind == models.AuthOAuthBearer {
		return sasl.NewXoauth2Client(cred.User, cred.Secret)
	}
	return sasl.NewPlainClient("", cred.User, cred.Secret)
}

// LiveHandles returns the number of inbox ids currently holding an open
// handle in this pool instance.
func (p *SMTPPool) LiveHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.len()
}

func (p *SMTPPool) slotFor(inboxID string) *smtpSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[inboxID]
	if !ok {
		s = &smtpSlot{}
		p.slots[inboxID] = s
	}
	return s
}

func (p *SMTPPool) closeAndClearLocked(slot *smtpSlot) {
	if slot.handle == nil {
		return
	}
	if err := slot.handle.client.Close(); err != nil {
		p.log.Debug().Err(err).Msg("smtp_close_failed")
	}
	p.mu.Lock()
	p.lru.remove(slot.handle.inboxID)
	p.mu.Unlock()
	slot.handle = nil
}

func (p *SMTPPool) evictIfOverCapacity(justBuilt string) {
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
