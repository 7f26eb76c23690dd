package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/models"
)

// MemoryStore is an in-process Store used by unit tests and as the
// degenerate "memory-only" mode described in §9 ("memory-only is the
// degenerate case of 'session store absent'"). TTL expiry is evaluated
// lazily on read, same as real Redis would expire keys lazily from a
// client's point of view.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*entryWithExpiry
	global  models.Stats
}

type entryWithExpiry struct {
	rec       models.SessionRecord
	expiresAt time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*entryWithExpiry)}
}

func (s *MemoryStore) Get(_ context.Context, proto models.Protocol, inboxIDHash string) (models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(proto, inboxIDHash)
	if !ok {
		return models.SessionRecord{}, coreerrors.ErrMissing
	}
	return e.rec, nil
}

func (s *MemoryStore) PutNew(_ context.Context, rec models.SessionRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(rec.Protocol, rec.InboxIDHash)
	if e, ok := s.records[key]; ok && time.Now().Before(e.expiresAt) {
		return coreerrors.ErrAlreadyExists
	}
	s.records[key] = &entryWithExpiry{rec: rec, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, proto models.Protocol, inboxIDHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(proto, inboxIDHash)
	if !ok {
		return coreerrors.ErrMissing
	}
	now := time.Now()
	e.rec.LastUsedAtMS = now.UnixMilli()
	e.rec.LastRefreshedMS = now.UnixMilli()
	e.expiresAt = now.Add(ttl)
	return nil
}

func (s *MemoryStore) MarkRetired(_ context.Context, proto models.Protocol, inboxIDHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(proto, inboxIDHash)
	if !ok {
		return coreerrors.ErrMissing
	}
	e.rec.Status = models.StatusRetired
	return nil
}

func (s *MemoryStore) MarkRefreshing(_ context.Context, proto models.Protocol, inboxIDHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(proto, inboxIDHash)
	if !ok {
		return coreerrors.ErrMissing
	}
	e.rec.Status = models.StatusRefreshing
	return nil
}

func (s *MemoryStore) IncrStat(_ context.Context, proto models.Protocol, inboxIDHash string, field models.StatField, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(proto, inboxIDHash)
	if ok {
		bumpStat(&e.rec.Stats, field, delta)
	}
	bumpStat(&s.global, field, delta)
}

func (s *MemoryStore) GlobalStats(_ context.Context) (models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global, nil
}

func (s *MemoryStore) ScanActive(_ context.Context, proto models.Protocol) (Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot []models.SessionRecord
	now := time.Now()
	for _, e := range s.records {
		if e.rec.Protocol != proto {
			continue
		}
		if now.After(e.expiresAt) {
			continue
		}
		if e.rec.Status == models.StatusRetired {
			continue
		}
		snapshot = append(snapshot, e.rec)
	}
	return &memoryIterator{records: snapshot}, nil
}

// lookupLocked returns the entry for (proto, hash) if present and unexpired.
// Expired-but-present entries are treated as missing (§3: "TTL in the store
// is the authoritative expiry").
func (s *MemoryStore) lookupLocked(proto models.Protocol, inboxIDHash string) (*entryWithExpiry, bool) {
	key := sessionKey(proto, inboxIDHash)
	e, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.records, key)
		return nil, false
	}
	return e, true
}

func bumpStat(stats *models.Stats, field models.StatField, delta int64) {
	switch field {
	case models.StatHits:
		stats.Hits += delta
	case models.StatMisses:
		stats.Misses += delta
	case models.StatNoopsOK:
		stats.NoopsOK += delta
	case models.StatNoopsFail:
		stats.NoopsFail += delta
	}
}

type memoryIterator struct {
	records []models.SessionRecord
	idx     int
}

func (it *memoryIterator) Next(_ context.Context) (models.SessionRecord, bool, error) {
	if it.idx >= len(it.records) {
		return models.SessionRecord{}, false, nil
	}
	rec := it.records[it.idx]
	it.idx++
	return rec, true, nil
}
