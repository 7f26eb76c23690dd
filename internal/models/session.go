package models

// Protocol distinguishes the two session families tracked in the store.
type Protocol string

const (
	ProtocolIMAP Protocol = "imap"
	ProtocolSMTP Protocol = "smtp"
)

// Status is the lifecycle state of a persisted SessionRecord.
type Status string

const (
	StatusActive     Status = "active"
	StatusRefreshing Status = "refreshing"
	StatusRetired    Status = "retired"
)

// Stats are the server-side-incremented counters attached to a session
// record. hits + misses is monotonically non-decreasing (§3 invariant);
// writers only ever call incr_stat, never overwrite this struct wholesale.
type Stats struct {
	Hits       int64
	Misses     int64
	NoopsOK    int64
	NoopsFail  int64
}

// StatField names the Stats field an incr_stat call targets. Kept as a
// distinct type so callers can't typo a field name as a bare string.
type StatField string

const (
	StatHits      StatField = "hits"
	StatMisses    StatField = "misses"
	StatNoopsOK   StatField = "noops_ok"
	StatNoopsFail StatField = "noops_fail"
)

// SessionRecord is the persisted metadata describing a logical mail session,
// keyed by session:{protocol}:{inbox_id_hash} in the session store (C2).
// It is distinct from the in-memory Live handle the pool holds (§3).
type SessionRecord struct {
	InboxIDHash      string
	Protocol         Protocol
	CreatedAtMS      int64
	LastUsedAtMS     int64
	LastRefreshedMS  int64
	TTLSeconds       int64
	Status           Status
	OwnerInstance    string
	Stats            Stats
}
