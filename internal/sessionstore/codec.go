package sessionstore

import (
	"strconv"

	"github.com/sujalsin/enterprisebridge/internal/models"
)

// encodeRecord serializes a SessionRecord into the hash-of-fields layout:
// every numeric field is a decimal string, per §4.2's "Serialization" note.
func encodeRecord(rec models.SessionRecord) map[string]interface{} {
	return map[string]interface{}{
		"created_at":        strconv.FormatInt(rec.CreatedAtMS, 10),
		"last_used_at":      strconv.FormatInt(rec.LastUsedAtMS, 10),
		"last_refreshed_at": strconv.FormatInt(rec.LastRefreshedMS, 10),
		"ttl_seconds":       strconv.FormatInt(rec.TTLSeconds, 10),
		"status":            string(rec.Status),
		"owner_instance":    rec.OwnerInstance,
		"stats_hits":        strconv.FormatInt(rec.Stats.Hits, 10),
		"stats_misses":      strconv.FormatInt(rec.Stats.Misses, 10),
		"stats_noops_ok":    strconv.FormatInt(rec.Stats.NoopsOK, 10),
		"stats_noops_fail":  strconv.FormatInt(rec.Stats.NoopsFail, 10),
	}
}

// decodeRecord is the inverse of encodeRecord. Unknown fields are ignored
// (forward compatibility); missing/malformed numeric fields decode as zero
// rather than failing the whole read.
func decodeRecord(proto models.Protocol, inboxIDHash string, fields map[string]string) models.SessionRecord {
	return models.SessionRecord{
		InboxIDHash:     inboxIDHash,
		Protocol:        proto,
		CreatedAtMS:     parseInt64(fields["created_at"]),
		LastUsedAtMS:    parseInt64(fields["last_used_at"]),
		LastRefreshedMS: parseInt64(fields["last_refreshed_at"]),
		TTLSeconds:      parseInt64(fields["ttl_seconds"]),
		Status:          models.Status(fields["status"]),
		OwnerInstance:   fields["owner_instance"],
		Stats:           decodeStats(fields),
	}
}

func decodeStats(fields map[string]string) models.Stats {
	return models.Stats{
		Hits:      parseInt64(fields["stats_hits"]),
		Misses:    parseInt64(fields["stats_misses"]),
		NoopsOK:   parseInt64(fields["stats_noops_ok"]),
		NoopsFail: parseInt64(fields["stats_noops_fail"]),
	}
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func statHashField(field models.StatField) string {
	return "stats_" + string(field)
}
