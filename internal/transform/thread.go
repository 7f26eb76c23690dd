package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/jhillyerd/enmime"
)

var subjectPrefixPattern = regexp.MustCompile(`(?i)^\s*(re|fwd|fw)\s*:\s*`)

// deriveThreadID implements §4.6 step 5. All three branches hash their seed
// to a 12-hex SHA-256 prefix so thread_id is uniformly shaped regardless of
// which signal was available (per the GLOSSARY: "stable 12-hex
// identifier").
func deriveThreadID(env *enmime.Envelope, subject string, participants []string) string {
	if refs := strings.Fields(env.GetHeader("References")); len(refs) > 0 {
		return hashFirst12(refs[len(refs)-1])
	}
	if inReplyTo := strings.TrimSpace(env.GetHeader("In-Reply-To")); inReplyTo != "" {
		return hashFirst12(inReplyTo)
	}

	seed := normalizeSubject(subject) + "|" + strings.Join(sortedUniqueLower(participants), ",")
	return hashFirst12(seed)
}

func normalizeSubject(subject string) string {
	s := subject
	for {
		trimmed := subjectPrefixPattern.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

func sortedUniqueLower(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func hashFirst12(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:12]
}
