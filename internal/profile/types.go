package profile

import (
	"sort"
	"strings"
)

// MemberProfile is a member's referral-relevant history: what they can do,
// where they have worked, and which domains they know. The three sets are
// case-normalized, deduplicated, and kept sorted.
type MemberProfile struct {
	MemberID      string            `json:"memberId"`
	Skills        []string          `json:"skills"`
	PastCompanies []string          `json:"pastCompanies"`
	Domains       []string          `json:"domains"`
	Preferences   map[string]string `json:"preferences"`
}

// IsEmpty reports whether the profile carries no matchable attributes.
func (p MemberProfile) IsEmpty() bool {
	return len(p.Skills) == 0 && len(p.PastCompanies) == 0 && len(p.Domains) == 0
}

// Preference returns the preference value for key, or "" when unset.
func (p MemberProfile) Preference(key string) string {
	if p.Preferences == nil {
		return ""
	}
	return p.Preferences[key]
}

// Normalize lowercases, trims, deduplicates, and sorts the attribute sets.
// Storage and providers call it on every write and read boundary so the rest
// of the engine can assume canonical sets.
func (p *MemberProfile) Normalize() {
	p.Skills = NormalizeSet(p.Skills)
	p.PastCompanies = NormalizeSet(p.PastCompanies)
	p.Domains = NormalizeSet(p.Domains)
}

// NormalizeSet returns values lowercased, trimmed, deduplicated, and sorted.
// Empty strings are dropped.
func NormalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
