// Package matching intersects job tags with member profile attributes and
// turns the overlap into a tiered match score. Everything here is pure:
// no I/O, no logging, no state.
package matching

import (
	"strings"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/profile"
)

// Tier is a coarse bucket summarizing a continuous match score.
type Tier string

const (
	TierNone   Tier = "NONE"
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// rank orders tiers for monotonicity checks.
func (t Tier) rank() int {
	switch t {
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether t is the same tier as other or a higher one.
func (t Tier) AtLeast(other Tier) bool { return t.rank() >= other.rank() }

// Category weights. Skills carry the most signal, shared employers next,
// domain familiarity least.
const (
	weightSkill   = 1.0
	weightCompany = 0.8
	weightDomain  = 0.6
)

// Tier thresholds over the [0,1] score.
const (
	mediumThreshold = 0.34
	highThreshold   = 0.67
)

// Result is the derived outcome of scoring one (job, profile) pair. It is
// never persisted.
type Result struct {
	Tier             Tier     `json:"tier"`
	Score            float64  `json:"score"`
	MatchedSkills    []string `json:"matchedSkills"`
	MatchedCompanies []string `json:"matchedCompanies"`
	MatchedDomains   []string `json:"matchedDomains"`
}

// Intersect returns the members of set (already normalized, sorted) that
// appear among tagNames, compared case-insensitively and trimmed. The result
// preserves set order, so it is deterministic.
func Intersect(set []string, tagNames []string) []string {
	if len(set) == 0 || len(tagNames) == 0 {
		return nil
	}
	tags := make(map[string]struct{}, len(tagNames))
	for _, n := range tagNames {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			tags[n] = struct{}{}
		}
	}
	var matched []string
	for _, v := range set {
		if _, ok := tags[v]; ok {
			matched = append(matched, v)
		}
	}
	return matched
}

// Score computes the match between a job's tags and a member's profile.
//
// For each category the matched fraction is |intersection| / |profile set|.
// The score is the weight-averaged fraction over categories where the profile
// has attributes, clamped to [0,1]. A profile with no attributes, or a job
// with no tags, scores zero.
func Score(job engine.Job, p profile.MemberProfile) Result {
	if p.IsEmpty() || len(job.Tags) == 0 {
		return Result{Tier: TierNone}
	}

	r := Result{
		MatchedSkills:    Intersect(p.Skills, job.TagsInCategory(engine.CategorySkill)),
		MatchedCompanies: Intersect(p.PastCompanies, job.TagsInCategory(engine.CategoryCompany)),
		MatchedDomains:   Intersect(p.Domains, job.TagsInCategory(engine.CategoryDomain)),
	}

	var weighted, totalWeight float64
	if n := len(p.Skills); n > 0 {
		weighted += weightSkill * float64(len(r.MatchedSkills)) / float64(n)
		totalWeight += weightSkill
	}
	if n := len(p.PastCompanies); n > 0 {
		weighted += weightCompany * float64(len(r.MatchedCompanies)) / float64(n)
		totalWeight += weightCompany
	}
	if n := len(p.Domains); n > 0 {
		weighted += weightDomain * float64(len(r.MatchedDomains)) / float64(n)
		totalWeight += weightDomain
	}

	score := weighted / totalWeight
	if score > 1 {
		score = 1
	}
	r.Score = score
	r.Tier = TierFor(score)
	return r
}

// TierFor buckets a score into a Tier. The bucketing is monotonic: a higher
// score never maps to a lower tier.
func TierFor(score float64) Tier {
	switch {
	case score <= 0:
		return TierNone
	case score < mediumThreshold:
		return TierLow
	case score < highThreshold:
		return TierMedium
	default:
		return TierHigh
	}
}
