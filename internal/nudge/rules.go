package nudge

import (
	"fmt"
	"strings"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/matching"
	"github.com/referlane/referlane/internal/profile"
)

// RuleContext is everything a rule sees when deciding whether to fire.
type RuleContext struct {
	Job     engine.Job
	Profile profile.MemberProfile
	Match   matching.Result
}

// Rule is one declarative nudge rule. Rules are evaluated in declaration
// order; each emits zero or one candidate. Prompt is optional: rules without
// it never call the enrichment layer.
type Rule struct {
	ID        string
	Priority  int
	Predicate func(RuleContext) bool
	Template  func(RuleContext) (message, explanation string)
	Prompt    func(RuleContext) (key, prompt string)
}

// preference key a member sets when they want self-referral hints.
const prefOpenToNewRoles = "open_to_new_roles"

// defaultRules is the ordered rule table. Order matters twice: it is the
// evaluation order and the tiebreak for equal priorities.
var defaultRules = []Rule{
	{
		ID:       "skills-overlap",
		Priority: 40,
		Predicate: func(rc RuleContext) bool {
			return len(rc.Match.MatchedSkills) > 0
		},
		Template: func(rc RuleContext) (string, string) {
			skills := humanList(rc.Match.MatchedSkills)
			msg := fmt.Sprintf("Know someone who works with %s? %s is hiring — your network could be a great fit.",
				skills, jobLabel(rc.Job))
			expl := fmt.Sprintf("Your skills overlap with this role: %s.", skills)
			return msg, expl
		},
		Prompt: func(rc RuleContext) (string, string) {
			key := enrichKey("skills-overlap", rc.Job.ID, rc.Match.MatchedSkills)
			prompt := fmt.Sprintf(
				"Write one short, friendly sentence encouraging a member to refer a contact for the role %q. The member's matching skills: %s. No emojis, no exclamation marks.",
				jobLabel(rc.Job), strings.Join(rc.Match.MatchedSkills, ", "))
			return key, prompt
		},
	},
	{
		ID:       "company-overlap",
		Priority: 30,
		Predicate: func(rc RuleContext) bool {
			return len(rc.Match.MatchedCompanies) > 0
		},
		Template: func(rc RuleContext) (string, string) {
			companies := humanList(rc.Match.MatchedCompanies)
			msg := fmt.Sprintf("You've worked at %s — a former colleague might be perfect for %s.",
				companies, jobLabel(rc.Job))
			expl := fmt.Sprintf("You share employer history with this role: %s.", companies)
			return msg, expl
		},
		Prompt: func(rc RuleContext) (string, string) {
			key := enrichKey("company-overlap", rc.Job.ID, rc.Match.MatchedCompanies)
			prompt := fmt.Sprintf(
				"Write one short, friendly sentence suggesting a member reach out to former colleagues from %s about the role %q. No emojis, no exclamation marks.",
				strings.Join(rc.Match.MatchedCompanies, ", "), jobLabel(rc.Job))
			return key, prompt
		},
	},
	{
		ID:       "domain-overlap",
		Priority: 20,
		Predicate: func(rc RuleContext) bool {
			return len(rc.Match.MatchedDomains) > 0
		},
		Template: func(rc RuleContext) (string, string) {
			domains := humanList(rc.Match.MatchedDomains)
			msg := fmt.Sprintf("People from your %s circle could be strong candidates for %s.",
				domains, jobLabel(rc.Job))
			expl := fmt.Sprintf("You know this space: %s.", domains)
			return msg, expl
		},
	},
	{
		ID:       "self-referral",
		Priority: 10,
		Predicate: func(rc RuleContext) bool {
			return rc.Profile.Preference(prefOpenToNewRoles) == "true" &&
				rc.Match.Tier.AtLeast(matching.TierMedium)
		},
		Template: func(rc RuleContext) (string, string) {
			msg := fmt.Sprintf("This one looks like a fit for you: %s.", jobLabel(rc.Job))
			expl := fmt.Sprintf("You marked yourself open to new roles and this job matches your profile (%s).",
				strings.ToLower(string(rc.Match.Tier)))
			return msg, expl
		},
	},
}

// jobLabel names a job for message text.
func jobLabel(j engine.Job) string {
	switch {
	case j.Title != "" && j.Company != "":
		return j.Title + " at " + j.Company
	case j.Title != "":
		return j.Title
	default:
		return "this role"
	}
}

// humanList joins values with commas and a final "and".
func humanList(values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	case 2:
		return values[0] + " and " + values[1]
	default:
		return strings.Join(values[:len(values)-1], ", ") + " and " + values[len(values)-1]
	}
}

// enrichKey builds the structural cache key for an enrichment call: rule,
// job, and the matched attribute set — never raw free text. Attribute order
// is already canonical (profile sets are sorted; intersections preserve it).
func enrichKey(ruleID, jobID string, attrs []string) string {
	return ruleID + "|" + jobID + "|" + strings.Join(attrs, ",")
}
