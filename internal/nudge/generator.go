// Package nudge turns scored matches into ranked, explainable nudge
// candidates. Rule evaluation is pure and deterministic; message enrichment
// is best-effort through the budget-bounded cache, falling back to static
// template text whenever enrichment is unavailable.
package nudge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/referlane/referlane/internal/budget"
	"github.com/referlane/referlane/internal/enrich"
	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/matching"
	"github.com/referlane/referlane/internal/metrics"
	"github.com/referlane/referlane/internal/profile"
)

const (
	defaultMaxCandidates = 5
	defaultConcurrency   = 3

	enrichNamespace = "nudge-message"
)

// Candidate is one ranked, explainable nudge. NudgeID is a deterministic
// hash of (member, job, rule), stable across repeated generation.
type Candidate struct {
	NudgeID     string `json:"nudgeId"`
	RuleID      string `json:"ruleId"`
	Message     string `json:"message"`
	Explanation string `json:"explanation"`
	Priority    int    `json:"priority"`
}

// NudgeID computes the deterministic identifier for (member, job, rule).
func NudgeID(memberID, jobID, ruleID string) string {
	h := sha256.Sum256([]byte(memberID + "|" + jobID + "|" + ruleID))
	return hex.EncodeToString(h[:])[:16]
}

// Enricher is the budget-bounded cache surface the generator needs.
// Implemented by *budget.Cache.
type Enricher interface {
	Do(ctx context.Context, namespace, key string, producer budget.Producer) (string, error)
}

// Completer produces natural-language text. Implemented by *enrich.Client.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (enrich.Completion, error)
}

// Generator evaluates the rule table and enriches the winning candidates.
type Generator struct {
	cache       Enricher
	llm         Completer
	rules       []Rule
	max         int
	concurrency int
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxCandidates caps how many candidates Generate returns.
func WithMaxCandidates(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.max = n
		}
	}
}

// WithConcurrency bounds concurrent enrichment calls per Generate.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithRules replaces the default rule table (used by tests).
func WithRules(rules []Rule) Option {
	return func(g *Generator) { g.rules = rules }
}

// NewGenerator creates a Generator. cache and llm may both be nil, in which
// case every candidate keeps its static template message.
func NewGenerator(cache Enricher, llm Completer, opts ...Option) *Generator {
	g := &Generator{
		cache:       cache,
		llm:         llm,
		rules:       defaultRules,
		max:         defaultMaxCandidates,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the ranked nudge candidates for one (job, profile) pair.
//
// Absence of signal is a normal outcome: a job or profile missing required
// fields, or a match with nothing to say, yields an empty slice, never an
// error. Candidates are sorted by priority descending with rule declaration
// order breaking ties, so output order and nudge IDs are stable for
// identical inputs.
func (g *Generator) Generate(ctx context.Context, job engine.Job, p profile.MemberProfile, match matching.Result) []Candidate {
	if job.ID == "" || p.MemberID == "" {
		return nil
	}

	rc := RuleContext{Job: job, Profile: p, Match: match}

	var fired []firedCandidate
	seen := make(map[string]struct{})
	for i := range g.rules {
		rule := &g.rules[i]
		if !rule.Predicate(rc) {
			continue
		}
		id := NudgeID(p.MemberID, job.ID, rule.ID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		msg, expl := rule.Template(rc)
		fired = append(fired, firedCandidate{
			Candidate: Candidate{
				NudgeID:     id,
				RuleID:      rule.ID,
				Message:     msg,
				Explanation: expl,
				Priority:    rule.Priority,
			},
			declOrder: i,
			rule:      rule,
		})
	}
	if len(fired) == 0 {
		return nil
	}

	sort.SliceStable(fired, func(i, j int) bool {
		if fired[i].Priority != fired[j].Priority {
			return fired[i].Priority > fired[j].Priority
		}
		return fired[i].declOrder < fired[j].declOrder
	})
	if len(fired) > g.max {
		fired = fired[:g.max]
	}

	g.enrichAll(ctx, rc, fired)

	out := make([]Candidate, len(fired))
	for i, s := range fired {
		metrics.NudgesGenerated.WithLabelValues(s.RuleID).Inc()
		out[i] = s.Candidate
	}
	return out
}

// firedCandidate pairs a candidate with its rule for ranking and enrichment.
type firedCandidate struct {
	Candidate
	declOrder int
	rule      *Rule
}

// enrichAll resolves generated message text for candidates whose rule has a
// prompt, with bounded concurrency. Any failure (budget exhaustion, upstream
// error, timeout) leaves the template message in place.
func (g *Generator) enrichAll(ctx context.Context, rc RuleContext, fired []firedCandidate) {
	if g.cache == nil || g.llm == nil {
		return
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range fired {
		rule := fired[i].rule
		if rule.Prompt == nil {
			continue
		}
		i := i
		eg.Go(func() error {
			key, prompt := rule.Prompt(rc)
			text, err := g.cache.Do(egCtx, enrichNamespace, key, g.producer(prompt))
			if err != nil {
				g.logger.Debug("nudge enrichment unavailable, using template",
					"rule", rule.ID, "error", err)
				return nil
			}
			if text != "" {
				fired[i].Message = text
			}
			return nil
		})
	}
	eg.Wait()
}

const enrichSystemPrompt = "You write one-sentence referral nudges for a professional network. Be specific, warm, and brief."

// producer adapts one inference call to the budget cache's Producer shape.
func (g *Generator) producer(prompt string) budget.Producer {
	return func(ctx context.Context) (budget.Result, error) {
		completion, err := g.llm.Complete(ctx, enrichSystemPrompt, prompt)
		if err != nil {
			return budget.Result{}, err
		}
		return budget.Result{
			Value:   completion.Text,
			CostUSD: completion.CostUSD,
			Tokens:  completion.Tokens,
		}, nil
	}
}
