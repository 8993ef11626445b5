// Package interaction is the append-only log of how members respond to
// nudges. Every event is stored as its own row, duplicates included, so the
// audit trail is never rewritten; duplicate collapsing happens only at
// aggregation time.
package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/metrics"
	"github.com/referlane/referlane/internal/storage"
)

// Action is what a member did with a nudge.
type Action string

const (
	ActionViewed        Action = "VIEWED"
	ActionHovered       Action = "HOVERED"
	ActionClicked       Action = "CLICKED"
	ActionShareWhatsApp Action = "SHARE_WHATSAPP"
	ActionShareLinkedIn Action = "SHARE_LINKEDIN"
	ActionShareEmail    Action = "SHARE_EMAIL"
	ActionCopyMessage   Action = "COPY_MESSAGE"
	ActionDismissed     Action = "DISMISSED"
	ActionReferred      Action = "REFERRED"
)

// ParseAction converts a raw string to an Action, returning an error for
// unknown values.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	switch a {
	case ActionViewed, ActionHovered, ActionClicked, ActionShareWhatsApp,
		ActionShareLinkedIn, ActionShareEmail, ActionCopyMessage,
		ActionDismissed, ActionReferred:
		return a, nil
	}
	return "", &engine.InvalidInputError{Field: "action", Reason: "unknown action " + s}
}

// IsEngagement reports whether the action counts as engagement beyond the
// initial render.
func (a Action) IsEngagement() bool {
	switch a {
	case ActionHovered, ActionClicked, ActionCopyMessage,
		ActionShareWhatsApp, ActionShareLinkedIn, ActionShareEmail:
		return true
	}
	return false
}

// Interaction is one logged nudge event.
type Interaction struct {
	ID        string            `json:"interactionId"`
	MemberID  string            `json:"memberId"`
	JobID     string            `json:"jobId"`
	NudgeID   string            `json:"nudgeId"`
	Action    Action            `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewInteraction is the caller-supplied part of an interaction.
type NewInteraction struct {
	MemberID string
	JobID    string
	NudgeID  string
	Action   Action
	Metadata map[string]string
}

// Stats summarizes interactions for a filter. Rates are zero when nothing
// was shown.
type Stats struct {
	TotalShown     int     `json:"totalShown"`
	Clicked        int     `json:"clicked"`
	Dismissed      int     `json:"dismissed"`
	Referred       int     `json:"referred"`
	ClickRate      float64 `json:"clickRate"`
	ConversionRate float64 `json:"conversionRate"`
}

// StatsFilter narrows aggregation. Zero-valued fields are ignored.
type StatsFilter struct {
	MemberID string
	JobID    string
	Since    time.Time
}

// Duplicate submissions of the identical (member, job, nudge, action) inside
// this window count as one logical event for stats and funnel purposes. The
// stored rows are untouched.
const dedupWindow = 10 * time.Second

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the storage surface the Recorder needs. Implemented by
// storage.Store.
type Store interface {
	AppendInteraction(ctx context.Context, row storage.InteractionRow) error
	ListInteractions(ctx context.Context, f storage.InteractionFilter) ([]storage.InteractionRow, error)
}

// Recorder appends and aggregates nudge interactions.
type Recorder struct {
	store Store
	clock Clock
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, clock: realClock{}}
}

// NewRecorderWithClock creates a Recorder with a custom clock (for testing).
func NewRecorderWithClock(store Store, clock Clock) *Recorder {
	return &Recorder{store: store, clock: clock}
}

// Record validates and appends one interaction, returning its id. It always
// appends: out-of-order and duplicate-looking events are kept as written.
// This is the one write callers should retry on failure, since a lost event
// corrupts funnel accuracy.
func (r *Recorder) Record(ctx context.Context, in NewInteraction) (string, error) {
	if in.MemberID == "" {
		return "", &engine.InvalidInputError{Field: "memberId", Reason: "required"}
	}
	if in.JobID == "" {
		return "", &engine.InvalidInputError{Field: "jobId", Reason: "required"}
	}
	if in.NudgeID == "" {
		return "", &engine.InvalidInputError{Field: "nudgeId", Reason: "required"}
	}
	if _, err := ParseAction(string(in.Action)); err != nil {
		return "", err
	}

	metadata := "{}"
	if len(in.Metadata) > 0 {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshalling metadata: %w", err)
		}
		metadata = string(b)
	}

	row := storage.InteractionRow{
		ID:        uuid.New().String(),
		MemberID:  in.MemberID,
		JobID:     in.JobID,
		NudgeID:   in.NudgeID,
		Action:    string(in.Action),
		Metadata:  metadata,
		CreatedAt: r.clock.Now().UTC(),
	}
	if err := r.store.AppendInteraction(ctx, row); err != nil {
		return "", fmt.Errorf("appending interaction: %w", err)
	}
	metrics.InteractionsRecorded.WithLabelValues(string(in.Action)).Inc()
	return row.ID, nil
}

// ListForMember returns a member's interactions in append order, optionally
// narrowed to one job.
func (r *Recorder) ListForMember(ctx context.Context, memberID, jobID string) ([]Interaction, error) {
	if memberID == "" {
		return nil, &engine.InvalidInputError{Field: "memberId", Reason: "required"}
	}
	rows, err := r.store.ListInteractions(ctx, storage.InteractionFilter{
		MemberID: memberID,
		JobID:    jobID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	out := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// AggregateStats reduces the matching interactions to shown/clicked/
// dismissed/referred counts with zero-safe rates. Near-duplicate submissions
// are collapsed per dedupWindow.
func (r *Recorder) AggregateStats(ctx context.Context, f StatsFilter) (Stats, error) {
	rows, err := r.store.ListInteractions(ctx, storage.InteractionFilter{
		MemberID: f.MemberID,
		JobID:    f.JobID,
		Since:    f.Since,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("listing interactions: %w", err)
	}

	var s Stats
	for _, row := range Deduplicate(rows) {
		switch Action(row.Action) {
		case ActionViewed:
			s.TotalShown++
		case ActionClicked:
			s.Clicked++
		case ActionDismissed:
			s.Dismissed++
		case ActionReferred:
			s.Referred++
		}
	}
	if s.TotalShown > 0 {
		s.ClickRate = float64(s.Clicked) / float64(s.TotalShown)
		s.ConversionRate = float64(s.Referred) / float64(s.TotalShown)
	}
	return s, nil
}

// Deduplicate collapses rows with identical (member, job, nudge, action)
// closer together than dedupWindow into the earliest row. Input must be in
// append order; relative order is preserved.
func Deduplicate(rows []storage.InteractionRow) []storage.InteractionRow {
	lastSeen := make(map[string]time.Time)
	out := make([]storage.InteractionRow, 0, len(rows))
	for _, row := range rows {
		key := row.MemberID + "|" + row.JobID + "|" + row.NudgeID + "|" + row.Action
		if last, ok := lastSeen[key]; ok && row.CreatedAt.Sub(last) < dedupWindow {
			continue
		}
		lastSeen[key] = row.CreatedAt
		out = append(out, row)
	}
	return out
}

func fromRow(row storage.InteractionRow) Interaction {
	out := Interaction{
		ID:        row.ID,
		MemberID:  row.MemberID,
		JobID:     row.JobID,
		NudgeID:   row.NudgeID,
		Action:    Action(row.Action),
		CreatedAt: row.CreatedAt,
	}
	if row.Metadata != "" && row.Metadata != "{}" {
		var m map[string]string
		if err := json.Unmarshal([]byte(row.Metadata), &m); err == nil {
			out.Metadata = m
		}
	}
	return out
}
