// Package funnel reduces the interaction and event streams into ordered
// stage counts per job and time window.
//
// Stage order:
//
//	VIEWED ──► NUDGE_SHOWN ──► ENGAGED ──► REFERRED ──► HIRED
//
// A subject (member, job pair) occupies exactly the highest stage it reached
// inside the window; reported counts are cumulative "reached at least this
// stage", which makes them non-increasing along the stage order by
// construction. Nothing here is persisted: snapshots are recomputed on
// demand from the stored records.
package funnel

import (
	"context"
	"fmt"
	"time"

	"github.com/referlane/referlane/internal/interaction"
	"github.com/referlane/referlane/internal/storage"
)

// Stage is one step of the referral funnel.
type Stage string

const (
	StageViewed     Stage = "VIEWED"
	StageNudgeShown Stage = "NUDGE_SHOWN"
	StageEngaged    Stage = "ENGAGED"
	StageReferred   Stage = "REFERRED"
	StageHired      Stage = "HIRED"
)

// Stages is the funnel in order.
var Stages = []Stage{StageViewed, StageNudgeShown, StageEngaged, StageReferred, StageHired}

func stageIndex(s Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Lifecycle event types accepted by the event sink.
const (
	EventJobViewed         = "job_viewed"
	EventReferralSubmitted = "referral_submitted"
	EventCandidateHired    = "candidate_hired"
)

// ParseEventType validates a lifecycle event type.
func ParseEventType(s string) (string, error) {
	switch s {
	case EventJobViewed, EventReferralSubmitted, EventCandidateHired:
		return s, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// StageCount is one row of a funnel snapshot.
type StageCount struct {
	Stage Stage `json:"stage"`
	Count int   `json:"count"`
}

// Snapshot is a derived funnel view. It is never stored.
type Snapshot struct {
	JobID          string       `json:"jobId,omitempty"`
	WindowDays     int          `json:"windowDays"`
	Since          time.Time    `json:"since"`
	Subjects       int          `json:"subjects"`
	Stages         []StageCount `json:"stages"`
	ConversionRate float64      `json:"conversionRate"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the read surface the Aggregator needs. Implemented by
// storage.Store.
type Store interface {
	ListInteractions(ctx context.Context, f storage.InteractionFilter) ([]storage.InteractionRow, error)
	ListEvents(ctx context.Context, f storage.EventFilter) ([]storage.EventRow, error)
}

// Aggregator computes funnel snapshots.
type Aggregator struct {
	store Store
	clock Clock
}

// NewAggregator creates an Aggregator.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, clock: realClock{}}
}

// NewAggregatorWithClock creates an Aggregator with a custom clock (for testing).
func NewAggregatorWithClock(store Store, clock Clock) *Aggregator {
	return &Aggregator{store: store, clock: clock}
}

const defaultWindowDays = 30

// ComputeFunnel builds the snapshot for a job (or all jobs when jobID is
// empty) over the trailing windowDays. Events that skip intermediate stages
// are tolerated: a referral with no logged view still counts, once, at
// REFERRED.
func (a *Aggregator) ComputeFunnel(ctx context.Context, jobID string, windowDays int) (Snapshot, error) {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	now := a.clock.Now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	events, err := a.store.ListEvents(ctx, storage.EventFilter{JobID: jobID, Since: since})
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing events: %w", err)
	}
	interactions, err := a.store.ListInteractions(ctx, storage.InteractionFilter{JobID: jobID, Since: since})
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing interactions: %w", err)
	}

	// Highest stage reached per (member, job) subject.
	best := make(map[string]int)
	reach := func(memberID, jID string, stage Stage) {
		idx := stageIndex(stage)
		key := memberID + "|" + jID
		if cur, ok := best[key]; !ok || idx > cur {
			best[key] = idx
		}
	}

	for _, ev := range events {
		switch ev.Type {
		case EventJobViewed:
			reach(ev.MemberID, ev.JobID, StageViewed)
		case EventReferralSubmitted:
			reach(ev.MemberID, ev.JobID, StageReferred)
		case EventCandidateHired:
			reach(ev.MemberID, ev.JobID, StageHired)
		}
	}

	// Any logged interaction implies the nudge was rendered, so NUDGE_SHOWN
	// is the floor even for dismissals.
	for _, row := range interaction.Deduplicate(interactions) {
		action := interaction.Action(row.Action)
		stage := StageNudgeShown
		switch {
		case action == interaction.ActionReferred:
			stage = StageReferred
		case action.IsEngagement():
			stage = StageEngaged
		}
		reach(row.MemberID, row.JobID, stage)
	}

	snap := Snapshot{
		JobID:      jobID,
		WindowDays: windowDays,
		Since:      since,
		Subjects:   len(best),
		Stages:     make([]StageCount, len(Stages)),
	}
	for i, stage := range Stages {
		snap.Stages[i] = StageCount{Stage: stage}
	}

	referredIdx := stageIndex(StageReferred)
	referred := 0
	for _, reached := range best {
		for i := 0; i <= reached; i++ {
			snap.Stages[i].Count++
		}
		if reached >= referredIdx {
			referred++
		}
	}
	if snap.Subjects > 0 {
		snap.ConversionRate = float64(referred) / float64(snap.Subjects)
	}
	return snap, nil
}
