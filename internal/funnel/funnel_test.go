package funnel

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/referlane/referlane/internal/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func testAggregator(t *testing.T) (*Aggregator, *storage.Store, *fakeClock) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewAggregatorWithClock(store, clock), store, clock
}

func appendEvent(t *testing.T, store *storage.Store, typ, memberID, jobID string, at time.Time) {
	t.Helper()
	err := store.AppendEvent(context.Background(), storage.EventRow{
		ID:        uuid.NewString(),
		Type:      typ,
		MemberID:  memberID,
		JobID:     jobID,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("appending event: %v", err)
	}
}

func appendInteraction(t *testing.T, store *storage.Store, memberID, jobID, action string, at time.Time) {
	t.Helper()
	err := store.AppendInteraction(context.Background(), storage.InteractionRow{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		JobID:     jobID,
		NudgeID:   "nudge-1",
		Action:    action,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("appending interaction: %v", err)
	}
}

func stageCount(t *testing.T, snap Snapshot, stage Stage) int {
	t.Helper()
	for _, sc := range snap.Stages {
		if sc.Stage == stage {
			return sc.Count
		}
	}
	t.Fatalf("stage %s missing from snapshot", stage)
	return 0
}

func TestComputeFunnel_HighestStagePerSubject(t *testing.T) {
	agg, store, clock := testAggregator(t)
	at := clock.now.Add(-time.Hour)

	// m1 views, sees a nudge, clicks and finally refers.
	appendEvent(t, store, EventJobViewed, "m1", "job-1", at)
	appendInteraction(t, store, "m1", "job-1", "VIEWED", at.Add(time.Minute))
	appendInteraction(t, store, "m1", "job-1", "CLICKED", at.Add(2*time.Minute))
	appendEvent(t, store, EventReferralSubmitted, "m1", "job-1", at.Add(3*time.Minute))

	// m2 only views the job.
	appendEvent(t, store, EventJobViewed, "m2", "job-1", at)

	// m3 sees the nudge and dismisses it.
	appendInteraction(t, store, "m3", "job-1", "DISMISSED", at)

	snap, err := agg.ComputeFunnel(context.Background(), "job-1", 30)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}

	if snap.Subjects != 3 {
		t.Fatalf("expected 3 subjects, got %d", snap.Subjects)
	}
	if got := stageCount(t, snap, StageViewed); got != 3 {
		t.Errorf("VIEWED = %d, want 3", got)
	}
	if got := stageCount(t, snap, StageNudgeShown); got != 2 {
		t.Errorf("NUDGE_SHOWN = %d, want 2", got)
	}
	if got := stageCount(t, snap, StageEngaged); got != 1 {
		t.Errorf("ENGAGED = %d, want 1", got)
	}
	if got := stageCount(t, snap, StageReferred); got != 1 {
		t.Errorf("REFERRED = %d, want 1", got)
	}
	if got := stageCount(t, snap, StageHired); got != 0 {
		t.Errorf("HIRED = %d, want 0", got)
	}
	if snap.ConversionRate != 1.0/3.0 {
		t.Errorf("conversion rate = %v, want 1/3", snap.ConversionRate)
	}
}

func TestComputeFunnel_CountsAreNonIncreasing(t *testing.T) {
	agg, store, clock := testAggregator(t)
	at := clock.now.Add(-time.Hour)

	appendEvent(t, store, EventJobViewed, "m1", "job-1", at)
	appendInteraction(t, store, "m1", "job-1", "SHARE_WHATSAPP", at.Add(time.Minute))
	appendEvent(t, store, EventCandidateHired, "m1", "job-1", at.Add(2*time.Minute))
	appendInteraction(t, store, "m2", "job-1", "VIEWED", at)
	appendEvent(t, store, EventJobViewed, "m3", "job-1", at)

	snap, err := agg.ComputeFunnel(context.Background(), "job-1", 30)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}
	for i := 1; i < len(snap.Stages); i++ {
		if snap.Stages[i].Count > snap.Stages[i-1].Count {
			t.Fatalf("stage %s count %d exceeds %s count %d",
				snap.Stages[i].Stage, snap.Stages[i].Count,
				snap.Stages[i-1].Stage, snap.Stages[i-1].Count)
		}
	}
	if got := stageCount(t, snap, StageHired); got != 1 {
		t.Errorf("HIRED = %d, want 1", got)
	}
}

func TestComputeFunnel_SkippedStagesStillCount(t *testing.T) {
	agg, store, clock := testAggregator(t)

	// Referral with no logged view or nudge.
	appendEvent(t, store, EventReferralSubmitted, "m1", "job-1", clock.now.Add(-time.Hour))

	snap, err := agg.ComputeFunnel(context.Background(), "job-1", 30)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}
	if snap.Subjects != 1 {
		t.Fatalf("expected 1 subject, got %d", snap.Subjects)
	}
	if got := stageCount(t, snap, StageReferred); got != 1 {
		t.Errorf("REFERRED = %d, want 1", got)
	}
	// Reached-at-least semantics: every earlier stage counts the subject too.
	if got := stageCount(t, snap, StageViewed); got != 1 {
		t.Errorf("VIEWED = %d, want 1", got)
	}
	if snap.ConversionRate != 1.0 {
		t.Errorf("conversion rate = %v, want 1", snap.ConversionRate)
	}
}

func TestComputeFunnel_WindowExcludesOldRecords(t *testing.T) {
	agg, store, clock := testAggregator(t)

	appendEvent(t, store, EventJobViewed, "m1", "job-1", clock.now.AddDate(0, 0, -40))
	appendEvent(t, store, EventJobViewed, "m2", "job-1", clock.now.Add(-time.Hour))

	snap, err := agg.ComputeFunnel(context.Background(), "job-1", 30)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}
	if snap.Subjects != 1 {
		t.Errorf("expected 1 subject inside window, got %d", snap.Subjects)
	}
}

func TestComputeFunnel_JobFilterAndAllJobs(t *testing.T) {
	agg, store, clock := testAggregator(t)
	at := clock.now.Add(-time.Hour)

	appendEvent(t, store, EventJobViewed, "m1", "job-1", at)
	appendEvent(t, store, EventJobViewed, "m1", "job-2", at)

	snap, err := agg.ComputeFunnel(context.Background(), "job-1", 30)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}
	if snap.Subjects != 1 {
		t.Errorf("job-scoped subjects = %d, want 1", snap.Subjects)
	}

	all, err := agg.ComputeFunnel(context.Background(), "", 30)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}
	if all.Subjects != 2 {
		t.Errorf("all-jobs subjects = %d, want 2", all.Subjects)
	}
}

func TestComputeFunnel_DefaultWindow(t *testing.T) {
	agg, _, _ := testAggregator(t)

	snap, err := agg.ComputeFunnel(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}
	if snap.WindowDays != defaultWindowDays {
		t.Errorf("window days = %d, want %d", snap.WindowDays, defaultWindowDays)
	}
	if snap.Subjects != 0 || snap.ConversionRate != 0 {
		t.Errorf("empty store should produce empty snapshot, got %+v", snap)
	}
}

func TestComputeFunnel_DuplicateInteractionsCollapsed(t *testing.T) {
	agg, store, clock := testAggregator(t)
	at := clock.now.Add(-time.Hour)

	// Burst of identical clicks within the dedup window still yields one
	// engaged subject, not an inflated count.
	appendInteraction(t, store, "m1", "job-1", "CLICKED", at)
	appendInteraction(t, store, "m1", "job-1", "CLICKED", at.Add(time.Second))
	appendInteraction(t, store, "m1", "job-1", "CLICKED", at.Add(2*time.Second))

	snap, err := agg.ComputeFunnel(context.Background(), "job-1", 30)
	if err != nil {
		t.Fatalf("computing funnel: %v", err)
	}
	if got := stageCount(t, snap, StageEngaged); got != 1 {
		t.Errorf("ENGAGED = %d, want 1", got)
	}
}

func TestParseEventType(t *testing.T) {
	for _, valid := range []string{EventJobViewed, EventReferralSubmitted, EventCandidateHired} {
		if _, err := ParseEventType(valid); err != nil {
			t.Errorf("ParseEventType(%q) returned error: %v", valid, err)
		}
	}
	if _, err := ParseEventType("job_closed"); err == nil {
		t.Error("expected error for unknown event type")
	}
}
