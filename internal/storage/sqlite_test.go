package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/referlane/referlane/internal/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrations_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestAppendAndListInteractions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, action := range []string{"VIEWED", "CLICKED", "REFERRED"} {
		row := InteractionRow{
			ID:        "i" + string(rune('1'+i)),
			MemberID:  "m1",
			JobID:     "j1",
			NudgeID:   "n1",
			Action:    action,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendInteraction(ctx, row); err != nil {
			t.Fatalf("AppendInteraction(%s): %v", action, err)
		}
	}

	rows, err := s.ListInteractions(ctx, InteractionFilter{MemberID: "m1", JobID: "j1"})
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	// Append order preserved.
	if rows[0].Action != "VIEWED" || rows[2].Action != "REFERRED" {
		t.Errorf("unexpected order: %v %v %v", rows[0].Action, rows[1].Action, rows[2].Action)
	}
	if rows[0].Metadata != "{}" {
		t.Errorf("metadata = %q, want {}", rows[0].Metadata)
	}
}

func TestListInteractions_SinceFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := InteractionRow{ID: "i1", MemberID: "m1", JobID: "j1", NudgeID: "n1",
		Action: "VIEWED", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	recent := InteractionRow{ID: "i2", MemberID: "m1", JobID: "j1", NudgeID: "n1",
		Action: "CLICKED", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	for _, r := range []InteractionRow{old, recent} {
		if err := s.AppendInteraction(ctx, r); err != nil {
			t.Fatalf("AppendInteraction: %v", err)
		}
	}

	rows, err := s.ListInteractions(ctx, InteractionFilter{
		Since: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "i2" {
		t.Errorf("got %v, want only i2", rows)
	}
}

func TestEvents_AppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := EventRow{ID: "e1", Type: "job_viewed", MemberID: "m1", JobID: "j1",
		CreatedAt: time.Now().UTC()}
	if err := s.AppendEvent(ctx, row); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	rows, err := s.ListEvents(ctx, EventFilter{JobID: "j1"})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(rows) != 1 || rows[0].Type != "job_viewed" {
		t.Errorf("got %v, want one job_viewed event", rows)
	}
}

func TestProfile_UpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := ProfileRow{
		MemberID:      "m1",
		Skills:        `["go","python"]`,
		PastCompanies: `["acme"]`,
		Domains:       `["fintech"]`,
		Preferences:   `{"open_to_new_roles":"true"}`,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.UpsertProfile(ctx, row); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	got, err := s.GetProfile(ctx, "m1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Skills != row.Skills {
		t.Errorf("Skills = %q, want %q", got.Skills, row.Skills)
	}

	// Upsert replaces.
	row.Skills = `["rust"]`
	if err := s.UpsertProfile(ctx, row); err != nil {
		t.Fatalf("second UpsertProfile: %v", err)
	}
	got, err = s.GetProfile(ctx, "m1")
	if err != nil {
		t.Fatalf("GetProfile after upsert: %v", err)
	}
	if got.Skills != `["rust"]` {
		t.Errorf("Skills = %q, want [\"rust\"]", got.Skills)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetProfile(context.Background(), "nobody")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestJob_InsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := JobRow{
		ID: "j1", Title: "Backend Engineer", Company: "Acme",
		CreatedAt: time.Now().UTC(),
		Tags: []JobTagRow{
			{Name: "go", Category: "SKILL"},
			{Name: "acme", Category: "COMPANY"},
		},
	}
	if err := s.InsertJob(ctx, row); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Title != "Backend Engineer" || len(got.Tags) != 2 {
		t.Errorf("got %+v, want title + 2 tags", got)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
