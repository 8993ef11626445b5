package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/profile"
	"github.com/referlane/referlane/internal/storage"
)

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteJobProvider_GetJob(t *testing.T) {
	store := testStore(t)
	err := store.InsertJob(context.Background(), storage.JobRow{
		ID:      "job-1",
		Title:   "Backend Engineer",
		Company: "Acme",
		Tags: []storage.JobTagRow{
			{Name: "go", Category: "SKILL"},
			{Name: "fintech", Category: "DOMAIN"},
			{Name: "berlin", Category: "SPONSORSHIP"}, // unknown, skipped
		},
	})
	if err != nil {
		t.Fatalf("inserting job: %v", err)
	}

	job, err := NewSQLiteJobProvider(store).GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("getting job: %v", err)
	}
	if job.Title != "Backend Engineer" || job.Company != "Acme" {
		t.Errorf("unexpected job fields: %+v", job)
	}
	if len(job.Tags) != 2 {
		t.Fatalf("expected unknown-category tag to be skipped, got %v", job.Tags)
	}
	if got := job.TagsInCategory(engine.CategorySkill); len(got) != 1 || got[0] != "go" {
		t.Errorf("skill tags = %v, want [go]", got)
	}
}

func TestSQLiteJobProvider_NotFound(t *testing.T) {
	_, err := NewSQLiteJobProvider(testStore(t)).GetJob(context.Background(), "missing")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteProfileProvider_AbsentIsNil(t *testing.T) {
	manager := profile.NewManager(testStore(t))
	p, err := NewSQLiteProfileProvider(manager).GetProfile(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected nil error for absent profile, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil profile for absent member, got %+v", p)
	}
}

func TestSQLiteProfileProvider_GetProfile(t *testing.T) {
	store := testStore(t)
	manager := profile.NewManager(store)
	if err := manager.Put(context.Background(), profile.MemberProfile{
		MemberID: "m1",
		Skills:   []string{"go"},
	}); err != nil {
		t.Fatalf("putting profile: %v", err)
	}

	p, err := NewSQLiteProfileProvider(manager).GetProfile(context.Background(), "m1")
	if err != nil {
		t.Fatalf("getting profile: %v", err)
	}
	if p == nil || len(p.Skills) != 1 || p.Skills[0] != "go" {
		t.Errorf("unexpected profile: %+v", p)
	}
}
