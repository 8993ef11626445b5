package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	rows map[string]storage.ProfileRow

	getCalls int
}

func newMockStore() *mockStore {
	return &mockStore{rows: make(map[string]storage.ProfileRow)}
}

func (m *mockStore) GetProfile(_ context.Context, memberID string) (storage.ProfileRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	row, ok := m.rows[memberID]
	if !ok {
		return storage.ProfileRow{}, engine.ErrNotFound
	}
	return row, nil
}

func (m *mockStore) UpsertProfile(_ context.Context, row storage.ProfileRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.MemberID] = row
	return nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_NotFound(t *testing.T) {
	mgr := NewManager(newMockStore())

	_, err := mgr.Get(context.Background(), "missing")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	mgr := NewManager(newMockStore())

	err := mgr.Put(context.Background(), MemberProfile{
		MemberID:      "m1",
		Skills:        []string{"Go", "  python ", "go"},
		PastCompanies: []string{"Acme"},
		Domains:       []string{"FinTech"},
		Preferences:   map[string]string{"open_to_new_roles": "true"},
	})
	if err != nil {
		t.Fatalf("putting profile: %v", err)
	}

	p, err := mgr.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("getting profile: %v", err)
	}
	if len(p.Skills) != 2 || p.Skills[0] != "go" || p.Skills[1] != "python" {
		t.Errorf("expected normalized skills [go python], got %v", p.Skills)
	}
	if p.Preference("open_to_new_roles") != "true" {
		t.Errorf("preference missing after round trip: %v", p.Preferences)
	}
}

func TestGet_CachesWithinTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	if err := mgr.Put(context.Background(), MemberProfile{MemberID: "m1", Skills: []string{"go"}}); err != nil {
		t.Fatalf("putting profile: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := mgr.Get(context.Background(), "m1"); err != nil {
			t.Fatalf("getting profile: %v", err)
		}
	}
	if store.getCalls != 1 {
		t.Errorf("expected 1 store read within TTL, got %d", store.getCalls)
	}

	clock.Advance(2 * time.Minute)
	if _, err := mgr.Get(context.Background(), "m1"); err != nil {
		t.Fatalf("getting profile after TTL: %v", err)
	}
	if store.getCalls != 2 {
		t.Errorf("expected re-read after TTL expiry, got %d store reads", store.getCalls)
	}
}

func TestPut_InvalidatesCache(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(store, clock, time.Hour)

	if err := mgr.Put(context.Background(), MemberProfile{MemberID: "m1", Skills: []string{"go"}}); err != nil {
		t.Fatalf("putting profile: %v", err)
	}
	if _, err := mgr.Get(context.Background(), "m1"); err != nil {
		t.Fatalf("getting profile: %v", err)
	}

	if err := mgr.Put(context.Background(), MemberProfile{MemberID: "m1", Skills: []string{"rust"}}); err != nil {
		t.Fatalf("updating profile: %v", err)
	}
	p, err := mgr.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("getting updated profile: %v", err)
	}
	if len(p.Skills) != 1 || p.Skills[0] != "rust" {
		t.Errorf("expected updated skills [rust], got %v", p.Skills)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.Put(context.Background(), MemberProfile{MemberID: "m1", Skills: []string{"go"}}); err != nil {
		t.Fatalf("putting profile: %v", err)
	}
	p1, _ := mgr.Get(context.Background(), "m1")
	p1.Skills[0] = "mutated"

	p2, _ := mgr.Get(context.Background(), "m1")
	if p2.Skills[0] != "go" {
		t.Errorf("cache was mutated through a returned profile: %v", p2.Skills)
	}
}

func TestApply_MergesIntoExisting(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.Put(context.Background(), MemberProfile{
		MemberID: "m1",
		Skills:   []string{"go"},
	}); err != nil {
		t.Fatalf("putting profile: %v", err)
	}

	p, err := mgr.Apply(context.Background(), "m1", Patch{
		AddSkills:      []string{"Python", "go"},
		AddCompanies:   []string{"Acme"},
		SetPreferences: map[string]string{"open_to_new_roles": "true"},
	})
	if err != nil {
		t.Fatalf("applying patch: %v", err)
	}
	if len(p.Skills) != 2 {
		t.Errorf("expected merged deduplicated skills, got %v", p.Skills)
	}
	if len(p.PastCompanies) != 1 || p.PastCompanies[0] != "acme" {
		t.Errorf("expected companies [acme], got %v", p.PastCompanies)
	}
	if p.Preference("open_to_new_roles") != "true" {
		t.Errorf("preference not applied: %v", p.Preferences)
	}
}

func TestApply_CreatesMissingProfile(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, err := mgr.Apply(context.Background(), "new-member", Patch{AddSkills: []string{"go"}})
	if err != nil {
		t.Fatalf("applying patch to missing profile: %v", err)
	}
	if p.MemberID != "new-member" || len(p.Skills) != 1 {
		t.Errorf("expected freshly created profile, got %+v", p)
	}
}

func TestPut_RequiresMemberID(t *testing.T) {
	mgr := NewManager(newMockStore())
	if err := mgr.Put(context.Background(), MemberProfile{Skills: []string{"go"}}); err == nil {
		t.Fatal("expected error for empty member id")
	}
}

func TestExtractFromText(t *testing.T) {
	extract := extractFromText(`
		Senior Engineer at Google.
		Built payment systems in Golang and Python, deployed on Kubernetes.
		Fintech background; PostgreSQL, Redis.
	`)

	wantSkills := []string{"go", "kubernetes", "postgresql", "python", "redis"}
	if len(extract.Skills) != len(wantSkills) {
		t.Fatalf("skills = %v, want %v", extract.Skills, wantSkills)
	}
	for i, s := range wantSkills {
		if extract.Skills[i] != s {
			t.Errorf("skills[%d] = %q, want %q", i, extract.Skills[i], s)
		}
	}

	wantDomains := []string{"fintech", "payments"}
	if len(extract.Domains) != 2 || extract.Domains[0] != wantDomains[0] || extract.Domains[1] != wantDomains[1] {
		t.Errorf("domains = %v, want %v", extract.Domains, wantDomains)
	}
}

func TestExtractFromText_WordBoundaries(t *testing.T) {
	// "go" must not fire on substrings of other words.
	extract := extractFromText("Worked at Google on algorithms.")
	if len(extract.Skills) != 0 {
		t.Errorf("expected no skills from substring matches, got %v", extract.Skills)
	}
}
