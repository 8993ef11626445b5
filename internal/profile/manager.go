package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/storage"
)

func isNotFound(err error) bool { return errors.Is(err, engine.ErrNotFound) }

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetProfile(ctx context.Context, memberID string) (storage.ProfileRow, error)
	UpsertProfile(ctx context.Context, row storage.ProfileRow) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cachedEntry struct {
	profile  MemberProfile
	cachedAt time.Time
}

// Manager provides cached, structured access to member profiles stored in
// SQLite. Reads within the TTL are served from memory; every write goes
// through to storage and invalidates the member's cache entry.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu     sync.RWMutex
	cached map[string]cachedEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cachedEntry),
	}
}

// Get loads a member's profile from cache or storage. Returns
// engine.ErrNotFound (passed through from storage) when no profile exists.
func (m *Manager) Get(ctx context.Context, memberID string) (MemberProfile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cached[memberID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopy(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cached[memberID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return deepCopy(e.profile), nil
	}

	row, err := m.store.GetProfile(ctx, memberID)
	if err != nil {
		return MemberProfile{}, err
	}
	p, err := fromRow(row)
	if err != nil {
		return MemberProfile{}, fmt.Errorf("decoding profile %q: %w", memberID, err)
	}
	m.cached[memberID] = cachedEntry{profile: p, cachedAt: m.clock.Now()}
	return deepCopy(p), nil
}

// Put normalizes and persists a full profile, replacing whatever was stored.
func (m *Manager) Put(ctx context.Context, p MemberProfile) error {
	if p.MemberID == "" {
		return fmt.Errorf("profile is missing a member id")
	}
	p.Normalize()

	row, err := toRow(p, m.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("encoding profile %q: %w", p.MemberID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.UpsertProfile(ctx, row); err != nil {
		return fmt.Errorf("storing profile %q: %w", p.MemberID, err)
	}
	delete(m.cached, p.MemberID)
	return nil
}

// Patch describes an incremental profile update. Attribute slices are merged
// into the existing sets; preference keys overwrite existing values.
type Patch struct {
	AddSkills      []string          `json:"addSkills,omitempty"`
	AddCompanies   []string          `json:"addCompanies,omitempty"`
	AddDomains     []string          `json:"addDomains,omitempty"`
	SetPreferences map[string]string `json:"setPreferences,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.AddSkills) == 0 && len(p.AddCompanies) == 0 &&
		len(p.AddDomains) == 0 && len(p.SetPreferences) == 0
}

// Apply merges a patch into a member's profile and persists the result.
// A missing profile is created from the patch alone. Returns the updated
// profile.
func (m *Manager) Apply(ctx context.Context, memberID string, patch Patch) (MemberProfile, error) {
	current, err := m.Get(ctx, memberID)
	if err != nil {
		if !isNotFound(err) {
			return MemberProfile{}, err
		}
		current = MemberProfile{MemberID: memberID}
	}

	current.Skills = append(current.Skills, patch.AddSkills...)
	current.PastCompanies = append(current.PastCompanies, patch.AddCompanies...)
	current.Domains = append(current.Domains, patch.AddDomains...)
	if len(patch.SetPreferences) > 0 {
		if current.Preferences == nil {
			current.Preferences = make(map[string]string, len(patch.SetPreferences))
		}
		for k, v := range patch.SetPreferences {
			current.Preferences[k] = v
		}
	}

	if err := m.Put(ctx, current); err != nil {
		return MemberProfile{}, err
	}
	return m.Get(ctx, memberID)
}

func toRow(p MemberProfile, now time.Time) (storage.ProfileRow, error) {
	skills, err := json.Marshal(p.Skills)
	if err != nil {
		return storage.ProfileRow{}, err
	}
	companies, err := json.Marshal(p.PastCompanies)
	if err != nil {
		return storage.ProfileRow{}, err
	}
	domains, err := json.Marshal(p.Domains)
	if err != nil {
		return storage.ProfileRow{}, err
	}
	prefs := p.Preferences
	if prefs == nil {
		prefs = map[string]string{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return storage.ProfileRow{}, err
	}
	return storage.ProfileRow{
		MemberID:      p.MemberID,
		Skills:        string(skills),
		PastCompanies: string(companies),
		Domains:       string(domains),
		Preferences:   string(prefsJSON),
		UpdatedAt:     now,
	}, nil
}

func fromRow(row storage.ProfileRow) (MemberProfile, error) {
	p := MemberProfile{MemberID: row.MemberID}
	if err := unmarshalField(row.Skills, &p.Skills); err != nil {
		return MemberProfile{}, fmt.Errorf("skills: %w", err)
	}
	if err := unmarshalField(row.PastCompanies, &p.PastCompanies); err != nil {
		return MemberProfile{}, fmt.Errorf("past companies: %w", err)
	}
	if err := unmarshalField(row.Domains, &p.Domains); err != nil {
		return MemberProfile{}, fmt.Errorf("domains: %w", err)
	}
	if err := unmarshalField(row.Preferences, &p.Preferences); err != nil {
		return MemberProfile{}, fmt.Errorf("preferences: %w", err)
	}
	p.Normalize()
	return p, nil
}

func unmarshalField(raw string, target any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}

func deepCopy(p MemberProfile) MemberProfile {
	cp := p
	if p.Skills != nil {
		cp.Skills = append([]string(nil), p.Skills...)
	}
	if p.PastCompanies != nil {
		cp.PastCompanies = append([]string(nil), p.PastCompanies...)
	}
	if p.Domains != nil {
		cp.Domains = append([]string(nil), p.Domains...)
	}
	if p.Preferences != nil {
		cp.Preferences = make(map[string]string, len(p.Preferences))
		for k, v := range p.Preferences {
			cp.Preferences[k] = v
		}
	}
	return cp
}
