package storage

import "time"

// InteractionRow is one append-only nudge interaction record. Rows are never
// updated or deleted by this service.
type InteractionRow struct {
	ID        string
	MemberID  string
	JobID     string
	NudgeID   string
	Action    string
	Metadata  string // JSON object stored as text
	CreatedAt time.Time
}

// EventRow is a generic lifecycle event (job_viewed, referral_submitted,
// candidate_hired) feeding funnel computation.
type EventRow struct {
	ID        string
	Type      string
	MemberID  string
	JobID     string
	Metadata  string // JSON object stored as text
	CreatedAt time.Time
}

// ProfileRow is the persisted form of a member profile. The sets and the
// preference map are JSON stored as text.
type ProfileRow struct {
	MemberID      string
	Skills        string
	PastCompanies string
	Domains       string
	Preferences   string
	UpdatedAt     time.Time
}

// JobRow is a persisted job with its immutable tags.
type JobRow struct {
	ID        string
	Title     string
	Company   string
	CreatedAt time.Time
	Tags      []JobTagRow
}

type JobTagRow struct {
	Name     string
	Category string
}

// InteractionFilter narrows interaction listings. Zero-valued fields are
// ignored; Since bounds created_at from below when non-zero.
type InteractionFilter struct {
	MemberID string
	JobID    string
	Since    time.Time
}

// EventFilter narrows event listings the same way.
type EventFilter struct {
	JobID string
	Since time.Time
}
