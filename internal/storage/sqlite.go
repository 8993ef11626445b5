// Package storage persists interactions, lifecycle events, member profiles,
// and jobs in SQLite. Interaction and event tables are append-only: nothing
// in this package updates or deletes their rows.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/referlane/referlane/internal/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "referlane.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- Interactions ---

// AppendInteraction inserts one interaction row. There is no update path.
func (s *Store) AppendInteraction(ctx context.Context, row InteractionRow) error {
	metadata := row.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, member_id, job_id, nudge_id, action, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.MemberID, row.JobID, row.NudgeID, row.Action, metadata,
		row.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListInteractions returns interaction rows matching the filter in append
// order (rowid ascending).
func (s *Store) ListInteractions(ctx context.Context, f InteractionFilter) ([]InteractionRow, error) {
	query := `SELECT id, member_id, job_id, nudge_id, action, metadata, created_at
		FROM interactions WHERE 1=1`
	var args []any
	if f.MemberID != "" {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, f.JobID)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []InteractionRow
	for rows.Next() {
		var r InteractionRow
		var createdAt string
		if err := rows.Scan(&r.ID, &r.MemberID, &r.JobID, &r.NudgeID, &r.Action, &r.Metadata, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Events ---

// AppendEvent inserts one lifecycle event row.
func (s *Store) AppendEvent(ctx context.Context, row EventRow) error {
	metadata := row.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, member_id, job_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.Type, row.MemberID, row.JobID, metadata,
		row.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListEvents returns event rows matching the filter in append order.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]EventRow, error) {
	query := `SELECT id, type, member_id, job_id, metadata, created_at
		FROM events WHERE 1=1`
	var args []any
	if f.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, f.JobID)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EventRow
	for rows.Next() {
		var r EventRow
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Type, &r.MemberID, &r.JobID, &r.Metadata, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Member profiles ---

// UpsertProfile writes a profile row, replacing any existing one for the member.
func (s *Store) UpsertProfile(ctx context.Context, row ProfileRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member_profiles (member_id, skills, past_companies, domains, preferences, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			skills = excluded.skills,
			past_companies = excluded.past_companies,
			domains = excluded.domains,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at`,
		row.MemberID, row.Skills, row.PastCompanies, row.Domains, row.Preferences,
		row.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetProfile returns the profile row for memberID, or engine.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, memberID string) (ProfileRow, error) {
	var r ProfileRow
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id, skills, past_companies, domains, preferences, updated_at
		FROM member_profiles WHERE member_id = ?`, memberID,
	).Scan(&r.MemberID, &r.Skills, &r.PastCompanies, &r.Domains, &r.Preferences, &updatedAt)
	if err == sql.ErrNoRows {
		return ProfileRow{}, engine.ErrNotFound
	}
	if err != nil {
		return ProfileRow{}, err
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return ProfileRow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

// --- Jobs ---

// InsertJob writes a job and its tags in one transaction. Tags are immutable
// once attached, so re-inserting an existing job fails.
func (s *Store) InsertJob(ctx context.Context, row JobRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning job insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (id, title, company, created_at) VALUES (?, ?, ?, ?)`,
		row.ID, row.Title, row.Company, row.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	for _, tag := range row.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_tags (job_id, name, category) VALUES (?, ?, ?)`,
			row.ID, tag.Name, tag.Category,
		); err != nil {
			return fmt.Errorf("inserting tag %q: %w", tag.Name, err)
		}
	}
	return tx.Commit()
}

// GetJob returns a job with its tags, or engine.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (JobRow, error) {
	var r JobRow
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, company, created_at FROM jobs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &r.Company, &createdAt)
	if err == sql.ErrNoRows {
		return JobRow{}, engine.ErrNotFound
	}
	if err != nil {
		return JobRow{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return JobRow{}, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, category FROM job_tags WHERE job_id = ? ORDER BY name, category`, id)
	if err != nil {
		return JobRow{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var t JobTagRow
		if err := rows.Scan(&t.Name, &t.Category); err != nil {
			return JobRow{}, err
		}
		r.Tags = append(r.Tags, t)
	}
	return r, rows.Err()
}
