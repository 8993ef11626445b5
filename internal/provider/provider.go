// Package provider defines the lookup surfaces the engine reads jobs and
// member profiles through, plus SQLite-backed reference implementations.
// Deployments embedding the engine into an existing platform supply their
// own implementations; the reference ones make the binary usable standalone.
package provider

import (
	"context"
	"errors"
	"log/slog"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/profile"
	"github.com/referlane/referlane/internal/storage"
)

// JobProvider resolves job postings by ID.
type JobProvider interface {
	// GetJob returns the job or engine.ErrNotFound.
	GetJob(ctx context.Context, id string) (engine.Job, error)
}

// ProfileProvider resolves member profiles.
type ProfileProvider interface {
	// GetProfile returns (nil, nil) when the member has no profile; a nil
	// error with a nil profile means "treat as empty", not a failure.
	GetProfile(ctx context.Context, memberID string) (*profile.MemberProfile, error)
}

// SQLiteJobProvider serves jobs from the local storage layer.
type SQLiteJobProvider struct {
	store *storage.Store
}

func NewSQLiteJobProvider(store *storage.Store) *SQLiteJobProvider {
	return &SQLiteJobProvider{store: store}
}

func (p *SQLiteJobProvider) GetJob(ctx context.Context, id string) (engine.Job, error) {
	row, err := p.store.GetJob(ctx, id)
	if err != nil {
		return engine.Job{}, err
	}
	job := engine.Job{
		ID:      row.ID,
		Title:   row.Title,
		Company: row.Company,
	}
	for _, tag := range row.Tags {
		category, err := engine.ParseTagCategory(tag.Category)
		if err != nil {
			// Unknown categories are skipped rather than failing the
			// whole job; the matcher ignores them anyway.
			slog.Warn("skipping job tag with unknown category",
				"job", row.ID, "tag", tag.Name, "category", tag.Category)
			continue
		}
		job.Tags = append(job.Tags, engine.JobTag{Name: tag.Name, Category: category})
	}
	return job, nil
}

// SQLiteProfileProvider serves profiles through the cached profile manager.
type SQLiteProfileProvider struct {
	manager *profile.Manager
}

func NewSQLiteProfileProvider(manager *profile.Manager) *SQLiteProfileProvider {
	return &SQLiteProfileProvider{manager: manager}
}

func (p *SQLiteProfileProvider) GetProfile(ctx context.Context, memberID string) (*profile.MemberProfile, error) {
	mp, err := p.manager.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mp, nil
}
