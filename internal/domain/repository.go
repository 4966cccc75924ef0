package domain

import (
	"context"
	"time"
)

// ProjectRepository persists job records.
//
// Writes are single statements: project_data patches are merged by the
// database, and Transition only applies while the row is still processing at
// the expected version. Callers never read-modify-write project_data.
type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	// GetByID loads a project without an ownership filter (service role).
	GetByID(ctx context.Context, id string) (*Project, error)
	// GetForUser loads a project owned by userID; foreign rows yield ErrNotFound.
	GetForUser(ctx context.Context, id, userID string) (*Project, error)
	// MergeData merges patch into project_data regardless of status and bumps the version.
	MergeData(ctx context.Context, id string, patch ProjectData) error
	// Transition moves a processing project at version to status, merging patch.
	// It reports false when the row was no longer processing at that version.
	Transition(ctx context.Context, id string, version int, status JobStatus, patch ProjectData) (bool, error)
	// ListStale returns processing projects of tool created before cutoff, oldest first.
	ListStale(ctx context.Context, tool string, cutoff time.Time, limit int) ([]Project, error)
}
