package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"refiner/internal/domain"
	"refiner/internal/infra"
	"refiner/internal/sqlinline"
)

// ProjectRepositoryPG implements domain.ProjectRepository on the projects table.
type ProjectRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewProjectRepository creates a project repository backed by PostgreSQL.
func NewProjectRepository(sql infra.SQLExecutor) *ProjectRepositoryPG {
	return &ProjectRepositoryPG{sql: sql}
}

// Create inserts a new project and fills in the database timestamps.
func (r *ProjectRepositoryPG) Create(ctx context.Context, p *domain.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	data, err := marshalData(p.Data)
	if err != nil {
		return err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertProject, p.ID, p.UserID, p.Name, p.Tool, string(p.Status), data)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	p.Version = 0
	return nil
}

// GetByID fetches a project without an ownership filter.
func (r *ProjectRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}
	return scanProject(r.sql.QueryRow(ctx, sqlinline.QSelectProjectByID, id))
}

// GetForUser fetches a project owned by userID.
func (r *ProjectRepositoryPG) GetForUser(ctx context.Context, id, userID string) (*domain.Project, error) {
	if !validID(id) || !validID(userID) {
		return nil, domain.ErrNotFound
	}
	return scanProject(r.sql.QueryRow(ctx, sqlinline.QSelectProjectForUser, id, userID))
}

// MergeData merges patch into project_data in a single statement.
func (r *ProjectRepositoryPG) MergeData(ctx context.Context, id string, patch domain.ProjectData) error {
	data, err := marshalData(patch)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QMergeProjectData, id, data)
	if err != nil {
		return fmt.Errorf("merge project data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Transition applies a conditional status change.
func (r *ProjectRepositoryPG) Transition(ctx context.Context, id string, version int, status domain.JobStatus, patch domain.ProjectData) (bool, error) {
	data, err := marshalData(patch)
	if err != nil {
		return false, err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QTransitionProject, id, version, string(status), data)
	if err != nil {
		return false, fmt.Errorf("transition project: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStale returns processing projects created before cutoff.
func (r *ProjectRepositoryPG) ListStale(ctx context.Context, tool string, cutoff time.Time, limit int) ([]domain.Project, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectStaleProjects, tool, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale projects: %w", err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale projects: %w", err)
	}
	return out, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p      domain.Project
		status string
		raw    []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Tool, &status, &raw, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.Status = domain.JobStatus(status)
	p.Data = domain.ProjectData{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Data); err != nil {
			return nil, fmt.Errorf("decode project_data: %w", err)
		}
	}
	return &p, nil
}

func marshalData(d domain.ProjectData) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode project_data: %w", err)
	}
	return b, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var _ domain.ProjectRepository = (*ProjectRepositoryPG)(nil)
