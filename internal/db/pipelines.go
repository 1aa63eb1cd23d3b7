package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

const pipelineColumns = `id, project_id, name, script, status, version, created_at, updated_at`

func scanPipeline(row pgx.Row) (*types.Pipeline, error) {
	var p types.Pipeline
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Script, &p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPipelines returns a project's pipelines, oldest first
func (db *DB) ListPipelines(ctx context.Context, projectID uuid.UUID) ([]types.Pipeline, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE project_id = $1 ORDER BY seq`, projectID)
	if err != nil {
		return nil, unavailable("list pipelines", err)
	}
	defer rows.Close()

	pipelines := []types.Pipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, unavailable("scan pipeline", err)
		}
		pipelines = append(pipelines, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list pipelines", err)
	}

	if len(pipelines) == 0 {
		exists, err := db.projectExists(ctx, projectID)
		if err != nil {
			return nil, unavailable("get project", err)
		}
		if !exists {
			return nil, store.NotFoundError(store.EntityProject, projectID)
		}
	}
	return pipelines, nil
}

// GetPipeline retrieves a pipeline by ID
func (db *DB) GetPipeline(ctx context.Context, id uuid.UUID) (*types.Pipeline, error) {
	p, err := scanPipeline(db.pool.QueryRow(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, store.NotFoundError(store.EntityPipeline, id)
		}
		return nil, unavailable("get pipeline", err)
	}
	return p, nil
}

// CreatePipeline inserts a draft pipeline at version 1
func (db *DB) CreatePipeline(ctx context.Context, projectID uuid.UUID, name, script string) (*types.Pipeline, error) {
	if script == "" {
		script = store.TemplateScript
	}
	p, err := scanPipeline(db.pool.QueryRow(ctx,
		`INSERT INTO pipelines (id, project_id, name, script, status, version)
		 VALUES ($1, $2, $3, $4, $5, 1)
		 RETURNING `+pipelineColumns,
		uuid.New(), projectID, name, script, types.PipelineStatusDraft,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFoundError(store.EntityProject, projectID)
		}
		return nil, unavailable("create pipeline", err)
	}
	return p, nil
}

// SavePipeline replaces the script in a single conditional UPDATE
func (db *DB) SavePipeline(ctx context.Context, id uuid.UUID, script string, ifVersion int64) (*types.Pipeline, error) {
	p, err := scanPipeline(db.pool.QueryRow(ctx,
		`UPDATE pipelines
		 SET script = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND ($3::BIGINT = 0 OR version = $3)
		 RETURNING `+pipelineColumns,
		id, script, ifVersion,
	))
	if err == nil {
		return p, nil
	}
	if !isNoRows(err) {
		return nil, unavailable("save pipeline", err)
	}

	// Nothing matched: either the pipeline is gone or the version moved on.
	var current int64
	err = db.pool.QueryRow(ctx, `SELECT version FROM pipelines WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return nil, store.NotFoundError(store.EntityPipeline, id)
		}
		return nil, unavailable("get pipeline version", err)
	}
	return nil, store.ConflictError(store.EntityPipeline, id, ifVersion, current)
}

// RenamePipeline sets the name without touching the script or version
func (db *DB) RenamePipeline(ctx context.Context, id uuid.UUID, name string) (*types.Pipeline, error) {
	p, err := scanPipeline(db.pool.QueryRow(ctx,
		`UPDATE pipelines SET name = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+pipelineColumns,
		id, name,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, store.NotFoundError(store.EntityPipeline, id)
		}
		return nil, unavailable("rename pipeline", err)
	}
	return p, nil
}
