package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

const projectColumns = `id, name, description, created_at`

func scanProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects, oldest first
func (db *DB) ListProjects(ctx context.Context) ([]types.Project, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY seq`)
	if err != nil {
		return nil, unavailable("list projects", err)
	}
	defer rows.Close()

	projects := []types.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, unavailable("scan project", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list projects", err)
	}
	return projects, nil
}

// GetProject retrieves a project by ID
func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	p, err := scanProject(db.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, store.NotFoundError(store.EntityProject, id)
		}
		return nil, unavailable("get project", err)
	}
	return p, nil
}

// CreateProject inserts a new project
func (db *DB) CreateProject(ctx context.Context, name, description string) (*types.Project, error) {
	p, err := scanProject(db.pool.QueryRow(ctx,
		`INSERT INTO projects (id, name, description)
		 VALUES ($1, $2, $3)
		 RETURNING `+projectColumns,
		uuid.New(), name, description,
	))
	if err != nil {
		return nil, unavailable("create project", err)
	}
	return p, nil
}

// DeleteProject removes a project; pipelines and runs cascade
func (db *DB) DeleteProject(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return unavailable("delete project", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundError(store.EntityProject, id)
	}
	return nil
}

func (db *DB) projectExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
