// Package sqlite provides an embedded SQLite implementation of store.Store for
// single-user deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

// Store is a store.Store backed by a SQLite file
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and initializes the schema
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps conditional saves serialized.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			script TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			status_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			completed_at DATETIME,
			FOREIGN KEY(pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipelines_project_id ON pipelines(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_pipeline_id ON pipeline_runs(pipeline_id)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func unavailable(op string, err error) error {
	return store.UnavailableError(fmt.Errorf("failed to %s: %w", op, err))
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM projects ORDER BY rowid`)
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

func scanProject(row scanner) (*types.Project, error) {
	var p types.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM projects WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundError(store.EntityProject, id)
		}
		return nil, unavailable("get project", err)
	}
	return p, nil
}

func (s *Store) CreateProject(ctx context.Context, name, description string) (*types.Project, error) {
	p := types.Project{ID: uuid.New(), Name: name, Description: description, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt)
	if err != nil {
		return nil, unavailable("create project", err)
	}
	return &p, nil
}

func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFoundError(store.EntityProject, id)
	}
	return nil
}

const pipelineColumns = `id, project_id, name, script, status, version, created_at, updated_at`

func scanPipeline(row scanner) (*types.Pipeline, error) {
	var p types.Pipeline
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Script, &p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPipelines(ctx context.Context, projectID uuid.UUID) ([]types.Pipeline, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE project_id = ? ORDER BY rowid`, projectID)
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
	return pipelines, nil
}

func (s *Store) GetPipeline(ctx context.Context, id uuid.UUID) (*types.Pipeline, error) {
	p, err := scanPipeline(s.db.QueryRowContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundError(store.EntityPipeline, id)
		}
		return nil, unavailable("get pipeline", err)
	}
	return p, nil
}

func (s *Store) CreatePipeline(ctx context.Context, projectID uuid.UUID, name, script string) (*types.Pipeline, error) {
	if script == "" {
		script = store.TemplateScript
	}
	now := s.now()
	p := types.Pipeline{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      name,
		Script:    script,
		Status:    types.PipelineStatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipelines (`+pipelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.Name, p.Script, p.Status, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFoundError(store.EntityProject, projectID)
		}
		return nil, unavailable("create pipeline", err)
	}
	return &p, nil
}

func (s *Store) SavePipeline(ctx context.Context, id uuid.UUID, script string, ifVersion int64) (*types.Pipeline, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin save", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET script = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND (? = 0 OR version = ?)`,
		script, s.now(), id, ifVersion, ifVersion)
	if err != nil {
		return nil, unavailable("save pipeline", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return nil, unavailable("save pipeline", err)
	}

	p, err := scanPipeline(tx.QueryRowContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundError(store.EntityPipeline, id)
		}
		return nil, unavailable("get pipeline", err)
	}
	if updated == 0 {
		return nil, store.ConflictError(store.EntityPipeline, id, ifVersion, p.Version)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit save", err)
	}
	return p, nil
}

func (s *Store) RenamePipeline(ctx context.Context, id uuid.UUID, name string) (*types.Pipeline, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET name = ?, updated_at = ? WHERE id = ?`, name, s.now(), id)
	if err != nil {
		return nil, unavailable("rename pipeline", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, unavailable("rename pipeline", err)
	} else if n == 0 {
		return nil, store.NotFoundError(store.EntityPipeline, id)
	}
	return s.GetPipeline(ctx, id)
}

const runColumns = `id, pipeline_id, status, status_message, created_at, completed_at`

func scanRun(row scanner) (*types.Run, error) {
	var r types.Run
	var completed sql.NullTime
	if err := row.Scan(&r.ID, &r.PipelineID, &r.Status, &r.StatusMessage, &r.CreatedAt, &completed); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func (s *Store) RecordRun(ctx context.Context, run types.Run) (*types.Run, error) {
	if run.Status == "" {
		run.Status = types.RunStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, pipeline_id, status, status_message, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		run.ID, run.PipelineID, run.Status, run.StatusMessage, s.now())
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFoundError(store.EntityPipeline, run.PipelineID)
		}
		return nil, unavailable("record run", err)
	}
	return s.GetRun(ctx, run.ID)
}

func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundError(store.EntityRun, id)
		}
		return nil, unavailable("get run", err)
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, pipelineID uuid.UUID) ([]types.Run, error) {
	if _, err := s.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE pipeline_id = ? ORDER BY rowid DESC`, pipelineID)
	if err != nil {
		return nil, unavailable("list runs", err)
	}
	defer rows.Close()

	runs := []types.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, unavailable("scan run", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list runs", err)
	}
	return runs, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	var completed any
	if store.IsTerminal(status) {
		completed = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, status_message = ?, completed_at = COALESCE(?, completed_at)
		 WHERE id = ?`,
		status, message, completed, id)
	if err != nil {
		return unavailable("update run status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFoundError(store.EntityRun, id)
	}
	return nil
}
