package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

const runColumns = `id, pipeline_id, status, status_message, created_at, completed_at`

func scanRun(row pgx.Row) (*types.Run, error) {
	var r types.Run
	if err := row.Scan(&r.ID, &r.PipelineID, &r.Status, &r.StatusMessage, &r.CreatedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordRun inserts the run if its ID is new and returns the stored row
func (db *DB) RecordRun(ctx context.Context, run types.Run) (*types.Run, error) {
	status := run.Status
	if status == "" {
		status = types.RunStatusPending
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, pipeline_id, status, status_message)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		run.ID, run.PipelineID, status, run.StatusMessage,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFoundError(store.EntityPipeline, run.PipelineID)
		}
		return nil, unavailable("record run", err)
	}
	return db.GetRun(ctx, run.ID)
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, id string) (*types.Run, error) {
	r, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, store.NotFoundError(store.EntityRun, id)
		}
		return nil, unavailable("get run", err)
	}
	return r, nil
}

// ListRuns returns a pipeline's runs, newest first
func (db *DB) ListRuns(ctx context.Context, pipelineID uuid.UUID) ([]types.Run, error) {
	if _, err := db.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE pipeline_id = $1 ORDER BY seq DESC`, pipelineID)
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

// UpdateRunStatus sets status and message; terminal statuses stamp completed_at
func (db *DB) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $2, status_message = $3,
		     completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END
		 WHERE id = $1`,
		id, status, message, store.IsTerminal(status),
	)
	if err != nil {
		return unavailable("update run status", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundError(store.EntityRun, id)
	}
	return nil
}
