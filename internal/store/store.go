// Package store defines the Pipeline Store: durable projects, pipelines and
// run records. Backends live in this package (memory) and in internal/db.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/ciencia/internal/types"
)

// TemplateScript seeds pipelines created without a script
const TemplateScript = "#!/usr/bin/env nextflow\n\nnextflow.enable.dsl=2\n\n// Your pipeline here\n"

// Store is the persistence contract shared by every backend.
type Store interface {
	ListProjects(ctx context.Context) ([]types.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error)
	CreateProject(ctx context.Context, name, description string) (*types.Project, error)
	// DeleteProject removes the project together with its pipelines and runs.
	DeleteProject(ctx context.Context, id uuid.UUID) error

	// ListPipelines returns the project's pipelines, oldest first.
	ListPipelines(ctx context.Context, projectID uuid.UUID) ([]types.Pipeline, error)
	GetPipeline(ctx context.Context, id uuid.UUID) (*types.Pipeline, error)
	// CreatePipeline stores a new draft pipeline at version 1. An empty script
	// is replaced with TemplateScript.
	CreatePipeline(ctx context.Context, projectID uuid.UUID, name, script string) (*types.Pipeline, error)
	// SavePipeline atomically replaces the script and increments the version.
	// ifVersion 0 saves unconditionally; otherwise the save fails with a
	// Conflict unless the stored version equals ifVersion.
	SavePipeline(ctx context.Context, id uuid.UUID, script string, ifVersion int64) (*types.Pipeline, error)
	// RenamePipeline changes the name only. The script and version are untouched.
	RenamePipeline(ctx context.Context, id uuid.UUID, name string) (*types.Pipeline, error)

	// RecordRun inserts the run unless a run with the same ID exists, and
	// returns the stored record either way.
	RecordRun(ctx context.Context, run types.Run) (*types.Run, error)
	GetRun(ctx context.Context, id string) (*types.Run, error)
	// ListRuns returns the pipeline's runs, newest first.
	ListRuns(ctx context.Context, pipelineID uuid.UUID) ([]types.Run, error)
	// UpdateRunStatus sets a run's status. Terminal statuses stamp CompletedAt.
	UpdateRunStatus(ctx context.Context, id, status, message string) error

	Close() error
}

// Kind classifies store failures
type Kind string

const (
	NotFound    Kind = "not_found"
	Unavailable Kind = "unavailable"
	Conflict    Kind = "conflict"
	// Invalid marks input the backend refused, such as a request the API
	// answered with 400.
	Invalid Kind = "invalid"
)

// Entity names used in failures
const (
	EntityProject  = "project"
	EntityPipeline = "pipeline"
	EntityRun      = "run"
)

// Failure is returned by every Store method that fails
type Failure struct {
	Kind   Kind
	Entity string
	ID     string
	Err    error
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Entity != "" {
		msg = fmt.Sprintf("%s %s: %s", f.Entity, f.ID, f.Kind)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NotFoundError reports a missing entity
func NotFoundError(entity string, id any) *Failure {
	return &Failure{Kind: NotFound, Entity: entity, ID: fmt.Sprint(id)}
}

// ConflictError reports a conditional save against a stale version
func ConflictError(entity string, id any, want, have int64) *Failure {
	return &Failure{
		Kind:   Conflict,
		Entity: entity,
		ID:     fmt.Sprint(id),
		Err:    fmt.Errorf("expected version %d, stored version is %d", want, have),
	}
}

// UnavailableError wraps a backend I/O error
func UnavailableError(err error) *Failure {
	return &Failure{Kind: Unavailable, Err: err}
}

// KindOf returns the failure kind of err, or "" if err is not a Failure
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound failure
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// IsInvalid reports whether err is an Invalid failure
func IsInvalid(err error) bool { return KindOf(err) == Invalid }

// IsConflict reports whether err is a Conflict failure
func IsConflict(err error) bool { return KindOf(err) == Conflict }

// IsTerminal reports whether a run status is final
func IsTerminal(status string) bool {
	return status == types.RunStatusCompleted || status == types.RunStatusFailed
}
