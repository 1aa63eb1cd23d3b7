// Package types provides type definitions for the projects, pipelines, runs and
// conversation turns shared by the store, the gateways and the workspace controller.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Project is a user-defined grouping of pipelines
type Project struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pipeline status labels. Status is free-form; these are the ones the system writes.
const (
	PipelineStatusDraft = "draft"
	PipelineStatusReady = "ready"
)

// Pipeline is a named, persisted Nextflow script belonging to one project.
// Version increases by one on every save and is used for conditional saves.
type Pipeline struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	Script    string    `json:"script"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run status labels
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run records one execution attempt of a pipeline. The ID is issued by the
// execution engine, not by the store.
type Run struct {
	ID            string     `json:"id"`
	PipelineID    uuid.UUID  `json:"pipeline_id"`
	Status        string     `json:"status"`
	StatusMessage string     `json:"status_message"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// RunAccepted is what the execution engine returns once it has accepted a run
type RunAccepted struct {
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	StatusMessage string `json:"message"`
}

// GeneratedScript is a pipeline script produced from a natural-language description
type GeneratedScript struct {
	Script      string `json:"script"`
	Explanation string `json:"explanation"`
}

// ScriptReview is the generation backend's assessment of a script
type ScriptReview struct {
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}
