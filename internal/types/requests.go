package types

import (
	"github.com/go-playground/validator/v10"
)

// CreateProjectRequest is the body of POST /projects
type CreateProjectRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// CreatePipelineRequest is the body of POST /projects/{id}/pipelines.
// An empty script is replaced by the store's template.
type CreatePipelineRequest struct {
	Name   string `json:"name" validate:"required,min=1,max=200"`
	Script string `json:"script"`
}

// SavePipelineRequest is the body of PUT /pipelines/{id}.
// Script, when present, replaces the stored script; an empty string is a valid
// script. Name, when set, renames the pipeline. Version, when non-zero, makes
// the script save conditional on the stored version.
type SavePipelineRequest struct {
	Script  *string `json:"script,omitempty"`
	Name    string  `json:"name,omitempty" validate:"required_without=Script,omitempty,max=200"`
	Version int64   `json:"version,omitempty" validate:"gte=0"`
}

// ExecuteRequest is the body of POST /pipelines/{id}/execute
type ExecuteRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

// RecordRunRequest is the body of POST /pipelines/{id}/runs
type RecordRunRequest struct {
	RunID         string `json:"run_id" validate:"required,max=200"`
	Status        string `json:"status" validate:"omitempty,oneof=pending running completed failed"`
	StatusMessage string `json:"status_message"`
}

// ChatRequest is the body of POST /chat/message
type ChatRequest struct {
	Message string `json:"message" validate:"required"`
	Context []Turn `json:"context,omitempty" validate:"dive"`
}

// ChatResponse is the response of POST /chat/message
type ChatResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

// GenerateRequest is the body of POST /chat/generate-pipeline
type GenerateRequest struct {
	Description    string `json:"description" validate:"required"`
	ExperimentType string `json:"experiment_type,omitempty"`
	Context        []Turn `json:"context,omitempty" validate:"dive"`
}

// GenerateResponse is the response of POST /chat/generate-pipeline
type GenerateResponse struct {
	Script      string `json:"script"`
	Explanation string `json:"explanation"`
	Success     bool   `json:"success"`
}

// ValidateScriptRequest is the body of POST /chat/validate-script
type ValidateScriptRequest struct {
	Script string `json:"script" validate:"required"`
}

// StructureSearchRequest is the body of POST /alphafold/search
type StructureSearchRequest struct {
	GeneName string `json:"gene_name" validate:"required,max=64"`
}

// StructurePredictionRequest is the body of POST /alphafold/prediction
type StructurePredictionRequest struct {
	UniprotID string `json:"uniprot_id" validate:"required,alphanum,max=16"`
}

var validate = validator.New()

// Validate validates the CreateProjectRequest using the validator.
func (r *CreateProjectRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the CreatePipelineRequest using the validator.
func (r *CreatePipelineRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the SavePipelineRequest using the validator.
func (r *SavePipelineRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ExecuteRequest using the validator.
func (r *ExecuteRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the RecordRunRequest using the validator.
func (r *RecordRunRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ChatRequest using the validator.
func (r *ChatRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the GenerateRequest using the validator.
func (r *GenerateRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ValidateScriptRequest using the validator.
func (r *ValidateScriptRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the StructureSearchRequest using the validator.
func (r *StructureSearchRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the StructurePredictionRequest using the validator.
func (r *StructurePredictionRequest) Validate() error {
	return validate.Struct(r)
}
