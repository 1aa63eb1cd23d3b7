package workspace

import (
	"github.com/google/uuid"

	"github.com/jonathan/ciencia/internal/types"
)

// State is the workspace phase. It is one of Viewing, Editing, Generating or
// Executing.
type State interface {
	// Selected is the selected pipeline, or nil
	Selected() *types.Pipeline
	isState()
}

// Generated is a script produced by the generation gateway that has not been
// saved. PipelineID is the pipeline it was generated for, or uuid.Nil when no
// pipeline was selected.
type Generated struct {
	PipelineID  uuid.UUID
	Script      string
	Explanation string
}

// Viewing shows the selected pipeline's persisted script, or a generated
// preview when one is present. There is no draft.
type Viewing struct {
	Pipeline  *types.Pipeline
	Generated *Generated
}

// Editing holds the draft for the selected pipeline.
type Editing struct {
	Pipeline *types.Pipeline
	Draft    string
}

// RequestKind distinguishes the two kinds of backend conversation requests
type RequestKind string

const (
	KindGenerate RequestKind = "generate"
	KindChat     RequestKind = "chat"
)

// Generating has a generation or chat request outstanding.
type Generating struct {
	Pipeline  *types.Pipeline
	Generated *Generated
	Kind      RequestKind
	Request   string
}

// Executing has an execution request outstanding for Target.
type Executing struct {
	Pipeline  *types.Pipeline
	Generated *Generated
	Target    uuid.UUID
}

func (s Viewing) Selected() *types.Pipeline    { return s.Pipeline }
func (s Editing) Selected() *types.Pipeline    { return s.Pipeline }
func (s Generating) Selected() *types.Pipeline { return s.Pipeline }
func (s Executing) Selected() *types.Pipeline  { return s.Pipeline }

func (Viewing) isState()    {}
func (Editing) isState()    {}
func (Generating) isState() {}
func (Executing) isState()  {}

// Displayed is the script text a presentation layer should show for s: the
// draft while editing, a generated preview when present, otherwise the
// persisted script of the selection.
func Displayed(s State) string {
	switch st := s.(type) {
	case Editing:
		return st.Draft
	case Viewing:
		return displayed(st.Pipeline, st.Generated)
	case Generating:
		return displayed(st.Pipeline, st.Generated)
	case Executing:
		return displayed(st.Pipeline, st.Generated)
	}
	return ""
}

func displayed(p *types.Pipeline, g *Generated) string {
	if g != nil && (p == nil || g.PipelineID == p.ID) {
		return g.Script
	}
	if p != nil {
		return p.Script
	}
	return ""
}

// Name returns the phase name of s
func Name(s State) string {
	switch s.(type) {
	case Viewing:
		return "viewing"
	case Editing:
		return "editing"
	case Generating:
		return "generating"
	case Executing:
		return "executing"
	}
	return "unknown"
}

func clonePipeline(p *types.Pipeline) *types.Pipeline {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneGenerated(g *Generated) *Generated {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

// clone returns a copy of s that shares no pointers with it
func clone(s State) State {
	switch st := s.(type) {
	case Viewing:
		return Viewing{Pipeline: clonePipeline(st.Pipeline), Generated: cloneGenerated(st.Generated)}
	case Editing:
		return Editing{Pipeline: clonePipeline(st.Pipeline), Draft: st.Draft}
	case Generating:
		st.Pipeline = clonePipeline(st.Pipeline)
		st.Generated = cloneGenerated(st.Generated)
		return st
	case Executing:
		st.Pipeline = clonePipeline(st.Pipeline)
		st.Generated = cloneGenerated(st.Generated)
		return st
	}
	return s
}
