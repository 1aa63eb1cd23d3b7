// Package workspace implements the pipeline workspace controller: the state
// machine that turns chat input into generated scripts, manages the edit and
// save cycle of the selected pipeline and decides when a pipeline may run.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/ciencia/internal/conversation"
	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/types"
)

// Guard errors. They are returned before any gateway or store call is made.
var (
	ErrBusy             = errors.New("another request is in flight")
	ErrEditing          = errors.New("not allowed while editing")
	ErrNotEditing       = errors.New("no edit session is open")
	ErrNoSelection      = errors.New("no pipeline selected")
	ErrNothingGenerated = errors.New("no generated script to save")
)

// GeneratePrefix marks generation requests in the conversation
const GeneratePrefix = "Generate pipeline: "

// Store is the subset of the pipeline store the controller writes through
type Store interface {
	GetPipeline(ctx context.Context, id uuid.UUID) (*types.Pipeline, error)
	CreatePipeline(ctx context.Context, projectID uuid.UUID, name, script string) (*types.Pipeline, error)
	SavePipeline(ctx context.Context, id uuid.UUID, script string, ifVersion int64) (*types.Pipeline, error)
	RecordRun(ctx context.Context, run types.Run) (*types.Run, error)
}

// Generator is the generation gateway
type Generator interface {
	Generate(ctx context.Context, description string, history []types.Turn) (*types.GeneratedScript, error)
}

// Replier is the chat-reply side of the generation gateway
type Replier interface {
	Reply(ctx context.Context, message string, history []types.Turn) (string, error)
}

// Executor is the execution gateway
type Executor interface {
	Execute(ctx context.Context, pipelineID uuid.UUID, params map[string]any) (*types.RunAccepted, error)
}

// Deps are the controller's collaborators. Log may be nil, in which case a
// fresh conversation is started.
type Deps struct {
	Store     Store
	Generator Generator
	Replier   Replier
	Executor  Executor
	Log       *conversation.Log
}

// Controller is safe for concurrent use. Gateway and store calls run without
// holding the controller lock, so State and Select stay responsive while a
// request or a save is outstanding.
type Controller struct {
	mu    sync.Mutex
	state State
	epoch uint64 // bumped whenever the selected pipeline changes

	deps Deps
	log  *conversation.Log
}

// New creates a controller in Viewing with nothing selected
func New(deps Deps) *Controller {
	return NewWithState(deps, Viewing{})
}

// NewWithState creates a controller starting in st
func NewWithState(deps Deps, st State) *Controller {
	if st == nil {
		st = Viewing{}
	}
	l := deps.Log
	if l == nil {
		l = conversation.New()
	}
	return &Controller{state: clone(st), deps: deps, log: l}
}

// State returns a copy of the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.state)
}

// Conversation returns the conversation log
func (c *Controller) Conversation() *conversation.Log {
	return c.log
}

// Select makes pipelineID the selected pipeline, re-reading it from the store.
// An open draft is discarded without being saved. When a request is in flight
// the phase is kept and its eventual result is discarded as stale.
func (c *Controller) Select(ctx context.Context, pipelineID uuid.UUID) error {
	p, err := c.deps.Store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("failed to load pipeline: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSelection(p)
	return nil
}

// Deselect clears the selection, discarding any draft
func (c *Controller) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSelection(nil)
}

func (c *Controller) setSelection(p *types.Pipeline) {
	if prev := c.state.Selected(); prev == nil || p == nil || prev.ID != p.ID {
		c.epoch++
	}

	switch st := c.state.(type) {
	case Editing:
		if st.Pipeline != nil && st.Draft != st.Pipeline.Script {
			log.Printf("[workspace] discarding unsaved draft of pipeline %s", st.Pipeline.ID)
		}
		c.state = Viewing{Pipeline: p}
	case Viewing:
		c.state = Viewing{Pipeline: p}
	case Generating:
		st.Pipeline, st.Generated = p, nil
		c.state = st
	case Executing:
		st.Pipeline, st.Generated = p, nil
		c.state = st
	}
}

// BeginEdit opens an edit session on the selected pipeline. The draft starts
// from the generated preview when one was produced for this pipeline, and
// from the persisted script otherwise.
func (c *Controller) BeginEdit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch st := c.state.(type) {
	case Viewing:
		if st.Pipeline == nil {
			return ErrNoSelection
		}
		draft := st.Pipeline.Script
		if st.Generated != nil && st.Generated.PipelineID == st.Pipeline.ID {
			draft = st.Generated.Script
		}
		c.state = Editing{Pipeline: st.Pipeline, Draft: draft}
		return nil
	case Editing:
		return ErrEditing
	default:
		return ErrBusy
	}
}

// UpdateDraft replaces the draft text
func (c *Controller) UpdateDraft(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.state.(Editing)
	if !ok {
		return ErrNotEditing
	}
	st.Draft = text
	c.state = st
	return nil
}

// Cancel discards the draft and returns to Viewing the persisted script
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.state.(Editing)
	if !ok {
		return ErrNotEditing
	}
	c.state = Viewing{Pipeline: st.Pipeline}
	return nil
}

// Save persists the draft with a conditional save against the version the
// edit session started from. On failure the session stays open with the
// draft intact. The store write runs without the lock; if the selection
// changed meanwhile the save still stands but the view is left alone, and a
// draft edited during the write stays open on top of the new version.
func (c *Controller) Save(ctx context.Context) (*types.Pipeline, error) {
	c.mu.Lock()
	st, ok := c.state.(Editing)
	epoch := c.epoch
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotEditing
	}

	saved, err := c.deps.Store.SavePipeline(ctx, st.Pipeline.ID, st.Draft, st.Pipeline.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to save pipeline: %w", err)
	}
	log.Printf("[workspace] saved pipeline %s at version %d", saved.ID, saved.Version)

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return clonePipeline(saved), nil
	}
	switch cur := c.state.(type) {
	case Editing:
		if cur.Draft == st.Draft {
			c.state = Viewing{Pipeline: saved}
		} else {
			cur.Pipeline = saved
			c.state = cur
		}
	case Viewing:
		cur.Pipeline = saved
		c.state = cur
	}
	return clonePipeline(saved), nil
}

// SaveGeneratedAs persists the generated preview as a new pipeline in
// projectID and selects it. The new pipeline is not selected when the
// selection changed or an edit session opened while it was being created.
func (c *Controller) SaveGeneratedAs(ctx context.Context, projectID uuid.UUID, name string) (*types.Pipeline, error) {
	c.mu.Lock()
	st, ok := c.state.(Viewing)
	_, editing := c.state.(Editing)
	epoch := c.epoch
	c.mu.Unlock()
	if !ok {
		if editing {
			return nil, ErrEditing
		}
		return nil, ErrBusy
	}
	if st.Generated == nil {
		return nil, ErrNothingGenerated
	}

	p, err := c.deps.Store.CreatePipeline(ctx, projectID, name, st.Generated.Script)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, editing := c.state.(Editing); epoch == c.epoch && !editing {
		c.setSelection(p)
	}
	return clonePipeline(p), nil
}

// begin moves Viewing to an in-flight state built by next. It enforces the
// single in-flight slot.
func (c *Controller) begin(next func(Viewing) (State, error)) (uint64, error) {
	switch st := c.state.(type) {
	case Viewing:
		ns, err := next(st)
		if err != nil {
			return 0, err
		}
		c.state = ns
		return c.epoch, nil
	case Editing:
		return 0, ErrEditing
	default:
		return 0, ErrBusy
	}
}

// finish resolves an in-flight state back to Viewing and reports whether the
// selection changed since epoch.
func (c *Controller) finish(epoch uint64, generated func(prev *Generated, p *types.Pipeline) *Generated) bool {
	var (
		p    *types.Pipeline
		prev *Generated
	)
	switch st := c.state.(type) {
	case Generating:
		p, prev = st.Pipeline, st.Generated
	case Executing:
		p, prev = st.Pipeline, st.Generated
	}
	stale := epoch != c.epoch
	g := prev
	if !stale && generated != nil {
		g = generated(prev, p)
	}
	c.state = Viewing{Pipeline: p, Generated: g}
	return stale
}

// call runs a gateway call, converting a panic into a failure
func call[T any](op string, fn func() (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[workspace] recovered from panic in %s: %v", op, r)
			err = &gateway.Failure{Op: op, Kind: gateway.BackendUnavailable, Message: "internal error", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
