package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ciencia/internal/types"
)

// Memory is an in-process Store. It is safe for concurrent use and loses all
// data on exit.
type Memory struct {
	mu        sync.RWMutex
	seq       int64
	projects  map[uuid.UUID]*entry[types.Project]
	pipelines map[uuid.UUID]*entry[types.Pipeline]
	runs      map[string]*entry[types.Run]
	now       func() time.Time
}

// entry keeps insertion order so equal timestamps list deterministically
type entry[T any] struct {
	seq int64
	val T
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		projects:  make(map[uuid.UUID]*entry[types.Project]),
		pipelines: make(map[uuid.UUID]*entry[types.Pipeline]),
		runs:      make(map[string]*entry[types.Run]),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) next() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) ListProjects(ctx context.Context) ([]types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sorted(m.projects, nil, false), nil
}

func (m *Memory) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.projects[id]
	if !ok {
		return nil, NotFoundError(EntityProject, id)
	}
	p := e.val
	return &p, nil
}

func (m *Memory) CreateProject(ctx context.Context, name, description string) (*types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := types.Project{ID: uuid.New(), Name: name, Description: description, CreatedAt: m.now()}
	m.projects[p.ID] = &entry[types.Project]{seq: m.next(), val: p}
	return &p, nil
}

func (m *Memory) DeleteProject(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return UnavailableError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return NotFoundError(EntityProject, id)
	}
	for pid, pe := range m.pipelines {
		if pe.val.ProjectID != id {
			continue
		}
		for rid, re := range m.runs {
			if re.val.PipelineID == pid {
				delete(m.runs, rid)
			}
		}
		delete(m.pipelines, pid)
	}
	delete(m.projects, id)
	return nil
}

func (m *Memory) ListPipelines(ctx context.Context, projectID uuid.UUID) ([]types.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.projects[projectID]; !ok {
		return nil, NotFoundError(EntityProject, projectID)
	}
	return sorted(m.pipelines, func(p types.Pipeline) bool { return p.ProjectID == projectID }, false), nil
}

func (m *Memory) GetPipeline(ctx context.Context, id uuid.UUID) (*types.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.pipelines[id]
	if !ok {
		return nil, NotFoundError(EntityPipeline, id)
	}
	p := e.val
	return &p, nil
}

func (m *Memory) CreatePipeline(ctx context.Context, projectID uuid.UUID, name, script string) (*types.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return nil, NotFoundError(EntityProject, projectID)
	}
	if script == "" {
		script = TemplateScript
	}
	now := m.now()
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
	m.pipelines[p.ID] = &entry[types.Pipeline]{seq: m.next(), val: p}
	return &p, nil
}

func (m *Memory) SavePipeline(ctx context.Context, id uuid.UUID, script string, ifVersion int64) (*types.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pipelines[id]
	if !ok {
		return nil, NotFoundError(EntityPipeline, id)
	}
	if ifVersion != 0 && e.val.Version != ifVersion {
		return nil, ConflictError(EntityPipeline, id, ifVersion, e.val.Version)
	}
	e.val.Script = script
	e.val.Version++
	e.val.UpdatedAt = m.now()
	p := e.val
	return &p, nil
}

func (m *Memory) RenamePipeline(ctx context.Context, id uuid.UUID, name string) (*types.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pipelines[id]
	if !ok {
		return nil, NotFoundError(EntityPipeline, id)
	}
	e.val.Name = name
	e.val.UpdatedAt = m.now()
	p := e.val
	return &p, nil
}

func (m *Memory) RecordRun(ctx context.Context, run types.Run) (*types.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.runs[run.ID]; ok {
		r := e.val
		return &r, nil
	}
	if _, ok := m.pipelines[run.PipelineID]; !ok {
		return nil, NotFoundError(EntityPipeline, run.PipelineID)
	}
	if run.Status == "" {
		run.Status = types.RunStatusPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = m.now()
	}
	m.runs[run.ID] = &entry[types.Run]{seq: m.next(), val: run}
	return &run, nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (*types.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runs[id]
	if !ok {
		return nil, NotFoundError(EntityRun, id)
	}
	r := e.val
	return &r, nil
}

func (m *Memory) ListRuns(ctx context.Context, pipelineID uuid.UUID) ([]types.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, UnavailableError(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.pipelines[pipelineID]; !ok {
		return nil, NotFoundError(EntityPipeline, pipelineID)
	}
	return sorted(m.runs, func(r types.Run) bool { return r.PipelineID == pipelineID }, true), nil
}

func (m *Memory) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	if err := ctx.Err(); err != nil {
		return UnavailableError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runs[id]
	if !ok {
		return NotFoundError(EntityRun, id)
	}
	e.val.Status = status
	e.val.StatusMessage = message
	if IsTerminal(status) {
		now := m.now()
		e.val.CompletedAt = &now
	}
	return nil
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

func sorted[K comparable, T any](src map[K]*entry[T], keep func(T) bool, desc bool) []T {
	entries := make([]*entry[T], 0, len(src))
	for _, e := range src {
		if keep == nil || keep(e.val) {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *entry[T]) int {
		if desc {
			return cmp.Compare(b.seq, a.seq)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out
}
