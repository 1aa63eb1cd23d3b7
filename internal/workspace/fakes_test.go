package workspace

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	histories [][]types.Turn
	out       *types.GeneratedScript
	err       error
	panicWith any
	block     chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, description string, history []types.Turn) (*types.GeneratedScript, error) {
	f.mu.Lock()
	f.calls++
	f.histories = append(f.histories, history)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.out, f.err
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReplier struct {
	mu        sync.Mutex
	calls     int
	histories [][]types.Turn
	reply     string
	err       error
}

func (f *fakeReplier) Reply(ctx context.Context, message string, history []types.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.histories = append(f.histories, history)
	return f.reply, f.err
}

type fakeExecutor struct {
	mu       sync.Mutex
	calls    int
	targets  []uuid.UUID
	params   []map[string]any
	accepted *types.RunAccepted
	err      error
	block    chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, pipelineID uuid.UUID, params map[string]any) (*types.RunAccepted, error) {
	f.mu.Lock()
	f.calls++
	f.targets = append(f.targets, pipelineID)
	f.params = append(f.params, params)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return f.accepted, f.err
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	store *store.Memory
	gen   *fakeGenerator
	reply *fakeReplier
	exec  *fakeExecutor
	ctrl  *Controller

	project *types.Project
	a, b    *types.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	proj, err := st.CreateProject(ctx, "RNA-seq", "bulk transcriptomics")
	require.NoError(t, err)
	a, err := st.CreatePipeline(ctx, proj.ID, "QC", "workflow { FASTQC() }")
	require.NoError(t, err)
	b, err := st.CreatePipeline(ctx, proj.ID, "Align", "workflow { STAR() }")
	require.NoError(t, err)

	f := &fixture{
		store:   st,
		gen:     &fakeGenerator{out: &types.GeneratedScript{Script: "workflow { MULTIQC() }", Explanation: "Adds MultiQC."}},
		reply:   &fakeReplier{reply: "STAR is a good choice."},
		exec:    &fakeExecutor{accepted: &types.RunAccepted{RunID: "run-1", Status: types.RunStatusRunning, StatusMessage: "Pipeline execution started"}},
		project: proj,
		a:       a,
		b:       b,
	}
	f.ctrl = New(Deps{Store: st, Generator: f.gen, Replier: f.reply, Executor: f.exec})
	return f
}

func (f *fixture) persisted(t *testing.T, id uuid.UUID) string {
	t.Helper()
	p, err := f.store.GetPipeline(context.Background(), id)
	require.NoError(t, err)
	return p.Script
}

func (f *fixture) turns() []types.Turn {
	return f.ctrl.Conversation().Turns()
}

// gatedStore holds SavePipeline and CreatePipeline until release is closed.
// entered receives once per held call.
type gatedStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(m *store.Memory) *gatedStore {
	return &gatedStore{Memory: m, entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedStore) SavePipeline(ctx context.Context, id uuid.UUID, script string, ifVersion int64) (*types.Pipeline, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Memory.SavePipeline(ctx, id, script, ifVersion)
}

func (g *gatedStore) CreatePipeline(ctx context.Context, projectID uuid.UUID, name, script string) (*types.Pipeline, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Memory.CreatePipeline(ctx, projectID, name, script)
}
