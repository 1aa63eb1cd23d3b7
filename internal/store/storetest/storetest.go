// Package storetest holds the behavioural contract every store.Store backend
// must satisfy. Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ProjectLifecycle", testProjectLifecycle},
		{"CreatePipelineDefaults", testCreatePipelineDefaults},
		{"CreatePipelineUnknownProject", testCreatePipelineUnknownProject},
		{"ListPipelinesOrder", testListPipelinesOrder},
		{"SaveUnconditional", testSaveUnconditional},
		{"SaveConditional", testSaveConditional},
		{"SaveNotFound", testSaveNotFound},
		{"SaveEmptyScript", testSaveEmptyScript},
		{"RenamePipeline", testRenamePipeline},
		{"ConcurrentConditionalSaves", testConcurrentConditionalSaves},
		{"RecordRunIdempotent", testRecordRunIdempotent},
		{"RecordRunUnknownPipeline", testRecordRunUnknownPipeline},
		{"UpdateRunStatus", testUpdateRunStatus},
		{"ListRunsNewestFirst", testListRunsNewestFirst},
		{"DeleteProjectCascades", testDeleteProjectCascades},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func seedPipeline(t *testing.T, s store.Store, script string) (*types.Project, *types.Pipeline) {
	t.Helper()
	ctx := context.Background()
	proj, err := s.CreateProject(ctx, "Transcriptomics", "bulk RNA-seq")
	require.NoError(t, err)
	p, err := s.CreatePipeline(ctx, proj.ID, "qc", script)
	require.NoError(t, err)
	return proj, p
}

func testProjectLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	a, err := s.CreateProject(ctx, "Genomics", "WGS")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	b, err := s.CreateProject(ctx, "Proteomics", "")
	require.NoError(t, err)

	got, err := s.GetProject(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Genomics", got.Name)
	assert.Equal(t, "WGS", got.Description)

	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	_, err = s.GetProject(ctx, uuid.New())
	assert.True(t, store.IsNotFound(err))

	assert.True(t, store.IsNotFound(s.DeleteProject(ctx, uuid.New())))
}

func testCreatePipelineDefaults(t *testing.T, s store.Store) {
	ctx := context.Background()
	proj, p := seedPipeline(t, s, "")

	assert.Equal(t, proj.ID, p.ProjectID)
	assert.Equal(t, store.TemplateScript, p.Script)
	assert.Equal(t, types.PipelineStatusDraft, p.Status)
	assert.Equal(t, int64(1), p.Version)

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Script, got.Script)
	assert.Equal(t, "qc", got.Name)

	_, err = s.GetPipeline(ctx, uuid.New())
	assert.True(t, store.IsNotFound(err))
}

func testCreatePipelineUnknownProject(t *testing.T, s store.Store) {
	_, err := s.CreatePipeline(context.Background(), uuid.New(), "orphan", "workflow {}")
	assert.True(t, store.IsNotFound(err))

	_, err = s.ListPipelines(context.Background(), uuid.New())
	assert.True(t, store.IsNotFound(err))
}

func testListPipelinesOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	proj, first := seedPipeline(t, s, "workflow { A() }")
	second, err := s.CreatePipeline(ctx, proj.ID, "align", "workflow { B() }")
	require.NoError(t, err)

	other, err := s.CreateProject(ctx, "Other", "")
	require.NoError(t, err)
	_, err = s.CreatePipeline(ctx, other.ID, "unrelated", "")
	require.NoError(t, err)

	list, err := s.ListPipelines(ctx, proj.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func testSaveUnconditional(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "workflow { A() }")

	saved, err := s.SavePipeline(ctx, p.ID, "workflow { B() }", 0)
	require.NoError(t, err)
	assert.Equal(t, "workflow { B() }", saved.Script)
	assert.Equal(t, int64(2), saved.Version)

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "workflow { B() }", got.Script)
	assert.Equal(t, int64(2), got.Version)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func testSaveConditional(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "v1")

	saved, err := s.SavePipeline(ctx, p.ID, "v2", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = s.SavePipeline(ctx, p.ID, "stale", 1)
	assert.True(t, store.IsConflict(err), "got %v", err)

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Script)
}

func testSaveNotFound(t *testing.T, s store.Store) {
	_, err := s.SavePipeline(context.Background(), uuid.New(), "x", 0)
	assert.True(t, store.IsNotFound(err))

	_, err = s.SavePipeline(context.Background(), uuid.New(), "x", 3)
	assert.True(t, store.IsNotFound(err))
}

func testSaveEmptyScript(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "workflow { A() }")

	saved, err := s.SavePipeline(ctx, p.ID, "", p.Version)
	require.NoError(t, err)
	assert.Empty(t, saved.Script)

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Script, "an empty save is not replaced by the template")
	assert.Equal(t, int64(2), got.Version)
}

func testRenamePipeline(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "workflow { A() }")

	renamed, err := s.RenamePipeline(ctx, p.ID, "qc-v2")
	require.NoError(t, err)
	assert.Equal(t, "qc-v2", renamed.Name)
	assert.Equal(t, "workflow { A() }", renamed.Script)
	assert.Equal(t, p.Version, renamed.Version)

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "qc-v2", got.Name)

	_, err = s.RenamePipeline(ctx, uuid.New(), "x")
	assert.True(t, store.IsNotFound(err), "got %v", err)
}

func testConcurrentConditionalSaves(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "v1")

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.SavePipeline(ctx, p.ID, fmt.Sprintf("writer %d", i), 1)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, store.IsConflict(err), "got %v", err)
	}
	assert.Equal(t, 1, winners)

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func testRecordRunIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "")

	first, err := s.RecordRun(ctx, types.Run{ID: "run-1", PipelineID: p.ID, Status: types.RunStatusRunning, StatusMessage: "started"})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusRunning, first.Status)

	again, err := s.RecordRun(ctx, types.Run{ID: "run-1", PipelineID: p.ID, Status: types.RunStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusRunning, again.Status)
	assert.Equal(t, "started", again.StatusMessage)

	runs, err := s.ListRuns(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	pending, err := s.RecordRun(ctx, types.Run{ID: "run-2", PipelineID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusPending, pending.Status)
}

func testRecordRunUnknownPipeline(t *testing.T, s store.Store) {
	_, err := s.RecordRun(context.Background(), types.Run{ID: "run-x", PipelineID: uuid.New()})
	assert.True(t, store.IsNotFound(err))

	_, err = s.GetRun(context.Background(), "run-x")
	assert.True(t, store.IsNotFound(err))
}

func testUpdateRunStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "")
	_, err := s.RecordRun(ctx, types.Run{ID: "run-1", PipelineID: p.ID, Status: types.RunStatusRunning})
	require.NoError(t, err)

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", types.RunStatusCompleted, "exit 0"))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCompleted, got.Status)
	assert.Equal(t, "exit 0", got.StatusMessage)
	assert.NotNil(t, got.CompletedAt)

	assert.True(t, store.IsNotFound(s.UpdateRunStatus(ctx, "missing", types.RunStatusFailed, "")))
}

func testListRunsNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, p := seedPipeline(t, s, "")
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		_, err := s.RecordRun(ctx, types.Run{ID: id, PipelineID: p.ID})
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-a", runs[2].ID)

	_, err = s.ListRuns(ctx, uuid.New())
	assert.True(t, store.IsNotFound(err))
}

func testDeleteProjectCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	proj, p := seedPipeline(t, s, "")
	_, err := s.RecordRun(ctx, types.Run{ID: "run-1", PipelineID: p.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, proj.ID))

	_, err = s.GetProject(ctx, proj.ID)
	assert.True(t, store.IsNotFound(err))
	_, err = s.GetPipeline(ctx, p.ID)
	assert.True(t, store.IsNotFound(err))
	_, err = s.GetRun(ctx, "run-1")
	assert.True(t, store.IsNotFound(err))
}
