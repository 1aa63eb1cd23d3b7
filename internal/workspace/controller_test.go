package workspace

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ciencia/internal/conversation"
	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

func TestNew_StartsViewingWithoutSelection(t *testing.T) {
	f := newFixture(t)
	st := f.ctrl.State()
	assert.Equal(t, Viewing{}, st)
	assert.Nil(t, st.Selected())
	assert.Equal(t, "viewing", Name(st))
	assert.Empty(t, Displayed(st))
}

func TestBeginEditCancel_LeavesPersistedScript(t *testing.T) {
	drafts := []string{"", "workflow { X() }", "totally different\nscript", "workflow { FASTQC() }"}
	for _, draft := range drafts {
		t.Run(draft, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.ctrl.Select(ctx, f.a.ID))

			require.NoError(t, f.ctrl.BeginEdit())
			assert.Equal(t, "workflow { FASTQC() }", Displayed(f.ctrl.State()))
			require.NoError(t, f.ctrl.UpdateDraft(draft))
			require.NoError(t, f.ctrl.Cancel())

			st, ok := f.ctrl.State().(Viewing)
			require.True(t, ok)
			assert.Nil(t, st.Generated)
			assert.Equal(t, "workflow { FASTQC() }", Displayed(st))
			assert.Equal(t, "workflow { FASTQC() }", f.persisted(t, f.a.ID))
		})
	}
}

func TestEditSave_PersistsFinalDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))

	require.NoError(t, f.ctrl.BeginEdit())
	require.NoError(t, f.ctrl.UpdateDraft("workflow { A() }"))
	require.NoError(t, f.ctrl.UpdateDraft("workflow { B() }"))
	saved, err := f.ctrl.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "workflow { B() }", saved.Script)

	st, ok := f.ctrl.State().(Viewing)
	require.True(t, ok, "draft must be cleared after save")
	assert.Equal(t, "workflow { B() }", st.Pipeline.Script)
	assert.Equal(t, "workflow { B() }", f.persisted(t, f.a.ID))

	// saving the same content again yields the same persisted value
	require.NoError(t, f.ctrl.BeginEdit())
	_, err = f.ctrl.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "workflow { B() }", f.persisted(t, f.a.ID))
}

func TestEditGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.BeginEdit(), ErrNoSelection)
	assert.ErrorIs(t, f.ctrl.UpdateDraft("x"), ErrNotEditing)
	assert.ErrorIs(t, f.ctrl.Cancel(), ErrNotEditing)
	_, err := f.ctrl.Save(ctx)
	assert.ErrorIs(t, err, ErrNotEditing)

	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))
	require.NoError(t, f.ctrl.BeginEdit())
	assert.ErrorIs(t, f.ctrl.BeginEdit(), ErrEditing)
}

func TestSave_ConflictKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))
	require.NoError(t, f.ctrl.BeginEdit())
	require.NoError(t, f.ctrl.UpdateDraft("my edit"))

	// another session saves first
	_, err := f.store.SavePipeline(ctx, f.a.ID, "their edit", 0)
	require.NoError(t, err)

	_, err = f.ctrl.Save(ctx)
	assert.True(t, store.IsConflict(err), "got %v", err)

	st, ok := f.ctrl.State().(Editing)
	require.True(t, ok)
	assert.Equal(t, "my edit", st.Draft)
	assert.Equal(t, "their edit", f.persisted(t, f.a.ID))
}

func TestSelectWhileEditing_DiscardsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))
	require.NoError(t, f.ctrl.BeginEdit())
	require.NoError(t, f.ctrl.UpdateDraft("unsaved work"))

	require.NoError(t, f.ctrl.Select(ctx, f.b.ID))

	st, ok := f.ctrl.State().(Viewing)
	require.True(t, ok)
	assert.Equal(t, f.b.ID, st.Pipeline.ID)
	assert.Equal(t, "workflow { STAR() }", Displayed(st))
	assert.Equal(t, "workflow { FASTQC() }", f.persisted(t, f.a.ID))
}

func TestSelect_UnknownPipelineKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))

	err := f.ctrl.Select(ctx, uuid.New())
	assert.True(t, store.IsNotFound(err))
	assert.Equal(t, f.a.ID, f.ctrl.State().Selected().ID)
}

func TestDeselect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))
	require.NoError(t, f.ctrl.BeginEdit())

	f.ctrl.Deselect()
	assert.Equal(t, Viewing{}, f.ctrl.State())
}

func TestScenario_RNASeqEditSaveReselect(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ctrl := New(Deps{Store: st, Generator: &fakeGenerator{}, Replier: &fakeReplier{}, Executor: &fakeExecutor{}})

	proj, err := st.CreateProject(ctx, "RNA-seq", "")
	require.NoError(t, err)
	qc, err := st.CreatePipeline(ctx, proj.ID, "QC", "")
	require.NoError(t, err)
	require.Equal(t, store.TemplateScript, qc.Script)

	require.NoError(t, ctrl.Select(ctx, qc.ID))
	require.NoError(t, ctrl.BeginEdit())

	lines := strings.Split(Displayed(ctrl.State()), "\n")
	lines[2] = "nextflow.enable.dsl=2 // pinned"
	edited := strings.Join(lines, "\n")
	require.NoError(t, ctrl.UpdateDraft(edited))
	_, err = ctrl.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, ctrl.Select(ctx, qc.ID))
	assert.Equal(t, edited, Displayed(ctrl.State()))
	assert.NotEqual(t, store.TemplateScript, Displayed(ctrl.State()))
}

func TestNewWithState_ExecuteWhileEditing(t *testing.T) {
	f := newFixture(t)
	ctrl := NewWithState(Deps{Store: f.store, Executor: f.exec}, Editing{Pipeline: f.a, Draft: "diverging"})

	_, err := ctrl.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEditing)
	assert.Zero(t, f.exec.Calls())

	// the state handed in is copied
	f.a.Script = "mutated"
	assert.Equal(t, "workflow { FASTQC() }", ctrl.State().Selected().Script)
}

func TestState_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Select(context.Background(), f.a.ID))

	st := f.ctrl.State().(Viewing)
	st.Pipeline.Script = "mutated"
	assert.Equal(t, "workflow { FASTQC() }", Displayed(f.ctrl.State()))
}

func TestSharedConversationLog(t *testing.T) {
	l := conversation.New()
	l.Append(types.Turn{Role: types.RoleUser, Content: "earlier session"})
	ctrl := New(Deps{Store: store.NewMemory(), Log: l})
	assert.Same(t, l, ctrl.Conversation())
}

func waitForState(t *testing.T, c *Controller, name string) {
	t.Helper()
	require.Eventually(t, func() bool { return Name(c.State()) == name }, time.Second, time.Millisecond)
}

func TestGatewayFailureKindsReachConversation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unavailable", gateway.Unavailable("generate", context.DeadlineExceeded), "could not be reached"},
		{"rejected", gateway.Rejected("generate", 401, "no API key configured"), "no API key configured"},
		{"malformed", gateway.Malformed("generate", "response has no script"), "incomplete response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gen.err = tt.err
			f.gen.out = nil

			res, err := f.ctrl.Generate(context.Background(), "call variants")
			require.NoError(t, err)
			assert.Equal(t, Failed, res.Outcome)
			turns := f.turns()
			require.Len(t, turns, 2)
			assert.Contains(t, turns[1].Content, tt.want)
		})
	}
}

func TestSave_DoesNotHoldLockDuringStoreWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gated := newGatedStore(f.store)
	f.ctrl = New(Deps{Store: gated, Generator: f.gen, Replier: f.reply, Executor: f.exec})

	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))
	require.NoError(t, f.ctrl.BeginEdit())
	require.NoError(t, f.ctrl.UpdateDraft("workflow { SAVED() }"))

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Save(ctx)
		done <- err
	}()
	<-gated.entered

	// the controller answers while the write is outstanding
	assert.Equal(t, "editing", Name(f.ctrl.State()))
	require.NoError(t, f.ctrl.Select(ctx, f.b.ID))

	close(gated.release)
	require.NoError(t, <-done)

	assert.Equal(t, "workflow { SAVED() }", f.persisted(t, f.a.ID), "the save stands")
	st, ok := f.ctrl.State().(Viewing)
	require.True(t, ok)
	assert.Equal(t, f.b.ID, st.Pipeline.ID, "a save finishing after reselect leaves the view alone")
}

func TestSave_DraftEditedDuringWriteStaysOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gated := newGatedStore(f.store)
	f.ctrl = New(Deps{Store: gated, Generator: f.gen, Replier: f.reply, Executor: f.exec})

	require.NoError(t, f.ctrl.Select(ctx, f.a.ID))
	require.NoError(t, f.ctrl.BeginEdit())
	require.NoError(t, f.ctrl.UpdateDraft("first"))

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Save(ctx)
		done <- err
	}()
	<-gated.entered
	require.NoError(t, f.ctrl.UpdateDraft("second"))
	close(gated.release)
	require.NoError(t, <-done)

	st, ok := f.ctrl.State().(Editing)
	require.True(t, ok)
	assert.Equal(t, "second", st.Draft)
	assert.Equal(t, int64(2), st.Pipeline.Version, "the next save is conditional on the new version")

	saved, err := f.ctrl.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Version)
	assert.Equal(t, "second", f.persisted(t, f.a.ID))
}

func TestSaveGeneratedAs_DoesNotHoldLockDuringCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gated := newGatedStore(f.store)
	f.ctrl = New(Deps{Store: gated, Generator: f.gen, Replier: f.reply, Executor: f.exec})

	res, err := f.ctrl.Generate(ctx, "add multiqc")
	require.NoError(t, err)
	require.Equal(t, Applied, res.Outcome)

	done := make(chan *types.Pipeline, 1)
	go func() {
		p, err := f.ctrl.SaveGeneratedAs(ctx, f.project.ID, "report")
		assert.NoError(t, err)
		done <- p
	}()
	<-gated.entered
	assert.Equal(t, "viewing", Name(f.ctrl.State()))

	close(gated.release)
	created := <-done
	require.NotNil(t, created)
	assert.Equal(t, created.ID, f.ctrl.State().Selected().ID)
	assert.Equal(t, "workflow { MULTIQC() }", f.persisted(t, created.ID))
}
