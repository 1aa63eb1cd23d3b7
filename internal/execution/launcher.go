// Package execution launches persisted pipelines on the local Nextflow engine.
// Each run gets its own directory under the launcher's base directory holding
// the script, the parameters file, the engine log and the work directory.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

// OpExecute is the operation name used in failures
const OpExecute = "execute"

// File names inside a run directory
const (
	ScriptFile = "main.nf"
	ParamsFile = "params.yaml"
	LogFile    = "nextflow.log"
	WorkDir    = "work"
)

// StartedMessage is the status message of an accepted run
const StartedMessage = "Pipeline execution started"

// statusTimeout bounds the final status write after the engine exits
const statusTimeout = 10 * time.Second

// AbandonedMessage is recorded for runs still active when the launcher shuts down
const AbandonedMessage = "Server stopped before the run finished; final status unknown"

// Launcher is the execution gateway: it materializes the stored script of a
// pipeline and starts the engine without waiting for it to finish.
type Launcher struct {
	store   store.Store
	baseDir string
	binary  string
	start   Starter
	newID   func() string

	wg      sync.WaitGroup
	mu      sync.Mutex
	active  map[string]struct{}
	stopped bool
}

// Option configures a Launcher
type Option func(*Launcher)

// WithBaseDir sets the directory under which run directories are created
func WithBaseDir(dir string) Option {
	return func(l *Launcher) { l.baseDir = dir }
}

// WithBinary sets the engine executable
func WithBinary(path string) Option {
	return func(l *Launcher) { l.binary = path }
}

// WithStarter replaces the process starter
func WithStarter(s Starter) Option {
	return func(l *Launcher) { l.start = s }
}

// NewLauncher creates a Launcher that reads pipelines from and records runs in st
func NewLauncher(st store.Store, opts ...Option) *Launcher {
	l := &Launcher{
		store:   st,
		baseDir: "runs",
		binary:  "nextflow",
		start:   ExecStarter,
		newID:   uuid.NewString,
		active:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Execute starts the stored script of pipelineID with params and returns as
// soon as the engine has been started.
func (l *Launcher) Execute(ctx context.Context, pipelineID uuid.UUID, params map[string]any) (*types.RunAccepted, error) {
	p, err := l.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, gateway.Rejected(OpExecute, http.StatusNotFound, "pipeline not found")
		}
		return nil, gateway.Unavailable(OpExecute, err)
	}

	runID := l.newID()
	if _, err := l.store.RecordRun(ctx, types.Run{
		ID:            runID,
		PipelineID:    p.ID,
		Status:        types.RunStatusRunning,
		StatusMessage: StartedMessage,
	}); err != nil {
		return nil, gateway.Unavailable(OpExecute, err)
	}

	runDir, err := l.prepare(runID, p.Script, params)
	if err != nil {
		return nil, l.abort(runID, err)
	}

	args := []string{"run", ScriptFile, "-work-dir", WorkDir, "-name", RunName(runID)}
	if len(params) > 0 {
		args = append(args, "-params-file", ParamsFile)
	}

	proc, err := l.start(runDir, l.binary, args...)
	if err != nil {
		return nil, l.abort(runID, fmt.Errorf("failed to start %s: %w", l.binary, err))
	}
	log.Printf("[execution] started run %s for pipeline %s in %s", runID, p.ID, runDir)

	l.mu.Lock()
	l.active[runID] = struct{}{}
	l.mu.Unlock()
	l.wg.Add(1)
	go l.monitor(runID, proc)

	return &types.RunAccepted{
		RunID:         runID,
		Status:        types.RunStatusRunning,
		StatusMessage: StartedMessage,
	}, nil
}

// Wait blocks until every started run has exited and its status is recorded
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// Shutdown waits for active runs to exit until ctx is done. Runs still active
// then are recorded as failed with AbandonedMessage, and later exits are no
// longer written to the store. Call it before closing the store.
func (l *Launcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	l.stopped = true
	abandoned := make([]string, 0, len(l.active))
	for id := range l.active {
		abandoned = append(abandoned, id)
	}
	l.mu.Unlock()

	for _, id := range abandoned {
		log.Printf("[execution] run %s still active at shutdown", id)
		l.write(id, types.RunStatusFailed, AbandonedMessage)
	}
	return fmt.Errorf("%d run(s) still active at shutdown: %w", len(abandoned), ctx.Err())
}

// RunDir returns the directory of a run
func (l *Launcher) RunDir(runID string) string {
	return filepath.Join(l.baseDir, RunName(runID))
}

// RunName is the engine run name and directory name for a run ID
func RunName(runID string) string {
	return "run_" + runID
}

func (l *Launcher) prepare(runID, script string, params map[string]any) (string, error) {
	dir := l.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ScriptFile), []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("failed to write script: %w", err)
	}
	if len(params) > 0 {
		data, err := yaml.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("failed to encode params: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ParamsFile), data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write params: %w", err)
		}
	}
	return dir, nil
}

// abort marks an issued run failed and reports the failure with its ID
func (l *Launcher) abort(runID string, cause error) error {
	log.Printf("[execution] run %s failed to start: %v", runID, cause)
	l.finish(runID, types.RunStatusFailed, cause.Error())

	f := gateway.Unavailable(OpExecute, cause)
	f.RunID = runID
	return f
}

func (l *Launcher) monitor(runID string, proc Process) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.active, runID)
		l.mu.Unlock()
	}()

	err := proc.Wait()
	if err != nil {
		log.Printf("[execution] run %s failed: %v", runID, err)
		l.finish(runID, types.RunStatusFailed, exitMessage(err))
		return
	}
	log.Printf("[execution] run %s completed", runID)
	l.finish(runID, types.RunStatusCompleted, "Pipeline execution completed")
}

func (l *Launcher) finish(runID, status, message string) {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		log.Printf("[execution] run %s ended after shutdown (%s), status not recorded", runID, status)
		return
	}
	l.write(runID, status, message)
}

func (l *Launcher) write(runID, status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := l.store.UpdateRunStatus(ctx, runID, status, message); err != nil {
		log.Printf("[execution] failed to record status %s for run %s: %v", status, runID, err)
	}
}

func exitMessage(err error) string {
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("Pipeline exited with code %d, see %s", exitErr.ExitCode(), LogFile)
	}
	return err.Error()
}
