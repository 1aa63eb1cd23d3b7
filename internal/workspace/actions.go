package workspace

import (
	"context"
	"fmt"
	"log"

	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/types"
)

// Outcome says what a completed request did to the workspace
type Outcome int

const (
	// Ignored means the input was blank; nothing was called or recorded
	Ignored Outcome = iota
	// Applied means the result was installed in the workspace
	Applied
	// Failed means the gateway reported a failure
	Failed
	// Stale means the selection changed while the request was in flight and
	// the result was not applied to the view
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// GenerateResult is the outcome of Generate. Err is the gateway failure when
// Outcome is Failed.
type GenerateResult struct {
	Outcome Outcome
	Script  *types.GeneratedScript
	Err     error
}

// ReplyResult is the outcome of Chat
type ReplyResult struct {
	Outcome Outcome
	Reply   string
	Err     error
}

// ExecuteResult is the outcome of Execute. Run is the recorded run whenever the
// gateway returned a run identifier, including failed starts.
type ExecuteResult struct {
	Outcome  Outcome
	Accepted *types.RunAccepted
	Run      *types.Run
	Err      error
}

// Generate asks the generation gateway for a script. The user turn is appended
// before the call and the assistant turn after it, whatever the outcome. A
// successful script becomes the preview for the pipeline that was selected
// when the request started; it is never saved implicitly.
//
// A blank description is ignored. The returned error is only set when the
// request could not start (ErrBusy, ErrEditing).
func (c *Controller) Generate(ctx context.Context, description string) (GenerateResult, error) {
	description = trimmed(description)
	if description == "" {
		return GenerateResult{Outcome: Ignored}, nil
	}

	c.mu.Lock()
	var history []types.Turn
	epoch, err := c.begin(func(st Viewing) (State, error) {
		history = c.log.Turns()
		c.log.Append(types.Turn{Role: types.RoleUser, Content: GeneratePrefix + description})
		return Generating{Pipeline: st.Pipeline, Generated: st.Generated, Kind: KindGenerate, Request: description}, nil
	})
	c.mu.Unlock()
	if err != nil {
		return GenerateResult{}, err
	}

	out, genErr := call("generate", func() (*types.GeneratedScript, error) {
		return c.deps.Generator.Generate(ctx, description, history)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if genErr != nil {
		log.Printf("[workspace] generation failed: %v", genErr)
		c.log.Append(types.Turn{Role: types.RoleAssistant, Content: gateway.UserMessage(genErr)})
		c.finish(epoch, nil)
		return GenerateResult{Outcome: Failed, Err: genErr}, nil
	}

	explanation := out.Explanation
	if explanation == "" {
		explanation = "Pipeline generated."
	}
	c.log.Append(types.Turn{Role: types.RoleAssistant, Content: explanation})

	stale := c.finish(epoch, func(_ *Generated, p *types.Pipeline) *Generated {
		g := &Generated{Script: out.Script, Explanation: out.Explanation}
		if p != nil {
			g.PipelineID = p.ID
		}
		return g
	})
	if stale {
		log.Printf("[workspace] discarding generated script: selection changed")
		return GenerateResult{Outcome: Stale, Script: out}, nil
	}
	return GenerateResult{Outcome: Applied, Script: out}, nil
}

// Chat sends a conversational message. It shares the in-flight slot with
// Generate and Execute and never changes any script.
func (c *Controller) Chat(ctx context.Context, message string) (ReplyResult, error) {
	message = trimmed(message)
	if message == "" {
		return ReplyResult{Outcome: Ignored}, nil
	}

	c.mu.Lock()
	var history []types.Turn
	epoch, err := c.begin(func(st Viewing) (State, error) {
		history = c.log.Turns()
		c.log.Append(types.Turn{Role: types.RoleUser, Content: message})
		return Generating{Pipeline: st.Pipeline, Generated: st.Generated, Kind: KindChat, Request: message}, nil
	})
	c.mu.Unlock()
	if err != nil {
		return ReplyResult{}, err
	}

	reply, replyErr := call("chat", func() (string, error) {
		return c.deps.Replier.Reply(ctx, message, history)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.finish(epoch, nil)

	if replyErr != nil {
		log.Printf("[workspace] chat failed: %v", replyErr)
		c.log.Append(types.Turn{Role: types.RoleAssistant, Content: gateway.UserMessage(replyErr)})
		return ReplyResult{Outcome: Failed, Err: replyErr}, nil
	}
	c.log.Append(types.Turn{Role: types.RoleAssistant, Content: reply})
	return ReplyResult{Outcome: Applied, Reply: reply}, nil
}

// Execute runs the persisted script of the selected pipeline. It is rejected
// while editing so a diverging draft can never run. A run is recorded in the
// store whenever the gateway returned a run identifier.
func (c *Controller) Execute(ctx context.Context, params map[string]any) (ExecuteResult, error) {
	c.mu.Lock()
	var target *types.Pipeline
	epoch, err := c.begin(func(st Viewing) (State, error) {
		if st.Pipeline == nil {
			return nil, ErrNoSelection
		}
		target = st.Pipeline
		return Executing{Pipeline: st.Pipeline, Generated: st.Generated, Target: st.Pipeline.ID}, nil
	})
	c.mu.Unlock()
	if err != nil {
		return ExecuteResult{}, err
	}

	accepted, execErr := call("execute", func() (*types.RunAccepted, error) {
		return c.deps.Executor.Execute(ctx, target.ID, params)
	})

	res := ExecuteResult{Outcome: Applied, Accepted: accepted, Err: execErr}
	run := types.Run{PipelineID: target.ID}
	switch {
	case execErr == nil && accepted != nil:
		run.ID, run.Status, run.StatusMessage = accepted.RunID, accepted.Status, accepted.StatusMessage
		if run.Status == "" {
			run.Status = types.RunStatusRunning
		}
	case execErr != nil:
		res.Outcome = Failed
		if f, ok := gateway.AsFailure(execErr); ok && f.RunID != "" {
			run.ID, run.Status, run.StatusMessage = f.RunID, types.RunStatusFailed, gateway.UserMessage(execErr)
		}
	default:
		res.Outcome = Failed
		res.Err = gateway.Malformed("execute", "no run identifier")
	}

	if run.ID != "" {
		recorded, err := c.deps.Store.RecordRun(ctx, run)
		if err != nil {
			log.Printf("[workspace] failed to record run %s: %v", run.ID, err)
			if res.Err == nil {
				res.Err = fmt.Errorf("failed to record run %s: %w", run.ID, err)
			}
		}
		res.Run = recorded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finish(epoch, nil) && res.Outcome == Applied {
		res.Outcome = Stale
	}
	return res, nil
}
