// Package generation turns natural-language descriptions into Nextflow
// pipeline scripts, answers chat messages and reviews scripts by calling the
// LLM backend. Every backend failure is reported as a *gateway.Failure.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/llm"
	"github.com/jonathan/ciencia/internal/prompts"
	"github.com/jonathan/ciencia/internal/schemas"
	"github.com/jonathan/ciencia/internal/types"
)

// DefaultHistoryLimit is how many recent turns are forwarded as context
const DefaultHistoryLimit = 10

// Operation names used in failures
const (
	OpGenerate = "generate"
	OpChat     = "chat"
	OpReview   = "review"
)

// Gateway calls the LLM backend. A Gateway with a nil client rejects every
// call, mirroring a deployment without an API key.
type Gateway struct {
	client       llm.Client
	historyLimit int
	generateTier llm.ModelTier
	chatTier     llm.ModelTier
}

// Option configures a Gateway
type Option func(*Gateway)

// WithHistoryLimit sets how many recent turns are sent as context. n <= 0 sends none.
func WithHistoryLimit(n int) Option {
	return func(g *Gateway) { g.historyLimit = n }
}

// WithGenerateTier overrides the model tier used for pipeline generation
func WithGenerateTier(tier llm.ModelTier) Option {
	return func(g *Gateway) { g.generateTier = tier }
}

// New creates a Gateway over client
func New(client llm.Client, opts ...Option) *Gateway {
	g := &Gateway{
		client:       client,
		historyLimit: DefaultHistoryLimit,
		generateTier: llm.TierStandard,
		chatTier:     llm.TierLite,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces a pipeline script from description. history is the
// conversation before this request, oldest first.
func (g *Gateway) Generate(ctx context.Context, description string, history []types.Turn) (*types.GeneratedScript, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, gateway.ErrInputRejected
	}
	if g.client == nil {
		return nil, gateway.Rejected(OpGenerate, 0, "no API key configured")
	}

	schema := llm.PipelineScriptSchema(prompts.MustGet(prompts.Pipeline, "generate-system"))
	prompt := llm.BuildStructuredPrompt(schema, description, g.historySection(history))

	log.Printf("[generation] generating pipeline for %q (%d history turns)", truncate(description, 50), len(history))
	body, err := g.client.GenerateJSON(ctx, prompt, g.generateTier)
	if err != nil {
		return nil, classify(OpGenerate, err)
	}

	if err := schemas.Validate(schemas.GeneratedScript, body); err != nil {
		log.Printf("[generation] rejected response: %v", err)
		return nil, gateway.Malformed(OpGenerate, "response has no script")
	}

	var out types.GeneratedScript
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, gateway.Malformed(OpGenerate, fmt.Sprintf("failed to decode response: %v", err))
	}
	out.Script = llm.CleanCodeBlock(out.Script)
	if strings.TrimSpace(out.Script) == "" {
		return nil, gateway.Malformed(OpGenerate, "response has no script")
	}
	out.Explanation = strings.TrimSpace(out.Explanation)

	log.Printf("[generation] pipeline generated (%d chars)", len(out.Script))
	return &out, nil
}

// Reply answers a chat message given the conversation before it.
func (g *Gateway) Reply(ctx context.Context, message string, history []types.Turn) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", gateway.ErrInputRejected
	}
	if g.client == nil {
		return "", gateway.Rejected(OpChat, 0, "no API key configured")
	}

	system := prompts.MustGet(prompts.Pipeline, "chat-system")
	reply, err := g.client.Chat(ctx, system, ChatHistory(recent(history, g.historyLimit)), message, g.chatTier)
	if err != nil {
		return "", classify(OpChat, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", gateway.Malformed(OpChat, "empty reply")
	}
	return reply, nil
}

// Review asks the backend to check script for syntax errors and best practices.
func (g *Gateway) Review(ctx context.Context, script string) (*types.ScriptReview, error) {
	if strings.TrimSpace(script) == "" {
		return nil, gateway.ErrInputRejected
	}
	if g.client == nil {
		return nil, gateway.Rejected(OpReview, 0, "no API key configured")
	}

	schema := llm.ScriptReviewSchema(prompts.MustGet(prompts.Pipeline, "review-system"))
	body, err := g.client.GenerateJSON(ctx, llm.BuildStructuredPrompt(schema, script), llm.TierLite)
	if err != nil {
		return nil, classify(OpReview, err)
	}
	if err := schemas.Validate(schemas.ScriptReview, body); err != nil {
		log.Printf("[generation] rejected review: %v", err)
		return nil, gateway.Malformed(OpReview, "response has no verdict")
	}

	var review types.ScriptReview
	if err := json.Unmarshal([]byte(body), &review); err != nil {
		return nil, gateway.Malformed(OpReview, fmt.Sprintf("failed to decode response: %v", err))
	}
	if review.Issues == nil {
		review.Issues = []string{}
	}
	if review.Suggestions == nil {
		review.Suggestions = []string{}
	}
	return &review, nil
}

func (g *Gateway) historySection(history []types.Turn) string {
	turns := recent(history, g.historyLimit)
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return prompts.Format(prompts.MustGet(prompts.Pipeline, "generate-history"), map[string]string{
		"History": strings.TrimRight(sb.String(), "\n"),
	})
}

// ChatHistory converts conversation turns to the backend's chat roles.
// Empty turns are dropped and consecutive turns by the same role are merged.
func ChatHistory(turns []types.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.Content)
		if text == "" {
			continue
		}
		role := llm.RoleUser
		if t.Role == types.RoleAssistant {
			role = llm.RoleModel
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Text += "\n\n" + text
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Text: text})
	}
	return msgs
}

func recent(turns []types.Turn, n int) []types.Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
