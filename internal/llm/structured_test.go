package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildStructuredPrompt(t *testing.T) {
	schema := PipelineScriptSchema("You are a bioinformatics engineer.")
	prompt := BuildStructuredPrompt(schema, "RNA-seq QC with FastQC", "Conversation so far:\nuser: hi")

	assert.True(t, strings.HasPrefix(prompt, "You are a bioinformatics engineer."))
	assert.Contains(t, prompt, `"script": "string" (required)`)
	assert.Contains(t, prompt, `"explanation": "string" (required)`)
	assert.Contains(t, prompt, "Conversation so far:\nuser: hi")
	assert.Contains(t, prompt, "Input:\n\"\"\"\nRNA-seq QC with FastQC\n\"\"\"")

	// context precedes input
	assert.Less(t, strings.Index(prompt, "Conversation so far"), strings.Index(prompt, "Input:"))
}

func TestBuildStructuredPrompt_SkipsBlankContext(t *testing.T) {
	prompt := BuildStructuredPrompt(ScriptReviewSchema("Review."), "workflow {}", "", "   ")
	assert.NotContains(t, prompt, "\n\n\n\n")
	assert.Contains(t, prompt, `"valid": boolean (required)`)
	assert.Contains(t, prompt, `"issues": ["string"] (required)`)
}
