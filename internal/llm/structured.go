package llm

import (
	"fmt"
	"strings"
)

// OutputSchema describes the JSON object the model must return.
type OutputSchema struct {
	Name        string        // Schema name (e.g., "PipelineScript")
	Description string        // System prompt preamble describing the task
	Fields      []SchemaField // Expected output fields
}

// SchemaField defines a single field in the structured output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "\"string\"", "[\"string\"]", "boolean"
	Description string // Description for the LLM
	Required    bool
}

// BuildStructuredPrompt constructs a prompt asking for a single JSON object that
// matches schema. Context sections are emitted in order between the output
// contract and the input.
func BuildStructuredPrompt(schema OutputSchema, input string, context ...string) string {
	var sb strings.Builder

	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "string"
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no code blocks around the object.\n")
	sb.WriteString("- Escape newlines inside string values.\n\n")

	for _, section := range context {
		if strings.TrimSpace(section) == "" {
			continue
		}
		sb.WriteString(section)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Input:\n\"\"\"\n")
	sb.WriteString(input)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// PipelineScriptSchema returns the output schema for pipeline generation.
func PipelineScriptSchema(description string) OutputSchema {
	return OutputSchema{
		Name:        "PipelineScript",
		Description: description,
		Fields: []SchemaField{
			{
				Name:        "script",
				Type:        "\"string\"",
				Description: "The complete Nextflow DSL2 script, ready to run",
				Required:    true,
			},
			{
				Name:        "explanation",
				Type:        "\"string\"",
				Description: "A short explanation of the processes and how data flows between them",
				Required:    true,
			},
		},
	}
}

// ScriptReviewSchema returns the output schema for script review.
func ScriptReviewSchema(description string) OutputSchema {
	return OutputSchema{
		Name:        "ScriptReview",
		Description: description,
		Fields: []SchemaField{
			{
				Name:        "valid",
				Type:        "boolean",
				Description: "true when the script has no syntax errors",
				Required:    true,
			},
			{
				Name:        "issues",
				Type:        "[\"string\"]",
				Description: "Syntax errors and correctness problems, empty when none",
				Required:    true,
			},
			{
				Name:        "suggestions",
				Type:        "[\"string\"]",
				Description: "Best-practice improvements (containers, publishDir, modularity)",
				Required:    true,
			},
		},
	}
}
