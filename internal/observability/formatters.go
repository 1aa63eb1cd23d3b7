// Package observability provides formatted output for the interactive workspace.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/ciencia/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the workspace shell
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to the terminal; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// PrintWorkspace outputs the controller phase and the selected pipeline, if any.
func (p *Printer) PrintWorkspace(state string, pipeline *types.Pipeline) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("State:    %s\n", state))
	if pipeline == nil {
		sb.WriteString("Pipeline: (none selected)")
	} else {
		sb.WriteString(fmt.Sprintf("Pipeline: %s\n", pipeline.Name))
		sb.WriteString(fmt.Sprintf("ID:       %s\n", pipeline.ID))
		sb.WriteString(fmt.Sprintf("Version:  %d (%s)", pipeline.Version, pipeline.Status))
	}
	p.printBox("WORKSPACE", sb.String())
}

// PrintScript writes a script verbatim, numbered so draft edits can be referenced.
//
//nolint:errcheck // writing to the terminal; errors are not recoverable
func (p *Printer) PrintScript(script string) {
	if script == "" {
		return
	}
	lines := strings.Split(strings.TrimRight(script, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	for i, line := range lines {
		fmt.Fprintf(p.out, "%*d  %s\n", width, i+1, line)
	}
}

// PrintRuns outputs the most recent runs of a pipeline.
func (p *Printer) PrintRuns(runs []types.Run) {
	if len(runs) == 0 {
		p.printBox("RUNS", "No runs recorded")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total runs: %d\n\n", len(runs)))

	count := min(len(runs), maxItemsToShow)
	for i := 0; i < count; i++ {
		run := runs[i]
		sb.WriteString(fmt.Sprintf("%s %s\n", statusMark(run.Status), run.ID))
		sb.WriteString(fmt.Sprintf("  %s  %s", run.Status, run.CreatedAt.Format("2006-01-02 15:04")))
		if run.StatusMessage != "" {
			sb.WriteString(fmt.Sprintf("\n  %s", run.StatusMessage))
		}
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(runs) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n\n... and %d more runs", len(runs)-maxItemsToShow))
	}

	p.printBox("RUNS", sb.String())
}

func statusMark(status string) string {
	switch status {
	case types.RunStatusCompleted:
		return "✓"
	case types.RunStatusFailed:
		return "✗"
	default:
		return "•"
	}
}

// PrintReview outputs the assistant's assessment of a script.
//
//nolint:errcheck // writing to the terminal; errors are not recoverable
func (p *Printer) PrintReview(review *types.ScriptReview) {
	if review == nil {
		return
	}
	if review.Valid && len(review.Issues) == 0 && len(review.Suggestions) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "✅ NO ISSUES FOUND")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	if review.Valid {
		sb.WriteString("Script looks valid\n")
	} else {
		sb.WriteString("Script has problems\n")
	}

	if len(review.Issues) > 0 {
		sb.WriteString("\nIssues:\n")
		for _, issue := range review.Issues {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", issue))
		}
	}

	if len(review.Suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		count := min(len(review.Suggestions), 3)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", review.Suggestions[i]))
		}
		if len(review.Suggestions) > 3 {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(review.Suggestions)-3))
		}
	}

	p.printBox("SCRIPT REVIEW", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintConversation outputs the conversation, one turn per line.
//
//nolint:errcheck // writing to the terminal; errors are not recoverable
func (p *Printer) PrintConversation(turns []types.Turn) {
	for _, turn := range turns {
		fmt.Fprintf(p.out, "[%d] %s: %s\n", turn.Seq, turn.Role, turn.Content)
	}
}
