// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/scoring"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPlan outputs the matching strategy chosen for a run
func (p *Printer) PrintPlan(plan *scoring.Plan) {
	if plan == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Strategy:      %s\n", plan.Strategy))
	sb.WriteString(fmt.Sprintf("Researchers:   %d\n", plan.ResearcherCount))
	sb.WriteString(fmt.Sprintf("Opportunities: %d\n", plan.OpportunityCount))
	sb.WriteString(fmt.Sprintf("Top-N:         %d\n", plan.TopNCandidates))
	sb.WriteString(fmt.Sprintf("Batch size:    %d", plan.BatchSize))

	p.printBox("MATCHING PLAN", sb.String())
}

// PrintRun outputs a human-readable summary of a run record
func (p *Printer) PrintRun(run *db.Run) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", run.Status))
	sb.WriteString(fmt.Sprintf("Trigger:  %s", run.Trigger))

	if run.OutputSummary != nil {
		s := run.OutputSummary
		sb.WriteString("\n\n")
		sb.WriteString(fmt.Sprintf("Matches:        %d\n", s.MatchesProduced))
		sb.WriteString(fmt.Sprintf("Iterations:     %d\n", s.Iterations))
		sb.WriteString(fmt.Sprintf("Candidates:     %d\n", s.CandidatePairs))
		sb.WriteString(fmt.Sprintf("Researchers:    %d\n", s.ResearchersProcessed))
		sb.WriteString(fmt.Sprintf("Opportunities:  %d", s.OpportunitiesProcessed))
	}
	if run.ErrorMessage != nil && *run.ErrorMessage != "" {
		msg := *run.ErrorMessage
		if len(msg) > 50 {
			msg = msg[:47] + "..."
		}
		sb.WriteString(fmt.Sprintf("\n\nErrors: %s", msg))
	}

	p.printBox("MATCHMAKING RUN", sb.String())
}

// PrintSteps outputs the step audit trail of a run
func (p *Printer) PrintSteps(steps []db.Step) {
	if len(steps) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Recorded %d steps:\n\n", len(steps)))

	for i, step := range steps {
		marker := "✓"
		switch step.Status {
		case db.StepStatusFailed:
			marker = "✗"
		case db.StepStatusSkipped:
			marker = "-"
		}
		sb.WriteString(fmt.Sprintf("%s %-12s seq %-4d %s", marker, step.NodeName, step.Sequence, step.AgentSlug))
		if step.DurationMs != nil {
			sb.WriteString(fmt.Sprintf(" (%dms)", *step.DurationMs))
		}
		if i < len(steps)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("STEP TRAIL", sb.String())
}

// PrintMatches outputs the top matches with scores
func (p *Printer) PrintMatches(matches []db.Match) {
	if len(matches) == 0 {
		p.printBox("MATCHES", "No matches produced")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Persisted %d matches:\n\n", len(matches)))

	count := min(len(matches), maxItemsToShow)
	for i := 0; i < count; i++ {
		m := matches[i]
		sb.WriteString(fmt.Sprintf("#%d  researcher %d ↔ opportunity %d\n", i+1, m.ResearcherID, m.OpportunityID))
		sb.WriteString(fmt.Sprintf("    Overall: %.1f (%s)", m.OverallScore, m.Confidence))
		sb.WriteString(fmt.Sprintf("  R:%.0f F:%.0f I:%.0f\n", m.RelevanceScore, m.FeasibilityScore, m.ImpactScore))
		if m.Justification != "" {
			just := m.Justification
			if len(just) > 50 {
				just = just[:47] + "..."
			}
			sb.WriteString(fmt.Sprintf("    %s\n", just))
		}
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(matches) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more matches", len(matches)-maxItemsToShow))
	}

	p.printBox("TOP MATCHES", strings.TrimSuffix(sb.String(), "\n"))
}
