package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Threshold Search Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Run
	sb.WriteString("## Run\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Run ID | %s |\n", r.Run.RunID))
	sb.WriteString(fmt.Sprintf("| Status | %s |\n", r.Run.Status))
	sb.WriteString(fmt.Sprintf("| Started | %s |\n", r.Run.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", r.Summary.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("| Jobs | %d |\n", r.Run.JobsRun))
	sb.WriteString(fmt.Sprintf("| Initial formula | `%s` |\n", escapePipes(r.Run.InitialFormula)))
	sb.WriteString(fmt.Sprintf("| Best formula | `%s` |\n", escapePipes(r.Run.BestFormula)))
	sb.WriteString(fmt.Sprintf("| Best score | %s |\n", scoreText(r.Run.BestScore)))
	sb.WriteString(fmt.Sprintf("| Promoted | %t |\n", r.Run.Promoted))
	if r.Run.AbortReason != "" {
		sb.WriteString(fmt.Sprintf("| Stop reason | %s |\n", r.Run.AbortReason))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Variables: %d improved, %d without improvement, %d skipped. Rounds: %d (%d improved).\n\n",
		r.Summary.VariablesImproved, r.Summary.VariablesNoImprovement, r.Summary.VariablesSkipped,
		r.Summary.RoundsRun, r.Summary.RoundsImproved))

	// Top results
	sb.WriteString("## Top Results\n\n")
	if len(r.Top) > 0 {
		sb.WriteString("| Rank | Score | MetricSum | OpDays | Trades | Hold% | Profit% | Loss% | Formula | Combination |\n")
		sb.WriteString("|------|-------|-----------|--------|--------|-------|---------|-------|---------|-------------|\n")
		for _, t := range r.Top {
			sb.WriteString(fmt.Sprintf("| %d | %.2f | %.2f | %d | %d | %.2f | %.2f | %.2f | `%s` | %s |\n",
				t.Rank, t.Score, t.MetricSum, t.OpDays, t.TradeCount,
				t.HoldRate, t.ProfitRate, t.LossRate, escapePipes(t.Formula), t.Combination))
		}
	} else {
		sb.WriteString("No result passed the filters.\n")
	}
	sb.WriteString("\n")

	// Variables
	sb.WriteString("## Variables\n\n")
	if len(r.Variables) > 0 {
		sb.WriteString("| # | Variable | Status | Best Bound | Best Score | Rounds | Message |\n")
		sb.WriteString("|---|----------|--------|------------|------------|--------|---------|\n")
		for _, v := range r.Variables {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %d | %s |\n",
				v.Position+1, v.Variable, v.Status, v.BestBound, scoreText(v.BestScore),
				v.RoundsRun, escapePipes(v.Message)))
		}
	} else {
		sb.WriteString("No variable was searched.\n")
	}
	sb.WriteString("\n")

	// Rounds
	sb.WriteString("## Rounds\n\n")
	if len(r.Rounds) > 0 {
		sb.WriteString("| Variable | Round | Divisor | Jobs | Best Bound | Score | Previous | Improved | Error |\n")
		sb.WriteString("|----------|-------|---------|------|------------|-------|----------|----------|-------|\n")
		for _, rr := range r.Rounds {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %s | %s | %s | %t | %s |\n",
				rr.Variable, rr.RoundIndex, rr.StepDivisor, rr.JobCount, rr.BestBound,
				scoreText(rr.BestScore), scoreText(rr.PrevScore), rr.Improved, escapePipes(rr.Err)))
		}
	} else {
		sb.WriteString("No rounds ran.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
