package reporting

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// RenderTopCSV renders the top results table as CSV.
func RenderTopCSV(r *Report) (string, error) {
	rows := [][]string{{
		"rank", "score", "metric_sum", "op_days", "trade_count",
		"hold_rate", "profit_rate", "loss_rate", "formula", "combination",
	}}
	for _, t := range r.Top {
		rows = append(rows, []string{
			strconv.Itoa(t.Rank),
			formatFloat(t.Score),
			formatFloat(t.MetricSum),
			strconv.Itoa(t.OpDays),
			strconv.Itoa(t.TradeCount),
			formatFloat(t.HoldRate),
			formatFloat(t.ProfitRate),
			formatFloat(t.LossRate),
			t.Formula,
			t.Combination,
		})
	}
	return writeCSV(rows)
}

// RenderVariablesCSV renders the per-variable log as CSV.
func RenderVariablesCSV(r *Report) (string, error) {
	rows := [][]string{{
		"position", "variable", "status", "best_bound", "best_score", "rounds_run", "message",
	}}
	for _, v := range r.Variables {
		rows = append(rows, []string{
			strconv.Itoa(v.Position),
			v.Variable,
			string(v.Status),
			v.BestBound,
			scoreText(v.BestScore),
			strconv.Itoa(v.RoundsRun),
			v.Message,
		})
	}
	return writeCSV(rows)
}

func writeCSV(rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
