package domain

import (
	"fmt"
	"time"
)

// ParameterCombination is the fixed set of auxiliary knobs handed to the evaluator
// alongside a formula. Combinations are supplied once per search and never searched.
type ParameterCombination struct {
	WindowWidth     int     `json:"window_width" yaml:"window_width"`
	HoldingDays     int     `json:"holding_days" yaml:"holding_days"`
	ProfitTarget    float64 `json:"profit_target" yaml:"profit_target"`
	ProfitIncrement float64 `json:"profit_increment" yaml:"profit_increment"`
	StopLoss        float64 `json:"stop_loss" yaml:"stop_loss"`
	LossIncrement   float64 `json:"loss_increment" yaml:"loss_increment"`
	NewHighWindow   int     `json:"new_high_window" yaml:"new_high_window"`
	NewHighOffset   int     `json:"new_high_offset" yaml:"new_high_offset"`
	NewLowWindow    int     `json:"new_low_window" yaml:"new_low_window"`
	NewLowOffset    int     `json:"new_low_offset" yaml:"new_low_offset"`
	EntryDelayDays  int     `json:"entry_delay_days" yaml:"entry_delay_days"`
	MaxPositions    int     `json:"max_positions" yaml:"max_positions"`
	FeeRate         float64 `json:"fee_rate" yaml:"fee_rate"`
	SlippageRate    float64 `json:"slippage_rate" yaml:"slippage_rate"`
}

// Key returns a canonical string for the combination, used in job fingerprints.
func (p ParameterCombination) Key() string {
	return fmt.Sprintf("w=%d|h=%d|pt=%.4f|pi=%.4f|sl=%.4f|li=%.4f|nhw=%d|nho=%d|nlw=%d|nlo=%d|ed=%d|mp=%d|fee=%.6f|slip=%.6f",
		p.WindowWidth, p.HoldingDays,
		p.ProfitTarget, p.ProfitIncrement,
		p.StopLoss, p.LossIncrement,
		p.NewHighWindow, p.NewHighOffset,
		p.NewLowWindow, p.NewLowOffset,
		p.EntryDelayDays, p.MaxPositions,
		p.FeeRate, p.SlippageRate,
	)
}

// DateRange is the inclusive evaluation window.
type DateRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Valid reports whether Start is not after End.
func (d DateRange) Valid() bool {
	return !d.Start.After(d.End)
}

// Key returns a canonical string for the range (date precision).
func (d DateRange) Key() string {
	return d.Start.UTC().Format("2006-01-02") + ".." + d.End.UTC().Format("2006-01-02")
}
