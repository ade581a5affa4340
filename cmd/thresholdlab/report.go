package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"threshold-lab/internal/reporting"
	"threshold-lab/internal/sink"
	"threshold-lab/internal/storage/postgres"
)

func newReportCmd(root *rootFlags) *cobra.Command {
	var runID, postgresDSN, outputDir string
	var limit int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the report of a stored run",
		Long:  "Renders report.md, top3.csv and variables.csv for --run-id. Without --run-id, lists recent runs.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root.config != "" {
				cfg, err := loadConfig(root)
				if err != nil {
					return err
				}
				if postgresDSN == "" {
					postgresDSN = cfg.Postgres.DSN
				}
				if outputDir == "" {
					outputDir = cfg.Output.Dir
				}
			}
			if postgresDSN == "" {
				return errors.New("--postgres-dsn is required")
			}
			if outputDir == "" {
				outputDir = "out"
			}

			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, postgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			stores := postgres.NewStores(pool)

			if runID == "" {
				runs, err := stores.Runs.GetRecent(ctx, limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					score := "-"
					if r.BestScore != nil {
						score = fmt.Sprintf("%.2f", *r.BestScore)
					}
					fmt.Fprintf(os.Stdout, "%s  %-9s  %s  %s\n", r.RunID, r.Status, r.StartedAt.Format("2006-01-02 15:04"), score)
				}
				return nil
			}

			report, err := reporting.NewGenerator(stores).Generate(ctx, runID)
			if err != nil {
				return fmt.Errorf("generate report: %w", err)
			}

			dir := filepath.Join(outputDir, runID)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			topCSV, err := reporting.RenderTopCSV(report)
			if err != nil {
				return err
			}
			varsCSV, err := reporting.RenderVariablesCSV(report)
			if err != nil {
				return err
			}
			files := map[string]string{
				sink.ReportFile:    reporting.RenderMarkdown(report),
				sink.TopCSVFile:    topCSV,
				sink.VariablesFile: varsCSV,
			}
			for name, body := range files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
					return fmt.Errorf("write %s: %w", name, err)
				}
			}

			log.Info().Str("run_id", runID).Str("dir", dir).Msg("report written")
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run to report on")
	cmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL DSN")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for report files")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list without --run-id")
	return cmd
}
