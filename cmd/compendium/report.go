package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/fetch"
	"github.com/mohammad-safakhou/compendium/internal/graph"
	"github.com/mohammad-safakhou/compendium/internal/llm"
	"github.com/mohammad-safakhou/compendium/internal/research"
	"github.com/mohammad-safakhou/compendium/internal/sources"
	"github.com/mohammad-safakhou/compendium/internal/throttle"
)

// reportCMD runs the full research flow once, without the server, and prints
// the report as JSON.
func reportCMD() *cobra.Command {
	var cfgPath string
	var report = &cobra.Command{
		Use:   "report [purpose...]",
		Short: "Run one research flow for a purpose and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			purpose := strings.Join(args, " ")

			gen, err := llm.New(cfg.LLM)
			if err != nil {
				return err
			}
			search, err := sources.New(cfg.Search)
			if err != nil {
				return err
			}
			opts := []research.PipelineOption{
				research.WithLimiters(
					throttle.New("search", cfg.Search.RatePerSec, cfg.Search.Burst, cfg.Search.DailyBudget),
					throttle.New("llm", cfg.LLM.RatePerSec, cfg.LLM.Burst, cfg.LLM.DailyBudget),
				),
			}
			if cfg.Fetch.Enabled {
				opts = append(opts, research.WithFetcher(fetch.New(cfg.Fetch)))
			}
			pipeline := research.NewPipeline(cfg.Research, search, gen, opts...)

			result, err := graph.RunDocumentFlow(cmd.Context(), "cli", purpose, graph.FlowDeps{
				Generator:        gen,
				Pipeline:         pipeline,
				QueriesPerBranch: cfg.Research.MaxQueriesPerJob,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			return nil
		},
	}
	report.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return report
}
