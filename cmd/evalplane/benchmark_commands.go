package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evalplane/internal/api"
	"evalplane/internal/catalog"
	"evalplane/internal/config"
	"evalplane/internal/engine"
	"evalplane/internal/logging"
	"evalplane/internal/store"
)

func newBenchmarksCommand(ctx *commandContext) *cobra.Command {
	benchCmd := &cobra.Command{
		Use:     "benchmarks",
		Aliases: []string{"benchmark"},
		Short:   "Browse and sync the benchmark catalog",
	}

	benchCmd.AddCommand(newBenchmarksSyncCommand(ctx))
	benchCmd.AddCommand(newBenchmarksListCommand(ctx))

	return benchCmd
}

func newBenchmarksSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Register every task the engine lists as a benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				syncer := catalog.NewSyncer(engine.NewCatalog(cfg.EngineBinary()), st, commandLogger(cmd, cfg))
				result, err := syncer.Sync(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced %d of %d engine tasks (%d without inspection)\n",
					result.Upserted, result.Listed, result.InspectFailed)
				return nil
			})
		},
	}
}

func newBenchmarksListCommand(ctx *commandContext) *cobra.Command {
	var (
		query       string
		suite       string
		scoringMode string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog benchmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				benchmarks, err := api.NewCatalogService(st, nil, logging.NewNop()).Benchmarks(cmd.Context(), store.BenchmarkFilter{
					Query:       strings.TrimSpace(query),
					Suite:       strings.TrimSpace(suite),
					ScoringMode: strings.TrimSpace(scoringMode),
				})
				if err != nil {
					return err
				}
				if asJSON {
					if benchmarks == nil {
						benchmarks = []*store.Benchmark{}
					}
					return writeJSON(cmd, benchmarks)
				}
				out := cmd.OutOrStdout()
				if len(benchmarks) == 0 {
					fmt.Fprintln(out, "No benchmarks registered; run `evalplane benchmarks sync`")
					return nil
				}
				rows := make([][]string, 0, len(benchmarks))
				for _, b := range benchmarks {
					rows = append(rows, []string{
						b.Key,
						b.Suite,
						displayLabel(b.ScoringMode),
						displayLabel(b.SourceType),
						b.HFRepo,
					})
				}
				fmt.Fprint(out, renderTable([]tableColumn{
					{header: "Benchmark"},
					{header: "Suite"},
					{header: "Scoring"},
					{header: "Source"},
					{header: "Dataset"},
				}, rows))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Substring match on the benchmark key")
	cmd.Flags().StringVar(&suite, "suite", "", "Only benchmarks of this suite")
	cmd.Flags().StringVar(&scoringMode, "scoring-mode", "", "Only benchmarks with this scoring mode")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print benchmarks as JSON")
	return cmd
}
