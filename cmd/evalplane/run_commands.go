package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"evalplane/internal/api"
	"evalplane/internal/config"
	"evalplane/internal/ingest"
	"evalplane/internal/jobspec"
	"evalplane/internal/orchestrator"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit and inspect evaluation runs",
	}

	runCmd.AddCommand(newRunSubmitCommand(ctx))
	runCmd.AddCommand(newRunExecCommand(ctx))
	runCmd.AddCommand(newRunListCommand(ctx))
	runCmd.AddCommand(newRunShowCommand(ctx))
	runCmd.AddCommand(newRunIngestCommand(ctx))

	return runCmd
}

func readJobSpec(path string) ([]byte, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read job specification: %w", err)
	}
	return data, nil
}

func newRunSubmitCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <jobspec.json>",
		Short: "Validate a job specification and queue a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readJobSpec(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				run, err := api.NewRunService(st, nil, nil).Submit(cmd.Context(), raw)
				if err != nil {
					return submitError(err)
				}
				if asJSON {
					return writeJSON(cmd, api.SubmitResponse{RunID: run.ID})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued run %s (%s, %s)\n", run.ID, run.ModelName, run.ScoringMode)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run id as JSON")
	return cmd
}

func newRunExecCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <jobspec.json>",
		Short: "Queue a run and execute it in the foreground",
		Long: "Queue a run and execute it in this process instead of waiting for the daemon.\n" +
			"If a running daemon claims the run first, the command reports that and leaves the run to it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readJobSpec(args[0])
			if err != nil {
				return err
			}
			spec, err := jobspec.Parse(raw)
			if err != nil {
				return submitError(err)
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				logger := commandLogger(cmd, cfg)
				pipeline := ingest.NewPipeline(st, logger)
				run, err := api.NewRunService(st, pipeline, nil).SubmitSpec(cmd.Context(), spec)
				if err != nil {
					return submitError(err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Executing run %s\n", run.ID)

				execErr := orchestrator.New(cfg, st, pipeline, logger).Execute(cmd.Context(), run.ID, spec)
				var runErr *orchestrator.RunError
				claimedElsewhere := errors.Is(execErr, services.ErrConflict)
				if execErr != nil && !claimedElsewhere && !errors.As(execErr, &runErr) {
					return execErr
				}
				final, err := st.GetRun(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if claimedElsewhere {
					fmt.Fprintf(out, "Run %s was claimed by the daemon (%s); follow it with evalplane run show %s\n",
						final.ID, final.Status, final.ID)
					return nil
				}
				fmt.Fprintf(out, "Run %s %s\n", final.ID, final.Status)
				if runErr != nil {
					return fmt.Errorf("run failed: %s", runErr.Reason)
				}
				return nil
			})
		},
	}
}

func submitError(err error) error {
	if errors.Is(err, api.ErrUnknownPack) {
		return fmt.Errorf("invalid benchmark_pack_id: pack not found")
	}
	return fmt.Errorf("invalid job specification: %w", err)
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	var (
		packID      string
		status      string
		scoringMode string
		limit       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				runs, err := api.NewRunService(st, nil, nil).List(cmd.Context(), store.RunFilter{
					PackID:      strings.TrimSpace(packID),
					Status:      store.RunStatus(strings.TrimSpace(status)),
					ScoringMode: strings.TrimSpace(scoringMode),
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs found")
					return nil
				}
				fmt.Fprint(out, renderRunTable(runs, shouldColorize(out)))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&packID, "pack", "", "Only runs of this pack id")
	cmd.Flags().StringVar(&status, "status", "", "Only runs in this status (queued, running, completed, failed)")
	cmd.Flags().StringVar(&scoringMode, "scoring-mode", "", "Only runs with this scoring mode")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum runs to list (default 50)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}

func renderRunTable(runs []*store.Run, colorize bool) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		score := "-"
		if run.Scores != nil {
			score = formatScore(run.Scores.PackScore)
		}
		rows = append(rows, []string{
			run.ID,
			run.ModelName,
			runStatusCell(run.Status, colorize),
			displayLabel(run.ScoringMode),
			score,
			api.FormatTime(run.CreatedAt),
		})
	}
	return renderTable([]tableColumn{
		{header: "Run"},
		{header: "Model"},
		{header: "Status"},
		{header: "Scoring"},
		{header: "Pack Score", align: alignRight},
		{header: "Created"},
	}, rows)
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <runId>",
		Short: "Show a run with its scores and task metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				detail, err := api.NewRunService(st, nil, nil).Describe(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				out := cmd.OutOrStdout()
				printRunDetail(out, detail, shouldColorize(out))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run as JSON")
	return cmd
}

func printRunDetail(out io.Writer, detail *store.RunDetail, colorize bool) {
	fmt.Fprintf(out, "Run:          %s\n", detail.ID)
	if detail.RunName != "" {
		fmt.Fprintf(out, "Name:         %s\n", detail.RunName)
	}
	fmt.Fprintf(out, "Status:       %s\n", runStatusCell(detail.Status, colorize))
	fmt.Fprintf(out, "Model:        %s (%s)\n", detail.ModelName, detail.BackendType)
	if detail.Pack != nil {
		fmt.Fprintf(out, "Pack:         %s %s (%s)\n", detail.Pack.Name, detail.Pack.Version, detail.Pack.ID)
	}
	fmt.Fprintf(out, "Scoring:      %s\n", displayLabel(detail.ScoringMode))
	fmt.Fprintf(out, "Save details: %s\n", yesNo(detail.SaveDetails))
	fmt.Fprintf(out, "Output dir:   %s\n", detail.OutputDir)
	if detail.Scores != nil {
		fmt.Fprintf(out, "Pack score:   %s\n", formatScore(detail.Scores.PackScore))
	}
	if detail.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:        %s\n", detail.ErrorMessage)
	}
	if detail.ExitCode != nil {
		fmt.Fprintf(out, "Exit code:    %d\n", *detail.ExitCode)
	}

	if len(detail.TaskMetrics) > 0 {
		rows := make([][]string, 0, len(detail.TaskMetrics))
		for _, m := range detail.TaskMetrics {
			rows = append(rows, []string{m.TaskKey, m.MetricName, strconv.FormatFloat(m.MetricValue, 'f', 4, 64)})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable([]tableColumn{
			{header: "Task"},
			{header: "Metric"},
			{header: "Value", align: alignRight},
		}, rows))
		fmt.Fprintln(out)
	}
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 4, 64)
}

func newRunIngestCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest <runId>",
		Short: "Re-read a run's engine output into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				pipeline := ingest.NewPipeline(st, commandLogger(cmd, cfg))
				resp, err := api.NewRunService(st, pipeline, nil).Ingest(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Skipped {
					fmt.Fprintf(out, "Run %s: no results file found\n", resp.RunID)
					return nil
				}
				fmt.Fprintf(out, "Run %s ingested from %s\n", resp.RunID, resp.ResultsPath)
				fmt.Fprintf(out, "  metrics=%d hashes=%d detail_files=%d pack_score=%s\n",
					resp.Metrics, resp.Hashes, resp.DetailFiles, formatScore(resp.PackScore))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the ingestion summary as JSON")
	return cmd
}
