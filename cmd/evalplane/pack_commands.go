package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"evalplane/internal/api"
	"evalplane/internal/config"
	"evalplane/internal/logging"
	"evalplane/internal/packfile"
	"evalplane/internal/store"
)

func newPackCommand(ctx *commandContext) *cobra.Command {
	packCmd := &cobra.Command{
		Use:   "pack",
		Short: "Manage benchmark packs",
	}

	packCmd.AddCommand(newPackImportCommand(ctx))
	packCmd.AddCommand(newPackListCommand(ctx))
	packCmd.AddCommand(newPackShowCommand(ctx))

	return packCmd
}

func newPackImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <pack.yaml>",
		Short: "Import or update a pack from a YAML definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			file, err := packfile.Load(path)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				pack, err := packfile.Apply(cmd.Context(), st, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported pack %s %s (%s) with %d tasks\n",
					pack.Name, pack.Version, pack.ID, pack.TaskCount)
				return nil
			})
		},
	}
}

func newPackListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imported packs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				packs, err := api.NewCatalogService(st, nil, logging.NewNop()).Packs(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, packs)
				}
				out := cmd.OutOrStdout()
				if len(packs) == 0 {
					fmt.Fprintln(out, "No packs imported")
					return nil
				}
				rows := make([][]string, 0, len(packs))
				for _, p := range packs {
					rows = append(rows, []string{
						p.PackID,
						p.Name,
						p.Version,
						p.PrimaryMetric,
						displayLabel(p.Aggregation),
						strconv.Itoa(p.TaskCount),
					})
				}
				fmt.Fprint(out, renderTable([]tableColumn{
					{header: "Pack"},
					{header: "Name"},
					{header: "Version"},
					{header: "Metric"},
					{header: "Aggregation"},
					{header: "Tasks", align: alignRight},
				}, rows))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print packs as JSON")
	return cmd
}

func newPackShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <packId>",
		Short: "Show a pack and its weighted tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				detail, err := api.NewCatalogService(st, nil, logging.NewNop()).Pack(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s (%s)\n", detail.Name, detail.Version, detail.PackID)
				if detail.Description != "" {
					fmt.Fprintln(out, detail.Description)
				}
				rows := make([][]string, 0, len(detail.Tasks))
				for _, task := range detail.Tasks {
					suite := "-"
					if task.Benchmark != nil {
						suite = task.Benchmark.Suite
					}
					rows = append(rows, []string{
						strconv.Itoa(task.DisplayOrder),
						task.TaskSpec,
						suite,
						strconv.FormatFloat(task.Weight, 'f', -1, 64),
					})
				}
				fmt.Fprint(out, renderTable([]tableColumn{
					{header: "#", align: alignRight},
					{header: "Task"},
					{header: "Suite"},
					{header: "Weight", align: alignRight},
				}, rows))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the pack as JSON")
	return cmd
}

func newLeaderboardCommand(ctx *commandContext) *cobra.Command {
	var (
		scoringMode string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "leaderboard <packId>",
		Short: "Rank the scored runs of a pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				board, err := api.NewCatalogService(st, nil, logging.NewNop()).
					Leaderboard(cmd.Context(), strings.TrimSpace(args[0]), strings.TrimSpace(scoringMode))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, board)
				}
				out := cmd.OutOrStdout()
				if len(board.Leaderboard) == 0 {
					fmt.Fprintln(out, "No scored runs yet")
					return nil
				}
				rows := make([][]string, 0, len(board.Leaderboard))
				for _, entry := range board.Leaderboard {
					score := strconv.FormatFloat(entry.PackScore, 'f', 4, 64)
					rows = append(rows, []string{
						strconv.Itoa(entry.Rank),
						entry.ModelName,
						score,
						formatScore(entry.PackScoreStderr),
						displayLabel(entry.ScoringMode),
						entry.RunID,
					})
				}
				fmt.Fprintf(out, "Primary metric: %s\n", board.PrimaryMetric)
				fmt.Fprint(out, renderTable([]tableColumn{
					{header: "Rank", align: alignRight},
					{header: "Model"},
					{header: "Score", align: alignRight},
					{header: "Stderr", align: alignRight},
					{header: "Scoring"},
					{header: "Run"},
				}, rows))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&scoringMode, "scoring-mode", "", "Only runs with this scoring mode")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the leaderboard as JSON")
	return cmd
}
