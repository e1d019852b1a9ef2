package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"evalplane/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, the engine binary, and the API bind address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			for _, dep := range preflight.CheckSystemDeps(cmd.Context(), cfg) {
				if !dep.Optional {
					continue
				}
				kind, detail := statusOK, dep.Path
				if dep.Version != "" {
					detail = dep.Version
				}
				if !dep.Available {
					kind, detail = statusWarn, dep.Detail
				}
				fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
			}

			if preflight.Failed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}
