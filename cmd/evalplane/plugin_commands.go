package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"evalplane/internal/api"
	"evalplane/internal/config"
	"evalplane/internal/store"
)

func newPluginCommand(ctx *commandContext) *cobra.Command {
	pluginCmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage custom engine task plugins",
	}

	pluginCmd.AddCommand(newPluginRegisterCommand(ctx))
	pluginCmd.AddCommand(newPluginListCommand(ctx))

	return pluginCmd
}

func newPluginRegisterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name> <version> <uri>",
		Short: "Register or update a plugin's storage location",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				plugin, err := st.RegisterPlugin(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered plugin %s@%s -> %s\n", plugin.Name, plugin.Version, plugin.StorageURI)
				return nil
			})
		},
	}
}

func newPluginListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				plugins, err := st.ListPlugins(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if plugins == nil {
						plugins = []*store.Plugin{}
					}
					return writeJSON(cmd, plugins)
				}
				out := cmd.OutOrStdout()
				if len(plugins) == 0 {
					fmt.Fprintln(out, "No plugins registered")
					return nil
				}
				rows := make([][]string, 0, len(plugins))
				for _, p := range plugins {
					rows = append(rows, []string{p.Name, p.Version, p.StorageURI, api.FormatTime(p.UpdatedAt)})
				}
				fmt.Fprint(out, renderTable([]tableColumn{
					{header: "Name"},
					{header: "Version"},
					{header: "URI"},
					{header: "Updated"},
				}, rows))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print plugins as JSON")
	return cmd
}
