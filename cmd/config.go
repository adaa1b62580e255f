package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/convtrack/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				data, err := json.MarshalIndent(a.cfg, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling config: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set one field in the config file",
			Long: `Set one field using dotted JSON paths, for example:
  convtrack config set compression.threshold 80
  convtrack config set summary.interval 90s
  convtrack config set storage.backend file`,
			Args:        cobra.ExactArgs(2),
			Annotations: map[string]string{skipConfig: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.configFile()
				if err := config.SetField(path, args[0], config.ParseValue(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], path)
				return nil
			},
		},
		&cobra.Command{
			Use:         "path",
			Short:       "Print the config file location",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{skipConfig: "true"},
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), a.configFile())
			},
		},
	)

	return cmd
}
