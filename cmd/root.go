// Package cmd provides the CLI commands for convtrack.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/convtrack/internal/config"
	"github.com/guilhermegouw/convtrack/internal/debug"
	"github.com/guilhermegouw/convtrack/internal/version"
)

// skipConfig marks commands that must run even when the config is invalid.
const skipConfig = "skip-config"

// app carries the global flags and the loaded configuration to subcommands.
type app struct {
	configPath string
	debug      bool
	ephemeral  bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "convtrack",
		Short: "Track live conversations: speakers, compression, and summaries",
		Long: `convtrack ingests a stream of transcribed utterances and keeps a
persistent record of each conversation:
  - Speakers are inferred from how each message is written
  - Long same-speaker runs are compressed into key messages
  - Periodic summaries capture key points and per-speaker activity`,
		SilenceUsage:      true,
		PersistentPreRunE: a.preRun,
		PersistentPostRun: func(*cobra.Command, []string) {
			debug.Disable()
		},
	}

	cmd.Version = version.Version
	cmd.SetVersionTemplate(version.Full() + "\n")

	flags := cmd.PersistentFlags()
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging to the data directory's debug.log")
	flags.StringVar(&a.configPath, "config", "", "Use this config file instead of the standard locations")
	flags.BoolVar(&a.ephemeral, "ephemeral", false, "Keep sessions in memory only")

	cmd.AddCommand(
		newIngestCmd(a),
		newStartCmd(a),
		newContinueCmd(a),
		newEndCmd(a),
		newSessionsCmd(a),
		newShowCmd(a),
		newStatusCmd(a),
		newRenameSpeakerCmd(a),
		newRenameSessionCmd(a),
		newDeleteSessionCmd(a),
		newCleanupCmd(a),
		newContextCmd(a),
		newConfigCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)

	return cmd
}

func (a *app) preRun(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFromFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if a.debug || a.cfg.Options.Debug {
		logPath := a.cfg.DebugLogPath()
		if debugErr := debug.Enable(logPath); debugErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to enable debug logging: %v\n", debugErr)
		} else if a.debug {
			fmt.Fprintf(os.Stderr, "Debug: %s\n", logPath)
		}
	}
	return nil
}

// configFile returns the file `config set` edits.
func (a *app) configFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.GlobalConfigPath()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
