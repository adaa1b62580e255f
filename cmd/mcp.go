package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guilhermegouw/convtrack/internal/engine"
	"github.com/guilhermegouw/convtrack/internal/mcpserver"
	"github.com/guilhermegouw/convtrack/internal/version"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve sessions to MCP clients over stdio",
		Long: `Run an MCP server on standard input and output. Clients can list
sessions, read messages and summaries, and add utterances. The
engine's timer loop runs alongside so summaries keep being produced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				ctx, stop := context.WithCancel(cmd.Context())
				defer stop()

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return eng.Run(gctx)
				})
				g.Go(func() error {
					defer stop()
					err := mcpserver.Serve(gctx, eng, version.Version, cmd.InOrStdin(), cmd.OutOrStdout())
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
				return g.Wait()
			})
		},
	}
}
