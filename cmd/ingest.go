package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guilhermegouw/convtrack/internal/engine"
	"github.com/guilhermegouw/convtrack/internal/events"
)

// maxLineBytes bounds a single transcript line.
const maxLineBytes = 1 << 20

func newIngestCmd(a *app) *cobra.Command {
	var (
		title string
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Feed transcript lines into the current conversation",
		Long: `Read one utterance per line from a file or standard input and add
each to the current session. Lines starting with "?" are marked as
questions. Summaries and compression notices are printed as they happen.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				//nolint:gosec // G304: the user names the transcript to read.
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening transcript: %w", err)
				}
				defer f.Close()
				in = f
			}

			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				if cmd.Flags().Changed("title") {
					eng.StartSession(title)
				}
				added, err := ingest(cmd.Context(), eng, in, cmd.OutOrStdout(), quiet)
				if err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d messages\n", added)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Start a new session with this title before ingesting")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print summaries or progress")
	return cmd
}

// ingest streams lines from r into eng while the engine's timer loop runs.
// It returns once r is exhausted and the loop has flushed.
func ingest(ctx context.Context, eng *engine.Engine, r io.Reader, out io.Writer, quiet bool) (int, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	subCtx, unsubscribe := context.WithCancel(ctx)
	defer unsubscribe()
	evs := eng.Subscribe(subCtx, events.Summarized, events.Compressed, events.PersistenceDegraded)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range evs {
			if !quiet {
				printEvent(out, ev.Payload)
			}
		}
	}()

	added := 0
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			if gctx.Err() != nil {
				return nil
			}
			line := scanner.Text()
			question := false
			if rest, ok := strings.CutPrefix(line, "?"); ok {
				line, question = rest, true
			}
			if _, ok := eng.AddMessage(line, question); ok {
				added++
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading transcript: %w", err)
		}
		return nil
	})

	err := g.Wait()
	unsubscribe()
	<-printed
	return added, err
}

func printEvent(w io.Writer, ev events.ConversationEvent) {
	switch ev.Type {
	case events.Summarized:
		fmt.Fprintf(w, "\n%s\n\n", ev.Content)
	case events.Compressed:
		fmt.Fprintf(w, "Compressed %d group(s) in session %s\n", ev.Groups, ev.SessionID)
	case events.PersistenceDegraded:
		fmt.Fprintf(w, "Warning: sessions are not being saved: %v\n", ev.Err)
	}
}
