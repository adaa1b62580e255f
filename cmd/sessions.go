package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/convtrack/internal/engine"
	"github.com/guilhermegouw/convtrack/internal/session"
)

const timeLayout = "2006-01-02 15:04:05"

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start [title]",
		Short: "End the current session and start a new one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				s := eng.StartSession(title)
				fmt.Fprintf(cmd.OutOrStdout(), "Started session %s\n", s.ID)
				return nil
			})
		},
	}
}

func newContinueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "continue <session-id>",
		Short: "Make an earlier session current again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				ok, err := eng.ContinueSession(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("session %q not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Continuing session %s\n", args[0])
				return nil
			})
		},
	}
}

func newEndCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				cur := eng.CurrentSession()
				if !eng.EndSession() {
					fmt.Fprintln(cmd.OutOrStdout(), "No current session")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ended session %s\n", cur.ID)
				return nil
			})
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				printSessions(cmd.OutOrStdout(), eng.AllSessions(), eng.CurrentSession())
				return nil
			})
		},
	}
}

func printSessions(w io.Writer, all []*session.Session, cur *session.Session) {
	if len(all) == 0 {
		fmt.Fprintln(w, "No sessions")
		return
	}
	currentID := ""
	if cur != nil {
		currentID = cur.ID
	}
	fmt.Fprintf(w, "  %-36s  %-19s  %8s  %8s  %s\n", "ID", "STARTED", "MESSAGES", "SPEAKERS", "TITLE")
	for _, s := range all {
		marker := " "
		if s.ID == currentID {
			marker = "*"
		}
		title := s.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(w, "%s %-36s  %-19s  %8d  %8d  %s\n",
			marker, s.ID, s.StartTime.Local().Format(timeLayout), len(s.Messages), len(s.Speakers), title)
	}
}

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show a session (the current one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				var s *session.Session
				if len(args) == 1 {
					var err error
					if s, err = eng.Session(args[0]); err != nil {
						if errors.Is(err, session.ErrNotFound) {
							return fmt.Errorf("session %q not found", args[0])
						}
						return err
					}
				} else if s = eng.CurrentSession(); s == nil {
					return session.ErrNoCurrentSession
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(s)
				}
				printSession(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the stored session document")
	return cmd
}

func printSession(w io.Writer, s *session.Session) {
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "Session %s: %s\n", s.ID, title)
	fmt.Fprintln(w, strings.Repeat("─", 40))
	fmt.Fprintf(w, "Started: %s\n", s.StartTime.Local().Format(timeLayout))
	if s.EndTime != nil {
		fmt.Fprintf(w, "Ended:   %s\n", s.EndTime.Local().Format(timeLayout))
	} else if s.IsActive {
		fmt.Fprintln(w, "Status:  active")
	}
	fmt.Fprintln(w)

	if s.Context != nil {
		fmt.Fprintln(w, "Context:")
		printContext(w, s)
		fmt.Fprintln(w)
	}

	names := make(map[string]string, len(s.Speakers))
	fmt.Fprintln(w, "Speakers:")
	if len(s.Speakers) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, sp := range s.Speakers {
		names[sp.ID] = sp.Name
		fmt.Fprintf(w, "  %s (%s): %d messages, last active %s\n",
			sp.Name, sp.ID, sp.MessageCount, sp.LastActive.Local().Format(time.TimeOnly))
		if len(sp.Characteristics) > 0 {
			fmt.Fprintf(w, "    %s\n", strings.Join(sp.Characteristics, ", "))
		}
	}
	fmt.Fprintln(w)

	folded := s.FoldedIDs()
	fmt.Fprintf(w, "Messages (%d, %d compressed):\n", len(s.Messages), len(folded))
	for _, m := range s.Messages {
		if _, ok := folded[m.ID]; ok {
			continue
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), names[m.SpeakerID], m.Content)
	}

	if len(s.CompressedHistory) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Compressed history:")
		for _, g := range s.CompressedHistory {
			fmt.Fprintf(w, "  %s %s-%s (%d messages, ratio %.2f)\n    %s\n",
				names[g.SpeakerID],
				g.TimeRange.Start.Local().Format(time.TimeOnly),
				g.TimeRange.End.Local().Format(time.TimeOnly),
				len(g.OriginalMessageIDs), g.CompressionRatio, g.Summary)
		}
	}

	if len(s.Summaries) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Summaries:")
		for _, sum := range s.Summaries {
			for _, line := range strings.Split(sum.Content, "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}
}

func newRenameSpeakerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-speaker <speaker-id> <name>",
		Short: "Rename a speaker in the current session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				if err := eng.RenameSpeaker(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newRenameSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-session <session-id> <title>",
		Short: "Change the title of a stored session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				if err := eng.RenameSession(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed session %s to %q\n", args[0], strings.TrimSpace(args[1]))
				return nil
			})
		},
	}
}

func newDeleteSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-session <session-id>",
		Short: "Delete a stored session that is not current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				if err := eng.DeleteSession(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove all but the most recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = a.cfg.Storage.RetainSessions
			}
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1, got %d", keep)
			}
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				removed := eng.CleanupOldSessions(keep)
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s), keeping %d\n", len(removed), keep)
				for _, id := range removed {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 0, "Sessions to keep (default: storage.retain_sessions)")
	return cmd
}
