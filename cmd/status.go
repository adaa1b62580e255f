package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/convtrack/internal/config"
	"github.com/guilhermegouw/convtrack/internal/engine"
	"github.com/guilhermegouw/convtrack/internal/session"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session, storage, and thresholds",
		Long: `Display the convtrack status including:
  - Current session and its activity
  - Storage backend and location
  - Compression and summary thresholds`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				printStatus(cmd.OutOrStdout(), a, eng)
				return nil
			})
		},
	}
}

func printStatus(w io.Writer, a *app, eng *engine.Engine) {
	cfg := a.cfg

	fmt.Fprintln(w, "convtrack Status")
	fmt.Fprintln(w, strings.Repeat("─", 40))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Current Session:")
	if cur := eng.CurrentSession(); cur != nil {
		printCurrent(w, cur)
	} else {
		fmt.Fprintln(w, "  none")
	}
	fmt.Fprintf(w, "  Stored sessions: %d (keeping %d)\n", eng.Count(), cfg.Storage.RetainSessions)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Storage:")
	backend := cfg.Storage.Backend
	if a.ephemeral {
		backend = config.BackendMemory
	}
	fmt.Fprintf(w, "  Backend: %s\n", backend)
	if loc := eng.Location(); loc != "" {
		fmt.Fprintf(w, "  Location: %s\n", loc)
	}
	if err := eng.Degraded(); err != nil {
		fmt.Fprintf(w, "  Health: degraded (%v)\n", err)
	} else {
		fmt.Fprintln(w, "  Health: ok")
	}
	if eng.Pending() {
		fmt.Fprintln(w, "  Unsaved changes: yes")
	}
	fmt.Fprintln(w)

	m := eng.Metrics()
	fmt.Fprintln(w, "Events:")
	fmt.Fprintf(w, "  Broker %q: %d published, %d dropped, %d subscribers\n",
		m.Name, m.PublishCount, m.DropCount, m.SubscriberCount)
	fmt.Fprintln(w)

	ec := cfg.EngineConfig()
	fmt.Fprintln(w, "Thresholds:")
	fmt.Fprintf(w, "  Compression: more than %d messages, every %s, groups of %d+ within %s\n",
		ec.Compression.Threshold, ec.Compression.Interval, ec.Compression.MinGroupSize, ec.Compression.GroupingWindow)
	fmt.Fprintf(w, "  Summary: every %s, up to %d key points\n", ec.Summary.Interval, ec.Summary.MaxKeyPoints)
	fmt.Fprintf(w, "  Attribution: similarity %.2f, recency %s\n",
		ec.Attribution.SimilarityThreshold, ec.Attribution.RecencyWindow)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Config File: %s\n", a.configFile())
}

func printCurrent(w io.Writer, s *session.Session) {
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "  %s: %s\n", s.ID, title)
	fmt.Fprintf(w, "  Started: %s (%s ago)\n", s.StartTime.Local().Format(timeLayout), formatDuration(time.Since(s.StartTime)))
	fmt.Fprintf(w, "  Messages: %d, speakers: %d, compressed groups: %d, summaries: %d\n",
		len(s.Messages), len(s.Speakers), len(s.CompressedHistory), len(s.Summaries))
	if last := s.LastMessage(); last != nil {
		fmt.Fprintf(w, "  Last message: %s ago\n", formatDuration(time.Since(last.Timestamp)))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	hours := int(d.Hours())
	if hours < 24 {
		return fmt.Sprintf("%d hours", hours)
	}
	days := hours / 24
	return fmt.Sprintf("%d days", days)
}
