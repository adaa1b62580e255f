package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/convtrack/internal/engine"
	"github.com/guilhermegouw/convtrack/internal/session"
)

func newContextCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Describe the current meeting: participants, goals, and focus",
		Long: `Attach a meeting context to the current session. The context is
stored with the session and returned by show and the MCP tools.

Examples:
  convtrack context describe "Quarterly planning" --domain technical
  convtrack context add-participant Alice --role lead
  convtrack context add-goal "Agree on scope" --priority 5
  convtrack context goal-status 1 completed`,
	}

	cmd.AddCommand(
		newContextShowCmd(a),
		newContextDescribeCmd(a),
		newContextParticipantCmd(a),
		newContextGoalCmd(a),
		newContextGoalStatusCmd(a),
		newContextPointCmd(a),
	)
	return cmd
}

// editContext applies fn to the current session's context and prints the
// result.
func (a *app) editContext(cmd *cobra.Command, fn func(*session.MeetingContext, time.Time) error) error {
	return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
		if _, err := eng.EditContext(fn); err != nil {
			return err
		}
		printContext(cmd.OutOrStdout(), eng.CurrentSession())
		return nil
	})
}

func newContextShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current session's context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), cmd.ErrOrStderr(), func(eng *engine.Engine) error {
				cur := eng.CurrentSession()
				if cur == nil {
					return session.ErrNoCurrentSession
				}
				if cur.Context == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No context set")
					return nil
				}
				printContext(cmd.OutOrStdout(), cur)
				return nil
			})
		},
	}
}

func newContextDescribeCmd(a *app) *cobra.Command {
	var (
		domain   string
		duration int
	)

	cmd := &cobra.Command{
		Use:   "describe <description>",
		Short: "Set the meeting description, domain, and expected length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration < 0 {
				return fmt.Errorf("--duration must not be negative, got %d", duration)
			}
			return a.editContext(cmd, func(c *session.MeetingContext, now time.Time) error {
				c.Description = strings.TrimSpace(args[0])
				if domain != "" {
					c.Domain = session.Domain(strings.ToLower(strings.TrimSpace(domain)))
				}
				if cmd.Flags().Changed("duration") {
					c.DurationMinutes = duration
				}
				c.LastModified = now
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "general, technical, sales, medical, legal, educational, or a custom label")
	cmd.Flags().IntVar(&duration, "duration", session.DefaultDurationMinutes, "Expected length in minutes")
	return cmd
}

func newContextParticipantCmd(a *app) *cobra.Command {
	var role, email string

	cmd := &cobra.Command{
		Use:   "add-participant <name>",
		Short: "Add an expected participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editContext(cmd, func(c *session.MeetingContext, now time.Time) error {
				return c.AddParticipant(args[0], role, email, now)
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "participant", "Role in the meeting")
	cmd.Flags().StringVar(&email, "email", "", "Contact address")
	return cmd
}

func newContextGoalCmd(a *app) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "add-goal <description>",
		Short: "Add a pending meeting goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.editContext(cmd, func(c *session.MeetingContext, now time.Time) error {
				return c.AddGoal(args[0], priority, now)
			})
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 3, "Importance from 1 to 5")
	return cmd
}

func newContextGoalStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "goal-status <goal-number> <status>",
		Short: "Mark a goal pending, in_progress, completed, or cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("goal number %q: %w", args[0], err)
			}
			status, err := session.ParseGoalStatus(args[1])
			if err != nil {
				return err
			}
			return a.editContext(cmd, func(c *session.MeetingContext, now time.Time) error {
				return c.SetGoalStatus(n, status, now)
			})
		},
	}
}

func newContextPointCmd(a *app) *cobra.Command {
	var challenge bool

	cmd := &cobra.Command{
		Use:   "add-point <text>",
		Short: "Add a key point to cover, or a potential challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(args[0])
			if text == "" {
				return errors.New("empty point")
			}
			return a.editContext(cmd, func(c *session.MeetingContext, now time.Time) error {
				if challenge {
					c.Challenges = append(c.Challenges, text)
				} else {
					c.KeyPoints = append(c.KeyPoints, text)
				}
				c.LastModified = now
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&challenge, "challenge", false, "Record a potential challenge instead")
	return cmd
}

func printContext(w io.Writer, s *session.Session) {
	c := s.Context
	if c == nil {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(c.Summary(s.Title), "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if len(c.Challenges) > 0 {
		fmt.Fprintln(w, "  Potential challenges:")
		for _, ch := range c.Challenges {
			fmt.Fprintf(w, "    - %s\n", ch)
		}
	}
}
