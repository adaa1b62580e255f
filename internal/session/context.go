package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Goal priority bounds; higher is more important.
const (
	MinGoalPriority = 1
	MaxGoalPriority = 5
)

// DefaultDurationMinutes is the estimated length of a new meeting.
const DefaultDurationMinutes = 60

// ErrUnknownGoal is returned when a goal index is out of range.
var ErrUnknownGoal = errors.New("unknown goal")

// Domain classifies what a meeting is about. Values other than the
// predefined ones describe a custom domain.
type Domain string

// Predefined domains.
const (
	DomainGeneral     Domain = "general"
	DomainTechnical   Domain = "technical"
	DomainSales       Domain = "sales"
	DomainMedical     Domain = "medical"
	DomainLegal       Domain = "legal"
	DomainEducational Domain = "educational"
)

// GoalStatus tracks progress on a meeting goal.
type GoalStatus string

// Goal statuses.
const (
	GoalPending    GoalStatus = "pending"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalCancelled  GoalStatus = "cancelled"
)

var goalStatuses = []GoalStatus{GoalPending, GoalInProgress, GoalCompleted, GoalCancelled}

// ParseGoalStatus accepts a status name, case-insensitively, with either
// dashes or underscores.
func ParseGoalStatus(s string) (GoalStatus, error) {
	st := GoalStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !slices.Contains(goalStatuses, st) {
		return "", fmt.Errorf("unknown goal status %q", s)
	}
	return st, nil
}

// Participant is a person expected in the meeting.
type Participant struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Email   string `json:"email,omitempty"`
	Present bool   `json:"isPresent"`
}

// Goal is one objective for the meeting.
type Goal struct {
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      GoalStatus `json:"status"`
}

// MeetingContext is the user-supplied description of a session: who takes
// part, what it is about, and what it should achieve.
type MeetingContext struct {
	Description     string        `json:"description,omitempty"`
	Domain          Domain        `json:"domain"`
	DurationMinutes int           `json:"durationEstimateMinutes"`
	Participants    []Participant `json:"participants"`
	Goals           []Goal        `json:"goals"`
	KeyPoints       []string      `json:"keyPointsToCover"`
	Challenges      []string      `json:"potentialChallenges"`
	LastModified    time.Time     `json:"lastModified"`
}

// NewMeetingContext returns an empty general-domain context.
func NewMeetingContext(at time.Time) *MeetingContext {
	c := &MeetingContext{
		Domain:          DomainGeneral,
		DurationMinutes: DefaultDurationMinutes,
		LastModified:    at,
	}
	c.normalize()
	return c
}

func (c *MeetingContext) normalize() {
	if c.Domain == "" {
		c.Domain = DomainGeneral
	}
	if c.Participants == nil {
		c.Participants = []Participant{}
	}
	if c.Goals == nil {
		c.Goals = []Goal{}
	}
	if c.KeyPoints == nil {
		c.KeyPoints = []string{}
	}
	if c.Challenges == nil {
		c.Challenges = []string{}
	}
}

// AddParticipant appends a participant who has not joined yet.
func (c *MeetingContext) AddParticipant(name, role, email string, at time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("participant name is empty")
	}
	c.Participants = append(c.Participants, Participant{
		Name:  name,
		Role:  strings.TrimSpace(role),
		Email: strings.TrimSpace(email),
	})
	c.LastModified = at
	return nil
}

// AddGoal appends a pending goal.
func (c *MeetingContext) AddGoal(description string, priority int, at time.Time) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return errors.New("goal description is empty")
	}
	if priority < MinGoalPriority || priority > MaxGoalPriority {
		return fmt.Errorf("goal priority %d outside %d-%d", priority, MinGoalPriority, MaxGoalPriority)
	}
	c.Goals = append(c.Goals, Goal{
		Description: description,
		Priority:    priority,
		Status:      GoalPending,
	})
	c.LastModified = at
	return nil
}

// SetGoalStatus changes the status of the goal at index, counting from 1.
func (c *MeetingContext) SetGoalStatus(index int, status GoalStatus, at time.Time) error {
	if index < 1 || index > len(c.Goals) {
		return fmt.Errorf("goal %d: %w", index, ErrUnknownGoal)
	}
	if !slices.Contains(goalStatuses, status) {
		return fmt.Errorf("unknown goal status %q", status)
	}
	c.Goals[index-1].Status = status
	c.LastModified = at
	return nil
}

// Summary renders the context as plain text for callers that build
// prompts from it.
func (c *MeetingContext) Summary(title string) string {
	if title == "" {
		title = "(untitled)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %s\n", title)
	if c.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.Description)
	}
	fmt.Fprintf(&b, "Domain: %s\n", c.Domain)
	fmt.Fprintf(&b, "Duration: %d minutes\n", c.DurationMinutes)

	if len(c.Participants) > 0 {
		names := make([]string, len(c.Participants))
		for i, p := range c.Participants {
			names[i] = fmt.Sprintf("%s (%s)", p.Name, p.Role)
		}
		fmt.Fprintf(&b, "Participants (%d): %s\n", len(c.Participants), strings.Join(names, ", "))
	}

	if len(c.Goals) > 0 {
		b.WriteString("Goals:\n")
		for _, g := range c.Goals {
			fmt.Fprintf(&b, "  - %s (Priority: %d, %s)\n", g.Description, g.Priority, g.Status)
		}
	}

	if len(c.KeyPoints) > 0 {
		b.WriteString("Key points to cover:\n")
		for _, p := range c.KeyPoints {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	return b.String()
}

// Clone returns a deep copy of the context.
func (c *MeetingContext) Clone() *MeetingContext {
	cp := *c
	cp.Participants = append([]Participant{}, c.Participants...)
	cp.Goals = append([]Goal{}, c.Goals...)
	cp.KeyPoints = append([]string{}, c.KeyPoints...)
	cp.Challenges = append([]string{}, c.Challenges...)
	return &cp
}

func (c *MeetingContext) validate(fail func(format string, args ...any)) {
	if c.DurationMinutes < 0 {
		fail("context duration %d is negative", c.DurationMinutes)
	}
	for i, g := range c.Goals {
		if g.Priority < MinGoalPriority || g.Priority > MaxGoalPriority {
			fail("goal %d priority %d out of range", i+1, g.Priority)
		}
		if !slices.Contains(goalStatuses, g.Status) {
			fail("goal %d has unknown status %q", i+1, g.Status)
		}
	}
}
