package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guilhermegouw/convtrack/internal/session"
)

// setupConfig writes a config that keeps sessions in a file under a temp
// directory and saves on every change.
func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body, err := json.Marshal(map[string]any{
		"storage": map[string]any{
			"backend":  "file",
			"path":     filepath.Join(dir, "sessions.json"),
			"debounce": "0s",
		},
		"options": map[string]any{"data_directory": dir},
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	path := filepath.Join(dir, "convtrack.json")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func run(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestShowEnd(t *testing.T) {
	cfg := setupConfig(t)

	transcript := "Hello team, let's get started.\n?are we shipping the release today\nok\n\n"
	out, err := run(t, cfg, transcript, "ingest", "--title", "standup")
	if err != nil {
		t.Fatalf("ingest error = %v", err)
	}
	if !strings.Contains(out, "Ingested 2 messages") {
		t.Errorf("ingest output = %q, want 2 messages", out)
	}

	out, err = run(t, cfg, "", "sessions")
	if err != nil {
		t.Fatalf("sessions error = %v", err)
	}
	if !strings.Contains(out, "standup") || !strings.Contains(out, "* ") {
		t.Errorf("sessions output = %q, want current standup session", out)
	}

	out, err = run(t, cfg, "", "show", "--json")
	if err != nil {
		t.Fatalf("show --json error = %v", err)
	}
	var s session.Session
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if s.Title != "standup" || len(s.Messages) != 2 {
		t.Fatalf("session = %q with %d messages, want standup with 2", s.Title, len(s.Messages))
	}
	if !s.Messages[1].IsQuestion {
		t.Error("second message IsQuestion = false, want true")
	}

	out, err = run(t, cfg, "", "rename-speaker", "speaker_1", "Alice")
	if err != nil {
		t.Fatalf("rename-speaker error = %v", err)
	}
	out, err = run(t, cfg, "", "show")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	if !strings.Contains(out, "Alice (speaker_1)") {
		t.Errorf("show output = %q, want renamed speaker", out)
	}

	out, err = run(t, cfg, "", "end")
	if err != nil {
		t.Fatalf("end error = %v", err)
	}
	if !strings.Contains(out, "Ended session "+s.ID) {
		t.Errorf("end output = %q", out)
	}

	if _, err = run(t, cfg, "", "show"); !errors.Is(err, session.ErrNoCurrentSession) {
		t.Errorf("show after end error = %v, want ErrNoCurrentSession", err)
	}
}

func TestStartContinue(t *testing.T) {
	cfg := setupConfig(t)

	out, err := run(t, cfg, "", "start", "first")
	if err != nil {
		t.Fatalf("start error = %v", err)
	}
	firstID := strings.TrimSpace(strings.TrimPrefix(out, "Started session "))

	if _, err := run(t, cfg, "", "start", "second"); err != nil {
		t.Fatalf("start error = %v", err)
	}

	if _, err := run(t, cfg, "", "continue", firstID); err != nil {
		t.Fatalf("continue error = %v", err)
	}
	out, err = run(t, cfg, "", "show", "--json")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	var s session.Session
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.ID != firstID || !s.IsActive {
		t.Errorf("current = %s active=%v, want %s active", s.ID, s.IsActive, firstID)
	}

	if _, err := run(t, cfg, "", "continue", "nope"); err == nil {
		t.Error("continue nope error = nil, want error")
	}
}

func TestConfigSetShow(t *testing.T) {
	cfg := setupConfig(t)

	if _, err := run(t, cfg, "", "config", "set", "compression.threshold", "80"); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if _, err := run(t, cfg, "", "config", "set", "compression.ratio", "7"); err == nil {
		t.Error("config set ratio=7 error = nil, want validation error")
	}

	out, err := run(t, cfg, "", "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out, `"threshold": 80`) {
		t.Errorf("config show = %q, want threshold 80", out)
	}
}

func TestStatusAndVersion(t *testing.T) {
	cfg := setupConfig(t)

	out, err := run(t, cfg, "", "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"Current Session:", "Backend: file", "Location: ", "Health: ok", `Broker "conversation"`} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, cfg, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "convtrack dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestSessionManagementCommands(t *testing.T) {
	cfg := setupConfig(t)

	ids := make([]string, 0, 3)
	for _, title := range []string{"first", "second", "third"} {
		out, err := run(t, cfg, "", "start", title)
		if err != nil {
			t.Fatalf("start error = %v", err)
		}
		ids = append(ids, strings.TrimSpace(strings.TrimPrefix(out, "Started session ")))
	}

	t.Run("rename-session", func(t *testing.T) {
		if _, err := run(t, cfg, "", "rename-session", ids[0], "kickoff"); err != nil {
			t.Fatalf("rename-session error = %v", err)
		}
		out, err := run(t, cfg, "", "show", ids[0])
		if err != nil {
			t.Fatalf("show error = %v", err)
		}
		if !strings.Contains(out, ": kickoff") {
			t.Errorf("show output = %q, want renamed title", out)
		}
	})

	t.Run("delete-session", func(t *testing.T) {
		if _, err := run(t, cfg, "", "delete-session", ids[2]); !errors.Is(err, session.ErrCurrentSession) {
			t.Errorf("delete-session current error = %v, want ErrCurrentSession", err)
		}
		if _, err := run(t, cfg, "", "delete-session", ids[0]); err != nil {
			t.Fatalf("delete-session error = %v", err)
		}
		if _, err := run(t, cfg, "", "show", ids[0]); err == nil {
			t.Error("show deleted session error = nil, want not found")
		}
	})

	t.Run("cleanup", func(t *testing.T) {
		out, err := run(t, cfg, "", "cleanup", "--keep", "1")
		if err != nil {
			t.Fatalf("cleanup error = %v", err)
		}
		if !strings.Contains(out, "Removed 1 session(s)") || !strings.Contains(out, ids[1]) {
			t.Errorf("cleanup output = %q, want %s removed", out, ids[1])
		}
		out, err = run(t, cfg, "", "sessions")
		if err != nil {
			t.Fatalf("sessions error = %v", err)
		}
		if !strings.Contains(out, ids[2]) || strings.Contains(out, ids[1]) {
			t.Errorf("sessions output = %q, want only %s", out, ids[2])
		}
	})
}

func TestContextCommands(t *testing.T) {
	cfg := setupConfig(t)

	if _, err := run(t, cfg, "", "context", "add-goal", "ship it"); !errors.Is(err, session.ErrNoCurrentSession) {
		t.Errorf("add-goal without session error = %v, want ErrNoCurrentSession", err)
	}
	if _, err := run(t, cfg, "", "start", "planning"); err != nil {
		t.Fatalf("start error = %v", err)
	}

	steps := [][]string{
		{"context", "describe", "Release planning", "--domain", "Technical", "--duration", "45"},
		{"context", "add-participant", "Alice", "--role", "lead"},
		{"context", "add-goal", "Agree on scope", "--priority", "5"},
		{"context", "goal-status", "1", "in-progress"},
		{"context", "add-point", "Rollback plan", "--challenge"},
	}
	for _, args := range steps {
		if _, err := run(t, cfg, "", args...); err != nil {
			t.Fatalf("%v error = %v", args, err)
		}
	}
	if _, err := run(t, cfg, "", "context", "add-goal", "too eager", "--priority", "9"); err == nil {
		t.Error("add-goal --priority 9 error = nil, want error")
	}

	out, err := run(t, cfg, "", "context", "show")
	if err != nil {
		t.Fatalf("context show error = %v", err)
	}
	for _, want := range []string{
		"Description: Release planning",
		"Domain: technical",
		"Duration: 45 minutes",
		"Participants (1): Alice (lead)",
		"Agree on scope (Priority: 5, in_progress)",
		"Rollback plan",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("context show missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, cfg, "", "show", "--json")
	if err != nil {
		t.Fatalf("show --json error = %v", err)
	}
	var s session.Session
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.Context == nil || len(s.Context.Goals) != 1 || s.Context.Goals[0].Status != session.GoalInProgress {
		t.Errorf("stored context = %+v, want one in-progress goal", s.Context)
	}
}
