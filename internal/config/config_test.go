package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/guilhermegouw/convtrack/internal/engine"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got, want := cfg.EngineConfig(), engine.DefaultConfig(); got != want {
		t.Errorf("EngineConfig() = %+v, want %+v", got, want)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, BackendSQLite)
	}
	if cfg.Storage.RetainSessions != 10 {
		t.Errorf("Storage.RetainSessions = %d, want 10", cfg.Storage.RetainSessions)
	}
	if cfg.Storage.Debounce.Std() != 500*time.Millisecond {
		t.Errorf("Storage.Debounce = %v, want 500ms", cfg.Storage.Debounce)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := writeConfig(t, dir, "partial.json", `{
			"compression": {"threshold": 80, "interval": "30s"},
			"storage": {"backend": "file"}
		}`)
		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Compression.Threshold != 80 {
			t.Errorf("Compression.Threshold = %d, want 80", cfg.Compression.Threshold)
		}
		if cfg.Compression.Interval.Std() != 30*time.Second {
			t.Errorf("Compression.Interval = %v, want 30s", cfg.Compression.Interval)
		}
		if cfg.Compression.MinGroupSize != 3 {
			t.Errorf("Compression.MinGroupSize = %d, want 3", cfg.Compression.MinGroupSize)
		}
		if cfg.Storage.Backend != BackendFile {
			t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, BackendFile)
		}
	})

	t.Run("invalid values are all reported", func(t *testing.T) {
		path := writeConfig(t, dir, "invalid.json", `{
			"storage": {"backend": "redis"},
			"compression": {"ratio": 2}
		}`)
		_, err := LoadFromFile(path)
		if err == nil {
			t.Fatal("LoadFromFile() error = nil, want validation error")
		}
		for _, field := range []string{"storage.backend", "compression.ratio"} {
			if !strings.Contains(err.Error(), field) {
				t.Errorf("LoadFromFile() error = %v, want mention of %s", err, field)
			}
		}
	})

	t.Run("numeric duration rejected", func(t *testing.T) {
		path := writeConfig(t, dir, "duration.json", `{"summary": {"interval": 60}}`)
		if _, err := LoadFromFile(path); err == nil {
			t.Error("LoadFromFile() error = nil, want duration error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(dir, "nope.json"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("LoadFromFile() error = %v, want not-exist", err)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, dir, "env.json", `{"engine": {"strict": false}}`)
		t.Setenv("CONVTRACK_STRICT", "true")
		t.Setenv("CONVTRACK_STORAGE_BACKEND", "memory")
		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if !cfg.Engine.Strict {
			t.Error("Engine.Strict = false, want true")
		}
		if cfg.Storage.Backend != BackendMemory {
			t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, BackendMemory)
		}
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CONVTRACK_DATA_DIR":        "/var/lib/convtrack",
		"CONVTRACK_DEBUG":           "1",
		"CONVTRACK_RETAIN_SESSIONS": "3",
		"CONVTRACK_DEBOUNCE":        "2s",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := NewConfig()
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}
	if cfg.Options.DataDir != "/var/lib/convtrack" {
		t.Errorf("Options.DataDir = %q", cfg.Options.DataDir)
	}
	if !cfg.Options.Debug {
		t.Error("Options.Debug = false, want true")
	}
	if cfg.Storage.RetainSessions != 3 {
		t.Errorf("Storage.RetainSessions = %d, want 3", cfg.Storage.RetainSessions)
	}
	if cfg.Storage.Debounce.Std() != 2*time.Second {
		t.Errorf("Storage.Debounce = %v, want 2s", cfg.Storage.Debounce)
	}

	env = map[string]string{
		"CONVTRACK_DEBUG":           "maybe",
		"CONVTRACK_RETAIN_SESSIONS": "lots",
	}
	err := applyEnv(NewConfig(), lookup)
	if err == nil {
		t.Fatal("applyEnv() error = nil, want parse errors")
	}
	for _, name := range []string{"CONVTRACK_DEBUG", "CONVTRACK_RETAIN_SESSIONS"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("applyEnv() error = %v, want mention of %s", err, name)
		}
	}
}

func TestSetField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", configFileName)

	if err := SetField(path, "compression.threshold", ParseValue("80")); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	if err := SetField(path, "summary.interval", ParseValue("90s")); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Compression.Threshold != 80 {
		t.Errorf("Compression.Threshold = %d, want 80", cfg.Compression.Threshold)
	}
	if cfg.Summary.Interval.Std() != 90*time.Second {
		t.Errorf("Summary.Interval = %v, want 90s", cfg.Summary.Interval)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if err := SetField(path, "compression.ratio", ParseValue("5")); err == nil {
		t.Fatal("SetField() error = nil, want validation error")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("file changed after rejected update:\n%s", after)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"false", false},
		{"1", int64(1)},
		{"80", int64(80)},
		{"0.25", 0.25},
		{"500ms", "500ms"},
		{"file", "file"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseValue(tt.in); got != tt.want {
				t.Errorf("ParseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStoragePath(t *testing.T) {
	cfg := NewConfig()
	cfg.Options.DataDir = "/data"

	tests := []struct {
		backend string
		path    string
		want    string
	}{
		{BackendSQLite, "", filepath.Join("/data", "convtrack.db")},
		{BackendFile, "", filepath.Join("/data", "sessions.json")},
		{BackendMemory, "", ""},
		{BackendFile, "/elsewhere/s.json", "/elsewhere/s.json"},
	}
	for _, tt := range tests {
		t.Run(tt.backend+tt.path, func(t *testing.T) {
			cfg.Storage.Backend = tt.backend
			cfg.Storage.Path = tt.path
			if got := cfg.StoragePath(); got != tt.want {
				t.Errorf("StoragePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	data, err := json.Marshal(Duration(1500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"1.5s"` {
		t.Errorf("Marshal() = %s, want %q", data, `"1.5s"`)
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"2m"`), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if d.Std() != 2*time.Minute {
		t.Errorf("Unmarshal() = %v, want 2m", d)
	}
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("Unmarshal(\"soon\") error = nil, want error")
	}
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	want := writeConfig(t, root, "."+configFileName, `{}`)

	t.Chdir(sub)
	got := findProjectConfig()
	gotReal, _ := filepath.EvalSymlinks(got)
	wantReal, _ := filepath.EvalSymlinks(want)
	if gotReal != wantReal {
		t.Errorf("findProjectConfig() = %q, want %q", got, want)
	}
}
