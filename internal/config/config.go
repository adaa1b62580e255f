// Package config provides configuration management for the convtrack CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/tidwall/sjson"

	"github.com/guilhermegouw/convtrack/internal/compress"
	"github.com/guilhermegouw/convtrack/internal/engine"
	"github.com/guilhermegouw/convtrack/internal/session"
	"github.com/guilhermegouw/convtrack/internal/speaker"
	"github.com/guilhermegouw/convtrack/internal/summary"
)

const appName = "convtrack"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Duration is a time.Duration written as a string ("500ms", "2m") in JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %s", data)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the top-level configuration structure.
type Config struct {
	Storage     Storage     `json:"storage"`
	Attribution Attribution `json:"attribution"`
	Compression Compression `json:"compression"`
	Summary     Summary     `json:"summary"`
	Engine      Engine      `json:"engine"`
	Options     Options     `json:"options"`
}

// Storage selects and tunes the session store.
//
//nolint:govet // Field order is intentional for JSON readability.
type Storage struct {
	// Backend is one of sqlite, file or memory.
	Backend string `json:"backend"`
	// Path overrides the default location under the data directory.
	Path string `json:"path,omitempty"`
	// MaxPageCount caps the sqlite database size in pages. Zero is unlimited.
	MaxPageCount int `json:"max_page_count,omitempty"`
	// MaxBytes caps the file and memory backends. Zero is unlimited.
	MaxBytes       int      `json:"max_bytes,omitempty"`
	RetainSessions int      `json:"retain_sessions"`
	Debounce       Duration `json:"debounce"`
}

// Attribution holds speaker attribution settings.
type Attribution struct {
	SimilarityThreshold float64  `json:"similarity_threshold"`
	RecencyWindow       Duration `json:"recency_window"`
}

// Compression holds history compression settings.
//
//nolint:govet // Field order is intentional for JSON readability.
type Compression struct {
	Threshold      int      `json:"threshold"`
	Interval       Duration `json:"interval"`
	GroupingWindow Duration `json:"grouping_window"`
	MinGroupSize   int      `json:"min_group_size"`
	Ratio          float64  `json:"ratio"`
	FragmentLength int      `json:"fragment_length"`
}

// Summary holds periodic summary settings.
//
//nolint:govet // Field order is intentional for JSON readability.
type Summary struct {
	Interval         Duration `json:"interval"`
	MaxKeyPoints     int      `json:"max_key_points"`
	LongMessageWords int      `json:"long_message_words"`
	KeyPointLength   int      `json:"key_point_length"`
}

// Engine holds ingestion settings.
//
//nolint:govet // Field order is intentional for JSON readability.
type Engine struct {
	MinMessageLength int      `json:"min_message_length"`
	TickInterval     Duration `json:"tick_interval"`
	Strict           bool     `json:"strict,omitempty"`
}

// Options holds optional configuration settings.
type Options struct {
	DataDir string `json:"data_directory,omitempty"`
	Debug   bool   `json:"debug,omitempty"`
}

// NewConfig creates a Config populated with the defaults.
func NewConfig() *Config {
	attr := speaker.DefaultConfig()
	comp := compress.DefaultConfig()
	sum := summary.DefaultConfig()
	return &Config{
		Storage: Storage{
			Backend:        BackendSQLite,
			RetainSessions: session.DefaultRetainSessions,
			Debounce:       Duration(session.DefaultDebounce),
		},
		Attribution: Attribution{
			SimilarityThreshold: attr.SimilarityThreshold,
			RecencyWindow:       Duration(attr.RecencyWindow),
		},
		Compression: Compression{
			Threshold:      comp.Threshold,
			Interval:       Duration(comp.Interval),
			GroupingWindow: Duration(comp.GroupingWindow),
			MinGroupSize:   comp.MinGroupSize,
			Ratio:          comp.Ratio,
			FragmentLength: comp.FragmentLength,
		},
		Summary: Summary{
			Interval:         Duration(sum.Interval),
			MaxKeyPoints:     sum.MaxKeyPoints,
			LongMessageWords: sum.LongMessageWords,
			KeyPointLength:   sum.KeyPointLength,
		},
		Engine: Engine{
			MinMessageLength: engine.DefaultMinMessageLength,
			TickInterval:     Duration(engine.DefaultTickInterval),
		},
	}
}

// EngineConfig converts the configuration into engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MinMessageLength: c.Engine.MinMessageLength,
		TickInterval:     c.Engine.TickInterval.Std(),
		Strict:           c.Engine.Strict,
		Attribution: speaker.Config{
			SimilarityThreshold: c.Attribution.SimilarityThreshold,
			RecencyWindow:       c.Attribution.RecencyWindow.Std(),
		},
		Compression: compress.Config{
			Threshold:      c.Compression.Threshold,
			Interval:       c.Compression.Interval.Std(),
			GroupingWindow: c.Compression.GroupingWindow.Std(),
			MinGroupSize:   c.Compression.MinGroupSize,
			Ratio:          c.Compression.Ratio,
			FragmentLength: c.Compression.FragmentLength,
		},
		Summary: summary.Config{
			Interval:         c.Summary.Interval.Std(),
			MaxKeyPoints:     c.Summary.MaxKeyPoints,
			LongMessageWords: c.Summary.LongMessageWords,
			KeyPointLength:   c.Summary.KeyPointLength,
		},
	}
}

// DataDir returns the data directory path from configuration.
func (c *Config) DataDir() string {
	if c.Options.DataDir != "" {
		return c.Options.DataDir
	}
	return filepath.Join(xdg.DataHome, appName)
}

// StoragePath returns where the configured backend keeps its document.
// The memory backend has no path.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		return filepath.Join(c.DataDir(), appName+".db")
	case BackendFile:
		return filepath.Join(c.DataDir(), "sessions.json")
	default:
		return ""
	}
}

// DebugLogPath returns the debug log location.
func (c *Config) DebugLogPath() string {
	return filepath.Join(c.DataDir(), "debug.log")
}

// SetConfigField updates a single field in the global config file.
func (c *Config) SetConfigField(key string, value any) error {
	return SetField(GlobalConfigPath(), key, value)
}

// SetField updates a single field in the config file at path using JSON path
// notation. Only the named field is touched. The result must still load and
// validate, otherwise the file is left unchanged.
func SetField(path, key string, value any) error {
	//nolint:gosec // G304: Path is from trusted config locations, not user input.
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading config file: %w", err)
		}
		data = []byte("{}")
	}

	newData, err := sjson.SetBytes(data, key, value)
	if err != nil {
		return fmt.Errorf("setting config field %q: %w", key, err)
	}

	check := NewConfig()
	if err := json.Unmarshal(newData, check); err != nil {
		return fmt.Errorf("setting config field %q: %w", key, err)
	}
	if err := check.Validate(); err != nil {
		return fmt.Errorf("setting config field %q: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	//nolint:gosec // 0o600 is intentionally restrictive.
	if err := os.WriteFile(path, newData, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ParseValue converts a command-line value into the JSON type it most likely
// denotes: bool, integer, float, or string.
func ParseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
