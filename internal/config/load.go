package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
)

const (
	configFileName = "convtrack.json"
	envPrefix      = "CONVTRACK_"
)

// Load finds and loads configuration from standard locations.
// The global file is read first, then the project file overlays it, then
// CONVTRACK_* environment variables override both.
func Load() (*Config, error) {
	cfg := NewConfig()
	if err := loadFile(GlobalConfigPath(), cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading global config: %w", err)
	}

	if projectPath := findProjectConfig(); projectPath != "" {
		if err := loadFile(projectPath, cfg); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return finish(cfg, os.LookupEnv)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	return finish(cfg, os.LookupEnv)
}

func finish(cfg *Config, lookup func(string) (string, bool)) (*Config, error) {
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path onto cfg. Fields absent from the file keep their
// current values, so successive calls layer files.
func loadFile(path string, cfg *Config) error {
	//nolint:gosec // G304: Path is from trusted config locations, not user input.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		path := filepath.Join(dir, configFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		hiddenPath := filepath.Join(dir, "."+configFileName)
		if _, err := os.Stat(hiddenPath); err == nil {
			return hiddenPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = b
	}
	integer := func(name string, dst *int) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = n
	}
	duration := func(name string, dst *Duration) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = Duration(d)
	}

	str("DATA_DIR", &cfg.Options.DataDir)
	boolean("DEBUG", &cfg.Options.Debug)
	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("STORAGE_PATH", &cfg.Storage.Path)
	integer("RETAIN_SESSIONS", &cfg.Storage.RetainSessions)
	duration("DEBOUNCE", &cfg.Storage.Debounce)
	boolean("STRICT", &cfg.Engine.Strict)

	return errors.Join(errs...)
}

// GlobalConfigPath returns the path to the global configuration file.
func GlobalConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}
