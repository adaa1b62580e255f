package config

import (
	"errors"
	"fmt"
)

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Backend {
	case BackendSQLite, BackendFile, BackendMemory:
	default:
		add("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.MaxPageCount < 0 {
		add("storage.max_page_count: must not be negative")
	}
	if c.Storage.MaxBytes < 0 {
		add("storage.max_bytes: must not be negative")
	}
	if c.Storage.RetainSessions < 1 {
		add("storage.retain_sessions: must be at least 1")
	}
	if c.Storage.Debounce < 0 {
		add("storage.debounce: must not be negative")
	}

	if t := c.Attribution.SimilarityThreshold; t <= 0 || t > 1 {
		add("attribution.similarity_threshold: must be in (0, 1], got %v", t)
	}
	if c.Attribution.RecencyWindow < 0 {
		add("attribution.recency_window: must not be negative")
	}

	if c.Compression.Threshold < 1 {
		add("compression.threshold: must be at least 1")
	}
	if c.Compression.Interval < 0 {
		add("compression.interval: must not be negative")
	}
	if c.Compression.GroupingWindow <= 0 {
		add("compression.grouping_window: must be positive")
	}
	if c.Compression.MinGroupSize < 1 {
		add("compression.min_group_size: must be at least 1")
	}
	if r := c.Compression.Ratio; r <= 0 || r > 1 {
		add("compression.ratio: must be in (0, 1], got %v", r)
	}
	if c.Compression.FragmentLength < 1 {
		add("compression.fragment_length: must be at least 1")
	}

	if c.Summary.Interval <= 0 {
		add("summary.interval: must be positive")
	}
	if c.Summary.MaxKeyPoints < 0 {
		add("summary.max_key_points: must not be negative")
	}
	if c.Summary.LongMessageWords < 0 {
		add("summary.long_message_words: must not be negative")
	}
	if c.Summary.KeyPointLength < 1 {
		add("summary.key_point_length: must be at least 1")
	}

	if c.Engine.MinMessageLength < 0 {
		add("engine.min_message_length: must not be negative")
	}
	if c.Engine.TickInterval < 0 {
		add("engine.tick_interval: must not be negative")
	}

	return errors.Join(errs...)
}
