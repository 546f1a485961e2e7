// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package config loads and validates Vigil configuration.
//
// Configuration is layered with koanf: struct defaults, then an optional
// YAML file, then environment variables. Environment variables use the
// VIGIL_ prefix with double underscores as section separators, e.g.
//
//	VIGIL_SERVER__PORT=9090
//	VIGIL_DETECTION__BRUTE_FORCE__THRESHOLD=10
//
// Unlike lenient loaders that silently fall back to defaults, Validate
// rejects explicitly set invalid values. A typo'd threshold must fail
// startup, not quietly weaken detection.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration for both vigil binaries.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Detection DetectionConfig `koanf:"detection"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Training  TrainingConfig  `koanf:"training"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// ReadTimeoutSeconds and WriteTimeoutSeconds bound request handling.
	ReadTimeoutSeconds  int `koanf:"read_timeout_seconds"`
	WriteTimeoutSeconds int `koanf:"write_timeout_seconds"`

	// RateLimitPerMinute caps ingest requests per client IP.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file path. ":memory:" gives an in-memory database.
	Path string `koanf:"path"`

	// Threads limits DuckDB worker threads.
	Threads int `koanf:"threads"`

	// MaxMemory is the DuckDB memory cap, e.g. "512MB".
	MaxMemory string `koanf:"max_memory"`
}

// RuleConfig holds the window and threshold for a single detection rule.
type RuleConfig struct {
	Enabled       bool `koanf:"enabled"`
	WindowSeconds int  `koanf:"window_seconds"`
	Threshold     int  `koanf:"threshold"`
}

// DetectionConfig holds sweep-loop and per-rule settings.
type DetectionConfig struct {
	// SweepIntervalSeconds is the period of the detection sweep.
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds"`

	// FetchLimit caps how many recent events a sweep reads from the store.
	FetchLimit int `koanf:"fetch_limit"`

	// CooldownSeconds suppresses repeat alerts for the same source.
	CooldownSeconds int `koanf:"cooldown_seconds"`

	BruteForce          RuleConfig `koanf:"brute_force"`
	CredentialStuffing  RuleConfig `koanf:"credential_stuffing"`
	FingerprintStuffing RuleConfig `koanf:"fingerprint_stuffing"`
}

// ScoringConfig holds real-time risk scorer settings.
type ScoringConfig struct {
	// HorizonSeconds is the window-cache retention horizon.
	HorizonSeconds int `koanf:"horizon_seconds"`

	// BlockThreshold is the risk score at or above which ShouldBlock fires.
	BlockThreshold int `koanf:"block_threshold"`

	// ModelPath is where the trained model artifact is read from.
	ModelPath string `koanf:"model_path"`
}

// TrainingConfig holds offline training settings.
type TrainingConfig struct {
	// LookbackHours bounds how far back real events are read.
	LookbackHours int `koanf:"lookback_hours"`

	// MinSamples is the minimum combined sample count to train at all.
	MinSamples int `koanf:"min_samples"`

	Trees    int `koanf:"trees"`
	MaxDepth int `koanf:"max_depth"`
	MinSplit int `koanf:"min_split"`
	MinLeaf  int `koanf:"min_leaf"`

	// Folds is the cross-validation fold count.
	Folds int `koanf:"folds"`

	// Seed makes sampling and splits reproducible.
	Seed int64 `koanf:"seed"`

	// SyntheticPath optionally points at a JSON file of labeled samples.
	SyntheticPath string `koanf:"synthetic_path"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 30,
			RateLimitPerMinute:  600,
		},
		Database: DatabaseConfig{
			Path:      "vigil.db",
			Threads:   4,
			MaxMemory: "512MB",
		},
		Detection: DetectionConfig{
			SweepIntervalSeconds: 5,
			FetchLimit:           5000,
			CooldownSeconds:      300,
			BruteForce: RuleConfig{
				Enabled:       true,
				WindowSeconds: 120,
				Threshold:     5,
			},
			CredentialStuffing: RuleConfig{
				Enabled:       true,
				WindowSeconds: 60,
				Threshold:     4,
			},
			// Fingerprint grouping is the alternate stuffing rule; the
			// per-IP rule above is canonical, so this starts disabled.
			FingerprintStuffing: RuleConfig{
				Enabled:       false,
				WindowSeconds: 120,
				Threshold:     3,
			},
		},
		Scoring: ScoringConfig{
			HorizonSeconds: 3600,
			BlockThreshold: 80,
			ModelPath:      "model.json",
		},
		Training: TrainingConfig{
			LookbackHours: 24,
			MinSamples:    50,
			Trees:         100,
			MaxDepth:      10,
			MinSplit:      5,
			MinLeaf:       2,
			Folds:         5,
			Seed:          42,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects invalid values. Defaults are always valid, so any
// violation here was explicitly set by the operator.
func (c *Config) Validate() error {
	var problems []string

	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		add("server.read_timeout_seconds must be positive, got %d", c.Server.ReadTimeoutSeconds)
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		add("server.write_timeout_seconds must be positive, got %d", c.Server.WriteTimeoutSeconds)
	}
	if c.Server.RateLimitPerMinute <= 0 {
		add("server.rate_limit_per_minute must be positive, got %d", c.Server.RateLimitPerMinute)
	}

	if c.Database.Path == "" {
		add("database.path must not be empty")
	}
	if c.Database.Threads <= 0 {
		add("database.threads must be positive, got %d", c.Database.Threads)
	}
	if c.Database.MaxMemory == "" {
		add("database.max_memory must not be empty")
	}

	if c.Detection.SweepIntervalSeconds <= 0 {
		add("detection.sweep_interval_seconds must be positive, got %d", c.Detection.SweepIntervalSeconds)
	}
	if c.Detection.FetchLimit <= 0 {
		add("detection.fetch_limit must be positive, got %d", c.Detection.FetchLimit)
	}
	if c.Detection.CooldownSeconds <= 0 {
		add("detection.cooldown_seconds must be positive, got %d", c.Detection.CooldownSeconds)
	}
	validateRule(&problems, "detection.brute_force", c.Detection.BruteForce)
	validateRule(&problems, "detection.credential_stuffing", c.Detection.CredentialStuffing)
	validateRule(&problems, "detection.fingerprint_stuffing", c.Detection.FingerprintStuffing)

	if c.Scoring.HorizonSeconds <= 0 {
		add("scoring.horizon_seconds must be positive, got %d", c.Scoring.HorizonSeconds)
	}
	if c.Scoring.BlockThreshold < 1 || c.Scoring.BlockThreshold > 100 {
		add("scoring.block_threshold must be in [1, 100], got %d", c.Scoring.BlockThreshold)
	}
	if c.Scoring.ModelPath == "" {
		add("scoring.model_path must not be empty")
	}

	if c.Training.LookbackHours <= 0 {
		add("training.lookback_hours must be positive, got %d", c.Training.LookbackHours)
	}
	if c.Training.MinSamples < 2 {
		add("training.min_samples must be at least 2, got %d", c.Training.MinSamples)
	}
	if c.Training.Trees <= 0 {
		add("training.trees must be positive, got %d", c.Training.Trees)
	}
	if c.Training.MaxDepth <= 0 {
		add("training.max_depth must be positive, got %d", c.Training.MaxDepth)
	}
	if c.Training.MinSplit < 2 {
		add("training.min_split must be at least 2, got %d", c.Training.MinSplit)
	}
	if c.Training.MinLeaf < 1 {
		add("training.min_leaf must be at least 1, got %d", c.Training.MinLeaf)
	}
	if c.Training.Folds < 2 {
		add("training.folds must be at least 2, got %d", c.Training.Folds)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		add("logging.level %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validateRule(problems *[]string, section string, r RuleConfig) {
	if r.WindowSeconds <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s.window_seconds must be positive, got %d", section, r.WindowSeconds))
	}
	if r.Threshold <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s.threshold must be positive, got %d", section, r.Threshold))
	}
}
