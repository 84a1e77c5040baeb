// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the hook engine. All fields have working
// defaults; a missing or broken config file must never stop an invocation.
type Config struct {
	// Timeout is the hard wall-clock budget for one hook invocation.
	// When it expires the default response is emitted and the process exits.
	// Environment: BATON_TIMEOUT_MS
	// Default: 2s
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// StdinTotalTimeout bounds the total time spent reading the hook payload.
	// Environment: BATON_STDIN_TIMEOUT_MS
	// Default: 1s
	StdinTotalTimeout time.Duration `yaml:"stdin_total_timeout,omitempty"`

	// StdinIdleTimeout bounds the wait for the next chunk of payload bytes.
	// Environment: BATON_STDIN_IDLE_MS
	// Default: 200ms
	StdinIdleTimeout time.Duration `yaml:"stdin_idle_timeout,omitempty"`

	// StdinMaxBytes caps how much of the payload is read.
	// Environment: BATON_STDIN_MAX_BYTES
	// Default: 1 MiB
	StdinMaxBytes int64 `yaml:"stdin_max_bytes,omitempty"`

	// PendingTTL is how long a recorded delegation stays eligible for
	// matching an agent start.
	// Environment: BATON_PENDING_TTL_MS
	// Default: 3m
	PendingTTL time.Duration `yaml:"pending_ttl,omitempty"`

	// SessionTTL is the sliding expiration of the shared session key file.
	// Environment: BATON_SESSION_TTL_MS
	// Default: 6h
	SessionTTL time.Duration `yaml:"session_ttl,omitempty"`

	// RotateBytes is the event log size threshold that triggers rotation.
	// Environment: BATON_ROTATE_BYTES
	// Default: 5 MiB
	RotateBytes int64 `yaml:"rotate_bytes,omitempty"`

	// RotateEvery is the append-count sampling interval for rotation checks.
	// Environment: BATON_ROTATE_EVERY
	// Default: 25
	RotateEvery int `yaml:"rotate_every,omitempty"`

	// MetricsCap is the maximum number of keys kept in each aggregate map;
	// above it the maps are pruned to the top keys by total latency.
	// Environment: BATON_METRICS_CAP
	// Default: 50
	MetricsCap int `yaml:"metrics_cap,omitempty"`

	// SampleRate is the head sampling rate recorded on the root trace
	// context (0.0-1.0). Sampling never suppresses state updates, only the
	// sampled flag on emitted events.
	// Environment: BATON_SAMPLE_RATE
	// Default: 1.0
	SampleRate float64 `yaml:"sample_rate,omitempty"`

	// StorePayloads enables the redacted payload side channel.
	// Environment: BATON_STORE_PAYLOADS
	// Default: false
	StorePayloads bool `yaml:"store_payloads,omitempty"`

	// PayloadMaxBytes truncates stored tool inputs/results.
	// Environment: BATON_PAYLOAD_MAX_BYTES
	// Default: 16 KiB
	PayloadMaxBytes int `yaml:"payload_max_bytes,omitempty"`

	// MirrorToolEvents enables the tool-events NDJSON mirror consumed by
	// the external auditing subsystem.
	// Environment: BATON_MIRROR_TOOL_EVENTS
	// Default: false
	MirrorToolEvents bool `yaml:"mirror_tool_events,omitempty"`

	// SpanIndex enables the SQLite span index side channel.
	// Environment: BATON_SPAN_INDEX
	// Default: false
	SpanIndex bool `yaml:"span_index,omitempty"`

	// FailureBundle enables invoking the bundle command on detected failure.
	// Environment: BATON_FAILURE_BUNDLE
	// Default: false
	FailureBundle bool `yaml:"failure_bundle,omitempty"`

	// FailureBundleCmd is the command invoked fire-and-forget with a JSON
	// argument describing the failure.
	// Environment: BATON_FAILURE_BUNDLE_CMD
	FailureBundleCmd string `yaml:"failure_bundle_cmd,omitempty"`

	// FailureMarkers are lowercase substrings that mark a tool result as an
	// application-level failure.
	FailureMarkers []string `yaml:"failure_markers,omitempty"`

	// FailurePredicate is an optional expression evaluated against
	// {agent, tool, phase, result, ok} to refine failure detection.
	FailurePredicate string `yaml:"failure_predicate,omitempty"`

	// ContextDirs are glob patterns; file tools writing inside a match are
	// classified as artifact spans.
	ContextDirs []string `yaml:"context_dirs,omitempty"`

	// Extract maps payload fields (session, agent, tool) to jq expressions
	// that override the built-in alias extraction.
	Extract map[string]string `yaml:"extract,omitempty"`

	// Log configures the debug log sink.
	Log LogConfig `yaml:"log,omitempty"`
}

// LogConfig configures the debug file logger.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format sets the output format (json, text).
	// Default: json
	Format string `yaml:"format,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Timeout:           2 * time.Second,
		StdinTotalTimeout: time.Second,
		StdinIdleTimeout:  200 * time.Millisecond,
		StdinMaxBytes:     1 << 20,
		PendingTTL:        3 * time.Minute,
		SessionTTL:        6 * time.Hour,
		RotateBytes:       5 << 20,
		RotateEvery:       25,
		MetricsCap:        50,
		SampleRate:        1.0,
		PayloadMaxBytes:   16 << 10,
		ContextDirs:       []string{"**/.claude/context/**"},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (if it exists), overlaid by environment variables. The
// returned Config is always usable; the error reports a broken file so the
// caller can log it without changing behavior.
func Load(path string) (*Config, error) {
	cfg := Default()

	var loadErr error
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			loadErr = err
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	// Override with environment variables
	cfg.loadFromEnv()

	return cfg, loadErr
}

// loadFromFile overlays values from a YAML file onto the config.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return nil
}

// applyDefaults fills in zero values with sensible defaults.
// This allows minimal configs to work without specifying all fields.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.StdinTotalTimeout <= 0 {
		c.StdinTotalTimeout = defaults.StdinTotalTimeout
	}
	if c.StdinIdleTimeout <= 0 {
		c.StdinIdleTimeout = defaults.StdinIdleTimeout
	}
	if c.StdinMaxBytes <= 0 {
		c.StdinMaxBytes = defaults.StdinMaxBytes
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = defaults.PendingTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaults.SessionTTL
	}
	if c.RotateBytes <= 0 {
		c.RotateBytes = defaults.RotateBytes
	}
	if c.RotateEvery <= 0 {
		c.RotateEvery = defaults.RotateEvery
	}
	if c.MetricsCap <= 0 {
		c.MetricsCap = defaults.MetricsCap
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = defaults.SampleRate
	}
	if c.PayloadMaxBytes <= 0 {
		c.PayloadMaxBytes = defaults.PayloadMaxBytes
	}
	if len(c.ContextDirs) == 0 {
		c.ContextDirs = defaults.ContextDirs
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// loadFromEnv overlays environment variables onto the config. Unparseable
// values are ignored; a broken environment must not change behavior.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("BATON_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			c.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("BATON_STDIN_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			c.StdinTotalTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("BATON_STDIN_IDLE_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			c.StdinIdleTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("BATON_STDIN_MAX_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			c.StdinMaxBytes = n
		}
	}
	if val := os.Getenv("BATON_PENDING_TTL_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			c.PendingTTL = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("BATON_SESSION_TTL_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			c.SessionTTL = time.Duration(ms) * time.Millisecond
		}
	}
	if val := os.Getenv("BATON_ROTATE_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			c.RotateBytes = n
		}
	}
	if val := os.Getenv("BATON_ROTATE_EVERY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.RotateEvery = n
		}
	}
	if val := os.Getenv("BATON_METRICS_CAP"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.MetricsCap = n
		}
	}
	if val := os.Getenv("BATON_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil && rate > 0 && rate <= 1 {
			c.SampleRate = rate
		}
	}
	if val := os.Getenv("BATON_STORE_PAYLOADS"); val != "" {
		c.StorePayloads = envBool(val)
	}
	if val := os.Getenv("BATON_PAYLOAD_MAX_BYTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.PayloadMaxBytes = n
		}
	}
	if val := os.Getenv("BATON_MIRROR_TOOL_EVENTS"); val != "" {
		c.MirrorToolEvents = envBool(val)
	}
	if val := os.Getenv("BATON_SPAN_INDEX"); val != "" {
		c.SpanIndex = envBool(val)
	}
	if val := os.Getenv("BATON_FAILURE_BUNDLE"); val != "" {
		c.FailureBundle = envBool(val)
	}
	if val := os.Getenv("BATON_FAILURE_BUNDLE_CMD"); val != "" {
		c.FailureBundleCmd = val
	}
	if val := os.Getenv("BATON_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if os.Getenv("BATON_DEBUG") == "1" || os.Getenv("BATON_DEBUG") == "true" {
		c.Log.Level = "debug"
	}
}

func envBool(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}
