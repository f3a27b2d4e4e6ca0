// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the treeprof agent.
type Config struct {
	ServiceName string          `yaml:"service_name" env:"TREEPROF_SERVICE_NAME"`
	LogLevel    string          `yaml:"log_level" env:"TREEPROF_LOG_LEVEL"`
	Input       InputConfig     `yaml:"input"`
	Profile     ProfileConfig   `yaml:"profile"`
	Exporters   ExportersConfig `yaml:"exporters"`
	Health      HealthConfig    `yaml:"health"`
}

// HealthConfig controls the agent's own health and metrics endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// InputConfig selects where captured call-tree files come from.
type InputConfig struct {
	Dir         string `yaml:"dir"`          // watched for *.cpuprofile / *.heapprofile
	RemoveAfter bool   `yaml:"remove_after"` // delete captures once converted
}

// ProfileConfig tunes the conversion of captures into pprof profiles.
type ProfileConfig struct {
	SamplePeriodMicros int64             `yaml:"sample_period_micros"` // 0: estimate from the capture
	HeapIntervalBytes  int64             `yaml:"heap_interval_bytes"`  // 0: profiler default
	MaxStackDepth      int               `yaml:"max_stack_depth"`      // 0: library default
	Labels             map[string]string `yaml:"labels"`               // attached to every sample
	PID                int32             `yaml:"pid"`                  // profiled process, for metadata comments
	Verify             bool              `yaml:"verify"`               // re-parse serialized output before export
	DropFrames         string            `yaml:"drop_frames"`
	KeepFrames         string            `yaml:"keep_frames"`
}

// ExportersConfig enables destinations for serialized profiles.
type ExportersConfig struct {
	File      FileExporterConfig `yaml:"file"`
	Stdout    StdoutConfig       `yaml:"stdout"`
	Pyroscope PyroscopeConfig    `yaml:"pyroscope"`
}

type FileExporterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

type PyroscopeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"` // Basic auth username (Grafana Cloud instance ID)
	Password string `yaml:"password"` // Basic auth password (Grafana Cloud API token)
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "unknown-service",
		LogLevel:    "info",
		Input: InputConfig{
			Dir: "./captures",
		},
		Profile: ProfileConfig{
			// 0 means "estimate from the capture"; most captures carry
			// their own sample deltas.
			SamplePeriodMicros: 0,
			Verify:             true,
		},
		Exporters: ExportersConfig{
			File: FileExporterConfig{
				Enabled: true,
				Dir:     "./profiles",
			},
			Stdout: StdoutConfig{
				Enabled: false,
				Format:  "text",
			},
			Pyroscope: PyroscopeConfig{
				Enabled:  false,
				Endpoint: "http://localhost:4040",
			},
		},
		Health: HealthConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9600",
		},
	}
}

// LoadDir loads YAML files from a directory and merges them into a
// single Config. Expected files:
//   - base.yaml      → service_name, log_level
//   - input.yaml     → input
//   - profile.yaml   → profile
//   - exporters.yaml → exporters
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFileInto(filepath.Join(dir, "base.yaml"), cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load base.yaml: %w", err)
	}

	overlays := []string{"input.yaml", "profile.yaml", "exporters.yaml"}
	for _, f := range overlays {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing
// Config, overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads TREEPROF_* environment variables and applies
// them on top of YAML values.
func (c *Config) ApplyEnvOverrides() {
	stringOverrides := map[string]func(string){
		"TREEPROF_SERVICE_NAME":       func(v string) { c.ServiceName = v },
		"TREEPROF_LOG_LEVEL":          func(v string) { c.LogLevel = v },
		"TREEPROF_INPUT_DIR":          func(v string) { c.Input.Dir = v },
		"TREEPROF_EXPORT_FILE_DIR":    func(v string) { c.Exporters.File.Dir = v },
		"TREEPROF_PYROSCOPE_ENDPOINT": func(v string) { c.Exporters.Pyroscope.Endpoint = v },
		"TREEPROF_PYROSCOPE_USERNAME": func(v string) { c.Exporters.Pyroscope.Username = v },
		"TREEPROF_PYROSCOPE_PASSWORD": func(v string) { c.Exporters.Pyroscope.Password = v },
		"TREEPROF_HEALTH_ADDR":        func(v string) { c.Health.Addr = v },
	}

	boolOverrides := map[string]*bool{
		"TREEPROF_EXPORT_FILE_ENABLED":   &c.Exporters.File.Enabled,
		"TREEPROF_EXPORT_STDOUT_ENABLED": &c.Exporters.Stdout.Enabled,
		"TREEPROF_PYROSCOPE_ENABLED":     &c.Exporters.Pyroscope.Enabled,
		"TREEPROF_PROFILE_VERIFY":        &c.Profile.Verify,
		"TREEPROF_INPUT_REMOVE_AFTER":    &c.Input.RemoveAfter,
		"TREEPROF_HEALTH_ENABLED":        &c.Health.Enabled,
	}

	intOverrides := map[string]*int64{
		"TREEPROF_SAMPLE_PERIOD_MICROS": &c.Profile.SamplePeriodMicros,
		"TREEPROF_HEAP_INTERVAL_BYTES":  &c.Profile.HeapIntervalBytes,
	}

	for envKey, setter := range stringOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range intOverrides {
		if val := os.Getenv(envKey); val != "" {
			if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				*target = n
			}
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Input.Dir == "" {
		return fmt.Errorf("input.dir is required")
	}

	if c.Profile.SamplePeriodMicros < 0 {
		return fmt.Errorf("profile.sample_period_micros must not be negative")
	}
	if c.Profile.HeapIntervalBytes < 0 {
		return fmt.Errorf("profile.heap_interval_bytes must not be negative")
	}
	if c.Profile.MaxStackDepth < 0 {
		return fmt.Errorf("profile.max_stack_depth must not be negative")
	}

	if c.Exporters.File.Enabled && c.Exporters.File.Dir == "" {
		return fmt.Errorf("exporters.file.dir is required when the file exporter is enabled")
	}
	if c.Exporters.Stdout.Enabled && c.Exporters.Stdout.Format != "text" && c.Exporters.Stdout.Format != "json" {
		return fmt.Errorf("exporters.stdout.format must be 'text' or 'json'")
	}
	if c.Exporters.Pyroscope.Enabled && c.Exporters.Pyroscope.Endpoint == "" {
		return fmt.Errorf("exporters.pyroscope.endpoint is required when pyroscope is enabled")
	}
	if !c.Exporters.File.Enabled && !c.Exporters.Stdout.Enabled && !c.Exporters.Pyroscope.Enabled {
		return fmt.Errorf("at least one exporter must be enabled")
	}
	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr is required when the health server is enabled")
	}

	return nil
}
