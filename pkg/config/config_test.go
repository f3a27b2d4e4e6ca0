package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig does not validate: %v", err)
	}
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "treeprof.yaml")
	data := `
service_name: checkout
log_level: debug
input:
  dir: /var/lib/treeprof/captures
profile:
  sample_period_micros: 2000
  labels:
    env: prod
exporters:
  stdout:
    enabled: true
    format: json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "checkout" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.Input.Dir != "/var/lib/treeprof/captures" {
		t.Errorf("Input.Dir = %q", cfg.Input.Dir)
	}
	if cfg.Profile.SamplePeriodMicros != 2000 {
		t.Errorf("SamplePeriodMicros = %d", cfg.Profile.SamplePeriodMicros)
	}
	if cfg.Profile.Labels["env"] != "prod" {
		t.Errorf("Labels = %v", cfg.Profile.Labels)
	}
	if !cfg.Exporters.Stdout.Enabled || cfg.Exporters.Stdout.Format != "json" {
		t.Errorf("Stdout = %+v", cfg.Exporters.Stdout)
	}
	// Untouched fields keep their defaults.
	if !cfg.Exporters.File.Enabled {
		t.Error("file exporter default lost")
	}
}

func TestLoadDirMergesOverlays(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"base.yaml":      "service_name: merged\n",
		"input.yaml":     "input:\n  dir: /tmp/caps\n",
		"exporters.yaml": "exporters:\n  pyroscope:\n    enabled: true\n    endpoint: http://pyro:4040\n",
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if cfg.ServiceName != "merged" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.Input.Dir != "/tmp/caps" {
		t.Errorf("Input.Dir = %q", cfg.Input.Dir)
	}
	if !cfg.Exporters.Pyroscope.Enabled || cfg.Exporters.Pyroscope.Endpoint != "http://pyro:4040" {
		t.Errorf("Pyroscope = %+v", cfg.Exporters.Pyroscope)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TREEPROF_SERVICE_NAME", "from-env")
	t.Setenv("TREEPROF_SAMPLE_PERIOD_MICROS", "5000")
	t.Setenv("TREEPROF_EXPORT_STDOUT_ENABLED", "true")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.ServiceName != "from-env" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.Profile.SamplePeriodMicros != 5000 {
		t.Errorf("SamplePeriodMicros = %d", cfg.Profile.SamplePeriodMicros)
	}
	if !cfg.Exporters.Stdout.Enabled {
		t.Error("stdout exporter not enabled from env")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"empty input dir":  func(c *Config) { c.Input.Dir = "" },
		"negative period":  func(c *Config) { c.Profile.SamplePeriodMicros = -1 },
		"negative depth":   func(c *Config) { c.Profile.MaxStackDepth = -1 },
		"file without dir": func(c *Config) { c.Exporters.File.Dir = "" },
		"bad stdout format": func(c *Config) {
			c.Exporters.Stdout.Enabled = true
			c.Exporters.Stdout.Format = "xml"
		},
		"pyroscope no url": func(c *Config) {
			c.Exporters.Pyroscope.Enabled = true
			c.Exporters.Pyroscope.Endpoint = ""
		},
		"no exporter enabled": func(c *Config) { c.Exporters.File.Enabled = false },
		"health without addr": func(c *Config) {
			c.Health.Enabled = true
			c.Health.Addr = ""
		},
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate did not fail", name)
		}
	}
}
