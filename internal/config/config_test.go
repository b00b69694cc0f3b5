package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.TaskPoolSize != 10 {
		t.Errorf("TaskPoolSize = %d, want 10", cfg.Server.TaskPoolSize)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: debug
server:
  task_pool_size: 25
  max_accept_rate: 50
metrics:
  addr: "127.0.0.1:9999"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Server.TaskPoolSize != 25 {
		t.Errorf("TaskPoolSize = %d, want 25", cfg.Server.TaskPoolSize)
	}
	if cfg.Server.MaxAcceptRatePerSec != 50 {
		t.Errorf("MaxAcceptRatePerSec = %v, want 50", cfg.Server.MaxAcceptRatePerSec)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9999" {
		t.Errorf("Metrics.Addr = %q, want 127.0.0.1:9999", cfg.Metrics.Addr)
	}
}

func TestValidate_RejectsNonPositivePoolSize(t *testing.T) {
	cfg := Default()
	cfg.Server.TaskPoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for zero task_pool_size, got nil")
	}
}

func TestLoad_InvalidYAMLIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for malformed YAML, got nil")
	}
}
