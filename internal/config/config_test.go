package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithNoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	v, err := New(filepath.Join(tmpDir, "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level = %q, want INFO", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
	if cfg.Broker.Transport != TransportSimulator {
		t.Errorf("Broker.Transport = %q, want simulator", cfg.Broker.Transport)
	}
	if cfg.Broker.ReceiveTimeout != 5*time.Second {
		t.Errorf("Broker.ReceiveTimeout = %v, want 5s", cfg.Broker.ReceiveTimeout)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
logging:
  level: DEBUG
  format: json
  output: stderr

broker:
  transport: simulator
  simulator_addr: "10.0.0.5:2321"
  receive_timeout: 15s

server:
  listen_addr: "0.0.0.0:9999"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	v, err := New(configPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Logging.Level = %q, want DEBUG", cfg.Logging.Level)
	}
	if cfg.Broker.SimulatorAddr != "10.0.0.5:2321" {
		t.Errorf("Broker.SimulatorAddr = %q, want 10.0.0.5:2321", cfg.Broker.SimulatorAddr)
	}
	if cfg.Broker.ReceiveTimeout != 15*time.Second {
		t.Errorf("Broker.ReceiveTimeout = %v, want 15s", cfg.Broker.ReceiveTimeout)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9999" {
		t.Errorf("Server.ListenAddr = %q, want 0.0.0.0:9999", cfg.Server.ListenAddr)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	tmpDir := t.TempDir()

	t.Setenv("TABRMD_LOGGING_LEVEL", "WARN")

	v, err := New(filepath.Join(tmpDir, "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Logging.Level = %q, want WARN from environment", cfg.Logging.Level)
	}
}

func TestLoad_InvalidLogLevelRejected(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("logging:\n  level: NOISY\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	v, err := New(configPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := Load(v); err == nil {
		t.Fatal("Load() error = nil, want validation failure for invalid log level")
	}
}

func TestLoad_InvalidTransportRejected(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("broker:\n  transport: hardware\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	v, err := New(configPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := Load(v); err == nil {
		t.Fatal("Load() error = nil, want validation failure for unsupported transport")
	}
}
