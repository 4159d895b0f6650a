package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "MAX_WORKERS", "SANDBOX_MODE", "WORKSPACE_MAX_AGE", "ENABLE_NATS", "SANDBOX_CPUS"} {
		t.Setenv(key, "")
	}
	cfg := LoadConfig()
	// empty values are present but unparsable, so numeric keys fall back
	if cfg.MaxWorkers != 4 || cfg.WorkspaceMaxAge != time.Hour || cfg.EnableNATS || cfg.SandboxCPUs != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DefaultLanguage != "python" || cfg.MaxCodeLength != 10000 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_WORKERS", "12")
	t.Setenv("SANDBOX_MODE", "Docker")
	t.Setenv("WORKSPACE_MAX_AGE", "15m")
	t.Setenv("ENABLE_NATS", "true")
	t.Setenv("SANDBOX_CPUS", "0.5")

	cfg := LoadConfig()
	if cfg.Port != "9090" || cfg.MaxWorkers != 12 || cfg.SandboxMode != "docker" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.WorkspaceMaxAge != 15*time.Minute || !cfg.EnableNATS || cfg.SandboxCPUs != 0.5 {
		t.Fatalf("cfg = %+v", cfg)
	}
}
