package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearHydraEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HYDRA_MAX_CONCURRENT_AGENTS", "HYDRA_AGENT_TIMEOUT_MS", "HYDRA_DAEMON_TOKEN",
		"HYDRA_ALLOWED_PATHS", "HYDRA_ALLOW_INSECURE_DEFAULTS", "HYDRA_ETCD_ENDPOINTS",
		"HYDRA_REDIS_ADDR", "HYDRA_POSTGRES_DSN", "HYDRA_MINIO_ENDPOINT", "HYDRA_RULES_DIR",
		"HYDRA_ADVERSARIAL_CONCURRENCY", "HYDRA_PATCH_CONCURRENCY", "HYDRA_CACHE_CAPACITY",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadDefaultsWithNoEnv(t *testing.T) {
	clearHydraEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentAgents != 3 {
		t.Fatalf("expected default concurrency 3, got %d", cfg.MaxConcurrentAgents)
	}
	if cfg.AgentTimeout != 90*time.Second {
		t.Fatalf("expected default timeout 90s, got %s", cfg.AgentTimeout)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearHydraEnv(t)
	os.Setenv("HYDRA_MAX_CONCURRENT_AGENTS", "7")
	os.Setenv("HYDRA_AGENT_TIMEOUT_MS", "5000")
	os.Setenv("HYDRA_ALLOWED_PATHS", "/a, /b ,/c")
	defer clearHydraEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentAgents != 7 {
		t.Fatalf("expected 7, got %d", cfg.MaxConcurrentAgents)
	}
	if cfg.AgentTimeout != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.AgentTimeout)
	}
	if len(cfg.AllowedPaths) != 3 || cfg.AllowedPaths[1] != "/b" {
		t.Fatalf("expected trimmed 3-entry allow-list, got %v", cfg.AllowedPaths)
	}
}

func TestLoadInvalidConcurrencyFallsBackToDefault(t *testing.T) {
	clearHydraEnv(t)
	os.Setenv("HYDRA_MAX_CONCURRENT_AGENTS", "not-a-number")
	defer clearHydraEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentAgents != 3 {
		t.Fatalf("expected fallback to default 3, got %d", cfg.MaxConcurrentAgents)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	clearHydraEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hydra.yaml")
	if err := os.WriteFile(path, []byte("daemon_host: 127.0.0.1\ndaemon_port: 9090\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DaemonHost != "127.0.0.1" || cfg.DaemonPort != 9090 {
		t.Fatalf("expected yaml override to apply, got %+v", cfg)
	}
}
