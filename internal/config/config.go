// Package config loads Hydra's runtime configuration from HYDRA_* env
// vars, with an optional .env file for local development and an optional
// YAML override file for values inconvenient to pass through the
// environment (allow-lists, rule directories). Built on a
// getInt/getBool/os.Getenv idiom, generalized to Hydra's variable set and
// extended with godotenv + YAML layering for local-dev ergonomics.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is Hydra's fully-resolved runtime configuration.
type Config struct {
	MaxConcurrentAgents int
	AgentTimeout        time.Duration

	DaemonToken           string
	DaemonHost            string
	DaemonPort            int
	AllowedPaths          []string
	AllowInsecureDefaults bool

	AdversarialConcurrency int
	PatchConcurrency       int

	CacheCapacity int
	CacheTTL      time.Duration

	ReasonerAPIKey string
	ReasonerURL    string

	EtcdEndpoints []string
	RedisAddr     string
	PostgresDSN   string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	RulesDir string
}

// Default returns the baseline defaults before any override is applied.
func Default() Config {
	return Config{
		MaxConcurrentAgents:    3,
		AgentTimeout:           90 * time.Second,
		DaemonHost:             "0.0.0.0",
		DaemonPort:             8080,
		AdversarialConcurrency: 2,
		PatchConcurrency:       2,
		CacheCapacity:          5000,
		CacheTTL:               24 * time.Hour,
	}
}

// Load reads .env/.env.local (best-effort, missing files are not an
// error), applies HYDRA_* environment variables over Default(), then
// applies yamlOverridePath if non-empty and present.
func Load(yamlOverridePath string) (Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := Default()
	applyEnv(&cfg)

	if yamlOverridePath != "" {
		if err := applyYAML(&cfg, yamlOverridePath); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.MaxConcurrentAgents = getInt("HYDRA_MAX_CONCURRENT_AGENTS", cfg.MaxConcurrentAgents)
	cfg.AgentTimeout = getDurationMS("HYDRA_AGENT_TIMEOUT_MS", cfg.AgentTimeout)
	cfg.DaemonToken = getString("HYDRA_DAEMON_TOKEN", cfg.DaemonToken)
	cfg.AllowInsecureDefaults = os.Getenv("HYDRA_ALLOW_INSECURE_DEFAULTS") == "1"

	if v := os.Getenv("HYDRA_ALLOWED_PATHS"); v != "" {
		var paths []string
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				paths = append(paths, p)
			}
		}
		cfg.AllowedPaths = paths
	}

	cfg.ReasonerAPIKey = getString("HYDRA_REASONER_API_KEY", cfg.ReasonerAPIKey)
	cfg.ReasonerURL = getString("HYDRA_REASONER_URL", cfg.ReasonerURL)

	if v := os.Getenv("HYDRA_ETCD_ENDPOINTS"); v != "" {
		cfg.EtcdEndpoints = strings.Split(v, ",")
	}
	cfg.RedisAddr = getString("HYDRA_REDIS_ADDR", cfg.RedisAddr)
	cfg.PostgresDSN = getString("HYDRA_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.MinioEndpoint = getString("HYDRA_MINIO_ENDPOINT", cfg.MinioEndpoint)
	cfg.MinioAccessKey = getString("HYDRA_MINIO_ACCESS_KEY", cfg.MinioAccessKey)
	cfg.MinioSecretKey = getString("HYDRA_MINIO_SECRET_KEY", cfg.MinioSecretKey)
	cfg.MinioBucket = getString("HYDRA_MINIO_BUCKET", cfg.MinioBucket)
	cfg.MinioUseSSL = os.Getenv("HYDRA_MINIO_USE_SSL") == "1"
	cfg.RulesDir = getString("HYDRA_RULES_DIR", cfg.RulesDir)

	cfg.AdversarialConcurrency = getInt("HYDRA_ADVERSARIAL_CONCURRENCY", cfg.AdversarialConcurrency)
	cfg.PatchConcurrency = getInt("HYDRA_PATCH_CONCURRENCY", cfg.PatchConcurrency)
	cfg.CacheCapacity = getInt("HYDRA_CACHE_CAPACITY", cfg.CacheCapacity)
}

// yamlOverride mirrors the subset of Config a YAML file may set. Only
// non-zero fields override cfg, so a partial file is safe.
type yamlOverride struct {
	DaemonHost   string   `yaml:"daemon_host"`
	DaemonPort   int      `yaml:"daemon_port"`
	AllowedPaths []string `yaml:"allowed_paths"`
	RulesDir     string   `yaml:"rules_dir"`
}

func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var ov yamlOverride
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if ov.DaemonHost != "" {
		cfg.DaemonHost = ov.DaemonHost
	}
	if ov.DaemonPort != 0 {
		cfg.DaemonPort = ov.DaemonPort
	}
	if len(ov.AllowedPaths) > 0 {
		cfg.AllowedPaths = ov.AllowedPaths
	}
	if ov.RulesDir != "" {
		cfg.RulesDir = ov.RulesDir
	}
	return nil
}

// Validate enforces the positive-integer invariants on tunable limits.
func (c Config) Validate() error {
	if c.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("config: HYDRA_MAX_CONCURRENT_AGENTS must be a positive integer")
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("config: HYDRA_AGENT_TIMEOUT_MS must be a positive integer")
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDurationMS(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
