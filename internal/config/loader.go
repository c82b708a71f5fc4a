package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "orchestrator.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ORCHESTRATOR_PORT")
	setString(&cfg.Server.CORSOrigin, "ORCHESTRATOR_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ORCHESTRATOR_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ORCHESTRATOR_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ORCHESTRATOR_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ORCHESTRATOR_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ORCHESTRATOR_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "ORCHESTRATOR_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ORCHESTRATOR_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ORCHESTRATOR_LOG_ASYNC")

	setString(&cfg.Worker.ID, "ORCHESTRATOR_WORKER_ID")
	setInt(&cfg.Worker.MaxSlots, "ORCHESTRATOR_MAX_SLOTS")
	setDuration(&cfg.Worker.DefaultTimeout, "ORCHESTRATOR_DEFAULT_TIMEOUT")
	setDuration(&cfg.Worker.ShutdownGrace, "ORCHESTRATOR_SHUTDOWN_GRACE")
	setDuration(&cfg.Worker.HeartbeatInterval, "ORCHESTRATOR_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Worker.ReconcileInterval, "ORCHESTRATOR_RECONCILE_INTERVAL")
	setString(&cfg.Worker.WorkspacesRoot, "ORCHESTRATOR_WORKSPACES_ROOT")
	setString(&cfg.Worker.ArtifactsRoot, "ORCHESTRATOR_ARTIFACTS_ROOT")
	setString(&cfg.Worker.Ledger, "ORCHESTRATOR_LEDGER")

	setString(&cfg.Sandbox.Image, "ORCHESTRATOR_SANDBOX_IMAGE")
	setFloat64(&cfg.Sandbox.CPULimit, "ORCHESTRATOR_SANDBOX_CPU_LIMIT")
	setString(&cfg.Sandbox.MemoryLimit, "ORCHESTRATOR_SANDBOX_MEMORY_LIMIT")
	setBool(&cfg.Sandbox.NetworkDisabled, "ORCHESTRATOR_SANDBOX_NETWORK_DISABLED")
	setBool(&cfg.Sandbox.ReadOnlyRootFS, "ORCHESTRATOR_SANDBOX_READONLY_ROOTFS")
	setString(&cfg.Sandbox.User, "ORCHESTRATOR_SANDBOX_USER")

	setInt(&cfg.Git.MaxConcurrent, "ORCHESTRATOR_GIT_MAX_CONCURRENT")
	setDuration(&cfg.Git.CommandTimeout, "ORCHESTRATOR_GIT_COMMAND_TIMEOUT")

	setInt64(&cfg.Cache.L1MaxSizeMB, "ORCHESTRATOR_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "ORCHESTRATOR_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "ORCHESTRATOR_CACHE_L2_TTL")

	setBool(&cfg.OTel.Enabled, "ORCHESTRATOR_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setBool(&cfg.MCP.Enabled, "ORCHESTRATOR_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "ORCHESTRATOR_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "ORCHESTRATOR_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Worker.MaxSlots < 1 {
		return errors.New("worker.max_slots must be >= 1")
	}
	if cfg.Worker.WorkspacesRoot == "" {
		return errors.New("worker.workspaces_root is required")
	}
	switch cfg.Worker.Ledger {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("worker.ledger must be \"postgres\" or \"memory\", got %q", cfg.Worker.Ledger)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
