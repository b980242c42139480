// Package config provides configuration loading for orchd.
//
// Configuration is loaded from a YAML file and overridden by
// environment variables, with hardcoded defaults filling the gaps.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config holds the complete orchd configuration.
type Config struct {
	Temporal   TemporalConfig
	Gateway    GatewayConfig
	NATS       NATSConfig
	Runs       RunsConfig
	Planner    PlannerConfig
	Embeddings EmbeddingsConfig
	SemCache   SemCacheConfig
	Guard      GuardConfig
	Tools      ToolsConfig
	Logging    LogConfig
	Telemetry  TelemetryConfig
}

// TemporalConfig holds the connection to the Temporal cluster that
// hosts run histories.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// GatewayConfig holds HTTP gateway configuration.
type GatewayConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitRPS    float64       `koanf:"rate_limit_rps"`
	RateLimitBurst  int           `koanf:"rate_limit_burst"`
}

// NATSConfig holds the event broker connection. Run events are
// mirrored to NATS for live streaming; the broker is optional and
// runs proceed without it.
type NATSConfig struct {
	Disabled bool   `koanf:"disabled"`
	URL      string `koanf:"url"`
}

// RunsConfig holds the per-run defaults applied to every submission.
type RunsConfig struct {
	MaxConcurrentSteps  int `koanf:"max_concurrent_steps"`
	CheckpointMaxEvents int `koanf:"checkpoint_max_events"`
}

// PlannerConfig holds the LLM used for plan generation. BaseURL
// points at any OpenAI-compatible endpoint; empty means the OpenAI
// default.
type PlannerConfig struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
}

// EmbeddingsConfig holds the embedding endpoint used by the semantic
// plan cache.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// SemCacheConfig holds the semantic plan cache configuration.
type SemCacheConfig struct {
	Disabled bool    `koanf:"disabled"`
	Provider string  `koanf:"provider"`
	MinScore float32 `koanf:"min_score"`
	Chromem  ChromemConfig
	Qdrant   QdrantConfig
}

// ChromemConfig holds the embedded chromem-go store settings.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig holds the Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     Secret `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
}

// GuardConfig holds the plan policy guard settings.
type GuardConfig struct {
	Disabled          bool     `koanf:"disabled"`
	DeniedTools       []string `koanf:"denied_tools"`
	DeniedPatterns    []string `koanf:"denied_patterns"`
	MaxPlanSteps      int      `koanf:"max_plan_steps"`
	DisableSecretScan bool     `koanf:"disable_secret_scan"`
}

// ToolsConfig holds the tool catalog settings. An empty catalog path
// registers only the builtin tools.
type ToolsConfig struct {
	CatalogPath  string `koanf:"catalog_path"`
	DisableWatch bool   `koanf:"disable_watch"`
}

// LogConfig holds the subset of logging settings exposed through the
// main config file. The logging package owns the full configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds the subset of OpenTelemetry settings exposed
// through the main config file.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	SampleRate float64 `koanf:"sample_rate"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "127.0.0.1:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "orchd-runs"
	}

	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "localhost"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 9090
	}
	if cfg.Gateway.ShutdownTimeout == 0 {
		cfg.Gateway.ShutdownTimeout = 10 * time.Second
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}

	if cfg.Runs.MaxConcurrentSteps == 0 {
		cfg.Runs.MaxConcurrentSteps = 1
	}

	if cfg.Planner.Model == "" {
		cfg.Planner.Model = "gpt-4o-mini"
	}
	if cfg.Planner.Temperature == 0 {
		cfg.Planner.Temperature = 0.2
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	if cfg.SemCache.Provider == "" {
		cfg.SemCache.Provider = "chromem"
	}
	if cfg.SemCache.MinScore == 0 {
		cfg.SemCache.MinScore = 0.87
	}
	if cfg.SemCache.Chromem.Path == "" {
		cfg.SemCache.Chromem.Path = "~/.config/orchd/semcache"
	}
	if cfg.SemCache.Chromem.Collection == "" {
		cfg.SemCache.Chromem.Collection = "orchd_plans"
	}
	if cfg.SemCache.Qdrant.Host == "" {
		cfg.SemCache.Qdrant.Host = "localhost"
	}
	if cfg.SemCache.Qdrant.Port == 0 {
		cfg.SemCache.Qdrant.Port = 6334
	}
	if cfg.SemCache.Qdrant.Collection == "" {
		cfg.SemCache.Qdrant.Collection = "orchd_plans"
	}
	if cfg.SemCache.Qdrant.VectorSize == 0 {
		cfg.SemCache.Qdrant.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Temporal.HostPort == "" {
		return errors.New("temporal host_port is required")
	}
	if c.Temporal.TaskQueue == "" {
		return errors.New("temporal task_queue is required")
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d (must be 1-65535)", c.Gateway.Port)
	}
	if c.Gateway.ShutdownTimeout <= 0 {
		return errors.New("gateway shutdown timeout must be positive")
	}
	if c.Gateway.RateLimitRPS < 0 {
		return fmt.Errorf("gateway rate_limit_rps cannot be negative: %f", c.Gateway.RateLimitRPS)
	}

	if !c.NATS.Disabled && c.NATS.URL == "" {
		return errors.New("nats url is required unless nats is disabled")
	}

	if c.Runs.MaxConcurrentSteps < 1 {
		return fmt.Errorf("runs max_concurrent_steps must be >= 1, got %d", c.Runs.MaxConcurrentSteps)
	}

	if c.Planner.Model == "" {
		return errors.New("planner model is required")
	}
	if c.Planner.Temperature < 0 || c.Planner.Temperature > 2 {
		return fmt.Errorf("planner temperature must be between 0 and 2, got %f", c.Planner.Temperature)
	}

	if !c.SemCache.Disabled {
		if c.SemCache.Provider != "chromem" && c.SemCache.Provider != "qdrant" {
			return fmt.Errorf("semcache provider must be 'chromem' or 'qdrant', got %q", c.SemCache.Provider)
		}
		if c.SemCache.MinScore < 0 || c.SemCache.MinScore > 1 {
			return fmt.Errorf("semcache min_score must be between 0 and 1, got %f", c.SemCache.MinScore)
		}
		if c.Embeddings.BaseURL == "" {
			return errors.New("embeddings base_url is required unless semcache is disabled")
		}
		if c.Embeddings.Model == "" {
			return errors.New("embeddings model is required unless semcache is disabled")
		}
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level %q: %w", c.Logging.Level, err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	return nil
}
