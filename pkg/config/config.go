// Package config provides environment-based configuration for sitekiln.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the API server, the worker and the CLI.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	APIPort            int
	APIHost            string
	CORSAllowedOrigins []string
	MaxUploadBytes     int64

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Storage locations
	TemplatesDir string
	BuildsDir    string

	// Build policy
	ArtifactRetention int
	DailyBuildQuota   int

	Worker  WorkerConfig
	GitHub  GitHubConfig
	SOPS    SOPSConfig
	Logging LoggingConfig
	NATSURL string
	Tracing TracingConfig
}

// WorkerConfig holds build worker-specific configuration.
type WorkerConfig struct {
	WorkDir        string
	PollInterval   time.Duration
	CommandTimeout time.Duration
	ScratchMaxAge  time.Duration
	// HealthAddr serves /health, /metrics and /stats for the worker process.
	HealthAddr string
}

// GitHubConfig configures remote builds.
type GitHubConfig struct {
	Token         string
	APIURL        string
	Workflow      string
	WebhookSecret string
}

// SOPSConfig holds the age keys for env payload encryption.
type SOPSConfig struct {
	// AgePublicKey (age1...) seals payloads. Needed by the API server.
	AgePublicKey string
	// AgePrivateKey (AGE-SECRET-KEY-1...) opens payloads. Needed by the worker.
	AgePrivateKey string
}

// LoggingConfig selects log level, format and an optional file copy.
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// TracingConfig selects the trace exporter.
type TracingConfig struct {
	// Stdout prints spans to stdout.
	Stdout bool
	// OTLPEndpoint, when set, exports spans over OTLP/HTTP.
	OTLPEndpoint string
}

// LoadDotEnv loads a .env file into the environment if one exists. Variables
// already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.ArtifactRetention <= 0 {
		return fmt.Errorf("ARTIFACT_RETENTION must be positive")
	}
	if c.DailyBuildQuota <= 0 {
		return fmt.Errorf("DAILY_BUILD_QUOTA must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	return &Config{
		DatabaseDSN:        getEnv("DATABASE_URL", "postgres://localhost:5432/sitekiln?sslmode=disable"),
		JWTSecret:          getEnv("JWT_SECRET", "development-secret-key-min-32-chars"),
		JWTExpiry:          getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIPort:            getIntEnv("API_PORT", 8080),
		APIHost:            getEnv("API_HOST", "0.0.0.0"),
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxUploadBytes:     int64(getIntEnv("MAX_UPLOAD_BYTES", 100<<20)),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		TemplatesDir:       getEnv("TEMPLATES_DIR", "data/templates"),
		BuildsDir:          getEnv("BUILDS_DIR", "data/builds"),
		ArtifactRetention:  getIntEnv("ARTIFACT_RETENTION", 2),
		DailyBuildQuota:    getIntEnv("DAILY_BUILD_QUOTA", 2),
		Worker: WorkerConfig{
			WorkDir:        getEnv("WORKER_WORKDIR", "/tmp/sitekiln-work"),
			PollInterval:   getDurationEnv("WORKER_POLL_INTERVAL", 2*time.Second),
			CommandTimeout: getDurationEnv("BUILD_COMMAND_TIMEOUT", 10*time.Minute),
			ScratchMaxAge:  getDurationEnv("WORKER_SCRATCH_MAX_AGE", 6*time.Hour),
			HealthAddr:     getEnv("WORKER_HEALTH_ADDR", ":8081"),
		},
		GitHub: GitHubConfig{
			Token:         getEnv("GITHUB_TOKEN", ""),
			APIURL:        getEnv("GITHUB_API_URL", "https://api.github.com"),
			Workflow:      getEnv("GITHUB_WORKFLOW", "build.yml"),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		},
		SOPS: SOPSConfig{
			AgePublicKey:  getEnv("SOPS_AGE_PUBLIC_KEY", ""),
			AgePrivateKey: getEnv("SOPS_AGE_PRIVATE_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		NATSURL: getEnv("NATS_URL", ""),
		Tracing: TracingConfig{
			Stdout:       getBoolEnv("OTEL_TRACES_STDOUT", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
	}
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping empty entries.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
