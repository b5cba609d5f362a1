package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the gtmdocs server.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	OpenAI    OpenAIConfig
	Drive     DriveConfig
	Processor ProcessorConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// APIKeyHash is a bcrypt hash of the API key protecting the submission
	// and status endpoints. Empty disables auth (development only).
	APIKeyHash string
}

type StoreConfig struct {
	// JobBackend selects the Job store: "memory" (default) or "postgres".
	JobBackend string
	// IdempotencyBackend selects the claim store: "memory" (default) or "redis".
	IdempotencyBackend string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type OpenAIConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	WebhookSecret string
	SubmitTimeout time.Duration
}

type DriveConfig struct {
	BaseURL        string
	DocsBaseURL    string
	AccessToken    string
	TemplateDocID  string
	RootFolderID   string
	ShareWithEmail string
	Timeout        time.Duration
}

type ProcessorConfig struct {
	QueueSize      int
	Workers        int
	StaleAfter     time.Duration
	ClaimRetention time.Duration
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"redis":    true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:       envInt("GTMDOCS_PORT", 8080),
			Env:        envString("GTMDOCS_ENV", "development"),
			APIKeyHash: os.Getenv("GTMDOCS_API_KEY_HASH"),
		},
		Store: StoreConfig{
			JobBackend:         envString("JOB_STORE_BACKEND", "memory"),
			IdempotencyBackend: envString("IDEMPOTENCY_BACKEND", "memory"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		OpenAI: OpenAIConfig{
			APIKey:        os.Getenv("OPENAI_API_KEY"),
			Model:         envString("OPENAI_MODEL", "o3-deep-research"),
			BaseURL:       envString("OPENAI_BASE_URL", "https://api.openai.com"),
			WebhookSecret: os.Getenv("OPENAI_WEBHOOK_SECRET"),
			SubmitTimeout: envDuration("OPENAI_SUBMIT_TIMEOUT", 60*time.Second),
		},
		Drive: DriveConfig{
			BaseURL:        envString("DRIVE_BASE_URL", "https://www.googleapis.com"),
			DocsBaseURL:    envString("DOCS_BASE_URL", "https://docs.googleapis.com"),
			AccessToken:    os.Getenv("DRIVE_ACCESS_TOKEN"),
			TemplateDocID:  os.Getenv("GTMDOCS_TEMPLATE_DOC_ID"),
			RootFolderID:   os.Getenv("GTMDOCS_DRIVE_FOLDER_ID"),
			ShareWithEmail: os.Getenv("GTMDOCS_SHARE_EMAIL"),
			Timeout:        envDuration("DRIVE_TIMEOUT", 30*time.Second),
		},
		Processor: ProcessorConfig{
			QueueSize:      envInt("PROCESSOR_QUEUE_SIZE", 64),
			Workers:        envInt("PROCESSOR_WORKERS", 4),
			StaleAfter:     envDuration("JOB_STALE_AFTER", 2*time.Hour),
			ClaimRetention: envDuration("IDEMPOTENCY_RETENTION", time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.OpenAI.WebhookSecret == "" {
		return fmt.Errorf("OPENAI_WEBHOOK_SECRET is required")
	}
	if !strings.HasPrefix(c.OpenAI.BaseURL, "http://") && !strings.HasPrefix(c.OpenAI.BaseURL, "https://") {
		return fmt.Errorf("OPENAI_BASE_URL must start with http:// or https://, got %q", c.OpenAI.BaseURL)
	}

	if c.Drive.AccessToken == "" {
		return fmt.Errorf("DRIVE_ACCESS_TOKEN is required")
	}
	if c.Drive.TemplateDocID == "" {
		return fmt.Errorf("GTMDOCS_TEMPLATE_DOC_ID is required")
	}
	if c.Drive.RootFolderID == "" {
		return fmt.Errorf("GTMDOCS_DRIVE_FOLDER_ID is required")
	}

	if !validBackends[c.Store.JobBackend] || c.Store.JobBackend == "redis" {
		return fmt.Errorf("JOB_STORE_BACKEND must be memory or postgres; got %q", c.Store.JobBackend)
	}
	if !validBackends[c.Store.IdempotencyBackend] || c.Store.IdempotencyBackend == "postgres" {
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be memory or redis; got %q", c.Store.IdempotencyBackend)
	}

	if c.Store.JobBackend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when JOB_STORE_BACKEND is postgres")
	}
	if c.Store.IdempotencyBackend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when IDEMPOTENCY_BACKEND is redis")
	}

	if c.Processor.QueueSize <= 0 {
		return fmt.Errorf("PROCESSOR_QUEUE_SIZE must be positive; got %d", c.Processor.QueueSize)
	}
	if c.Processor.Workers <= 0 {
		return fmt.Errorf("PROCESSOR_WORKERS must be positive; got %d", c.Processor.Workers)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
