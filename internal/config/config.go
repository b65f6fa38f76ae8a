package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the sync agent
type Config struct {
	// NAS layout
	NasBasePath  string // Mount point containing per-source directories
	RegistryPath string // Source registry YAML, relative to NasBasePath
	ErrorDir     string // Quarantine folder for unparseable files, relative to NasBasePath
	FilePattern  string // Glob pattern of files to watch (e.g. *.json)
	StateDBPath  string // BoltDB file holding last-observed file state

	// Remote store
	SupabaseURL       string
	SupabaseSecretKey string
	SupabaseTable     string
	SupabaseTimeout   time.Duration
	ConflictKey       string // Conflict column(s) for upsert, comma separated

	// Polling
	PollInterval time.Duration

	// Batch accumulator
	BatchMaxSize  int
	FlushInterval time.Duration

	// Durable retry queue
	QueueDBPath       string
	QueueMaxSize      int
	QueueMaxRetries   int
	RedriveInterval   time.Duration
	RedriveBatchLimit int

	// Rate limit backoff
	RateLimitMaxRetries int
	RateLimitBaseDelay  time.Duration

	// Health server
	HealthPort    int
	HealthEnabled bool

	// Observability
	LogLevel       string
	LogFile        string
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		NasBasePath:  getEnv("GFX_SYNC_NAS_BASE_PATH", "/app/data"),
		RegistryPath: getEnv("GFX_SYNC_REGISTRY_PATH", "config/source_registry.yaml"),
		ErrorDir:     getEnv("GFX_SYNC_ERROR_DIR", "_error"),
		FilePattern:  getEnv("GFX_SYNC_FILE_PATTERN", "*.json"),
		StateDBPath:  getEnv("GFX_SYNC_STATE_DB_PATH", "/app/state/filestate.db"),

		SupabaseURL:       getEnv("GFX_SYNC_SUPABASE_URL", ""),
		SupabaseSecretKey: getEnv("GFX_SYNC_SUPABASE_SECRET_KEY", ""),
		SupabaseTable:     getEnv("GFX_SYNC_SUPABASE_TABLE", "gfx_sessions"),
		SupabaseTimeout:   getEnvDuration("GFX_SYNC_SUPABASE_TIMEOUT", 30*time.Second),
		ConflictKey:       getEnv("GFX_SYNC_CONFLICT_KEY", "gfx_pc_id,file_hash"),

		PollInterval: getEnvDuration("GFX_SYNC_POLL_INTERVAL", 2*time.Second),

		BatchMaxSize:  getEnvInt("GFX_SYNC_BATCH_SIZE", 500),
		FlushInterval: getEnvDuration("GFX_SYNC_FLUSH_INTERVAL", 5*time.Second),

		QueueDBPath:       getEnv("GFX_SYNC_QUEUE_DB_PATH", "/app/queue/pending.db"),
		QueueMaxSize:      getEnvInt("GFX_SYNC_MAX_QUEUE_SIZE", 10000),
		QueueMaxRetries:   getEnvInt("GFX_SYNC_MAX_RETRIES", 5),
		RedriveInterval:   getEnvDuration("GFX_SYNC_REDRIVE_INTERVAL", 60*time.Second),
		RedriveBatchLimit: getEnvInt("GFX_SYNC_REDRIVE_BATCH_LIMIT", 50),

		RateLimitMaxRetries: getEnvInt("GFX_SYNC_RATE_LIMIT_MAX_RETRIES", 5),
		RateLimitBaseDelay:  getEnvDuration("GFX_SYNC_RATE_LIMIT_BASE_DELAY", 1*time.Second),

		HealthPort:    getEnvInt("GFX_SYNC_HEALTH_PORT", 8080),
		HealthEnabled: getEnvBool("GFX_SYNC_HEALTH_ENABLED", true),

		LogLevel:       getEnv("GFX_SYNC_LOG_LEVEL", "info"),
		LogFile:        getEnv("GFX_SYNC_LOG_FILE", ""),
		TracingEnabled: getEnvBool("GFX_SYNC_TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("GFX_SYNC_OTLP_ENDPOINT", ""),
		OTLPProtocol:   getEnv("GFX_SYNC_OTLP_PROTOCOL", "grpc"),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NasBasePath == "" {
		return fmt.Errorf("GFX_SYNC_NAS_BASE_PATH is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("GFX_SYNC_SUPABASE_URL is required")
	}
	if c.SupabaseSecretKey == "" {
		return fmt.Errorf("GFX_SYNC_SUPABASE_SECRET_KEY is required")
	}
	if c.SupabaseTable == "" {
		return fmt.Errorf("GFX_SYNC_SUPABASE_TABLE is required")
	}
	if c.ConflictKey == "" {
		return fmt.Errorf("GFX_SYNC_CONFLICT_KEY is required")
	}
	if c.PollInterval < 500*time.Millisecond || c.PollInterval > time.Minute {
		return fmt.Errorf("GFX_SYNC_POLL_INTERVAL must be between 500ms and 1m")
	}
	if c.BatchMaxSize < 1 {
		return fmt.Errorf("GFX_SYNC_BATCH_SIZE must be at least 1")
	}
	if c.FlushInterval < time.Second {
		return fmt.Errorf("GFX_SYNC_FLUSH_INTERVAL must be at least 1s")
	}
	if c.QueueMaxSize < 1 {
		return fmt.Errorf("GFX_SYNC_MAX_QUEUE_SIZE must be at least 1")
	}
	if c.QueueMaxRetries < 1 {
		return fmt.Errorf("GFX_SYNC_MAX_RETRIES must be at least 1")
	}
	if c.RedriveBatchLimit < 1 {
		return fmt.Errorf("GFX_SYNC_REDRIVE_BATCH_LIMIT must be at least 1")
	}
	if c.RateLimitMaxRetries < 1 {
		return fmt.Errorf("GFX_SYNC_RATE_LIMIT_MAX_RETRIES must be at least 1")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("GFX_SYNC_HEALTH_PORT must be between 1 and 65535")
	}

	return nil
}

// FullRegistryPath returns the absolute path of the source registry file.
// Relative values are resolved under NasBasePath.
func (c *Config) FullRegistryPath() string {
	if filepath.IsAbs(c.RegistryPath) {
		return c.RegistryPath
	}
	return filepath.Join(c.NasBasePath, c.RegistryPath)
}

// FullErrorDir returns the absolute path of the quarantine folder.
func (c *Config) FullErrorDir() string {
	if filepath.IsAbs(c.ErrorDir) {
		return c.ErrorDir
	}
	return filepath.Join(c.NasBasePath, c.ErrorDir)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable ("30s", "2m") or
// returns a default value. Bare integers are treated as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
