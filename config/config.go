package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	MetricsDB     MetricsDBConfig
	Providers     ProvidersConfig
	Orchestrator  OrchestratorConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig holds the shared cache store configuration.
// An empty Address selects the in-memory store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// MetricsDBConfig holds the metrics sink database configuration.
// An empty URL selects the log-backed sink.
type MetricsDBConfig struct {
	URL         string
	BufferSize  int
	WorkerCount int
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
}

// ProviderConfig holds one provider's client configuration
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// OrchestratorConfig holds circuit-breaker, fallback, and cache options
type OrchestratorConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// provider's circuit
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit waits before a half-open
	// trial
	RecoveryTimeout time.Duration

	// CacheTTL bounds cached response lifetime
	CacheTTL time.Duration

	// RaceLimit caps providers raced per round; zero races all eligible
	RaceLimit int

	// FallbackConfigPath optionally points at a YAML file with initial
	// fallback-chain weights
	FallbackConfigPath string

	// FallbackWeights are the initial weights, loaded from the YAML file
	// when FallbackConfigPath is set
	FallbackWeights []ProviderWeight
}

// ProviderWeight pairs a provider with its initial fallback weight
type ProviderWeight struct {
	Provider string  `yaml:"provider"`
	Weight   float64 `yaml:"weight"`
}

// RateLimitConfig holds token-bucket limiter configuration.
// RequestsPerMinute of zero disables the limiter.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		MetricsDB: MetricsDBConfig{
			URL:         getEnv("METRICS_DATABASE_URL", ""),
			BufferSize:  getEnvAsInt("METRICS_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("METRICS_WORKER_COUNT", 4),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:       getEnv("OPENAI_API_KEY", ""),
				BaseURL:      getEnv("OPENAI_BASE_URL", ""),
				Timeout:      getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
				MaxRetries:   getEnvAsInt("OPENAI_MAX_RETRIES", 3),
				RetryBackoff: getEnvAsDuration("OPENAI_RETRY_BACKOFF", time.Second),
			},
			Anthropic: ProviderConfig{
				APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:      getEnv("ANTHROPIC_BASE_URL", ""),
				Timeout:      getEnvAsDuration("ANTHROPIC_TIMEOUT", 30*time.Second),
				MaxRetries:   getEnvAsInt("ANTHROPIC_MAX_RETRIES", 3),
				RetryBackoff: getEnvAsDuration("ANTHROPIC_RETRY_BACKOFF", time.Second),
			},
		},
		Orchestrator: OrchestratorConfig{
			FailureThreshold:   getEnvAsInt("BREAKER_THRESHOLD", 5),
			RecoveryTimeout:    getEnvAsDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			CacheTTL:           getEnvAsDuration("CACHE_TTL", time.Hour),
			RaceLimit:          getEnvAsInt("RACE_LIMIT", 0),
			FallbackConfigPath: getEnv("FALLBACK_CONFIG_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 0),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Orchestrator.FallbackConfigPath != "" {
		weights, err := LoadFallbackWeights(cfg.Orchestrator.FallbackConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback weights: %w", err)
		}
		cfg.Orchestrator.FallbackWeights = weights
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Orchestrator.FailureThreshold <= 0 {
		return fmt.Errorf("breaker threshold must be positive")
	}
	if c.Orchestrator.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker recovery timeout must be positive")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	// At least one provider API key required in production
	if c.IsProduction() {
		if c.Providers.OpenAI.APIKey == "" && c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// fallbackFile is the on-disk shape of the fallback weights file:
//
//	fallback_chain:
//	  - provider: openai
//	    weight: 0.9
//	  - provider: anthropic
//	    weight: 0.8
type fallbackFile struct {
	FallbackChain []ProviderWeight `yaml:"fallback_chain"`
}

// LoadFallbackWeights reads initial fallback-chain weights from a YAML file.
// List order is the configured priority used for weight ties.
func LoadFallbackWeights(path string) ([]ProviderWeight, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file fallbackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(file.FallbackChain) == 0 {
		return nil, fmt.Errorf("%s defines no fallback_chain entries", path)
	}

	for _, pw := range file.FallbackChain {
		if pw.Provider == "" {
			return nil, fmt.Errorf("%s contains an entry without a provider name", path)
		}
	}

	return file.FallbackChain, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
