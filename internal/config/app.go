package config

import (
	"chat-service/internal/logger"
	"chat-service/pkg/validation"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"
)

// Storage backends
const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Engine providers
const (
	EngineOpenAI = "openai"
	EngineVLLM   = "vllm"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Engine    EngineConfig
	Sampling  SamplingConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Log       LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `env:"SERVER_PORT" envDefault:"8000"`
	FrontendOrigin  string        `env:"FRONTEND_ORIGIN" envDefault:"http://localhost:5173"`
	MaxPromptChars  int           `env:"MAX_PROMPT_CHARS" envDefault:"16000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// StorageConfig selects where session snapshots are written
type StorageConfig struct {
	Backend    string `env:"STORAGE_BACKEND" envDefault:"file"`
	FilePath   string `env:"CHAT_HISTORY_FILE" envDefault:"storage/chat_history.json"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"storage/chat_history.db"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"postgres"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"chatservice"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// EngineConfig holds inference engine connection settings
type EngineConfig struct {
	Provider string        `env:"ENGINE_PROVIDER" envDefault:"openai"`
	BaseURL  string        `env:"ENGINE_BASE_URL" envDefault:"http://localhost:8001/v1"`
	APIKey   string        `env:"ENGINE_API_KEY"`
	Model    string        `env:"ENGINE_MODEL" envDefault:"deepseek-r1-32b"`
	Timeout  time.Duration `env:"ENGINE_TIMEOUT" envDefault:"5m"`
}

// SamplingConfig is the fixed sampling configuration passed to every generation
type SamplingConfig struct {
	Temperature float64 `env:"SAMPLING_TEMPERATURE" envDefault:"0.6"`
	TopP        float64 `env:"SAMPLING_TOP_P" envDefault:"0.95"`
	MaxTokens   int     `env:"SAMPLING_MAX_TOKENS" envDefault:"512"`
}

// RateLimitConfig holds sliding-window limits for the generation endpoint
type RateLimitConfig struct {
	Limit         int           `env:"RATE_LIMIT" envDefault:"2"`
	Window        time.Duration `env:"RATE_WINDOW" envDefault:"60s"`
	SweepSchedule string        `env:"RATE_LIMIT_SWEEP_SCHEDULE" envDefault:"@every 5m"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	TokenExpiration time.Duration `env:"JWT_TOKEN_EXPIRATION" envDefault:"24h"`
	UsersFile       string        `env:"USERS_FILE" envDefault:"storage/users.json"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}
	if err := env.ParseWithFuncs(config, map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(time.Duration(0)): parseDuration,
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Engine.APIKey == "" {
		logger.Log.Warn("ENGINE_API_KEY environment variable not set")
	}

	return config, nil
}

// parseDuration accepts Go durations ("90s", "2m") and bare integers as seconds ("60")
func parseDuration(value string) (interface{}, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}

// Validate checks cross-field constraints that struct tags cannot express
func (c *AppConfig) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(c.Auth.JWTSecret))
	}

	switch c.Storage.Backend {
	case StorageFile, StorageSQLite, StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %s", c.Storage.Backend)
	}

	switch c.Engine.Provider {
	case EngineOpenAI, EngineVLLM:
	default:
		return fmt.Errorf("unknown ENGINE_PROVIDER: %s", c.Engine.Provider)
	}

	validator := validation.NewChatRequestValidator(c.Server.MaxPromptChars)
	if err := validator.ValidateSampling(c.Sampling.Temperature, c.Sampling.TopP, c.Sampling.MaxTokens); err != nil {
		return fmt.Errorf("invalid sampling configuration: %w", err)
	}

	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_WINDOW must be positive, got %s", c.RateLimit.Window)
	}

	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}
