package app

import (
	"chat-service/internal/auth"
	"chat-service/internal/config"
	"chat-service/internal/ratelimit"
	"chat-service/internal/repository/db"
	"chat-service/internal/service/llm"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Centralized application configuration
	AppConfig *config.AppConfig
	// Authoritative session store
	Store db.SessionStore
	// Inference backend
	Engine llm.Engine
	// Bearer token resolver
	Resolver auth.Resolver
	// Generation admission control
	Limiter *ratelimit.Limiter
}

// NewConfig creates a new application configuration with a fresh rate limiter
func NewConfig(appConfig *config.AppConfig, store db.SessionStore, engine llm.Engine, resolver auth.Resolver) *Config {
	return &Config{
		AppConfig: appConfig,
		Store:     store,
		Engine:    engine,
		Resolver:  resolver,
		Limiter:   ratelimit.NewLimiter(appConfig.RateLimit.Limit, appConfig.RateLimit.Window),
	}
}

// Sampling returns the fixed sampling configuration for every generation
func (c *Config) Sampling() llm.SamplingConfig {
	return llm.SamplingFromConfig(c.AppConfig.Sampling)
}
