package llm

import (
	"chat-service/internal/config"
	"chat-service/internal/logger"
	"fmt"

	"github.com/sirupsen/logrus"
)

// NewEngine creates the engine selected by cfg.Provider
func NewEngine(cfg config.EngineConfig) (Engine, error) {
	logger.Log.WithFields(logrus.Fields{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Info("Initializing inference engine")

	switch cfg.Provider {
	case config.EngineOpenAI:
		return NewOpenAIEngine(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case config.EngineVLLM:
		return NewVLLMEngine(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown engine provider: %s", cfg.Provider)
	}
}

// SamplingFromConfig converts the configured sampling parameters
func SamplingFromConfig(cfg config.SamplingConfig) SamplingConfig {
	return SamplingConfig{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}
}
