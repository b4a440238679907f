package testutil

import (
	"chat-service/internal/config"
	"chat-service/internal/repository/db"
	"chat-service/internal/service/llm"
	"context"
	"errors"
	"time"
)

// TestJWTSecret satisfies the 32-character minimum
const TestJWTSecret = "test-secret-key-with-at-least-32-chars"

// MockSnapshotStore is a mock implementation of db.SnapshotStore for testing
type MockSnapshotStore struct {
	LoadFunc  func(ctx context.Context) (*db.Snapshot, error)
	SaveFunc  func(ctx context.Context, snapshot *db.Snapshot) error
	CloseFunc func() error
}

func (m *MockSnapshotStore) Load(ctx context.Context) (*db.Snapshot, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return db.NewSnapshot(), nil
}

func (m *MockSnapshotStore) Save(ctx context.Context, snapshot *db.Snapshot) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, snapshot)
	}
	return nil
}

func (m *MockSnapshotStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockEngine is a mock implementation of llm.Engine for testing
type MockEngine struct {
	GenerateFunc func(ctx context.Context, prompt string, sampling llm.SamplingConfig) (<-chan llm.Output, error)
}

func (m *MockEngine) Generate(ctx context.Context, prompt string, sampling llm.SamplingConfig) (<-chan llm.Output, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, sampling)
	}
	return nil, errors.New("not implemented")
}

// NewScriptedEngine returns an engine that replays the given cumulative snapshots.
// If failWith is non-nil it is sent after the snapshots.
func NewScriptedEngine(snapshots []string, failWith error) *MockEngine {
	return &MockEngine{
		GenerateFunc: func(ctx context.Context, prompt string, sampling llm.SamplingConfig) (<-chan llm.Output, error) {
			outputs := make(chan llm.Output)
			go func() {
				defer close(outputs)
				for _, text := range snapshots {
					select {
					case outputs <- llm.Output{Text: text}:
					case <-ctx.Done():
						return
					}
				}
				if failWith != nil {
					select {
					case outputs <- llm.Output{Err: failWith}:
					case <-ctx.Done():
					}
				}
			}()
			return outputs, nil
		},
	}
}

// SteppedEngine emits one snapshot each time Step receives a value, so tests can
// interleave other operations with a running generation
type SteppedEngine struct {
	Step      chan struct{}
	Snapshots []string
	Started   chan struct{}
}

// NewSteppedEngine creates a SteppedEngine for the given snapshots
func NewSteppedEngine(snapshots ...string) *SteppedEngine {
	return &SteppedEngine{
		Step:      make(chan struct{}),
		Snapshots: snapshots,
		Started:   make(chan struct{}, 1),
	}
}

func (e *SteppedEngine) Generate(ctx context.Context, prompt string, sampling llm.SamplingConfig) (<-chan llm.Output, error) {
	outputs := make(chan llm.Output)
	e.Started <- struct{}{}
	go func() {
		defer close(outputs)
		for _, text := range e.Snapshots {
			select {
			case <-e.Step:
			case <-ctx.Done():
				return
			}
			select {
			case outputs <- llm.Output{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return outputs, nil
}

// NewMockAppConfig creates an AppConfig with the production defaults and a test secret
func NewMockAppConfig() *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{
			Port:            "8000",
			FrontendOrigin:  "http://localhost:5173",
			MaxPromptChars:  16000,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: config.StorageConfig{Backend: config.StorageMemory},
		Engine: config.EngineConfig{
			Provider: config.EngineOpenAI,
			BaseURL:  "http://localhost:8001/v1",
			Model:    "test-model",
			Timeout:  time.Minute,
		},
		Sampling: config.SamplingConfig{
			Temperature: 0.6,
			TopP:        0.95,
			MaxTokens:   512,
		},
		RateLimit: config.RateLimitConfig{
			Limit:         2,
			Window:        60 * time.Second,
			SweepSchedule: "@every 5m",
		},
		Auth: config.AuthConfig{
			JWTSecret:       TestJWTSecret,
			TokenExpiration: time.Hour,
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
	}
}
