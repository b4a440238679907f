package llm

import (
	"chat-service/internal/logger"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIEngine streams chat completions from any OpenAI-compatible server,
// including vLLM's /v1 endpoint
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

// NewOpenAIEngine creates an engine talking to baseURL with the given model
func NewOpenAIEngine(baseURL, apiKey, model string, timeout time.Duration) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Generate sends prompt as a single user message and accumulates streamed deltas
// into cumulative outputs
func (e *OpenAIEngine) Generate(ctx context.Context, prompt string, sampling SamplingConfig) (<-chan Output, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         e.model,
		"temperature":   sampling.Temperature,
		"top_p":         sampling.TopP,
		"max_tokens":    sampling.MaxTokens,
		"prompt_length": len(prompt),
	}).Info("Calling OpenAI-compatible engine (streaming)")

	stream, err := e.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(sampling.Temperature),
		TopP:        float32(sampling.TopP),
		MaxTokens:   sampling.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: error starting stream: %w", ErrEngineFailure, err)
	}

	outputs := make(chan Output)

	go func() {
		defer close(outputs)
		defer stream.Close()

		var text strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				logger.Log.WithField("response_length", text.Len()).Debug("Engine stream finished")
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, outputs, Output{Err: fmt.Errorf("%w: %w", ErrEngineFailure, err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			text.WriteString(resp.Choices[0].Delta.Content)
			if !send(ctx, outputs, Output{Text: text.String()}) {
				return
			}
		}
	}()

	return outputs, nil
}
