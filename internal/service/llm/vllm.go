package llm

import (
	"bufio"
	"bytes"
	"chat-service/internal/logger"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxRecordSize bounds one streamed vLLM record (the whole text so far)
const maxRecordSize = 4 << 20

// VLLMEngine talks to the native vLLM api_server /generate endpoint
type VLLMEngine struct {
	url    string
	apiKey string
	client *http.Client
}

// NewVLLMEngine creates an engine for the server at baseURL (without the /generate suffix)
func NewVLLMEngine(baseURL, apiKey string, timeout time.Duration) *VLLMEngine {
	return &VLLMEngine{
		url:    strings.TrimRight(baseURL, "/") + "/generate",
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateRecord struct {
	Text []string `json:"text"`
}

// Generate posts the prompt and relays each streamed record as a cumulative output
func (e *VLLMEngine) Generate(ctx context.Context, prompt string, sampling SamplingConfig) (<-chan Output, error) {
	logger.Log.WithFields(logrus.Fields{
		"url":           e.url,
		"temperature":   sampling.Temperature,
		"top_p":         sampling.TopP,
		"max_tokens":    sampling.MaxTokens,
		"prompt_length": len(prompt),
	}).Info("Calling vLLM engine (streaming)")

	jsonData, err := json.Marshal(generateRequest{
		Prompt:      prompt,
		Stream:      true,
		Temperature: sampling.Temperature,
		TopP:        sampling.TopP,
		MaxTokens:   sampling.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: error sending request: %w", ErrEngineFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: engine returned status %d: %s", ErrEngineFailure, resp.StatusCode, string(body))
	}

	outputs := make(chan Output)

	go func() {
		defer resp.Body.Close()
		defer close(outputs)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
		scanner.Split(splitNUL)

		for scanner.Scan() {
			record := bytes.TrimSpace(scanner.Bytes())
			if len(record) == 0 {
				continue
			}

			var rec generateRecord
			if err := json.Unmarshal(record, &rec); err != nil {
				send(ctx, outputs, Output{Err: fmt.Errorf("%w: error decoding record: %w", ErrEngineFailure, err)})
				return
			}
			if len(rec.Text) == 0 {
				continue
			}

			// The server echoes the prompt in front of the generated text.
			text := strings.TrimPrefix(rec.Text[0], prompt)
			if !send(ctx, outputs, Output{Text: text}) {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("Scanner error during streaming")
			send(ctx, outputs, Output{Err: fmt.Errorf("%w: %w", ErrEngineFailure, err)})
		}
	}()

	return outputs, nil
}

// splitNUL is a bufio.SplitFunc for NUL-delimited records
func splitNUL(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
