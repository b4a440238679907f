package llm

import (
	"context"
	"errors"
)

// ErrEngineFailure wraps every error produced by an inference engine
var ErrEngineFailure = errors.New("inference engine failure")

// SamplingConfig is passed unchanged to every generation
type SamplingConfig struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Output is one item of a generation stream. Text is the entire text generated
// so far, not a delta. A non-nil Err ends the stream.
type Output struct {
	Text string
	Err  error
}

// Engine defines the interface for inference backends (OpenAI-compatible API, vLLM native server)
type Engine interface {
	// Generate starts a generation and returns its cumulative outputs. The channel is
	// closed when the engine finishes or ctx is cancelled; cancelling ctx stops the
	// underlying request.
	Generate(ctx context.Context, prompt string, sampling SamplingConfig) (<-chan Output, error)
}

// send delivers out unless ctx ends first
func send(ctx context.Context, outputs chan<- Output, out Output) bool {
	select {
	case outputs <- out:
		return true
	case <-ctx.Done():
		return false
	}
}
