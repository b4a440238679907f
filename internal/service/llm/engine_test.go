package llm

import (
	"chat-service/internal/config"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSampling = SamplingConfig{Temperature: 0.6, TopP: 0.95, MaxTokens: 512}

func collect(t *testing.T, outputs <-chan Output) ([]string, error) {
	t.Helper()
	var texts []string
	for out := range outputs {
		if out.Err != nil {
			return texts, out.Err
		}
		texts = append(texts, out.Text)
	}
	return texts, nil
}

func TestVLLMEngine_Generate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		flusher := w.(http.Flusher)
		for _, text := range []string{"Hi", "Hi there", "Hi there!"} {
			rec, _ := json.Marshal(generateRecord{Text: []string{got.Prompt + text}})
			w.Write(append(rec, 0))
			flusher.Flush()
		}
	}))
	defer server.Close()

	engine := NewVLLMEngine(server.URL+"/", "", time.Second)
	outputs, err := engine.Generate(context.Background(), "Say hi: ", testSampling)
	require.NoError(t, err)

	texts, err := collect(t, outputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "Hi there", "Hi there!"}, texts)

	assert.Equal(t, "Say hi: ", got.Prompt)
	assert.True(t, got.Stream)
	assert.Equal(t, 0.95, got.TopP)
	assert.Equal(t, 512, got.MaxTokens)
}

func TestVLLMEngine_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	engine := NewVLLMEngine(server.URL, "", time.Second)
	_, err := engine.Generate(context.Background(), "hello", testSampling)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineFailure))
	assert.Contains(t, err.Error(), "status 503")
}

func TestVLLMEngine_MalformedRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":["ok"]}` + "\x00" + `{not json` + "\x00"))
	}))
	defer server.Close()

	engine := NewVLLMEngine(server.URL, "", time.Second)
	outputs, err := engine.Generate(context.Background(), "", testSampling)
	require.NoError(t, err)

	texts, err := collect(t, outputs)
	assert.Equal(t, []string{"ok"}, texts)
	assert.True(t, errors.Is(err, ErrEngineFailure))
}

func TestVLLMEngine_CancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":["first"]}` + "\x00"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewVLLMEngine(server.URL, "", 5*time.Second)
	outputs, err := engine.Generate(ctx, "", testSampling)
	require.NoError(t, err)

	first := <-outputs
	require.NoError(t, first.Err)
	assert.Equal(t, "first", first.Text)

	cancel()
	select {
	case _, ok := <-outputs:
		if ok {
			// drain anything in flight; the channel must still close
			for range outputs {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output channel was not closed after cancellation")
	}
}

func TestSplitNUL(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		atEOF   bool
		advance int
		token   string
	}{
		{name: "complete record", data: "abc\x00def", advance: 4, token: "abc"},
		{name: "partial record", data: "abc", advance: 0, token: ""},
		{name: "trailing record at EOF", data: "abc", atEOF: true, advance: 3, token: "abc"},
		{name: "empty at EOF", data: "", atEOF: true, advance: 0, token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advance, token, err := splitNUL([]byte(tt.data), tt.atEOF)
			require.NoError(t, err)
			assert.Equal(t, tt.advance, advance)
			assert.Equal(t, tt.token, string(token))
		})
	}
}

func TestOpenAIEngine_Generate(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"Hi", " there", "!"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	engine := NewOpenAIEngine(server.URL+"/v1", "test-key", "deepseek-r1-32b", time.Second)
	outputs, err := engine.Generate(context.Background(), "Say hi", testSampling)
	require.NoError(t, err)

	texts, err := collect(t, outputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "Hi there", "Hi there!"}, texts)

	assert.Equal(t, "deepseek-r1-32b", got["model"])
	assert.Equal(t, true, got["stream"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "Say hi", messages[0].(map[string]any)["content"])
}

func TestOpenAIEngine_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	engine := NewOpenAIEngine(server.URL, "k", "m", time.Second)
	_, err := engine.Generate(context.Background(), "hello", testSampling)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineFailure))
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantType any
		wantErr  bool
	}{
		{name: "openai", provider: config.EngineOpenAI, wantType: &OpenAIEngine{}},
		{name: "vllm", provider: config.EngineVLLM, wantType: &VLLMEngine{}},
		{name: "unknown", provider: "llamacpp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewEngine(config.EngineConfig{Provider: tt.provider, BaseURL: "http://localhost:8001", Timeout: time.Second})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, engine)
		})
	}
}
