package chat

import (
	"chat-service/internal/logger"
	"chat-service/internal/repository/db"
	"chat-service/internal/service/llm"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SendMessageRequest contains all the parameters needed to generate into a session
type SendMessageRequest struct {
	UserID    string // Extracted from auth context
	SessionID string
	Prompt    string
}

// StreamMessageChunk is one item of a generation stream.
// Delta chunks carry the newly generated suffix. The final chunk has Done set and,
// when the entry was committed, its EntryID and trimmed Response.
type StreamMessageChunk struct {
	Delta    string
	Done     bool
	EntryID  string
	Response string
	// Err is set when the engine failed (no Done chunk follows) or, on the Done
	// chunk, when the commit was dropped or its snapshot write failed.
	Err error
}

// ChatService drives the inference engine and commits completed responses
type ChatService struct {
	store    db.SessionStore
	engine   llm.Engine
	sampling llm.SamplingConfig
}

// NewChatService creates a new ChatService
func NewChatService(store db.SessionStore, engine llm.Engine, sampling llm.SamplingConfig) *ChatService {
	return &ChatService{
		store:    store,
		engine:   engine,
		sampling: sampling,
	}
}

// SendMessageStream checks the session, starts generation and streams deltas.
// The entry is committed only if the engine finishes and ctx is still live;
// cancelling ctx stops the engine and skips the commit.
func (s *ChatService) SendMessageStream(ctx context.Context, req SendMessageRequest) (<-chan StreamMessageChunk, error) {
	if !s.store.HasSession(req.UserID, req.SessionID) {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, db.ErrNotFound)
	}

	log := logger.Log.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"session_id": req.SessionID,
	})
	log.WithField("prompt_chars", len(req.Prompt)).Debug("Starting streaming generation")

	outputs, err := s.engine.Generate(ctx, req.Prompt, s.sampling)
	if err != nil {
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}

	outputChan := make(chan StreamMessageChunk)

	go func() {
		defer close(outputChan)

		start := time.Now()
		previous := ""
		for out := range outputs {
			if out.Err != nil {
				log.WithError(out.Err).Error("Generation failed mid-stream")
				emit(ctx, outputChan, StreamMessageChunk{Err: out.Err})
				return
			}

			delta := Delta(previous, out.Text)
			previous = out.Text
			if !emit(ctx, outputChan, StreamMessageChunk{Delta: delta}) {
				break
			}
		}

		if ctx.Err() != nil {
			log.WithField("streamed_chars", len(previous)).Info("Generation cancelled, entry not committed")
			return
		}

		response := strings.TrimSpace(previous)
		// The generation is complete; a client leaving now must not abort the commit.
		entryID, err := s.store.CommitEntry(context.WithoutCancel(ctx), req.UserID, req.SessionID, req.Prompt, response)
		switch {
		case err == nil:
		case errors.Is(err, db.ErrPersistence):
			log.WithError(err).Warn("Entry committed but snapshot write failed")
		default:
			log.WithError(err).Warn("Entry not committed")
		}

		log.WithFields(logrus.Fields{
			"entry_id":       entryID,
			"response_chars": len(response),
			"duration_ms":    time.Since(start).Milliseconds(),
		}).Info("Completed streaming response")

		emit(ctx, outputChan, StreamMessageChunk{
			Done:     true,
			EntryID:  entryID,
			Response: response,
			Err:      err,
		})
	}()

	return outputChan, nil
}

// Delta returns the part of snapshot not covered by previous. Engines must
// grow their output monotonically; a shorter or equal snapshot yields "".
func Delta(previous, snapshot string) string {
	if len(snapshot) <= len(previous) {
		return ""
	}
	return snapshot[len(previous):]
}

func emit(ctx context.Context, out chan<- StreamMessageChunk, chunk StreamMessageChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
