package handlers

import (
	"chat-service/internal/app"
	"chat-service/internal/auth"
	"chat-service/internal/logger"
	"chat-service/internal/repository/db"
	chatService "chat-service/internal/service/chat"
	conversationService "chat-service/internal/service/conversation"
	"chat-service/pkg/validation"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Request/Response types

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type DeleteResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	persistenceWarningHeader = "X-Persistence-Warning"
	entryIDTrailer           = "X-Entry-Id"
	persistenceWarning       = "snapshot write failed; change kept in memory"
)

// ChatHandlers uses the service layer for better separation of concerns
type ChatHandlers struct {
	config              *app.Config
	validator           *validation.ChatRequestValidator
	chatService         *chatService.ChatService
	conversationService *conversationService.ConversationService
}

// NewChatHandlers creates a new ChatHandlers with service layer
func NewChatHandlers(config *app.Config) *ChatHandlers {
	return &ChatHandlers{
		config:              config,
		validator:           validation.NewChatRequestValidator(config.AppConfig.Server.MaxPromptChars),
		chatService:         chatService.NewChatService(config.Store, config.Engine, config.Sampling()),
		conversationService: conversationService.NewConversationService(config.Store),
	}
}

// CreateSessionHandler creates an empty session for the caller
func (ch *ChatHandlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := ch.userFromContext(r)

	sessionID, err := ch.conversationService.CreateSession(r.Context(), userID)
	if err != nil && !ch.persistenceOnly(w, err) {
		logger.Log.WithError(err).Error("Error creating session")
		ch.sendError(w, http.StatusInternalServerError, "Failed to create session", nil)
		return
	}

	sendJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: sessionID})
}

// ListSessionsHandler returns the caller's sessions in creation order
func (ch *ChatHandlers) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := ch.userFromContext(r)
	sendJSON(w, http.StatusOK, ch.conversationService.GetUserSessions(userID))
}

// DeleteSessionHandler deletes a session and all of its entries
func (ch *ChatHandlers) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := ch.userFromContext(r)
	sessionID := r.PathValue("id")

	err := ch.conversationService.DeleteSession(r.Context(), userID, sessionID)
	if err != nil && !ch.persistenceOnly(w, err) {
		ch.sendStoreError(w, err, "Failed to delete session")
		return
	}

	sendJSON(w, http.StatusOK, DeleteResponse{Message: "Session deleted."})
}

// GetHistoryHandler returns the committed entries of a session
func (ch *ChatHandlers) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := ch.userFromContext(r)
	sessionID := r.PathValue("id")

	entries, err := ch.conversationService.GetSessionHistory(userID, sessionID)
	if err != nil {
		ch.sendStoreError(w, err, "Failed to retrieve history")
		return
	}

	sendJSON(w, http.StatusOK, entries)
}

// GenerateStreamHandler streams response deltas as chunked text/plain.
// Once streaming has started, failures truncate the body instead of changing the status.
func (ch *ChatHandlers) GenerateStreamHandler(w http.ResponseWriter, r *http.Request) {
	userID := ch.userFromContext(r)
	sessionID := r.PathValue("id")

	log := logger.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
	})
	log.Info("Generate stream request received")

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.validator.ValidatePrompt(req.Prompt); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		ch.sendError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	chunks, err := ch.chatService.SendMessageStream(r.Context(), chatService.SendMessageRequest{
		UserID:    userID,
		SessionID: sessionID,
		Prompt:    req.Prompt,
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			ch.sendError(w, http.StatusNotFound, "Session not found.", nil)
			return
		}
		log.WithError(err).Error("Error starting generation")
		ch.sendError(w, http.StatusBadGateway, "Inference engine unavailable", nil)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", entryIDTrailer+", "+persistenceWarningHeader)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		switch {
		case chunk.Done:
			if chunk.EntryID != "" {
				w.Header().Set(entryIDTrailer, chunk.EntryID)
			}
			if errors.Is(chunk.Err, db.ErrPersistence) {
				w.Header().Set(persistenceWarningHeader, persistenceWarning)
			}
		case chunk.Err != nil:
			log.WithError(chunk.Err).Warn("Stream truncated by engine failure")
		case chunk.Delta != "":
			if _, err := w.Write([]byte(chunk.Delta)); err != nil {
				log.WithError(err).Debug("Client went away")
				continue
			}
			flusher.Flush()
		}
	}
}

// persistenceOnly reports whether err is only a failed snapshot write; if so it
// flags the response and the caller continues with success.
func (ch *ChatHandlers) persistenceOnly(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, db.ErrPersistence) {
		return false
	}
	logger.Log.WithError(err).Warn("Request succeeded but snapshot write failed")
	w.Header().Set(persistenceWarningHeader, persistenceWarning)
	return true
}

func (ch *ChatHandlers) sendStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, db.ErrNotFound) {
		ch.sendError(w, http.StatusNotFound, "Session not found.", nil)
		return
	}
	logger.Log.WithError(err).Error(message)
	ch.sendError(w, http.StatusInternalServerError, message, nil)
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Error("Error encoding response")
	}
}

// sendError sends a standardized JSON error response
func (ch *ChatHandlers) sendError(w http.ResponseWriter, status int, message string, err error) {
	sendError(w, status, message, err)
}

func (ch *ChatHandlers) userFromContext(r *http.Request) string {
	userID, _ := auth.UserFromContext(r.Context())
	return userID
}

func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}
