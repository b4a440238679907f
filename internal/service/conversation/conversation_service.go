package conversation

import (
	"chat-service/internal/logger"
	"chat-service/internal/repository/db"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ConversationService handles the business logic for session management
type ConversationService struct {
	store db.SessionStore
}

// NewConversationService creates a new ConversationService
func NewConversationService(store db.SessionStore) *ConversationService {
	return &ConversationService{
		store: store,
	}
}

// CreateSession creates an empty session for the user.
// An error wrapping db.ErrPersistence comes with a valid session ID.
func (s *ConversationService) CreateSession(ctx context.Context, userID string) (string, error) {
	sessionID, err := s.store.CreateSession(ctx, userID)
	if err != nil {
		return sessionID, fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// GetUserSessions retrieves all sessions for a user in creation order
func (s *ConversationService) GetUserSessions(userID string) []db.SessionPreview {
	sessions := s.store.ListSessions(userID)
	logger.Log.WithFields(logrus.Fields{
		"user_id":  userID,
		"sessions": len(sessions),
	}).Debug("Listed sessions")
	return sessions
}

// GetSessionHistory retrieves all entries from a session the user owns
func (s *ConversationService) GetSessionHistory(userID, sessionID string) ([]db.Entry, error) {
	entries, err := s.store.GetHistory(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve history: %w", err)
	}
	return entries, nil
}

// DeleteSession deletes a session if the user owns it
func (s *ConversationService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := s.store.DeleteSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
