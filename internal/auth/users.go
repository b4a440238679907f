package auth

import (
	"chat-service/internal/logger"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords alike
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	demoUsername = "demo"
	demoPassword = "demo123"
)

// Authenticator verifies a username/password pair
type Authenticator interface {
	Authenticate(username, password string) error
}

var _ Authenticator = (*FileUserStore)(nil)

// FileUserStore keeps bcrypt password hashes in a JSON object {"username": "hash"}
type FileUserStore struct {
	mu    sync.RWMutex
	path  string
	users map[string]string
}

// NewFileUserStore loads path, creating it with a demo user if it does not exist
func NewFileUserStore(path string) (*FileUserStore, error) {
	s := &FileUserStore{path: path, users: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.seedDemoUser(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	if err := json.Unmarshal(data, &s.users); err != nil {
		return nil, fmt.Errorf("failed to decode users file: %w", err)
	}

	logger.Log.WithField("users", len(s.users)).Info("Loaded users file")
	return s, nil
}

// Authenticate checks password against the stored hash
func (s *FileUserStore) Authenticate(username, password string) error {
	s.mu.RLock()
	hash, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// AddUser hashes password and stores the user, rewriting the file
func (s *FileUserStore) AddUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[username] = string(hash)
	return s.writeLocked()
}

func (s *FileUserStore) seedDemoUser() error {
	if err := s.AddUser(demoUsername, demoPassword); err != nil {
		return fmt.Errorf("failed to seed demo user: %w", err)
	}
	logger.Log.WithField("username", demoUsername).Warn("Users file not found, created with demo user")
	return nil
}

func (s *FileUserStore) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode users: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write users file: %w", err)
	}
	return nil
}
