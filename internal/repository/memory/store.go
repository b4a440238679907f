package memory

import (
	"chat-service/internal/logger"
	"chat-service/internal/repository/db"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// previewChars is the number of prompt characters shown in a session listing
const previewChars = 20

type session struct {
	entries []db.Entry
}

type userSessions = orderedmap.OrderedMap[string, *session]

// Ensure Store implements db.SessionStore interface
var _ db.SessionStore = (*Store)(nil)

// Store is the authoritative in-memory record of all conversation data.
// Mutations are serialized by mu; snapshot I/O happens outside mu and is
// serialized by saveMu so that an older copy never overwrites a newer one.
type Store struct {
	mu       sync.RWMutex
	users    *orderedmap.OrderedMap[string, *userSessions]
	sessions map[string]string // session ID -> owning user ID
	version  uint64

	saveMu       sync.Mutex
	savedVersion uint64
	persister    db.SnapshotStore

	newID func() string
}

// Option configures a Store
type Option func(*Store)

// WithIDGenerator overrides the ID source (uuid v4 by default)
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// NewStore creates an empty store that snapshots into persister
func NewStore(persister db.SnapshotStore, opts ...Option) *Store {
	s := &Store{
		users:     orderedmap.New[string, *userSessions](),
		sessions:  make(map[string]string),
		persister: persister,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load rehydrates memory from durable storage. It is meant to run once, before serving.
func (s *Store) Load(ctx context.Context) error {
	snapshot, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	users := orderedmap.New[string, *userSessions]()
	owners := make(map[string]string)
	for up := snapshot.Users.Oldest(); up != nil; up = up.Next() {
		sessions := orderedmap.New[string, *session]()
		for sp := up.Value.Oldest(); sp != nil; sp = sp.Next() {
			entries := make([]db.Entry, 0, sp.Value.Len())
			for ep := sp.Value.Oldest(); ep != nil; ep = ep.Next() {
				entries = append(entries, db.Entry{ID: ep.Key, Prompt: ep.Value.Prompt, Response: ep.Value.Response})
			}
			sessions.Set(sp.Key, &session{entries: entries})
			owners[sp.Key] = up.Key
		}
		users.Set(up.Key, sessions)
	}

	s.mu.Lock()
	s.users = users
	s.sessions = owners
	s.mu.Unlock()

	u, sess, entries := snapshot.Counts()
	logger.Log.WithFields(logrus.Fields{"users": u, "sessions": sess, "entries": entries}).Info("Session store rehydrated")
	return nil
}

// CreateSession allocates a fresh session for userID and returns its ID.
// A non-nil error wrapping db.ErrPersistence means the session exists in memory
// but the snapshot write failed.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	sessionID := s.uniqueIDLocked(func(id string) bool {
		_, taken := s.sessions[id]
		return taken
	})
	sessions, ok := s.users.Get(userID)
	if !ok {
		sessions = orderedmap.New[string, *session]()
		s.users.Set(userID, sessions)
	}
	sessions.Set(sessionID, &session{})
	s.sessions[sessionID] = userID
	s.version++
	s.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "session_id": sessionID}).Info("Created new session")

	return sessionID, s.persist(ctx)
}

// ListSessions returns the user's sessions in creation order. Unknown users have none.
func (s *Store) ListSessions(userID string) []db.SessionPreview {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions, ok := s.users.Get(userID)
	if !ok {
		return []db.SessionPreview{}
	}

	previews := make([]db.SessionPreview, 0, sessions.Len())
	for pair := sessions.Oldest(); pair != nil; pair = pair.Next() {
		preview := ""
		if len(pair.Value.entries) > 0 {
			preview = truncate(pair.Value.entries[0].Prompt, previewChars)
		}
		previews = append(previews, db.SessionPreview{ID: pair.Key, Preview: preview})
	}
	return previews
}

// HasSession reports whether sessionID exists and belongs to userID
func (s *Store) HasSession(userID, sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessionLocked(userID, sessionID)
	return ok
}

// DeleteSession removes a session together with all of its entries
func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	sessions, ok := s.users.Get(userID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, db.ErrNotFound)
	}
	removed, present := sessions.Delete(sessionID)
	if !present {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, db.ErrNotFound)
	}
	delete(s.sessions, sessionID)
	s.version++
	s.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
		"entries":    len(removed.entries),
	}).Info("Deleted session")

	return s.persist(ctx)
}

// GetHistory returns the session's entries in commit order
func (s *Store) GetHistory(userID, sessionID string) ([]db.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessionLocked(userID, sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, db.ErrNotFound)
	}

	history := make([]db.Entry, len(sess.entries))
	copy(history, sess.entries)
	return history, nil
}

// CommitEntry appends a completed prompt/response pair to a session.
// If the session was deleted while the response was generated the output is
// dropped and db.ErrNotFound is returned; no recovery session is created.
func (s *Store) CommitEntry(ctx context.Context, userID, sessionID, prompt, response string) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessionLocked(userID, sessionID)
	if !ok {
		s.mu.Unlock()
		logger.Log.WithFields(logrus.Fields{
			"user_id":        userID,
			"session_id":     sessionID,
			"response_chars": len(response),
		}).Warn("Dropping entry for missing session")
		return "", fmt.Errorf("session %s: %w", sessionID, db.ErrNotFound)
	}
	entryID := s.uniqueIDLocked(func(id string) bool {
		for _, e := range sess.entries {
			if e.ID == id {
				return true
			}
		}
		return false
	})
	sess.entries = append(sess.entries, db.Entry{ID: entryID, Prompt: prompt, Response: response})
	s.version++
	s.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"user_id":        userID,
		"session_id":     sessionID,
		"entry_id":       entryID,
		"prompt_chars":   len(prompt),
		"response_chars": len(response),
	}).Info("Committed entry")

	return entryID, s.persist(ctx)
}

// Snapshot writes a complete copy of the current state to durable storage.
// The copy is taken under the read lock; the write happens after it is released.
func (s *Store) Snapshot(ctx context.Context) error {
	s.mu.RLock()
	snapshot := s.copyLocked()
	version := s.version
	s.mu.RUnlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// A concurrent caller already wrote this state or a newer one.
	if version <= s.savedVersion {
		return nil
	}

	if err := s.persister.Save(ctx, snapshot); err != nil {
		return err
	}
	s.savedVersion = version

	logger.Log.WithField("version", version).Debug("Snapshot written")
	return nil
}

// Stats returns the number of users, sessions and entries held in memory
func (s *Store) Stats() (users, sessions, entries int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for up := s.users.Oldest(); up != nil; up = up.Next() {
		users++
		for sp := up.Value.Oldest(); sp != nil; sp = sp.Next() {
			sessions++
			entries += len(sp.Value.entries)
		}
	}
	return users, sessions, entries
}

// persist runs after the in-memory change is applied, so a departed caller must not cancel it
func (s *Store) persist(ctx context.Context) error {
	if err := s.Snapshot(context.WithoutCancel(ctx)); err != nil {
		logger.Log.WithError(err).Warn("Snapshot write failed; memory remains authoritative")
		return fmt.Errorf("%w: %w", db.ErrPersistence, err)
	}
	return nil
}

func (s *Store) sessionLocked(userID, sessionID string) (*session, bool) {
	sessions, ok := s.users.Get(userID)
	if !ok {
		return nil, false
	}
	return sessions.Get(sessionID)
}

func (s *Store) uniqueIDLocked(taken func(string) bool) string {
	for {
		id := s.newID()
		if !taken(id) {
			return id
		}
	}
}

func (s *Store) copyLocked() *db.Snapshot {
	snapshot := db.NewSnapshot()
	for up := s.users.Oldest(); up != nil; up = up.Next() {
		userRecords := db.NewUserRecords()
		for sp := up.Value.Oldest(); sp != nil; sp = sp.Next() {
			records := db.NewSessionRecords()
			for _, e := range sp.Value.entries {
				records.Set(e.ID, db.EntryRecord{Prompt: e.Prompt, Response: e.Response})
			}
			userRecords.Set(sp.Key, records)
		}
		snapshot.Users.Set(up.Key, userRecords)
	}
	return snapshot
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
