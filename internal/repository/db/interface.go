package db

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned for unknown users, sessions and entries
	ErrNotFound = errors.New("not found")

	// ErrPersistence marks a snapshot write that failed after the in-memory change was applied
	ErrPersistence = errors.New("snapshot persistence failed")
)

// SnapshotStore defines durable storage for whole-store snapshots.
// Save must replace the previous snapshot atomically; Load on a store that was
// never written returns an empty snapshot, not an error.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// SessionStore defines the authoritative user -> session -> entry store.
// Mutating methods may return an error wrapping ErrPersistence together with a
// valid result: the change was applied in memory but the snapshot write failed.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string) (string, error)
	ListSessions(userID string) []SessionPreview
	HasSession(userID, sessionID string) bool
	DeleteSession(ctx context.Context, userID, sessionID string) error
	GetHistory(userID, sessionID string) ([]Entry, error)
	CommitEntry(ctx context.Context, userID, sessionID, prompt, response string) (string, error)
	Snapshot(ctx context.Context) error
}
