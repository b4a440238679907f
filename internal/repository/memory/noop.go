package memory

import (
	"chat-service/internal/repository/db"
	"context"
)

// NoopSnapshotStore keeps nothing; the store lives only as long as the process
type NoopSnapshotStore struct{}

// Load always returns an empty snapshot
func (NoopSnapshotStore) Load(context.Context) (*db.Snapshot, error) {
	return db.NewSnapshot(), nil
}

// Save discards the snapshot
func (NoopSnapshotStore) Save(context.Context, *db.Snapshot) error {
	return nil
}

// Close does nothing
func (NoopSnapshotStore) Close() error {
	return nil
}
