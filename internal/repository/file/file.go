package file

import (
	"bytes"
	"chat-service/internal/logger"
	"chat-service/internal/repository/db"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Ensure SnapshotFile implements db.SnapshotStore interface
var _ db.SnapshotStore = (*SnapshotFile)(nil)

// SnapshotFile stores the whole session tree in one JSON document.
// Writes go to a temporary sibling which is fsynced and renamed over the
// target, so readers see either the previous or the new document.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile creates the parent directory of path if needed
func NewSnapshotFile(path string) (*SnapshotFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotFile{path: path}, nil
}

// Path returns the snapshot location
func (f *SnapshotFile) Path() string {
	return f.path
}

// Load reads the snapshot; a missing or empty file is an empty store
func (f *SnapshotFile) Load(_ context.Context) (*db.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Log.WithField("path", f.path).Info("No snapshot file, starting empty")
		return db.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return db.NewSnapshot(), nil
	}

	snapshot := db.NewSnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot file: %w", err)
	}
	return snapshot, nil
}

// Save atomically replaces the snapshot file
func (f *SnapshotFile) Save(ctx context.Context, snapshot *db.Snapshot) error {
	raw, err := snapshot.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format snapshot: %w", err)
	}
	out.WriteByte('\n')

	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(out.Bytes()); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"path": f.path, "bytes": out.Len()}).Debug("Snapshot file replaced")
	return nil
}

// Close is a no-op; the file is not held open between writes
func (f *SnapshotFile) Close() error {
	return nil
}
