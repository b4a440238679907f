// Package dbtest holds fixtures shared by the snapshot backend tests
package dbtest

import (
	"chat-service/internal/repository/db"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// SampleSnapshot returns a snapshot with users, sessions and entries whose
// keys are deliberately not in sorted order
func SampleSnapshot() *db.Snapshot {
	snapshot := db.NewSnapshot()

	zed := db.NewUserRecords()
	chat := db.NewSessionRecords()
	chat.Set("e-9", db.EntryRecord{Prompt: "Hello", Response: "Hi there!"})
	chat.Set("e-1", db.EntryRecord{Prompt: "Multi\nline \"quoted\"", Response: "Юникод ✓"})
	zed.Set("s-b", chat)
	zed.Set("s-a", db.NewSessionRecords())
	snapshot.Users.Set("zed", zed)

	amy := db.NewUserRecords()
	other := db.NewSessionRecords()
	other.Set("e-5", db.EntryRecord{Prompt: "ping", Response: "pong"})
	amy.Set("s-c", other)
	snapshot.Users.Set("amy", amy)

	snapshot.Users.Set("ghost", db.NewUserRecords())
	return snapshot
}

// RequireSameSnapshot compares two snapshots including key order
func RequireSameSnapshot(t *testing.T, want, got *db.Snapshot) {
	t.Helper()
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(got)
	require.NoError(t, err)
	require.Equal(t, string(wantJSON), string(gotJSON))
}
