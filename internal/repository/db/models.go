package db

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Entry is one completed prompt/response pair inside a session
type Entry struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// SessionPreview is the listing view of a session
type SessionPreview struct {
	ID      string `json:"id"`
	Preview string `json:"preview"`
}

// EntryRecord is the persisted body of an entry; its ID is the map key
type EntryRecord struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// SessionRecords maps entry ID to entry, in insertion order
type SessionRecords = orderedmap.OrderedMap[string, EntryRecord]

// UserRecords maps session ID to its entries, in insertion order
type UserRecords = orderedmap.OrderedMap[string, *SessionRecords]

// Snapshot is a complete copy of the store: user -> session -> entry -> {prompt, response}.
// It serializes to a single JSON object with keys kept in insertion order.
type Snapshot struct {
	Users *orderedmap.OrderedMap[string, *UserRecords]
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{Users: orderedmap.New[string, *UserRecords]()}
}

// NewUserRecords returns an empty session mapping for one user
func NewUserRecords() *UserRecords {
	return orderedmap.New[string, *SessionRecords]()
}

// NewSessionRecords returns an empty entry mapping for one session
func NewSessionRecords() *SessionRecords {
	return orderedmap.New[string, EntryRecord]()
}

// MarshalJSON writes the nested user mapping as the top-level object
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s.Users == nil {
		return []byte("{}"), nil
	}
	return s.Users.MarshalJSON()
}

// UnmarshalJSON reads the nested user mapping, keeping key order
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	users := orderedmap.New[string, *UserRecords]()
	if err := users.UnmarshalJSON(data); err != nil {
		return err
	}
	for pair := users.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			users.Set(pair.Key, NewUserRecords())
			continue
		}
		for sp := pair.Value.Oldest(); sp != nil; sp = sp.Next() {
			if sp.Value == nil {
				pair.Value.Set(sp.Key, NewSessionRecords())
			}
		}
	}
	s.Users = users
	return nil
}

// Counts returns the number of users, sessions and entries held by the snapshot
func (s *Snapshot) Counts() (users, sessions, entries int) {
	if s == nil || s.Users == nil {
		return 0, 0, 0
	}
	for pair := s.Users.Oldest(); pair != nil; pair = pair.Next() {
		users++
		for sp := pair.Value.Oldest(); sp != nil; sp = sp.Next() {
			sessions++
			entries += sp.Value.Len()
		}
	}
	return users, sessions, entries
}
