// Package sqlsnap stores whole-store snapshots in three relational tables
// (chat_users, chat_sessions, chat_entries). It is shared by the SQLite and
// PostgreSQL backends, which differ only in placeholder syntax and driver.
package sqlsnap

import (
	"chat-service/internal/repository/db"
	"context"
	"database/sql"
	"fmt"
)

// Dialect describes the SQL flavour of a backend
type Dialect struct {
	// Bind returns the placeholder for the n-th (1-based) argument
	Bind func(n int) string
}

// Postgres uses numbered placeholders
var Postgres = Dialect{Bind: func(n int) string { return fmt.Sprintf("$%d", n) }}

// SQLite uses anonymous placeholders
var SQLite = Dialect{Bind: func(int) string { return "?" }}

func (d Dialect) insert(table string, columns ...string) string {
	cols, binds := "", ""
	for i, c := range columns {
		if i > 0 {
			cols += ", "
			binds += ", "
		}
		cols += c
		binds += d.Bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, binds)
}

// Replace swaps the stored snapshot for the given one inside a single transaction
func Replace(ctx context.Context, conn *sql.DB, d Dialect, snapshot *db.Snapshot) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting snapshot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"chat_entries", "chat_sessions", "chat_users"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}

	userStmt, err := tx.PrepareContext(ctx, d.insert("chat_users", "user_id", "position"))
	if err != nil {
		return fmt.Errorf("error preparing user insert: %w", err)
	}
	defer userStmt.Close()

	sessionStmt, err := tx.PrepareContext(ctx, d.insert("chat_sessions", "session_id", "user_id", "position"))
	if err != nil {
		return fmt.Errorf("error preparing session insert: %w", err)
	}
	defer sessionStmt.Close()

	entryStmt, err := tx.PrepareContext(ctx, d.insert("chat_entries", "entry_id", "session_id", "position", "prompt", "response"))
	if err != nil {
		return fmt.Errorf("error preparing entry insert: %w", err)
	}
	defer entryStmt.Close()

	userPos := 0
	for up := snapshot.Users.Oldest(); up != nil; up = up.Next() {
		if _, err = userStmt.ExecContext(ctx, up.Key, userPos); err != nil {
			return fmt.Errorf("error inserting user: %w", err)
		}
		userPos++

		sessionPos := 0
		for sp := up.Value.Oldest(); sp != nil; sp = sp.Next() {
			if _, err = sessionStmt.ExecContext(ctx, sp.Key, up.Key, sessionPos); err != nil {
				return fmt.Errorf("error inserting session: %w", err)
			}
			sessionPos++

			entryPos := 0
			for ep := sp.Value.Oldest(); ep != nil; ep = ep.Next() {
				if _, err = entryStmt.ExecContext(ctx, ep.Key, sp.Key, entryPos, ep.Value.Prompt, ep.Value.Response); err != nil {
					return fmt.Errorf("error inserting entry: %w", err)
				}
				entryPos++
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("error committing snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot, restoring insertion order from the position columns
func Load(ctx context.Context, conn *sql.DB) (*db.Snapshot, error) {
	snapshot := db.NewSnapshot()

	rows, err := conn.QueryContext(ctx, `SELECT user_id FROM chat_users ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		snapshot.Users.Set(userID, db.NewUserRecords())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	sessionOwner := make(map[string]string)
	rows, err = conn.QueryContext(ctx, `SELECT session_id, user_id FROM chat_sessions ORDER BY user_id, position`)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}
	for rows.Next() {
		var sessionID, userID string
		if err := rows.Scan(&sessionID, &userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning session: %w", err)
		}
		user, ok := snapshot.Users.Get(userID)
		if !ok {
			user = db.NewUserRecords()
			snapshot.Users.Set(userID, user)
		}
		user.Set(sessionID, db.NewSessionRecords())
		sessionOwner[sessionID] = userID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	rows, err = conn.QueryContext(ctx, `SELECT entry_id, session_id, prompt, response FROM chat_entries ORDER BY session_id, position`)
	if err != nil {
		return nil, fmt.Errorf("error querying entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entryID, sessionID string
		var record db.EntryRecord
		if err := rows.Scan(&entryID, &sessionID, &record.Prompt, &record.Response); err != nil {
			return nil, fmt.Errorf("error scanning entry: %w", err)
		}
		userID, ok := sessionOwner[sessionID]
		if !ok {
			return nil, fmt.Errorf("entry %s references unknown session %s", entryID, sessionID)
		}
		user, _ := snapshot.Users.Get(userID)
		session, _ := user.Get(sessionID)
		session.Set(entryID, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return snapshot, nil
}
