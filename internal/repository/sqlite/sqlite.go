// Package sqlite stores session snapshots in a local SQLite database file
package sqlite

import (
	"chat-service/internal/logger"
	"chat-service/internal/repository/db"
	"chat-service/internal/repository/sqlsnap"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ db.SnapshotStore = (*SQLiteDB)(nil)

// SQLiteDB is a SnapshotStore backed by a single SQLite file
type SQLiteDB struct {
	conn *sql.DB
	path string
}

// NewSQLiteDB opens (creating if needed) the database at path and migrates it
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	conn.SetMaxOpenConns(1)

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	s := &SQLiteDB{conn: conn, path: path}
	if err = s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	logger.Log.WithField("path", path).Info("SQLite snapshot store ready")
	return s, nil
}

// Load reads the latest snapshot
func (s *SQLiteDB) Load(ctx context.Context) (*db.Snapshot, error) {
	return sqlsnap.Load(ctx, s.conn)
}

// Save replaces the stored snapshot in a single transaction
func (s *SQLiteDB) Save(ctx context.Context, snapshot *db.Snapshot) error {
	return sqlsnap.Replace(ctx, s.conn, sqlsnap.SQLite, snapshot)
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Path returns the database file location
func (s *SQLiteDB) Path() string {
	return s.path
}

func (s *SQLiteDB) runMigrations() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("error opening embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("error creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error running migrations: %w", err)
	}
	return nil
}
