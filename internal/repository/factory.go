// Package repository selects the durable snapshot backend for the session store
package repository

import (
	"chat-service/internal/config"
	"chat-service/internal/logger"
	"chat-service/internal/repository/db"
	"chat-service/internal/repository/file"
	"chat-service/internal/repository/memory"
	"chat-service/internal/repository/postgres"
	"chat-service/internal/repository/sqlite"
	"fmt"
)

// NewSnapshotStore returns the backend named by cfg.Storage.Backend
func NewSnapshotStore(cfg *config.AppConfig) (db.SnapshotStore, error) {
	logger.Log.WithField("backend", cfg.Storage.Backend).Info("Initializing snapshot store")

	switch cfg.Storage.Backend {
	case config.StorageFile:
		store, err := file.NewSnapshotFile(cfg.Storage.FilePath)
		if err != nil {
			return nil, err
		}
		logger.Log.WithField("path", store.Path()).Info("Snapshot file ready")
		return store, nil
	case config.StorageSQLite:
		store, err := sqlite.NewSQLiteDB(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Log.WithField("path", store.Path()).Info("SQLite snapshot database ready")
		return store, nil
	case config.StoragePostgres:
		return postgres.NewPostgresDB(cfg.Database)
	case config.StorageMemory:
		logger.Log.Warn("Memory storage selected; sessions will not survive a restart")
		return memory.NoopSnapshotStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
