package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/store"
)

// OpenIngestDB opens the ingest database, applies migrations and checks the
// connection.
func OpenIngestDB(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := store.Open(store.Options{
		Path:            cfg.SQLitePath,
		DSN:             cfg.SQLiteDSN,
		MaxOpenConns:    cfg.SQLiteMaxOpenConns,
		MaxIdleConns:    cfg.SQLiteMaxIdleConns,
		ConnMaxLifetime: cfg.SQLiteConnMaxLifetime,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	if _, err := store.Migrate(ctx, db, logger); err != nil {
		_ = store.Close(db)
		return nil, err
	}

	var ok int
	if err := db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok); err != nil {
		_ = store.Close(db)
		return nil, err
	}
	if ok != 1 {
		_ = store.Close(db)
		return nil, errors.New("database connection failed")
	}
	logger.Info("database connection successful")
	return db, nil
}
