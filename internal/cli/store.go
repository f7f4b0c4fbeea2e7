package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/keepsakehq/keepsake/internal/config"
	"github.com/keepsakehq/keepsake/internal/storage"
	"github.com/keepsakehq/keepsake/internal/storage/postgres"
	"github.com/keepsakehq/keepsake/internal/storage/sqlite"
)

// newLogger builds the process logger: structured JSON on stderr.
func newLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// openStore opens the configured storage engine. Both engines implement
// Store and SearchBackend, so one handle serves both roles.
func openStore(cfg *config.Config, log zerolog.Logger) (storage.Store, storage.SearchBackend, error) {
	switch cfg.Storage.Engine {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating data dir: %w", err)
		}
		dsn := filepath.Join(cfg.Storage.DataPath, "keepsake.db")
		store, err := sqlite.NewRecordStore(dsn, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("storage engine is postgres but no DSN configured")
		}
		store, err := postgres.NewRecordStore(cfg.Storage.PostgresDSN, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}

	return nil, nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
}
