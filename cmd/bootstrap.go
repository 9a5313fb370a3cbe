package cmd

import (
	"fmt"

	"github.com/joho/godotenv"

	"github.com/skeinlabs/skein/internal/config"
	"github.com/skeinlabs/skein/internal/session"
)

func loadConfig() (*config.Config, error) {
	// Optional .env in the working directory; missing is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (session.Store, error) {
	if !cfg.Sessions.Enabled {
		return session.NoopStore{}, nil
	}
	dbPath, err := session.DBPath()
	if err != nil {
		return nil, err
	}
	return session.NewSQLiteStore(dbPath)
}
