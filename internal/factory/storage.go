package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/config"
	"github.com/moative/billie/internal/store"
	"github.com/moative/billie/internal/store/postgres"
	"github.com/moative/billie/internal/store/sqlite"
)

// NewStore constructs the persistence layer selected by config.
func NewStore(cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLitePath).Msg("opening sqlite store")
		return sqlite.New(cfg.SQLitePath)
	case "postgres":
		log.Info().Msg("opening postgres store")
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewWithDB(db), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}
