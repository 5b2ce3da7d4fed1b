package buildCFG

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"guestlist/internal/repo"
	"guestlist/internal/repo/kvdb"
)

// OpenStore connects the configured backend. Postgres is returned as
// *repo.Postgres so callers can run migrations.
func OpenStore(cfg *config.Config, log *zerolog.Logger) (repo.Store, StorageConfig, error) {
	sc, err := BuildStorageConfig(cfg, log)
	if err != nil {
		return nil, sc, err
	}

	if sc.Driver == DriverKVDB {
		store, err := kvdb.Open(sc.KVPath)
		if err != nil {
			return nil, sc, fmt.Errorf("failed to open %s: %w", sc.KVPath, err)
		}
		log.Info().Str("path", sc.KVPath).Msg("bbolt store opened")
		return store, sc, nil
	}

	masterDSN, slaveDSNs, poolOptions, err := BuildDBConfig(cfg, log)
	if err != nil {
		return nil, sc, fmt.Errorf("failed to build DB config: %w", err)
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		return nil, sc, fmt.Errorf("failed to connect to DB: %w", err)
	}
	store, err := repo.NewPostgres(db, log)
	if err != nil {
		return nil, sc, err
	}
	log.Info().Msg("Database connected successfully")
	return store, sc, nil
}
