package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/corkboard/corkboard/internal/config"
	"github.com/corkboard/corkboard/internal/persist"
)

// redisOptions resolves the Redis connection from the --redis flag, the
// REDIS_URL environment variable, or the local default, in that order.
func redisOptions(flagURL string) (*redis.Options, error) {
	url := flagURL
	if url == "" {
		url = os.Getenv("REDIS_URL")
	}
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL %q: %w", url, err)
	}
	return opts, nil
}

// openStore builds the authoritative store selected by configuration:
// Postgres when a corkboard.yml names it, Redis otherwise.
func openStore(cfg *config.Config, redisOpts *redis.Options) (persist.Store, func() error, error) {
	if cfg != nil && cfg.Storage != nil && cfg.Storage.Backend == "postgres" {
		pg, err := persist.NewPostgresStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	rs := persist.NewRedisStore(redisOpts)
	return rs, rs.Close, nil
}

// loadConfigIfPresent reads corkboard.yml when the flag names one.
func loadConfigIfPresent(path string) (*config.Config, error) {
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}
