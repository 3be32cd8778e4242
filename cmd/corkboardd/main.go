package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corkboard/corkboard/internal/config"
	"github.com/corkboard/corkboard/internal/guard"
	"github.com/corkboard/corkboard/internal/persist"
	"github.com/corkboard/corkboard/internal/transport"
)

// corkboardd is the authoritative writer for one session: it consumes
// the session's broadcast stream, re-gates every mutation against the
// participant table, and persists what passes. Peers stay optimistic;
// this daemon is what the durable record believes.
func main() {
	sessionID := os.Getenv("CORKBOARD_SESSION")
	redisURL := os.Getenv("REDIS_URL")

	if sessionID == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: CORKBOARD_SESSION and REDIS_URL must be set\n")
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	channel, err := transport.NewChannel(redisOpts, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create broadcast channel: %v\n", err)
		os.Exit(1)
	}
	defer channel.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := channel.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// Optional corkboard.yml selects the storage backend and sweep
	// cadence; without one the store is Redis and nothing is swept.
	var cfg *config.Config
	if path := os.Getenv("CORKBOARD_CONFIG"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	var store persist.Store
	if cfg != nil && cfg.Storage != nil && cfg.Storage.Backend == "postgres" {
		pg, err := persist.NewPostgresStore(cfg.Storage.PostgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		rs := persist.NewRedisStore(redisOpts)
		defer rs.Close()
		store = rs
	}

	if cfg != nil && cfg.SweepInterval != "" {
		interval, _ := time.ParseDuration(cfg.SweepInterval)
		go runSweeper(ctx, store, interval)
	}

	log.Printf("[corkboardd] Starting for session '%s'", sessionID)

	engine := guard.NewEngine(channel, store, sessionID)
	if err := engine.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runSweeper periodically removes expired sessions.
func runSweeper(ctx context.Context, store persist.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.SweepExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("[corkboardd] Sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("[corkboardd] Swept %d expired session(s)", removed)
			}
		}
	}
}
