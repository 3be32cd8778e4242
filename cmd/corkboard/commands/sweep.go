package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/corkboard/corkboard/internal/printer"
)

var (
	sweepRedisURL   string
	sweepConfigPath string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired sessions and everything they contain",
	Long: `Remove every session whose expiry time has passed, cascading to its
participants, cards, and threads. Permanent sessions are untouched.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepRedisURL, "redis", "", "Redis URL (defaults to $REDIS_URL)")
	sweepCmd.Flags().StringVar(&sweepConfigPath, "config", "", "Path to corkboard.yml")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigIfPresent(sweepConfigPath)
	if err != nil {
		return printer.Error("Invalid configuration", err.Error(), nil)
	}
	opts, err := redisOptions(sweepRedisURL)
	if err != nil {
		return printer.Error("Invalid Redis URL", err.Error(), nil)
	}
	store, closeStore, err := openStore(cfg, opts)
	if err != nil {
		return printer.Error("Cannot open store", err.Error(), nil)
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := store.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return printer.Error("Sweep failed", err.Error(), nil)
	}

	if removed == 0 {
		printer.Info("No expired sessions.\n")
	} else {
		printer.Success("Removed %d expired session(s)\n", removed)
	}
	return nil
}
