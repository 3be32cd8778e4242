package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/corkboard/corkboard/internal/printer"
)

var (
	sessionsRedisURL   string
	sessionsConfigPath string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions in the authoritative store",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsRedisURL, "redis", "", "Redis URL (defaults to $REDIS_URL)")
	sessionsCmd.Flags().StringVar(&sessionsConfigPath, "config", "", "Path to corkboard.yml")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigIfPresent(sessionsConfigPath)
	if err != nil {
		return printer.Error("Invalid configuration", err.Error(), nil)
	}
	opts, err := redisOptions(sessionsRedisURL)
	if err != nil {
		return printer.Error("Invalid Redis URL", err.Error(), nil)
	}
	store, closeStore, err := openStore(cfg, opts)
	if err != nil {
		return printer.Error("Cannot open store", err.Error(), nil)
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return printer.Error("Failed to list sessions", err.Error(), nil)
	}

	if len(sessions) == 0 {
		printer.Info("No sessions.\n")
		return nil
	}

	now := time.Now().UTC()
	for _, s := range sessions {
		status := ""
		if s.Locked {
			status = " [locked]"
		}
		if s.Expired(now) {
			status += " [expired]"
		}
		printer.Printf("%s  %q%s  last active %s\n",
			s.ID, s.Name, status, s.LastActiveAt.Format(time.RFC3339))
	}
	return nil
}
