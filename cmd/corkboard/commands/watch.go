package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corkboard/corkboard/internal/printer"
	"github.com/corkboard/corkboard/internal/transport"
)

var (
	watchRedisURL string
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream a session's live broadcast events",
	Long: `Subscribe to a session's broadcast channel and print every event as
it arrives: card moves, typing, votes, thread activity, joins.

Examples:
  # Watch a session on the local Redis
  corkboard watch 6b3f6f2a-118e-4b59-a1a1-b5ac164d5a82

  # Watch against a specific Redis
  corkboard watch 6b3f6f2a-118e-4b59-a1a1-b5ac164d5a82 --redis redis://redis.internal:6379`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRedisURL, "redis", "", "Redis URL (defaults to $REDIS_URL)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	opts, err := redisOptions(watchRedisURL)
	if err != nil {
		return printer.Error("Invalid Redis URL", err.Error(), nil)
	}

	channel, err := transport.NewChannel(opts, sessionID)
	if err != nil {
		return printer.Error("Cannot open broadcast channel", err.Error(), nil)
	}
	defer channel.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := channel.Ping(ctx); err != nil {
		return printer.Error("Redis not reachable", err.Error(), []string{
			"Check that Redis is running and --redis / $REDIS_URL points at it",
		})
	}

	sub, err := channel.Subscribe(ctx)
	if err != nil {
		return printer.Error("Subscription failed", err.Error(), nil)
	}
	defer sub.Close()

	printer.Info("Watching session %s (ctrl-c to stop)\n\n", sessionID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			printer.Event(ev)
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			printer.Warning("skipped event: %v\n", err)
		}
	}
}
