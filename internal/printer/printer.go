// Package printer formats CLI output for the corkboard tool, including
// the live event feed rendered by `corkboard watch`.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/corkboard/corkboard/pkg/wire"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Color definitions
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	dim    = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	// Print title in red to stderr
	red.Fprintf(os.Stderr, "%s\n\n", title)

	// Print explanation
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	// Print suggestions
	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Event prints one broadcast event as a feed line: the tag in cyan,
// the origin actor dimmed, and a short summary of what changed.
func Event(ev wire.Event) {
	cyan.Printf("%-16s", ev.Tag())
	dim.Printf(" %s  ", ev.Actor())
	fmt.Println(summarize(ev))
}

func summarize(ev wire.Event) string {
	switch e := ev.(type) {
	case *wire.CardAdd:
		return fmt.Sprintf("card %s at (%.0f, %.0f)", e.Card.ID, e.Card.X, e.Card.Y)
	case *wire.CardMove:
		return fmt.Sprintf("card %s to (%.0f, %.0f)", e.ID, e.X, e.Y)
	case *wire.CardResize:
		return fmt.Sprintf("card %s to %.0fx%.0f", e.ID, e.Width, e.Height)
	case *wire.CardTyping:
		return fmt.Sprintf("card %s (%d chars)", e.ID, len(e.Content))
	case *wire.CardColor:
		return fmt.Sprintf("card %s to %s", e.ID, e.Color)
	case *wire.CardDelete:
		return fmt.Sprintf("card %s", e.ID)
	case *wire.CardVote:
		return fmt.Sprintf("card %s now %d votes", e.ID, e.Votes)
	case *wire.CardReact:
		return fmt.Sprintf("card %s, %d emoji", e.ID, len(e.Reactions))
	case *wire.CardsSync:
		return fmt.Sprintf("%d cards", len(e.Cards))
	case *wire.CardsCluster:
		return fmt.Sprintf("%d cards repositioned", len(e.Positions))
	case *wire.UserJoin:
		if e.Username != "" {
			return fmt.Sprintf("%s (%s)", e.Username, e.VisitorID)
		}
		return e.VisitorID
	case *wire.UserRename:
		return fmt.Sprintf("%s is now %q", e.VisitorID, e.NewUsername)
	case *wire.SessionRename:
		return fmt.Sprintf("renamed to %q", e.NewName)
	case *wire.SessionSettings:
		if e.Locked {
			return "locked"
		}
		return "unlocked"
	case *wire.ThreadAdd:
		return fmt.Sprintf("thread %s", e.Thread.ID)
	case *wire.ThreadResolve:
		if e.Resolved {
			return fmt.Sprintf("thread %s resolved", e.ID)
		}
		return fmt.Sprintf("thread %s reopened", e.ID)
	case *wire.ThreadDelete:
		return fmt.Sprintf("thread %s", e.ID)
	case *wire.ThreadsSync:
		return fmt.Sprintf("%d threads", len(e.Threads))
	case *wire.CommentAdd:
		return fmt.Sprintf("thread %s", e.ThreadID)
	case *wire.CommentDelete:
		return fmt.Sprintf("comment %s from thread %s", e.CommentID, e.ThreadID)
	default:
		return ""
	}
}
