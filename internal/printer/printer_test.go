package printer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corkboard/corkboard/pkg/wire"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

// Note: Error prints formatted output to stderr with colors. The error
// object returned only contains the title for Cobra's error handling.
// This is intentional to avoid duplicate output while providing rich
// formatted errors.

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		ev   wire.Event
		want string
	}{
		{
			name: "card move",
			ev:   &wire.CardMove{ID: "c1", X: 120.4, Y: 340.6},
			want: "card c1 to (120, 341)",
		},
		{
			name: "vote tally",
			ev:   &wire.CardVote{ID: "c1", Votes: 3},
			want: "card c1 now 3 votes",
		},
		{
			name: "join with username",
			ev:   &wire.UserJoin{VisitorID: "v1", Username: "Ada"},
			want: "Ada (v1)",
		},
		{
			name: "join without username",
			ev:   &wire.UserJoin{VisitorID: "v1"},
			want: "v1",
		},
		{
			name: "lock",
			ev:   &wire.SessionSettings{Locked: true},
			want: "locked",
		},
		{
			name: "unlock",
			ev:   &wire.SessionSettings{Locked: false},
			want: "unlocked",
		},
		{
			name: "thread reopened",
			ev:   &wire.ThreadResolve{ID: "t1", Resolved: false},
			want: "thread t1 reopened",
		},
		{
			name: "cards snapshot",
			ev:   &wire.CardsSync{},
			want: "0 cards",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.ev))
		})
	}
}
