// Package board provides the shared vocabulary for corkboard sessions:
// sessions, participants, cards, comment threads, and the invariants
// that hold across every peer's view of them. Both the optimistic
// client engine and the authoritative gate work exclusively in these
// types, so a rule enforced here is enforced identically on both paths.
package board

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Card size bounds in canvas units. Width and height are clamped into
// these ranges on every write, local or remote.
const (
	CardMinWidth  = 80
	CardMaxWidth  = 1200
	CardMinHeight = 60
	CardMaxHeight = 900

	CardDefaultWidth  = 240
	CardDefaultHeight = 140
)

// MaxCommentLength bounds comment content after sanitization.
const MaxCommentLength = 2000

// Role is a participant's role within a single session.
type Role string

const (
	// RoleCreator is held by exactly one participant per session at
	// steady state: the first joiner, or the target of an explicit
	// transfer. Creator-only capabilities (lock, rename, settings,
	// session deletion, clustering) key off this role.
	RoleCreator Role = "creator"

	// RoleParticipant is every other member of the session.
	RoleParticipant Role = "participant"
)

// Validate checks if the Role is a valid enum value.
func (r Role) Validate() error {
	switch r {
	case RoleCreator, RoleParticipant:
		return nil
	default:
		return fmt.Errorf("unknown role: %q", r)
	}
}

// Session is a shared board instance. A locked session rejects all
// content mutation except the creator's own settings and deletion
// actions.
type Session struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Locked       bool       `json:"locked"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"` // nil = permanent
	CreatedBy    string     `json:"created_by"`
}

// Expired reports whether the session has passed its expiry time.
// Permanent sessions (nil ExpiresAt) never expire.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Validate checks if the Session has valid field values.
func (s *Session) Validate() error {
	if !isValidUUID(s.ID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if s.Name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if s.CreatedBy == "" {
		return fmt.Errorf("session created_by cannot be empty")
	}
	return nil
}

// Participant is a (user, session) membership record carrying a role.
type Participant struct {
	UserID       string    `json:"user_id"`    // Opaque actor id (anonymous or authenticated)
	SessionID    string    `json:"session_id"` // UUID of the session
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Username     string    `json:"username,omitempty"` // Display name, may be empty
}

// Validate checks if the Participant has valid field values.
func (p *Participant) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("participant user_id cannot be empty")
	}
	if !isValidUUID(p.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if err := p.Role.Validate(); err != nil {
		return fmt.Errorf("invalid role: %w", err)
	}
	return nil
}

// Card is a positioned, sized, colored rich-content note with votes and
// emoji reactions.
type Card struct {
	ID        string              `json:"id"`         // UUID
	SessionID string              `json:"session_id"` // UUID of the owning session
	Content   string              `json:"content"`    // Rich content payload, opaque to the core
	Color     string              `json:"color"`
	X         float64             `json:"x"`
	Y         float64             `json:"y"`
	Width     float64             `json:"width"`  // Clamped to [CardMinWidth, CardMaxWidth]
	Height    float64             `json:"height"` // Clamped to [CardMinHeight, CardMaxHeight]
	Votes     int                 `json:"votes"`  // Invariant: Votes == len(VotedBy)
	VotedBy   []string            `json:"voted_by"`
	Reactions map[string][]string `json:"reactions,omitempty"` // emoji -> actor ids
	CreatedBy string              `json:"created_by"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ClampWidth returns w forced into the legal card width range.
func ClampWidth(w float64) float64 {
	if w < CardMinWidth {
		return CardMinWidth
	}
	if w > CardMaxWidth {
		return CardMaxWidth
	}
	return w
}

// ClampHeight returns h forced into the legal card height range.
func ClampHeight(h float64) float64 {
	if h < CardMinHeight {
		return CardMinHeight
	}
	if h > CardMaxHeight {
		return CardMaxHeight
	}
	return h
}

// HasVoted reports whether actorID is in the card's voter set.
func (c *Card) HasVoted(actorID string) bool {
	for _, id := range c.VotedBy {
		if id == actorID {
			return true
		}
	}
	return false
}

// ToggleVote adds or removes actorID from the voter set and keeps the
// Votes counter equal to the set size.
func (c *Card) ToggleVote(actorID string) {
	if c.HasVoted(actorID) {
		kept := c.VotedBy[:0]
		for _, id := range c.VotedBy {
			if id != actorID {
				kept = append(kept, id)
			}
		}
		c.VotedBy = kept
	} else {
		c.VotedBy = append(c.VotedBy, actorID)
	}
	c.Votes = len(c.VotedBy)
}

// ToggleReaction adds or removes actorID from the reactor set for emoji.
// Empty reactor sets are pruned so the map never carries dead keys.
func (c *Card) ToggleReaction(emoji, actorID string) {
	if c.Reactions == nil {
		c.Reactions = make(map[string][]string)
	}
	reactors := c.Reactions[emoji]
	found := false
	kept := reactors[:0]
	for _, id := range reactors {
		if id == actorID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if found {
		if len(kept) == 0 {
			delete(c.Reactions, emoji)
		} else {
			c.Reactions[emoji] = kept
		}
		return
	}
	c.Reactions[emoji] = append(reactors, actorID)
}

// Validate checks if the Card has valid field values.
func (c *Card) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid card ID: not a valid UUID")
	}
	if !isValidUUID(c.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if c.CreatedBy == "" {
		return fmt.Errorf("card created_by cannot be empty")
	}
	if c.Width < CardMinWidth || c.Width > CardMaxWidth {
		return fmt.Errorf("card width %v outside [%d, %d]", c.Width, CardMinWidth, CardMaxWidth)
	}
	if c.Height < CardMinHeight || c.Height > CardMaxHeight {
		return fmt.Errorf("card height %v outside [%d, %d]", c.Height, CardMinHeight, CardMaxHeight)
	}
	if c.Votes != len(c.VotedBy) {
		return fmt.Errorf("card votes %d does not match voter set size %d", c.Votes, len(c.VotedBy))
	}
	return nil
}

// Thread is a comment conversation anchored either to a canvas position
// or to a card, never both and never neither.
type Thread struct {
	ID        string    `json:"id"`         // UUID
	SessionID string    `json:"session_id"` // UUID of the owning session
	CreatedBy string    `json:"created_by"`
	X         *float64  `json:"x,omitempty"`       // Canvas anchor, set iff CardID is empty
	Y         *float64  `json:"y,omitempty"`
	CardID    string    `json:"card_id,omitempty"` // Card anchor, set iff X/Y are nil
	Resolved  bool      `json:"resolved"`
	Comments  []Comment `json:"comments"` // Ordered by creation time
	CreatedAt time.Time `json:"created_at"`
}

// AnchoredToCard reports whether the thread is attached to a card
// rather than to a canvas position.
func (t *Thread) AnchoredToCard() bool {
	return t.CardID != ""
}

// AttachToCard moves the thread's anchor onto a card, clearing any
// canvas position.
func (t *Thread) AttachToCard(cardID string) {
	t.CardID = cardID
	t.X = nil
	t.Y = nil
}

// DetachToCanvas moves the thread's anchor onto a canvas position,
// clearing any card attachment.
func (t *Thread) DetachToCanvas(x, y float64) {
	t.CardID = ""
	t.X = &x
	t.Y = &y
}

// FindComment returns the index of the comment with the given id, or -1.
func (t *Thread) FindComment(commentID string) int {
	for i := range t.Comments {
		if t.Comments[i].ID == commentID {
			return i
		}
	}
	return -1
}

// Validate checks if the Thread has valid field values, including the
// anchor exclusivity invariant.
func (t *Thread) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("invalid thread ID: not a valid UUID")
	}
	if !isValidUUID(t.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if t.CreatedBy == "" {
		return fmt.Errorf("thread created_by cannot be empty")
	}
	hasPos := t.X != nil && t.Y != nil
	hasCard := t.CardID != ""
	if hasPos == hasCard {
		return fmt.Errorf("thread must be anchored to exactly one of a canvas position or a card")
	}
	for i := range t.Comments {
		if err := t.Comments[i].Validate(); err != nil {
			return fmt.Errorf("invalid comment at index %d: %w", i, err)
		}
	}
	return nil
}

// Comment is a single entry in a thread.
type Comment struct {
	ID        string    `json:"id"`        // UUID
	ThreadID  string    `json:"thread_id"` // UUID of the owning thread
	CreatedBy string    `json:"created_by"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Comment has valid field values.
func (c *Comment) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid comment ID: not a valid UUID")
	}
	if !isValidUUID(c.ThreadID) {
		return fmt.Errorf("invalid thread ID: not a valid UUID")
	}
	if c.CreatedBy == "" {
		return fmt.Errorf("comment created_by cannot be empty")
	}
	if c.Content == "" {
		return fmt.Errorf("comment content cannot be empty")
	}
	if utf8.RuneCountInString(c.Content) > MaxCommentLength {
		return fmt.Errorf("comment content exceeds %d characters", MaxCommentLength)
	}
	return nil
}

// SanitizeComment strips control characters (keeping newlines and tabs)
// and truncates to MaxCommentLength. Both the optimistic path and the
// authoritative path run comment text through this before storing it.
func SanitizeComment(content string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, content)
	if runes := []rune(cleaned); len(runes) > MaxCommentLength {
		cleaned = string(runes[:MaxCommentLength])
	}
	return cleaned
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
