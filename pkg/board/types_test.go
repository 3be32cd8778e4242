package board

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validCard() *Card {
	return &Card{
		ID:        uuid.New().String(),
		SessionID: uuid.New().String(),
		Content:   "retro item",
		Color:     "yellow",
		X:         100,
		Y:         200,
		Width:     CardDefaultWidth,
		Height:    CardDefaultHeight,
		CreatedBy: "user-a",
		UpdatedAt: time.Now().UTC(),
	}
}

// TestCardValidate_Valid tests that a well-formed card passes validation
func TestCardValidate_Valid(t *testing.T) {
	if err := validCard().Validate(); err != nil {
		t.Errorf("valid card failed validation: %v", err)
	}
}

// TestCardValidate_InvalidID tests that a non-UUID card ID fails validation
func TestCardValidate_InvalidID(t *testing.T) {
	card := validCard()
	card.ID = "not-a-uuid"

	if err := card.Validate(); err == nil {
		t.Error("expected validation to fail for invalid ID, but it passed")
	}
}

// TestCardValidate_WidthOutOfRange tests that out-of-range dimensions fail validation
func TestCardValidate_WidthOutOfRange(t *testing.T) {
	card := validCard()
	card.Width = CardMaxWidth + 1

	if err := card.Validate(); err == nil {
		t.Error("expected validation to fail for oversized width, but it passed")
	}
}

// TestCardValidate_VoteCountMismatch tests that a votes counter out of sync
// with the voter set fails validation
func TestCardValidate_VoteCountMismatch(t *testing.T) {
	card := validCard()
	card.Votes = 3
	card.VotedBy = []string{"user-b"}

	if err := card.Validate(); err == nil {
		t.Error("expected validation to fail for vote count mismatch, but it passed")
	}
}

func TestClampWidth(t *testing.T) {
	if got := ClampWidth(10); got != CardMinWidth {
		t.Errorf("expected %d, got %v", CardMinWidth, got)
	}
	if got := ClampWidth(5000); got != CardMaxWidth {
		t.Errorf("expected %d, got %v", CardMaxWidth, got)
	}
	if got := ClampWidth(300); got != 300 {
		t.Errorf("expected 300, got %v", got)
	}
}

func TestClampHeight(t *testing.T) {
	if got := ClampHeight(0); got != CardMinHeight {
		t.Errorf("expected %d, got %v", CardMinHeight, got)
	}
	if got := ClampHeight(5000); got != CardMaxHeight {
		t.Errorf("expected %d, got %v", CardMaxHeight, got)
	}
}

// TestToggleVote tests that voting toggles membership and keeps the
// counter equal to the set size
func TestToggleVote(t *testing.T) {
	card := validCard()

	card.ToggleVote("user-b")
	if !card.HasVoted("user-b") {
		t.Error("expected user-b in voter set after first toggle")
	}
	if card.Votes != 1 {
		t.Errorf("expected votes 1, got %d", card.Votes)
	}

	card.ToggleVote("user-c")
	if card.Votes != 2 {
		t.Errorf("expected votes 2, got %d", card.Votes)
	}

	card.ToggleVote("user-b")
	if card.HasVoted("user-b") {
		t.Error("expected user-b removed from voter set after second toggle")
	}
	if card.Votes != 1 {
		t.Errorf("expected votes 1 after un-vote, got %d", card.Votes)
	}
}

// TestToggleReaction tests add/remove semantics and pruning of empty sets
func TestToggleReaction(t *testing.T) {
	card := validCard()

	card.ToggleReaction("👍", "user-b")
	card.ToggleReaction("👍", "user-c")
	if got := len(card.Reactions["👍"]); got != 2 {
		t.Errorf("expected 2 reactors, got %d", got)
	}

	card.ToggleReaction("👍", "user-b")
	if got := len(card.Reactions["👍"]); got != 1 {
		t.Errorf("expected 1 reactor after removal, got %d", got)
	}

	card.ToggleReaction("👍", "user-c")
	if _, ok := card.Reactions["👍"]; ok {
		t.Error("expected emoji key pruned once its reactor set emptied")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now().UTC()

	permanent := &Session{}
	if permanent.Expired(now) {
		t.Error("permanent session should never expire")
	}

	past := now.Add(-time.Hour)
	expired := &Session{ExpiresAt: &past}
	if !expired.Expired(now) {
		t.Error("session past its expiry should report expired")
	}

	future := now.Add(time.Hour)
	live := &Session{ExpiresAt: &future}
	if live.Expired(now) {
		t.Error("session before its expiry should not report expired")
	}
}

// TestThreadAnchoring tests the anchor exclusivity invariant and the
// attach/detach transitions
func TestThreadAnchoring(t *testing.T) {
	x, y := 10.0, 20.0
	thread := &Thread{
		ID:        uuid.New().String(),
		SessionID: uuid.New().String(),
		CreatedBy: "user-a",
		X:         &x,
		Y:         &y,
		CreatedAt: time.Now().UTC(),
	}

	if err := thread.Validate(); err != nil {
		t.Errorf("canvas-anchored thread failed validation: %v", err)
	}
	if thread.AnchoredToCard() {
		t.Error("canvas-anchored thread should not report card anchoring")
	}

	cardID := uuid.New().String()
	thread.AttachToCard(cardID)
	if !thread.AnchoredToCard() {
		t.Error("expected thread anchored to card after attach")
	}
	if thread.X != nil || thread.Y != nil {
		t.Error("expected canvas position cleared after attach")
	}
	if err := thread.Validate(); err != nil {
		t.Errorf("card-anchored thread failed validation: %v", err)
	}

	thread.DetachToCanvas(30, 40)
	if thread.AnchoredToCard() {
		t.Error("expected thread detached from card")
	}
	if thread.X == nil || *thread.X != 30 {
		t.Error("expected canvas position restored after detach")
	}
}

// TestThreadValidate_BothAnchors tests that a thread with both anchor
// kinds fails validation
func TestThreadValidate_BothAnchors(t *testing.T) {
	x, y := 10.0, 20.0
	thread := &Thread{
		ID:        uuid.New().String(),
		SessionID: uuid.New().String(),
		CreatedBy: "user-a",
		X:         &x,
		Y:         &y,
		CardID:    uuid.New().String(),
	}

	if err := thread.Validate(); err == nil {
		t.Error("expected validation to fail for doubly-anchored thread, but it passed")
	}
}

// TestThreadValidate_NoAnchor tests that an unanchored thread fails validation
func TestThreadValidate_NoAnchor(t *testing.T) {
	thread := &Thread{
		ID:        uuid.New().String(),
		SessionID: uuid.New().String(),
		CreatedBy: "user-a",
	}

	if err := thread.Validate(); err == nil {
		t.Error("expected validation to fail for unanchored thread, but it passed")
	}
}

func TestThreadFindComment(t *testing.T) {
	commentID := uuid.New().String()
	thread := &Thread{
		Comments: []Comment{
			{ID: uuid.New().String()},
			{ID: commentID},
		},
	}

	if got := thread.FindComment(commentID); got != 1 {
		t.Errorf("expected index 1, got %d", got)
	}
	if got := thread.FindComment("missing"); got != -1 {
		t.Errorf("expected -1 for missing comment, got %d", got)
	}
}

func TestSanitizeComment(t *testing.T) {
	got := SanitizeComment("hello\x00world\x1b[31m")
	if got != "helloworld[31m" {
		t.Errorf("expected control characters stripped, got %q", got)
	}

	got = SanitizeComment("line one\n\tline two")
	if got != "line one\n\tline two" {
		t.Errorf("expected newline and tab preserved, got %q", got)
	}

	long := strings.Repeat("é", MaxCommentLength+50)
	got = SanitizeComment(long)
	if n := len([]rune(got)); n != MaxCommentLength {
		t.Errorf("expected truncation to %d runes, got %d", MaxCommentLength, n)
	}
}

func TestRoleValidate(t *testing.T) {
	if err := RoleCreator.Validate(); err != nil {
		t.Errorf("creator role failed validation: %v", err)
	}
	if err := RoleParticipant.Validate(); err != nil {
		t.Errorf("participant role failed validation: %v", err)
	}
	if err := Role("admin").Validate(); err == nil {
		t.Error("expected validation to fail for unknown role, but it passed")
	}
}
