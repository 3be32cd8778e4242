package persist

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/corkboard/corkboard/pkg/board"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields
// like voter lists and reaction maps are JSON-encoded into single hash
// fields. Timestamps are stored as Unix milliseconds; zero means unset.

// sessionToHash converts a Session to Redis hash format.
func sessionToHash(s *board.Session) map[string]interface{} {
	var expiresMs int64
	if s.ExpiresAt != nil {
		expiresMs = s.ExpiresAt.UnixMilli()
	}
	return map[string]interface{}{
		"id":             s.ID,
		"name":           s.Name,
		"locked":         strconv.FormatBool(s.Locked),
		"created_at_ms":  s.CreatedAt.UnixMilli(),
		"last_active_ms": s.LastActiveAt.UnixMilli(),
		"expires_at_ms":  expiresMs,
		"created_by":     s.CreatedBy,
	}
}

// hashToSession converts a Redis hash back to a Session.
func hashToSession(hash map[string]string) (*board.Session, error) {
	locked, err := strconv.ParseBool(hash["locked"])
	if err != nil {
		return nil, fmt.Errorf("invalid locked field: %w", err)
	}
	createdMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	lastActiveMs, _ := strconv.ParseInt(hash["last_active_ms"], 10, 64)
	expiresMs, _ := strconv.ParseInt(hash["expires_at_ms"], 10, 64)

	s := &board.Session{
		ID:           hash["id"],
		Name:         hash["name"],
		Locked:       locked,
		CreatedAt:    time.UnixMilli(createdMs).UTC(),
		LastActiveAt: time.UnixMilli(lastActiveMs).UTC(),
		CreatedBy:    hash["created_by"],
	}
	if expiresMs != 0 {
		expires := time.UnixMilli(expiresMs).UTC()
		s.ExpiresAt = &expires
	}
	return s, nil
}

// cardToHash converts a Card to Redis hash format. The voter list and
// reaction map are JSON-encoded.
func cardToHash(c *board.Card) (map[string]interface{}, error) {
	votedByJSON, err := json.Marshal(c.VotedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal voted_by: %w", err)
	}
	reactionsJSON, err := json.Marshal(c.Reactions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reactions: %w", err)
	}

	return map[string]interface{}{
		"id":            c.ID,
		"session_id":    c.SessionID,
		"content":       c.Content,
		"color":         c.Color,
		"x":             strconv.FormatFloat(c.X, 'g', -1, 64),
		"y":             strconv.FormatFloat(c.Y, 'g', -1, 64),
		"width":         strconv.FormatFloat(c.Width, 'g', -1, 64),
		"height":        strconv.FormatFloat(c.Height, 'g', -1, 64),
		"voted_by":      string(votedByJSON),
		"reactions":     string(reactionsJSON),
		"created_by":    c.CreatedBy,
		"updated_at_ms": c.UpdatedAt.UnixMilli(),
	}, nil
}

// hashToCard converts a Redis hash back to a Card. The votes counter is
// derived from the voter set rather than stored, so the two can never
// disagree after a round trip.
func hashToCard(hash map[string]string) (*board.Card, error) {
	x, err := strconv.ParseFloat(hash["x"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid x field: %w", err)
	}
	y, err := strconv.ParseFloat(hash["y"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid y field: %w", err)
	}
	width, err := strconv.ParseFloat(hash["width"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid width field: %w", err)
	}
	height, err := strconv.ParseFloat(hash["height"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid height field: %w", err)
	}

	var votedBy []string
	if raw := hash["voted_by"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &votedBy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal voted_by: %w", err)
		}
	}
	if votedBy == nil {
		votedBy = []string{}
	}

	var reactions map[string][]string
	if raw := hash["reactions"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reactions: %w", err)
		}
	}

	updatedMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &board.Card{
		ID:        hash["id"],
		SessionID: hash["session_id"],
		Content:   hash["content"],
		Color:     hash["color"],
		X:         x,
		Y:         y,
		Width:     width,
		Height:    height,
		Votes:     len(votedBy),
		VotedBy:   votedBy,
		Reactions: reactions,
		CreatedBy: hash["created_by"],
		UpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}, nil
}

// threadToHash converts a Thread to Redis hash format. Comments travel
// as one JSON field; the anchor is stored as either a position pair or
// a card id, with the unused side empty.
func threadToHash(t *board.Thread) (map[string]interface{}, error) {
	commentsJSON, err := json.Marshal(t.Comments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal comments: %w", err)
	}

	var posX, posY string
	if t.X != nil {
		posX = strconv.FormatFloat(*t.X, 'g', -1, 64)
	}
	if t.Y != nil {
		posY = strconv.FormatFloat(*t.Y, 'g', -1, 64)
	}

	return map[string]interface{}{
		"id":            t.ID,
		"session_id":    t.SessionID,
		"created_by":    t.CreatedBy,
		"x":             posX,
		"y":             posY,
		"card_id":       t.CardID,
		"resolved":      strconv.FormatBool(t.Resolved),
		"comments":      string(commentsJSON),
		"created_at_ms": t.CreatedAt.UnixMilli(),
	}, nil
}

// hashToThread converts a Redis hash back to a Thread.
func hashToThread(hash map[string]string) (*board.Thread, error) {
	resolved, err := strconv.ParseBool(hash["resolved"])
	if err != nil {
		return nil, fmt.Errorf("invalid resolved field: %w", err)
	}

	var comments []board.Comment
	if raw := hash["comments"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &comments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comments: %w", err)
		}
	}
	if comments == nil {
		comments = []board.Comment{}
	}

	createdMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	t := &board.Thread{
		ID:        hash["id"],
		SessionID: hash["session_id"],
		CreatedBy: hash["created_by"],
		CardID:    hash["card_id"],
		Resolved:  resolved,
		Comments:  comments,
		CreatedAt: time.UnixMilli(createdMs).UTC(),
	}

	if hash["x"] != "" && hash["y"] != "" {
		x, err := strconv.ParseFloat(hash["x"], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid x field: %w", err)
		}
		y, err := strconv.ParseFloat(hash["y"], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid y field: %w", err)
		}
		t.X = &x
		t.Y = &y
	}

	return t, nil
}
