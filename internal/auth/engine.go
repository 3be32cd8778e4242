// Package auth is the capability table for corkboard sessions. Every
// call site, optimistic or authoritative, gates a mutation through the
// same Check function, so a permission decision can never differ
// between the client's immediate view and the durable record.
//
// Check is synchronous and side-effect-free. The role argument must be
// resolved from the authoritative participant table; a role carried in
// a client-originated message is never trusted.
package auth

import (
	"fmt"

	"github.com/corkboard/corkboard/pkg/board"
)

// Capability names a single gated action.
type Capability string

const (
	CapAddCard        Capability = "add-card"
	CapEditCard       Capability = "edit-card"
	CapMoveCard       Capability = "move-card"
	CapResizeCard     Capability = "resize-card"
	CapChangeColor    Capability = "change-color"
	CapDeleteCard     Capability = "delete-card"
	CapVote           Capability = "vote"
	CapReact          Capability = "react"
	CapClusterCards   Capability = "cluster-cards"
	CapCreateThread   Capability = "create-thread"
	CapMoveThread     Capability = "move-thread"
	CapAddComment     Capability = "add-comment"
	CapEditComment    Capability = "edit-comment"
	CapDeleteComment  Capability = "delete-comment"
	CapResolveThread  Capability = "resolve-thread"
	CapDeleteThread   Capability = "delete-thread"
	CapRenameUser     Capability = "rename-user"
	CapRenameSession  Capability = "rename-session"
	CapChangeSettings Capability = "change-settings"
	CapToggleLock     Capability = "toggle-lock"
	CapDeleteSession  Capability = "delete-session"
)

// Denial reasons surfaced to users. Specific, never generic.
const (
	ReasonSessionLocked     = "session is locked"
	ReasonNotCreator        = "not session creator"
	ReasonOwnCardVote       = "cannot vote on your own card"
	ReasonOwnCardReact      = "cannot react to your own card"
	ReasonNotOwner          = "not the owner of this item"
	ReasonUnknownCapability = "unknown capability"
)

// DeniedError is returned by Check when a capability is refused.
// Reason is human-readable and specific to the rule that fired.
type DeniedError struct {
	Capability Capability
	Reason     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Capability, e.Reason)
}

// IsDenied reports whether err is an authorization denial.
func IsDenied(err error) bool {
	_, ok := err.(*DeniedError)
	return ok
}

// Request carries the inputs to a capability check. Entity fields are
// populated only where the capability concerns that entity kind.
type Request struct {
	Session *board.Session
	Card    *board.Card
	Thread  *board.Thread
	Comment *board.Comment
	ActorID string
	Role    board.Role
}

// Check returns nil if the actor may exercise cap, or a *DeniedError
// naming the rule that refused it. The same decision logic runs on the
// optimistic client path and the authoritative persistence path.
func Check(cap Capability, req Request) error {
	deny := func(reason string) error {
		return &DeniedError{Capability: cap, Reason: reason}
	}

	isCreator := req.Role == board.RoleCreator

	// Creator-only session controls work regardless of lock state:
	// they are the only way out of a locked session.
	switch cap {
	case CapToggleLock, CapChangeSettings, CapRenameSession, CapDeleteSession:
		if !isCreator {
			return deny(ReasonNotCreator)
		}
		return nil
	}

	// A locked session freezes all remaining content mutation for
	// everyone, the creator included.
	if req.Session != nil && req.Session.Locked {
		return deny(ReasonSessionLocked)
	}

	switch cap {
	case CapAddCard, CapCreateThread, CapAddComment, CapMoveCard,
		CapResizeCard, CapChangeColor, CapMoveThread, CapRenameUser:
		return nil

	case CapEditCard:
		if req.Card != nil && req.Card.CreatedBy != req.ActorID && !isCreator {
			return deny(ReasonNotOwner)
		}
		return nil

	case CapDeleteCard:
		if req.Card != nil && req.Card.CreatedBy != req.ActorID && !isCreator {
			return deny(ReasonNotOwner)
		}
		return nil

	case CapVote:
		if req.Card != nil && req.Card.CreatedBy == req.ActorID {
			return deny(ReasonOwnCardVote)
		}
		return nil

	case CapReact:
		if req.Card != nil && req.Card.CreatedBy == req.ActorID {
			return deny(ReasonOwnCardReact)
		}
		return nil

	case CapClusterCards:
		if !isCreator {
			return deny(ReasonNotCreator)
		}
		return nil

	case CapResolveThread:
		return nil

	case CapDeleteThread:
		if req.Thread != nil && req.Thread.CreatedBy != req.ActorID && !isCreator {
			return deny(ReasonNotOwner)
		}
		return nil

	case CapEditComment:
		if req.Comment != nil && req.Comment.CreatedBy != req.ActorID {
			return deny(ReasonNotOwner)
		}
		return nil

	case CapDeleteComment:
		// The comment's author may always delete it; otherwise the
		// actor must be allowed to delete the parent thread.
		if req.Comment != nil && req.Comment.CreatedBy == req.ActorID {
			return nil
		}
		return Check(CapDeleteThread, req)

	default:
		return deny(ReasonUnknownCapability)
	}
}
