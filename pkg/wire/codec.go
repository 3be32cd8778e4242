package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned by Decode for a payload whose type tag is
// not in the vocabulary. Receivers skip such events rather than failing:
// a newer peer may be broadcasting tags this version does not know.
var ErrUnknownType = errors.New("unknown event type")

// ErrMissingActor is returned by Encode and Decode for an event without
// an origin-actor stamp. The transport drops such events outbound; a
// peer ignores them inbound since self-echo suppression cannot work
// without the stamp.
var ErrMissingActor = errors.New("event missing origin actor stamp")

// envelope is the minimal wire frame: the tag and the stamp, used to
// route the payload to the right concrete event type.
type envelope struct {
	Type  string `json:"type"`
	Actor string `json:"actor"`
}

// decoders maps each type tag to a factory for its concrete event.
// Decode unmarshals the full payload into the returned value.
var decoders = map[string]func() Event{
	TypeCardAdd:      func() Event { return &CardAdd{} },
	TypeCardUpdate:   func() Event { return &CardUpdate{} },
	TypeCardMove:     func() Event { return &CardMove{} },
	TypeCardResize:   func() Event { return &CardResize{} },
	TypeCardTyping:   func() Event { return &CardTyping{} },
	TypeCardColor:    func() Event { return &CardColor{} },
	TypeCardDelete:   func() Event { return &CardDelete{} },
	TypeCardVote:     func() Event { return &CardVote{} },
	TypeCardReact:    func() Event { return &CardReact{} },
	TypeCardEditors:  func() Event { return &CardEditors{} },
	TypeCardsSync:    func() Event { return &CardsSync{} },
	TypeCardsCluster: func() Event { return &CardsCluster{} },

	TypeUserJoin:   func() Event { return &UserJoin{} },
	TypeUserRename: func() Event { return &UserRename{} },

	TypeSessionRename:   func() Event { return &SessionRename{} },
	TypeSessionSettings: func() Event { return &SessionSettings{} },

	TypeThreadAdd:     func() Event { return &ThreadAdd{} },
	TypeThreadMove:    func() Event { return &ThreadMove{} },
	TypeThreadAttach:  func() Event { return &ThreadAttach{} },
	TypeThreadDetach:  func() Event { return &ThreadDetach{} },
	TypeThreadResolve: func() Event { return &ThreadResolve{} },
	TypeThreadDelete:  func() Event { return &ThreadDelete{} },
	TypeThreadsSync:   func() Event { return &ThreadsSync{} },

	TypeCommentAdd:    func() Event { return &CommentAdd{} },
	TypeCommentUpdate: func() Event { return &CommentUpdate{} },
	TypeCommentDelete: func() Event { return &CommentDelete{} },
}

// Encode serializes an event for the wire, injecting the type tag.
// Events without an origin-actor stamp are rejected.
func Encode(ev Event) ([]byte, error) {
	if ev.Actor() == "" {
		return nil, ErrMissingActor
	}

	// Marshal the event body, then splice the tag in. Two passes keeps
	// each event struct free of a redundant Type field.
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.Tag(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to frame %s event: %w", ev.Tag(), err)
	}
	tag, _ := json.Marshal(ev.Tag())
	fields["type"] = tag

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", ev.Tag(), err)
	}
	return payload, nil
}

// Decode parses a wire payload back into a typed event.
// Returns ErrUnknownType for tags outside the vocabulary and
// ErrMissingActor for payloads without an actor stamp; callers treat
// both as skip-and-continue.
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}

	factory, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if env.Actor == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingActor, env.Type)
	}

	ev := factory()
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("malformed %s event: %w", env.Type, err)
	}
	return ev, nil
}
