package persist

import "fmt"

// Redis key patterns
//
// All keys are namespaced by session id so unrelated sessions coexist
// on one Redis server without touching each other.
//
// Key pattern: corkboard:{entity}:... or corkboard:{session_id}:{entity}:{id}

// sessionsIndexKey returns the Redis SET holding all session ids.
// Pattern: corkboard:sessions
func sessionsIndexKey() string {
	return "corkboard:sessions"
}

// sessionKey returns the Redis hash key for a session's metadata.
// Pattern: corkboard:session:{session_id}
func sessionKey(sessionID string) string {
	return fmt.Sprintf("corkboard:session:%s", sessionID)
}

// participantsKey returns the Redis hash of a session's participants.
// Field=user id, value=JSON participant.
// Pattern: corkboard:{session_id}:participants
func participantsKey(sessionID string) string {
	return fmt.Sprintf("corkboard:%s:participants", sessionID)
}

// cardKey returns the Redis hash key for a card.
// Pattern: corkboard:{session_id}:card:{card_id}
func cardKey(sessionID, cardID string) string {
	return fmt.Sprintf("corkboard:%s:card:%s", sessionID, cardID)
}

// cardsIndexKey returns the Redis SET of a session's card ids.
// Pattern: corkboard:{session_id}:cards
func cardsIndexKey(sessionID string) string {
	return fmt.Sprintf("corkboard:%s:cards", sessionID)
}

// threadKey returns the Redis hash key for a thread.
// Pattern: corkboard:{session_id}:thread:{thread_id}
func threadKey(sessionID, threadID string) string {
	return fmt.Sprintf("corkboard:%s:thread:%s", sessionID, threadID)
}

// threadsIndexKey returns the Redis SET of a session's thread ids.
// Pattern: corkboard:{session_id}:threads
func threadsIndexKey(sessionID string) string {
	return fmt.Sprintf("corkboard:%s:threads", sessionID)
}
