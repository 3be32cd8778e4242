package wire

import "fmt"

// Pub/Sub channel naming
//
// Each session gets exactly one broadcast channel, namespaced by the
// session id so unrelated sessions sharing a Redis server never see
// each other's traffic.

// EventsChannel returns the Pub/Sub channel name for a session's
// broadcast events.
// Pattern: corkboard:{session_id}:events
func EventsChannel(sessionID string) string {
	return fmt.Sprintf("corkboard:%s:events", sessionID)
}
