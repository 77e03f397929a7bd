// Package events provides the in-process typed event bus, the
// high-frequency log batcher, and WebSocket delivery of progress events.
package events

import "strconv"

// Event types published on the bus. Subscriptions match on exact type,
// on a "prefix.*" pattern, or on the "*" wildcard.
const (
	EventTaskStarted   = "task.started"
	EventTaskProgress  = "task.progress"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"

	EventAdapterPrefix = "adapter."
	EventSystemPrefix  = "system."

	// Wildcard matches every event type.
	Wildcard = "*"
)

// UserChannel returns the WebSocket channel name carrying one user's
// task events. Format: "user:{user_id}".
func UserChannel(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"`
}
