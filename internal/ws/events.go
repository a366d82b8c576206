package ws

import "time"

// Event names pushed to realtime listeners.
const (
	EventSessionStatusChanged = "session_status_changed"
	EventSessionError         = "session_error"
)

// WsEvent is the envelope broadcast to every connected listener.
type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionStatusData describes a session lifecycle change.
type SessionStatusData struct {
	Identity string `json:"identity"`
	Status   string `json:"status"`
}

// SessionErrorData describes a terminal session failure that was not
// requested by any caller.
type SessionErrorData struct {
	Identity string `json:"identity"`
	Error    string `json:"error"`
}

// RealtimePublisher is what the session layer holds so it does not depend
// on the hub directly.
type RealtimePublisher interface {
	Publish(event WsEvent)
}
