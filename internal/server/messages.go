package server

import (
	"time"

	"github.com/bushportal/livecoding/internal/livecoding"
	"github.com/bushportal/livecoding/internal/session"
)

// Client to server message types.
const (
	TypeStartCoding  = "start_coding"
	TypeGetSession   = "get_session"
	TypeListSessions = "list_sessions"
	TypeSubscribe    = "subscribe"
	TypePing         = "ping"
)

// Server to client message types.
const (
	TypeConnected      = "connected"
	TypeSessionStarted = "session_started"
	TypeCodingStarted  = "coding_started"
	TypeSessionData    = "session_data"
	TypeSessionsList   = "sessions_list"
	TypePong           = "pong"
	TypeError          = "error"

	streamTypePrefix = "stream_"
)

// InboundMessage is any client to server frame. Fields unused by a type are ignored.
type InboundMessage struct {
	Type      string `json:"type"`
	Prompt    string `json:"prompt,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ConnectedMessage greets a new socket.
type ConnectedMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStartedMessage acknowledges start_coding to the initiating socket.
type SessionStartedMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

// CodingStartedMessage announces a run to other subscribers of its session.
type CodingStartedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

// StreamMessage carries one orchestrator event. Type is stream_<event>.
type StreamMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Event     livecoding.Kind `json:"event"`
	Content   any             `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionDataMessage answers get_session.
type SessionDataMessage struct {
	Type    string                `json:"type"`
	Session session.CodingSession `json:"session"`
}

// SessionsListMessage answers list_sessions.
type SessionsListMessage struct {
	Type     string            `json:"type"`
	Sessions []session.Summary `json:"sessions"`
}

// PongMessage answers ping.
type PongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage reports a rejected client message. The socket stays open.
type ErrorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// NewStreamMessage renders an orchestrator event for the wire.
func NewStreamMessage(event livecoding.Event) StreamMessage {
	return StreamMessage{
		Type:      streamTypePrefix + string(event.Kind),
		SessionID: event.SessionID,
		Event:     event.Kind,
		Content:   event.Content,
		Timestamp: event.Timestamp,
	}
}

func errorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}
