package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bushportal/livecoding/internal/hub"
	"github.com/bushportal/livecoding/internal/livecoding"
	"github.com/bushportal/livecoding/internal/session"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := s.hub.Register(conn)
	defer s.hub.Unregister(client)
	logger := s.logger.With("client_id", client.ID())

	conn.SetReadLimit(defaultReadLimit)
	s.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		s.extendReadDeadline(conn)
		return nil
	})

	s.hub.Send(client, ConnectedMessage{
		Type:      TypeConnected,
		Message:   "connected to live coding",
		Timestamp: s.now().UTC(),
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		s.extendReadDeadline(conn)
		s.dispatch(client, data)
	}
}

func (s *Server) extendReadDeadline(conn *websocket.Conn) {
	if s.pongWait <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
}

// dispatch handles one client frame. Failures answer with an error message and keep the socket open.
func (s *Server) dispatch(client *hub.Client, data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.hub.Send(client, errorMessage("invalid message format"))
		return
	}

	switch msg.Type {
	case TypeStartCoding:
		s.startCoding(client, msg.Prompt)
	case TypeGetSession:
		found, ok := s.registry.Get(msg.SessionID)
		if !ok {
			s.hub.Send(client, ErrorMessage{Type: TypeError, Message: session.ErrSessionNotFound.Error(), SessionID: strings.TrimSpace(msg.SessionID)})
			return
		}
		s.hub.Send(client, SessionDataMessage{Type: TypeSessionData, Session: found})
	case TypeListSessions:
		s.hub.Send(client, SessionsListMessage{Type: TypeSessionsList, Sessions: s.registry.List()})
	case TypeSubscribe:
		if err := s.hub.Subscribe(client, msg.SessionID); err != nil {
			s.hub.Send(client, errorMessage("sessionId is required"))
		}
	case TypePing:
		s.hub.Send(client, PongMessage{Type: TypePong, Timestamp: s.now().UTC()})
	default:
		s.hub.Send(client, errorMessage(fmt.Sprintf("unknown message type: %q", msg.Type)))
	}
}

// startCoding opens the session before acknowledging it, so get_session never races the
// session_started message, then streams the run on its own goroutine under the socket's context.
func (s *Server) startCoding(client *hub.Client, prompt string) {
	opened, err := s.orchestrator.Open(livecoding.NewSessionID(), prompt)
	if err != nil {
		message := "could not start session"
		if errors.Is(err, livecoding.ErrEmptyPrompt) {
			message = err.Error()
		}
		s.hub.Send(client, errorMessage(message))
		return
	}

	if err := s.hub.Subscribe(client, opened.ID); err != nil {
		s.logger.Debug("subscribe initiator", "client_id", client.ID(), "error", err)
	}
	s.hub.Send(client, SessionStartedMessage{
		Type:      TypeSessionStarted,
		SessionID: opened.ID,
		Prompt:    opened.Prompt,
		Timestamp: opened.StartedAt,
	})
	s.hub.Broadcast(opened.ID, CodingStartedMessage{
		Type:      TypeCodingStarted,
		SessionID: opened.ID,
		Prompt:    opened.Prompt,
	}, client)

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		final := s.orchestrator.Run(client.Context(), opened, s.broadcastSink(client))
		s.logger.Debug("websocket run finished", "client_id", client.ID(), "session_id", final.ID, "status", string(final.Status))
	}()
}

// broadcastSink sends each event to the initiator first, then to every other subscriber.
func (s *Server) broadcastSink(initiator *hub.Client) livecoding.Sink {
	return func(event livecoding.Event) {
		msg := NewStreamMessage(event)
		if initiator != nil {
			s.hub.Send(initiator, msg)
		}
		s.hub.Broadcast(event.SessionID, msg, initiator)
	}
}
