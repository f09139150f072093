// Package websocket broadcasts live session progress to browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/sttstream/internal/session"
	"github.com/yegors/sttstream/internal/stt"
	"github.com/yegors/sttstream/pkg/logger"
)

// Message types sent to clients
const (
	MessageTypeState      = "state"
	MessageTypeTranscript = "transcript"
	MessageTypeDecision   = "decision"
	MessageTypeFinished   = "finished"
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	server *Server
}

// Server fans session progress out to connected clients. It implements
// session.Recorder; recording never blocks the session.
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a new WebSocket server
func NewServer(logger *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: logger.Named("web-socket"),
	}
}

// Run dispatches messages until ctx is cancelled
func (s *Server) Run(ctx context.Context) {
	s.logger.Debug("Starting WebSocket hub")
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.mu.Unlock()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection upgrades the request and registers the client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("Client connected", String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, 256),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for all clients. It drops the message when
// the queue is full.
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	default:
		s.logger.Debug("Broadcast queue full, dropping message", String("message_type", message.Type))
	}
}

// Transition implements session.Recorder
func (s *Server) Transition(from, to session.State) {
	s.Broadcast(&Message{Type: MessageTypeState, Data: map[string]any{
		"from": from.String(),
		"to":   to.String(),
	}})
}

// UnitSent implements session.Recorder. Outbound units are not broadcast.
func (s *Server) UnitSent(stt.RequestUnit) {}

// EventDecided implements session.Recorder
func (s *Server) EventDecided(ev *stt.RecognitionEvent, d session.Decision) {
	if ev != nil {
		for _, result := range ev.Results {
			if text := result.Recognition.Top(); text != "" {
				s.Broadcast(&Message{Type: MessageTypeTranscript, Data: map[string]any{
					"text":      text,
					"is_final":  result.IsFinal,
					"stability": result.Stability,
				}})
			}
		}
	}
	if d == session.StopNoInputTimeout {
		s.Broadcast(&Message{Type: MessageTypeDecision, Data: map[string]any{"decision": d.String()}})
	}
}

// Finished implements session.Recorder
func (s *Server) Finished(outcome *session.Outcome) {
	data := map[string]any{
		"session_id":      outcome.SessionID,
		"state":           outcome.State.String(),
		"reason":          string(outcome.Reason),
		"units_sent":      outcome.UnitsSent,
		"events_received": outcome.EventsReceived,
		"duration_ms":     outcome.Duration.Milliseconds(),
	}
	if outcome.Err != nil {
		data["error"] = outcome.Err.Error()
	}
	s.Broadcast(&Message{Type: MessageTypeFinished, Data: data})
}

// readPump discards client input and detects disconnects
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Debug("WebSocket read error", Error(err))
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		data, err := json.Marshal(message)
		if err != nil {
			c.server.logger.Error("Failed to marshal message", Error(err))
			continue
		}

		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	// Channel closed by the hub
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Import the logger package's exported functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
