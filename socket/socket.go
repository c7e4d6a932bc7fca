// Package socket provides the websocket component that the unison server
// exposes to views as an injectable.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jacobclevenger/unison"
	"github.com/rs/zerolog"
)

// Token is the identity under which the server provides its socket
// Server to views.
var Token = unison.IdentityFor[*Server]()

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	sendBuffer = 256
)

// ErrClosed is returned by Emit after the client has disconnected.
var ErrClosed = errors.New("socket client closed")

// Message is the frame exchanged with clients.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventHandler handles an event sent by a client.
type EventHandler func(c *Client, data json.RawMessage)

// Server maintains websocket clients, dispatches their events and
// broadcasts to them.
type Server struct {
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	handlers   map[string]EventHandler
	hlock      sync.RWMutex
	logger     zerolog.Logger
}

// NewServer creates a Server.  Run must be started before clients connect.
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		handlers:   make(map[string]EventHandler),
		logger:     logger,
	}
}

// On registers the handler for an event name, replacing any earlier one.
func (s *Server) On(event string, fn EventHandler) {
	s.hlock.Lock()
	defer s.hlock.Unlock()
	s.handlers[event] = fn
}

func (s *Server) handler(event string) (EventHandler, bool) {
	s.hlock.RLock()
	defer s.hlock.RUnlock()
	fn, ok := s.handlers[event]
	return fn, ok
}

// Run is the server's main loop.  It returns, disconnecting every client,
// when ctx is done.
func (s *Server) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				client.close()
			}
			s.mu.Unlock()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("Socket client connected")

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.close()
			}
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("Socket client disconnected")

		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					// buffer full, disconnect
					client.close()
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Broadcast sends an event to every connected client.  The message is
// dropped if the broadcast queue is full.
func (s *Server) Broadcast(event string, data any) error {
	message, err := newMessage(event, data)
	if err != nil {
		return err
	}
	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn().Str("event", event).Msg("Broadcast queue full, message dropped")
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler upgrades requests to websocket connections.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			s.logger.Debug().Err(err).Msg("Socket upgrade failed")
			return
		}
		client := &Client{
			id:     uuid.NewString(),
			server: s,
			conn:   conn,
			send:   make(chan Message, sendBuffer),
		}
		select {
		case s.register <- client:
		case <-s.done:
			_ = conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	})
}

func newMessage(event string, data any) (Message, error) {
	if data == nil {
		return Message{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: raw}, nil
}

// Client is one websocket connection.
type Client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan Message
	mu     sync.Mutex
	closed bool
}

// ID returns the client's connection ID.
func (c *Client) ID() string { return c.id }

// Emit sends an event to this client only.
func (c *Client) Emit(event string, data any) error {
	message, err := newMessage(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- message:
	default:
		c.server.logger.Warn().Str("client_id", c.id).Str("event", event).Msg("Client queue full, message dropped")
	}
	return nil
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Error().Err(err).Str("client_id", c.id).Msg("Socket read error")
			}
			return
		}
		var message Message
		if err := json.Unmarshal(raw, &message); err != nil {
			c.server.logger.Debug().Err(err).Str("client_id", c.id).Msg("Malformed socket message")
			continue
		}
		fn, ok := c.server.handler(message.Event)
		if !ok {
			c.server.logger.Debug().
				Str("client_id", c.id).
				Str("event", message.Event).
				Msg("No handler for socket event")
			continue
		}
		fn(c, message.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
