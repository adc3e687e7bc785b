// Package websocket broadcasts records as JSON to browser clients.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericogr/tms-daq/pkg/config"
	"github.com/ericogr/tms-daq/pkg/record"
)

const (
	writeWait  = time.Second
	clientSend = 32 // records buffered per client before it is dropped
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is an output fanning records out to every connected /ws client.
// Publish never waits on a client; one whose buffer is full is disconnected.
type Server struct {
	upgrader websocket.Upgrader
	srv      *http.Server
	addr     string

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewServer() *Server {
	return &Server{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Listen serves /ws on cfg.Listen in the background.
func Listen(cfg config.WebsocketConfig) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", cfg.Listen, err)
	}
	s := NewServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.addr = ln.Addr().String()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("websocket server stopped", "err", err)
		}
	}()
	slog.Info("websocket output ready", "addr", s.addr, "path", "/ws")
	return s, nil
}

// Addr is the bound listen address, empty when not started by Listen.
func (s *Server) Addr() string { return s.addr }

// HandleWS upgrades the request and registers the client until it goes away.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSend)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	slog.Debug("websocket client connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)

	// reads only detect the peer going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.remove(c)
	slog.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// remove unregisters c once; closing send stops its write loop.
func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Publish(c record.Cycle) error {
	msg, err := json.Marshal(record.NewPayload(c))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for cl := range s.clients {
		select {
		case cl.send <- msg:
		default:
			slog.Warn("websocket client too slow, dropping", "remote", cl.conn.RemoteAddr().String())
			delete(s.clients, cl)
			close(cl.send)
		}
	}
	return nil
}

// Close stops the listener and disconnects every client.
func (s *Server) Close() error {
	var err error
	if s.srv != nil {
		err = s.srv.Close()
	}
	s.mu.Lock()
	for cl := range s.clients {
		delete(s.clients, cl)
		close(cl.send)
	}
	s.mu.Unlock()
	return err
}
