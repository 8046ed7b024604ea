// Package ipc implements the TCP JSON command channel between the control
// daemon and its operator tools. Messages use the IPCMessage envelope; each
// request is answered with a "<type>_response" carrying the request ID, and
// telemetry is broadcast to every connected client.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"armctl/internal/config"
	"armctl/internal/logging"
	"armctl/pkg/types"
)

// Handler processes one request and returns the response payload. A returned
// error is reported to the client as an error response, not a dropped
// connection.
type Handler func(msg types.IPCMessage) (map[string]interface{}, error)

type client struct {
	id        string
	conn      net.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Server accepts operator connections and routes typed requests to
// registered handlers. Replies and broadcasts go through per-client bounded
// send queues; a slow client loses broadcasts rather than stalling the rest.
type Server struct {
	config   config.IPCConfig
	logger   *logging.Logger
	listener net.Listener

	clientsMu sync.RWMutex
	clients   map[string]*client

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewServer(cfg config.IPCConfig) *Server {
	return &Server{
		config:   cfg,
		logger:   logging.GetLogger("ipc_server"),
		clients:  make(map[string]*client),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a message type. Must be called before Start.
func (s *Server) Register(messageType string, handler Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[messageType] = handler
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("ipc server is already running")
	}

	address := net.JoinHostPort(s.config.Address, fmt.Sprintf("%d", s.config.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start ipc server: %w", err)
	}
	s.listener = listener

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.accept(runCtx)

	s.logger.Info("IPC server listening", "address", listener.Addr().String())
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("ipc server is not running")
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.listener.Close()

	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[string]*client)
	s.clientsMu.Unlock()

	s.wg.Wait()
	s.logger.Info("IPC server stopped")
	return nil
}

// Broadcast queues a message for every connected client, dropping it for
// clients whose send queue is full.
func (s *Server) Broadcast(msg types.IPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		select {
		case c.send <- data:
		case <-c.closed:
		default:
			s.logger.Warn("Client send queue full, dropping broadcast", "client_id", c.id)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) accept(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Error("Accept failed", "error", err)
			continue
		}

		c := &client{
			id:     fmt.Sprintf("client-%d", time.Now().UnixNano()),
			conn:   conn,
			send:   make(chan []byte, s.config.BufferSize),
			closed: make(chan struct{}),
		}

		s.clientsMu.Lock()
		s.clients[c.id] = c
		s.clientsMu.Unlock()

		s.wg.Add(2)
		go s.readLoop(ctx, c)
		go s.writeLoop(ctx, c)

		s.logger.Info("Client connected", "client_id", c.id)
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	defer s.wg.Done()
	defer s.drop(c)

	decoder := json.NewDecoder(c.conn)
	for {
		var msg types.IPCMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("Client disconnected", "client_id", c.id)
			} else if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.logger.Warn("Client decode failed", "client_id", c.id, "error", err)
			}
			return
		}

		msg.Source = c.id
		s.dispatch(c, msg)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(time.Duration(s.config.TimeoutS) * time.Second)); err != nil {
				return
			}
			if _, err := c.conn.Write(data); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("Client write failed", "client_id", c.id, "error", err)
				}
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

func (s *Server) dispatch(c *client, msg types.IPCMessage) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[msg.Type]
	s.handlersMu.RUnlock()

	if !ok {
		s.reply(c, errorResponse(msg, fmt.Errorf("unknown message type %q", msg.Type)))
		return
	}

	payload, err := handler(msg)
	if err != nil {
		s.reply(c, errorResponse(msg, err))
		return
	}
	s.reply(c, types.IPCMessage{
		Type:      msg.Type + "_response",
		Source:    "armd",
		Target:    c.id,
		Data:      withRequestID(payload, msg.ID),
		Timestamp: time.Now(),
		ID:        uuid.New().String(),
	})
}

func (s *Server) reply(c *client, msg types.IPCMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal reply", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	case <-time.After(time.Duration(s.config.TimeoutS) * time.Second):
		s.logger.Warn("Reply timed out", "client_id", c.id)
	}
}

func (s *Server) drop(c *client) {
	c.close()
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()
}

func errorResponse(req types.IPCMessage, err error) types.IPCMessage {
	return types.IPCMessage{
		Type:   "error",
		Source: "armd",
		Target: req.Source,
		Data: withRequestID(map[string]interface{}{
			"error": err.Error(),
		}, req.ID),
		Timestamp: time.Now(),
		ID:        uuid.New().String(),
	}
}

func withRequestID(payload map[string]interface{}, requestID string) map[string]interface{} {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["request_id"] = requestID
	return payload
}
