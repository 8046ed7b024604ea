package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"armctl/internal/logging"
	"armctl/pkg/types"
)

// Client is the operator-side connection. Request/response traffic is
// synchronous; broadcast telemetry arrives on Notifications.
type Client struct {
	address string
	timeout time.Duration
	logger  *logging.Logger

	mu        sync.Mutex
	conn      net.Conn
	encoder   *json.Encoder
	pending   map[string]chan types.IPCMessage
	notifs    chan types.IPCMessage
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// Dial connects to the daemon at address (host:port).
func Dial(address string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	c := &Client{
		address: address,
		timeout: timeout,
		logger:  logging.GetLogger("ipc_client"),
		conn:    conn,
		encoder: json.NewEncoder(conn),
		pending: make(map[string]chan types.IPCMessage),
		notifs:  make(chan types.IPCMessage, 16),
		closed:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// Close shuts the connection down and waits for the reader to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	c.wg.Wait()
	return nil
}

// Notifications delivers broadcast messages (telemetry). Messages are
// dropped when the channel backs up.
func (c *Client) Notifications() <-chan types.IPCMessage {
	return c.notifs
}

// Request sends one typed request and waits for its response. An "error"
// response is surfaced as a Go error.
func (c *Client) Request(messageType string, data map[string]interface{}) (types.IPCMessage, error) {
	id := uuid.New().String()
	reply := make(chan types.IPCMessage, 1)

	c.mu.Lock()
	c.pending[id] = reply
	err := c.encoder.Encode(types.IPCMessage{
		Type:      messageType,
		Source:    "cli",
		Target:    "armd",
		Data:      data,
		Timestamp: time.Now(),
		ID:        id,
	})
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return types.IPCMessage{}, fmt.Errorf("failed to send %s: %w", messageType, err)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case msg := <-reply:
		if msg.Type == "error" {
			detail, _ := msg.Data["error"].(string)
			return msg, fmt.Errorf("request %s failed: %s", messageType, detail)
		}
		return msg, nil
	case <-c.closed:
		return types.IPCMessage{}, fmt.Errorf("connection closed")
	case <-time.After(c.timeout):
		return types.IPCMessage{}, fmt.Errorf("request %s timed out", messageType)
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	decoder := json.NewDecoder(c.conn)
	for {
		var msg types.IPCMessage
		if err := decoder.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				select {
				case <-c.closed:
				default:
					c.logger.Warn("Receive failed", "error", err)
				}
			}
			return
		}
		c.route(msg)
	}
}

func (c *Client) route(msg types.IPCMessage) {
	requestID, _ := msg.Data["request_id"].(string)
	if requestID != "" {
		c.mu.Lock()
		reply, ok := c.pending[requestID]
		c.mu.Unlock()
		if ok {
			reply <- msg
			return
		}
	}

	select {
	case c.notifs <- msg:
	default:
		c.logger.Warn("Notification queue full, dropping message", "message_type", msg.Type)
	}
}
