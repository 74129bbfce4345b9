package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/pkg/models"
)

const agentWriteTimeout = 5 * time.Second

// AgentClient is the engine side of the background agent protocol. It dials
// the agent over WebSocket, correlates every sent message with its ACK, and
// hands any other inbound message (ALERT_ACTION) to the registered handler.
type AgentClient struct {
	url    string
	dialer *websocket.Dialer
	log    logrus.FieldLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan error
	onMessage func(models.AgentMessage)
	closed    bool

	writeMu sync.Mutex
}

// NewAgentClient creates a client for the agent listening at url
// (ws://host:port/agent). It does not connect.
func NewAgentClient(url string, log logrus.FieldLogger) *AgentClient {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AgentClient{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		log:     log.WithField("component", "agent-client"),
		pending: make(map[string]chan error),
	}
}

// OnMessage registers the handler for messages the agent initiates.
func (c *AgentClient) OnMessage(fn func(models.AgentMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// Connect dials the agent and starts reading from it. Calling Connect while
// already connected is a no-op.
func (c *AgentClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrAgentUnavailable
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing agent %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.WithField("url", c.url).Info("connected to background agent")
	go c.readLoop(conn)
	return nil
}

// Run keeps the client connected until ctx is cancelled, redialing every
// retry after a dropped or failed connection.
func (c *AgentClient) Run(ctx context.Context, retry time.Duration) {
	if retry <= 0 {
		retry = 5 * time.Second
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		if !c.Ready() {
			if err := c.Connect(ctx); err != nil {
				c.log.WithError(err).Debug("agent not reachable")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Ready reports whether a connection to the agent is open.
func (c *AgentClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Send writes msg and blocks until the agent acknowledges it or ctx ends.
// A deadline expiry is reported as core.ErrAgentTimeout.
func (c *AgentClient) Send(ctx context.Context, msg models.AgentMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ack := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.closed {
		c.mu.Unlock()
		return core.ErrAgentUnavailable
	}
	c.pending[msg.ID] = ack
	c.mu.Unlock()
	defer c.forget(msg.ID)

	if err := c.write(conn, msg); err != nil {
		c.drop(conn)
		return fmt.Errorf("writing %s to agent: %w", msg.Type, err)
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.ErrAgentTimeout
		}
		return ctx.Err()
	}
}

// Close disconnects and fails every message still waiting for an ACK.
func (c *AgentClient) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.drop(conn)
	return nil
}

func (c *AgentClient) write(conn *websocket.Conn, msg models.AgentMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(agentWriteTimeout))
	return conn.WriteJSON(msg)
}

func (c *AgentClient) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// drop closes conn if it is still current and fails pending sends.
func (c *AgentClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan error)
	c.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		resolve(ch, core.ErrAgentUnavailable)
	}
}

func (c *AgentClient) readLoop(conn *websocket.Conn) {
	defer c.drop(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("agent connection closed")
			}
			return
		}
		var msg models.AgentMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Warn("discarding malformed agent message")
			continue
		}
		c.dispatch(conn, msg)
	}
}

func (c *AgentClient) dispatch(conn *websocket.Conn, msg models.AgentMessage) {
	if msg.Type == models.MsgAck {
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			return
		}
		if msg.Error != "" {
			resolve(ch, fmt.Errorf("agent rejected message: %s", msg.Error))
		} else {
			resolve(ch, nil)
		}
		return
	}

	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
	if msg.ID != "" {
		if err := c.write(conn, models.AgentMessage{Type: models.MsgAck, ID: msg.ID}); err != nil {
			c.log.WithError(err).Debug("acknowledging agent message")
		}
	}
}

// resolve delivers the first outcome for a pending send; later ones are
// dropped.
func resolve(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
