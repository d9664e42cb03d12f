package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/pkg/types"
)

const (
	// Outbound buffer per connection. A full buffer drops the message
	// rather than blocking the sender.
	writeBuffer = 100

	writeDeadline = 5 * time.Second
)

// Connection wraps one websocket with a single writer goroutine so that
// concurrent deliveries never interleave frames. It is the bus endpoint
// for its client.
type Connection struct {
	conn      *websocket.Conn
	id        string
	user      string
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       *zap.SugaredLogger
}

func NewConnection(conn *websocket.Conn, user string, log *zap.SugaredLogger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      uuid.NewString(),
		user:    user,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string   { return c.id }
func (c *Connection) User() string { return c.user }

// Deliver queues an outbound message. The send is non-blocking: a slow
// reader fills its buffer and loses messages instead of stalling the
// router.
func (c *Connection) Deliver(messageType string, data types.Payload) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	raw, err := json.Marshal(types.Message{Type: messageType, Data: data})
	if err != nil {
		return err
	}
	select {
	case c.writeCh <- raw:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrMailboxFull
	}
}

// NextMessage blocks for the next inbound frame. Malformed frames are
// logged and skipped rather than tearing the connection down.
func (c *Connection) NextMessage() (*types.Message, error) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var msg types.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debugw("malformed frame dropped", "conn", c.id, "error", err)
			continue
		}
		return &msg, nil
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case raw := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Debugw("write failed", "conn", c.id, "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection shuts down.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }
