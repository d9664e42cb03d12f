// Package broker maps the relay's routing patterns onto an AMQP topic
// exchange so multiple relay processes can share load. Delivery semantics
// mirror the in-process router exactly; the only new concept is the origin
// stamp used to suppress self-echo, since the broker fans out to the
// sender's own inbox too through the wildcard binding.
package broker

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Dialer owns the process-wide broker connection, shared lazily across all
// sessions: the first caller dials, concurrent callers await the same
// in-flight dial.
type Dialer struct {
	url string
	log *zap.SugaredLogger

	group singleflight.Group
	mu    sync.Mutex
	conn  *amqp.Connection
}

func NewDialer(url string, log *zap.SugaredLogger) *Dialer {
	return &Dialer{url: url, log: log}
}

// Connection returns the shared broker connection, dialing on first use
// and redialing after a broker-side close.
func (d *Dialer) Connection(ctx context.Context) (*amqp.Connection, error) {
	d.mu.Lock()
	if d.conn != nil && !d.conn.IsClosed() {
		conn := d.conn
		d.mu.Unlock()
		return conn, nil
	}
	d.mu.Unlock()

	v, err, _ := d.group.Do("dial", func() (any, error) {
		conn, err := amqp.Dial(d.url)
		if err != nil {
			d.log.Errorw("broker dial failed", "url", d.url, "error", err)
			return nil, err
		}
		d.log.Infow("broker connected", "url", d.url)
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return v.(*amqp.Connection), nil
}

// Close tears down the shared connection. Sessions still holding channels
// observe it as a transport error confined to themselves.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}
