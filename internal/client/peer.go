// Package client provides the in-process protocol connector. A Peer
// attaches to a bus like any websocket connection would, but dispatches
// inbound messages to subscribed handlers; the discovery, sync and
// live-edit protocol layers are built on it.
package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// Handler consumes one inbound message. Handlers run on the delivering
// goroutine and must not block.
type Handler func(messageType string, data types.Payload)

// Peer is an endpoint with a handler registry and its own monotonically
// increasing callback-id generator. Nothing about it is shared between
// peers, so concurrent peers in one process stay independent.
type Peer struct {
	id      string
	user    string
	session interfaces.Session
	log     *zap.SugaredLogger

	mu      sync.RWMutex
	subs    map[string]map[uint64]Handler
	nextSub uint64

	callbackID atomic.Int64
}

// Attach creates a peer for user and attaches it to the bus. The caller
// still joins channels explicitly, like any other connection.
func Attach(ctx context.Context, bus interfaces.Bus, user string, log *zap.SugaredLogger) (*Peer, error) {
	if user == "" {
		return nil, types.ErrMissingUsername
	}
	p := &Peer{
		id:   uuid.New().String(),
		user: user,
		subs: make(map[string]map[uint64]Handler),
		log:  log,
	}
	session, err := bus.Attach(ctx, p)
	if err != nil {
		return nil, err
	}
	p.session = session
	return p, nil
}

func (p *Peer) ID() string   { return p.id }
func (p *Peer) User() string { return p.user }

// Session exposes the underlying bus session for the send primitives.
func (p *Peer) Session() interfaces.Session { return p.session }

// Deliver dispatches to every handler subscribed to the message type.
func (p *Peer) Deliver(messageType string, data types.Payload) error {
	p.mu.RLock()
	handlers := make([]Handler, 0, len(p.subs[messageType]))
	for _, h := range p.subs[messageType] {
		handlers = append(handlers, h)
	}
	p.mu.RUnlock()

	for _, h := range handlers {
		h(messageType, data)
	}
	return nil
}

// Subscription is an explicit handle for one registered handler.
type Subscription struct {
	peer        *Peer
	messageType string
	id          uint64
}

// Subscribe registers a handler for a message type and returns its handle.
func (p *Peer) Subscribe(messageType string, h Handler) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSub++
	set := p.subs[messageType]
	if set == nil {
		set = make(map[uint64]Handler)
		p.subs[messageType] = set
	}
	set[p.nextSub] = h
	return &Subscription{peer: p, messageType: messageType, id: p.nextSub}
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.peer.mu.Lock()
	defer s.peer.mu.Unlock()
	set := s.peer.subs[s.messageType]
	delete(set, s.id)
	if len(set) == 0 {
		delete(s.peer.subs, s.messageType)
	}
}

// NextCallbackID returns the next correlation id for multiplexing pending
// calls on this peer.
func (p *Peer) NextCallbackID() int64 {
	return p.callbackID.Add(1)
}

// Join is a convenience wrapper over the session.
func (p *Peer) Join(ctx context.Context, channel string) error {
	return p.session.Join(ctx, channel)
}

// Close detaches the peer from the bus.
func (p *Peer) Close() error {
	return p.session.Close()
}
