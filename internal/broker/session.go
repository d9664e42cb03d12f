package broker

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"collabrelay/internal/metrics"
	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// session is one connection's broker adapter. The inbox queue and the
// consume goroutine are exclusively owned by the session; cross-connection
// coordination happens only through published messages.
type session struct {
	bridge   *Bridge
	endpoint interfaces.Endpoint
	inbox    string

	mu      sync.Mutex
	channel *amqp.Channel
	closed  bool
}

func (s *session) ID() string { return s.inbox }

// Join binds the inbox to the channel's routing pattern. The bind call is
// synchronous on the broker channel, so when Join returns nil a message
// published immediately afterwards is already routable to this inbox.
func (s *session) Join(_ context.Context, channel string) error {
	if channel == "" {
		return types.ErrMissingChannel
	}
	ch, err := s.liveChannel()
	if err != nil {
		return err
	}
	return ch.QueueBind(s.inbox, topicPattern(channel), Exchange, false, nil)
}

func (s *session) Leave(_ context.Context, channel string) error {
	ch, err := s.liveChannel()
	if err != nil {
		return err
	}
	return ch.QueueUnbind(s.inbox, topicPattern(channel), Exchange, nil)
}

func (s *session) Broadcast(messageType string, data types.Payload) error {
	if !s.checkSend(messageType, data) {
		return nil
	}
	return s.publishScoped(metrics.PatternBroadcast, messageType, data.Clone())
}

func (s *session) Request(messageType string, data types.Payload) error {
	if !s.checkSend(messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldRequestSenderID] = s.inbox
	return s.publishScoped(metrics.PatternRequest, messageType, stamped)
}

func (s *session) Response(messageType string, data types.Payload) error {
	if !s.checkSend(messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldResponseSenderID] = s.inbox
	return s.publishDirect(metrics.PatternResponse, messageType, stamped, stamped.GetString(types.FieldRequestSenderID))
}

func (s *session) DirectRequest(messageType string, data types.Payload) error {
	if !s.checkSend(messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldRequestSenderID] = s.inbox
	return s.publishDirect(metrics.PatternDirectRequest, messageType, stamped, stamped.GetString(types.FieldSocketID))
}

func (s *session) DirectResponse(messageType string, data types.Payload) error {
	if !s.checkSend(messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldResponseSenderID] = s.inbox
	// Older clients still read the responder id out of socketID.
	stamped[types.FieldSocketID] = s.inbox
	return s.publishDirect(metrics.PatternDirectResponse, messageType, stamped, stamped.GetString(types.FieldRequestSenderID))
}

func (s *session) ServiceBroadcast(messageType string, data types.Payload) error {
	if !s.checkSend(messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldSocketID] = s.inbox
	return s.publish(metrics.PatternServiceBroadcast, messageType, stamped, Exchange, routingKey(types.SuperUser))
}

// Close tears down the broker channel. In-flight acknowledgements are not
// awaited; the exclusive inbox auto-deletes with the channel.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	metrics.ActiveConnections.Dec()
	return s.channel.Close()
}

// publishScoped sends a broadcast-style message to the username scope.
// There is no separate superuser publish: superuser inboxes are bound with
// the match-anything pattern and receive every scoped key.
func (s *session) publishScoped(pattern, messageType string, data types.Payload) error {
	return s.publish(pattern, messageType, data, Exchange, routingKey(data.Username()))
}

// publishDirect sends point-to-point to a session inbox through the
// default exchange, bypassing the outbox entirely.
func (s *session) publishDirect(pattern, messageType string, data types.Payload, targetInbox string) error {
	if targetInbox == "" || targetInbox == s.inbox {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonNoTarget).Inc()
		return nil
	}
	return s.publish(pattern, messageType, data, "", targetInbox)
}

func (s *session) publish(pattern, messageType string, data types.Payload, exchange, key string) error {
	ch, err := s.liveChannel()
	if err != nil {
		return err
	}
	msg, err := publishing(messageType, s.inbox, data)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(context.Background(), exchange, key, false, false, msg); err != nil {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonPublishFailure).Inc()
		s.bridge.log.Warnw("broker publish failed", "inbox", s.inbox, "type", messageType, "error", err)
		return err
	}
	metrics.MessagesDelivered.WithLabelValues(pattern).Inc()
	return nil
}

// consume drains the inbox queue until the channel closes. Deliveries that
// originated from this session are discarded: the broker fans out to the
// sender's own inbox through the wildcard binding.
func (s *session) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var env types.Envelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			s.bridge.log.Warnw("undecodable broker message", "inbox", s.inbox, "error", err)
			continue
		}
		if env.Origin == s.inbox {
			continue
		}
		if err := s.endpoint.Deliver(env.Type, env.Data); err != nil {
			metrics.MessagesDropped.WithLabelValues(metrics.ReasonMailboxFull).Inc()
			s.bridge.log.Warnw("inbox delivery failed", "inbox", s.inbox, "type", env.Type, "error", err)
		}
	}
	s.bridge.log.Infow("broker session consumer stopped", "inbox", s.inbox)
}

func (s *session) liveChannel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.channel, nil
}

func (s *session) checkSend(messageType string, data types.Payload) bool {
	if err := s.bridge.policy.CheckSend(s.endpoint.User(), messageType, data); err != nil {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonPolicy).Inc()
		s.bridge.log.Infow("message rejected", "inbox", s.inbox, "type", messageType, "reason", err)
		return false
	}
	return true
}

func encode(env types.Envelope) ([]byte, error) {
	return json.Marshal(env)
}
