package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"collabrelay/internal/metrics"
	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// Exchange is the shared outbox all relay processes publish to.
const Exchange = "collabrelay"

// Bridge attaches endpoints to the broker. Each session owns one exclusive
// auto-delete inbox queue; the outbox exchange is shared.
type Bridge struct {
	dialer *Dialer
	policy interfaces.SendPolicy
	log    *zap.SugaredLogger
}

func NewBridge(dialer *Dialer, policy interfaces.SendPolicy, log *zap.SugaredLogger) *Bridge {
	return &Bridge{dialer: dialer, policy: policy, log: log}
}

// Attach sets up the session topology: an anonymous exclusive inbox, the
// topic outbox, and the everyone binding so wildcard broadcasts always
// arrive. It returns only after all declarations are acknowledged.
func (b *Bridge) Attach(ctx context.Context, endpoint interfaces.Endpoint) (interfaces.Session, error) {
	if endpoint == nil {
		return nil, ErrNilEndpoint
	}
	conn, err := b.dialer.Connection(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	inbox, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", false, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(inbox.Name, types.Everyone, Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(inbox.Name, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	s := &session{
		bridge:   b,
		channel:  ch,
		inbox:    inbox.Name,
		endpoint: endpoint,
	}
	go s.consume(deliveries)
	metrics.ActiveConnections.Inc()
	b.log.Infow("broker session attached", "inbox", inbox.Name, "user", endpoint.User())
	return s, nil
}

// topicPattern translates a relay channel name into an AMQP binding
// pattern. The superuser channel binds the match-anything pattern, which is
// how a superuser session observes all traffic without extra publishes.
func topicPattern(channel string) string {
	switch channel {
	case types.SuperUser:
		return "*"
	case types.Wildcard:
		return types.Everyone
	default:
		return channel
	}
}

// routingKey translates a payload's username scope into a publish key.
// The wildcard scope becomes the reserved everyone key; the superuser name
// passes through untranslated so wildcard and superuser scopes stay
// independently addressable.
func routingKey(username string) string {
	if username == types.Wildcard {
		return types.Everyone
	}
	return username
}

func publishing(messageType, origin string, data types.Payload) (amqp.Publishing, error) {
	body, err := encode(types.Envelope{Type: messageType, Origin: origin, Data: data})
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{ContentType: "application/json", Body: body}, nil
}
