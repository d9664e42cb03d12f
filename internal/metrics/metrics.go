// Package metrics exposes relay-wide prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently attached bus sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collabrelay",
		Name:      "active_connections",
		Help:      "Number of attached relay sessions.",
	})

	// MessagesDelivered counts deliveries by routing pattern.
	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "messages_delivered_total",
		Help:      "Messages delivered to endpoints, by routing pattern.",
	}, []string{"pattern"})

	// MessagesDropped counts messages that could not be delivered or were
	// rejected by policy.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped before delivery, by reason.",
	}, []string{"reason"})

	// ChannelJoins counts join attempts by outcome.
	ChannelJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "channel_joins_total",
		Help:      "Channel join attempts, by outcome.",
	}, []string{"outcome"})
)

// Routing pattern labels.
const (
	PatternBroadcast        = "broadcast"
	PatternRequest          = "request"
	PatternResponse         = "response"
	PatternDirectRequest    = "direct_request"
	PatternDirectResponse   = "direct_response"
	PatternServiceBroadcast = "service_broadcast"
)

// Drop reason labels.
const (
	ReasonPolicy         = "policy"
	ReasonNoTarget       = "no_target"
	ReasonMailboxFull    = "mailbox_full"
	ReasonPublishFailure = "publish_failure"
	ReasonUnknownType    = "unknown_type"
)

// Join outcome labels.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)
