package channel

import (
	"context"

	"collabrelay/internal/metrics"
	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// session is one endpoint's view of the router. All sender-id fields are
// stamped here from the real session identity; values supplied by the
// sender are overwritten, never trusted.
type session struct {
	router   *Router
	endpoint interfaces.Endpoint
}

func (s *session) ID() string { return s.endpoint.ID() }

func (s *session) Join(_ context.Context, channel string) error {
	if channel == "" {
		return types.ErrMissingChannel
	}
	s.router.mu.Lock()
	defer s.router.mu.Unlock()
	if _, attached := s.router.sessions[s.ID()]; !attached {
		return ErrSessionClosed
	}
	s.router.joinLocked(s, channel)
	return nil
}

func (s *session) Leave(_ context.Context, channel string) error {
	s.router.mu.Lock()
	defer s.router.mu.Unlock()
	s.router.leaveLocked(s, channel)
	return nil
}

func (s *session) Broadcast(messageType string, data types.Payload) error {
	if !s.router.checkSend(s, messageType, data) {
		return nil
	}
	s.fanOut(metrics.PatternBroadcast, messageType, data.Clone())
	return nil
}

func (s *session) Request(messageType string, data types.Payload) error {
	if !s.router.checkSend(s, messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldRequestSenderID] = s.ID()
	s.fanOut(metrics.PatternRequest, messageType, stamped)
	return nil
}

func (s *session) Response(messageType string, data types.Payload) error {
	if !s.router.checkSend(s, messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldResponseSenderID] = s.ID()
	s.direct(metrics.PatternResponse, messageType, stamped, stamped.GetString(types.FieldRequestSenderID))
	return nil
}

func (s *session) DirectRequest(messageType string, data types.Payload) error {
	if !s.router.checkSend(s, messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldRequestSenderID] = s.ID()
	s.direct(metrics.PatternDirectRequest, messageType, stamped, stamped.GetString(types.FieldSocketID))
	return nil
}

func (s *session) DirectResponse(messageType string, data types.Payload) error {
	if !s.router.checkSend(s, messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldResponseSenderID] = s.ID()
	// Older clients still read the responder id out of socketID.
	stamped[types.FieldSocketID] = s.ID()
	s.direct(metrics.PatternDirectResponse, messageType, stamped, stamped.GetString(types.FieldRequestSenderID))
	return nil
}

func (s *session) ServiceBroadcast(messageType string, data types.Payload) error {
	if !s.router.checkSend(s, messageType, data) {
		return nil
	}
	stamped := data.Clone()
	stamped[types.FieldSocketID] = s.ID()

	s.router.mu.RLock()
	observers := make([]*session, 0, len(s.router.members[types.SuperUser]))
	for id, target := range s.router.members[types.SuperUser] {
		if id == s.ID() {
			continue
		}
		observers = append(observers, target)
	}
	s.router.mu.RUnlock()

	for _, target := range observers {
		s.router.deliver(target, metrics.PatternServiceBroadcast, messageType, stamped)
	}
	return nil
}

func (s *session) Close() error {
	s.router.detach(s)
	return nil
}

func (s *session) fanOut(pattern, messageType string, data types.Payload) {
	for _, target := range s.router.broadcastTargets(s, data.Username()) {
		s.router.deliver(target, pattern, messageType, data)
	}
}

func (s *session) direct(pattern, messageType string, data types.Payload, targetID string) {
	if targetID == "" || targetID == s.ID() {
		// Self-addressed responses are echoes of a forged id; drop them.
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonNoTarget).Inc()
		return
	}
	target := s.router.lookup(targetID)
	if target == nil {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonNoTarget).Inc()
		s.router.log.Debugw("direct target gone", "to", targetID, "type", messageType)
		return
	}
	s.router.deliver(target, pattern, messageType, data)
}
