// Package channel implements the in-process message bus. It is the
// reference semantics for the relay's routing patterns; the broker bridge
// must be indistinguishable from it to attached endpoints.
package channel

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"collabrelay/internal/metrics"
	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// Router routes messages between attached endpoints using per-connection
// channel membership sets. Channels are pure addressing: no storage, no
// ordering across connections.
type Router struct {
	mu       sync.RWMutex
	sessions map[string]*session            // session id -> session
	members  map[string]map[string]*session // channel -> session id -> session

	policy interfaces.SendPolicy
	log    *zap.SugaredLogger
}

// NewRouter creates an empty router. The send policy gates every message
// before routing; pass auth.AllowAllSends{} for the default behaviour.
func NewRouter(policy interfaces.SendPolicy, log *zap.SugaredLogger) *Router {
	return &Router{
		sessions: make(map[string]*session),
		members:  make(map[string]map[string]*session),
		policy:   policy,
		log:      log,
	}
}

// Attach registers an endpoint and implicitly joins it to the wildcard
// channel, mirroring the broker bridge's everyone binding.
func (r *Router) Attach(_ context.Context, endpoint interfaces.Endpoint) (interfaces.Session, error) {
	if endpoint == nil {
		return nil, ErrNilEndpoint
	}
	s := &session{router: r, endpoint: endpoint}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[endpoint.ID()]; exists {
		return nil, ErrDuplicateSession
	}
	r.sessions[endpoint.ID()] = s
	r.joinLocked(s, types.Wildcard)
	metrics.ActiveConnections.Inc()
	return s, nil
}

func (r *Router) joinLocked(s *session, channel string) {
	set := r.members[channel]
	if set == nil {
		set = make(map[string]*session)
		r.members[channel] = set
	}
	set[s.ID()] = s
}

func (r *Router) leaveLocked(s *session, channel string) {
	set := r.members[channel]
	if set == nil {
		return
	}
	delete(set, s.ID())
	if len(set) == 0 {
		delete(r.members, channel)
	}
}

func (r *Router) detach(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID()]; !exists {
		return
	}
	delete(r.sessions, s.ID())
	for channel := range r.members {
		r.leaveLocked(s, channel)
	}
	metrics.ActiveConnections.Dec()
}

// broadcastTargets collects the destination set for a broadcast-style
// message scoped to username: members of that channel plus the superuser
// observers, deduplicated, never the sender. A wildcard scope delivers to
// wildcard members only, so superuser observers are not hit twice.
func (r *Router) broadcastTargets(sender *session, username string) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]*session)
	collect := func(channel string) {
		for id, s := range r.members[channel] {
			if id == sender.ID() {
				continue
			}
			seen[id] = s
		}
	}
	collect(username)
	if username != types.Wildcard {
		collect(types.SuperUser)
	}

	targets := make([]*session, 0, len(seen))
	for _, s := range seen {
		targets = append(targets, s)
	}
	return targets
}

func (r *Router) lookup(id string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// deliver hands the message to one endpoint, counting failures instead of
// surfacing them to the sender.
func (r *Router) deliver(target *session, pattern, messageType string, data types.Payload) {
	if err := target.endpoint.Deliver(messageType, data); err != nil {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonMailboxFull).Inc()
		r.log.Warnw("delivery failed", "to", target.ID(), "type", messageType, "error", err)
		return
	}
	metrics.MessagesDelivered.WithLabelValues(pattern).Inc()
}

// checkSend applies the per-send policy. A rejected send is dropped with a
// logged reason only; the sender gets no synchronous failure.
func (r *Router) checkSend(sender *session, messageType string, data types.Payload) bool {
	if err := r.policy.CheckSend(sender.endpoint.User(), messageType, data); err != nil {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonPolicy).Inc()
		r.log.Infow("message rejected", "from", sender.ID(), "type", messageType, "reason", err)
		return false
	}
	return true
}
