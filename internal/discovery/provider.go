package discovery

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"collabrelay/internal/client"
	"collabrelay/pkg/types"
)

// Provider advertises one named capability on the bus and handles the
// claim protocol. A provider attached under a real user is permanently
// dedicated to that user and answers discovery with "ready". A provider
// attached under the superuser is an unclaimed pool instance: it answers
// "available" until the first startServiceRequest wins the claim, at which
// point it joins the claiming user's channel and turns "ready".
type Provider struct {
	peer    *client.Peer
	service string
	log     *zap.SugaredLogger

	mu      sync.Mutex
	user    string
	claimed bool
	subs    []*client.Subscription
}

func NewProvider(peer *client.Peer, service string, log *zap.SugaredLogger) *Provider {
	p := &Provider{peer: peer, service: service, log: log}
	if peer.User() != types.SuperUser {
		p.user = peer.User()
		p.claimed = true
	}
	return p
}

// Start registers the protocol handlers and, for a dedicated provider,
// announces readiness on the user's channel.
func (p *Provider) Start(ctx context.Context) error {
	p.subs = append(p.subs,
		p.peer.Subscribe(types.MessageTypeDiscoverServiceRequest, p.handleDiscover),
		p.peer.Subscribe(types.MessageTypeStartServiceRequest, p.handleStart),
		p.peer.Subscribe(types.MessageTypeShutdownService, p.handleShutdown),
	)
	p.mu.Lock()
	claimed, user := p.claimed, p.user
	p.mu.Unlock()
	if claimed {
		p.sendStatus(user, types.ServiceStatusReady, "")
	}
	return nil
}

// Stop announces shutdown and unregisters the handlers.
func (p *Provider) Stop() {
	p.mu.Lock()
	user := p.user
	if user == "" {
		user = p.peer.User()
	}
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	p.sendStatus(user, types.ServiceStatusUnavailable, "Shutdown")
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Service returns the capability name this provider advertises.
func (p *Provider) Service() string { return p.service }

func (p *Provider) forMe(data types.Payload) bool {
	return data.GetString(types.FieldService) == p.service
}

func (p *Provider) handleDiscover(_ string, data types.Payload) {
	if !p.forMe(data) {
		return
	}
	p.mu.Lock()
	claimed, user := p.claimed, p.user
	p.mu.Unlock()

	var status string
	switch {
	case claimed && data.Username() == user:
		status = types.ServiceStatusReady
	case !claimed:
		status = types.ServiceStatusAvailable
	default:
		// Dedicated to somebody else, invisible to this requester.
		return
	}
	response := copyCorrelation(data)
	response[types.FieldStatus] = status
	if err := p.peer.Session().Response(types.MessageTypeDiscoverServiceResponse, response); err != nil {
		p.log.Warnw("discovery response failed", "service", p.service, "error", err)
	}
}

// handleStart resolves claim races by arrival order: the first request
// flips the claimed flag under the lock, every later one is rejected.
func (p *Provider) handleStart(_ string, data types.Payload) {
	if !p.forMe(data) {
		return
	}
	username := data.Username()

	p.mu.Lock()
	if p.claimed {
		p.mu.Unlock()
		response := copyCorrelation(data)
		response[types.FieldStatus] = types.ServiceStatusUnavailable
		response[types.FieldError] = ErrClaimConflict.Error()
		_ = p.peer.Session().DirectResponse(types.MessageTypeStartServiceResponse, response)
		return
	}
	p.claimed = true
	p.user = username
	p.mu.Unlock()

	response := copyCorrelation(data)
	response[types.FieldStatus] = types.ServiceStatusStarting
	if err := p.peer.Session().DirectResponse(types.MessageTypeStartServiceResponse, response); err != nil {
		p.log.Warnw("start response failed", "service", p.service, "error", err)
	}
	p.sendStatus(username, types.ServiceStatusStarting, "")

	if err := p.peer.Join(context.Background(), username); err != nil {
		p.log.Errorw("claimed channel join failed", "service", p.service, "user", username, "error", err)
		p.sendStatus(username, types.ServiceStatusUnavailable, err.Error())
		return
	}
	p.sendStatus(username, types.ServiceStatusReady, "")
	_ = p.peer.Session().ServiceBroadcast(types.MessageTypeServiceReady, types.Payload{
		types.FieldService:  p.service,
		types.FieldUsername: username,
	})
}

// handleShutdown disposes the provider when its claiming user asks for it.
func (p *Provider) handleShutdown(_ string, data types.Payload) {
	if !p.forMe(data) {
		return
	}
	p.mu.Lock()
	claimed, user := p.claimed, p.user
	p.mu.Unlock()
	if !claimed || data.Username() != user {
		return
	}
	p.log.Infow("provider shutdown requested", "service", p.service, "user", user)
	p.Stop()
}

func (p *Provider) sendStatus(user, status, errText string) {
	data := types.Payload{
		types.FieldUsername: user,
		types.FieldService:  p.service,
		types.FieldStatus:   status,
	}
	if errText != "" {
		data[types.FieldError] = errText
	}
	if err := p.peer.Session().Broadcast(types.MessageTypeServiceStatusChange, data); err != nil {
		p.log.Warnw("status broadcast failed", "service", p.service, "status", status, "error", err)
	}
}

// copyCorrelation carries the fields a reply must echo so that routing and
// callback matching line up on the requester's side.
func copyCorrelation(request types.Payload) types.Payload {
	response := types.Payload{}
	for _, field := range []string{
		types.FieldService,
		types.FieldRequestSenderID,
		types.FieldUsername,
		types.FieldCallbackID,
	} {
		if request.Has(field) {
			response[field] = request[field]
		}
	}
	return response
}
