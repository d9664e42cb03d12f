package discovery

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"collabrelay/internal/client"
	"collabrelay/pkg/types"
)

const (
	// DefaultWindow bounds how long discovery collects replies.
	DefaultWindow = 2 * time.Second

	// DefaultCoolDown is the pause before re-discovery after losing a
	// provider. It exceeds the window so a retry cannot land on the same
	// not-yet-restarted instance.
	DefaultCoolDown = 5 * time.Second
)

// ProviderInfo is one discovery reply, reduced to what a consumer needs to
// pick and claim a provider.
type ProviderInfo struct {
	Service  string
	Username string
	Status   string
	SocketID string
}

// Discoverer finds and claims capability providers. Replies are ranked
// unavailable < available < starting < ready; a ready reply ends the
// window early because no later reply can beat it.
type Discoverer struct {
	peer     *client.Peer
	clk      clock.Clock
	window   time.Duration
	coolDown time.Duration
	log      *zap.SugaredLogger
}

func NewDiscoverer(peer *client.Peer, clk clock.Clock, log *zap.SugaredLogger) *Discoverer {
	return &Discoverer{
		peer:     peer,
		clk:      clk,
		window:   DefaultWindow,
		coolDown: DefaultCoolDown,
		log:      log,
	}
}

// SetWindow overrides the discovery window. Zero keeps the default.
func (d *Discoverer) SetWindow(window time.Duration) {
	if window > 0 {
		d.window = window
	}
}

// SetCoolDown overrides the re-discovery pause used by Monitor. It should
// exceed the window so a retry cannot land on the same not-yet-restarted
// instance. Zero keeps the default.
func (d *Discoverer) SetCoolDown(coolDown time.Duration) {
	if coolDown > 0 {
		d.coolDown = coolDown
	}
}

// Discover broadcasts a discovery request and returns the best-ranked
// reply received within the window, or ErrDiscoveryTimeout if nobody
// answered.
func (d *Discoverer) Discover(ctx context.Context, service, username string) (*ProviderInfo, error) {
	callbackID := d.peer.NextCallbackID()
	replies := make(chan types.Payload, 16)
	sub := d.peer.Subscribe(types.MessageTypeDiscoverServiceResponse, func(_ string, data types.Payload) {
		if data.CallbackID() != callbackID {
			return
		}
		select {
		case replies <- data.Clone():
		default:
		}
	})
	defer sub.Unsubscribe()

	err := d.peer.Session().Request(types.MessageTypeDiscoverServiceRequest, types.Payload{
		types.FieldCallbackID: callbackID,
		types.FieldUsername:   username,
		types.FieldService:    service,
	})
	if err != nil {
		return nil, err
	}

	timer := d.clk.Timer(d.window)
	defer timer.Stop()

	var best *ProviderInfo
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			if best == nil {
				return nil, ErrDiscoveryTimeout
			}
			return best, nil
		case reply := <-replies:
			info := &ProviderInfo{
				Service:  reply.GetString(types.FieldService),
				Username: reply.GetString(types.FieldUsername),
				Status:   reply.GetString(types.FieldStatus),
				SocketID: reply.GetString(types.FieldResponseSenderID),
			}
			if best == nil || types.ServiceStatusRank(info.Status) > types.ServiceStatusRank(best.Status) {
				best = info
			}
			if best.Status == types.ServiceStatusReady {
				return best, nil
			}
		}
	}
}

// Claim dedicates an available provider to username. A ready provider is
// already ours. The provider rejects the claim if a concurrent requester
// beat us to it, which surfaces as ErrClaimConflict and means the caller
// must re-discover.
func (d *Discoverer) Claim(ctx context.Context, username string, info *ProviderInfo) error {
	switch info.Status {
	case types.ServiceStatusReady:
		return nil
	case types.ServiceStatusAvailable:
	default:
		return ErrClaimConflict
	}

	callbackID := d.peer.NextCallbackID()
	replies := make(chan types.Payload, 1)
	sub := d.peer.Subscribe(types.MessageTypeStartServiceResponse, func(_ string, data types.Payload) {
		if data.CallbackID() != callbackID {
			return
		}
		select {
		case replies <- data.Clone():
		default:
		}
	})
	defer sub.Unsubscribe()

	err := d.peer.Session().DirectRequest(types.MessageTypeStartServiceRequest, types.Payload{
		types.FieldCallbackID: callbackID,
		types.FieldUsername:   username,
		types.FieldService:    info.Service,
		types.FieldSocketID:   info.SocketID,
	})
	if err != nil {
		return err
	}

	timer := d.clk.Timer(d.window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrDiscoveryTimeout
	case reply := <-replies:
		if reply.GetString(types.FieldError) != "" || reply.GetString(types.FieldStatus) == types.ServiceStatusUnavailable {
			return ErrClaimConflict
		}
		return nil
	}
}

// Monitor watches serviceStatusChange broadcasts for the claimed provider
// and invokes onLost after the cool-down when it reports unavailable.
// Unsubscribe the returned subscription to stop watching.
func (d *Discoverer) Monitor(ctx context.Context, service, username string, onLost func()) *client.Subscription {
	return d.peer.Subscribe(types.MessageTypeServiceStatusChange, func(_ string, data types.Payload) {
		if data.GetString(types.FieldService) != service ||
			data.Username() != username ||
			data.GetString(types.FieldStatus) != types.ServiceStatusUnavailable {
			return
		}
		go func() {
			timer := d.clk.Timer(d.coolDown)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
				onLost()
			}
		}()
	})
}
