// Package relay maps every protocol message type to its routing pattern
// and handles the two control messages a client speaks to the relay
// itself.
package relay

import (
	"context"

	"go.uber.org/zap"

	"collabrelay/internal/metrics"
	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

type pattern int

const (
	patternBroadcast pattern = iota
	patternRequest
	patternResponse
	patternDirectRequest
	patternDirectResponse
	patternServiceBroadcast
)

// patterns fixes the delivery rule per message type. Routing is decided
// here and only here; payload contents never change the pattern.
var patterns = map[string]pattern{
	types.MessageTypeProjectConnected:    patternBroadcast,
	types.MessageTypeProjectDisconnected: patternBroadcast,
	types.MessageTypeProjectCreated:      patternBroadcast,

	types.MessageTypeResourceCreated: patternBroadcast,
	types.MessageTypeResourceChanged: patternBroadcast,
	types.MessageTypeResourceDeleted: patternBroadcast,
	types.MessageTypeResourceStored:  patternBroadcast,

	types.MessageTypeMetadataChanged:     patternBroadcast,
	types.MessageTypeGetMetadataRequest:  patternRequest,
	types.MessageTypeGetMetadataResponse: patternResponse,

	types.MessageTypeGetProjectsRequest:  patternRequest,
	types.MessageTypeGetProjectsResponse: patternResponse,
	types.MessageTypeGetProjectRequest:   patternRequest,
	types.MessageTypeGetProjectResponse:  patternResponse,
	types.MessageTypeGetResourceRequest:  patternRequest,
	types.MessageTypeGetResourceResponse: patternResponse,

	types.MessageTypeLiveResourceStarted:         patternRequest,
	types.MessageTypeLiveResourceStartedResponse: patternResponse,
	types.MessageTypeLiveResourceChanged:         patternBroadcast,
	types.MessageTypeLiveMetadataChanged:         patternBroadcast,
	types.MessageTypeGetLiveResourcesRequest:     patternRequest,
	types.MessageTypeGetLiveResourcesResponse:    patternResponse,

	types.MessageTypeContentAssistRequest:  patternRequest,
	types.MessageTypeContentAssistResponse: patternResponse,
	types.MessageTypeNavigationRequest:     patternRequest,
	types.MessageTypeNavigationResponse:    patternResponse,
	types.MessageTypeRenameInFileRequest:   patternRequest,
	types.MessageTypeRenameInFileResponse:  patternResponse,

	types.MessageTypeDiscoverServiceRequest:  patternRequest,
	types.MessageTypeDiscoverServiceResponse: patternResponse,
	types.MessageTypeServiceStatusChange:     patternBroadcast,
	types.MessageTypeStartServiceRequest:     patternDirectRequest,
	types.MessageTypeStartServiceResponse:    patternDirectResponse,
	types.MessageTypeShutdownService:         patternDirectRequest,
	types.MessageTypeServiceReady:            patternServiceBroadcast,
}

// Dispatcher routes inbound client messages onto bus sessions.
type Dispatcher struct {
	joins interfaces.JoinPolicy
	log   *zap.SugaredLogger
}

func NewDispatcher(joins interfaces.JoinPolicy, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{joins: joins, log: log}
}

func (d *Dispatcher) HandleMessage(ctx context.Context, endpoint interfaces.Endpoint, session interfaces.Session, msg types.Message) {
	switch msg.Type {
	case types.MessageTypeConnectToChannel:
		d.connectToChannel(ctx, endpoint, session, msg.Data)
		return
	case types.MessageTypeDisconnectFromChannel:
		d.disconnectFromChannel(ctx, endpoint, session, msg.Data)
		return
	}

	p, known := patterns[msg.Type]
	if !known {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonUnknownType).Inc()
		d.log.Debugw("unknown message type dropped", "type", msg.Type, "user", endpoint.User())
		return
	}

	var err error
	switch p {
	case patternBroadcast:
		err = session.Broadcast(msg.Type, msg.Data)
	case patternRequest:
		err = session.Request(msg.Type, msg.Data)
	case patternResponse:
		err = session.Response(msg.Type, msg.Data)
	case patternDirectRequest:
		err = session.DirectRequest(msg.Type, msg.Data)
	case patternDirectResponse:
		err = session.DirectResponse(msg.Type, msg.Data)
	case patternServiceBroadcast:
		err = session.ServiceBroadcast(msg.Type, msg.Data)
	}
	if err != nil {
		d.log.Warnw("message routing failed", "type", msg.Type, "user", endpoint.User(), "error", err)
	}
}

// connectToChannel gates the join and always answers the requester
// directly, carrying the rejection reason when there is one.
func (d *Dispatcher) connectToChannel(ctx context.Context, endpoint interfaces.Endpoint, session interfaces.Session, data types.Payload) {
	channel := data.GetString(types.FieldChannel)
	reply := func(ok bool, errText string) {
		response := types.Payload{"connectedToChannel": ok}
		if errText != "" {
			response[types.FieldError] = errText
		}
		if err := endpoint.Deliver(types.MessageTypeConnectToChannel, response); err != nil {
			d.log.Debugw("join reply failed", "user", endpoint.User(), "error", err)
		}
	}

	if channel == "" {
		metrics.ChannelJoins.WithLabelValues(metrics.OutcomeRejected).Inc()
		reply(false, types.ErrMissingChannel.Error())
		return
	}
	if err := d.joins.CheckJoin(endpoint.User(), channel); err != nil {
		metrics.ChannelJoins.WithLabelValues(metrics.OutcomeRejected).Inc()
		d.log.Infow("channel join rejected", "user", endpoint.User(), "channel", channel, "error", err)
		reply(false, err.Error())
		return
	}
	if err := session.Join(ctx, channel); err != nil {
		metrics.ChannelJoins.WithLabelValues(metrics.OutcomeRejected).Inc()
		d.log.Warnw("channel join failed", "user", endpoint.User(), "channel", channel, "error", err)
		reply(false, err.Error())
		return
	}
	metrics.ChannelJoins.WithLabelValues(metrics.OutcomeAccepted).Inc()
	reply(true, "")
}

func (d *Dispatcher) disconnectFromChannel(ctx context.Context, endpoint interfaces.Endpoint, session interfaces.Session, data types.Payload) {
	channel := data.GetString(types.FieldChannel)
	if channel != "" {
		if err := session.Leave(ctx, channel); err != nil {
			d.log.Debugw("channel leave failed", "user", endpoint.User(), "channel", channel, "error", err)
		}
	}
	if err := endpoint.Deliver(types.MessageTypeDisconnectFromChannel, types.Payload{
		"disconnectedFromChannel": true,
	}); err != nil {
		d.log.Debugw("leave reply failed", "user", endpoint.User(), "error", err)
	}
}
