package client

import (
	"context"
	"errors"

	"collabrelay/pkg/types"
)

// ErrCallTimeout is returned when no response arrived before the context
// was done.
var ErrCallTimeout = errors.New("no response before deadline")

// Call sends a request and resolves with the first response carrying the
// same callback id. Convenient, but note that several parties may respond
// to a request; callers that need every reply subscribe directly.
func (p *Peer) Call(ctx context.Context, requestType, responseType string, data types.Payload) (types.Payload, error) {
	cbID := p.NextCallbackID()
	payload := data.Clone()
	payload[types.FieldCallbackID] = cbID

	replies := make(chan types.Payload, 1)
	sub := p.Subscribe(responseType, func(_ string, reply types.Payload) {
		if reply.CallbackID() != cbID {
			return
		}
		select {
		case replies <- reply:
		default:
		}
	})
	defer sub.Unsubscribe()

	if err := p.session.Request(requestType, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		if errText := reply.GetString(types.FieldError); errText != "" {
			return reply, errors.New(errText)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ErrCallTimeout
	}
}
