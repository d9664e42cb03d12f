package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// MessageHandler routes one inbound client message. The relay dispatcher
// implements it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, endpoint interfaces.Endpoint, session interfaces.Session, msg types.Message)
}

// Handler upgrades HTTP requests, authenticates them, attaches the
// resulting connection to the bus, and pumps its inbound frames through
// the dispatcher.
type Handler struct {
	bus        interfaces.Bus
	auth       interfaces.Authenticator
	dispatcher MessageHandler
	upgrader   websocket.Upgrader
	log        *zap.SugaredLogger
}

func NewHandler(bus interfaces.Bus, auth interfaces.Authenticator, dispatcher MessageHandler, log *zap.SugaredLogger) *Handler {
	return &Handler{
		bus:        bus,
		auth:       auth,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Non-browser tooling clients carry no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r.Context(), &interfaces.ConnMetadata{
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header,
		Query:      r.URL.Query(),
	})
	if err != nil {
		h.log.Infow("connection rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(sock, user, h.log)
	session, err := h.bus.Attach(r.Context(), conn)
	if err != nil {
		h.log.Errorw("bus attach failed", "user", user, "error", err)
		_ = conn.Close()
		return
	}
	h.log.Infow("client connected", "user", user, "conn", conn.ID())

	go h.readLoop(conn, session)
}

func (h *Handler) readLoop(conn *Connection, session interfaces.Session) {
	defer func() {
		_ = session.Close()
		_ = conn.Close()
		h.log.Infow("client disconnected", "user", conn.User(), "conn", conn.ID())
	}()

	for {
		msg, err := conn.NextMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debugw("read failed", "conn", conn.ID(), "error", err)
			}
			return
		}
		if msg.Type == "" {
			continue
		}
		if msg.Data == nil {
			msg.Data = types.Payload{}
		}
		h.dispatcher.HandleMessage(context.Background(), conn, session, *msg)
	}
}
