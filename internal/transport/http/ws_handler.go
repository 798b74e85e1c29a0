package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

var errSlowConsumer = errors.New("slow consumer")

// WSHandler authenticates and upgrades HTTP connections and bridges them to core.Conn.
type WSHandler struct {
	hub      *core.Hub
	verifier *auth.Verifier
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, verifier *auth.Verifier, cfg *config.Config, logger *zerolog.Logger) http.Handler {
	return &WSHandler{hub: hub, verifier: verifier, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Authenticate(credentialFromRequest(r))
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws credential rejected")
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := h.hub.Connect(identity.UserID, identity.Username)
	defer h.hub.Disconnect(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errSlowConsumer):
		status = websocket.StatusPolicyViolation
		reason = err.Error()
		h.log.Warn().Str("conn_id", client.ID).Str("user_id", client.UserID).Msg("closing slow consumer")
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF):
		if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			break
		}
		status = websocket.StatusInternalError
		reason = "internal error"
		h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if !limiter.Allow() {
			h.hub.Reject(client, inbound.Ref, core.RateLimitedError())
			continue
		}

		cmd, err := inboundToCommand(inbound)
		if err != nil {
			h.hub.Reject(client, inbound.Ref, err)
			continue
		}
		if err := h.hub.Handle(ctx, client, cmd); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Str("type", inbound.Type).Msg("command failed")
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		select {
		case event := <-client.Events:
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			if client.Overflowed() {
				return errSlowConsumer
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	timeout := h.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}
