package relay

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/proto"
)

// WSHandler upgrades relay connections. Each connection becomes one hub client
// that joins at most one room at a time.
type WSHandler struct {
	hub    *Hub
	buffer int
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *Hub, buffer int, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, buffer: buffer, log: logger}
}

// relayConn pumps frames between one socket and its hub client.
type relayConn struct {
	conn   *websocket.Conn
	client *Client
	log    zerolog.Logger
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	// Relay peers are programs, not browsers, so origin checks are skipped.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("ws accept error")
		return
	}

	client := NewClient(uuid.NewString(), h.buffer)
	rc := &relayConn{
		conn:   conn,
		client: client,
		log:    h.log.With().Str("client_id", client.ID).Logger(),
	}
	rc.log.Debug().Str("remote", r.RemoteAddr).Msg("relay connection opened")

	h.hub.RegisterClient(client)
	// Queued commands (a final leave or broadcast) reach the hub before the
	// client is dropped and its presence withdrawn.
	defer h.hub.UnregisterClient(client)

	status, reason := rc.serve(r.Context())
	conn.Close(status, reason)
}

// serve runs both pumps until one stops and returns the close frame to send.
func (rc *relayConn) serve(ctx context.Context) (websocket.StatusCode, string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- rc.readFrames(ctx) }()
	go func() { errCh <- rc.writeEvents(ctx) }()

	err := <-errCh
	cancel()
	<-errCh

	return rc.closeFor(err)
}

func (rc *relayConn) closeFor(err error) (websocket.StatusCode, string) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return websocket.StatusNormalClosure, "closing"
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		rc.log.Debug().Msg("peer closed relay connection")
		return websocket.StatusNormalClosure, "closing"
	case -1:
		rc.log.Warn().Err(err).Msg("relay connection failed")
		return websocket.StatusInternalError, err.Error()
	default:
		rc.log.Warn().Err(err).Msg("peer closed relay connection abnormally")
		return websocket.CloseStatus(err), err.Error()
	}
}

// readFrames maps inbound frames to hub commands. Frames that fail protocol
// checks are answered with an error frame and the connection stays open.
func (rc *relayConn) readFrames(ctx context.Context) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, rc.conn, &inbound); err != nil {
			return err
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			rc.log.Warn().Err(err).Str("type", inbound.Type).Msg("unreadable inbound frame")
			return err
		}
		if protoErr != nil {
			rc.log.Debug().Str("type", inbound.Type).Str("code", protoErr.Code).Msg("rejecting inbound frame")
			if err := wsjson.Write(ctx, rc.conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); err != nil {
				return err
			}
			continue
		}
		if cmd.Kind == CommandJoin {
			rc.log.Debug().Str("room", cmd.Room).Str("presence_key", cmd.Key).Bool("self", cmd.Self).Msg("join requested")
		}

		select {
		case rc.client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeEvents sends hub events until the hub closes the client's queue.
func (rc *relayConn) writeEvents(ctx context.Context) error {
	for {
		select {
		case event, ok := <-rc.client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, rc.conn, outboundFromEvent(event)); err != nil {
				rc.log.Error().Err(err).Str("room", event.Room).Msg("write relay event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
