package server

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	websocketWriteTimeout = 10 * time.Second
	websocketPongTimeout  = 60 * time.Second
	websocketPingInterval = 50 * time.Second
	websocketMaxFrameSize = 1 << 20
)

type relayConnection struct {
	handler *httpHandler
	conn    *websocket.Conn
	member  *Member
	userID  string
	logger  *zap.Logger
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	claims := sessionClaims(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	relay := &relayConnection{
		handler: h,
		conn:    conn,
		member:  h.hub.Register(claims.Username),
		userID:  claims.UserID,
		logger:  h.logger.With(zap.String("user_id", claims.UserID)),
	}
	relay.logger.Info("relay connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		relay.writeLoop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	relay.readLoop(ctx)
	cancel()

	h.hub.Unregister(relay.member)
	<-writerDone
	_ = conn.Close()
	relay.logger.Info("relay connection closed")
}

func (r *relayConnection) readLoop(ctx context.Context) {
	r.conn.SetReadLimit(websocketMaxFrameSize)
	_ = r.conn.SetReadDeadline(time.Now().Add(websocketPongTimeout))
	r.conn.SetPongHandler(func(string) error {
		return r.conn.SetReadDeadline(time.Now().Add(websocketPongTimeout))
	})

	for {
		_, payload, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Info("relay connection dropped", zap.Error(err))
			}
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(websocketPongTimeout))
		r.handleFrame(ctx, payload)
	}
}

func (r *relayConnection) writeLoop() {
	ticker := time.NewTicker(websocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-r.member.Messages():
			_ = r.conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if !ok {
				_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := r.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				r.logger.Info("relay write failed", zap.Error(err))
				_ = r.conn.Close()
				r.drain()
				return
			}
		case <-ticker.C:
			if err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketWriteTimeout)); err != nil {
				_ = r.conn.Close()
				r.drain()
				return
			}
		}
	}
}

func (r *relayConnection) drain() {
	for range r.member.Messages() {
	}
}

func (r *relayConnection) handleFrame(ctx context.Context, payload []byte) {
	envelope, err := protocol.Decode(payload)
	if err != nil {
		r.logger.Warn("ignoring malformed relay frame", zap.Error(err))
		return
	}

	switch envelope.Type {
	case protocol.TypeJoinRoom:
		r.join(ctx, envelope.RoomID)
	case protocol.TypeLeaveRoom:
		r.handler.hub.Leave(envelope.RoomID.Int64(), r.member)
	case protocol.TypeChat:
		r.chat(ctx, envelope)
	case protocol.TypeDeleteMessage:
		r.delete(ctx, envelope)
	default:
		r.logger.Debug("ignoring client frame", zap.String("type", string(envelope.Type)))
	}
}

func (r *relayConnection) join(ctx context.Context, roomID protocol.RoomID) {
	if err := r.handler.rooms.EnsureMembership(ctx, roomID.Int64(), r.userID); err != nil {
		r.logger.Warn("join rejected", zap.Int64("room_id", roomID.Int64()), zap.Error(err))
		return
	}
	r.handler.hub.Join(roomID.Int64(), r.member)
}

func (r *relayConnection) chat(ctx context.Context, envelope protocol.Envelope) {
	if !r.inRoom(envelope.RoomID) {
		return
	}
	shape, err := protocol.ChatShape(envelope)
	if err != nil {
		r.logger.Warn("ignoring undecodable shape", zap.Int64("room_id", envelope.RoomID.Int64()), zap.Error(err))
		return
	}
	if err := r.handler.rooms.AppendShape(ctx, envelope.RoomID.Int64(), r.userID, shape); err != nil {
		return
	}
	frame, err := protocol.EncodeChat(envelope.RoomID, shape)
	if err != nil {
		return
	}
	r.handler.hub.Broadcast(envelope.RoomID.Int64(), r.member, frame)
}

func (r *relayConnection) delete(ctx context.Context, envelope protocol.Envelope) {
	if !r.inRoom(envelope.RoomID) {
		return
	}
	if !envelope.MessageID.Assigned() {
		r.logger.Warn("ignoring delete without message id", zap.Int64("room_id", envelope.RoomID.Int64()))
		return
	}
	if err := r.handler.rooms.DeleteShape(ctx, envelope.RoomID.Int64(), envelope.MessageID); err != nil {
		return
	}
	frame, err := protocol.EncodeDelete(envelope.RoomID, envelope.MessageID)
	if err != nil {
		return
	}
	r.handler.hub.Broadcast(envelope.RoomID.Int64(), r.member, frame)
}

func (r *relayConnection) inRoom(roomID protocol.RoomID) bool {
	if roomID == 0 || r.handler.hub.RoomOf(r.member) != roomID.Int64() {
		r.logger.Warn("ignoring frame for a room the connection has not joined", zap.Int64("room_id", roomID.Int64()))
		return false
	}
	return true
}
