// Package syncclient speaks the relay protocol for one room: it broadcasts local
// shape mutations and folds inbound messages into the room's shape store.
package syncclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"go.uber.org/zap"
)

var (
	// ErrConnectionClosed is returned by sends attempted after the connection was closed.
	ErrConnectionClosed = errors.New("syncclient: connection closed")

	errMissingConn  = errors.New("syncclient: connection is required")
	errMissingStore = errors.New("syncclient: shape store is required")
	errMissingRoom  = errors.New("syncclient: room id is required")
)

// Config wires a client to its connection and store.
type Config struct {
	Conn   Conn
	RoomID protocol.RoomID
	Store  *shapes.Store
	Logger *zap.Logger
	// FilterSelfEcho drops the first inbound chat carrying the id of a shape this
	// client sent. Enable it only for relays that echo broadcasts to the sender.
	FilterSelfEcho bool
}

// Client is bound to a single room and a single connection.
type Client struct {
	conn       Conn
	roomID     protocol.RoomID
	store      *shapes.Store
	logger     *zap.Logger
	filterEcho bool

	writeMu sync.Mutex
	closed  atomic.Bool

	pendingMu sync.Mutex
	pending   map[shapes.ID]struct{}

	presenceMu     sync.RWMutex
	presence       map[int64]func([]string)
	nextPresenceID int64
	users          []string
}

// New validates the configuration and returns a client ready to join its room.
func New(cfg Config) (*Client, error) {
	if cfg.Conn == nil {
		return nil, errMissingConn
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.RoomID == 0 {
		return nil, errMissingRoom
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:       cfg.Conn,
		roomID:     cfg.RoomID,
		store:      cfg.Store,
		logger:     logger.With(zap.Int64("room_id", cfg.RoomID.Int64())),
		filterEcho: cfg.FilterSelfEcho,
		pending:    make(map[shapes.ID]struct{}),
		presence:   make(map[int64]func([]string)),
	}, nil
}

// JoinRoom announces this client to the relay.
func (c *Client) JoinRoom() error {
	payload, err := protocol.EncodeJoinRoom(c.roomID)
	if err != nil {
		return err
	}
	return c.write(payload)
}

// LeaveRoom tells the relay this client is going away. It is a no-op once closed.
func (c *Client) LeaveRoom() error {
	if c.closed.Load() {
		return nil
	}
	payload, err := protocol.EncodeLeaveRoom(c.roomID)
	if err != nil {
		return err
	}
	return c.write(payload)
}

// SendShape broadcasts a locally created shape.
func (c *Client) SendShape(shape shapes.Shape) error {
	payload, err := protocol.EncodeChat(c.roomID, shape)
	if err != nil {
		return err
	}
	if err := c.write(payload); err != nil {
		return err
	}
	if c.filterEcho && shape.ID.Assigned() {
		c.pendingMu.Lock()
		c.pending[shape.ID] = struct{}{}
		c.pendingMu.Unlock()
	}
	return nil
}

// SendDelete broadcasts the removal of a shape.
func (c *Client) SendDelete(id shapes.ID) error {
	payload, err := protocol.EncodeDelete(c.roomID, id)
	if err != nil {
		return err
	}
	return c.write(payload)
}

// OnPresence subscribes to deduplicated room membership updates.
func (c *Client) OnPresence(callback func(users []string)) func() {
	c.presenceMu.Lock()
	c.nextPresenceID++
	subscriptionID := c.nextPresenceID
	c.presence[subscriptionID] = callback
	c.presenceMu.Unlock()

	return func() {
		c.presenceMu.Lock()
		delete(c.presence, subscriptionID)
		c.presenceMu.Unlock()
	}
}

// Users returns the last membership snapshot received.
func (c *Client) Users() []string {
	c.presenceMu.RLock()
	defer c.presenceMu.RUnlock()
	return append([]string(nil), c.users...)
}

// Listen applies inbound messages in delivery order until the context is
// cancelled, the client is closed or the connection fails.
func (c *Client) Listen(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-done:
		}
	}()

	for {
		payload, err := c.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if c.closed.Load() {
				return nil
			}
			c.logger.Warn("relay connection lost", zap.Error(err))
			c.closed.Store(true)
			return err
		}
		c.HandleMessage(payload)
	}
}

// HandleMessage applies one inbound frame. Malformed frames are dropped.
func (c *Client) HandleMessage(payload []byte) {
	envelope, err := protocol.Decode(payload)
	if err != nil {
		c.logger.Debug("dropping inbound message", zap.Error(err))
		return
	}

	switch envelope.Type {
	case protocol.TypeChat:
		shape, err := protocol.ChatShape(envelope)
		if err != nil {
			c.logger.Debug("dropping chat with invalid shape", zap.Error(err))
			return
		}
		if c.consumeEcho(shape.ID) {
			return
		}
		c.store.Apply(shape)
	case protocol.TypeDeleteMessage:
		if !envelope.MessageID.Assigned() {
			c.logger.Debug("dropping delete without message id")
			return
		}
		c.store.Delete(envelope.MessageID)
	case protocol.TypeRoomUsers:
		c.publishPresence(protocol.UniqueUsers(envelope.Users))
	default:
		c.logger.Debug("ignoring inbound message", zap.String("type", string(envelope.Type)))
	}
}

// Close closes the connection once; later sends fail with ErrConnectionClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Close()
}

// Closed reports whether the connection is no longer usable.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

func (c *Client) write(payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.conn.WriteMessage(payload)
}

func (c *Client) consumeEcho(id shapes.ID) bool {
	if !c.filterEcho || !id.Assigned() {
		return false
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Client) publishPresence(users []string) {
	c.presenceMu.Lock()
	c.users = users
	callbacks := make([]func([]string), 0, len(c.presence))
	for _, callback := range c.presence {
		callbacks = append(callbacks, callback)
	}
	c.presenceMu.Unlock()

	for _, callback := range callbacks {
		callback(append([]string(nil), users...))
	}
}
