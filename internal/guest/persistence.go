package guest

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("guest: store is required")

// Persistence is the guest drawing store for one room. It doubles as the
// broadcaster of a guest session, so committed shapes land on disk instead of
// the relay.
type Persistence struct {
	store   Store
	roomKey string
	logger  *zap.Logger
}

// NewPersistence binds a store to the guest room identified by slug.
func NewPersistence(store Store, slug string, logger *zap.Logger) (*Persistence, error) {
	if store == nil {
		return nil, errMissingStore
	}
	roomKey, err := RoomKey(slug)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistence{store: store, roomKey: roomKey, logger: logger.With(zap.String("room_key", roomKey))}, nil
}

// RoomKey returns the guest room identifier.
func (p *Persistence) RoomKey() string {
	return p.roomKey
}

// Load returns the stored drawings in insertion order.
func (p *Persistence) Load(ctx context.Context) ([]shapes.Shape, error) {
	return p.store.LoadShapes(ctx, p.roomKey)
}

// SendShape stores a committed shape.
func (p *Persistence) SendShape(shape shapes.Shape) error {
	if err := p.store.AppendShape(context.Background(), p.roomKey, shape); err != nil {
		p.logger.Error("guest shape persist failed", zap.Int64("shape_id", shape.ID.Int64()), zap.Error(err))
		return err
	}
	return nil
}

// SendDelete removes an erased shape from storage.
func (p *Persistence) SendDelete(id shapes.ID) error {
	if err := p.store.DeleteShape(context.Background(), p.roomKey, id); err != nil {
		p.logger.Error("guest shape delete failed", zap.Int64("shape_id", id.Int64()), zap.Error(err))
		return err
	}
	return nil
}

// Export returns every stored drawing without modifying storage.
func (p *Persistence) Export(ctx context.Context) ([]shapes.Shape, error) {
	return p.store.LoadShapes(ctx, p.roomKey)
}

// Clear erases the guest room's drawings. The guest user record is kept so a
// later conversion or session can still reuse the same guest id.
func (p *Persistence) Clear(ctx context.Context) error {
	return p.store.Clear(ctx, p.roomKey)
}
