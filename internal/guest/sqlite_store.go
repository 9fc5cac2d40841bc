package guest

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"gorm.io/gorm"
)

const currentUserSlot = "current"

var errMissingDatabase = errors.New("guest: database handle is required")

// StoredShape is one guest drawing row. Seq preserves insertion order.
type StoredShape struct {
	Seq         int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	RoomKey     string `gorm:"column:room_key;size:190;not null;index:idx_guest_shapes_room"`
	ShapeID     int64  `gorm:"column:shape_id;not null"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StoredShape) TableName() string {
	return "guest_shapes"
}

// StoredUser holds the single guest identity of this device.
type StoredUser struct {
	Slot     string `gorm:"column:slot;primaryKey;size:32;not null"`
	UserID   string `gorm:"column:user_id;size:64;not null"`
	Username string `gorm:"column:username;size:64;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StoredUser) TableName() string {
	return "guest_users"
}

// SQLiteStore keeps guest data in a local SQLite file through GORM.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore migrates the guest tables and returns a store bound to db.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if err := db.AutoMigrate(&StoredShape{}, &StoredUser{}); err != nil {
		return nil, fmt.Errorf("guest: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LoadShapes implements Store.
func (s *SQLiteStore) LoadShapes(ctx context.Context, roomKey string) ([]shapes.Shape, error) {
	var rows []StoredShape
	if err := s.db.WithContext(ctx).
		Where("room_key = ?", roomKey).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	list := make([]shapes.Shape, 0, len(rows))
	for _, row := range rows {
		shape, err := shapes.Decode([]byte(row.PayloadJSON))
		if err != nil {
			return nil, fmt.Errorf("guest: decode shape %d: %w", row.ShapeID, err)
		}
		list = append(list, shape)
	}
	return list, nil
}

// AppendShape implements Store.
func (s *SQLiteStore) AppendShape(ctx context.Context, roomKey string, shape shapes.Shape) error {
	payload, err := shapes.Encode(shape)
	if err != nil {
		return err
	}
	row := StoredShape{RoomKey: roomKey, ShapeID: shape.ID.Int64(), PayloadJSON: string(payload)}
	return s.db.WithContext(ctx).Create(&row).Error
}

// DeleteShape implements Store. Only the oldest row carrying id is removed.
func (s *SQLiteStore) DeleteShape(ctx context.Context, roomKey string, id shapes.ID) error {
	var row StoredShape
	err := s.db.WithContext(ctx).
		Where("room_key = ? AND shape_id = ?", roomKey, id.Int64()).
		Order("seq ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&StoredShape{}, row.Seq).Error
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, roomKey string) error {
	return s.db.WithContext(ctx).Where("room_key = ?", roomKey).Delete(&StoredShape{}).Error
}

// LoadUser implements Store.
func (s *SQLiteStore) LoadUser(ctx context.Context) (User, bool, error) {
	var row StoredUser
	err := s.db.WithContext(ctx).Where("slot = ?", currentUserSlot).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return User{ID: row.UserID, Username: row.Username}, true, nil
}

// SaveUser implements Store.
func (s *SQLiteStore) SaveUser(ctx context.Context, user User) error {
	row := StoredUser{Slot: currentUserSlot, UserID: user.ID, Username: user.Username}
	return s.db.WithContext(ctx).Save(&row).Error
}
