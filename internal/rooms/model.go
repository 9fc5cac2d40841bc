package rooms

import (
	"errors"
	"fmt"
	"strings"
)

const maxSlugLength = 190

var (
	// ErrInvalidSlug indicates that a room slug is empty or exceeds storage bounds.
	ErrInvalidSlug = errors.New("rooms: invalid slug")
	// ErrInvalidUserID indicates that a user identifier is empty.
	ErrInvalidUserID = errors.New("rooms: invalid user id")
	// ErrRoomNotFound indicates that no room matches the lookup.
	ErrRoomNotFound = errors.New("rooms: room not found")
	// ErrSlugTaken indicates that a slug belongs to a room another account owns.
	ErrSlugTaken = errors.New("rooms: slug already taken")
)

// NormalizeSlug trims and lower-cases a slug and validates its length.
func NormalizeSlug(raw string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(raw))
	if slug == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	return slug, nil
}

// Room is a server-owned drawing room.
type Room struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Slug             string `gorm:"column:slug;size:190;not null;uniqueIndex"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;default:''"`
	GuestID          string `gorm:"column:guest_id;size:64;not null;default:'';index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// Membership records that a user joined a room.
type Membership struct {
	RoomID          int64  `gorm:"column:room_id;primaryKey;not null"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	JoinedAtSeconds int64  `gorm:"column:joined_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "room_memberships"
}

// ShapeRecord is one shape in a room's append-only log. Seq is the render order.
type ShapeRecord struct {
	Seq              int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	RoomID           int64  `gorm:"column:room_id;not null;index:idx_room_shapes_room_seq,priority:1"`
	ShapeID          int64  `gorm:"column:shape_id;not null;index"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ShapeRecord) TableName() string {
	return "room_shapes"
}
