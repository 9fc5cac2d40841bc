package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "rooms.service.new"
	opCreateRoom       = "rooms.create_room"
	opRoomBySlug       = "rooms.room_by_slug"
	opRoomByID         = "rooms.room_by_id"
	opListShapes       = "rooms.list_shapes"
	opAppendShape      = "rooms.append_shape"
	opDeleteShape      = "rooms.delete_shape"
	opEnsureMembership = "rooms.ensure_membership"
	opConvertGuestRoom = "rooms.convert_guest_room"
	opImportDrawings   = "rooms.import_drawings"
	opListRoomsForUser = "rooms.list_rooms_for_user"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists rooms, memberships and each room's shape log.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateRoom creates a room owned by ownerID and makes the owner a member.
func (s *Service) CreateRoom(ctx context.Context, rawSlug, ownerID string) (Room, error) {
	slug, err := NormalizeSlug(rawSlug)
	if err != nil {
		return Room{}, newServiceError(opCreateRoom, "invalid_slug", err)
	}
	room := Room{Slug: slug, OwnerID: strings.TrimSpace(ownerID), CreatedAtSeconds: s.now()}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Room{}).Where("slug = ?", slug).Count(&existing).Error; err != nil {
			s.logError(opCreateRoom, "query_failed", err, zap.String("slug", slug))
			return newServiceError(opCreateRoom, "query_failed", err)
		}
		if existing > 0 {
			return newServiceError(opCreateRoom, "slug_taken", ErrSlugTaken)
		}
		if err := tx.Create(&room).Error; err != nil {
			s.logError(opCreateRoom, "room_insert_failed", err, zap.String("slug", slug))
			return newServiceError(opCreateRoom, "room_insert_failed", err)
		}
		if room.OwnerID == "" {
			return nil
		}
		return s.joinRoom(tx, opCreateRoom, room.ID, room.OwnerID)
	})
	if txErr != nil {
		return Room{}, txErr
	}
	return room, nil
}

// RoomBySlug looks a room up by its slug.
func (s *Service) RoomBySlug(ctx context.Context, rawSlug string) (Room, error) {
	slug, err := NormalizeSlug(rawSlug)
	if err != nil {
		return Room{}, newServiceError(opRoomBySlug, "invalid_slug", err)
	}
	var room Room
	err = s.db.WithContext(ctx).Where("slug = ?", slug).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, newServiceError(opRoomBySlug, "not_found", ErrRoomNotFound)
	}
	if err != nil {
		s.logError(opRoomBySlug, "query_failed", err, zap.String("slug", slug))
		return Room{}, newServiceError(opRoomBySlug, "query_failed", err)
	}
	return room, nil
}

// RoomByID looks a room up by its numeric id.
func (s *Service) RoomByID(ctx context.Context, roomID int64) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).Where("id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, newServiceError(opRoomByID, "not_found", ErrRoomNotFound)
	}
	if err != nil {
		s.logError(opRoomByID, "query_failed", err, zap.Int64("room_id", roomID))
		return Room{}, newServiceError(opRoomByID, "query_failed", err)
	}
	return room, nil
}

// ListRoomsForUser returns the rooms userID is a member of, oldest first.
func (s *Service) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newServiceError(opListRoomsForUser, "missing_user_id", ErrInvalidUserID)
	}
	var rooms []Room
	if err := s.db.WithContext(ctx).
		Joins("JOIN room_memberships ON room_memberships.room_id = rooms.id").
		Where("room_memberships.user_id = ?", userID).
		Order("rooms.id ASC").
		Find(&rooms).Error; err != nil {
		s.logError(opListRoomsForUser, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListRoomsForUser, "query_failed", err)
	}
	return rooms, nil
}

// ListShapes returns the room's shapes in render order.
func (s *Service) ListShapes(ctx context.Context, roomID int64) ([]shapes.Shape, error) {
	var records []ShapeRecord
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq ASC").
		Find(&records).Error; err != nil {
		s.logError(opListShapes, "query_failed", err, zap.Int64("room_id", roomID))
		return nil, newServiceError(opListShapes, "query_failed", err)
	}
	list := make([]shapes.Shape, 0, len(records))
	for _, record := range records {
		shape, err := shapes.Decode([]byte(record.PayloadJSON))
		if err != nil {
			s.logError(opListShapes, "decode_failed", err, zap.Int64("room_id", roomID), zap.Int64("seq", record.Seq))
			continue
		}
		list = append(list, shape)
	}
	return list, nil
}

// AppendShape adds a shape to the end of the room's log.
func (s *Service) AppendShape(ctx context.Context, roomID int64, userID string, shape shapes.Shape) error {
	record, err := s.newRecord(roomID, userID, shape)
	if err != nil {
		s.logError(opAppendShape, "invalid_shape", err, zap.Int64("room_id", roomID))
		return newServiceError(opAppendShape, "invalid_shape", err)
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opAppendShape, "insert_failed", err, zap.Int64("room_id", roomID))
		return newServiceError(opAppendShape, "insert_failed", err)
	}
	return nil
}

// DeleteShape removes the oldest record carrying shapeID. Unknown ids are ignored.
func (s *Service) DeleteShape(ctx context.Context, roomID int64, shapeID shapes.ID) error {
	if !shapeID.Assigned() {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record ShapeRecord
		err := tx.Where("room_id = ? AND shape_id = ?", roomID, shapeID.Int64()).
			Order("seq ASC").
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			s.logError(opDeleteShape, "query_failed", err, zap.Int64("room_id", roomID), zap.Int64("shape_id", shapeID.Int64()))
			return newServiceError(opDeleteShape, "query_failed", err)
		}
		if err := tx.Delete(&ShapeRecord{}, record.Seq).Error; err != nil {
			s.logError(opDeleteShape, "delete_failed", err, zap.Int64("room_id", roomID), zap.Int64("shape_id", shapeID.Int64()))
			return newServiceError(opDeleteShape, "delete_failed", err)
		}
		return nil
	})
}

// EnsureMembership makes userID a member of the room. Repeated calls are no-ops.
func (s *Service) EnsureMembership(ctx context.Context, roomID int64, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opEnsureMembership, "missing_user_id", ErrInvalidUserID)
	}
	if _, err := s.RoomByID(ctx, roomID); err != nil {
		return newServiceError(opEnsureMembership, "room_lookup_failed", err)
	}
	return s.joinRoom(s.db.WithContext(ctx), opEnsureMembership, roomID, userID)
}

// ConvertGuestRoom turns the guest room identified by slug into a room owned by
// ownerID. Converting the same guest room twice returns the existing room.
func (s *Service) ConvertGuestRoom(ctx context.Context, guestID, rawSlug, ownerID string) (Room, error) {
	slug, err := NormalizeSlug(rawSlug)
	if err != nil {
		return Room{}, newServiceError(opConvertGuestRoom, "invalid_slug", err)
	}
	guestID = strings.TrimSpace(guestID)
	ownerID = strings.TrimSpace(ownerID)
	if guestID == "" || ownerID == "" {
		return Room{}, newServiceError(opConvertGuestRoom, "missing_identity", ErrInvalidUserID)
	}

	var room Room
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("slug = ?", slug).Take(&room).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			room = Room{Slug: slug, OwnerID: ownerID, GuestID: guestID, CreatedAtSeconds: s.now()}
			if err := tx.Create(&room).Error; err != nil {
				s.logError(opConvertGuestRoom, "room_insert_failed", err, zap.String("slug", slug))
				return newServiceError(opConvertGuestRoom, "room_insert_failed", err)
			}
		case err != nil:
			s.logError(opConvertGuestRoom, "query_failed", err, zap.String("slug", slug))
			return newServiceError(opConvertGuestRoom, "query_failed", err)
		case room.OwnerID == ownerID || room.GuestID == guestID:
		default:
			return newServiceError(opConvertGuestRoom, "slug_taken", ErrSlugTaken)
		}
		return s.joinRoom(tx, opConvertGuestRoom, room.ID, ownerID)
	})
	if txErr != nil {
		return Room{}, txErr
	}
	s.logger.Info("guest room converted", zap.Int64("room_id", room.ID), zap.String("slug", slug))
	return room, nil
}

// ImportDrawings appends drawings to the room in order, all or nothing.
func (s *Service) ImportDrawings(ctx context.Context, roomID int64, userID string, drawings []shapes.Shape) (int, error) {
	if _, err := s.RoomByID(ctx, roomID); err != nil {
		return 0, newServiceError(opImportDrawings, "room_lookup_failed", err)
	}
	records := make([]ShapeRecord, 0, len(drawings))
	for _, drawing := range drawings {
		record, err := s.newRecord(roomID, userID, drawing)
		if err != nil {
			return 0, newServiceError(opImportDrawings, "invalid_shape", err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		s.logError(opImportDrawings, "insert_failed", err, zap.Int64("room_id", roomID), zap.Int("count", len(records)))
		return 0, newServiceError(opImportDrawings, "insert_failed", err)
	}
	return len(records), nil
}

func (s *Service) joinRoom(tx *gorm.DB, operation string, roomID int64, userID string) error {
	membership := Membership{RoomID: roomID, UserID: userID, JoinedAtSeconds: s.now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error; err != nil {
		s.logError(operation, "membership_insert_failed", err, zap.Int64("room_id", roomID), zap.String("user_id", userID))
		return newServiceError(operation, "membership_insert_failed", err)
	}
	return nil
}

func (s *Service) newRecord(roomID int64, userID string, shape shapes.Shape) (ShapeRecord, error) {
	payload, err := shapes.Encode(shape)
	if err != nil {
		return ShapeRecord{}, err
	}
	return ShapeRecord{
		RoomID:           roomID,
		ShapeID:          shape.ID.Int64(),
		PayloadJSON:      string(payload),
		CreatedBy:        userID,
		CreatedAtSeconds: s.now(),
	}, nil
}

func (s *Service) now() int64 {
	return s.clock().UTC().Unix()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("rooms service error", attrs...)
}
