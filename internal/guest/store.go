// Package guest keeps drawings for unauthenticated rooms on the local device and
// converts them into a server-owned room once the guest signs in.
package guest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"github.com/google/uuid"
)

const (
	roomKeyPrefix  = "guest-"
	usernamePrefix = "guest-"
	usernameSuffix = 8
)

var (
	// ErrInvalidSlug indicates that a guest room slug is empty.
	ErrInvalidSlug = errors.New("guest: room slug is required")
)

// RoomKey returns the local storage key for a guest room. Guest keys never parse
// as numeric room ids.
func RoomKey(slug string) (string, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return "", ErrInvalidSlug
	}
	return roomKeyPrefix + trimmed, nil
}

// User is the locally generated identity of a guest. It is never part of the
// authenticated identity model.
type User struct {
	ID       string
	Username string
}

// NewUser generates a fresh guest identity.
func NewUser() User {
	value := uuid.New()
	compact := strings.ReplaceAll(value.String(), "-", "")
	return User{ID: value.String(), Username: usernamePrefix + compact[:usernameSuffix]}
}

// Store persists guest drawings and the guest identity on the local device.
type Store interface {
	LoadShapes(ctx context.Context, roomKey string) ([]shapes.Shape, error)
	AppendShape(ctx context.Context, roomKey string, shape shapes.Shape) error
	DeleteShape(ctx context.Context, roomKey string, id shapes.ID) error
	Clear(ctx context.Context, roomKey string) error
	LoadUser(ctx context.Context) (User, bool, error)
	SaveUser(ctx context.Context, user User) error
}

// GetOrCreateUser returns the persisted guest identity, creating one on first use.
func GetOrCreateUser(ctx context.Context, store Store) (User, error) {
	user, found, err := store.LoadUser(ctx)
	if err != nil {
		return User{}, fmt.Errorf("guest: load user: %w", err)
	}
	if found {
		return user, nil
	}
	user = NewUser()
	if err := store.SaveUser(ctx, user); err != nil {
		return User{}, fmt.Errorf("guest: save user: %w", err)
	}
	return user, nil
}

// MemoryStore keeps guest data in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]shapes.Shape
	user  *User
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]shapes.Shape)}
}

// LoadShapes implements Store.
func (s *MemoryStore) LoadShapes(_ context.Context, roomKey string) ([]shapes.Shape, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.rooms[roomKey]
	list := make([]shapes.Shape, 0, len(stored))
	for _, shape := range stored {
		list = append(list, shape.Clone())
	}
	return list, nil
}

// AppendShape implements Store.
func (s *MemoryStore) AppendShape(_ context.Context, roomKey string, shape shapes.Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomKey] = append(s.rooms[roomKey], shape.Clone())
	return nil
}

// DeleteShape implements Store. Unknown ids are ignored.
func (s *MemoryStore) DeleteShape(_ context.Context, roomKey string, id shapes.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.rooms[roomKey]
	for index, shape := range stored {
		if shape.ID == id {
			s.rooms[roomKey] = append(stored[:index], stored[index+1:]...)
			return nil
		}
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, roomKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomKey)
	return nil
}

// LoadUser implements Store.
func (s *MemoryStore) LoadUser(_ context.Context) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false, nil
	}
	return *s.user, true, nil
}

// SaveUser implements Store.
func (s *MemoryStore) SaveUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
	return nil
}
