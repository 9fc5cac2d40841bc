package server

import (
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"go.uber.org/zap"
)

const defaultMemberBufferSize = 256

// RoomHubConfig tunes relay fan-out.
type RoomHubConfig struct {
	// EchoToSender also delivers chat and delete frames back to the connection that sent them.
	EchoToSender bool
	BufferSize   int
	Logger       *zap.Logger
}

// RoomHub fans relay frames out to the members of each room.
type RoomHub struct {
	mu           sync.RWMutex
	rooms        map[int64]map[int64]*Member
	nextID       int64
	bufferSize   int
	echoToSender bool
	logger       *zap.Logger
}

// Member is one connection registered with the hub. It is in at most one room at a time.
type Member struct {
	id       int64
	username string
	roomID   int64
	closed   bool
	stream   chan []byte
}

// Messages delivers outbound frames until the member is unregistered.
func (m *Member) Messages() <-chan []byte {
	return m.stream
}

// Username returns the display name announced in room_users.
func (m *Member) Username() string {
	return m.username
}

func NewRoomHub(cfg RoomHubConfig) *RoomHub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultMemberBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomHub{
		rooms:        make(map[int64]map[int64]*Member),
		bufferSize:   bufferSize,
		echoToSender: cfg.EchoToSender,
		logger:       logger,
	}
}

// Register creates a member that has not joined any room yet.
func (h *RoomHub) Register(username string) *Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &Member{
		id:       h.nextID,
		username: username,
		stream:   make(chan []byte, h.bufferSize),
	}
}

// Join moves the member into roomID, leaving any previous room, and pushes
// the updated user list to both rooms.
func (h *RoomHub) Join(roomID int64, member *Member) {
	if member == nil || roomID == 0 {
		return
	}
	h.mu.Lock()
	if member.closed || member.roomID == roomID {
		h.mu.Unlock()
		return
	}
	previous := h.detach(member)
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[int64]*Member)
	}
	h.rooms[roomID][member.id] = member
	member.roomID = roomID
	h.mu.Unlock()

	if previous != 0 {
		h.publishUsers(previous)
	}
	h.publishUsers(roomID)
}

// Leave removes the member from roomID. Leaving a room the member is not in is a no-op.
func (h *RoomHub) Leave(roomID int64, member *Member) {
	if member == nil {
		return
	}
	h.mu.Lock()
	if member.roomID != roomID {
		h.mu.Unlock()
		return
	}
	previous := h.detach(member)
	h.mu.Unlock()

	if previous != 0 {
		h.publishUsers(previous)
	}
}

// Unregister leaves the current room and closes the member stream.
func (h *RoomHub) Unregister(member *Member) {
	if member == nil {
		return
	}
	h.mu.Lock()
	if member.closed {
		h.mu.Unlock()
		return
	}
	previous := h.detach(member)
	member.closed = true
	close(member.stream)
	h.mu.Unlock()

	if previous != 0 {
		h.publishUsers(previous)
	}
}

// RoomOf reports the room the member currently belongs to, or zero.
func (h *RoomHub) RoomOf(member *Member) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return member.roomID
}

// Broadcast delivers payload to the room's members. The sender is skipped unless
// echo is enabled; a nil sender reaches everyone.
func (h *RoomHub) Broadcast(roomID int64, sender *Member, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, member := range h.rooms[roomID] {
		if sender != nil && member.id == sender.id && !h.echoToSender {
			continue
		}
		h.deliver(member, payload)
	}
}

// Users lists the distinct usernames present in roomID, oldest connection first.
func (h *RoomHub) Users(roomID int64) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.usersLocked(roomID)
}

func (h *RoomHub) publishUsers(roomID int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	payload, err := protocol.EncodeRoomUsers(h.usersLocked(roomID))
	if err != nil {
		h.logger.Error("failed to encode room users", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}
	for _, member := range h.rooms[roomID] {
		h.deliver(member, payload)
	}
}

func (h *RoomHub) usersLocked(roomID int64) []string {
	members := h.rooms[roomID]
	ordered := make([]*Member, 0, len(members))
	for _, member := range members {
		ordered = append(ordered, member)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })
	names := make([]string, 0, len(ordered))
	for _, member := range ordered {
		names = append(names, member.username)
	}
	return protocol.UniqueUsers(names)
}

// detach must be called with the write lock held.
func (h *RoomHub) detach(member *Member) int64 {
	previous := member.roomID
	if previous == 0 {
		return 0
	}
	if members := h.rooms[previous]; members != nil {
		delete(members, member.id)
		if len(members) == 0 {
			delete(h.rooms, previous)
		}
	}
	member.roomID = 0
	return previous
}

// deliver must be called with at least the read lock held so the stream cannot close underneath it.
func (h *RoomHub) deliver(member *Member, payload []byte) {
	select {
	case member.stream <- payload:
	default:
		h.logger.Warn("dropping frame for slow member",
			zap.Int64("room_id", member.roomID),
			zap.String("username", member.username))
	}
}
