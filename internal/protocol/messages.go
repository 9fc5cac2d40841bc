// Package protocol defines the JSON messages exchanged with the room relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
)

// MessageType is the "type" discriminator of every relay message.
type MessageType string

const (
	TypeJoinRoom      MessageType = "join_room"
	TypeLeaveRoom     MessageType = "leave_room"
	TypeChat          MessageType = "chat"
	TypeDeleteMessage MessageType = "delete_message"
	TypeRoomUsers     MessageType = "room_users"
)

var (
	// ErrMalformedMessage indicates a payload that is not a JSON object with a known type.
	ErrMalformedMessage = errors.New("protocol: malformed message")
	// ErrUnknownMessageType indicates a well-formed message with an unsupported type.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

// RoomID is the numeric identifier of a server-owned room.
type RoomID int64

// Int64 exposes the raw identifier.
func (id RoomID) Int64() int64 {
	return int64(id)
}

// Envelope is the union of every message field; only the fields relevant to Type are set.
type Envelope struct {
	Type      MessageType `json:"type"`
	RoomID    RoomID      `json:"roomId,omitempty"`
	Message   string      `json:"message,omitempty"`
	MessageID shapes.ID   `json:"messageId,omitempty"`
	Users     []string    `json:"users,omitempty"`
}

type joinRoomMessage struct {
	Type   MessageType `json:"type"`
	RoomID RoomID      `json:"roomId"`
}

type chatMessage struct {
	Type    MessageType `json:"type"`
	RoomID  RoomID      `json:"roomId"`
	Message string      `json:"message"`
}

type deleteMessage struct {
	Type      MessageType `json:"type"`
	RoomID    RoomID      `json:"roomId"`
	MessageID shapes.ID   `json:"messageId"`
}

type roomUsersMessage struct {
	Type  MessageType `json:"type"`
	Users []string    `json:"users"`
}

// EncodeJoinRoom builds the join_room message sent once the connection opens.
func EncodeJoinRoom(roomID RoomID) ([]byte, error) {
	return json.Marshal(joinRoomMessage{Type: TypeJoinRoom, RoomID: roomID})
}

// EncodeLeaveRoom builds the leave_room message sent before disconnecting.
func EncodeLeaveRoom(roomID RoomID) ([]byte, error) {
	return json.Marshal(joinRoomMessage{Type: TypeLeaveRoom, RoomID: roomID})
}

// EncodeChat wraps a shape as a chat message. The shape JSON is carried as a string.
func EncodeChat(roomID RoomID, shape shapes.Shape) ([]byte, error) {
	shapeJSON, err := shapes.Encode(shape)
	if err != nil {
		return nil, err
	}
	return json.Marshal(chatMessage{Type: TypeChat, RoomID: roomID, Message: string(shapeJSON)})
}

// EncodeDelete builds the delete_message request for a shape id.
func EncodeDelete(roomID RoomID, id shapes.ID) ([]byte, error) {
	return json.Marshal(deleteMessage{Type: TypeDeleteMessage, RoomID: roomID, MessageID: id})
}

// EncodeRoomUsers builds the membership snapshot pushed by the relay.
func EncodeRoomUsers(users []string) ([]byte, error) {
	if users == nil {
		users = []string{}
	}
	return json.Marshal(roomUsersMessage{Type: TypeRoomUsers, Users: users})
}

// Decode parses a raw relay frame.
func Decode(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch envelope.Type {
	case TypeJoinRoom, TypeLeaveRoom, TypeChat, TypeDeleteMessage, TypeRoomUsers:
		return envelope, nil
	case "":
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}
}

// ChatShape unwraps the shape carried by a chat envelope.
func ChatShape(envelope Envelope) (shapes.Shape, error) {
	if envelope.Type != TypeChat {
		return shapes.Shape{}, fmt.Errorf("%w: expected %s, got %s", ErrMalformedMessage, TypeChat, envelope.Type)
	}
	return shapes.Decode([]byte(envelope.Message))
}

// UniqueUsers drops empty and repeated names, keeping first-seen order.
func UniqueUsers(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	unique := make([]string, 0, len(users))
	for _, user := range users {
		if user == "" {
			continue
		}
		if _, ok := seen[user]; ok {
			continue
		}
		seen[user] = struct{}{}
		unique = append(unique, user)
	}
	return unique
}
