package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
)

var (
	// ErrRoomNotFound is returned when no room carries the requested slug.
	ErrRoomNotFound = errors.New("session: room not found")
	// ErrRoomUnavailable indicates that a room endpoint answered with a failure status.
	ErrRoomUnavailable = errors.New("session: room endpoint unavailable")

	errMissingSlug = errors.New("session: room slug is required")
)

type roomResponse struct {
	RoomID protocol.RoomID `json:"roomId"`
	Slug   string          `json:"slug"`
}

// RoomResolver turns a room slug into a room id the caller is a member of.
type RoomResolver struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRoomResolver builds a resolver against the relay's REST surface.
func NewRoomResolver(baseURL, token string, client *http.Client) (*RoomResolver, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: snapshotTimeout}
	}
	return &RoomResolver{baseURL: trimmed, token: strings.TrimSpace(token), client: client}, nil
}

// Resolve looks the slug up, checks the caller's room list and joins the room
// when the caller is not a member yet.
func (r *RoomResolver) Resolve(ctx context.Context, slug string) (protocol.RoomID, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return 0, errMissingSlug
	}

	var room roomResponse
	if err := r.call(ctx, http.MethodGet, "/room/"+url.PathEscape(trimmed), nil, &room); err != nil {
		return 0, err
	}

	var memberOf []roomResponse
	if err := r.call(ctx, http.MethodGet, "/rooms", nil, &memberOf); err != nil {
		return 0, err
	}
	for _, candidate := range memberOf {
		if candidate.RoomID == room.RoomID {
			return room.RoomID, nil
		}
	}

	var joined roomResponse
	if err := r.call(ctx, http.MethodPost, "/rooms", map[string]any{"roomId": room.RoomID}, &joined); err != nil {
		return 0, err
	}
	return joined.RoomID, nil
}

func (r *RoomResolver) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		request.Header.Set("Authorization", "Bearer "+r.token)
	}

	response, err := r.client.Do(request)
	if err != nil {
		return fmt.Errorf("session: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, response.Body)
		return ErrRoomNotFound
	case response.StatusCode < 200 || response.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, response.Body)
		return fmt.Errorf("%w: %s %s status %d", ErrRoomUnavailable, method, path, response.StatusCode)
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("session: decode %s: %w", path, err)
	}
	return nil
}
