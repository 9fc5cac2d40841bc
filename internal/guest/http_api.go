package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
)

const defaultRequestTimeout = 10 * time.Second

var (
	// ErrRequestRejected indicates a non-success status from the backend.
	ErrRequestRejected = errors.New("guest: request rejected")

	errMissingBaseURL = errors.New("guest: base url is required")
	errMissingToken   = errors.New("guest: session token is required")
)

// HTTPConfig configures the HTTP conversion client.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// HTTPConversionAPI implements ConversionAPI against the relay's HTTP endpoints.
type HTTPConversionAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPConversionAPI validates the configuration.
func NewHTTPConversionAPI(cfg HTTPConfig) (*HTTPConversionAPI, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errMissingToken
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPConversionAPI{baseURL: baseURL, token: strings.TrimSpace(cfg.Token), client: client}, nil
}

type convertRequestPayload struct {
	GuestID string `json:"guestId"`
	Slug    string `json:"slug"`
}

type convertResponsePayload struct {
	RoomID protocol.RoomID `json:"roomId"`
}

type membershipRequestPayload struct {
	RoomID protocol.RoomID `json:"roomId"`
}

type importRequestPayload struct {
	RoomID   protocol.RoomID `json:"roomId"`
	Drawings []shapes.Shape  `json:"drawings"`
}

// ConvertGuest implements ConversionAPI.
func (a *HTTPConversionAPI) ConvertGuest(ctx context.Context, guestID, slug string) (protocol.RoomID, error) {
	var response convertResponsePayload
	if err := a.post(ctx, "/guest/convert", convertRequestPayload{GuestID: guestID, Slug: slug}, &response); err != nil {
		return 0, err
	}
	return response.RoomID, nil
}

// EnsureMembership implements ConversionAPI.
func (a *HTTPConversionAPI) EnsureMembership(ctx context.Context, roomID protocol.RoomID) error {
	return a.post(ctx, "/rooms", membershipRequestPayload{RoomID: roomID}, nil)
}

// ImportDrawings implements ConversionAPI.
func (a *HTTPConversionAPI) ImportDrawings(ctx context.Context, roomID protocol.RoomID, drawings []shapes.Shape) error {
	return a.post(ctx, "/drawings/import", importRequestPayload{RoomID: roomID, Drawings: drawings}, nil)
}

func (a *HTTPConversionAPI) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+a.token)
	request.Header.Set("Content-Type", "application/json")

	response, err := a.client.Do(request)
	if err != nil {
		return fmt.Errorf("guest: post %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, response.Body)
		return fmt.Errorf("%w: %s returned %d", ErrRequestRejected, path, response.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("guest: decode %s response: %w", path, err)
	}
	return nil
}
