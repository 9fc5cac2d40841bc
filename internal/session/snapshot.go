package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
)

const snapshotTimeout = 10 * time.Second

var (
	// ErrSnapshotUnavailable indicates that the snapshot endpoint answered with a failure status.
	ErrSnapshotUnavailable = errors.New("session: snapshot unavailable")

	errMissingBaseURL = errors.New("session: base url is required")
)

// SnapshotFetcher loads the shapes a room already holds.
type SnapshotFetcher interface {
	FetchShapes(ctx context.Context, roomID protocol.RoomID) ([]shapes.Shape, error)
}

// HTTPSnapshotFetcher reads GET {base}/rooms/{roomId}/shapes.
type HTTPSnapshotFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSnapshotFetcher builds a fetcher. The token may be empty.
func NewHTTPSnapshotFetcher(baseURL, token string, client *http.Client) (*HTTPSnapshotFetcher, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: snapshotTimeout}
	}
	return &HTTPSnapshotFetcher{baseURL: trimmed, token: strings.TrimSpace(token), client: client}, nil
}

// FetchShapes implements SnapshotFetcher.
func (f *HTTPSnapshotFetcher) FetchShapes(ctx context.Context, roomID protocol.RoomID) ([]shapes.Shape, error) {
	endpoint := f.baseURL + "/rooms/" + strconv.FormatInt(roomID.Int64(), 10) + "/shapes"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		request.Header.Set("Authorization", "Bearer "+f.token)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("session: fetch snapshot: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil, fmt.Errorf("%w: status %d", ErrSnapshotUnavailable, response.StatusCode)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("session: read snapshot: %w", err)
	}
	list, err := shapes.DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("session: decode snapshot: %w", err)
	}
	return list, nil
}
