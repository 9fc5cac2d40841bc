package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/auth"
	"github.com/MarcoPoloResearchLab/drawr/internal/database"
	"github.com/MarcoPoloResearchLab/drawr/internal/rooms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "relay-test-secret"
	testIssuer        = "drawr-relay"
)

type testRelay struct {
	server *httptest.Server
	rooms  *rooms.Service
	hub    *RoomHub
	issuer *auth.TokenIssuer
}

func newTestRelay(t *testing.T, hubConfig RoomHubConfig) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "relay.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	roomService, err := rooms.NewService(rooms.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build rooms service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	hub := NewRoomHub(hubConfig)
	handler, err := NewHTTPHandler(Dependencies{
		Validator: validator,
		Rooms:     roomService,
		Hub:       hub,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testRelay{server: server, rooms: roomService, hub: hub, issuer: issuer}
}

func (r *testRelay) token(t *testing.T, userID, username string) string {
	t.Helper()
	token, _, err := r.issuer.IssueSessionToken(context.Background(), auth.Identity{UserID: userID, Username: username})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (r *testRelay) websocketURL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

func (r *testRelay) mustRoom(t *testing.T, slug, ownerID string) rooms.Room {
	t.Helper()
	room, err := r.rooms.CreateRoom(context.Background(), slug, ownerID)
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	return room
}

func (r *testRelay) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, r.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := r.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decodeBody(t *testing.T, response *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !condition() {
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
