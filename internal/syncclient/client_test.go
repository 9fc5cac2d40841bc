package syncclient

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
)

type fakeConn struct {
	inbound   chan []byte
	closeOnce sync.Once
	closedCh  chan struct{}

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case payload := <-c.inbound:
		return payload, nil
	case <-c.closedCh:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closedCh) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, payload := range c.written {
		out = append(out, string(payload))
	}
	return out
}

func mustClient(t *testing.T, conn Conn, store *shapes.Store, filterEcho bool) *Client {
	t.Helper()
	client, err := New(Config{Conn: conn, RoomID: 42, Store: store, FilterSelfEcho: filterEcho})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func mustChat(t *testing.T, shape shapes.Shape) []byte {
	t.Helper()
	payload, err := protocol.EncodeChat(42, shape)
	if err != nil {
		t.Fatalf("failed to encode chat: %v", err)
	}
	return payload
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{Store: shapes.NewStore(), RoomID: 1}); err == nil {
		t.Fatalf("expected missing connection error")
	}
	if _, err := New(Config{Conn: newFakeConn(), RoomID: 1}); err == nil {
		t.Fatalf("expected missing store error")
	}
	if _, err := New(Config{Conn: newFakeConn(), Store: shapes.NewStore()}); err == nil {
		t.Fatalf("expected missing room error")
	}
}

func TestSendsOneMessagePerMutation(t *testing.T) {
	conn := newFakeConn()
	client := mustClient(t, conn, shapes.NewStore(), false)

	if err := client.JoinRoom(); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	shape := shapes.Shape{ID: 3, Geometry: shapes.Line{EndX: 4, EndY: 4, StrokeColor: "white"}}
	if err := client.SendShape(shape); err != nil {
		t.Fatalf("send shape failed: %v", err)
	}
	if err := client.SendDelete(3); err != nil {
		t.Fatalf("send delete failed: %v", err)
	}

	written := conn.Written()
	expected := []string{
		`{"type":"join_room","roomId":42}`,
		string(mustChat(t, shape)),
		`{"type":"delete_message","roomId":42,"messageId":3}`,
	}
	if !reflect.DeepEqual(written, expected) {
		t.Fatalf("unexpected frames:\n got %v\nwant %v", written, expected)
	}
}

func TestSendAfterCloseIsNotRetried(t *testing.T) {
	conn := newFakeConn()
	client := mustClient(t, conn, shapes.NewStore(), false)
	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	err := client.SendShape(shapes.Shape{ID: 1, Geometry: shapes.Circle{Radius: 1}})
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected closed connection error, got %v", err)
	}
	if err := client.LeaveRoom(); err != nil {
		t.Fatalf("expected leave on closed connection to be a no-op, got %v", err)
	}
	if len(conn.Written()) != 0 {
		t.Fatalf("expected no frames after close")
	}
}

func TestHandleMessageAppliesChatAndDelete(t *testing.T) {
	store := shapes.NewStore()
	client := mustClient(t, newFakeConn(), store, false)

	remote := shapes.Shape{ID: 11, Geometry: shapes.Rectangle{X: 10, Y: 10, Width: 40, Height: 30, StrokeColor: "white"}}
	client.HandleMessage(mustChat(t, remote))
	if store.Len() != 1 || !reflect.DeepEqual(store.List()[0], remote) {
		t.Fatalf("expected remote shape to be applied, got %#v", store.List())
	}

	client.HandleMessage([]byte(`{"type":"delete_message","roomId":42,"messageId":99}`))
	if store.Len() != 1 {
		t.Fatalf("expected unknown delete to be a no-op")
	}
	client.HandleMessage([]byte(`{"type":"delete_message","roomId":42,"messageId":11}`))
	if store.Len() != 0 {
		t.Fatalf("expected shape to be deleted")
	}
}

func TestDeleteWithoutMessageIDLeavesStoreUnchanged(t *testing.T) {
	store := shapes.NewStore()
	client := mustClient(t, newFakeConn(), store, false)

	anonymous := shapes.Shape{Geometry: shapes.Line{EndX: 10, EndY: 10, StrokeColor: "white"}}
	store.Apply(anonymous)
	client.HandleMessage([]byte(`{"type":"delete_message","roomId":42}`))
	client.HandleMessage([]byte(`{"type":"delete_message","roomId":42,"messageId":0}`))
	if store.Len() != 1 {
		t.Fatalf("expected delete without message id to be dropped, got %d shapes", store.Len())
	}
}

func TestHandleMessageDropsMalformedFrames(t *testing.T) {
	store := shapes.NewStore()
	client := mustClient(t, newFakeConn(), store, false)

	for _, frame := range []string{
		`garbage`,
		`{"type":"chat","roomId":42,"message":"not json"}`,
		`{"type":"chat","roomId":42,"message":"{\"shape\":{\"type\":\"star\"}}"}`,
		`{"type":"mystery"}`,
	} {
		client.HandleMessage([]byte(frame))
	}
	if store.Len() != 0 {
		t.Fatalf("expected malformed frames to leave the store unchanged")
	}
}

func TestPresenceIsDeduplicated(t *testing.T) {
	client := mustClient(t, newFakeConn(), shapes.NewStore(), false)

	var received [][]string
	cancel := client.OnPresence(func(users []string) { received = append(received, users) })
	client.HandleMessage([]byte(`{"type":"room_users","users":["ana","ana","","bo"]}`))
	cancel()
	client.HandleMessage([]byte(`{"type":"room_users","users":["cy"]}`))

	if len(received) != 1 || !reflect.DeepEqual(received[0], []string{"ana", "bo"}) {
		t.Fatalf("unexpected presence updates: %v", received)
	}
	if !reflect.DeepEqual(client.Users(), []string{"cy"}) {
		t.Fatalf("expected latest users to be tracked, got %v", client.Users())
	}
}

func TestSelfEchoFilter(t *testing.T) {
	store := shapes.NewStore()
	client := mustClient(t, newFakeConn(), store, true)

	shape := shapes.Shape{ID: 77, Geometry: shapes.Circle{CenterX: 1, CenterY: 1, Radius: 1, StrokeColor: "white"}}
	store.Apply(shape)
	if err := client.SendShape(shape); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	client.HandleMessage(mustChat(t, shape))
	if store.Len() != 1 {
		t.Fatalf("expected echo of own shape to be dropped, got %d shapes", store.Len())
	}
	client.HandleMessage(mustChat(t, shape))
	if store.Len() != 2 {
		t.Fatalf("expected only the first echo to be filtered")
	}
}

func TestFailedSendDoesNotFilterLaterChat(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	store := shapes.NewStore()
	client := mustClient(t, conn, store, true)

	shape := shapes.Shape{ID: 79, Geometry: shapes.Circle{CenterX: 1, CenterY: 1, Radius: 1, StrokeColor: "white"}}
	if err := client.SendShape(shape); err == nil {
		t.Fatalf("expected send to fail")
	}
	client.HandleMessage(mustChat(t, shape))
	if store.Len() != 1 {
		t.Fatalf("expected chat for an unsent shape to be applied, got %d shapes", store.Len())
	}
}

func TestWithoutEchoFilterDuplicatesAreKept(t *testing.T) {
	store := shapes.NewStore()
	client := mustClient(t, newFakeConn(), store, false)

	shape := shapes.Shape{ID: 78, Geometry: shapes.Circle{Radius: 1}}
	store.Apply(shape)
	_ = client.SendShape(shape)
	client.HandleMessage(mustChat(t, shape))
	if store.Len() != 2 {
		t.Fatalf("expected echo to be applied when filtering is disabled")
	}
}

func TestListenAppliesInboundAndStopsOnCancel(t *testing.T) {
	conn := newFakeConn()
	store := shapes.NewStore()
	client := mustClient(t, conn, store, false)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- client.Listen(ctx) }()

	conn.inbound <- mustChat(t, shapes.Shape{ID: 1, Geometry: shapes.Line{EndX: 1}})
	deadline := time.After(time.Second)
	for store.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected inbound chat to be applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected listen to return after cancel")
	}
	if !client.Closed() {
		t.Fatalf("expected connection to be closed after cancel")
	}
}

func TestListenReturnsNilAfterClose(t *testing.T) {
	conn := newFakeConn()
	client := mustClient(t, conn, shapes.NewStore(), false)

	result := make(chan error, 1)
	go func() { result <- client.Listen(context.Background()) }()
	_ = client.Close()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected nil after local close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected listen to return after close")
	}
}
