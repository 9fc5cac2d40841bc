package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

var errMissingRelayURL = errors.New("syncclient: relay url is required")

// Conn is the live, message-oriented connection to the relay.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

type websocketConn struct {
	conn *websocket.Conn
}

// DialWebSocket opens a relay connection; the session token travels as the token query parameter.
func DialWebSocket(ctx context.Context, relayURL, token string) (Conn, error) {
	if strings.TrimSpace(relayURL) == "" {
		return nil, errMissingRelayURL
	}
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("syncclient: parse relay url: %w", err)
	}
	if token != "" {
		query := parsed.Query()
		query.Set("token", token)
		parsed.RawQuery = query.Encode()
	}

	conn, response, err := websocket.DefaultDialer.DialContext(ctx, parsed.String(), http.Header{})
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("syncclient: dial relay: %w", err)
	}
	return &websocketConn{conn: conn}, nil
}

// WrapWebSocket adapts an established gorilla connection.
func WrapWebSocket(conn *websocket.Conn) Conn {
	return &websocketConn{conn: conn}
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *websocketConn) WriteMessage(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *websocketConn) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
