package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live push transport.
type Conn interface {
	// Read blocks until the next data frame arrives or the transport fails.
	Read() ([]byte, error)
	// CloseNormal sends a normal-closure frame and closes the transport.
	CloseNormal() error
	// Close drops the transport without a close handshake.
	Close() error
}

// Dialer opens push transports.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadTimeout      = 90 * time.Second
	closeWriteWait          = time.Second
	pushPath                = "/ws"
)

// WebsocketDialer dials the server's push endpoint over websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence between frames. The server sends a
	// heartbeat periodically, so a longer gap means the peer is gone. Zero
	// uses the default; negative disables the deadline.
	ReadTimeout time.Duration
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	readTimeout := d.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}
	return &wsConn{ws: ws, readTimeout: readTimeout}, nil
}

type wsConn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch kind {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

func (c *wsConn) CloseNormal() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	return c.ws.Close()
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// Endpoint derives the push URL from the API base URL: same origin, with
// the scheme upgraded to its websocket counterpart.
func Endpoint(baseURL string) (string, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	u.Path = pushPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
