package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint_DerivesPushURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://media.example.com/api/v1?x=1#frag", "wss://media.example.com/ws"},
		{"localhost:8080", "ws://localhost:8080/ws"},
		{"wss://media.example.com", "wss://media.example.com/ws"},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "ftp://host", "http://"} {
		_, err := Endpoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestWebsocketDialer_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotAuth string
	var mu sync.Mutex
	closed := make(chan int, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		frames := []string{
			`{"type":"heartbeat","timestamp":1}`,
			`garbage`,
			`{"type":"orchestrator_status","running":true}`,
		}
		for _, f := range frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if ce, ok := err.(*websocket.CloseError); ok {
					closed <- ce.Code
				}
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	endpoint, err := Endpoint(server.URL)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(endpoint, "ws://"))

	sink := &recordingSink{}
	header := http.Header{}
	header.Set("Authorization", "Bearer secret")
	m, err := NewManager(Options{
		Endpoint: endpoint,
		Header:   header,
		Dialer:   WebsocketDialer{ReadTimeout: -1},
		Sink:     sink,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	m.Connect()
	require.Eventually(t, func() bool { return len(sink.messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Message{Heartbeat{Timestamp: 1}, OrchestratorStatus{Running: true}}, sink.messages())
	assert.Equal(t, Connected, m.Status().State)

	mu.Lock()
	assert.Equal(t, "Bearer secret", gotAuth)
	mu.Unlock()

	m.Disconnect()
	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a normal closure")
	}
	assert.Equal(t, Disconnected, m.Status().State)
}
