package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/beacon/internal/config"
	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/state"
	"github.com/five82/beacon/internal/store"
	"github.com/five82/beacon/internal/torrentino"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeTorrentino serves the REST routes the session polls plus /ws.
type fakeTorrentino struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	key       string
	ticketSt  string
	conns     chan *websocket.Conn
	listCalls atomic.Int32
	orchCalls atomic.Int32
}

func newFakeTorrentino(t *testing.T, key string) *fakeTorrentino {
	f := &fakeTorrentino{t: t, key: key, ticketSt: "queued", conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
	})
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		key, st := f.key, f.ticketSt
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+key {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid API key"})
			return
		}
		var body any
		switch strings.TrimPrefix(r.URL.Path, "/api/v1") {
		case "/tickets":
			f.listCalls.Add(1)
			body = map[string]any{
				"tickets": []map[string]any{{"id": "a", "state": map[string]any{"type": st}, "query_context": map[string]any{"tags": []string{}, "description": "album"}}},
				"total":   1, "limit": 50, "offset": 0,
			}
		case "/torrents":
			body = map[string]any{"torrents": []map[string]any{{"hash": "h1", "name": "Album", "state": "downloading", "progress": 0.1}}, "count": 1}
		case "/orchestrator/status":
			f.orchCalls.Add(1)
			body = torrentino.OrchestratorStatus{Available: true, Running: false, PendingCount: 2}
		case "/pipeline/status":
			body = torrentino.PipelineStatus{Available: true}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTorrentino) setTicketState(st string) {
	f.mu.Lock()
	f.ticketSt = st
	f.mu.Unlock()
}

func (f *fakeTorrentino) setKey(key string) {
	f.mu.Lock()
	f.key = key
	f.mu.Unlock()
}

func (f *fakeTorrentino) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(waitFor):
		t.Fatal("no websocket connection")
		return nil
	}
}

func (f *fakeTorrentino) send(t *testing.T, conn *websocket.Conn, m push.Message) {
	t.Helper()
	frame, err := push.Encode(m)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func newTestSession(t *testing.T, f *fakeTorrentino, key string) *Session {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = f.server.URL
	cfg.APIKey = key
	cfg.ReconnectInterval = 20 * time.Millisecond
	cfg.PollInterval = time.Hour
	s, err := NewSession(SessionOptions{Config: cfg, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func ticketState(s *Session, id string) string {
	e, ok := s.Tickets.Get(id)
	if !ok {
		return ""
	}
	return e.Value.State.Type
}

func TestSession_LoadsAndAppliesPush(t *testing.T) {
	f := newFakeTorrentino(t, "k")
	s := newTestSession(t, f, "k")
	require.NoError(t, s.Start(t.Context()))

	conn := f.nextConn(t)
	require.Eventually(t, func() bool { return ticketState(s, "a") == "queued" }, waitFor, tick)
	require.Eventually(t, func() bool { return s.Health.Snapshot().Mode() == state.ModeLive }, waitFor, tick)
	require.Eventually(t, func() bool { return s.Orchestrator.Snapshot().Loaded }, waitFor, tick)

	f.send(t, conn, push.TicketUpdate{TicketID: "a", State: "downloading"})
	require.Eventually(t, func() bool { return ticketState(s, "a") == "downloading" }, waitFor, tick)

	f.send(t, conn, push.TorrentProgress{InfoHash: "h1", ProgressPct: 80, SpeedBps: 10})
	require.Eventually(t, func() bool {
		e, ok := s.Torrents.Get("h1")
		return ok && e.Value.Progress > 0.79
	}, waitFor, tick)

	f.send(t, conn, push.OrchestratorStatus{Running: true})
	require.Eventually(t, func() bool { return s.Orchestrator.Snapshot().Value.Running }, waitFor, tick)
	assert.Equal(t, 2, s.Orchestrator.Snapshot().Value.PendingCount)
}

func TestSession_ResyncsAfterReconnect(t *testing.T) {
	f := newFakeTorrentino(t, "k")
	s := newTestSession(t, f, "k")
	require.NoError(t, s.Start(t.Context()))

	conn := f.nextConn(t)
	require.Eventually(t, func() bool { return ticketState(s, "a") == "queued" }, waitFor, tick)

	// The update happens while the channel is down, so no push carries it.
	f.setTicketState("completed")
	require.NoError(t, conn.Close())

	f.nextConn(t)
	require.Eventually(t, func() bool { return ticketState(s, "a") == "completed" }, waitFor, tick)
	assert.GreaterOrEqual(t, s.PushStatus().Opens, 2)
}

func TestSession_CloseStopsEverything(t *testing.T) {
	f := newFakeTorrentino(t, "k")
	s := newTestSession(t, f, "k")
	require.NoError(t, s.Start(t.Context()))
	conn := f.nextConn(t)
	require.Eventually(t, func() bool { return s.PushStatus().State == push.Connected }, waitFor, tick)

	var seen atomic.Int32
	s.OnMessage(func(push.Message) { seen.Add(1) })

	s.Close()
	assert.Equal(t, push.Disconnected, s.PushStatus().State)
	assert.Error(t, s.Start(t.Context()))

	// The server sees a normal closure and nothing is delivered afterwards.
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	calls := f.orchCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, f.orchCalls.Load())
	assert.Zero(t, seen.Load())
	s.Close()
}

func TestSession_AuthFailureThenNewCredential(t *testing.T) {
	f := newFakeTorrentino(t, "right")
	s := newTestSession(t, f, "wrong")
	require.NoError(t, s.Start(t.Context()))

	require.Eventually(t, func() bool { return s.Health.Snapshot().Mode() == state.ModeAuthInvalid }, waitFor, tick)
	assert.Equal(t, "Invalid or missing API key", s.Tickets.Err())

	f.setKey("rotated")
	s.SetCredential("rotated")
	require.Eventually(t, func() bool { return ticketState(s, "a") == "queued" }, waitFor, tick)
	require.Eventually(t, func() bool { return !s.Health.Snapshot().AuthInvalid }, waitFor, tick)
}

func TestSettled_IgnoresOnlyStaleLists(t *testing.T) {
	assert.NoError(t, settled(nil))
	assert.NoError(t, settled(fmt.Errorf("list tickets: %w", store.ErrStaleList)))

	err := fmt.Errorf("list tickets: %w", torrentino.ErrUnauthorized)
	assert.ErrorIs(t, settled(err), torrentino.ErrUnauthorized)
}
