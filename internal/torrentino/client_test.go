package torrentino

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBaseURL_DefaultsAndNormalizes(t *testing.T) {
	u, err := ParseBaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "127.0.0.1:3000", u.Host)

	u, err = ParseBaseURL("https://example.com:1234/path?x=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:1234", u.String())

	_, err = ParseBaseURL("http://")
	assert.Error(t, err)
}

type recorded struct {
	method string
	path   string
	query  url.Values
	body   []byte
	auth   string
	ctype  string
}

func newRecordingServer(t *testing.T, handler func(r recorded) (int, any)) (*Client, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			body:   body,
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
		}
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()

		status, payload := handler(rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if payload != nil {
			_ = json.NewEncoder(w).Encode(payload)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, "secret")
	require.NoError(t, err)
	return c, &calls
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_ListTicketsEncodesFiltersAndAuth(t *testing.T) {
	c, calls := newRecordingServer(t, func(r recorded) (int, any) {
		return http.StatusOK, map[string]any{
			"tickets": []map[string]any{{
				"id":            "t1",
				"state":         map[string]any{"type": "downloading", "info_hash": "abc"},
				"query_context": map[string]any{"tags": []string{"music"}, "description": "album"},
			}},
			"total": 7, "limit": 2, "offset": 4,
		}
	})

	list, err := c.ListTickets(testContext(t), TicketFilter{State: "pending", CreatedBy: " alice "}, 2, 4)
	require.NoError(t, err)
	require.Len(t, list.Tickets, 1)
	assert.Equal(t, 7, list.Total)
	assert.Equal(t, "downloading", list.Tickets[0].State.Type)
	assert.JSONEq(t, `"abc"`, string(list.Tickets[0].State.Details["info_hash"]))
	assert.Equal(t, []string{"music"}, list.Tickets[0].QueryContext.Tags)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/api/v1/tickets", got.path)
	assert.Equal(t, "pending", got.query.Get("state"))
	assert.Equal(t, "alice", got.query.Get("created_by"))
	assert.Equal(t, "2", got.query.Get("limit"))
	assert.Equal(t, "4", got.query.Get("offset"))
	assert.Equal(t, "Bearer secret", got.auth)
}

func TestClient_MutationRoutes(t *testing.T) {
	c, calls := newRecordingServer(t, func(r recorded) (int, any) {
		if r.path == "/api/v1/tickets/t1" && r.method == http.MethodDelete {
			return http.StatusOK, map[string]any{"id": "t1", "state": map[string]any{"type": "cancelled"}}
		}
		return http.StatusOK, map[string]any{"message": "ok"}
	})
	ctx := testContext(t)

	ticket, err := c.CancelTicket(ctx, "t1", "dup")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", ticket.State.Type)
	require.NoError(t, c.DeleteTicket(ctx, "t1"))
	require.NoError(t, c.RetryTicket(ctx, "t1"))
	require.NoError(t, c.ApproveTicket(ctx, "t1", 2))
	require.NoError(t, c.RejectTicket(ctx, "t1", ""))
	require.NoError(t, c.PauseTorrent(ctx, "h1"))
	require.NoError(t, c.ResumeTorrent(ctx, "h1"))
	require.NoError(t, c.RecheckTorrent(ctx, "h1"))
	require.NoError(t, c.SetUploadLimit(ctx, "h1", 1024))
	require.NoError(t, c.SetDownloadLimit(ctx, "h1", 0))
	require.NoError(t, c.RemoveTorrent(ctx, "h1", true))
	require.NoError(t, c.StartOrchestrator(ctx))
	require.NoError(t, c.StopOrchestrator(ctx))

	want := []struct{ method, path string }{
		{http.MethodDelete, "/api/v1/tickets/t1"},
		{http.MethodPost, "/api/v1/tickets/t1/delete"},
		{http.MethodPost, "/api/v1/tickets/t1/retry"},
		{http.MethodPost, "/api/v1/tickets/t1/approve"},
		{http.MethodPost, "/api/v1/tickets/t1/reject"},
		{http.MethodPost, "/api/v1/torrents/h1/pause"},
		{http.MethodPost, "/api/v1/torrents/h1/resume"},
		{http.MethodPost, "/api/v1/torrents/h1/recheck"},
		{http.MethodPost, "/api/v1/torrents/h1/upload-limit"},
		{http.MethodPost, "/api/v1/torrents/h1/download-limit"},
		{http.MethodDelete, "/api/v1/torrents/h1"},
		{http.MethodPost, "/api/v1/orchestrator/start"},
		{http.MethodPost, "/api/v1/orchestrator/stop"},
	}
	require.Len(t, *calls, len(want))
	for i, w := range want {
		assert.Equal(t, w.method, (*calls)[i].method, "call %d", i)
		assert.Equal(t, w.path, (*calls)[i].path, "call %d", i)
	}
	assert.JSONEq(t, `{"reason":"dup"}`, string((*calls)[0].body))
	assert.JSONEq(t, `{"candidate_idx":2}`, string((*calls)[3].body))
	assert.JSONEq(t, `{"limit":1024}`, string((*calls)[8].body))
	assert.Equal(t, "true", (*calls)[10].query.Get("delete_files"))
}

func TestClient_AddTorrentFileUsesMultipart(t *testing.T) {
	var gotName string
	var gotData []byte
	var gotCategory string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/torrents/add/file", r.URL.Path)
		file, header, err := r.FormFile("file")
		if err == nil {
			gotName = header.Filename
			gotData, _ = io.ReadAll(file)
		}
		gotCategory = r.FormValue("category")
		_ = json.NewEncoder(w).Encode(AddTorrentResult{Hash: "h9", Name: "Album"})
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, "")
	require.NoError(t, err)
	res, err := c.AddTorrentFile(testContext(t), "album.torrent", []byte("d8:announce"), AddTorrentOptions{Category: "music"})
	require.NoError(t, err)
	assert.Equal(t, "h9", res.Hash)
	assert.Equal(t, "album.torrent", gotName)
	assert.Equal(t, []byte("d8:announce"), gotData)
	assert.Equal(t, "music", gotCategory)
}

func TestClient_QueryAuditEncodesFilters(t *testing.T) {
	c, calls := newRecordingServer(t, func(r recorded) (int, any) {
		return http.StatusOK, AuditPage{Events: []AuditRecord{{ID: 1, EventType: "ticket_created"}}, Total: 1}
	})
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.QueryAudit(testContext(t), AuditQuery{TicketID: "t1", EventType: "ticket_created", UserID: "u", From: from}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	q := (*calls)[0].query
	assert.Equal(t, "t1", q.Get("ticket_id"))
	assert.Equal(t, "ticket_created", q.Get("event_type"))
	assert.Equal(t, "u", q.Get("user_id"))
	assert.Equal(t, "2025-03-01T00:00:00Z", q.Get("from"))
	assert.Equal(t, "", q.Get("to"))
	assert.Equal(t, "", q.Get("offset"))
}

func TestClient_ErrorsCarryStatusAndMessage(t *testing.T) {
	c, _ := newRecordingServer(t, func(r recorded) (int, any) {
		if r.path == "/api/v1/orchestrator/status" {
			return http.StatusUnauthorized, map[string]string{"error": "bad key"}
		}
		return http.StatusServiceUnavailable, map[string]string{"error": "Torrent client not configured"}
	})
	ctx := testContext(t)

	_, err := c.OrchestratorStatus(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, "Invalid or missing API key", Describe(err))

	err = c.PauseTorrent(ctx, "h1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "Torrent client not configured", Describe(err))
}

func TestClient_SetCredential(t *testing.T) {
	c, calls := newRecordingServer(t, func(r recorded) (int, any) {
		return http.StatusOK, OrchestratorStatus{Running: true}
	})
	c.SetCredential("rotated")
	_, err := c.OrchestratorStatus(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "Bearer rotated", (*calls)[0].auth)

	c.SetCredential("")
	assert.Empty(t, c.AuthHeader().Get("Authorization"))
}

func TestTicketState_RoundTripKeepsDetails(t *testing.T) {
	var s TicketState
	require.NoError(t, json.Unmarshal([]byte(`{"type":"failed","error":"boom","failed_at":"2025-01-01T00:00:00Z"}`), &s))
	assert.Equal(t, "failed", s.Type)
	assert.True(t, s.Terminal())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"failed","error":"boom","failed_at":"2025-01-01T00:00:00Z"}`, string(out))

	clone := s.Clone()
	clone.Details["error"] = json.RawMessage(`"changed"`)
	assert.JSONEq(t, `"boom"`, string(s.Details["error"]))
}

func TestDecodeErrorBody_TruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxErrorBody-1) + strings.Repeat("é", 10)

	text := decodeErrorBody([]byte(body))
	assert.True(t, utf8.ValidString(text), "truncated text must stay valid UTF-8")
	assert.Equal(t, strings.Repeat("a", maxErrorBody-1), text)

	short := "gateway timeout: upstream tracker unreachable ☁"
	assert.Equal(t, short, decodeErrorBody([]byte("  "+short+"\n")))
}

func TestAuditQuery_EqualComparesInstants(t *testing.T) {
	utc := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	berlin := time.FixedZone("CET", 3600)

	a := AuditQuery{TicketID: "t1", From: utc}
	b := AuditQuery{TicketID: "t1", From: utc.In(berlin)}
	assert.True(t, a.Equal(b))

	now := time.Now()
	assert.True(t, AuditQuery{To: now}.Equal(AuditQuery{To: now.Round(0)}), "monotonic reading is ignored")

	assert.False(t, a.Equal(AuditQuery{TicketID: "t2", From: utc}))
	assert.False(t, a.Equal(AuditQuery{TicketID: "t1", From: utc.Add(time.Second)}))
}
