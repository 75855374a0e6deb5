package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/beacon/internal/torrentino"
)

type auditServer struct {
	*httptest.Server
	mu      sync.Mutex
	queries []url.Values
}

func (s *auditServer) recorded() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries...)
}

// newAuditServer serves five events, newest first, honoring limit/offset.
func newAuditServer(t *testing.T) *auditServer {
	t.Helper()
	events := make([]torrentino.AuditRecord, 0, 5)
	for id := 5; id >= 1; id-- {
		events = append(events, torrentino.AuditRecord{
			ID:        int64(id),
			Timestamp: fmt.Sprintf("2025-03-0%dT10:00:00Z", id),
			EventType: "ticket_created",
			TicketID:  "t1",
			UserID:    "alice",
			Data:      json.RawMessage(`{"query":"album ` + strconv.Itoa(id) + `"}`),
		})
	}

	s := &auditServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/audit", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.mu.Lock()
		s.queries = append(s.queries, q)
		s.mu.Unlock()

		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		end := min(offset+limit, len(events))
		if limit == 0 {
			end = len(events)
		}
		page := torrentino.AuditPage{Events: events[min(offset, len(events)):end], Total: len(events), Limit: limit, Offset: offset}
		_ = json.NewEncoder(w).Encode(page)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func smallPageConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("page_size = 2\n"), 0o644))
	return path
}

func TestAudit_PagesThroughFilteredEvents(t *testing.T) {
	srv := newAuditServer(t)

	out, err := execute(t, "audit", "--json", "--limit", "0",
		"--ticket", "t1", "--type", "ticket_created", "--from", "2025-03-01T00:00:00Z",
		"--config", smallPageConfig(t), "--base-url", srv.URL, "--api-key", "k")
	require.NoError(t, err)

	var got struct {
		Total  int                      `json:"total"`
		Events []torrentino.AuditRecord `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 5, got.Total)
	require.Len(t, got.Events, 5)
	for i, e := range got.Events {
		assert.EqualValues(t, 5-i, e.ID)
	}

	queries := srv.recorded()
	require.Len(t, queries, 3)
	offsets := make([]string, 0, len(queries))
	for _, q := range queries {
		offsets = append(offsets, q.Get("offset"))
		assert.Equal(t, "t1", q.Get("ticket_id"))
		assert.Equal(t, "ticket_created", q.Get("event_type"))
		assert.Equal(t, "2025-03-01T00:00:00Z", q.Get("from"))
		assert.Equal(t, "2", q.Get("limit"))
	}
	assert.Equal(t, []string{"", "2", "4"}, offsets)
}

func TestAudit_TextStopsAtLimit(t *testing.T) {
	srv := newAuditServer(t)

	out, err := execute(t, "audit", "-n", "3",
		"--config", smallPageConfig(t), "--base-url", srv.URL, "--api-key", "k")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4, out)
	assert.True(t, strings.HasPrefix(lines[0], "5 "), lines[0])
	assert.Contains(t, lines[0], "ticket_created  ticket=t1  user=alice")
	assert.Contains(t, lines[0], `{"query":"album 5"}`)
	assert.Equal(t, "showing 3 of 5 events", lines[3])
	assert.Len(t, srv.recorded(), 2, "no page beyond the limit is fetched")
}

func TestAudit_RejectsBadTimes(t *testing.T) {
	srv := newAuditServer(t)

	_, err := execute(t, "audit", "--from", "yesterday", "--base-url", srv.URL, "--api-key", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--from")

	_, err = execute(t, "audit", "--from", "2025-03-02", "--to", "2025-03-01", "--base-url", srv.URL, "--api-key", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to is before --from")
	assert.Empty(t, srv.recorded())
}
