package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusServer(t *testing.T, key string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+key {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body any
		switch strings.TrimPrefix(r.URL.Path, "/api/v1") {
		case "/tickets":
			body = map[string]any{
				"tickets": []map[string]any{
					{"id": "a", "state": map[string]any{"type": "pending"}},
					{"id": "b", "state": map[string]any{"type": "pending"}},
					{"id": "c", "state": map[string]any{"type": "failed"}},
				},
				"total": 7, "limit": 50, "offset": 0,
			}
		case "/torrents":
			body = map[string]any{"torrents": []map[string]any{
				{"hash": "h1", "name": "One", "state": "downloading", "download_speed": 2048, "upload_speed": 10},
				{"hash": "h2", "name": "Two", "state": "seeding", "upload_speed": 30},
			}, "count": 2}
		case "/orchestrator/status":
			body = map[string]any{"available": true, "running": true, "pending_count": 3}
		case "/pipeline/status":
			body = map[string]any{"available": true, "converting_tickets": []string{"a"}, "placing_tickets": []string{}}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BEACON_API_KEY", "")
	t.Setenv("BEACON_BASE_URL", "")
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "config.toml"),
		"--prefs", filepath.Join(dir, "prefs.toml"),
	}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestStatus_JSON(t *testing.T) {
	srv := newStatusServer(t, "k")

	out, err := execute(t, "status", "--json", "--base-url", srv.URL, "--api-key", "k")
	require.NoError(t, err)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Orchestrator.Running)
	assert.Equal(t, 3, report.Orchestrator.PendingCount)
	assert.Equal(t, 7, report.Tickets.Total)
	assert.Equal(t, 3, report.Tickets.Loaded)
	assert.Equal(t, map[string]int{"pending": 2, "failed": 1}, report.Tickets.ByState)
	assert.Equal(t, 2, report.Torrents.Total)
	assert.Equal(t, uint64(2048), report.DownloadBps)
	assert.Equal(t, uint64(40), report.UploadBps)
}

func TestStatus_Text(t *testing.T) {
	srv := newStatusServer(t, "k")

	out, err := execute(t, "status", "--base-url", srv.URL, "--api-key", "k")
	require.NoError(t, err)
	assert.Contains(t, out, "orchestrator  running")
	assert.Contains(t, out, "tickets       7 total  failed=1 pending=2")
	assert.Contains(t, out, "pipeline      converting 1, placing 0")
}

func TestStatus_RejectedKey(t *testing.T) {
	srv := newStatusServer(t, "right")

	_, err := execute(t, "status", "--base-url", srv.URL, "--api-key", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid or missing API key")
}

func TestRoot_RejectsArgs(t *testing.T) {
	_, err := execute(t, "unexpected")
	require.Error(t, err)
}

func TestLogs_RendersConfiguredFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "beacon.log")
	cfg := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("log_file = \""+logFile+"\"\n"), 0o600))
	require.NoError(t, os.WriteFile(logFile, []byte(
		`{"level":"debug","component":"push","message":"dialing"}`+"\n"+
			`{"level":"info","component":"session","message":"session started"}`+"\n"), 0o600))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfg, "--prefs", filepath.Join(dir, "prefs.toml"), "logs", "--level", "info", "--no-color"})
	require.NoError(t, cmd.ExecuteContext(t.Context()))

	assert.Contains(t, out.String(), "session started")
	assert.NotContains(t, out.String(), "dialing")
}
