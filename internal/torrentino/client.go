package torrentino

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client talks to the torrentino HTTP API under /api/v1.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string

	mu         sync.RWMutex
	credential string
}

const (
	defaultBaseURL   = "http://127.0.0.1:3000"
	defaultUserAgent = "beacon/0.1"
	apiPrefix        = "/api/v1"
	requestTimeout   = 10 * time.Second
)

// NewClient builds a Client for baseURL. credential is attached to every
// request as a bearer token; empty sends no Authorization header.
func NewClient(baseURL, credential string) (*Client, error) {
	base, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    base,
		http:       &http.Client{Timeout: requestTimeout},
		userAgent:  defaultUserAgent,
		credential: strings.TrimSpace(credential),
	}, nil
}

// BaseURL returns the normalized server origin.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// SetCredential replaces the API key used by subsequent requests.
func (c *Client) SetCredential(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = strings.TrimSpace(key)
}

// AuthHeader returns the headers that carry the credential, for reuse on
// the push channel handshake.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	c.mu.RLock()
	key := c.credential
	c.mu.RUnlock()
	if key != "" {
		h.Set("Authorization", "Bearer "+key)
	}
	return h
}

// ListTickets returns one page of tickets.
func (c *Client) ListTickets(ctx context.Context, filter TicketFilter, limit, offset int) (TicketList, error) {
	values := pageValues(limit, offset)
	setIf(values, "state", filter.State)
	setIf(values, "created_by", filter.CreatedBy)
	var payload TicketList
	if err := c.do(ctx, http.MethodGet, "/tickets", values, nil, &payload); err != nil {
		return TicketList{}, err
	}
	return payload, nil
}

// GetTicket fetches one ticket.
func (c *Client) GetTicket(ctx context.Context, id string) (Ticket, error) {
	var payload Ticket
	if err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(id), nil, nil, &payload); err != nil {
		return Ticket{}, err
	}
	return payload, nil
}

// CreateTicket submits a new ticket; the server assigns its id.
func (c *Client) CreateTicket(ctx context.Context, req CreateTicketRequest) (Ticket, error) {
	var payload Ticket
	if err := c.do(ctx, http.MethodPost, "/tickets", nil, req, &payload); err != nil {
		return Ticket{}, err
	}
	return payload, nil
}

// CancelTicket cancels a non-terminal ticket and returns its new state.
func (c *Client) CancelTicket(ctx context.Context, id, reason string) (Ticket, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var payload Ticket
	if err := c.do(ctx, http.MethodDelete, "/tickets/"+url.PathEscape(id), nil, body, &payload); err != nil {
		return Ticket{}, err
	}
	return payload, nil
}

// DeleteTicket removes a ticket permanently.
func (c *Client) DeleteTicket(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(id)+"/delete", nil, nil, nil)
}

// RetryTicket re-queues a failed ticket.
func (c *Client) RetryTicket(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(id)+"/retry", nil, struct{}{}, nil)
}

// ApproveTicket approves the candidate at index idx.
func (c *Client) ApproveTicket(ctx context.Context, id string, idx int) error {
	body := map[string]int{"candidate_idx": idx}
	return c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(id)+"/approve", nil, body, nil)
}

// RejectTicket rejects every candidate of a ticket awaiting approval.
func (c *Client) RejectTicket(ctx context.Context, id, reason string) error {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(id)+"/reject", nil, body, nil)
}

// ListTorrents returns every torrent matching filter. The server does not
// paginate this endpoint.
func (c *Client) ListTorrents(ctx context.Context, filter TorrentFilter) (TorrentList, error) {
	values := url.Values{}
	setIf(values, "state", filter.State)
	setIf(values, "category", filter.Category)
	setIf(values, "search", filter.Search)
	var payload TorrentList
	if err := c.do(ctx, http.MethodGet, "/torrents", values, nil, &payload); err != nil {
		return TorrentList{}, err
	}
	if payload.Count == 0 {
		payload.Count = len(payload.Torrents)
	}
	return payload, nil
}

// GetTorrent fetches one torrent by info hash.
func (c *Client) GetTorrent(ctx context.Context, hash string) (Torrent, error) {
	var payload Torrent
	if err := c.do(ctx, http.MethodGet, "/torrents/"+url.PathEscape(hash), nil, nil, &payload); err != nil {
		return Torrent{}, err
	}
	return payload, nil
}

// AddMagnet adds a torrent from a magnet URI.
func (c *Client) AddMagnet(ctx context.Context, uri string, opts AddTorrentOptions) (AddTorrentResult, error) {
	body := struct {
		URI          string `json:"uri"`
		DownloadPath string `json:"download_path,omitempty"`
		Category     string `json:"category,omitempty"`
		Paused       bool   `json:"paused"`
		TicketID     string `json:"ticket_id,omitempty"`
	}{uri, opts.DownloadPath, opts.Category, opts.Paused, opts.TicketID}
	var payload AddTorrentResult
	if err := c.do(ctx, http.MethodPost, "/torrents/add/magnet", nil, body, &payload); err != nil {
		return AddTorrentResult{}, err
	}
	return payload, nil
}

// AddTorrentFile uploads a .torrent file.
func (c *Client) AddTorrentFile(ctx context.Context, filename string, data []byte, opts AddTorrentOptions) (AddTorrentResult, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return AddTorrentResult{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return AddTorrentResult{}, fmt.Errorf("build upload: %w", err)
	}
	fields := map[string]string{
		"download_path": opts.DownloadPath,
		"category":      opts.Category,
		"ticket_id":     opts.TicketID,
	}
	if opts.Paused {
		fields["paused"] = "true"
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(name, value); err != nil {
			return AddTorrentResult{}, fmt.Errorf("build upload: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return AddTorrentResult{}, fmt.Errorf("build upload: %w", err)
	}

	var payload AddTorrentResult
	err = c.send(ctx, http.MethodPost, "/torrents/add/file", nil, &buf, form.FormDataContentType(), &payload)
	if err != nil {
		return AddTorrentResult{}, err
	}
	return payload, nil
}

// RemoveTorrent removes a torrent, optionally deleting its data.
func (c *Client) RemoveTorrent(ctx context.Context, hash string, deleteFiles bool) error {
	values := url.Values{}
	if deleteFiles {
		values.Set("delete_files", "true")
	}
	return c.do(ctx, http.MethodDelete, "/torrents/"+url.PathEscape(hash), values, nil, nil)
}

// PauseTorrent pauses a torrent.
func (c *Client) PauseTorrent(ctx context.Context, hash string) error {
	return c.do(ctx, http.MethodPost, "/torrents/"+url.PathEscape(hash)+"/pause", nil, nil, nil)
}

// ResumeTorrent resumes a torrent. The resulting state is decided by the
// torrent client (it may queue, check, or seed rather than download).
func (c *Client) ResumeTorrent(ctx context.Context, hash string) error {
	return c.do(ctx, http.MethodPost, "/torrents/"+url.PathEscape(hash)+"/resume", nil, nil, nil)
}

// RecheckTorrent verifies a torrent's data on disk.
func (c *Client) RecheckTorrent(ctx context.Context, hash string) error {
	return c.do(ctx, http.MethodPost, "/torrents/"+url.PathEscape(hash)+"/recheck", nil, nil, nil)
}

// SetUploadLimit sets the upload limit in bytes/second; 0 is unlimited.
func (c *Client) SetUploadLimit(ctx context.Context, hash string, limit uint64) error {
	body := map[string]uint64{"limit": limit}
	return c.do(ctx, http.MethodPost, "/torrents/"+url.PathEscape(hash)+"/upload-limit", nil, body, nil)
}

// SetDownloadLimit sets the download limit in bytes/second; 0 is unlimited.
func (c *Client) SetDownloadLimit(ctx context.Context, hash string, limit uint64) error {
	body := map[string]uint64{"limit": limit}
	return c.do(ctx, http.MethodPost, "/torrents/"+url.PathEscape(hash)+"/download-limit", nil, body, nil)
}

// PipelineStatus reports conversion and placement pool state.
func (c *Client) PipelineStatus(ctx context.Context) (PipelineStatus, error) {
	var payload PipelineStatus
	if err := c.do(ctx, http.MethodGet, "/pipeline/status", nil, nil, &payload); err != nil {
		return PipelineStatus{}, err
	}
	return payload, nil
}

// PipelineProgress reports the pipeline phase of one ticket.
func (c *Client) PipelineProgress(ctx context.Context, ticketID string) (TicketProgress, error) {
	var payload TicketProgress
	if err := c.do(ctx, http.MethodGet, "/pipeline/progress/"+url.PathEscape(ticketID), nil, nil, &payload); err != nil {
		return TicketProgress{}, err
	}
	return payload, nil
}

// OrchestratorStatus reports the acquisition loop state.
func (c *Client) OrchestratorStatus(ctx context.Context) (OrchestratorStatus, error) {
	var payload OrchestratorStatus
	if err := c.do(ctx, http.MethodGet, "/orchestrator/status", nil, nil, &payload); err != nil {
		return OrchestratorStatus{}, err
	}
	return payload, nil
}

// StartOrchestrator starts the acquisition loop.
func (c *Client) StartOrchestrator(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/orchestrator/start", nil, nil, nil)
}

// StopOrchestrator stops the acquisition loop.
func (c *Client) StopOrchestrator(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/orchestrator/stop", nil, nil, nil)
}

// QueryAudit returns one page of audit events.
func (c *Client) QueryAudit(ctx context.Context, query AuditQuery, limit, offset int) (AuditPage, error) {
	values := pageValues(limit, offset)
	setIf(values, "ticket_id", query.TicketID)
	setIf(values, "event_type", query.EventType)
	setIf(values, "user_id", query.UserID)
	if !query.From.IsZero() {
		values.Set("from", query.From.UTC().Format(time.RFC3339))
	}
	if !query.To.IsZero() {
		values.Set("to", query.To.UTC().Format(time.RFC3339))
	}
	var payload AuditPage
	if err := c.do(ctx, http.MethodGet, "/audit", values, nil, &payload); err != nil {
		return AuditPage{}, err
	}
	return payload, nil
}

func pageValues(limit, offset int) url.Values {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		values.Set("offset", strconv.Itoa(offset))
	}
	return values
}

func setIf(values url.Values, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		values.Set(key, v)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	if body == nil {
		return c.send(ctx, method, path, query, nil, "", dest)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.send(ctx, method, path, query, bytes.NewReader(encoded), "application/json", dest)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, dest any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	rel := &url.URL{Path: apiPrefix + path}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.AuthHeader() {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Method:  method,
			Path:    rel.Path,
			Status:  resp.StatusCode,
			Message: decodeErrorBody(raw),
		}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ParseBaseURL normalizes a server address to its origin.
func ParseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", raw)
	}
	u.Path = ""
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
