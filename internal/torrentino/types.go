package torrentino

import (
	"encoding/json"
	"time"
)

// TicketState is the server's tagged ticket state. Type is the
// discriminator ("pending", "downloading", "completed", ...); Details keeps
// the remaining per-state fields verbatim.
type TicketState struct {
	Type    string
	Details map[string]json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TicketState) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var kind string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return err
		}
		delete(fields, "type")
	}
	s.Type = kind
	s.Details = nil
	if len(fields) > 0 {
		s.Details = fields
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s TicketState) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Details)+1)
	for k, v := range s.Details {
		out[k] = v
	}
	kind, err := json.Marshal(s.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = kind
	return json.Marshal(out)
}

// Clone returns a deep copy.
func (s TicketState) Clone() TicketState {
	if s.Details == nil {
		return s
	}
	dup := make(map[string]json.RawMessage, len(s.Details))
	for k, v := range s.Details {
		dup[k] = append(json.RawMessage(nil), v...)
	}
	return TicketState{Type: s.Type, Details: dup}
}

// Terminal reports whether no further transitions are possible.
func (s TicketState) Terminal() bool {
	switch s.Type {
	case "completed", "failed", "cancelled", "rejected":
		return true
	}
	return false
}

// QueryContext describes what the ticket should acquire.
type QueryContext struct {
	Tags              []string        `json:"tags"`
	Description       string          `json:"description"`
	Expected          json.RawMessage `json:"expected,omitempty"`
	CatalogReference  json.RawMessage `json:"catalog_reference,omitempty"`
	SearchConstraints json.RawMessage `json:"search_constraints,omitempty"`
}

// Ticket mirrors the ticket response payload.
type Ticket struct {
	ID                string          `json:"id"`
	CreatedAt         string          `json:"created_at"`
	CreatedBy         string          `json:"created_by"`
	State             TicketState     `json:"state"`
	Priority          int             `json:"priority"`
	QueryContext      QueryContext    `json:"query_context"`
	DestPath          string          `json:"dest_path"`
	OutputConstraints json.RawMessage `json:"output_constraints,omitempty"`
	UpdatedAt         string          `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (t Ticket) Clone() Ticket {
	dup := t
	dup.State = t.State.Clone()
	if t.QueryContext.Tags != nil {
		dup.QueryContext.Tags = append([]string(nil), t.QueryContext.Tags...)
	}
	return dup
}

// ParsedCreatedAt returns CreatedAt as time.Time, zero when unparseable.
func (t Ticket) ParsedCreatedAt() time.Time { return parseTime(t.CreatedAt) }

// ParsedUpdatedAt returns UpdatedAt as time.Time, zero when unparseable.
func (t Ticket) ParsedUpdatedAt() time.Time { return parseTime(t.UpdatedAt) }

// TicketFilter narrows ticket listings.
type TicketFilter struct {
	State     string
	CreatedBy string
}

// TicketList mirrors GET /tickets.
type TicketList struct {
	Tickets []Ticket `json:"tickets"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// CreateTicketRequest is the POST /tickets body.
type CreateTicketRequest struct {
	Priority          *int            `json:"priority,omitempty"`
	QueryContext      QueryContext    `json:"query_context"`
	DestPath          string          `json:"dest_path"`
	OutputConstraints json.RawMessage `json:"output_constraints,omitempty"`
}

// Torrent mirrors the torrent client's per-torrent info.
type Torrent struct {
	Hash            string  `json:"hash"`
	Name            string  `json:"name"`
	State           string  `json:"state"`
	Progress        float64 `json:"progress"`
	SizeBytes       uint64  `json:"size_bytes"`
	DownloadedBytes uint64  `json:"downloaded_bytes"`
	UploadedBytes   uint64  `json:"uploaded_bytes"`
	DownloadSpeed   uint64  `json:"download_speed"`
	UploadSpeed     uint64  `json:"upload_speed"`
	Seeders         int     `json:"seeders"`
	Leechers        int     `json:"leechers"`
	Ratio           float64 `json:"ratio"`
	ETASecs         *uint64 `json:"eta_secs,omitempty"`
	AddedAt         string  `json:"added_at,omitempty"`
	CompletedAt     string  `json:"completed_at,omitempty"`
	SavePath        string  `json:"save_path,omitempty"`
	Category        string  `json:"category,omitempty"`
	UploadLimit     uint64  `json:"upload_limit"`
	DownloadLimit   uint64  `json:"download_limit"`
}

// Clone returns a copy with its own ETA pointer.
func (t Torrent) Clone() Torrent {
	dup := t
	if t.ETASecs != nil {
		eta := *t.ETASecs
		dup.ETASecs = &eta
	}
	return dup
}

// Torrent states reported by the server.
const (
	TorrentDownloading = "downloading"
	TorrentSeeding     = "seeding"
	TorrentPaused      = "paused"
	TorrentChecking    = "checking"
	TorrentQueued      = "queued"
	TorrentStalled     = "stalled"
	TorrentError       = "error"
)

// TorrentFilter narrows torrent listings.
type TorrentFilter struct {
	State    string
	Category string
	Search   string
}

// TorrentList mirrors GET /torrents.
type TorrentList struct {
	Torrents []Torrent `json:"torrents"`
	Count    int       `json:"count"`
}

// AddTorrentOptions are shared by magnet and file adds.
type AddTorrentOptions struct {
	DownloadPath string
	Category     string
	Paused       bool
	TicketID     string
}

// AddTorrentResult mirrors the add response.
type AddTorrentResult struct {
	Hash string `json:"hash"`
	Name string `json:"name,omitempty"`
}

// PoolStatus describes one pipeline worker pool.
type PoolStatus struct {
	Name           string `json:"name"`
	ActiveJobs     int    `json:"active_jobs"`
	MaxConcurrent  int    `json:"max_concurrent"`
	QueuedJobs     int    `json:"queued_jobs"`
	TotalProcessed uint64 `json:"total_processed"`
	TotalFailed    uint64 `json:"total_failed"`
}

// PipelineStatus mirrors GET /pipeline/status.
type PipelineStatus struct {
	Available         bool        `json:"available"`
	Running           bool        `json:"running"`
	Message           string      `json:"message"`
	ConversionPool    *PoolStatus `json:"conversion_pool,omitempty"`
	PlacementPool     *PoolStatus `json:"placement_pool,omitempty"`
	ConvertingTickets []string    `json:"converting_tickets"`
	PlacingTickets    []string    `json:"placing_tickets"`
}

// ProgressDetails is the per-file part of TicketProgress.
type ProgressDetails struct {
	CurrentFile     int     `json:"current_file"`
	TotalFiles      int     `json:"total_files"`
	CurrentFileName string  `json:"current_file_name"`
	Percent         float64 `json:"percent"`
}

// TicketProgress mirrors GET /pipeline/progress/{ticket_id}.
type TicketProgress struct {
	TicketID string           `json:"ticket_id"`
	Phase    string           `json:"phase"`
	Progress *ProgressDetails `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// OrchestratorStatus mirrors GET /orchestrator/status.
type OrchestratorStatus struct {
	Available          bool `json:"available"`
	Running            bool `json:"running"`
	ActiveDownloads    int  `json:"active_downloads"`
	AcquiringCount     int  `json:"acquiring_count"`
	PendingCount       int  `json:"pending_count"`
	NeedsApprovalCount int  `json:"needs_approval_count"`
	DownloadingCount   int  `json:"downloading_count"`
}

// AuditQuery filters GET /audit.
type AuditQuery struct {
	TicketID  string
	EventType string
	UserID    string
	From      time.Time
	To        time.Time
}

// Equal reports whether q and o select the same events. Times compare as
// instants, ignoring location and monotonic readings.
func (q AuditQuery) Equal(o AuditQuery) bool {
	return q.TicketID == o.TicketID &&
		q.EventType == o.EventType &&
		q.UserID == o.UserID &&
		q.From.Equal(o.From) &&
		q.To.Equal(o.To)
}

// AuditRecord is one stored audit event.
type AuditRecord struct {
	ID        int64           `json:"id"`
	Timestamp string          `json:"timestamp"`
	EventType string          `json:"event_type"`
	TicketID  string          `json:"ticket_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// ParsedTimestamp returns Timestamp as time.Time, zero when unparseable.
func (r AuditRecord) ParsedTimestamp() time.Time { return parseTime(r.Timestamp) }

// AuditPage mirrors the audit query response.
type AuditPage struct {
	Events []AuditRecord `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
