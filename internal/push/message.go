package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the value of a frame's "type" discriminator.
type Kind string

const (
	KindTicketUpdate       Kind = "ticket_update"
	KindTicketDeleted      Kind = "ticket_deleted"
	KindTorrentProgress    Kind = "torrent_progress"
	KindPipelineProgress   Kind = "pipeline_progress"
	KindOrchestratorStatus Kind = "orchestrator_status"
	KindHeartbeat          Kind = "heartbeat"
)

// Message is one decoded push notification. The concrete types below are
// the only implementations.
type Message interface {
	Kind() Kind
	message()
}

// TicketUpdate reports a ticket's new state type ("pending", "downloading", ...).
type TicketUpdate struct {
	TicketID string `json:"ticket_id"`
	State    string `json:"state"`
}

// TicketDeleted reports a ticket removed on the server.
type TicketDeleted struct {
	TicketID string `json:"ticket_id"`
}

// TorrentProgress is sent periodically for active downloads.
type TorrentProgress struct {
	TicketID    string  `json:"ticket_id"`
	InfoHash    string  `json:"info_hash"`
	ProgressPct float64 `json:"progress_pct"`
	SpeedBps    uint64  `json:"speed_bps"`
	ETASecs     *uint64 `json:"eta_secs"`
}

// PipelineProgress reports conversion or placement progress for a ticket.
type PipelineProgress struct {
	TicketID    string  `json:"ticket_id"`
	Phase       string  `json:"phase"`
	Current     int     `json:"current"`
	Total       int     `json:"total"`
	CurrentName string  `json:"current_name"`
	Percent     float64 `json:"percent"`
}

// OrchestratorStatus reports the acquisition loop starting or stopping.
type OrchestratorStatus struct {
	Running bool `json:"running"`
}

// Heartbeat keeps the connection alive; Timestamp is unix seconds.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

func (TicketUpdate) Kind() Kind       { return KindTicketUpdate }
func (TicketDeleted) Kind() Kind      { return KindTicketDeleted }
func (TorrentProgress) Kind() Kind    { return KindTorrentProgress }
func (PipelineProgress) Kind() Kind   { return KindPipelineProgress }
func (OrchestratorStatus) Kind() Kind { return KindOrchestratorStatus }
func (Heartbeat) Kind() Kind          { return KindHeartbeat }

func (TicketUpdate) message()       {}
func (TicketDeleted) message()      {}
func (TorrentProgress) message()    {}
func (PipelineProgress) message()   {}
func (OrchestratorStatus) message() {}
func (Heartbeat) message()          {}

var (
	// ErrUnknownKind is returned for frames whose type tag is not recognised.
	ErrUnknownKind = errors.New("unknown message type")
	// ErrMissingField is returned when a required payload field is absent.
	ErrMissingField = errors.New("missing required field")
)

// Decode parses one text frame. It never guesses a payload shape: unknown
// tags and frames missing their identifying fields are rejected.
func Decode(frame []byte) (Message, error) {
	var envelope struct {
		Type *Kind `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == nil {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}

	switch *envelope.Type {
	case KindTicketUpdate:
		var m TicketUpdate
		if err := decodeInto(frame, &m); err != nil {
			return nil, err
		}
		if m.TicketID == "" {
			return nil, fmt.Errorf("%w: ticket_id", ErrMissingField)
		}
		return m, nil
	case KindTicketDeleted:
		var m TicketDeleted
		if err := decodeInto(frame, &m); err != nil {
			return nil, err
		}
		if m.TicketID == "" {
			return nil, fmt.Errorf("%w: ticket_id", ErrMissingField)
		}
		return m, nil
	case KindTorrentProgress:
		var m TorrentProgress
		if err := decodeInto(frame, &m); err != nil {
			return nil, err
		}
		if m.InfoHash == "" {
			return nil, fmt.Errorf("%w: info_hash", ErrMissingField)
		}
		return m, nil
	case KindPipelineProgress:
		var m PipelineProgress
		if err := decodeInto(frame, &m); err != nil {
			return nil, err
		}
		if m.TicketID == "" {
			return nil, fmt.Errorf("%w: ticket_id", ErrMissingField)
		}
		return m, nil
	case KindOrchestratorStatus:
		var m OrchestratorStatus
		if err := decodeInto(frame, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindHeartbeat:
		var m Heartbeat
		if err := decodeInto(frame, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(*envelope.Type))
	}
}

func decodeInto(frame []byte, dest any) error {
	if err := json.Unmarshal(frame, dest); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Encode renders m in wire form, including its type tag.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	tag, err := json.Marshal(m.Kind())
	if err != nil {
		return nil, fmt.Errorf("encode type: %w", err)
	}
	fields["type"] = tag
	return json.Marshal(fields)
}
