package store

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/torrentino"
)

// TicketAPI is the REST surface the ticket store needs.
type TicketAPI interface {
	ListTickets(ctx context.Context, filter torrentino.TicketFilter, limit, offset int) (torrentino.TicketList, error)
	GetTicket(ctx context.Context, id string) (torrentino.Ticket, error)
	CreateTicket(ctx context.Context, req torrentino.CreateTicketRequest) (torrentino.Ticket, error)
	CancelTicket(ctx context.Context, id, reason string) (torrentino.Ticket, error)
	DeleteTicket(ctx context.Context, id string) error
	RetryTicket(ctx context.Context, id string) error
	ApproveTicket(ctx context.Context, id string, idx int) error
	RejectTicket(ctx context.Context, id, reason string) error
}

// TicketSnapshot is an immutable view of the ticket store.
type TicketSnapshot = Snapshot[torrentino.TicketFilter, torrentino.Ticket]

// Tickets caches tickets.
type Tickets struct {
	*Resource[torrentino.TicketFilter, torrentino.Ticket]
	api TicketAPI
}

// NewTickets builds a ticket store backed by api.
func NewTickets(api TicketAPI, pageSize int, report func(error), log zerolog.Logger) *Tickets {
	res := NewResource(Config[torrentino.TicketFilter, torrentino.Ticket]{
		Name:  "tickets",
		ID:    TicketID,
		Clone: torrentino.Ticket.Clone,
		List: func(ctx context.Context, f torrentino.TicketFilter, limit, offset int) (Page[torrentino.Ticket], error) {
			list, err := api.ListTickets(ctx, f, limit, offset)
			if err != nil {
				return Page[torrentino.Ticket]{}, err
			}
			return Page[torrentino.Ticket]{Items: list.Tickets, Total: list.Total}, nil
		},
		Get:      api.GetTicket,
		PageSize: pageSize,
		Logger:   log,
		Report:   report,
	})
	return &Tickets{Resource: res, api: api}
}

// TicketID extracts a ticket's key.
func TicketID(t torrentino.Ticket) string { return t.ID }

// CreateTicket submits a new ticket.
func (s *Tickets) CreateTicket(ctx context.Context, req torrentino.CreateTicketRequest) (torrentino.Ticket, error) {
	return s.Create(ctx, func(ctx context.Context) (torrentino.Ticket, error) {
		return s.api.CreateTicket(ctx, req)
	})
}

// Cancel cancels id. The server's response is the new ticket.
func (s *Tickets) Cancel(ctx context.Context, id, reason string) error {
	return s.Mutate(ctx, id, Mutation[torrentino.Ticket]{
		Kind: MutationCancel,
		Do: func(ctx context.Context) (*torrentino.Ticket, error) {
			t, err := s.api.CancelTicket(ctx, id, reason)
			if err != nil {
				return nil, err
			}
			return &t, nil
		},
	})
}

// Retry requeues a failed ticket.
func (s *Tickets) Retry(ctx context.Context, id string) error {
	return s.refetching(ctx, id, MutationRetry, func(ctx context.Context) error {
		return s.api.RetryTicket(ctx, id)
	})
}

// Approve picks candidate idx for a ticket awaiting approval.
func (s *Tickets) Approve(ctx context.Context, id string, idx int) error {
	return s.refetching(ctx, id, MutationApprove, func(ctx context.Context) error {
		return s.api.ApproveTicket(ctx, id, idx)
	})
}

// Reject rejects every candidate of a ticket awaiting approval.
func (s *Tickets) Reject(ctx context.Context, id, reason string) error {
	return s.refetching(ctx, id, MutationReject, func(ctx context.Context) error {
		return s.api.RejectTicket(ctx, id, reason)
	})
}

// Delete removes id permanently.
func (s *Tickets) Delete(ctx context.Context, id string) error {
	return s.Remove(ctx, id, func(ctx context.Context) error {
		return s.api.DeleteTicket(ctx, id)
	})
}

func (s *Tickets) refetching(ctx context.Context, id string, kind MutationKind, call func(context.Context) error) error {
	return s.Mutate(ctx, id, Mutation[torrentino.Ticket]{
		Kind:    kind,
		Refetch: true,
		Do: func(ctx context.Context) (*torrentino.Ticket, error) {
			return nil, call(ctx)
		},
	})
}

// Apply merges a push message into the cache.
func (s *Tickets) Apply(msg push.Message) {
	switch m := msg.(type) {
	case push.TicketUpdate:
		s.Patch(m.TicketID, func(t torrentino.Ticket) torrentino.Ticket {
			if t.State.Type != m.State {
				// The remaining fields describe the previous state.
				t.State = torrentino.TicketState{Type: m.State}
			}
			return t
		})
	case push.TicketDeleted:
		s.Drop(m.TicketID)
	}
}

// StateDetail decodes one per-state field of t, such as "error" for a failed
// ticket. It reports false when the field is absent or has another type.
func StateDetail[V any](t torrentino.Ticket, key string) (V, bool) {
	var v V
	raw, ok := t.State.Details[key]
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}
