package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/torrentino"
)

// PipelineAPI is the REST surface the pipeline store needs.
type PipelineAPI interface {
	PipelineStatus(ctx context.Context) (torrentino.PipelineStatus, error)
	PipelineProgress(ctx context.Context, ticketID string) (torrentino.TicketProgress, error)
}

// Pipeline tracks the conversion and placement pools, polled, and per-ticket
// progress, which is fully described by each pipeline_progress message.
type Pipeline struct {
	*Value[torrentino.PipelineStatus]
	api PipelineAPI

	mu       sync.Mutex
	progress map[string]torrentino.TicketProgress
}

// NewPipeline builds a pipeline store backed by api.
func NewPipeline(api PipelineAPI, report func(error), log zerolog.Logger) *Pipeline {
	status := NewValue("pipeline", api.PipelineStatus, clonePipelineStatus, report, log)
	return &Pipeline{
		Value:    status,
		api:      api,
		progress: make(map[string]torrentino.TicketProgress),
	}
}

func clonePipelineStatus(s torrentino.PipelineStatus) torrentino.PipelineStatus {
	dup := s
	if s.ConversionPool != nil {
		p := *s.ConversionPool
		dup.ConversionPool = &p
	}
	if s.PlacementPool != nil {
		p := *s.PlacementPool
		dup.PlacementPool = &p
	}
	dup.ConvertingTickets = append([]string(nil), s.ConvertingTickets...)
	dup.PlacingTickets = append([]string(nil), s.PlacingTickets...)
	return dup
}

func cloneProgress(p torrentino.TicketProgress) torrentino.TicketProgress {
	if p.Progress != nil {
		d := *p.Progress
		p.Progress = &d
	}
	return p
}

// Progress returns the latest progress for ticketID.
func (p *Pipeline) Progress(ticketID string) (torrentino.TicketProgress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tp, ok := p.progress[ticketID]
	return cloneProgress(tp), ok
}

// ActiveProgress returns every tracked ticket's progress, ordered by ticket id.
func (p *Pipeline) ActiveProgress() []torrentino.TicketProgress {
	p.mu.Lock()
	out := make([]torrentino.TicketProgress, 0, len(p.progress))
	for _, tp := range p.progress {
		out = append(out, cloneProgress(tp))
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out
}

// FetchProgress loads ticketID's progress over REST, for tickets that were
// already in the pipeline before the push channel opened.
func (p *Pipeline) FetchProgress(ctx context.Context, ticketID string) error {
	tp, err := p.api.PipelineProgress(ctx, ticketID)
	p.observe(err)
	if err != nil {
		return fmt.Errorf("fetch pipeline progress %s: %w", ticketID, err)
	}
	p.mu.Lock()
	p.progress[ticketID] = cloneProgress(tp)
	p.mu.Unlock()
	p.notify()
	return nil
}

// Forget drops ticketID's progress.
func (p *Pipeline) Forget(ticketID string) {
	p.mu.Lock()
	_, ok := p.progress[ticketID]
	delete(p.progress, ticketID)
	p.mu.Unlock()
	if ok {
		p.notify()
	}
}

// Apply merges a push message into the cache.
func (p *Pipeline) Apply(msg push.Message) {
	switch m := msg.(type) {
	case push.PipelineProgress:
		p.mu.Lock()
		p.progress[m.TicketID] = torrentino.TicketProgress{
			TicketID: m.TicketID,
			Phase:    m.Phase,
			Progress: &torrentino.ProgressDetails{
				CurrentFile:     m.Current,
				TotalFiles:      m.Total,
				CurrentFileName: m.CurrentName,
				Percent:         m.Percent,
			},
		}
		p.mu.Unlock()
		p.notify()
	case push.TicketUpdate:
		if (torrentino.TicketState{Type: m.State}).Terminal() {
			p.Forget(m.TicketID)
		}
	case push.TicketDeleted:
		p.Forget(m.TicketID)
	}
}

// Reset forgets the status and all progress.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.progress = make(map[string]torrentino.TicketProgress)
	p.mu.Unlock()
	p.Value.Reset()
}
