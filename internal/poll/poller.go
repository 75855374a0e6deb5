// Package poll refreshes state that the push channel does not cover.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultInterval is used when Options.Interval is not positive.
const DefaultInterval = 5 * time.Second

// Options configure a Poller.
type Options struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   zerolog.Logger
}

// Poller calls a fetch function immediately on Start and then at a fixed
// interval until Stop.
type Poller struct {
	name     string
	fetch    func(context.Context) error
	interval time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
}

// New builds a stopped Poller.
func New(name string, fetch func(context.Context) error, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Poller{
		name:     name,
		fetch:    fetch,
		interval: opts.Interval,
		clock:    opts.Clock,
		log:      opts.Logger.With().Str("component", "poll").Str("poller", name).Logger(),
	}
}

// Start launches the polling goroutine. It returns immediately and is a
// no-op while already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.trigger = make(chan struct{}, 1)

	// The ticker exists before Start returns, so Stop always finds it.
	ticker := p.clock.NewTicker(p.interval)
	go p.loop(ctx, ticker, p.trigger, p.done)
}

func (p *Poller) loop(ctx context.Context, ticker clockwork.Ticker, trigger <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.fetch(ctx); err != nil && ctx.Err() == nil {
			p.log.Debug().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-trigger:
		}
	}
}

// Trigger requests an immediate fetch without waiting for the interval.
// Requests made while a fetch is already queued are coalesced.
func (p *Poller) Trigger() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.trigger == nil {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the schedule and waits for an in-flight fetch to return. No
// fetch starts after Stop returns. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done, p.trigger = nil, nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller has been started and not stopped.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
