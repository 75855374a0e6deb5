package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/five82/beacon/internal/config"
	"github.com/five82/beacon/internal/dispatch"
	"github.com/five82/beacon/internal/poll"
	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/state"
	"github.com/five82/beacon/internal/store"
	"github.com/five82/beacon/internal/torrentino"
)

// SessionOptions configure a Session.
type SessionOptions struct {
	Config config.Config
	// Credential overrides Config.APIKey when set.
	Credential string
	Clock      clockwork.Clock
	Dialer     push.Dialer
	Logger     zerolog.Logger
}

// Session owns everything one dashboard needs: the REST client, the push
// connection, the resource stores and the pollers. Consumers receive the
// Session explicitly; nothing here is global.
type Session struct {
	Client       *torrentino.Client
	Health       *state.Store
	Tickets      *store.Tickets
	Torrents     *store.Torrents
	Pipeline     *store.Pipeline
	Orchestrator *store.Orchestrator
	Audit        *store.Audit

	log      zerolog.Logger
	messages *dispatch.Registry[push.Message]
	manager  *push.Manager
	pollers  []*poll.Poller
	lists    *poll.Poller

	mu      sync.Mutex
	subs    []*dispatch.Subscription
	opens   int
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSession wires a Session without starting any I/O.
func NewSession(opts SessionOptions) (*Session, error) {
	cfg := opts.Config
	log := opts.Logger.With().Str("component", "session").Logger()

	credential := cfg.APIKey
	if opts.Credential != "" {
		credential = opts.Credential
	}
	client, err := torrentino.NewClient(cfg.BaseURL, credential)
	if err != nil {
		return nil, fmt.Errorf("init torrentino client: %w", err)
	}
	endpoint, err := push.Endpoint(client.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("derive push endpoint: %w", err)
	}

	// Zero in the config file means no automatic reconnects; the manager
	// reads zero as "use the default".
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts == 0 {
		maxAttempts = -1
	}

	messages := dispatch.New[push.Message](opts.Logger.With().Str("component", "dispatch").Logger())
	manager, err := push.NewManager(push.Options{
		Endpoint:          endpoint,
		Header:            client.AuthHeader(),
		Dialer:            opts.Dialer,
		Sink:              messages,
		Clock:             opts.Clock,
		Logger:            opts.Logger,
		ReconnectInterval: cfg.ReconnectInterval,
		MaxAttempts:       maxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("init push manager: %w", err)
	}

	health := &state.Store{}
	report := health.Record

	s := &Session{
		Client:       client,
		Health:       health,
		Tickets:      store.NewTickets(client, cfg.PageSize, report, opts.Logger),
		Torrents:     store.NewTorrents(client, cfg.PageSize, report, opts.Logger),
		Pipeline:     store.NewPipeline(client, report, opts.Logger),
		Orchestrator: store.NewOrchestrator(client, report, opts.Logger),
		Audit:        store.NewAudit(client, cfg.PageSize, report, opts.Logger),
		log:          log,
		messages:     messages,
		manager:      manager,
	}

	pollOpts := poll.Options{Interval: cfg.PollInterval, Clock: opts.Clock, Logger: opts.Logger}
	s.lists = poll.New("lists", s.pollLists, pollOpts)
	s.pollers = []*poll.Poller{
		poll.New("orchestrator", s.Orchestrator.Fetch, pollOpts),
		poll.New("pipeline", s.Pipeline.Fetch, pollOpts),
		s.lists,
	}
	return s, nil
}

// Start subscribes the stores to push, starts polling and opens the push
// connection. It returns immediately; data arrives asynchronously.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.subs = append(s.subs,
		s.messages.Subscribe(s.Tickets.Apply),
		s.messages.Subscribe(s.Torrents.Apply),
		s.messages.Subscribe(s.Pipeline.Apply),
		s.messages.Subscribe(s.Orchestrator.Apply),
		s.manager.OnStatus(s.onPushStatus),
	)
	s.Health.SetPush(s.manager.Status())

	for _, p := range s.pollers {
		p.Start(s.ctx)
	}
	s.manager.Connect()
	s.log.Info().Str("base_url", s.Client.BaseURL()).Str("push", s.manager.Endpoint()).Msg("session started")
	return nil
}

// Close tears the session down: subscriptions first so no message reaches
// a store afterwards, then pollers, then the push connection.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	cancel := s.cancel
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, p := range s.pollers {
		p.Stop()
	}
	s.manager.Disconnect()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("session closed")
}

// Context is cancelled when the session closes. UI actions run under it.
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// OnMessage registers h for every decoded push message.
func (s *Session) OnMessage(h func(push.Message)) *dispatch.Subscription {
	return s.track(s.messages.Subscribe(h))
}

// OnPushStatus registers h for push connection transitions.
func (s *Session) OnPushStatus(h func(push.Status)) *dispatch.Subscription {
	return s.track(s.manager.OnStatus(h))
}

func (s *Session) track(sub *dispatch.Subscription) *dispatch.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Unsubscribe()
		return sub
	}
	s.subs = append(s.subs, sub)
	return sub
}

// PushStatus returns the push connection's current status.
func (s *Session) PushStatus() push.Status { return s.manager.Status() }

// Reconnect opens the push connection again after retries were exhausted.
func (s *Session) Reconnect() { s.manager.Connect() }

// Disconnect closes the push connection and stops automatic reconnects.
// Polling keeps the stores fresh in the meantime.
func (s *Session) Disconnect() { s.manager.Disconnect() }

// SetCredential switches to a new API key for REST and push, then reloads.
func (s *Session) SetCredential(key string) {
	s.Client.SetCredential(key)
	s.manager.SetHeader(s.Client.AuthHeader())
	s.Health.ClearAuth()

	st := s.manager.Status()
	if st.State == push.Disconnected {
		s.manager.Connect()
	}
	s.resync()
}

// Refresh reloads every store in parallel.
func (s *Session) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.refreshLists(ctx) })
	g.Go(func() error { return s.Orchestrator.Fetch(ctx) })
	g.Go(func() error { return s.Pipeline.Fetch(ctx) })
	return g.Wait()
}

func (s *Session) refreshLists(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return settled(s.Tickets.Refresh(ctx)) })
	g.Go(func() error { return settled(s.Torrents.Refresh(ctx)) })
	if id := s.Tickets.Snapshot().DetailID; id != "" {
		g.Go(func() error { return s.Tickets.FetchDetail(ctx, id) })
	}
	if id := s.Torrents.Snapshot().DetailID; id != "" {
		g.Go(func() error { return s.Torrents.FetchDetail(ctx, id) })
	}
	return g.Wait()
}

// settled drops ErrStaleList: a newer request for the same list is already
// reconciling it.
func settled(err error) error {
	if errors.Is(err, store.ErrStaleList) {
		return nil
	}
	return err
}

// pollLists keeps the lists fresh while push is not delivering updates.
func (s *Session) pollLists(ctx context.Context) error {
	if s.manager.Status().State == push.Connected {
		return nil
	}
	return s.refreshLists(ctx)
}

func (s *Session) onPushStatus(st push.Status) {
	s.Health.SetPush(st)
	if st.State != push.Connected {
		return
	}

	s.mu.Lock()
	fresh := st.Opens > s.opens
	if fresh {
		s.opens = st.Opens
	}
	s.mu.Unlock()

	// Messages sent while the previous transport was down are lost.
	if fresh {
		s.log.Debug().Int("opens", st.Opens).Msg("push opened, resyncing")
		s.resync()
	}
}

// resync reloads lists and pokes the pollers without blocking the caller.
func (s *Session) resync() {
	s.mu.Lock()
	if s.closed || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.refreshLists(ctx); err != nil && ctx.Err() == nil {
			s.log.Debug().Err(err).Msg("resync failed")
		}
	}()
	for _, p := range s.pollers {
		if p != s.lists {
			p.Trigger()
		}
	}
}
