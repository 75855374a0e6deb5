package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/dispatch"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectScheduled
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectScheduled:
		return "reconnect_scheduled"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	State    State
	Attempts int
	// LastError is the most recent dial or transport error. Cleared on a
	// successful open.
	LastError error
	// Exhausted is set once the reconnect cap is hit. Only Connect clears it.
	Exhausted bool
	// Opens counts successful opens over the manager's lifetime; a change
	// while Connected means a new transport whose predecessor may have
	// missed messages.
	Opens int
}

// Sink receives every successfully decoded message in arrival order.
type Sink interface {
	Dispatch(Message)
}

const (
	DefaultReconnectInterval = 3 * time.Second
	DefaultMaxAttempts       = 10
)

// Options configure a Manager.
type Options struct {
	Endpoint          string
	Header            http.Header
	Dialer            Dialer
	Sink              Sink
	Clock             clockwork.Clock
	Logger            zerolog.Logger
	ReconnectInterval time.Duration
	MaxAttempts       int
}

// Manager owns the single push transport of a session and its reconnect
// policy: a fixed interval between attempts and a hard attempt cap.
type Manager struct {
	endpoint string
	header   http.Header
	dialer   Dialer
	sink     Sink
	clock    clockwork.Clock
	log      zerolog.Logger
	interval time.Duration
	max      int

	statuses *dispatch.Registry[Status]

	// notifyMu guards the delivery loop; only the goroutine that set
	// pumping touches delivered.
	notifyMu  sync.Mutex
	pumping   bool
	dirty     bool
	delivered uint64

	mu         sync.Mutex
	seq        uint64
	state      State
	attempts   int
	lastErr    error
	exhausted  bool
	opens      int
	generation uint64
	conn       Conn
	timer      clockwork.Timer
	cancelDial context.CancelFunc
}

// NewManager builds a disconnected Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("push endpoint required")
	}
	if opts.Sink == nil {
		return nil, errors.New("push sink required")
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	} else if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	log := opts.Logger.With().Str("component", "push").Logger()
	return &Manager{
		endpoint: opts.Endpoint,
		header:   opts.Header.Clone(),
		dialer:   opts.Dialer,
		sink:     opts.Sink,
		clock:    opts.Clock,
		log:      log,
		interval: opts.ReconnectInterval,
		max:      opts.MaxAttempts,
		statuses: dispatch.New[Status](log),
	}, nil
}

// Endpoint returns the URL the manager dials.
func (m *Manager) Endpoint() string { return m.endpoint }

// OnStatus registers h for every state transition.
func (m *Manager) OnStatus(h func(Status)) *dispatch.Subscription {
	return m.statuses.Subscribe(h)
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:     m.state,
		Attempts:  m.attempts,
		LastError: m.lastErr,
		Exhausted: m.exhausted,
		Opens:     m.opens,
	}
}

// Connect opens the transport. It is a no-op while connecting or
// connected. Called while a reconnect is pending it cancels the timer and
// dials immediately; called after the cap was exhausted it starts a fresh
// attempt budget.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == Connecting || m.state == Connected {
		m.mu.Unlock()
		return
	}
	if m.state == Disconnected {
		m.attempts = 0
	}
	m.stopTimerLocked()
	m.exhausted = false
	m.startLocked()
	m.seq++
	m.mu.Unlock()

	m.notify()
}

// Disconnect closes the transport with a normal-closure frame and cancels
// any pending reconnect. No reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	wasIdle := m.state == Disconnected && conn == nil
	m.state = Disconnected
	m.attempts = 0
	m.exhausted = false
	m.seq++
	m.mu.Unlock()

	if conn != nil {
		if err := conn.CloseNormal(); err != nil {
			m.log.Debug().Err(err).Msg("close push transport")
		}
	}
	if !wasIdle {
		m.log.Info().Msg("push disconnected")
	}
	m.notify()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) startLocked() {
	m.generation++
	gen := m.generation
	m.state = Connecting
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	go m.run(ctx, gen, m.header.Clone())
}

// SetHeader replaces the handshake headers used by subsequent dials. The
// open transport, if any, is left alone.
func (m *Manager) SetHeader(h http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = h.Clone()
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) run(ctx context.Context, gen uint64, header http.Header) {
	conn, err := m.dialer.Dial(ctx, m.endpoint, header)
	if err != nil {
		m.handleClose(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	if m.cancelDial != nil {
		// The handshake is done; the transport no longer depends on ctx.
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = conn
	m.state = Connected
	m.attempts = 0
	m.lastErr = nil
	m.opens++
	m.seq++
	m.mu.Unlock()

	m.log.Info().Str("endpoint", m.endpoint).Msg("push connected")
	m.notify()

	for {
		frame, err := conn.Read()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		if !m.current(gen) {
			return
		}
		m.handleFrame(frame)
	}
}

// handleFrame decodes and forwards one frame. Malformed frames are logged
// and dropped; they never touch connection state.
func (m *Manager) handleFrame(frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		m.log.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping malformed push frame")
		return
	}
	m.sink.Dispatch(msg)
}

func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		// Superseded by Disconnect or a newer Connect.
		m.mu.Unlock()
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = nil
	if cause != nil {
		m.lastErr = cause
	}

	scheduled := false
	if m.attempts < m.max {
		m.attempts++
		m.state = ReconnectScheduled
		m.stopTimerLocked()
		m.timer = m.clock.AfterFunc(m.interval, func() { m.fire(gen) })
		scheduled = true
	} else {
		m.state = Disconnected
		m.exhausted = true
	}
	m.seq++
	st := m.statusLocked()
	m.mu.Unlock()

	if scheduled {
		m.log.Warn().Err(cause).
			Int("attempt", st.Attempts).
			Int("max_attempts", m.max).
			Dur("retry_in", m.interval).
			Msg("push connection lost")
	} else {
		m.log.Error().Err(cause).
			Int("max_attempts", m.max).
			Msg("push reconnect attempts exhausted")
	}
	m.notify()
}

func (m *Manager) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != ReconnectScheduled {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.startLocked()
	m.seq++
	attempt := m.attempts
	m.mu.Unlock()

	m.log.Debug().Int("attempt", attempt).Msg("push reconnecting")
	m.notify()
}

// notify publishes the latest status. One goroutine at a time delivers;
// a notify that arrives meanwhile, including one from inside an observer,
// makes that goroutine publish again. Observers therefore see statuses in
// transition order, never an older one after a newer one.
func (m *Manager) notify() {
	m.notifyMu.Lock()
	if m.pumping {
		m.dirty = true
		m.notifyMu.Unlock()
		return
	}
	m.pumping = true
	for {
		m.dirty = false
		m.notifyMu.Unlock()

		m.mu.Lock()
		st, seq := m.statusLocked(), m.seq
		m.mu.Unlock()
		if seq > m.delivered {
			m.delivered = seq
			m.statuses.Dispatch(st)
		}

		m.notifyMu.Lock()
		if !m.dirty {
			m.pumping = false
			m.notifyMu.Unlock()
			return
		}
	}
}
