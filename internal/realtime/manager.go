// Package realtime keeps at most one live channel open to the per-project
// event source and reconnects it with bounded exponential backoff.
//
// Every input (scope change, dial result, inbound frame, drop, retry timer,
// manual reconnect, teardown) goes through Manager.step under the manager's
// lock. Side effects such as dialing, closing and publishing run after the
// lock is released. Callbacks from a connection that has been detached are
// recognised by their generation number and ignored.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/model"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
	DefaultDialTimeout = 10 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Conn is the subset of a websocket connection the manager reads from.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

type Credentials interface {
	Token() string
	Authenticated() bool
}

type Publisher interface {
	Publish(event model.ChangeEvent)
}

type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d. time.AfterFunc is the default.
type Scheduler func(d time.Duration, fn func()) Timer

func afterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type Options struct {
	BaseURL     string
	BaseDelay   time.Duration
	MaxAttempts int
	DialTimeout time.Duration
	Scheduler   Scheduler

	// OnOpen is called after every successful open. reconnected is true
	// when the channel for this scope had dropped unexpectedly before.
	OnOpen func(scope int64, reconnected bool)
	// OnStateChange is called whenever Status changes.
	OnStateChange func(Status)
}

type Status struct {
	State     State `json:"state"`
	Scope     int64 `json:"scope"`
	Attempt   int   `json:"attempt"`
	Exhausted bool  `json:"exhausted"`
}

type Manager struct {
	dialer Dialer
	creds  Credentials
	events Publisher
	opts   Options
	log    *logrus.Entry

	// publishMu orders frame delivery against scope switches.
	publishMu sync.Mutex

	mu          sync.Mutex
	state       State
	scope       int64
	conn        Conn
	gen         uint64
	attempt     int
	exhausted   bool
	interrupted bool
	retry       Timer
	cancelDial  context.CancelFunc
	tornDown    bool
}

func New(dialer Dialer, creds Credentials, events Publisher, opts Options, logger *logrus.Entry) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = afterFunc
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		dialer: dialer,
		creds:  creds,
		events: events,
		opts:   opts,
		log:    logger.WithField("component", "realtime"),
	}
}

// SetActiveScope switches the channel to scope. Zero closes the channel and
// forgets the scope. Asking for the scope that is already open (or being
// opened) does nothing.
func (m *Manager) SetActiveScope(scope int64) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	m.dispatch(setScope{scope: scope})
}

// Reconnect restarts a scope that is not connected, with a fresh attempt
// counter. It is the way out of the exhausted state.
func (m *Manager) Reconnect() {
	m.dispatch(reconnect{})
}

// Teardown closes the channel, cancels any pending retry and makes the
// manager ignore every later input.
func (m *Manager) Teardown() {
	m.dispatch(teardown{})
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{State: m.state, Scope: m.scope, Attempt: m.attempt, Exhausted: m.exhausted}
}

type input any

type (
	setScope struct{ scope int64 }
	dialed   struct {
		gen  uint64
		conn Conn
		err  error
	}
	received struct {
		gen  uint64
		data []byte
	}
	dropped struct {
		gen uint64
		err error
	}
	retryDue  struct{ gen uint64 }
	reconnect struct{}
	teardown  struct{}
)

func (m *Manager) dispatch(in input) {
	m.mu.Lock()
	before := m.statusLocked()
	effects := m.step(in)
	after := m.statusLocked()
	m.mu.Unlock()

	for _, effect := range effects {
		effect()
	}
	if before != after && m.opts.OnStateChange != nil {
		m.opts.OnStateChange(after)
	}
}

func (m *Manager) step(in input) []func() {
	if m.tornDown {
		if d, ok := in.(dialed); ok && d.conn != nil {
			return []func(){m.closer(d.conn)}
		}
		return nil
	}

	switch in := in.(type) {
	case setScope:
		if in.scope != 0 && in.scope == m.scope && (m.state == StateOpen || m.state == StateConnecting) {
			return nil
		}
		effects := m.detach()
		m.attempt = 0
		m.exhausted = false
		m.interrupted = false
		m.scope = in.scope
		if in.scope == 0 {
			m.state = StateIdle
			return effects
		}
		return append(effects, m.connect()...)

	case dialed:
		if in.gen != m.gen {
			if in.conn != nil {
				return []func(){m.closer(in.conn)}
			}
			return nil
		}
		m.cancelDial = nil
		if in.err != nil {
			m.log.WithError(in.err).WithField("scope", m.scope).Warn("channel open failed")
			return m.dropConnection()
		}
		m.conn = in.conn
		m.state = StateOpen
		m.attempt = 0
		m.exhausted = false
		reconnected := m.interrupted
		m.interrupted = false
		m.log.WithField("scope", m.scope).Info("channel open")

		gen, conn, scope := m.gen, in.conn, m.scope
		effects := []func(){func() { go m.readLoop(gen, conn) }}
		if m.opts.OnOpen != nil {
			effects = append(effects, func() { m.opts.OnOpen(scope, reconnected) })
		}
		return effects

	case received:
		if in.gen != m.gen || m.state != StateOpen {
			return nil
		}
		var event model.ChangeEvent
		if err := json.Unmarshal(in.data, &event); err != nil {
			m.log.WithError(err).Debug("dropping malformed frame")
			return nil
		}
		gen := in.gen
		return []func(){func() { m.publish(gen, event) }}

	case dropped:
		if in.gen != m.gen {
			return nil
		}
		m.conn = nil
		m.log.WithError(in.err).WithField("scope", m.scope).Warn("channel closed unexpectedly")
		return m.dropConnection()

	case retryDue:
		if in.gen != m.gen || m.state != StateReconnecting {
			return nil
		}
		m.retry = nil
		return m.connect()

	case reconnect:
		if m.scope == 0 || m.state == StateOpen || m.state == StateConnecting {
			return nil
		}
		effects := m.detach()
		m.attempt = 0
		m.exhausted = false
		return append(effects, m.connect()...)

	case teardown:
		effects := m.detach()
		m.scope = 0
		m.state = StateIdle
		m.attempt = 0
		m.tornDown = true
		return effects
	}
	return nil
}

// detach stops listening to the current connection before it is closed, so
// its close callback cannot schedule a reconnect.
func (m *Manager) detach() []func() {
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn == nil {
		return nil
	}
	conn := m.conn
	m.conn = nil
	return []func(){m.closer(conn)}
}

func (m *Manager) connect() []func() {
	if m.creds == nil || !m.creds.Authenticated() || m.creds.Token() == "" {
		m.state = StateIdle
		m.log.WithField("scope", m.scope).Debug("no credential, not connecting")
		return nil
	}

	m.gen++
	gen := m.gen
	target := Endpoint(m.opts.BaseURL, m.scope, m.creds.Token())
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	m.cancelDial = cancel
	m.state = StateConnecting
	m.log.WithFields(logrus.Fields{"scope": m.scope, "attempt": m.attempt}).Info("opening channel")

	return []func(){func() { go m.dial(ctx, cancel, gen, target) }}
}

func (m *Manager) dropConnection() []func() {
	m.interrupted = true
	if m.attempt >= m.opts.MaxAttempts {
		m.state = StateIdle
		m.exhausted = true
		m.log.WithField("scope", m.scope).Warn("reconnect attempts exhausted")
		return nil
	}

	delay := m.opts.BaseDelay * time.Duration(1<<m.attempt)
	m.attempt++
	m.state = StateReconnecting
	gen := m.gen
	m.retry = m.opts.Scheduler(delay, func() { m.dispatch(retryDue{gen: gen}) })
	m.log.WithFields(logrus.Fields{"scope": m.scope, "attempt": m.attempt, "delay": delay.String()}).Info("reconnect scheduled")
	return nil
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, target string) {
	defer cancel()
	conn, err := m.dialer.Dial(ctx, target)
	m.dispatch(dialed{gen: gen, conn: conn, err: err})
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.dispatch(dropped{gen: gen, err: err})
			return
		}
		m.dispatch(received{gen: gen, data: data})
	}
}

// publish delivers a frame read under gen. A scope switch that returned
// before the frame is delivered makes it stale, so it is dropped.
func (m *Manager) publish(gen uint64, event model.ChangeEvent) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	current := m.gen == gen && m.state == StateOpen
	m.mu.Unlock()
	if !current {
		return
	}
	m.events.Publish(event)
}

func (m *Manager) closer(conn Conn) func() {
	return func() {
		if err := conn.Close(); err != nil {
			m.log.WithError(err).Debug("close channel")
		}
	}
}

// Endpoint builds ws(s)://host/ws/projects/<scope>/?token=<credential>.
func Endpoint(baseURL string, scope int64, token string) string {
	return fmt.Sprintf("%s/ws/projects/%d/?token=%s", strings.TrimRight(baseURL, "/"), scope, url.QueryEscape(token))
}
