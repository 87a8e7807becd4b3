// Package lifecycle owns the transport session: it connects, reacts to
// status changes according to a disconnect policy, persists credentials and
// hands inbound messages to the dispatch pipeline.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nous-labs/vacancy-bridge/internal/events"
	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

// ErrNotConnected is returned by Send when no session is open.
var ErrNotConnected = errors.New("lifecycle: no open session")

// MessageHandler processes one inbound message. Replies go through sender.
type MessageHandler func(ctx context.Context, sender channel.Sender, msg channel.Message)

// Scheduler runs f after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Options configures a Manager.
type Options struct {
	Transport   channel.Transport
	Credentials channel.CredentialStore
	Handler     MessageHandler

	// OnReady runs every time the session opens. Must be idempotent.
	OnReady func(ctx context.Context)

	// ShowQR renders a pairing challenge for the operator (terminal).
	ShowQR func(code string)

	Events    events.Publisher
	Policy    Policy
	Scheduler Scheduler

	SetupRetryLimit int           // default 3
	SetupRetryDelay time.Duration // default 5s
	ResetDelay      time.Duration // default 2s
}

// Manager is the connection lifecycle state machine. It holds at most one
// live session.
type Manager struct {
	transport channel.Transport
	creds     channel.CredentialStore
	handler   MessageHandler
	onReady   func(ctx context.Context)
	showQR    func(code string)
	events    events.Publisher
	policy    Policy
	sched     Scheduler

	setupLimit int
	setupDelay time.Duration
	resetDelay time.Duration

	mu       sync.Mutex
	baseCtx  context.Context
	state    State
	counters Counters
	qr       string
	session  channel.Session
	stopped  bool
	// gen invalidates pending retries on Stop and reset.
	gen uint64

	wg sync.WaitGroup
}

// New creates a Manager. Transport and Credentials are required.
func New(opts Options) *Manager {
	m := &Manager{
		transport:  opts.Transport,
		creds:      opts.Credentials,
		handler:    opts.Handler,
		onReady:    opts.OnReady,
		showQR:     opts.ShowQR,
		events:     opts.Events,
		policy:     opts.Policy,
		sched:      opts.Scheduler,
		setupLimit: opts.SetupRetryLimit,
		setupDelay: opts.SetupRetryDelay,
		resetDelay: opts.ResetDelay,
	}
	if m.events == nil {
		m.events = events.Discard
	}
	if m.policy == nil {
		m.policy = DefaultPolicy()
	}
	if m.sched == nil {
		m.sched = timerScheduler{}
	}
	if m.setupLimit <= 0 {
		m.setupLimit = 3
	}
	if m.setupDelay <= 0 {
		m.setupDelay = 5 * time.Second
	}
	if m.resetDelay <= 0 {
		m.resetDelay = 2 * time.Second
	}
	return m
}

// Start begins connecting. It is a no-op while a connect is already in
// flight. Errors are logged and retried, never returned.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.counters.InFlight {
		m.mu.Unlock()
		slog.Info("connect already in progress, ignoring start", "transport", m.transport.Name())
		return
	}
	m.counters.InFlight = true
	m.stopped = false
	if m.baseCtx == nil {
		m.baseCtx = ctx
	}
	m.mu.Unlock()

	m.connect(ctx)
}

// connect builds a session. The in-flight guard is already held.
func (m *Manager) connect(ctx context.Context) {
	if ctx.Err() != nil {
		m.settle(Disconnected)
		return
	}
	m.setState(Connecting)

	sess, evs, err := m.dial(ctx)
	if err != nil {
		m.onSetupFailure(ctx, err)
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		sess.End()
		return
	}
	prev := m.session
	m.session = sess
	m.mu.Unlock()
	if prev != nil {
		prev.End()
	}

	slog.Info("session created", "transport", m.transport.Name())
	m.wg.Add(1)
	go m.run(ctx, sess, evs)
}

func (m *Manager) dial(ctx context.Context) (sess channel.Session, evs <-chan channel.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return m.transport.Connect(ctx, m.creds)
}

func (m *Manager) onSetupFailure(ctx context.Context, err error) {
	m.mu.Lock()
	retry := m.counters.SetupFailures < m.setupLimit && !m.stopped
	if retry {
		m.counters.SetupFailures++
	} else {
		m.counters.InFlight = false
		m.state = Disconnected
	}
	attempt := m.counters.SetupFailures
	m.mu.Unlock()

	if !retry {
		slog.Error("session setup failed, giving up", "transport", m.transport.Name(), "attempts", attempt, "error", err)
		m.publishStatus("setup failed: "+err.Error(), "error")
		return
	}
	slog.Error("session setup failed, retrying", "transport", m.transport.Name(), "attempt", attempt, "delay", m.setupDelay, "error", err)
	m.schedule(ctx, m.setupDelay)
}

// schedule queues a reconnect. The guard stays held until it settles.
func (m *Manager) schedule(ctx context.Context, d time.Duration) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	m.sched.AfterFunc(d, func() {
		m.mu.Lock()
		stale := m.gen != gen || m.stopped
		m.mu.Unlock()
		if stale {
			return
		}
		if ctx.Err() != nil {
			m.settle(Disconnected)
			return
		}
		m.connect(ctx)
	})
}

func (m *Manager) settle(s State) {
	m.mu.Lock()
	m.counters.InFlight = false
	m.state = s
	m.mu.Unlock()
}

// run drains one session's events until the transport closes the channel.
func (m *Manager) run(ctx context.Context, sess channel.Session, evs <-chan channel.Event) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			m.handle(ctx, sess, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, sess channel.Session, ev channel.Event) {
	switch e := ev.(type) {
	case channel.CredentialsUpdated:
		m.onCredentials(e)
	case channel.QRChallenge:
		m.onQR(sess, e)
	case channel.StatusUpdate:
		m.onStatus(ctx, sess, e)
	case channel.Inbound:
		m.onInbound(ctx, sess, e)
	}
}

func (m *Manager) current(sess channel.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session == sess
}

func (m *Manager) onCredentials(e channel.CredentialsUpdated) {
	if e.Data == nil {
		return
	}
	if err := m.creds.Save(e.Key, e.Data); err != nil {
		slog.Error("save credentials", "key", e.Key, "error", err)
	}
}

func (m *Manager) onQR(sess channel.Session, e channel.QRChallenge) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.qr = e.Code
	m.state = AwaitingScan
	m.mu.Unlock()

	slog.Info("pairing code available, scan it to link the account")
	m.events.Publish(events.Event{Type: events.TypeQR, Message: "scan the pairing code", Level: "info"})
	if m.showQR != nil {
		m.showQR(e.Code)
	}
}

func (m *Manager) onStatus(ctx context.Context, sess channel.Session, e channel.StatusUpdate) {
	switch e.Status {
	case channel.StatusConnecting:
		m.mu.Lock()
		if m.session == sess && m.state != AwaitingScan {
			m.state = Connecting
		}
		m.mu.Unlock()
	case channel.StatusOpen:
		m.onOpen(ctx, sess)
	case channel.StatusClosed:
		m.onClose(ctx, sess, e)
	}
}

func (m *Manager) onOpen(ctx context.Context, sess channel.Session) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.qr = ""
	m.counters = Counters{}
	m.state = Open
	m.mu.Unlock()

	slog.Info("connection open", "transport", m.transport.Name())
	m.publishStatus("connected", "info")
	if m.onReady != nil {
		m.onReady(ctx)
	}
}

func (m *Manager) onClose(ctx context.Context, sess channel.Session, e channel.StatusUpdate) {
	cause := Classify(e)

	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	d := m.policy.Evaluate(cause, &m.counters)
	if d.Reconnect {
		m.counters.InFlight = true
		m.state = Connecting
	} else {
		m.counters.InFlight = false
		m.state = Disconnected
	}
	c := m.counters
	m.mu.Unlock()
	sess.End()

	log := slog.With("transport", m.transport.Name(), "code", e.Code, "cause", cause.String(),
		"auth_failures", c.AuthFailures, "stream_errors", c.StreamErrors)
	if e.Err != nil {
		log = log.With("error", e.Err)
	}

	switch {
	case cause == CauseLoggedOut:
		log.Warn("account logged out, reset the session to link again")
		m.publishStatus("logged out", "warn")
	case cause == CauseFatal:
		log.Error("connection closed with unrecoverable status")
		m.publishStatus(fmt.Sprintf("closed (%d)", e.Code), "error")
	case d.LimitExceeded && !d.Reconnect:
		log.Error("too many authentication failures, manual session reset required")
		m.publishStatus("authentication failed repeatedly, reset required", "error")
	case d.LimitExceeded:
		log.Warn("too many stream errors, clearing session")
	default:
		log.Warn("connection closed", "reconnect_in", d.Delay)
		m.publishStatus(fmt.Sprintf("closed (%d), reconnecting", e.Code), "warn")
	}

	if d.ClearSession {
		if err := m.creds.Clear(); err != nil {
			log.Error("clear credentials", "clear_error", err)
		}
	}
	if d.Reconnect {
		m.schedule(ctx, d.Delay)
	}
}

// onInbound processes only the first message of a batch, on its own goroutine.
func (m *Manager) onInbound(ctx context.Context, sess channel.Session, e channel.Inbound) {
	if len(e.Messages) == 0 || m.handler == nil || !m.current(sess) {
		return
	}
	if n := len(e.Messages); n > 1 {
		slog.Debug("inbound batch truncated to first message", "dropped", n-1)
	}
	msg := e.Messages[0]

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handler(ctx, m, msg)
	}()
}

// Send delivers text through the current session.
func (m *Manager) Send(ctx context.Context, address, text string) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(ctx, address, text)
}

// Stop ends the current session without logging out. Pending retries are
// dropped when they fire.
func (m *Manager) Stop() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.stopped = true
	m.gen++
	m.counters.InFlight = false
	m.state = Disconnected
	m.mu.Unlock()

	if sess != nil {
		sess.End()
		slog.Info("session ended", "transport", m.transport.Name())
	}
}

// ResetAndRestart logs the account out, clears stored credentials and
// schedules a fresh Start. The returned error is the credential clear error,
// if any; the restart is scheduled regardless.
func (m *Manager) ResetAndRestart(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.counters = Counters{}
	m.qr = ""
	m.state = ClosingForReset
	m.stopped = false
	m.gen++
	base := m.baseCtx
	m.mu.Unlock()

	if base == nil {
		base = context.WithoutCancel(ctx)
	}

	slog.Info("resetting session", "transport", m.transport.Name())
	if sess != nil {
		if err := sess.Logout(ctx); err != nil {
			slog.Warn("logout during reset", "error", err)
		}
		sess.End()
	}

	err := m.creds.Clear()
	if err != nil {
		slog.Error("clear credentials during reset", "error", err)
	}
	m.publishStatus("session reset", "info")

	m.sched.AfterFunc(m.resetDelay, func() {
		if base.Err() != nil {
			return
		}
		m.Start(base)
	})
	return err
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Transport:         m.transport.Name(),
		State:             m.state.String(),
		QR:                m.qr,
		AuthFailures:      m.counters.AuthFailures,
		StreamErrors:      m.counters.StreamErrors,
		SetupFailures:     m.counters.SetupFailures,
		ReconnectInFlight: m.counters.InFlight,
	}
}

// Wait blocks until all session loops and message handlers have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) publishStatus(msg, level string) {
	m.events.Publish(events.Event{Type: events.TypeStatus, Message: msg, Level: level})
}
