package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Loopback is an in-process engine used by the local environment and the
// test-suite. It answers every outbound call after a fixed delay and can
// inject inbound calls on demand. Real SDK adapters implement the same
// Engine interface and replace it in production wiring.
//
// Each connection runs a single event goroutine; all listener callbacks are
// delivered from that goroutine in post order.
type Loopback struct {
	log *slog.Logger
	opt LoopbackOptions

	mu   sync.Mutex
	conn *loopbackConn
}

// LoopbackOptions tunes the simulated call timing.
type LoopbackOptions struct {
	// RingAfter is the delay before an outbound call reports ringing.
	RingAfter time.Duration
	// AnswerAfter is the delay between connecting and active.
	AnswerAfter time.Duration
	// AlertTimeout bounds how long an injected inbound call rings before it
	// is abandoned with CALLEE_ALERTING_TIMEOUT.
	AlertTimeout time.Duration
}

func (o LoopbackOptions) withDefaults() LoopbackOptions {
	out := o
	if out.RingAfter <= 0 {
		out.RingAfter = 50 * time.Millisecond
	}
	if out.AnswerAfter <= 0 {
		out.AnswerAfter = 100 * time.Millisecond
	}
	if out.AlertTimeout <= 0 {
		out.AlertTimeout = 30 * time.Second
	}
	return out
}

func NewLoopback(log *slog.Logger, opt LoopbackOptions) *Loopback {
	if log == nil {
		log = slog.Default()
	}
	return &Loopback{log: log, opt: opt.withDefaults()}
}

var (
	ErrConnectionClosed = errors.New("engine: connection closed")
	ErrCallStopped      = errors.New("engine: call already stopped")
)

func (l *Loopback) Open(userID string, tokens TokenUpdater, listener ServiceListener) (Connection, error) {
	if userID == "" {
		return nil, errors.New("engine: user id is required")
	}
	if tokens == nil || listener == nil {
		return nil, errors.New("engine: token updater and service listener are required")
	}

	c := &loopbackConn{
		eng:      l,
		userID:   userID,
		tokens:   tokens,
		listener: listener,
		events:   make(chan func(), 32),
		closed:   make(chan struct{}),
		calls:    map[string]*loopbackCall{},
	}
	go c.run()

	// Readiness is gated on the token exchange, like a real connection.
	c.post(func() { tokens.UpdateToken(loopbackTokenHandler{conn: c}) })

	l.mu.Lock()
	l.conn = c
	l.mu.Unlock()
	return c, nil
}

// SimulateIncomingCall injects an inbound call on the most recent open
// connection. The call times out with CALLEE_ALERTING_TIMEOUT if it is not
// accepted or rejected within AlertTimeout.
func (l *Loopback) SimulateIncomingCall(from string, kind AddressKind) error {
	if from == "" {
		return errors.New("engine: caller address is required")
	}
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c == nil || c.isClosed() {
		return ErrConnectionClosed
	}

	call := c.newCall(Peer{Kind: kind, Address: from}, true)
	c.post(func() { c.listener.OnIncomingCall(call) })

	call.schedule(l.opt.AlertTimeout, func() {
		if call.markStopped() {
			call.emitStopped(Cause{Code: CodeCalleeAlertingTimeout, Message: "callee alerting timeout"})
		}
	})
	return nil
}

type loopbackConn struct {
	eng      *Loopback
	userID   string
	tokens   TokenUpdater
	listener ServiceListener

	events chan func()
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	ready bool
	calls map[string]*loopbackCall
}

func (c *loopbackConn) run() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.closed:
			return
		}
	}
}

func (c *loopbackConn) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.closed:
	}
}

func (c *loopbackConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type loopbackTokenHandler struct {
	conn *loopbackConn
}

func (h loopbackTokenHandler) SetToken(token string) {
	c := h.conn
	c.post(func() {
		if token == "" {
			c.listener.OnServiceUnavailable(Cause{Code: "INVALID_TOKEN", Message: "empty token supplied"})
			return
		}
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.eng.log.Debug("loopback connection ready", "user_id", c.userID)
		c.listener.OnServiceAvailable()
	})
}

func (c *loopbackConn) CreateCall(callerID, destination string, kind AddressKind) (Call, error) {
	if c.isClosed() {
		return nil, ErrConnectionClosed
	}
	if destination == "" {
		return nil, errors.New("engine: destination is required")
	}
	if kind == AddressPSTN && callerID == "" {
		return nil, errors.New("engine: caller id is required for pstn calls")
	}
	return c.newCall(Peer{Kind: kind, Address: destination}, false), nil
}

func (c *loopbackConn) newCall(peer Peer, inbound bool) *loopbackCall {
	call := &loopbackCall{
		conn:    c,
		id:      uuid.NewString(),
		peer:    peer,
		inbound: inbound,
	}
	c.mu.Lock()
	c.calls[call.id] = call
	c.mu.Unlock()
	return call
}

func (c *loopbackConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		live := make([]*loopbackCall, 0, len(c.calls))
		for _, call := range c.calls {
			live = append(live, call)
		}
		c.mu.Unlock()

		for _, call := range live {
			if call.markStopped() {
				call.emitStopped(Cause{Code: CodeLocalDestroy, Message: "connection destroyed"})
			}
		}
		c.post(func() {
			c.listener.OnServiceUnavailable(Cause{Code: CodeLocalDestroy, Message: "connection destroyed"})
		})
		c.post(func() { close(c.closed) })
	})
	return nil
}

type loopbackCall struct {
	conn    *loopbackConn
	id      string
	peer    Peer
	inbound bool

	mu       sync.Mutex
	listener CallListener
	record   bool
	muted    bool
	started  bool
	stopped  bool
	timers   []*time.Timer
}

func (t *loopbackCall) ID() string { return t.id }
func (t *loopbackCall) Peer() Peer { return t.peer }

func (t *loopbackCall) SetListener(l CallListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *loopbackCall) SetServerRecordEnabled(enabled bool) {
	t.mu.Lock()
	t.record = enabled
	t.mu.Unlock()
}

func (t *loopbackCall) Start() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrCallStopped
	}
	if t.started {
		t.mu.Unlock()
		return errors.New("engine: call already started")
	}
	t.started = true
	t.cancelTimersLocked() // drop the alerting timeout on accepted inbound calls
	t.mu.Unlock()

	opt := t.conn.eng.opt
	if t.inbound {
		// Accepting side skips ringing.
		t.emit(func(l CallListener) { l.OnCalleeConnecting(t.id) })
		t.schedule(opt.AnswerAfter, t.goActive)
		return nil
	}
	t.emit(func(l CallListener) { l.OnCalleeRinging(t.id) })
	t.schedule(opt.RingAfter, func() {
		t.emit(func(l CallListener) { l.OnCalleeConnecting(t.id) })
		t.schedule(opt.AnswerAfter, t.goActive)
	})
	return nil
}

func (t *loopbackCall) goActive() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.emit(func(l CallListener) { l.OnCallActive(t.id) })
	t.emit(func(l CallListener) { l.OnMediaConnected(t.id) })
	t.emit(func(l CallListener) { l.OnNetworkQuality(t.id, QualityHigh) })
	t.emit(func(l CallListener) {
		l.OnMediaStatistics(t.id, MediaStatistics{RTTMillis: 20, JitterMillis: 2})
	})
}

func (t *loopbackCall) Stop() error {
	if !t.markStopped() {
		return nil
	}
	t.emit(func(l CallListener) { l.OnCallStopping(t.id, Cause{}) })
	t.emitStopped(Cause{})
	return nil
}

func (t *loopbackCall) MuteLocalAudio() error   { return t.setMuted(true) }
func (t *loopbackCall) UnmuteLocalAudio() error { return t.setMuted(false) }

func (t *loopbackCall) setMuted(muted bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrCallStopped
	}
	t.muted = muted
	return nil
}

func (t *loopbackCall) DebugInfo() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]string{
		"call_id": t.id,
		"peer":    fmt.Sprintf("%s:%s", t.peer.Kind, t.peer.Address),
		"inbound": fmt.Sprintf("%t", t.inbound),
		"muted":   fmt.Sprintf("%t", t.muted),
		"record":  fmt.Sprintf("%t", t.record),
	}
}

// markStopped flips the call into its terminal state exactly once.
func (t *loopbackCall) markStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.cancelTimersLocked()
	return true
}

func (t *loopbackCall) emitStopped(cause Cause) {
	t.emit(func(l CallListener) { l.OnCallStopped(t.id, cause) })
	t.conn.mu.Lock()
	delete(t.conn.calls, t.id)
	t.conn.mu.Unlock()
}

func (t *loopbackCall) emit(fn func(l CallListener)) {
	t.conn.post(func() {
		t.mu.Lock()
		l := t.listener
		t.mu.Unlock()
		if l != nil {
			fn(l)
		}
	})
}

func (t *loopbackCall) schedule(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timers = append(t.timers, time.AfterFunc(d, fn))
}

func (t *loopbackCall) cancelTimersLocked() {
	for _, tm := range t.timers {
		tm.Stop()
	}
	t.timers = nil
}
