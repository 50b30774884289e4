package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voip-session/internal/engine"
	"voip-session/internal/missedcall"
	"voip-session/internal/token"

	"github.com/looplab/fsm"
)

// Controller is the authoritative session state machine. It reconciles the
// service lifecycle (signed-in/available/unavailable), the current call slot
// and the pending inbound call slot into one consistent view, and drives the
// side effects: ringback tone, mute, call accept/reject, missed-call
// bookkeeping.
//
// All user operations and all engine callbacks are serialized through a
// single run loop goroutine. Each task runs to completion before the next is
// processed, so racing events (a current call stopping while an inbound call
// is being answered) always observe and update state atomically relative to
// each other. Operations block until their task has run; callbacks are
// posted fire-and-forget.
//
// The controller implements engine.ServiceListener, engine.CallListener and
// engine.TokenUpdater and registers itself as the sink for every connection
// and call it owns. Events from superseded calls are filtered by call ID.
type Controller struct {
	log      *slog.Logger
	engine   engine.Engine
	tokens   token.Provider
	ringback TonePlayer
	missed   missedcall.Log
	notifier Notifier

	deviceID      string
	teardownDelay time.Duration
	clock         func() time.Time
	onSnapshot    func(Snapshot)

	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Everything below is owned by the run loop goroutine.

	creds token.Credentials
	conn  engine.Connection

	// epoch increments on every login; token exchanges carry the epoch they
	// started under so stale completions are dropped.
	epoch         uint64
	tokenInFlight bool
	tokenSet      bool
	teardown      *time.Timer

	serviceState ServiceState
	callState    *fsm.FSM
	lastLoginOK  bool
	retry        bool
	mute         bool

	current  engine.Call
	incoming engine.Call

	peerCalling  bool
	answerIntent AnswerIntent
	answerRecord bool

	participant Party
	caller      Party

	quality engine.NetworkQuality
	stats   *engine.MediaStatistics
}

// Options configures a Controller. Engine, Tokens and DeviceID are required.
type Options struct {
	Logger   *slog.Logger
	Engine   engine.Engine
	Tokens   token.Provider
	Ringback TonePlayer

	MissedCalls missedcall.Log
	Notifier    Notifier

	// DeviceID is the process-scoped client identifier, generated once at
	// startup (token.NewDeviceID) and stable for the process lifetime.
	DeviceID string

	// TeardownDelay is the pause between a token failure surfacing and the
	// connection being destroyed, so the user sees the real error before the
	// follow-up teardown error arrives. One deferred teardown, no retry.
	TeardownDelay time.Duration

	// OnSnapshot, when set, receives the state aggregate after every
	// processed task. It runs on the run loop goroutine and must not call
	// back into the controller synchronously.
	OnSnapshot func(Snapshot)

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, errors.New("session: engine is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("session: token provider is required")
	}
	if opts.DeviceID == "" {
		return nil, errors.New("session: device id is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Ringback == nil {
		opts.Ringback = NewLogTonePlayer(opts.Logger)
	}
	if opts.MissedCalls == nil {
		opts.MissedCalls = missedcall.NewMemoryLog()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(opts.Logger)
	}
	if opts.TeardownDelay <= 0 {
		opts.TeardownDelay = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		log:           opts.Logger,
		engine:        opts.Engine,
		tokens:        opts.Tokens,
		ringback:      opts.Ringback,
		missed:        opts.MissedCalls,
		notifier:      opts.Notifier,
		deviceID:      opts.DeviceID,
		teardownDelay: opts.TeardownDelay,
		clock:         opts.Clock,
		onSnapshot:    opts.OnSnapshot,
		tasks:         make(chan func(), 64),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		serviceState:  ServiceIdle,
		callState:     newCallStateMachine(),
		answerIntent:  AnswerIdle,
	}
	go c.run()
	return c, nil
}

// Close stops the run loop and tears down the connection. Safe to call more
// than once.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case task := <-c.tasks:
			task()
			c.emit()
		case <-c.ctx.Done():
			c.cancelTeardown()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			return
		}
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.tasks <- func() { res <- fn() }:
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// post enqueues fn without waiting. Used by engine callbacks.
func (c *Controller) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.ctx.Done():
	}
}

/* ===================== USER OPERATIONS ===================== */

// Login stores the credentials, tears down any prior connection and opens a
// new one. The service advances to Available asynchronously once the
// connection is ready and the token exchange succeeded.
func (c *Controller) Login(accessKeyID, accessKeySecret, userID string) error {
	return c.do(func() error {
		if accessKeyID == "" || accessKeySecret == "" || userID == "" {
			return ErrMissingCredentials
		}

		c.cancelTeardown()
		// Always destroy-then-null the prior handle before opening the next;
		// two live connections for one controller is never valid.
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}

		c.creds = token.Credentials{
			AccessKeyID:     accessKeyID,
			AccessKeySecret: accessKeySecret,
			UserID:          userID,
		}
		c.retry = false
		c.epoch++
		c.tokenInFlight = false

		conn, err := c.engine.Open(userID, c, c)
		if err != nil {
			c.serviceState = ServiceIdle
			return fmt.Errorf("session: open connection: %w", err)
		}
		c.conn = conn
		c.serviceState = ServiceConnecting
		return nil
	})
}

// Logout tears down the connection unconditionally; calling it twice in a
// row is safe. Logout after a failed retry resets to Idle and keeps the
// missed-call log ("give up"); logout after a normal session clears the log
// ("housekeeping").
func (c *Controller) Logout() error {
	return c.do(func() error {
		c.cancelTeardown()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.tokenSet = false

		if c.retry {
			c.retry = false
			c.serviceState = ServiceIdle
			return nil
		}
		if c.creds.UserID != "" {
			if err := c.missed.Clear(c.ctx, c.creds.UserID); err != nil {
				c.log.Warn("missed-call clear failed", "err", err)
			}
		}
		return nil
	})
}

// StartCallRequest addresses an outbound call.
type StartCallRequest struct {
	Kind        engine.AddressKind
	Destination string

	// CallerID is the caller-visible number; required for PSTN destinations.
	CallerID string

	// Display metadata for presentation only.
	DisplayName   string
	DisplayAvatar string

	RecordEnabled bool
}

// StartCall validates the target, creates the call handle and starts
// dialing. CallState stays Idle until the engine reports progress.
func (c *Controller) StartCall(req StartCallRequest) error {
	return c.do(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		if c.current != nil {
			return ErrCallInProgress
		}

		switch req.Kind {
		case engine.AddressPSTN:
			if req.Destination == "" {
				return ErrDestinationRequired
			}
			if req.CallerID == "" {
				return ErrCallerIDRequired
			}
			if req.Destination == req.CallerID {
				return ErrSelfCall
			}
		case engine.AddressRTC:
			if req.Destination == "" {
				return ErrDestinationRequired
			}
			if req.Destination == c.creds.UserID {
				return ErrSelfCall
			}
		default:
			return ErrUnsupportedKind
		}

		call, err := c.conn.CreateCall(req.CallerID, req.Destination, req.Kind)
		if err != nil {
			return fmt.Errorf("session: create call: %w", err)
		}
		call.SetListener(c)
		if req.RecordEnabled {
			call.SetServerRecordEnabled(true)
		}
		if err := call.Start(); err != nil {
			return fmt.Errorf("session: start call: %w", err)
		}

		c.current = call
		c.participant = Party{
			Number: req.Destination,
			Name:   req.DisplayName,
			Avatar: req.DisplayAvatar,
		}
		return nil
	})
}

// StopCall requests the current call to stop. No-op when there is none. The
// slot is only released once OnCallStopped confirms.
func (c *Controller) StopCall() error {
	return c.do(func() error {
		if c.current == nil {
			return nil
		}
		return c.current.Stop()
	})
}

// SetMute delegates mute to the current call. The visible flag reflects the
// user's intent even if delegation fails; without a current call the
// operation fails loudly and the flag is untouched.
func (c *Controller) SetMute(mute bool) error {
	return c.do(func() error {
		if c.current == nil {
			return ErrNoCurrentCall
		}
		var err error
		if mute {
			err = c.current.MuteLocalAudio()
		} else {
			err = c.current.UnmuteLocalAudio()
		}
		c.mute = mute
		if err != nil {
			c.log.Warn("mute delegation failed", "mute", mute, "err", err)
		}
		return nil
	})
}

// AnswerOptions configures call acceptance.
type AnswerOptions struct {
	RecordEnabled bool
}

// AnswerCall accepts the pending inbound call. If a current call occupies
// the slot it is asked to stop first and the accept completes once its
// OnCallStopped arrives; otherwise the inbound call is promoted immediately.
func (c *Controller) AnswerCall(opts AnswerOptions) error {
	return c.do(func() error {
		if !c.peerCalling || c.incoming == nil {
			return ErrNoIncomingCall
		}
		c.answerRecord = opts.RecordEnabled
		c.answerIntent = AnswerAllow
		if c.current != nil {
			return c.current.Stop()
		}
		c.acceptIncoming()
		return nil
	})
}

// RejectCall declines the pending inbound call. The handle stays in the
// pending slot until its OnCallStopped confirms, so a rejected caller does
// not free the slot early.
func (c *Controller) RejectCall() error {
	return c.do(func() error {
		if c.incoming == nil {
			return ErrNoIncomingCall
		}
		c.peerCalling = false
		c.answerIntent = AnswerIdle
		return c.incoming.Stop()
	})
}

// ClearMissedCalls empties the missed-call list.
func (c *Controller) ClearMissedCalls() error {
	return c.do(func() error {
		if c.creds.UserID == "" {
			return nil
		}
		return c.missed.Clear(c.ctx, c.creds.UserID)
	})
}

// Snapshot returns the current state aggregate.
func (c *Controller) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := c.do(func() error {
		snap = c.buildSnapshot()
		return nil
	})
	return snap, err
}

/* ===================== TOKEN BRIDGE ===================== */

// UpdateToken implements engine.TokenUpdater. At most one token request is
// in flight per login epoch; a failure surfaces the error, drops the service
// to Idle and schedules exactly one deferred connection teardown.
func (c *Controller) UpdateToken(h engine.TokenHandler) {
	c.post(func() {
		if c.conn == nil {
			return
		}
		if c.tokenInFlight {
			c.log.Warn("token request ignored, another one is in flight")
			return
		}
		c.tokenInFlight = true
		go c.fetchToken(c.epoch, c.creds, h)
	})
}

func (c *Controller) fetchToken(epoch uint64, creds token.Credentials, h engine.TokenHandler) {
	tok, err := c.tokens.FetchToken(c.ctx, creds, c.deviceID)
	c.post(func() {
		if c.epoch != epoch {
			return // superseded by a newer login
		}
		c.tokenInFlight = false
		if err != nil {
			code, msg := tokenErrorParts(err)
			c.notifier.Error(code, msg)
			c.tokenSet = false
			c.serviceState = ServiceIdle
			c.scheduleTeardown(epoch)
			return
		}
		c.tokenSet = true
		h.SetToken(tok)
	})
}

func tokenErrorParts(err error) (code, msg string) {
	var te *token.Error
	if errors.As(err, &te) {
		return te.Code, te.Message
	}
	return "UNKNOWN", err.Error()
}

func (c *Controller) scheduleTeardown(epoch uint64) {
	c.cancelTeardown()
	c.teardown = time.AfterFunc(c.teardownDelay, func() {
		c.post(func() {
			if c.epoch != epoch || c.conn == nil {
				return
			}
			_ = c.conn.Close()
			c.conn = nil
		})
	})
}

func (c *Controller) cancelTeardown() {
	if c.teardown != nil {
		c.teardown.Stop()
		c.teardown = nil
	}
}

/* ===================== SERVICE CALLBACKS ===================== */

func (c *Controller) OnServiceAvailable() {
	c.post(func() {
		c.serviceState = ServiceAvailable
		c.lastLoginOK = true
		c.retry = false
	})
}

func (c *Controller) OnServiceUnavailable(cause engine.Cause) {
	c.post(func() {
		c.notifyCause(cause)
		c.serviceState = ServiceUnavailable
		c.tokenSet = false
		// Retry is only offered when a previously working session died with
		// a genuine remote error; an intentional local teardown never is.
		c.retry = c.lastLoginOK && !cause.Empty() && cause.Code != engine.CodeLocalDestroy
	})
}

func (c *Controller) OnServiceIdle(cause engine.Cause) {
	c.post(func() {
		c.notifyCause(cause)
		c.serviceState = ServiceIdle
	})
}

func (c *Controller) OnIncomingCall(call engine.Call) {
	c.post(func() {
		if c.incoming != nil {
			// The pending slot is occupied: decline and log as missed.
			_ = call.Stop()
			c.addMissed(call, missedcall.ReasonBusy)
			return
		}
		call.SetListener(c)
		c.incoming = call
		c.peerCalling = true
		c.caller = Party{Number: call.Peer().Address}
	})
}

/* ===================== CALL CALLBACKS ===================== */

func (c *Controller) OnCalleeRinging(callID string) {
	c.post(func() {
		if !c.isCurrent(callID) {
			return
		}
		c.applyCallEvent(evRinging)
	})
}

func (c *Controller) OnCalleeConnecting(callID string) {
	c.post(func() {
		if !c.isCurrent(callID) {
			return
		}
		c.applyCallEvent(evConnecting)
		c.mute = false
		// Plain-telephony peers get network ringback; app peers get the
		// local tone.
		if c.current.Peer().Kind != engine.AddressPSTN {
			c.ringback.Play()
		}
	})
}

func (c *Controller) OnCallActive(callID string) {
	c.post(func() {
		c.ringback.Stop()
		if !c.isCurrent(callID) {
			return
		}
		c.applyCallEvent(evActivate)
	})
}

func (c *Controller) OnMediaConnected(callID string) {
	c.post(func() {
		if c.isCurrent(callID) {
			c.log.Debug("call attached to media server", "call_id", callID)
		}
	})
}

func (c *Controller) OnCallStopping(callID string, cause engine.Cause) {
	c.post(func() {
		c.ringback.Stop()
		if c.isCurrent(callID) {
			// Silence local audio preemptively while the teardown completes.
			_ = c.current.MuteLocalAudio()
		}
		c.notifyCause(cause)
	})
}

func (c *Controller) OnCallStopped(callID string, cause engine.Cause) {
	c.post(func() {
		c.ringback.Stop()
		switch {
		case c.isCurrent(callID):
			c.current = nil
			if c.peerCalling && c.answerIntent != AnswerIdle {
				// The user hung up to answer the pending inbound call.
				c.acceptIncoming()
			} else {
				c.applyCallEvent(evRelease)
			}
		case c.isIncoming(callID):
			if cause.Code == engine.CodeRemoteCancel || cause.Code == engine.CodeCalleeAlertingTimeout {
				c.addMissed(c.incoming, missedcall.ReasonTimeout)
			}
			c.incoming = nil
			c.peerCalling = false
		}
		c.notifyCause(cause)
	})
}

func (c *Controller) OnDTMF(callID string, digit string, at time.Time) {
	c.post(func() {
		if c.isCurrent(callID) {
			c.notifier.Info("DTMF: " + digit)
		}
	})
}

func (c *Controller) OnNetworkQuality(callID string, quality engine.NetworkQuality) {
	c.post(func() {
		if c.isCurrent(callID) {
			c.quality = quality
		}
	})
}

func (c *Controller) OnMediaStatistics(callID string, stats engine.MediaStatistics) {
	c.post(func() {
		if c.isCurrent(callID) {
			s := stats
			c.stats = &s
		}
	})
}

/* ===================== RUN LOOP INTERNALS ===================== */

// acceptIncoming promotes the pending inbound call into the current slot.
// Runs only on the loop with the slot known to be free.
func (c *Controller) acceptIncoming() {
	call := c.incoming
	if call == nil {
		return
	}
	c.peerCalling = false
	c.answerIntent = AnswerIdle
	c.incoming = nil
	c.applyCallEvent(evConnecting)

	call.SetListener(c)
	if c.answerRecord {
		call.SetServerRecordEnabled(true)
	}
	c.current = call
	c.participant = c.caller

	if err := call.Start(); err != nil {
		c.log.Error("accepting inbound call failed", "call_id", call.ID(), "err", err)
		c.notifier.Error("ACCEPT_FAILED", err.Error())
		c.current = nil
		c.applyCallEvent(evRelease)
	}
}

func (c *Controller) isCurrent(callID string) bool {
	return c.current != nil && c.current.ID() == callID
}

func (c *Controller) isIncoming(callID string) bool {
	return c.incoming != nil && c.incoming.ID() == callID
}

func (c *Controller) applyCallEvent(event string) {
	if err := fireCallEvent(c.callState, event); err != nil {
		c.log.Warn("dropped illegal call transition",
			"event", event, "state", c.callState.Current(), "err", err)
	}
}

func (c *Controller) notifyCause(cause engine.Cause) {
	if !cause.Empty() {
		c.notifier.Error(cause.Code, cause.Message)
	}
}

func (c *Controller) addMissed(call engine.Call, reason missedcall.Reason) {
	entry := missedcall.Entry{
		At:     c.clock().UTC(),
		Number: call.Peer().Address,
		Reason: reason,
	}
	if err := c.missed.Add(c.ctx, c.creds.UserID, entry); err != nil {
		c.log.Warn("missed-call append failed", "err", err)
	}
}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		ServiceState:   c.serviceState,
		CallState:      CallState(c.callState.Current()),
		PeerCalling:    c.peerCalling,
		AnswerIntent:   c.answerIntent,
		Mute:           c.mute,
		Retry:          c.retry,
		HasToken:       c.tokenSet,
		NetworkQuality: c.quality,
		MediaStats:     c.stats,
		Participant:    c.participant,
		Caller:         c.caller,
	}
	if c.creds.UserID != "" {
		list, err := c.missed.List(c.ctx, c.creds.UserID)
		if err != nil {
			c.log.Warn("missed-call list failed", "err", err)
		}
		snap.MissedCalls = list
	}
	if c.current != nil {
		snap.CallDebug = c.current.DebugInfo()
	}
	return snap
}

func (c *Controller) emit() {
	if c.onSnapshot != nil {
		c.onSnapshot(c.buildSnapshot())
	}
}
