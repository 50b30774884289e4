package engine

import "time"

// Engine is the boundary to the real-time signaling/media collaborator.
//
// Rules:
// - No SDK or transport calls outside engine adapters.
// - Adapters translate boundary events into the listener callbacks below and
//   delegate all decisions to internal/session.
// - Listener callbacks for a given Call must be delivered in the order the
//   remote side produced them; the session layer only filters stale events,
//   it never reorders.
type Engine interface {
	// Open issues a connect request for userID and returns the connection
	// handle immediately. Readiness is reported asynchronously through the
	// ServiceListener; tokens are requested through the TokenUpdater.
	Open(userID string, tokens TokenUpdater, listener ServiceListener) (Connection, error)
}

// Connection is one signed-in signaling session.
type Connection interface {
	// CreateCall builds an outbound call handle bound to destination.
	// callerID is the caller-visible number; required for PSTN destinations.
	// The call does not signal anything until Start is invoked.
	CreateCall(callerID, destination string, kind AddressKind) (Call, error)

	// Close tears the connection down. Idempotent. A closed connection
	// reports OnServiceUnavailable with code LOCAL_DESTROY.
	Close() error
}

// Call is one inbound or outbound call instance.
//
// Implementations must assign each call a unique stable ID at creation time;
// every listener callback carries that ID so the session layer can tell a
// live call's events from a superseded one's.
type Call interface {
	ID() string
	Peer() Peer

	SetListener(l CallListener)
	SetServerRecordEnabled(enabled bool)

	// Start begins signaling: dialing for outbound calls, accepting for
	// inbound ones. Progress arrives via CallListener.
	Start() error

	// Stop is a best-effort request to end the call. The call is only gone
	// once OnCallStopped fires.
	Stop() error

	MuteLocalAudio() error
	UnmuteLocalAudio() error

	// DebugInfo returns adapter-specific diagnostics for support tooling.
	DebugInfo() map[string]string
}

// ServiceListener receives service lifecycle events for a connection.
type ServiceListener interface {
	OnServiceAvailable()
	OnServiceUnavailable(cause Cause)
	OnServiceIdle(cause Cause)

	// OnIncomingCall notifies an inbound call that has not been accepted or
	// rejected yet. The receiver becomes responsible for the handle.
	OnIncomingCall(call Call)
}

// CallListener receives lifecycle and diagnostics events for calls.
type CallListener interface {
	OnCalleeRinging(callID string)
	OnCalleeConnecting(callID string)
	OnCallActive(callID string)

	// OnMediaConnected fires when the call is attached to the media server.
	// Informational; no state transition is implied.
	OnMediaConnected(callID string)

	OnCallStopping(callID string, cause Cause)
	OnCallStopped(callID string, cause Cause)

	// OnDTMF delivers one digit per callback.
	OnDTMF(callID string, digit string, at time.Time)
	OnNetworkQuality(callID string, quality NetworkQuality)
	OnMediaStatistics(callID string, stats MediaStatistics)
}

// TokenHandler completes a token exchange started by the engine.
type TokenHandler interface {
	SetToken(token string)
}

// TokenUpdater is implemented by the session layer; the engine calls it
// whenever the connection needs a fresh access token.
type TokenUpdater interface {
	UpdateToken(h TokenHandler)
}

// AddressKind distinguishes plain-telephony peers from app accounts.
type AddressKind string

const (
	AddressPSTN AddressKind = "pstn"
	AddressRTC  AddressKind = "rtc"
)

// Peer describes the remote party of a call.
type Peer struct {
	Kind    AddressKind `json:"kind"`
	Address string      `json:"address"`
}

// Cause carries an asynchronous error. An empty Code means a silent,
// ordinary transition; a non-empty Code must surface to the user exactly once.
type Cause struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (c Cause) Empty() bool { return c.Code == "" }

func (c Cause) String() string {
	if c.Empty() {
		return ""
	}
	return "[" + c.Code + "] " + c.Message
}

// Well-known cause codes.
const (
	// CodeLocalDestroy marks an intentional local teardown. It must never
	// enable the retry affordance.
	CodeLocalDestroy = "LOCAL_DESTROY"

	// CodeRemoteCancel means the remote caller gave up before answer.
	CodeRemoteCancel = "REMOTE_CANCEL"

	// CodeCalleeAlertingTimeout means the callee never answered in time.
	CodeCalleeAlertingTimeout = "CALLEE_ALERTING_TIMEOUT"
)

// NetworkQuality is the engine's coarse connection quality sample.
// Zero value is the best quality, matching the wire encoding.
type NetworkQuality int

const (
	QualityHigh   NetworkQuality = 0
	QualityMedium NetworkQuality = 1
	QualityLow    NetworkQuality = 2
)

func (q NetworkQuality) String() string {
	switch q {
	case QualityHigh:
		return "HIGH"
	case QualityMedium:
		return "MEDIUM"
	case QualityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// MediaStatistics is the periodic media monitor sample for an active call.
type MediaStatistics struct {
	AudioBytesSent     int64 `json:"audio_bytes_sent"`
	AudioBytesReceived int64 `json:"audio_bytes_received"`
	PacketsLost        int64 `json:"packets_lost"`
	RTTMillis          int   `json:"rtt_ms"`
	JitterMillis       int   `json:"jitter_ms"`
}
