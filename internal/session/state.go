package session

// ServiceState tracks the signaling/registration session with the backend.
// It moves only on explicit login/logout and on service callbacks.
type ServiceState string

const (
	ServiceIdle        ServiceState = "IDLE"
	ServiceConnecting  ServiceState = "CONNECTING"
	ServiceUnavailable ServiceState = "UNAVAILABLE"
	ServiceAvailable   ServiceState = "AVAILABLE"
)

// CallState describes the current call slot: the call the local user is
// conducting or attempting, independent of pending inbound notifications.
//
// Legal transitions: Idle -> Ringing or Connecting, Ringing -> Connecting,
// Connecting -> Active, and any state -> Idle on release. Enforced by the
// machine in machine.go.
type CallState string

const (
	CallIdle       CallState = "IDLE"
	CallRinging    CallState = "RINGING"
	CallConnecting CallState = "CONNECTING"
	CallActive     CallState = "ACTIVE"
)

// AnswerIntent records that the user asked to answer a pending inbound call
// while another call still occupied the slot; the accept completes once the
// occupying call fully stops.
type AnswerIntent string

const (
	AnswerIdle  AnswerIntent = "IDLE"
	AnswerAllow AnswerIntent = "ALLOW"
)
