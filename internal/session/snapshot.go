package session

import (
	"voip-session/internal/engine"
	"voip-session/internal/missedcall"
)

// Party is the display metadata for one side of a call. Name and Avatar are
// presentation-only; Number is the address the call was placed to or from.
type Party struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Snapshot is the read-only aggregate handed to presentation. It is a value
// copy; mutating it has no effect on the controller. The raw token is never
// included, only its presence.
type Snapshot struct {
	ServiceState ServiceState `json:"service_state"`
	CallState    CallState    `json:"call_state"`

	// PeerCalling reports a pending inbound call awaiting accept/reject.
	PeerCalling  bool         `json:"peer_calling"`
	AnswerIntent AnswerIntent `json:"answer_intent"`

	Mute     bool `json:"mute"`
	Retry    bool `json:"retry"`
	HasToken bool `json:"has_token"`

	NetworkQuality engine.NetworkQuality   `json:"network_quality"`
	MediaStats     *engine.MediaStatistics `json:"media_stats,omitempty"`

	// Participant describes the counterparty of the current call slot;
	// Caller describes the pending inbound caller.
	Participant Party `json:"participant"`
	Caller      Party `json:"caller"`

	MissedCalls []missedcall.Entry `json:"missed_calls"`

	// CallDebug is adapter diagnostics for the current call, if any.
	CallDebug map[string]string `json:"call_debug,omitempty"`
}
