package session

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Call slot state machine events.
const (
	evRinging    = "ringing"
	evConnecting = "connecting"
	evActivate   = "activate"
	evRelease    = "release"
)

// newCallStateMachine builds the machine guarding call slot transitions.
// Answering skips ringing from the answerer's side, so Idle -> Connecting is
// a legal edge; Ringing -> Active is not.
func newCallStateMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(CallIdle),
		fsm.Events{
			{Name: evRinging, Src: []string{string(CallIdle)}, Dst: string(CallRinging)},
			{Name: evConnecting, Src: []string{string(CallIdle), string(CallRinging)}, Dst: string(CallConnecting)},
			{Name: evActivate, Src: []string{string(CallConnecting)}, Dst: string(CallActive)},
			{Name: evRelease, Src: []string{
				string(CallIdle), string(CallRinging), string(CallConnecting), string(CallActive),
			}, Dst: string(CallIdle)},
		},
		fsm.Callbacks{},
	)
}

// fireCallEvent advances the machine, tolerating self-transitions. It
// reports whether the event was legal from the current state; illegal events
// are dropped by the caller, never applied out of order.
func fireCallEvent(m *fsm.FSM, event string) error {
	err := m.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
