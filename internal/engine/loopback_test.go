package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// recorder collects service and call events in arrival order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	handlers []TokenHandler
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) UpdateToken(h TokenHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *recorder) handler(t *testing.T) TokenHandler {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.handlers) > 0 {
			h := r.handlers[0]
			r.mu.Unlock()
			return h
		}
		r.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no token request arrived")
	return nil
}

func (r *recorder) OnServiceAvailable()              { r.add("service:available") }
func (r *recorder) OnServiceUnavailable(cause Cause) { r.add("service:unavailable:" + cause.Code) }
func (r *recorder) OnServiceIdle(cause Cause)        { r.add("service:idle:" + cause.Code) }
func (r *recorder) OnIncomingCall(call Call) {
	call.SetListener(r)
	r.add("service:incoming:" + call.Peer().Address)
}

func (r *recorder) OnCalleeRinging(callID string)    { r.add("call:ringing") }
func (r *recorder) OnCalleeConnecting(callID string) { r.add("call:connecting") }
func (r *recorder) OnCallActive(callID string)       { r.add("call:active") }
func (r *recorder) OnMediaConnected(callID string)   { r.add("call:media") }
func (r *recorder) OnCallStopping(callID string, cause Cause) {
	r.add("call:stopping:" + cause.Code)
}
func (r *recorder) OnCallStopped(callID string, cause Cause) {
	r.add("call:stopped:" + cause.Code)
}
func (r *recorder) OnDTMF(callID string, digit string, at time.Time) { r.add("call:dtmf:" + digit) }
func (r *recorder) OnNetworkQuality(callID string, quality NetworkQuality) {
	r.add("call:quality:" + quality.String())
}
func (r *recorder) OnMediaStatistics(callID string, stats MediaStatistics) {
	r.add(fmt.Sprintf("call:stats:%d", stats.RTTMillis))
}

func (r *recorder) waitForEvent(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range r.list() {
			if ev == want {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("event %q never arrived, got %v", want, r.list())
}

func fastLoopback() *Loopback {
	return NewLoopback(nil, LoopbackOptions{
		RingAfter:    time.Millisecond,
		AnswerAfter:  time.Millisecond,
		AlertTimeout: time.Second,
	})
}

func openReady(t *testing.T, l *Loopback) (*recorder, Connection) {
	t.Helper()
	rec := &recorder{}
	conn, err := l.Open("alice", rec, rec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec.handler(t).SetToken("tok")
	rec.waitForEvent(t, "service:available")
	return rec, conn
}

func TestLoopbackOpenValidation(t *testing.T) {
	l := fastLoopback()
	rec := &recorder{}
	if _, err := l.Open("", rec, rec); err == nil {
		t.Fatal("empty user id must be rejected")
	}
	if _, err := l.Open("alice", nil, rec); err == nil {
		t.Fatal("nil token updater must be rejected")
	}
}

func TestLoopbackReadinessGatedOnToken(t *testing.T) {
	l := fastLoopback()
	rec, _ := openReady(t, l)

	events := rec.list()
	if events[0] != "service:available" {
		t.Fatalf("first event = %q, want service:available", events[0])
	}
}

func TestLoopbackEmptyTokenMeansUnavailable(t *testing.T) {
	l := fastLoopback()
	rec := &recorder{}
	if _, err := l.Open("alice", rec, rec); err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec.handler(t).SetToken("")
	rec.waitForEvent(t, "service:unavailable:INVALID_TOKEN")
}

func TestLoopbackOutboundCallProgression(t *testing.T) {
	l := fastLoopback()
	rec, conn := openReady(t, l)

	call, err := conn.CreateCall("", "bob", AddressRTC)
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	call.SetListener(rec)
	if err := call.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitForEvent(t, "call:stats:20")

	var callEvents []string
	for _, ev := range rec.list() {
		if len(ev) > 5 && ev[:5] == "call:" {
			callEvents = append(callEvents, ev)
		}
	}
	want := []string{"call:ringing", "call:connecting", "call:active", "call:media", "call:quality:HIGH", "call:stats:20"}
	if len(callEvents) != len(want) {
		t.Fatalf("call events = %v, want %v", callEvents, want)
	}
	for i := range want {
		if callEvents[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, callEvents[i], want[i], callEvents)
		}
	}
}

func TestLoopbackCreateCallValidation(t *testing.T) {
	l := fastLoopback()
	_, conn := openReady(t, l)

	if _, err := conn.CreateCall("", "", AddressRTC); err == nil {
		t.Fatal("empty destination must be rejected")
	}
	if _, err := conn.CreateCall("", "2000", AddressPSTN); err == nil {
		t.Fatal("pstn call without caller id must be rejected")
	}
	if _, err := conn.CreateCall("1000", "2000", AddressPSTN); err != nil {
		t.Fatalf("valid pstn call rejected: %v", err)
	}
}

func TestLoopbackStopIsIdempotent(t *testing.T) {
	l := fastLoopback()
	rec, conn := openReady(t, l)

	call, err := conn.CreateCall("", "bob", AddressRTC)
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	call.SetListener(rec)
	if err := call.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := call.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := call.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	rec.waitForEvent(t, "call:stopped:")

	stops := 0
	for _, ev := range rec.list() {
		if ev == "call:stopped:" {
			stops++
		}
	}
	if stops != 1 {
		t.Fatalf("OnCallStopped fired %d times, want 1", stops)
	}

	if err := call.Start(); err == nil {
		t.Fatal("starting a stopped call must fail")
	}
	if err := call.MuteLocalAudio(); err == nil {
		t.Fatal("muting a stopped call must fail")
	}
}

func TestLoopbackInboundCallTimesOut(t *testing.T) {
	l := NewLoopback(nil, LoopbackOptions{
		RingAfter:    time.Millisecond,
		AnswerAfter:  time.Millisecond,
		AlertTimeout: 10 * time.Millisecond,
	})
	rec, _ := openReady(t, l)

	if err := l.SimulateIncomingCall("bob", AddressRTC); err != nil {
		t.Fatalf("SimulateIncomingCall: %v", err)
	}
	rec.waitForEvent(t, "service:incoming:bob")
	rec.waitForEvent(t, "call:stopped:"+CodeCalleeAlertingTimeout)
}

func TestLoopbackAcceptedInboundSkipsRinging(t *testing.T) {
	l := fastLoopback()
	rec, _ := openReady(t, l)

	if err := l.SimulateIncomingCall("bob", AddressRTC); err != nil {
		t.Fatalf("SimulateIncomingCall: %v", err)
	}
	rec.waitForEvent(t, "service:incoming:bob")

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	conn.mu.Lock()
	var inbound *loopbackCall
	for _, c := range conn.calls {
		inbound = c
	}
	conn.mu.Unlock()
	if inbound == nil {
		t.Fatal("inbound call handle not found")
	}

	if err := inbound.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitForEvent(t, "call:active")
	for _, ev := range rec.list() {
		if ev == "call:ringing" {
			t.Fatal("accepting side must not see ringing")
		}
	}
}

func TestLoopbackCloseTearsDownCallsAndService(t *testing.T) {
	l := fastLoopback()
	rec, conn := openReady(t, l)

	call, err := conn.CreateCall("", "bob", AddressRTC)
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	call.SetListener(rec)
	if err := call.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rec.waitForEvent(t, "call:stopped:"+CodeLocalDestroy)
	rec.waitForEvent(t, "service:unavailable:"+CodeLocalDestroy)

	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := conn.CreateCall("", "carol", AddressRTC); err != ErrConnectionClosed {
		t.Fatalf("CreateCall after close = %v, want ErrConnectionClosed", err)
	}
}
