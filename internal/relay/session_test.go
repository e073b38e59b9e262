package relay

import (
	"errors"
	"testing"
	"time"
)

func TestSessionEnqueueDeliversInOrder(t *testing.T) {
	o := testOptions(t)
	s, ft := newActiveSession(t, "id", "Client 1", &o)

	for _, msg := range []string{"one", "two", "three"} {
		if err := s.enqueue(msg); err != nil {
			t.Fatalf("enqueue(%q) failed: %v", msg, err)
		}
	}
	ft.expect(t, "one")
	ft.expect(t, "two")
	ft.expect(t, "three")
}

func TestSessionEnqueueQueueFull(t *testing.T) {
	o := testOptions(t, WithSendQueueSize(1))
	s := newSession("id", newFakeTransport(), &o)
	defer s.Close()

	if err := s.enqueue("first"); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	err := s.enqueue("second")
	if !errors.Is(err, ErrPeerUnreachable) {
		t.Errorf("Expected ErrPeerUnreachable, got %v", err)
	}
}

func TestSessionEnqueueAfterClose(t *testing.T) {
	o := testOptions(t)
	s := newSession("id", newFakeTransport(), &o)
	_ = s.Close()

	if err := s.enqueue("late"); !errors.Is(err, ErrPeerUnreachable) {
		t.Errorf("Expected ErrPeerUnreachable after close, got %v", err)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	o := testOptions(t)
	ft := newFakeTransport()
	s := newSession("id", ft, &o)
	s.setState(StateActive)

	if err := s.closeWithReason(ReasonSlowPeer); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.closeWithReason(ReasonShutdown); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if !ft.isClosed() {
		t.Error("transport not closed")
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want closed", s.State())
	}
	if reason, ok := s.closeReason(); !ok || reason != ReasonSlowPeer {
		t.Errorf("closeReason() = %q, %v; want first reason", reason, ok)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Error("Done not closed")
	}
}

func TestSessionAdvanceNeverGoesBack(t *testing.T) {
	o := testOptions(t)
	s := newSession("id", newFakeTransport(), &o)
	s.setState(StateActive)

	if !s.advance(StateClosing) {
		t.Error("advance to closing should succeed")
	}
	if s.advance(StateActive) {
		t.Error("advance backwards should fail")
	}
	if s.Connected() {
		t.Error("closing session must not report connected")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateConnecting: "connecting",
		StateActive:     "active",
		StateClosing:    "closing",
		StateClosed:     "closed",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}
