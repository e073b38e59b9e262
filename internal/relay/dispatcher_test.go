package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	registry   *Registry
	observer   *recordingObserver
	opts       options
}

func newDispatcherFixture(t *testing.T, opts ...Option) *dispatcherFixture {
	t.Helper()
	obs := &recordingObserver{}
	r := NewRegistry()
	return &dispatcherFixture{
		dispatcher: NewDispatcher(r, discardLogger(), noop.NewTracerProvider().Tracer("test"), obs),
		registry:   r,
		observer:   obs,
		opts:       testOptions(t, opts...),
	}
}

func (f *dispatcherFixture) join(t *testing.T, id, name string) (*Session, *fakeTransport) {
	t.Helper()
	s, ft := newActiveSession(t, id, name, &f.opts)
	if err := f.registry.Add(s); err != nil {
		t.Fatalf("Add(%s) failed: %v", name, err)
	}
	return s, ft
}

func TestDispatcherBroadcastSkipsSender(t *testing.T) {
	f := newDispatcherFixture(t)
	sender, senderT := f.join(t, "1", "Client 1")
	_, bT := f.join(t, "2", "Client 2")
	_, cT := f.join(t, "3", "Client 3")

	report := f.dispatcher.Broadcast(context.Background(), "Client 1: hi", sender)
	if report.Delivered != 2 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want 2 delivered", report)
	}
	bT.expect(t, "Client 1: hi")
	cT.expect(t, "Client 1: hi")
	senderT.expectNothing(t, 100*time.Millisecond)
}

func TestDispatcherBroadcastWithoutSender(t *testing.T) {
	f := newDispatcherFixture(t)
	_, aT := f.join(t, "1", "Client 1")
	_, bT := f.join(t, "2", "Client 2")

	report := f.dispatcher.Broadcast(context.Background(), "[Сервер]: hello", nil)
	if report.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", report.Delivered)
	}
	aT.expect(t, "[Сервер]: hello")
	bT.expect(t, "[Сервер]: hello")
}

func TestDispatcherBroadcastContinuesPastFailures(t *testing.T) {
	f := newDispatcherFixture(t)
	dead, _ := f.join(t, "1", "Client 1")
	_, liveT := f.join(t, "2", "Client 2")
	_ = dead.Close()

	report := f.dispatcher.Broadcast(context.Background(), "msg", nil)
	if report.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", report.Delivered)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "Client 1" {
		t.Errorf("Failed = %v, want [Client 1]", report.Failed)
	}
	liveT.expect(t, "msg")
	if f.observer.failureCount() != 1 {
		t.Errorf("observer saw %d failures, want 1", f.observer.failureCount())
	}
}

func TestDispatcherEvictsSlowPeer(t *testing.T) {
	f := newDispatcherFixture(t, WithSendQueueSize(1))

	// No write loop: the single queue slot stays occupied.
	ft := newFakeTransport()
	slow := newSession("1", ft, &f.opts)
	slow.name = "Client 1"
	slow.setState(StateActive)
	if err := f.registry.Add(slow); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := slow.enqueue("backlog"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	report := f.dispatcher.Broadcast(context.Background(), "msg", nil)
	if len(report.Failed) != 1 {
		t.Fatalf("report = %+v, want one failure", report)
	}
	if !ft.isClosed() {
		t.Error("slow peer should have been closed")
	}
	if reason, _ := slow.closeReason(); reason != ReasonSlowPeer {
		t.Errorf("close reason = %q, want %q", reason, ReasonSlowPeer)
	}
}

func TestDispatcherSendTo(t *testing.T) {
	f := newDispatcherFixture(t)
	_, aT := f.join(t, "1", "Client 1")
	_, bT := f.join(t, "2", "Client 2")

	if err := f.dispatcher.SendTo(context.Background(), "Client 2", "Client 1: psst"); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	bT.expect(t, "Client 1: psst")
	aT.expectNothing(t, 100*time.Millisecond)
}

func TestDispatcherSendToUnknownTarget(t *testing.T) {
	f := newDispatcherFixture(t)
	_, aT := f.join(t, "1", "Client 1")

	err := f.dispatcher.SendTo(context.Background(), "Client 9", "hello")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("Expected ErrTargetNotFound, got %v", err)
	}
	aT.expectNothing(t, 100*time.Millisecond)
}

func TestDispatcherSendToClosingTarget(t *testing.T) {
	f := newDispatcherFixture(t)
	target, _ := f.join(t, "1", "Client 1")
	target.advance(StateClosing)

	err := f.dispatcher.SendTo(context.Background(), "Client 1", "hello")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("Expected ErrTargetNotFound for a closing session, got %v", err)
	}
}

func TestDispatcherSendToUnreachable(t *testing.T) {
	f := newDispatcherFixture(t, WithSendQueueSize(1))
	ft := newFakeTransport()
	s := newSession("1", ft, &f.opts)
	s.name = "Client 1"
	s.setState(StateActive)
	_ = f.registry.Add(s)
	_ = s.enqueue("backlog")

	err := f.dispatcher.SendTo(context.Background(), "Client 1", "hello")
	if !errors.Is(err, ErrPeerUnreachable) {
		t.Errorf("Expected ErrPeerUnreachable, got %v", err)
	}
	if errors.Is(err, ErrTargetNotFound) {
		t.Error("unreachable peer must not be reported as not found")
	}
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestDispatcherSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	srv, _ := startTestServer(t, WithTracer(provider.Tracer("test")))
	dial(t, srv)
	dial(t, srv)
	ctx := context.Background()

	if _, err := srv.BroadcastAdmin(ctx, "hello"); err != nil {
		t.Fatalf("BroadcastAdmin failed: %v", err)
	}
	if err := srv.SendAdmin(ctx, "Client 9", "hello"); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("Expected ErrTargetNotFound, got %v", err)
	}

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(ended))
	}

	broadcast := ended[0]
	if broadcast.Name() != "relay.broadcast" {
		t.Fatalf("first span = %q, want relay.broadcast", broadcast.Name())
	}
	attrs := spanAttrs(broadcast)
	if got := attrs["relay.recipients"].AsInt64(); got != 2 {
		t.Errorf("relay.recipients = %d, want 2", got)
	}
	if got := attrs["relay.delivered"].AsInt64(); got != 2 {
		t.Errorf("relay.delivered = %d, want 2", got)
	}
	if got := attrs["relay.failed"].AsInt64(); got != 0 {
		t.Errorf("relay.failed = %d, want 0", got)
	}

	send := ended[1]
	if send.Name() != "relay.send" {
		t.Fatalf("second span = %q, want relay.send", send.Name())
	}
	if got := spanAttrs(send)["relay.target"].AsString(); got != "Client 9" {
		t.Errorf("relay.target = %q", got)
	}
	if send.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", send.Status().Code)
	}
}
