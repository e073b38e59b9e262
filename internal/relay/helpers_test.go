package relay

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport. Inbound frames are fed with push;
// written frames arrive on out.
type fakeTransport struct {
	in        chan string
	out       chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan string, 16),
		out:    make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) push(msg string) { f.in <- msg }

func (f *fakeTransport) ReadMessage() (string, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closed:
		return "", io.EOF
	}
}

func (f *fakeTransport) WriteMessage(msg string) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	case f.out <- msg:
		return nil
	}
}

func (f *fakeTransport) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeTransport) RemoteAddr() string               { return "fake" }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// expect waits for the next written frame and compares it with want.
func (f *fakeTransport) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-f.out:
		if got != want {
			t.Fatalf("Expected %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %q", want)
	}
}

// expectNothing fails if a frame is written within wait.
func (f *fakeTransport) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got := <-f.out:
		t.Fatalf("Expected no message, got %q", got)
	case <-time.After(wait):
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(t *testing.T, opts ...Option) options {
	t.Helper()
	o := defaultOptions()
	o.logger = discardLogger()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			t.Fatalf("Failed to apply option: %v", err)
		}
	}
	return o
}

// newActiveSession builds a named, active session with its write loop
// running. The session is closed when the test ends.
func newActiveSession(t *testing.T, id, name string, o *options) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	s := newSession(id, ft, o)
	s.name = name
	s.setState(StateActive)
	go s.writeLoop()
	t.Cleanup(func() { _ = s.Close() })
	return s, ft
}

// recordingObserver stores every event it sees.
type recordingObserver struct {
	mu       sync.Mutex
	joined   []SessionInfo
	left     []DisconnectReason
	leftName []string
	relayed  []RelayedMessage
	failures []error
}

func (r *recordingObserver) SessionJoined(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, info)
}

func (r *recordingObserver) SessionLeft(info SessionInfo, reason DisconnectReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, reason)
	r.leftName = append(r.leftName, info.Name)
}

func (r *recordingObserver) MessageRelayed(msg RelayedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relayed = append(r.relayed, msg)
}

func (r *recordingObserver) DeliveryFailed(_ SessionInfo, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recordingObserver) leftCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.leftName {
		if l == name {
			n++
		}
	}
	return n
}

func (r *recordingObserver) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met: %s", msg)
}
