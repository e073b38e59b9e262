// Package relay manages individual chat sessions: the queued write path, the
// one-shot close, and the session lifecycle state.
package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is a session lifecycle stage.
type State int32

// Session states, in the only order they are entered.
const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DisconnectReason explains why a session ended.
type DisconnectReason string

// Disconnect reasons reported to observers and used as metric labels.
const (
	ReasonPeerClosed DisconnectReason = "peer_closed"
	ReasonTimeout    DisconnectReason = "timeout"
	ReasonTooLong    DisconnectReason = "too_long"
	ReasonReadError  DisconnectReason = "read_error"
	ReasonWriteError DisconnectReason = "write_error"
	ReasonSlowPeer   DisconnectReason = "slow_peer"
	ReasonShutdown   DisconnectReason = "shutdown"
)

// SessionInfo is a read-only view of a session for observers and admin listings.
type SessionInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Session is one connected client. Its display name and id never change once
// the session has been registered.
type Session struct {
	id          string
	name        string
	connectedAt time.Time
	transport   Transport

	state  atomic.Int32
	send   chan string
	done   chan struct{}
	once   sync.Once
	reason atomic.Value // DisconnectReason
	err    error

	writeTimeout time.Duration
	limiter      *tokenBucket
	logger       *slog.Logger
}

func newSession(id string, t Transport, o *options) *Session {
	return &Session{
		id:           id,
		connectedAt:  time.Now().UTC(),
		transport:    t,
		send:         make(chan string, o.sendQueueSize),
		done:         make(chan struct{}),
		writeTimeout: o.writeTimeout,
		limiter:      newTokenBucket(o.rateBurst, o.rateRefill),
		logger:       o.logger,
	}
}

// ID returns the process-unique session identifier.
func (s *Session) ID() string { return s.id }

// Name returns the display name.
func (s *Session) Name() string { return s.name }

// RemoteAddr returns the peer address reported by the transport.
func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Connected reports whether the session is active and its transport open.
func (s *Session) Connected() bool { return s.State() == StateActive }

// Info returns a snapshot of the session's identity.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		Name:        s.name,
		RemoteAddr:  s.RemoteAddr(),
		ConnectedAt: s.connectedAt,
	}
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// advance moves the session to st unless it is already at or beyond it.
func (s *Session) advance(st State) bool {
	for {
		cur := s.state.Load()
		if cur >= int32(st) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return true
		}
	}
}

// enqueue hands msg to the write loop without blocking.
func (s *Session) enqueue(msg string) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

// writeLoop is the only writer of the transport.
func (s *Session) writeLoop() {
	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				if !IsExpectedCloseError(err) {
					s.logger.Warn("write failed", "error", err)
				}
				_ = s.closeWithReason(ReasonWriteError)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) write(msg string) error {
	if s.writeTimeout > 0 {
		if err := s.transport.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.transport.WriteMessage(msg)
}

// Close closes the transport exactly once. Later calls return the first result.
func (s *Session) Close() error {
	return s.closeWithReason("")
}

func (s *Session) closeWithReason(reason DisconnectReason) error {
	s.once.Do(func() {
		if reason != "" {
			s.reason.Store(reason)
		}
		s.setState(StateClosed)
		close(s.done)
		s.err = s.transport.Close()
		if s.err != nil && IsExpectedCloseError(s.err) {
			s.err = nil
		}
	})
	return s.err
}

// closeReason returns the reason recorded by whoever closed the session, if any.
func (s *Session) closeReason() (DisconnectReason, bool) {
	r, ok := s.reason.Load().(DisconnectReason)
	return r, ok
}
