// Package relay ties the acceptor, registry, and dispatcher together and
// exposes the administrative operations of the chat relay.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Server is the relay composition root. It can be started and stopped
// repeatedly; the registry lives across runs and is cleared on Stop.
type Server struct {
	opts       options
	logger     *slog.Logger
	observer   Observer
	registry   *Registry
	dispatcher *Dispatcher
	counter    atomic.Uint64

	mu       sync.Mutex
	running  bool
	acceptor *Acceptor
	wg       *sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds a stopped Server.
func New(opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	var observer Observer = NopObserver{}
	if len(o.observers) > 0 {
		observer = o.observers
	}
	logger := o.logger.With("component", "relay")
	registry := NewRegistry()

	return &Server{
		opts:       o,
		logger:     logger,
		observer:   observer,
		registry:   registry,
		dispatcher: NewDispatcher(registry, o.logger, o.tracer, observer),
	}, nil
}

// Start binds addr and begins accepting connections in the background.
// It fails with ErrAlreadyRunning or a *BindError.
func (srv *Server) Start(addr string) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.running {
		return ErrAlreadyRunning
	}
	acceptor, err := Listen(addr, srv.opts.logger)
	if err != nil {
		srv.logger.Error("unable to start relay", "addr", addr, "error", err)
		return err
	}

	srv.acceptor = acceptor
	srv.wg = &sync.WaitGroup{}
	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	srv.running = true

	go func() {
		if err := acceptor.Serve(srv.admitConn); err != nil {
			srv.logger.Error("relay no longer accepting TCP connections", "error", err)
		}
	}()

	srv.logger.Info("relay started", "addr", acceptor.Addr().String())
	return nil
}

// Stop closes the listener, closes every session, clears the registry, and
// waits up to timeout for session goroutines to finish. It returns
// ErrServerStopped when the server is not running and
// context.DeadlineExceeded when the wait times out.
func (srv *Server) Stop(timeout time.Duration) error {
	srv.mu.Lock()
	if !srv.running {
		srv.mu.Unlock()
		return ErrServerStopped
	}
	srv.running = false
	acceptor, wg, cancel := srv.acceptor, srv.wg, srv.cancel
	srv.acceptor = nil
	sessions := srv.registry.Drain()
	srv.mu.Unlock()

	srv.logger.Info("stopping relay", "sessions", len(sessions))

	if err := acceptor.Close(); err != nil && !IsExpectedCloseError(err) {
		srv.logger.Warn("error closing listener", "error", err)
	}
	for _, s := range sessions {
		s.advance(StateClosing)
		if err := s.closeWithReason(ReasonShutdown); err != nil {
			srv.logger.Warn("error closing session", "session", s.id, "name", s.name, "error", err)
		}
		srv.observer.SessionLeft(s.Info(), ReasonShutdown)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		srv.logger.Info("relay stopped")
		return nil
	case <-time.After(timeout):
		srv.logger.Warn("relay stop timed out, some session goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// Running reports whether the relay is accepting sessions.
func (srv *Server) Running() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.running
}

// Addr returns the TCP listen address, or nil when stopped.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.acceptor == nil {
		return nil
	}
	return srv.acceptor.Addr()
}

// Attach admits a session over an already established transport, such as a
// WebSocket connection. The relay takes ownership of t; it is closed when the
// session ends or immediately if the server is stopped.
func (srv *Server) Attach(t Transport) (*Session, error) {
	return srv.admit(t)
}

func (srv *Server) admitConn(conn net.Conn) {
	if _, err := srv.admit(NewLineTransport(conn, srv.opts.maxMessageSize)); err != nil {
		srv.logger.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// admit mints a session, greets it, registers it, and starts its loops. The
// greeting is queued before registration so it always precedes broadcasts.
func (srv *Server) admit(t Transport) (*Session, error) {
	s := newSession(uuid.NewString(), t, &srv.opts)
	s.logger = srv.logger

	srv.mu.Lock()
	if !srv.running {
		srv.mu.Unlock()
		_ = s.Close()
		return nil, ErrServerStopped
	}

	s.name = srv.nextName()
	for {
		if _, taken := srv.registry.Find(s.name); !taken {
			break
		}
		srv.logger.Warn("generated display name already registered, generating another", "name", s.name)
		s.name = srv.nextName()
	}
	s.logger = srv.logger.With("session", s.id, "name", s.name, "remote", t.RemoteAddr())

	// Queues are empty here, so neither enqueue can fail.
	_ = s.enqueue(WelcomeLine(s.name))
	_ = s.enqueue(s.id)

	s.setState(StateActive)
	if err := srv.registry.Add(s); err != nil {
		srv.mu.Unlock()
		_ = s.Close()
		return nil, fmt.Errorf("register session: %w", err)
	}
	wg, ctx := srv.wg, srv.ctx
	wg.Add(2)
	srv.mu.Unlock()

	s.logger.Info("client connected", "clients", srv.registry.Len())
	srv.observer.SessionJoined(s.Info())

	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer wg.Done()
		srv.readLoop(ctx, s)
	}()
	return s, nil
}

func (srv *Server) nextName() string {
	return srv.opts.namePrefix + strconv.FormatUint(srv.counter.Add(1), 10)
}

// readLoop blocks on the transport and dispatches every inbound message until
// the transport fails or is closed.
func (srv *Server) readLoop(ctx context.Context, s *Session) {
	var reason DisconnectReason
	defer func() {
		srv.terminate(ctx, s, reason)
	}()

	for {
		if srv.opts.idleTimeout > 0 {
			if err := s.transport.SetReadDeadline(time.Now().Add(srv.opts.idleTimeout)); err != nil {
				reason = ReasonReadError
				return
			}
		}
		payload, err := s.transport.ReadMessage()
		if err != nil {
			reason = classifyReadError(err)
			if reason == ReasonReadError && !IsExpectedCloseError(err) {
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
		if !s.limiter.allow() {
			s.logger.Warn("rate limit exceeded, message dropped")
			continue
		}
		srv.handleInbound(ctx, s, strings.ToValidUTF8(payload, "\uFFFD"))
	}
}

func classifyReadError(err error) DisconnectReason {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrMessageTooLong):
		return ReasonTooLong
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case IsExpectedCloseError(err):
		return ReasonPeerClosed
	default:
		return ReasonReadError
	}
}

// terminate runs once per session when its read loop ends: deregister,
// notify, announce the departure, then close the transport.
func (srv *Server) terminate(ctx context.Context, s *Session, reason DisconnectReason) {
	s.advance(StateClosing)
	if r, ok := s.closeReason(); ok {
		reason = r
	}

	if srv.registry.RemoveSession(s) {
		s.logger.Info("client disconnected", "reason", string(reason), "clients", srv.registry.Len())
		srv.observer.SessionLeft(s.Info(), reason)
		if srv.Running() {
			srv.dispatcher.Broadcast(ctx, DepartureLine(s.name), s)
		}
	}
	_ = s.closeWithReason(reason)
}

func (srv *Server) handleInbound(ctx context.Context, s *Session, payload string) {
	msg := ParseInbound(payload)
	switch msg.Kind {
	case KindDirect:
		s.logger.Info("directed message", "target", msg.Target, "body", msg.Body)
		err := srv.dispatcher.SendTo(ctx, msg.Target, ChatLine(s.name, msg.Body))
		delivered := 1
		if err != nil {
			delivered = 0
			s.logger.Warn("directed message not delivered", "target", msg.Target, "error", err)
			if errors.Is(err, ErrTargetNotFound) {
				srv.observer.DeliveryFailed(SessionInfo{Name: msg.Target}, err)
			}
		}
		srv.observer.MessageRelayed(RelayedMessage{
			Kind: KindDirect, From: s.name, To: msg.Target, Body: msg.Body, Delivered: delivered,
		})
	case KindBroadcast:
		s.logger.Info("broadcast message", "body", msg.Body)
		report := srv.dispatcher.Broadcast(ctx, ChatLine(s.name, msg.Body), s)
		srv.observer.MessageRelayed(RelayedMessage{
			Kind: KindBroadcast, From: s.name, Body: msg.Body, Delivered: report.Delivered,
		})
	default:
		s.logger.Debug("malformed directive dropped", "payload", payload)
		srv.observer.MessageRelayed(RelayedMessage{Kind: KindMalformed, From: s.name, Body: payload})
	}
}

// BroadcastAdmin sends an operator message to every session.
func (srv *Server) BroadcastAdmin(ctx context.Context, text string) (Report, error) {
	if !srv.Running() {
		return Report{}, ErrServerStopped
	}
	report := srv.dispatcher.Broadcast(ctx, AdminLine(text), nil)
	srv.logger.Info("admin broadcast", "text", text, "delivered", report.Delivered, "failed", len(report.Failed))
	srv.observer.MessageRelayed(RelayedMessage{Kind: KindAdminBroadcast, Body: text, Delivered: report.Delivered})
	return report, nil
}

// SendAdmin sends an operator message to one session. A missing target is
// reported as an error wrapping ErrTargetNotFound.
func (srv *Server) SendAdmin(ctx context.Context, name, text string) error {
	if !srv.Running() {
		return ErrServerStopped
	}
	err := srv.dispatcher.SendTo(ctx, name, AdminLine(text))
	delivered := 1
	if err != nil {
		delivered = 0
		srv.logger.Warn("admin message not delivered", "target", name, "error", err)
		if errors.Is(err, ErrTargetNotFound) {
			srv.observer.DeliveryFailed(SessionInfo{Name: name}, err)
		}
	} else {
		srv.logger.Info("admin message sent", "target", name, "text", text)
	}
	srv.observer.MessageRelayed(RelayedMessage{Kind: KindAdminDirect, To: name, Body: text, Delivered: delivered})
	return err
}

// ListConnectedNames returns the display names of registered sessions.
func (srv *Server) ListConnectedNames() []string {
	return srv.registry.Names()
}

// Sessions returns identity snapshots of registered sessions.
func (srv *Server) Sessions() []SessionInfo {
	snapshot := srv.registry.Snapshot()
	infos := make([]SessionInfo, 0, len(snapshot))
	for _, s := range snapshot {
		infos = append(infos, s.Info())
	}
	return infos
}

// Count returns the number of registered sessions.
func (srv *Server) Count() int {
	return srv.registry.Len()
}
