package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// Acceptor owns the listening socket and runs the accept loop.
type Acceptor struct {
	listener net.Listener
	logger   *slog.Logger
	stopping atomic.Bool
	done     chan struct{}
	once     sync.Once
	started  atomic.Bool
}

// Listen binds addr ("host:port") for TCP. Failure is a *BindError.
func Listen(addr string, logger *slog.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	return NewAcceptor(ln, logger), nil
}

// NewAcceptor wraps an already bound listener.
func NewAcceptor(ln net.Listener, logger *slog.Logger) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{
		listener: ln,
		logger:   logger.With("component", "acceptor", "addr", ln.Addr().String()),
		done:     make(chan struct{}),
	}
}

// Addr returns the bound address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve accepts connections until Close is called or accept fails, handing
// each one to admit on the accept goroutine. admit must not block on network
// I/O. Serve returns nil after Close and the accept error otherwise; it never
// restarts accepting.
func (a *Acceptor) Serve(admit func(net.Conn)) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("relay.Acceptor: already serving")
	}
	defer close(a.done)

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.stopping.Load() && errors.Is(err, net.ErrClosed) {
				a.logger.Debug("accept loop stopped")
				return nil
			}
			a.logger.Error("accept failed, accept loop terminated", "error", err)
			return err
		}
		a.logger.Debug("connection accepted", "remote", conn.RemoteAddr().String())
		admit(conn)
	}
}

// Close stops the accept loop and waits for it to return. It is safe to call
// more than once and before Serve.
func (a *Acceptor) Close() error {
	var err error
	a.once.Do(func() {
		a.stopping.Store(true)
		err = a.listener.Close()
		if a.started.Load() {
			<-a.done
		}
	})
	return err
}
