package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Tyrowin/chatrelay/internal/relay"

// Defaults applied by New.
const (
	DefaultSendQueueSize = 256
	DefaultWriteTimeout  = 10 * time.Second
	DefaultNamePrefix    = "Client "
)

type options struct {
	logger         *slog.Logger
	observers      observers
	tracer         trace.Tracer
	maxMessageSize int
	sendQueueSize  int
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	rateBurst      int
	rateRefill     time.Duration
	namePrefix     string
}

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
		maxMessageSize: DefaultMaxMessageSize,
		sendQueueSize:  DefaultSendQueueSize,
		writeTimeout:   DefaultWriteTimeout,
		namePrefix:     DefaultNamePrefix,
	}
}

// Option configures a Server.
type Option func(o *options) error

// WithLogger sets the structured logger. A nil logger is rejected.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("relay.WithLogger: logger is nil")
		}
		o.logger = logger
		return nil
	}
}

// WithObserver subscribes obs to session and message events. It may be
// given several times; observers are notified in the order they were added.
func WithObserver(obs Observer) Option {
	return func(o *options) error {
		if obs == nil {
			return errors.New("relay.WithObserver: observer is nil")
		}
		o.observers = append(o.observers, obs)
		return nil
	}
}

// WithTracer overrides the OpenTelemetry tracer used for dispatch spans.
// By default the tracer comes from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("relay.WithTracer: tracer is nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithMaxMessageSize bounds inbound TCP lines in bytes.
func WithMaxMessageSize(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return fmt.Errorf("relay.WithMaxMessageSize: invalid size (%d)", size)
		}
		o.maxMessageSize = size
		return nil
	}
}

// WithSendQueueSize sets how many outbound messages may wait for a slow peer
// before it is evicted.
func WithSendQueueSize(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return fmt.Errorf("relay.WithSendQueueSize: invalid size (%d)", size)
		}
		o.sendQueueSize = size
		return nil
	}
}

// WithWriteTimeout bounds a single write to a peer. Zero disables the deadline.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout < 0 {
			return fmt.Errorf("relay.WithWriteTimeout: invalid timeout (%v)", timeout)
		}
		o.writeTimeout = timeout
		return nil
	}
}

// WithIdleTimeout disconnects sessions that send nothing for the given
// duration. Zero, the default, keeps idle sessions forever.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout < 0 {
			return fmt.Errorf("relay.WithIdleTimeout: invalid timeout (%v)", timeout)
		}
		o.idleTimeout = timeout
		return nil
	}
}

// WithRateLimit allows each session burst messages per refill interval;
// excess messages are dropped. A burst of zero disables limiting.
func WithRateLimit(burst int, refill time.Duration) Option {
	return func(o *options) error {
		if burst < 0 {
			return fmt.Errorf("relay.WithRateLimit: invalid burst (%d)", burst)
		}
		o.rateBurst = burst
		o.rateRefill = refill
		return nil
	}
}

// WithNamePrefix sets the prefix of generated display names ("Client " by
// default, giving "Client 1", "Client 2", ...).
func WithNamePrefix(prefix string) Option {
	return func(o *options) error {
		if prefix == "" {
			return errors.New("relay.WithNamePrefix: prefix is empty")
		}
		o.namePrefix = prefix
		return nil
	}
}
