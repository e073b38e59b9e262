// Package metrics exports relay activity as Prometheus metrics. The Collector
// is a relay.Observer, so it is wired in with relay.WithObserver.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "chatrelay").
	Namespace string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registry receives the metrics and backs Handler.
	// Default: a fresh registry with Go and process collectors.
	Registry *prometheus.Registry
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry registers the metrics on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector records relay events.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	messagesTotal    *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	disconnects      *prometheus.CounterVec
}

var _ relay.Observer = (*Collector)(nil)

// New creates a Collector and registers its metrics.
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: "chatrelay"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(cfg.Registry)
	return &Collector{
		registry: cfg.Registry,

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "sessions_active",
			Help:        "Number of registered chat sessions",
			ConstLabels: cfg.ConstLabels,
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "sessions_total",
			Help:        "Total number of chat sessions admitted",
			ConstLabels: cfg.ConstLabels,
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_total",
			Help:        "Total number of relayed messages by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "delivery_failures_total",
			Help:        "Total number of per-peer delivery failures by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "disconnects_total",
			Help:        "Total number of ended sessions by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// SessionJoined implements relay.Observer.
func (c *Collector) SessionJoined(relay.SessionInfo) {
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// SessionLeft implements relay.Observer.
func (c *Collector) SessionLeft(_ relay.SessionInfo, reason relay.DisconnectReason) {
	c.sessionsActive.Dec()
	c.disconnects.WithLabelValues(string(reason)).Inc()
}

// MessageRelayed implements relay.Observer.
func (c *Collector) MessageRelayed(msg relay.RelayedMessage) {
	c.messagesTotal.WithLabelValues(string(msg.Kind)).Inc()
}

// DeliveryFailed implements relay.Observer.
func (c *Collector) DeliveryFailed(_ relay.SessionInfo, err error) {
	c.deliveryFailures.WithLabelValues(failureReason(err)).Inc()
}

// failureReason maps delivery errors to a small label set.
func failureReason(err error) string {
	switch {
	case errors.Is(err, relay.ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, relay.ErrPeerUnreachable):
		return "peer_unreachable"
	default:
		return "other"
	}
}
