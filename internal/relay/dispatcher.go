// Package relay delivers chat lines to sessions. Delivery is best effort:
// a failure for one peer is recorded and never stops delivery to the rest.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Report summarises one broadcast.
type Report struct {
	Delivered int      `json:"delivered"`
	Failed    []string `json:"failed,omitempty"`
}

// Dispatcher performs broadcast and unicast delivery over a Registry.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
}

// NewDispatcher returns a dispatcher over registry. A nil observer is allowed.
func NewDispatcher(registry *Registry, logger *slog.Logger, tracer trace.Tracer, observer Observer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = defaultOptions().tracer
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger.With("component", "dispatcher"),
		tracer:   tracer,
		observer: observer,
	}
}

// Broadcast queues text for every registered session except except, which may
// be nil. The recipient set is the registry snapshot taken on entry.
func (d *Dispatcher) Broadcast(ctx context.Context, text string, except *Session) Report {
	targets := d.registry.Snapshot()

	_, span := d.tracer.Start(ctx, "relay.broadcast",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("relay.recipients", len(targets))),
	)
	defer span.End()

	var report Report
	for _, s := range targets {
		if s == except {
			continue
		}
		if err := s.enqueue(text); err != nil {
			report.Failed = append(report.Failed, s.name)
			d.fail(s, err)
			continue
		}
		report.Delivered++
	}

	span.SetAttributes(
		attribute.Int("relay.delivered", report.Delivered),
		attribute.Int("relay.failed", len(report.Failed)),
	)
	return report
}

// SendTo queues text for the session registered under name. It returns an
// error wrapping ErrTargetNotFound when no connected session has that name,
// or ErrPeerUnreachable when the session cannot take the message.
func (d *Dispatcher) SendTo(ctx context.Context, name, text string) error {
	_, span := d.tracer.Start(ctx, "relay.send",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("relay.target", name)),
	)
	defer span.End()

	s, ok := d.registry.Find(name)
	if !ok || !s.Connected() {
		err := fmt.Errorf("%w: %q", ErrTargetNotFound, name)
		span.SetStatus(codes.Error, "target not found")
		return err
	}
	if err := s.enqueue(text); err != nil {
		d.fail(s, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "peer unreachable")
		return fmt.Errorf("send to %q: %w", name, err)
	}
	return nil
}

// fail records a per-peer delivery failure. A peer whose queue is full is
// evicted; its own read loop then runs the normal departure path.
func (d *Dispatcher) fail(s *Session, err error) {
	d.logger.Warn("delivery failed", "session", s.id, "name", s.name, "error", err)
	d.observer.DeliveryFailed(s.Info(), err)
	if errors.Is(err, errSendQueueFull) {
		_ = s.closeWithReason(ReasonSlowPeer)
	}
}
