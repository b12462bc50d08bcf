package syncengine

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

type engineMetrics struct {
	refetches       metric.Int64Counter
	eventsApplied   metric.Int64Counter
	pendingTimeouts metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter, logger *zap.Logger) *engineMetrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("syncengine")
	}

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("Failed to create counter", zap.String("name", name), zap.Error(err))
			return noop.Int64Counter{}
		}
		return c
	}

	return &engineMetrics{
		refetches:       counter("chatsync.sync.refetches", "Targeted re-fetches issued for unknown entities"),
		eventsApplied:   counter("chatsync.sync.events_applied", "Realtime events merged into local state"),
		pendingTimeouts: counter("chatsync.sync.pending_timeouts", "Optimistic updates that never saw their echo"),
	}
}
