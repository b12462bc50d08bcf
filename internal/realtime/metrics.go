package realtime

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

type channelMetrics struct {
	transportsOpened metric.Int64Counter
	reconnects       metric.Int64Counter
	eventsReceived   metric.Int64Counter
}

func newChannelMetrics(meter metric.Meter, logger *zap.Logger) *channelMetrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("realtime")
	}

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("Failed to create counter", zap.String("name", name), zap.Error(err))
			return noop.Int64Counter{}
		}
		return c
	}

	return &channelMetrics{
		transportsOpened: counter("chatsync.realtime.transports_opened", "Realtime transports opened"),
		reconnects:       counter("chatsync.realtime.reconnects", "Realtime reconnect attempts"),
		eventsReceived:   counter("chatsync.realtime.events_received", "Realtime events received"),
	}
}
