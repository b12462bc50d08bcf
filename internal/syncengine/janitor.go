package syncengine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Run flags optimistic updates whose echo never arrived until ctx is done.
// Flagged updates are left in place; the next authoritative fetch supersedes them.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.JanitorInterval.Duration)
	defer ticker.Stop()

	e.logger.Info("Sync janitor started",
		zap.Duration("interval", e.cfg.JanitorInterval.Duration),
		zap.Duration("echo_timeout", e.cfg.EchoTimeout.Duration),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Sync janitor stopped")
			return
		case <-ticker.C:
			e.expirePending(e.now())
		}
	}
}

// expirePending marks everything submitted before now-EchoTimeout as timed out
// and returns how many entries changed
func (e *Engine) expirePending(now time.Time) int {
	deadline := now.Add(-e.cfg.EchoTimeout.Duration)

	e.mu.Lock()
	var changes []Change
	messages, ops := 0, 0
	for convID, local := range e.messages {
		changed := false
		for _, entry := range local {
			if entry.status == Pending && !entry.submittedAt.After(deadline) {
				entry.status = TimedOut
				messages++
				changed = true
			}
		}
		if changed {
			changes = append(changes, Change{Kind: MessagesChanged, ConversationID: convID})
		}
	}
	for _, op := range e.ops {
		if op.status == Pending && !op.submittedAt.After(deadline) {
			op.status = TimedOut
			ops++
			changes = append(changes, Change{Kind: MessagesChanged, ConversationID: op.conversationID})
		}
	}
	e.mu.Unlock()

	total := messages + ops
	if total == 0 {
		return 0
	}

	ctx := context.Background()
	e.metrics.pendingTimeouts.Add(ctx, int64(messages), metric.WithAttributes(attribute.String("kind", "message")))
	e.metrics.pendingTimeouts.Add(ctx, int64(ops), metric.WithAttributes(attribute.String("kind", "op")))
	e.logger.Warn("Optimistic updates timed out waiting for echo", zap.Int("messages", messages), zap.Int("ops", ops))

	e.notify(changes...)
	return total
}
