package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// dispatcher runs queued callbacks one at a time on a single goroutine.
// The queue is unbounded so a handler that calls back into the channel cannot deadlock it.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stop    chan struct{}
	stopped bool
	backlog int
	warned  bool
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func newDispatcher(backlog int, logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		backlog: backlog,
		logger:  logger,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) enqueue(fn func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	if len(d.queue) > d.backlog && !d.warned {
		d.warned = true
		d.logger.Warn("Realtime handlers are falling behind", zap.Int("queued", len(d.queue)))
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.warned = false
				d.mu.Unlock()
				break
			}
			batch := d.queue
			d.queue = nil
			d.mu.Unlock()

			for _, fn := range batch {
				d.call(fn)
			}
		}
	}
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Realtime handler panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// flush waits until every callback queued before the call has run
func (d *dispatcher) flush(ctx context.Context) error {
	done := make(chan struct{})
	if !d.enqueue(func() { close(done) }) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.queue = nil
	d.mu.Unlock()

	close(d.stop)
	d.wg.Wait()
}
