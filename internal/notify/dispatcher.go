package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultQueueSize = 256

// Dispatcher fans events out to its publishers on a single background
// goroutine, so publishers never see concurrent calls. Notify only enqueues;
// when the queue is full the event is dropped and logged.
type Dispatcher struct {
	logger  *zap.Logger
	sinks   []Publisher
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewDispatcher(logger *zap.Logger, timeout time.Duration, sinks ...Publisher) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		logger:  logger,
		sinks:   sinks,
		timeout: timeout,
		queue:   make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(events ...Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, event := range events {
		select {
		case d.queue <- event:
		default:
			d.logger.Warn("notification dropped, queue full",
				zap.String("event_id", event.ID),
				zap.String("kind", string(event.Kind)))
		}
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, sink := range d.sinks {
			if err := d.deliver(sink, event); err != nil {
				d.logger.Warn("notification failed",
					zap.String("event_id", event.ID),
					zap.String("kind", string(event.Kind)),
					zap.Uint("activity_id", event.ActivityID),
					zap.Uint("poll_id", event.PollID),
					zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) deliver(sink Publisher, event Event) (err error) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return sink.Publish(ctx, event)
}
