package gatekeep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher decouples engine operations from sink latency: Emit
// enqueues and returns, a single pump goroutine delivers in arrival
// order. The dispatcher never inspects the session event vocabulary
// beyond stamping a missing timestamp; classification lives with the
// emit helpers in engine_audit.go.
//
// A nil *auditDispatcher (auditing disabled) is a valid no-op receiver.
type auditDispatcher struct {
	sink       AuditSink
	dropIfFull bool

	queue   chan AuditEvent
	quit    chan struct{}
	drained chan struct{}

	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}

	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan AuditEvent, buffer),
		quit:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	go d.pump()

	return d
}

// pump delivers queued events until Close, then flushes the backlog so
// nothing accepted before shutdown is lost.
func (d *auditDispatcher) pump() {
	defer close(d.drained)

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.quit:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *auditDispatcher) deliver(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.sink.Emit(context.Background(), event)
}

// Emit enqueues event for delivery. In drop-if-full mode a saturated
// queue costs a counter bump, never a stall; otherwise the caller blocks
// until there is room, its context ends, or the dispatcher closes.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close stops intake, flushes buffered events, and waits for delivery to
// finish. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.quit)
		<-d.drained
	})
}

// Dropped reports events discarded because the queue was saturated.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
