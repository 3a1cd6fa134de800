package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config tunes a Dispatcher. Now stamps events that arrive without a
// timestamp and defaults to time.Now.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Now        func() time.Time
}

// Stats counts what happened to emitted events.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// Dispatcher hands events to a Sink on its own goroutine. Auth flows only
// pay for a channel send; with DropIfFull they never wait on the sink.
type Dispatcher struct {
	sink       Sink
	now        func() time.Time
	dropIfFull bool

	queue    chan Event
	stop     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when auditing is off.
// Every method is a no-op on nil.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	d := &Dispatcher{
		sink:       sink,
		now:        cfg.Now,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.finished)
	for {
		select {
		case ev := <-d.queue:
			d.send(ev)
		case <-d.stop:
			// Events already queued when Close ran still go out.
			for n := len(d.queue); n > 0; n-- {
				d.send(<-d.queue)
			}
			return
		}
	}
}

func (d *Dispatcher) send(ev Event) {
	d.sink.Emit(context.Background(), ev)
	d.delivered.Add(1)
}

// Emit queues ev and reports whether it was accepted. Missing IDs and
// timestamps are filled in first. A full buffer drops ev under DropIfFull
// and otherwise blocks until there is room, ctx ends, or Close runs.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) bool {
	if d == nil {
		return false
	}
	select {
	case <-d.stop:
		return false
	default:
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
			return true
		default:
			d.dropped.Add(1)
			return false
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	case <-d.stop:
		return false
	}
}

// Close refuses further events and returns once the queue is flushed.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.finished
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{Delivered: d.delivered.Load(), Dropped: d.dropped.Load()}
}
