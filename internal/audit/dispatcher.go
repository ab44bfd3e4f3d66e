package audit

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// Enrich runs on the emitting goroutine before the event is queued,
	// while ctx still carries request-scoped values.
	Enrich func(context.Context, *Event)
	// OnSinkPanic is called on the delivery goroutine when the sink panics.
	// Delivery continues with the next event.
	OnSinkPanic func(Event, any)
}

// Dispatcher relays events to a sink on a single background goroutine, so
// a slow sink never sits on the request path unless DropIfFull is off and
// the buffer is full.
type Dispatcher struct {
	cfg      Config
	sink     Sink
	queue    chan Event
	stop     chan struct{}
	finished chan struct{}

	dropped    atomic.Uint64
	sinkPanics atomic.Uint64

	mu            sync.Mutex
	droppedByType map[string]uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
// Every method is safe on a nil *Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:           cfg,
		sink:          sink,
		queue:         make(chan Event, cfg.BufferSize),
		stop:          make(chan struct{}),
		finished:      make(chan struct{}),
		droppedByType: make(map[string]uint64),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.finished)

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
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

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.sinkPanics.Add(1)
			if d.cfg.OnSinkPanic != nil {
				d.cfg.OnSinkPanic(event, r)
			}
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit stamps and enriches event, then queues it. With DropIfFull a full
// buffer drops the event; otherwise Emit waits for room or for ctx.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if d.cfg.Enrich != nil {
		d.cfg.Enrich(ctx, &event)
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.drop(event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event.EventType)
	case <-d.stop:
	}
}

func (d *Dispatcher) drop(eventType string) {
	d.dropped.Add(1)
	d.mu.Lock()
	d.droppedByType[eventType]++
	d.mu.Unlock()
}

// Shutdown stops intake and waits until queued events reach the sink or
// ctx ends. On ctx expiry delivery of the remaining events continues in the
// background and ctx.Err() is returned. Later calls wait the same way.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
	})

	select {
	case <-d.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (d *Dispatcher) Close() {
	_ = d.Shutdown(context.Background())
}

// Dropped is the total number of events lost to a full buffer or an
// expired emitting context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType splits Dropped by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return map[string]uint64{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.droppedByType)
}

// SinkPanics counts events whose delivery panicked in the sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.sinkPanics.Load()
}
