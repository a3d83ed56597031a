package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultDeliveryTimeout = 5 * time.Second

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events when the buffer is full instead of blocking
	// the caller until it drains or the caller's context ends.
	DropIfFull bool
	// DeliveryTimeout bounds one sink call. Zero means five seconds.
	DeliveryTimeout time.Duration
	// Logger reports sink failures. Defaults to a no-op.
	Logger *zap.Logger
}

// FallibleSink is a Sink that can say whether an event was stored. The
// dispatcher prefers Deliver over Emit when a sink implements both.
type FallibleSink interface {
	Sink
	Deliver(ctx context.Context, event Event) error
}

// Dispatcher forwards events to a sink from a single goroutine. A nil
// Dispatcher is valid and drops everything.
//
// A sink that panics, errors or overruns DeliveryTimeout loses that one
// event; the dispatcher logs it, counts it in Failed and moves on.
type Dispatcher struct {
	cfg  Config
	sink Sink
	log  *zap.Logger

	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	dropped atomic.Uint64
	failed  atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		log:   log.Named("audit.dispatcher"),
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain delivers what Emit accepted before Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	defer cancel()

	err := d.call(ctx, event)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		return
	}
	d.failed.Add(1)
	d.log.Warn("audit sink failed",
		zap.String("type", event.Type),
		zap.String("user_id", event.UserID),
		zap.Error(err),
	)
}

func (d *Dispatcher) call(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	if fs, ok := d.sink.(FallibleSink); ok {
		return fs.Deliver(ctx, event)
	}
	d.sink.Emit(ctx, event)
	return nil
}

// Emit queues event. It never blocks when DropIfFull is set.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events and waits until queued ones reach the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped returns how many events were discarded before reaching the queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns how many queued events the sink did not accept.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
