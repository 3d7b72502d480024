package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher fans committed events out to subscribers.
// Publish never blocks a settlement: when the inbox or a subscriber buffer is
// full the event is dropped for that consumer and counted. Subscribers that
// need a gap-free history read the persisted event log by Seq.
type Dispatcher struct {
	inbox chan Event

	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64

	lastSeq atomic.Uint64
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher with the given inbox size.
func NewDispatcher(inboxSize int) *Dispatcher {
	return &Dispatcher{
		inbox:  make(chan Event, inboxSize),
		subs:   make(map[uint64]chan Event),
		logger: slog.Default().With("module", "dispatcher"),
	}
}

// Publish queues an event for delivery.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.inbox <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Event inbox full, dropping", slog.Uint64("seq", ev.Seq), slog.String("type", string(ev.Type)))
	}
}

// Subscribe registers a consumer. The returned cancel func unregisters it
// and closes the channel.
func (d *Dispatcher) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = ch
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(ch)
		})
	}
}

// Run starts the delivery loop. This MUST be run in a single goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started")

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Uint64("last_seq", d.lastSeq.Load()))
			panic(r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopping...")
			return
		case ev := <-d.inbox:
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	if ev.Seq > d.lastSeq.Load() {
		d.lastSeq.Store(ev.Seq)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.dropped.Add(1)
		}
	}
}

// LastSeq returns the highest sequence delivered so far.
func (d *Dispatcher) LastSeq() uint64 {
	return d.lastSeq.Load()
}

// Dropped returns how many deliveries were dropped.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
