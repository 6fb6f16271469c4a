package event

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultWorkers   = 16
	DefaultQueueSize = 1024
)

// Handler receives events of one concrete type. Handlers run on the bus
// workers and must not block for long.
type Handler[T AgentEvent] func(context.Context, T)

// Filter selects the events a subscription receives. A nil filter accepts
// everything.
type Filter[T AgentEvent] func(T) bool

// Bus fans agent events out to in-process observers. Publishing never blocks:
// deliveries are queued for a fixed set of workers and dropped when the queue
// or a subscriber channel is full.
type Bus struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu          sync.RWMutex
	subscribers map[Kind][]*subscriber

	queue   chan delivery
	metrics *busMetrics
}

type subscriber struct {
	id      uuid.UUID
	deliver func(context.Context, AgentEvent)
	// close is set for channel subscriptions.
	close func()
}

type delivery struct {
	event AgentEvent
	to    *subscriber
}

type Subscription struct {
	bus  *Bus
	kind Kind
	id   uuid.UUID
	once sync.Once
}

type BusOption func(*busOptions)

type busOptions struct {
	workers   int
	queueSize int
}

// WithWorkers sets the number of delivery goroutines. A single worker
// delivers events in publish order.
func WithWorkers(n int) BusOption {
	return func(o *busOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithQueueSize(n int) BusOption {
	return func(o *busOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

func NewBus(registry *prometheus.Registry, opts ...BusOption) *Bus {
	options := busOptions{workers: DefaultWorkers, queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[Kind][]*subscriber),
		queue:       make(chan delivery, options.queueSize),
		metrics:     newBusMetrics(registry),
	}

	for range options.workers {
		bus.wg.Add(1)
		go bus.work()
	}
	return bus
}

func (bus *Bus) work() {
	defer bus.wg.Done()

	for {
		select {
		case <-bus.ctx.Done():
			return
		case d := <-bus.queue:
			bus.deliver(d)
		}
	}
}

func (bus *Bus) deliver(d delivery) {
	kind := d.event.Kind()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(bus.ctx, "event handler panicked",
				"error", r,
				"kind", kind,
				"agent_id", d.event.Agent(),
				"stack", string(debug.Stack()),
			)
		}
	}()

	d.to.deliver(bus.ctx, d.event)
	bus.metrics.IncrementDelivered(kind)
}

// kindOf returns the kind shared by every value of T. All event types
// report a constant kind from a value receiver.
func kindOf[T AgentEvent]() Kind {
	var zero T
	return zero.Kind()
}

func accept[T AgentEvent](filter Filter[T], e AgentEvent) (T, bool) {
	typed, ok := e.(T)
	if !ok || (filter != nil && !filter(typed)) {
		return typed, false
	}
	return typed, true
}

// Subscribe calls handler for every published event of type T that passes
// filter.
//
//	sub := event.Subscribe(bus, func(ctx context.Context, e event.WorkerSpawned) {
//	    slog.Info("worker spawned", "worker_id", e.WorkerID)
//	}, nil)
//	defer sub.Unsubscribe()
func Subscribe[T AgentEvent](bus *Bus, handler Handler[T], filter Filter[T]) *Subscription {
	return bus.add(kindOf[T](), &subscriber{
		id: uuid.New(),
		deliver: func(ctx context.Context, e AgentEvent) {
			if typed, ok := accept(filter, e); ok {
				handler(ctx, typed)
			}
		},
	})
}

// SubscribeChannel delivers events of type T to a buffered channel. Events
// that do not fit into the buffer are dropped. Unsubscribe closes the channel.
func SubscribeChannel[T AgentEvent](bus *Bus, bufferSize int, filter Filter[T]) (<-chan T, *Subscription) {
	kind := kindOf[T]()
	ch := make(chan T, bufferSize)
	id := uuid.New()

	sub := bus.add(kind, &subscriber{
		id: id,
		deliver: func(ctx context.Context, e AgentEvent) {
			typed, ok := accept(filter, e)
			if !ok {
				return
			}
			select {
			case ch <- typed:
			default:
				bus.metrics.IncrementDropped(kind)
				slog.DebugContext(ctx, "subscriber channel full, dropping event", "kind", kind, "subscriber_id", id)
			}
		},
		close: func() { close(ch) },
	})

	if sub.bus == nil {
		close(ch)
	}
	return ch, sub
}

func (bus *Bus) add(kind Kind, sub *subscriber) *Subscription {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.closed.Load() {
		slog.Warn("subscribe on closed event bus", "kind", kind)
		return &Subscription{kind: kind}
	}

	bus.subscribers[kind] = append(bus.subscribers[kind], sub)
	return &Subscription{bus: bus, kind: kind, id: sub.id}
}

// Unsubscribe stops delivery and closes the channel of a channel
// subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}

	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		if s.bus.closed.Load() {
			return
		}

		subs := s.bus.subscribers[s.kind]
		for i, sub := range subs {
			if sub.id != s.id {
				continue
			}
			s.bus.subscribers[s.kind] = append(subs[:i], subs[i+1:]...)
			if sub.close != nil {
				sub.close()
			}
			return
		}
	})
}

// Publish queues e for every subscriber of its kind.
func Publish(bus *Bus, e AgentEvent) {
	if bus.closed.Load() {
		return
	}

	kind := e.Kind()
	bus.mu.RLock()
	subs := append([]*subscriber(nil), bus.subscribers[kind]...)
	bus.mu.RUnlock()

	for _, sub := range subs {
		select {
		case bus.queue <- delivery{event: e, to: sub}:
		case <-bus.ctx.Done():
			return
		default:
			bus.metrics.IncrementDropped(kind)
			slog.Debug("event queue full, dropping event", "kind", kind, "agent_id", e.Agent())
		}
	}

	bus.metrics.IncrementPublished(kind)
}

// Close stops the workers, waits for deliveries in flight and closes all
// channel subscriptions. Pending deliveries are discarded.
func (bus *Bus) Close() {
	if !bus.closed.CompareAndSwap(false, true) {
		return
	}

	// The queue is never closed so that a concurrent Publish cannot panic.
	bus.cancel()
	bus.wg.Wait()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for kind, subs := range bus.subscribers {
		for _, sub := range subs {
			if sub.close != nil {
				sub.close()
			}
		}
		delete(bus.subscribers, kind)
	}
}

func (bus *Bus) IsClosed() bool {
	return bus.closed.Load()
}

// SubscriberCount returns the number of subscriptions for events of type T.
func SubscriberCount[T AgentEvent](bus *Bus) int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subscribers[kindOf[T]()])
}
