// Package events provides a lightweight pub/sub event bus for session observability.
package events

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of events buffered between publishers and
// the dispatch goroutine.
const DefaultQueueSize = 1024

// Listener is a function that handles events.
type Listener func(*Event)

// EventBus delivers events to listeners on a single goroutine, in publish
// order. Publishing never blocks: events that do not fit in the queue are
// dropped and counted.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]Listener
	globalListeners []Listener

	queue     chan *Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64
}

// NewEventBus creates a bus with DefaultQueueSize and starts its dispatcher.
func NewEventBus() *EventBus {
	return NewEventBusWithQueue(DefaultQueueSize)
}

// NewEventBusWithQueue creates a bus buffering up to size events.
func NewEventBusWithQueue(size int) *EventBus {
	if size < 1 {
		size = 1
	}
	eb := &EventBus{
		listeners: make(map[EventType][]Listener),
		queue:     make(chan *Event, size),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go eb.run()
	return eb
}

// Subscribe registers a listener for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners[eventType] = append(eb.listeners[eventType], listener)
}

// SubscribeAll registers a listener for all event types.
func (eb *EventBus) SubscribeAll(listener Listener) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.globalListeners = append(eb.globalListeners, listener)
}

// Publish queues an event for delivery. A nil or closed bus drops the event,
// so callers need not check for one.
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil || eb.closed.Load() {
		return
	}
	select {
	case eb.queue <- event:
	default:
		eb.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Close delivers the events already queued, then stops the dispatcher.
// Later publishes are dropped. Close is idempotent.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.stop)
	})
	<-eb.done
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]Listener)
	eb.globalListeners = nil
}

func (eb *EventBus) run() {
	defer close(eb.done)
	for {
		select {
		case ev := <-eb.queue:
			eb.deliver(ev)
		case <-eb.stop:
			for {
				select {
				case ev := <-eb.queue:
					eb.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) deliver(event *Event) {
	eb.mu.RLock()
	typed := eb.listeners[event.Type]
	global := eb.globalListeners
	eb.mu.RUnlock()

	// Subscribe appends, so these slices are never mutated in place.
	for _, listener := range typed {
		safeInvoke(listener, event)
	}
	for _, listener := range global {
		safeInvoke(listener, event)
	}
}

func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
