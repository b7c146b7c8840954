package bridge

import (
	"sync"

	"go.uber.org/zap"
)

type subscriberID int64

// CancelFn has to be called to unsubscribe.
type CancelFn func()

const subscriberBuffer = 64

// EventDispatcher implements the fan-out pattern delivering script events to
// multiple native subscribers. Subscribers receive events on a buffered channel;
// a slow subscriber gets events dropped rather than blocking the router.
type EventDispatcher struct {
	logger *zap.Logger

	mu        sync.RWMutex
	byType    map[EventType]map[subscriberID]chan Event
	all       map[subscriberID]chan Event
	sessions  map[string]map[subscriberID]chan Event
	currentID subscriberID
}

func NewEventDispatcher(logger *zap.Logger) *EventDispatcher {
	return &EventDispatcher{
		logger:    logger,
		byType:    map[EventType]map[subscriberID]chan Event{},
		all:       map[subscriberID]chan Event{},
		sessions:  map[string]map[subscriberID]chan Event{},
		currentID: 1,
	}
}

// Subscribe registers a subscriber for the given event types.
// With no types it receives every broadcast event.
func (d *EventDispatcher) Subscribe(types ...EventType) (<-chan Event, CancelFn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.currentID
	d.currentID += 1
	ch := make(chan Event, subscriberBuffer)

	if len(types) == 0 {
		d.all[id] = ch
		return ch, func() { d.unsubscribe(id, nil, "") }
	}
	for _, t := range types {
		subscribers, ok := d.byType[t]
		if !ok {
			subscribers = map[subscriberID]chan Event{}
			d.byType[t] = subscribers
		}
		subscribers[id] = ch
	}
	return ch, func() { d.unsubscribe(id, types, "") }
}

// SubscribeSession registers a subscriber for jsBridgeEvent messages scoped to
// a specific internal-browser session.
func (d *EventDispatcher) SubscribeSession(sessionID string) (<-chan Event, CancelFn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.currentID
	d.currentID += 1
	ch := make(chan Event, subscriberBuffer)

	subscribers, ok := d.sessions[sessionID]
	if !ok {
		subscribers = map[subscriberID]chan Event{}
		d.sessions[sessionID] = subscribers
	}
	subscribers[id] = ch
	return ch, func() { d.unsubscribe(id, nil, sessionID) }
}

// Dispatch delivers a broadcast event to every matching subscriber.
func (d *EventDispatcher) Dispatch(ev Event) {
	eventsMetric.WithLabelValues(string(ev.Type)).Inc()
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ch := range d.all {
		d.deliver(ch, ev)
	}
	for _, ch := range d.byType[ev.Type] {
		d.deliver(ch, ev)
	}
}

// DispatchSession delivers a session-scoped event to subscribers of that
// session only. Reports whether anyone was listening.
func (d *EventDispatcher) DispatchSession(sessionID string, ev Event) bool {
	eventsMetric.WithLabelValues(string(ev.Type)).Inc()
	d.mu.RLock()
	defer d.mu.RUnlock()

	subscribers := d.sessions[sessionID]
	for _, ch := range subscribers {
		d.deliver(ch, ev)
	}
	return len(subscribers) > 0
}

func (d *EventDispatcher) deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		droppedMessagesMetric.WithLabelValues("subscriber_full").Inc()
		d.logger.Warn("subscriber channel is full, dropping event",
			zap.String("type", string(ev.Type)))
	}
}

func (d *EventDispatcher) unsubscribe(id subscriberID, types []EventType, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.all, id)
	if sessionID != "" {
		subscribers := d.sessions[sessionID]
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(d.sessions, sessionID)
		}
		return
	}
	for _, t := range types {
		subscribers, ok := d.byType[t]
		if !ok {
			continue
		}
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(d.byType, t)
		}
	}
}
