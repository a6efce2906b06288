package eventloop

import (
	"slices"
	"sync"
)

// EventListenerFunc is a callback registered with [EventTarget].
type EventListenerFunc func(event *Event)

// ListenerID uniquely identifies an event listener for removal purposes, as
// Go function values cannot be compared.
type ListenerID uint64

type listenerEntry struct {
	listener EventListenerFunc
	id       ListenerID
	once     bool // if true, remove after first dispatch
}

// EventTarget provides DOM-style event dispatching.
//
// EventTarget is safe for concurrent use. Listeners are invoked synchronously,
// on the goroutine calling DispatchEvent, without any lock held, so they may
// add or remove listeners.
//
// Usage:
//
//	target := eventloop.NewEventTarget()
//	id := target.AddEventListener("click", func(e *eventloop.Event) {
//	    fmt.Println("Clicked!", e.Type)
//	})
//	target.DispatchEvent(eventloop.NewEvent("click"))
//	target.RemoveEventListenerByID("click", id)
type EventTarget struct {
	listeners      map[string][]listenerEntry
	nextListenerID ListenerID
	mu             sync.RWMutex
}

// Event represents an event dispatched by [EventTarget.DispatchEvent].
// It is not safe for concurrent access.
type Event struct {
	// Detail holds arbitrary data, supplied by the dispatcher.
	Detail any

	// Target is the EventTarget on which the event was dispatched.
	Target *EventTarget

	// Type is the name of the event (e.g. "message", "abort").
	Type string

	// DefaultPrevented is true if PreventDefault() was called on a
	// cancelable event.
	DefaultPrevented bool

	// Cancelable indicates whether PreventDefault has any effect.
	Cancelable bool

	immediatePropagationStopped bool
}

// NewEvent creates a new, non-cancelable Event.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType}
}

// NewEventWithDetail creates a new Event carrying detail.
func NewEventWithDetail(eventType string, detail any) *Event {
	return &Event{Type: eventType, Detail: detail}
}

// NewEventTarget creates a new EventTarget with an empty listener map.
func NewEventTarget() *EventTarget {
	return &EventTarget{
		listeners:      make(map[string][]listenerEntry),
		nextListenerID: 1,
	}
}

// AddEventListener registers a listener for events of the specified type,
// returning an ID for use with [EventTarget.RemoveEventListenerByID]. A nil
// listener is ignored, and returns 0.
func (et *EventTarget) AddEventListener(eventType string, listener EventListenerFunc) ListenerID {
	return et.addListener(eventType, listener, false)
}

// AddEventListenerOnce registers a listener that is removed after the first
// dispatch.
func (et *EventTarget) AddEventListenerOnce(eventType string, listener EventListenerFunc) ListenerID {
	return et.addListener(eventType, listener, true)
}

func (et *EventTarget) addListener(eventType string, listener EventListenerFunc, once bool) ListenerID {
	if listener == nil {
		return 0
	}

	et.mu.Lock()
	defer et.mu.Unlock()

	id := et.nextListenerID
	et.nextListenerID++

	et.listeners[eventType] = append(et.listeners[eventType], listenerEntry{
		id:       id,
		listener: listener,
		once:     once,
	})

	return id
}

// RemoveEventListenerByID removes a listener, returning true if it was found.
func (et *EventTarget) RemoveEventListenerByID(eventType string, id ListenerID) bool {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.removeLocked(eventType, id)
}

func (et *EventTarget) removeLocked(eventType string, id ListenerID) bool {
	entries := et.listeners[eventType]
	i := slices.IndexFunc(entries, func(e listenerEntry) bool { return e.id == id })
	if i < 0 {
		return false
	}
	entries = slices.Delete(slices.Clone(entries), i, i+1)
	if len(entries) == 0 {
		delete(et.listeners, eventType)
	} else {
		et.listeners[eventType] = entries
	}
	return true
}

// DispatchEvent invokes each listener registered for event.Type, in
// registration order. Listeners added during dispatch are not invoked, while
// listeners removed during dispatch are skipped.
//
// Returns false if the event is cancelable, and a listener called
// PreventDefault.
func (et *EventTarget) DispatchEvent(event *Event) bool {
	if event == nil {
		return true
	}

	event.Target = et

	et.mu.RLock()
	entries := slices.Clone(et.listeners[event.Type])
	et.mu.RUnlock()

	for _, entry := range entries {
		if event.immediatePropagationStopped {
			break
		}

		et.mu.Lock()
		live := slices.ContainsFunc(et.listeners[event.Type], func(e listenerEntry) bool { return e.id == entry.id })
		if live && entry.once {
			et.removeLocked(event.Type, entry.id)
		}
		et.mu.Unlock()

		if !live {
			continue
		}

		// panics propagate to the caller
		entry.listener(event)
	}

	return !event.Cancelable || !event.DefaultPrevented
}

// ListenerCount returns the number of listeners for the event type.
func (et *EventTarget) ListenerCount(eventType string) int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[eventType])
}

// PreventDefault marks a cancelable event as having its default action
// canceled.
func (e *Event) PreventDefault() {
	if e.Cancelable {
		e.DefaultPrevented = true
	}
}

// StopImmediatePropagation prevents any further listeners from being called.
func (e *Event) StopImmediatePropagation() {
	e.immediatePropagationStopped = true
}
