package async

import (
	"sync/atomic"

	"github.com/joeycumines/go-async/eventloop"
)

// EventEmitter is a host event source, satisfied by
// [*eventloop.EventTarget].
type EventEmitter interface {
	AddEventListener(eventType string, listener eventloop.EventListenerFunc) eventloop.ListenerID
	RemoveEventListenerByID(eventType string, id eventloop.ListenerID) bool
}

type listenerState struct {
	target EventEmitter
	event  string
	id     atomic.Uint64
}

func (s *listenerState) remove() {
	if id := s.id.Load(); id != 0 {
		s.target.RemoveEventListenerByID(s.event, eventloop.ListenerID(id))
	}
}

var (
	listenerEngine = Engine{
		Clear:     clearListener,
		Mute:      nop,
		Unmute:    nop,
		Suspend:   nop,
		Unsuspend: func(t *Task) { t.ctrl.flush(t) },
	}

	promisifiedListenerEngine = Engine{
		Clear: clearListener,
	}
)

func clearListener(t *Task) {
	if s, ok := t.state.(*listenerState); ok {
		s.remove()
	}
}

// registerListener registers an event listener task. Completion removes the
// listener, as does clearing it.
func (c *Controller) registerListener(
	ns Namespace,
	target EventEmitter,
	event string,
	cfg *taskConfig,
	single bool,
	init func(t *Task),
	fn func(e *eventloop.Event),
) (*Task, bool, error) {
	if target == nil || fn == nil {
		return nil, false, ErrNilCallback
	}

	state := &listenerState{target: target, event: event}
	t, merged, err := c.register(ns, cfg, func(t *Task) {
		t.state = state
		t.single = single
		t.finalizers = append(t.finalizers, func(cerr *ClearError) {
			if cerr == nil {
				state.remove()
			}
		})
		if init != nil {
			init(t)
		}
	})
	if err != nil || merged {
		return t, merged, err
	}

	id := target.AddEventListener(event, func(e *eventloop.Event) {
		c.fire(t, single, func() { fn(e) })
	})
	state.id.Store(uint64(id))

	// cleared or completed before the id was stored
	if t.isUnregistered() {
		state.remove()
	}

	return t, false, nil
}

// AddEventListener registers fn as a listener of event, on target. Events
// dispatched while muted are dropped, while those dispatched while suspended
// are replayed on unsuspend, on the loop.
//
// The listener is kept until cleared, unless [Single] is set.
func (c *Controller) AddEventListener(target EventEmitter, event string, fn eventloop.EventListenerFunc, opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	cfg := resolveTaskOptions(opts)
	t, _, err := c.registerListener(NamespaceEventListener, target, event, cfg, cfg.singleOr(false), nil, fn)
	return t, err
}

// PromisifyOnce returns a future resolved with the next event dispatched on
// target.
func (c *Controller) PromisifyOnce(target EventEmitter, event string, opts ...TaskOption) (*Future[*eventloop.Event], error) {
	cfg := resolveTaskOptions(opts)
	cfg.joinable = joinableFuture[*eventloop.Event]

	var f *Future[*eventloop.Event]
	t, merged, err := c.registerListener(NamespaceEventListenerPromise, target, event, cfg, true,
		func(t *Task) { f = newFuture[*eventloop.Event](t) },
		func(e *eventloop.Event) { f.settle(e, nil) },
	)
	if err != nil {
		return nil, err
	}
	if merged {
		return joinedFuture[*eventloop.Event](t)
	}
	return f, nil
}
