// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"math/bits"
	"sync"

	"github.com/joeycumines/go-async/eventloop"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Engine is the dispatch table of a namespace. Each handler applies an
// operation to a single matched task, after the controller has updated the
// task's flags.
//
// The Clear handler performs the native cancel, and is skipped for tasks
// registered using [WithClear]. A nil handler is a configuration error,
// reported as [*MissingHandlerError], unless the namespace is
// [Namespace.Promisified], in which case the operation is skipped.
type Engine struct {
	Clear     func(t *Task)
	Mute      func(t *Task)
	Unmute    func(t *Task)
	Suspend   func(t *Task)
	Unsuspend func(t *Task)
}

func (e *Engine) handler(o op) func(*Task) {
	switch o {
	case opClear:
		return e.Clear
	case opMute:
		return e.Mute
	case opUnmute:
		return e.Unmute
	case opSuspend:
		return e.Suspend
	case opUnsuspend:
		return e.Unsuspend
	default:
		return nil
	}
}

func nop(*Task) {}

func defaultEngines() [namespaceCount]Engine {
	return [namespaceCount]Engine{
		NamespaceTimeout:               timerEngine,
		NamespaceTimeoutPromise:        promisifiedTimerEngine,
		NamespaceInterval:              timerEngine,
		NamespaceImmediate:             timerEngine,
		NamespaceImmediatePromise:      promisifiedTimerEngine,
		NamespaceIdleCallback:          timerEngine,
		NamespaceIdleCallbackPromise:   promisifiedTimerEngine,
		NamespaceAnimationFrame:        timerEngine,
		NamespaceAnimationFramePromise: promisifiedTimerEngine,
		NamespaceEventListener:         listenerEngine,
		NamespaceEventListenerPromise:  promisifiedListenerEngine,
		NamespaceWorker:                workerEngine,
		NamespaceProxy:                 proxyEngine,
		NamespaceIterable:              iterableEngine,
		NamespacePromise:               promiseEngine,
	}
}

// Controller tracks pending asynchronous operations, scheduled on an
// [eventloop.Loop], allowing them to be cleared, muted, or suspended, in bulk,
// by identity, group, label, or group pattern.
//
// Controller methods are safe to call from any goroutine. Hooks and callbacks
// are never called with internal locks held, and may call back into the
// controller.
type Controller struct {
	// Prevent copying
	_ [0]func()

	loop    *eventloop.Loop
	logger  *logiface.Logger[logiface.Event]
	faults  *catrate.Limiter
	workers *WorkerRegistry

	// live worker tasks, by resource identity
	workerTasks map[any]*Task

	registries [namespaceCount]*registry
	engines    [namespaceCount]Engine

	nextID uint64

	mu sync.Mutex

	// bitset of namespaces with a registry
	used uint32

	closed bool
}

// New creates a new Controller, scheduling work on loop.
func New(loop *eventloop.Loop, opts ...Option) (*Controller, error) {
	if loop == nil {
		return nil, ErrNilLoop
	}

	options, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Controller{
		loop:        loop,
		logger:      options.logger,
		faults:      options.faults,
		workers:     options.workers,
		engines:     options.engines,
		workerTasks: make(map[any]*Task),
	}, nil
}

// Loop returns the loop the controller schedules work on.
func (c *Controller) Loop() *eventloop.Loop {
	return c.loop
}

// Close clears every task, then releases all state. Subsequent registrations
// fail with [ErrClosed]. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.clearEverything()

	c.mu.Lock()
	c.registries = [namespaceCount]*registry{}
	c.used = 0
	clear(c.workerTasks)
	c.mu.Unlock()

	return nil
}

// Len returns the number of live tasks in the namespace.
func (c *Controller) Len(ns Namespace) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ns.valid() || c.registries[ns] == nil {
		return 0
	}
	return c.registries[ns].len()
}

// registryLocked returns the registry for ns, marking it as used.
func (c *Controller) registryLocked(ns Namespace) *registry {
	r := c.registries[ns]
	if r == nil {
		r = newRegistry()
		c.registries[ns] = r
		c.used |= ns.bit()
	}
	return r
}

// usedLocked returns the used namespaces, in catalogue order.
func (c *Controller) usedLocked() []Namespace {
	var out []Namespace
	for used := c.used; used != 0; used &= used - 1 {
		out = append(out, Namespace(bits.TrailingZeros32(used)))
	}
	return out
}

// register creates and stores a new task, after resolving any label
// collision. If the registration joined an existing task, that task is
// returned with merged set, and nothing should be scheduled. A join rejected
// by cfg.joinable fails with ErrTypeMismatch, before any OnMerge hooks.
//
// The init func (if any) is called with the lock held, before the task is
// stored, and must not call the controller.
func (c *Controller) register(ns Namespace, cfg *taskConfig, init func(t *Task)) (t *Task, merged bool, err error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, false, ErrClosed
		}

		r := c.registryLocked(ns)

		existing := r.byLabel(cfg.label)
		if existing == nil {
			c.nextID++
			t = &Task{
				ctrl:       c,
				done:       make(chan struct{}),
				id:         c.nextID,
				namespace:  ns,
				group:      cfg.group,
				label:      cfg.label,
				onClear:    cfg.onClear,
				onComplete: cfg.onComplete,
				onError:    cfg.onError,
				clear:      cfg.clear,
			}
			if init != nil {
				init(t)
			}
			r.add(t)
			c.mu.Unlock()
			c.logTask(c.logger.Debug(), t).Log("async: registered")
			return t, false, nil
		}

		c.mu.Unlock()

		if cfg.join == JoinTrue {
			if cfg.joinable != nil && !cfg.joinable(existing) {
				return nil, false, ErrTypeMismatch
			}
			c.logTask(c.logger.Debug(), existing).Log("async: merged")
			for _, fn := range cfg.onMerge {
				c.runHook(existing, func() { fn(existing) })
			}
			return existing, true, nil
		}

		c.clearTask(existing, ReasonCollision)
	}
}

// discard removes a task that failed to schedule, without calling hooks.
func (c *Controller) discard(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.unregistered {
		return
	}
	t.unregistered = true
	c.unregisterLocked(t)
}

func (c *Controller) unregisterLocked(t *Task) {
	if r := c.registries[t.namespace]; r != nil {
		r.removeByID(t.id)
	}
	t.queue = nil
	close(t.done)
}

// clearTask clears t, if it is live. The native cancel (or WithClear
// override) runs first, then any finalizers, then the OnClear hooks, after
// which t is removed from its registry.
func (c *Controller) clearTask(t *Task, reason Reason) {
	c.mu.Lock()
	if t.unregistered {
		c.mu.Unlock()
		return
	}
	t.unregistered = true
	t.queue = nil
	cerr := &ClearError{Type: ClearErrorType, Reason: reason, Namespace: t.namespace}
	t.clearErr = cerr
	native := c.engines[t.namespace].Clear
	override := t.clear
	finalizers := t.finalizers
	hooks := t.onClear
	c.mu.Unlock()

	c.logTask(c.logger.Debug(), t).
		Str("reason", string(reason)).
		Log("async: cleared")

	if override != nil {
		var err error
		if perr := catch(func() { err = override() }); perr != nil {
			err = perr
		}
		if err != nil {
			c.logTask(c.logger.Err(), t).Err(err).Log("async: clear override failed")
		}
	} else if native != nil {
		c.runHook(t, func() { native(t) })
	}

	for _, fn := range finalizers {
		fn(cerr)
	}

	for _, fn := range hooks {
		c.runHook(t, func() { fn(cerr) })
	}

	c.mu.Lock()
	c.unregisterLocked(t)
	c.mu.Unlock()
}

// complete unregisters t, following natural completion, calling any
// OnComplete hooks.
func (c *Controller) complete(t *Task) {
	c.mu.Lock()
	if t.unregistered {
		c.mu.Unlock()
		return
	}
	t.unregistered = true
	finalizers := t.finalizers
	hooks := t.onComplete
	c.mu.Unlock()

	c.logTask(c.logger.Trace(), t).Log("async: completed")

	for _, fn := range finalizers {
		fn(nil)
	}

	for _, fn := range hooks {
		c.runHook(t, fn)
	}

	c.mu.Lock()
	c.unregisterLocked(t)
	c.mu.Unlock()
}

// fire runs fn on behalf of t, honouring mute and suspend, completing t
// afterwards if single is set. Invocations taken while suspended are
// buffered until unsuspended.
func (c *Controller) fire(t *Task, single bool, fn func()) {
	c.mu.Lock()
	if t.unregistered || t.consumed {
		c.mu.Unlock()
		return
	}
	if t.suspendedLocked() {
		t.queue = append(t.queue, fn)
		c.mu.Unlock()
		return
	}
	muted := t.mutedLocked()
	if single {
		t.consumed = true
	}
	c.mu.Unlock()

	if !muted {
		c.invoke(t, fn)
	}

	if single {
		c.complete(t)
	}
}

// flush replays invocations buffered while t was suspended, in order, on the
// loop.
func (c *Controller) flush(t *Task) {
	c.mu.Lock()
	queue := t.queue
	t.queue = nil
	single := t.single
	c.mu.Unlock()

	for _, fn := range queue {
		task := func() { c.fire(t, single, fn) }
		if err := c.loop.Submit(task); err != nil {
			task()
		}
	}
}

// invoke runs a user callback, recovering any panic as a fault of t.
func (c *Controller) invoke(t *Task, fn func()) {
	if err := catch(fn); err != nil {
		c.fault(t, err)
	}
}

// runHook runs a hook, logging any panic. Hooks are not subject to OnError.
func (c *Controller) runHook(t *Task, fn func()) {
	if err := catch(fn); err != nil {
		c.logFault(t, err, "async: hook panicked")
	}
}

// fault delivers a callback fault to the OnError hooks of t, and logs it.
func (c *Controller) fault(t *Task, err error) {
	c.mu.Lock()
	hooks := t.onError
	c.mu.Unlock()

	for _, fn := range hooks {
		c.runHook(t, func() { fn(err) })
	}

	c.logFault(t, err, "async: callback panicked")
}
