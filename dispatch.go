package async

import (
	"fmt"
)

// Clear clears the tasks of a namespace matching target. Each cleared task
// has its native operation cancelled, and its [OnClear] hooks called, with a
// reason derived from target. Clearing an already cleared task is a no-op.
func (c *Controller) Clear(ns Namespace, target Target) error {
	return c.apply(opClear, ns, target)
}

// Mute mutes the tasks of a namespace matching target. Muted tasks continue
// to be scheduled, but their callbacks are dropped. A filter matching all
// tasks also mutes tasks registered later, until unmuted.
func (c *Controller) Mute(ns Namespace, target Target) error {
	return c.apply(opMute, ns, target)
}

// Unmute reverses [Controller.Mute]. A namespace muted by a filter matching
// all tasks stays muted, and takes precedence over the per-task flag, until
// unmuted with a filter matching all tasks.
func (c *Controller) Unmute(ns Namespace, target Target) error {
	return c.apply(opUnmute, ns, target)
}

// Suspend suspends the tasks of a namespace matching target. The effect
// depends on the namespace, e.g. timer callbacks are buffered, proxy calls
// are dropped, and iterables stop pulling. A filter matching all tasks also
// suspends tasks registered later, until unsuspended.
func (c *Controller) Suspend(ns Namespace, target Target) error {
	return c.apply(opSuspend, ns, target)
}

// Unsuspend reverses [Controller.Suspend], replaying any buffered
// invocations, in order. As with [Controller.Unmute], a namespace-wide
// suspend takes precedence over the per-task flag, until lifted by a filter
// matching all tasks.
func (c *Controller) Unsuspend(ns Namespace, target Target) error {
	return c.apply(opUnsuspend, ns, target)
}

// ClearAll clears matching tasks, across every namespace in use.
//
// Returns [*MissingHandlerError] without clearing anything if any
// non-promisified namespace in use lacks a clear handler.
func (c *Controller) ClearAll(f Filter) error { return c.bulk(opClear, f) }

// MuteAll mutes matching tasks, across every namespace in use.
func (c *Controller) MuteAll(f Filter) error { return c.bulk(opMute, f) }

// UnmuteAll unmutes matching tasks, across every namespace in use.
func (c *Controller) UnmuteAll(f Filter) error { return c.bulk(opUnmute, f) }

// SuspendAll suspends matching tasks, across every namespace in use.
func (c *Controller) SuspendAll(f Filter) error { return c.bulk(opSuspend, f) }

// UnsuspendAll unsuspends matching tasks, across every namespace in use.
func (c *Controller) UnsuspendAll(f Filter) error { return c.bulk(opUnsuspend, f) }

// ClearTimeout clears matching timeouts.
func (c *Controller) ClearTimeout(target Target) error { return c.Clear(NamespaceTimeout, target) }

// ClearInterval clears matching intervals.
func (c *Controller) ClearInterval(target Target) error { return c.Clear(NamespaceInterval, target) }

// ClearImmediate clears matching immediates.
func (c *Controller) ClearImmediate(target Target) error { return c.Clear(NamespaceImmediate, target) }

// CancelIdleCallback clears matching idle callbacks.
func (c *Controller) CancelIdleCallback(target Target) error {
	return c.Clear(NamespaceIdleCallback, target)
}

// CancelAnimationFrame clears matching animation frame callbacks.
func (c *Controller) CancelAnimationFrame(target Target) error {
	return c.Clear(NamespaceAnimationFrame, target)
}

// RemoveEventListener clears matching listeners, removing them from their
// targets.
func (c *Controller) RemoveEventListener(target Target) error {
	return c.Clear(NamespaceEventListener, target)
}

// TerminateWorker destroys matching workers. Destruction happens at most
// once per resource, across every controller sharing the [WorkerRegistry].
func (c *Controller) TerminateWorker(target Target) error { return c.Clear(NamespaceWorker, target) }

// ClearProxy clears matching proxies. Calls to a cleared proxy are dropped.
func (c *Controller) ClearProxy(target Target) error { return c.Clear(NamespaceProxy, target) }

// CancelIterable clears matching iterables, rejecting any pending or future
// [Iterator.Next] calls.
func (c *Controller) CancelIterable(target Target) error { return c.Clear(NamespaceIterable, target) }

// CancelPromise clears matching promises, cancelling the context passed to
// their functions, and rejecting their futures.
func (c *Controller) CancelPromise(target Target) error { return c.Clear(NamespacePromise, target) }

func (c *Controller) apply(o op, ns Namespace, target Target) error {
	if !ns.valid() {
		return fmt.Errorf("async: invalid namespace: %d", ns)
	}
	h := c.engines[ns].handler(o)
	if h == nil {
		if ns.Promisified() {
			return nil
		}
		return &MissingHandlerError{Op: opName(o, ns), Namespace: ns}
	}
	c.dispatch(o, ns, target, h)
	return nil
}

func (c *Controller) bulk(o op, f Filter) error {
	c.mu.Lock()
	used := c.usedLocked()
	c.mu.Unlock()

	targets := used[:0]
	for _, ns := range used {
		if c.engines[ns].handler(o) == nil {
			if ns.Promisified() {
				continue
			}
			return &MissingHandlerError{Op: opName(o, ns), Namespace: ns}
		}
		targets = append(targets, ns)
	}

	for _, ns := range targets {
		c.dispatch(o, ns, f, c.engines[ns].handler(o))
	}

	return nil
}

type match struct {
	task   *Task
	reason Reason
}

// dispatch applies o to every task in ns matching target, in registration
// order.
func (c *Controller) dispatch(o op, ns Namespace, target Target, h func(*Task)) {
	c.mu.Lock()

	var matches []match
	switch v := target.(type) {
	case *Task:
		if v != nil && v.ctrl == c && v.namespace == ns && !v.unregistered {
			matches = append(matches, match{v, ReasonID})
		}
	case Filter:
		matches = c.matchLocked(o, ns, v)
	case nil:
		matches = c.matchLocked(o, ns, Filter{})
	}

	if o != opClear {
		for _, m := range matches {
			switch o {
			case opMute:
				m.task.muted = true
			case opUnmute:
				m.task.muted = false
			case opSuspend:
				m.task.suspended = true
			case opUnsuspend:
				m.task.suspended = false
			}
		}
	}

	c.mu.Unlock()

	for _, m := range matches {
		if o == opClear {
			c.clearTask(m.task, m.reason)
		} else {
			c.runHook(m.task, func() { h(m.task) })
		}
	}
}

func (c *Controller) matchLocked(o op, ns Namespace, f Filter) []match {
	r := c.registries[ns]

	if f.all() && o != opClear {
		if r == nil {
			r = c.registryLocked(ns)
		}
		switch o {
		case opMute:
			r.muted = true
		case opUnmute:
			r.muted = false
		case opSuspend:
			r.suspended = true
		case opUnsuspend:
			r.suspended = false
		}
	}

	if r == nil {
		return nil
	}

	var matches []match
	for _, t := range r.tasks() {
		if reason, ok := f.match(t); ok {
			matches = append(matches, match{t, reason})
		}
	}
	return matches
}

// clearEverything clears every task, regardless of the configured engines.
func (c *Controller) clearEverything() {
	c.mu.Lock()
	var tasks []*Task
	for _, ns := range c.usedLocked() {
		tasks = append(tasks, c.registries[ns].tasks()...)
	}
	c.mu.Unlock()

	for _, t := range tasks {
		c.clearTask(t, ReasonAll)
	}
}
