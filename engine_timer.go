package async

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-async/eventloop"
)

// timerState is the engine state of timer-like tasks.
type timerState struct {
	// native id, stored once scheduled
	id atomic.Uint64
}

var (
	timerEngine = Engine{
		Clear:     clearTimer,
		Mute:      nop,
		Unmute:    nop,
		Suspend:   nop,
		Unsuspend: func(t *Task) { t.ctrl.flush(t) },
	}

	promisifiedTimerEngine = Engine{
		Clear: clearTimer,
	}
)

func clearTimer(t *Task) {
	if s, ok := t.state.(*timerState); ok {
		if id := s.id.Load(); id != 0 {
			t.ctrl.cancelTimer(t.namespace, eventloop.TimerID(id))
		}
	}
}

// cancelTimer calls the native cancel for ns. Timers that have already fired
// are ignored.
func (c *Controller) cancelTimer(ns Namespace, id eventloop.TimerID) {
	switch ns {
	case NamespaceTimeout, NamespaceTimeoutPromise:
		_ = c.loop.ClearTimeout(id)
	case NamespaceInterval:
		_ = c.loop.ClearInterval(id)
	case NamespaceImmediate, NamespaceImmediatePromise:
		_ = c.loop.ClearImmediate(id)
	case NamespaceIdleCallback, NamespaceIdleCallbackPromise:
		_ = c.loop.CancelIdleCallback(id)
	case NamespaceAnimationFrame, NamespaceAnimationFramePromise:
		_ = c.loop.CancelAnimationFrame(id)
	}
}

// registerTimer registers a timer-like task, then schedules it. The schedule
// func receives the task, which must be passed to fire.
func (c *Controller) registerTimer(
	ns Namespace,
	cfg *taskConfig,
	single bool,
	init func(t *Task),
	schedule func(t *Task) (eventloop.TimerID, error),
) (*Task, bool, error) {
	state := new(timerState)
	t, merged, err := c.register(ns, cfg, func(t *Task) {
		t.state = state
		t.single = single
		if init != nil {
			init(t)
		}
	})
	if err != nil || merged {
		return t, merged, err
	}

	id, err := schedule(t)
	if err != nil {
		c.discard(t)
		return nil, false, err
	}

	state.id.Store(uint64(id))
	// cleared before the id was stored
	if t.isUnregistered() {
		c.cancelTimer(ns, id)
	}

	return t, false, nil
}

// SetTimeout registers fn to run once, after d.
func (c *Controller) SetTimeout(fn func(), d time.Duration, opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	t, _, err := c.registerTimer(NamespaceTimeout, resolveTaskOptions(opts), true, nil, func(t *Task) (eventloop.TimerID, error) {
		return c.loop.SetTimeout(func() { c.fire(t, true, fn) }, d)
	})
	return t, err
}

// SetInterval registers fn to run every d, until cleared.
func (c *Controller) SetInterval(fn func(), d time.Duration, opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	t, _, err := c.registerTimer(NamespaceInterval, resolveTaskOptions(opts), false, nil, func(t *Task) (eventloop.TimerID, error) {
		return c.loop.SetInterval(func() { c.fire(t, false, fn) }, d)
	})
	return t, err
}

// SetImmediate registers fn to run on the next iteration of the loop.
func (c *Controller) SetImmediate(fn func(), opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	t, _, err := c.registerTimer(NamespaceImmediate, resolveTaskOptions(opts), true, nil, func(t *Task) (eventloop.TimerID, error) {
		return c.loop.SetImmediate(func() { c.fire(t, true, fn) })
	})
	return t, err
}

// RequestIdleCallback registers fn to run once the loop is idle, see
// [IdleTimeout].
func (c *Controller) RequestIdleCallback(fn func(eventloop.IdleDeadline), opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	cfg := resolveTaskOptions(opts)
	t, _, err := c.registerTimer(NamespaceIdleCallback, cfg, true, nil, func(t *Task) (eventloop.TimerID, error) {
		return c.loop.RequestIdleCallback(func(d eventloop.IdleDeadline) {
			c.fire(t, true, func() { fn(d) })
		}, cfg.idleTimeout)
	})
	return t, err
}

// RequestAnimationFrame registers fn to run on the next frame.
func (c *Controller) RequestAnimationFrame(fn func(time.Time), opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	t, _, err := c.registerTimer(NamespaceAnimationFrame, resolveTaskOptions(opts), true, nil, func(t *Task) (eventloop.TimerID, error) {
		return c.loop.RequestAnimationFrame(func(ts time.Time) {
			c.fire(t, true, func() { fn(ts) })
		})
	})
	return t, err
}

// promisifyTimer registers a promisified timer-like task, resolved by the
// value passed to resolve.
func promisifyTimer[T any](
	c *Controller,
	ns Namespace,
	opts []TaskOption,
	schedule func(resolve func(T)) (eventloop.TimerID, error),
) (*Future[T], error) {
	cfg := resolveTaskOptions(opts)
	cfg.joinable = joinableFuture[T]

	var f *Future[T]
	t, merged, err := c.registerTimer(ns, cfg, true,
		func(t *Task) { f = newFuture[T](t) },
		func(t *Task) (eventloop.TimerID, error) {
			return schedule(func(v T) {
				c.fire(t, true, func() { f.settle(v, nil) })
			})
		},
	)
	if err != nil {
		return nil, err
	}
	if merged {
		return joinedFuture[T](t)
	}
	return f, nil
}

// Sleep returns a future resolved after d.
func (c *Controller) Sleep(d time.Duration, opts ...TaskOption) (*Future[struct{}], error) {
	return promisifyTimer(c, NamespaceTimeoutPromise, opts, func(resolve func(struct{})) (eventloop.TimerID, error) {
		return c.loop.SetTimeout(func() { resolve(struct{}{}) }, d)
	})
}

// NextTick returns a future resolved on the next iteration of the loop.
func (c *Controller) NextTick(opts ...TaskOption) (*Future[struct{}], error) {
	return promisifyTimer(c, NamespaceImmediatePromise, opts, func(resolve func(struct{})) (eventloop.TimerID, error) {
		return c.loop.SetImmediate(func() { resolve(struct{}{}) })
	})
}

// Idle returns a future resolved once the loop is idle, see [IdleTimeout].
func (c *Controller) Idle(opts ...TaskOption) (*Future[eventloop.IdleDeadline], error) {
	timeout := resolveTaskOptions(opts).idleTimeout
	return promisifyTimer(c, NamespaceIdleCallbackPromise, opts, func(resolve func(eventloop.IdleDeadline)) (eventloop.TimerID, error) {
		return c.loop.RequestIdleCallback(resolve, timeout)
	})
}

// AnimationFrame returns a future resolved with the timestamp of the next
// frame.
func (c *Controller) AnimationFrame(opts ...TaskOption) (*Future[time.Time], error) {
	return promisifyTimer(c, NamespaceAnimationFramePromise, opts, func(resolve func(time.Time)) (eventloop.TimerID, error) {
		return c.loop.RequestAnimationFrame(resolve)
	})
}
