package async

import (
	"context"
)

type promiseState struct {
	cancel context.CancelFunc
}

// promiseEngine cancels the context on clear, and delivers any settlement
// held while suspended, on unsuspend. Mute has no effect.
var promiseEngine = Engine{
	Clear: func(t *Task) {
		if s, ok := t.state.(*promiseState); ok {
			s.cancel()
		}
	},
	Mute:      nop,
	Unmute:    nop,
	Suspend:   nop,
	Unsuspend: func(t *Task) { t.ctrl.flush(t) },
}

// Promise runs fn on a new goroutine, settling the returned future with its
// result, on the loop. The context passed to fn is cancelled if the task is
// cleared, in which case the future is rejected with a [*ClearError].
//
// While suspended, the settlement is held, and delivered on unsuspend. A
// panic within fn rejects the future with a [*PanicError].
func Promise[T any](c *Controller, fn func(ctx context.Context) (T, error), opts ...TaskOption) (*Future[T], error) {
	if fn == nil {
		return nil, ErrNilCallback
	}

	ctx, cancel := context.WithCancel(context.Background())

	var f *Future[T]
	cfg := resolveTaskOptions(opts)
	cfg.joinable = joinableFuture[T]

	t, merged, err := c.register(NamespacePromise, cfg, func(t *Task) {
		t.state = &promiseState{cancel: cancel}
		t.single = true
		f = newFuture[T](t)
		t.finalizers = append(t.finalizers, func(*ClearError) { cancel() })
	})
	if err != nil || merged {
		cancel()
	}
	if err != nil {
		return nil, err
	}
	if merged {
		return joinedFuture[T](t)
	}

	go func() {
		var (
			value T
			err   error
		)
		if perr := catch(func() { value, err = fn(ctx) }); perr != nil {
			err = perr
			c.fault(t, perr)
		}

		// single owner resolution: settled on the loop, or directly if the
		// loop has terminated
		deliver := func() {
			c.fire(t, true, func() { f.settle(value, err) })
		}
		if c.loop.Submit(deliver) != nil {
			deliver()
		}
	}()

	return f, nil
}
