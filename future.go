package async

import (
	"context"
	"sync"
)

// Future is the eventual result of a promise, or promisified timer or
// listener. It is rejected with a [*ClearError] if its task is cleared.
type Future[T any] struct {
	task  *Task
	done  chan struct{}
	value T
	err   error
	once  sync.Once
}

// newFuture binds a future to t, rejecting it if t is cleared. It must be
// called before t is visible, e.g. from a register init func.
func newFuture[T any](t *Task) *Future[T] {
	f := &Future[T]{
		task: t,
		done: make(chan struct{}),
	}
	t.handle = f
	t.finalizers = append(t.finalizers, func(cerr *ClearError) {
		if cerr != nil {
			var zero T
			f.settle(zero, cerr)
		}
	})
	return f
}

// joinedFuture returns the future of an existing task, that a registration
// was joined with.
func joinedFuture[T any](t *Task) (*Future[T], error) {
	if f, ok := t.handle.(*Future[T]); ok {
		return f, nil
	}
	return nil, ErrTypeMismatch
}

// joinableFuture reports if t tracks a [Future] of T.
func joinableFuture[T any](t *Task) bool {
	_, ok := t.handle.(*Future[T])
	return ok
}

// settle resolves or rejects the future, returning false if it had already
// settled.
func (f *Future[T]) settle(value T, err error) (ok bool) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		ok = true
	})
	return ok
}

// Task returns the task tracking the future.
func (f *Future[T]) Task() *Task { return f.task }

// Done returns a channel that is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result returns the settled value and error, or [ErrPending] if the future
// has yet to settle.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		var zero T
		return zero, ErrPending
	}
}

// Wait blocks until the future settles, or ctx is done.
//
// WARNING: Waiting on the loop goroutine will deadlock, if the future is
// settled by the loop.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
