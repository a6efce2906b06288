package async

import (
	"context"
	"iter"
	"sync"
)

// AsyncIterator is a pull based source of values. Next returns false once
// exhausted.
type AsyncIterator[T any] interface {
	Next(ctx context.Context) (value T, ok bool, err error)
}

// iterState is the engine view of an Iterator.
type iterState interface {
	// signal wakes any pending Next calls, to re-evaluate the task flags
	signal()
	// stop cancels any in-flight pull, and prevents further pulls
	stop()
}

var iterableEngine = Engine{
	Clear:     func(t *Task) { withIterState(t, iterState.stop) },
	Mute:      func(t *Task) { withIterState(t, iterState.signal) },
	Unmute:    func(t *Task) { withIterState(t, iterState.signal) },
	Suspend:   func(t *Task) { withIterState(t, iterState.signal) },
	Unsuspend: func(t *Task) { withIterState(t, iterState.signal) },
}

func withIterState(t *Task, fn func(iterState)) {
	if s, ok := t.state.(iterState); ok {
		fn(s)
	}
}

type pullResult[T any] struct {
	value T
	err   error
	ok    bool
}

// Iterator is a cancellable adapter of an [AsyncIterator], registered in the
// iterable namespace.
//
//   - Cleared: every pending and future Next call fails with the
//     [*ClearError], and the source is never pulled again.
//   - Suspended: no new pull is started. A value arriving while suspended is
//     held, and delivered after unsuspend.
//   - Muted: pulling continues, but values arriving while muted are
//     discarded.
//
// The task completes once the source is exhausted, or fails.
type Iterator[T any] struct {
	task   *Task
	src    AsyncIterator[T]
	ctx    context.Context
	cancel context.CancelFunc
	// closes the source, if it needs it
	close func()

	wake    chan struct{}
	pending chan pullResult[T]
	held    *pullResult[T]
	err     error

	mu   sync.Mutex
	done bool
}

// Iterable registers src, returning the tracking iterator.
func Iterable[T any](c *Controller, src AsyncIterator[T], opts ...TaskOption) (*Iterator[T], error) {
	return newIterator(c, src, nil, opts)
}

// IterableSeq registers a sync iterator, see [Iterable]. The sequence is
// stopped once the iterator is cleared or exhausted.
func IterableSeq[T any](c *Controller, seq iter.Seq[T], opts ...TaskOption) (*Iterator[T], error) {
	if seq == nil {
		return nil, ErrNilCallback
	}
	next, stop := iter.Pull(seq)
	src := &seqIterator[T]{next: next, stop: stop}
	it, err := newIterator[T](c, src, src.close, opts)
	// joined an existing iterator
	if err != nil || it.src != AsyncIterator[T](src) {
		src.close()
	}
	return it, err
}

func newIterator[T any](c *Controller, src AsyncIterator[T], closeSrc func(), opts []TaskOption) (*Iterator[T], error) {
	if src == nil {
		return nil, ErrNilCallback
	}

	ctx, cancel := context.WithCancel(context.Background())
	it := &Iterator[T]{
		src:    src,
		ctx:    ctx,
		cancel: cancel,
		close:  closeSrc,
		wake:   make(chan struct{}),
	}

	cfg := resolveTaskOptions(opts)
	cfg.joinable = func(t *Task) bool {
		_, ok := t.handle.(*Iterator[T])
		return ok
	}

	t, merged, err := c.register(NamespaceIterable, cfg, func(t *Task) {
		it.task = t
		t.state = it
		t.handle = it
		t.finalizers = append(t.finalizers, it.finalize)
	})
	if err != nil || merged {
		cancel()
	}
	if err != nil {
		return nil, err
	}
	if merged {
		if existing, ok := t.handle.(*Iterator[T]); ok {
			return existing, nil
		}
		return nil, ErrTypeMismatch
	}

	return it, nil
}

// Task returns the task tracking the iterator.
func (it *Iterator[T]) Task() *Task { return it.task }

// Next returns the next value, false if the source is exhausted, or the
// error that ended iteration. Next blocks until a value is available, or ctx
// is done. Cancelling ctx does not cancel any in-flight pull, the result of
// which is used by the next call.
func (it *Iterator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for {
		// captured before reading the flags, so no change is missed
		it.mu.Lock()
		wake := it.wake
		it.mu.Unlock()

		suspended := it.task.Suspended()

		it.mu.Lock()
		if it.err != nil {
			err := it.err
			it.mu.Unlock()
			return zero, false, err
		}
		if it.done {
			it.mu.Unlock()
			return zero, false, nil
		}
		if !suspended && it.held != nil {
			r := it.held
			it.held = nil
			it.mu.Unlock()
			return r.value, true, nil
		}
		if !suspended && it.pending == nil {
			it.pending = it.pull()
		}
		pending := it.pending
		it.mu.Unlock()

		select {
		case r := <-pending:
			if value, ok, err, deliver := it.receive(pending, r); deliver {
				return value, ok, err
			}
		case <-wake:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}
}

// All returns an iterator over the remaining values, ending with a non-nil
// error, if iteration fails.
func (it *Iterator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			value, ok, err := it.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(value, nil) {
				return
			}
		}
	}
}

func (it *Iterator[T]) pull() chan pullResult[T] {
	ch := make(chan pullResult[T], 1)
	go func() {
		var r pullResult[T]
		if perr := catch(func() { r.value, r.ok, r.err = it.src.Next(it.ctx) }); perr != nil {
			r = pullResult[T]{err: perr}
			it.task.ctrl.fault(it.task, perr)
		}
		ch <- r
	}()
	return ch
}

// receive handles the result of a pull, returning deliver true if Next
// should return.
func (it *Iterator[T]) receive(pending chan pullResult[T], r pullResult[T]) (value T, ok bool, err error, deliver bool) {
	c := it.task.ctrl
	c.mu.Lock()
	muted, suspended := it.task.mutedLocked(), it.task.suspendedLocked()
	// cancelling the pull races the finalizer
	cerr := it.task.clearErr
	c.mu.Unlock()

	it.mu.Lock()
	if it.pending == pending {
		it.pending = nil
	}
	if cerr != nil && it.err == nil && !it.done {
		it.err = cerr
	}
	if it.err != nil || it.done {
		it.mu.Unlock()
		return value, false, nil, false
	}

	switch {
	case r.err != nil:
		it.err = r.err
	case !r.ok:
		it.done = true
	case muted:
		it.mu.Unlock()
		return value, false, nil, false
	case suspended:
		it.held = &r
		it.mu.Unlock()
		return value, false, nil, false
	default:
		it.mu.Unlock()
		// wake any concurrent callers, waiting on the consumed pull
		it.signal()
		return r.value, true, nil, true
	}
	it.mu.Unlock()

	it.signal()
	c.complete(it.task)

	return value, false, r.err, true
}

func (it *Iterator[T]) signal() {
	it.mu.Lock()
	close(it.wake)
	it.wake = make(chan struct{})
	it.mu.Unlock()
}

func (it *Iterator[T]) stop() {
	it.cancel()
}

// finalize ends iteration, on clear or completion.
func (it *Iterator[T]) finalize(cerr *ClearError) {
	it.mu.Lock()
	if cerr != nil && it.err == nil && !it.done {
		it.err = cerr
	}
	it.held = nil
	it.mu.Unlock()

	it.cancel()
	it.signal()

	if it.close != nil {
		// may block until an in-flight pull returns
		go it.close()
	}
}

// seqIterator adapts a pull func from [iter.Pull].
type seqIterator[T any] struct {
	next func() (T, bool)
	stop func()
	mu   sync.Mutex
}

func (s *seqIterator[T]) Next(ctx context.Context) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, false, err
	}
	value, ok := s.next()
	return value, ok, nil
}

func (s *seqIterator[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
}
