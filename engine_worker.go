package async

import (
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
)

// Destructor adapts a func as a worker, see [Controller.Worker]. Funcs are
// not comparable, so the identity of a Destructor is its pointer.
type Destructor struct {
	fn func()
}

// NewDestructor returns a new worker, calling fn when destroyed.
func NewDestructor(fn func()) *Destructor {
	return &Destructor{fn: fn}
}

func (d *Destructor) destroy() error {
	if d.fn != nil {
		d.fn()
	}
	return nil
}

// WorkerRegistry tracks worker resources shared between controllers,
// ensuring each resource is destroyed at most once, regardless of how many
// controllers registered it. Entries are released once no controller holds
// the resource.
type WorkerRegistry struct {
	entries map[any]*workerEntry
	mu      sync.Mutex
}

type workerEntry struct {
	destroy   func() error
	refs      int
	destroyed atomic.Bool
}

var defaultWorkerRegistry = NewWorkerRegistry()

// NewWorkerRegistry returns an empty registry, for use with
// [WithWorkerRegistry].
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{entries: make(map[any]*workerEntry)}
}

// DefaultWorkerRegistry returns the process-wide registry, used by default.
func DefaultWorkerRegistry() *WorkerRegistry {
	return defaultWorkerRegistry
}

// Len returns the number of resources held by at least one controller.
func (r *WorkerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *WorkerRegistry) acquire(w any, destroy func() error) *workerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[w]
	if e == nil {
		e = &workerEntry{destroy: destroy}
		r.entries[w] = e
	}
	e.refs++
	return e
}

func (r *WorkerRegistry) release(w any, e *workerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs <= 0 && r.entries[w] == e {
		delete(r.entries, w)
	}
}

// terminate runs the destroy capability, unless it has already run.
func (e *workerEntry) terminate() (bool, error) {
	if !e.destroyed.CompareAndSwap(false, true) {
		return false, nil
	}
	var err error
	if perr := catch(func() { err = e.destroy() }); perr != nil {
		err = perr
	}
	return true, err
}

type workerState struct {
	entry *workerEntry
	key   any
}

// workerEngine destroys on clear. Workers may be muted or suspended, but
// neither has any effect.
var workerEngine = Engine{
	Clear:     terminateWorker,
	Mute:      nop,
	Unmute:    nop,
	Suspend:   nop,
	Unsuspend: nop,
}

func terminateWorker(t *Task) {
	s, ok := t.state.(*workerState)
	if !ok {
		return
	}
	if ran, err := s.entry.terminate(); ran && err != nil {
		t.ctrl.logTask(t.ctrl.logger.Err(), t).Err(err).Log("async: worker destroy failed")
	}
}

// destroyFunc resolves the destroy capability of w.
func destroyFunc(w any) (func() error, bool) {
	switch v := w.(type) {
	case *Destructor:
		return v.destroy, true
	case interface{ Terminate() error }:
		return v.Terminate, true
	case interface{ Terminate() }:
		return func() error { v.Terminate(); return nil }, true
	case interface{ Destroy() error }:
		return v.Destroy, true
	case interface{ Destroy() }:
		return func() error { v.Destroy(); return nil }, true
	case io.Closer:
		return v.Close, true
	default:
		return nil, false
	}
}

// Worker registers a resource, destroyed when the task is cleared. The
// resource must be comparable, and expose one of the following:
//
//   - Terminate(), or Terminate() error
//   - Destroy(), or Destroy() error
//   - [io.Closer]
//   - be a [*Destructor]
//
// Registering the same resource again returns the existing task. Resources
// are destroyed at most once, even if registered with multiple controllers
// (see [WorkerRegistry]).
func (c *Controller) Worker(w any, opts ...TaskOption) (*Task, error) {
	if w == nil || !reflect.ValueOf(w).Comparable() {
		return nil, fmt.Errorf("%w: %T is not comparable", ErrUnsupportedWorker, w)
	}
	destroy, ok := destroyFunc(w)
	if !ok {
		return nil, fmt.Errorf("%w: %T has no destroy capability", ErrUnsupportedWorker, w)
	}

	c.mu.Lock()
	if t := c.workerTasks[w]; t != nil && !t.unregistered {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	entry := c.workers.acquire(w, destroy)
	t, merged, err := c.register(NamespaceWorker, resolveTaskOptions(opts), func(t *Task) {
		t.state = &workerState{entry: entry, key: w}
		t.handle = w
		t.finalizers = append(t.finalizers, func(*ClearError) {
			c.mu.Lock()
			if c.workerTasks[w] == t {
				delete(c.workerTasks, w)
			}
			c.mu.Unlock()
			c.workers.release(w, entry)
		})
		c.workerTasks[w] = t
	})
	if err != nil || merged {
		c.workers.release(w, entry)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}
