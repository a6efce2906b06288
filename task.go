package async

// Task is the handle of a single tracked operation. Tasks are created by the
// register methods of [Controller], and are destroyed exactly once, when
// cleared, or on natural completion (e.g. a timeout firing).
//
// All methods are safe for concurrent use.
type Task struct {
	ctrl *Controller

	// engine private state, set once during registration
	state any
	// user facing value bound to the task, e.g. a future, returned to
	// joined registrations
	handle any

	// closed once the task has been removed from its registry
	done chan struct{}

	group string
	label Key

	// guarded by ctrl.mu

	onClear    []func(*ClearError)
	onComplete []func()
	onError    []func(error)
	clear      func() error
	// run after the native cancel or completion, before any hooks, receiving
	// nil on completion
	finalizers []func(*ClearError)
	// buffered invocations, taken while suspended
	queue    []func()
	clearErr *ClearError

	id        uint64
	namespace Namespace

	unregistered bool
	muted        bool
	suspended    bool
	// single shot, already invoked
	consumed bool
	single   bool
}

func (*Task) target() {}

// ID returns the task's identifier, unique per [Controller].
func (t *Task) ID() uint64 { return t.id }

// Namespace returns the kind of operation the task tracks.
func (t *Task) Namespace() Namespace { return t.namespace }

// Group returns the group the task was registered with, see [WithGroup].
func (t *Task) Group() string { return t.group }

// Label returns the label the task was registered with, see [WithLabel].
func (t *Task) Label() Key { return t.label }

// Muted reports whether the task is muted, directly or namespace-wide.
func (t *Task) Muted() bool {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return t.mutedLocked()
}

// Suspended reports whether the task is suspended, directly or
// namespace-wide.
func (t *Task) Suspended() bool {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return t.suspendedLocked()
}

// Done returns a channel that is closed once the task has been cleared or has
// completed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the [*ClearError] the task was cleared with, or nil if it is
// live or completed naturally.
func (t *Task) Err() error {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	if t.clearErr == nil {
		return nil
	}
	return t.clearErr
}

func (t *Task) mutedLocked() bool {
	if !t.namespace.SupportsMute() {
		return false
	}
	if t.muted {
		return true
	}
	r := t.ctrl.registries[t.namespace]
	return r != nil && r.muted
}

func (t *Task) suspendedLocked() bool {
	if !t.namespace.SupportsSuspend() {
		return false
	}
	if t.suspended {
		return true
	}
	r := t.ctrl.registries[t.namespace]
	return r != nil && r.suspended
}

func (t *Task) isUnregistered() bool {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return t.unregistered
}
