package async

// proxyEngine only toggles flags, which are checked on each invocation.
var proxyEngine = Engine{
	Clear:     nop,
	Mute:      nop,
	Unmute:    nop,
	Suspend:   nop,
	Unsuspend: nop,
}

type proxyState[T any] struct {
	fn   func(T)
	task *Task
}

// Proxy wraps fn in a tracked callback. Calls to the returned func are
// dropped while the task is muted or suspended, or once it has been cleared.
// The wrapper may be called from any goroutine.
//
// By default the task completes after the first call, see [Single].
//
// If joined with an existing task (see [JoinTrue]), the wrapper of the
// existing task is returned, failing with [ErrTypeMismatch] if it has a
// different type.
func Proxy[T any](c *Controller, fn func(T), opts ...TaskOption) (func(T), *Task, error) {
	if fn == nil {
		return nil, nil, ErrNilCallback
	}

	cfg := resolveTaskOptions(opts)
	single := cfg.singleOr(true)
	cfg.joinable = func(t *Task) bool {
		_, ok := t.handle.(*proxyState[T])
		return ok
	}

	t, _, err := c.register(NamespaceProxy, cfg, func(t *Task) {
		p := &proxyState[T]{fn: fn, task: t}
		t.state = p
		t.handle = p
		t.single = single
	})
	if err != nil {
		return nil, nil, err
	}

	return t.handle.(*proxyState[T]).call, t, nil
}

func (p *proxyState[T]) call(v T) {
	t := p.task
	c := t.ctrl

	c.mu.Lock()
	if t.unregistered || t.consumed || t.mutedLocked() || t.suspendedLocked() {
		c.mu.Unlock()
		return
	}
	if t.single {
		t.consumed = true
	}
	c.mu.Unlock()

	c.invoke(t, func() { p.fn(v) })

	if t.single {
		c.complete(t)
	}
}
