package async

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-async/eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

// startLoop runs a new loop on a goroutine, stopping it on test cleanup.
func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Error("loop did not stop")
		}
	})
	return loop
}

// newController returns a controller on a running loop, with its own worker
// registry.
func newController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithWorkerRegistry(NewWorkerRegistry())}, opts...)
	c, err := New(startLoop(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// flushLoop waits for everything currently queued on the loop to run.
func flushLoop(t *testing.T, c *Controller) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, c.Loop().Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for loop")
	}
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(waitFor):
		t.Fatalf("task %d (%s) not done", task.ID(), task.Namespace())
	}
}

// syncBuffer is a bytes.Buffer, safe for concurrent use.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// reasons records the reasons passed to OnClear hooks.
type reasons struct {
	values []Reason
	mu     sync.Mutex
}

func (r *reasons) hook() TaskOption {
	return OnClear(func(err *ClearError) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.values = append(r.values, err.Reason)
	})
}

func (r *reasons) get() []Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reason(nil), r.values...)
}

func TestNew_nilLoop(t *testing.T) {
	c, err := New(nil)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrNilLoop)
}

func TestNew_invalidOptions(t *testing.T) {
	loop, err := eventloop.New()
	require.NoError(t, err)

	_, err = New(loop, WithWorkerRegistry(nil))
	assert.Error(t, err)

	_, err = New(loop, WithEngine(namespaceCount, Engine{}))
	assert.Error(t, err)

	_, err = New(loop, WithFaultLogRates(map[time.Duration]int{-time.Second: 1}))
	assert.Error(t, err)

	_, err = New(loop, nil, WithFaultLogRates(nil))
	assert.NoError(t, err)
}

func TestController_Clear_idempotent(t *testing.T) {
	c := newController(t)

	var (
		fired   atomic.Bool
		cleared atomic.Int32
	)
	task, err := c.SetTimeout(func() { fired.Store(true) }, time.Hour, OnClear(func(err *ClearError) {
		cleared.Add(1)
		assert.Equal(t, ClearErrorType, err.Type)
		assert.Equal(t, ReasonID, err.Reason)
		assert.Equal(t, NamespaceTimeout, err.Namespace)
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len(NamespaceTimeout))
	assert.NoError(t, task.Err())

	require.NoError(t, c.ClearTimeout(task))
	waitDone(t, task)
	require.NoError(t, c.ClearTimeout(task))
	require.NoError(t, c.Clear(NamespaceTimeout, Filter{}))

	assert.Equal(t, int32(1), cleared.Load())
	assert.Equal(t, 0, c.Len(NamespaceTimeout))
	assert.ErrorIs(t, task.Err(), ErrCleared)

	// mute and suspend of a cleared task are no-ops
	require.NoError(t, c.Mute(NamespaceTimeout, task))
	require.NoError(t, c.Suspend(NamespaceTimeout, task))
	assert.False(t, task.Muted())
	assert.False(t, task.Suspended())

	flushLoop(t, c)
	assert.False(t, fired.Load())
}

func TestController_ClearAll_byGroup(t *testing.T) {
	c := newController(t)

	var rs reasons
	a, err := c.SetTimeout(func() {}, time.Hour, WithGroup("g"), rs.hook())
	require.NoError(t, err)
	b, err := c.SetInterval(func() {}, time.Hour, WithGroup("g"), rs.hook())
	require.NoError(t, err)
	_, p, err := Proxy(c, func(int) {}, WithGroup("g"), rs.hook())
	require.NoError(t, err)
	other, err := c.SetTimeout(func() {}, time.Hour, WithGroup("other"), rs.hook())
	require.NoError(t, err)

	require.NoError(t, c.ClearAll(Filter{Group: "g"}))

	for _, task := range []*Task{a, b, p} {
		waitDone(t, task)
	}
	assert.Equal(t, []Reason{ReasonGroup, ReasonGroup, ReasonGroup}, rs.get())
	assert.NoError(t, other.Err())
	assert.Equal(t, 1, c.Len(NamespaceTimeout))
	assert.Equal(t, 0, c.Len(NamespaceInterval))
	assert.Equal(t, 0, c.Len(NamespaceProxy))
}

func TestController_ClearAll_byGroupPattern(t *testing.T) {
	c := newController(t)

	var rs reasons
	var tasks []*Task
	for _, group := range []string{"poll-1", "poll-2", "push", ""} {
		task, err := c.SetTimeout(func() {}, time.Hour, WithGroup(group), rs.hook())
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	// an empty group never matches a pattern
	require.NoError(t, c.ClearAll(Filter{GroupPattern: regexp.MustCompile(`.*`), Group: "push"}))
	assert.Equal(t, 1, c.Len(NamespaceTimeout))
	assert.Equal(t, []Reason{ReasonRegexp, ReasonRegexp, ReasonRegexp}, rs.get())
	assert.NoError(t, tasks[3].Err())

	require.NoError(t, c.ClearAll(Filter{}))
	assert.Equal(t, 0, c.Len(NamespaceTimeout))
	assert.Equal(t, ReasonAll, rs.get()[3])
}

func TestController_Clear_byLabel(t *testing.T) {
	c := newController(t)

	var rs reasons
	a, err := c.SetTimeout(func() {}, time.Hour, WithLabel(Label("a")), rs.hook())
	require.NoError(t, err)
	b, err := c.SetTimeout(func() {}, time.Hour, WithLabel(NewToken("b")), rs.hook())
	require.NoError(t, err)

	// a different token with the same description does not match
	require.NoError(t, c.ClearTimeout(Filter{Label: NewToken("b")}))
	require.NoError(t, c.ClearTimeout(Filter{Label: Label("a")}))
	waitDone(t, a)
	assert.NoError(t, b.Err())
	assert.Equal(t, []Reason{ReasonLabel}, rs.get())

	require.NoError(t, c.ClearTimeout(Filter{Label: b.Label()}))
	waitDone(t, b)
}

func TestController_labelCollision_default(t *testing.T) {
	for _, policy := range []JoinPolicy{JoinDefault, JoinReplace} {
		c := newController(t)

		var rs reasons
		var fired atomic.Int32
		first, err := c.SetTimeout(func() { fired.Add(1) }, 10*time.Millisecond, WithLabel(Label("x")), rs.hook())
		require.NoError(t, err)

		second, err := c.SetTimeout(func() { fired.Add(10) }, 10*time.Millisecond, WithLabel(Label("x")), Join(policy))
		require.NoError(t, err)
		assert.NotEqual(t, first.ID(), second.ID())

		waitDone(t, first)
		assert.Equal(t, []Reason{ReasonCollision}, rs.get())
		waitDone(t, second)
		assert.Equal(t, int32(10), fired.Load())
		assert.Equal(t, 0, c.Len(NamespaceTimeout))
	}
}

func TestController_labelCollision_join(t *testing.T) {
	c := newController(t)

	var fired atomic.Int32
	first, err := c.SetTimeout(func() { fired.Add(1) }, 20*time.Millisecond, WithLabel(Label("x")))
	require.NoError(t, err)

	var merged *Task
	second, err := c.SetTimeout(func() { fired.Add(10) }, time.Millisecond,
		WithLabel(Label("x")),
		Join(JoinTrue),
		OnMerge(func(existing *Task) { merged = existing }),
	)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Same(t, first, merged)
	assert.Equal(t, 1, c.Len(NamespaceTimeout))

	waitDone(t, first)
	flushLoop(t, c)
	assert.Equal(t, int32(1), fired.Load())

	// the label is free again
	third, err := c.SetTimeout(func() {}, time.Hour, WithLabel(Label("x")), Join(JoinTrue))
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestController_labelsArePerNamespace(t *testing.T) {
	c := newController(t)

	a, err := c.SetTimeout(func() {}, time.Hour, WithLabel(Label("x")))
	require.NoError(t, err)
	b, err := c.SetInterval(func() {}, time.Hour, WithLabel(Label("x")))
	require.NoError(t, err)

	assert.NoError(t, a.Err())
	assert.NoError(t, b.Err())
}

func TestController_missingHandler(t *testing.T) {
	c := newController(t, WithEngine(NamespaceTimeout, Engine{Clear: clearTimer}))

	timeout, err := c.SetTimeout(func() {}, time.Hour)
	require.NoError(t, err)
	interval, err := c.SetInterval(func() {}, time.Hour)
	require.NoError(t, err)
	// promisified namespaces without the handler are skipped
	_, err = c.Sleep(time.Hour)
	require.NoError(t, err)

	err = c.MuteAll(Filter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHandler)
	var mhe *MissingHandlerError
	require.ErrorAs(t, err, &mhe)
	assert.Equal(t, "muteTimeout", mhe.Op)
	assert.Equal(t, NamespaceTimeout, mhe.Namespace)
	assert.Equal(t, "async: missing handler: muteTimeout", err.Error())

	// nothing was applied
	assert.False(t, interval.Muted())

	err = c.Suspend(NamespaceTimeout, timeout)
	assert.ErrorIs(t, err, ErrMissingHandler)
	assert.False(t, timeout.Suspended())

	require.NoError(t, c.Mute(NamespaceTimeoutPromise, nil))
	// validated even if nothing matches
	assert.ErrorIs(t, c.UnmuteAll(Filter{Group: "nothing"}), ErrMissingHandler)

	require.NoError(t, c.ClearAll(Filter{}))
	assert.Equal(t, 0, c.Len(NamespaceTimeout))
	assert.Equal(t, 0, c.Len(NamespaceInterval))
	assert.Equal(t, 0, c.Len(NamespaceTimeoutPromise))
}

func TestController_invalidNamespace(t *testing.T) {
	c := newController(t)
	assert.Error(t, c.Clear(namespaceCount, nil))
	assert.Equal(t, 0, c.Len(namespaceCount))
}

func TestController_foreignTask(t *testing.T) {
	c1 := newController(t)
	c2 := newController(t)

	task, err := c1.SetTimeout(func() {}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, c2.ClearTimeout(task))
	require.NoError(t, c1.ClearInterval(task))
	assert.NoError(t, task.Err())

	var nilTask *Task
	require.NoError(t, c1.ClearTimeout(nilTask))
	assert.Equal(t, 1, c1.Len(NamespaceTimeout))
}

func TestController_hooks_reentrant(t *testing.T) {
	c := newController(t)

	var order []string
	b, err := c.SetTimeout(func() {}, time.Hour, WithGroup("b"))
	require.NoError(t, err)
	a, err := c.SetTimeout(func() {}, time.Hour,
		OnClear(func(*ClearError) {
			order = append(order, "a1")
			// clearing from a hook is allowed
			require.NoError(t, c.ClearTimeout(Filter{Group: "b"}))
		}),
		OnClear(func(*ClearError) { order = append(order, "a2") }),
		OnComplete(func() { order = append(order, "complete") }),
	)
	require.NoError(t, err)

	require.NoError(t, c.ClearTimeout(a))
	assert.Equal(t, []string{"a1", "a2"}, order)
	assert.ErrorIs(t, b.Err(), ErrCleared)
}

func TestController_OnComplete(t *testing.T) {
	c := newController(t)

	completed := make(chan struct{})
	task, err := c.SetTimeout(func() {}, time.Millisecond,
		OnComplete(func() { close(completed) }),
		OnClear(func(*ClearError) { t.Error("unexpected clear") }),
	)
	require.NoError(t, err)

	waitDone(t, task)
	select {
	case <-completed:
	default:
		t.Fatal("expected OnComplete to have been called")
	}
	assert.NoError(t, task.Err())
	assert.Equal(t, 0, c.Len(NamespaceTimeout))
}

func TestController_WithClear(t *testing.T) {
	c := newController(t)

	var fired atomic.Bool
	var overridden atomic.Int32
	task, err := c.SetTimeout(func() { fired.Store(true) }, 10*time.Millisecond, WithClear(func() error {
		overridden.Add(1)
		return errors.New("some error")
	}))
	require.NoError(t, err)

	require.NoError(t, c.ClearTimeout(task))
	assert.Equal(t, int32(1), overridden.Load())

	// the native timer was not cancelled, but its effect is dropped
	time.Sleep(30 * time.Millisecond)
	flushLoop(t, c)
	assert.False(t, fired.Load())
}

func TestController_OnError(t *testing.T) {
	c := newController(t)

	errs := make(chan error, 1)
	task, err := c.SetTimeout(func() { panic("boom") }, time.Millisecond, OnError(func(err error) { errs <- err }))
	require.NoError(t, err)

	select {
	case err := <-errs:
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "boom", pe.Value)
	case <-time.After(waitFor):
		t.Fatal("expected OnError")
	}

	// a faulting callback still completes
	waitDone(t, task)
	assert.NoError(t, task.Err())
}

func TestController_Close(t *testing.T) {
	c := newController(t)

	var rs reasons
	timeout, err := c.SetTimeout(func() {}, time.Hour, rs.hook())
	require.NoError(t, err)
	var destroyed atomic.Int32
	worker, err := c.Worker(NewDestructor(func() { destroyed.Add(1) }), rs.hook())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	waitDone(t, timeout)
	waitDone(t, worker)
	assert.Equal(t, []Reason{ReasonAll, ReasonAll}, rs.get())
	assert.Equal(t, int32(1), destroyed.Load())

	_, err = c.SetTimeout(func() {}, time.Hour)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = Promise(c, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestController_nilCallbacks(t *testing.T) {
	c := newController(t)

	_, err := c.SetTimeout(nil, time.Second)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = c.SetInterval(nil, time.Second)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = c.SetImmediate(nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = c.RequestIdleCallback(nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = c.RequestAnimationFrame(nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = c.AddEventListener(eventloop.NewEventTarget(), "x", nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = c.AddEventListener(nil, "x", func(*eventloop.Event) {})
	assert.ErrorIs(t, err, ErrNilCallback)
	_, _, err = Proxy[int](c, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = Promise[int](c, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = Iterable[int](c, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = IterableSeq[int](c, nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	for ns := range namespaceCount {
		assert.Equal(t, 0, c.Len(ns), ns.String())
	}
}
