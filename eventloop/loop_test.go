package eventloop

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLoop runs a new loop on a goroutine, closing it on test cleanup.
func startLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
	})
	return l
}

// await runs fn on the loop, and waits for it to complete.
func await(t *testing.T, l *Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, l.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for loop")
	}
}

func TestLoop_SubmitOrder(t *testing.T) {
	l := startLoop(t)

	var (
		mu    sync.Mutex
		order []int
	)
	for i := range 10 {
		require.NoError(t, l.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	await(t, l, func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoop_MicrotasksRunBeforeNextTask(t *testing.T) {
	l := startLoop(t)

	var order []string
	await(t, l, func() {
		require.NoError(t, l.Submit(func() { order = append(order, "task") }))
		require.NoError(t, l.ScheduleMicrotask(func() {
			order = append(order, "micro1")
			require.NoError(t, l.ScheduleMicrotask(func() { order = append(order, "micro2") }))
		}))
	})
	await(t, l, func() {})

	assert.Equal(t, []string{"micro1", "micro2", "task"}, order)
}

func TestLoop_RunTwice(t *testing.T) {
	l := startLoop(t)
	await(t, l, func() {})
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopAlreadyRunning)
}

func TestLoop_ReentrantRun(t *testing.T) {
	l := startLoop(t)
	var err error
	await(t, l, func() { err = l.Run(context.Background()) })
	assert.ErrorIs(t, err, ErrReentrantRun)
}

func TestLoop_ShutdownDrainsQueue(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	require.Eventually(t, func() bool { return l.State() != StateAwake }, 5*time.Second, time.Millisecond)

	var ran int
	shutdown := make(chan error, 1)
	require.NoError(t, l.Submit(func() {
		ran++
		go func() { shutdown <- l.Shutdown(context.Background()) }()
		for l.State() != StateTerminating {
			time.Sleep(time.Millisecond)
		}
		// accepted while terminating
		for range 4 {
			if !assert.NoError(t, l.Submit(func() { ran++ })) {
				return
			}
		}
	}))

	require.NoError(t, <-shutdown)
	require.NoError(t, <-done)
	assert.Equal(t, 5, ran)
	assert.Equal(t, StateTerminated, l.State())

	assert.ErrorIs(t, l.Submit(func() {}), ErrLoopTerminated)
	assert.ErrorIs(t, l.Shutdown(context.Background()), ErrLoopTerminated)
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopTerminated)
}

func TestLoop_ShutdownBeforeRun(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	require.NoError(t, l.Submit(func() { t.Error("unexpected call") }))
	require.NoError(t, l.Shutdown(context.Background()))
	select {
	case <-l.Done():
	default:
		t.Fatal("expected done to be closed")
	}
}

func TestLoop_CloseDiscardsQueue(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	blocked := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, l.Submit(func() {
		close(blocked)
		<-release
	}))
	var ran bool
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-blocked
	require.NoError(t, l.Submit(func() { ran = true }))
	require.NoError(t, l.Close())
	close(release)
	require.NoError(t, <-done)
	assert.False(t, ran)
	assert.ErrorIs(t, l.Close(), ErrLoopTerminated)
}

func TestLoop_ContextCancel(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, StateTerminated, l.State())
}

func TestLoop_ScheduleTimerOrdering(t *testing.T) {
	l := startLoop(t)

	var (
		mu    sync.Mutex
		order []int
	)
	record := func(v int) func() {
		return func() {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
		}
	}
	done := make(chan struct{})
	_, err := l.ScheduleTimer(30*time.Millisecond, func() { record(3)(); close(done) })
	require.NoError(t, err)
	_, err = l.ScheduleTimer(10*time.Millisecond, record(1))
	require.NoError(t, err)
	_, err = l.ScheduleTimer(10*time.Millisecond, record(2))
	require.NoError(t, err)

	<-done
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestLoop_CancelTimer(t *testing.T) {
	l := startLoop(t)

	id, err := l.ScheduleTimer(time.Hour, func() { t.Error("should not run") })
	require.NoError(t, err)
	require.NoError(t, l.CancelTimer(id))
	assert.ErrorIs(t, l.CancelTimer(id), ErrTimerNotFound)
	assert.ErrorIs(t, l.CancelTimer(0), ErrTimerNotFound)
}

func TestLoop_NilCallbacks(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	assert.ErrorIs(t, l.Submit(nil), ErrNilCallback)
	assert.ErrorIs(t, l.ScheduleMicrotask(nil), ErrNilCallback)
	_, err = l.ScheduleTimer(0, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
}

func TestLoop_PanicIsLogged(t *testing.T) {
	var buf syncBuffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``))).Logger()
	l := startLoop(t, WithLogger(logger))

	require.NoError(t, l.Submit(func() { panic(errors.New("boom")) }))
	var after bool
	await(t, l, func() { after = true })
	assert.True(t, after)

	out := buf.String()
	assert.Contains(t, out, `"lvl":"warning"`)
	assert.Contains(t, out, `"err":"eventloop: callback panicked: boom"`)
	assert.Contains(t, out, `"msg":"eventloop: task panicked"`)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPanicError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	assert.ErrorIs(t, PanicError{Value: cause}, cause)
	assert.NoError(t, PanicError{Value: "x"}.Unwrap())
	assert.Contains(t, PanicError{Value: "x"}.Error(), "x")
}

func TestGetGoroutineID(t *testing.T) {
	a := getGoroutineID()
	assert.NotZero(t, a)
	ch := make(chan uint64)
	go func() { ch <- getGoroutineID() }()
	assert.NotEqual(t, a, <-ch)
}
