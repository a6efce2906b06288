// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Task is a unit of work, always executed on the loop goroutine.
type Task func()

// TimerID identifies a scheduled timer, interval, immediate, animation frame
// or idle callback. IDs are unique per loop, and never zero.
type TimerID uint64

// timer represents a scheduled task
type timer struct {
	when  time.Time
	task  Task
	id    TimerID
	seq   uint64 // FIFO tie-break for equal deadlines
	index int
}

// timerHeap is a min-heap of timers
type timerHeap []*timer

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

// Loop is a single goroutine event loop, providing the scheduling primitives
// (timers, immediates, animation frames, idle callbacks, microtasks) that
// higher level components cancel and suspend.
//
// Task priority ordering within each tick:
//  1. Expired timer callbacks (earliest deadline first)
//  2. Submitted tasks ([Loop.Submit]), FIFO
//  3. Microtasks, drained after every macrotask
//  4. Idle callbacks, only if the tick found no other work
//
// All methods other than [Loop.Run] are safe to call from any goroutine.
type Loop struct {
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]

	state *FastState

	wake     chan struct{}
	loopDone chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once

	intervals  map[TimerID]*intervalState
	immediates map[TimerID]*immediateState
	idle       map[TimerID]*idleRequest
	timerIndex map[TimerID]*timer

	queue      []Task
	microtasks []Task
	idleQueue  []*idleRequest
	timers     timerHeap

	anchor time.Time

	frameInterval time.Duration
	idleDeadline  time.Duration

	loopGoroutineID atomic.Uint64
	nextID          atomic.Uint64
	timerSeq        uint64

	mu sync.Mutex

	// set by Close, skips the final drain
	abandon atomic.Bool
}

// New creates a new event loop. The loop does nothing until [Loop.Run] is
// called.
func New(opts ...LoopOption) (*Loop, error) {
	options, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Loop{
		logger:        options.logger,
		state:         NewFastState(),
		wake:          make(chan struct{}, 1),
		loopDone:      make(chan struct{}),
		intervals:     make(map[TimerID]*intervalState),
		immediates:    make(map[TimerID]*immediateState),
		idle:          make(map[TimerID]*idleRequest),
		timerIndex:    make(map[TimerID]*timer),
		anchor:        time.Now(),
		frameInterval: options.frameInterval,
		idleDeadline:  options.idleDeadline,
	}, nil
}

// Run runs the event loop and blocks until fully stopped.
//
// Run blocks until the loop terminates (via Shutdown(), Close(), or ctx cancellation).
// To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer l.closeDone()

	return l.run(ctx)
}

// Shutdown gracefully shuts down the event loop. If the loop is running, it
// waits for all submitted tasks (and the microtasks they schedule) to
// complete. If [Loop.Run] has not started, the loop terminates immediately,
// and any queued tasks are discarded. Pending timers and idle callbacks are
// always discarded.
//
// It blocks until termination completes or ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	var (
		result error
		called bool
	)
	l.stopOnce.Do(func() {
		called = true
		result = l.shutdownImpl(ctx)
	})
	if !called {
		return ErrLoopTerminated
	}
	return result
}

func (l *Loop) shutdownImpl(ctx context.Context) error {
	if !l.terminate() {
		return ErrLoopTerminated
	}

	// Wait for termination via channel, NOT polling
	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the event loop without waiting, discarding any queued
// work.
func (l *Loop) Close() error {
	l.abandon.Store(true)
	if !l.terminate() {
		return ErrLoopTerminated
	}
	return nil
}

// terminate moves the loop towards StateTerminated, returning false if that
// had already been requested.
func (l *Loop) terminate() bool {
	for {
		current := l.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return false
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.closeDone()
			} else {
				l.wakeup()
			}
			return true
		}
	}
}

func (l *Loop) closeDone() {
	l.doneOnce.Do(func() { close(l.loopDone) })
}

// Done returns a channel that is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.loopDone
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// run is the main loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	for {
		if err := ctx.Err(); err != nil {
			l.terminate()
			l.shutdown()
			return err
		}

		if state := l.state.Load(); state == StateTerminating || state == StateTerminated {
			l.shutdown()
			return nil
		}

		if l.tick() {
			continue
		}

		l.sleep(ctx)
	}
}

// shutdown performs the shutdown sequence.
func (l *Loop) shutdown() {
	if !l.abandon.Load() {
		// tasks may submit further tasks, drain until stable
		for {
			l.mu.Lock()
			tasks := l.queue
			l.queue = nil
			l.mu.Unlock()
			if len(tasks) == 0 {
				break
			}
			for _, t := range tasks {
				l.safeExecute(t)
				l.drainMicrotasks()
			}
		}
		l.drainMicrotasks()
	}

	l.state.Store(StateTerminated)

	l.mu.Lock()
	l.queue = nil
	l.microtasks = nil
	l.idleQueue = nil
	l.timers = nil
	clear(l.timerIndex)
	clear(l.intervals)
	clear(l.immediates)
	clear(l.idle)
	l.mu.Unlock()
}

// tick is a single iteration of the event loop, returning true if any work
// was performed.
func (l *Loop) tick() (worked bool) {
	now := time.Now()

	// Execute expired timers
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.mu.Unlock()
			break
		}
		t := heap.Pop(&l.timers).(*timer)
		delete(l.timerIndex, t.id)
		l.mu.Unlock()

		l.safeExecute(t.task)
		l.drainMicrotasks()
		worked = true
	}

	// Process submitted tasks, anything submitted meanwhile waits a tick
	l.mu.Lock()
	tasks := l.queue
	l.queue = nil
	l.mu.Unlock()
	for i, t := range tasks {
		l.safeExecute(t)
		tasks[i] = nil
		l.drainMicrotasks()
		worked = true
	}

	if l.drainMicrotasks() {
		worked = true
	}

	if !worked {
		worked = l.runIdleCallbacks()
	}

	return worked
}

// sleep blocks until woken, the next timer is due, or ctx is done.
func (l *Loop) sleep(ctx context.Context) {
	l.mu.Lock()
	pending := len(l.queue) != 0 || len(l.microtasks) != 0 || len(l.idleQueue) != 0
	var next time.Time
	if len(l.timers) != 0 {
		next = l.timers[0].when
	}
	l.mu.Unlock()

	if pending {
		return
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}
	defer l.state.TryTransition(StateSleeping, StateRunning)

	var timerC <-chan time.Time
	if !next.IsZero() {
		delay := time.Until(next)
		if delay <= 0 {
			return
		}
		t := time.NewTimer(delay)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case <-l.wake:
	case <-timerC:
	case <-ctx.Done():
	}
}

// wakeup signals the loop, never blocking. The buffered channel ensures a
// signal sent before the loop sleeps is not lost.
func (l *Loop) wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Submit submits a task to the loop.
//
// State Policy during shutdown:
//   - StateTerminated: returns ErrLoopTerminated
//   - StateTerminating: ALLOWS submission (loop needs to drain in-flight work)
func (l *Loop) Submit(task Task) error {
	if task == nil {
		return ErrNilCallback
	}
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}

	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	l.wakeup()
	return nil
}

// ScheduleMicrotask schedules a microtask, which runs after the current
// macrotask, before any further timers or tasks.
func (l *Loop) ScheduleMicrotask(fn func()) error {
	if fn == nil {
		return ErrNilCallback
	}
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}

	l.mu.Lock()
	l.microtasks = append(l.microtasks, fn)
	l.mu.Unlock()

	l.wakeup()
	return nil
}

// drainMicrotasks drains the microtask queue, including microtasks scheduled
// by microtasks.
func (l *Loop) drainMicrotasks() (ran bool) {
	for {
		l.mu.Lock()
		if len(l.microtasks) == 0 {
			l.mu.Unlock()
			return ran
		}
		fn := l.microtasks[0]
		l.microtasks[0] = nil
		l.microtasks = l.microtasks[1:]
		l.mu.Unlock()

		l.safeExecute(fn)
		ran = true
	}
}

// ScheduleTimer schedules a task to be executed after the specified delay.
// Negative delays are treated as zero.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	if !l.state.CanAcceptWork() {
		return 0, ErrLoopTerminated
	}
	if delay < 0 {
		delay = 0
	}

	id := l.newID()

	l.mu.Lock()
	l.timerSeq++
	t := &timer{
		when: time.Now().Add(delay),
		task: fn,
		id:   id,
		seq:  l.timerSeq,
	}
	heap.Push(&l.timers, t)
	l.timerIndex[id] = t
	l.mu.Unlock()

	l.wakeup()
	return id, nil
}

// CancelTimer cancels a timer scheduled by [Loop.ScheduleTimer].
//
// Returns [ErrTimerNotFound] if the timer has already fired, or was never
// scheduled.
func (l *Loop) CancelTimer(id TimerID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.timerIndex[id]
	if !ok {
		return ErrTimerNotFound
	}
	delete(l.timerIndex, id)
	heap.Remove(&l.timers, t.index)
	return nil
}

func (l *Loop) newID() TimerID {
	return TimerID(l.nextID.Add(1))
}

// safeExecute executes a task with panic recovery.
func (l *Loop) safeExecute(t Task) {
	if t == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Warning().
				Err(PanicError{Value: r}).
				Log("eventloop: task panicked")
		}
	}()

	t()
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
