package eventloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// IdleDeadline is passed to [Loop.RequestIdleCallback] callbacks.
type IdleDeadline struct {
	// Deadline is the point after which the callback should yield.
	Deadline time.Time
	// DidTimeout is true if the callback was forced to run by its timeout,
	// rather than because the loop was idle.
	DidTimeout bool
}

// TimeRemaining returns the time left before Deadline, or zero.
func (d IdleDeadline) TimeRemaining() time.Duration {
	if r := time.Until(d.Deadline); r > 0 {
		return r
	}
	return 0
}

// intervalState tracks the state of an interval timer.
type intervalState struct {
	fn      func()
	wrapper func()
	loop    *Loop

	delay              time.Duration
	currentLoopTimerID TimerID

	m sync.Mutex // Protects currentLoopTimerID

	canceled atomic.Bool
}

type immediateState struct {
	fn      func()
	loop    *Loop
	id      TimerID
	cleared atomic.Bool
}

type idleRequest struct {
	fn      func(IdleDeadline)
	id      TimerID
	timeout TimerID
	done    atomic.Bool
}

// SetTimeout schedules fn to run once, after delay.
func (l *Loop) SetTimeout(fn func(), delay time.Duration) (TimerID, error) {
	return l.ScheduleTimer(delay, fn)
}

// ClearTimeout cancels a timeout scheduled by [Loop.SetTimeout].
//
// Returns [ErrTimerNotFound] if the timer ID is invalid or has already fired.
func (l *Loop) ClearTimeout(id TimerID) error {
	return l.CancelTimer(id)
}

// SetInterval schedules fn to run repeatedly, every delay. Each execution is
// scheduled after the previous one completes, including if it panics.
func (l *Loop) SetInterval(fn func(), delay time.Duration) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	if delay < 0 {
		delay = 0
	}

	state := &intervalState{
		fn:    fn,
		delay: delay,
		loop:  l,
	}
	state.wrapper = func() {
		defer state.reschedule()
		state.fn()
	}

	id := l.newID()

	state.m.Lock()
	loopTimerID, err := l.ScheduleTimer(delay, state.wrapper)
	if err != nil {
		state.m.Unlock()
		return 0, err
	}
	state.currentLoopTimerID = loopTimerID
	state.m.Unlock()

	l.mu.Lock()
	l.intervals[id] = state
	l.mu.Unlock()

	return id, nil
}

func (s *intervalState) reschedule() {
	// checked before locking, ClearInterval may hold the lock
	if s.canceled.Load() {
		return
	}

	s.m.Lock()
	defer s.m.Unlock()

	if s.canceled.Load() {
		return
	}

	loopTimerID, err := s.loop.ScheduleTimer(s.delay, s.wrapper)
	if err != nil {
		s.currentLoopTimerID = 0
		return
	}
	s.currentLoopTimerID = loopTimerID
}

// ClearInterval cancels an interval scheduled by [Loop.SetInterval]. It is
// safe to call from within the interval's own callback.
func (l *Loop) ClearInterval(id TimerID) error {
	l.mu.Lock()
	state, ok := l.intervals[id]
	delete(l.intervals, id)
	l.mu.Unlock()

	if !ok {
		return ErrTimerNotFound
	}

	state.canceled.Store(true)

	state.m.Lock()
	defer state.m.Unlock()

	if state.currentLoopTimerID != 0 {
		// ErrTimerNotFound means the wrapper is mid-flight, and will observe
		// the canceled flag
		if err := l.CancelTimer(state.currentLoopTimerID); err != nil && !errors.Is(err, ErrTimerNotFound) {
			return err
		}
	}

	return nil
}

// SetImmediate schedules fn to run on the next iteration of the loop,
// bypassing the timer heap.
func (l *Loop) SetImmediate(fn func()) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}

	state := &immediateState{
		fn:   fn,
		loop: l,
		id:   l.newID(),
	}

	l.mu.Lock()
	l.immediates[state.id] = state
	l.mu.Unlock()

	if err := l.Submit(state.run); err != nil {
		l.mu.Lock()
		delete(l.immediates, state.id)
		l.mu.Unlock()
		return 0, err
	}

	return state.id, nil
}

// ClearImmediate cancels a pending immediate.
//
// Returns [ErrTimerNotFound] if the ID is invalid or has already executed.
func (l *Loop) ClearImmediate(id TimerID) error {
	l.mu.Lock()
	state, ok := l.immediates[id]
	delete(l.immediates, id)
	l.mu.Unlock()

	if !ok || !state.cleared.CompareAndSwap(false, true) {
		return ErrTimerNotFound
	}

	return nil
}

func (s *immediateState) run() {
	// CAS ensures only one of run or ClearImmediate wins
	if !s.cleared.CompareAndSwap(false, true) {
		return
	}

	defer func() {
		s.loop.mu.Lock()
		delete(s.loop.immediates, s.id)
		s.loop.mu.Unlock()
	}()

	s.fn()
}

// RequestAnimationFrame schedules fn to run at the next frame boundary. All
// callbacks requested within the same frame receive the same timestamp.
func (l *Loop) RequestAnimationFrame(fn func(time.Time)) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}

	frame := l.frameInterval
	elapsed := time.Since(l.anchor)
	boundary := l.anchor.Add((elapsed/frame + 1) * frame)

	return l.ScheduleTimer(time.Until(boundary), func() {
		fn(boundary)
	})
}

// CancelAnimationFrame cancels a callback scheduled by
// [Loop.RequestAnimationFrame].
func (l *Loop) CancelAnimationFrame(id TimerID) error {
	return l.CancelTimer(id)
}

// RequestIdleCallback schedules fn to run when the loop has no other work.
// If timeout is positive, fn is forced to run once it elapses, with
// [IdleDeadline.DidTimeout] set.
func (l *Loop) RequestIdleCallback(fn func(IdleDeadline), timeout time.Duration) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	if !l.state.CanAcceptWork() {
		return 0, ErrLoopTerminated
	}

	req := &idleRequest{
		fn: fn,
		id: l.newID(),
	}

	if timeout > 0 {
		timerID, err := l.ScheduleTimer(timeout, func() {
			if !req.done.CompareAndSwap(false, true) {
				return
			}
			l.mu.Lock()
			delete(l.idle, req.id)
			l.mu.Unlock()
			req.fn(IdleDeadline{Deadline: time.Now(), DidTimeout: true})
		})
		if err != nil {
			return 0, err
		}
		req.timeout = timerID
	}

	l.mu.Lock()
	l.idle[req.id] = req
	l.idleQueue = append(l.idleQueue, req)
	l.mu.Unlock()

	l.wakeup()
	return req.id, nil
}

// CancelIdleCallback cancels a callback scheduled by
// [Loop.RequestIdleCallback].
func (l *Loop) CancelIdleCallback(id TimerID) error {
	l.mu.Lock()
	req, ok := l.idle[id]
	delete(l.idle, id)
	l.mu.Unlock()

	if !ok || !req.done.CompareAndSwap(false, true) {
		return ErrTimerNotFound
	}

	if req.timeout != 0 {
		_ = l.CancelTimer(req.timeout)
	}

	return nil
}

// runIdleCallbacks runs queued idle callbacks until the idle deadline passes.
// Anything left over runs on a later idle period.
func (l *Loop) runIdleCallbacks() (ran bool) {
	deadline := time.Now().Add(l.idleDeadline)

	for time.Now().Before(deadline) {
		l.mu.Lock()
		if len(l.idleQueue) == 0 {
			l.mu.Unlock()
			return ran
		}
		req := l.idleQueue[0]
		l.idleQueue[0] = nil
		l.idleQueue = l.idleQueue[1:]
		l.mu.Unlock()

		if !req.done.CompareAndSwap(false, true) {
			continue
		}

		l.mu.Lock()
		delete(l.idle, req.id)
		l.mu.Unlock()

		if req.timeout != 0 {
			_ = l.CancelTimer(req.timeout)
		}

		l.safeExecute(func() {
			req.fn(IdleDeadline{Deadline: deadline})
		})
		l.drainMicrotasks()
		ran = true
	}

	return ran
}
