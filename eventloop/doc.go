// Package eventloop provides a single goroutine, JavaScript-style event loop,
// featuring timers, intervals, immediates, animation frames, idle callbacks,
// microtasks, and a DOM-style [EventTarget].
//
// # Execution Model
//
// A [Loop] executes every callback on the goroutine calling [Loop.Run].
// Task priority ordering within each tick:
//  1. Timer callbacks (earliest deadline first, FIFO for equal deadlines)
//  2. Submitted tasks ([Loop.Submit], [Loop.SetImmediate])
//  3. Microtasks, drained after each macrotask
//  4. Idle callbacks ([Loop.RequestIdleCallback]), only when nothing else ran
//
// Animation frame callbacks are timers aligned to the frame interval (see
// [WithFrameInterval]).
//
// # Thread Safety
//
// All scheduling and cancellation methods are safe to call from any
// goroutine. Panics raised by callbacks are recovered, and logged at the
// warning level, if a logger was provided via [WithLogger].
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	loop.SetTimeout(func() {
//	    fmt.Println("Hello after 100ms")
//	    loop.Close()
//	}, 100*time.Millisecond)
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package eventloop
