// Package async tracks asynchronous operations, scheduled on an
// [eventloop.Loop], so they can be cleared, muted, or suspended, in bulk.
//
// A [Controller] keeps one registry per [Namespace], e.g. timeouts, event
// listeners, or workers. Every registration returns a [*Task], which may be
// tagged with a group, and a label. Labels are unique per namespace, see
// [Join].
//
// Operations target a single task, or a [Filter]:
//
//	// stop everything started by the "poll" group
//	err := c.ClearAll(async.Filter{Group: "poll"})
//
//	// pause timers, replaying them once resumed
//	err = c.Suspend(async.NamespaceTimeout, async.Filter{})
//	err = c.Unsuspend(async.NamespaceTimeout, async.Filter{})
//
// Each namespace is driven by an [Engine], which may be replaced using
// [WithEngine]. Operations requiring a handler the engine lacks fail with
// [*MissingHandlerError].
//
// # Mute and suspend
//
// Muting drops callbacks, while suspending defers them (the exact behaviour
// depends on the namespace). A task is muted or suspended if it was targeted
// directly, or if a filter matching every task was applied to its namespace.
// Neither affects workers, and promisified namespaces (e.g. [Controller.Sleep])
// support clearing only.
//
// # Callbacks
//
// Timer and listener callbacks run on the loop. Hooks run on the calling
// goroutine, and may call back into the controller. Panics within callbacks
// are recovered, delivered to any [OnError] hooks, and logged, subject to a
// rate limit (see [WithFaultLogRates]).
package async
