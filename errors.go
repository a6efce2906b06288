// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrMissingHandler is matched by [*MissingHandlerError], which is
	// returned when an operation targets a namespace whose [Engine] lacks the
	// required handler.
	ErrMissingHandler = errors.New("async: missing handler")

	// ErrCleared is matched by [*ClearError], delivered when a task is
	// cleared.
	ErrCleared = errors.New("async: cleared")

	// ErrClosed is returned when registering with a closed [Controller].
	ErrClosed = errors.New("async: controller closed")

	// ErrNilLoop is returned by [New] when the loop is nil.
	ErrNilLoop = errors.New("async: nil loop")

	// ErrUnsupportedWorker is returned by [Controller.Worker] for values
	// that are not comparable, or that lack a destroy capability.
	ErrUnsupportedWorker = errors.New("async: unsupported worker")

	// ErrNilCallback is returned when registering a nil callback.
	ErrNilCallback = errors.New("async: nil callback")

	// ErrPending is returned by [Future.Result] before the future settles.
	ErrPending = errors.New("async: future pending")

	// ErrTypeMismatch is returned when joining a labeled task registered
	// with a different type parameter.
	ErrTypeMismatch = errors.New("async: type mismatch")
)

// Reason describes why a task was cleared.
type Reason string

const (
	// ReasonAll indicates a filter matching every task.
	ReasonAll Reason = "all"
	// ReasonGroup indicates a match on [Filter.Group].
	ReasonGroup Reason = "group"
	// ReasonRegexp indicates a match on [Filter.GroupPattern].
	ReasonRegexp Reason = "rgxp"
	// ReasonLabel indicates a match on [Filter.Label].
	ReasonLabel Reason = "label"
	// ReasonCollision indicates replacement by a task registered under the
	// same label.
	ReasonCollision Reason = "collision"
	// ReasonID indicates the task was targeted directly.
	ReasonID Reason = "id"
)

// ClearErrorType is the value of [ClearError.Type].
const ClearErrorType = "clearAsync"

// ClearError is passed to [OnClear] hooks, and used to reject the pending
// operations of cleared tasks.
type ClearError struct {
	Type      string
	Reason    Reason
	Namespace Namespace
}

func (e *ClearError) Error() string {
	return fmt.Sprintf("async: %s cleared (%s)", e.Namespace, e.Reason)
}

// Is returns true for [ErrCleared].
func (e *ClearError) Is(target error) bool {
	return target == ErrCleared
}

// MissingHandlerError names the handler an operation required.
type MissingHandlerError struct {
	// Op is the per-namespace operation name, e.g. "muteTimeout".
	Op        string
	Namespace Namespace
}

func (e *MissingHandlerError) Error() string {
	return "async: missing handler: " + e.Op
}

// Is returns true for [ErrMissingHandler].
func (e *MissingHandlerError) Is(target error) bool {
	return target == ErrMissingHandler
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("async: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// catch runs fn, converting any panic into a *PanicError.
func catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	fn()
	return nil
}
