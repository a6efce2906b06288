// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultFrameInterval approximates a 60Hz display refresh.
	DefaultFrameInterval = time.Second / 60

	// DefaultIdleDeadline is the budget reported to idle callbacks, matching
	// the 50ms cap used by browsers.
	DefaultIdleDeadline = 50 * time.Millisecond
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger        *logiface.Logger[logiface.Event]
	frameInterval time.Duration
	idleDeadline  time.Duration
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger, used to report panicking tasks.
// A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithFrameInterval sets the period that [Loop.RequestAnimationFrame]
// callbacks are aligned to.
func WithFrameInterval(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return &RangeError{Message: fmt.Sprintf("eventloop: invalid frame interval: %s", d)}
		}
		opts.frameInterval = d
		return nil
	}}
}

// WithIdleDeadline sets the time budget reported to idle callbacks via
// [IdleDeadline.TimeRemaining].
func WithIdleDeadline(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return &RangeError{Message: fmt.Sprintf("eventloop: invalid idle deadline: %s", d)}
		}
		opts.idleDeadline = d
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		frameInterval: DefaultFrameInterval,
		idleDeadline:  DefaultIdleDeadline,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
