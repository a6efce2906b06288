// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultFaultLogRates limits the logging of callback faults, per namespace.
var DefaultFaultLogRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// controllerOptions holds configuration options for Controller creation.
type controllerOptions struct {
	logger    *logiface.Logger[logiface.Event]
	workers   *WorkerRegistry
	faults    *catrate.Limiter
	engines   [namespaceCount]Engine
	override  [namespaceCount]bool
	faultsSet bool
}

// --- Controller Options ---

// Option configures a [Controller].
type Option interface {
	applyController(*controllerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyControllerFunc func(*controllerOptions) error
}

func (o *optionImpl) applyController(opts *controllerOptions) error {
	return o.applyControllerFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *controllerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithWorkerRegistry replaces the process-wide [WorkerRegistry], scoping the
// at-most-once destruction guarantee to controllers sharing registry.
func WithWorkerRegistry(registry *WorkerRegistry) Option {
	return &optionImpl{func(opts *controllerOptions) error {
		if registry == nil {
			return fmt.Errorf("async: nil worker registry")
		}
		opts.workers = registry
		return nil
	}}
}

// WithEngine replaces the dispatch table of a namespace. Operations
// requiring a nil handler fail with [*MissingHandlerError].
func WithEngine(ns Namespace, engine Engine) Option {
	return &optionImpl{func(opts *controllerOptions) error {
		if !ns.valid() {
			return fmt.Errorf("async: invalid namespace: %d", ns)
		}
		opts.engines[ns] = engine
		opts.override[ns] = true
		return nil
	}}
}

// WithFaultLogRates configures the per-namespace rate limit applied to the
// logging of callback faults. The rates must be valid for
// [catrate.NewLimiter]. An empty map disables rate limiting.
func WithFaultLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *controllerOptions) (err error) {
		opts.faultsSet = true
		if len(rates) == 0 {
			opts.faults = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("async: invalid fault log rates: %v", r)
			}
		}()
		opts.faults = catrate.NewLimiter(rates)
		return nil
	}}
}

// resolveOptions applies Option instances to controllerOptions.
func resolveOptions(opts []Option) (*controllerOptions, error) {
	cfg := &controllerOptions{
		workers: DefaultWorkerRegistry(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyController(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.faultsSet {
		cfg.faults = catrate.NewLimiter(DefaultFaultLogRates)
	}
	defaults := defaultEngines()
	for ns := range namespaceCount {
		if !cfg.override[ns] {
			cfg.engines[ns] = defaults[ns]
		}
	}
	return cfg, nil
}

// --- Task Options ---

// JoinPolicy controls label collisions, see [Join].
type JoinPolicy uint8

const (
	// JoinDefault clears the existing task, with [ReasonCollision].
	JoinDefault JoinPolicy = iota
	// JoinReplace behaves identically to JoinDefault.
	JoinReplace
	// JoinTrue keeps the existing task. No new task is registered, and
	// nothing is scheduled. The [OnMerge] hooks of the new registration are
	// called, and the existing task is returned.
	JoinTrue
)

type taskConfig struct {
	label       Key
	group       string
	onClear     []func(*ClearError)
	onComplete  []func()
	onMerge     []func(*Task)
	onError     []func(error)
	clear       func() error
	single      *bool
	idleTimeout time.Duration
	join        JoinPolicy
	// reports if an existing task may be joined, set by typed registrations
	joinable func(*Task) bool
}

// TaskOption configures the registration of a [Task].
type TaskOption interface {
	applyTask(*taskConfig)
}

type taskOptionImpl struct {
	applyTaskFunc func(*taskConfig)
}

func (o *taskOptionImpl) applyTask(cfg *taskConfig) {
	o.applyTaskFunc(cfg)
}

// WithGroup tags the task, for use with [Filter.Group] and
// [Filter.GroupPattern].
func WithGroup(group string) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		cfg.group = group
	}}
}

// WithLabel registers the task under a label, unique per namespace. See
// [Join] for collision handling.
func WithLabel(label Key) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		cfg.label = label
	}}
}

// Join sets the label collision policy.
func Join(policy JoinPolicy) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		cfg.join = policy
	}}
}

// Single sets whether the task completes after its first invocation.
// Applies to proxies (default true) and event listeners (default false).
func Single(single bool) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		cfg.single = &single
	}}
}

// OnClear adds a hook, called once if the task is cleared. Hooks are called
// in the order they were added, before the task is removed from its
// registry.
func OnClear(fn func(err *ClearError)) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		if fn != nil {
			cfg.onClear = append(cfg.onClear, fn)
		}
	}}
}

// OnComplete adds a hook, called once if the task completes naturally.
func OnComplete(fn func()) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		if fn != nil {
			cfg.onComplete = append(cfg.onComplete, fn)
		}
	}}
}

// OnMerge adds a hook, called with the existing task, if this registration is
// joined with it. See [JoinTrue].
func OnMerge(fn func(existing *Task)) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		if fn != nil {
			cfg.onMerge = append(cfg.onMerge, fn)
		}
	}}
}

// OnError adds a hook, called with a [*PanicError] whenever a callback of
// the task panics.
func OnError(fn func(err error)) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		if fn != nil {
			cfg.onError = append(cfg.onError, fn)
		}
	}}
}

// WithClear replaces the native cancel of the task, e.g. to release an
// external resource. Errors are logged.
func WithClear(fn func() error) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		cfg.clear = fn
	}}
}

// IdleTimeout forces an idle callback to run once d elapses, even if the
// loop never idles.
func IdleTimeout(d time.Duration) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) {
		cfg.idleTimeout = d
	}}
}

func resolveTaskOptions(opts []TaskOption) *taskConfig {
	cfg := &taskConfig{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyTask(cfg)
	}
	return cfg
}

func (cfg *taskConfig) singleOr(def bool) bool {
	if cfg.single == nil {
		return def
	}
	return *cfg.single
}
