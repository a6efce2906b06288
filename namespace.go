package async

import (
	"strings"
)

// Namespace identifies a kind of tracked operation. The catalogue is fixed,
// and each namespace has its own [Engine], and task registry, per
// [Controller].
type Namespace uint8

const (
	NamespaceTimeout Namespace = iota
	NamespaceTimeoutPromise
	NamespaceInterval
	NamespaceImmediate
	NamespaceImmediatePromise
	NamespaceIdleCallback
	NamespaceIdleCallbackPromise
	NamespaceAnimationFrame
	NamespaceAnimationFramePromise
	NamespaceEventListener
	NamespaceEventListenerPromise
	NamespaceWorker
	NamespaceProxy
	NamespaceIterable
	NamespacePromise

	namespaceCount
)

type namespaceInfo struct {
	name            string
	supportsMute    bool
	supportsSuspend bool
	promisified     bool
}

var namespaces = [namespaceCount]namespaceInfo{
	NamespaceTimeout:               {name: "timeout", supportsMute: true, supportsSuspend: true},
	NamespaceTimeoutPromise:        {name: "timeoutPromise", promisified: true},
	NamespaceInterval:              {name: "interval", supportsMute: true, supportsSuspend: true},
	NamespaceImmediate:             {name: "immediate", supportsMute: true, supportsSuspend: true},
	NamespaceImmediatePromise:      {name: "immediatePromise", promisified: true},
	NamespaceIdleCallback:          {name: "idleCallback", supportsMute: true, supportsSuspend: true},
	NamespaceIdleCallbackPromise:   {name: "idleCallbackPromise", promisified: true},
	NamespaceAnimationFrame:        {name: "animationFrame", supportsMute: true, supportsSuspend: true},
	NamespaceAnimationFramePromise: {name: "animationFramePromise", promisified: true},
	NamespaceEventListener:         {name: "eventListener", supportsMute: true, supportsSuspend: true},
	NamespaceEventListenerPromise:  {name: "eventListenerPromise", promisified: true},
	NamespaceWorker:                {name: "worker"},
	NamespaceProxy:                 {name: "proxy", supportsMute: true, supportsSuspend: true},
	NamespaceIterable:              {name: "iterable", supportsMute: true, supportsSuspend: true},
	NamespacePromise:               {name: "promise", supportsSuspend: true},
}

// String returns the camel case name of the namespace, e.g. "idleCallback".
func (ns Namespace) String() string {
	if !ns.valid() {
		return "unknown"
	}
	return namespaces[ns].name
}

// SupportsMute reports whether muting has an observable effect on tasks in
// the namespace.
func (ns Namespace) SupportsMute() bool { return ns.valid() && namespaces[ns].supportsMute }

// SupportsSuspend reports whether suspending has an observable effect on
// tasks in the namespace.
func (ns Namespace) SupportsSuspend() bool { return ns.valid() && namespaces[ns].supportsSuspend }

// Promisified reports whether the namespace is a promise flavoured variant,
// which only supports clearing. Bulk operations skip promisified namespaces
// that lack a handler.
func (ns Namespace) Promisified() bool { return ns.valid() && namespaces[ns].promisified }

func (ns Namespace) valid() bool { return ns < namespaceCount }

func (ns Namespace) bit() uint32 { return 1 << ns }

// op is one of the five operations an [Engine] implements.
type op uint8

const (
	opClear op = iota
	opMute
	opUnmute
	opSuspend
	opUnsuspend
)

func (o op) String() string {
	switch o {
	case opClear:
		return "clear"
	case opMute:
		return "mute"
	case opUnmute:
		return "unmute"
	case opSuspend:
		return "suspend"
	case opUnsuspend:
		return "unsuspend"
	default:
		return "unknown"
	}
}

// opName builds the per-namespace operation name, e.g. "muteWorker".
func opName(o op, ns Namespace) string {
	name := ns.String()
	return o.String() + strings.ToUpper(name[:1]) + name[1:]
}
