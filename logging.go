package async

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// NewJSONLogger returns a logger writing newline delimited JSON to w, at or
// above level.
func NewJSONLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// logTask adds the standard task fields. The builder may be nil.
func (c *Controller) logTask(b *logiface.Builder[logiface.Event], t *Task) *logiface.Builder[logiface.Event] {
	if !b.Enabled() {
		return b
	}
	b = b.Str("namespace", t.namespace.String()).
		Int64("task", int64(t.id))
	if t.group != "" {
		b = b.Str("group", t.group)
	}
	if !t.label.IsZero() {
		b = b.Str("label", t.label.String())
	}
	return b
}

// logFault logs a callback fault at the error level, subject to the per
// namespace rate limit.
func (c *Controller) logFault(t *Task, err error, msg string) {
	b := c.logger.Err()
	if !b.Enabled() {
		return
	}
	if _, ok := c.faults.Allow(t.namespace); !ok {
		b.Release()
		return
	}
	c.logTask(b, t).Err(err).Log(msg)
}
