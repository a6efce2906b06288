package async

import (
	"regexp"
)

// Target selects the tasks an operation applies to. It is implemented by
// [Filter] and [*Task].
type Target interface {
	target()
}

// Filter matches tasks by group, group pattern, or label. The zero Filter
// matches every task, as does setting All.
//
// Fields are evaluated in priority order, with only the highest priority
// field considered: All, GroupPattern, Group, then Label. Note that Label is
// ignored if Group is also set.
type Filter struct {
	// GroupPattern matches tasks with a non-empty group matching the pattern.
	GroupPattern *regexp.Regexp

	// Group matches tasks with exactly this group.
	Group string

	// Label matches the task with this label.
	Label Key

	// All matches every task.
	All bool
}

func (Filter) target() {}

func (f Filter) all() bool {
	return f.All || (f.GroupPattern == nil && f.Group == "" && f.Label.IsZero())
}

// match reports whether t matches, and the reason to report if it is
// cleared as a result.
func (f Filter) match(t *Task) (Reason, bool) {
	switch {
	case f.all():
		return ReasonAll, true
	case f.GroupPattern != nil:
		return ReasonRegexp, t.group != "" && f.GroupPattern.MatchString(t.group)
	case f.Group != "":
		return ReasonGroup, t.group == f.Group
	default:
		return ReasonLabel, t.label == f.Label
	}
}
