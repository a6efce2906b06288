package async

import (
	"maps"
	"slices"
)

// registry is the bookkeeping for a single namespace of a single
// controller. It is guarded by Controller.mu.
//
// Invariants: at most one task per id, and at most one live task per label.
type registry struct {
	links  map[uint64]*Task
	labels map[Key]uint64

	// namespace-wide flags, applying to current and future tasks
	muted     bool
	suspended bool
}

func newRegistry() *registry {
	return &registry{
		links:  make(map[uint64]*Task),
		labels: make(map[Key]uint64),
	}
}

func (r *registry) add(t *Task) {
	r.links[t.id] = t
	if !t.label.IsZero() {
		r.labels[t.label] = t.id
	}
}

// byLabel returns the live task registered under label, or nil.
func (r *registry) byLabel(label Key) *Task {
	if label.IsZero() {
		return nil
	}
	id, ok := r.labels[label]
	if !ok {
		return nil
	}
	t := r.links[id]
	if t == nil || t.unregistered {
		return nil
	}
	return t
}

func (r *registry) removeByID(id uint64) {
	t, ok := r.links[id]
	if !ok {
		return
	}
	delete(r.links, id)
	// the label may already be held by a replacement
	if !t.label.IsZero() && r.labels[t.label] == id {
		delete(r.labels, t.label)
	}
}

func (r *registry) removeByLabel(label Key) {
	if id, ok := r.labels[label]; ok {
		r.removeByID(id)
	}
}

// tasks returns the live tasks in registration order.
func (r *registry) tasks() []*Task {
	ids := slices.Sorted(maps.Keys(r.links))
	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if t := r.links[id]; !t.unregistered {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (r *registry) len() int {
	return len(r.links)
}
