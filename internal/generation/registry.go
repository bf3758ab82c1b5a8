package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"genstudio/internal/domain"
)

var (
	// ErrDuplicateKey is returned when a key is already tracked.
	ErrDuplicateKey = errors.New("generation: duplicate task key")
	// ErrClosed is returned by Register once the registry is closed.
	ErrClosed = errors.New("generation: registry closed")
)

// entry is the registry record of one task. task is guarded by Registry.mu;
// pollMu is held across a whole status check so cancellation can wait for
// an in-flight provider call.
type entry struct {
	task   domain.GenerationTask
	req    domain.GenerationRequest
	ctx    context.Context
	cancel context.CancelFunc
	pollMu sync.Mutex
	feed   *feed
}

func newEntry(task domain.GenerationTask, req domain.GenerationRequest) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &entry{task: task, req: req, ctx: ctx, cancel: cancel, feed: newFeed()}
}

// Registry tracks the in-flight tasks of one consumer.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	closed   bool
	machine  StateMachine
	onCancel func(task domain.GenerationTask, prev domain.Status)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register starts tracking e under its current key.
func (r *Registry) Register(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	key := e.task.Key()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	r.entries[key] = e
	return nil
}

// Get returns a snapshot of the task tracked under key.
func (r *Registry) Get(key string) (domain.GenerationTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return domain.GenerationTask{}, false
	}
	return e.task.Clone(), true
}

func (r *Registry) lookup(key string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *Registry) snapshotOf(e *entry) domain.GenerationTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.task.Clone()
}

// Remove stops tracking key. It does not touch the task's poll loop.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

func (r *Registry) removeEntryLocked(e *entry) {
	for _, key := range []string{e.task.ID, e.task.LocalKey} {
		if key != "" && r.entries[key] == e {
			delete(r.entries, key)
		}
	}
}

// Rekey moves a tracked task from oldKey to newKey.
func (r *Registry) Rekey(oldKey, newKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rekeyLocked(oldKey, newKey)
}

func (r *Registry) rekeyLocked(oldKey, newKey string) error {
	e, ok := r.entries[oldKey]
	if !ok {
		return fmt.Errorf("generation: rekey %s: %w", oldKey, domain.ErrNotFound)
	}
	if oldKey == newKey {
		return nil
	}
	if _, exists := r.entries[newKey]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, newKey)
	}
	delete(r.entries, oldKey)
	r.entries[newKey] = e
	return nil
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns copies of every tracked task, oldest first.
func (r *Registry) Snapshot() []domain.GenerationTask {
	r.mu.Lock()
	out := make([]domain.GenerationTask, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.task.Clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LocalKey < out[j].LocalKey
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// TeardownAll cancels every tracked task, clears the registry and returns
// how many tasks were still active. When it returns no status check of a
// previously tracked task is running and none will start.
func (r *Registry) TeardownAll() int {
	return r.teardown(false)
}

// Close refuses further registrations and tears down every tracked task.
// A Register racing with Close either fails or is torn down by it.
func (r *Registry) Close() int {
	return r.teardown(true)
}

func (r *Registry) teardown(closing bool) int {
	r.mu.Lock()
	if closing {
		r.closed = true
	}
	entries := make([]*entry, 0, len(r.entries))
	active := 0
	for _, e := range r.entries {
		e.cancel()
		if !e.task.Status.Terminal() {
			active++
		}
		entries = append(entries, e)
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		r.cancelEntry(e)
	}
	return active
}

// cancelEntry stops e's poll loop and marks it CancelledLocally. Only the
// first call for a task has an effect.
func (r *Registry) cancelEntry(e *entry) bool {
	e.cancel()
	e.pollMu.Lock()
	r.mu.Lock()
	prev := e.task.Status
	changed := r.machine.CancelLocally(&e.task)
	if changed {
		r.removeEntryLocked(e)
	}
	snap := e.task.Clone()
	r.mu.Unlock()
	e.pollMu.Unlock()

	if !changed {
		return false
	}
	if r.onCancel != nil {
		r.onCancel(snap, prev)
	}
	e.feed.push(Event{Task: snap, Previous: prev})
	return true
}
