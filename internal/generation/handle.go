package generation

import (
	"sync"

	"genstudio/internal/domain"
)

// Event describes one status change of a task.
type Event struct {
	Task     domain.GenerationTask `json:"task"`
	Previous domain.Status         `json:"previous,omitempty"`
	// Notice carries a non-blocking PersistenceFailure on a Completed event.
	Notice *domain.TaskError `json:"notice,omitempty"`
}

// Terminal reports whether this is the last event of the task.
func (e Event) Terminal() bool {
	return e.Task.Status.Terminal()
}

// Listener receives task events. Listeners of one task run sequentially on
// a dedicated goroutine, in transition order, and may call back into the
// orchestrator.
type Listener func(Event)

// feed queues events of a single task and delivers them in order. The
// terminal event is delivered exactly once to every listener, including
// listeners that subscribe after it was emitted.
type feed struct {
	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	queue     []Event
	sealed    bool
	final     *Event
	wake      chan struct{}
	done      chan struct{}
}

func newFeed() *feed {
	f := &feed{
		listeners: make(map[uint64]Listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go f.loop()
	return f
}

// push enqueues ev. Events after the terminal one are dropped.
func (f *feed) push(ev Event) {
	f.mu.Lock()
	if f.sealed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, ev)
	if ev.Terminal() {
		f.sealed = true
	}
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) loop() {
	for range f.wake {
		for {
			f.mu.Lock()
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			ev := f.queue[0]
			f.queue = f.queue[1:]
			listeners := make([]Listener, 0, len(f.listeners))
			for _, l := range f.listeners {
				listeners = append(listeners, l)
			}
			if ev.Terminal() {
				final := ev
				f.final = &final
				f.listeners = nil
			}
			f.mu.Unlock()

			for _, l := range listeners {
				l(ev)
			}
			if ev.Terminal() {
				close(f.done)
				return
			}
		}
	}
}

func (f *feed) subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	f.mu.Lock()
	if f.final != nil {
		ev := *f.final
		f.mu.Unlock()
		l(ev)
		return func() {}
	}
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// TaskHandle is the caller's view of a submitted task.
type TaskHandle struct {
	entry *entry
	orch  *Orchestrator
}

// ID returns the provider task id, or the local key if the task never got one.
func (h *TaskHandle) ID() string {
	return h.Snapshot().Key()
}

// Snapshot returns a copy of the current task state.
func (h *TaskHandle) Snapshot() domain.GenerationTask {
	return h.orch.registry.snapshotOf(h.entry)
}

// Subscribe registers l for future events and returns a function that
// removes it.
func (h *TaskHandle) Subscribe(l Listener) func() {
	return h.entry.feed.subscribe(l)
}

// Done is closed once the terminal event was delivered to listeners.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.entry.feed.done
}

// Cancel stops local polling of the task. See Orchestrator.CancelLocal.
func (h *TaskHandle) Cancel() bool {
	return h.orch.registry.cancelEntry(h.entry)
}
