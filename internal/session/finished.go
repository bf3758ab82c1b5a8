package session

import (
	"sync"

	"genstudio/internal/domain"
)

const finishedCapacity = 256

// finished keeps the last terminal snapshots of a session. The orchestrator
// forgets tasks once they settle; views still want to read them back.
type finished struct {
	mu    sync.Mutex
	order []string
	tasks map[string]domain.GenerationTask
}

func newFinished() *finished {
	return &finished{tasks: make(map[string]domain.GenerationTask)}
}

func (f *finished) add(task domain.GenerationTask) {
	key := task.Key()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[key]; !ok {
		f.order = append(f.order, key)
	}
	f.tasks[key] = task.Clone()
	for len(f.order) > finishedCapacity {
		delete(f.tasks, f.order[0])
		f.order = f.order[1:]
	}
}

func (f *finished) get(key string) (domain.GenerationTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[key]
	if !ok {
		return domain.GenerationTask{}, false
	}
	return t.Clone(), true
}

func (f *finished) list() []domain.GenerationTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.GenerationTask, 0, len(f.order))
	for _, key := range f.order {
		out = append(out, f.tasks[key].Clone())
	}
	return out
}
