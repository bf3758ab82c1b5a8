package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"genstudio/internal/domain"
)

const testInterval = 2 * time.Millisecond

var errNetwork = errors.New("dial tcp: connection reset by peer")

type pollStep struct {
	report domain.StatusReport
	err    error
}

func status(s string) pollStep {
	return pollStep{report: domain.StatusReport{Raw: map[string]any{"status": s}}}
}

func raw(m map[string]any) pollStep {
	return pollStep{report: domain.StatusReport{Raw: m}}
}

func failure(err error) pollStep {
	return pollStep{err: err}
}

// scriptedProvider replays a per-task script of poll answers and repeats the
// last step once the script is exhausted.
type scriptedProvider struct {
	mu        sync.Mutex
	createErr error
	ids       []string
	created   int
	scripts   map[string][]pollStep
	checks    map[string]int
	inFlight  map[string]int
	overlap   bool
	delay     time.Duration
}

func newScriptedProvider(ids ...string) *scriptedProvider {
	return &scriptedProvider{
		ids:      ids,
		scripts:  make(map[string][]pollStep),
		checks:   make(map[string]int),
		inFlight: make(map[string]int),
	}
}

func (p *scriptedProvider) script(id string, steps ...pollStep) *scriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[id] = steps
	return p
}

func (p *scriptedProvider) Create(ctx context.Context, kind domain.Kind, payload domain.Payload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	if p.created >= len(p.ids) {
		return "", fmt.Errorf("no task id scripted for call %d", p.created+1)
	}
	id := p.ids[p.created]
	p.created++
	return id, nil
}

func (p *scriptedProvider) CheckStatus(ctx context.Context, taskID string) (domain.StatusReport, error) {
	p.mu.Lock()
	n := p.checks[taskID]
	p.checks[taskID] = n + 1
	p.inFlight[taskID]++
	if p.inFlight[taskID] > 1 {
		p.overlap = true
	}
	steps := p.scripts[taskID]
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	p.inFlight[taskID]--
	p.mu.Unlock()

	if len(steps) == 0 {
		return domain.StatusReport{Raw: map[string]any{"status": "processing"}}, nil
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n].report, steps[n].err
}

func (p *scriptedProvider) createCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func (p *scriptedProvider) checkCalls(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks[id]
}

func (p *scriptedProvider) totalChecks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.checks {
		total += n
	}
	return total
}

type recordingStore struct {
	mu    sync.Mutex
	err   error
	saved []domain.Artifact
}

func (s *recordingStore) SaveArtifact(ctx context.Context, artifact domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, artifact)
	return s.err
}

func (s *recordingStore) artifacts() []domain.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Artifact(nil), s.saved...)
}

// eventLog collects events delivered to a listener.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) statuses() []domain.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Status, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Task.Status)
	}
	return out
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return Event{}
	}
	return l.events[len(l.events)-1]
}

func newTestOrchestrator(t *testing.T, provider domain.ProviderClient, store domain.ArtifactStore, mutate ...func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		Provider:     provider,
		PollInterval: testInterval,
		WaitBudgets:  map[domain.Kind]time.Duration{},
	}
	if store != nil {
		opts.Store = store
	}
	for _, kind := range domain.Kinds {
		opts.WaitBudgets[kind] = time.Minute
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	orch, err := New(opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		orch.TeardownAll()
		orch.Wait()
	})
	return orch
}

func imageRequest(prompt string) domain.GenerationRequest {
	return domain.GenerationRequest{
		Kind:    domain.KindImage,
		Payload: domain.Payload{Prompt: prompt},
		Owner:   domain.OwnerContext{UserID: "user-1", PersonaID: "persona-9"},
	}
}

func waitDone(t *testing.T, h *TaskHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not finish, status %s", h.ID(), h.Snapshot().Status)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
