package generation

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

// DefaultPollInterval is the delay between two status checks of a task.
const DefaultPollInterval = 5 * time.Second

// Scheduler owns one poll loop per awaiting task. A loop waits for its timer,
// performs one status check, applies the result and only then re-arms the
// timer, so checks of one task never overlap.
type Scheduler struct {
	registry   *Registry
	provider   domain.ProviderClient
	normalizer Normalizer
	interval   time.Duration
	jitter     float64
	budget     func(domain.Kind) time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *Metrics
	// settle runs outside all locks after a tick changed the task status.
	settle func(e *entry, ev Event)

	wg sync.WaitGroup
}

// Start launches the poll loop of e.
func (s *Scheduler) Start(e *entry) {
	s.wg.Add(1)
	go s.run(e)
}

// Wait blocks until every poll loop returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(e *entry) {
	defer s.wg.Done()
	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-timer.C:
		}
		ev, changed, stop := s.tick(e)
		if changed {
			s.settle(e, ev)
		}
		if stop {
			return
		}
		timer.Reset(s.nextDelay())
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.jitter <= 0 || s.interval <= 0 {
		return s.interval
	}
	spread := int64(float64(s.interval) * s.jitter)
	if spread <= 0 {
		return s.interval
	}
	return s.interval + time.Duration(rand.Int63n(spread))
}

// tick performs one status check. stop is true once the task is terminal
// or no longer tracked.
func (s *Scheduler) tick(e *entry) (ev Event, changed, stop bool) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	if e.ctx.Err() != nil {
		return Event{}, false, true
	}
	s.registry.mu.Lock()
	id := e.task.ID
	kind := e.task.Kind
	active := e.task.Status.Awaiting() && s.registry.entries[id] == e
	s.registry.mu.Unlock()
	if !active {
		return Event{}, false, true
	}

	report, err := s.provider.CheckStatus(e.ctx, id)
	if e.ctx.Err() != nil {
		// Cancelled while the check was in flight; the answer is discarded.
		return Event{}, false, true
	}
	now := s.now()

	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	prev := e.task.Status
	polledAt := now
	e.task.LastPolledAt = &polledAt

	log := s.logger.With().Str("task_id", id).Str("kind", string(kind)).Logger()
	if err != nil {
		s.metrics.pollError(kind)
		log.Warn().Err(err).
			Str("error_kind", string(domain.ErrorTransientPoll)).
			Msg("scheduler: status check failed, will retry")
	} else {
		n := s.normalizer.NormalizeReport(report)
		if n.Outcome == OutcomeUnknown {
			log.Warn().Str("provider_status", n.Status).Msg("scheduler: unrecognised provider status")
		}
		if _, obsErr := s.registry.machine.Observe(&e.task, n); obsErr != nil {
			log.Error().Err(obsErr).Msg("scheduler: apply poll result")
		}
	}

	if e.task.Status.Awaiting() {
		if budget := s.budget(kind); budget > 0 && now.Sub(e.task.CreatedAt) > budget {
			if expErr := s.registry.machine.Expire(&e.task, budget); expErr != nil {
				log.Error().Err(expErr).Msg("scheduler: expire task")
			}
		}
	}

	if e.task.Status == prev {
		return Event{}, false, false
	}
	log.Debug().
		Str("from", string(prev)).
		Str("status", string(e.task.Status)).
		Msg("scheduler: task transitioned")
	return Event{Task: e.task.Clone(), Previous: prev}, true, e.task.Status.Terminal()
}
