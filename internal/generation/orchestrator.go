package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

const defaultPersistTimeout = 30 * time.Second

// DefaultWaitBudgets bounds how long each kind may await its provider.
var DefaultWaitBudgets = map[domain.Kind]time.Duration{
	domain.KindImage:  5 * time.Minute,
	domain.KindVideo:  20 * time.Minute,
	domain.KindVoice:  3 * time.Minute,
	domain.KindMusic:  10 * time.Minute,
	domain.KindBlend:  5 * time.Minute,
	domain.KindAction: 5 * time.Minute,
}

// Options configures an Orchestrator.
type Options struct {
	Provider domain.ProviderClient
	// Store is optional; without it completed tasks are not persisted.
	Store domain.ArtifactStore

	PollInterval time.Duration
	// PollJitter adds up to PollJitter*PollInterval of random delay per tick.
	PollJitter  float64
	WaitBudgets map[domain.Kind]time.Duration
	// QueuedStatuses keeps Pending tasks in Pending while the provider
	// reports one of these strings.
	QueuedStatuses []string
	Normalizer     *Normalizer
	PersistTimeout time.Duration

	Logger  *infra.Logger
	Metrics *Metrics
	Clock   func() time.Time
}

// Orchestrator is the entry point used by hosts: it submits requests,
// tracks them until a terminal status and persists completed artifacts.
type Orchestrator struct {
	provider       domain.ProviderClient
	store          domain.ArtifactStore
	registry       *Registry
	scheduler      *Scheduler
	machine        StateMachine
	persistTimeout time.Duration
	logger         zerolog.Logger
	metrics        *Metrics
	now            func() time.Time
}

// New builds an orchestrator with its own registry.
func New(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("generation: provider client is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	budgets := make(map[domain.Kind]time.Duration, len(DefaultWaitBudgets))
	for kind, d := range DefaultWaitBudgets {
		budgets[kind] = d
	}
	for kind, d := range opts.WaitBudgets {
		budgets[kind] = d
	}
	normalizer := DefaultNormalizer()
	if opts.Normalizer != nil {
		normalizer = *opts.Normalizer
	}
	if len(opts.QueuedStatuses) > 0 {
		normalizer.Vocabulary.Queued = append([]string(nil), opts.QueuedStatuses...)
	}
	persistTimeout := opts.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = zerolog.New(io.Discard)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		provider:       opts.Provider,
		store:          opts.Store,
		registry:       NewRegistry(),
		persistTimeout: persistTimeout,
		logger:         logger,
		metrics:        opts.Metrics,
		now:            now,
	}
	o.registry.onCancel = o.cancelled
	o.scheduler = &Scheduler{
		registry:   o.registry,
		provider:   opts.Provider,
		normalizer: normalizer,
		interval:   interval,
		jitter:     opts.PollJitter,
		budget:     func(k domain.Kind) time.Duration { return budgets[k] },
		now:        now,
		logger:     logger,
		metrics:    opts.Metrics,
		settle:     o.settle,
	}
	return o, nil
}

// Registry exposes the task registry of this orchestrator.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Submit validates req, creates the task upstream and starts polling it.
// Invalid requests and provider refusals return a SubmissionRejected error
// and leave nothing registered. listeners are subscribed before the first
// event is emitted.
func (o *Orchestrator) Submit(ctx context.Context, req domain.GenerationRequest, listeners ...Listener) (*TaskHandle, error) {
	if err := Validate(req); err != nil {
		o.logger.Info().Err(err).Str("kind", string(req.Kind)).Msg("orchestrator: request rejected")
		return nil, err
	}

	e := newEntry(domain.GenerationTask{
		LocalKey:     uuid.NewString(),
		Kind:         req.Kind,
		Status:       domain.StatusSubmitting,
		CreatedAt:    o.now(),
		OriginPrompt: originPrompt(req),
		Owner:        req.Owner,
	}, req)
	for _, l := range listeners {
		e.feed.subscribe(l)
	}
	if err := o.registry.Register(e); err != nil {
		e.cancel()
		rejection := domain.Rejected(err, "register task: %v", err)
		_ = o.machine.Reject(&e.task, rejection)
		e.feed.push(Event{Task: e.task.Clone(), Previous: domain.StatusSubmitting})
		return nil, rejection
	}
	handle := &TaskHandle{entry: e, orch: o}

	createCtx, cancelCreate := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancelCreate)
	id, err := o.provider.Create(createCtx, req.Kind, req.Payload)
	stop()
	cancelCreate()
	id = strings.TrimSpace(id)
	if err == nil && id == "" {
		err = errors.New("provider returned an empty task id")
	}

	o.registry.mu.Lock()
	if e.ctx.Err() != nil {
		// Cancelled while the create call was in flight.
		o.registry.mu.Unlock()
		o.registry.cancelEntry(e)
		return handle, nil
	}
	if err == nil {
		err = o.registry.rekeyLocked(e.task.LocalKey, id)
	}
	if err != nil {
		rejection := domain.Rejected(err, "provider refused task: %v", err)
		_ = o.machine.Reject(&e.task, rejection)
		o.registry.removeEntryLocked(e)
		snap := e.task.Clone()
		o.registry.mu.Unlock()
		e.cancel()
		o.metrics.finish(snap, false)
		o.logger.Warn().Err(err).
			Str("kind", string(req.Kind)).
			Str("owner_id", req.Owner.UserID).
			Msg("orchestrator: provider refused task")
		e.feed.push(Event{Task: snap, Previous: domain.StatusSubmitting})
		return nil, rejection
	}
	if acceptErr := o.machine.Accept(&e.task, id); acceptErr != nil {
		o.registry.mu.Unlock()
		return nil, fmt.Errorf("generation: accept task %s: %w", id, acceptErr)
	}
	snap := e.task.Clone()
	o.registry.mu.Unlock()

	o.metrics.accepted(req.Kind)
	o.logger.Info().
		Str("task_id", id).
		Str("kind", string(req.Kind)).
		Str("owner_id", req.Owner.UserID).
		Msg("orchestrator: task accepted")
	e.feed.push(Event{Task: snap, Previous: domain.StatusSubmitting})
	o.scheduler.Start(e)
	return handle, nil
}

// Get returns a snapshot of a tracked task by provider id or local key.
func (o *Orchestrator) Get(taskID string) (domain.GenerationTask, bool) {
	return o.registry.Get(taskID)
}

// Handle returns the handle of a tracked task.
func (o *Orchestrator) Handle(taskID string) (*TaskHandle, bool) {
	e, ok := o.registry.lookup(taskID)
	if !ok {
		return nil, false
	}
	return &TaskHandle{entry: e, orch: o}, true
}

// CancelLocal stops polling taskID and marks it CancelledLocally. The
// provider keeps computing; only local tracking ends. Repeated calls are
// no-ops and return false.
func (o *Orchestrator) CancelLocal(taskID string) bool {
	e, ok := o.registry.lookup(taskID)
	if !ok {
		return false
	}
	return o.registry.cancelEntry(e)
}

// TeardownAll cancels every tracked task. Hosts call it when the consuming
// view goes away.
func (o *Orchestrator) TeardownAll() int {
	n := o.registry.TeardownAll()
	if n > 0 {
		o.logger.Info().Int("cancelled", n).Msg("orchestrator: teardown")
	}
	return n
}

// Close is TeardownAll for a host that is going away: later submissions
// fail with ErrClosed.
func (o *Orchestrator) Close() int {
	n := o.registry.Close()
	o.logger.Info().Int("cancelled", n).Msg("orchestrator: closed")
	return n
}

// Wait blocks until every poll loop has exited.
func (o *Orchestrator) Wait() {
	o.scheduler.Wait()
}

func (o *Orchestrator) cancelled(task domain.GenerationTask, prev domain.Status) {
	o.metrics.finish(task, prev.Awaiting())
	o.logger.Info().
		Str("task_id", task.Key()).
		Str("kind", string(task.Kind)).
		Str("from", string(prev)).
		Msg("orchestrator: task cancelled locally")
}

// settle runs after a poll changed the task status. Completed artifacts are
// persisted before listeners hear about the completion.
func (o *Orchestrator) settle(e *entry, ev Event) {
	if !ev.Terminal() {
		e.feed.push(ev)
		return
	}
	task := ev.Task
	if task.Status == domain.StatusCompleted {
		ev.Notice = o.persist(e, task)
	}
	o.metrics.finish(task, true)
	level := zerolog.InfoLevel
	if task.Error != nil {
		level = zerolog.WarnLevel
	}
	logEv := o.logger.WithLevel(level)
	if task.Error != nil {
		logEv = logEv.Str("error_kind", string(task.Error.Kind)).Str("error", task.Error.Message)
	}
	logEv.Str("task_id", task.ID).
		Str("kind", string(task.Kind)).
		Str("status", string(task.Status)).
		Int("results", len(task.ResultURLs)).
		Msg("orchestrator: task finished")

	e.feed.push(ev)
	o.registry.mu.Lock()
	o.registry.removeEntryLocked(e)
	o.registry.mu.Unlock()
}

func (o *Orchestrator) persist(e *entry, task domain.GenerationTask) *domain.TaskError {
	if o.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), o.persistTimeout)
	defer cancel()
	err := o.store.SaveArtifact(ctx, domain.Artifact{
		TaskID:    task.ID,
		OwnerID:   task.Owner.UserID,
		PersonaID: task.Owner.PersonaID,
		Prompt:    task.OriginPrompt,
		URL:       task.PrimaryURL(),
		Kind:      task.Kind,
		Tags:      artifactTags(e.req),
	})
	if err == nil {
		return nil
	}
	o.metrics.saveFailed()
	o.logger.Error().Err(err).
		Str("task_id", task.ID).
		Str("owner_id", task.Owner.UserID).
		Str("error_kind", string(domain.ErrorPersistenceFailure)).
		Msg("orchestrator: persist artifact failed")
	return &domain.TaskError{Kind: domain.ErrorPersistenceFailure, Message: err.Error(), Err: err}
}

func artifactTags(req domain.GenerationRequest) []string {
	tags := []string{"kind:" + string(req.Kind)}
	if a := strings.TrimSpace(req.Payload.Action); a != "" && req.Kind == domain.KindAction {
		tags = append(tags, "action:"+strings.ToLower(a))
	}
	if r := strings.TrimSpace(req.Payload.AspectRatio); r != "" {
		tags = append(tags, "aspect:"+r)
	}
	if l := strings.TrimSpace(req.Owner.Locale); l != "" {
		tags = append(tags, "locale:"+l)
	}
	if c := strings.TrimSpace(req.Owner.Country); c != "" {
		tags = append(tags, "country:"+strings.ToUpper(c))
	}
	return tags
}
