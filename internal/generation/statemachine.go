package generation

import (
	"errors"
	"fmt"
	"time"

	"genstudio/internal/domain"
)

// ErrIllegalTransition is returned when a transition is not allowed from the
// task's current status.
var ErrIllegalTransition = errors.New("generation: illegal transition")

var allowedTransitions = map[domain.Status][]domain.Status{
	domain.StatusSubmitting: {domain.StatusPending, domain.StatusFailed, domain.StatusCancelledLocally},
	domain.StatusPending:    {domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelledLocally},
	domain.StatusProcessing: {domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelledLocally},
}

func canTransition(from, to domain.Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine applies the lifecycle rules to a task. It never touches
// timers or listeners; callers hold the registry lock while using it.
type StateMachine struct{}

func (StateMachine) move(t *domain.GenerationTask, to domain.Status) error {
	if !canTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

// Accept records the provider id of a task that was created upstream.
func (m StateMachine) Accept(t *domain.GenerationTask, id string) error {
	if err := m.move(t, domain.StatusPending); err != nil {
		return err
	}
	t.ID = id
	return nil
}

// Reject fails a task whose submission errored.
func (m StateMachine) Reject(t *domain.GenerationTask, cause *domain.TaskError) error {
	if t.Status != domain.StatusSubmitting {
		return fmt.Errorf("%w: reject from %s", ErrIllegalTransition, t.Status)
	}
	return m.fail(t, cause)
}

// Observe applies a normalized poll result. It reports whether the status
// changed. Unknown and queued outcomes leave the task where it is.
func (m StateMachine) Observe(t *domain.GenerationTask, n Normalized) (bool, error) {
	if !t.Status.Awaiting() {
		return false, fmt.Errorf("%w: observe in %s", ErrIllegalTransition, t.Status)
	}
	switch n.Outcome {
	case OutcomeInProgress:
		if t.Status == domain.StatusProcessing {
			return false, nil
		}
		return true, m.move(t, domain.StatusProcessing)
	case OutcomeSuccess:
		if len(n.URLs) == 0 {
			return true, m.fail(t, &domain.TaskError{
				Kind:    domain.ErrorEmptyResult,
				Message: fmt.Sprintf("provider reported %q without an artifact url", n.Status),
			})
		}
		if err := m.move(t, domain.StatusCompleted); err != nil {
			return false, err
		}
		t.ResultURLs = append([]string(nil), n.URLs...)
		return true, nil
	case OutcomeFailure:
		msg := n.Error
		if msg == "" {
			msg = unknownErrorMessage
		}
		return true, m.fail(t, &domain.TaskError{Kind: domain.ErrorProviderReportedFailure, Message: msg})
	default:
		return false, nil
	}
}

// Expire fails an awaiting task that outlived its wait budget.
func (m StateMachine) Expire(t *domain.GenerationTask, budget time.Duration) error {
	if !t.Status.Awaiting() {
		return fmt.Errorf("%w: expire in %s", ErrIllegalTransition, t.Status)
	}
	return m.fail(t, &domain.TaskError{
		Kind:    domain.ErrorTimeout,
		Message: fmt.Sprintf("no terminal status after %s", budget),
	})
}

// CancelLocally moves a non-terminal task to CancelledLocally. It returns
// false when the task had already finished.
func (m StateMachine) CancelLocally(t *domain.GenerationTask) bool {
	return m.move(t, domain.StatusCancelledLocally) == nil
}

func (m StateMachine) fail(t *domain.GenerationTask, cause *domain.TaskError) error {
	if err := m.move(t, domain.StatusFailed); err != nil {
		return err
	}
	t.Error = cause
	return nil
}
