package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// TriggerContext carries what the scheduler knows about one firing:
// when it fired and the payload the event or webhook supplied.
type TriggerContext struct {
	FiredAt time.Time
	Payload map[string]interface{}
}

// Runner executes a single automation firing end to end: condition gate,
// sequential actions, durable run record, then counter bookkeeping.
type Runner struct {
	automations AutomationStore
	runs        RunStore
	evaluator   *Evaluator
	executor    *ActionExecutor
	logger      *logger.Logger
}

func NewRunner(
	automations AutomationStore,
	runs RunStore,
	evaluator *Evaluator,
	executor *ActionExecutor,
	log *logger.Logger,
) *Runner {
	return &Runner{
		automations: automations,
		runs:        runs,
		evaluator:   evaluator,
		executor:    executor,
		logger:      log,
	}
}

// Run executes one firing of an automation. It always produces a run
// record with a definite outcome, unless the firing is a duplicate of a
// run already recorded, in which case ErrDuplicateRun is returned and
// no counters move.
func (r *Runner) Run(
	ctx context.Context,
	automation *models.Automation,
	trigger TriggerContext,
) (run *models.AutomationRun, err error) {
	if !automation.IsActive {
		return nil, fmt.Errorf("automation %s is not active", automation.ID)
	}

	run = &models.AutomationRun{
		ID:             uuid.New(),
		AutomationID:   automation.ID,
		IdempotencyKey: models.RunIdempotencyKey(automation.ID, automation.Trigger.Type, trigger.FiredAt),
		TriggerFiredAt: trigger.FiredAt,
		StartedAt:      time.Now().UTC(),
	}

	// A panicking action config must not take the scheduler loop down;
	// the run is recorded as failed instead.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("Automation %s run panicked: %v", automation.ID, rec)
			run.Outcome = models.RunOutcomeFailure
			msg := fmt.Sprintf("run panicked: %v", rec)
			run.ErrorMessage = &msg
			run, err = r.finish(ctx, automation, run)
		}
	}()

	execContext := buildExecContext(trigger)

	if !r.evaluator.Evaluate(automation.Condition, execContext) {
		r.logger.Debugf("Automation %s condition not met, skipping", automation.ID)
		run.Outcome = models.RunOutcomeSkipped
		return r.finish(ctx, automation, run)
	}

	results := make([]models.ActionResult, 0, len(automation.Actions))
	failed := 0

	for _, action := range automation.Actions {
		result := r.executor.Execute(ctx, action, execContext)
		results = append(results, result)
		if !result.Success {
			failed++
		}
	}

	run.ActionResults = results
	run.Outcome = runOutcome(len(results), failed)
	if failed > 0 {
		msg := fmt.Sprintf("%d of %d actions failed", failed, len(results))
		run.ErrorMessage = &msg
	}

	return r.finish(ctx, automation, run)
}

// finish stamps the run, persists it, and only then moves the
// automation's counters. A duplicate key means another worker already
// recorded this firing, so the whole run is suppressed.
func (r *Runner) finish(
	ctx context.Context,
	automation *models.Automation,
	run *models.AutomationRun,
) (*models.AutomationRun, error) {
	now := time.Now().UTC()
	run.FinishedAt = &now

	if err := r.runs.CreateRun(ctx, run); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			r.logger.Infof("Duplicate firing of automation %s suppressed (key %s)", automation.ID, run.IdempotencyKey)
			return nil, ErrDuplicateRun
		}
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	if err := r.automations.RecordRunApplied(ctx, automation.ID, now); err != nil {
		// The run itself is durable; the counters undercount this firing
		// until reconciled from run history.
		r.logger.WithError(err).Warnf("Failed to update counters for automation %s", automation.ID)
	}

	return run, nil
}

// buildExecContext seeds the execution context from the trigger payload.
// The payload is shallow-copied so actions mutating the context do not
// write back into the caller's map.
func buildExecContext(trigger TriggerContext) map[string]interface{} {
	execContext := make(map[string]interface{}, len(trigger.Payload)+1)
	for key, value := range trigger.Payload {
		execContext[key] = value
	}
	execContext["fired_at"] = trigger.FiredAt.UTC().Format(time.RFC3339)

	return execContext
}

func runOutcome(total, failed int) models.RunOutcome {
	switch {
	case failed == 0:
		return models.RunOutcomeSuccess
	case failed == total:
		return models.RunOutcomeFailure
	default:
		return models.RunOutcomePartialFailure
	}
}
