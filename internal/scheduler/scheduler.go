package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// ErrUnknownWebhook is returned when no active automation claims the
// delivered webhook id.
var ErrUnknownWebhook = errors.New("no active automation for webhook")

// Dispatcher executes one automation firing
type Dispatcher interface {
	Run(ctx context.Context, automation *models.Automation, trigger engine.TriggerContext) (*models.AutomationRun, error)
}

// Guard takes a short-lived lease on a firing key so that at most one
// scheduler process dispatches a given firing. The run store's
// idempotency key is the durable backstop behind it.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Scheduler watches active automations, fires schedule triggers when
// their cron expressions come due, and routes pushed events and webhook
// deliveries to matching automations.
type Scheduler struct {
	automations engine.AutomationStore
	runs        engine.RunStore
	dispatcher  Dispatcher
	guard       Guard
	logger      *logger.Logger

	tick     time.Duration
	leaseTTL time.Duration
	parser   cron.Parser
	now      func() time.Time

	mu       sync.Mutex
	nextFire map[uuid.UUID]time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a scheduler. Zero tick or leaseTTL select the
// defaults (1 minute tick, 5 minute lease).
func NewScheduler(
	automations engine.AutomationStore,
	runs engine.RunStore,
	dispatcher Dispatcher,
	guard Guard,
	tick time.Duration,
	leaseTTL time.Duration,
	log *logger.Logger,
) *Scheduler {
	if tick == 0 {
		tick = time.Minute
	}
	if leaseTTL == 0 {
		leaseTTL = 5 * time.Minute
	}

	return &Scheduler{
		automations: automations,
		runs:        runs,
		dispatcher:  dispatcher,
		guard:       guard,
		logger:      log,
		tick:        tick,
		leaseTTL:    leaseTTL,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:         time.Now,
		nextFire:    make(map[uuid.UUID]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start starts the scheduler loop in the background
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting trigger scheduler",
		logger.String("tick", s.tick.String()),
	)

	go s.run(ctx)
}

// Stop stops the scheduler loop gracefully and waits for in-flight
// dispatches to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping trigger scheduler")
	close(s.stopCh)
	<-s.doneCh
	s.wg.Wait()
	s.logger.Info("Trigger scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Prime next-fire times on start so the first tick only fires
	// schedules that come due after boot.
	s.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick scans active automations and dispatches every schedule trigger
// whose fire time has arrived. Exported so tests can drive the loop
// without real time.
func (s *Scheduler) Tick(ctx context.Context) {
	automations, err := s.automations.ListActiveAutomations(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list active automations: %v", err)
		return
	}

	now := s.now()
	active := make(map[uuid.UUID]bool, len(automations))

	for i := range automations {
		automation := &automations[i]
		active[automation.ID] = true

		if automation.Trigger.Type != models.TriggerTypeSchedule {
			continue
		}

		fireAt, due := s.checkDue(automation, now)
		if !due {
			continue
		}

		s.dispatch(ctx, automation, engine.TriggerContext{FiredAt: fireAt})
	}

	s.forgetInactive(active)
}

// checkDue reports whether a schedule automation should fire now, and
// advances its next-fire time before any dispatch happens so a slow or
// failing run cannot double-fire the same slot.
func (s *Scheduler) checkDue(automation *models.Automation, now time.Time) (time.Time, bool) {
	schedule, err := s.parser.Parse(automation.Trigger.Cron)
	if err != nil {
		s.logger.Warnf("Automation %s has invalid cron %q: %v", automation.ID, automation.Trigger.Cron, err)
		return time.Time{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, known := s.nextFire[automation.ID]
	if !known {
		s.nextFire[automation.ID] = schedule.Next(now)
		return time.Time{}, false
	}

	if now.Before(next) {
		return time.Time{}, false
	}

	s.nextFire[automation.ID] = schedule.Next(now)
	return next, true
}

// forgetInactive drops next-fire state for automations that are gone or
// deactivated, so a reactivated schedule starts from a fresh slot
func (s *Scheduler) forgetInactive(active map[uuid.UUID]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.nextFire {
		if !active[id] {
			delete(s.nextFire, id)
		}
	}
}

// HandleEvent routes a published business event to every active
// automation with a matching event trigger. Matches the EventHandler
// signature so the scheduler can subscribe directly to the event bus.
func (s *Scheduler) HandleEvent(ctx context.Context, eventName string, payload map[string]interface{}) {
	automations, err := s.automations.ListActiveAutomations(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list active automations for event %s: %v", eventName, err)
		return
	}

	firedAt := s.now()
	matched := 0

	for i := range automations {
		automation := &automations[i]
		if automation.Trigger.Type != models.TriggerTypeEvent {
			continue
		}
		if automation.Trigger.EventName != eventName {
			continue
		}

		matched++
		s.dispatch(ctx, automation, engine.TriggerContext{FiredAt: firedAt, Payload: payload})
	}

	s.logger.Debugf("Event %s matched %d automation(s)", eventName, matched)
}

// HandleWebhook routes an authenticated webhook delivery to the active
// automation that owns the webhook id. The delivery timestamp feeds the
// idempotency key, so provider retries inside the dedup window collapse
// into one run.
func (s *Scheduler) HandleWebhook(ctx context.Context, webhookID string, deliveredAt time.Time, payload map[string]interface{}) error {
	automation, err := s.findWebhookAutomation(ctx, webhookID)
	if err != nil {
		return err
	}

	s.dispatch(ctx, automation, engine.TriggerContext{FiredAt: deliveredAt, Payload: payload})
	return nil
}

// WebhookSecretHash returns the stored secret hash for a webhook id so
// the intake layer can authenticate the delivery before dispatch.
func (s *Scheduler) WebhookSecretHash(ctx context.Context, webhookID string) (string, error) {
	automation, err := s.findWebhookAutomation(ctx, webhookID)
	if err != nil {
		return "", err
	}
	return automation.Trigger.SecretHash, nil
}

func (s *Scheduler) findWebhookAutomation(ctx context.Context, webhookID string) (*models.Automation, error) {
	automations, err := s.automations.ListActiveAutomations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active automations: %w", err)
	}

	for i := range automations {
		automation := &automations[i]
		if automation.Trigger.Type == models.TriggerTypeWebhook && automation.Trigger.WebhookID == webhookID {
			return automation, nil
		}
	}

	return nil, ErrUnknownWebhook
}

// dispatch takes the firing lease and fans the run out to its own
// goroutine, so a slow or retrying run cannot stall the tick loop or
// the caller that pushed the event or webhook.
func (s *Scheduler) dispatch(ctx context.Context, automation *models.Automation, trigger engine.TriggerContext) {
	key := models.RunIdempotencyKey(automation.ID, automation.Trigger.Type, trigger.FiredAt)

	acquired, err := s.guard.Acquire(ctx, key, s.leaseTTL)
	if err != nil {
		// Lease store down: dispatch anyway, the run store's unique
		// idempotency key still suppresses duplicates.
		s.logger.WithError(err).Warnf("Firing lease unavailable for %s", key)
	} else if !acquired {
		s.logger.Debugf("Firing %s already leased, skipping", key)
		return
	}

	// The run outlives the triggering HTTP request, so its lifetime is
	// detached from the caller's context.
	runCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if _, err := s.runs.GetRunByIdempotencyKey(runCtx, key); err == nil {
			s.logger.Debugf("Firing %s already recorded, skipping dispatch", key)
			return
		} else if !errors.Is(err, engine.ErrRunNotFound) {
			s.logger.WithError(err).Warnf("Run lookup failed for %s", key)
		}

		run, err := s.dispatcher.Run(runCtx, automation, trigger)
		if err != nil {
			if errors.Is(err, engine.ErrDuplicateRun) {
				s.logger.Debugf("Firing %s already recorded", key)
				return
			}
			s.logger.Errorf("Automation %s dispatch failed: %v", automation.ID, err)
			return
		}

		s.logger.Infof("Automation %s run %s finished with outcome %s", automation.ID, run.ID, run.Outcome)
	}()
}
