package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// creationEventSuffix marks the record lifecycle events that open a
// workflow. Business modules publish them as "<module>.created".
const creationEventSuffix = ".created"

// WorkflowLauncher bridges the event bus and the step sequencer: when a
// business module publishes a record creation event, the launcher
// resolves the module's active workflow and starts an instance against
// the new record.
type WorkflowLauncher struct {
	workflows engine.WorkflowStore
	sequencer *engine.Sequencer
	logger    *logger.Logger

	wg sync.WaitGroup
}

// NewWorkflowLauncher creates a new workflow launcher
func NewWorkflowLauncher(workflows engine.WorkflowStore, sequencer *engine.Sequencer, log *logger.Logger) *WorkflowLauncher {
	return &WorkflowLauncher{
		workflows: workflows,
		sequencer: sequencer,
		logger:    log,
	}
}

// HandleEvent matches the engine.EventHandler signature so the launcher
// subscribes directly to the event bus. Only creation events carrying a
// subject record start a workflow; sequencing happens off the caller's
// goroutine so a slow step never blocks the publishing request.
func (l *WorkflowLauncher) HandleEvent(ctx context.Context, eventName string, payload map[string]interface{}) {
	if !strings.HasSuffix(eventName, creationEventSuffix) {
		return
	}

	ref, ok := subjectFromPayload(payload)
	if !ok {
		l.logger.Debugf("Event %s carries no subject record, no workflow started", eventName)
		return
	}

	launchCtx := context.WithoutCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.launch(launchCtx, ref)
	}()
}

// Stop waits for in-flight launches to finish
func (l *WorkflowLauncher) Stop() {
	l.wg.Wait()
}

func (l *WorkflowLauncher) launch(ctx context.Context, ref models.RecordRef) {
	workflow, err := l.workflows.GetActiveWorkflowForModule(ctx, ref.Module)
	if err != nil {
		if errors.Is(err, engine.ErrNoWorkflowForModule) {
			l.logger.Debugf("No active workflow gates module %s", ref.Module)
			return
		}
		l.logger.WithError(err).Errorf("Workflow lookup failed for module %s", ref.Module)
		return
	}

	instance, err := l.sequencer.Start(ctx, workflow, ref)
	if err != nil {
		l.logger.WithError(err).Errorf("Failed to start workflow %s for %s", workflow.ID, ref)
		return
	}

	l.logger.Infof("Workflow %s started for %s (instance %s, status %s)",
		workflow.Name, ref, instance.ID, instance.Status)
}

// subjectFromPayload extracts the record reference business modules
// attach to lifecycle events
func subjectFromPayload(payload map[string]interface{}) (models.RecordRef, bool) {
	record, ok := payload["record"].(map[string]interface{})
	if !ok {
		return models.RecordRef{}, false
	}

	module, _ := record["module"].(string)
	id, _ := record["id"].(string)
	if module == "" || id == "" {
		return models.RecordRef{}, false
	}

	return models.RecordRef{Module: module, RecordID: id}, true
}
