package workers

import (
	"context"
	"time"

	"github.com/erpcore/automation-engine/pkg/logger"
)

const expirationBatchSize = 100

// ApprovalEscalator finds and escalates approvals past their SLA deadline
type ApprovalEscalator interface {
	EscalateOverdueApprovals(ctx context.Context, now time.Time, limit int) (int, error)
}

// ApprovalExpirationWorker periodically sweeps for workflow instances
// whose pending approval is overdue and escalates them
type ApprovalExpirationWorker struct {
	escalator     ApprovalEscalator
	logger        *logger.Logger
	checkInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewApprovalExpirationWorker creates a new approval expiration worker
func NewApprovalExpirationWorker(
	escalator ApprovalEscalator,
	checkInterval time.Duration,
	log *logger.Logger,
) *ApprovalExpirationWorker {
	if checkInterval == 0 {
		checkInterval = 5 * time.Minute
	}

	return &ApprovalExpirationWorker{
		escalator:     escalator,
		logger:        log,
		checkInterval: checkInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start starts the worker in the background
func (w *ApprovalExpirationWorker) Start(ctx context.Context) {
	w.logger.Info("Starting approval expiration worker",
		logger.String("interval", w.checkInterval.String()),
	)

	go w.run(ctx)
}

// Stop stops the worker gracefully
func (w *ApprovalExpirationWorker) Stop() {
	w.logger.Info("Stopping approval expiration worker")
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Approval expiration worker stopped")
}

func (w *ApprovalExpirationWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *ApprovalExpirationWorker) sweep(ctx context.Context) {
	escalated, err := w.escalator.EscalateOverdueApprovals(ctx, time.Now().UTC(), expirationBatchSize)
	if err != nil {
		w.logger.Errorf("Failed to sweep overdue approvals: %v", err)
		return
	}

	if escalated > 0 {
		w.logger.Infof("Escalated %d overdue approval(s)", escalated)
	}
}
