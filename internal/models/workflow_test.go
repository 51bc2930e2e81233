package models

import (
	"testing"
)

func TestInstanceStatusTerminal(t *testing.T) {
	tests := []struct {
		status   InstanceStatus
		terminal bool
	}{
		{InstanceStatusRunning, false},
		{InstanceStatusWaitingApproval, false},
		{InstanceStatusCompleted, true},
		{InstanceStatusRejected, true},
		{InstanceStatusCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestAppendHistoryStampsTimestamp(t *testing.T) {
	instance := &WorkflowInstance{}

	instance.AppendHistory(StepHistoryEntry{StepIndex: 0, Event: "started"})
	instance.AppendHistory(StepHistoryEntry{StepIndex: 0, Event: "waiting"})

	if len(instance.StepHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(instance.StepHistory))
	}
	for i, entry := range instance.StepHistory {
		if entry.Timestamp.IsZero() {
			t.Errorf("entry %d has no timestamp", i)
		}
	}
}

func TestRecordRefString(t *testing.T) {
	ref := RecordRef{Module: "purchase_orders", RecordID: "po-1"}
	if got := ref.String(); got != "purchase_orders/po-1" {
		t.Errorf("String() = %q", got)
	}
}
