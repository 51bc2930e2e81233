package validators

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/testutil"
)

func TestValidateAutomation(t *testing.T) {
	v := NewDefinitionValidator()
	fixtures := testutil.NewFixtureBuilder()

	tests := []struct {
		name       string
		automation *models.Automation
		wantErr    string
	}{
		{
			name:       "valid event automation",
			automation: fixtures.Automation(),
		},
		{
			name:       "valid schedule automation",
			automation: fixtures.ScheduleAutomation("*/15 * * * *"),
		},
		{
			name: "missing name",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Name = ""
			}),
			wantErr: "name is required",
		},
		{
			name: "trigger with no variant",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Trigger = models.Trigger{}
			}),
			wantErr: "invalid trigger",
		},
		{
			name: "trigger with conflicting variants",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Trigger = models.Trigger{
					Type:      models.TriggerTypeEvent,
					EventName: "order.created",
					Cron:      "* * * * *",
				}
			}),
			wantErr: "invalid trigger",
		},
		{
			name:       "bad cron expression",
			automation: fixtures.ScheduleAutomation("every day at noon"),
			wantErr:    "invalid cron",
		},
		{
			name:       "six field cron rejected",
			automation: fixtures.ScheduleAutomation("0 0 0 * * *"),
			wantErr:    "invalid cron",
		},
		{
			name: "condition with unknown operator",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Condition = &models.Condition{Field: "total", Op: "matches", Value: ".*"}
			}),
			wantErr: "unknown operator",
		},
		{
			name: "condition leaf without field",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Condition = &models.Condition{Op: models.OpEq, Value: 1}
			}),
			wantErr: "requires a field",
		},
		{
			name: "nested condition validated",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Condition = &models.Condition{
					And: []models.Condition{
						{Field: "total", Op: models.OpGt, Value: 100},
						{Field: "status", Op: "like", Value: "open"},
					},
				}
			}),
			wantErr: "unknown operator",
		},
		{
			name: "no actions",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Actions = nil
			}),
			wantErr: "at least one action",
		},
		{
			name: "unknown action kind",
			automation: fixtures.Automation(func(a *models.Automation) {
				a.Actions = models.ActionSpecs{{Kind: "carrier_pigeon"}}
			}),
			wantErr: "unknown kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAutomation(tt.automation)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateWorkflow(t *testing.T) {
	v := NewDefinitionValidator()
	fixtures := testutil.NewFixtureBuilder()

	tests := []struct {
		name     string
		workflow *models.Workflow
		wantErr  string
	}{
		{
			name:     "valid workflow",
			workflow: fixtures.Workflow(),
		},
		{
			name: "missing module",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Module = ""
			}),
			wantErr: "module is required",
		},
		{
			name: "no steps",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps = nil
			}),
			wantErr: "at least one step",
		},
		{
			name: "approval without roles",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[2].AssignedTo = nil
			}),
			wantErr: "requires assigned roles",
		},
		{
			name: "notification with unknown channel",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[0].Channel = "pager"
			}),
			wantErr: "unknown channel",
		},
		{
			name: "condition step without condition",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[1].Condition = nil
			}),
			wantErr: "requires a condition",
		},
		{
			name: "on_false pointing backward",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[1].OnFalse = testutil.IntPtr(0)
			}),
			wantErr: "must point to a later step",
		},
		{
			name: "on_false pointing at itself",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[1].OnFalse = testutil.IntPtr(1)
			}),
			wantErr: "must point to a later step",
		},
		{
			name: "on_false past the last step",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[1].OnFalse = testutil.IntPtr(3)
			}),
			wantErr: "past the last step",
		},
		{
			name: "unknown step type",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[0].Type = "escalation"
			}),
			wantErr: "unknown type",
		},
		{
			name: "step without name",
			workflow: fixtures.Workflow(func(w *models.Workflow) {
				w.Steps[0].Name = ""
			}),
			wantErr: "requires a name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateWorkflow(tt.workflow)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDecision(t *testing.T) {
	v := NewDefinitionValidator()

	valid := &models.ApprovalDecision{
		InstanceID: uuid.New(),
		StepIndex:  2,
		Decision:   models.DecisionApprove,
		DecidedBy:  uuid.New(),
	}
	assert.NoError(t, v.ValidateDecision(valid))

	invalid := &models.ApprovalDecision{
		InstanceID: uuid.New(),
		StepIndex:  2,
		Decision:   "maybe",
		DecidedBy:  uuid.New(),
	}
	assert.Error(t, v.ValidateDecision(invalid))
}
