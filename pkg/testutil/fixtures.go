package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/models"
)

// FixtureBuilder provides methods to create test fixtures
type FixtureBuilder struct{}

// NewFixtureBuilder creates a new fixture builder
func NewFixtureBuilder() *FixtureBuilder {
	return &FixtureBuilder{}
}

// Automation creates a test automation with an event trigger and one
// email action. Overrides adjust fields after the defaults are set.
func (fb *FixtureBuilder) Automation(overrides ...func(*models.Automation)) *models.Automation {
	now := time.Now()

	automation := &models.Automation{
		ID:       uuid.New(),
		Name:     "Test Automation",
		IsActive: true,
		Trigger: models.Trigger{
			Type:      models.TriggerTypeEvent,
			EventName: "order.created",
		},
		Condition: &models.Condition{
			Field: "total",
			Op:    models.OpGt,
			Value: 1000.0,
		},
		Actions: models.ActionSpecs{
			{
				Kind: models.ActionKindEmail,
				Config: map[string]interface{}{
					"to":      []interface{}{"ops@example.com"},
					"subject": "High value order",
					"body":    "Order total exceeded the threshold",
				},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

// ScheduleAutomation creates a test automation fired by a cron schedule
func (fb *FixtureBuilder) ScheduleAutomation(cronExpr string, overrides ...func(*models.Automation)) *models.Automation {
	automation := fb.Automation(func(a *models.Automation) {
		a.Name = "Test Scheduled Automation"
		a.Trigger = models.Trigger{
			Type: models.TriggerTypeSchedule,
			Cron: cronExpr,
		}
		a.Condition = nil
	})

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

// Workflow creates a test approval workflow for purchase orders:
// notify, then a condition gate, then a role-gated approval.
func (fb *FixtureBuilder) Workflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now()

	workflow := &models.Workflow{
		ID:       uuid.New(),
		Name:     "Purchase Order Approval",
		Module:   "purchase_orders",
		IsActive: true,
		Steps: models.WorkflowSteps{
			{
				Name:       "Notify requester",
				Type:       models.StepTypeNotification,
				AssignedTo: []string{"requester@example.com"},
				Message:    "Your purchase order entered approval",
				Order:      0,
			},
			{
				Name: "Needs manager approval",
				Type: models.StepTypeCondition,
				Condition: &models.Condition{
					Field: "amount",
					Op:    models.OpGt,
					Value: 500.0,
				},
				Order: 1,
			},
			{
				Name:       "Manager approval",
				Type:       models.StepTypeApproval,
				AssignedTo: []string{"manager"},
				ExpiresIn:  "72h",
				Order:      2,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// StringPtr returns a pointer to the given string
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to the given int
func IntPtr(i int) *int {
	return &i
}
