package validators

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/erpcore/automation-engine/internal/models"
)

// DefinitionValidator validates automation and workflow definitions
// before they are activated. The engine itself fails closed on bad
// definitions at run time; this catches them at authoring time.
type DefinitionValidator struct {
	validate   *validator.Validate
	cronParser cron.Parser
}

// NewDefinitionValidator creates a new definition validator
func NewDefinitionValidator() *DefinitionValidator {
	return &DefinitionValidator{
		validate:   validator.New(),
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// ValidateAutomation checks an automation definition
func (v *DefinitionValidator) ValidateAutomation(automation *models.Automation) error {
	if automation.Name == "" {
		return fmt.Errorf("automation name is required")
	}

	if err := automation.Trigger.Validate(); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}

	if automation.Trigger.Type == models.TriggerTypeSchedule {
		if _, err := v.cronParser.Parse(automation.Trigger.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", automation.Trigger.Cron, err)
		}
	}

	if automation.Condition != nil {
		if err := validateCondition(automation.Condition); err != nil {
			return fmt.Errorf("invalid condition: %w", err)
		}
	}

	if len(automation.Actions) == 0 {
		return fmt.Errorf("automation requires at least one action")
	}

	for i, action := range automation.Actions {
		if !knownActionKind(action.Kind) {
			return fmt.Errorf("action %d has unknown kind %q", i, action.Kind)
		}
	}

	return nil
}

// ValidateWorkflow checks a workflow definition
func (v *DefinitionValidator) ValidateWorkflow(workflow *models.Workflow) error {
	if workflow.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if workflow.Module == "" {
		return fmt.Errorf("workflow module is required")
	}
	if len(workflow.Steps) == 0 {
		return fmt.Errorf("workflow requires at least one step")
	}

	for i, step := range workflow.Steps {
		if err := v.validateStep(i, step, len(workflow.Steps)); err != nil {
			return err
		}
	}

	return nil
}

// ValidateDecision checks an approval decision request
func (v *DefinitionValidator) ValidateDecision(decision *models.ApprovalDecision) error {
	return v.validate.Struct(decision)
}

func (v *DefinitionValidator) validateStep(index int, step models.WorkflowStep, stepCount int) error {
	if step.Name == "" {
		return fmt.Errorf("step %d requires a name", index)
	}

	if !knownStepType(step.Type) {
		return fmt.Errorf("step %d has unknown type %q", index, step.Type)
	}

	switch step.Type {
	case models.StepTypeApproval:
		if len(step.AssignedTo) == 0 {
			return fmt.Errorf("approval step %d requires assigned roles", index)
		}

	case models.StepTypeNotification:
		if len(step.AssignedTo) == 0 {
			return fmt.Errorf("notification step %d requires recipients", index)
		}
		if step.Channel != "" && step.Channel != "email" && step.Channel != "sms" {
			return fmt.Errorf("notification step %d has unknown channel %q", index, step.Channel)
		}

	case models.StepTypeAssignment:
		if len(step.AssignedTo) == 0 {
			return fmt.Errorf("assignment step %d requires assignees", index)
		}

	case models.StepTypeCondition:
		if step.Condition == nil {
			return fmt.Errorf("condition step %d requires a condition", index)
		}
		if err := validateCondition(step.Condition); err != nil {
			return fmt.Errorf("condition step %d: %w", index, err)
		}
		if step.OnFalse != nil {
			// Branch targets must point strictly forward so sequencing
			// always terminates.
			if *step.OnFalse <= index {
				return fmt.Errorf("condition step %d on_false must point to a later step", index)
			}
			if *step.OnFalse >= stepCount {
				return fmt.Errorf("condition step %d on_false points past the last step", index)
			}
		}
	}

	return nil
}

func validateCondition(cond *models.Condition) error {
	if cond == nil {
		return nil
	}

	if cond.IsLeaf() {
		if cond.Field == "" {
			return fmt.Errorf("condition leaf requires a field")
		}
		if !knownOperator(cond.Op) {
			return fmt.Errorf("unknown operator %q", cond.Op)
		}
		return nil
	}

	for i := range cond.And {
		if err := validateCondition(&cond.And[i]); err != nil {
			return err
		}
	}
	for i := range cond.Or {
		if err := validateCondition(&cond.Or[i]); err != nil {
			return err
		}
	}
	if cond.Not != nil {
		if err := validateCondition(cond.Not); err != nil {
			return err
		}
	}

	return nil
}

func knownActionKind(kind models.ActionKind) bool {
	for _, known := range models.KnownActionKinds {
		if kind == known {
			return true
		}
	}
	return false
}

func knownStepType(stepType models.StepType) bool {
	for _, known := range models.KnownStepTypes {
		if stepType == known {
			return true
		}
	}
	return false
}

func knownOperator(op string) bool {
	for _, known := range models.KnownOperators {
		if op == known {
			return true
		}
	}
	return false
}
