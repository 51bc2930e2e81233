package services

import (
	"bytes"
	"html/template"
	"time"

	"github.com/erpcore/automation-engine/internal/models"
)

// Message templates for workflow notifications. Rendering falls back to
// a plain one-liner if a template fails, so a bad template never blocks
// an escalation.

var approvalOverdueTemplate = template.Must(template.New("approval_overdue").Parse(`
<html>
<body>
<h2>Approval Overdue</h2>
<p>The step <strong>{{.StepName}}</strong> of workflow <strong>{{.WorkflowName}}</strong>
is past its approval deadline.</p>
<table>
  <tr><td>Record</td><td>{{.Subject}}</td></tr>
  <tr><td>Waiting since</td><td>{{.WaitingSince}}</td></tr>
  <tr><td>Instance</td><td>{{.InstanceID}}</td></tr>
</table>
<p>Please approve or reject the pending request.</p>
</body>
</html>`))

var approvalRequestTemplate = template.Must(template.New("approval_request").Parse(`
<html>
<body>
<h2>Approval Requested</h2>
<p>The step <strong>{{.StepName}}</strong> of workflow <strong>{{.WorkflowName}}</strong>
needs your decision.</p>
<table>
  <tr><td>Record</td><td>{{.Subject}}</td></tr>
  <tr><td>Instance</td><td>{{.InstanceID}}</td></tr>
</table>
</body>
</html>`))

type approvalMessageData struct {
	WorkflowName string
	StepName     string
	Subject      string
	InstanceID   string
	WaitingSince string
}

// ApprovalOverdueMessage renders the escalation email for an overdue
// approval step
func ApprovalOverdueMessage(workflow *models.Workflow, instance *models.WorkflowInstance, step models.WorkflowStep) (subject, body string) {
	subject = "Approval overdue: " + workflow.Name

	data := approvalMessageData{
		WorkflowName: workflow.Name,
		StepName:     step.Name,
		Subject:      instance.SubjectRef.String(),
		InstanceID:   instance.ID.String(),
		WaitingSince: instance.UpdatedAt.Format(time.RFC1123),
	}

	return subject, renderOrFallback(approvalOverdueTemplate, data, subject)
}

// ApprovalRequestMessage renders the notification for a newly pending
// approval step
func ApprovalRequestMessage(workflow *models.Workflow, instance *models.WorkflowInstance, step models.WorkflowStep) (subject, body string) {
	subject = "Approval requested: " + workflow.Name

	data := approvalMessageData{
		WorkflowName: workflow.Name,
		StepName:     step.Name,
		Subject:      instance.SubjectRef.String(),
		InstanceID:   instance.ID.String(),
	}

	return subject, renderOrFallback(approvalRequestTemplate, data, subject)
}

func renderOrFallback(tmpl *template.Template, data approvalMessageData, fallback string) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fallback
	}
	return buf.String()
}
