package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 200 * time.Millisecond
)

// engineOwnedModules are document modules actions may never write to.
// An automation mutating its own definition mid-run is a corruption
// hazard, so update_record/create_record refuse these targets.
var engineOwnedModules = map[string]bool{
	"automations":        true,
	"automation_runs":    true,
	"workflows":          true,
	"workflow_instances": true,
}

// Collaborators bundles the capability implementations actions dispatch to
type Collaborators struct {
	Mailer   Mailer
	SMS      SMSSender
	Webhooks WebhookCaller
	Records  RecordStore
}

// ActionExecutor executes configured actions through collaborator
// interfaces, retrying transient failures with exponential backoff
type ActionExecutor struct {
	collab      Collaborators
	logger      *logger.Logger
	maxAttempts int
	backoffBase time.Duration
}

// NewActionExecutor creates a new action executor. Zero maxAttempts or
// backoffBase select the defaults (3 attempts, 200ms base).
func NewActionExecutor(collab Collaborators, maxAttempts int, backoffBase time.Duration, log *logger.Logger) *ActionExecutor {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}

	return &ActionExecutor{
		collab:      collab,
		logger:      log,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Execute runs one action against the execution context. Transient
// failures are retried up to the attempt cap; config errors are not.
// The returned result carries the attempt count for run history.
func (ae *ActionExecutor) Execute(
	ctx context.Context,
	action models.ActionSpec,
	execContext map[string]interface{},
) models.ActionResult {
	result := models.ActionResult{Kind: action.Kind}

	var lastErr error

	for attempt := 1; attempt <= ae.maxAttempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			backoff := ae.backoffBase * time.Duration(1<<uint(attempt-2))
			ae.logger.Infof("Retrying %s action (attempt %d/%d) after %v", action.Kind, attempt, ae.maxAttempts, backoff)
			time.Sleep(backoff)
		}

		err := ae.dispatch(ctx, action, execContext)
		if err == nil {
			result.Success = true
			return result
		}

		lastErr = err

		if !IsRetriable(err) {
			break
		}
	}

	result.Error = lastErr.Error()
	result.Retriable = IsRetriable(lastErr)

	ae.logger.Errorf("Action %s failed after %d attempt(s): %v", action.Kind, result.Attempts, lastErr)

	return result
}

// dispatch routes one attempt to the capability matching the action kind.
// Unknown kinds fail closed as config errors.
func (ae *ActionExecutor) dispatch(
	ctx context.Context,
	action models.ActionSpec,
	execContext map[string]interface{},
) error {
	switch action.Kind {
	case models.ActionKindEmail:
		return ae.sendEmail(ctx, action.Config, execContext)

	case models.ActionKindSMS:
		return ae.sendSMS(ctx, action.Config, execContext)

	case models.ActionKindWebhook:
		return ae.callWebhook(ctx, action.Config, execContext)

	case models.ActionKindUpdateRecord:
		return ae.updateRecord(ctx, action.Config, execContext)

	case models.ActionKindCreateRecord:
		return ae.createRecord(ctx, action.Config, execContext)

	default:
		return NewConfigError("unknown action kind: %s", action.Kind)
	}
}

func (ae *ActionExecutor) sendEmail(ctx context.Context, config, execContext map[string]interface{}) error {
	if ae.collab.Mailer == nil {
		return NewConfigError("mailer not configured")
	}

	to := stringList(config["to"])
	if len(to) == 0 {
		return NewConfigError("email action requires recipients")
	}

	subject := interpolateString(stringValue(config["subject"]), execContext)
	body := interpolateString(stringValue(config["body"]), execContext)
	if subject == "" {
		return NewConfigError("email action requires a subject")
	}

	return ae.collab.Mailer.Send(ctx, to, subject, body)
}

func (ae *ActionExecutor) sendSMS(ctx context.Context, config, execContext map[string]interface{}) error {
	if ae.collab.SMS == nil {
		return NewConfigError("sms sender not configured")
	}

	to := stringList(config["to"])
	if len(to) == 0 {
		return NewConfigError("sms action requires recipients")
	}

	body := interpolateString(stringValue(config["body"]), execContext)
	if body == "" {
		return NewConfigError("sms action requires a body")
	}

	return ae.collab.SMS.Send(ctx, to, body)
}

func (ae *ActionExecutor) callWebhook(ctx context.Context, config, execContext map[string]interface{}) error {
	if ae.collab.Webhooks == nil {
		return NewConfigError("webhook caller not configured")
	}

	url := stringValue(config["url"])
	if url == "" {
		return NewConfigError("webhook action requires a url")
	}

	payload, _ := config["payload"].(map[string]interface{})
	payload = interpolateVariables(payload, execContext)

	return ae.collab.Webhooks.Call(ctx, url, payload)
}

func (ae *ActionExecutor) updateRecord(ctx context.Context, config, execContext map[string]interface{}) error {
	if ae.collab.Records == nil {
		return NewConfigError("record store not configured")
	}

	ref, err := subjectRef(execContext)
	if err != nil {
		return err
	}

	if engineOwnedModules[ref.Module] {
		return NewConfigError("update_record may not target engine module %q", ref.Module)
	}

	patch, _ := config["patch"].(map[string]interface{})
	if len(patch) == 0 {
		return NewConfigError("update_record action requires a patch")
	}
	patch = interpolateVariables(patch, execContext)

	if err := ae.collab.Records.Update(ctx, ref, patch); err != nil {
		return err
	}

	// Later actions in the same run must observe this write.
	applyPatchToContext(execContext, patch)

	return nil
}

func (ae *ActionExecutor) createRecord(ctx context.Context, config, execContext map[string]interface{}) error {
	if ae.collab.Records == nil {
		return NewConfigError("record store not configured")
	}

	module := stringValue(config["module"])
	if module == "" {
		return NewConfigError("create_record action requires a module")
	}

	if engineOwnedModules[module] {
		return NewConfigError("create_record may not target engine module %q", module)
	}

	payload, _ := config["payload"].(map[string]interface{})
	if len(payload) == 0 {
		return NewConfigError("create_record action requires a payload")
	}
	payload = interpolateVariables(payload, execContext)

	recordID, err := ae.collab.Records.Create(ctx, module, payload)
	if err != nil {
		return err
	}

	execContext["created_record"] = map[string]interface{}{
		"module": module,
		"id":     recordID,
		"data":   payload,
	}

	return nil
}

// subjectRef extracts the subject record reference the trigger supplied
func subjectRef(execContext map[string]interface{}) (models.RecordRef, error) {
	record, ok := execContext["record"].(map[string]interface{})
	if !ok {
		return models.RecordRef{}, NewConfigError("execution context has no subject record")
	}

	module := stringValue(record["module"])
	id := stringValue(record["id"])
	if module == "" || id == "" {
		return models.RecordRef{}, NewConfigError("subject record reference is incomplete")
	}

	return models.RecordRef{Module: module, RecordID: id}, nil
}

// applyPatchToContext merges an applied patch into the in-memory subject
// record so later actions and conditions see the updated state
func applyPatchToContext(execContext, patch map[string]interface{}) {
	record, ok := execContext["record"].(map[string]interface{})
	if !ok {
		return
	}

	data, ok := record["data"].(map[string]interface{})
	if !ok {
		data = make(map[string]interface{})
		record["data"] = data
	}

	for key, value := range patch {
		data[key] = value
	}
}

// interpolateVariables replaces variable references in data with values
// from context. Example: "${record.id}" becomes the subject record ID.
func interpolateVariables(
	data map[string]interface{},
	context map[string]interface{},
) map[string]interface{} {
	result := make(map[string]interface{}, len(data))

	for key, value := range data {
		switch v := value.(type) {
		case string:
			if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
				varName := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
				if resolved, found := lookupField(varName, context); found {
					result[key] = resolved
				} else {
					result[key] = nil
				}
			} else {
				result[key] = v
			}
		case map[string]interface{}:
			result[key] = interpolateVariables(v, context)
		default:
			result[key] = value
		}
	}

	return result
}

// interpolateString resolves ${path} references embedded in a string
func interpolateString(s string, context map[string]interface{}) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var b strings.Builder
	rest := s

	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:start])
		path := rest[start+2 : start+end]
		if resolved, found := lookupField(path, context); found {
			b.WriteString(fmt.Sprintf("%v", resolved))
		}
		rest = rest[start+end+1:]
	}

	return b.String()
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

// stringList coerces a config value into a list of strings
func stringList(v interface{}) []string {
	switch value := v.(type) {
	case []string:
		return value
	case []interface{}:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if value == "" {
			return nil
		}
		return []string{value}
	default:
		return nil
	}
}
