package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// flakyCaller fails a fixed number of times before succeeding
type flakyCaller struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	lastURL  string
	lastBody map[string]interface{}
}

func (c *flakyCaller) Call(ctx context.Context, url string, payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	c.lastURL = url
	c.lastBody = payload

	if c.calls <= c.failures {
		return c.err
	}
	return nil
}

type capturingMailer struct {
	to      []string
	subject string
	body    string
	err     error
	calls   int
}

func (m *capturingMailer) Send(ctx context.Context, to []string, subject, body string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.to, m.subject, m.body = to, subject, body
	return nil
}

type recordStoreStub struct {
	updated map[string]interface{}
	created map[string]interface{}
	module  string
	err     error
}

func (s *recordStoreStub) Get(ctx context.Context, ref models.RecordRef) (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

func (s *recordStoreStub) Update(ctx context.Context, ref models.RecordRef, patch map[string]interface{}) error {
	if s.err != nil {
		return s.err
	}
	s.updated = patch
	return nil
}

func (s *recordStoreStub) Create(ctx context.Context, module string, payload map[string]interface{}) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.module = module
	s.created = payload
	return "created-1", nil
}

func newTestExecutor(collab Collaborators) *ActionExecutor {
	return NewActionExecutor(collab, 3, time.Millisecond, logger.NewForTesting())
}

func TestActionExecutor_RetriesTransientFailures(t *testing.T) {
	caller := &flakyCaller{failures: 2, err: Transient(errors.New("connection reset"))}
	executor := newTestExecutor(Collaborators{Webhooks: caller})

	action := models.ActionSpec{
		Kind:   models.ActionKindWebhook,
		Config: map[string]interface{}{"url": "https://example.com/hook"},
	}

	result := executor.Execute(context.Background(), action, map[string]interface{}{})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, caller.calls)
}

func TestActionExecutor_GivesUpAfterMaxAttempts(t *testing.T) {
	caller := &flakyCaller{failures: 10, err: Transient(errors.New("gateway timeout"))}
	executor := newTestExecutor(Collaborators{Webhooks: caller})

	action := models.ActionSpec{
		Kind:   models.ActionKindWebhook,
		Config: map[string]interface{}{"url": "https://example.com/hook"},
	}

	result := executor.Execute(context.Background(), action, map[string]interface{}{})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, caller.calls)
	assert.True(t, result.Retriable)
	assert.Contains(t, result.Error, "gateway timeout")
}

func TestActionExecutor_ConfigErrorsAreNotRetried(t *testing.T) {
	mailer := &capturingMailer{}
	executor := newTestExecutor(Collaborators{Mailer: mailer})

	tests := []struct {
		name   string
		action models.ActionSpec
	}{
		{"unknown kind", models.ActionSpec{Kind: "teleport"}},
		{"email without recipients", models.ActionSpec{
			Kind:   models.ActionKindEmail,
			Config: map[string]interface{}{"subject": "hi"},
		}},
		{"email without subject", models.ActionSpec{
			Kind:   models.ActionKindEmail,
			Config: map[string]interface{}{"to": "a@example.com"},
		}},
		{"webhook without url", models.ActionSpec{Kind: models.ActionKindWebhook}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := executor.Execute(context.Background(), tt.action, map[string]interface{}{})

			assert.False(t, result.Success)
			assert.Equal(t, 1, result.Attempts, "config errors must not be retried")
			assert.False(t, result.Retriable)
		})
	}
	assert.Equal(t, 0, mailer.calls)
}

func TestActionExecutor_NonRetriableCollaboratorError(t *testing.T) {
	mailer := &capturingMailer{err: errors.New("550 mailbox unavailable")}
	executor := newTestExecutor(Collaborators{Mailer: mailer})

	action := models.ActionSpec{
		Kind: models.ActionKindEmail,
		Config: map[string]interface{}{
			"to":      "ops@example.com",
			"subject": "alert",
		},
	}

	result := executor.Execute(context.Background(), action, map[string]interface{}{})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, mailer.calls)
}

func TestActionExecutor_EmailInterpolation(t *testing.T) {
	mailer := &capturingMailer{}
	executor := newTestExecutor(Collaborators{Mailer: mailer})

	execContext := map[string]interface{}{
		"record": map[string]interface{}{
			"module": "inventory",
			"id":     "sku-42",
			"data":   map[string]interface{}{"stock": 3.0},
		},
	}

	action := models.ActionSpec{
		Kind: models.ActionKindEmail,
		Config: map[string]interface{}{
			"to":      []interface{}{"ops@example.com"},
			"subject": "Low stock: ${record.id}",
			"body":    "Only ${record.data.stock} left",
		},
	}

	result := executor.Execute(context.Background(), action, execContext)

	require.True(t, result.Success)
	assert.Equal(t, []string{"ops@example.com"}, mailer.to)
	assert.Equal(t, "Low stock: sku-42", mailer.subject)
	assert.Equal(t, "Only 3 left", mailer.body)
}

func TestActionExecutor_UpdateRecordMutatesContext(t *testing.T) {
	records := &recordStoreStub{}
	executor := newTestExecutor(Collaborators{Records: records})

	execContext := map[string]interface{}{
		"record": map[string]interface{}{
			"module": "orders",
			"id":     "ord-7",
			"data":   map[string]interface{}{"status": "open"},
		},
	}

	action := models.ActionSpec{
		Kind: models.ActionKindUpdateRecord,
		Config: map[string]interface{}{
			"patch": map[string]interface{}{"status": "flagged"},
		},
	}

	result := executor.Execute(context.Background(), action, execContext)

	require.True(t, result.Success)
	assert.Equal(t, "flagged", records.updated["status"])

	// Later actions in the same run must see the write
	data := execContext["record"].(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, "flagged", data["status"])
}

func TestActionExecutor_RefusesEngineOwnedModules(t *testing.T) {
	records := &recordStoreStub{}
	executor := newTestExecutor(Collaborators{Records: records})

	execContext := map[string]interface{}{
		"record": map[string]interface{}{
			"module": "automations",
			"id":     "some-id",
		},
	}

	update := models.ActionSpec{
		Kind:   models.ActionKindUpdateRecord,
		Config: map[string]interface{}{"patch": map[string]interface{}{"is_active": false}},
	}
	result := executor.Execute(context.Background(), update, execContext)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Nil(t, records.updated)

	create := models.ActionSpec{
		Kind: models.ActionKindCreateRecord,
		Config: map[string]interface{}{
			"module":  "workflows",
			"payload": map[string]interface{}{"name": "sneaky"},
		},
	}
	result = executor.Execute(context.Background(), create, execContext)
	assert.False(t, result.Success)
	assert.Nil(t, records.created)
}

func TestActionExecutor_CreateRecordExposesRef(t *testing.T) {
	records := &recordStoreStub{}
	executor := newTestExecutor(Collaborators{Records: records})

	execContext := map[string]interface{}{
		"record": map[string]interface{}{
			"module": "orders",
			"id":     "ord-7",
		},
	}

	action := models.ActionSpec{
		Kind: models.ActionKindCreateRecord,
		Config: map[string]interface{}{
			"module":  "tasks",
			"payload": map[string]interface{}{"title": "Review order ${record.id}", "order": "${record.id}"},
		},
	}

	result := executor.Execute(context.Background(), action, execContext)

	require.True(t, result.Success)
	assert.Equal(t, "tasks", records.module)
	assert.Equal(t, "ord-7", records.created["order"])

	created := execContext["created_record"].(map[string]interface{})
	assert.Equal(t, "created-1", created["id"])
}
