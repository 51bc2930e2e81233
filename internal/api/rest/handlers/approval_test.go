package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpcore/automation-engine/internal/api/rest/middleware"
	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/mocks"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/internal/services"
	"github.com/erpcore/automation-engine/pkg/auth"
	"github.com/erpcore/automation-engine/pkg/logger"
	"github.com/erpcore/automation-engine/pkg/testutil"
)

type approvalAPIHarness struct {
	workflows *mocks.MemoryWorkflowStore
	instances *mocks.MemoryInstanceStore
	records   *mocks.MemoryRecordStore
	sequencer *engine.Sequencer
	router    http.Handler
}

func newApprovalAPIHarness(t *testing.T) *approvalAPIHarness {
	t.Helper()

	log := logger.NewForTesting()
	h := &approvalAPIHarness{
		workflows: mocks.NewMemoryWorkflowStore(),
		instances: mocks.NewMemoryInstanceStore(),
		records:   mocks.NewMemoryRecordStore(),
	}

	mailer := &mocks.CaptureMailer{}
	collab := engine.Collaborators{Mailer: mailer, Records: h.records}
	executor := engine.NewActionExecutor(collab, 3, time.Millisecond, log)
	h.sequencer = engine.NewSequencer(h.workflows, h.instances, engine.NewEvaluator(log), executor, log)
	approvalService := services.NewApprovalService(h.sequencer, h.workflows, h.instances, mailer, log)

	handler := NewApprovalHandler(log, approvalService, h.instances)
	router := chi.NewRouter()
	router.Post("/instances/{id}/decision", handler.Decide)
	router.Post("/instances/{id}/cancel", handler.Cancel)
	router.Get("/instances/{id}", handler.Get)
	h.router = router

	return h
}

// parkInstance runs the fixture workflow to its approval step
func (h *approvalAPIHarness) parkInstance(t *testing.T) *models.WorkflowInstance {
	t.Helper()

	workflow := testutil.NewFixtureBuilder().Workflow()
	h.workflows.Put(workflow)

	subject := models.RecordRef{Module: "purchase_orders", RecordID: "po-1"}
	h.records.Put(subject, map[string]interface{}{"amount": 900.0})

	instance, err := h.sequencer.Start(context.Background(), workflow, subject)
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusWaitingApproval, instance.Status)

	return instance
}

func (h *approvalAPIHarness) do(t *testing.T, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if claims != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func managerClaims() *auth.Claims {
	return &auth.Claims{
		UserID:       uuid.New(),
		Role:         "manager",
		Capabilities: []string{auth.CapabilityDecide, auth.CapabilityReadRuns},
	}
}

func TestApprovalDecide(t *testing.T) {
	h := newApprovalAPIHarness(t)
	instance := h.parkInstance(t)

	body := map[string]interface{}{"step_index": 2, "decision": "approve"}
	rec := h.do(t, http.MethodPost, "/instances/"+instance.ID.String()+"/decision", body, managerClaims())

	assert.Equal(t, http.StatusOK, rec.Code)

	var updated models.WorkflowInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, models.InstanceStatusCompleted, updated.Status)
}

func TestApprovalDecide_Errors(t *testing.T) {
	h := newApprovalAPIHarness(t)
	instance := h.parkInstance(t)
	path := "/instances/" + instance.ID.String() + "/decision"

	t.Run("no claims", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, path, map[string]interface{}{"step_index": 2, "decision": "approve"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad decision value", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, path, map[string]interface{}{"step_index": 2, "decision": "maybe"}, managerClaims())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stale step index", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, path, map[string]interface{}{"step_index": 0, "decision": "approve"}, managerClaims())
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		claims := managerClaims()
		claims.Role = "clerk"
		rec := h.do(t, http.MethodPost, path, map[string]interface{}{"step_index": 2, "decision": "approve"}, claims)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("invalid instance id", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/instances/not-a-uuid/decision", map[string]interface{}{"step_index": 2, "decision": "approve"}, managerClaims())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestApprovalDecide_TerminalConflict(t *testing.T) {
	h := newApprovalAPIHarness(t)
	instance := h.parkInstance(t)
	path := "/instances/" + instance.ID.String() + "/decision"

	rec := h.do(t, http.MethodPost, path, map[string]interface{}{"step_index": 2, "decision": "reject"}, managerClaims())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, path, map[string]interface{}{"step_index": 2, "decision": "approve"}, managerClaims())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprovalCancel(t *testing.T) {
	h := newApprovalAPIHarness(t)
	instance := h.parkInstance(t)

	rec := h.do(t, http.MethodPost, "/instances/"+instance.ID.String()+"/cancel", map[string]interface{}{"reason": "withdrawn"}, managerClaims())
	assert.Equal(t, http.StatusOK, rec.Code)

	var updated models.WorkflowInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, models.InstanceStatusCancelled, updated.Status)
}

func TestApprovalGet(t *testing.T) {
	h := newApprovalAPIHarness(t)
	instance := h.parkInstance(t)

	rec := h.do(t, http.MethodGet, "/instances/"+instance.ID.String(), nil, managerClaims())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/instances/"+uuid.New().String(), nil, managerClaims())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
