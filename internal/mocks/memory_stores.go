package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
)

// In-memory store mocks for testing. They honor the same integrity
// contracts as the postgres repositories: unique idempotency keys on
// runs and optimistic version checks on instances.

// MemoryAutomationStore is an in-memory AutomationStore
type MemoryAutomationStore struct {
	mu          sync.RWMutex
	automations map[uuid.UUID]*models.Automation
}

func NewMemoryAutomationStore() *MemoryAutomationStore {
	return &MemoryAutomationStore{
		automations: make(map[uuid.UUID]*models.Automation),
	}
}

// Put stores or replaces an automation definition
func (s *MemoryAutomationStore) Put(automation *models.Automation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if automation.ID == uuid.Nil {
		automation.ID = uuid.New()
	}

	s.automations[automation.ID] = automation
}

func (s *MemoryAutomationStore) GetAutomationByID(ctx context.Context, id uuid.UUID) (*models.Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	automation, exists := s.automations[id]
	if !exists {
		return nil, fmt.Errorf("automation not found")
	}

	copied := *automation
	return &copied, nil
}

func (s *MemoryAutomationStore) ListActiveAutomations(ctx context.Context) ([]models.Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []models.Automation
	for _, automation := range s.automations {
		if automation.IsActive {
			active = append(active, *automation)
		}
	}

	return active, nil
}

func (s *MemoryAutomationStore) RecordRunApplied(ctx context.Context, automationID uuid.UUID, ranAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	automation, exists := s.automations[automationID]
	if !exists {
		return fmt.Errorf("automation not found")
	}

	automation.RunCount++
	automation.LastRun = &ranAt

	return nil
}

// MemoryRunStore is an in-memory RunStore enforcing idempotency key
// uniqueness the way the unique index does
type MemoryRunStore struct {
	mu    sync.RWMutex
	runs  []*models.AutomationRun
	byKey map[string]*models.AutomationRun

	// FailCreate forces CreateRun to fail, for error path tests
	FailCreate error
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		byKey: make(map[string]*models.AutomationRun),
	}
}

func (s *MemoryRunStore) CreateRun(ctx context.Context, run *models.AutomationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreate != nil {
		return s.FailCreate
	}

	if _, exists := s.byKey[run.IdempotencyKey]; exists {
		return engine.ErrDuplicateRun
	}

	copied := *run
	s.runs = append(s.runs, &copied)
	s.byKey[run.IdempotencyKey] = &copied

	return nil
}

func (s *MemoryRunStore) GetRunByIdempotencyKey(ctx context.Context, key string) (*models.AutomationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.byKey[key]
	if !exists {
		return nil, engine.ErrRunNotFound
	}

	copied := *run
	return &copied, nil
}

func (s *MemoryRunStore) ListRunsByAutomation(ctx context.Context, automationID uuid.UUID, limit, offset int) ([]models.AutomationRun, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.AutomationRun
	for _, run := range s.runs {
		if run.AutomationID == automationID {
			matched = append(matched, *run)
		}
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	return matched[offset:end], total, nil
}

// Runs returns every stored run, for assertions
func (s *MemoryRunStore) Runs() []models.AutomationRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AutomationRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out
}

// MemoryWorkflowStore is an in-memory WorkflowStore
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]*models.Workflow
}

func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{
		workflows: make(map[uuid.UUID]*models.Workflow),
	}
}

func (s *MemoryWorkflowStore) Put(workflow *models.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}

	s.workflows[workflow.ID] = workflow
}

func (s *MemoryWorkflowStore) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflow, exists := s.workflows[id]
	if !exists {
		return nil, fmt.Errorf("workflow not found")
	}

	copied := *workflow
	return &copied, nil
}

func (s *MemoryWorkflowStore) GetActiveWorkflowForModule(ctx context.Context, module string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, workflow := range s.workflows {
		if workflow.IsActive && workflow.Module == module {
			copied := *workflow
			return &copied, nil
		}
	}

	return nil, engine.ErrNoWorkflowForModule
}

// MemoryInstanceStore is an in-memory InstanceStore with the same
// optimistic versioning behavior as the postgres repository
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*models.WorkflowInstance
}

func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[uuid.UUID]*models.WorkflowInstance),
	}
}

func (s *MemoryInstanceStore) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	now := time.Now()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	copied := cloneInstance(instance)
	s.instances[instance.ID] = copied

	return nil
}

func (s *MemoryInstanceStore) UpdateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.instances[instance.ID]
	if !exists {
		return fmt.Errorf("instance not found")
	}

	if stored.Version != instance.Version {
		return engine.ErrVersionConflict
	}

	instance.Version++
	instance.UpdatedAt = time.Now()
	s.instances[instance.ID] = cloneInstance(instance)

	return nil
}

func (s *MemoryInstanceStore) GetInstanceByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, exists := s.instances[id]
	if !exists {
		return nil, fmt.Errorf("instance not found")
	}

	return cloneInstance(instance), nil
}

func (s *MemoryInstanceStore) ListWaitingApproval(ctx context.Context, expiredBefore time.Time, limit int) ([]models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var waiting []models.WorkflowInstance
	for _, instance := range s.instances {
		if instance.Status != models.InstanceStatusWaitingApproval {
			continue
		}
		if instance.ApprovalExpiresAt == nil || !instance.ApprovalExpiresAt.Before(expiredBefore) {
			continue
		}

		waiting = append(waiting, *cloneInstance(instance))
		if limit > 0 && len(waiting) >= limit {
			break
		}
	}

	return waiting, nil
}

// Instances returns every stored instance, for assertions
func (s *MemoryInstanceStore) Instances() []models.WorkflowInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.WorkflowInstance, 0, len(s.instances))
	for _, instance := range s.instances {
		out = append(out, *cloneInstance(instance))
	}
	return out
}

func cloneInstance(instance *models.WorkflowInstance) *models.WorkflowInstance {
	copied := *instance
	copied.StepHistory = append(models.StepHistory(nil), instance.StepHistory...)
	return &copied
}
