package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erpcore/automation-engine/internal/models"
)

// Capture mocks for the engine's collaborator interfaces. Each records
// what it was asked to deliver and can be primed to fail.

// SentEmail is one captured email delivery
type SentEmail struct {
	To      []string
	Subject string
	Body    string
}

// CaptureMailer records sent emails
type CaptureMailer struct {
	mu     sync.Mutex
	Emails []SentEmail

	// Fail causes Send to return this error. FailTimes limits how many
	// calls fail; zero means every call.
	Fail      error
	FailTimes int
	calls     int
}

func (m *CaptureMailer) Send(ctx context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Fail != nil && (m.FailTimes == 0 || m.calls <= m.FailTimes) {
		return m.Fail
	}

	m.Emails = append(m.Emails, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

// Calls returns how many times Send was invoked, failures included
func (m *CaptureMailer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SentSMS is one captured SMS delivery
type SentSMS struct {
	To   []string
	Body string
}

// CaptureSMSSender records sent SMS messages
type CaptureSMSSender struct {
	mu       sync.Mutex
	Messages []SentSMS
	Fail     error
}

func (m *CaptureSMSSender) Send(ctx context.Context, to []string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return m.Fail
	}

	m.Messages = append(m.Messages, SentSMS{To: to, Body: body})
	return nil
}

// WebhookCall is one captured outbound webhook delivery
type WebhookCall struct {
	URL     string
	Payload map[string]interface{}
}

// CaptureWebhookCaller records outbound webhook calls
type CaptureWebhookCaller struct {
	mu    sync.Mutex
	Calls []WebhookCall

	Fail      error
	FailTimes int
	calls     int
}

func (m *CaptureWebhookCaller) Call(ctx context.Context, url string, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Fail != nil && (m.FailTimes == 0 || m.calls <= m.FailTimes) {
		return m.Fail
	}

	m.Calls = append(m.Calls, WebhookCall{URL: url, Payload: payload})
	return nil
}

// Attempts returns how many times Call was invoked, failures included
func (m *CaptureWebhookCaller) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MemoryRecordStore is an in-memory RecordStore backing business records
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]map[string]interface{}

	FailUpdate error
	nextID     int
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]map[string]interface{}),
	}
}

// Put seeds a record
func (s *MemoryRecordStore) Put(ref models.RecordRef, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ref.String()] = data
}

func (s *MemoryRecordStore) Get(ctx context.Context, ref models.RecordRef) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.records[ref.String()]
	if !exists {
		return nil, fmt.Errorf("record %s not found", ref)
	}

	copied := make(map[string]interface{}, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return copied, nil
}

func (s *MemoryRecordStore) Update(ctx context.Context, ref models.RecordRef, patch map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpdate != nil {
		return s.FailUpdate
	}

	data, exists := s.records[ref.String()]
	if !exists {
		return fmt.Errorf("record %s not found", ref)
	}

	for k, v := range patch {
		data[k] = v
	}
	return nil
}

func (s *MemoryRecordStore) Create(ctx context.Context, module string, payload map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := fmt.Sprintf("%s-%d", module, s.nextID)
	s.records[models.RecordRef{Module: module, RecordID: id}.String()] = payload

	return id, nil
}

// MemoryGuard is an in-memory firing lease for tests
type MemoryGuard struct {
	mu     sync.Mutex
	leases map[string]time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{leases: make(map[string]time.Time)}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, held := g.leases[key]; held && time.Now().Before(expiry) {
		return false, nil
	}

	g.leases[key] = time.Now().Add(ttl)
	return true, nil
}
