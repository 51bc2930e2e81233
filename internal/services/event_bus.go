package services

import (
	"context"
	"sync"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// WildcardEvent subscribes a handler to every published event. The
// trigger scheduler uses it: matching event names against automations
// is its job, not the bus's.
const WildcardEvent = "*"

// InProcessEventBus is a synchronous in-process event bus. Business
// modules publish record lifecycle events on it and the scheduler fans
// them out to event-triggered automations.
type InProcessEventBus struct {
	mu       sync.RWMutex
	handlers map[string][]engine.EventHandler
	logger   *logger.Logger
}

// NewInProcessEventBus creates a new in-process event bus
func NewInProcessEventBus(log *logger.Logger) *InProcessEventBus {
	return &InProcessEventBus{
		handlers: make(map[string][]engine.EventHandler),
		logger:   log,
	}
}

// Subscribe registers a handler for an event name, or for every event
// with WildcardEvent
func (b *InProcessEventBus) Subscribe(eventName string, handler engine.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish delivers an event to its subscribers and wildcard
// subscribers, synchronously in publish order
func (b *InProcessEventBus) Publish(ctx context.Context, eventName string, payload map[string]interface{}) {
	b.mu.RLock()
	handlers := make([]engine.EventHandler, 0, len(b.handlers[eventName])+len(b.handlers[WildcardEvent]))
	handlers = append(handlers, b.handlers[eventName]...)
	handlers = append(handlers, b.handlers[WildcardEvent]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debugf("Event %s published with no subscribers", eventName)
		return
	}

	for _, handler := range handlers {
		handler(ctx, eventName, payload)
	}
}
