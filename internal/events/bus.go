// Package events provides an in-process publish mechanism for workflow
// state changes. Delivery is synchronous and unbuffered: Publish invokes
// every subscriber inline and returns when all have run, so a slow
// subscriber slows the publisher.
package events

import (
	"sync"

	"github.com/fyrsmithlabs/remedyd/internal/session"
)

// Type identifies a workflow state transition.
type Type string

const (
	TypeStarted       Type = "started"
	TypeStepStarted   Type = "step_started"
	TypeStepCompleted Type = "step_completed"
	TypeStepFailed    Type = "step_failed"
	TypeCompleted     Type = "completed"
	TypeFailed        Type = "failed"
	TypeCancelled     Type = "cancelled"
)

// Event describes one session or step transition. Session is a deep copy;
// subscribers may retain it without racing the manager.
type Event struct {
	Type    Type
	Session *session.WorkflowSession

	// StepIndex is set for step-level events, -1 otherwise.
	StepIndex int
}

// Handler receives published events.
type Handler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers ev to every subscriber, in subscription order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
