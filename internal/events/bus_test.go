package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/session"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe(func(Event) { order = append(order, "first") })
	bus.Subscribe(func(Event) { order = append(order, "second") })

	bus.Publish(Event{Type: TypeStarted, StepIndex: -1})

	require.Equal(t, []string{"first", "second"}, order)
}

func TestPublishIsSynchronous(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe(func(ev Event) {
		delivered = true
		assert.Equal(t, TypeStepCompleted, ev.Type)
		assert.Equal(t, 2, ev.StepIndex)
	})

	bus.Publish(Event{Type: TypeStepCompleted, StepIndex: 2})
	assert.True(t, delivered, "Publish must return after all handlers ran")
}

func TestPublishCarriesSession(t *testing.T) {
	bus := NewBus()
	s := session.New("FIND-1", "t", session.DefaultPipeline())

	var got *session.WorkflowSession
	bus.Subscribe(func(ev Event) { got = ev.Session })

	bus.Publish(Event{Type: TypeStarted, Session: s.Clone(), StepIndex: -1})
	require.NotNil(t, got)
	assert.Equal(t, s.ID, got.ID)
}

func TestSubscribeNilHandlerIgnored(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(nil)

	// Must not panic.
	bus.Publish(Event{Type: TypeStarted, StepIndex: -1})
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{Type: TypeCompleted, StepIndex: -1})
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: TypeStepStarted, StepIndex: 0})
		}()
		go func() {
			defer wg.Done()
			bus.Subscribe(func(Event) {})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}
