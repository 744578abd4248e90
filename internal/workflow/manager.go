package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/executor"
	"github.com/fyrsmithlabs/remedyd/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/workflow"

var (
	// ErrSessionNotFound is returned when an operation references an
	// unknown session id.
	ErrSessionNotFound = errors.New("workflow session not found")

	// ErrStepOutOfRange is returned when a step index does not exist.
	ErrStepOutOfRange = errors.New("step index out of range")
)

// Config configures the workflow manager.
type Config struct {
	// WorkDir is the workspace the external tool operates in.
	WorkDir string

	// MaxConcurrent caps concurrently executing workflows. Zero means
	// no cap (the source system's behavior).
	MaxConcurrent int
}

// Manager drives the step state machine and owns all session state, both
// the in-memory index and the persisted records. Every transition is
// persisted before its event is published.
//
// Cancellation is cooperative only: CancelSession flips the recorded status
// but does not signal an in-flight executor call. A cancelled session's
// running step finishes (or times out) before the cancellation is honored
// at the next step boundary.
type Manager struct {
	cfg    Config
	store  session.Store
	runner executor.Runner
	bus    *events.Bus
	logger *zap.Logger
	tracer trace.Tracer
	sem    *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*session.WorkflowSession
}

// NewManager creates a Manager. store and runner are required; bus and
// logger may be nil.
func NewManager(cfg Config, store session.Store, runner executor.Runner, bus *events.Bus, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if runner == nil {
		return nil, errors.New("executor runner is required")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		bus:      bus,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		sessions: make(map[string]*session.WorkflowSession),
	}
	if cfg.MaxConcurrent > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return m, nil
}

// Restore repopulates the in-memory index from the store. Call once at
// startup before serving requests.
func (m *Manager) Restore(ctx context.Context) error {
	_, span := m.tracer.Start(ctx, "workflow.restore")
	defer span.End()

	loaded, err := m.store.LoadAll()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to restore sessions: %w", err)
	}

	m.mu.Lock()
	for _, s := range loaded {
		m.sessions[s.ID] = s
	}
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("session_count", len(loaded)))
	m.logger.Info("restored sessions", zap.Int("count", len(loaded)))
	return nil
}

// CreateSession builds a pending session for the subject with the given
// step order, persists it, and returns a snapshot.
func (m *Manager) CreateSession(ctx context.Context, subjectID, subjectTitle string, stepNames []session.StepName) (*session.WorkflowSession, error) {
	_, span := m.tracer.Start(ctx, "workflow.create_session")
	defer span.End()

	for _, name := range stepNames {
		if !session.ValidStepName(name) {
			return nil, fmt.Errorf("unknown step name %q", name)
		}
	}

	s := session.New(subjectID, subjectTitle, stepNames)
	if err := m.store.Save(s); err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	span.SetAttributes(
		attribute.String("session_id", s.ID),
		attribute.Int("step_count", len(stepNames)),
	)
	m.logger.Info("created session",
		zap.String("session_id", s.ID),
		zap.String("subject_id", subjectID),
		zap.Int("steps", len(stepNames)),
	)
	return s.Clone(), nil
}

// StartSession moves the session to in-progress and emits started.
func (m *Manager) StartSession(ctx context.Context, id string) error {
	snapshot, err := m.transition(id, func(s *session.WorkflowSession) error {
		s.Status = session.StatusInProgress
		return nil
	})
	if err != nil {
		return err
	}
	m.bus.Publish(events.Event{Type: events.TypeStarted, Session: snapshot, StepIndex: -1})
	return nil
}

// StartStep moves a step to in-progress, records its start time, advances
// currentStepIndex, and emits step_started. Referencing a missing session
// or step index is an error, never a silent no-op.
func (m *Manager) StartStep(ctx context.Context, id string, index int) error {
	snapshot, err := m.transition(id, func(s *session.WorkflowSession) error {
		if index < 0 || index >= len(s.Steps) {
			return fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, index, len(s.Steps))
		}
		now := time.Now().UTC()
		step := &s.Steps[index]
		step.Status = session.StepInProgress
		step.StartedAt = &now
		if index > s.CurrentStepIndex {
			s.CurrentStepIndex = index
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.bus.Publish(events.Event{Type: events.TypeStepStarted, Session: snapshot, StepIndex: index})
	return nil
}

// CompleteStep records a step's result and, when the executor reported an
// external session id, stores it on both the step and the session so later
// steps resume the same analysis context. When every step is completed or
// skipped the session itself completes.
func (m *Manager) CompleteStep(ctx context.Context, id string, index int, result []byte, externalSessionID string) error {
	var sessionDone bool
	snapshot, err := m.transition(id, func(s *session.WorkflowSession) error {
		if index < 0 || index >= len(s.Steps) {
			return fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, index, len(s.Steps))
		}
		now := time.Now().UTC()
		step := &s.Steps[index]
		step.Status = session.StepCompleted
		step.Result = result
		step.CompletedAt = &now
		if externalSessionID != "" {
			step.ExternalSessionID = externalSessionID
			s.ExternalSessionID = externalSessionID
		}
		if s.AllStepsDone() {
			s.Status = session.StatusCompleted
			sessionDone = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.bus.Publish(events.Event{Type: events.TypeStepCompleted, Session: snapshot, StepIndex: index})
	if sessionDone {
		m.bus.Publish(events.Event{Type: events.TypeCompleted, Session: snapshot, StepIndex: -1})
	}
	return nil
}

// FailStep records a step failure and fails the whole session. Remaining
// steps are left pending and never attempted.
func (m *Manager) FailStep(ctx context.Context, id string, index int, errorMessage string) error {
	snapshot, err := m.transition(id, func(s *session.WorkflowSession) error {
		if index < 0 || index >= len(s.Steps) {
			return fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, index, len(s.Steps))
		}
		now := time.Now().UTC()
		step := &s.Steps[index]
		step.Status = session.StepFailed
		step.Error = errorMessage
		step.CompletedAt = &now
		s.Status = session.StatusFailed
		return nil
	})
	if err != nil {
		return err
	}

	m.bus.Publish(events.Event{Type: events.TypeStepFailed, Session: snapshot, StepIndex: index})
	m.bus.Publish(events.Event{Type: events.TypeFailed, Session: snapshot, StepIndex: -1})
	return nil
}

// SkipStep marks a pending step skipped, pre-empting its execution.
func (m *Manager) SkipStep(ctx context.Context, id string, index int) error {
	var sessionDone bool
	snapshot, err := m.transition(id, func(s *session.WorkflowSession) error {
		if index < 0 || index >= len(s.Steps) {
			return fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, index, len(s.Steps))
		}
		s.Steps[index].Status = session.StepSkipped
		if s.Status != session.StatusPending && s.AllStepsDone() {
			s.Status = session.StatusCompleted
			sessionDone = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if sessionDone {
		m.bus.Publish(events.Event{Type: events.TypeCompleted, Session: snapshot, StepIndex: -1})
	}
	return nil
}

// CancelSession records the session cancelled and emits cancelled. It does
// not interrupt an in-flight executor call; see the Manager doc.
func (m *Manager) CancelSession(ctx context.Context, id string) error {
	snapshot, err := m.transition(id, func(s *session.WorkflowSession) error {
		s.Status = session.StatusCancelled
		return nil
	})
	if err != nil {
		return err
	}
	m.bus.Publish(events.Event{Type: events.TypeCancelled, Session: snapshot, StepIndex: -1})
	return nil
}

// DeleteSession removes the session from the store and the index. Deletion
// is explicit and caller-driven; there is no retention policy.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if err := m.store.Delete(id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// GetSession returns a snapshot of one session.
func (m *Manager) GetSession(id string) (*session.WorkflowSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

// ListSessions returns snapshots of every known session.
func (m *Manager) ListSessions() []*session.WorkflowSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.WorkflowSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// transition applies fn to the session under the manager lock, stamps
// updatedAt, persists, and returns a snapshot for event publication. The
// store write happens before the lock is released so persisted order
// matches transition order.
func (m *Manager) transition(id string, fn func(*session.WorkflowSession) error) (*session.WorkflowSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = time.Now().UTC()

	if err := m.store.Save(s); err != nil {
		return nil, fmt.Errorf("failed to persist transition for session %s: %w", id, err)
	}
	return s.Clone(), nil
}
