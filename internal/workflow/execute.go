package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/executor"
	"github.com/fyrsmithlabs/remedyd/internal/finding"
	"github.com/fyrsmithlabs/remedyd/internal/prompt"
	"github.com/fyrsmithlabs/remedyd/internal/session"
)

// systemPrompt is appended to the tool's system instructions on every step.
const systemPrompt = "You are an automated remediation agent operating " +
	"non-interactively inside a checked-out workspace. Make only changes " +
	"required by the task. When asked for JSON, emit exactly one JSON object."

// stepSpec holds the execution budget for one pipeline stage. Later stages
// get smaller budgets than the exploratory scan stage.
type stepSpec struct {
	tools    []string
	timeout  time.Duration
	maxTurns int
}

func specFor(name session.StepName) stepSpec {
	switch name {
	case session.StepScan:
		return stepSpec{
			tools:    []string{"Read", "Grep", "Glob"},
			timeout:  10 * time.Minute,
			maxTurns: 40,
		}
	case session.StepFix:
		return stepSpec{
			tools:    []string{"Read", "Grep", "Glob", "Edit", "Write", "Bash"},
			timeout:  15 * time.Minute,
			maxTurns: 50,
		}
	case session.StepTest:
		return stepSpec{
			tools:    []string{"Read", "Bash"},
			timeout:  10 * time.Minute,
			maxTurns: 30,
		}
	case session.StepDocument:
		return stepSpec{
			tools:    []string{"Read", "Write"},
			timeout:  5 * time.Minute,
			maxTurns: 15,
		}
	}
	return stepSpec{timeout: 5 * time.Minute, maxTurns: 20}
}

// dependsOn returns the earlier step whose result this step's prompt needs,
// or "" when it needs none. Verification and documentation both describe
// what the fix changed.
func dependsOn(name session.StepName) session.StepName {
	switch name {
	case session.StepTest, session.StepDocument:
		return session.StepFix
	}
	return ""
}

// ExecuteWorkflow creates a session for the subject and runs its steps
// strictly in order. Each step's request resumes the external analysis
// session established by the first step that reported one. The first step
// failure fails the session, is durably persisted, and is returned as an
// error; remaining steps are not attempted. The final session snapshot is
// returned in both cases.
func (m *Manager) ExecuteWorkflow(ctx context.Context, subject *finding.Finding, stepNames []session.StepName) (*session.WorkflowSession, error) {
	if subject == nil {
		return nil, fmt.Errorf("subject finding is required")
	}
	s, err := m.CreateSession(ctx, subject.ID, subject.Title, stepNames)
	if err != nil {
		return nil, err
	}
	return m.runWorkflow(ctx, s.ID, subject, stepNames)
}

// StartWorkflow creates the session and runs the workflow in the
// background, returning the pending snapshot immediately. The run is
// detached from ctx so an aborted HTTP request does not kill it.
func (m *Manager) StartWorkflow(ctx context.Context, subject *finding.Finding, stepNames []session.StepName) (*session.WorkflowSession, error) {
	if subject == nil {
		return nil, fmt.Errorf("subject finding is required")
	}
	s, err := m.CreateSession(ctx, subject.ID, subject.Title, stepNames)
	if err != nil {
		return nil, err
	}
	go func() {
		if _, err := m.runWorkflow(context.Background(), s.ID, subject, stepNames); err != nil {
			m.logger.Warn("background workflow failed",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
		}
	}()
	return s, nil
}

func (m *Manager) runWorkflow(ctx context.Context, id string, subject *finding.Finding, stepNames []session.StepName) (*session.WorkflowSession, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.execute")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire workflow slot: %w", err)
		}
		defer m.sem.Release(1)
	}

	log := m.logger.With(
		zap.String("session_id", id),
		zap.String("subject_id", subject.ID),
	)

	if err := m.StartSession(ctx, id); err != nil {
		return nil, err
	}
	workflowsStarted.Add(ctx, 1)
	start := time.Now()

	// Zero steps is vacuous success.
	if len(stepNames) == 0 {
		snapshot, err := m.transition(id, func(s *session.WorkflowSession) error {
			s.Status = session.StatusCompleted
			return nil
		})
		if err != nil {
			return nil, err
		}
		m.bus.Publish(events.Event{Type: events.TypeCompleted, Session: snapshot, StepIndex: -1})
		return m.finish(ctx, id, start, nil)
	}

	externalID := ""
	for i, name := range stepNames {
		if cancelled, err := m.sessionCancelled(id); err != nil {
			return nil, err
		} else if cancelled {
			log.Info("session cancelled, stopping before next step",
				zap.String("step", string(name)))
			return m.finish(ctx, id, start, nil)
		}

		if skipped, err := m.stepSkipped(id, i); err != nil {
			return nil, err
		} else if skipped {
			continue
		}

		if err := m.StartStep(ctx, id, i); err != nil {
			return nil, err
		}
		log.Info("step started", zap.String("step", string(name)), zap.Int("index", i))

		prior, err := m.priorResult(id, dependsOn(name))
		if err != nil {
			return nil, err
		}
		text, err := prompt.ForStep(name, subject, prior)
		if err != nil {
			if failErr := m.FailStep(ctx, id, i, err.Error()); failErr != nil {
				return nil, failErr
			}
			return m.finish(ctx, id, start, fmt.Errorf("step %s: %w", name, err))
		}

		spec := specFor(name)
		res := m.runner.Run(ctx, executor.Request{
			Prompt:            text,
			WorkDir:           m.cfg.WorkDir,
			OutputMode:        executor.OutputJSON,
			AllowedTools:      spec.tools,
			SystemPrompt:      systemPrompt,
			ExternalSessionID: externalID,
			Resume:            externalID != "",
			Timeout:           spec.timeout,
			MaxTurns:          spec.maxTurns,
		})

		if !res.Success {
			stepFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("step", string(name)),
				attribute.String("kind", string(res.FailureKind)),
			))
			log.Warn("step failed",
				zap.String("step", string(name)),
				zap.String("kind", string(res.FailureKind)),
				zap.String("error", res.Error),
			)
			// Persist the failure before propagating it.
			if failErr := m.FailStep(ctx, id, i, res.Error); failErr != nil {
				return nil, failErr
			}
			return m.finish(ctx, id, start,
				fmt.Errorf("step %s failed (%s): %s", name, res.FailureKind, res.Error))
		}

		result := res.Structured
		if result == nil {
			// Text mode output, stored as a JSON string.
			result, _ = json.Marshal(res.Output)
		}
		if err := m.CompleteStep(ctx, id, i, result, res.ExternalSessionID); err != nil {
			return nil, err
		}
		if res.ExternalSessionID != "" {
			externalID = res.ExternalSessionID
		}
		log.Info("step completed",
			zap.String("step", string(name)),
			zap.Bool("resumable", externalID != ""),
		)
	}

	return m.finish(ctx, id, start, nil)
}

// finish records workflow-level metrics and returns the final snapshot
// alongside execErr.
func (m *Manager) finish(ctx context.Context, id string, start time.Time, execErr error) (*session.WorkflowSession, error) {
	snapshot, getErr := m.GetSession(id)
	if getErr != nil {
		return nil, getErr
	}
	workflowDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("status", string(snapshot.Status)),
	))
	return snapshot, execErr
}

func (m *Manager) sessionCancelled(id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Status == session.StatusCancelled, nil
}

func (m *Manager) stepSkipped(id string, index int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if index < 0 || index >= len(s.Steps) {
		return false, fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, index, len(s.Steps))
	}
	return s.Steps[index].Status == session.StepSkipped, nil
}

// priorResult returns the stored result of the named completed step, or nil
// when the step has no dependency or the dependency did not run.
func (m *Manager) priorResult(id string, dep session.StepName) (json.RawMessage, error) {
	if dep == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	for i := range s.Steps {
		if s.Steps[i].Name == dep && s.Steps[i].Status == session.StepCompleted {
			return append(json.RawMessage(nil), s.Steps[i].Result...), nil
		}
	}
	return nil, nil
}
