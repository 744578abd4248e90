package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/executor"
	"github.com/fyrsmithlabs/remedyd/internal/finding"
	"github.com/fyrsmithlabs/remedyd/internal/session"
)

func testSubject() *finding.Finding {
	return &finding.Finding{
		ID:       "FIND-100",
		Title:    "unchecked error on file close",
		Severity: finding.SeverityMedium,
		Location: "internal/io/writer.go:88",
	}
}

func TestExecuteWorkflowContinuityChain(t *testing.T) {
	m, runner, rec, _ := newTestManager(t, Config{WorkDir: t.TempDir()})

	// The first step establishes the external analysis session; every
	// later step must resume it.
	runner.fn = func(call int, req executor.Request) *executor.Result {
		if call == 0 {
			assert.False(t, req.Resume)
			assert.Empty(t, req.ExternalSessionID)
		} else {
			assert.True(t, req.Resume)
			assert.Equal(t, "S1", req.ExternalSessionID)
		}
		return &executor.Result{
			Success:           true,
			Structured:        json.RawMessage(`{"ok":true}`),
			ExternalSessionID: "S1",
		}
	}

	s, err := m.ExecuteWorkflow(context.Background(), testSubject(), session.DefaultPipeline())
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, s.Status)
	assert.Equal(t, "S1", s.ExternalSessionID)
	require.Len(t, runner.requests(), 4)
	for _, st := range s.Steps {
		assert.Equal(t, session.StepCompleted, st.Status)
		assert.Equal(t, "S1", st.ExternalSessionID)
		assert.Equal(t, json.RawMessage(`{"ok":true}`), st.Result)
		require.NotNil(t, st.StartedAt)
		require.NotNil(t, st.CompletedAt)
	}

	assert.Equal(t, []events.Type{
		events.TypeStarted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeCompleted,
	}, rec.types())
}

func TestExecuteWorkflowStepBudgets(t *testing.T) {
	m, runner, _, _ := newTestManager(t, Config{WorkDir: "/work"})

	_, err := m.ExecuteWorkflow(context.Background(), testSubject(), session.DefaultPipeline())
	require.NoError(t, err)

	reqs := runner.requests()
	require.Len(t, reqs, 4)

	scan := reqs[0]
	assert.Equal(t, []string{"Read", "Grep", "Glob"}, scan.AllowedTools)
	assert.Equal(t, 10*time.Minute, scan.Timeout)
	assert.Equal(t, 40, scan.MaxTurns)
	assert.Equal(t, "/work", scan.WorkDir)
	assert.Equal(t, executor.OutputJSON, scan.OutputMode)
	assert.NotEmpty(t, scan.SystemPrompt)

	fix := reqs[1]
	assert.Contains(t, fix.AllowedTools, "Edit")
	assert.Contains(t, fix.AllowedTools, "Bash")
	assert.Equal(t, 15*time.Minute, fix.Timeout)
	assert.Equal(t, 50, fix.MaxTurns)

	doc := reqs[3]
	assert.Equal(t, []string{"Read", "Write"}, doc.AllowedTools)
	assert.Equal(t, 5*time.Minute, doc.Timeout)
	assert.Equal(t, 15, doc.MaxTurns)
}

func TestExecuteWorkflowInjectsFixResultIntoLaterPrompts(t *testing.T) {
	m, runner, _, _ := newTestManager(t, Config{})

	runner.fn = func(call int, req executor.Request) *executor.Result {
		payload := `{"ok":true}`
		if req.AllowedTools != nil && len(req.AllowedTools) == 6 {
			// The fix step.
			payload = `{"summary":"replaced Close with CloseWithError"}`
		}
		return &executor.Result{Success: true, Structured: json.RawMessage(payload)}
	}

	_, err := m.ExecuteWorkflow(context.Background(), testSubject(), session.DefaultPipeline())
	require.NoError(t, err)

	reqs := runner.requests()
	require.Len(t, reqs, 4)
	assert.NotContains(t, reqs[0].Prompt, "replaced Close with CloseWithError")
	assert.Contains(t, reqs[2].Prompt, "replaced Close with CloseWithError", "test step sees the fix result")
	assert.Contains(t, reqs[3].Prompt, "replaced Close with CloseWithError", "document step sees the fix result")
}

func TestExecuteWorkflowFailureStopsPipeline(t *testing.T) {
	m, runner, rec, path := newTestManager(t, Config{})

	runner.fn = func(call int, req executor.Request) *executor.Result {
		if call == 1 {
			return &executor.Result{
				Success:     false,
				FailureKind: executor.FailureProcess,
				Error:       "tool exited with code 2",
			}
		}
		return &executor.Result{Success: true, Structured: json.RawMessage(`{"ok":true}`)}
	}

	s, err := m.ExecuteWorkflow(context.Background(), testSubject(), session.DefaultPipeline())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fix")
	assert.Contains(t, err.Error(), "process_failure")

	require.NotNil(t, s)
	assert.Equal(t, session.StatusFailed, s.Status)
	assert.Equal(t, session.StepCompleted, s.Steps[0].Status)
	assert.Equal(t, session.StepFailed, s.Steps[1].Status)
	assert.Equal(t, "tool exited with code 2", s.Steps[1].Error)
	assert.Equal(t, session.StepPending, s.Steps[2].Status)
	assert.Equal(t, session.StepPending, s.Steps[3].Status)
	require.Len(t, runner.requests(), 2, "steps after the failure must not run")

	types := rec.types()
	assert.Contains(t, types, events.TypeStepFailed)
	assert.Contains(t, types, events.TypeFailed)
	assert.NotContains(t, types, events.TypeCompleted)

	// The failure is durable: a fresh store handle sees it.
	reopened, err := session.NewStore(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	persisted, err := reopened.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, persisted.Status)
	assert.Equal(t, session.StepFailed, persisted.Steps[1].Status)
}

func TestExecuteWorkflowEmptyStepsIsVacuousSuccess(t *testing.T) {
	m, runner, rec, _ := newTestManager(t, Config{})

	s, err := m.ExecuteWorkflow(context.Background(), testSubject(), nil)
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, s.Status)
	assert.Empty(t, runner.requests())
	assert.Equal(t, []events.Type{events.TypeStarted, events.TypeCompleted}, rec.types())
}

func TestExecuteWorkflowRequiresSubject(t *testing.T) {
	m, _, _, _ := newTestManager(t, Config{})

	_, err := m.ExecuteWorkflow(context.Background(), nil, session.DefaultPipeline())
	require.Error(t, err)
}

func TestExecuteWorkflowTextFallbackResult(t *testing.T) {
	m, runner, _, _ := newTestManager(t, Config{})

	runner.fn = func(call int, req executor.Request) *executor.Result {
		// No structured payload; raw text only.
		return &executor.Result{Success: true, Output: "done"}
	}

	s, err := m.ExecuteWorkflow(context.Background(), testSubject(), []session.StepName{session.StepScan})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"done"`), s.Steps[0].Result)
}

func TestExecuteWorkflowHonorsCancellationAtStepBoundary(t *testing.T) {
	m, runner, _, _ := newTestManager(t, Config{})

	// Cancel while the scan step is still inside the executor. The
	// running step finishes; the pipeline stops before the next one.
	runner.fn = func(call int, req executor.Request) *executor.Result {
		if call == 0 {
			require.NoError(t, m.CancelSession(context.Background(), sessionIDFromManager(t, m)))
		}
		return &executor.Result{Success: true, Structured: json.RawMessage(`{"ok":true}`)}
	}

	s, err := m.ExecuteWorkflow(context.Background(), testSubject(), []session.StepName{session.StepScan, session.StepFix})
	require.NoError(t, err)

	assert.Equal(t, session.StatusCancelled, s.Status)
	assert.Equal(t, session.StepCompleted, s.Steps[0].Status, "in-flight step runs to completion")
	assert.Equal(t, session.StepPending, s.Steps[1].Status, "later steps never start")
	require.Len(t, runner.requests(), 1)
}

// sessionIDFromManager returns the id of the only session the manager
// knows about.
func sessionIDFromManager(t *testing.T, m *Manager) string {
	t.Helper()
	sessions := m.ListSessions()
	require.Len(t, sessions, 1)
	return sessions[0].ID
}

func TestExecuteWorkflowSkipsPreSkippedSteps(t *testing.T) {
	m, runner, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "FIND-100", "t", session.DefaultPipeline())
	require.NoError(t, err)
	require.NoError(t, m.SkipStep(ctx, s.ID, 3))

	got, err := m.runWorkflow(ctx, s.ID, testSubject(), session.DefaultPipeline())
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, session.StepSkipped, got.Steps[3].Status)
	require.Len(t, runner.requests(), 3, "skipped step must not reach the executor")
}

func TestStartWorkflowRunsInBackground(t *testing.T) {
	m, _, _, _ := newTestManager(t, Config{})

	s, err := m.StartWorkflow(context.Background(), testSubject(), session.DefaultPipeline())
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, s.Status)

	require.Eventually(t, func() bool {
		got, err := m.GetSession(s.ID)
		return err == nil && got.Status == session.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExecuteWorkflowConcurrencyCap(t *testing.T) {
	m, runner, _, _ := newTestManager(t, Config{MaxConcurrent: 1})

	gate := make(chan struct{})
	running := make(chan struct{}, 2)
	runner.fn = func(call int, req executor.Request) *executor.Result {
		running <- struct{}{}
		<-gate
		return &executor.Result{Success: true, Structured: json.RawMessage(`{"ok":true}`)}
	}

	a, err := m.StartWorkflow(context.Background(), testSubject(), []session.StepName{session.StepScan})
	require.NoError(t, err)
	b, err := m.StartWorkflow(context.Background(), testSubject(), []session.StepName{session.StepScan})
	require.NoError(t, err)

	// Only one workflow may reach the executor while the gate is closed.
	<-running
	select {
	case <-running:
		t.Fatal("second workflow ran despite the concurrency cap")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate)
	require.Eventually(t, func() bool {
		sa, errA := m.GetSession(a.ID)
		sb, errB := m.GetSession(b.ID)
		return errA == nil && errB == nil &&
			sa.Status == session.StatusCompleted &&
			sb.Status == session.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}
