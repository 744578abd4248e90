package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a workflow session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// StepStatus is the lifecycle state of a single workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// StepName identifies a pipeline stage.
type StepName string

const (
	StepScan     StepName = "scan"
	StepFix      StepName = "fix"
	StepTest     StepName = "test"
	StepDocument StepName = "document"
)

// DefaultPipeline returns the standard remediation step order.
func DefaultPipeline() []StepName {
	return []StepName{StepScan, StepFix, StepTest, StepDocument}
}

// ValidStepName reports whether name is a known pipeline stage.
func ValidStepName(name StepName) bool {
	switch name {
	case StepScan, StepFix, StepTest, StepDocument:
		return true
	}
	return false
}

// WorkflowStep is one stage of a remediation pipeline.
type WorkflowStep struct {
	Name   StepName   `json:"name"`
	Status StepStatus `json:"status"`

	// ExternalSessionID is the analysis session the external tool reported
	// for this step, when it reported one.
	ExternalSessionID string `json:"external_session_id,omitempty"`

	// Result is the step's structured output. Present only when completed.
	Result json.RawMessage `json:"result,omitempty"`

	// Error is the failure reason. Present only when failed.
	Error string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkflowSession is one execution of a remediation pipeline against a
// single finding. Sessions are owned by the workflow manager and mutated
// only through its transition operations.
type WorkflowSession struct {
	ID           string `json:"id"`
	SubjectID    string `json:"subject_id"`
	SubjectTitle string `json:"subject_title"`

	// Steps is fixed at creation; only step fields mutate afterwards.
	Steps []WorkflowStep `json:"steps"`

	// CurrentStepIndex is the index of the most recently started step.
	CurrentStepIndex int `json:"current_step_index"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ExternalSessionID carries the external tool's analysis session
	// forward across steps so later steps resume the same context.
	ExternalSessionID string `json:"external_session_id,omitempty"`
}

// New builds a pending session for the given subject and step order.
func New(subjectID, subjectTitle string, stepNames []StepName) *WorkflowSession {
	now := time.Now().UTC()
	steps := make([]WorkflowStep, len(stepNames))
	for i, name := range stepNames {
		steps[i] = WorkflowStep{Name: name, Status: StepPending}
	}
	return &WorkflowSession{
		ID:           uuid.New().String(),
		SubjectID:    subjectID,
		SubjectTitle: subjectTitle,
		Steps:        steps,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Terminal reports whether the session is in a terminal status.
func (s *WorkflowSession) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AllStepsDone reports whether every step is completed or skipped.
func (s *WorkflowSession) AllStepsDone() bool {
	for _, st := range s.Steps {
		if st.Status != StepCompleted && st.Status != StepSkipped {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to event subscribers.
func (s *WorkflowSession) Clone() *WorkflowSession {
	cp := *s
	cp.Steps = make([]WorkflowStep, len(s.Steps))
	copy(cp.Steps, s.Steps)
	for i := range cp.Steps {
		if s.Steps[i].Result != nil {
			cp.Steps[i].Result = append([]byte(nil), s.Steps[i].Result...)
		}
		if s.Steps[i].StartedAt != nil {
			t := *s.Steps[i].StartedAt
			cp.Steps[i].StartedAt = &t
		}
		if s.Steps[i].CompletedAt != nil {
			t := *s.Steps[i].CompletedAt
			cp.Steps[i].CompletedAt = &t
		}
	}
	return &cp
}
