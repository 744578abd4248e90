package executor

import (
	"encoding/json"
	"time"
)

// OutputMode selects how the external tool's output is interpreted.
type OutputMode string

const (
	// OutputText returns the tool's stdout as free text.
	OutputText OutputMode = "text"

	// OutputJSON expects a JSON object somewhere in stdout and parses it.
	OutputJSON OutputMode = "json"
)

// FailureKind classifies why an execution failed.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureNotInstalled FailureKind = "tool_not_installed"
	FailureTimeout      FailureKind = "execution_timeout"
	FailureProcess      FailureKind = "process_failure"
	FailureParse        FailureKind = "output_parse_error"
)

// Request describes one invocation of the external analysis tool.
type Request struct {
	// Prompt is the instruction text. Prompts over the offload threshold
	// are written to a scratch file instead of being passed inline.
	Prompt string

	// WorkDir is the working directory for the tool process.
	WorkDir string

	// OutputMode selects raw text or structured JSON output.
	OutputMode OutputMode

	// AllowedTools is the allowlist of capabilities the tool may use.
	AllowedTools []string

	// SystemPrompt is appended to the tool's system instructions.
	SystemPrompt string

	// ExternalSessionID resumes a prior analysis session when Resume is set.
	ExternalSessionID string
	Resume            bool

	// Timeout bounds the subprocess; zero means the runner default.
	Timeout time.Duration

	// MaxTurns bounds the tool's agent loop; zero means the runner default.
	MaxTurns int
}

// Result is the outcome of one execution. Failures are reported here, not
// as errors: callers must check Success.
type Result struct {
	Success bool

	// Output is the tool's text output (text mode).
	Output string

	// Structured is the parsed JSON payload (json mode, on success).
	Structured json.RawMessage

	// RawOutput is the complete captured stdout, always retained for
	// diagnostics regardless of mode or outcome.
	RawOutput string

	// ExternalSessionID is the analysis session the tool reported, if any.
	ExternalSessionID string

	// FailureKind and Error are set when Success is false.
	FailureKind FailureKind
	Error       string
}

// failure builds a failed result keeping the captured output.
func failure(kind FailureKind, msg, rawOutput string) *Result {
	return &Result{
		Success:     false,
		RawOutput:   rawOutput,
		FailureKind: kind,
		Error:       msg,
	}
}
