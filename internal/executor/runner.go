package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures the external tool runner.
type Config struct {
	// Binary is the external analysis tool command (default "claude").
	Binary string

	// ScratchDir holds temporary prompt files for oversized prompts.
	ScratchDir string

	// OffloadThreshold is the prompt length in bytes above which the
	// prompt is written to a scratch file instead of passed as an
	// argument. Kept well under OS argument-length limits.
	OffloadThreshold int

	// DefaultTimeout bounds executions whose request sets none.
	DefaultTimeout time.Duration

	// DefaultMaxTurns bounds executions whose request sets none.
	DefaultMaxTurns int

	// ProbeTimeout bounds the availability probe.
	ProbeTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Binary:           "claude",
		ScratchDir:       os.TempDir(),
		OffloadThreshold: 4000,
		DefaultTimeout:   5 * time.Minute,
		DefaultMaxTurns:  30,
		ProbeTimeout:     10 * time.Second,
	}
}

// Runner executes analysis requests against the external tool.
//
// Run never returns an error: executor-level failures (tool missing,
// timeout, nonzero exit, unparseable output) come back as a Result with
// Success false and a FailureKind. Callers must check Success.
type Runner interface {
	Run(ctx context.Context, req Request) *Result
}

// toolRunner invokes the external tool as a subprocess.
type toolRunner struct {
	cfg    Config
	logger *zap.Logger

	probeOnce sync.Once
	probeErr  error
}

// NewRunner creates a Runner from config, filling zero fields with defaults.
func NewRunner(cfg Config, logger *zap.Logger) Runner {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = def.ScratchDir
	}
	if cfg.OffloadThreshold <= 0 {
		cfg.OffloadThreshold = def.OffloadThreshold
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = def.DefaultMaxTurns
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &toolRunner{cfg: cfg, logger: logger}
}

func (r *toolRunner) Run(ctx context.Context, req Request) *Result {
	if strings.TrimSpace(req.Prompt) == "" {
		return failure(FailureProcess, "prompt is empty", "")
	}

	if err := r.ensureAvailable(ctx); err != nil {
		return failure(FailureNotInstalled, err.Error(), "")
	}

	prompt := req.Prompt
	if len(prompt) > r.cfg.OffloadThreshold {
		path, err := r.writePromptFile(prompt)
		if err != nil {
			return failure(FailureProcess, fmt.Sprintf("failed to write prompt file: %v", err), "")
		}
		// Cleanup runs on every exit path, including failures.
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				r.logger.Warn("failed to remove prompt file",
					zap.String("path", path),
					zap.Error(rmErr),
				)
			}
		}()
		prompt = "Read the file at " + path + " and follow the instructions in it. " +
			"Treat its entire contents as your task prompt."
		r.logger.Debug("offloaded oversized prompt",
			zap.String("path", path),
			zap.Int("prompt_bytes", len(req.Prompt)),
		)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := r.buildArgs(req, prompt)
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	stdout, stderr, err := r.runStreaming(runCtx, cmd)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return failure(FailureTimeout,
				fmt.Sprintf("execution timed out after %s", timeout), stdout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr)
			if msg == "" {
				msg = "tool exited with code " + strconv.Itoa(exitErr.ExitCode())
			}
			return failure(FailureProcess, msg, stdout)
		}
		return failure(FailureProcess, err.Error(), stdout)
	}

	res := &Result{Success: true, RawOutput: stdout}

	switch req.OutputMode {
	case OutputJSON:
		payload, err := ExtractJSON(stdout)
		if err != nil {
			return failure(FailureParse,
				fmt.Sprintf("no parseable JSON in tool output: %v", err), stdout)
		}
		res.Structured = payload
		res.ExternalSessionID = sessionIDFromPayload(payload)
	default:
		res.Output = stdout
	}

	return res
}

// ensureAvailable probes the tool binary once per runner lifetime.
func (r *toolRunner) ensureAvailable(ctx context.Context) error {
	r.probeOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		defer cancel()

		out, err := exec.CommandContext(probeCtx, r.cfg.Binary, "--version").CombinedOutput()
		if err != nil {
			r.probeErr = fmt.Errorf("analysis tool %q is not installed or not runnable: %w", r.cfg.Binary, err)
			return
		}
		r.logger.Info("analysis tool available",
			zap.String("binary", r.cfg.Binary),
			zap.String("version", strings.TrimSpace(string(out))),
		)
	})
	return r.probeErr
}

// buildArgs constructs the non-interactive invocation flags. The prompt is
// always the final positional argument.
func (r *toolRunner) buildArgs(req Request, prompt string) []string {
	mode := req.OutputMode
	if mode == "" {
		mode = OutputText
	}

	args := []string{"--print", "--output-format", string(mode)}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(req.AllowedTools, ","))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if req.Resume && req.ExternalSessionID != "" {
		args = append(args, "--resume", req.ExternalSessionID)
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.cfg.DefaultMaxTurns
	}
	args = append(args, "--max-turns", strconv.Itoa(maxTurns))

	return append(args, prompt)
}

// writePromptFile writes the prompt to a uniquely named scratch file.
// The name embeds a timestamp and a random component so concurrent
// executions never collide.
func (r *toolRunner) writePromptFile(prompt string) (string, error) {
	if err := os.MkdirAll(r.cfg.ScratchDir, 0o700); err != nil {
		return "", err
	}
	pattern := fmt.Sprintf("remedyd-prompt-%d-*.md", time.Now().UnixNano())
	f, err := os.CreateTemp(r.cfg.ScratchDir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(prompt); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// runStreaming starts cmd and streams stdout/stderr line by line into the
// log sink while capturing both. It returns after the process exits.
func (r *toolRunner) runStreaming(ctx context.Context, cmd *exec.Cmd) (stdout, stderr string, err error) {
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("failed to start tool process: %w", err)
	}

	r.logger.Debug("tool process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("dir", cmd.Dir),
	)

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(outPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			outBuf.WriteString(line)
			outBuf.WriteByte('\n')
			r.logger.Debug("tool stdout", zap.String("line", line))
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(errPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			errBuf.WriteString(line)
			errBuf.WriteByte('\n')
			r.logger.Debug("tool stderr", zap.String("line", line))
		}
	}()

	// A killed tool can leave children holding the pipe write ends, which
	// would block the scanners past the deadline. Close the read ends on
	// cancellation so the timeout is honored regardless.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = outPipe.Close()
		_ = errPipe.Close()
		<-done
	}
	waitErr := cmd.Wait()

	return outBuf.String(), errBuf.String(), waitErr
}

// sessionIDFromPayload pulls the tool's session identifier out of a
// structured payload, if the tool reported one.
func sessionIDFromPayload(payload json.RawMessage) string {
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}
