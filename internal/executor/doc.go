// Package executor wraps invocation of the external analysis tool as a
// subprocess.
//
// # Execution model
//
// Each Run call moves through a single-shot state machine:
//
//	NotStarted -> Running -> {Succeeded, Failed}
//
// with failure classified as tool-not-installed, timeout, nonzero exit, or
// output parse error. Results are terminal; the executor never retries.
// Retry, if any, is a caller decision.
//
// # Safety
//
// Prompts exceeding the offload threshold are written to a uniquely named
// scratch file and replaced by a short wrapper prompt referencing that file,
// keeping argument vectors under OS limits. Scratch files are removed on
// every exit path. Timeouts are enforced by killing the child process.
package executor
