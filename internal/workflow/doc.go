// Package workflow drives the remediation step state machine.
//
// # Architecture
//
// The Manager owns every WorkflowSession: an in-memory index for reads and
// the durable store for persistence. All mutation flows through transition
// operations (start, complete, fail, skip, cancel) that persist before
// publishing a state-change event, so subscribers never observe a
// transition that could be lost on crash.
//
// ExecuteWorkflow is the orchestration algorithm: steps run strictly
// sequentially, each step's prompt is built from the finding and the result
// of the step it depends on, and once any step's executor call reports an
// external analysis session id, every later call resumes that session.
//
// Concurrent ExecuteWorkflow calls for different findings are independent;
// an optional semaphore caps how many run at once.
package workflow
