package workflow

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics for workflow execution
var (
	workflowsStarted metric.Int64Counter
	workflowDuration metric.Float64Histogram
	stepFailures     metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflow execution.
// Called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	workflowsStarted, err = meter.Int64Counter(
		"remedyd.workflow.executions",
		metric.WithDescription("Total number of workflow executions started"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflow executions counter: %v", err))
	}

	workflowDuration, err = meter.Float64Histogram(
		"remedyd.workflow.duration",
		metric.WithDescription("Duration of workflow executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflow duration histogram: %v", err))
	}

	stepFailures, err = meter.Int64Counter(
		"remedyd.workflow.step_failures",
		metric.WithDescription("Number of failed workflow steps"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create step failures counter: %v", err))
	}
}

func init() {
	initMetrics()
}
