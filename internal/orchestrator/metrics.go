package orchestrator

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/protocold/internal/orchestrator"

var (
	stepsDispatchedCounter  metric.Int64Counter
	stepDurationHistogram   metric.Float64Histogram
	qaVerdictCounter        metric.Int64Counter
	protocolsFinishedCount  metric.Int64Counter
	protocolsRecoveredCount metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for the dispatcher.
// Called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	stepsDispatchedCounter, err = meter.Int64Counter(
		"protocold.dispatcher.steps_dispatched",
		metric.WithDescription("Total number of steps handed to the execution backend"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create steps dispatched counter: %v", err))
	}

	stepDurationHistogram, err = meter.Float64Histogram(
		"protocold.dispatcher.step_duration",
		metric.WithDescription("Wall time from step dispatch to reported result"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create step duration histogram: %v", err))
	}

	qaVerdictCounter, err = meter.Int64Counter(
		"protocold.dispatcher.qa_verdicts",
		metric.WithDescription("QA verdicts by outcome"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create qa verdict counter: %v", err))
	}

	protocolsFinishedCount, err = meter.Int64Counter(
		"protocold.dispatcher.protocols_finished",
		metric.WithDescription("Protocol runs reaching a terminal status"),
		metric.WithUnit("{protocol}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create protocols finished counter: %v", err))
	}

	protocolsRecoveredCount, err = meter.Int64Counter(
		"protocold.recovery.protocols_recovered",
		metric.WithDescription("Protocol runs acted on by the recovery sweep"),
		metric.WithUnit("{protocol}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create protocols recovered counter: %v", err))
	}
}

func init() {
	initMetrics()
}
