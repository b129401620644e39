package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	CasesStarted        metric.Int64Counter
	CasesCompleted      metric.Int64Counter
	CasesTerminated     metric.Int64Counter
	CasesRunning        metric.Int64UpDownCounter
	PlanItemsActivated  metric.Int64Counter
	PlanItemsCompleted  metric.Int64Counter
	PlanItemsTerminated metric.Int64Counter
	SentriesFired       metric.Int64Counter
	ListenerInvocations metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	casesStarted, err := meter.Int64Counter("cases_started", metric.WithDescription("Number of case instances started"))
	errJoin = errors.Join(errJoin, err)

	casesCompleted, err := meter.Int64Counter("cases_completed", metric.WithDescription("Number of case instances completed"))
	errJoin = errors.Join(errJoin, err)

	casesTerminated, err := meter.Int64Counter("cases_terminated", metric.WithDescription("Number of case instances terminated"))
	errJoin = errors.Join(errJoin, err)

	casesRunning, err := meter.Int64UpDownCounter("cases_running", metric.WithDescription("Number of case instances currently running"))
	errJoin = errors.Join(errJoin, err)

	planItemsActivated, err := meter.Int64Counter("plan_items_activated", metric.WithDescription("Number of plan item instances activated"))
	errJoin = errors.Join(errJoin, err)

	planItemsCompleted, err := meter.Int64Counter("plan_items_completed", metric.WithDescription("Number of plan item instances completed"))
	errJoin = errors.Join(errJoin, err)

	planItemsTerminated, err := meter.Int64Counter("plan_items_terminated", metric.WithDescription("Number of plan item instances terminated or exited"))
	errJoin = errors.Join(errJoin, err)

	sentriesFired, err := meter.Int64Counter("sentries_fired", metric.WithDescription("Number of sentries that fired"))
	errJoin = errors.Join(errJoin, err)

	listenerInvocations, err := meter.Int64Counter("listener_invocations", metric.WithDescription("Number of lifecycle listener invocations"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		CasesStarted:        casesStarted,
		CasesCompleted:      casesCompleted,
		CasesTerminated:     casesTerminated,
		CasesRunning:        casesRunning,
		PlanItemsActivated:  planItemsActivated,
		PlanItemsCompleted:  planItemsCompleted,
		PlanItemsTerminated: planItemsTerminated,
		SentriesFired:       sentriesFired,
		ListenerInvocations: listenerInvocations,
	}
	return &metrics, errJoin
}
