package cmmn11

import (
	"fmt"

	"github.com/senseyeio/duration"
)

type ElementType string

const (
	ElementTypeStage                ElementType = "stage"
	ElementTypeHumanTask            ElementType = "humanTask"
	ElementTypeMilestone            ElementType = "milestone"
	ElementTypeUserEventListener    ElementType = "userEventListener"
	ElementTypeGenericEventListener ElementType = "genericEventListener"
	ElementTypeTimerEventListener   ElementType = "timerEventListener"
)

// PlanItemDefinition is implemented by every element a plan item can refer to.
type PlanItemDefinition interface {
	CmmnElement
	GetType() ElementType
}

// EventListenerDefinition is the subset of plan item definitions that enter
// the AVAILABLE state through an available condition instead of a sentry.
type EventListenerDefinition interface {
	PlanItemDefinition
	GetAvailableCondition() string
}

// TPlanFragmentContainer holds the plan items of a stage together with the
// plan item definitions and sentries defined at that level of the model.
type TPlanFragmentContainer struct {
	PlanItems             []TPlanItem
	Sentries              []TSentry
	HumanTasks            []THumanTask
	Stages                []TStage
	Milestones            []TMilestone
	UserEventListeners    []TUserEventListener
	GenericEventListeners []TGenericEventListener
	TimerEventListeners   []TTimerEventListener
}

type TStage struct {
	TCmmnElement
	TPlanFragmentContainer

	// AutoComplete controls whether the stage completes on its own as soon
	// as it becomes completable, or waits for an explicit complete call.
	AutoComplete bool
}

func (s TStage) GetType() ElementType {
	return ElementTypeStage
}

type THumanTask struct {
	TCmmnElement
	Assignee        string
	CandidateGroups []string
}

func (t THumanTask) GetType() ElementType {
	return ElementTypeHumanTask
}

// TMilestone occurs (transitions to COMPLETED) when its entry sentry fires.
// Milestones never become ACTIVE.
type TMilestone struct {
	TCmmnElement
}

func (m TMilestone) GetType() ElementType {
	return ElementTypeMilestone
}

type TUserEventListener struct {
	TCmmnElement

	// AvailableCondition gates the UNAVAILABLE <-> AVAILABLE transition of
	// the listener instance. Empty means always available.
	AvailableCondition string
}

func (l TUserEventListener) GetType() ElementType {
	return ElementTypeUserEventListener
}

func (l TUserEventListener) GetAvailableCondition() string {
	return l.AvailableCondition
}

// TGenericEventListener occurs when an event with a matching key arrives
// through the event registry.
type TGenericEventListener struct {
	TCmmnElement
	AvailableCondition string

	// EventKey correlates inbound registry events to this listener.
	EventKey string
}

func (l TGenericEventListener) GetType() ElementType {
	return ElementTypeGenericEventListener
}

func (l TGenericEventListener) GetAvailableCondition() string {
	return l.AvailableCondition
}

// TTimerEventListener occurs when an external scheduler fires its timer.
// The engine itself never schedules; it only validates the expression and
// reacts to the occur trigger.
type TTimerEventListener struct {
	TCmmnElement
	AvailableCondition string

	// TimerExpression is an ISO-8601 duration, e.g. "PT15M".
	TimerExpression string
}

func (l TTimerEventListener) GetType() ElementType {
	return ElementTypeTimerEventListener
}

func (l TTimerEventListener) GetAvailableCondition() string {
	return l.AvailableCondition
}

// GetDuration parses the timer expression.
func (l TTimerEventListener) GetDuration() (duration.Duration, error) {
	d, err := duration.ParseISO8601(l.TimerExpression)
	if err != nil {
		return duration.Duration{}, fmt.Errorf("invalid timer expression %q on listener %s: %w", l.TimerExpression, l.Id, err)
	}
	return d, nil
}
