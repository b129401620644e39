package cmmn11

// Standard plan item transition events an on-part can reference.
// [CMMN 1.1 specification, chapter 8.4.2 Plan Item Lifecycle]
const (
	TransitionEventCreate      = "create"
	TransitionEventEnable      = "enable"
	TransitionEventDisable     = "disable"
	TransitionEventStart       = "start"
	TransitionEventManualStart = "manualStart"
	TransitionEventComplete    = "complete"
	TransitionEventOccur       = "occur"
	TransitionEventTerminate   = "terminate"
	TransitionEventExit        = "exit"
)

// TSentry is a boolean gate on a plan item transition: the AND of all of its
// on-parts plus at most one if-part.
type TSentry struct {
	TCmmnElement
	OnParts []TOnPart
	IfPart  *TIfPart
}

// TOnPart is satisfied once the referenced source plan item has gone through
// the named transition. Satisfaction is durable until the sentry fires.
type TOnPart struct {
	TCmmnElement

	// SourcePlanItemId references a plan item in the same stage.
	SourcePlanItemId string

	// StandardEvent is one of the TransitionEvent constants.
	StandardEvent string
}

// TIfPart is satisfied while its condition evaluates true against the
// current variable scope. It is never cached.
type TIfPart struct {
	TCmmnElement
	Condition string
}
