package runtime

import (
	"time"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
)

// CaseDefinition is the immutable deployment-time template of a case.
// Definitions are never mutated after deployment; the engine caches them by
// id+version+tenant.
type CaseDefinition struct {
	// Id is the case id from the model, e.g. "expenseClaim".
	Id           string
	Version      int32
	Key          int64
	TenantId     string
	DeploymentId string
	Model        cmmn11.TDefinitions
}

func (d CaseDefinition) GetKey() int64 {
	return d.Key
}

// CaseState is the lifecycle state of a case instance.
type CaseState string

const (
	CaseStateActive     CaseState = "ACTIVE"
	CaseStateCompleted  CaseState = "COMPLETED"
	CaseStateTerminated CaseState = "TERMINATED"
	CaseStateSuspended  CaseState = "SUSPENDED"
)

func (s CaseState) IsEnded() bool {
	return s == CaseStateCompleted || s == CaseStateTerminated
}

// CaseInstance is one running execution of a CaseDefinition. It roots the
// plan item instance tree and the case-level variable scope.
type CaseInstance struct {
	Key               int64
	CaseDefinitionKey int64

	// Definition is resolved from CaseDefinitionKey when the instance is
	// loaded into a command.
	Definition *CaseDefinition `json:"-"`

	BusinessKey    string
	BusinessStatus string
	ParentKey      int64
	State          CaseState
	VariableScope  VariableScope `json:"-"`
	CreatedAt      time.Time
	EndedAt        time.Time
	StartUserId    string
	CallbackId     string
	CallbackType   string
	TenantId       string

	// LockOwner and LockTime record the engine that last wrote the
	// instance; the revision column catches racing writers on update.
	LockOwner string
	LockTime  time.Time
	Revision  int32

	// Counting fields, maintained on every child transition so completion
	// checks never have to re-query the store.
	ActiveChildren int
	SentryParts    int

	// Completable mirrors the plan model stage's completable flag after the
	// last evaluation pass.
	Completable bool
}

func (ci *CaseInstance) GetKey() int64 {
	return ci.Key
}

func (ci *CaseInstance) GetState() CaseState {
	return ci.State
}

func (ci *CaseInstance) GetVariable(name string) any {
	v, _ := ci.VariableScope.GetVariable(name)
	return v
}

// GetPersistentState returns the mutable persisted fields as a snapshot map.
// The storage layer diffs snapshots to detect dirty entities.
func (ci *CaseInstance) GetPersistentState() map[string]any {
	return map[string]any{
		"businessKey":    ci.BusinessKey,
		"businessStatus": ci.BusinessStatus,
		"state":          ci.State,
		"endedAt":        ci.EndedAt,
		"lockOwner":      ci.LockOwner,
		"lockTime":       ci.LockTime,
		"activeChildren": ci.ActiveChildren,
		"sentryParts":    ci.SentryParts,
		"completable":    ci.Completable,
	}
}

// PlanItemState as per CMMN 1.1 spec, section 8.4.2 Plan Item Lifecycle:
//
//	                 o
//	                 | create
//	                 v
//	          ┌────────────┐  available condition  ┌───────────┐
//	          │UNAVAILABLE │<--------------------->│ AVAILABLE │ (event listeners)
//	          └────────────┘                       └───────────┘
//	                                                     |
//	               entry sentry fires                    |
//	      +----------------------------------------------+
//	      |  manual activation           auto activation |
//	      v                                              v
//	 ┌─────────┐   disable/enable   ┌──────────┐      ┌────────┐
//	 │ ENABLED │<------------------>│ DISABLED │      │ ACTIVE │<--- start
//	 └─────────┘                    └──────────┘      └────────┘
//	      | manualStart                                  |
//	      +-----------------------------------+----------+
//	                                          |          |
//	                   complete               v          v   exit sentry / terminate
//	               ┌───────────┐        ┌───────────┐  ┌────────────┐
//	               │ COMPLETED │<-------│  (work)   │  │ TERMINATED │
//	               └───────────┘        └───────────┘  └────────────┘
//
// Repeating plan items park a placeholder instance in WAITING_FOR_REPETITION
// between repetitions.
type PlanItemState string

const (
	PlanItemStateUnavailable          PlanItemState = "UNAVAILABLE"
	PlanItemStateAvailable            PlanItemState = "AVAILABLE"
	PlanItemStateEnabled              PlanItemState = "ENABLED"
	PlanItemStateDisabled             PlanItemState = "DISABLED"
	PlanItemStateAsyncActive          PlanItemState = "ASYNC_ACTIVE"
	PlanItemStateActive               PlanItemState = "ACTIVE"
	PlanItemStateSuspended            PlanItemState = "SUSPENDED"
	PlanItemStateWaitingForRepetition PlanItemState = "WAITING_FOR_REPETITION"
	PlanItemStateCompleted            PlanItemState = "COMPLETED"
	PlanItemStateTerminated           PlanItemState = "TERMINATED"
)

func (s PlanItemState) IsTerminal() bool {
	return s == PlanItemStateCompleted || s == PlanItemStateTerminated
}

// PlanItemTransition names the edge taken between two plan item states.
// Sentry on-parts match against these values.
type PlanItemTransition string

const (
	TransitionCreate      PlanItemTransition = cmmn11.TransitionEventCreate
	TransitionEnable      PlanItemTransition = cmmn11.TransitionEventEnable
	TransitionDisable     PlanItemTransition = cmmn11.TransitionEventDisable
	TransitionStart       PlanItemTransition = cmmn11.TransitionEventStart
	TransitionManualStart PlanItemTransition = cmmn11.TransitionEventManualStart
	TransitionComplete    PlanItemTransition = cmmn11.TransitionEventComplete
	TransitionOccur       PlanItemTransition = cmmn11.TransitionEventOccur
	TransitionTerminate   PlanItemTransition = cmmn11.TransitionEventTerminate
	TransitionExit        PlanItemTransition = cmmn11.TransitionEventExit
)

// PlanItemInstance is one runtime occurrence of a plan item within a case
// instance. More than one instance per plan item exists only under
// repetition.
type PlanItemInstance struct {
	Key               int64
	CaseDefinitionKey int64
	CaseInstanceKey   int64

	// StageInstanceKey is the key of the containing stage plan item
	// instance, zero for items directly under the case plan model.
	StageInstanceKey int64

	// ElementId references the plan item in the model.
	ElementId      string
	DefinitionId   string
	DefinitionType cmmn11.ElementType
	IsStage        bool

	// Name is resolved from the definition default or its name expression
	// when the instance is created.
	Name string

	State       PlanItemState
	CreatedAt   time.Time
	ActivatedAt time.Time
	EndedAt     time.Time
	StartUserId string

	// ReferenceKey and ReferenceType point at an external entity the item
	// proxies, e.g. a human task row.
	ReferenceKey  int64
	ReferenceType string

	RepetitionCounter int
	TenantId          string
	Revision          int32

	// Counting fields for stage instances, see CaseInstance.
	ActiveChildren int
	SentryParts    int
	Completable    bool

	// LocalScope holds plan-item-instance scoped variables. Not persisted
	// through this struct; variables are stored as VariableInstance rows.
	LocalScope VariableScope `json:"-"`
}

func (p *PlanItemInstance) GetKey() int64 {
	return p.Key
}

func (p *PlanItemInstance) GetState() PlanItemState {
	return p.State
}

func (p *PlanItemInstance) GetPersistentState() map[string]any {
	return map[string]any{
		"name":              p.Name,
		"state":             p.State,
		"activatedAt":       p.ActivatedAt,
		"endedAt":           p.EndedAt,
		"referenceKey":      p.ReferenceKey,
		"referenceType":     p.ReferenceType,
		"repetitionCounter": p.RepetitionCounter,
		"activeChildren":    p.ActiveChildren,
		"sentryParts":       p.SentryParts,
		"completable":       p.Completable,
	}
}

// SentryPartInstance records that one on-part of a sentry has fired. The
// record is scoped either to the case instance (root sentries) or to the
// containing stage plan item instance, and lives until the sentry fires or
// the scope is terminated.
type SentryPartInstance struct {
	Key               int64
	CaseDefinitionKey int64
	CaseInstanceKey   int64

	// PlanItemInstanceKey is zero for case-scoped sentry parts.
	PlanItemInstanceKey int64

	SentryId  string
	OnPartId  string
	TimeStamp time.Time
}

func (s *SentryPartInstance) GetKey() int64 {
	return s.Key
}

// MilestoneInstance records a reached milestone.
type MilestoneInstance struct {
	Key               int64
	Name              string
	ElementId         string
	CaseInstanceKey   int64
	CaseDefinitionKey int64
	TimeStamp         time.Time
	TenantId          string
}

type HumanTaskState string

const (
	HumanTaskStateCreated    HumanTaskState = "CREATED"
	HumanTaskStateCompleted  HumanTaskState = "COMPLETED"
	HumanTaskStateTerminated HumanTaskState = "TERMINATED"
)

// HumanTask is the runtime row an ACTIVE human task plan item proxies via
// its reference fields. Task list management is out of scope; this is only
// the correlation target for CompleteHumanTask.
type HumanTask struct {
	Key                 int64
	CaseInstanceKey     int64
	PlanItemInstanceKey int64
	ElementId           string
	Name                string
	Assignee            string
	State               HumanTaskState
	CreatedAt           time.Time
	CompletedAt         time.Time
	TenantId            string
}

func (t HumanTask) GetKey() int64 {
	return t.Key
}
