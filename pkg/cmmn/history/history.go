// Package history defines the hook the engine calls whenever runtime state
// changes that must be mirrored into the historic store. The calls happen
// synchronously inside the unit of work of the triggering command; skipping
// them would leave history permanently inconsistent with runtime state.
package history

import (
	"time"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// Recorder receives historic snapshots. Implementations are provided by the
// surrounding engine (e.g. an async history job producer); the in-memory
// recorder below serves embedding and tests.
type Recorder interface {
	RecordVariableCreate(variable runtime.VariableInstance, createTime time.Time)
	RecordVariableUpdate(variable runtime.VariableInstance, updateTime time.Time)
	RecordVariableRemove(variable runtime.VariableInstance, removeTime time.Time)

	RecordPlanItemStateChange(instance runtime.PlanItemInstance, oldState runtime.PlanItemState, newState runtime.PlanItemState, changeTime time.Time)
	RecordMilestoneReached(milestone runtime.MilestoneInstance)
	RecordCaseInstanceEnded(caseInstance runtime.CaseInstance, endTime time.Time)
}

// NoopRecorder is the default when history is disabled.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) RecordVariableCreate(runtime.VariableInstance, time.Time) {}
func (NoopRecorder) RecordVariableUpdate(runtime.VariableInstance, time.Time) {}
func (NoopRecorder) RecordVariableRemove(runtime.VariableInstance, time.Time) {}
func (NoopRecorder) RecordPlanItemStateChange(runtime.PlanItemInstance, runtime.PlanItemState, runtime.PlanItemState, time.Time) {
}
func (NoopRecorder) RecordMilestoneReached(runtime.MilestoneInstance)        {}
func (NoopRecorder) RecordCaseInstanceEnded(runtime.CaseInstance, time.Time) {}

// VariableRecord is one historic variable row.
type VariableRecord struct {
	Op        string // "create", "update", "remove"
	Variable  runtime.VariableInstance
	Timestamp time.Time
}

// PlanItemRecord is one historic plan item state snapshot.
type PlanItemRecord struct {
	Instance  runtime.PlanItemInstance
	OldState  runtime.PlanItemState
	NewState  runtime.PlanItemState
	Timestamp time.Time
}

// InMemoryRecorder keeps every record it sees, in call order. Not thread
// safe across engines; meant for a single test engine.
type InMemoryRecorder struct {
	Variables  []VariableRecord
	PlanItems  []PlanItemRecord
	Milestones []runtime.MilestoneInstance
	EndedCases []runtime.CaseInstance
}

var _ Recorder = &InMemoryRecorder{}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

func (r *InMemoryRecorder) RecordVariableCreate(variable runtime.VariableInstance, createTime time.Time) {
	r.Variables = append(r.Variables, VariableRecord{Op: "create", Variable: variable, Timestamp: createTime})
}

func (r *InMemoryRecorder) RecordVariableUpdate(variable runtime.VariableInstance, updateTime time.Time) {
	r.Variables = append(r.Variables, VariableRecord{Op: "update", Variable: variable, Timestamp: updateTime})
}

func (r *InMemoryRecorder) RecordVariableRemove(variable runtime.VariableInstance, removeTime time.Time) {
	r.Variables = append(r.Variables, VariableRecord{Op: "remove", Variable: variable, Timestamp: removeTime})
}

func (r *InMemoryRecorder) RecordPlanItemStateChange(instance runtime.PlanItemInstance, oldState runtime.PlanItemState, newState runtime.PlanItemState, changeTime time.Time) {
	r.PlanItems = append(r.PlanItems, PlanItemRecord{Instance: instance, OldState: oldState, NewState: newState, Timestamp: changeTime})
}

func (r *InMemoryRecorder) RecordMilestoneReached(milestone runtime.MilestoneInstance) {
	r.Milestones = append(r.Milestones, milestone)
}

func (r *InMemoryRecorder) RecordCaseInstanceEnded(caseInstance runtime.CaseInstance, endTime time.Time) {
	r.EndedCases = append(r.EndedCases, caseInstance)
}
