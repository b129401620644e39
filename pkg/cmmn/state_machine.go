package cmmn

import (
	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

const referenceTypeHumanTask = "humanTask"

// newPlanItemInstance creates the runtime instance of a plan item without
// taking the initial transition; callers decide the entry into the
// lifecycle.
func (ex *caseExecution) newPlanItemInstance(stage *cmmn11.TStage, item *cmmn11.TPlanItem, stageInstanceKey int64, repetitionCounter int) (*runtime.PlanItemInstance, error) {
	definition := stage.FindPlanItemDefinitionById(item.DefinitionRef)
	if definition == nil {
		return nil, newEngineErrorf("plan item %s references unknown definition %s", item.Id, item.DefinitionRef)
	}

	name := definition.GetName()
	if item.Name != "" {
		name = item.Name
	}
	variables, err := ex.containerScope(stageInstanceKey).Variables()
	if err != nil {
		return nil, err
	}
	name, err = ex.engine.resolveName(name, variables)
	if err != nil {
		return nil, err
	}

	ci := ex.caseInstance
	p := &runtime.PlanItemInstance{
		Key:               ex.engine.generateKey(),
		CaseDefinitionKey: ci.Definition.Key,
		CaseInstanceKey:   ci.Key,
		StageInstanceKey:  stageInstanceKey,
		ElementId:         item.Id,
		DefinitionId:      item.DefinitionRef,
		DefinitionType:    definition.GetType(),
		IsStage:           definition.GetType() == cmmn11.ElementTypeStage,
		Name:              name,
		CreatedAt:         ex.engine.now(),
		RepetitionCounter: repetitionCounter,
		TenantId:          ci.TenantId,
	}
	p.LocalScope = runtime.NewVariableScope(ex.containerScope(stageInstanceKey), ex.engine.varTypes, ci.Key, p.Key)
	ex.addPlanItemInstance(p)
	return p, nil
}

// createChildPlanItemInstances instantiates every plan item of a stage
// definition. Plain items enter AVAILABLE; event listeners with an available
// condition start out UNAVAILABLE until the condition holds.
func (ex *caseExecution) createChildPlanItemInstances(stage *cmmn11.TStage, stageInstanceKey int64) error {
	for i := range stage.PlanItems {
		item := &stage.PlanItems[i]
		counter := 0
		if item.ItemControl.RepetitionRule != nil {
			counter = 1
		}
		p, err := ex.newPlanItemInstance(stage, item, stageInstanceKey, counter)
		if err != nil {
			return err
		}
		initial := runtime.PlanItemStateAvailable
		if listener, ok := stage.FindPlanItemDefinitionById(item.DefinitionRef).(cmmn11.EventListenerDefinition); ok {
			if listener.GetAvailableCondition() != "" {
				initial = runtime.PlanItemStateUnavailable
			}
		}
		if err := ex.transition(p, initial, runtime.TransitionCreate); err != nil {
			return err
		}
	}
	return nil
}

// transition moves a plan item instance to a new state: it maintains the
// counting fields of the container, records history, notifies lifecycle
// listeners and arms sentries listening to the transition. A transition into
// the current state is a no-op, which makes re-evaluation idempotent.
func (ex *caseExecution) transition(p *runtime.PlanItemInstance, newState runtime.PlanItemState, transition runtime.PlanItemTransition) error {
	oldState := p.State
	if oldState == newState {
		return nil
	}
	now := ex.engine.now()

	if oldState == runtime.PlanItemStateActive || oldState == runtime.PlanItemStateAsyncActive {
		ex.adjustActiveChildren(p.StageInstanceKey, -1)
	}
	p.State = newState
	switch {
	case newState == runtime.PlanItemStateActive || newState == runtime.PlanItemStateAsyncActive:
		p.ActivatedAt = now
		ex.adjustActiveChildren(p.StageInstanceKey, 1)
	case newState.IsTerminal():
		p.EndedAt = now
	}
	ex.changed = true

	switch transition {
	case runtime.TransitionStart, runtime.TransitionManualStart:
		ex.engine.metrics.PlanItemsActivated.Add(ex.ctx, 1)
	case runtime.TransitionComplete, runtime.TransitionOccur:
		ex.engine.metrics.PlanItemsCompleted.Add(ex.ctx, 1)
	case runtime.TransitionTerminate, runtime.TransitionExit:
		ex.engine.metrics.PlanItemsTerminated.Add(ex.ctx, 1)
	}

	ex.engine.logger.Debug("plan item instance transition",
		"key", p.Key, "element", p.ElementId, "from", oldState, "to", newState, "transition", transition)
	ex.engine.history.RecordPlanItemStateChange(*p, oldState, newState, now)

	if err := ex.engine.notifyPlanItemStateChange(ex.ctx, p, oldState, newState); err != nil {
		return err
	}
	// listeners may have written variables on any scope
	ex.drainAllVariableChanges()

	ex.recordTransitionEvent(p, transition)
	return nil
}

// activatePlanItemInstance takes an instance into ACTIVE and performs the
// type specific activation work: creating the human task row or populating a
// stage with its children. Repetition bookkeeping variables are bound to the
// instance local scope before activation.
func (ex *caseExecution) activatePlanItemInstance(p *runtime.PlanItemInstance, transition runtime.PlanItemTransition) error {
	item := ex.planItemDefinition(p)
	if item == nil {
		return newEngineErrorf("no definition found for plan item instance %d (%s)", p.Key, p.ElementId)
	}
	if rule := item.ItemControl.RepetitionRule; rule != nil {
		if err := p.LocalScope.SetVariableLocal(rule.GetCounterVariableName(), p.RepetitionCounter); err != nil {
			return err
		}
		if rule.CollectionVariableName != "" && rule.ElementVariableName != "" {
			collection, err := ex.repetitionCollection(p, rule)
			if err != nil {
				return err
			}
			if p.RepetitionCounter >= 1 && p.RepetitionCounter <= len(collection) {
				if err := p.LocalScope.SetVariableLocal(rule.ElementVariableName, collection[p.RepetitionCounter-1]); err != nil {
					return err
				}
			}
		}
		ex.drainVariableChanges(&p.LocalScope)
	}

	if err := ex.transition(p, runtime.PlanItemStateActive, transition); err != nil {
		return err
	}

	stage := ex.stageDefinition(p)
	switch p.DefinitionType {
	case cmmn11.ElementTypeHumanTask:
		taskDef, ok := stage.FindPlanItemDefinitionById(p.DefinitionId).(cmmn11.THumanTask)
		if !ok {
			return newEngineErrorf("definition %s of plan item instance %d is not a human task", p.DefinitionId, p.Key)
		}
		variables, err := p.LocalScope.Variables()
		if err != nil {
			return err
		}
		assignee, err := ex.engine.resolveName(taskDef.Assignee, variables)
		if err != nil {
			return err
		}
		task := &runtime.HumanTask{
			Key:                 ex.engine.generateKey(),
			CaseInstanceKey:     ex.caseInstance.Key,
			PlanItemInstanceKey: p.Key,
			ElementId:           p.DefinitionId,
			Name:                p.Name,
			Assignee:            assignee,
			State:               runtime.HumanTaskStateCreated,
			CreatedAt:           ex.engine.now(),
			TenantId:            p.TenantId,
		}
		ex.tasks[task.Key] = task
		ex.dirtyTasks[task.Key] = true
		p.ReferenceKey = task.Key
		p.ReferenceType = referenceTypeHumanTask
	case cmmn11.ElementTypeStage:
		childStage := stage.FindStageDefinitionById(p.DefinitionId)
		if childStage == nil {
			return newEngineErrorf("stage definition %s of plan item instance %d not found", p.DefinitionId, p.Key)
		}
		if err := ex.createChildPlanItemInstances(childStage, p.Key); err != nil {
			return err
		}
	}
	return nil
}

// occurMilestone completes a milestone and records the reached milestone row.
func (ex *caseExecution) occurMilestone(p *runtime.PlanItemInstance) error {
	if err := ex.completePlanItemInstance(p, runtime.TransitionOccur); err != nil {
		return err
	}
	milestone := runtime.MilestoneInstance{
		Key:               ex.engine.generateKey(),
		Name:              p.Name,
		ElementId:         p.ElementId,
		CaseInstanceKey:   ex.caseInstance.Key,
		CaseDefinitionKey: p.CaseDefinitionKey,
		TimeStamp:         ex.engine.now(),
		TenantId:          p.TenantId,
	}
	ex.newMilestones = append(ex.newMilestones, milestone)
	ex.engine.history.RecordMilestoneReached(milestone)
	return nil
}

// completePlanItemInstance finishes an instance through complete or occur
// and spawns the next repetition when the repetition rule still applies.
func (ex *caseExecution) completePlanItemInstance(p *runtime.PlanItemInstance, transition runtime.PlanItemTransition) error {
	if p.State.IsTerminal() {
		return nil
	}
	if err := ex.transition(p, runtime.PlanItemStateCompleted, transition); err != nil {
		return err
	}
	if p.IsStage {
		ex.clearSentryPartsForScope(p.Key)
	}
	return ex.handleRepetition(p, transition)
}

// terminatePlanItemInstance forces an instance out of the lifecycle, children
// first. The resources of the terminated scope, its armed sentry parts, its
// local variables and its proxied human task, are released in the same unit
// of work. Terminating an already terminal instance is a no-op.
func (ex *caseExecution) terminatePlanItemInstance(p *runtime.PlanItemInstance, transition runtime.PlanItemTransition) error {
	if p.State.IsTerminal() {
		return nil
	}
	if p.IsStage {
		for _, child := range ex.childInstances(p.Key) {
			if err := ex.terminatePlanItemInstance(child, runtime.TransitionExit); err != nil {
				return err
			}
		}
	}
	if err := ex.transition(p, runtime.PlanItemStateTerminated, transition); err != nil {
		return err
	}

	ex.clearSentryPartsForScope(p.Key)
	instances, err := p.LocalScope.LocalVariableInstances()
	if err != nil {
		return err
	}
	for _, vi := range instances {
		if err := p.LocalScope.RemoveVariableLocal(vi.Name); err != nil {
			return err
		}
	}
	ex.drainVariableChanges(&p.LocalScope)

	if p.ReferenceType == referenceTypeHumanTask {
		if task := ex.tasks[p.ReferenceKey]; task != nil && task.State == runtime.HumanTaskStateCreated {
			task.State = runtime.HumanTaskStateTerminated
			ex.dirtyTasks[task.Key] = true
		}
	}
	return nil
}

// completeStageInstance completes an active stage: the remaining non-terminal
// children are exited first, then the stage itself completes.
func (ex *caseExecution) completeStageInstance(p *runtime.PlanItemInstance) error {
	for _, child := range ex.childInstances(p.Key) {
		if err := ex.terminatePlanItemInstance(child, runtime.TransitionExit); err != nil {
			return err
		}
	}
	return ex.completePlanItemInstance(p, runtime.TransitionComplete)
}
