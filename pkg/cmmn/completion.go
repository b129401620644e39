package cmmn

import (
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// isPlanItemInstanceBlocking reports whether a child keeps its container
// from completing:
//
//   - terminal children never block
//   - a child whose completion neutral rule applies never blocks
//   - active work always blocks
//   - a non-terminal child whose required rule applies blocks
//   - everything else (optional items in AVAILABLE, ENABLED, DISABLED,
//     UNAVAILABLE or WAITING_FOR_REPETITION) does not block
func (ex *caseExecution) isPlanItemInstanceBlocking(p *runtime.PlanItemInstance) (bool, error) {
	if p.State.IsTerminal() {
		return false, nil
	}
	item := ex.planItemDefinition(p)
	if item == nil {
		return false, nil
	}
	if rule := item.ItemControl.CompletionNeutralRule; rule != nil {
		variables, err := p.LocalScope.Variables()
		if err != nil {
			return false, err
		}
		neutral, err := ex.engine.evaluateCondition(rule.Condition, variables)
		if err != nil {
			return false, err
		}
		if neutral {
			return false, nil
		}
	}
	if p.State == runtime.PlanItemStateActive || p.State == runtime.PlanItemStateAsyncActive {
		return true, nil
	}
	if rule := item.ItemControl.RequiredRule; rule != nil {
		variables, err := p.LocalScope.Variables()
		if err != nil {
			return false, err
		}
		required, err := ex.engine.evaluateCondition(rule.Condition, variables)
		if err != nil {
			return false, err
		}
		if required {
			return true, nil
		}
	}
	return false, nil
}

// computeCompletable recomputes the completable flag of a container from its
// direct children. Key zero addresses the case plan model level.
func (ex *caseExecution) computeCompletable(stageInstanceKey int64) (bool, error) {
	for _, child := range ex.childInstances(stageInstanceKey) {
		blocking, err := ex.isPlanItemInstanceBlocking(child)
		if err != nil {
			return false, err
		}
		if blocking {
			return false, nil
		}
	}
	return true, nil
}

func (ex *caseExecution) allChildrenEnded(stageInstanceKey int64) bool {
	for _, child := range ex.childInstances(stageInstanceKey) {
		if !child.State.IsTerminal() {
			return false
		}
	}
	return true
}

// evaluateStageCompletion refreshes the completable flag of an active stage
// and completes it when the stage is completable and either the model marks
// it autoComplete or every child has already ended.
func (ex *caseExecution) evaluateStageCompletion(p *runtime.PlanItemInstance) error {
	completable, err := ex.computeCompletable(p.Key)
	if err != nil {
		return err
	}
	if p.Completable != completable {
		p.Completable = completable
		ex.changed = true
	}
	if !completable {
		return nil
	}
	containing := ex.stageDefinition(p)
	if containing == nil {
		return newEngineErrorf("no stage definition found for plan item instance %d (%s)", p.Key, p.ElementId)
	}
	stageDef := containing.FindStageDefinitionById(p.DefinitionId)
	if stageDef == nil {
		return newEngineErrorf("stage definition %s of plan item instance %d not found", p.DefinitionId, p.Key)
	}
	if stageDef.AutoComplete || ex.allChildrenEnded(p.Key) {
		return ex.completeStageInstance(p)
	}
	return nil
}

// evaluateCaseCompletion applies the stage completion rules to the case plan
// model. A case that already ended is left alone, so re-evaluation of an
// ended case never produces another completion.
func (ex *caseExecution) evaluateCaseCompletion() error {
	ci := ex.caseInstance
	if ci.State.IsEnded() {
		return nil
	}
	completable, err := ex.computeCompletable(0)
	if err != nil {
		return err
	}
	if ci.Completable != completable {
		ci.Completable = completable
		ex.changed = true
	}
	if !completable {
		return nil
	}
	if ex.planModel().AutoComplete || ex.allChildrenEnded(0) {
		return ex.completeCaseInstance()
	}
	return nil
}

// completeCaseInstance exits the remaining non-terminal root items and ends
// the case as COMPLETED.
func (ex *caseExecution) completeCaseInstance() error {
	for _, child := range ex.childInstances(0) {
		if err := ex.terminatePlanItemInstance(child, runtime.TransitionExit); err != nil {
			return err
		}
	}
	return ex.endCaseInstance(runtime.CaseStateCompleted)
}

func (ex *caseExecution) endCaseInstance(state runtime.CaseState) error {
	ci := ex.caseInstance
	oldState := ci.State
	now := ex.engine.now()
	ci.State = state
	ci.EndedAt = now
	ci.Completable = false
	ex.changed = true

	ex.engine.logger.Info("case instance ended", "key", ci.Key, "state", state)
	ex.engine.history.RecordCaseInstanceEnded(*ci, now)
	ex.engine.metrics.CasesRunning.Add(ex.ctx, -1)
	if state == runtime.CaseStateCompleted {
		ex.engine.metrics.CasesCompleted.Add(ex.ctx, 1)
	} else {
		ex.engine.metrics.CasesTerminated.Add(ex.ctx, 1)
	}
	return ex.engine.notifyCaseStateChange(ex.ctx, ci, oldState, state)
}
