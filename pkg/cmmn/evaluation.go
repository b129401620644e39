package cmmn

import (
	"slices"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// evaluateUntilStable runs evaluation passes until a pass changes nothing.
// One pass visits every non-terminal plan item instance in creation order,
// fires satisfied sentries and applies the completion rules; a transition
// during the pass can satisfy further sentries, which the next pass picks
// up. The pass budget turns a model or listener that keeps producing changes
// into a hard error instead of a hung command.
func (ex *caseExecution) evaluateUntilStable() error {
	for {
		if ex.caseInstance.State.IsEnded() {
			return nil
		}
		ex.passes++
		if ex.passes > ex.engine.maxEvaluationPasses {
			return newEngineErrorf("evaluation of case instance %d did not reach a fixed point within %d passes",
				ex.caseInstance.Key, ex.engine.maxEvaluationPasses)
		}
		ex.changed = false
		if err := ex.evaluatePass(); err != nil {
			return err
		}
		if !ex.changed {
			return nil
		}
	}
}

func (ex *caseExecution) evaluatePass() error {
	// instances created during the pass are visited by the next pass
	keys := slices.Clone(ex.order)
	for _, key := range keys {
		p := ex.planItems[key]
		if p == nil || p.State.IsTerminal() {
			continue
		}
		if ex.caseInstance.State.IsEnded() {
			return nil
		}
		if err := ex.evaluatePlanItemInstance(p); err != nil {
			return err
		}
	}
	ex.drainAllVariableChanges()
	return ex.evaluateCaseCompletion()
}

func (ex *caseExecution) evaluatePlanItemInstance(p *runtime.PlanItemInstance) error {
	item := ex.planItemDefinition(p)
	if item == nil {
		return newEngineErrorf("no definition found for plan item instance %d (%s)", p.Key, p.ElementId)
	}

	// a satisfied exit criterion trumps everything else
	switch p.State {
	case runtime.PlanItemStateAvailable, runtime.PlanItemStateEnabled, runtime.PlanItemStateDisabled,
		runtime.PlanItemStateActive, runtime.PlanItemStateAsyncActive:
		if len(item.ExitCriteria) > 0 {
			sentry, ok, err := ex.exitSatisfied(p, item)
			if err != nil {
				return err
			}
			if ok {
				ex.consumeSentry(sentry, p.StageInstanceKey)
				return ex.terminatePlanItemInstance(p, runtime.TransitionExit)
			}
		}
	}

	switch p.State {
	case runtime.PlanItemStateUnavailable:
		available, err := ex.evaluateListenerAvailability(p)
		if err != nil {
			return err
		}
		if available {
			return ex.transition(p, runtime.PlanItemStateAvailable, runtime.TransitionCreate)
		}
	case runtime.PlanItemStateAvailable:
		if isEventListener(p.DefinitionType) {
			// listeners wait for their occur trigger; the available
			// condition may also turn false again
			available, err := ex.evaluateListenerAvailability(p)
			if err != nil {
				return err
			}
			if !available {
				return ex.transition(p, runtime.PlanItemStateUnavailable, runtime.TransitionCreate)
			}
			return nil
		}
		if len(item.EntryCriteria) > 0 {
			sentry, ok, err := ex.entrySatisfied(p, item)
			if err != nil || !ok {
				return err
			}
			ex.consumeSentry(sentry, p.StageInstanceKey)
		}
		return ex.firePlanItem(p, item)
	case runtime.PlanItemStateActive:
		if p.IsStage {
			return ex.evaluateStageCompletion(p)
		}
	case runtime.PlanItemStateWaitingForRepetition:
		return ex.evaluateWaitingForRepetition(p, item)
	}
	return nil
}

// firePlanItem takes an instance whose entry criteria are met into the next
// state: milestones occur, manually activated items park in ENABLED, and
// everything else activates.
func (ex *caseExecution) firePlanItem(p *runtime.PlanItemInstance, item *cmmn11.TPlanItem) error {
	if p.DefinitionType == cmmn11.ElementTypeMilestone {
		return ex.occurMilestone(p)
	}
	if rule := item.ItemControl.ManualActivationRule; rule != nil {
		variables, err := p.LocalScope.Variables()
		if err != nil {
			return err
		}
		manual, err := ex.engine.evaluateCondition(rule.Condition, variables)
		if err != nil {
			return err
		}
		if manual {
			return ex.transition(p, runtime.PlanItemStateEnabled, runtime.TransitionEnable)
		}
	}
	return ex.activatePlanItemInstance(p, runtime.TransitionStart)
}

// evaluateListenerAvailability evaluates the available condition of an event
// listener instance with the completable flag of its container bound to the
// isStageCompletable() builtin.
func (ex *caseExecution) evaluateListenerAvailability(p *runtime.PlanItemInstance) (bool, error) {
	stage := ex.stageDefinition(p)
	if stage == nil {
		return false, newEngineErrorf("no stage definition found for plan item instance %d (%s)", p.Key, p.ElementId)
	}
	listener, ok := stage.FindPlanItemDefinitionById(p.DefinitionId).(cmmn11.EventListenerDefinition)
	if !ok {
		return true, nil
	}
	condition := listener.GetAvailableCondition()
	if condition == "" {
		return true, nil
	}
	completable, err := ex.computeCompletable(p.StageInstanceKey)
	if err != nil {
		return false, err
	}
	variables, err := ex.containerScope(p.StageInstanceKey).Variables()
	if err != nil {
		return false, err
	}
	return ex.engine.evaluateAvailableCondition(condition, completable, variables)
}

func isEventListener(elementType cmmn11.ElementType) bool {
	switch elementType {
	case cmmn11.ElementTypeUserEventListener, cmmn11.ElementTypeGenericEventListener, cmmn11.ElementTypeTimerEventListener:
		return true
	}
	return false
}
