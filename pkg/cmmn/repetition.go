package cmmn

import (
	"maps"
	"reflect"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// handleRepetition spawns the next instance of a repeating plan item after
// the current one completed or occurred.
//
// Collection driven repetition activates the next instance directly while
// elements remain; once the collection is exhausted, a placeholder is parked
// in WAITING_FOR_REPETITION and cleaned up by the next evaluation pass.
// Condition driven repetition re-evaluates the condition with the
// incremented counter bound; while it holds, the next instance either
// activates directly or, when the plan item has entry criteria, waits for
// its sentry to fire again.
func (ex *caseExecution) handleRepetition(p *runtime.PlanItemInstance, transition runtime.PlanItemTransition) error {
	if transition != runtime.TransitionComplete && transition != runtime.TransitionOccur {
		return nil
	}
	item := ex.planItemDefinition(p)
	if item == nil {
		return nil
	}
	rule := item.ItemControl.RepetitionRule
	if rule == nil {
		return nil
	}
	stage := ex.stageDefinition(p)
	next := p.RepetitionCounter + 1

	if rule.CollectionVariableName != "" {
		collection, err := ex.repetitionCollection(p, rule)
		if err != nil {
			return err
		}
		sibling, err := ex.newPlanItemInstance(stage, item, p.StageInstanceKey, next)
		if err != nil {
			return err
		}
		if next <= len(collection) {
			if err := ex.transition(sibling, runtime.PlanItemStateAvailable, runtime.TransitionCreate); err != nil {
				return err
			}
			return ex.activatePlanItemInstance(sibling, runtime.TransitionStart)
		}
		return ex.transition(sibling, runtime.PlanItemStateWaitingForRepetition, runtime.TransitionCreate)
	}

	repeat, err := ex.evaluateRepetitionCondition(p, rule, next)
	if err != nil {
		return err
	}
	if !repeat {
		return nil
	}
	sibling, err := ex.newPlanItemInstance(stage, item, p.StageInstanceKey, next)
	if err != nil {
		return err
	}
	if len(item.EntryCriteria) > 0 {
		// the entry sentry was consumed by the previous repetition and has
		// to fire again before this instance proceeds
		return ex.transition(sibling, runtime.PlanItemStateWaitingForRepetition, runtime.TransitionCreate)
	}
	if err := ex.transition(sibling, runtime.PlanItemStateAvailable, runtime.TransitionCreate); err != nil {
		return err
	}
	return ex.activatePlanItemInstance(sibling, runtime.TransitionStart)
}

// evaluateWaitingForRepetition decides the fate of a parked repetition
// placeholder during an evaluation pass.
func (ex *caseExecution) evaluateWaitingForRepetition(p *runtime.PlanItemInstance, item *cmmn11.TPlanItem) error {
	rule := item.ItemControl.RepetitionRule
	if rule == nil {
		// placeholder without a repetition rule cannot trigger anymore
		return ex.terminatePlanItemInstance(p, runtime.TransitionTerminate)
	}

	if len(item.EntryCriteria) > 0 {
		sentry, ok, err := ex.entrySatisfied(p, item)
		if err != nil || !ok {
			return err
		}
		ex.consumeSentry(sentry, p.StageInstanceKey)
		return ex.firePlanItem(p, item)
	}

	if rule.CollectionVariableName != "" {
		collection, err := ex.repetitionCollection(p, rule)
		if err != nil {
			return err
		}
		if p.RepetitionCounter <= len(collection) {
			if err := ex.transition(p, runtime.PlanItemStateAvailable, runtime.TransitionCreate); err != nil {
				return err
			}
			return ex.activatePlanItemInstance(p, runtime.TransitionStart)
		}
		// the collection cannot grow within this command anymore
		return ex.terminatePlanItemInstance(p, runtime.TransitionTerminate)
	}

	repeat, err := ex.evaluateRepetitionCondition(p, rule, p.RepetitionCounter)
	if err != nil {
		return err
	}
	if !repeat {
		return ex.terminatePlanItemInstance(p, runtime.TransitionTerminate)
	}
	if err := ex.transition(p, runtime.PlanItemStateAvailable, runtime.TransitionCreate); err != nil {
		return err
	}
	return ex.activatePlanItemInstance(p, runtime.TransitionStart)
}

func (ex *caseExecution) evaluateRepetitionCondition(p *runtime.PlanItemInstance, rule *cmmn11.TRepetitionRule, counter int) (bool, error) {
	variables, err := ex.containerScope(p.StageInstanceKey).Variables()
	if err != nil {
		return false, err
	}
	bound := maps.Clone(variables)
	bound[rule.GetCounterVariableName()] = counter
	return ex.engine.evaluateCondition(rule.Condition, bound)
}

// repetitionCollection resolves the collection variable visible to the
// instance. A missing variable counts as an empty collection.
func (ex *caseExecution) repetitionCollection(p *runtime.PlanItemInstance, rule *cmmn11.TRepetitionRule) ([]any, error) {
	value, err := p.LocalScope.GetVariable(rule.CollectionVariableName)
	if err != nil {
		return nil, err
	}
	collection, ok := asSlice(value)
	if !ok {
		return nil, newEngineErrorf("repetition collection variable %q of plan item %s does not hold a collection but %T",
			rule.CollectionVariableName, p.ElementId, value)
	}
	return collection, nil
}

func asSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, true
	}
	if s, ok := value.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	res := make([]any, rv.Len())
	for i := range res {
		res[i] = rv.Index(i).Interface()
	}
	return res, true
}
