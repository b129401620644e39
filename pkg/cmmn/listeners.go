package cmmn

import (
	"context"
	"slices"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// PlanItemInstanceLifecycleListener observes plan item instance transitions.
// Listeners registered on the engine are invoked in registration order inside
// the unit of work of the triggering command; an error aborts the command
// before anything is persisted.
//
// A listener may read and write variables through the instance's LocalScope;
// the writes take part in the same unit of work.
type PlanItemInstanceLifecycleListener interface {
	// SourceState filters on the state the instance leaves. Empty matches
	// any state, including instance creation.
	SourceState() runtime.PlanItemState

	// TargetState filters on the state the instance enters. Empty matches
	// any state.
	TargetState() runtime.PlanItemState

	// ItemTypes filters on the plan item definition type. Empty matches all
	// types.
	ItemTypes() []cmmn11.ElementType

	StateChanged(instance *runtime.PlanItemInstance, oldState runtime.PlanItemState, newState runtime.PlanItemState) error
}

// CaseInstanceLifecycleListener observes case instance state changes.
type CaseInstanceLifecycleListener interface {
	StateChanged(instance *runtime.CaseInstance, oldState runtime.CaseState, newState runtime.CaseState) error
}

func (engine *Engine) notifyPlanItemStateChange(ctx context.Context, instance *runtime.PlanItemInstance, oldState runtime.PlanItemState, newState runtime.PlanItemState) error {
	for _, listener := range engine.planItemListeners {
		if s := listener.SourceState(); s != "" && s != oldState {
			continue
		}
		if t := listener.TargetState(); t != "" && t != newState {
			continue
		}
		if types := listener.ItemTypes(); len(types) > 0 && !slices.Contains(types, instance.DefinitionType) {
			continue
		}
		engine.metrics.ListenerInvocations.Add(ctx, 1)
		if err := listener.StateChanged(instance, oldState, newState); err != nil {
			// the listener's error aborts the command unchanged
			return err
		}
	}
	return nil
}

func (engine *Engine) notifyCaseStateChange(ctx context.Context, instance *runtime.CaseInstance, oldState runtime.CaseState, newState runtime.CaseState) error {
	for _, listener := range engine.caseListeners {
		engine.metrics.ListenerInvocations.Add(ctx, 1)
		if err := listener.StateChanged(instance, oldState, newState); err != nil {
			return err
		}
	}
	return nil
}
