package cmmn

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
	zenotel "github.com/pbinitiative/zencmmn/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CreateCaseInstanceRequest addresses the definition either by its model id
// (latest deployed version) or by the key of one specific deployment.
type CreateCaseInstanceRequest struct {
	CaseDefinitionId  string `validate:"required_without=CaseDefinitionKey"`
	CaseDefinitionKey int64
	BusinessKey       string
	TenantId          string
	StartUserId       string
	Variables         map[string]any
}

// CreateCaseInstance starts a case instance: the root plan item instances of
// the plan model are created and evaluated until the case stabilizes, all
// within one unit of work.
func (engine *Engine) CreateCaseInstance(ctx context.Context, req CreateCaseInstanceRequest) (*runtime.CaseInstance, error) {
	ctx, span := engine.tracer.Start(ctx, "create-case-instance")
	defer span.End()

	if err := engine.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid create case instance request: %w", err)
	}

	var definition runtime.CaseDefinition
	var err error
	if req.CaseDefinitionKey != 0 {
		definition, err = engine.resolveCaseDefinitionByKey(ctx, req.CaseDefinitionKey)
	} else {
		definition, err = engine.persistence.FindLatestCaseDefinitionById(ctx, req.CaseDefinitionId, req.TenantId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve case definition: %w", err)
	}

	ci := &runtime.CaseInstance{
		Key:               engine.generateKey(),
		CaseDefinitionKey: definition.Key,
		Definition:        &definition,
		BusinessKey:       req.BusinessKey,
		State:             runtime.CaseStateActive,
		CreatedAt:         engine.now(),
		StartUserId:       req.StartUserId,
		TenantId:          definition.TenantId,
	}
	span.SetAttributes(
		attribute.String(zenotel.AttributeCaseDefinitionId, definition.Id),
		attribute.Int64(zenotel.AttributeCaseInstanceKey, ci.Key),
	)

	ex := engine.newCaseExecutionForInstance(ctx, ci)
	ci.VariableScope = runtime.NewVariableScope(nil, engine.varTypes, ci.Key, 0)
	for name, value := range req.Variables {
		if err := ci.VariableScope.SetVariable(name, value); err != nil {
			return nil, err
		}
	}
	if initiator := definition.Model.Case.InitiatorVariableName; initiator != "" && req.StartUserId != "" {
		if err := ci.VariableScope.SetVariable(initiator, req.StartUserId); err != nil {
			return nil, err
		}
	}
	ex.drainAllVariableChanges()

	if err := engine.notifyCaseStateChange(ctx, ci, "", runtime.CaseStateActive); err != nil {
		return nil, err
	}
	if err := ex.createChildPlanItemInstances(&ci.Definition.Model.Case.PlanModel, 0); err != nil {
		return nil, err
	}
	if err := ex.evaluateUntilStable(); err != nil {
		return nil, err
	}
	if err := ex.commit(); err != nil {
		return nil, err
	}

	engine.metrics.CasesStarted.Add(ctx, 1)
	engine.metrics.CasesRunning.Add(ctx, 1)
	engine.logger.Info("created case instance", "key", ci.Key, "definition", definition.Id)
	return ci, nil
}

// withCaseExecution is the frame of every trigger operation: load the case
// instance tree, apply the change, evaluate to a fixed point and commit.
func (engine *Engine) withCaseExecution(ctx context.Context, caseInstanceKey int64, apply func(ex *caseExecution) error) error {
	ex, err := engine.newCaseExecution(ctx, caseInstanceKey)
	if err != nil {
		return err
	}
	if ex.caseInstance.State.IsEnded() {
		return fmt.Errorf("case instance %d already ended: %w", caseInstanceKey, ErrIllegalState)
	}
	if apply != nil {
		if err := apply(ex); err != nil {
			return err
		}
	}
	if err := ex.evaluateUntilStable(); err != nil {
		return err
	}
	return ex.commit()
}

// GetCaseInstance returns the persisted state of a case instance.
func (engine *Engine) GetCaseInstance(ctx context.Context, caseInstanceKey int64) (runtime.CaseInstance, error) {
	return engine.persistence.FindCaseInstanceByKey(ctx, caseInstanceKey)
}

// GetPlanItemInstances returns every plan item instance of the case
// instance, root-level and nested, in creation order.
func (engine *Engine) GetPlanItemInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.PlanItemInstance, error) {
	return engine.persistence.FindCaseInstancePlanItemInstances(ctx, caseInstanceKey)
}

// GetMilestoneInstances returns the milestones the case instance reached.
func (engine *Engine) GetMilestoneInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.MilestoneInstance, error) {
	return engine.persistence.FindCaseInstanceMilestoneInstances(ctx, caseInstanceKey)
}

// GetHumanTasks returns the human task rows of a case instance.
func (engine *Engine) GetHumanTasks(ctx context.Context, caseInstanceKey int64) ([]runtime.HumanTask, error) {
	return engine.persistence.FindCaseInstanceHumanTasks(ctx, caseInstanceKey)
}

// GetVariables returns the merged case-scope variables of a case instance.
func (engine *Engine) GetVariables(ctx context.Context, caseInstanceKey int64) (map[string]any, error) {
	ex, err := engine.newCaseExecution(ctx, caseInstanceKey)
	if err != nil {
		return nil, err
	}
	return ex.caseInstance.VariableScope.Variables()
}

// CompleteHumanTask completes the task and its proxying plan item instance.
// Output variables are written through the plan item scope, so they land in
// the scope that already owns them, or at the case scope.
func (engine *Engine) CompleteHumanTask(ctx context.Context, taskKey int64, variables map[string]any) error {
	ctx, span := engine.tracer.Start(ctx, "complete-human-task")
	defer span.End()

	task, err := engine.persistence.FindHumanTaskByKey(ctx, taskKey)
	if err != nil {
		return fmt.Errorf("failed to load human task %d: %w", taskKey, err)
	}
	span.SetAttributes(attribute.Int64(zenotel.AttributeCaseInstanceKey, task.CaseInstanceKey))

	return engine.withCaseExecution(ctx, task.CaseInstanceKey, func(ex *caseExecution) error {
		t := ex.tasks[taskKey]
		if t == nil || t.State != runtime.HumanTaskStateCreated {
			return fmt.Errorf("human task %d is not open: %w", taskKey, ErrIllegalState)
		}
		p := ex.planItems[t.PlanItemInstanceKey]
		if p == nil || p.State != runtime.PlanItemStateActive {
			return fmt.Errorf("plan item instance of human task %d is not active: %w", taskKey, ErrIllegalState)
		}
		for name, value := range variables {
			if err := p.LocalScope.SetVariable(name, value); err != nil {
				return err
			}
		}
		ex.drainAllVariableChanges()
		t.State = runtime.HumanTaskStateCompleted
		t.CompletedAt = engine.now()
		ex.dirtyTasks[t.Key] = true
		return ex.completePlanItemInstance(p, runtime.TransitionComplete)
	})
}

// StartPlanItemInstance manually starts an ENABLED plan item instance.
func (engine *Engine) StartPlanItemInstance(ctx context.Context, planItemInstanceKey int64) error {
	return engine.triggerPlanItemInstance(ctx, "start-plan-item-instance", planItemInstanceKey, func(ex *caseExecution, p *runtime.PlanItemInstance) error {
		if p.State != runtime.PlanItemStateEnabled {
			return fmt.Errorf("plan item instance %d is not enabled: %w", p.Key, ErrIllegalState)
		}
		return ex.activatePlanItemInstance(p, runtime.TransitionManualStart)
	})
}

// DisablePlanItemInstance disables an ENABLED plan item instance.
func (engine *Engine) DisablePlanItemInstance(ctx context.Context, planItemInstanceKey int64) error {
	return engine.triggerPlanItemInstance(ctx, "disable-plan-item-instance", planItemInstanceKey, func(ex *caseExecution, p *runtime.PlanItemInstance) error {
		if p.State != runtime.PlanItemStateEnabled {
			return fmt.Errorf("plan item instance %d is not enabled: %w", p.Key, ErrIllegalState)
		}
		return ex.transition(p, runtime.PlanItemStateDisabled, runtime.TransitionDisable)
	})
}

// EnablePlanItemInstance re-enables a DISABLED plan item instance.
func (engine *Engine) EnablePlanItemInstance(ctx context.Context, planItemInstanceKey int64) error {
	return engine.triggerPlanItemInstance(ctx, "enable-plan-item-instance", planItemInstanceKey, func(ex *caseExecution, p *runtime.PlanItemInstance) error {
		if p.State != runtime.PlanItemStateDisabled {
			return fmt.Errorf("plan item instance %d is not disabled: %w", p.Key, ErrIllegalState)
		}
		return ex.transition(p, runtime.PlanItemStateEnabled, runtime.TransitionEnable)
	})
}

// CompleteStagePlanItemInstance explicitly completes an active stage. The
// stage must be completable; remaining non-blocking children are exited.
func (engine *Engine) CompleteStagePlanItemInstance(ctx context.Context, planItemInstanceKey int64) error {
	return engine.triggerPlanItemInstance(ctx, "complete-stage-plan-item-instance", planItemInstanceKey, func(ex *caseExecution, p *runtime.PlanItemInstance) error {
		if !p.IsStage || p.State != runtime.PlanItemStateActive {
			return fmt.Errorf("plan item instance %d is not an active stage: %w", p.Key, ErrIllegalState)
		}
		completable, err := ex.computeCompletable(p.Key)
		if err != nil {
			return err
		}
		if !completable {
			return fmt.Errorf("stage plan item instance %d is not completable: %w", p.Key, ErrIllegalState)
		}
		return ex.completeStageInstance(p)
	})
}

// OccurEventListener triggers an AVAILABLE event listener instance: user
// event listeners on user action, timer event listeners when the external
// scheduler fires.
func (engine *Engine) OccurEventListener(ctx context.Context, planItemInstanceKey int64) error {
	return engine.triggerPlanItemInstance(ctx, "occur-event-listener", planItemInstanceKey, func(ex *caseExecution, p *runtime.PlanItemInstance) error {
		if !isEventListener(p.DefinitionType) {
			return fmt.Errorf("plan item instance %d is not an event listener: %w", p.Key, ErrIllegalState)
		}
		if p.State != runtime.PlanItemStateAvailable {
			return fmt.Errorf("event listener instance %d is not available: %w", p.Key, ErrIllegalState)
		}
		return ex.completePlanItemInstance(p, runtime.TransitionOccur)
	})
}

// OccurGenericEventListenerForKey triggers the available generic event
// listeners of a case instance whose definition carries the given event key.
// Payload variables are set at the case scope before the listeners occur.
// An event with no available listener is dropped with a warning, matching
// at-most-once delivery from the event registry.
func (engine *Engine) OccurGenericEventListenerForKey(ctx context.Context, caseInstanceKey int64, eventKey string, payload map[string]any) error {
	ctx, span := engine.tracer.Start(ctx, "occur-generic-event-listener")
	defer span.End()
	span.SetAttributes(attribute.Int64(zenotel.AttributeCaseInstanceKey, caseInstanceKey))

	return engine.withCaseExecution(ctx, caseInstanceKey, func(ex *caseExecution) error {
		for name, value := range payload {
			if err := ex.caseInstance.VariableScope.SetVariable(name, value); err != nil {
				return err
			}
		}
		ex.drainAllVariableChanges()

		triggered := false
		for _, key := range ex.order {
			p := ex.planItems[key]
			if p == nil || p.DefinitionType != cmmn11.ElementTypeGenericEventListener || p.State != runtime.PlanItemStateAvailable {
				continue
			}
			stage := ex.stageDefinition(p)
			listener, ok := stage.FindPlanItemDefinitionById(p.DefinitionId).(cmmn11.TGenericEventListener)
			if !ok || listener.EventKey != eventKey {
				continue
			}
			if err := ex.completePlanItemInstance(p, runtime.TransitionOccur); err != nil {
				return err
			}
			triggered = true
		}
		if !triggered {
			engine.logger.Warn("dropped event without available listener",
				"caseInstanceKey", caseInstanceKey, "eventKey", eventKey)
		}
		return nil
	})
}

// TerminateCaseInstance forces the case and its whole plan item instance
// tree out of the lifecycle.
func (engine *Engine) TerminateCaseInstance(ctx context.Context, caseInstanceKey int64) error {
	ctx, span := engine.tracer.Start(ctx, "terminate-case-instance")
	defer span.End()
	span.SetAttributes(attribute.Int64(zenotel.AttributeCaseInstanceKey, caseInstanceKey))

	return engine.withCaseExecution(ctx, caseInstanceKey, func(ex *caseExecution) error {
		for _, child := range ex.childInstances(0) {
			if err := ex.terminatePlanItemInstance(child, runtime.TransitionExit); err != nil {
				return err
			}
		}
		return ex.endCaseInstance(runtime.CaseStateTerminated)
	})
}

// SetVariables writes variables through the case scope and re-evaluates the
// case, so if-parts referencing the variables fire within the same command.
func (engine *Engine) SetVariables(ctx context.Context, caseInstanceKey int64, variables map[string]any) error {
	ctx, span := engine.tracer.Start(ctx, "set-variables")
	defer span.End()
	span.SetAttributes(attribute.Int64(zenotel.AttributeCaseInstanceKey, caseInstanceKey))

	return engine.withCaseExecution(ctx, caseInstanceKey, func(ex *caseExecution) error {
		for name, value := range variables {
			if err := ex.caseInstance.VariableScope.SetVariable(name, value); err != nil {
				return err
			}
		}
		ex.drainAllVariableChanges()
		return nil
	})
}

// SetLocalVariables writes variables into the local scope of one plan item
// instance.
func (engine *Engine) SetLocalVariables(ctx context.Context, planItemInstanceKey int64, variables map[string]any) error {
	return engine.triggerPlanItemInstance(ctx, "set-local-variables", planItemInstanceKey, func(ex *caseExecution, p *runtime.PlanItemInstance) error {
		for name, value := range variables {
			if err := p.LocalScope.SetVariableLocal(name, value); err != nil {
				return err
			}
		}
		ex.drainVariableChanges(&p.LocalScope)
		return nil
	})
}

// RemoveVariable removes a variable from the scope chain of the case.
func (engine *Engine) RemoveVariable(ctx context.Context, caseInstanceKey int64, name string) error {
	return engine.withCaseExecution(ctx, caseInstanceKey, func(ex *caseExecution) error {
		if err := ex.caseInstance.VariableScope.RemoveVariable(name); err != nil {
			return err
		}
		ex.drainAllVariableChanges()
		return nil
	})
}

// EvaluateCriteria re-runs sentry and completion evaluation of a case
// instance without any other change; evaluating an already stable case is a
// no-op.
func (engine *Engine) EvaluateCriteria(ctx context.Context, caseInstanceKey int64) error {
	ctx, span := engine.tracer.Start(ctx, "evaluate-criteria")
	defer span.End()
	span.SetAttributes(attribute.Int64(zenotel.AttributeCaseInstanceKey, caseInstanceKey))

	return engine.withCaseExecution(ctx, caseInstanceKey, nil)
}

func (engine *Engine) triggerPlanItemInstance(ctx context.Context, spanName string, planItemInstanceKey int64, apply func(ex *caseExecution, p *runtime.PlanItemInstance) error) error {
	ctx, span := engine.tracer.Start(ctx, spanName)
	defer span.End()

	instance, err := engine.persistence.FindPlanItemInstanceByKey(ctx, planItemInstanceKey)
	if err != nil {
		return fmt.Errorf("failed to load plan item instance %d: %w", planItemInstanceKey, err)
	}
	span.SetAttributes(
		attribute.Int64(zenotel.AttributeCaseInstanceKey, instance.CaseInstanceKey),
		attribute.String(zenotel.AttributeElementId, instance.ElementId),
	)

	return engine.withCaseExecution(ctx, instance.CaseInstanceKey, func(ex *caseExecution) error {
		p := ex.planItems[planItemInstanceKey]
		if p == nil {
			return newEngineErrorf("plan item instance %d not found in case instance %d", planItemInstanceKey, instance.CaseInstanceKey)
		}
		return apply(ex, p)
	})
}
