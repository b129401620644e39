package cmmn

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// caseExecution is the per-command arena of one case instance: the loaded
// plan item instance tree, the live sentry part records and everything that
// changed during the command. All mutation happens against the arena; commit
// writes the delta into one storage batch.
type caseExecution struct {
	engine *Engine
	ctx    context.Context

	caseInstance *runtime.CaseInstance

	// planItems indexes the instance tree by key; order keeps the creation
	// order for deterministic evaluation.
	planItems map[int64]*runtime.PlanItemInstance
	order     []int64

	sentryParts []*runtime.SentryPartInstance
	tasks       map[int64]*runtime.HumanTask

	// dirty tracking against the snapshots taken at load time
	caseSnapshot   map[string]any
	piiSnapshots   map[int64]map[string]any
	newParts       []*runtime.SentryPartInstance
	deletedParts   []*runtime.SentryPartInstance
	newMilestones  []runtime.MilestoneInstance
	dirtyTasks     map[int64]bool
	variableWrites []runtime.VariableChange

	passes  int
	changed bool
}

// newCaseExecution loads an existing case instance with its plan item
// instances, sentry parts and human tasks and rebuilds the variable scope
// chain.
func (engine *Engine) newCaseExecution(ctx context.Context, caseInstanceKey int64) (*caseExecution, error) {
	ci, err := engine.persistence.FindCaseInstanceByKey(ctx, caseInstanceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load case instance %d: %w", caseInstanceKey, err)
	}
	if ci.Definition == nil {
		definition, err := engine.resolveCaseDefinitionByKey(ctx, ci.CaseDefinitionKey)
		if err != nil {
			return nil, err
		}
		ci.Definition = &definition
	}

	ex := engine.newCaseExecutionForInstance(ctx, &ci)
	ci.VariableScope = runtime.NewLazyVariableScope(nil, engine.varTypes, ci.Key, 0, ex.variableLoader(ci.Key, 0))
	ex.caseSnapshot = ci.GetPersistentState()

	instances, err := engine.persistence.FindCaseInstancePlanItemInstances(ctx, ci.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan item instances of case instance %d: %w", ci.Key, err)
	}
	for i := range instances {
		p := &instances[i]
		ex.planItems[p.Key] = p
		ex.order = append(ex.order, p.Key)
		ex.piiSnapshots[p.Key] = p.GetPersistentState()
		p.LocalScope = runtime.NewLazyVariableScope(nil, engine.varTypes, ci.Key, p.Key, ex.variableLoader(ci.Key, p.Key))
	}
	// parent scope chain follows the stage containment tree
	for _, key := range ex.order {
		p := ex.planItems[key]
		parent := &ci.VariableScope
		if p.StageInstanceKey != 0 {
			if stage := ex.planItems[p.StageInstanceKey]; stage != nil {
				parent = &stage.LocalScope
			}
		}
		p.LocalScope.SetParent(parent)
	}

	parts, err := engine.persistence.FindCaseInstanceSentryPartInstances(ctx, ci.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentry parts of case instance %d: %w", ci.Key, err)
	}
	for i := range parts {
		ex.sentryParts = append(ex.sentryParts, &parts[i])
	}

	tasks, err := engine.persistence.FindCaseInstanceHumanTasks(ctx, ci.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load human tasks of case instance %d: %w", ci.Key, err)
	}
	for i := range tasks {
		ex.tasks[tasks[i].Key] = &tasks[i]
	}
	return ex, nil
}

// newCaseExecutionForInstance wraps an in-memory instance, used when a case
// instance is created. A nil caseSnapshot forces the instance to be saved.
func (engine *Engine) newCaseExecutionForInstance(ctx context.Context, ci *runtime.CaseInstance) *caseExecution {
	return &caseExecution{
		engine:       engine,
		ctx:          ctx,
		caseInstance: ci,
		planItems:    map[int64]*runtime.PlanItemInstance{},
		tasks:        map[int64]*runtime.HumanTask{},
		piiSnapshots: map[int64]map[string]any{},
		dirtyTasks:   map[int64]bool{},
	}
}

func (ex *caseExecution) variableLoader(caseInstanceKey int64, scopeKey int64) runtime.VariableLoader {
	return func() ([]runtime.VariableInstance, error) {
		return ex.engine.persistence.FindScopeVariables(ex.ctx, caseInstanceKey, scopeKey)
	}
}

func (ex *caseExecution) addPlanItemInstance(p *runtime.PlanItemInstance) {
	ex.planItems[p.Key] = p
	ex.order = append(ex.order, p.Key)
}

func (ex *caseExecution) planModel() *cmmn11.TStage {
	return &ex.caseInstance.Definition.Model.Case.PlanModel
}

// stageDefinition returns the stage definition containing the plan item
// instance: the plan model for root items, otherwise the definition of the
// containing stage instance.
func (ex *caseExecution) stageDefinition(p *runtime.PlanItemInstance) *cmmn11.TStage {
	if p.StageInstanceKey == 0 {
		return ex.planModel()
	}
	parent := ex.planItems[p.StageInstanceKey]
	if parent == nil {
		return nil
	}
	return cmmn11.FindStageById(ex.planModel(), parent.DefinitionId)
}

func (ex *caseExecution) planItemDefinition(p *runtime.PlanItemInstance) *cmmn11.TPlanItem {
	stage := ex.stageDefinition(p)
	if stage == nil {
		return nil
	}
	return stage.FindPlanItemById(p.ElementId)
}

// childInstances returns the direct children of a container in creation
// order; key zero addresses the case plan model level.
func (ex *caseExecution) childInstances(stageInstanceKey int64) []*runtime.PlanItemInstance {
	res := make([]*runtime.PlanItemInstance, 0)
	for _, key := range ex.order {
		p := ex.planItems[key]
		if p != nil && p.StageInstanceKey == stageInstanceKey {
			res = append(res, p)
		}
	}
	return res
}

// containerScope is the variable scope of a container: the case scope or the
// local scope of a stage instance.
func (ex *caseExecution) containerScope(stageInstanceKey int64) *runtime.VariableScope {
	if stageInstanceKey == 0 {
		return &ex.caseInstance.VariableScope
	}
	return &ex.planItems[stageInstanceKey].LocalScope
}

func (ex *caseExecution) adjustActiveChildren(stageInstanceKey int64, delta int) {
	if stageInstanceKey == 0 {
		ex.caseInstance.ActiveChildren += delta
		return
	}
	if stage := ex.planItems[stageInstanceKey]; stage != nil {
		stage.ActiveChildren += delta
	}
}

func (ex *caseExecution) adjustSentryPartCount(stageInstanceKey int64, delta int) {
	if stageInstanceKey == 0 {
		ex.caseInstance.SentryParts += delta
		return
	}
	if stage := ex.planItems[stageInstanceKey]; stage != nil {
		stage.SentryParts += delta
	}
}

// drainVariableChanges routes the pending mutations of one scope into the
// history recorder and the write set of the command. Keys for created
// variables are assigned here.
func (ex *caseExecution) drainVariableChanges(scope *runtime.VariableScope) {
	for _, change := range scope.TakePendingChanges() {
		now := ex.engine.now()
		switch change.Op {
		case runtime.VariableCreated:
			change.Instance.Key = ex.engine.generateKey()
			ex.engine.history.RecordVariableCreate(*change.Instance, now)
		case runtime.VariableUpdated:
			ex.engine.history.RecordVariableUpdate(*change.Instance, now)
		case runtime.VariableRemoved:
			ex.engine.history.RecordVariableRemove(*change.Instance, now)
		}
		ex.variableWrites = append(ex.variableWrites, change)
	}
}

func (ex *caseExecution) drainAllVariableChanges() {
	ex.drainVariableChanges(&ex.caseInstance.VariableScope)
	for _, key := range ex.order {
		if p := ex.planItems[key]; p != nil {
			ex.drainVariableChanges(&p.LocalScope)
		}
	}
}

// commit writes everything the command changed into a single batch. Entities
// are diffed against their load-time snapshot so unchanged rows never hit
// the store.
func (ex *caseExecution) commit() error {
	ex.drainAllVariableChanges()
	batch := ex.engine.persistence.NewBatch()
	ctx := ex.ctx

	if ex.caseSnapshot == nil || !maps.Equal(ex.caseSnapshot, ex.caseInstance.GetPersistentState()) {
		ex.caseInstance.LockOwner = ex.engine.name
		ex.caseInstance.LockTime = ex.engine.now()
		if err := batch.SaveCaseInstance(ctx, *ex.caseInstance); err != nil {
			return err
		}
	}
	for _, key := range ex.order {
		p := ex.planItems[key]
		snapshot, existing := ex.piiSnapshots[key]
		if !existing || !maps.Equal(snapshot, p.GetPersistentState()) {
			if err := batch.SavePlanItemInstance(ctx, *p); err != nil {
				return err
			}
		}
	}
	for _, part := range ex.newParts {
		if err := batch.SaveSentryPartInstance(ctx, *part); err != nil {
			return err
		}
	}
	for _, part := range ex.deletedParts {
		if err := batch.DeleteSentryPartInstance(ctx, part.Key); err != nil {
			return err
		}
	}
	for _, milestone := range ex.newMilestones {
		if err := batch.SaveMilestoneInstance(ctx, milestone); err != nil {
			return err
		}
	}
	taskKeys := slices.Sorted(maps.Keys(ex.dirtyTasks))
	for _, key := range taskKeys {
		if err := batch.SaveHumanTask(ctx, *ex.tasks[key]); err != nil {
			return err
		}
	}
	for _, change := range ex.variableWrites {
		var err error
		if change.Op == runtime.VariableRemoved {
			err = batch.DeleteVariable(ctx, change.Instance.Key)
		} else {
			err = batch.SaveVariable(ctx, *change.Instance)
		}
		if err != nil {
			return err
		}
	}

	if err := batch.Flush(ctx); err != nil {
		return fmt.Errorf("failed to persist case instance %d: %w", ex.caseInstance.Key, err)
	}

	ex.caseInstance.VariableScope.ClearTransientVariables()
	for _, key := range ex.order {
		if p := ex.planItems[key]; p != nil {
			p.LocalScope.ClearTransientVariables()
		}
	}
	return nil
}
