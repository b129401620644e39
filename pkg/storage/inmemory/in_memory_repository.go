package inmemory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
	"github.com/pbinitiative/zencmmn/pkg/storage"
)

// Storage keeps case runtime state in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	mu sync.RWMutex

	CaseDefinitions     map[int64]runtime.CaseDefinition
	CaseInstances       map[int64]runtime.CaseInstance
	PlanItemInstances   map[int64]runtime.PlanItemInstance
	SentryPartInstances map[int64]runtime.SentryPartInstance
	MilestoneInstances  map[int64]runtime.MilestoneInstance
	HumanTasks          map[int64]runtime.HumanTask
	Variables           map[int64]runtime.VariableInstance
}

func NewStorage() *Storage {
	return &Storage{
		CaseDefinitions:     make(map[int64]runtime.CaseDefinition),
		CaseInstances:       make(map[int64]runtime.CaseInstance),
		PlanItemInstances:   make(map[int64]runtime.PlanItemInstance),
		SentryPartInstances: make(map[int64]runtime.SentryPartInstance),
		MilestoneInstances:  make(map[int64]runtime.MilestoneInstance),
		HumanTasks:          make(map[int64]runtime.HumanTask),
		Variables:           make(map[int64]runtime.VariableInstance),
	}
}

var _ storage.Storage = &Storage{}

func (mem *Storage) NewBatch() storage.Batch {
	return &StorageBatch{
		db:        mem,
		stmtToRun: make([]func() error, 0, 10),
	}
}

var _ storage.CaseDefinitionStorageReader = &Storage{}

func (mem *Storage) FindLatestCaseDefinitionById(ctx context.Context, caseDefinitionId string, tenantId string) (runtime.CaseDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	var res runtime.CaseDefinition
	found := false
	for _, def := range mem.CaseDefinitions {
		if def.Id != caseDefinitionId || def.TenantId != tenantId {
			continue
		}
		if found && def.Version < res.Version {
			continue
		}
		found = true
		res = def
	}
	if !found {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindCaseDefinitionByKey(ctx context.Context, caseDefinitionKey int64) (runtime.CaseDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.CaseDefinitions[caseDefinitionKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindCaseDefinitionsById(ctx context.Context, caseDefinitionId string, tenantId string) ([]runtime.CaseDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.CaseDefinition, 0)
	for _, def := range mem.CaseDefinitions {
		if def.Id != caseDefinitionId || def.TenantId != tenantId {
			continue
		}
		res = append(res, def)
	}
	slices.SortFunc(res, func(a, b runtime.CaseDefinition) int {
		return int(a.Version - b.Version)
	})
	return res, nil
}

var _ storage.CaseDefinitionStorageWriter = &Storage{}

func (mem *Storage) SaveCaseDefinition(ctx context.Context, definition runtime.CaseDefinition) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.CaseDefinitions[definition.Key] = definition
	return nil
}

var _ storage.CaseInstanceStorageReader = &Storage{}

func (mem *Storage) FindCaseInstanceByKey(ctx context.Context, caseInstanceKey int64) (runtime.CaseInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.CaseInstances[caseInstanceKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

var _ storage.CaseInstanceStorageWriter = &Storage{}

func (mem *Storage) SaveCaseInstance(ctx context.Context, caseInstance runtime.CaseInstance) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if existing, ok := mem.CaseInstances[caseInstance.Key]; ok && existing.Revision != caseInstance.Revision {
		return storage.ErrOptimisticLock
	}
	caseInstance.Revision++
	mem.CaseInstances[caseInstance.Key] = caseInstance
	return nil
}

func (mem *Storage) DeleteCaseInstance(ctx context.Context, caseInstanceKey int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.CaseInstances, caseInstanceKey)
	return nil
}

var _ storage.PlanItemInstanceStorageReader = &Storage{}

func (mem *Storage) FindPlanItemInstanceByKey(ctx context.Context, planItemInstanceKey int64) (runtime.PlanItemInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.PlanItemInstances[planItemInstanceKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindCaseInstancePlanItemInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.PlanItemInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.PlanItemInstance, 0)
	for _, pii := range mem.PlanItemInstances {
		if pii.CaseInstanceKey != caseInstanceKey {
			continue
		}
		res = append(res, pii)
	}
	sortByKey(res, func(p runtime.PlanItemInstance) int64 { return p.Key })
	return res, nil
}

func (mem *Storage) FindChildPlanItemInstances(ctx context.Context, stageInstanceKey int64) ([]runtime.PlanItemInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.PlanItemInstance, 0)
	for _, pii := range mem.PlanItemInstances {
		if pii.StageInstanceKey != stageInstanceKey {
			continue
		}
		res = append(res, pii)
	}
	sortByKey(res, func(p runtime.PlanItemInstance) int64 { return p.Key })
	return res, nil
}

var _ storage.PlanItemInstanceStorageWriter = &Storage{}

func (mem *Storage) SavePlanItemInstance(ctx context.Context, instance runtime.PlanItemInstance) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if existing, ok := mem.PlanItemInstances[instance.Key]; ok && existing.Revision != instance.Revision {
		return storage.ErrOptimisticLock
	}
	instance.Revision++
	mem.PlanItemInstances[instance.Key] = instance
	return nil
}

func (mem *Storage) DeletePlanItemInstance(ctx context.Context, planItemInstanceKey int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.PlanItemInstances, planItemInstanceKey)
	return nil
}

var _ storage.SentryPartInstanceStorageReader = &Storage{}

func (mem *Storage) FindSentryPartInstances(ctx context.Context, caseInstanceKey int64, planItemInstanceKey int64) ([]runtime.SentryPartInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.SentryPartInstance, 0)
	for _, part := range mem.SentryPartInstances {
		if part.CaseInstanceKey != caseInstanceKey {
			continue
		}
		if part.PlanItemInstanceKey != planItemInstanceKey {
			continue
		}
		res = append(res, part)
	}
	sortByKey(res, func(p runtime.SentryPartInstance) int64 { return p.Key })
	return res, nil
}

func (mem *Storage) FindCaseInstanceSentryPartInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.SentryPartInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.SentryPartInstance, 0)
	for _, part := range mem.SentryPartInstances {
		if part.CaseInstanceKey != caseInstanceKey {
			continue
		}
		res = append(res, part)
	}
	sortByKey(res, func(p runtime.SentryPartInstance) int64 { return p.Key })
	return res, nil
}

var _ storage.SentryPartInstanceStorageWriter = &Storage{}

func (mem *Storage) SaveSentryPartInstance(ctx context.Context, part runtime.SentryPartInstance) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.SentryPartInstances[part.Key] = part
	return nil
}

func (mem *Storage) DeleteSentryPartInstance(ctx context.Context, partKey int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.SentryPartInstances, partKey)
	return nil
}

var _ storage.MilestoneInstanceStorageReader = &Storage{}

func (mem *Storage) FindCaseInstanceMilestoneInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.MilestoneInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.MilestoneInstance, 0)
	for _, mi := range mem.MilestoneInstances {
		if mi.CaseInstanceKey != caseInstanceKey {
			continue
		}
		res = append(res, mi)
	}
	sortByKey(res, func(m runtime.MilestoneInstance) int64 { return m.Key })
	return res, nil
}

var _ storage.MilestoneInstanceStorageWriter = &Storage{}

func (mem *Storage) SaveMilestoneInstance(ctx context.Context, milestone runtime.MilestoneInstance) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.MilestoneInstances[milestone.Key] = milestone
	return nil
}

var _ storage.HumanTaskStorageReader = &Storage{}

func (mem *Storage) FindHumanTaskByKey(ctx context.Context, taskKey int64) (runtime.HumanTask, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.HumanTasks[taskKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindCaseInstanceHumanTasks(ctx context.Context, caseInstanceKey int64) ([]runtime.HumanTask, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.HumanTask, 0)
	for _, task := range mem.HumanTasks {
		if task.CaseInstanceKey != caseInstanceKey {
			continue
		}
		res = append(res, task)
	}
	sortByKey(res, func(t runtime.HumanTask) int64 { return t.Key })
	return res, nil
}

var _ storage.HumanTaskStorageWriter = &Storage{}

func (mem *Storage) SaveHumanTask(ctx context.Context, task runtime.HumanTask) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.HumanTasks[task.Key] = task
	return nil
}

var _ storage.VariableStorageReader = &Storage{}

func (mem *Storage) FindScopeVariables(ctx context.Context, caseInstanceKey int64, scopeKey int64) ([]runtime.VariableInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.VariableInstance, 0)
	for _, v := range mem.Variables {
		if v.CaseInstanceKey != caseInstanceKey {
			continue
		}
		if v.ScopeKey != scopeKey {
			continue
		}
		res = append(res, v)
	}
	sortByKey(res, func(v runtime.VariableInstance) int64 { return v.Key })
	return res, nil
}

var _ storage.VariableStorageWriter = &Storage{}

func (mem *Storage) SaveVariable(ctx context.Context, variable runtime.VariableInstance) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.Variables[variable.Key] = variable
	return nil
}

func (mem *Storage) DeleteVariable(ctx context.Context, variableKey int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.Variables, variableKey)
	return nil
}

func sortByKey[E any](entities []E, key func(E) int64) {
	slices.SortFunc(entities, func(a, b E) int {
		switch {
		case key(a) < key(b):
			return -1
		case key(a) > key(b):
			return 1
		}
		return 0
	})
}

type StorageBatch struct {
	db        *Storage
	stmtToRun []func() error
}

var _ storage.Batch = &StorageBatch{}

// Flush runs the collected statements. All statements are attempted; the
// joined error is returned when any of them failed.
func (b *StorageBatch) Flush(ctx context.Context) error {
	var joinErr error
	for _, stmt := range b.stmtToRun {
		err := stmt()
		if err != nil {
			joinErr = errors.Join(joinErr, err)
		}
	}
	if joinErr != nil {
		return joinErr
	}
	b.stmtToRun = make([]func() error, 0)
	return nil
}

var _ storage.CaseDefinitionStorageWriter = &StorageBatch{}

func (b *StorageBatch) SaveCaseDefinition(ctx context.Context, definition runtime.CaseDefinition) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveCaseDefinition(ctx, definition)
	})
	return nil
}

var _ storage.CaseInstanceStorageWriter = &StorageBatch{}

func (b *StorageBatch) SaveCaseInstance(ctx context.Context, caseInstance runtime.CaseInstance) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveCaseInstance(ctx, caseInstance)
	})
	return nil
}

func (b *StorageBatch) DeleteCaseInstance(ctx context.Context, caseInstanceKey int64) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.DeleteCaseInstance(ctx, caseInstanceKey)
	})
	return nil
}

var _ storage.PlanItemInstanceStorageWriter = &StorageBatch{}

func (b *StorageBatch) SavePlanItemInstance(ctx context.Context, instance runtime.PlanItemInstance) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SavePlanItemInstance(ctx, instance)
	})
	return nil
}

func (b *StorageBatch) DeletePlanItemInstance(ctx context.Context, planItemInstanceKey int64) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.DeletePlanItemInstance(ctx, planItemInstanceKey)
	})
	return nil
}

var _ storage.SentryPartInstanceStorageWriter = &StorageBatch{}

func (b *StorageBatch) SaveSentryPartInstance(ctx context.Context, part runtime.SentryPartInstance) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveSentryPartInstance(ctx, part)
	})
	return nil
}

func (b *StorageBatch) DeleteSentryPartInstance(ctx context.Context, partKey int64) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.DeleteSentryPartInstance(ctx, partKey)
	})
	return nil
}

var _ storage.MilestoneInstanceStorageWriter = &StorageBatch{}

func (b *StorageBatch) SaveMilestoneInstance(ctx context.Context, milestone runtime.MilestoneInstance) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveMilestoneInstance(ctx, milestone)
	})
	return nil
}

var _ storage.HumanTaskStorageWriter = &StorageBatch{}

func (b *StorageBatch) SaveHumanTask(ctx context.Context, task runtime.HumanTask) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveHumanTask(ctx, task)
	})
	return nil
}

var _ storage.VariableStorageWriter = &StorageBatch{}

func (b *StorageBatch) SaveVariable(ctx context.Context, variable runtime.VariableInstance) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveVariable(ctx, variable)
	})
	return nil
}

func (b *StorageBatch) DeleteVariable(ctx context.Context, variableKey int64) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.DeleteVariable(ctx, variableKey)
	})
	return nil
}
