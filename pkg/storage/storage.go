package storage

import (
	"context"
	"errors"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// ErrNotFound is returned by find methods that expect exactly one match
// when the entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrOptimisticLock is returned by save methods when the stored revision of
// the entity no longer matches the revision the caller read. The whole
// command must be retried by the caller.
var ErrOptimisticLock = errors.New("optimistic lock failure, entity was modified concurrently")

// Storage is the persistence collaborator of the CMMN engine.
//
// Methods that are expected to return exactly one match MUST return
// ErrNotFound when the result does not exist.
type Storage interface {
	CaseDefinitionStorageReader
	CaseDefinitionStorageWriter
	CaseInstanceStorageReader
	CaseInstanceStorageWriter
	PlanItemInstanceStorageReader
	PlanItemInstanceStorageWriter
	SentryPartInstanceStorageReader
	SentryPartInstanceStorageWriter
	MilestoneInstanceStorageReader
	MilestoneInstanceStorageWriter
	HumanTaskStorageReader
	HumanTaskStorageWriter
	VariableStorageReader
	VariableStorageWriter

	NewBatch() Batch
}

// Batch collects writes of one unit of work. Nothing is visible to readers
// until Flush; Flush attempts every statement and joins the errors of the
// failed ones, so statements that did not fail stay applied.
type Batch interface {
	CaseDefinitionStorageWriter
	CaseInstanceStorageWriter
	PlanItemInstanceStorageWriter
	SentryPartInstanceStorageWriter
	MilestoneInstanceStorageWriter
	HumanTaskStorageWriter
	VariableStorageWriter

	// Flush writes the batch into the storage and prepares the batch for
	// new statements.
	Flush(ctx context.Context) error
}

type CaseDefinitionStorageReader interface {
	// FindLatestCaseDefinitionById returns the highest deployed version for
	// the given case model id and tenant.
	FindLatestCaseDefinitionById(ctx context.Context, caseDefinitionId string, tenantId string) (runtime.CaseDefinition, error)

	FindCaseDefinitionByKey(ctx context.Context, caseDefinitionKey int64) (runtime.CaseDefinition, error)

	// FindCaseDefinitionsById returns zero or many deployed definitions with
	// the given id, ordered by version from 1 (first) to latest (last).
	FindCaseDefinitionsById(ctx context.Context, caseDefinitionId string, tenantId string) ([]runtime.CaseDefinition, error)
}

type CaseDefinitionStorageWriter interface {
	// SaveCaseDefinition persists a CaseDefinition and potentially
	// overwrites prior data stored with the given key.
	SaveCaseDefinition(ctx context.Context, definition runtime.CaseDefinition) error
}

type CaseInstanceStorageReader interface {
	FindCaseInstanceByKey(ctx context.Context, caseInstanceKey int64) (runtime.CaseInstance, error)
}

type CaseInstanceStorageWriter interface {
	// SaveCaseInstance persists the instance. Implementations check the
	// revision field and fail with ErrOptimisticLock on a concurrent write.
	SaveCaseInstance(ctx context.Context, caseInstance runtime.CaseInstance) error

	DeleteCaseInstance(ctx context.Context, caseInstanceKey int64) error
}

type PlanItemInstanceStorageReader interface {
	FindPlanItemInstanceByKey(ctx context.Context, planItemInstanceKey int64) (runtime.PlanItemInstance, error)

	// FindCaseInstancePlanItemInstances returns every plan item instance of
	// the case instance, root-level and nested.
	FindCaseInstancePlanItemInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.PlanItemInstance, error)

	// FindChildPlanItemInstances returns the direct children of one stage
	// plan item instance.
	FindChildPlanItemInstances(ctx context.Context, stageInstanceKey int64) ([]runtime.PlanItemInstance, error)
}

type PlanItemInstanceStorageWriter interface {
	// SavePlanItemInstance persists the instance, checking its revision the
	// same way SaveCaseInstance does.
	SavePlanItemInstance(ctx context.Context, instance runtime.PlanItemInstance) error

	DeletePlanItemInstance(ctx context.Context, planItemInstanceKey int64) error
}

type SentryPartInstanceStorageReader interface {
	// FindSentryPartInstances returns the satisfied on-part records scoped
	// to the case instance (planItemInstanceKey zero) or to one plan item
	// instance.
	FindSentryPartInstances(ctx context.Context, caseInstanceKey int64, planItemInstanceKey int64) ([]runtime.SentryPartInstance, error)

	FindCaseInstanceSentryPartInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.SentryPartInstance, error)
}

type SentryPartInstanceStorageWriter interface {
	SaveSentryPartInstance(ctx context.Context, part runtime.SentryPartInstance) error

	// DeleteSentryPartInstance removes a consumed or orphaned record.
	// Deleting an already deleted record is not an error.
	DeleteSentryPartInstance(ctx context.Context, partKey int64) error
}

type MilestoneInstanceStorageReader interface {
	FindCaseInstanceMilestoneInstances(ctx context.Context, caseInstanceKey int64) ([]runtime.MilestoneInstance, error)
}

type MilestoneInstanceStorageWriter interface {
	SaveMilestoneInstance(ctx context.Context, milestone runtime.MilestoneInstance) error
}

type HumanTaskStorageReader interface {
	FindHumanTaskByKey(ctx context.Context, taskKey int64) (runtime.HumanTask, error)

	FindCaseInstanceHumanTasks(ctx context.Context, caseInstanceKey int64) ([]runtime.HumanTask, error)
}

type HumanTaskStorageWriter interface {
	SaveHumanTask(ctx context.Context, task runtime.HumanTask) error
}

type VariableStorageReader interface {
	// FindScopeVariables returns the persisted variables of one scope;
	// scopeKey is the plan item instance key, or zero for the case scope.
	FindScopeVariables(ctx context.Context, caseInstanceKey int64, scopeKey int64) ([]runtime.VariableInstance, error)
}

type VariableStorageWriter interface {
	SaveVariable(ctx context.Context, variable runtime.VariableInstance) error

	DeleteVariable(ctx context.Context, variableKey int64) error
}
