// Package cmmn provides the CMMN case execution engine: deployment of case
// models, case instance runtime with the plan item lifecycle state machine,
// sentry evaluation and hierarchical case variables.
package cmmn

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/history"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
	zenotel "github.com/pbinitiative/zencmmn/pkg/otel"
	"github.com/pbinitiative/zencmmn/pkg/script"
	"github.com/pbinitiative/zencmmn/pkg/script/feel"
	"github.com/pbinitiative/zencmmn/pkg/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const definitionCacheSize = 128

// defaultMaxEvaluationPasses bounds the fixed-point evaluation of a single
// command. See Engine.maxEvaluationPasses.
const defaultMaxEvaluationPasses = 100

type Engine struct {
	name              string
	persistence       storage.Storage
	snowflake         *snowflake.Node
	logger            hclog.Logger
	expressionRuntime script.ExpressionRuntime
	planItemListeners []PlanItemInstanceLifecycleListener
	caseListeners     []CaseInstanceLifecycleListener
	history           history.Recorder
	varTypes          *runtime.VariableTypeRegistry
	definitionCache   *lru.Cache[int64, runtime.CaseDefinition]
	metrics           *zenotel.EngineMetrics
	tracer            trace.Tracer
	now               func() time.Time
	validate          *validator.Validate

	// maxEvaluationPasses turns a case model or listener that keeps
	// producing changes into a hard error instead of a hung command.
	maxEvaluationPasses int
}

type EngineOption func(*Engine)

// EngineWithStorage sets the persistence of the engine. Mandatory.
func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.persistence = persistence
	}
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// EngineWithExpressionRuntime replaces the default FEEL runtime, e.g. with
// the goja based JavaScript runtime from pkg/script/js.
func EngineWithExpressionRuntime(rt script.ExpressionRuntime) EngineOption {
	return func(engine *Engine) {
		engine.expressionRuntime = rt
	}
}

func EngineWithHistoryRecorder(recorder history.Recorder) EngineOption {
	return func(engine *Engine) {
		engine.history = recorder
	}
}

// EngineWithPlanItemLifecycleListener registers a listener; the option can be
// used multiple times, listeners fire in registration order.
func EngineWithPlanItemLifecycleListener(listener PlanItemInstanceLifecycleListener) EngineOption {
	return func(engine *Engine) {
		engine.planItemListeners = append(engine.planItemListeners, listener)
	}
}

func EngineWithCaseLifecycleListener(listener CaseInstanceLifecycleListener) EngineOption {
	return func(engine *Engine) {
		engine.caseListeners = append(engine.caseListeners, listener)
	}
}

// EngineWithClock overrides the time source, used by tests that assert on
// timestamps.
func EngineWithClock(now func() time.Time) EngineOption {
	return func(engine *Engine) {
		engine.now = now
	}
}

func EngineWithMaxEvaluationPasses(passes int) EngineOption {
	return func(engine *Engine) {
		engine.maxEvaluationPasses = passes
	}
}

// EngineWithVariableTypes replaces the default variable type registry.
func EngineWithVariableTypes(registry *runtime.VariableTypeRegistry) EngineOption {
	return func(engine *Engine) {
		engine.varTypes = registry
	}
}

// NewEngine creates a case engine. At least EngineWithStorage must be
// provided; every other collaborator has a default.
func NewEngine(options ...EngineOption) Engine {
	cache, _ := lru.New[int64, runtime.CaseDefinition](definitionCacheSize)
	engine := Engine{
		name:                fmt.Sprintf("zencmmn-%s", uuid.NewString()[:8]),
		snowflake:           getGlobalSnowflakeIdGenerator(),
		logger:              hclog.Default().Named("cmmn-engine"),
		expressionRuntime:   feel.NewFeelRuntime(),
		history:             history.NoopRecorder{},
		varTypes:            runtime.NewDefaultVariableTypeRegistry(),
		definitionCache:     cache,
		tracer:              otel.Tracer("zencmmn-engine"),
		now:                 time.Now,
		validate:            validator.New(validator.WithRequiredStructEnabled()),
		maxEvaluationPasses: defaultMaxEvaluationPasses,
	}
	for _, option := range options {
		option(&engine)
	}
	metrics, err := zenotel.NewMetrics(otel.Meter("zencmmn-engine"))
	if err != nil {
		engine.logger.Warn("failed to register engine metrics", "error", err)
	}
	engine.metrics = metrics
	return engine
}

// Name returns the identifier of this engine instance, recorded as the lock
// owner on case instances it writes.
func (engine *Engine) Name() string {
	return engine.name
}

// DeployCaseDefinition validates and persists a case model. The version is
// one above the latest deployed version of the same case id and tenant.
func (engine *Engine) DeployCaseDefinition(ctx context.Context, model *cmmn11.TDefinitions, tenantId string) (*runtime.CaseDefinition, error) {
	ctx, span := engine.tracer.Start(ctx, "deploy-case-definition")
	defer span.End()

	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid case model %s: %w", model.Case.Id, err)
	}

	existing, err := engine.persistence.FindCaseDefinitionsById(ctx, model.Case.Id, tenantId)
	if err != nil {
		return nil, fmt.Errorf("failed to look up deployed versions of case %s: %w", model.Case.Id, err)
	}
	version := int32(1)
	if len(existing) > 0 {
		version = existing[len(existing)-1].Version + 1
	}

	definition := runtime.CaseDefinition{
		Id:           model.Case.Id,
		Version:      version,
		Key:          engine.generateKey(),
		TenantId:     tenantId,
		DeploymentId: uuid.NewString(),
		Model:        *model,
	}
	if err := engine.persistence.SaveCaseDefinition(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to persist case definition %s: %w", definition.Id, err)
	}
	engine.definitionCache.Add(definition.Key, definition)
	engine.logger.Info("deployed case definition",
		"id", definition.Id, "version", definition.Version, "key", definition.Key)
	return &definition, nil
}

func (engine *Engine) resolveCaseDefinitionByKey(ctx context.Context, caseDefinitionKey int64) (runtime.CaseDefinition, error) {
	if definition, ok := engine.definitionCache.Get(caseDefinitionKey); ok {
		return definition, nil
	}
	definition, err := engine.persistence.FindCaseDefinitionByKey(ctx, caseDefinitionKey)
	if err != nil {
		return definition, fmt.Errorf("failed to load case definition %d: %w", caseDefinitionKey, err)
	}
	engine.definitionCache.Add(definition.Key, definition)
	return definition, nil
}
