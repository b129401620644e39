package cmmn

import (
	"os"
	"testing"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
	"github.com/pbinitiative/zencmmn/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var caseEngine Engine
var engineStorage *inmemory.Storage

func TestMain(m *testing.M) {
	engineStorage = inmemory.NewStorage()

	var exitCode int

	defer func() {
		os.Exit(exitCode)
	}()

	caseEngine = NewEngine(EngineWithStorage(engineStorage))

	// Run the tests
	exitCode = m.Run()
}

// model building helpers shared by the engine tests

func caseModel(caseId string, planModel cmmn11.TStage) *cmmn11.TDefinitions {
	planModel.Id = "planModel"
	return &cmmn11.TDefinitions{
		TCmmnElement: cmmn11.TCmmnElement{Id: caseId + "-definitions"},
		Case: cmmn11.TCase{
			TCmmnElement: cmmn11.TCmmnElement{Id: caseId},
			PlanModel:    planModel,
		},
	}
}

func planItem(id string, definitionRef string) cmmn11.TPlanItem {
	return cmmn11.TPlanItem{
		TCmmnElement:  cmmn11.TCmmnElement{Id: id},
		DefinitionRef: definitionRef,
	}
}

func humanTaskDef(id string, name string) cmmn11.THumanTask {
	return cmmn11.THumanTask{
		TCmmnElement: cmmn11.TCmmnElement{Id: id, Name: name},
		Assignee:     "tester",
	}
}

func onPartSentry(id string, sourcePlanItemId string, event string) cmmn11.TSentry {
	return cmmn11.TSentry{
		TCmmnElement: cmmn11.TCmmnElement{Id: id},
		OnParts: []cmmn11.TOnPart{{
			TCmmnElement:     cmmn11.TCmmnElement{Id: id + "-on"},
			SourcePlanItemId: sourcePlanItemId,
			StandardEvent:    event,
		}},
	}
}

func deployAndStart(t *testing.T, model *cmmn11.TDefinitions, variables map[string]any) *runtime.CaseInstance {
	t.Helper()
	definition, err := caseEngine.DeployCaseDefinition(t.Context(), model, "")
	require.NoError(t, err)
	ci, err := caseEngine.CreateCaseInstance(t.Context(), CreateCaseInstanceRequest{
		CaseDefinitionKey: definition.Key,
		Variables:         variables,
	})
	require.NoError(t, err)
	return ci
}

// findInstance returns the latest plan item instance of the element.
func findInstance(t *testing.T, caseInstanceKey int64, elementId string) runtime.PlanItemInstance {
	t.Helper()
	instances, err := caseEngine.GetPlanItemInstances(t.Context(), caseInstanceKey)
	require.NoError(t, err)
	var res runtime.PlanItemInstance
	found := false
	for _, p := range instances {
		if p.ElementId == elementId {
			res = p
			found = true
		}
	}
	require.True(t, found, "no plan item instance for element %s", elementId)
	return res
}

func findInstances(t *testing.T, caseInstanceKey int64, elementId string) []runtime.PlanItemInstance {
	t.Helper()
	instances, err := caseEngine.GetPlanItemInstances(t.Context(), caseInstanceKey)
	require.NoError(t, err)
	res := make([]runtime.PlanItemInstance, 0)
	for _, p := range instances {
		if p.ElementId == elementId {
			res = append(res, p)
		}
	}
	return res
}

// openTask returns the open human task of the element.
func openTask(t *testing.T, caseInstanceKey int64, elementId string) runtime.HumanTask {
	t.Helper()
	tasks, err := caseEngine.GetHumanTasks(t.Context(), caseInstanceKey)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.ElementId == elementId && task.State == runtime.HumanTaskStateCreated {
			return task
		}
	}
	require.FailNow(t, "no open human task", "element %s", elementId)
	return runtime.HumanTask{}
}

func caseState(t *testing.T, caseInstanceKey int64) runtime.CaseState {
	t.Helper()
	ci, err := caseEngine.GetCaseInstance(t.Context(), caseInstanceKey)
	require.NoError(t, err)
	return ci.State
}

func TestDeployCaseDefinitionIncrementsVersion(t *testing.T) {
	model := caseModel("versioned-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems:  []cmmn11.TPlanItem{planItem("pi-a", "taskA")},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
		},
	})

	first, err := caseEngine.DeployCaseDefinition(t.Context(), model, "")
	require.NoError(t, err)
	second, err := caseEngine.DeployCaseDefinition(t.Context(), model, "")
	require.NoError(t, err)

	assert.Equal(t, int32(1), first.Version)
	assert.Equal(t, int32(2), second.Version)
	assert.NotEqual(t, first.Key, second.Key)

	latest, err := engineStorage.FindLatestCaseDefinitionById(t.Context(), "versioned-case", "")
	require.NoError(t, err)
	assert.Equal(t, second.Key, latest.Key)
}

func TestDeployInvalidModelFails(t *testing.T) {
	model := caseModel("broken-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{planItem("pi-a", "missingDefinition")},
		},
	})

	_, err := caseEngine.DeployCaseDefinition(t.Context(), model, "")

	assert.Error(t, err)
}

func TestCreateCaseInstanceRequiresDefinitionReference(t *testing.T) {
	_, err := caseEngine.CreateCaseInstance(t.Context(), CreateCaseInstanceRequest{})

	assert.Error(t, err)
}

func TestHumanTaskRunsToCaseCompletion(t *testing.T) {
	model := caseModel("single-task-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems:  []cmmn11.TPlanItem{planItem("pi-a", "taskA")},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
		},
	})

	ci := deployAndStart(t, model, nil)

	// the task has no entry criteria, it activates right away
	instance := findInstance(t, ci.Key, "pi-a")
	assert.Equal(t, runtime.PlanItemStateActive, instance.State)
	task := openTask(t, ci.Key, "taskA")
	assert.Equal(t, "tester", task.Assignee)
	assert.Equal(t, instance.Key, task.PlanItemInstanceKey)

	err := caseEngine.CompleteHumanTask(t.Context(), task.Key, map[string]any{"outcome": "done"})
	require.NoError(t, err)

	assert.Equal(t, runtime.PlanItemStateCompleted, findInstance(t, ci.Key, "pi-a").State)
	assert.Equal(t, runtime.CaseStateCompleted, caseState(t, ci.Key))

	variables, err := caseEngine.GetVariables(t.Context(), ci.Key)
	require.NoError(t, err)
	assert.Equal(t, "done", variables["outcome"])
}

func TestCompleteHumanTaskOnEndedCaseFails(t *testing.T) {
	model := caseModel("double-complete-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems:  []cmmn11.TPlanItem{planItem("pi-a", "taskA")},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
		},
	})

	ci := deployAndStart(t, model, nil)
	task := openTask(t, ci.Key, "taskA")
	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), task.Key, nil))

	err := caseEngine.CompleteHumanTask(t.Context(), task.Key, nil)

	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestManualActivationLifecycle(t *testing.T) {
	model := caseModel("manual-activation-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{{
				TCmmnElement:  cmmn11.TCmmnElement{Id: "pi-a"},
				DefinitionRef: "taskA",
				ItemControl: cmmn11.TItemControl{
					ManualActivationRule: &cmmn11.TManualActivationRule{},
				},
			}},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
		},
	})

	ci := deployAndStart(t, model, nil)
	instance := findInstance(t, ci.Key, "pi-a")
	assert.Equal(t, runtime.PlanItemStateEnabled, instance.State)

	require.NoError(t, caseEngine.DisablePlanItemInstance(t.Context(), instance.Key))
	assert.Equal(t, runtime.PlanItemStateDisabled, findInstance(t, ci.Key, "pi-a").State)

	require.NoError(t, caseEngine.EnablePlanItemInstance(t.Context(), instance.Key))
	assert.Equal(t, runtime.PlanItemStateEnabled, findInstance(t, ci.Key, "pi-a").State)

	require.NoError(t, caseEngine.StartPlanItemInstance(t.Context(), instance.Key))
	assert.Equal(t, runtime.PlanItemStateActive, findInstance(t, ci.Key, "pi-a").State)

	// starting an already active instance is rejected
	err := caseEngine.StartPlanItemInstance(t.Context(), instance.Key)
	assert.ErrorIs(t, err, ErrIllegalState)

	task := openTask(t, ci.Key, "taskA")
	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), task.Key, nil))
	assert.Equal(t, runtime.CaseStateCompleted, caseState(t, ci.Key))
}

func TestTerminateCaseInstance(t *testing.T) {
	model := caseModel("terminate-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems:  []cmmn11.TPlanItem{planItem("pi-a", "taskA")},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
		},
	})

	ci := deployAndStart(t, model, nil)
	task := openTask(t, ci.Key, "taskA")

	require.NoError(t, caseEngine.TerminateCaseInstance(t.Context(), ci.Key))

	assert.Equal(t, runtime.CaseStateTerminated, caseState(t, ci.Key))
	assert.Equal(t, runtime.PlanItemStateTerminated, findInstance(t, ci.Key, "pi-a").State)

	tasks, err := caseEngine.GetHumanTasks(t.Context(), ci.Key)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.Key, tasks[0].Key)
	assert.Equal(t, runtime.HumanTaskStateTerminated, tasks[0].State)

	// a second terminate hits an already ended case
	err = caseEngine.TerminateCaseInstance(t.Context(), ci.Key)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestMilestoneOccursWhenEntrySentryFires(t *testing.T) {
	model := caseModel("milestone-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{
				planItem("pi-a", "taskA"),
				{
					TCmmnElement:  cmmn11.TCmmnElement{Id: "pi-m"},
					DefinitionRef: "milestoneM",
					EntryCriteria: []string{"sentry-m"},
				},
			},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
			Milestones: []cmmn11.TMilestone{{TCmmnElement: cmmn11.TCmmnElement{Id: "milestoneM", Name: "Approved"}}},
			Sentries:   []cmmn11.TSentry{onPartSentry("sentry-m", "pi-a", cmmn11.TransitionEventComplete)},
		},
	})

	ci := deployAndStart(t, model, nil)
	assert.Equal(t, runtime.PlanItemStateAvailable, findInstance(t, ci.Key, "pi-m").State)

	task := openTask(t, ci.Key, "taskA")
	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), task.Key, nil))

	assert.Equal(t, runtime.PlanItemStateCompleted, findInstance(t, ci.Key, "pi-m").State)
	assert.Equal(t, runtime.CaseStateCompleted, caseState(t, ci.Key))

	milestones, err := caseEngine.GetMilestoneInstances(t.Context(), ci.Key)
	require.NoError(t, err)
	require.Len(t, milestones, 1)
	assert.Equal(t, "Approved", milestones[0].Name)
}

func TestInitiatorVariableIsSet(t *testing.T) {
	model := caseModel("initiator-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems:  []cmmn11.TPlanItem{planItem("pi-a", "taskA")},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
		},
	})
	model.Case.InitiatorVariableName = "initiator"

	definition, err := caseEngine.DeployCaseDefinition(t.Context(), model, "")
	require.NoError(t, err)
	ci, err := caseEngine.CreateCaseInstance(t.Context(), CreateCaseInstanceRequest{
		CaseDefinitionKey: definition.Key,
		StartUserId:       "alice",
	})
	require.NoError(t, err)

	variables, err := caseEngine.GetVariables(t.Context(), ci.Key)
	require.NoError(t, err)
	assert.Equal(t, "alice", variables["initiator"])
}

func TestPlanItemNameExpression(t *testing.T) {
	task := humanTaskDef("taskA", "Task A")
	model := caseModel("name-expression-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{{
				TCmmnElement:  cmmn11.TCmmnElement{Id: "pi-a", Name: "=applicant"},
				DefinitionRef: "taskA",
			}},
			HumanTasks: []cmmn11.THumanTask{task},
		},
	})

	ci := deployAndStart(t, model, map[string]any{"applicant": "bob"})

	assert.Equal(t, "bob", findInstance(t, ci.Key, "pi-a").Name)
}

func TestCommitStampsWritingEngine(t *testing.T) {
	ci := deployAndStart(t, twoTaskModel("lock-owner-case"), nil)

	stored, err := caseEngine.GetCaseInstance(t.Context(), ci.Key)
	require.NoError(t, err)
	assert.Equal(t, caseEngine.Name(), stored.LockOwner)
	assert.False(t, stored.LockTime.IsZero())
}
