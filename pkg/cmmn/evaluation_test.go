package cmmn

import (
	"testing"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCriteriaIsIdempotent(t *testing.T) {
	model := caseModel("idempotent-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{
				planItem("pi-a", "taskA"),
				{
					TCmmnElement:  cmmn11.TCmmnElement{Id: "pi-b"},
					DefinitionRef: "taskB",
					EntryCriteria: []string{"sentry-b"},
				},
			},
			HumanTasks: []cmmn11.THumanTask{
				humanTaskDef("taskA", "Task A"),
				humanTaskDef("taskB", "Task B"),
			},
			Sentries: []cmmn11.TSentry{onPartSentry("sentry-b", "pi-a", cmmn11.TransitionEventComplete)},
		},
	})

	ci := deployAndStart(t, model, nil)

	before, err := caseEngine.GetPlanItemInstances(t.Context(), ci.Key)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, caseEngine.EvaluateCriteria(t.Context(), ci.Key))
	}

	// repeated evaluation without new facts changes no state and writes
	// nothing, so the revisions stay put as well
	after, err := caseEngine.GetPlanItemInstances(t.Context(), ci.Key)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].State, after[i].State)
		assert.Equal(t, before[i].Revision, after[i].Revision)
	}
}

func TestListenerAvailableConditionTracksVariable(t *testing.T) {
	model := caseModel("listener-condition-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{
				planItem("pi-a", "taskA"),
				planItem("pi-cancel", "cancelListener"),
			},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
			UserEventListeners: []cmmn11.TUserEventListener{{
				TCmmnElement:       cmmn11.TCmmnElement{Id: "cancelListener", Name: "Cancel"},
				AvailableCondition: "=cancellable",
			}},
		},
	})

	ci := deployAndStart(t, model, map[string]any{"cancellable": false})
	assert.Equal(t, runtime.PlanItemStateUnavailable, findInstance(t, ci.Key, "pi-cancel").State)

	require.NoError(t, caseEngine.SetVariables(t.Context(), ci.Key, map[string]any{"cancellable": true}))
	assert.Equal(t, runtime.PlanItemStateAvailable, findInstance(t, ci.Key, "pi-cancel").State)

	// the condition is re-checked while the listener waits, so it can flip back
	require.NoError(t, caseEngine.SetVariables(t.Context(), ci.Key, map[string]any{"cancellable": false}))
	assert.Equal(t, runtime.PlanItemStateUnavailable, findInstance(t, ci.Key, "pi-cancel").State)
}

func TestOccurListenerGatedOnStageCompletable(t *testing.T) {
	model := caseModel("completable-listener-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{planItem("pi-stage", "stageS")},
			Stages: []cmmn11.TStage{{
				TCmmnElement: cmmn11.TCmmnElement{Id: "stageS"},
				TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
					PlanItems: []cmmn11.TPlanItem{
						planItem("pi-work", "workTask"),
						planItem("pi-confirm", "confirmListener"),
					},
					HumanTasks: []cmmn11.THumanTask{humanTaskDef("workTask", "Work")},
					UserEventListeners: []cmmn11.TUserEventListener{{
						TCmmnElement:       cmmn11.TCmmnElement{Id: "confirmListener", Name: "Confirm"},
						AvailableCondition: "=isStageCompletable()",
					}},
				},
			}},
		},
	})

	ci := deployAndStart(t, model, nil)

	// the work task is still active, so the confirm listener is gated
	assert.Equal(t, runtime.PlanItemStateUnavailable, findInstance(t, ci.Key, "pi-confirm").State)
	err := caseEngine.OccurEventListener(t.Context(), findInstance(t, ci.Key, "pi-confirm").Key)
	assert.ErrorIs(t, err, ErrIllegalState)

	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), openTask(t, ci.Key, "workTask").Key, nil))

	confirm := findInstance(t, ci.Key, "pi-confirm")
	assert.Equal(t, runtime.PlanItemStateAvailable, confirm.State)
	assert.Equal(t, runtime.PlanItemStateActive, findInstance(t, ci.Key, "pi-stage").State)

	require.NoError(t, caseEngine.OccurEventListener(t.Context(), confirm.Key))

	assert.Equal(t, runtime.PlanItemStateCompleted, findInstance(t, ci.Key, "pi-confirm").State)
	assert.Equal(t, runtime.PlanItemStateCompleted, findInstance(t, ci.Key, "pi-stage").State)
	assert.Equal(t, runtime.CaseStateCompleted, caseState(t, ci.Key))
}

func TestEvaluationPassBudgetFailsUnstableModel(t *testing.T) {
	model := caseModel("unstable-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{
				planItem("pi-a", "taskA"),
				planItem("pi-toggle", "toggleListener"),
			},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("taskA", "Task A")},
			UserEventListeners: []cmmn11.TUserEventListener{{
				TCmmnElement:       cmmn11.TCmmnElement{Id: "toggleListener", Name: "Toggle"},
				AvailableCondition: "=open",
			}},
		},
	})

	// flips the condition variable whenever the listener item changes state,
	// so every pass undoes the previous one and no fixed point exists
	flipping := &recordingListener{
		itemTypes: []cmmn11.ElementType{cmmn11.ElementTypeUserEventListener},
		onChange: func(instance *runtime.PlanItemInstance, oldState, _ runtime.PlanItemState) error {
			if oldState == "" {
				return nil
			}
			open, err := instance.LocalScope.GetVariable("open")
			if err != nil {
				return err
			}
			return instance.LocalScope.SetVariable("open", open != true)
		},
	}
	engine := NewEngine(
		EngineWithStorage(engineStorage),
		EngineWithPlanItemLifecycleListener(flipping),
		EngineWithMaxEvaluationPasses(10),
	)

	definition, err := engine.DeployCaseDefinition(t.Context(), model, "")
	require.NoError(t, err)

	_, err = engine.CreateCaseInstance(t.Context(), CreateCaseInstanceRequest{
		CaseDefinitionKey: definition.Key,
		Variables:         map[string]any{"open": true},
	})

	// the budget turns the oscillation into a hard error naming the instance
	var engineErr *CmmnEngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Regexp(t, `case instance \d+ did not reach a fixed point within 10 passes`, engineErr.Msg)
	for _, instance := range engineStorage.CaseInstances {
		assert.NotEqual(t, definition.Key, instance.CaseDefinitionKey)
	}
}
