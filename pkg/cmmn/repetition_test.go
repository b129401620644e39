package cmmn

import (
	"testing"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionRepetitionRunsOncePerElement(t *testing.T) {
	model := caseModel("collection-repetition-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{{
				TCmmnElement:  cmmn11.TCmmnElement{Id: "pi-approve"},
				DefinitionRef: "approveTask",
				ItemControl: cmmn11.TItemControl{
					RepetitionRule: &cmmn11.TRepetitionRule{
						CollectionVariableName: "items",
						ElementVariableName:    "item",
					},
				},
			}},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("approveTask", "Approve")},
		},
	})

	ci := deployAndStart(t, model, map[string]any{"items": []any{"first", "second"}})

	// the first repetition is active with the first element bound locally
	first := findInstance(t, ci.Key, "pi-approve")
	assert.Equal(t, runtime.PlanItemStateActive, first.State)
	assert.Equal(t, 1, first.RepetitionCounter)
	variables, err := engineStorage.FindScopeVariables(t.Context(), ci.Key, first.Key)
	require.NoError(t, err)
	assert.Len(t, variables, 2) // item and repetitionCounter

	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), openTask(t, ci.Key, "approveTask").Key, nil))

	second := findInstance(t, ci.Key, "pi-approve")
	assert.Equal(t, runtime.PlanItemStateActive, second.State)
	assert.Equal(t, 2, second.RepetitionCounter)

	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), openTask(t, ci.Key, "approveTask").Key, nil))

	// two completed repetitions plus the exhausted placeholder
	instances := findInstances(t, ci.Key, "pi-approve")
	require.Len(t, instances, 3)
	assert.Equal(t, runtime.PlanItemStateCompleted, instances[0].State)
	assert.Equal(t, runtime.PlanItemStateCompleted, instances[1].State)
	assert.Equal(t, runtime.PlanItemStateTerminated, instances[2].State)
	assert.Equal(t, 3, instances[2].RepetitionCounter)
	assert.Equal(t, runtime.CaseStateCompleted, caseState(t, ci.Key))
}

func TestConditionRepetitionStopsWhenConditionFails(t *testing.T) {
	model := caseModel("condition-repetition-case", cmmn11.TStage{
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{{
				TCmmnElement:  cmmn11.TCmmnElement{Id: "pi-remind"},
				DefinitionRef: "remindTask",
				ItemControl: cmmn11.TItemControl{
					RepetitionRule: &cmmn11.TRepetitionRule{
						Condition: "=repetitionCounter <= 2",
					},
				},
			}},
			HumanTasks: []cmmn11.THumanTask{humanTaskDef("remindTask", "Remind")},
		},
	})

	ci := deployAndStart(t, model, nil)

	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), openTask(t, ci.Key, "remindTask").Key, nil))
	assert.Equal(t, 2, findInstance(t, ci.Key, "pi-remind").RepetitionCounter)

	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), openTask(t, ci.Key, "remindTask").Key, nil))

	// counter 3 fails the condition, no further instance is spawned
	instances := findInstances(t, ci.Key, "pi-remind")
	require.Len(t, instances, 2)
	assert.Equal(t, runtime.PlanItemStateCompleted, instances[0].State)
	assert.Equal(t, runtime.PlanItemStateCompleted, instances[1].State)
	assert.Equal(t, runtime.CaseStateCompleted, caseState(t, ci.Key))
}

func TestRepetitionWithEntryCriteriaWaitsForSentry(t *testing.T) {
	planModel := cmmn11.TStage{
		AutoComplete: true,
		TPlanFragmentContainer: cmmn11.TPlanFragmentContainer{
			PlanItems: []cmmn11.TPlanItem{
				planItem("pi-trigger", "triggerTask"),
				{
					TCmmnElement:  cmmn11.TCmmnElement{Id: "pi-audit"},
					DefinitionRef: "auditTask",
					EntryCriteria: []string{"sentry-audit"},
					ItemControl: cmmn11.TItemControl{
						RepetitionRule: &cmmn11.TRepetitionRule{Condition: "=true"},
					},
				},
			},
			HumanTasks: []cmmn11.THumanTask{
				humanTaskDef("triggerTask", "Trigger"),
				humanTaskDef("auditTask", "Audit"),
			},
			Sentries: []cmmn11.TSentry{onPartSentry("sentry-audit", "pi-trigger", cmmn11.TransitionEventComplete)},
		},
	}
	ci := deployAndStart(t, caseModel("sentry-repetition-case", planModel), nil)

	assert.Equal(t, runtime.PlanItemStateAvailable, findInstance(t, ci.Key, "pi-audit").State)

	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), openTask(t, ci.Key, "triggerTask").Key, nil))
	assert.Equal(t, runtime.PlanItemStateActive, findInstance(t, ci.Key, "pi-audit").State)

	require.NoError(t, caseEngine.CompleteHumanTask(t.Context(), openTask(t, ci.Key, "auditTask").Key, nil))

	// the next repetition parks until the entry sentry fires again; with
	// nothing blocking, the auto-completing plan model ends the case and
	// exits the parked instance
	instances := findInstances(t, ci.Key, "pi-audit")
	require.Len(t, instances, 2)
	assert.Equal(t, runtime.PlanItemStateCompleted, instances[0].State)
	assert.Equal(t, runtime.PlanItemStateTerminated, instances[1].State)
	assert.Equal(t, runtime.CaseStateCompleted, caseState(t, ci.Key))
}
