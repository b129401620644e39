package cmmn11

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validModel() *TDefinitions {
	return &TDefinitions{
		TCmmnElement: TCmmnElement{Id: "defs"},
		Case: TCase{
			TCmmnElement: TCmmnElement{Id: "loan-case"},
			PlanModel: TStage{
				TCmmnElement: TCmmnElement{Id: "casePlanModel"},
				TPlanFragmentContainer: TPlanFragmentContainer{
					PlanItems: []TPlanItem{
						{TCmmnElement: TCmmnElement{Id: "pi-review"}, DefinitionRef: "reviewTask"},
						{
							TCmmnElement:  TCmmnElement{Id: "pi-approved"},
							DefinitionRef: "approvedMilestone",
							EntryCriteria: []string{"sentry-approved"},
						},
					},
					HumanTasks: []THumanTask{{TCmmnElement: TCmmnElement{Id: "reviewTask"}}},
					Milestones: []TMilestone{{TCmmnElement: TCmmnElement{Id: "approvedMilestone"}}},
					Sentries: []TSentry{{
						TCmmnElement: TCmmnElement{Id: "sentry-approved"},
						OnParts: []TOnPart{{
							TCmmnElement:     TCmmnElement{Id: "on-review"},
							SourcePlanItemId: "pi-review",
							StandardEvent:    TransitionEventComplete,
						}},
					}},
				},
			},
		},
	}
}

func TestValidateAcceptsWellFormedModel(t *testing.T) {
	assert.NoError(t, validModel().Validate())
}

func TestValidateRejectsBrokenReferences(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *TDefinitions)
		wantErr string
	}{
		{
			name: "unknown plan item definition",
			mutate: func(d *TDefinitions) {
				d.Case.PlanModel.PlanItems[0].DefinitionRef = "ghostTask"
			},
			wantErr: "unknown definition ghostTask",
		},
		{
			name: "unknown entry sentry",
			mutate: func(d *TDefinitions) {
				d.Case.PlanModel.PlanItems[1].EntryCriteria = []string{"sentry-ghost"}
			},
			wantErr: "unknown sentry sentry-ghost",
		},
		{
			name: "unknown exit sentry",
			mutate: func(d *TDefinitions) {
				d.Case.PlanModel.PlanItems[0].ExitCriteria = []string{"sentry-ghost"}
			},
			wantErr: "unknown sentry sentry-ghost",
		},
		{
			name: "on-part source outside the stage",
			mutate: func(d *TDefinitions) {
				d.Case.PlanModel.Sentries[0].OnParts[0].SourcePlanItemId = "pi-elsewhere"
			},
			wantErr: "unknown plan item pi-elsewhere",
		},
		{
			name: "unknown transition event",
			mutate: func(d *TDefinitions) {
				d.Case.PlanModel.Sentries[0].OnParts[0].StandardEvent = "resume"
			},
			wantErr: "unknown transition event resume",
		},
		{
			name: "invalid timer expression",
			mutate: func(d *TDefinitions) {
				d.Case.PlanModel.TimerEventListeners = []TTimerEventListener{{
					TCmmnElement:    TCmmnElement{Id: "deadline"},
					TimerExpression: "whenever",
				}}
				d.Case.PlanModel.PlanItems = append(d.Case.PlanModel.PlanItems,
					TPlanItem{TCmmnElement: TCmmnElement{Id: "pi-deadline"}, DefinitionRef: "deadline"})
			},
			wantErr: "invalid timer expression",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := validModel()
			tt.mutate(model)
			err := model.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRecursesIntoNestedStages(t *testing.T) {
	model := validModel()
	model.Case.PlanModel.Stages = []TStage{{
		TCmmnElement: TCmmnElement{Id: "innerStage"},
		TPlanFragmentContainer: TPlanFragmentContainer{
			PlanItems: []TPlanItem{{TCmmnElement: TCmmnElement{Id: "pi-inner"}, DefinitionRef: "missing"}},
		},
	}}
	model.Case.PlanModel.PlanItems = append(model.Case.PlanModel.PlanItems,
		TPlanItem{TCmmnElement: TCmmnElement{Id: "pi-stage"}, DefinitionRef: "innerStage"})

	err := model.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown definition missing")
}

func TestFindStageByIdSearchesTree(t *testing.T) {
	root := &TStage{
		TCmmnElement: TCmmnElement{Id: "root"},
		TPlanFragmentContainer: TPlanFragmentContainer{
			Stages: []TStage{{
				TCmmnElement: TCmmnElement{Id: "outer"},
				TPlanFragmentContainer: TPlanFragmentContainer{
					Stages: []TStage{{TCmmnElement: TCmmnElement{Id: "inner"}}},
				},
			}},
		},
	}

	require.NotNil(t, FindStageById(root, "inner"))
	assert.Equal(t, "inner", FindStageById(root, "inner").Id)
	assert.Nil(t, FindStageById(root, "nowhere"))
}

func TestFindPlanItemDefinitionCoversAllElementKinds(t *testing.T) {
	stage := &TStage{
		TPlanFragmentContainer: TPlanFragmentContainer{
			HumanTasks:            []THumanTask{{TCmmnElement: TCmmnElement{Id: "ht"}}},
			Stages:                []TStage{{TCmmnElement: TCmmnElement{Id: "st"}}},
			Milestones:            []TMilestone{{TCmmnElement: TCmmnElement{Id: "ms"}}},
			UserEventListeners:    []TUserEventListener{{TCmmnElement: TCmmnElement{Id: "uel"}}},
			GenericEventListeners: []TGenericEventListener{{TCmmnElement: TCmmnElement{Id: "gel"}}},
			TimerEventListeners:   []TTimerEventListener{{TCmmnElement: TCmmnElement{Id: "tel"}}},
		},
	}

	tests := map[string]ElementType{
		"ht":  ElementTypeHumanTask,
		"st":  ElementTypeStage,
		"ms":  ElementTypeMilestone,
		"uel": ElementTypeUserEventListener,
		"gel": ElementTypeGenericEventListener,
		"tel": ElementTypeTimerEventListener,
	}
	for id, want := range tests {
		def := stage.FindPlanItemDefinitionById(id)
		require.NotNil(t, def, id)
		assert.Equal(t, want, def.GetType())
	}
	assert.Nil(t, stage.FindPlanItemDefinitionById("nope"))
}
