package cmmn11

import "fmt"

// FindPlanItemDefinitionById looks the definition up in the given stage.
// Definitions are scoped to the stage that declares them.
func (s *TStage) FindPlanItemDefinitionById(id string) PlanItemDefinition {
	for i := range s.HumanTasks {
		if s.HumanTasks[i].Id == id {
			return s.HumanTasks[i]
		}
	}
	for i := range s.Stages {
		if s.Stages[i].Id == id {
			return s.Stages[i]
		}
	}
	for i := range s.Milestones {
		if s.Milestones[i].Id == id {
			return s.Milestones[i]
		}
	}
	for i := range s.UserEventListeners {
		if s.UserEventListeners[i].Id == id {
			return s.UserEventListeners[i]
		}
	}
	for i := range s.GenericEventListeners {
		if s.GenericEventListeners[i].Id == id {
			return s.GenericEventListeners[i]
		}
	}
	for i := range s.TimerEventListeners {
		if s.TimerEventListeners[i].Id == id {
			return s.TimerEventListeners[i]
		}
	}
	return nil
}

// FindStageDefinitionById returns the child stage definition with given id.
func (s *TStage) FindStageDefinitionById(id string) *TStage {
	for i := range s.Stages {
		if s.Stages[i].Id == id {
			return &s.Stages[i]
		}
	}
	return nil
}

func (s *TStage) FindPlanItemById(id string) *TPlanItem {
	for i := range s.PlanItems {
		if s.PlanItems[i].Id == id {
			return &s.PlanItems[i]
		}
	}
	return nil
}

func (s *TStage) FindSentryById(id string) *TSentry {
	for i := range s.Sentries {
		if s.Sentries[i].Id == id {
			return &s.Sentries[i]
		}
	}
	return nil
}

// FindSentries resolves a list of sentry ids declared on a plan item.
func (s *TStage) FindSentries(ids []string) []*TSentry {
	res := make([]*TSentry, 0, len(ids))
	for _, id := range ids {
		if sentry := s.FindSentryById(id); sentry != nil {
			res = append(res, sentry)
		}
	}
	return res
}

// FindStageById searches the whole plan model tree for a stage definition.
func FindStageById(root *TStage, id string) *TStage {
	if root.Id == id {
		return root
	}
	for i := range root.Stages {
		if found := FindStageById(&root.Stages[i], id); found != nil {
			return found
		}
	}
	return nil
}

// Validate checks referential integrity of the plan model: every plan item
// must reference an existing definition and existing sentries, every on-part
// an existing source plan item and a known transition event.
func (d *TDefinitions) Validate() error {
	return validateStage(&d.Case.PlanModel)
}

func validateStage(stage *TStage) error {
	for i := range stage.PlanItems {
		item := &stage.PlanItems[i]
		if stage.FindPlanItemDefinitionById(item.DefinitionRef) == nil {
			return fmt.Errorf("plan item %s references unknown definition %s", item.Id, item.DefinitionRef)
		}
		for _, criterion := range append(append([]string{}, item.EntryCriteria...), item.ExitCriteria...) {
			if stage.FindSentryById(criterion) == nil {
				return fmt.Errorf("plan item %s references unknown sentry %s", item.Id, criterion)
			}
		}
	}
	for i := range stage.Sentries {
		sentry := &stage.Sentries[i]
		for _, onPart := range sentry.OnParts {
			if stage.FindPlanItemById(onPart.SourcePlanItemId) == nil {
				return fmt.Errorf("sentry %s on-part references unknown plan item %s", sentry.Id, onPart.SourcePlanItemId)
			}
			if !isKnownTransitionEvent(onPart.StandardEvent) {
				return fmt.Errorf("sentry %s on-part references unknown transition event %s", sentry.Id, onPart.StandardEvent)
			}
		}
	}
	for i := range stage.TimerEventListeners {
		if _, err := stage.TimerEventListeners[i].GetDuration(); err != nil {
			return err
		}
	}
	for i := range stage.Stages {
		if err := validateStage(&stage.Stages[i]); err != nil {
			return err
		}
	}
	return nil
}

func isKnownTransitionEvent(event string) bool {
	switch event {
	case TransitionEventCreate, TransitionEventEnable, TransitionEventDisable,
		TransitionEventStart, TransitionEventManualStart, TransitionEventComplete,
		TransitionEventOccur, TransitionEventTerminate, TransitionEventExit:
		return true
	}
	return false
}
