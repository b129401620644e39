package cmmn11

// TPlanItem is the definition-time occurrence of a plan item definition
// within a stage. Entry and exit criteria reference sentries defined in the
// same stage by id; the definition is referenced by id as well, so the model
// graph stays free of pointer cycles.
type TPlanItem struct {
	TCmmnElement

	// DefinitionRef is the id of the referenced plan item definition.
	DefinitionRef string

	// EntryCriteria and ExitCriteria hold sentry ids.
	EntryCriteria []string
	ExitCriteria  []string

	ItemControl TItemControl
}

type TItemControl struct {
	RepetitionRule        *TRepetitionRule
	ManualActivationRule  *TManualActivationRule
	RequiredRule          *TRequiredRule
	CompletionNeutralRule *TCompletionNeutralRule
}

// TRepetitionRule allows multiple sequential instances of one plan item.
// Either a condition, a collection variable, or both can drive repetition.
type TRepetitionRule struct {
	// Condition is re-evaluated each time an instance leaves ACTIVE; while
	// it holds, another instance is created. Empty means repeat while the
	// collection has remaining elements.
	Condition string

	// CollectionVariableName names a case variable holding a list; one
	// instance is created per element.
	CollectionVariableName string

	// ElementVariableName receives the current collection element in the
	// local scope of each repetition instance.
	ElementVariableName string

	// CounterVariableName defaults to "repetitionCounter" when empty.
	CounterVariableName string
}

func (r TRepetitionRule) GetCounterVariableName() string {
	if r.CounterVariableName == "" {
		return "repetitionCounter"
	}
	return r.CounterVariableName
}

// TManualActivationRule routes a fired entry sentry to ENABLED instead of
// ACTIVE. An empty condition means manual activation always applies.
type TManualActivationRule struct {
	Condition string
}

// TRequiredRule marks a plan item as blocking its stage's completion until
// it reaches a terminal state.
type TRequiredRule struct {
	Condition string
}

// TCompletionNeutralRule marks a plan item as never blocking completion of
// its stage, regardless of state.
type TCompletionNeutralRule struct {
	Condition string
}
