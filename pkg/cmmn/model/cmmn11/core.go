package cmmn11

// All CMMN elements that inherit from the CMMNElement will have the
// capability, through the documentation attribute, to carry a text
// description of that element.
type TCmmnElement struct {
	// This attribute is used to uniquely identify CMMN elements. The id is
	// REQUIRED if this element is referenced or intended to be referenced by
	// something else.
	Id string

	// Name is the human readable label of the element. For plan items the
	// name may be an expression (prefixed with "="), evaluated against the
	// case variables when the plan item instance is created.
	Name string

	// This attribute is used to annotate the CMMN element, such as
	// descriptions and other documentation.
	Documentation string
}

func (t TCmmnElement) GetId() string {
	return t.Id
}

func (t TCmmnElement) GetName() string {
	return t.Name
}

func (t TCmmnElement) GetDocumentation() string {
	return t.Documentation
}

type CmmnElement interface {
	GetId() string
	GetName() string
	GetDocumentation() string
}

// TDefinitions is the root of a case model graph. A deployment unit carries
// exactly one case; the engine assigns key and version at deployment time.
type TDefinitions struct {
	TCmmnElement
	TargetNamespace string
	Exporter        string
	ExporterVersion string
	Case            TCase
}

type TCase struct {
	TCmmnElement

	// InitiatorVariableName, when set, names the case variable that receives
	// the id of the user who started the case instance.
	InitiatorVariableName string

	// PlanModel is the root stage of the case. Its plan items form the
	// root level of the plan item instance tree.
	PlanModel TStage
}
