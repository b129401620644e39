package otel

const (
	Prefix                     = "cmmn-"
	AttributeCaseInstanceKey   = Prefix + "instance-key"
	AttributeCaseDefinitionId  = Prefix + "definition-id"
	AttributeCaseDefinitionKey = Prefix + "definition-key"
	AttributeElementId         = Prefix + "element-id"
	AttributeElementKey        = Prefix + "element-key"
	AttributeElementType       = Prefix + "element-type"
	AttributeTransition        = Prefix + "transition"
)
