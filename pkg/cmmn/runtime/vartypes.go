package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedVariableType is returned when a value's runtime type has no
// registered variable type that can store it.
var ErrUnsupportedVariableType = errors.New("unsupported variable type")

// StoredValue is the storage representation of a variable value. A variable
// type fills exactly the columns it needs; switching a variable to an
// incompatible type clears the old representation first.
type StoredValue struct {
	Text   *string
	Long   *int64
	Double *float64
	Bytes  []byte
}

// VariableType maps a runtime value to and from its storage representation.
type VariableType interface {
	Name() string
	CanStore(value any) bool
	Store(value any) (StoredValue, error)
	Load(stored StoredValue) (any, error)
}

// VariableInstance is a persisted name/typed-value pair scoped to a case
// instance or to one plan item instance.
type VariableInstance struct {
	Key             int64
	Name            string
	TypeName        string
	CaseInstanceKey int64

	// ScopeKey is the plan item instance key for sub-scoped variables,
	// zero for case-scoped ones.
	ScopeKey int64

	Stored StoredValue

	// Value is the live deserialized value, rebuilt from Stored on load.
	Value any `json:"-"`
}

func (v *VariableInstance) GetKey() int64 {
	return v.Key
}

func (v *VariableInstance) GetPersistentState() map[string]any {
	return map[string]any{
		"typeName": v.TypeName,
		"stored":   v.Stored,
	}
}

// VariableTypeRegistry resolves concrete values to a registered variable
// type. Resolution walks the registered types in order, so more specific
// types must be registered before catch-all ones.
type VariableTypeRegistry struct {
	types []VariableType
}

func NewVariableTypeRegistry(types ...VariableType) *VariableTypeRegistry {
	return &VariableTypeRegistry{types: types}
}

// NewDefaultVariableTypeRegistry registers the built-in types. The json type
// is last and catches maps, slices and structs.
func NewDefaultVariableTypeRegistry() *VariableTypeRegistry {
	return NewVariableTypeRegistry(
		nullType{},
		boolType{},
		longType{},
		doubleType{},
		stringType{},
		dateType{},
		jsonType{},
	)
}

func (r *VariableTypeRegistry) Register(t VariableType) {
	r.types = append(r.types, t)
}

func (r *VariableTypeRegistry) FindVariableType(value any) (VariableType, error) {
	for _, t := range r.types {
		if t.CanStore(value) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no variable type registered for value of type %T: %w", value, ErrUnsupportedVariableType)
}

func (r *VariableTypeRegistry) FindVariableTypeByName(name string) (VariableType, error) {
	for _, t := range r.types {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no variable type named %q: %w", name, ErrUnsupportedVariableType)
}

type nullType struct{}

func (nullType) Name() string                   { return "null" }
func (nullType) CanStore(value any) bool        { return value == nil }
func (nullType) Store(any) (StoredValue, error) { return StoredValue{}, nil }
func (nullType) Load(StoredValue) (any, error)  { return nil, nil }

type boolType struct{}

func (boolType) Name() string { return "boolean" }
func (boolType) CanStore(value any) bool {
	_, ok := value.(bool)
	return ok
}
func (boolType) Store(value any) (StoredValue, error) {
	var l int64
	if value.(bool) {
		l = 1
	}
	return StoredValue{Long: &l}, nil
}
func (boolType) Load(stored StoredValue) (any, error) {
	return stored.Long != nil && *stored.Long != 0, nil
}

type longType struct{}

func (longType) Name() string { return "long" }
func (longType) CanStore(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return true
	}
	return false
}
func (longType) Store(value any) (StoredValue, error) {
	var l int64
	switch v := value.(type) {
	case int:
		l = int64(v)
	case int8:
		l = int64(v)
	case int16:
		l = int64(v)
	case int32:
		l = int64(v)
	case int64:
		l = v
	case uint:
		l = int64(v)
	case uint8:
		l = int64(v)
	case uint16:
		l = int64(v)
	case uint32:
		l = int64(v)
	}
	return StoredValue{Long: &l}, nil
}
func (longType) Load(stored StoredValue) (any, error) {
	if stored.Long == nil {
		return int64(0), nil
	}
	return *stored.Long, nil
}

type doubleType struct{}

func (doubleType) Name() string { return "double" }
func (doubleType) CanStore(value any) bool {
	switch value.(type) {
	case float32, float64:
		return true
	}
	return false
}
func (doubleType) Store(value any) (StoredValue, error) {
	var d float64
	switch v := value.(type) {
	case float32:
		d = float64(v)
	case float64:
		d = v
	}
	return StoredValue{Double: &d}, nil
}
func (doubleType) Load(stored StoredValue) (any, error) {
	if stored.Double == nil {
		return float64(0), nil
	}
	return *stored.Double, nil
}

type stringType struct{}

func (stringType) Name() string { return "string" }
func (stringType) CanStore(value any) bool {
	_, ok := value.(string)
	return ok
}
func (stringType) Store(value any) (StoredValue, error) {
	s := value.(string)
	return StoredValue{Text: &s}, nil
}
func (stringType) Load(stored StoredValue) (any, error) {
	if stored.Text == nil {
		return "", nil
	}
	return *stored.Text, nil
}

type dateType struct{}

func (dateType) Name() string { return "date" }
func (dateType) CanStore(value any) bool {
	_, ok := value.(time.Time)
	return ok
}
func (dateType) Store(value any) (StoredValue, error) {
	l := value.(time.Time).UnixMilli()
	return StoredValue{Long: &l}, nil
}
func (dateType) Load(stored StoredValue) (any, error) {
	if stored.Long == nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(*stored.Long), nil
}

type jsonType struct{}

func (jsonType) Name() string { return "json" }
func (jsonType) CanStore(value any) bool {
	switch value.(type) {
	case chan any, func():
		return false
	}
	_, err := json.Marshal(value)
	return err == nil
}
func (jsonType) Store(value any) (StoredValue, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return StoredValue{}, fmt.Errorf("failed to serialize variable value: %w", err)
	}
	return StoredValue{Bytes: data}, nil
}
func (jsonType) Load(stored StoredValue) (any, error) {
	if len(stored.Bytes) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(stored.Bytes, &value); err != nil {
		return nil, fmt.Errorf("failed to deserialize variable value: %w", err)
	}
	return value, nil
}
