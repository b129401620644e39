package runtime

import (
	"errors"
	"fmt"
)

// ErrNoActiveCommand is returned when a variable operation needs lazy
// loading but the scope was created outside a command context.
var ErrNoActiveCommand = errors.New("variable scope has no active command context for lazy loading")

type VariableChangeOp int

const (
	VariableCreated VariableChangeOp = iota
	VariableUpdated
	VariableRemoved
)

// VariableChange describes one mutation of a persisted variable. Changes
// accumulate on the scope that owns the variable until the engine drains
// them into the storage batch and the history recorder, all within the same
// unit of work; transient variable mutations never produce changes.
type VariableChange struct {
	Op       VariableChangeOp
	Instance *VariableInstance
	Previous any
}

// VariableLoader fetches the persisted variables of one scope. The engine
// binds it to the storage of the current command.
type VariableLoader func() ([]VariableInstance, error)

// VariableScope is a hierarchical variable store. Lookups fall back to the
// parent chain; writes target the scope where the variable already exists,
// or the topmost scope unless the Local variant is used.
//
// The lazily loaded maps are per-command caches, not thread safe, never to
// be shared across commands. Authoritative state lives in storage.
type VariableScope struct {
	parent          *VariableScope
	types           *VariableTypeRegistry
	caseInstanceKey int64
	scopeKey        int64

	loader    VariableLoader
	loaded    bool
	variables map[string]*VariableInstance
	pending   []VariableChange

	transientVariables map[string]any
}

// NewVariableScope creates a scope with an already materialized (possibly
// empty) variable map, typically for freshly created entities.
func NewVariableScope(parent *VariableScope, types *VariableTypeRegistry, caseInstanceKey int64, scopeKey int64) VariableScope {
	return VariableScope{
		parent:          parent,
		types:           types,
		caseInstanceKey: caseInstanceKey,
		scopeKey:        scopeKey,
		loaded:          true,
		variables:       map[string]*VariableInstance{},
	}
}

// NewLazyVariableScope creates a scope that loads its variables from storage
// on first access. Access without a loader fails with ErrNoActiveCommand.
func NewLazyVariableScope(parent *VariableScope, types *VariableTypeRegistry, caseInstanceKey int64, scopeKey int64, loader VariableLoader) VariableScope {
	return VariableScope{
		parent:          parent,
		types:           types,
		caseInstanceKey: caseInstanceKey,
		scopeKey:        scopeKey,
		loader:          loader,
	}
}

func (vs *VariableScope) SetParent(parent *VariableScope) {
	vs.parent = parent
}

func (vs *VariableScope) Parent() *VariableScope {
	return vs.parent
}

func (vs *VariableScope) ScopeKey() int64 {
	return vs.scopeKey
}

func (vs *VariableScope) ensureLoaded() error {
	if vs.loaded {
		return nil
	}
	if vs.loader == nil {
		return fmt.Errorf("scope %d of case instance %d: %w", vs.scopeKey, vs.caseInstanceKey, ErrNoActiveCommand)
	}
	instances, err := vs.loader()
	if err != nil {
		return fmt.Errorf("failed to load variables for scope %d: %w", vs.scopeKey, err)
	}
	vs.variables = make(map[string]*VariableInstance, len(instances))
	for i := range instances {
		vi := instances[i]
		if vi.Value == nil && vs.types != nil {
			t, err := vs.types.FindVariableTypeByName(vi.TypeName)
			if err != nil {
				return err
			}
			vi.Value, err = t.Load(vi.Stored)
			if err != nil {
				return err
			}
		}
		vs.variables[vi.Name] = &vi
	}
	vs.loaded = true
	return nil
}

// GetVariable resolves a name against the transient shadow, this scope, and
// then the parent chain. A missing variable yields nil without error.
func (vs *VariableScope) GetVariable(name string) (any, error) {
	if v, ok := vs.transientVariables[name]; ok {
		return v, nil
	}
	if err := vs.ensureLoaded(); err != nil {
		return nil, err
	}
	if vi, ok := vs.variables[name]; ok {
		return vi.Value, nil
	}
	if vs.parent != nil {
		return vs.parent.GetVariable(name)
	}
	return nil, nil
}

// GetVariableLocal resolves a name in this scope only.
func (vs *VariableScope) GetVariableLocal(name string) (any, error) {
	if v, ok := vs.transientVariables[name]; ok {
		return v, nil
	}
	if err := vs.ensureLoaded(); err != nil {
		return nil, err
	}
	if vi, ok := vs.variables[name]; ok {
		return vi.Value, nil
	}
	return nil, nil
}

func (vs *VariableScope) HasVariableLocal(name string) (bool, error) {
	if err := vs.ensureLoaded(); err != nil {
		return false, err
	}
	_, ok := vs.variables[name]
	return ok, nil
}

func (vs *VariableScope) HasVariable(name string) (bool, error) {
	ok, err := vs.HasVariableLocal(name)
	if err != nil || ok {
		return ok, err
	}
	if vs.parent != nil {
		return vs.parent.HasVariable(name)
	}
	return false, nil
}

// SetVariable overwrites the variable in the scope where it already exists,
// walking up the parent chain; when it exists nowhere, it is created at the
// topmost scope.
func (vs *VariableScope) SetVariable(name string, value any) error {
	owner, err := vs.findOwner(name)
	if err != nil {
		return err
	}
	if owner == nil {
		owner = vs.root()
	}
	return owner.SetVariableLocal(name, value)
}

// SetVariableLocal always targets this scope.
func (vs *VariableScope) SetVariableLocal(name string, value any) error {
	if err := vs.ensureLoaded(); err != nil {
		return err
	}
	varType, err := vs.types.FindVariableType(value)
	if err != nil {
		return err
	}
	stored, err := varType.Store(value)
	if err != nil {
		return err
	}

	if existing, ok := vs.variables[name]; ok {
		previous := existing.Value
		if existing.TypeName != varType.Name() {
			// incompatible type forces a swap: old storage
			// representation is cleared before the new one is assigned
			existing.Stored = StoredValue{}
			existing.TypeName = varType.Name()
		}
		existing.Stored = stored
		existing.Value = value
		vs.pending = append(vs.pending, VariableChange{Op: VariableUpdated, Instance: existing, Previous: previous})
		return nil
	}

	vi := &VariableInstance{
		Name:            name,
		TypeName:        varType.Name(),
		CaseInstanceKey: vs.caseInstanceKey,
		ScopeKey:        vs.scopeKey,
		Stored:          stored,
		Value:           value,
	}
	vs.variables[name] = vi
	vs.pending = append(vs.pending, VariableChange{Op: VariableCreated, Instance: vi})
	return nil
}

// RemoveVariable deletes the variable from the scope where it is found,
// walking up the parent chain.
func (vs *VariableScope) RemoveVariable(name string) error {
	owner, err := vs.findOwner(name)
	if err != nil || owner == nil {
		return err
	}
	return owner.RemoveVariableLocal(name)
}

func (vs *VariableScope) RemoveVariableLocal(name string) error {
	if err := vs.ensureLoaded(); err != nil {
		return err
	}
	existing, ok := vs.variables[name]
	if !ok {
		return nil
	}
	delete(vs.variables, name)
	vs.pending = append(vs.pending, VariableChange{Op: VariableRemoved, Instance: existing, Previous: existing.Value})
	return nil
}

// TakePendingChanges drains the accumulated changes of this scope. The
// engine calls it after every point where scope mutations may have happened
// and routes the result into the batch and the history recorder.
func (vs *VariableScope) TakePendingChanges() []VariableChange {
	pending := vs.pending
	vs.pending = nil
	return pending
}

// SetTransientVariable stores a non-persisted value at the topmost scope.
// Transient values shadow persisted variables of the same name and are
// cleared at the end of the command that introduced them.
func (vs *VariableScope) SetTransientVariable(name string, value any) {
	vs.root().SetTransientVariableLocal(name, value)
}

func (vs *VariableScope) SetTransientVariableLocal(name string, value any) {
	if vs.transientVariables == nil {
		vs.transientVariables = map[string]any{}
	}
	vs.transientVariables[name] = value
}

// ClearTransientVariables drops the transient values of this scope only;
// the engine walks every scope of the command when it finishes.
func (vs *VariableScope) ClearTransientVariables() {
	vs.transientVariables = nil
}

// Variables returns the merged view of the whole chain, child entries
// shadowing parent ones and transient entries shadowing everything. The
// result feeds expression evaluation.
func (vs *VariableScope) Variables() (map[string]any, error) {
	var merged map[string]any
	if vs.parent != nil {
		var err error
		merged, err = vs.parent.Variables()
		if err != nil {
			return nil, err
		}
	} else {
		merged = map[string]any{}
	}
	if err := vs.ensureLoaded(); err != nil {
		return nil, err
	}
	for name, vi := range vs.variables {
		merged[name] = vi.Value
	}
	for name, v := range vs.transientVariables {
		merged[name] = v
	}
	return merged, nil
}

// LocalVariableInstances exposes the materialized local instances, used by
// the engine when cascading deletes through a terminated scope.
func (vs *VariableScope) LocalVariableInstances() ([]*VariableInstance, error) {
	if err := vs.ensureLoaded(); err != nil {
		return nil, err
	}
	res := make([]*VariableInstance, 0, len(vs.variables))
	for _, vi := range vs.variables {
		res = append(res, vi)
	}
	return res, nil
}

func (vs *VariableScope) findOwner(name string) (*VariableScope, error) {
	ok, err := vs.HasVariableLocal(name)
	if err != nil {
		return nil, err
	}
	if ok {
		return vs, nil
	}
	if vs.parent != nil {
		return vs.parent.findOwner(name)
	}
	return nil, nil
}

func (vs *VariableScope) root() *VariableScope {
	if vs.parent == nil {
		return vs
	}
	return vs.parent.root()
}
