package jack

import (
	"fmt"
	"strings"

	"github.com/luib93/nand2tetris/pkg/diag"
	"github.com/luib93/nand2tetris/pkg/utils"
)

type Scope struct {
	name    string
	entries utils.Stack[Variable]
}

type ScopeTable struct {
	static utils.Stack[Variable]

	local     Scope
	field     Scope
	parameter Scope
}

func NewScopeTable() *ScopeTable {
	return &ScopeTable{
		static:    utils.Stack[Variable]{},
		local:     Scope{},
		field:     Scope{},
		parameter: Scope{},
	}
}

func (st *ScopeTable) PushClassScope(class string) {
	newScope := fmt.Sprintf("%s.Global", class)
	st.field = Scope{name: newScope, entries: utils.Stack[Variable]{}}
}

func (st *ScopeTable) PopClassScope() { st.field = Scope{} }

func (st *ScopeTable) PushSubRoutineScope(method string) {
	newScope := strings.ReplaceAll(st.GetScope(), "Global", method)
	st.local = Scope{name: newScope, entries: utils.Stack[Variable]{}}
	st.parameter = Scope{name: newScope, entries: utils.Stack[Variable]{}}
}

func (st *ScopeTable) PopSubroutineScope() { st.local, st.parameter = Scope{}, Scope{} }

func (st *ScopeTable) GetScope() string {
	if st.local.name != "" && st.parameter.name != "" {
		return st.local.name
	}

	if st.field.name != "" {
		return st.field.name
	}

	return "Global"
}

// Returns true if 'entries' already holds a variable named 'name'. An empty
// name never collides: it's reserved for the implicit method receiver slot,
// which has no surface name to redeclare.
func scopeContains(entries utils.Stack[Variable], name string) bool {
	if name == "" {
		return false
	}
	for _, entry := range entries.Iterator() {
		if entry.Name == name {
			return true
		}
	}
	return false
}

// Adds 'new' to its kind's scope, failing with a SemanticError if a variable
// of the same name is already declared there. Redeclaration is only rejected
// within the same scope: a local is free to shadow a field or a parameter.
func (st *ScopeTable) RegisterVariable(new Variable, pos diag.Position) error {
	switch new.Type {
	case Local:
		if scopeContains(st.local.entries, new.Name) {
			return diag.SemanticErr(pos, "'%s' is already declared in this scope", new.Name)
		}
		st.local.entries.Push(new)
	case Field:
		if scopeContains(st.field.entries, new.Name) {
			return diag.SemanticErr(pos, "'%s' is already declared in this scope", new.Name)
		}
		st.field.entries.Push(new)
	case Parameter:
		if scopeContains(st.parameter.entries, new.Name) {
			return diag.SemanticErr(pos, "'%s' is already declared in this scope", new.Name)
		}
		st.parameter.entries.Push(new)
	case Static:
		if scopeContains(st.static, new.Name) {
			return diag.SemanticErr(pos, "'%s' is already declared in this scope", new.Name)
		}
		st.static.Push(new)
	}
	return nil
}

func (st *ScopeTable) ResolveVariable(name string) (uint16, Variable, error) {
	scopes := []utils.Stack[Variable]{st.local.entries, st.parameter.entries, st.field.entries, st.static}

	for _, scope := range scopes {
		for idx, entry := range scope.Iterator() {
			if entry.Name == name {
				return uint16(idx), entry, nil
			}
		}
	}

	return 0, Variable{}, fmt.Errorf("variable '%s' undeclared, not found in any scope", name)
}
