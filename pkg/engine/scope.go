package engine

import (
	"fmt"
	"strconv"
)

// Binding is one alias bound in a Scope.
type Binding struct {
	// Alias is the name used as the first segment of a path.
	Alias string

	// Value is the bound handle: a runtime value or an expression parameter.
	Value any

	// Owner describes who pushed the binding, e.g. "mapList.itemAlias".
	Owner string
}

// Scope is the stack of alias bindings visible during one evaluation.
//
// A Scope is owned by a single call stack and is not safe for concurrent
// mutation. Concurrent branches each take a Fork. While forks are alive the
// parent must not be pushed or popped.
type Scope struct {
	parent   *Scope
	bindings []Binding
	index    map[string]int
}

// NewScope creates an empty root scope.
func NewScope() *Scope {
	return &Scope{index: make(map[string]int)}
}

// Fork returns a child scope that sees every binding visible in s.
// Bindings pushed on the child are invisible to s and to sibling forks.
func (s *Scope) Fork() *Scope {
	return &Scope{parent: s, index: make(map[string]int)}
}

// Push binds alias to value. It fails with a duplicate alias error when alias
// is already visible.
func (s *Scope) Push(alias string, value any, owner string) error {
	if alias == "" {
		return NewResolutionError("cannot bind an empty alias", nil).
			WithCode(ErrCodeInvalidInputData).
			WithDetail("owner", owner)
	}
	if prev, ok := s.Lookup(alias); ok {
		return NewResolutionError(fmt.Sprintf("alias %q is already bound", alias), nil).
			WithCode(ErrCodeDuplicateAlias).
			WithTitle("Duplicate expression alias").
			WithDetail(DiagAlias, alias).
			WithDetail("owner", owner).
			WithDetail("boundBy", prev.Owner)
	}
	s.push(alias, value, owner)
	return nil
}

// PushWithGeneratedAlias binds value under root when root is free, otherwise
// under the first free name of root1, root2, ... probed in ascending order.
// It returns the alias actually bound.
func (s *Scope) PushWithGeneratedAlias(root string, value any, owner string) (string, error) {
	if root == "" {
		return "", NewResolutionError("cannot bind an empty alias", nil).
			WithCode(ErrCodeInvalidInputData).
			WithDetail("owner", owner)
	}
	alias := root
	for n := 1; s.IsBound(alias); n++ {
		alias = root + strconv.Itoa(n)
	}
	s.push(alias, value, owner)
	return alias, nil
}

func (s *Scope) push(alias string, value any, owner string) {
	s.index[alias] = len(s.bindings)
	s.bindings = append(s.bindings, Binding{Alias: alias, Value: value, Owner: owner})
}

// Pop removes the most recently pushed binding of this scope.
// Bindings inherited from a parent are never popped through a fork.
func (s *Scope) Pop() (Binding, error) {
	if len(s.bindings) == 0 {
		return Binding{}, NewResolutionError("pop on an empty scope", nil).
			WithCode(ErrCodeInvalidInputData)
	}
	last := s.bindings[len(s.bindings)-1]
	s.bindings = s.bindings[:len(s.bindings)-1]
	delete(s.index, last.Alias)
	return last, nil
}

// Mark returns a position that Unwind can later restore.
func (s *Scope) Mark() int {
	return len(s.bindings)
}

// Unwind pops every binding pushed after mark. It is meant to be deferred
// right after Mark so that bindings are released on every exit path.
func (s *Scope) Unwind(mark int) {
	for len(s.bindings) > mark {
		_, _ = s.Pop()
	}
}

// Lookup returns the visible binding for alias.
func (s *Scope) Lookup(alias string) (Binding, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if i, ok := cur.index[alias]; ok {
			return cur.bindings[i], true
		}
	}
	return Binding{}, false
}

// IsBound reports whether alias is visible.
func (s *Scope) IsBound(alias string) bool {
	_, ok := s.Lookup(alias)
	return ok
}

// GetValue resolves alias to its bound value. A missing alias fails with a
// parameter missing error naming the alias and carrying providerType and diag.
func (s *Scope) GetValue(alias, providerType string, diag Diagnostics) (any, error) {
	b, ok := s.Lookup(alias)
	if !ok {
		return nil, NewResolutionError(fmt.Sprintf("alias %q is not bound", alias), nil).
			WithCode(ErrCodeParameterMissing).
			WithTitle("Provider parameter missing").
			WithDetail(DiagAlias, alias).
			WithDetail(DiagProviderType, providerType).
			WithDiagnostics(diag)
	}
	return b.Value, nil
}

// Aliases lists the visible aliases, outermost first.
func (s *Scope) Aliases() []string {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	var out []string
	for i := len(chain) - 1; i >= 0; i-- {
		for _, b := range chain[i].bindings {
			out = append(out, b.Alias)
		}
	}
	return out
}

// Snapshot returns the visible bindings as an alias to value map.
func (s *Scope) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, alias := range s.Aliases() {
		b, _ := s.Lookup(alias)
		out[alias] = b.Value
	}
	return out
}

// Len returns the number of visible bindings.
func (s *Scope) Len() int {
	n := 0
	for cur := s; cur != nil; cur = cur.parent {
		n += len(cur.bindings)
	}
	return n
}
