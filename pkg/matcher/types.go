package matcher

import "github.com/blacktop/sigkit/pkg/signature"

// TypeNamespace is the target program's type table, as far as
// materialization needs it. IDs are GUID strings; definitions must be
// visible to HasID/HasName immediately after Define.
type TypeNamespace interface {
	HasID(id string) bool
	HasName(name string) bool
	Define(id, name string, t *signature.Type)
}

// AddTypeToNamespace defines t and every descriptor reachable from it in
// ns, children before parents. Named references may form cycles; a
// visiting set breaks them. GUID references cannot self-reference, so
// they need no guard. An unresolvable reference is left undefined and the
// dependent definition proceeds with whatever was resolvable.
func (m *Matcher) AddTypeToNamespace(ns TypeNamespace, t *signature.Type) {
	m.addType(ns, make(map[string]struct{}), t)
}

func (m *Matcher) addType(ns TypeNamespace, visiting map[string]struct{}, t *signature.Type) {
	if t == nil {
		return
	}
	id := signature.TypeGUIDFor(t).String()
	if ns.HasID(id) {
		return
	}

	switch t.Class {
	case signature.TypePointer:
		if t.Pointer != nil {
			m.addType(ns, visiting, t.Pointer.ChildType)
		}
	case signature.TypeArray:
		if t.Array != nil {
			m.addType(ns, visiting, t.Array.MemberType)
		}
	case signature.TypeStructure:
		if t.Structure != nil {
			for _, member := range t.Structure.Members {
				m.addType(ns, visiting, member.Type)
			}
		}
	case signature.TypeEnumeration:
		if t.Enumeration != nil {
			m.addType(ns, visiting, t.Enumeration.MemberType)
		}
	case signature.TypeUnion:
		if t.Union != nil {
			for _, member := range t.Union.Members {
				m.addType(ns, visiting, member.Type)
			}
		}
	case signature.TypeFunction:
		if t.Function != nil {
			for _, member := range t.Function.OutMembers {
				m.addType(ns, visiting, member.Type)
			}
			for _, member := range t.Function.InMembers {
				m.addType(ns, visiting, member.Type)
			}
		}
	case signature.TypeReferrer:
		if t.Referrer != nil {
			m.addReferrer(ns, visiting, t.Referrer)
		}
	}

	name := t.Name
	if name == "" {
		name = id
	}
	ns.Define(id, name, t)
}

func (m *Matcher) addReferrer(ns TypeNamespace, visiting map[string]struct{}, ref *signature.ReferrerClass) {
	resolved := false
	if !ref.GUID.IsZero() && !ns.HasID(ref.GUID.String()) {
		if target, ok := m.types[ref.GUID]; ok {
			m.addType(ns, visiting, target)
			resolved = true
		}
	}
	if ref.Name != "" && !resolved {
		if _, busy := visiting[ref.Name]; busy {
			// Already materializing this name above us; stop the cycle.
			return
		}
		if !ns.HasName(ref.Name) {
			if target, ok := m.named[ref.Name]; ok {
				visiting[ref.Name] = struct{}{}
				m.addType(ns, visiting, target)
				delete(visiting, ref.Name)
			}
		}
	}
}

// MemoryNamespace is an in-memory TypeNamespace, used by the CLI and in
// tests.
type MemoryNamespace struct {
	byID   map[string]*signature.Type
	byName map[string]*signature.Type
}

func NewMemoryNamespace() *MemoryNamespace {
	return &MemoryNamespace{
		byID:   make(map[string]*signature.Type),
		byName: make(map[string]*signature.Type),
	}
}

func (n *MemoryNamespace) HasID(id string) bool {
	_, ok := n.byID[id]
	return ok
}

func (n *MemoryNamespace) HasName(name string) bool {
	_, ok := n.byName[name]
	return ok
}

func (n *MemoryNamespace) Define(id, name string, t *signature.Type) {
	n.byID[id] = t
	n.byName[name] = t
}

// Len is the number of defined type IDs.
func (n *MemoryNamespace) Len() int {
	return len(n.byID)
}
