package signature

// SymbolClass classifies what a symbol names.
type SymbolClass string

const (
	SymbolFunction        SymbolClass = "function"
	SymbolLibraryFunction SymbolClass = "library_function"
	SymbolImport          SymbolClass = "import"
	SymbolData            SymbolClass = "data"
)

// Symbol is the name/classification of a function or data reference.
// Names are NOT unique; archive members may carry weak duplicates.
type Symbol struct {
	// The symbol name.
	Name string `json:"name"`

	// The symbol classification.
	Class SymbolClass `json:"class"`
}

// TypeClass is the structural class tag of a type descriptor.
type TypeClass string

const (
	TypeVoid        TypeClass = "void"
	TypeBool        TypeClass = "bool"
	TypeInteger     TypeClass = "int"
	TypeCharacter   TypeClass = "char"
	TypeFloat       TypeClass = "float"
	TypePointer     TypeClass = "pointer"
	TypeArray       TypeClass = "array"
	TypeStructure   TypeClass = "struct"
	TypeEnumeration TypeClass = "enum"
	TypeUnion       TypeClass = "union"
	TypeFunction    TypeClass = "function"
	TypeReferrer    TypeClass = "ref"
)

// Type is a structural type descriptor. Exactly one class payload is
// populated, matching the Class tag.
type Type struct {
	// Optional type name.
	Name string `json:"name,omitempty"`

	// The structural class tag.
	Class TypeClass `json:"class"`

	// Width in bytes for sized primitives.
	Size uint64 `json:"size,omitempty"`

	// Signedness for integer/char types.
	Signed bool `json:"signed,omitempty"`

	Pointer     *PointerClass     `json:"pointer,omitempty"`
	Array       *ArrayClass       `json:"array,omitempty"`
	Structure   *StructureClass   `json:"struct,omitempty"`
	Enumeration *EnumerationClass `json:"enum,omitempty"`
	Union       *UnionClass       `json:"union,omitempty"`
	Function    *FunctionClass    `json:"func,omitempty"`
	Referrer    *ReferrerClass    `json:"ref,omitempty"`
}

type PointerClass struct {
	// Pointer width in bytes.
	Width uint64 `json:"width,omitempty"`

	// The pointed-to type.
	ChildType *Type `json:"child_type"`
}

type ArrayClass struct {
	// The element type.
	MemberType *Type `json:"member_type"`

	// Number of elements.
	Length uint64 `json:"length"`
}

type StructureMember struct {
	Name   string `json:"name,omitempty"`
	Offset uint64 `json:"offset"`
	Type   *Type  `json:"type"`
}

type StructureClass struct {
	Members []StructureMember `json:"members"`
}

type EnumerationMember struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

type EnumerationClass struct {
	// The underlying integer type.
	MemberType *Type `json:"member_type"`

	Members []EnumerationMember `json:"members,omitempty"`
}

type UnionClass struct {
	Members []StructureMember `json:"members"`
}

type FunctionMember struct {
	Name string `json:"name,omitempty"`
	Type *Type  `json:"type"`
}

type FunctionClass struct {
	// Return value members.
	OutMembers []FunctionMember `json:"out_members,omitempty"`

	// Parameter members.
	InMembers []FunctionMember `json:"in_members,omitempty"`
}

// ReferrerClass points at another descriptor by content GUID and/or name.
// GUID references cannot self-reference; only name references can form
// cycles, which type materialization guards against.
type ReferrerClass struct {
	GUID GUID   `json:"guid,omitzero"`
	Name string `json:"name,omitempty"`
}

// ComputedType pairs a type descriptor with its content-derived GUID.
type ComputedType struct {
	GUID GUID  `json:"guid"`
	Type *Type `json:"type"`
}

// NewComputedType computes the GUID for the given descriptor.
func NewComputedType(t *Type) ComputedType {
	return ComputedType{GUID: TypeGUIDFor(t), Type: t}
}
