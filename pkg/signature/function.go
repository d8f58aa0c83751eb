package signature

import "reflect"

// Constraint references another function structurally related to the one
// being described, by fingerprint and/or symbol. At least one of the two
// should eventually be populated for the constraint to be useful.
type Constraint struct {
	// Fingerprint of the referenced function, if known at creation time.
	GUID GUID `json:"guid,omitzero"`

	// Symbol of the referenced function, if known.
	Symbol *Symbol `json:"symbol,omitempty"`

	// Offset from the described function, where meaningful.
	Offset int64 `json:"offset,omitempty"`
}

// Constraints is the structural context of a function, used to
// disambiguate fingerprint collisions during matching.
type Constraints struct {
	// One entry per distinct observed callee, in call-site order.
	CallSites []Constraint `json:"call_sites,omitempty"`

	// Functions laid out directly adjacent in address order.
	Adjacent []Constraint `json:"adjacent,omitempty"`

	// Reserved; requires a completed whole-program analysis pass.
	CallerSites []Constraint `json:"caller_sites,omitempty"`
}

// Function is one signature database entry. Immutable once stored.
type Function struct {
	// The function fingerprint.
	GUID GUID `json:"guid"`

	// The function symbol.
	Symbol Symbol `json:"symbol"`

	// The function type descriptor.
	Type *Type `json:"type,omitempty"`

	// Structural context for collision disambiguation.
	Constraints Constraints `json:"constraints,omitzero"`
}

// TypeEqual reports whether two functions carry structurally identical
// type descriptors.
func (f *Function) TypeEqual(other *Function) bool {
	return reflect.DeepEqual(f.Type, other.Type)
}
