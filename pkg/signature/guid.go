package signature

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// namespace for content-derived type GUIDs (UUIDv5)
var typeNamespace = uuid.MustParse("6e084e3f-79fa-4a5c-9b6a-5165fbe14d74")

// GUID is a 128-bit content-derived identifier. It is used both for
// function/basic-block fingerprints and for type descriptors.
type GUID [16]byte

func (g GUID) IsZero() bool {
	return g == GUID{}
}

func (g GUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", g[0:4], g[4:6], g[6:8], g[8:10], g[10:16])
}

func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *GUID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("failed to parse GUID %q: %v", string(text), err)
	}
	*g = GUID(u)
	return nil
}

// ParseGUID parses the canonical hyphenated form.
func ParseGUID(s string) (GUID, error) {
	var g GUID
	if err := g.UnmarshalText([]byte(s)); err != nil {
		return GUID{}, err
	}
	return g, nil
}

// MustGUID is a test/init helper that panics on a malformed GUID string.
func MustGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// TypeGUIDFor computes the content-derived GUID for a type descriptor.
// Two structurally identical descriptors always produce the same GUID.
func TypeGUIDFor(t *Type) GUID {
	data, err := json.Marshal(t)
	if err != nil {
		// Type descriptors are plain data; this cannot fail for a valid one.
		panic(fmt.Sprintf("failed to canonicalize type descriptor: %v", err))
	}
	return GUID(uuid.NewSHA1(typeNamespace, data))
}
