// Package signature defines the portable signature bundle: functions with
// content-derived fingerprints, structural constraints, and the type
// descriptors they reference.
package signature

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Ext is the bundle file extension; one logical unit (e.g. one static
// library) maps to one bundle file.
const Ext = ".sbin"

const (
	magic         = "SBIN"
	formatVersion = 1
)

var ErrBadMagic = errors.New("not a signature bundle")
var ErrBadVersion = errors.New("unsupported signature bundle version")

// Data is a portable bundle of signature functions plus the type
// descriptors they reference.
type Data struct {
	// The signature functions.
	Functions []Function `json:"functions"`

	// Referenced type descriptors, keyed by content GUID.
	Types []ComputedType `json:"types,omitempty"`
}

type envelope struct {
	Magic   string `json:"magic"`
	Version int    `json:"version"`
	Data
}

// Merge concatenates the given bundles. No deduplication happens at this
// stage; the matcher dedups at index-build time.
func Merge(chunks []*Data) *Data {
	merged := &Data{}
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		merged.Functions = append(merged.Functions, chunk.Functions...)
		merged.Types = append(merged.Types, chunk.Types...)
	}
	return merged
}

// ToBytes serializes the bundle with a self-describing, versioned encoding.
func (d *Data) ToBytes() ([]byte, error) {
	data, err := json.Marshal(envelope{Magic: magic, Version: formatVersion, Data: *d})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signature data: %v", err)
	}
	return data, nil
}

// FromBytes deserializes a bundle produced by ToBytes.
func FromBytes(data []byte) (*Data, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse signature data: %v", err)
	}
	if env.Magic != magic {
		return nil, ErrBadMagic
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, env.Version)
	}
	return &env.Data, nil
}

// ResolveGUIDs fills in constraint fingerprints that were unknown at
// extraction time by looking up the constraint's symbol name among the
// merged functions. Archive symbols are treated as weak, so when two
// members define the same name the last write wins. Constraints that still
// lack both symbol and fingerprint are left empty.
//
// Running the pass twice produces no further changes.
func (d *Data) ResolveGUIDs() {
	guids := make(map[string]GUID, len(d.Functions))
	for _, fn := range d.Functions {
		guids[fn.Symbol.Name] = fn.GUID
	}

	resolve := func(constraints []Constraint) {
		for i, c := range constraints {
			if c.GUID.IsZero() && c.Symbol != nil {
				if guid, ok := guids[c.Symbol.Name]; ok {
					constraints[i].GUID = guid
				}
			}
		}
	}

	for i := range d.Functions {
		resolve(d.Functions[i].Constraints.CallSites)
		resolve(d.Functions[i].Constraints.Adjacent)
	}
}
