// Package fingerprint computes relocation-tolerant content fingerprints
// for basic blocks and functions. NOP-equivalent instructions are elided
// and instructions embedding relocatable constants are masked to zeros, so
// the same code fingerprints identically across link addresses and
// hot-patch padding.
package fingerprint

import (
	"encoding/binary"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/signature"
	"github.com/twmb/murmur3"
)

// Digest seed; bump if the fingerprint input format ever changes, so old
// bundles cannot silently mismatch.
const hashSeed uint64 = 0x7369676b69740001

func digest(data []byte) signature.GUID {
	h1, h2 := murmur3.SeedSum128(hashSeed, hashSeed, data)
	var g signature.GUID
	binary.BigEndian.PutUint64(g[:8], h1)
	binary.BigEndian.PutUint64(g[8:], h2)
	return g
}

// BasicBlock computes the fingerprint of one basic block. A block whose
// instructions are all elided still yields the definite digest of the
// empty buffer.
func BasicBlock(bb disass.BasicBlock, view disass.View) (signature.GUID, error) {
	buf := make([]byte, 0, bb.End()-bb.Start())
	for _, instr := range bb.Instructions() {
		raw, err := view.ReadBytes(instr.Address(), view.MaxInstrLen())
		if err != nil {
			return signature.GUID{}, fmt.Errorf("failed to read instruction at %#x: %v", instr.Address(), err)
		}
		n := instr.Length()
		if n <= 0 || n > len(raw) {
			log.WithField("address", fmt.Sprintf("%#x", instr.Address())).Debug("instruction length out of range")
			continue
		}
		raw = raw[:n]

		il := instr.IL()
		if il == nil {
			// No IL means the lifter gave up; nothing to account for.
			continue
		}
		if isElided(il) {
			continue
		}
		if isVariant(il, view) {
			// Mask the whole instruction; its presence and length still
			// count, its relocated operand does not.
			for i := range raw {
				raw[i] = 0
			}
		}
		buf = append(buf, raw...)
	}
	return digest(buf), nil
}

// isElided reports whether the instruction contributes zero bytes: a
// no-op, or a register-to-itself move the architecture gives no implicit
// extend side effect on write.
func isElided(il *disass.ILInfo) bool {
	switch il.Kind {
	case disass.ILNop:
		return true
	case disass.ILSetReg:
		return il.SrcReg != nil &&
			il.SrcReg.Name == il.Dest.Name &&
			!il.Dest.ImplicitExtend
	}
	return false
}

// isVariant reports whether the instruction's expression tree contains a
// value that would be promoted to a relocation: a constant pointer into a
// section, an external pointer, or a constant coinciding with a function
// or data-variable address.
func isVariant(il *disass.ILInfo, view disass.View) bool {
	return il.Root.Visit(func(e *disass.Expr) bool {
		switch e.Kind {
		case disass.ExprConstPtr:
			return view.InSection(e.Value)
		case disass.ExprExternPtr:
			return true
		case disass.ExprConst:
			return view.InSection(e.Value) || view.IsFunctionAddr(e.Value) || view.IsDataVarAddr(e.Value)
		}
		return false
	})
}

// Function composes block fingerprints, in ascending start-address order,
// into the function fingerprint.
func Function(fn disass.Function) (signature.GUID, error) {
	view := fn.View()
	blocks := disass.SortedBasicBlocks(fn)
	buf := make([]byte, 0, len(blocks)*16)
	for _, bb := range blocks {
		guid, err := BasicBlock(bb, view)
		if err != nil {
			return signature.GUID{}, err
		}
		buf = append(buf, guid[:]...)
	}
	return digest(buf), nil
}
