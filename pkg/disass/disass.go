// Package disass is the narrow surface the signature engine reads from a
// disassembler: per-function basic blocks, per-instruction byte ranges and
// IL effects, and address lookups for relocation detection. Any backend
// satisfying these interfaces can supply fingerprinting inputs; this
// package ships an x86-64 backend fed by ELF and Mach-O loaders.
package disass

import (
	"sort"

	"github.com/blacktop/sigkit/pkg/signature"
)

// View is the slice of an analyzed program the engine reads from. The
// engine only borrows a view during a call; it never owns one.
type View interface {
	// ReadBytes reads up to n bytes at addr. Short reads at the end of a
	// section are not an error.
	ReadBytes(addr uint64, n int) ([]byte, error)

	// MaxInstrLen is the architecture's maximum instruction length.
	MaxInstrLen() int

	// InSection reports whether value lands inside a known section, i.e.
	// would be relocated at link time.
	InSection(value uint64) bool

	// IsFunctionAddr reports whether value is a known function start.
	IsFunctionAddr(value uint64) bool

	// IsDataVarAddr reports whether value is a known data variable address.
	IsDataVarAddr(value uint64) bool

	// FunctionAt returns the function whose address range contains addr,
	// or nil.
	FunctionAt(addr uint64) Function

	// Platform is the execution context these functions belong to.
	Platform() string
}

// Function is one analyzed function.
type Function interface {
	View() View
	Symbol() signature.Symbol
	Type() *signature.Type

	// Start is the lowest address of the function's range. It also serves
	// as the function's identity within its view.
	Start() uint64

	// End is the exclusive upper bound of the function's range.
	End() uint64

	// BasicBlocks returns the function's basic blocks in no particular
	// order; callers that need determinism must sort.
	BasicBlocks() []BasicBlock

	// CallTargets returns the distinct callees observed at call
	// instructions, in call-site order.
	CallTargets() []CallTarget
}

// BasicBlock is a run of instructions with a single entry and exit.
type BasicBlock interface {
	Start() uint64
	End() uint64

	// Instructions in program order.
	Instructions() []Instruction
}

// Instruction is one decoded instruction and its IL-level effect.
type Instruction interface {
	Address() uint64

	// Length is the decoded instruction length in bytes.
	Length() int

	// IL describes the instruction's effect; nil when lifting failed, in
	// which case the instruction contributes nothing to a fingerprint.
	IL() *ILInfo
}

// ILKind classifies an instruction's IL form.
type ILKind int

const (
	ILOther ILKind = iota
	ILNop
	ILSetReg
)

// Register identifies an architecture register and whether the
// architecture implicitly zero/sign-extends it on write.
type Register struct {
	Name           string
	ImplicitExtend bool
}

// ILInfo is the IL-level description of one instruction.
type ILInfo struct {
	Kind ILKind

	// For ILSetReg: destination register, and source register when the
	// source expression is a plain register read.
	Dest   Register
	SrcReg *Register

	// Root of the operand expression tree; nil when the instruction has
	// no operand expressions.
	Root *Expr
}

// ExprKind classifies an operand expression node.
type ExprKind int

const (
	ExprOther ExprKind = iota
	ExprConst
	ExprConstPtr
	ExprExternPtr
)

// Expr is a node in an instruction's operand expression tree.
type Expr struct {
	Kind     ExprKind
	Value    uint64
	Children []*Expr
}

// Visit walks the expression tree depth-first, halting at the first node
// for which fn returns true. It reports whether the walk halted.
func (e *Expr) Visit(fn func(*Expr) bool) bool {
	if e == nil {
		return false
	}
	if fn(e) {
		return true
	}
	for _, child := range e.Children {
		if child.Visit(fn) {
			return true
		}
	}
	return false
}

// CallTarget is one callee observed at a call instruction.
type CallTarget struct {
	// Address of the callee.
	Addr uint64

	// The resolved callee function, nil when unresolved.
	Target Function

	// The callee's symbol, nil when unknown.
	Symbol *signature.Symbol
}

// SortedBasicBlocks returns fn's basic blocks sorted by ascending start
// address. Fingerprints are computed over this order, not layout order.
func SortedBasicBlocks(fn Function) []BasicBlock {
	blocks := append([]BasicBlock(nil), fn.BasicBlocks()...)
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Start() < blocks[j].Start()
	})
	return blocks
}
