package fingerprint

import (
	"testing"

	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/signature"
)

type fakeView struct {
	code      map[uint64][]byte
	sections  [][2]uint64
	funcAddrs map[uint64]bool
	dataAddrs map[uint64]bool
	funcs     []*fakeFunc
}

func newFakeView() *fakeView {
	return &fakeView{
		code:      make(map[uint64][]byte),
		funcAddrs: make(map[uint64]bool),
		dataAddrs: make(map[uint64]bool),
	}
}

func (v *fakeView) ReadBytes(addr uint64, n int) ([]byte, error) {
	raw := v.code[addr]
	if n > len(raw) {
		n = len(raw)
	}
	out := make([]byte, n)
	copy(out, raw[:n])
	return out, nil
}

func (v *fakeView) MaxInstrLen() int { return 15 }

func (v *fakeView) InSection(value uint64) bool {
	for _, sec := range v.sections {
		if value >= sec[0] && value < sec[1] {
			return true
		}
	}
	return false
}

func (v *fakeView) IsFunctionAddr(value uint64) bool { return v.funcAddrs[value] }
func (v *fakeView) IsDataVarAddr(value uint64) bool  { return v.dataAddrs[value] }
func (v *fakeView) Platform() string                 { return "test" }

func (v *fakeView) FunctionAt(addr uint64) disass.Function {
	for _, fn := range v.funcs {
		if addr >= fn.start && addr < fn.end {
			return fn
		}
	}
	return nil
}

type fakeFunc struct {
	view   *fakeView
	sym    signature.Symbol
	start  uint64
	end    uint64
	blocks []disass.BasicBlock
	calls  []disass.CallTarget
}

func (f *fakeFunc) View() disass.View                { return f.view }
func (f *fakeFunc) Symbol() signature.Symbol         { return f.sym }
func (f *fakeFunc) Type() *signature.Type            { return nil }
func (f *fakeFunc) Start() uint64                    { return f.start }
func (f *fakeFunc) End() uint64                      { return f.end }
func (f *fakeFunc) BasicBlocks() []disass.BasicBlock { return f.blocks }
func (f *fakeFunc) CallTargets() []disass.CallTarget { return f.calls }

type fakeBlock struct {
	start  uint64
	end    uint64
	instrs []disass.Instruction
}

func (b *fakeBlock) Start() uint64                      { return b.start }
func (b *fakeBlock) End() uint64                        { return b.end }
func (b *fakeBlock) Instructions() []disass.Instruction { return b.instrs }

type fakeInstr struct {
	addr   uint64
	length int
	il     *disass.ILInfo
}

func (i *fakeInstr) Address() uint64    { return i.addr }
func (i *fakeInstr) Length() int        { return i.length }
func (i *fakeInstr) IL() *disass.ILInfo { return i.il }

// addFunc lays the instruction byte sequences out contiguously at start
// and wraps them in a single basic block.
func addFunc(v *fakeView, name string, start uint64, instrs []fakeInstrSpec) *fakeFunc {
	addr := start
	block := &fakeBlock{start: start}
	for _, spec := range instrs {
		v.code[addr] = spec.bytes
		block.instrs = append(block.instrs, &fakeInstr{addr: addr, length: len(spec.bytes), il: spec.il})
		addr += uint64(len(spec.bytes))
	}
	block.end = addr
	fn := &fakeFunc{
		view:   v,
		sym:    signature.Symbol{Name: name, Class: signature.SymbolFunction},
		start:  start,
		end:    addr,
		blocks: []disass.BasicBlock{block},
	}
	v.funcs = append(v.funcs, fn)
	return fn
}

type fakeInstrSpec struct {
	bytes []byte
	il    *disass.ILInfo
}

func plain(bytes ...byte) fakeInstrSpec {
	return fakeInstrSpec{bytes: bytes, il: &disass.ILInfo{Kind: disass.ILOther}}
}

func nop(bytes ...byte) fakeInstrSpec {
	return fakeInstrSpec{bytes: bytes, il: &disass.ILInfo{Kind: disass.ILNop}}
}

func regMove(dest string, extend bool, bytes ...byte) fakeInstrSpec {
	src := disass.Register{Name: dest, ImplicitExtend: extend}
	return fakeInstrSpec{bytes: bytes, il: &disass.ILInfo{
		Kind:   disass.ILSetReg,
		Dest:   disass.Register{Name: dest, ImplicitExtend: extend},
		SrcReg: &src,
	}}
}

func constPtr(value uint64, bytes ...byte) fakeInstrSpec {
	return fakeInstrSpec{bytes: bytes, il: &disass.ILInfo{
		Kind: disass.ILOther,
		Root: &disass.Expr{Kind: disass.ExprOther, Children: []*disass.Expr{
			{Kind: disass.ExprConstPtr, Value: value},
		}},
	}}
}

func TestDeterminism(t *testing.T) {
	v := newFakeView()
	fn := addFunc(v, "f", 0x1000, []fakeInstrSpec{
		plain(0x55),
		plain(0x48, 0x89, 0xe5),
		plain(0x5d),
		plain(0xc3),
	})
	first, err := Function(fn)
	if err != nil {
		t.Fatalf("Function() error: %v", err)
	}
	second, err := Function(fn)
	if err != nil {
		t.Fatalf("Function() error: %v", err)
	}
	if first != second {
		t.Errorf("fingerprint not deterministic: %s vs %s", first, second)
	}
}

func TestAddressIndependence(t *testing.T) {
	// Identical code at different virtual addresses must fingerprint
	// identically.
	v1 := newFakeView()
	low := addFunc(v1, "f", 0x1000, []fakeInstrSpec{plain(0x55), plain(0xc3)})
	v2 := newFakeView()
	high := addFunc(v2, "f", 0x400000, []fakeInstrSpec{plain(0x55), plain(0xc3)})

	a, _ := Function(low)
	b, _ := Function(high)
	if a != b {
		t.Errorf("fingerprint depends on virtual address: %s vs %s", a, b)
	}
}

func TestNopInvariance(t *testing.T) {
	base := []fakeInstrSpec{plain(0x55), plain(0x5d), plain(0xc3)}
	withNop := []fakeInstrSpec{plain(0x55), nop(0x90), plain(0x5d), plain(0xc3)}

	v1 := newFakeView()
	a, _ := Function(addFunc(v1, "f", 0x1000, base))
	v2 := newFakeView()
	b, _ := Function(addFunc(v2, "f", 0x1000, withNop))
	if a != b {
		t.Errorf("inserted NOP changed the fingerprint: %s vs %s", a, b)
	}
}

func TestRegMoveElision(t *testing.T) {
	base := []fakeInstrSpec{plain(0x55), plain(0xc3)}
	// mov rdi, rdi has no side effect on x86-64; removable.
	noExtend := []fakeInstrSpec{plain(0x55), regMove("rdi", false, 0x48, 0x89, 0xff), plain(0xc3)}
	// mov edi, edi zeroes the upper 32 bits; must count.
	extend := []fakeInstrSpec{plain(0x55), regMove("edi", true, 0x89, 0xff), plain(0xc3)}

	v1 := newFakeView()
	a, _ := Function(addFunc(v1, "f", 0x1000, base))
	v2 := newFakeView()
	b, _ := Function(addFunc(v2, "f", 0x1000, noExtend))
	v3 := newFakeView()
	c, _ := Function(addFunc(v3, "f", 0x1000, extend))

	if a != b {
		t.Errorf("no-extend register self-move changed the fingerprint: %s vs %s", a, b)
	}
	if a == c {
		t.Error("extending register self-move did not change the fingerprint")
	}
}

func TestRelocationInvariance(t *testing.T) {
	// Two otherwise-identical functions differing only in the literal
	// value of a section-resident pointer must fingerprint identically.
	v1 := newFakeView()
	v1.sections = [][2]uint64{{0x1000, 0x9000}}
	a, _ := Function(addFunc(v1, "f", 0x1000, []fakeInstrSpec{
		plain(0x55),
		constPtr(0x2000, 0x48, 0x8b, 0x05, 0xf5, 0x0f, 0x00, 0x00),
		plain(0xc3),
	}))

	v2 := newFakeView()
	v2.sections = [][2]uint64{{0x5000, 0xd000}}
	b, _ := Function(addFunc(v2, "f", 0x5000, []fakeInstrSpec{
		plain(0x55),
		constPtr(0x6000, 0x48, 0x8b, 0x05, 0xf5, 0x0f, 0x00, 0x40),
		plain(0xc3),
	}))

	if a != b {
		t.Errorf("shifted pointer literal changed the fingerprint: %s vs %s", a, b)
	}

	// A pointer outside any section is a plain constant and must count.
	v3 := newFakeView()
	v3.sections = [][2]uint64{{0x1000, 0x9000}}
	c, _ := Function(addFunc(v3, "f", 0x1000, []fakeInstrSpec{
		plain(0x55),
		constPtr(0xdeadbeef, 0x48, 0x8b, 0x05, 0xf5, 0x0f, 0x00, 0x00),
		plain(0xc3),
	}))
	if a == c {
		t.Error("non-relocatable pointer was masked")
	}
}

func TestVariantConstPromotion(t *testing.T) {
	// A constant that coincides with a known function address would be
	// promoted to a relocation; the instruction must be masked.
	build := func(funcAddr bool) signature.GUID {
		v := newFakeView()
		if funcAddr {
			v.funcAddrs[0x4242] = true
		}
		spec := fakeInstrSpec{bytes: []byte{0xb8, 0x42, 0x42, 0x00, 0x00}, il: &disass.ILInfo{
			Kind: disass.ILOther,
			Root: &disass.Expr{Kind: disass.ExprOther, Children: []*disass.Expr{
				{Kind: disass.ExprConst, Value: 0x4242},
			}},
		}}
		guid, _ := Function(addFunc(v, "f", 0x1000, []fakeInstrSpec{plain(0x55), spec, plain(0xc3)}))
		return guid
	}
	if build(true) == build(false) {
		t.Error("function-address constant was not masked")
	}
}

func TestEmptyBlock(t *testing.T) {
	// A function whose every instruction is elided still fingerprints,
	// and collapses with any other all-elided function.
	v1 := newFakeView()
	a, err := Function(addFunc(v1, "f", 0x1000, []fakeInstrSpec{nop(0x90), nop(0x90)}))
	if err != nil {
		t.Fatalf("Function() error: %v", err)
	}
	v2 := newFakeView()
	b, _ := Function(addFunc(v2, "g", 0x2000, []fakeInstrSpec{nop(0x66, 0x90)}))
	if a != b {
		t.Errorf("all-elided functions did not collapse: %s vs %s", a, b)
	}
}

func TestBlockOrderIsAddressOrder(t *testing.T) {
	// Blocks listed out of order must still hash in ascending
	// start-address order.
	v := newFakeView()
	v.code[0x1000] = []byte{0x55}
	v.code[0x1001] = []byte{0xc3}
	blockA := &fakeBlock{start: 0x1000, end: 0x1001, instrs: []disass.Instruction{
		&fakeInstr{addr: 0x1000, length: 1, il: &disass.ILInfo{Kind: disass.ILOther}},
	}}
	blockB := &fakeBlock{start: 0x1001, end: 0x1002, instrs: []disass.Instruction{
		&fakeInstr{addr: 0x1001, length: 1, il: &disass.ILInfo{Kind: disass.ILOther}},
	}}
	inOrder := &fakeFunc{view: v, start: 0x1000, end: 0x1002, blocks: []disass.BasicBlock{blockA, blockB}}
	reversed := &fakeFunc{view: v, start: 0x1000, end: 0x1002, blocks: []disass.BasicBlock{blockB, blockA}}

	a, _ := Function(inOrder)
	b, _ := Function(reversed)
	if a != b {
		t.Errorf("block enumeration order changed the fingerprint: %s vs %s", a, b)
	}
}

func TestCacheComputesOnce(t *testing.T) {
	v := newFakeView()
	fn := addFunc(v, "f", 0x1000, []fakeInstrSpec{plain(0x55), plain(0xc3)})
	cache := NewCache()
	first, err := cache.FunctionGUID(fn)
	if err != nil {
		t.Fatalf("FunctionGUID() error: %v", err)
	}
	// Mutate the underlying bytes; the cached digest must survive.
	v.code[0x1000] = []byte{0x90}
	second, _ := cache.FunctionGUID(fn)
	if first != second {
		t.Error("cache recomputed the fingerprint")
	}
	cache.Invalidate()
	third, _ := cache.FunctionGUID(fn)
	if first == third {
		t.Error("invalidate did not drop the cached fingerprint")
	}
}

func TestCallSiteConstraints(t *testing.T) {
	v := newFakeView()
	callee := addFunc(v, "callee", 0x2000, []fakeInstrSpec{plain(0x31, 0xc0), plain(0xc3)})
	calleeSym := callee.Symbol()
	caller := addFunc(v, "caller", 0x1000, []fakeInstrSpec{plain(0x55), plain(0xc3)})
	caller.calls = []disass.CallTarget{{Addr: 0x2000, Target: callee, Symbol: &calleeSym}}

	cache := NewCache()
	constraints := cache.CallSiteConstraints(caller)
	if len(constraints) != 1 {
		t.Fatalf("got %d constraints, want 1", len(constraints))
	}
	want, _ := cache.FunctionGUID(callee)
	if constraints[0].GUID != want {
		t.Errorf("constraint GUID = %s, want %s", constraints[0].GUID, want)
	}
	if constraints[0].Symbol == nil || constraints[0].Symbol.Name != "callee" {
		t.Errorf("constraint symbol = %+v, want callee", constraints[0].Symbol)
	}
}

func TestAdjacencyConstraints(t *testing.T) {
	v := newFakeView()
	addFunc(v, "prev", 0x0ff0, []fakeInstrSpec{plain(0x90)})           // ends at 0x0ff1
	addFunc(v, "before", 0x0fff, []fakeInstrSpec{plain(0x90)})         // directly adjacent below
	fn := addFunc(v, "f", 0x1000, []fakeInstrSpec{plain(0x55), plain(0xc3)})
	addFunc(v, "after", 0x1002, []fakeInstrSpec{plain(0xc3)})

	cache := NewCache()
	got := cache.AdjacencyConstraints(fn, func(disass.Function) bool { return true })
	if len(got) != 2 {
		t.Fatalf("got %d adjacency constraints, want 2", len(got))
	}
	if got[0].Symbol.Name != "before" || got[1].Symbol.Name != "after" {
		t.Errorf("adjacency = [%s %s], want [before after]", got[0].Symbol.Name, got[1].Symbol.Name)
	}

	named := cache.AdjacencyConstraints(fn, func(f disass.Function) bool {
		return f.Symbol().Name != "after"
	})
	if len(named) != 1 || named[0].Symbol.Name != "before" {
		t.Errorf("filtered adjacency = %+v, want only before", named)
	}
}

func TestBuildFunctionCallerSitesEmpty(t *testing.T) {
	v := newFakeView()
	fn := addFunc(v, "f", 0x1000, []fakeInstrSpec{plain(0x55), plain(0xc3)})
	cache := NewCache()
	sf, err := cache.BuildFunction(fn)
	if err != nil {
		t.Fatalf("BuildFunction() error: %v", err)
	}
	if len(sf.Constraints.CallerSites) != 0 {
		t.Error("caller sites must stay empty")
	}
	if sf.Symbol.Name != "f" {
		t.Errorf("symbol = %s, want f", sf.Symbol.Name)
	}
}
