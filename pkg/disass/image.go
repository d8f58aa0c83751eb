package disass

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blacktop/sigkit/pkg/signature"
)

var ErrUnsupportedTarget = errors.New("target not supported")
var ErrUnsupportedArch = errors.New("architecture not supported")

type imageSection struct {
	name string
	addr uint64
	size uint64
	data []byte
}

// Image is a loaded-binary model implementing View. Loaders (ELF, Mach-O)
// populate sections, symbols and function boundaries; Analyze decodes the
// machine code into basic blocks and call targets.
type Image struct {
	platform string
	maxLen   int
	sections []imageSection
	symbols  map[uint64]signature.Symbol
	dataVars map[uint64]struct{}
	funcs    []*imageFunction
	byStart  map[uint64]*imageFunction
}

func newImage(platform string) *Image {
	return &Image{
		platform: platform,
		maxLen:   maxInstrLenAMD64,
		symbols:  make(map[uint64]signature.Symbol),
		dataVars: make(map[uint64]struct{}),
		byStart:  make(map[uint64]*imageFunction),
	}
}

func (img *Image) addSection(name string, addr uint64, data []byte) {
	img.sections = append(img.sections, imageSection{name: name, addr: addr, size: uint64(len(data)), data: data})
}

func (img *Image) addFunction(sym signature.Symbol, start, end uint64, typ *signature.Type) *imageFunction {
	if fn, ok := img.byStart[start]; ok {
		return fn
	}
	fn := &imageFunction{img: img, sym: sym, typ: typ, start: start, end: end}
	img.funcs = append(img.funcs, fn)
	img.byStart[start] = fn
	return fn
}

func (img *Image) sortFunctions() {
	sort.Slice(img.funcs, func(i, j int) bool {
		return img.funcs[i].start < img.funcs[j].start
	})
}

// Functions returns the image's functions in ascending address order.
func (img *Image) Functions() []Function {
	fns := make([]Function, len(img.funcs))
	for i, fn := range img.funcs {
		fns[i] = fn
	}
	return fns
}

func (img *Image) ReadBytes(addr uint64, n int) ([]byte, error) {
	for _, sec := range img.sections {
		if addr >= sec.addr && addr < sec.addr+sec.size {
			off := addr - sec.addr
			end := off + uint64(n)
			if end > sec.size {
				end = sec.size
			}
			out := make([]byte, end-off)
			copy(out, sec.data[off:end])
			return out, nil
		}
	}
	return nil, fmt.Errorf("address %#x is not mapped", addr)
}

func (img *Image) MaxInstrLen() int {
	return img.maxLen
}

func (img *Image) InSection(value uint64) bool {
	for _, sec := range img.sections {
		if value >= sec.addr && value < sec.addr+sec.size {
			return true
		}
	}
	return false
}

func (img *Image) IsFunctionAddr(value uint64) bool {
	_, ok := img.byStart[value]
	return ok
}

func (img *Image) IsDataVarAddr(value uint64) bool {
	_, ok := img.dataVars[value]
	return ok
}

func (img *Image) FunctionAt(addr uint64) Function {
	idx := sort.Search(len(img.funcs), func(i int) bool {
		return img.funcs[i].start > addr
	})
	if idx == 0 {
		return nil
	}
	if fn := img.funcs[idx-1]; addr < fn.end {
		return fn
	}
	return nil
}

func (img *Image) Platform() string {
	return img.platform
}

type imageFunction struct {
	img       *Image
	sym       signature.Symbol
	typ       *signature.Type
	start     uint64
	end       uint64
	blocks    []BasicBlock
	callAddrs []uint64
	calls     []CallTarget
}

func (f *imageFunction) View() View                { return f.img }
func (f *imageFunction) Symbol() signature.Symbol  { return f.sym }
func (f *imageFunction) Type() *signature.Type     { return f.typ }
func (f *imageFunction) Start() uint64             { return f.start }
func (f *imageFunction) End() uint64               { return f.end }
func (f *imageFunction) BasicBlocks() []BasicBlock { return f.blocks }
func (f *imageFunction) CallTargets() []CallTarget { return f.calls }

type imageBlock struct {
	start  uint64
	end    uint64
	instrs []Instruction
}

func (b *imageBlock) Start() uint64               { return b.start }
func (b *imageBlock) End() uint64                 { return b.end }
func (b *imageBlock) Instructions() []Instruction { return b.instrs }

type imageInstr struct {
	addr   uint64
	length int
	il     *ILInfo
}

func (i *imageInstr) Address() uint64 { return i.addr }
func (i *imageInstr) Length() int     { return i.length }
func (i *imageInstr) IL() *ILInfo     { return i.il }
