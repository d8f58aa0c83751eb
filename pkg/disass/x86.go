package disass

import (
	"sort"

	"github.com/apex/log"
	"golang.org/x/arch/x86/x86asm"
)

const maxInstrLenAMD64 = 15

// conditional branches end a basic block but fall through
var condBranches = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JG: true, x86asm.JGE: true, x86asm.JL: true,
	x86asm.JLE: true, x86asm.JNE: true, x86asm.JNO: true, x86asm.JNP: true,
	x86asm.JNS: true, x86asm.JO: true, x86asm.JP: true, x86asm.JS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

func isTerminator(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP, x86asm.UD2:
		return true
	}
	return false
}

type decoded struct {
	addr uint64
	inst x86asm.Inst
}

// analyze decodes every function's span, recovers basic blocks by
// splitting at branches and intra-function branch targets, and records
// direct call targets.
func (img *Image) analyze() {
	img.sortFunctions()
	for _, fn := range img.funcs {
		if err := img.analyzeFunction(fn); err != nil {
			log.WithField("symbol", fn.sym.Name).WithError(err).Debug("skipping function analysis")
		}
	}
	// Call targets resolve against the full function list, so this runs
	// after every function has its boundaries.
	for _, fn := range img.funcs {
		img.resolveCallTargets(fn)
	}
}

func (img *Image) analyzeFunction(fn *imageFunction) error {
	span, err := img.ReadBytes(fn.start, int(fn.end-fn.start))
	if err != nil {
		return err
	}

	var instrs []decoded
	addr := fn.start
	for off := 0; off < len(span); {
		inst, err := x86asm.Decode(span[off:], 64)
		if err != nil {
			// Undecodable byte; it contributes nothing.
			off++
			addr++
			continue
		}
		instrs = append(instrs, decoded{addr: addr, inst: inst})
		off += inst.Len
		addr += uint64(inst.Len)
	}

	leaders := map[uint64]bool{fn.start: true}
	for _, d := range instrs {
		op := d.inst.Op
		if condBranches[op] || op == x86asm.JMP {
			if rel, ok := d.inst.Args[0].(x86asm.Rel); ok {
				target := d.addr + uint64(d.inst.Len) + uint64(int64(rel))
				if target >= fn.start && target < fn.end {
					leaders[target] = true
				}
			}
		}
		if condBranches[op] || isTerminator(op) {
			next := d.addr + uint64(d.inst.Len)
			if next < fn.end {
				leaders[next] = true
			}
		}
	}

	starts := make([]uint64, 0, len(leaders))
	for addr := range leaders {
		starts = append(starts, addr)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	blockFor := func(addr uint64) int {
		idx := sort.Search(len(starts), func(i int) bool { return starts[i] > addr })
		return idx - 1
	}

	blocks := make([]*imageBlock, len(starts))
	for i, start := range starts {
		end := fn.end
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		blocks[i] = &imageBlock{start: start, end: end}
	}
	for _, d := range instrs {
		b := blocks[blockFor(d.addr)]
		b.instrs = append(b.instrs, &imageInstr{
			addr:   d.addr,
			length: d.inst.Len,
			il:     liftInstruction(d.inst, d.addr),
		})
		if d.inst.Op == x86asm.CALL {
			if rel, ok := d.inst.Args[0].(x86asm.Rel); ok {
				fn.callAddrs = append(fn.callAddrs, d.addr+uint64(d.inst.Len)+uint64(int64(rel)))
			}
		}
	}

	fn.blocks = make([]BasicBlock, len(blocks))
	for i, b := range blocks {
		fn.blocks[i] = b
	}
	return nil
}

func (img *Image) resolveCallTargets(fn *imageFunction) {
	seen := make(map[uint64]bool)
	for _, target := range fn.callAddrs {
		if seen[target] {
			continue
		}
		seen[target] = true
		ct := CallTarget{Addr: target, Target: img.FunctionAt(target)}
		if sym, ok := img.symbols[target]; ok {
			ct.Symbol = &sym
		} else if ct.Target != nil {
			sym := ct.Target.Symbol()
			ct.Symbol = &sym
		}
		fn.calls = append(fn.calls, ct)
	}
}

// liftInstruction classifies an instruction's IL effect and builds its
// operand expression tree. Branch targets lift to labels, not constants,
// so only calls and memory/immediate operands produce pointer nodes.
func liftInstruction(inst x86asm.Inst, addr uint64) *ILInfo {
	switch inst.Op {
	case x86asm.NOP, x86asm.FNOP:
		return &ILInfo{Kind: ILNop}
	case x86asm.MOV:
		if dest, ok := inst.Args[0].(x86asm.Reg); ok {
			if src, ok := inst.Args[1].(x86asm.Reg); ok {
				srcReg := regInfo(src)
				return &ILInfo{Kind: ILSetReg, Dest: regInfo(dest), SrcReg: &srcReg}
			}
		}
	}
	return &ILInfo{Kind: ILOther, Root: exprTree(inst, addr)}
}

func exprTree(inst x86asm.Inst, addr uint64) *Expr {
	next := addr + uint64(inst.Len)
	var children []*Expr
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		switch a := arg.(type) {
		case x86asm.Imm:
			children = append(children, &Expr{Kind: ExprConst, Value: uint64(int64(a))})
		case x86asm.Rel:
			if inst.Op == x86asm.CALL || inst.Op == x86asm.LCALL {
				children = append(children, &Expr{Kind: ExprConstPtr, Value: next + uint64(int64(a))})
			}
		case x86asm.Mem:
			switch {
			case a.Base == x86asm.RIP:
				children = append(children, &Expr{Kind: ExprConstPtr, Value: next + uint64(a.Disp)})
			case a.Base == 0 && a.Index == 0:
				children = append(children, &Expr{Kind: ExprConstPtr, Value: uint64(a.Disp)})
			case a.Disp != 0:
				children = append(children, &Expr{Kind: ExprConst, Value: uint64(a.Disp)})
			}
		}
	}
	if len(children) == 0 {
		return nil
	}
	return &Expr{Kind: ExprOther, Children: children}
}

// regInfo reports whether writes to the register implicitly extend. On
// x86-64 a write to a 32-bit register zeroes the upper 32 bits, so
// `mov edi, edi` is not removable while `mov rdi, rdi` is.
func regInfo(r x86asm.Reg) Register {
	return Register{
		Name:           r.String(),
		ImplicitExtend: r >= x86asm.EAX && r <= x86asm.R15L,
	}
}
