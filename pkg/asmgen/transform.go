// Package asmgen expands the remaining pseudo instructions of lowered
// VE code into real instructions. This is the final lowering phase; its
// output only needs printing.
package asmgen

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/asm"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// GOTSymbol is the linker-defined start of the global offset table.
const GOTSymbol = "_GLOBAL_OFFSET_TABLE_"

// Stack extension request. The block hands these to the monitor call
// through the shared memory area that %tp points at.
const (
	growStackCode  = 315
	sharedAreaSlot = 24
)

// Registers the stack extension block may clobber freely.
var (
	shmBase  = regs.S(61)
	saveArg0 = regs.S(62)
	reqCode  = regs.S(63)
)

// TransformFunction expands the pseudo instructions of one function.
// Call frame pseudos and unresolved frame operands are errors here: they
// must be gone once the frame is finished.
func TransformFunction(f *mach.Function) (asm.Function, error) {
	ctx := &genContext{
		fn:        f,
		nextLabel: f.MaxLabel() + 1,
	}

	result := asm.Function{
		Name:   f.Name,
		Global: !f.Local,
		Code:   make([]mach.Instr, 0, len(f.Code)),
	}
	for _, inst := range f.Code {
		instrs, err := ctx.translateInstruction(inst)
		if err != nil {
			return asm.Function{}, err
		}
		result.Code = append(result.Code, instrs...)
	}
	return result, nil
}

// genContext holds state during expansion
type genContext struct {
	fn        *mach.Function
	nextLabel mach.Label
}

// newLabel generates a label unused by the function
func (ctx *genContext) newLabel() mach.Label {
	l := ctx.nextLabel
	ctx.nextLabel++
	return l
}

// translateInstruction expands one instruction
func (ctx *genContext) translateInstruction(inst mach.Instr) ([]mach.Instr, error) {
	for _, a := range inst.Args {
		if fa, ok := a.(mach.FrameAddr); ok {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, ctx.fn.Name, "frame object %d left unresolved", fa.Object)
		}
	}

	switch inst.Op {
	case mach.OpExtendStack:
		return ctx.extendStack(), nil
	case mach.OpGetGOT:
		return getGOT(), nil
	case mach.OpGetFunPLT:
		return ctx.getFunPLT(inst)
	case mach.OpAdjCallStackDown, mach.OpAdjCallStackUp:
		return nil, abi.Errorf(abi.ErrConsistencyViolation, ctx.fn.Name, "%s left after frame finalization", inst.Op)
	}
	if inst.Op.IsPseudo() || inst.Op == mach.OpInvalid {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, ctx.fn.Name, "cannot emit %s", inst.Op)
	}
	return []mach.Instr{inst}, nil
}

// extendStack builds the stack limit check. When %sp is still at or
// above %sl the block branches straight to its end; otherwise it asks the
// monitor to grow the stack and moves the limit down to %sp.
func (ctx *genContext) extendStack() []mach.Instr {
	sink := ctx.newLabel()
	return []mach.Instr{
		mach.New(mach.OpBrgeLT, mach.R(regs.SP), mach.R(regs.SL), mach.LabelRef{L: sink}),
		mach.Load(shmBase, sharedAreaSlot, regs.TP),
		mach.Move(saveArg0, regs.SX0),
		mach.New(mach.OpLea, mach.R(reqCode), mach.Disp(growStackCode)),
		mach.New(mach.OpShmL, mach.R(reqCode), mach.M(0, shmBase)),
		mach.New(mach.OpShmL, mach.R(regs.SL), mach.M(8, shmBase)),
		mach.New(mach.OpShmL, mach.R(regs.SP), mach.M(16, shmBase)),
		mach.New(mach.OpMonc),
		mach.Move(regs.SX0, saveArg0),
		mach.Move(regs.SL, regs.SP),
		mach.DefLabel(sink),
	}
}

// getGOT forms the table base in %got, using %plt for the program
// counter.
func getGOT() []mach.Instr {
	return []mach.Instr{
		mach.New(mach.OpLea, mach.R(regs.GOT), mach.Sym{Name: GOTSymbol, Kind: mach.VKPCLo, Addend: -24}),
		mach.New(mach.OpAnd, mach.R(regs.GOT), mach.R(regs.GOT), mach.Zeros(32)),
		mach.New(mach.OpSic, mach.R(regs.PLT)),
		mach.New(mach.OpLeaSL, mach.R(regs.GOT), mach.MS(mach.Sym{Name: GOTSymbol, Kind: mach.VKPCHi}, regs.GOT, regs.PLT)),
	}
}

// getFunPLT forms a function address relative to the procedure linkage
// table.
func (ctx *genContext) getFunPLT(inst mach.Instr) ([]mach.Instr, error) {
	if len(inst.Args) != 2 {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, ctx.fn.Name, "malformed %s", inst.Op)
	}
	dst, ok1 := inst.Args[0].(mach.Reg)
	sym, ok2 := inst.Args[1].(mach.Sym)
	if !ok1 || !ok2 {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, ctx.fn.Name, "malformed %s", inst.Op)
	}
	rd := dst.R
	return []mach.Instr{
		mach.New(mach.OpLea, mach.R(rd), mach.Sym{Name: sym.Name, Kind: mach.VKPLTLo, Addend: sym.Addend - 24}),
		mach.New(mach.OpAnd, mach.R(rd), mach.R(rd), mach.Zeros(32)),
		mach.New(mach.OpSic, mach.R(regs.PLT)),
		mach.New(mach.OpLeaSL, mach.R(rd), mach.MS(mach.Sym{Name: sym.Name, Kind: mach.VKPLTHi, Addend: sym.Addend}, rd, regs.PLT)),
	}, nil
}
