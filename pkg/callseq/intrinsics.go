package callseq

import (
	"math/bits"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// LowerVAStart stores the address of the first anonymous argument into
// the va_list that list points at.
func (b *Builder) LowerVAStart(list regs.Reg) ([]mach.Instr, error) {
	off := b.frame.VarArgsFrameOffset()
	if off == 0 {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "va_start in a function without anonymous arguments")
	}
	if list == regs.Scratch {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "va_list in the scratch register")
	}
	id := b.frame.CreateFixedObject(0, off)
	return []mach.Instr{
		mach.New(mach.OpLea, mach.R(regs.Scratch), mach.FrameAddr{Object: id}),
		mach.Store(regs.Scratch, 0, list),
	}, nil
}

// LowerVAArg loads the next anonymous argument of type ty into dst and
// advances the va_list. Every anonymous argument takes one 8-byte slot.
func (b *Builder) LowerVAArg(dst, list regs.Reg, ty abi.ValueType) ([]mach.Instr, error) {
	if dst == regs.Scratch || list == regs.Scratch {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "va_arg through the scratch register")
	}
	if !ty.IsInteger() && !ty.IsFloat() {
		return nil, abi.Errorf(abi.ErrUnsupportedArgumentType, b.fn(), "va_arg of %s", ty)
	}
	op, err := b.loadOp(ty, abi.ExtSign)
	if err != nil {
		return nil, err
	}
	slot := b.table.SlotSize
	disp := -slot
	if ty == abi.F32 {
		disp += 4
	}
	// The list is updated before the value is loaded so dst may be list.
	return []mach.Instr{
		mach.Load(regs.Scratch, 0, list),
		mach.New(mach.OpLea, mach.R(regs.Scratch), mach.M(slot, regs.Scratch)),
		mach.Store(regs.Scratch, 0, list),
		mach.New(op, mach.R(dst), mach.M(disp, regs.Scratch)),
	}, nil
}

// LowerFrameAddr puts the frame address depth levels up into dst. Each
// frame keeps its caller's %fp at offset 0.
func (b *Builder) LowerFrameAddr(dst regs.Reg, depth int) ([]mach.Instr, error) {
	if depth < 0 {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "frame address at depth %d", depth)
	}
	b.frame.SetFrameAddressTaken()
	code := []mach.Instr{mach.Move(dst, regs.FP)}
	for i := 0; i < depth; i++ {
		code = append(code, mach.Load(dst, 0, dst))
	}
	return code, nil
}

// LowerReturnAddr puts the return address of the frame depth levels up
// into dst. It is saved at offset 8 of that frame.
func (b *Builder) LowerReturnAddr(dst regs.Reg, depth int) ([]mach.Instr, error) {
	code, err := b.LowerFrameAddr(dst, depth)
	if err != nil {
		return nil, err
	}
	return append(code, mach.Load(dst, 8, dst)), nil
}

// LowerDynamicAlloca allocates size bytes, size being held in a register,
// below the current %sp and leaves the address in dst. The block sits
// above the register save area that callees fill.
func (b *Builder) LowerDynamicAlloca(dst, size regs.Reg, align int64) ([]mach.Instr, error) {
	if dst == regs.Scratch || size == regs.Scratch {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "dynamic allocation through the scratch register")
	}
	if align < b.table.StackAlign {
		align = b.table.StackAlign
	}
	if _, err := b.frame.CreateVariableSizedObject(align); err != nil {
		return nil, err
	}
	stackAlign := b.table.StackAlign
	slack := align - stackAlign
	code := []mach.Instr{
		mach.New(mach.OpLea, mach.R(regs.Scratch), mach.M(stackAlign-1+slack, size)),
		mach.New(mach.OpAnd, mach.R(regs.Scratch), mach.R(regs.Scratch), mach.Ones(64-log2(stackAlign))),
		mach.New(mach.OpSubsL, mach.R(regs.SP), mach.R(regs.SP), mach.R(regs.Scratch)),
		mach.New(mach.OpLea, mach.R(dst), mach.M(b.table.RegisterSaveArea+slack, regs.SP)),
	}
	if slack > 0 {
		code = append(code, mach.New(mach.OpAnd, mach.R(dst), mach.R(dst), mach.Ones(64-log2(align))))
	}
	return code, nil
}

func log2(n int64) int {
	return bits.TrailingZeros64(uint64(n))
}

// Unsupported reports a construct this backend does not lower: f128
// arithmetic helpers, thread-local addresses, setjmp/longjmp.
func (b *Builder) Unsupported(construct string) error {
	return abi.Errorf(abi.ErrUnsupportedConstruct, b.fn(), "%s", construct)
}
