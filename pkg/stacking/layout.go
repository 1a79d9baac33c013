package stacking

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
)

// ResolveFrameAddrs replaces every frame object operand with the concrete
// register and displacement the planned frame gives it.
func ResolveFrameAddrs(fn *mach.Function, d *frame.Descriptor) error {
	for i := range fn.Code {
		args := fn.Code[i].Args
		for j, a := range args {
			fa, ok := a.(mach.FrameAddr)
			if !ok {
				continue
			}
			base, off, err := d.Ref(fa.Object)
			if err != nil {
				return err
			}
			args[j] = mach.Mem{Disp: off + fa.Disp, Base: base}
		}
	}
	return nil
}

// EliminateCallFramePseudos removes the call frame setup pseudos. With a
// reserved call frame the outgoing area is already part of the frame;
// otherwise each pseudo becomes a %sp adjustment around its call.
func EliminateCallFramePseudos(fn *mach.Function, d *frame.Descriptor) error {
	code := make([]mach.Instr, 0, len(fn.Code))
	for _, inst := range fn.Code {
		if inst.Op != mach.OpAdjCallStackDown && inst.Op != mach.OpAdjCallStackUp {
			code = append(code, inst)
			continue
		}
		size, err := pseudoSize(fn.Name, inst)
		if err != nil {
			return err
		}
		if d.HasReservedCallFrame {
			continue
		}
		if inst.Op == mach.OpAdjCallStackDown {
			code = append(code, AdjustSP(-size)...)
		} else {
			code = append(code, AdjustSP(size)...)
		}
	}
	fn.Code = code
	return nil
}

func pseudoSize(fn string, inst mach.Instr) (int64, error) {
	if len(inst.Args) == 1 {
		if imm, ok := inst.Args[0].(mach.Imm); ok && imm.V >= 0 {
			return imm.V, nil
		}
	}
	return 0, abi.Errorf(abi.ErrConsistencyViolation, fn, "malformed %s", inst.Op)
}
