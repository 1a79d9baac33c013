package stacking

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
)

// Options control where the prologue and epilogue go. The zero value
// places them at function entry and before every return, which is the
// only placement supported.
type Options struct {
	SavePoint    mach.Label
	RestorePoint mach.Label
}

// Transform finishes a lowered function against its planned frame: call
// frame pseudos go away, frame operands get concrete addresses and the
// prologue and epilogue are inserted.
func Transform(fn *mach.Function, d *frame.Descriptor, opts Options) error {
	if err := EliminateCallFramePseudos(fn, d); err != nil {
		return err
	}
	if err := ResolveFrameAddrs(fn, d); err != nil {
		return err
	}
	return InsertPrologueEpilogue(fn, d, opts)
}

// InsertPrologueEpilogue adds the prologue at entry and the epilogue before
// each return.
func InsertPrologueEpilogue(fn *mach.Function, d *frame.Descriptor, opts Options) error {
	if opts.SavePoint.Valid() || opts.RestorePoint.Valid() {
		return abi.Errorf(abi.ErrUnsupportedProloguePlacement, fn.Name, "save point %d, restore point %d", opts.SavePoint, opts.RestorePoint)
	}
	cs, err := ComputeCalleeSaveInfo(d)
	if err != nil {
		return err
	}

	prologue := GeneratePrologue(d, cs)
	epilogue := GenerateEpilogue(d, cs)
	code := make([]mach.Instr, 0, len(fn.Code)+len(prologue)+len(epilogue))
	code = append(code, prologue...)
	for _, inst := range fn.Code {
		if mach.IsReturn(inst) {
			code = append(code, epilogue...)
		}
		code = append(code, inst)
	}
	fn.Code = code
	return nil
}
