// Package stacking inserts the VE prologue and epilogue and rewrites frame
// references once the frame is planned.
package stacking

import (
	"math/bits"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// IsLeafFunction decides whether a function can run on its caller's frame.
// A leaf makes no calls, keeps no stack objects, needs no frame pointer
// and touches neither %sp, %fp nor a callee-saved register.
func IsLeafFunction(u frame.Usage, cfg abi.Config, t *abi.Table) bool {
	if cfg.DisableLeafProc {
		return false
	}
	if u.HasCalls || u.HasStackObjects || u.NeedsFramePointer {
		return false
	}
	if u.UsedRegs.Has(regs.SP) || u.UsedRegs.Has(regs.FP) {
		return false
	}
	for _, r := range t.CalleeSaved {
		if u.UsedRegs.Has(r) {
			return false
		}
	}
	return true
}

// AdjustSP adds n to %sp. Small amounts fit the immediate form; anything
// else is built in %s13 from its two 32-bit halves.
func AdjustSP(n int64) []mach.Instr {
	if n == 0 {
		return nil
	}
	if n >= -64 && n < 63 {
		return []mach.Instr{mach.New(mach.OpAddsL, mach.R(regs.SP), mach.R(regs.SP), mach.I(n))}
	}
	lo := int64(int32(uint32(n)))
	hi := int64(int32(uint32(uint64(n) >> 32)))
	return []mach.Instr{
		mach.New(mach.OpLea, mach.R(regs.Scratch), mach.Disp(lo)),
		mach.New(mach.OpAnd, mach.R(regs.Scratch), mach.R(regs.Scratch), mach.Zeros(32)),
		mach.New(mach.OpLeaSL, mach.R(regs.SP), mach.MX(hi, regs.SP, regs.Scratch)),
	}
}

// GeneratePrologue generates the function prologue instructions.
// VE prologue:
//  1. Save %fp, %lr and the table base registers in the caller's save area
//  2. Save callee-saved registers and the vector length
//  3. Set up %fp and allocate the frame
//  4. Realign, then check the stack limit
func GeneratePrologue(d *frame.Descriptor, cs *CalleeSaveInfo) []mach.Instr {
	if d.IsLeaf {
		return nil
	}
	var prologue []mach.Instr

	prologue = append(prologue,
		mach.Store(regs.FP, saveFP, regs.SP),
		mach.Store(regs.LR, saveLR, regs.SP),
	)
	if d.UsesGOT {
		prologue = append(prologue,
			mach.Store(regs.GOT, saveGOT, regs.SP),
			mach.Store(regs.PLT, savePLT, regs.SP),
		)
	}
	if d.UsesBasePointer {
		prologue = append(prologue, mach.Store(regs.Info, saveBase, regs.SP))
	}
	for i, r := range cs.Regs {
		prologue = append(prologue, mach.Store(r, cs.SaveOffsets[i], regs.SP))
	}
	if d.VectorState {
		prologue = append(prologue,
			mach.New(mach.OpSvl, mach.R(regs.VLSave)),
			mach.Store(regs.VLSave, saveVL, regs.SP),
		)
	}

	prologue = append(prologue, mach.Move(regs.FP, regs.SP))
	prologue = append(prologue, AdjustSP(-d.TotalSize)...)

	if d.NeedsRealignment {
		shift := bits.TrailingZeros64(uint64(d.Align))
		prologue = append(prologue, mach.New(mach.OpAnd, mach.R(regs.SP), mach.R(regs.SP), mach.Ones(64-shift)))
	}
	if d.UsesBasePointer {
		prologue = append(prologue, mach.Move(regs.Info, regs.SP))
	}

	prologue = append(prologue,
		mach.New(mach.OpExtendStack),
		mach.New(mach.OpCFIDefCFARegister, mach.R(regs.FP)),
	)
	return prologue
}

// GenerateEpilogue generates the instructions placed before each return.
// It restores in the reverse order of GeneratePrologue. The return itself
// stays in the body.
func GenerateEpilogue(d *frame.Descriptor, cs *CalleeSaveInfo) []mach.Instr {
	if d.IsLeaf {
		return nil
	}
	var epilogue []mach.Instr

	epilogue = append(epilogue, mach.Move(regs.SP, regs.FP))
	if d.VectorState {
		epilogue = append(epilogue,
			mach.Load(regs.VLSave, saveVL, regs.SP),
			mach.New(mach.OpLvl, mach.R(regs.VLSave)),
		)
	}
	for i := len(cs.Regs) - 1; i >= 0; i-- {
		epilogue = append(epilogue, mach.Load(cs.Regs[i], cs.SaveOffsets[i], regs.SP))
	}
	if d.UsesBasePointer {
		epilogue = append(epilogue, mach.Load(regs.Info, saveBase, regs.SP))
	}
	if d.UsesGOT {
		epilogue = append(epilogue,
			mach.Load(regs.PLT, savePLT, regs.SP),
			mach.Load(regs.GOT, saveGOT, regs.SP),
		)
	}
	epilogue = append(epilogue,
		mach.Load(regs.LR, saveLR, regs.SP),
		mach.Load(regs.FP, saveFP, regs.SP),
	)
	return epilogue
}
