package stacking

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// Fixed register save area slots, relative to %sp on entry.
const (
	saveFP   = 0
	saveLR   = 8
	saveVL   = 16
	saveGOT  = 24
	savePLT  = 32
	saveBase = 40
)

// FindUsedRegs scans a machine function and returns every register it
// mentions.
func FindUsedRegs(fn *mach.Function) regs.Set {
	var used regs.Set
	for _, inst := range fn.Code {
		collectRegsFromInst(inst, &used)
	}
	return used
}

// collectRegsFromInst adds all registers mentioned by an instruction
func collectRegsFromInst(inst mach.Instr, used *regs.Set) {
	for _, r := range inst.Uses() {
		used.Add(r)
	}
	// Calls clobber their mask but do not use it.
	if inst.Op == mach.OpBsic {
		used.Add(regs.LR)
	}
}

// CalleeSaveInfo holds the callee-saved registers a prologue stores and
// the register save area slot of each.
type CalleeSaveInfo struct {
	Regs        []regs.Reg
	SaveOffsets []int64 // offset from %sp on entry
}

// ComputeCalleeSaveInfo assigns save slots to the callee-saved registers
// of d. A register outside the save area's range is a consistency
// violation.
func ComputeCalleeSaveInfo(d *frame.Descriptor) (*CalleeSaveInfo, error) {
	info := &CalleeSaveInfo{
		Regs:        d.CalleeSaved,
		SaveOffsets: make([]int64, len(d.CalleeSaved)),
	}
	for i, r := range d.CalleeSaved {
		off := frame.CalleeSaveOffset(r)
		if r < regs.SX18 || off >= 176 {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, d.Func, "callee-saved register %s has no save slot", r)
		}
		info.SaveOffsets[i] = off
	}
	return info, nil
}
