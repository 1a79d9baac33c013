package frame

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"github.com/samber/lo"
)

// VE frame layout after the prologue (callee's view):
//
//	+---------------------------+  <- %fp (caller's %sp)
//	| incoming argument area    |  %fp+176 and up, fixed objects
//	+---------------------------+
//	| locals and spill slots    |  negative offsets from %fp
//	+---------------------------+
//	| outgoing argument area    |  %sp+176 and up, reserved call frame
//	+---------------------------+
//	| register save area (176)  |  filled by this function's callees
//	+---------------------------+  <- %sp (16-byte aligned)
//
// A function saves %fp, %lr, %vl, %got, %plt and its callee-saved
// registers into the save area at the bottom of its caller's frame.

// Descriptor is the frozen frame of one function. It is read-only after
// Plan returns.
type Descriptor struct {
	Func string
	// TotalSize is the amount %sp moves down in the prologue.
	TotalSize int64
	Align     int64
	LocalSize int64

	IsLeaf               bool
	UsesFramePointer     bool
	UsesBasePointer      bool
	NeedsRealignment     bool
	HasReservedCallFrame bool
	HasVarSizedObjects   bool
	HasCalls             bool
	UsesGOT              bool
	VectorState          bool

	MaxCallFrameSize   int64
	CalleeSaved        []regs.Reg
	VarArgsFrameOffset int64

	Objects []Object
}

// Plan freezes the frame. Locals and spill slots are placed below %fp in
// creation order, each at the next offset that fits its alignment.
func (b *Builder) Plan(leaf bool) (*Descriptor, error) {
	objs := b.Objects()
	var local int64
	for i := range objs {
		o := &objs[i]
		if o.Kind != Local && o.Kind != Spill {
			continue
		}
		local = alignTo(local+o.Size, o.Align)
		o.Offset = -local
	}

	d := &Descriptor{
		Func:                 b.fn,
		Align:                b.maxAlign,
		LocalSize:            local,
		IsLeaf:               leaf,
		UsesFramePointer:     !leaf,
		NeedsRealignment:     b.NeedsRealignment(),
		HasReservedCallFrame: b.HasReservedCallFrame(),
		HasVarSizedObjects:   b.varSized,
		HasCalls:             b.hasCalls,
		UsesGOT:              b.globalBase,
		VectorState:          b.cfg.VectorState,
		MaxCallFrameSize:     b.maxCallFrame,
		VarArgsFrameOffset:   b.varArgsOffset,
		Objects:              objs,
	}
	d.UsesBasePointer = d.NeedsRealignment && d.HasVarSizedObjects

	if leaf {
		switch {
		case local > 0:
			return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn, "leaf function with %d bytes of locals", local)
		case b.hasCalls:
			return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn, "leaf function makes calls")
		case b.NeedsFramePointer():
			return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn, "leaf function needs a frame pointer")
		}
		return d, nil
	}

	d.CalleeSaved = lo.Filter(b.table.CalleeSaved, func(r regs.Reg, _ int) bool {
		return b.used.Has(r)
	})

	size := local
	if d.HasReservedCallFrame && b.hasCalls {
		size += b.maxCallFrame
	}
	size += b.table.RegisterSaveArea
	size = alignTo(size, b.table.StackAlign)
	d.TotalSize = alignTo(size, d.Align)
	return d, nil
}

// Object returns the planned object with the given id.
func (d *Descriptor) Object(id int) (Object, error) {
	if id < 0 || id >= len(d.Objects) {
		return Object{}, abi.Errorf(abi.ErrConsistencyViolation, d.Func, "unknown frame object %d", id)
	}
	return d.Objects[id], nil
}

// Ref returns the register and displacement that address object id once
// the prologue has run.
func (d *Descriptor) Ref(id int) (regs.Reg, int64, error) {
	o, err := d.Object(id)
	if err != nil {
		return regs.NoReg, 0, err
	}
	switch {
	case o.Kind == VarSized:
		return regs.NoReg, 0, abi.Errorf(abi.ErrConsistencyViolation, d.Func, "variable-sized object %d has no fixed address", id)
	case d.IsLeaf:
		// %sp has not moved, so it still equals the caller's %sp.
		return regs.SP, o.Offset + d.TotalSize, nil
	case o.Kind == Fixed:
		return regs.FP, o.Offset, nil
	case d.UsesBasePointer:
		return regs.Info, o.Offset + d.TotalSize, nil
	case d.NeedsRealignment:
		return regs.SP, o.Offset + d.TotalSize, nil
	}
	return regs.FP, o.Offset, nil
}

// SPOffset returns the offset of a local or spill slot from %sp after the
// prologue, before any dynamic allocation.
func (d *Descriptor) SPOffset(id int) (int64, error) {
	o, err := d.Object(id)
	if err != nil {
		return 0, err
	}
	if o.Kind == VarSized {
		return 0, abi.Errorf(abi.ErrConsistencyViolation, d.Func, "variable-sized object %d has no fixed address", id)
	}
	return o.Offset + d.TotalSize, nil
}

// CalleeSaveOffset returns the register save area slot of a callee-saved
// register. The save area belongs to the caller, so the offset is taken
// from %sp on entry, which is %fp once the prologue has run.
func CalleeSaveOffset(r regs.Reg) int64 {
	return 48 + 8*int64(r-regs.SX18)
}

func alignTo(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}
