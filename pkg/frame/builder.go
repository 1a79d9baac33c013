// Package frame records the stack needs of one function while it is
// lowered and freezes them into a frame descriptor.
package frame

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// ObjectKind says where an object lives in the frame.
type ObjectKind int

const (
	Local    ObjectKind = iota // fixed-size local below %fp
	Spill                      // register spill slot, laid out like a local
	Fixed                      // incoming area above %fp
	VarSized                   // dynamically sized, addressed through its allocation result
)

func (k ObjectKind) String() string {
	switch k {
	case Spill:
		return "spill"
	case Fixed:
		return "fixed"
	case VarSized:
		return "varsized"
	}
	return "local"
}

// Object is one stack object. Offset is relative to %fp: negative for
// locals and spill slots once planned, positive for fixed objects.
type Object struct {
	ID     int
	Kind   ObjectKind
	Size   int64
	Align  int64
	Offset int64
}

// Usage is the summary the leaf decision is made from.
type Usage struct {
	HasCalls          bool
	UsedRegs          regs.Set
	HasStackObjects   bool
	NeedsFramePointer bool
}

// Builder collects the frame requirements of one function.
type Builder struct {
	fn    string
	cfg   abi.Config
	table *abi.Table

	objects        []Object
	hasCalls       bool
	used           regs.Set
	maxCallFrame   int64
	varSized       bool
	frameAddrTaken bool
	globalBase     bool
	varArgsOffset  int64
	maxAlign       int64
}

// NewBuilder starts an empty frame for function fn.
func NewBuilder(fn string, cfg abi.Config, t *abi.Table) *Builder {
	return &Builder{fn: fn, cfg: cfg, table: t, maxAlign: t.StackAlign}
}

// Func returns the name of the function the frame belongs to.
func (b *Builder) Func() string { return b.fn }

func (b *Builder) checkAlign(size, align int64) error {
	if size < 0 {
		return abi.Errorf(abi.ErrConsistencyViolation, b.fn, "stack object of size %d", size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return abi.Errorf(abi.ErrConsistencyViolation, b.fn, "stack object alignment %d is not a power of two", align)
	}
	if align > b.table.StackAlign && !b.cfg.CanRealignStack {
		return abi.Errorf(abi.ErrOverAlignedStackObject, b.fn, "object aligned to %d exceeds the %d byte stack alignment", align, b.table.StackAlign)
	}
	return nil
}

func (b *Builder) add(kind ObjectKind, size, align, offset int64) int {
	id := len(b.objects)
	b.objects = append(b.objects, Object{ID: id, Kind: kind, Size: size, Align: align, Offset: offset})
	if align > b.maxAlign {
		b.maxAlign = align
	}
	return id
}

// CreateObject adds a fixed-size local and returns its id.
func (b *Builder) CreateObject(size, align int64) (int, error) {
	if err := b.checkAlign(size, align); err != nil {
		return -1, err
	}
	return b.add(Local, size, align, 0), nil
}

// CreateSpillSlot adds a register spill slot.
func (b *Builder) CreateSpillSlot(size, align int64) (int, error) {
	if err := b.checkAlign(size, align); err != nil {
		return -1, err
	}
	return b.add(Spill, size, align, 0), nil
}

// CreateFixedObject adds an object at a known positive offset from %fp,
// such as an incoming stack argument.
func (b *Builder) CreateFixedObject(size, offset int64) int {
	id := len(b.objects)
	b.objects = append(b.objects, Object{ID: id, Kind: Fixed, Size: size, Align: b.table.SlotSize, Offset: offset})
	return id
}

// CreateVariableSizedObject records a dynamic allocation. Such frames
// keep a frame pointer and give up the reserved call frame.
func (b *Builder) CreateVariableSizedObject(align int64) (int, error) {
	if err := b.checkAlign(0, align); err != nil {
		return -1, err
	}
	b.varSized = true
	return b.add(VarSized, 0, align, 0), nil
}

// MarkHasCalls records that the function calls out or reads the program
// counter through a branch.
func (b *Builder) MarkHasCalls() { b.hasCalls = true }

// HasCalls reports whether MarkHasCalls or RecordCallFrame has run.
func (b *Builder) HasCalls() bool { return b.hasCalls }

// RecordCallFrame notes the outgoing argument area of one call site.
func (b *Builder) RecordCallFrame(size int64) {
	b.hasCalls = true
	if size > b.maxCallFrame {
		b.maxCallFrame = size
	}
}

// MarkGlobalBase records that %got and %plt hold the table base, so the
// prologue must preserve them.
func (b *Builder) MarkGlobalBase() { b.globalBase = true }

// SetFrameAddressTaken records that the frame address escapes.
func (b *Builder) SetFrameAddressTaken() { b.frameAddrTaken = true }

// UseReg records physical registers the function body writes or reads.
func (b *Builder) UseReg(rs ...regs.Reg) {
	for _, r := range rs {
		if r != regs.NoReg {
			b.used.Add(r)
		}
	}
}

// SetVarArgsFrameOffset records where the first anonymous argument lives,
// relative to %fp.
func (b *Builder) SetVarArgsFrameOffset(off int64) { b.varArgsOffset = off }

// VarArgsFrameOffset returns the value set by SetVarArgsFrameOffset.
func (b *Builder) VarArgsFrameOffset() int64 { return b.varArgsOffset }

// HasVarSizedObjects reports whether a dynamic allocation was recorded.
func (b *Builder) HasVarSizedObjects() bool { return b.varSized }

// HasReservedCallFrame reports whether outgoing argument areas are folded
// into the fixed frame instead of being pushed around each call.
func (b *Builder) HasReservedCallFrame() bool { return !b.varSized }

// NeedsRealignment reports whether an object is aligned beyond the stack.
func (b *Builder) NeedsRealignment() bool { return b.maxAlign > b.table.StackAlign }

// NeedsFramePointer reports whether the function must keep %fp.
func (b *Builder) NeedsFramePointer() bool {
	return b.cfg.DisableFramePointerElim || b.NeedsRealignment() || b.varSized || b.frameAddrTaken
}

// Objects returns the recorded objects in creation order.
func (b *Builder) Objects() []Object {
	return append([]Object(nil), b.objects...)
}

// Usage summarizes what the leaf decision needs.
func (b *Builder) Usage() Usage {
	hasStack := false
	for _, o := range b.objects {
		if o.Kind != Fixed {
			hasStack = true
			break
		}
	}
	return Usage{
		HasCalls:          b.hasCalls,
		UsedRegs:          b.used,
		HasStackObjects:   hasStack,
		NeedsFramePointer: b.NeedsFramePointer(),
	}
}
