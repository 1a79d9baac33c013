// Package callconv assigns every argument and return value of a signature
// or call site to a register, a stack slot or a split pair, following a
// calling-convention table.
package callconv

import (
	"github.com/samber/lo"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// Request is one signature or call site to classify.
type Request struct {
	Func string
	Args []abi.ArgDesc
	// Variadic is set for variadic and unprototyped callees. Those need a
	// second, all-stack placement besides the normal one.
	Variadic bool
}

// NeedsAllStack reports whether the request gets the all-stack placement:
// the callee is variadic or some argument is marked as anonymous.
func (r Request) NeedsAllStack() bool {
	return r.Variadic || lo.SomeBy(r.Args, func(d abi.ArgDesc) bool { return d.Flags.VarArg })
}

// Assignment is the result of classification. Locs[i] belongs to Args[i].
type Assignment struct {
	Locs []abi.Location
	// StackLocs is the all-stack placement, only set when the request
	// NeedsAllStack.
	StackLocs []abi.Location
	// StackSize is the end of the used argument area, reserved area included.
	StackSize int64
	// AllStackSize is the end of the all-stack placement.
	AllStackSize int64
}

// Footprint returns the outgoing argument area a call needs, rounded up
// to align.
func (a *Assignment) Footprint(align int64) int64 {
	size := a.StackSize
	if a.AllStackSize > size {
		size = a.AllStackSize
	}
	return alignTo(size, align)
}

// Classify places the arguments of req under table t.
func Classify(t *abi.Table, req Request) (*Assignment, error) {
	locs, size, err := place(t, req.Func, req.Args)
	if err != nil {
		return nil, err
	}
	a := &Assignment{Locs: locs, StackSize: size}
	if req.NeedsAllStack() {
		a.StackLocs, a.AllStackSize, err = place(t.Stack(), req.Func, req.Args)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// state tracks the registers and stack bytes handed out so far.
type state struct {
	t      *abi.Table
	fn     string
	used   regs.Set
	offset int64
}

func (s *state) takeReg(candidates []regs.Reg) (regs.Reg, bool) {
	for _, r := range candidates {
		if !s.used.Has(r) {
			s.used.Add(r)
			return r, true
		}
	}
	return regs.NoReg, false
}

func (s *state) takeStack(size, align int64) int64 {
	off := alignTo(s.offset, align)
	s.offset = off + size
	return off
}

// scalar places one 64-bit slot worth of value.
func (s *state) scalar(candidates []regs.Reg, ext abi.Extend) abi.Location {
	if r, ok := s.takeReg(candidates); ok {
		return abi.RegLoc{Reg: r, Ext: ext}
	}
	return abi.StackLoc{Offset: s.takeStack(s.t.SlotSize, s.t.SlotSize), Size: s.t.SlotSize, Ext: ext}
}

func place(t *abi.Table, fn string, args []abi.ArgDesc) ([]abi.Location, int64, error) {
	s := &state{t: t, fn: fn, offset: t.ReservedArea}
	locs := make([]abi.Location, len(args))

	for i := 0; i < len(args); i++ {
		d := args[i]
		if d.Flags.SRet && i != 0 {
			return nil, 0, abi.Errorf(abi.ErrUnsupportedArgumentType, fn, "sret on argument %d", i)
		}

		switch {
		case d.Type == abi.F128 || d.Type == abi.I128:
			return nil, 0, abi.Errorf(abi.ErrUnsupportedArgumentType, fn, "argument %d of type %s", i, d.Type)

		case d.Flags.ByVal != nil:
			size := alignTo(d.Flags.ByVal.Size, t.SlotSize)
			align := d.Flags.ByVal.Align
			if align&(align-1) != 0 || align < 0 {
				return nil, 0, abi.Errorf(abi.ErrUnsupportedArgumentType, fn, "argument %d aligned to %d bytes", i, align)
			}
			if align < t.SlotSize {
				align = t.SlotSize
			}
			locs[i] = abi.StackLoc{Offset: s.takeStack(size, align), Size: size}

		case d.Flags.Packed:
			if d.Type != abi.I32 {
				return nil, 0, abi.Errorf(abi.ErrUnsupportedArgumentType, fn, "packed argument %d of type %s", i, d.Type)
			}
			if i+1 >= len(args) || !args[i+1].Flags.Packed || args[i+1].Type != abi.I32 {
				return nil, 0, abi.Errorf(abi.ErrConsistencyViolation, fn, "packed argument %d has no low half", i)
			}
			// Both halves are located before either is recorded.
			var hi, lo abi.Location
			if r, ok := s.takeReg(t.IntRegs); ok {
				hi = abi.RegLoc{Reg: r, Ext: abi.ExtAny, Half: abi.High}
				lo = abi.RegLoc{Reg: r, Ext: abi.ExtAny, Half: abi.Low}
			} else {
				off := s.takeStack(t.SlotSize, t.SlotSize)
				hi = abi.StackLoc{Offset: off + 4, Size: 4, Half: abi.High}
				lo = abi.StackLoc{Offset: off, Size: 4, Half: abi.Low}
			}
			locs[i], locs[i+1] = hi, lo
			i++

		case d.Type == abi.V2I32:
			hi := s.scalar(t.IntRegs, abi.ExtAny)
			lo := s.scalar(t.IntRegs, abi.ExtAny)
			locs[i] = abi.SplitLoc{Hi: hi, Lo: lo}

		case d.Type == abi.Vector:
			r, ok := s.takeReg(t.VectorRegs)
			if !ok {
				return nil, 0, abi.Errorf(abi.ErrUnsupportedArgumentType, fn, "vector argument %d beyond the vector registers", i)
			}
			locs[i] = abi.RegLoc{Reg: r}

		case d.Type == abi.F32:
			// A single-precision value lives in the upper half of its
			// register or slot.
			if r, ok := s.takeReg(t.FloatRegs); ok {
				locs[i] = abi.RegLoc{Reg: r}
			} else {
				off := s.takeStack(t.SlotSize, t.SlotSize)
				locs[i] = abi.StackLoc{Offset: off + 4, Size: 4}
			}

		case d.Type == abi.F64:
			locs[i] = s.scalar(t.FloatRegs, abi.ExtNone)

		case d.Type.IsInteger():
			locs[i] = s.scalar(t.IntRegs, d.ExtendMode())

		default:
			return nil, 0, abi.Errorf(abi.ErrUnsupportedArgumentType, fn, "argument %d of type %s", i, d.Type)
		}
	}
	return locs, s.offset, nil
}

// ClassifyReturn places return values. They must all fit in registers.
func ClassifyReturn(t *abi.Table, fn string, rets []abi.ArgDesc) ([]abi.Location, error) {
	s := &state{t: t, fn: fn}
	locs := make([]abi.Location, len(rets))

	for i := 0; i < len(rets); i++ {
		d := rets[i]
		switch {
		case d.Type == abi.F128 || d.Type == abi.I128:
			return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, fn, "return value %d of type %s", i, d.Type)

		case d.Flags.ByVal != nil:
			return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, fn, "aggregate return value %d", i)

		case d.Flags.Packed:
			if d.Type != abi.I32 || i+1 >= len(rets) || !rets[i+1].Flags.Packed || rets[i+1].Type != abi.I32 {
				return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, fn, "packed return value %d is not an i32 pair", i)
			}
			r, ok := s.takeReg(t.ReturnRegs)
			if !ok {
				return nil, tooMany(fn, t, i)
			}
			locs[i] = abi.RegLoc{Reg: r, Ext: abi.ExtAny, Half: abi.High}
			locs[i+1] = abi.RegLoc{Reg: r, Ext: abi.ExtAny, Half: abi.Low}
			i++

		case d.Type == abi.V2I32:
			hi, ok1 := s.takeReg(t.ReturnRegs)
			lo, ok2 := s.takeReg(t.ReturnRegs)
			if !ok1 || !ok2 {
				return nil, tooMany(fn, t, i)
			}
			locs[i] = abi.SplitLoc{Hi: abi.RegLoc{Reg: hi, Ext: abi.ExtAny}, Lo: abi.RegLoc{Reg: lo, Ext: abi.ExtAny}}

		case d.Type == abi.Vector:
			r, ok := s.takeReg(t.VectorRegs)
			if !ok {
				return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, fn, "vector return value %d", i)
			}
			locs[i] = abi.RegLoc{Reg: r}

		default:
			r, ok := s.takeReg(t.ReturnRegs)
			if !ok {
				return nil, tooMany(fn, t, i)
			}
			locs[i] = abi.RegLoc{Reg: r, Ext: d.ExtendMode()}
		}
	}
	return locs, nil
}

func tooMany(fn string, t *abi.Table, i int) error {
	return abi.Errorf(abi.ErrUnsupportedReturnLayout, fn, "return value %d exceeds the %d return registers", i, len(t.ReturnRegs))
}

// alignTo rounds n up to the nearest multiple of align.
func alignTo(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}
