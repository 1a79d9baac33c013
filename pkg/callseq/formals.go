package callseq

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/callconv"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"github.com/raymyers/ralph-ve/pkg/stacking"
)

// LowerFormals copies the incoming arguments of the function into
// args[i].Value. Register arguments move first as one parallel move;
// stack arguments are then loaded from fixed frame objects in the
// caller's outgoing area. A variadic function also records where its
// anonymous arguments start.
func (b *Builder) LowerFormals(args []abi.ArgDesc, variadic bool) ([]mach.Instr, *callconv.Assignment, error) {
	asg, err := callconv.Classify(b.table, callconv.Request{Func: b.fn(), Args: args, Variadic: variadic})
	if err != nil {
		return nil, nil, err
	}

	var moves []stacking.Move
	var vmoves []vmove
	var loads []mach.Instr
	for i, d := range args {
		switch loc := asg.Locs[i].(type) {
		case abi.RegLoc:
			switch {
			case loc.Reg.IsVector():
				vmoves = append(vmoves, vmove{dst: d.Value, src: loc.Reg})
			case loc.Half == abi.High:
				moves = append(moves, stacking.Move{Dst: d.Value, Src: loc.Reg, Op: stacking.HighHalf})
			case loc.Half == abi.Low:
				moves = append(moves, stacking.Move{Dst: d.Value, Src: loc.Reg, Op: stacking.LowHalf})
			default:
				moves = append(moves, stacking.Move{Dst: d.Value, Src: loc.Reg})
			}
		case abi.StackLoc:
			ld, err := b.loadFormal(d, loc)
			if err != nil {
				return nil, nil, err
			}
			loads = append(loads, ld...)
		case abi.SplitLoc:
			mv, ld, err := b.splitFormal(d, loc)
			if err != nil {
				return nil, nil, err
			}
			moves = append(moves, mv...)
			loads = append(loads, ld...)
		}
	}

	code, err := stacking.ResolveMoves(b.fn(), moves)
	if err != nil {
		return nil, nil, err
	}
	vcode, err := b.resolveVectorMoves(vmoves)
	if err != nil {
		return nil, nil, err
	}
	code = append(code, vcode...)
	code = append(code, loads...)

	if variadic {
		b.frame.SetVarArgsFrameOffset(b.table.ArgAreaBase + asg.AllStackSize)
	}
	return code, asg, nil
}

// incoming returns a fixed frame object for an incoming stack location.
func (b *Builder) incoming(loc abi.StackLoc) mach.FrameAddr {
	id := b.frame.CreateFixedObject(loc.Size, b.table.ArgAreaBase+loc.Offset)
	return mach.FrameAddr{Object: id}
}

// loadFormal reads one stack argument. Narrow values are loaded from the
// low-addressed bytes of their slot with the extension their flags ask
// for; an aggregate passed by value yields its address.
func (b *Builder) loadFormal(d abi.ArgDesc, loc abi.StackLoc) ([]mach.Instr, error) {
	if d.Value == regs.Scratch {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "formal in the scratch register")
	}
	fa := b.incoming(loc)
	if d.Flags.ByVal != nil {
		return []mach.Instr{mach.New(mach.OpLea, mach.R(d.Value), fa)}, nil
	}
	op, err := b.loadOp(d.Type, d.ExtendMode())
	if err != nil {
		return nil, err
	}
	return []mach.Instr{mach.New(op, mach.R(d.Value), fa)}, nil
}

// loadOp picks the load for a value of type ty.
func (b *Builder) loadOp(ty abi.ValueType, ext abi.Extend) (mach.Opcode, error) {
	zero := ext == abi.ExtZero
	switch ty {
	case abi.I64, abi.F64, abi.V2I32:
		return mach.OpLd, nil
	case abi.F32:
		return mach.OpLdu, nil
	case abi.I32:
		if zero {
			return mach.OpLdlZX, nil
		}
		return mach.OpLdlSX, nil
	case abi.I16:
		if zero {
			return mach.OpLd2bZX, nil
		}
		return mach.OpLd2bSX, nil
	case abi.I8, abi.I1:
		if zero {
			return mach.OpLd1bZX, nil
		}
		return mach.OpLd1bSX, nil
	}
	return mach.OpInvalid, abi.Errorf(abi.ErrUnsupportedArgumentType, b.fn(), "load of %s", ty)
}

// splitFormal reassembles an incoming v2i32 value in d.Value.
func (b *Builder) splitFormal(d abi.ArgDesc, loc abi.SplitLoc) ([]stacking.Move, []mach.Instr, error) {
	hi, hiReg := loc.Hi.(abi.RegLoc)
	lo, loReg := loc.Lo.(abi.RegLoc)
	if hiReg && loReg {
		return []stacking.Move{{Dst: d.Value, Src: hi.Reg, Src2: lo.Reg, Op: stacking.Pack}}, nil, nil
	}
	if d.Value == regs.Scratch {
		return nil, nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "formal in the scratch register")
	}

	var moves []stacking.Move
	var code []mach.Instr
	if hiReg {
		moves = append(moves, stacking.Move{Dst: d.Value, Src: hi.Reg})
	} else {
		hs, ok := loc.Hi.(abi.StackLoc)
		if !ok {
			return nil, nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "nested split location %s", loc.Hi)
		}
		code = append(code, mach.New(mach.OpLdlZX, mach.R(d.Value), b.incoming(hs)))
	}
	ls, ok := loc.Lo.(abi.StackLoc)
	if !ok {
		return nil, nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "split location %s", loc)
	}
	code = append(code,
		mach.New(mach.OpLdlZX, mach.R(regs.Scratch), b.incoming(ls)),
		mach.New(mach.OpSll, mach.R(d.Value), mach.R(d.Value), mach.I(32)),
		mach.New(mach.OpOr, mach.R(d.Value), mach.R(d.Value), mach.R(regs.Scratch)),
	)
	return moves, code, nil
}

// LowerReturn places the return values in their registers and returns.
// Narrow values are extended here, in the callee; a packed pair is merged
// into one register.
func (b *Builder) LowerReturn(rets []abi.ArgDesc) ([]mach.Instr, error) {
	locs, err := callconv.ClassifyReturn(b.table, b.fn(), rets)
	if err != nil {
		return nil, err
	}
	var moves []stacking.Move
	var vmoves []vmove
	for i := 0; i < len(rets); i++ {
		d := rets[i]
		switch loc := locs[i].(type) {
		case abi.RegLoc:
			switch {
			case loc.Reg.IsVector():
				vmoves = append(vmoves, vmove{dst: loc.Reg, src: d.Value})
			case loc.Half == abi.High:
				moves = append(moves, stacking.Move{Dst: loc.Reg, Src: d.Value, Src2: rets[i+1].Value, Op: stacking.Pack})
				i++
			default:
				moves = append(moves, stacking.ExtendMove(loc.Reg, d.Value, loc.Ext, d.Type))
			}
		case abi.SplitLoc:
			hi, ok1 := loc.Hi.(abi.RegLoc)
			lo, ok2 := loc.Lo.(abi.RegLoc)
			if !ok1 || !ok2 {
				return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, b.fn(), "return value %d outside registers", i)
			}
			moves = append(moves,
				stacking.Move{Dst: hi.Reg, Src: d.Value, Op: stacking.HighHalf},
				stacking.Move{Dst: lo.Reg, Src: d.Value, Op: stacking.LowHalf},
			)
		default:
			return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, b.fn(), "return value %d at %s", i, locs[i])
		}
	}
	code, err := stacking.ResolveMoves(b.fn(), moves)
	if err != nil {
		return nil, err
	}
	vcode, err := b.resolveVectorMoves(vmoves)
	if err != nil {
		return nil, err
	}
	code = append(code, vcode...)
	return append(code, mach.Return()), nil
}
