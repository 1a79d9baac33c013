// Package callseq lowers call sites, incoming arguments and returns of one
// function into VE machine instructions. It places values with callconv,
// forms callee addresses with addr and records what the frame needs to
// know on a frame.Builder.
package callseq

import (
	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/addr"
	"github.com/raymyers/ralph-ve/pkg/callconv"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"github.com/raymyers/ralph-ve/pkg/stacking"
)

// Builder lowers the calling-convention parts of one function. It is not
// safe for concurrent use.
type Builder struct {
	cfg   abi.Config
	table *abi.Table
	frame *frame.Builder
	addr  *addr.Materializer
}

// New creates a builder for the function fb describes.
func New(cfg abi.Config, t *abi.Table, fb *frame.Builder, am *addr.Materializer) *Builder {
	return &Builder{cfg: cfg, table: t, frame: fb, addr: am}
}

func (b *Builder) fn() string { return b.frame.Func() }

// Callee is the target of a call: a symbol, or a register holding the
// address when Symbol is nil.
type Callee struct {
	Symbol *addr.Symbol
	Reg    regs.Reg
}

// Call is one call site. Args[i].Value holds the argument; Results[i].Value
// receives the result.
type Call struct {
	Callee  Callee
	Args    []abi.ArgDesc
	Results []abi.ArgDesc
	// Variadic is set for variadic and unprototyped callees.
	Variadic bool
}

// CallResult is the lowered call.
type CallResult struct {
	Code    []mach.Instr
	Args    *callconv.Assignment
	Results []abi.Location
	// FrameSize is the outgoing argument area, reserved area included.
	FrameSize int64
}

// BuildCall lowers c. The sequence is: call frame setup, stack arguments,
// register arguments as one parallel move, the callee address, the call,
// call frame release and the result copies.
func (b *Builder) BuildCall(c Call) (*CallResult, error) {
	asg, err := callconv.Classify(b.table, callconv.Request{Func: b.fn(), Args: c.Args, Variadic: c.Variadic})
	if err != nil {
		return nil, err
	}
	variadic := asg.StackLocs != nil
	for i, loc := range asg.Locs {
		// The shadow stores of later register arguments land in the bytes
		// a by-value copy occupies.
		if variadic && c.Args[i].Flags.ByVal != nil {
			return nil, abi.Errorf(abi.ErrUnsupportedArgumentType, b.fn(), "argument %d passed by value to a variadic callee", i)
		}
		if isHigh(loc) {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "outgoing packed argument %d", i)
		}
	}
	rets, err := callconv.ClassifyReturn(b.table, b.fn(), c.Results)
	if err != nil {
		return nil, err
	}
	if c.Callee.Symbol == nil && !c.Callee.Reg.IsScalar() {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "call without a callee")
	}

	size := asg.Footprint(b.table.StackAlign)
	b.frame.RecordCallFrame(size)

	code := []mach.Instr{mach.New(mach.OpAdjCallStackDown, mach.I(size))}

	// Stack arguments read their value registers before the register
	// moves overwrite them.
	var moves []stacking.Move
	var vmoves []vmove
	for i, d := range c.Args {
		switch loc := asg.Locs[i].(type) {
		case abi.StackLoc:
			st, err := b.storeArg(d, loc)
			if err != nil {
				return nil, err
			}
			code = append(code, st...)
		case abi.RegLoc:
			if loc.Reg.IsVector() {
				vmoves = append(vmoves, vmove{dst: loc.Reg, src: d.Value})
				continue
			}
			moves = append(moves, argMove(loc.Reg, d, loc.Ext))
		case abi.SplitLoc:
			st, mv, err := b.splitArg(d, loc)
			if err != nil {
				return nil, err
			}
			code = append(code, st...)
			moves = append(moves, mv...)
		}
		if variadic {
			st, err := b.shadowStore(d, asg.Locs[i], asg.StackLocs[i])
			if err != nil {
				return nil, err
			}
			code = append(code, st...)
		}
	}

	if c.Callee.Symbol == nil {
		moves = append(moves, stacking.Move{Dst: regs.Outer, Src: c.Callee.Reg})
	}
	seq, err := stacking.ResolveMoves(b.fn(), moves)
	if err != nil {
		return nil, err
	}
	code = append(code, seq...)
	vseq, err := b.resolveVectorMoves(vmoves)
	if err != nil {
		return nil, err
	}
	code = append(code, vseq...)

	if c.Callee.Symbol != nil {
		callee, err := b.addr.Callee(*c.Callee.Symbol)
		if err != nil {
			return nil, err
		}
		code = append(code, callee...)
	}

	code = append(code,
		mach.Call(regs.CallClobbers()),
		mach.New(mach.OpAdjCallStackUp, mach.I(size)),
	)

	out, err := b.copyResults(c.Results, rets)
	if err != nil {
		return nil, err
	}
	code = append(code, out...)

	return &CallResult{Code: code, Args: asg, Results: rets, FrameSize: size}, nil
}

func isHigh(loc abi.Location) bool {
	switch l := loc.(type) {
	case abi.RegLoc:
		return l.Half == abi.High
	case abi.StackLoc:
		return l.Half == abi.High
	}
	return false
}

// argMove widens d into dst the way its location asks.
func argMove(dst regs.Reg, d abi.ArgDesc, ext abi.Extend) stacking.Move {
	return stacking.ExtendMove(dst, d.Value, ext, d.Type)
}

// outgoing returns the %sp displacement of an outgoing stack location.
func (b *Builder) outgoing(loc abi.StackLoc) int64 {
	return b.table.ArgAreaBase + loc.Offset
}

// storeArg writes one stack argument into the outgoing area.
func (b *Builder) storeArg(d abi.ArgDesc, loc abi.StackLoc) ([]mach.Instr, error) {
	if d.Flags.ByVal != nil {
		return b.copyByVal(d, loc)
	}
	return b.storeValue(stacking.ExtendMove(regs.Scratch, d.Value, loc.Ext, d.Type), d.Type, b.outgoing(loc))
}

// storeValue stores the value m computes at disp(,%sp). A plain copy is
// stored straight from its register; anything else goes through the
// scratch register.
func (b *Builder) storeValue(m stacking.Move, ty abi.ValueType, disp int64) ([]mach.Instr, error) {
	if m.Src == regs.Scratch {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "argument value in the scratch register")
	}
	src := m.Src
	var code []mach.Instr
	if m.Op != stacking.Copy {
		m.Dst = regs.Scratch
		code = m.Emit()
		src = regs.Scratch
	}
	op := mach.OpSt
	if ty == abi.F32 {
		op = mach.OpStu
	}
	return append(code, mach.New(op, mach.R(src), mach.M(disp, regs.SP))), nil
}

// copyByVal copies an aggregate, whose address is in d.Value, into its
// outgoing slot. Chunks are as wide as the alignment allows and never
// reach past the aggregate's last byte.
func (b *Builder) copyByVal(d abi.ArgDesc, loc abi.StackLoc) ([]mach.Instr, error) {
	if d.Value == regs.Scratch {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "aggregate address in the scratch register")
	}
	bv := d.Flags.ByVal
	chunk := b.table.SlotSize
	if bv.Align > 0 && bv.Align < chunk {
		chunk = bv.Align
	}
	var code []mach.Instr
	for off := int64(0); off < bv.Size; {
		for off+chunk > bv.Size {
			chunk /= 2
		}
		ld, st := copyOps(chunk)
		code = append(code,
			mach.New(ld, mach.R(regs.Scratch), mach.M(off, d.Value)),
			mach.New(st, mach.R(regs.Scratch), mach.M(b.outgoing(loc)+off, regs.SP)),
		)
		off += chunk
	}
	return code, nil
}

// copyOps returns the load and store moving n bytes.
func copyOps(n int64) (mach.Opcode, mach.Opcode) {
	switch n {
	case 4:
		return mach.OpLdlZX, mach.OpStl
	case 2:
		return mach.OpLd2bZX, mach.OpSt2b
	case 1:
		return mach.OpLd1bZX, mach.OpSt1b
	}
	return mach.OpLd, mach.OpSt
}

// splitArg places the two 32-bit elements of a v2i32 value. The first
// element is the upper half of the value.
func (b *Builder) splitArg(d abi.ArgDesc, loc abi.SplitLoc) ([]mach.Instr, []stacking.Move, error) {
	var code []mach.Instr
	var moves []stacking.Move
	parts := []struct {
		loc abi.Location
		op  stacking.MoveOp
	}{{loc.Hi, stacking.HighHalf}, {loc.Lo, stacking.LowHalf}}
	for _, p := range parts {
		m := stacking.Move{Src: d.Value, Op: p.op}
		switch l := p.loc.(type) {
		case abi.RegLoc:
			m.Dst = l.Reg
			moves = append(moves, m)
		case abi.StackLoc:
			st, err := b.storeValue(m, abi.I64, b.outgoing(l))
			if err != nil {
				return nil, nil, err
			}
			code = append(code, st...)
		default:
			return nil, nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "nested split location %s", p.loc)
		}
	}
	return code, moves, nil
}

// shadowStore gives a register argument of a variadic call its all-stack
// copy, so the callee can walk every argument in memory.
func (b *Builder) shadowStore(d abi.ArgDesc, loc, shadow abi.Location) ([]mach.Instr, error) {
	switch l := loc.(type) {
	case abi.RegLoc:
		s, ok := shadow.(abi.StackLoc)
		if !ok {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "all-stack location %s", shadow)
		}
		return b.storeValue(stacking.ExtendMove(regs.Scratch, d.Value, l.Ext, d.Type), d.Type, b.outgoing(s))
	case abi.SplitLoc:
		s, ok := shadow.(abi.SplitLoc)
		if !ok {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, b.fn(), "all-stack location %s", shadow)
		}
		var code []mach.Instr
		for _, p := range []struct {
			loc, shadow abi.Location
			op          stacking.MoveOp
		}{{l.Hi, s.Hi, stacking.HighHalf}, {l.Lo, s.Lo, stacking.LowHalf}} {
			ss, ok := p.shadow.(abi.StackLoc)
			if _, inReg := p.loc.(abi.RegLoc); !inReg || !ok {
				continue
			}
			st, err := b.storeValue(stacking.Move{Src: d.Value, Op: p.op}, abi.I64, b.outgoing(ss))
			if err != nil {
				return nil, err
			}
			code = append(code, st...)
		}
		return code, nil
	}
	return nil, nil
}

// copyResults moves returned values out of the return registers.
func (b *Builder) copyResults(results []abi.ArgDesc, rets []abi.Location) ([]mach.Instr, error) {
	var moves []stacking.Move
	var vmoves []vmove
	for i, d := range results {
		switch loc := rets[i].(type) {
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
		case abi.SplitLoc:
			hi, ok1 := loc.Hi.(abi.RegLoc)
			lo, ok2 := loc.Lo.(abi.RegLoc)
			if !ok1 || !ok2 {
				return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, b.fn(), "result %d outside registers", i)
			}
			moves = append(moves, stacking.Move{Dst: d.Value, Src: hi.Reg, Src2: lo.Reg, Op: stacking.Pack})
		default:
			return nil, abi.Errorf(abi.ErrUnsupportedReturnLayout, b.fn(), "result %d at %s", i, rets[i])
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
	return append(code, vcode...), nil
}

type vmove struct {
	dst, src regs.Reg
}

// resolveVectorMoves orders vector register copies. There is no vector
// scratch register, so a cycle cannot be broken.
func (b *Builder) resolveVectorMoves(moves []vmove) ([]mach.Instr, error) {
	var code []mach.Instr
	done := make([]bool, len(moves))
	for left := len(moves); left > 0; {
		progress := false
		for i, m := range moves {
			if done[i] {
				continue
			}
			blocked := false
			for j, o := range moves {
				if j != i && !done[j] && o.src == m.dst {
					blocked = true
				}
			}
			if blocked {
				continue
			}
			if !m.src.IsVector() || !m.dst.IsVector() {
				return nil, abi.Errorf(abi.ErrUnsupportedArgumentType, b.fn(), "vector copy %s to %s", m.src, m.dst)
			}
			if m.src != m.dst {
				code = append(code, mach.VMove(m.dst, m.src))
			}
			done[i] = true
			left--
			progress = true
		}
		if !progress {
			return nil, abi.Errorf(abi.ErrUnsupportedArgumentType, b.fn(), "cyclic vector register permutation")
		}
	}
	return code, nil
}
