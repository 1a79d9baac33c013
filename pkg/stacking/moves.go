package stacking

import (
	"fmt"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// MoveOp is the transfer one parallel move performs.
type MoveOp int

const (
	Copy       MoveOp = iota
	SignExtend        // widen the low Width bits with sign
	ZeroExtend        // widen the low Width bits with zeros
	HighHalf          // upper 32 bits into the lower half
	LowHalf           // lower 32 bits, zero-extended
	Pack              // Src into the upper half, Src2 into the lower half

	// Second halves of a Pack split around a busy scratch register. Dst
	// already holds one half and Src, the scratch register, the other.
	orLow
	orHigh
)

var moveOpNames = [...]string{"copy", "sext", "zext", "high", "low", "pack", "orlow", "orhigh"}

func (op MoveOp) String() string {
	if op >= 0 && int(op) < len(moveOpNames) {
		return moveOpNames[op]
	}
	return fmt.Sprintf("moveop(%d)", int(op))
}

// Move is one register transfer of a parallel copy.
type Move struct {
	Dst   regs.Reg
	Src   regs.Reg
	Src2  regs.Reg // Pack only
	Op    MoveOp
	Width int // SignExtend and ZeroExtend only
}

// ExtendMove builds the move that widens a value the way ext requires.
func ExtendMove(dst, src regs.Reg, ext abi.Extend, ty abi.ValueType) Move {
	width := int(ty.Size() * 8)
	if ty == abi.I1 {
		width = 1
	}
	switch ext {
	case abi.ExtSign:
		return Move{Dst: dst, Src: src, Op: SignExtend, Width: width}
	case abi.ExtZero:
		return Move{Dst: dst, Src: src, Op: ZeroExtend, Width: width}
	}
	return Move{Dst: dst, Src: src, Op: Copy}
}

func (m Move) reads(r regs.Reg) bool {
	return m.Src == r || (m.Op == Pack && m.Src2 == r)
}

// clobbersScratch reports whether m uses the scratch register as a
// temporary.
func (m Move) clobbersScratch() bool {
	return m.Op == Pack || m.Op == orLow || m.Op == orHigh
}

// split emits the part of a Pack that leaves the scratch register alone
// and returns the move that finishes it. Only a pack that reads the
// scratch register can be split.
func (m Move) split() ([]mach.Instr, Move, bool) {
	s := regs.Scratch
	if m.Op != Pack {
		return nil, m, false
	}
	switch {
	case m.Src2 == s:
		first := mach.New(mach.OpSll, mach.R(m.Dst), mach.R(m.Src), mach.I(32))
		return []mach.Instr{first}, Move{Dst: m.Dst, Src: s, Op: orLow}, true
	case m.Src == s:
		first := mach.New(mach.OpAnd, mach.R(m.Dst), mach.R(m.Src2), mach.Zeros(32))
		return []mach.Instr{first}, Move{Dst: m.Dst, Src: s, Op: orHigh}, true
	}
	return nil, m, false
}

// Emit returns the instructions for m on its own. Pack needs the scratch
// register.
func (m Move) Emit() []mach.Instr {
	switch m.Op {
	case Copy:
		if m.Dst == m.Src {
			return nil
		}
		return []mach.Instr{mach.Move(m.Dst, m.Src)}
	case SignExtend:
		if m.Width == 32 {
			return []mach.Instr{mach.New(mach.OpAddsWSX, mach.R(m.Dst), mach.I(0), mach.R(m.Src))}
		}
		shift := int64(64 - m.Width)
		return []mach.Instr{
			mach.New(mach.OpSll, mach.R(m.Dst), mach.R(m.Src), mach.I(shift)),
			mach.New(mach.OpSraL, mach.R(m.Dst), mach.R(m.Dst), mach.I(shift)),
		}
	case ZeroExtend:
		return []mach.Instr{mach.New(mach.OpAnd, mach.R(m.Dst), mach.R(m.Src), mach.Zeros(64-m.Width))}
	case HighHalf:
		return []mach.Instr{mach.New(mach.OpSrl, mach.R(m.Dst), mach.R(m.Src), mach.I(32))}
	case LowHalf:
		return []mach.Instr{mach.New(mach.OpAnd, mach.R(m.Dst), mach.R(m.Src), mach.Zeros(32))}
	case Pack:
		s := regs.Scratch
		switch {
		case m.Src == s && m.Src2 == s:
			return []mach.Instr{
				mach.New(mach.OpSll, mach.R(m.Dst), mach.R(s), mach.I(32)),
				mach.New(mach.OpAnd, mach.R(s), mach.R(s), mach.Zeros(32)),
				mach.New(mach.OpOr, mach.R(m.Dst), mach.R(m.Dst), mach.R(s)),
			}
		case m.Src == s:
			return []mach.Instr{
				mach.New(mach.OpSll, mach.R(s), mach.R(s), mach.I(32)),
				mach.New(mach.OpAnd, mach.R(m.Dst), mach.R(m.Src2), mach.Zeros(32)),
				mach.New(mach.OpOr, mach.R(m.Dst), mach.R(m.Dst), mach.R(s)),
			}
		}
		return []mach.Instr{
			mach.New(mach.OpAnd, mach.R(s), mach.R(m.Src2), mach.Zeros(32)),
			mach.New(mach.OpSll, mach.R(m.Dst), mach.R(m.Src), mach.I(32)),
			mach.New(mach.OpOr, mach.R(m.Dst), mach.R(m.Dst), mach.R(s)),
		}
	case orLow:
		return []mach.Instr{
			mach.New(mach.OpAnd, mach.R(m.Src), mach.R(m.Src), mach.Zeros(32)),
			mach.New(mach.OpOr, mach.R(m.Dst), mach.R(m.Dst), mach.R(m.Src)),
		}
	case orHigh:
		return []mach.Instr{
			mach.New(mach.OpSll, mach.R(m.Src), mach.R(m.Src), mach.I(32)),
			mach.New(mach.OpOr, mach.R(m.Dst), mach.R(m.Dst), mach.R(m.Src)),
		}
	}
	return nil
}

// ResolveMoves orders a parallel copy so that no source is overwritten
// before it is read. Cycles are broken through the scratch register.
// The result depends only on the order of moves.
func ResolveMoves(fn string, moves []Move) ([]mach.Instr, error) {
	pending := append([]Move(nil), moves...)
	seen := make(map[regs.Reg]bool)
	for _, m := range pending {
		if m.Dst == regs.Scratch || m.reads(regs.Scratch) {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, fn, "parallel move through the scratch register")
		}
		if seen[m.Dst] {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, fn, "register %s written twice by one parallel move", m.Dst)
		}
		seen[m.Dst] = true
	}

	done := make([]bool, len(pending))
	left := len(pending)

	// blocked reports whether another pending move still reads r
	blocked := func(self int, r regs.Reg) bool {
		for j, m := range pending {
			if j != self && !done[j] && m.reads(r) {
				return true
			}
		}
		return false
	}

	var result []mach.Instr
	for left > 0 {
		progress := false
		for i, m := range pending {
			if done[i] || blocked(i, m.Dst) {
				continue
			}
			if m.clobbersScratch() && blocked(i, regs.Scratch) {
				// Other moves still read the parked value. A pack reading
				// it too can do its first half now.
				if first, rest, ok := m.split(); ok {
					result = append(result, first...)
					pending[i] = rest
					progress = true
				}
				continue
			}
			result = append(result, m.Emit()...)
			done[i] = true
			left--
			progress = true
		}
		if progress {
			continue
		}

		// Every pending destination is still read by another move: park
		// the current value of one destination in the scratch register
		// and redirect its readers, which frees that destination.
		if blocked(-1, regs.Scratch) {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, fn, "parallel move has more than one cycle through the scratch register")
		}
		// A pack waits while anyone else reads the scratch register, so a
		// value a pack reads is parked first.
		park := -1
		for i, m := range pending {
			if done[i] {
				continue
			}
			if park < 0 || readByPack(pending, done, m.Dst) {
				if park < 0 || !readByPack(pending, done, pending[park].Dst) {
					park = i
				}
			}
		}
		if park >= 0 {
			src := pending[park].Dst
			result = append(result, mach.Move(regs.Scratch, src))
			for j := range pending {
				if done[j] {
					continue
				}
				if pending[j].Src == src {
					pending[j].Src = regs.Scratch
				}
				if pending[j].Op == Pack && pending[j].Src2 == src {
					pending[j].Src2 = regs.Scratch
				}
			}
		}
	}
	return result, nil
}

func readByPack(moves []Move, done []bool, r regs.Reg) bool {
	for j, m := range moves {
		if !done[j] && m.Op == Pack && m.reads(r) {
			return true
		}
	}
	return false
}
