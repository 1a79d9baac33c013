package regs

import "strings"

// Set is a fixed-size register bitset.
type Set [(numRegs + 63) / 64]uint64

// SetOf builds a set from a register list.
func SetOf(rs ...Reg) Set {
	var s Set
	for _, r := range rs {
		s.Add(r)
	}
	return s
}

func (s *Set) Add(r Reg) {
	if r < 0 || int(r) >= numRegs {
		return
	}
	s[r/64] |= 1 << (uint(r) % 64)
}

func (s *Set) Remove(r Reg) {
	if r < 0 || int(r) >= numRegs {
		return
	}
	s[r/64] &^= 1 << (uint(r) % 64)
}

func (s Set) Has(r Reg) bool {
	if r < 0 || int(r) >= numRegs {
		return false
	}
	return s[r/64]&(1<<(uint(r)%64)) != 0
}


// Empty reports whether no register is set.
func (s Set) Empty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

// Regs returns the members in ascending order.
func (s Set) Regs() []Reg {
	var rs []Reg
	for r := Reg(0); int(r) < numRegs; r++ {
		if s.Has(r) {
			rs = append(rs, r)
		}
	}
	return rs
}

func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range s.Regs() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(r.String())
	}
	b.WriteByte('}')
	return b.String()
}

// CallClobbers is the set of registers a callee may overwrite: the
// argument registers, the link register, the callee address register, the
// scratch register, s34-s63, all vector registers and the vector length.
func CallClobbers() Set {
	var s Set
	for _, r := range ArgRegs {
		s.Add(r)
	}
	s.Add(LR)
	s.Add(Outer)
	s.Add(Scratch)
	for r := SX34; r < NumScalar; r++ {
		s.Add(r)
	}
	for n := 0; n < NumVector; n++ {
		s.Add(V(n))
	}
	s.Add(VL)
	return s
}
