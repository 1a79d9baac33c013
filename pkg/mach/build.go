package mach

import "github.com/raymyers/ralph-ve/pkg/regs"

// Operand constructors

func R(r regs.Reg) Operand { return Reg{R: r} }
func I(v int64) Operand    { return Imm{V: v} }

// S builds a symbol operand with a relocation modifier.
func S(name string, kind VariantKind) Operand {
	return Sym{Name: name, Kind: kind}
}

// M builds a disp(,base) memory operand.
func M(disp int64, base regs.Reg) Operand {
	return Mem{Disp: disp, Base: base}
}

// MX builds a disp(index,base) memory operand.
func MX(disp int64, index, base regs.Reg) Operand {
	m := Mem{Disp: disp, Base: base}
	if index != regs.NoReg {
		m.Index = Reg{R: index}
	}
	return m
}

// MS builds a sym(index,base) memory operand; either register may be
// regs.NoReg.
func MS(sym Sym, index, base regs.Reg) Operand {
	m := Mem{Sym: &sym, Base: base}
	if index != regs.NoReg {
		m.Index = Reg{R: index}
	}
	return m
}

// Disp builds a bare displacement operand, as used by lea with no
// registers.
func Disp(v int64) Operand {
	return Mem{Disp: v, Base: regs.NoReg}
}

// Zeros returns the (n)0 mask: n zero bits followed by ones.
func Zeros(n int) Operand { return Mask{N: n} }

// Ones returns the (n)1 mask: n one bits followed by zeros.
func Ones(n int) Operand { return Mask{N: n, Ones: true} }

// Instruction constructors

// New builds an instruction from an opcode and operands.
func New(op Opcode, args ...Operand) Instr {
	return Instr{Op: op, Args: args}
}

// Move copies src into dst with "or dst, 0, src".
func Move(dst, src regs.Reg) Instr {
	return New(OpOr, R(dst), I(0), R(src))
}

// Load builds a 64-bit load from disp(,base).
func Load(dst regs.Reg, disp int64, base regs.Reg) Instr {
	return New(OpLd, R(dst), M(disp, base))
}

// Store builds a 64-bit store to disp(,base).
func Store(src regs.Reg, disp int64, base regs.Reg) Instr {
	return New(OpSt, R(src), M(disp, base))
}

// DefLabel places a label.
func DefLabel(l Label) Instr {
	return New(OpLabel, LabelRef{L: l})
}

// Return builds "b.l (,%lr)".
func Return() Instr {
	return New(OpBL, M(0, regs.LR))
}

// Call builds "bsic %lr, (,%s12)" carrying the clobber mask.
func Call(clobbers regs.Set) Instr {
	return New(OpBsic, R(regs.LR), M(0, regs.Outer), RegMask{Clobbers: clobbers})
}

// IsReturn reports whether i returns through the link register.
func IsReturn(i Instr) bool {
	if i.Op != OpBL || len(i.Args) != 1 {
		return false
	}
	m, ok := i.Args[0].(Mem)
	return ok && m.Base == regs.LR && m.Index == nil
}

// VMove copies vector register src into dst with "vor dst, (0)1, src".
func VMove(dst, src regs.Reg) Instr {
	return New(OpVor, R(dst), Ones(0), R(src))
}
