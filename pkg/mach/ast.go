// Package mach defines the VE machine instruction list produced by the
// lowering components. Instructions carry an opcode and an operand list;
// a handful of pseudo opcodes stand for sequences that later passes
// expand (stack extension, GOT/PLT bases, call frame setup).
package mach

import (
	"fmt"

	"github.com/raymyers/ralph-ve/pkg/regs"
)

// Opcode identifies a machine instruction or pseudo instruction.
type Opcode int

const (
	OpInvalid Opcode = iota

	// Integer arithmetic and logic
	OpAddsL   // adds.l
	OpAddsWSX // adds.w.sx
	OpAdduL   // addu.l
	OpSubsL   // subs.l
	OpAnd
	OpOr
	OpSll
	OpSrl
	OpSraL // sra.l

	// Address formation
	OpLea
	OpLeaSL // lea.sl

	// Memory
	OpLd
	OpSt
	OpLdu // 32-bit float into the upper half
	OpStu
	OpLdlSX // ldl.sx
	OpLdlZX // ldl.zx
	OpStl
	OpLd2bSX
	OpLd2bZX
	OpSt2b
	OpLd1bSX
	OpLd1bZX
	OpSt1b

	// Control
	OpBsic   // call
	OpBL     // b.l, return through %lr
	OpBrgeLT // brge.l.t
	OpSic
	OpMonc
	OpShmL // shm.l

	// Vector length and registers
	OpSvl
	OpLvl
	OpVor

	// Directives and labels
	OpLabel
	OpCFIDefCFARegister

	// Pseudo instructions
	OpExtendStack      // stack limit check, expanded into a CHECK/EXTEND/RESUME block
	OpGetGOT           // establish the GOT base in %got
	OpGetFunPLT        // procedure-table-relative function address
	OpAdjCallStackDown // reserve the outgoing argument area of one call
	OpAdjCallStackUp   // release it

	numOpcodes
)

var mnemonics = [numOpcodes]string{
	OpInvalid:           "<invalid>",
	OpAddsL:             "adds.l",
	OpAddsWSX:           "adds.w.sx",
	OpAdduL:             "addu.l",
	OpSubsL:             "subs.l",
	OpAnd:               "and",
	OpOr:                "or",
	OpSll:               "sll",
	OpSrl:               "srl",
	OpSraL:              "sra.l",
	OpLea:               "lea",
	OpLeaSL:             "lea.sl",
	OpLd:                "ld",
	OpSt:                "st",
	OpLdu:               "ldu",
	OpStu:               "stu",
	OpLdlSX:             "ldl.sx",
	OpLdlZX:             "ldl.zx",
	OpStl:               "stl",
	OpLd2bSX:            "ld2b.sx",
	OpLd2bZX:            "ld2b.zx",
	OpSt2b:              "st2b",
	OpLd1bSX:            "ld1b.sx",
	OpLd1bZX:            "ld1b.zx",
	OpSt1b:              "st1b",
	OpBsic:              "bsic",
	OpBL:                "b.l",
	OpBrgeLT:            "brge.l.t",
	OpSic:               "sic",
	OpMonc:              "monc",
	OpShmL:              "shm.l",
	OpSvl:               "svl",
	OpLvl:               "lvl",
	OpVor:               "vor",
	OpLabel:             "<label>",
	OpCFIDefCFARegister: ".cfi_def_cfa_register",
	OpExtendStack:       "extend_stack",
	OpGetGOT:            "get_got",
	OpGetFunPLT:         "get_fun_plt",
	OpAdjCallStackDown:  "adjcallstackdown",
	OpAdjCallStackUp:    "adjcallstackup",
}

func (op Opcode) String() string {
	if op >= 0 && op < numOpcodes {
		return mnemonics[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// IsPseudo reports whether op must be expanded before emission.
func (op Opcode) IsPseudo() bool {
	return op >= OpExtendStack && op < numOpcodes
}

// VariantKind is the relocation modifier attached to a symbol operand.
type VariantKind int

const (
	VKNone VariantKind = iota
	VKHi
	VKLo
	VKH44
	VKM44
	VKL44
	VKHM
	VKPCHi
	VKPCLo
	VKGOTHi
	VKGOTLo
	VKGOTOffHi
	VKGOTOffLo
	VKPLTHi
	VKPLTLo
)

var variantNames = [...]string{
	VKNone:     "",
	VKHi:       "hi",
	VKLo:       "lo",
	VKH44:      "h44",
	VKM44:      "m44",
	VKL44:      "l44",
	VKHM:       "hm",
	VKPCHi:     "pc_hi",
	VKPCLo:     "pc_lo",
	VKGOTHi:    "got_hi",
	VKGOTLo:    "got_lo",
	VKGOTOffHi: "gotoff_hi",
	VKGOTOffLo: "gotoff_lo",
	VKPLTHi:    "plt_hi",
	VKPLTLo:    "plt_lo",
}

func (k VariantKind) String() string {
	if k >= 0 && int(k) < len(variantNames) {
		return variantNames[k]
	}
	return fmt.Sprintf("vk(%d)", int(k))
}

// Label is a branch target within one function. Labels are positive.
type Label int

// Valid returns true if this is a valid label (positive)
func (l Label) Valid() bool {
	return l > 0
}

// --- Operands ---

// Operand is one of Reg, Imm, Sym, Mem, FrameAddr, Mask, LabelRef, RegMask.
type Operand interface {
	implOperand()
}

// Reg is a register operand.
type Reg struct {
	R regs.Reg
}

// Imm is an immediate operand.
type Imm struct {
	V int64
}

// Sym is a symbol with a relocation modifier and an optional addend.
type Sym struct {
	Name   string
	Kind   VariantKind
	Addend int64
}

// Mem is a displacement(index, base) address. Sym, when set, replaces the
// numeric displacement. Index may be nil, a Reg or an Imm.
type Mem struct {
	Disp  int64
	Sym   *Sym
	Index Operand
	Base  regs.Reg
}

// FrameAddr addresses a frame object before the frame layout is frozen.
// ResolveFrameAddrs turns it into a Mem.
type FrameAddr struct {
	Object int
	Disp   int64
}

// Mask is the VE (m)0 / (m)1 immediate: m leading zeros followed by
// ones, or m leading ones followed by zeros.
type Mask struct {
	N    int
	Ones bool
}

// LabelRef names a branch target.
type LabelRef struct {
	L Label
}

// RegMask lists the registers a call may clobber.
type RegMask struct {
	Clobbers regs.Set
}

func (Reg) implOperand()       {}
func (Imm) implOperand()       {}
func (Sym) implOperand()       {}
func (Mem) implOperand()       {}
func (FrameAddr) implOperand() {}
func (Mask) implOperand()      {}
func (LabelRef) implOperand()  {}
func (RegMask) implOperand()   {}

// --- Instructions ---

// Instr is one machine instruction. Args lists the destination first for
// instructions that define a register, then the sources in assembler
// order.
type Instr struct {
	Op   Opcode
	Args []Operand
}

// Clone returns a copy of i that shares no operand storage with it.
func (i Instr) Clone() Instr {
	i.Args = append([]Operand(nil), i.Args...)
	return i
}

// Kind returns the relocation modifier of the first symbol operand, or
// VKNone for instructions that do not form an address.
func (i Instr) Kind() VariantKind {
	for _, a := range i.Args {
		switch o := a.(type) {
		case Sym:
			return o.Kind
		case Mem:
			if o.Sym != nil {
				return o.Sym.Kind
			}
		}
	}
	return VKNone
}

// Uses returns every register the instruction mentions, including its
// definition.
func (i Instr) Uses() []regs.Reg {
	var out []regs.Reg
	for _, a := range i.Args {
		out = appendOperandRegs(out, a)
	}
	return out
}

func appendOperandRegs(out []regs.Reg, a Operand) []regs.Reg {
	switch o := a.(type) {
	case Reg:
		out = append(out, o.R)
	case Mem:
		if o.Index != nil {
			out = appendOperandRegs(out, o.Index)
		}
		if o.Base != regs.NoReg {
			out = append(out, o.Base)
		}
	}
	return out
}

// --- Function ---

// Function is the instruction list of one function.
type Function struct {
	Name  string
	Local bool // not visible outside the translation unit
	Code  []Instr
}

// NewFunction creates a new function with an empty body.
func NewFunction(name string) *Function {
	return &Function{
		Name: name,
		Code: make([]Instr, 0),
	}
}

// Append adds instructions to the function's code
func (f *Function) Append(insts ...Instr) {
	f.Code = append(f.Code, insts...)
}

// MaxLabel returns the largest label used as a definition or a target.
func (f *Function) MaxLabel() Label {
	var top Label
	for _, inst := range f.Code {
		for _, a := range inst.Args {
			if ref, ok := a.(LabelRef); ok && ref.L > top {
				top = ref.L
			}
		}
	}
	return top
}
