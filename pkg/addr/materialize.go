// Package addr turns symbolic addresses into VE instruction sequences
// for the configured code model and relocation mode.
package addr

import (
	"fmt"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// Linkage is the visibility of a symbol outside its module.
type Linkage int

const (
	External Linkage = iota
	Local
)

func (l Linkage) String() string {
	if l == Local {
		return "local"
	}
	return "external"
}

// Symbol is a global object or function.
type Symbol struct {
	Name    string
	Linkage Linkage
	Func    bool
}

// Mode selects the relocation style of an address.
type Mode int

const (
	Direct Mode = iota // absolute, shaped by the code model
	PCRel              // relative to the current instruction
	GOT                // loaded from the global offset table
	GOTOff             // offset from the table base
	PLT                // procedure linkage entry of a function
)

var modeNames = [...]string{"direct", "pcrel", "got", "gotoff", "plt"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Expr is an address request.
type Expr struct {
	Sym    Symbol
	Mode   Mode
	Addend int64
}

// FrameMarker receives the frame facts address lowering discovers.
type FrameMarker interface {
	MarkHasCalls()
	MarkGlobalBase()
}

// Materializer lowers the address requests of one function. It remembers
// whether the table base has been established.
type Materializer struct {
	cfg    abi.Config
	fn     string
	marker FrameMarker
	base   bool
}

// New creates a Materializer for function fn.
func New(cfg abi.Config, fn string, marker FrameMarker) *Materializer {
	return &Materializer{cfg: cfg, fn: fn, marker: marker}
}

// HasBase reports whether EstablishBase has run.
func (m *Materializer) HasBase() bool { return m.base }

// EstablishBase emits the table-base setup the first time it is called
// and nothing afterwards. Forming the base reads the program counter
// through a branch, so the function stops being a leaf.
func (m *Materializer) EstablishBase() []mach.Instr {
	if m.base {
		return nil
	}
	m.base = true
	if m.marker != nil {
		m.marker.MarkHasCalls()
		m.marker.MarkGlobalBase()
	}
	return []mach.Instr{mach.New(mach.OpGetGOT, mach.R(regs.GOT))}
}

// SelectMode picks the relocation mode for taking the address of s.
func (m *Materializer) SelectMode(s Symbol) Mode {
	if !m.cfg.PIC {
		return Direct
	}
	if s.Linkage == Local {
		return GOTOff
	}
	return GOT
}

// Address lowers the address of s into dst using SelectMode. The table
// base is established on demand.
func (m *Materializer) Address(dst regs.Reg, s Symbol) ([]mach.Instr, error) {
	e := Expr{Sym: s, Mode: m.SelectMode(s)}
	var out []mach.Instr
	if e.Mode == GOT || e.Mode == GOTOff {
		out = m.EstablishBase()
	}
	seq, err := m.Lower(dst, e)
	if err != nil {
		return nil, err
	}
	return append(out, seq...), nil
}

// Callee lowers the address of a called function into the callee
// address register. Position-independent calls go through the procedure
// linkage table, which needs the table base.
func (m *Materializer) Callee(s Symbol) ([]mach.Instr, error) {
	if !m.cfg.PIC {
		return m.Lower(regs.Outer, Expr{Sym: s, Mode: Direct})
	}
	out := m.EstablishBase()
	seq, err := m.Lower(regs.Outer, Expr{Sym: s, Mode: PLT})
	if err != nil {
		return nil, err
	}
	return append(out, seq...), nil
}

// Lower produces the instructions that leave the address of e in dst.
func (m *Materializer) Lower(dst regs.Reg, e Expr) ([]mach.Instr, error) {
	if !dst.IsScalar() {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, m.fn, "address of %s into %s", e.Sym.Name, dst)
	}
	switch e.Mode {
	case Direct:
		return m.direct(dst, e)
	case PCRel:
		if dst == regs.Scratch {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, m.fn, "pc-relative address of %s into the scratch register", e.Sym.Name)
		}
		return []mach.Instr{
			mach.New(mach.OpLea, mach.R(dst), m.sym(e, mach.VKPCLo, -24)),
			clearHigh(dst),
			mach.New(mach.OpSic, mach.R(regs.Scratch)),
			mach.New(mach.OpLeaSL, mach.R(dst), mach.MS(m.symv(e, mach.VKPCHi, 0), dst, regs.Scratch)),
		}, nil
	case GOT, GOTOff, PLT:
		if !m.base {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, m.fn, "%s address of %s before the table base", e.Mode, e.Sym.Name)
		}
	}

	switch e.Mode {
	case GOT:
		return []mach.Instr{
			mach.New(mach.OpLea, mach.R(dst), m.sym(e, mach.VKGOTLo, 0)),
			clearHigh(dst),
			mach.New(mach.OpLeaSL, mach.R(dst), mach.MS(m.symv(e, mach.VKGOTHi, 0), regs.NoReg, dst)),
			mach.New(mach.OpAdduL, mach.R(dst), mach.R(regs.GOT), mach.R(dst)),
			mach.Load(dst, 0, dst),
		}, nil
	case GOTOff:
		return []mach.Instr{
			mach.New(mach.OpLea, mach.R(dst), m.sym(e, mach.VKGOTOffLo, 0)),
			clearHigh(dst),
			mach.New(mach.OpLeaSL, mach.R(dst), mach.MS(m.symv(e, mach.VKGOTOffHi, 0), regs.NoReg, dst)),
			mach.New(mach.OpAdduL, mach.R(dst), mach.R(regs.GOT), mach.R(dst)),
		}, nil
	case PLT:
		return []mach.Instr{mach.New(mach.OpGetFunPLT, mach.R(dst), mach.S(e.Sym.Name, mach.VKPLTLo))}, nil
	}
	return nil, abi.Errorf(abi.ErrConsistencyViolation, m.fn, "unknown address mode %s", e.Mode)
}

func (m *Materializer) direct(dst regs.Reg, e Expr) ([]mach.Instr, error) {
	switch m.cfg.CodeModel {
	case abi.Small:
		return []mach.Instr{
			mach.New(mach.OpLea, mach.R(dst), m.sym(e, mach.VKLo, 0)),
			clearHigh(dst),
			mach.New(mach.OpLeaSL, mach.R(dst), mach.MS(m.symv(e, mach.VKHi, 0), regs.NoReg, dst)),
		}, nil
	case abi.Medium:
		// 44 bit page address shifted into place, then the 12 bit offset.
		return []mach.Instr{
			mach.New(mach.OpLea, mach.R(dst), m.sym(e, mach.VKM44, 0)),
			clearHigh(dst),
			mach.New(mach.OpLeaSL, mach.R(dst), mach.MS(m.symv(e, mach.VKH44, 0), regs.NoReg, dst)),
			mach.New(mach.OpSll, mach.R(dst), mach.R(dst), mach.I(12)),
			mach.New(mach.OpLea, mach.R(dst), mach.MS(m.symv(e, mach.VKL44, 0), regs.NoReg, dst)),
		}, nil
	case abi.Large:
		if dst == regs.Scratch {
			return nil, abi.Errorf(abi.ErrConsistencyViolation, m.fn, "large-model address of %s into the scratch register", e.Sym.Name)
		}
		// Upper word shifted into place, then the zero-extended lower word.
		return []mach.Instr{
			mach.New(mach.OpLea, mach.R(dst), m.sym(e, mach.VKHM, 0)),
			mach.New(mach.OpSll, mach.R(dst), mach.R(dst), mach.I(32)),
			mach.New(mach.OpLea, mach.R(regs.Scratch), m.sym(e, mach.VKLo, 0)),
			clearHigh(regs.Scratch),
			mach.New(mach.OpOr, mach.R(dst), mach.R(dst), mach.R(regs.Scratch)),
		}, nil
	}
	return nil, abi.Errorf(abi.ErrConsistencyViolation, m.fn, "unknown code model %s", m.cfg.CodeModel)
}

func (m *Materializer) symv(e Expr, kind mach.VariantKind, bias int64) mach.Sym {
	return mach.Sym{Name: e.Sym.Name, Kind: kind, Addend: e.Addend + bias}
}

func (m *Materializer) sym(e Expr, kind mach.VariantKind, bias int64) mach.Operand {
	return m.symv(e, kind, bias)
}

// clearHigh zeroes the upper 32 bits of r.
func clearHigh(r regs.Reg) mach.Instr {
	return mach.New(mach.OpAnd, mach.R(r), mach.R(r), mach.Zeros(32))
}
