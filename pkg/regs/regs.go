// Package regs describes the VE register file: scalar registers, vector
// registers, the vector-length register and the fixed ABI role bindings.
package regs

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Reg identifies a physical register.
type Reg int

// NoReg marks an absent register operand.
const NoReg Reg = -1

const (
	SX0 Reg = iota
	SX1
	SX2
	SX3
	SX4
	SX5
	SX6
	SX7
	SX8
	SX9
	SX10
	SX11
	SX12
	SX13
	SX14
	SX15
	SX16
	SX17
	SX18
	SX19
	SX20
	SX21
	SX22
	SX23
	SX24
	SX25
	SX26
	SX27
	SX28
	SX29
	SX30
	SX31
	SX32
	SX33
	SX34
)

// Register file geometry
const (
	NumScalar = 64
	NumVector = 64

	V0  Reg = NumScalar
	VL  Reg = NumScalar + NumVector
	UCC Reg = VL + 1

	numRegs = int(UCC) + 1
)

// ABI role bindings
const (
	SL    = SX8  // stack limit
	FP    = SX9  // frame pointer
	LR    = SX10 // link register
	SP    = SX11 // stack pointer
	Outer = SX12 // callee address for calls
	TP    = SX14 // thread pointer
	GOT   = SX15 // global offset table base
	PLT   = SX16 // procedure linkage table base
	Info  = SX17

	// Scratch is never allocated and may be clobbered by any lowering
	// sequence (SP adjustment, parallel moves, large-model addresses).
	Scratch = SX13

	// VLSave holds the vector length while it is spilled by the prologue.
	VLSave = SX34
)

// S returns scalar register n.
func S(n int) Reg { return Reg(n) }

// V returns vector register n.
func V(n int) Reg { return V0 + Reg(n) }

func (r Reg) IsScalar() bool { return r >= 0 && r < NumScalar }
func (r Reg) IsVector() bool { return r >= V0 && r < V0+NumVector }

var aliases = map[Reg]string{
	SL:  "sl",
	FP:  "fp",
	LR:  "lr",
	SP:  "sp",
	TP:  "tp",
	GOT: "got",
	PLT: "plt",
}

// String returns the assembler spelling of the register.
func (r Reg) String() string {
	switch {
	case r == NoReg:
		return ""
	case r == VL:
		return "%vl"
	case r == UCC:
		return "%usrcc"
	case r.IsVector():
		return "%v" + strconv.Itoa(int(r-V0))
	case r.IsScalar():
		if a, ok := aliases[r]; ok {
			return "%" + a
		}
		return "%s" + strconv.Itoa(int(r))
	}
	return fmt.Sprintf("%%reg%d", int(r))
}

// ErrUnknownRegister is returned for names outside the register table.
var ErrUnknownRegister = xerrors.New("unknown register")

// byName is the fixed table of registers addressable by role name.
var byName = map[string]Reg{
	"sp":    SP,
	"fp":    FP,
	"sl":    SL,
	"lr":    LR,
	"tp":    TP,
	"outer": Outer,
	"info":  Info,
	"got":   GOT,
	"plt":   PLT,
	"usrcc": UCC,
}

// ByName looks up a register by its ABI role name.
func ByName(name string) (Reg, error) {
	if r, ok := byName[strings.ToLower(name)]; ok {
		return r, nil
	}
	return NoReg, xerrors.Errorf("%q: %w", name, ErrUnknownRegister)
}

// Parse accepts role names and numbered spellings such as "s3", "%s3",
// "v12" or "vl".
func Parse(s string) (Reg, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "%")
	if r, err := ByName(name); err == nil {
		return r, nil
	}
	if name == "vl" {
		return VL, nil
	}
	if len(name) > 1 {
		n, err := strconv.Atoi(name[1:])
		if err == nil {
			switch {
			case name[0] == 's' && n >= 0 && n < NumScalar:
				return S(n), nil
			case name[0] == 'v' && n >= 0 && n < NumVector:
				return V(n), nil
			}
		}
	}
	return NoReg, xerrors.Errorf("%q: %w", s, ErrUnknownRegister)
}

// UnmarshalYAML reads a register spelled as in Parse.
func (r *Reg) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	reg, err := Parse(s)
	if err != nil {
		return xerrors.Errorf("line %d: %w", value.Line, err)
	}
	*r = reg
	return nil
}

// MarshalYAML writes the register without the % sigil.
func (r Reg) MarshalYAML() (interface{}, error) {
	return strings.TrimPrefix(r.String(), "%"), nil
}

// ArgRegs are the argument and return registers in allocation order.
var ArgRegs = []Reg{SX0, SX1, SX2, SX3, SX4, SX5, SX6, SX7}

// VectorArgRegs are the vector argument registers in allocation order.
var VectorArgRegs = []Reg{V(0), V(1), V(2), V(3), V(4), V(5), V(6), V(7)}

// CalleeSaved lists the scalar registers a callee must preserve, s18-s33.
var CalleeSaved = func() []Reg {
	var rs []Reg
	for r := SX18; r <= SX33; r++ {
		rs = append(rs, r)
	}
	return rs
}()

// IsCalleeSaved reports whether r belongs to s18-s33.
func IsCalleeSaved(r Reg) bool {
	return r >= SX18 && r <= SX33
}
