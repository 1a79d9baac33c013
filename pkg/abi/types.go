// Package abi holds the data model shared by the lowering components:
// argument descriptors, value locations, the calling-convention table,
// target configuration and the lowering error taxonomy.
package abi

import (
	"fmt"

	"github.com/raymyers/ralph-ve/pkg/regs"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// ValueType is the declared machine type of an argument or return value.
type ValueType int

const (
	I1 ValueType = iota
	I8
	I16
	I32
	I64
	F32
	F64
	V2I32 // two 32-bit scalars in one 64-bit value
	Vector
	F128
	I128
)

var valueTypeNames = [...]string{
	I1:     "i1",
	I8:     "i8",
	I16:    "i16",
	I32:    "i32",
	I64:    "i64",
	F32:    "f32",
	F64:    "f64",
	V2I32:  "v2i32",
	Vector: "vector",
	F128:   "f128",
	I128:   "i128",
}

func (t ValueType) String() string {
	if t >= 0 && int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseValueType maps a type name back to its ValueType.
func ParseValueType(s string) (ValueType, error) {
	for i, n := range valueTypeNames {
		if n == s {
			return ValueType(i), nil
		}
	}
	return 0, xerrors.Errorf("unknown value type %q", s)
}

// UnmarshalYAML reads a type name such as "i32" or "v2i32".
func (t *ValueType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	vt, err := ParseValueType(s)
	if err != nil {
		return xerrors.Errorf("line %d: %w", value.Line, err)
	}
	*t = vt
	return nil
}

func (t ValueType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// Size returns the value size in bytes.
func (t ValueType) Size() int64 {
	switch t {
	case I1, I8:
		return 1
	case I16:
		return 2
	case I32, F32:
		return 4
	case I64, F64, V2I32:
		return 8
	case F128, I128:
		return 16
	}
	return 0
}

// IsInteger reports whether the type lives in the integer class.
func (t ValueType) IsInteger() bool {
	return t >= I1 && t <= I64
}

// IsFloat reports whether the type lives in the float class.
func (t ValueType) IsFloat() bool {
	return t == F32 || t == F64
}

// IsNarrow reports whether the type must be widened to a full register.
func (t ValueType) IsNarrow() bool {
	return t >= I1 && t <= I32
}

// Extend records how a narrow value was widened to 64 bits.
type Extend int

const (
	ExtNone Extend = iota // full-width value
	ExtAny                // upper bits undefined
	ExtSign
	ExtZero
)

func (e Extend) String() string {
	switch e {
	case ExtAny:
		return "aext"
	case ExtSign:
		return "sext"
	case ExtZero:
		return "zext"
	}
	return "full"
}

// Half selects one 32-bit half of a shared 64-bit register or slot.
type Half int

const (
	Whole Half = iota
	High
	Low
)

func (h Half) String() string {
	switch h {
	case High:
		return "hi"
	case Low:
		return "lo"
	}
	return ""
}

// ByVal describes an aggregate passed by copy.
type ByVal struct {
	Size  int64
	Align int64
}

// ArgFlags are the ABI attributes attached to one value.
type ArgFlags struct {
	SExt   bool
	ZExt   bool
	AExt   bool
	ByVal  *ByVal
	SRet   bool
	VarArg bool
	// Packed marks one half of a register-width pair of 32-bit scalars.
	// Two consecutive packed i32 values share one register.
	Packed bool
}

// ArgDesc describes one argument or return value. Value is the register
// holding the value at the point of lowering: the source for outgoing
// values and the destination for incoming ones.
type ArgDesc struct {
	Value regs.Reg
	Type  ValueType
	Flags ArgFlags
}

// Arg is a convenience constructor for a flagless descriptor.
func Arg(r regs.Reg, t ValueType) ArgDesc {
	return ArgDesc{Value: r, Type: t}
}

// ExtendMode derives the widening mode from the flags.
func (d ArgDesc) ExtendMode() Extend {
	if !d.Type.IsNarrow() {
		return ExtNone
	}
	switch {
	case d.Flags.SExt:
		return ExtSign
	case d.Flags.ZExt:
		return ExtZero
	case d.Type == I1:
		return ExtZero
	}
	return ExtAny
}
