package abi

import (
	"os"

	"github.com/raymyers/ralph-ve/pkg/regs"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Table is a calling convention: candidate registers per class and the
// geometry of the argument area. It is read-only once built and may be
// shared between functions lowered in parallel.
type Table struct {
	Name string `yaml:"name"`

	// Integer and float values draw from the same scalar registers; a
	// register taken by one class is gone for the other.
	IntRegs    []regs.Reg `yaml:"int_regs"`
	FloatRegs  []regs.Reg `yaml:"float_regs"`
	VectorRegs []regs.Reg `yaml:"vector_regs"`
	ReturnRegs []regs.Reg `yaml:"return_regs"`

	CalleeSaved []regs.Reg `yaml:"callee_saved"`

	// ReservedArea is the size of the preserved area at the start of the
	// argument area; stack arguments are placed after it.
	ReservedArea int64 `yaml:"reserved_area"`
	// ArgAreaBase is the offset of the argument area from %fp in the
	// callee and from %sp in the caller.
	ArgAreaBase int64 `yaml:"arg_area_base"`
	// RegisterSaveArea is reserved at the bottom of every frame for the
	// callee's register spills.
	RegisterSaveArea int64 `yaml:"register_save_area"`
	SlotSize         int64 `yaml:"slot_size"`
	StackAlign       int64 `yaml:"stack_align"`
}

// DefaultTable returns the standard VE calling convention.
func DefaultTable() *Table {
	return &Table{
		Name:             "ve",
		IntRegs:          append([]regs.Reg(nil), regs.ArgRegs...),
		FloatRegs:        append([]regs.Reg(nil), regs.ArgRegs...),
		VectorRegs:       append([]regs.Reg(nil), regs.VectorArgRegs...),
		ReturnRegs:       append([]regs.Reg(nil), regs.ArgRegs...),
		CalleeSaved:      append([]regs.Reg(nil), regs.CalleeSaved...),
		ReservedArea:     64,
		ArgAreaBase:      176,
		RegisterSaveArea: 176,
		SlotSize:         8,
		StackAlign:       16,
	}
}

// Stack returns the all-stack variant used for the second placement of
// variadic and unprototyped calls: no registers and no reserved area.
func (t *Table) Stack() *Table {
	s := *t
	s.Name = t.Name + "-stack"
	s.IntRegs = nil
	s.FloatRegs = nil
	s.VectorRegs = nil
	s.ReservedArea = 0
	return &s
}

// IsCalleeSaved reports whether r is preserved across calls under t.
func (t *Table) IsCalleeSaved(r regs.Reg) bool {
	for _, c := range t.CalleeSaved {
		if c == r {
			return true
		}
	}
	return false
}

// Validate checks the geometry constraints the lowering code relies on.
func (t *Table) Validate() error {
	if t.SlotSize != 8 {
		return xerrors.Errorf("table %s: slot size %d, want 8", t.Name, t.SlotSize)
	}
	if t.StackAlign <= 0 || t.StackAlign&(t.StackAlign-1) != 0 {
		return xerrors.Errorf("table %s: stack alignment %d is not a power of two", t.Name, t.StackAlign)
	}
	if t.ReservedArea < 0 || t.ReservedArea%t.SlotSize != 0 {
		return xerrors.Errorf("table %s: reserved area %d is not slot aligned", t.Name, t.ReservedArea)
	}
	if t.RegisterSaveArea%t.StackAlign != 0 {
		return xerrors.Errorf("table %s: register save area %d is not stack aligned", t.Name, t.RegisterSaveArea)
	}
	if len(t.ReturnRegs) == 0 {
		return xerrors.Errorf("table %s: no return registers", t.Name)
	}
	return nil
}

// ParseTable decodes a YAML table. Missing fields keep their defaults.
func ParseTable(data []byte) (*Table, error) {
	t := DefaultTable()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, xerrors.Errorf("parse calling convention: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTable reads a YAML table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read calling convention: %w", err)
	}
	return ParseTable(data)
}
