package mach

import (
	"testing"

	"github.com/raymyers/ralph-ve/pkg/regs"
)

func TestLabelValid(t *testing.T) {
	tests := []struct {
		label Label
		want  bool
	}{
		{Label(0), false},
		{Label(1), true},
		{Label(100), true},
		{Label(-1), false},
	}
	for _, tt := range tests {
		if got := tt.label.Valid(); got != tt.want {
			t.Errorf("Label(%d).Valid() = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestOperandTypes(t *testing.T) {
	var _ Operand = Reg{}
	var _ Operand = Imm{}
	var _ Operand = Sym{}
	var _ Operand = Mem{}
	var _ Operand = FrameAddr{}
	var _ Operand = Mask{}
	var _ Operand = LabelRef{}
	var _ Operand = RegMask{}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpAddsL, "adds.l"},
		{OpLeaSL, "lea.sl"},
		{OpBrgeLT, "brge.l.t"},
		{OpShmL, "shm.l"},
		{OpExtendStack, "extend_stack"},
		{Opcode(999), "op(999)"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.op), got, tt.want)
		}
	}
}

func TestIsPseudo(t *testing.T) {
	for _, op := range []Opcode{OpExtendStack, OpGetGOT, OpGetFunPLT, OpAdjCallStackDown, OpAdjCallStackUp} {
		if !op.IsPseudo() {
			t.Errorf("%v should be a pseudo", op)
		}
	}
	for _, op := range []Opcode{OpLd, OpBsic, OpMonc, OpLabel} {
		if op.IsPseudo() {
			t.Errorf("%v should not be a pseudo", op)
		}
	}
}

func TestInstrKind(t *testing.T) {
	tests := []struct {
		name string
		inst Instr
		want VariantKind
	}{
		{"lea lo", New(OpLea, R(regs.SX0), S("x", VKLo)), VKLo},
		{"lea.sl hi", New(OpLeaSL, R(regs.SX0), MS(Sym{Name: "x", Kind: VKHi}, regs.NoReg, regs.SX0)), VKHi},
		{"plain", Move(regs.SX0, regs.SX1), VKNone},
	}
	for _, tt := range tests {
		if got := tt.inst.Kind(); got != tt.want {
			t.Errorf("%s: Kind() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUses(t *testing.T) {
	if uses := Store(regs.SX1, 8, regs.SP).Uses(); len(uses) != 2 || uses[0] != regs.SX1 || uses[1] != regs.SP {
		t.Errorf("st uses %v", uses)
	}
	uses := New(OpLeaSL, R(regs.SP), MX(0, regs.SP, regs.Scratch)).Uses()
	if len(uses) != 3 || uses[0] != regs.SP || uses[1] != regs.SP || uses[2] != regs.Scratch {
		t.Errorf("Uses() = %v", uses)
	}
	if uses := New(OpLea, R(regs.SX2), Disp(5)).Uses(); len(uses) != 1 {
		t.Errorf("bare displacement should not add a base register: %v", uses)
	}
}

func TestIsReturn(t *testing.T) {
	if !IsReturn(Return()) {
		t.Error("Return() not recognized")
	}
	if IsReturn(New(OpBL, M(0, regs.SX12))) {
		t.Error("jump through s12 is not a return")
	}
}

func TestFunctionMaxLabel(t *testing.T) {
	fn := NewFunction("f")
	fn.Append(DefLabel(1), New(OpBrgeLT, R(regs.SP), R(regs.SL), LabelRef{L: 3}), DefLabel(1))

	if fn.MaxLabel() != 3 {
		t.Errorf("MaxLabel() = %d, want 3", fn.MaxLabel())
	}
}
