package asmgen

import (
	"strings"
	"testing"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/asm"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"golang.org/x/xerrors"
)

func text(code []mach.Instr) string {
	return asm.FormatCode(code)
}

func TestTransformSimpleFunction(t *testing.T) {
	fn := &mach.Function{
		Name: "add_one",
		Code: []mach.Instr{
			mach.New(mach.OpAddsL, mach.R(regs.SX0), mach.R(regs.SX0), mach.I(1)),
			mach.Return(),
		},
	}
	got, err := TransformFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "add_one" || !got.Global {
		t.Errorf("got %q global=%v", got.Name, got.Global)
	}
	if len(got.Code) != 2 {
		t.Errorf("Expected 2 instructions, got %d", len(got.Code))
	}
	local, err := TransformFunction(&mach.Function{Name: "helper", Local: true})
	if err != nil {
		t.Fatal(err)
	}
	if local.Global {
		t.Error("local function marked global")
	}
}

func TestExpandGetGOT(t *testing.T) {
	fn := &mach.Function{Name: "f", Code: []mach.Instr{mach.New(mach.OpGetGOT, mach.R(regs.GOT))}}
	got, err := TransformFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	want := "lea %got, _GLOBAL_OFFSET_TABLE_@pc_lo(-24)\n" +
		"and %got, %got, (32)0\n" +
		"sic %plt\n" +
		"lea.sl %got, _GLOBAL_OFFSET_TABLE_@pc_hi(%got, %plt)\n"
	if text(got.Code) != want {
		t.Errorf("got:\n%s\nwant:\n%s", text(got.Code), want)
	}
}

func TestExpandGetFunPLT(t *testing.T) {
	fn := &mach.Function{Name: "f", Code: []mach.Instr{
		mach.New(mach.OpGetFunPLT, mach.R(regs.Outer), mach.S("g", mach.VKPLTLo)),
	}}
	got, err := TransformFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	want := "lea %s12, g@plt_lo(-24)\n" +
		"and %s12, %s12, (32)0\n" +
		"sic %plt\n" +
		"lea.sl %s12, g@plt_hi(%s12, %plt)\n"
	if text(got.Code) != want {
		t.Errorf("got:\n%s\nwant:\n%s", text(got.Code), want)
	}
}

func TestExpandExtendStack(t *testing.T) {
	fn := &mach.Function{Name: "f", Code: []mach.Instr{
		mach.New(mach.OpBrgeLT, mach.R(regs.SX0), mach.R(regs.SX1), mach.LabelRef{L: 4}),
		mach.New(mach.OpExtendStack),
		mach.DefLabel(4),
		mach.Return(),
	}}
	got, err := TransformFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	want := "brge.l.t %s0, %s1, .L4\n" +
		"brge.l.t %sp, %sl, .L5\n" +
		"ld %s61, 24(, %tp)\n" +
		"or %s62, 0, %s0\n" +
		"lea %s63, 315\n" +
		"shm.l %s63, 0(%s61)\n" +
		"shm.l %sl, 8(%s61)\n" +
		"shm.l %sp, 16(%s61)\n" +
		"monc\n" +
		"or %s0, 0, %s62\n" +
		"or %sl, 0, %sp\n" +
		".L5:\n" +
		".L4:\n" +
		"b.l 0(, %lr)\n"
	if text(got.Code) != want {
		t.Errorf("got:\n%s\nwant:\n%s", text(got.Code), want)
	}
}

func TestExpandExtendStackTwice(t *testing.T) {
	fn := &mach.Function{Name: "f", Code: []mach.Instr{
		mach.New(mach.OpExtendStack),
		mach.New(mach.OpExtendStack),
	}}
	got, err := TransformFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	out := text(got.Code)
	if !strings.Contains(out, ".L1:") || !strings.Contains(out, ".L2:") {
		t.Errorf("each block needs its own label:\n%s", out)
	}
}

func TestTransformLeftoverPseudos(t *testing.T) {
	tests := []struct {
		name string
		inst mach.Instr
	}{
		{"adjcallstackdown", mach.New(mach.OpAdjCallStackDown, mach.I(64))},
		{"adjcallstackup", mach.New(mach.OpAdjCallStackUp, mach.I(64))},
		{"frame object", mach.New(mach.OpLd, mach.R(regs.SX0), mach.FrameAddr{Object: 1})},
		{"malformed plt", mach.New(mach.OpGetFunPLT, mach.R(regs.SX0))},
		{"invalid", mach.New(mach.OpInvalid)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := &mach.Function{Name: "f", Code: []mach.Instr{tt.inst}}
			if _, err := TransformFunction(fn); !xerrors.Is(err, abi.ErrConsistencyViolation) {
				t.Errorf("expected consistency violation, got %v", err)
			}
		})
	}
}

func TestTransformErrorNamesFunction(t *testing.T) {
	fn := &mach.Function{Name: "bad", Code: []mach.Instr{mach.Return(), mach.New(mach.OpAdjCallStackUp, mach.I(8))}}
	_, err := TransformFunction(fn)
	if err == nil || !strings.HasPrefix(err.Error(), "bad:") {
		t.Errorf("expected error naming bad, got %v", err)
	}
}
