package stacking

import (
	"strings"
	"testing"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/asm"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

func lines(code []mach.Instr) []string {
	out := make([]string, len(code))
	for i, in := range code {
		out[i] = asm.FormatInstr(in)
	}
	return out
}

func checkLines(t *testing.T, got []mach.Instr, want ...string) {
	t.Helper()
	g := lines(got)
	if strings.Join(g, "\n") != strings.Join(want, "\n") {
		t.Errorf("got:\n%s\nwant:\n%s", strings.Join(g, "\n"), strings.Join(want, "\n"))
	}
}

func TestAdjustSP(t *testing.T) {
	checkLines(t, AdjustSP(0))
	checkLines(t, AdjustSP(-64), "adds.l %sp, %sp, -64")
	checkLines(t, AdjustSP(48), "adds.l %sp, %sp, 48")
	checkLines(t, AdjustSP(63),
		"lea %s13, 63",
		"and %s13, %s13, (32)0",
		"lea.sl %sp, 0(%sp, %s13)")
	checkLines(t, AdjustSP(-240),
		"lea %s13, -240",
		"and %s13, %s13, (32)0",
		"lea.sl %sp, -1(%sp, %s13)")
	checkLines(t, AdjustSP(0x100000010),
		"lea %s13, 16",
		"and %s13, %s13, (32)0",
		"lea.sl %sp, 1(%sp, %s13)")
}

func planned(t *testing.T, cfg abi.Config, setup func(b *frame.Builder)) *frame.Descriptor {
	t.Helper()
	b := frame.NewBuilder("f", cfg, abi.DefaultTable())
	if setup != nil {
		setup(b)
	}
	d, err := b.Plan(false)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestPrologueEpilogue(t *testing.T) {
	d := planned(t, abi.DefaultConfig(), func(b *frame.Builder) {
		b.RecordCallFrame(64)
		b.UseReg(regs.SX18, regs.SX19)
	})
	cs, err := ComputeCalleeSaveInfo(d)
	if err != nil {
		t.Fatal(err)
	}

	checkLines(t, GeneratePrologue(d, cs),
		"st %fp, 0(, %sp)",
		"st %lr, 8(, %sp)",
		"st %s18, 48(, %sp)",
		"st %s19, 56(, %sp)",
		"svl %s34",
		"st %s34, 16(, %sp)",
		"or %fp, 0, %sp",
		"lea %s13, -240",
		"and %s13, %s13, (32)0",
		"lea.sl %sp, -1(%sp, %s13)",
		"extend_stack",
		".cfi_def_cfa_register %fp",
	)
	checkLines(t, GenerateEpilogue(d, cs),
		"or %sp, 0, %fp",
		"ld %s34, 16(, %sp)",
		"lvl %s34",
		"ld %s19, 56(, %sp)",
		"ld %s18, 48(, %sp)",
		"ld %lr, 8(, %sp)",
		"ld %fp, 0(, %sp)",
	)
}

func TestPrologueWithGOT(t *testing.T) {
	cfg := abi.DefaultConfig()
	cfg.VectorState = false
	d := planned(t, cfg, func(b *frame.Builder) {
		b.MarkHasCalls()
		b.MarkGlobalBase()
	})
	cs, _ := ComputeCalleeSaveInfo(d)
	pro := lines(GeneratePrologue(d, cs))
	if pro[2] != "st %got, 24(, %sp)" || pro[3] != "st %plt, 32(, %sp)" {
		t.Errorf("table base saves missing: %v", pro)
	}
	for _, l := range pro {
		if strings.HasPrefix(l, "svl") {
			t.Error("vector length saved without vector state")
		}
	}
	epi := lines(GenerateEpilogue(d, cs))
	if epi[1] != "ld %plt, 32(, %sp)" || epi[2] != "ld %got, 24(, %sp)" {
		t.Errorf("table base restores wrong: %v", epi)
	}
}

func TestPrologueRealign(t *testing.T) {
	cfg := abi.DefaultConfig()
	cfg.CanRealignStack = true
	d := planned(t, cfg, func(b *frame.Builder) {
		if _, err := b.CreateObject(64, 64); err != nil {
			t.Fatal(err)
		}
	})
	cs, _ := ComputeCalleeSaveInfo(d)
	pro := lines(GeneratePrologue(d, cs))
	found := false
	for i, l := range pro {
		if l == "and %sp, %sp, (58)1" {
			found = true
			if pro[i+1] != "extend_stack" {
				t.Errorf("realignment must precede the stack check: %v", pro)
			}
		}
	}
	if !found {
		t.Errorf("realignment missing: %v", pro)
	}
}

func TestPrologueBasePointer(t *testing.T) {
	cfg := abi.DefaultConfig()
	cfg.CanRealignStack = true
	d := planned(t, cfg, func(b *frame.Builder) {
		b.CreateObject(64, 64)
		b.CreateVariableSizedObject(16)
	})
	cs, _ := ComputeCalleeSaveInfo(d)
	pro := strings.Join(lines(GeneratePrologue(d, cs)), "\n")
	if !strings.Contains(pro, "st %s17, 40(, %sp)") || !strings.Contains(pro, "or %s17, 0, %sp") {
		t.Errorf("base pointer setup missing:\n%s", pro)
	}
	epi := strings.Join(lines(GenerateEpilogue(d, cs)), "\n")
	if !strings.Contains(epi, "ld %s17, 40(, %sp)") {
		t.Errorf("base pointer restore missing:\n%s", epi)
	}
}

func TestLeafEmitsNothing(t *testing.T) {
	b := frame.NewBuilder("f", abi.DefaultConfig(), abi.DefaultTable())
	d, err := b.Plan(true)
	if err != nil {
		t.Fatal(err)
	}
	cs, _ := ComputeCalleeSaveInfo(d)
	if len(GeneratePrologue(d, cs)) != 0 || len(GenerateEpilogue(d, cs)) != 0 {
		t.Error("leaf function must have an empty prologue and epilogue")
	}
}

func TestIsLeafFunction(t *testing.T) {
	tab := abi.DefaultTable()
	cfg := abi.DefaultConfig()
	noLeaf := cfg
	noLeaf.DisableLeafProc = true

	tests := []struct {
		name  string
		usage frame.Usage
		cfg   abi.Config
		want  bool
	}{
		{"empty", frame.Usage{}, cfg, true},
		{"scratch regs", frame.Usage{UsedRegs: regs.SetOf(regs.SX0, regs.SX1, regs.SX13)}, cfg, true},
		{"disabled", frame.Usage{}, noLeaf, false},
		{"calls", frame.Usage{HasCalls: true}, cfg, false},
		{"locals", frame.Usage{HasStackObjects: true}, cfg, false},
		{"frame pointer", frame.Usage{NeedsFramePointer: true}, cfg, false},
		{"callee saved", frame.Usage{UsedRegs: regs.SetOf(regs.SX20)}, cfg, false},
		{"sp", frame.Usage{UsedRegs: regs.SetOf(regs.SP)}, cfg, false},
		{"fp", frame.Usage{UsedRegs: regs.SetOf(regs.FP)}, cfg, false},
	}
	for _, tt := range tests {
		if got := IsLeafFunction(tt.usage, tt.cfg, tab); got != tt.want {
			t.Errorf("%s: IsLeafFunction = %v, want %v", tt.name, got, tt.want)
		}
	}
}
