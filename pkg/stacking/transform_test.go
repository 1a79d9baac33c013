package stacking

import (
	"testing"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"golang.org/x/xerrors"
)

func TestTransformEpilogueBeforeEachReturn(t *testing.T) {
	cfg := abi.DefaultConfig()
	cfg.VectorState = false
	b := frame.NewBuilder("f", cfg, abi.DefaultTable())
	b.MarkHasCalls()
	d, err := b.Plan(false)
	if err != nil {
		t.Fatal(err)
	}

	fn := mach.NewFunction("f")
	fn.Append(
		mach.New(mach.OpBrgeLT, mach.R(regs.SX0), mach.R(regs.SX1), mach.LabelRef{L: 1}),
		mach.Return(),
		mach.DefLabel(1),
		mach.Return(),
	)
	if err := Transform(fn, d, Options{}); err != nil {
		t.Fatal(err)
	}

	got := lines(fn.Code)
	if got[0] != "st %fp, 0(, %sp)" {
		t.Errorf("prologue must come first: %v", got)
	}
	returns, restores := 0, 0
	for i, l := range got {
		if l == "b.l 0(, %lr)" {
			returns++
			if got[i-1] != "ld %fp, 0(, %sp)" {
				t.Errorf("return at %d not preceded by the epilogue: %v", i, got)
			}
		}
		if l == "or %sp, 0, %fp" {
			restores++
		}
	}
	if returns != 2 || restores != 2 {
		t.Errorf("got %d returns and %d epilogues", returns, restores)
	}
}

func TestTransformLeafUnchanged(t *testing.T) {
	b := frame.NewBuilder("f", abi.DefaultConfig(), abi.DefaultTable())
	d, _ := b.Plan(true)
	fn := mach.NewFunction("f")
	fn.Append(mach.Move(regs.SX0, regs.SX1), mach.Return())
	if err := Transform(fn, d, Options{}); err != nil {
		t.Fatal(err)
	}
	checkLines(t, fn.Code, "or %s0, 0, %s1", "b.l 0(, %lr)")
}

func TestTransformShrinkWrapRejected(t *testing.T) {
	b := frame.NewBuilder("f", abi.DefaultConfig(), abi.DefaultTable())
	d, _ := b.Plan(false)
	for _, opts := range []Options{{SavePoint: 3}, {RestorePoint: 4}} {
		fn := mach.NewFunction("f")
		fn.Append(mach.Return())
		if err := Transform(fn, d, opts); !xerrors.Is(err, abi.ErrUnsupportedProloguePlacement) {
			t.Errorf("%+v: expected unsupported prologue placement, got %v", opts, err)
		}
	}
}
