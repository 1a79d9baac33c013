package callseq

import (
	"strings"
	"testing"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/addr"
	"github.com/raymyers/ralph-ve/pkg/asm"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"golang.org/x/xerrors"
)

func newBuilder(cfg abi.Config) (*Builder, *frame.Builder) {
	t := abi.DefaultTable()
	fb := frame.NewBuilder("f", cfg, t)
	return New(cfg, t, fb, addr.New(cfg, "f", fb)), fb
}

func lines(code []mach.Instr) []string {
	out := make([]string, len(code))
	for i, in := range code {
		out[i] = asm.FormatInstr(in)
	}
	return out
}

func checkLines(t *testing.T, got []mach.Instr, want ...string) {
	t.Helper()
	g := strings.Join(lines(got), "\n")
	if g != strings.Join(want, "\n") {
		t.Errorf("got:\n%s\nwant:\n%s", g, strings.Join(want, "\n"))
	}
}

// containsInOrder reports whether want appears in got as a subsequence.
func containsInOrder(got []string, want ...string) bool {
	i := 0
	for _, l := range got {
		if i < len(want) && l == want[i] {
			i++
		}
	}
	return i == len(want)
}

func sym(name string) Callee {
	return Callee{Symbol: &addr.Symbol{Name: name}}
}

func TestBuildCallSimple(t *testing.T) {
	b, fb := newBuilder(abi.DefaultConfig())
	res, err := b.BuildCall(Call{
		Callee:  sym("g"),
		Args:    []abi.ArgDesc{abi.Arg(regs.SX20, abi.I64), abi.Arg(regs.SX21, abi.I64)},
		Results: []abi.ArgDesc{abi.Arg(regs.SX22, abi.I64)},
	})
	if err != nil {
		t.Fatal(err)
	}
	checkLines(t, res.Code,
		"adjcallstackdown 64",
		"or %s0, 0, %s20",
		"or %s1, 0, %s21",
		"lea %s12, g@lo",
		"and %s12, %s12, (32)0",
		"lea.sl %s12, g@hi(, %s12)",
		"bsic %lr, 0(, %s12)",
		"adjcallstackup 64",
		"or %s22, 0, %s0",
	)
	if res.FrameSize != 64 || !fb.HasCalls() {
		t.Errorf("frame size %d, has calls %v", res.FrameSize, fb.HasCalls())
	}
}

func TestBuildCallStackArguments(t *testing.T) {
	b, fb := newBuilder(abi.DefaultConfig())
	var args []abi.ArgDesc
	for i := 0; i < 8; i++ {
		args = append(args, abi.Arg(regs.S(20+i), abi.I64))
	}
	args = append(args,
		abi.ArgDesc{Value: regs.SX28, Type: abi.I32, Flags: abi.ArgFlags{SExt: true}},
		abi.Arg(regs.SX29, abi.F32),
	)
	res, err := b.BuildCall(Call{Callee: sym("g"), Args: args})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(res.Code)
	if !containsInOrder(got,
		"adjcallstackdown 80",
		"adds.w.sx %s13, 0, %s28",
		"st %s13, 240(, %sp)",
		"stu %s29, 252(, %sp)",
		"or %s0, 0, %s20",
		"bsic %lr, 0(, %s12)",
		"adjcallstackup 80",
	) {
		t.Errorf("unexpected sequence:\n%s", strings.Join(got, "\n"))
	}

	d, err := fb.Plan(false)
	if err != nil {
		t.Fatal(err)
	}
	if d.MaxCallFrameSize != 80 {
		t.Errorf("MaxCallFrameSize = %d, want 80", d.MaxCallFrameSize)
	}
}

func TestBuildCallVariadic(t *testing.T) {
	b, _ := newBuilder(abi.DefaultConfig())
	res, err := b.BuildCall(Call{
		Callee:   sym("printf"),
		Args:     []abi.ArgDesc{abi.Arg(regs.SX20, abi.I64), abi.Arg(regs.SX21, abi.F64)},
		Variadic: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(res.Code)
	if !containsInOrder(got,
		"adjcallstackdown 64",
		"st %s20, 176(, %sp)",
		"st %s21, 184(, %sp)",
		"or %s0, 0, %s20",
		"or %s1, 0, %s21",
		"bsic %lr, 0(, %s12)",
	) {
		t.Errorf("unexpected sequence:\n%s", strings.Join(got, "\n"))
	}
}

func TestBuildCallIndirect(t *testing.T) {
	b, _ := newBuilder(abi.DefaultConfig())
	res, err := b.BuildCall(Call{
		Callee: Callee{Reg: regs.SX0},
		Args:   []abi.ArgDesc{abi.Arg(regs.SX20, abi.I64)},
	})
	if err != nil {
		t.Fatal(err)
	}
	checkLines(t, res.Code,
		"adjcallstackdown 64",
		"or %s12, 0, %s0",
		"or %s0, 0, %s20",
		"bsic %lr, 0(, %s12)",
		"adjcallstackup 64",
	)
}

func TestBuildCallPIC(t *testing.T) {
	cfg := abi.DefaultConfig()
	cfg.PIC = true
	b, fb := newBuilder(cfg)
	for i := 0; i < 2; i++ {
		res, err := b.BuildCall(Call{Callee: sym("g")})
		if err != nil {
			t.Fatal(err)
		}
		got := lines(res.Code)
		hasBase := containsInOrder(got, "get_got %got")
		if hasBase != (i == 0) {
			t.Errorf("call %d: table base emitted = %v\n%s", i, hasBase, strings.Join(got, "\n"))
		}
		if !containsInOrder(got, "get_fun_plt %s12, g@plt_lo", "bsic %lr, 0(, %s12)") {
			t.Errorf("call %d: missing PLT address:\n%s", i, strings.Join(got, "\n"))
		}
	}
	d, err := fb.Plan(false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.UsesGOT {
		t.Error("frame must preserve the table base registers")
	}
}

func TestBuildCallByVal(t *testing.T) {
	tests := []struct {
		name  string
		bv    abi.ByVal
		want  []string
		never []string
	}{
		{
			name: "words",
			bv:   abi.ByVal{Size: 24, Align: 8},
			want: []string{
				"adjcallstackdown 96",
				"ld %s13, 0(, %s20)", "st %s13, 240(, %sp)",
				"ld %s13, 8(, %s20)", "st %s13, 248(, %sp)",
				"ld %s13, 16(, %s20)", "st %s13, 256(, %sp)",
			},
		},
		{
			name: "four byte aligned",
			bv:   abi.ByVal{Size: 12, Align: 4},
			want: []string{
				"adjcallstackdown 80",
				"ldl.zx %s13, 0(, %s20)", "stl %s13, 240(, %sp)",
				"ldl.zx %s13, 4(, %s20)", "stl %s13, 244(, %sp)",
				"ldl.zx %s13, 8(, %s20)", "stl %s13, 248(, %sp)",
			},
			never: []string{"ld %s13", "st %s13"},
		},
		{
			name: "odd tail",
			bv:   abi.ByVal{Size: 11, Align: 8},
			want: []string{
				"adjcallstackdown 80",
				"ld %s13, 0(, %s20)", "st %s13, 240(, %sp)",
				"ld2b.zx %s13, 8(, %s20)", "st2b %s13, 248(, %sp)",
				"ld1b.zx %s13, 10(, %s20)", "st1b %s13, 250(, %sp)",
			},
			never: []string{"ld %s13, 8(, %s20)", "ldl.zx"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBuilder(abi.DefaultConfig())
			bv := tt.bv
			res, err := b.BuildCall(Call{
				Callee: sym("g"),
				Args: []abi.ArgDesc{{
					Value: regs.SX20,
					Type:  abi.I64,
					Flags: abi.ArgFlags{ByVal: &bv},
				}},
			})
			if err != nil {
				t.Fatal(err)
			}
			got := lines(res.Code)
			if !containsInOrder(got, tt.want...) {
				t.Errorf("unexpected sequence:\n%s", strings.Join(got, "\n"))
			}
			for _, line := range got {
				for _, n := range tt.never {
					if strings.HasPrefix(line, n) {
						t.Errorf("unexpected %q", line)
					}
				}
			}
		})
	}
}

// Shadow stores of the register arguments would land inside the copy.
func TestBuildCallVariadicByVal(t *testing.T) {
	args := []abi.ArgDesc{{
		Value: regs.SX20,
		Type:  abi.I64,
		Flags: abi.ArgFlags{ByVal: &abi.ByVal{Size: 16, Align: 8}},
	}}
	for i := 0; i < 8; i++ {
		args = append(args, abi.Arg(regs.S(21+i), abi.I64))
	}
	for _, variadic := range []bool{true, false} {
		b, _ := newBuilder(abi.DefaultConfig())
		_, err := b.BuildCall(Call{Callee: sym("printf"), Args: args, Variadic: variadic})
		if variadic && !xerrors.Is(err, abi.ErrUnsupportedArgumentType) {
			t.Errorf("variadic: got %v, want %v", err, abi.ErrUnsupportedArgumentType)
		}
		if !variadic && err != nil {
			t.Errorf("prototyped: %v", err)
		}
	}

	marked := append([]abi.ArgDesc(nil), args...)
	marked[1].Flags.VarArg = true
	b, _ := newBuilder(abi.DefaultConfig())
	if _, err := b.BuildCall(Call{Callee: sym("printf"), Args: marked}); !xerrors.Is(err, abi.ErrUnsupportedArgumentType) {
		t.Errorf("anonymous argument: got %v", err)
	}
}

func TestBuildCallSplitValues(t *testing.T) {
	b, _ := newBuilder(abi.DefaultConfig())
	res, err := b.BuildCall(Call{
		Callee:  sym("g"),
		Args:    []abi.ArgDesc{abi.Arg(regs.SX20, abi.V2I32)},
		Results: []abi.ArgDesc{abi.Arg(regs.SX22, abi.V2I32)},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(res.Code)
	if !containsInOrder(got,
		"srl %s0, %s20, 32",
		"and %s1, %s20, (32)0",
		"bsic %lr, 0(, %s12)",
		"and %s13, %s1, (32)0",
		"sll %s22, %s0, 32",
		"or %s22, %s22, %s13",
	) {
		t.Errorf("unexpected sequence:\n%s", strings.Join(got, "\n"))
	}
}

func TestBuildCallPackedResults(t *testing.T) {
	b, _ := newBuilder(abi.DefaultConfig())
	packed := abi.ArgFlags{Packed: true}
	res, err := b.BuildCall(Call{
		Callee: sym("g"),
		Results: []abi.ArgDesc{
			{Value: regs.SX20, Type: abi.I32, Flags: packed},
			{Value: regs.SX21, Type: abi.I32, Flags: packed},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(res.Code)
	if !containsInOrder(got, "adjcallstackup 64", "srl %s20, %s0, 32", "and %s21, %s0, (32)0") {
		t.Errorf("unexpected sequence:\n%s", strings.Join(got, "\n"))
	}
}

func TestBuildCallErrors(t *testing.T) {
	packed := abi.ArgFlags{Packed: true}
	tests := []struct {
		name string
		call Call
		kind error
	}{
		{
			"packed outgoing",
			Call{Callee: sym("g"), Args: []abi.ArgDesc{
				{Value: regs.SX20, Type: abi.I32, Flags: packed},
				{Value: regs.SX21, Type: abi.I32, Flags: packed},
			}},
			abi.ErrConsistencyViolation,
		},
		{
			"f128 argument",
			Call{Callee: sym("g"), Args: []abi.ArgDesc{abi.Arg(regs.SX20, abi.F128)}},
			abi.ErrUnsupportedArgumentType,
		},
		{
			"f128 result",
			Call{Callee: sym("g"), Results: []abi.ArgDesc{abi.Arg(regs.SX20, abi.F128)}},
			abi.ErrUnsupportedReturnLayout,
		},
		{
			"no callee",
			Call{Callee: Callee{Reg: regs.NoReg}},
			abi.ErrConsistencyViolation,
		},
		{
			"variadic vector",
			Call{Callee: sym("g"), Args: []abi.ArgDesc{abi.Arg(regs.V(3), abi.Vector)}, Variadic: true},
			abi.ErrUnsupportedArgumentType,
		},
		{
			"scratch value",
			Call{Callee: sym("g"), Args: []abi.ArgDesc{abi.Arg(regs.Scratch, abi.I64)}},
			abi.ErrConsistencyViolation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBuilder(abi.DefaultConfig())
			if _, err := b.BuildCall(tt.call); !xerrors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestBuildCallVectorArguments(t *testing.T) {
	b, _ := newBuilder(abi.DefaultConfig())
	res, err := b.BuildCall(Call{
		Callee: sym("g"),
		Args:   []abi.ArgDesc{abi.Arg(regs.V(4), abi.Vector), abi.Arg(regs.V(0), abi.Vector)},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(res.Code)
	// %v0 must be read before it is overwritten.
	if !containsInOrder(got, "vor %v1, (0)1, %v0", "vor %v0, (0)1, %v4") {
		t.Errorf("unexpected sequence:\n%s", strings.Join(got, "\n"))
	}
}
