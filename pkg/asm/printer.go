package asm

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/asmfmt"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
)

// Printer outputs VE assembly in GNU as syntax
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new assembly printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram outputs an entire program
func (p *Printer) PrintProgram(prog *Program) {
	fmt.Fprintf(p.w, "\t.text\n")
	for _, f := range prog.Functions {
		p.PrintFunction(f)
	}
}

// PrintFunction outputs one function with its symbol directives.
func (p *Printer) PrintFunction(f Function) {
	end := ".Lfunc_end_" + f.Name
	if f.Global {
		fmt.Fprintf(p.w, "\t.globl\t%s\n", f.Name)
	}
	fmt.Fprintf(p.w, "\t.p2align\t4\n")
	fmt.Fprintf(p.w, "\t.type\t%s,@function\n", f.Name)
	fmt.Fprintf(p.w, "%s:\n", f.Name)
	fmt.Fprintf(p.w, "\t.cfi_startproc\n")
	fm := formatter{fn: f.Name}
	for _, inst := range f.Code {
		fmt.Fprint(p.w, fm.line(inst))
	}
	fmt.Fprintf(p.w, "%s:\n", end)
	fmt.Fprintf(p.w, "\t.size\t%s, %s-%s\n", f.Name, end, f.Name)
	fmt.Fprintf(p.w, "\t.cfi_endproc\n\n")
}

// FormatInstr renders one instruction without leading tab or newline,
// e.g. "st %fp, 0(, %sp)".
func FormatInstr(inst mach.Instr) string {
	return strings.TrimSpace(strings.Replace(formatter{}.line(inst), "\t", " ", -1))
}

// FormatCode renders a list of instructions, one per line.
func FormatCode(code []mach.Instr) string {
	var sb strings.Builder
	for _, inst := range code {
		sb.WriteString(FormatInstr(inst))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Pretty re-aligns printed assembly with asmfmt.
func Pretty(src []byte) ([]byte, error) {
	return asmfmt.Format(bytes.NewReader(src))
}

// formatter renders instructions of one function. Labels are qualified
// with the function name so they stay unique in the file.
type formatter struct {
	fn string
}

func (fm formatter) label(l mach.Label) string {
	if fm.fn == "" {
		return fmt.Sprintf(".L%d", l)
	}
	return fmt.Sprintf(".L%s_%d", fm.fn, l)
}

func (fm formatter) line(inst mach.Instr) string {
	if inst.Op == mach.OpLabel {
		if ref, ok := inst.Args[0].(mach.LabelRef); ok {
			return fm.label(ref.L) + ":\n"
		}
	}
	var args []string
	for _, a := range inst.Args {
		if _, ok := a.(mach.RegMask); ok {
			continue
		}
		args = append(args, fm.operand(inst.Op, a))
	}
	if len(args) == 0 {
		return "\t" + inst.Op.String() + "\n"
	}
	return "\t" + inst.Op.String() + "\t" + strings.Join(args, ", ") + "\n"
}

func (fm formatter) operand(op mach.Opcode, a mach.Operand) string {
	switch o := a.(type) {
	case mach.Reg:
		return o.R.String()
	case mach.Imm:
		return fmt.Sprintf("%d", o.V)
	case mach.Sym:
		return formatSym(o)
	case mach.Mem:
		return fm.mem(op, o)
	case mach.Mask:
		if o.Ones {
			return fmt.Sprintf("(%d)1", o.N)
		}
		return fmt.Sprintf("(%d)0", o.N)
	case mach.LabelRef:
		return fm.label(o.L)
	case mach.FrameAddr:
		return fmt.Sprintf("<fi#%d%+d>", o.Object, o.Disp)
	}
	return fmt.Sprintf("<%T>", a)
}

func formatSym(s mach.Sym) string {
	out := s.Name
	if s.Kind != mach.VKNone {
		out += "@" + s.Kind.String()
	}
	if s.Addend != 0 {
		out += fmt.Sprintf("(%d)", s.Addend)
	}
	return out
}

// mem renders disp(index, base). shm.l takes the short disp(base) form.
func (fm formatter) mem(op mach.Opcode, m mach.Mem) string {
	disp := fmt.Sprintf("%d", m.Disp)
	if m.Sym != nil {
		disp = formatSym(*m.Sym)
	}
	if m.Index == nil && m.Base == regs.NoReg {
		return disp
	}
	base := ""
	if m.Base != regs.NoReg {
		base = m.Base.String()
	}
	if op == mach.OpShmL && m.Index == nil {
		return disp + "(" + base + ")"
	}
	index := ""
	if m.Index != nil {
		index = fm.operand(op, m.Index)
	}
	return disp + "(" + index + ", " + base + ")"
}
