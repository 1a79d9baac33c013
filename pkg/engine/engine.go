// Package engine drives the lowering of whole functions: formals, body
// statements and returns are lowered against a frame builder, the frame
// is planned, and the result is finalized into VE assembly.
package engine

import (
	"log/slog"
	"sync"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/addr"
	"github.com/raymyers/ralph-ve/pkg/asm"
	"github.com/raymyers/ralph-ve/pkg/asmgen"
	"github.com/raymyers/ralph-ve/pkg/callseq"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/logger"
	"github.com/raymyers/ralph-ve/pkg/mach"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"github.com/raymyers/ralph-ve/pkg/stacking"
	"github.com/samber/lo"
)

// Engine lowers functions for one target configuration. It holds no
// per-function state, so one Engine can lower many functions at once.
type Engine struct {
	cfg   abi.Config
	table *abi.Table
	log   *slog.Logger
}

// New creates an Engine. A nil logger discards all output.
func New(cfg abi.Config, t *abi.Table, log *slog.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{cfg: cfg, table: t, log: log}
}

// Config returns the target configuration.
func (e *Engine) Config() abi.Config { return e.cfg }

// Result is everything produced for one function.
type Result struct {
	Name string
	// Formals are the incoming locations of the parameters.
	Formals []abi.Location
	// Calls are the lowered call sites in body order.
	Calls []*callseq.CallResult
	Frame *frame.Descriptor
	// Lowered is the code before frame finalization, still holding frame
	// operands and call frame pseudos.
	Lowered []mach.Instr
	Asm     asm.Function
}

// function holds the per-function lowering state.
type function struct {
	desc   *FuncDesc
	frame  *frame.Builder
	addr   *addr.Materializer
	calls  *callseq.Builder
	locals []int
	res    *Result
}

// LowerFunction lowers one function to final assembly.
func (e *Engine) LowerFunction(fd *FuncDesc) (*Result, error) {
	res, err := e.lowerFunction(fd)
	if err != nil {
		err = abi.InFunc(err, fd.Name)
		logger.LogFailure(e.log, fd.Name, err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) lowerFunction(fd *FuncDesc) (*Result, error) {
	fb := frame.NewBuilder(fd.Name, e.cfg, e.table)
	am := addr.New(e.cfg, fd.Name, fb)
	f := &function{
		desc:  fd,
		frame: fb,
		addr:  am,
		calls: callseq.New(e.cfg, e.table, fb, am),
		res:   &Result{Name: fd.Name},
	}
	for _, l := range fd.Locals {
		var id int
		var err error
		if l.Spill {
			id, err = fb.CreateSpillSlot(l.Size, l.Align)
		} else {
			id, err = fb.CreateObject(l.Size, l.Align)
		}
		if err != nil {
			return nil, err
		}
		f.locals = append(f.locals, id)
	}

	fn := &mach.Function{Name: fd.Name, Local: fd.Local}
	code, asg, err := f.calls.LowerFormals(args(fd.Params), fd.Variadic)
	if err != nil {
		return nil, err
	}
	f.res.Formals = asg.Locs
	fn.Append(code...)
	logger.LogPhase(e.log, fd.Name, "formals", len(fn.Code))

	for i := range fd.Body {
		code, err := f.lowerStmt(&fd.Body[i])
		if err != nil {
			return nil, err
		}
		fn.Append(code...)
	}
	logger.LogPhase(e.log, fd.Name, "body", len(fn.Code))

	code, err = f.calls.LowerReturn(args(fd.Returns))
	if err != nil {
		return nil, err
	}
	fn.Append(code...)
	f.res.Lowered = lo.Map(fn.Code, func(in mach.Instr, _ int) mach.Instr { return in.Clone() })

	fb.UseReg(stacking.FindUsedRegs(fn).Regs()...)
	leaf := stacking.IsLeafFunction(fb.Usage(), e.cfg, e.table)
	d, err := fb.Plan(leaf)
	if err != nil {
		return nil, err
	}
	f.res.Frame = d
	logger.LogFrame(e.log, fd.Name, d.TotalSize, d.IsLeaf)

	if err := stacking.Transform(fn, d, stacking.Options{}); err != nil {
		return nil, err
	}
	logger.LogPhase(e.log, fd.Name, "frame", len(fn.Code))

	out, err := asmgen.TransformFunction(fn)
	if err != nil {
		return nil, err
	}
	f.res.Asm = out
	logger.LogPhase(e.log, fd.Name, "asm", len(out.Code))
	return f.res, nil
}

func (f *function) lowerStmt(s *Stmt) ([]mach.Instr, error) {
	switch {
	case s.Call != nil:
		return f.lowerCall(s.Call)
	case s.Addr != nil:
		return f.addr.Address(s.Addr.Dst, s.Addr.symbol())
	case s.Load != nil:
		return f.slot(mach.OpLd, s.Load)
	case s.Store != nil:
		return f.slot(mach.OpSt, s.Store)
	case s.Alloca != nil:
		return f.calls.LowerDynamicAlloca(s.Alloca.Dst, s.Alloca.Size, s.Alloca.Align)
	case s.FrameAddr != nil:
		return f.calls.LowerFrameAddr(s.FrameAddr.Dst, s.FrameAddr.Depth)
	case s.ReturnAddr != nil:
		return f.calls.LowerReturnAddr(s.ReturnAddr.Dst, s.ReturnAddr.Depth)
	case s.VAStart != nil:
		return f.calls.LowerVAStart(s.VAStart.List)
	case s.VAArg != nil:
		return f.calls.LowerVAArg(s.VAArg.Dst, s.VAArg.List, s.VAArg.Type)
	case len(s.Clobber) > 0:
		// Registers the allocator assigned without an instruction here.
		f.frame.UseReg(s.Clobber...)
		return nil, nil
	case s.Unsupported != "":
		return nil, f.calls.Unsupported(s.Unsupported)
	}
	return nil, abi.Errorf(abi.ErrConsistencyViolation, f.desc.Name, "empty statement")
}

func (f *function) lowerCall(c *CallStmt) ([]mach.Instr, error) {
	callee := callseq.Callee{Symbol: c.symbol(), Reg: regs.NoReg}
	if c.Reg != nil {
		callee.Reg = *c.Reg
	}
	res, err := f.calls.BuildCall(callseq.Call{
		Callee:   callee,
		Args:     args(c.Args),
		Results:  args(c.Results),
		Variadic: c.Variadic,
	})
	if err != nil {
		return nil, err
	}
	f.res.Calls = append(f.res.Calls, res)
	return res.Code, nil
}

func (f *function) slot(op mach.Opcode, s *SlotStmt) ([]mach.Instr, error) {
	if s.Local < 0 || s.Local >= len(f.locals) {
		return nil, abi.Errorf(abi.ErrConsistencyViolation, f.desc.Name, "no local %d", s.Local)
	}
	fa := mach.FrameAddr{Object: f.locals[s.Local], Disp: s.Disp}
	return []mach.Instr{mach.New(op, mach.R(s.Reg), fa)}, nil
}

// LowerProgram lowers every function concurrently. Results keep program
// order; on failure the error of the first failing function is returned.
func (e *Engine) LowerProgram(p *Program) ([]*Result, error) {
	results := make([]*Result, len(p.Functions))
	errs := make([]error, len(p.Functions))
	var wg sync.WaitGroup
	for i := range p.Functions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.LowerFunction(&p.Functions[i])
		}(i)
	}
	wg.Wait()
	if err, ok := lo.Find(errs, func(err error) bool { return err != nil }); ok {
		return nil, err
	}
	return results, nil
}

// Assemble collects the emitted functions into a program for printing.
func Assemble(results []*Result) *asm.Program {
	return &asm.Program{Functions: lo.Map(results, func(r *Result, _ int) asm.Function {
		return r.Asm
	})}
}
