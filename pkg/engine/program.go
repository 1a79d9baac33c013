package engine

import (
	"os"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/addr"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Program is the register-allocated input of the engine: each function
// lists its formals, frame objects, body and return values with every
// value already bound to a physical register.
type Program struct {
	// Config, when present, overrides the default target configuration.
	Config    *abi.Config `yaml:"config"`
	Functions []FuncDesc  `yaml:"functions"`
}

// FuncDesc describes one function.
type FuncDesc struct {
	Name     string      `yaml:"name"`
	Local    bool        `yaml:"local"`
	Variadic bool        `yaml:"variadic"`
	Params   []ValueDesc `yaml:"params"`
	Locals   []LocalDesc `yaml:"locals"`
	Body     []Stmt      `yaml:"body"`
	Returns  []ValueDesc `yaml:"returns"`
}

// ValueDesc is an argument or return value bound to a register.
type ValueDesc struct {
	Reg    regs.Reg      `yaml:"reg"`
	Type   abi.ValueType `yaml:"type"`
	SExt   bool          `yaml:"sext"`
	ZExt   bool          `yaml:"zext"`
	Packed bool          `yaml:"packed"`
	SRet   bool          `yaml:"sret"`
	ByVal  *abi.ByVal    `yaml:"byval"`
	VarArg bool          `yaml:"vararg"`
}

// Arg converts the description to the descriptor the lowering works on.
func (v ValueDesc) Arg() abi.ArgDesc {
	return abi.ArgDesc{
		Value: v.Reg,
		Type:  v.Type,
		Flags: abi.ArgFlags{
			SExt:   v.SExt,
			ZExt:   v.ZExt,
			ByVal:  v.ByVal,
			SRet:   v.SRet,
			Packed: v.Packed,
			VarArg: v.VarArg,
		},
	}
}

func args(vs []ValueDesc) []abi.ArgDesc {
	out := make([]abi.ArgDesc, len(vs))
	for i, v := range vs {
		out[i] = v.Arg()
	}
	return out
}

// LocalDesc is a fixed-size stack object. Locals are numbered from zero
// in declaration order; load and store statements name them by index.
type LocalDesc struct {
	Size  int64 `yaml:"size"`
	Align int64 `yaml:"align"`
	Spill bool  `yaml:"spill"`
}

// Stmt is one body statement. Exactly one field is set.
type Stmt struct {
	Call        *CallStmt   `yaml:"call"`
	Addr        *AddrStmt   `yaml:"addr"`
	Load        *SlotStmt   `yaml:"load"`
	Store       *SlotStmt   `yaml:"store"`
	Alloca      *AllocaStmt `yaml:"alloca"`
	FrameAddr   *DepthStmt  `yaml:"frameaddr"`
	ReturnAddr  *DepthStmt  `yaml:"returnaddr"`
	VAStart     *VAStmt     `yaml:"va_start"`
	VAArg       *VAStmt     `yaml:"va_arg"`
	Clobber     []regs.Reg  `yaml:"clobber"`
	Unsupported string      `yaml:"unsupported"`
}

// Kind names the statement, failing when zero or several fields are set.
func (s *Stmt) Kind() (string, error) {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(s.Call != nil, "call")
	add(s.Addr != nil, "addr")
	add(s.Load != nil, "load")
	add(s.Store != nil, "store")
	add(s.Alloca != nil, "alloca")
	add(s.FrameAddr != nil, "frameaddr")
	add(s.ReturnAddr != nil, "returnaddr")
	add(s.VAStart != nil, "va_start")
	add(s.VAArg != nil, "va_arg")
	add(len(s.Clobber) > 0, "clobber")
	add(s.Unsupported != "", "unsupported")
	switch len(kinds) {
	case 0:
		return "", xerrors.New("empty statement")
	case 1:
		return kinds[0], nil
	}
	return "", xerrors.Errorf("statement mixes %v", kinds)
}

// CallStmt calls Callee directly or the function whose address is in Reg.
type CallStmt struct {
	Callee   string      `yaml:"callee"`
	Local    bool        `yaml:"local"`
	Reg      *regs.Reg   `yaml:"reg"`
	Args     []ValueDesc `yaml:"args"`
	Results  []ValueDesc `yaml:"results"`
	Variadic bool        `yaml:"variadic"`
}

func (c *CallStmt) symbol() *addr.Symbol {
	if c.Callee == "" {
		return nil
	}
	s := &addr.Symbol{Name: c.Callee, Func: true}
	if c.Local {
		s.Linkage = addr.Local
	}
	return s
}

// AddrStmt materializes the address of a global symbol.
type AddrStmt struct {
	Dst    regs.Reg `yaml:"dst"`
	Symbol string   `yaml:"symbol"`
	Local  bool     `yaml:"local"`
	Func   bool     `yaml:"func"`
}

func (a *AddrStmt) symbol() addr.Symbol {
	s := addr.Symbol{Name: a.Symbol, Func: a.Func}
	if a.Local {
		s.Linkage = addr.Local
	}
	return s
}

// SlotStmt moves a register to or from a local.
type SlotStmt struct {
	Reg   regs.Reg `yaml:"reg"`
	Local int      `yaml:"local"`
	Disp  int64    `yaml:"disp"`
}

// AllocaStmt allocates a block whose size is held in Size.
type AllocaStmt struct {
	Dst   regs.Reg `yaml:"dst"`
	Size  regs.Reg `yaml:"size"`
	Align int64    `yaml:"align"`
}

// DepthStmt asks for the frame or return address depth levels up.
type DepthStmt struct {
	Dst   regs.Reg `yaml:"dst"`
	Depth int      `yaml:"depth"`
}

// VAStmt is va_start (List only) or va_arg.
type VAStmt struct {
	Dst  regs.Reg      `yaml:"dst"`
	List regs.Reg      `yaml:"list"`
	Type abi.ValueType `yaml:"type"`
}

// ParseProgram decodes a program description and checks its shape.
func ParseProgram(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, xerrors.Errorf("parsing program: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadProgram reads a program description from path.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading program: %w", err)
	}
	p, err := ParseProgram(data)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks names, statements and local references.
func (p *Program) Validate() error {
	seen := make(map[string]bool)
	for fi := range p.Functions {
		f := &p.Functions[fi]
		if f.Name == "" {
			return xerrors.Errorf("function %d has no name", fi)
		}
		if seen[f.Name] {
			return xerrors.Errorf("function %s defined twice", f.Name)
		}
		seen[f.Name] = true
		for si := range f.Body {
			s := &f.Body[si]
			kind, err := s.Kind()
			if err != nil {
				return xerrors.Errorf("%s: statement %d: %w", f.Name, si, err)
			}
			switch kind {
			case "load", "store":
				slot := s.Load
				if slot == nil {
					slot = s.Store
				}
				if slot.Local < 0 || slot.Local >= len(f.Locals) {
					return xerrors.Errorf("%s: statement %d: no local %d", f.Name, si, slot.Local)
				}
			case "call":
				if (s.Call.Callee == "") == (s.Call.Reg == nil) {
					return xerrors.Errorf("%s: statement %d: call needs exactly one of callee and reg", f.Name, si)
				}
			case "addr":
				if s.Addr.Symbol == "" {
					return xerrors.Errorf("%s: statement %d: addr without symbol", f.Name, si)
				}
			}
		}
	}
	return nil
}
