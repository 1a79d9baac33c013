package abi

import (
	"fmt"

	"github.com/raymyers/ralph-ve/pkg/regs"
)

// Location is where one value lives at a call boundary.
// It is one of RegLoc, StackLoc or SplitLoc.
type Location interface {
	implLocation()
	String() string
}

// RegLoc places a value in a register.
type RegLoc struct {
	Reg  regs.Reg
	Ext  Extend
	Half Half
}

// StackLoc places a value in the argument area. Offset is relative to the
// start of the area (%sp+176 in the caller, %fp+176 in the callee).
type StackLoc struct {
	Offset int64
	Size   int64
	Ext    Extend
	Half   Half
}

// SplitLoc places the two halves of a value in separate locations.
type SplitLoc struct {
	Hi Location
	Lo Location
}

func (RegLoc) implLocation()   {}
func (StackLoc) implLocation() {}
func (SplitLoc) implLocation() {}

func (l RegLoc) String() string {
	s := l.Reg.String()
	if l.Half != Whole {
		s += "." + l.Half.String()
	}
	if l.Ext != ExtNone {
		s += " " + l.Ext.String()
	}
	return s
}

func (l StackLoc) String() string {
	s := fmt.Sprintf("stack[%d:%d]", l.Offset, l.Size)
	if l.Half != Whole {
		s += "." + l.Half.String()
	}
	if l.Ext != ExtNone {
		s += " " + l.Ext.String()
	}
	return s
}

func (l SplitLoc) String() string {
	return fmt.Sprintf("split(%s, %s)", l.Hi, l.Lo)
}
