// Package asm holds final VE assembly and prints it in GNU as syntax.
// By the time code reaches this package every pseudo instruction has been
// expanded and every frame reference resolved.
package asm

import "github.com/raymyers/ralph-ve/pkg/mach"

// Program is a translation unit ready for printing.
type Program struct {
	Functions []Function
}

// Function is one emitted function.
type Function struct {
	Name   string
	Global bool
	Code   []mach.Instr
}
