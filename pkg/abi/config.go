package abi

import (
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// CodeModel selects the address materialization sequence for
// position-dependent code.
type CodeModel int

const (
	Small  CodeModel = iota // 32-bit absolute addresses
	Medium                  // 44+20 bit addresses
	Large                   // full 64-bit addresses
)

func (m CodeModel) String() string {
	switch m {
	case Medium:
		return "medium"
	case Large:
		return "large"
	}
	return "small"
}

// Set implements pflag.Value.
func (m *CodeModel) Set(s string) error {
	switch strings.ToLower(s) {
	case "small":
		*m = Small
	case "medium":
		*m = Medium
	case "large":
		*m = Large
	default:
		return xerrors.Errorf("unknown code model %q", s)
	}
	return nil
}

// Type implements pflag.Value.
func (m *CodeModel) Type() string { return "model" }

func (m *CodeModel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return m.Set(s)
}

// Config is the per-compilation target configuration. It is passed by
// value and never mutated after construction.
type Config struct {
	CodeModel CodeModel `yaml:"code_model"`
	PIC       bool      `yaml:"pic"`
	// VectorState makes the prologue save and restore the vector length.
	VectorState bool `yaml:"vector_state"`
	// CanRealignStack allows objects aligned beyond the stack alignment.
	CanRealignStack         bool `yaml:"can_realign_stack"`
	DisableFramePointerElim bool `yaml:"disable_fp_elim"`
	DisableLeafProc         bool `yaml:"disable_leaf_proc"`
}

// DefaultConfig matches the default target: small code model, no PIC,
// vector state present, no stack realignment.
func DefaultConfig() Config {
	return Config{
		CodeModel:   Small,
		VectorState: true,
	}
}

// UnmarshalYAML starts from DefaultConfig so that a config section only
// needs the fields it changes.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	p := plain(DefaultConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}
