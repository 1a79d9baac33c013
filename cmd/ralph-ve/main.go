package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raymyers/ralph-ve/pkg/abi"
	"github.com/raymyers/ralph-ve/pkg/asm"
	"github.com/raymyers/ralph-ve/pkg/engine"
	"github.com/raymyers/ralph-ve/pkg/frame"
	"github.com/raymyers/ralph-ve/pkg/logger"
	"github.com/raymyers/ralph-ve/pkg/regs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var version = "0.1.0"

// Debug flags for dumping intermediate results
var (
	dLocs  bool
	dFrame bool
	dMach  bool
	dAsm   bool
)

// Output options
var (
	outputFile string
	pretty     bool
)

// Target options. They override the config section of the input.
var (
	codeModel     abi.CodeModel
	pic           bool
	vectorState   bool
	realign       bool
	disableFPElim bool
	disableLeaf   bool
	tablePath     string
	logLevelFlag  string
	logFormatFlag string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the dump flags that also accept a single dash
var debugFlagNames = []string{"dlocs", "dframe", "dmach", "dasm"}

// normalizeFlags converts single-dash dump flags like -dasm to --dasm
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-ve [program.yaml]",
		Short: "ralph-ve lowers register-allocated functions to VE assembly",
		Long: `ralph-ve applies the VE calling convention and frame layout to
functions whose values are already bound to physical registers. It
lowers formals, calls, returns and frame intrinsics, plans each frame
and prints the result as GNU as syntax.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			err := compile(cmd.Flags(), args[0], out, errOut)
			if err != nil {
				fmt.Fprintf(errOut, "ralph-ve: %v\n", err)
			}
			return err
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVar(&dLocs, "dlocs", false, "Dump argument and return value locations")
	rootCmd.Flags().BoolVar(&dFrame, "dframe", false, "Dump planned frames")
	rootCmd.Flags().BoolVar(&dMach, "dmach", false, "Dump lowered code before frame finalization")
	rootCmd.Flags().BoolVar(&dAsm, "dasm", false, "Dump assembly")

	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write assembly to this file")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "Align assembly columns")

	rootCmd.Flags().Var(&codeModel, "code-model", "Code model: small, medium or large")
	rootCmd.Flags().BoolVar(&pic, "pic", false, "Generate position-independent code")
	rootCmd.Flags().BoolVar(&vectorState, "vector-state", true, "Save and restore the vector length")
	rootCmd.Flags().BoolVar(&realign, "realign", false, "Allow stack objects aligned beyond 16 bytes")
	rootCmd.Flags().BoolVar(&disableFPElim, "disable-fp-elim", false, "Always keep a frame pointer")
	rootCmd.Flags().BoolVar(&disableLeaf, "disable-leaf", false, "Never run a function on its caller's frame")
	rootCmd.Flags().StringVar(&tablePath, "table", "", "Calling convention table (YAML)")

	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.Flags().StringVar(&logFormatFlag, "log-format", "text", "Log format: text or json")

	return rootCmd
}

// targetConfig starts from the program's config section, or the default
// target, and applies the flags given on the command line.
func targetConfig(flags *pflag.FlagSet, prog *engine.Program) abi.Config {
	cfg := abi.DefaultConfig()
	if prog.Config != nil {
		cfg = *prog.Config
	}
	if flags.Changed("code-model") {
		cfg.CodeModel = codeModel
	}
	if flags.Changed("pic") {
		cfg.PIC = pic
	}
	if flags.Changed("vector-state") {
		cfg.VectorState = vectorState
	}
	if flags.Changed("realign") {
		cfg.CanRealignStack = realign
	}
	if flags.Changed("disable-fp-elim") {
		cfg.DisableFramePointerElim = disableFPElim
	}
	if flags.Changed("disable-leaf") {
		cfg.DisableLeafProc = disableLeaf
	}
	return cfg
}

func compile(flags *pflag.FlagSet, filename string, out, errOut io.Writer) error {
	level, err := logger.ParseLevel(logLevelFlag)
	if err != nil {
		return err
	}
	logCfg := logger.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = logFormatFlag
	logCfg.Output = errOut
	log := logger.Init(logCfg)

	table := abi.DefaultTable()
	if tablePath != "" {
		if table, err = abi.LoadTable(tablePath); err != nil {
			return err
		}
	}
	prog, err := engine.LoadProgram(filename)
	if err != nil {
		return err
	}
	cfg := targetConfig(flags, prog)
	log.Info("lowering", "file", filename, "functions", len(prog.Functions), "code_model", cfg.CodeModel.String(), "pic", cfg.PIC)

	results, err := engine.New(cfg, table, log).LowerProgram(prog)
	if err != nil {
		return err
	}

	if dLocs {
		printLocations(out, results)
	}
	if dFrame {
		if err := printFrames(out, results); err != nil {
			return err
		}
	}
	if dMach {
		printMach(out, results)
	}
	return writeAsm(filename, out, results)
}

// writeAsm writes the assembly file and, with -dasm, prints it as well.
func writeAsm(filename string, out io.Writer, results []*engine.Result) error {
	var buf bytes.Buffer
	asm.NewPrinter(&buf).PrintProgram(engine.Assemble(results))
	text := buf.Bytes()
	if pretty {
		formatted, err := asm.Pretty(text)
		if err != nil {
			return err
		}
		text = formatted
	}

	outputFilename := outputFile
	if outputFilename == "" {
		outputFilename = asmOutputFilename(filename)
	}
	if err := os.WriteFile(outputFilename, text, 0644); err != nil {
		return err
	}
	if dAsm {
		out.Write(text)
	}
	return nil
}

// asmOutputFilename returns the output filename: prog.yaml -> prog.s
func asmOutputFilename(filename string) string {
	for _, ext := range []string{".yaml", ".yml"} {
		if strings.HasSuffix(filename, ext) {
			return filename[:len(filename)-len(ext)] + ".s"
		}
	}
	return filename + ".s"
}

func printLocations(w io.Writer, results []*engine.Result) {
	for _, r := range results {
		fmt.Fprintf(w, "%s:\n", r.Name)
		for i, loc := range r.Formals {
			fmt.Fprintf(w, "  param %d: %s\n", i, loc)
		}
		for ci, c := range r.Calls {
			fmt.Fprintf(w, "  call %d (frame %d):\n", ci, c.FrameSize)
			for i, loc := range c.Args.Locs {
				fmt.Fprintf(w, "    arg %d: %s\n", i, loc)
			}
			for i, loc := range c.Results {
				fmt.Fprintf(w, "    result %d: %s\n", i, loc)
			}
		}
	}
}

// frameDump is the printed form of a planned frame.
type frameDump struct {
	Function     string       `yaml:"function"`
	Size         int64        `yaml:"size"`
	Leaf         bool         `yaml:"leaf"`
	FramePointer bool         `yaml:"frame_pointer"`
	BasePointer  bool         `yaml:"base_pointer,omitempty"`
	Realign      bool         `yaml:"realign,omitempty"`
	CallFrame    int64        `yaml:"call_frame"`
	UsesGOT      bool         `yaml:"uses_got,omitempty"`
	CalleeSaved  []regs.Reg   `yaml:"callee_saved,omitempty"`
	Objects      []objectDump `yaml:"objects,omitempty"`
}

type objectDump struct {
	ID     int    `yaml:"id"`
	Kind   string `yaml:"kind"`
	Size   int64  `yaml:"size"`
	Align  int64  `yaml:"align"`
	Offset int64  `yaml:"offset"`
}

func dumpFrame(d *frame.Descriptor) frameDump {
	fd := frameDump{
		Function:     d.Func,
		Size:         d.TotalSize,
		Leaf:         d.IsLeaf,
		FramePointer: d.UsesFramePointer,
		BasePointer:  d.UsesBasePointer,
		Realign:      d.NeedsRealignment,
		CallFrame:    d.MaxCallFrameSize,
		UsesGOT:      d.UsesGOT,
		CalleeSaved:  d.CalleeSaved,
	}
	for _, o := range d.Objects {
		fd.Objects = append(fd.Objects, objectDump{ID: o.ID, Kind: o.Kind.String(), Size: o.Size, Align: o.Align, Offset: o.Offset})
	}
	return fd
}

func printFrames(w io.Writer, results []*engine.Result) error {
	frames := make([]frameDump, len(results))
	for i, r := range results {
		frames[i] = dumpFrame(r.Frame)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(frames); err != nil {
		return err
	}
	return enc.Close()
}

func printMach(w io.Writer, results []*engine.Result) {
	for _, r := range results {
		fmt.Fprintf(w, "%s:\n", r.Name)
		for _, line := range strings.Split(strings.TrimSuffix(asm.FormatCode(r.Lowered), "\n"), "\n") {
			fmt.Fprintf(w, "\t%s\n", line)
		}
	}
}
