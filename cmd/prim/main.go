// Prim CLI - compile and execute guest programs on the prim VM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/primvm/prim/compiler"
	"github.com/primvm/prim/manifest"
	"github.com/primvm/prim/pkg/bytecode"
	"github.com/primvm/prim/vfs"
	"github.com/primvm/prim/vm"
)

// Exit codes distinguishing terminal states.
const (
	exitUsage        = 64
	exitCompileError = 65
	exitNoInput      = 66
	exitSegfault     = 11
	exitStackOverf   = 12
	exitSyscall      = 13
	exitBadOpcode    = 14
	exitGasExhausted = 75
)

var log = commonlog.GetLogger("prim")

// configureLogging raises the backend verbosity when -v is given.
func configureLogging(verbose bool) {
	if verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(exitUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "build":
		os.Exit(cmdBuild(rest))
	case "run":
		os.Exit(cmdRun(rest))
	case "exec":
		os.Exit(cmdExec(rest))
	case "disasm":
		os.Exit(cmdDisasm(rest))
	default:
		fmt.Fprintf(os.Stderr, "prim: unknown command %q\n\n", cmd)
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: prim <command> [options] <file>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  build <src.pc>     Compile a source file to a bytecode artifact\n")
	fmt.Fprintf(os.Stderr, "  run <prog.prx>     Execute a compiled artifact\n")
	fmt.Fprintf(os.Stderr, "  exec <src.pc>      Compile and execute in one step\n")
	fmt.Fprintf(os.Stderr, "  disasm <prog.prx>  Print an artifact listing\n\n")
	fmt.Fprintf(os.Stderr, "Examples:\n")
	fmt.Fprintf(os.Stderr, "  prim build hello.pc -o hello.prx\n")
	fmt.Fprintf(os.Stderr, "  prim run hello.prx -gas 100000\n")
	fmt.Fprintf(os.Stderr, "  prim exec hello.pc\n")
}

// machineFlags registers the shared VM resource flags on a flag set.
func machineFlags(fs *flag.FlagSet) (mem, gas *int64, verbose *bool, stateDB, snapshot *string) {
	mem = fs.Int64("mem", 0, "VM memory size in bytes (default from prim.toml or 1 MiB)")
	gas = fs.Int64("gas", 0, "gas budget (default from prim.toml or 1,000,000)")
	verbose = fs.Bool("v", false, "verbose output")
	stateDB = fs.String("state", "", "SQLite database holding the VFS arena between runs")
	snapshot = fs.String("snapshot", "", "write a CBOR snapshot of the VFS arena after execution")
	return
}

// machineConfig merges flags with any prim.toml found above the input file.
func machineConfig(input string, mem, gas int64) vm.Config {
	cfg := vm.Config{MemorySize: mem, GasBudget: gas}
	m, err := manifest.FindAndLoad(filepath.Dir(input))
	if err != nil || m == nil {
		return cfg
	}
	if cfg.MemorySize == 0 {
		cfg.MemorySize = m.Machine.MemorySize
	}
	if cfg.GasBudget == 0 {
		cfg.GasBudget = m.Machine.GasBudget
	}
	return cfg
}

// compileFile compiles a source file, resolving #include paths relative
// to the file's directory.
func compileFile(path string) (*bytecode.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	resolve := func(include string) (string, error) {
		data, err := os.ReadFile(filepath.Join(dir, include))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return compiler.CompileWithIncludes(string(src), resolve)
}

func cmdBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	output := fs.String("o", "", "output artifact path (default: source name with .prx)")
	verbose := fs.Bool("v", false, "verbose output")
	fs.Parse(args)
	configureLogging(*verbose)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "prim build: expected one source file")
		return exitUsage
	}
	input := fs.Arg(0)

	prog, err := compileFile(input)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "prim build: %v\n", err)
			return exitNoInput
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
		return exitCompileError
	}

	encoded, err := prog.Encode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "prim build: %v\n", err)
		return exitCompileError
	}

	out := *output
	if out == "" {
		out = trimExt(input) + ".prx"
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "prim build: %v\n", err)
		return 1
	}
	if *verbose {
		log.Infof("built %s: %d instructions, %d data bytes", out, len(prog.Code), len(prog.Data))
	}
	return 0
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	mem, gas, verbose, stateDB, snapshot := machineFlags(fs)
	fs.Parse(args)
	configureLogging(*verbose)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "prim run: expected one artifact file")
		return exitUsage
	}
	input := fs.Arg(0)

	encoded, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prim run: %v\n", err)
		return exitNoInput
	}
	prog, err := bytecode.Decode(encoded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prim run: %s: %v\n", input, err)
		return exitBadOpcode
	}

	return execute(prog, machineConfig(input, *mem, *gas), *verbose, *stateDB, *snapshot)
}

func cmdExec(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	mem, gas, verbose, stateDB, snapshot := machineFlags(fs)
	fs.Parse(args)
	configureLogging(*verbose)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "prim exec: expected one source file")
		return exitUsage
	}
	input := fs.Arg(0)

	prog, err := compileFile(input)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "prim exec: %v\n", err)
			return exitNoInput
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
		return exitCompileError
	}

	return execute(prog, machineConfig(input, *mem, *gas), *verbose, *stateDB, *snapshot)
}

func cmdDisasm(args []string) int {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "prim disasm: expected one artifact file")
		return exitUsage
	}
	input := fs.Arg(0)

	encoded, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prim disasm: %v\n", err)
		return exitNoInput
	}
	prog, err := bytecode.Decode(encoded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prim disasm: %s: %v\n", input, err)
		return exitBadOpcode
	}

	fmt.Print(prog.DisassembleWithName(filepath.Base(input)))
	return 0
}

// execute runs a program to a terminal state and maps it to an exit code.
func execute(prog *bytecode.Program, cfg vm.Config, verbose bool, stateDB, snapshot string) int {
	m := vm.New(cfg)

	var disk *vfs.DiskStore
	if stateDB != "" {
		var err error
		disk, err = vfs.OpenDiskStore(stateDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prim: %v\n", err)
			return 1
		}
		defer disk.Close()

		loaded, err := disk.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "prim: %v\n", err)
			return 1
		}
		for _, path := range loaded.List("") {
			content, _ := loaded.Read(path)
			m.VFS().Write(path, content)
		}
		if verbose {
			log.Infof("restored %d files from %s", loaded.Len(), stateDB)
		}
	}

	if err := m.Load(prog); err != nil {
		fmt.Fprintf(os.Stderr, "prim: %v\n", err)
		return exitBadOpcode
	}

	status, err := m.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "prim: %v\n", err)
		return 1
	}
	os.Stdout.Write(m.ReadOutput())

	if disk != nil {
		if err := disk.Save(m.VFS()); err != nil {
			fmt.Fprintf(os.Stderr, "prim: %v\n", err)
			return 1
		}
	}
	if snapshot != "" {
		img, err := vfs.Snapshot(m.VFS())
		if err != nil {
			fmt.Fprintf(os.Stderr, "prim: %v\n", err)
			return 1
		}
		if err := os.WriteFile(snapshot, img, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "prim: %v\n", err)
			return 1
		}
	}

	if status == vm.StatusFaulted {
		fault := m.Fault()
		fmt.Fprintf(os.Stderr, "prim: machine %s: %v\n", m.ID(), fault)
		switch fault.Kind {
		case vm.FaultSegmentation:
			return exitSegfault
		case vm.FaultResourceExhausted:
			return exitGasExhausted
		case vm.FaultStackOverflow:
			return exitStackOverf
		case vm.FaultSyscall:
			return exitSyscall
		case vm.FaultInvalidOpcode:
			return exitBadOpcode
		}
		return 1
	}

	if verbose {
		log.Infof("machine %s halted with code %d, %d gas left", m.ID(), m.HaltCode(), m.Gas())
	}
	return int(m.HaltCode() & 0xFF)
}

func trimExt(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)]
}
