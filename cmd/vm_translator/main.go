package main

import (
	"bytes"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/teris-io/cli"

	"github.com/luib93/nand2tetris/pkg/asm"
	"github.com/luib93/nand2tetris/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	// 'AsOptional()' allows to have more than one input .vm file
	WithArg(cli.NewArg("inputs", "The bytecode (.vm) file to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("output", "The compiled binary output (.asm)").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("bootstrap", "Includes bootstrap code in the final .asm file").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 || options["output"] == "" {
		log.Error("not enough arguments provided, use --help")
		return -1
	}

	output, err := os.Create(options["output"])
	if err != nil {
		log.WithError(err).Error("unable to open output file")
		return -1
	}
	defer output.Close()

	// Each argument may be either a .vm file or a directory; directories are
	// walked recursively and every .vm file found is added as its own module.
	TUs := []string{}
	for _, input := range args {
		filepath.Walk(input, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(p) != ".vm" {
				return nil
			}
			TUs = append(TUs, p)
			return nil
		})
	}

	// Allocates a 'vm.Program' struct to save all the parsed translation unit
	// (the .vm files) that will be parsed and lowered independently and then
	// sent to the codegen phases (that will create a monolithic compiled output).
	program := vm.Program{}

	// For every file discovered above we do the following things
	for _, input := range TUs {
		content, err := os.ReadFile(input)
		if err != nil {
			log.WithError(err).WithField("file", input).Error("unable to open input file")
			return -1
		}

		// Instantiate a parser for the Vm program
		parser := vm.NewParser(bytes.NewReader(content))
		// Parses the input file content and extract an AST (as a 'vm.Module') from it.
		module := path.Base(input)
		program[module], err = parser.Parse()
		if err != nil {
			log.WithError(err).WithField("module", module).Error("unable to complete 'parsing' pass")
			return -1
		}
	}

	// 'bootstrap' toggles on the standard SP=256 + 'call Sys.init 0' prelude, sets
	// the Stack Pointer to its base location and transfers control to Sys.init.
	_, bootstrap := options["bootstrap"]

	// Instantiate a lowerer to convert the program from Vm to Asm, following the full
	// calling convention (segment addressing, comparisons, function call/return frames).
	lowerer := vm.NewLowerer(program, bootstrap)
	asmProgram, err := lowerer.Lower()
	if err != nil {
		log.WithError(err).Error("unable to complete 'lowering' pass")
		return -1
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		log.WithError(err).Error("unable to complete 'codegen' pass")
		return -1
	}

	for _, comp := range compiled {
		line := comp + "\n"
		output.Write([]byte(line))
	}

	log.WithFields(log.Fields{"modules": len(program), "instructions": len(compiled)}).Info("translation complete")
	return 0
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
