package main

import (
	"bytes"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/teris-io/cli"

	"github.com/luib93/nand2tetris/pkg/asm"
	"github.com/luib93/nand2tetris/pkg/hack"
)

var Description = strings.ReplaceAll(`
The Hack Assembler takes assembly language code written in the Hack assembly language
and translates it into machine code that can be executed by the Hack computer. The process
involves parsing the assembly code, resolving symbols, and generating machine code.
`, "\n", " ")

var HackAssembler = cli.New(Description).
	WithArg(cli.NewArg("input", "The assembler (.asm) file to be compiled")).
	WithArg(cli.NewArg("output", "The compiled binary output (.hack)")).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	input, err := os.ReadFile(args[0])
	if err != nil {
		log.WithError(err).WithField("file", args[0]).Error("unable to open input file")
		return -1
	}

	output, err := os.Create(args[1])
	if err != nil {
		log.WithError(err).WithField("file", args[1]).Error("unable to open output file")
		return -1
	}
	defer output.Close()

	parser := asm.NewParser(bytes.NewReader(input))
	asmProgram, err := parser.Parse()
	if err != nil {
		log.WithError(err).Error("unable to complete 'parsing' pass")
		return -1
	}

	lowerer := asm.NewLowerer(asmProgram)
	hackProgram, table, err := lowerer.Lower()
	if err != nil {
		log.WithError(err).Error("unable to complete 'lowering' pass")
		return -1
	}

	codegen := hack.NewCodeGenerator(hackProgram, table)
	compiled, err := codegen.Generate()
	if err != nil {
		log.WithError(err).Error("unable to complete 'codegen' pass")
		return -1
	}

	for _, comp := range compiled {
		output.Write([]byte(comp + "\n"))
	}

	log.WithField("instructions", len(compiled)).Info("assembly complete")
	return 0
}

func main() { os.Exit(HackAssembler.Run(os.Args, os.Stdout)) }
