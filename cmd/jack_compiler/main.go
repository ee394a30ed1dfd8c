package main

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/teris-io/cli"

	"github.com/luib93/nand2tetris/pkg/jack"
	"github.com/luib93/nand2tetris/pkg/vm"
)

var Description = strings.ReplaceAll(`
The Jack Compiler compiles programs (composed of multiple classes/files) written in
the Jack language into VM modules that can be further elaborated. The Jack language
is a higher-level OOP language tailored for use with the Hack computer architecture.
`, "\n", " ")

var JackCompiler = cli.New(Description).
	WithArg(cli.NewArg("inputs", "The source (.jack) files to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("stdlib", "Assumes the standard library ABI is linked, for use with --typecheck").
		WithType(cli.TypeBool)).
	WithOption(cli.NewOption("typecheck", "Checks stdlib call arity against the embedded ABI when --stdlib is set").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		log.Error("not enough arguments provided, use --help")
		return -1
	}

	TUs := []string{}
	for _, input := range args {
		filepath.Walk(input, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(p) != ".jack" {
				return nil
			}
			TUs = append(TUs, p)
			return nil
		})
	}

	_, typecheck := options["typecheck"]
	_, stdlib := options["stdlib"]

	program := vm.Program{}
	for _, tu := range TUs {
		content, err := os.ReadFile(tu)
		if err != nil {
			log.WithError(err).WithField("file", tu).Error("unable to open input file")
			return -1
		}

		compiler, err := jack.NewCompiler(tu, string(content), typecheck, stdlib)
		if err != nil {
			log.WithError(err).WithField("file", tu).Error("unable to tokenize input file")
			return -1
		}

		className, module, err := compiler.CompileClass()
		if err != nil {
			log.WithError(err).WithField("file", tu).Error("unable to complete 'compile' pass")
			return -1
		}
		program[className] = module
	}

	codegen := vm.NewCodeGenerator(program)
	compiled, err := codegen.Generate()
	if err != nil {
		log.WithError(err).Error("unable to complete 'codegen' pass")
		return -1
	}

	for _, tu := range TUs {
		filename, extension := path.Base(tu), path.Ext(tu)
		className := strings.TrimSuffix(filename, extension)

		module, ok := compiled[className]
		if !ok {
			log.WithField("file", tu).Error("unable to find compiled module for class")
			return -1
		}

		output, err := os.Create(strings.TrimSuffix(tu, extension) + ".vm")
		if err != nil {
			log.WithError(err).Error("unable to open output file")
			return -1
		}

		for _, line := range module {
			output.Write([]byte(line + "\n"))
		}
		output.Close()
	}

	log.WithFields(log.Fields{"classes": len(TUs)}).Info("compilation complete")
	return 0
}

func main() { os.Exit(JackCompiler.Run(os.Args, os.Stdout)) }
