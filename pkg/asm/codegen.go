package asm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/luib93/nand2tetris/pkg/hack"
)

// Matches the grammar spec for labels/identifiers: a leading letter or one of
// '_ . $ :' followed by any number of letters, digits or those same symbols.
var labelNamePattern = regexp.MustCompile(`^[A-Za-z_.$:][0-9a-zA-Z_.$:]*$`)

// The mnemonics accepted for each sub-field of a C Instruction, mirroring the
// 'pDest'/'pComp'/'pJump' combinators in the parser. Generating a mnemonic
// outside these sets would silently produce a '.asm' line the assembler
// itself can't later parse back, so codegen rejects it up front.
var (
	validDest = map[string]bool{"A": true, "D": true, "M": true, "AM": true, "AD": true, "MD": true, "AMD": true}
	validComp = map[string]bool{
		"0": true, "1": true, "-1": true, "D": true, "A": true, "M": true,
		"!D": true, "!A": true, "!M": true, "-D": true, "-A": true, "-M": true,
		"D+1": true, "A+1": true, "M+1": true, "D-1": true, "A-1": true, "M-1": true,
		"D+A": true, "D+M": true, "D-A": true, "D-M": true, "A-D": true, "M-D": true,
		"D&A": true, "D&M": true, "D|A": true, "D|M": true,
	}
	validJump = map[string]bool{"JNE": true, "JEQ": true, "JGT": true, "JGE": true, "JLT": true, "JLE": true, "JMP": true}
)

// ----------------------------------------------------------------------------
// Code Generator

// Takes some a set of 'asm.Statement' and spits out their textual counterparts.
//
// The translation can be done without any additional data structure but the program.
type CodeGenerator struct {
	program []Statement // The set of statements to convert in Hack binary format
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires that argument Program 'p' (what we want to translate) is non-nil.
func NewCodeGenerator(p []Statement) CodeGenerator {
	return CodeGenerator{program: p}
}

// Translate each statement in the 'program' field to the Asm textual format.
//
// Each instruction will pass through the following step: evaluation, validation and
// then conversion to its textual representation (a string) so that it can be further
// elaborated by the caller (e.g. dumping to a file, runtime interpretation, ...).
func (cg *CodeGenerator) Generate() ([]string, error) {
	asm := make([]string, 0, len(cg.program))

	for _, statement := range cg.program {
		var generated string = ""
		var err error = nil

		switch tStatement := statement.(type) {
		case AInstruction:
			generated, err = cg.GenerateAInst(tStatement)
		case CInstruction:
			generated, err = cg.GenerateCInst(tStatement)
		case LabelDecl:
			generated, err = cg.GenerateLabelDecl(tStatement)
		}

		if err != nil {
			return nil, err
		}
		asm = append(asm, generated)
	}

	return asm, nil
}

// Specialized function to convert an A Instruction to the Asm format.
//
// 'stmt.Location' is emitted verbatim: by the time it reaches codegen it has
// already been resolved to either a raw address, a symbol or a built-in name.
// A raw address above 32767 is rejected, since it doesn't fit the 15 address bits.
func (CodeGenerator) GenerateAInst(stmt AInstruction) (string, error) {
	if stmt.Location == "" {
		return "", errors.New("unable ro produce empty label declaration")
	}
	if n, err := strconv.ParseUint(stmt.Location, 10, 64); err == nil && n > 32767 {
		return "", fmt.Errorf("raw address '%s' is out of bound", stmt.Location)
	}

	return fmt.Sprintf("@%s", stmt.Location), nil
}

// Specialized function to convert a C Instruction to the Asm format.
//
// Exactly one of 'Dest'/'Jump' must be set alongside 'Comp': a C Instruction
// either stores its computation ('dest=comp') or branches on it ('comp;jump').
func (cg *CodeGenerator) GenerateCInst(stmt CInstruction) (string, error) {
	if stmt.Comp == "" {
		return "", errors.New("expected 'comp' directive in C Instruction")
	}
	if !validComp[stmt.Comp] {
		return "", fmt.Errorf("malformed 'comp' mnemonic '%s'", stmt.Comp)
	}

	if stmt.Dest != "" && stmt.Jump == "" {
		if !validDest[stmt.Dest] {
			return "", fmt.Errorf("malformed 'dest' mnemonic '%s'", stmt.Dest)
		}
		return fmt.Sprintf("%s=%s", stmt.Dest, stmt.Comp), nil
	}
	if stmt.Jump != "" && stmt.Dest == "" {
		if !validJump[stmt.Jump] {
			return "", fmt.Errorf("malformed 'jump' mnemonic '%s'", stmt.Jump)
		}
		return fmt.Sprintf("%s;%s", stmt.Comp, stmt.Jump), nil
	}

	return "", errors.New("expected either 'dest' or 'jump' directive in C Instruction")
}

// Specialized function to convert an Label Declaration to the Asm format.
func (cg *CodeGenerator) GenerateLabelDecl(stmt LabelDecl) (string, error) {
	if stmt.Name == "" {
		return "", errors.New("unable to produce empty label declaration")
	}
	if _, found := hack.BuiltInTable[stmt.Name]; found {
		return "", fmt.Errorf("unable to override built-in label '%s'", stmt.Name)
	}
	if !labelNamePattern.MatchString(stmt.Name) {
		return "", fmt.Errorf("malformed label name '%s'", stmt.Name)
	}

	return fmt.Sprintf("(%s)", stmt.Name), nil
}
