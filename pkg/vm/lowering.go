package vm

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/luib93/nand2tetris/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a typed 'vm.Program' and produces its 'asm.Program' counterpart,
// implementing the full Hack VM calling convention: segment addressing, comparison
// operations with globally-unique labels, function-scoped branching, and the complete
// function/call/return stack-frame protocol.
//
// Modules are processed in sorted name order so that a multi-unit program always
// lowers to the same instruction stream regardless of map iteration order.
type Lowerer struct {
	program   Program
	bootstrap bool

	prefix          string         // current module name, used to scope the 'static' segment
	currentFunction string         // current function name, used to scope label/goto
	retCounters     map[string]int // per-called-function counters for unique 'f$ret.i' labels
	cmpCounter      int            // global counter for unique eq/gt/lt comparison labels
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// When 'bootstrap' is true the resulting '.asm' program is prefixed with the
// standard 'SP=256; call Sys.init 0' bootstrap sequence.
func NewLowerer(p Program, bootstrap bool) Lowerer {
	return Lowerer{program: p, bootstrap: bootstrap, retCounters: map[string]int{}}
}

// Triggers the lowering process, module by module (in sorted name order), operation by
// operation. Each VM operation produces zero or more 'asm.Instruction'.
func (l *Lowerer) Lower() (asm.Program, error) {
	program := asm.Program{}

	if l.bootstrap {
		program = append(program, l.bootstrapSequence()...)
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		l.prefix = name
		l.currentFunction = ""

		for _, operation := range l.program[name] {
			var instructions []asm.Instruction
			var err error

			switch tOperation := operation.(type) {
			case MemoryOp:
				instructions, err = l.handleMemoryOp(tOperation)
			case ArithmeticOp:
				instructions, err = l.handleArithmeticOp(tOperation)
			case LabelDecl:
				instructions, err = l.handleLabelDecl(tOperation)
			case GotoOp:
				instructions, err = l.handleGotoOp(tOperation)
			case FuncDecl:
				instructions, err = l.handleFuncDecl(tOperation)
			case FuncCallOp:
				instructions, err = l.handleFuncCallOp(tOperation)
			case ReturnOp:
				instructions, err = l.handleReturnOp(tOperation)
			default:
				err = fmt.Errorf("unrecognized operation '%T'", operation)
			}

			if err != nil {
				return nil, fmt.Errorf("module '%s': %w", name, err)
			}
			program = append(program, instructions...)
		}
	}

	return program, nil
}

// ----------------------------------------------------------------------------
// Shared helpers

// Pushes the value currently held in the D register onto the stack and grows it.
func pushD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// Shrinks the stack and loads the popped value into the D register.
func popToD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// Mangles a bare VM label into its function-scoped form ("Function$L"); outside
// of any function it degrades to a bare '$L'.
func (l *Lowerer) scopedLabel(name string) string {
	return fmt.Sprintf("%s$%s", l.currentFunction, name)
}

func segmentBase(segment SegmentType) (string, bool) {
	switch segment {
	case Local:
		return "LCL", true
	case Argument:
		return "ARG", true
	case This:
		return "THIS", true
	case That:
		return "THAT", true
	default:
		return "", false
	}
}

// ----------------------------------------------------------------------------
// Memory Op

func (l *Lowerer) handleMemoryOp(op MemoryOp) ([]asm.Instruction, error) {
	switch op.Segment {
	case Constant:
		if op.Operation != Push {
			return nil, fmt.Errorf("cannot pop into the 'constant' segment")
		}
		return append([]asm.Instruction{
			asm.AInstruction{Location: strconv.Itoa(int(op.Offset))},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}, pushD()...), nil

	case Local, Argument, This, That:
		base, _ := segmentBase(op.Segment)
		addrCalc := []asm.Instruction{
			asm.AInstruction{Location: base},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: strconv.Itoa(int(op.Offset))},
			asm.CInstruction{Dest: "D", Comp: "D+A"},
		}
		if op.Operation == Push {
			instructions := append(addrCalc, asm.CInstruction{Dest: "A", Comp: "D"}, asm.CInstruction{Dest: "D", Comp: "M"})
			return append(instructions, pushD()...), nil
		}
		instructions := append(addrCalc, asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"})
		instructions = append(instructions, popToD()...)
		return append(instructions, asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "A", Comp: "M"}, asm.CInstruction{Dest: "M", Comp: "D"}), nil

	case Static:
		label := fmt.Sprintf("%s.%d", l.prefix, op.Offset)
		if op.Operation == Push {
			return append([]asm.Instruction{
				asm.AInstruction{Location: label}, asm.CInstruction{Dest: "D", Comp: "M"},
			}, pushD()...), nil
		}
		instructions := popToD()
		return append(instructions, asm.AInstruction{Location: label}, asm.CInstruction{Dest: "M", Comp: "D"}), nil

	case Temp:
		if op.Offset > 7 {
			return nil, fmt.Errorf("invalid 'temp' offset, got %d", op.Offset)
		}
		addr := strconv.Itoa(5 + int(op.Offset))
		if op.Operation == Push {
			return append([]asm.Instruction{
				asm.AInstruction{Location: addr}, asm.CInstruction{Dest: "D", Comp: "M"},
			}, pushD()...), nil
		}
		instructions := popToD()
		return append(instructions, asm.AInstruction{Location: addr}, asm.CInstruction{Dest: "M", Comp: "D"}), nil

	case Pointer:
		if op.Offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
		}
		name := "THIS"
		if op.Offset == 1 {
			name = "THAT"
		}
		if op.Operation == Push {
			return append([]asm.Instruction{
				asm.AInstruction{Location: name}, asm.CInstruction{Dest: "D", Comp: "M"},
			}, pushD()...), nil
		}
		instructions := popToD()
		return append(instructions, asm.AInstruction{Location: name}, asm.CInstruction{Dest: "M", Comp: "D"}), nil

	default:
		return nil, fmt.Errorf("unrecognized segment '%s'", op.Segment)
	}
}

// ----------------------------------------------------------------------------
// Arithmetic Op

var binaryComp = map[ArithOpType]string{
	Add: "D+M", Sub: "M-D", And: "D&M", Or: "D|M",
}

var unaryComp = map[ArithOpType]string{
	Neg: "-M", Not: "!M",
}

var comparisonJump = map[ArithOpType]string{
	Eq: "JEQ", Gt: "JGT", Lt: "JLT",
}

func (l *Lowerer) handleArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	if comp, ok := unaryComp[op.Operation]; ok {
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil
	}

	if comp, ok := binaryComp[op.Operation]; ok {
		instructions := popToD()
		return append(instructions,
			asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		), nil
	}

	if jump, ok := comparisonJump[op.Operation]; ok {
		trueLabel := fmt.Sprintf("COMP_TRUE_%d", l.cmpCounter)
		l.cmpCounter++

		instructions := popToD()
		instructions = append(instructions,
			asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "D", Comp: "M-D"},
			asm.CInstruction{Dest: "M", Comp: "-1"},
			asm.AInstruction{Location: trueLabel},
			asm.CInstruction{Comp: "D", Jump: jump},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "0"},
			asm.LabelDecl{Name: trueLabel},
		)
		return instructions, nil
	}

	return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
}

// ----------------------------------------------------------------------------
// Branching Op

func (l *Lowerer) handleLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty label declaration")
	}
	return []asm.Instruction{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

func (l *Lowerer) handleGotoOp(op GotoOp) ([]asm.Instruction, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to produce empty jump label")
	}

	label := l.scopedLabel(op.Label)
	if op.Jump == Unconditional {
		return []asm.Instruction{
			asm.AInstruction{Location: label},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}

	instructions := popToD()
	return append(instructions,
		asm.AInstruction{Location: label},
		asm.CInstruction{Comp: "D", Jump: "JNE"},
	), nil
}

// ----------------------------------------------------------------------------
// Function Op

func (l *Lowerer) handleFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function declaration")
	}
	l.currentFunction = op.Name

	instructions := []asm.Instruction{asm.LabelDecl{Name: op.Name}}
	for i := uint8(0); i < op.NLocal; i++ {
		instructions = append(instructions, asm.AInstruction{Location: "0"}, asm.CInstruction{Dest: "D", Comp: "A"})
		instructions = append(instructions, pushD()...)
	}
	return instructions, nil
}

func pushLabelAddress(label string) []asm.Instruction {
	instructions := []asm.Instruction{
		asm.AInstruction{Location: label},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}
	return append(instructions, pushD()...)
}

func pushRegister(name string) []asm.Instruction {
	instructions := []asm.Instruction{
		asm.AInstruction{Location: name},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
	return append(instructions, pushD()...)
}

func (l *Lowerer) handleFuncCallOp(op FuncCallOp) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function call")
	}

	returnLabel := fmt.Sprintf("%s$ret.%d", op.Name, l.retCounters[op.Name])
	l.retCounters[op.Name]++

	instructions := pushLabelAddress(returnLabel)
	instructions = append(instructions, pushRegister("LCL")...)
	instructions = append(instructions, pushRegister("ARG")...)
	instructions = append(instructions, pushRegister("THIS")...)
	instructions = append(instructions, pushRegister("THAT")...)

	// ARG = SP - 5 - nArgs
	instructions = append(instructions,
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: strconv.Itoa(5 + int(op.NArgs))}, asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// LCL = SP
	instructions = append(instructions,
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// goto <called function>, unscoped: function names are program-global, not per-caller-scoped
	instructions = append(instructions,
		asm.AInstruction{Location: op.Name}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: returnLabel},
	)

	return instructions, nil
}

func (l *Lowerer) handleReturnOp(op ReturnOp) ([]asm.Instruction, error) {
	instructions := []asm.Instruction{
		// R13 (endFrame) = LCL
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// R14 (retAddr) = *(endFrame - 5), stashed before LCL/ARG/etc get overwritten
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "5"}, asm.CInstruction{Dest: "A", Comp: "D-A"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "M", Comp: "D"},
	}

	// *ARG = pop()
	instructions = append(instructions, popToD()...)
	instructions = append(instructions,
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "A", Comp: "M"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// SP = ARG + 1
	instructions = append(instructions,
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)

	// Restore THAT, THIS, ARG, LCL from endFrame-1..4, in that order.
	restores := []struct {
		offset int
		dest   string
	}{{1, "THAT"}, {2, "THIS"}, {3, "ARG"}, {4, "LCL"}}
	for _, r := range restores {
		instructions = append(instructions,
			asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: strconv.Itoa(r.offset)}, asm.CInstruction{Dest: "A", Comp: "D-A"}, asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: r.dest}, asm.CInstruction{Dest: "M", Comp: "D"},
		)
	}

	// goto retAddr
	instructions = append(instructions,
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "A", Comp: "M"}, asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return instructions, nil
}

// ----------------------------------------------------------------------------
// Bootstrap

func (l *Lowerer) bootstrapSequence() []asm.Instruction {
	instructions := []asm.Instruction{
		asm.AInstruction{Location: "256"}, asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "D"},
	}
	call, _ := l.handleFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	return append(instructions, call...)
}
