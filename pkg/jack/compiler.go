package jack

import (
	"fmt"
	"strconv"

	"github.com/luib93/nand2tetris/pkg/diag"
	"github.com/luib93/nand2tetris/pkg/vm"
)

// ----------------------------------------------------------------------------
// Jack Compiler

// Compiler is a genuine single-pass, single-token-lookahead recursive descent
// compiler: it emits '[]vm.Operation' directly while parsing, with no intermediate
// AST. Each class compiles independently, matching the real nand2tetris compiler's
// behavior - there is no cross-class linker or registry, so an unqualified call is
// always a method call on 'this', and a qualified call is dispatched to the class of
// a known local/field/static variable if one matches, or else assumed (never
// verified) to name another class entirely.
type Compiler struct {
	tok    *Tokenizer
	scopes ScopeTable
	module string // current class name, becomes the 'Class' half of every 'Class.routine' emitted

	typecheck bool // gate for the stdlib arity check, see compileCall
	useStdlib bool // whether the embedded stdlib ABI is considered available to check against

	nLabel uint // monotonic counter, guarantees unique if/while labels across the whole class
}

func NewCompiler(unit string, source string, typecheck bool, useStdlib bool) (*Compiler, error) {
	tok, err := NewTokenizer(unit, source)
	if err != nil {
		return nil, err
	}
	return &Compiler{tok: tok, typecheck: typecheck, useStdlib: useStdlib}, nil
}

func (c *Compiler) err(format string, args ...any) error {
	return diag.SyntaxErr(c.tok.Pos(), format, args...)
}

// Consumes the next token, failing unless it is the symbol/keyword literally 'value'.
func (c *Compiler) expect(value string) error {
	tok, ok := c.tok.Next()
	if !ok || tok.Value != value {
		return c.err("expected '%s', got '%s'", value, tok.Value)
	}
	return nil
}

// Consumes and returns the next token, failing unless it is an identifier.
func (c *Compiler) expectIdent() (string, error) {
	tok, ok := c.tok.Next()
	if !ok || tok.Type != TIdentifier {
		return "", c.err("expected identifier, got '%s'", tok.Value)
	}
	return tok.Value, nil
}

func (c *Compiler) peekIs(value string) bool {
	tok, ok := c.tok.Peek()
	return ok && tok.Value == value
}

// ----------------------------------------------------------------------------
// Class

// Compiles a single class, returning its name and the flat 'vm.Module' it lowers to.
func (c *Compiler) CompileClass() (string, vm.Module, error) {
	if err := c.expect("class"); err != nil {
		return "", nil, err
	}
	name, err := c.expectIdent()
	if err != nil {
		return "", nil, err
	}
	c.module = name

	c.scopes.PushClassScope(name)
	defer c.scopes.PopClassScope()

	if err := c.expect("{"); err != nil {
		return "", nil, err
	}

	nFields := uint16(0)
	for c.peekIs("static") || c.peekIs("field") {
		n, err := c.compileClassVarDec()
		if err != nil {
			return "", nil, err
		}
		nFields += n
	}

	module := vm.Module{}
	for c.peekIs("constructor") || c.peekIs("function") || c.peekIs("method") {
		ops, err := c.compileSubroutine(nFields)
		if err != nil {
			return "", nil, err
		}
		module = append(module, ops...)
	}

	if err := c.expect("}"); err != nil {
		return "", nil, err
	}
	return name, module, nil
}

// Registers a 'static'/'field' declaration in the class scope, returns how many
// field slots it occupies (0 for statics, since those don't need per-instance memory).
func (c *Compiler) compileClassVarDec() (uint16, error) {
	kindTok, _ := c.tok.Next()
	kind := Field
	if kindTok.Value == "static" {
		kind = Static
	}

	dataType, className, err := c.compileType()
	if err != nil {
		return 0, err
	}

	count := uint16(0)
	for {
		name, err := c.expectIdent()
		if err != nil {
			return 0, err
		}
		if err := c.scopes.RegisterVariable(Variable{Name: name, Type: kind, DataType: dataType, ClassName: className}, c.tok.Pos()); err != nil {
			return 0, err
		}
		if kind == Field {
			count++
		}

		if c.peekIs(",") {
			c.tok.Next()
			continue
		}
		break
	}

	if err := c.expect(";"); err != nil {
		return 0, err
	}
	return count, nil
}

// Consumes a type token ('int'|'char'|'boolean'|'void'|className) and returns its
// DataType; for a user-defined className the ClassName string is also returned.
func (c *Compiler) compileType() (DataType, string, error) {
	tok, ok := c.tok.Next()
	if !ok {
		return "", "", c.err("expected a type, found end of input")
	}

	switch tok.Value {
	case "int":
		return Int, "", nil
	case "char":
		return Char, "", nil
	case "boolean":
		return Bool, "", nil
	case "void":
		return Void, "", nil
	default:
		if tok.Type != TIdentifier {
			return "", "", c.err("expected a type, got '%s'", tok.Value)
		}
		return Object, tok.Value, nil
	}
}

// ----------------------------------------------------------------------------
// Subroutine

// Compiles a 'constructor'|'function'|'method' declaration into its full VM body:
// the 'function Class.name nLocal' header, any receiver-setup prelude and statements.
func (c *Compiler) compileSubroutine(nFields uint16) ([]vm.Operation, error) {
	kindTok, _ := c.tok.Next()
	var kind SubroutineType
	switch kindTok.Value {
	case "constructor":
		kind = Constructor
	case "method":
		kind = Method
	default:
		kind = Function
	}

	if _, _, err := c.compileType(); err != nil { // return type, unused: codegen doesn't need it
		return nil, err
	}
	name, err := c.expectIdent()
	if err != nil {
		return nil, err
	}

	c.scopes.PushSubRoutineScope(name)
	defer c.scopes.PopSubroutineScope()

	// Methods implicitly receive the object instance as argument 0; registering a
	// placeholder here shifts every real parameter's offset by one, matching the
	// caller-side convention (see compileCall) of pushing the receiver first.
	if kind == Method {
		if err := c.scopes.RegisterVariable(Variable{Name: "", Type: Parameter, DataType: Object, ClassName: c.module}, c.tok.Pos()); err != nil {
			return nil, err
		}
	}

	if err := c.expect("("); err != nil {
		return nil, err
	}
	if err := c.compileParameterList(); err != nil {
		return nil, err
	}
	if err := c.expect(")"); err != nil {
		return nil, err
	}

	if err := c.expect("{"); err != nil {
		return nil, err
	}
	nLocal := uint16(0)
	for c.peekIs("var") {
		n, err := c.compileVarDec()
		if err != nil {
			return nil, err
		}
		nLocal += n
	}
	body, err := c.compileStatements()
	if err != nil {
		return nil, err
	}
	if err := c.expect("}"); err != nil {
		return nil, err
	}

	fqName := fmt.Sprintf("%s.%s", c.module, name)
	ops := []vm.Operation{vm.FuncDecl{Name: fqName, NLocal: uint8(nLocal)}}

	switch kind {
	case Constructor:
		// By convention the constructor allocates its own instance memory up front,
		// one word per declared field, and points 'this' at the freshly allocated block.
		ops = append(ops,
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: nFields},
			vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		)
	case Method:
		// The caller pushed the receiver as argument 0; point 'this' at it.
		ops = append(ops,
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		)
	}

	return append(ops, body...), nil
}

func (c *Compiler) compileParameterList() error {
	if c.peekIs(")") {
		return nil
	}
	for {
		dataType, className, err := c.compileType()
		if err != nil {
			return err
		}
		name, err := c.expectIdent()
		if err != nil {
			return err
		}
		if err := c.scopes.RegisterVariable(Variable{Name: name, Type: Parameter, DataType: dataType, ClassName: className}, c.tok.Pos()); err != nil {
			return err
		}

		if c.peekIs(",") {
			c.tok.Next()
			continue
		}
		return nil
	}
}

func (c *Compiler) compileVarDec() (uint16, error) {
	if err := c.expect("var"); err != nil {
		return 0, err
	}
	dataType, className, err := c.compileType()
	if err != nil {
		return 0, err
	}

	count := uint16(0)
	for {
		name, err := c.expectIdent()
		if err != nil {
			return 0, err
		}
		if err := c.scopes.RegisterVariable(Variable{Name: name, Type: Local, DataType: dataType, ClassName: className}, c.tok.Pos()); err != nil {
			return 0, err
		}
		count++

		if c.peekIs(",") {
			c.tok.Next()
			continue
		}
		break
	}
	if err := c.expect(";"); err != nil {
		return 0, err
	}
	return count, nil
}

// ----------------------------------------------------------------------------
// Statements

func (c *Compiler) compileStatements() ([]vm.Operation, error) {
	ops := []vm.Operation{}
	for {
		tok, ok := c.tok.Peek()
		if !ok {
			return ops, nil
		}

		var stmtOps []vm.Operation
		var err error
		switch tok.Value {
		case "let":
			stmtOps, err = c.compileLet()
		case "if":
			stmtOps, err = c.compileIf()
		case "while":
			stmtOps, err = c.compileWhile()
		case "do":
			stmtOps, err = c.compileDo()
		case "return":
			stmtOps, err = c.compileReturn()
		default:
			return ops, nil
		}

		if err != nil {
			return nil, err
		}
		ops = append(ops, stmtOps...)
	}
}

func (c *Compiler) compileLet() ([]vm.Operation, error) {
	if err := c.expect("let"); err != nil {
		return nil, err
	}
	name, err := c.expectIdent()
	if err != nil {
		return nil, err
	}

	if c.peekIs("[") {
		c.tok.Next()
		offset, v, err := c.scopes.ResolveVariable(name)
		if err != nil {
			return nil, diag.SemanticErr(c.tok.Pos(), "variable '%s' undeclared", name)
		}

		indexOps, err := c.compileExpression()
		if err != nil {
			return nil, err
		}
		if err := c.expect("]"); err != nil {
			return nil, err
		}
		if err := c.expect("="); err != nil {
			return nil, err
		}
		valueOps, err := c.compileExpression()
		if err != nil {
			return nil, err
		}
		if err := c.expect(";"); err != nil {
			return nil, err
		}

		ops := append(pushVariable(offset, v), indexOps...)
		ops = append(ops, vm.ArithmeticOp{Operation: vm.Add})
		ops = append(ops, valueOps...)
		ops = append(ops,
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.That, Offset: 0},
		)
		return ops, nil
	}

	if err := c.expect("="); err != nil {
		return nil, err
	}
	valueOps, err := c.compileExpression()
	if err != nil {
		return nil, err
	}
	if err := c.expect(";"); err != nil {
		return nil, err
	}

	offset, v, err := c.scopes.ResolveVariable(name)
	if err != nil {
		return nil, diag.SemanticErr(c.tok.Pos(), "variable '%s' undeclared", name)
	}
	return append(valueOps, popVariable(offset, v)...), nil
}

func (c *Compiler) compileIf() ([]vm.Operation, error) {
	if err := c.expect("if"); err != nil {
		return nil, err
	}
	if err := c.expect("("); err != nil {
		return nil, err
	}
	condOps, err := c.compileExpression()
	if err != nil {
		return nil, err
	}
	if err := c.expect(")"); err != nil {
		return nil, err
	}
	if err := c.expect("{"); err != nil {
		return nil, err
	}
	thenOps, err := c.compileStatements()
	if err != nil {
		return nil, err
	}
	if err := c.expect("}"); err != nil {
		return nil, err
	}

	falseLabel := fmt.Sprintf("IF_FALSE_%d", c.nLabel)
	endLabel := fmt.Sprintf("IF_END_%d", c.nLabel)
	c.nLabel++

	ops := append(condOps, vm.ArithmeticOp{Operation: vm.Not})
	ops = append(ops, vm.GotoOp{Jump: vm.Conditional, Label: falseLabel})
	ops = append(ops, thenOps...)

	if c.peekIs("else") {
		c.tok.Next()
		if err := c.expect("{"); err != nil {
			return nil, err
		}
		elseOps, err := c.compileStatements()
		if err != nil {
			return nil, err
		}
		if err := c.expect("}"); err != nil {
			return nil, err
		}

		ops = append(ops, vm.GotoOp{Jump: vm.Unconditional, Label: endLabel})
		ops = append(ops, vm.LabelDecl{Name: falseLabel})
		ops = append(ops, elseOps...)
		ops = append(ops, vm.LabelDecl{Name: endLabel})
		return ops, nil
	}

	ops = append(ops, vm.LabelDecl{Name: falseLabel})
	return ops, nil
}

func (c *Compiler) compileWhile() ([]vm.Operation, error) {
	if err := c.expect("while"); err != nil {
		return nil, err
	}
	startLabel := fmt.Sprintf("WHILE_EXP_%d", c.nLabel)
	endLabel := fmt.Sprintf("WHILE_END_%d", c.nLabel)
	c.nLabel++

	if err := c.expect("("); err != nil {
		return nil, err
	}
	condOps, err := c.compileExpression()
	if err != nil {
		return nil, err
	}
	if err := c.expect(")"); err != nil {
		return nil, err
	}
	if err := c.expect("{"); err != nil {
		return nil, err
	}
	bodyOps, err := c.compileStatements()
	if err != nil {
		return nil, err
	}
	if err := c.expect("}"); err != nil {
		return nil, err
	}

	ops := []vm.Operation{vm.LabelDecl{Name: startLabel}}
	ops = append(ops, condOps...)
	ops = append(ops, vm.ArithmeticOp{Operation: vm.Not})
	ops = append(ops, vm.GotoOp{Jump: vm.Conditional, Label: endLabel})
	ops = append(ops, bodyOps...)
	ops = append(ops, vm.GotoOp{Jump: vm.Unconditional, Label: startLabel})
	ops = append(ops, vm.LabelDecl{Name: endLabel})
	return ops, nil
}

func (c *Compiler) compileDo() ([]vm.Operation, error) {
	if err := c.expect("do"); err != nil {
		return nil, err
	}
	name, err := c.expectIdent()
	if err != nil {
		return nil, err
	}
	callOps, err := c.compileCall(name)
	if err != nil {
		return nil, err
	}
	if err := c.expect(";"); err != nil {
		return nil, err
	}
	// Every subroutine returns a value on the VM stack by convention; 'do' discards it.
	return append(callOps, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0}), nil
}

func (c *Compiler) compileReturn() ([]vm.Operation, error) {
	if err := c.expect("return"); err != nil {
		return nil, err
	}
	if c.peekIs(";") {
		c.tok.Next()
		// void subroutines still push a dummy value, the VM calling convention demands one.
		return []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ReturnOp{},
		}, nil
	}

	exprOps, err := c.compileExpression()
	if err != nil {
		return nil, err
	}
	if err := c.expect(";"); err != nil {
		return nil, err
	}
	return append(exprOps, vm.ReturnOp{}), nil
}

// ----------------------------------------------------------------------------
// Expressions

var binaryOps = map[string]vm.ArithOpType{
	"+": vm.Add, "-": vm.Sub, "&": vm.And, "|": vm.Or,
	"<": vm.Lt, ">": vm.Gt, "=": vm.Eq,
}

func (c *Compiler) compileExpression() ([]vm.Operation, error) {
	ops, err := c.compileTerm()
	if err != nil {
		return nil, err
	}

	for {
		tok, ok := c.tok.Peek()
		if !ok || tok.Type != TSymbol {
			return ops, nil
		}

		switch tok.Value {
		case "+", "-", "&", "|", "<", ">", "=":
			c.tok.Next()
			rhs, err := c.compileTerm()
			if err != nil {
				return nil, err
			}
			ops = append(ops, rhs...)
			ops = append(ops, vm.ArithmeticOp{Operation: binaryOps[tok.Value]})
		case "*":
			c.tok.Next()
			rhs, err := c.compileTerm()
			if err != nil {
				return nil, err
			}
			ops = append(ops, rhs...)
			ops = append(ops, vm.FuncCallOp{Name: "Math.multiply", NArgs: 2})
		case "/":
			c.tok.Next()
			rhs, err := c.compileTerm()
			if err != nil {
				return nil, err
			}
			ops = append(ops, rhs...)
			ops = append(ops, vm.FuncCallOp{Name: "Math.divide", NArgs: 2})
		default:
			return ops, nil
		}
	}
}

func (c *Compiler) compileExpressionList() ([]vm.Operation, int, error) {
	if c.peekIs(")") {
		return nil, 0, nil
	}

	ops, n := []vm.Operation{}, 0
	for {
		exprOps, err := c.compileExpression()
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, exprOps...)
		n++

		if c.peekIs(",") {
			c.tok.Next()
			continue
		}
		return ops, n, nil
	}
}

func (c *Compiler) compileTerm() ([]vm.Operation, error) {
	tok, ok := c.tok.Next()
	if !ok {
		return nil, c.err("expected a term, found end of input")
	}

	switch {
	case tok.Type == TIntConst:
		n, err := strconv.ParseUint(tok.Value, 10, 32)
		if err != nil || n > 32767 {
			return nil, diag.LexicalErr(diag.Position{Unit: c.tok.unit, Line: tok.Line}, "integer constant out of range: '%s'", tok.Value)
		}
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(n)}}, nil

	case tok.Type == TStringConst:
		return c.compileStringLiteral(tok.Value), nil

	case tok.Type == TKeyword && tok.Value == "true":
		return []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ArithmeticOp{Operation: vm.Not},
		}, nil

	case tok.Type == TKeyword && (tok.Value == "false" || tok.Value == "null"):
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}}, nil

	case tok.Type == TKeyword && tok.Value == "this":
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}}, nil

	case tok.Type == TSymbol && tok.Value == "(":
		ops, err := c.compileExpression()
		if err != nil {
			return nil, err
		}
		if err := c.expect(")"); err != nil {
			return nil, err
		}
		return ops, nil

	case tok.Type == TSymbol && (tok.Value == "-" || tok.Value == "~"):
		ops, err := c.compileTerm()
		if err != nil {
			return nil, err
		}
		arithOp := vm.Neg
		if tok.Value == "~" {
			arithOp = vm.Not
		}
		return append(ops, vm.ArithmeticOp{Operation: arithOp}), nil

	case tok.Type == TIdentifier:
		return c.compileIdentifierTerm(tok.Value)

	default:
		return nil, c.err("unexpected token '%s' in expression", tok.Value)
	}
}

func (c *Compiler) compileIdentifierTerm(name string) ([]vm.Operation, error) {
	if c.peekIs("[") {
		c.tok.Next()
		offset, v, err := c.scopes.ResolveVariable(name)
		if err != nil {
			return nil, diag.SemanticErr(c.tok.Pos(), "variable '%s' undeclared", name)
		}
		indexOps, err := c.compileExpression()
		if err != nil {
			return nil, err
		}
		if err := c.expect("]"); err != nil {
			return nil, err
		}

		ops := append(pushVariable(offset, v), indexOps...)
		ops = append(ops, vm.ArithmeticOp{Operation: vm.Add})
		ops = append(ops, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1})
		ops = append(ops, vm.MemoryOp{Operation: vm.Push, Segment: vm.That, Offset: 0})
		return ops, nil
	}

	if c.peekIs("(") || c.peekIs(".") {
		return c.compileCall(name)
	}

	offset, v, err := c.scopes.ResolveVariable(name)
	if err != nil {
		return nil, diag.SemanticErr(c.tok.Pos(), "variable '%s' undeclared", name)
	}
	return pushVariable(offset, v), nil
}

func (c *Compiler) compileStringLiteral(s string) []vm.Operation {
	ops := []vm.Operation{
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(len(s))},
		vm.FuncCallOp{Name: "String.new", NArgs: 1},
	}
	for _, r := range s {
		ops = append(ops,
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(r)},
			vm.FuncCallOp{Name: "String.appendChar", NArgs: 2},
		)
	}
	return ops
}

// Compiles a subroutine call, given its already-consumed leading identifier. Dispatch
// follows the rule described on 'Compiler': unqualified means a method call on 'this';
// qualified means instance dispatch if 'name' resolves to a known variable, otherwise
// 'name' is taken on faith to be another class (there is nothing here to verify it
// against, since classes compile independently).
func (c *Compiler) compileCall(name string) ([]vm.Operation, error) {
	if c.peekIs(".") {
		c.tok.Next()
		method, err := c.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := c.expect("("); err != nil {
			return nil, err
		}
		argOps, nArgs, err := c.compileExpressionList()
		if err != nil {
			return nil, err
		}
		if err := c.expect(")"); err != nil {
			return nil, err
		}

		if offset, v, err := c.scopes.ResolveVariable(name); err == nil {
			ops := append(pushVariable(offset, v), argOps...)
			fqName := fmt.Sprintf("%s.%s", v.ClassName, method)
			return append(ops, vm.FuncCallOp{Name: fqName, NArgs: uint8(nArgs + 1)}), nil
		}

		fqName := fmt.Sprintf("%s.%s", name, method)
		if c.typecheck && c.useStdlib {
			if sig, found := StandardLibrary[fqName]; found && sig.NArgs != nArgs {
				return nil, diag.SemanticErr(c.tok.Pos(), "'%s' expects %d argument(s), got %d", fqName, sig.NArgs, nArgs)
			}
		}
		return append(argOps, vm.FuncCallOp{Name: fqName, NArgs: uint8(nArgs)}), nil
	}

	if err := c.expect("("); err != nil {
		return nil, err
	}
	argOps, nArgs, err := c.compileExpressionList()
	if err != nil {
		return nil, err
	}
	if err := c.expect(")"); err != nil {
		return nil, err
	}

	ops := append([]vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}}, argOps...)
	fqName := fmt.Sprintf("%s.%s", c.module, name)
	return append(ops, vm.FuncCallOp{Name: fqName, NArgs: uint8(nArgs + 1)}), nil
}

// ----------------------------------------------------------------------------
// Variable access helpers

func segmentFor(kind VarType) vm.SegmentType {
	switch kind {
	case Local:
		return vm.Local
	case Field:
		return vm.This
	case Parameter:
		return vm.Argument
	default:
		return vm.Static
	}
}

func pushVariable(offset uint16, v Variable) []vm.Operation {
	return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: segmentFor(v.Type), Offset: offset}}
}

func popVariable(offset uint16, v Variable) []vm.Operation {
	return []vm.Operation{vm.MemoryOp{Operation: vm.Pop, Segment: segmentFor(v.Type), Offset: offset}}
}
