package jack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luib93/nand2tetris/pkg/jack"
	"github.com/luib93/nand2tetris/pkg/vm"
)

func compile(t *testing.T, source string, typecheck, stdlib bool) (string, vm.Module) {
	t.Helper()
	c, err := jack.NewCompiler("test.jack", source, typecheck, stdlib)
	require.NoError(t, err)
	name, module, err := c.CompileClass()
	require.NoError(t, err)
	return name, module
}

func TestCompileFunctionAndStaticCall(t *testing.T) {
	name, module := compile(t, `
		class Main {
			function void main() {
				do Output.printInt(42);
				return;
			}
		}
	`, false, false)

	assert.Equal(t, "Main", name)
	assert.Equal(t, vm.Module{
		vm.FuncDecl{Name: "Main.main", NLocal: 0},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 42},
		vm.FuncCallOp{Name: "Output.printInt", NArgs: 1},
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
		vm.ReturnOp{},
	}, module)
}

func TestCompileConstructorAndMethod(t *testing.T) {
	_, module := compile(t, `
		class Point {
			field int x, y;

			constructor Point new(int ax, int ay) {
				let x = ax;
				let y = ay;
				return this;
			}

			method int getX() {
				return x;
			}
		}
	`, false, false)

	require.Len(t, module, 15)

	assert.Equal(t, vm.FuncDecl{Name: "Point.new", NLocal: 0}, module[0])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 2}, module[1])
	assert.Equal(t, vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1}, module[2])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0}, module[3])

	assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0}, module[4])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.This, Offset: 0}, module[5])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 1}, module[6])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.This, Offset: 1}, module[7])

	assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}, module[8])
	assert.Equal(t, vm.ReturnOp{}, module[9])

	assert.Equal(t, vm.FuncDecl{Name: "Point.getX", NLocal: 0}, module[10])
	// method prelude: point 'this' at the received object
	assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0}, module[11])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0}, module[12])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.This, Offset: 0}, module[13])
	assert.Equal(t, vm.ReturnOp{}, module[14])
}

func TestCompileUnqualifiedCallIsMethodOnThis(t *testing.T) {
	_, module := compile(t, `
		class Foo {
			method void run() {
				do helper();
				return;
			}

			method void helper() {
				return;
			}
		}
	`, false, false)

	// 'run' pushes its own receiver placeholder (argument 0), then calls 'helper'
	// as a method on 'this': pointer 0, then Foo.helper with nArgs+1.
	found := false
	for i := range module {
		if call, ok := module[i].(vm.FuncCallOp); ok && call.Name == "Foo.helper" {
			assert.Equal(t, uint8(1), call.NArgs)
			assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}, module[i-1])
			found = true
		}
	}
	assert.True(t, found, "expected a call to Foo.helper")
}

func TestCompileInstanceDispatch(t *testing.T) {
	_, module := compile(t, `
		class Main {
			function void main() {
				var Point p;
				do p.getX();
				return;
			}
		}
	`, false, false)

	found := false
	for i := range module {
		if call, ok := module[i].(vm.FuncCallOp); ok && call.Name == "Point.getX" {
			assert.Equal(t, uint8(1), call.NArgs)
			assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Local, Offset: 0}, module[i-1])
			found = true
		}
	}
	assert.True(t, found, "expected a call to Point.getX")
}

func TestCompileArrayAssignment(t *testing.T) {
	_, module := compile(t, `
		class Main {
			function void main() {
				var Array a;
				let a[0] = 5;
				return;
			}
		}
	`, false, false)

	assert.Equal(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1}, module[len(module)-5])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 0}, module[len(module)-4])
	assert.Equal(t, vm.MemoryOp{Operation: vm.Pop, Segment: vm.That, Offset: 0}, module[len(module)-3])
}

func TestCompileTypecheckRejectsBadArity(t *testing.T) {
	_, _, err := mustCompiler(t, `
		class Main {
			function void main() {
				do Output.printInt(1, 2);
				return;
			}
		}
	`, true, true)
	assert.Error(t, err)
}

func TestCompileTypecheckRequiresStdlibFlag(t *testing.T) {
	// typecheck without --stdlib should not enforce arity, matching the idea
	// that --stdlib is what makes the embedded ABI 'linked' at all.
	_, _, err := mustCompiler(t, `
		class Main {
			function void main() {
				do Output.printInt(1, 2);
				return;
			}
		}
	`, true, false)
	assert.NoError(t, err)
}

func mustCompiler(t *testing.T, source string, typecheck, stdlib bool) (string, vm.Module, error) {
	t.Helper()
	c, err := jack.NewCompiler("test.jack", source, typecheck, stdlib)
	require.NoError(t, err)
	return c.CompileClass()
}
