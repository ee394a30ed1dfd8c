package vm_test

import (
	"testing"

	"github.com/luib93/nand2tetris/pkg/asm"
	"github.com/luib93/nand2tetris/pkg/vm"
)

func lower(t *testing.T, program vm.Program, bootstrap bool) asm.Program {
	t.Helper()
	lowerer := vm.NewLowerer(program, bootstrap)
	prog, err := lowerer.Lower()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return prog
}

func TestLowerConstantPush(t *testing.T) {
	prog := lower(t, vm.Program{
		"Main": {vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 7}},
	}, false)

	want := asm.Program{
		asm.AInstruction{Location: "7"}, asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
	if len(prog) != len(want) {
		t.Fatalf("expected %d instructions, got %d", len(want), len(prog))
	}
	for i := range want {
		if prog[i] != want[i] {
			t.Errorf("instruction %d: expected %+v, got %+v", i, want[i], prog[i])
		}
	}
}

func TestLowerPopToConstantFails(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{
		"Main": {vm.MemoryOp{Operation: vm.Pop, Segment: vm.Constant, Offset: 0}},
	}, false)

	if _, err := lowerer.Lower(); err == nil {
		t.Fatal("expected an error popping into the 'constant' segment")
	}
}

func TestLowerStaticIsScopedPerModule(t *testing.T) {
	prog := lower(t, vm.Program{
		"Foo": {vm.MemoryOp{Operation: vm.Push, Segment: vm.Static, Offset: 2}},
	}, false)

	first, ok := prog[0].(asm.AInstruction)
	if !ok || first.Location != "Foo.2" {
		t.Fatalf("expected static segment offset 2 to resolve to 'Foo.2', got %+v", prog[0])
	}
}

func TestLowerComparisonLabelsAreUnique(t *testing.T) {
	prog := lower(t, vm.Program{
		"Main": {
			vm.ArithmeticOp{Operation: vm.Eq},
			vm.ArithmeticOp{Operation: vm.Eq},
		},
	}, false)

	labels := map[string]bool{}
	for _, inst := range prog {
		if decl, ok := inst.(asm.LabelDecl); ok {
			if labels[decl.Name] {
				t.Fatalf("label '%s' declared more than once", decl.Name)
			}
			labels[decl.Name] = true
		}
	}
	if len(labels) != 2 {
		t.Fatalf("expected 2 unique comparison labels, got %d", len(labels))
	}
}

func TestLowerLabelsAreFunctionScoped(t *testing.T) {
	prog := lower(t, vm.Program{
		"Main": {
			vm.FuncDecl{Name: "Main.a", NLocal: 0},
			vm.LabelDecl{Name: "LOOP"},
			vm.FuncDecl{Name: "Main.b", NLocal: 0},
			vm.LabelDecl{Name: "LOOP"},
		},
	}, false)

	var decls []string
	for _, inst := range prog {
		if decl, ok := inst.(asm.LabelDecl); ok {
			decls = append(decls, decl.Name)
		}
	}

	// Two function decls + two scoped label decls = 4 labels, all distinct.
	seen := map[string]bool{}
	for _, d := range decls {
		if seen[d] {
			t.Fatalf("duplicate label '%s' across functions", d)
		}
		seen[d] = true
	}
	if !seen["Main.a$LOOP"] || !seen["Main.b$LOOP"] {
		t.Fatalf("expected function-scoped labels 'Main.a$LOOP' and 'Main.b$LOOP', got %v", decls)
	}
}

func TestLowerCallProducesUniqueReturnLabels(t *testing.T) {
	prog := lower(t, vm.Program{
		"Main": {
			vm.FuncCallOp{Name: "Math.multiply", NArgs: 2},
			vm.FuncCallOp{Name: "Math.multiply", NArgs: 2},
		},
	}, false)

	var returnLabels []string
	for _, inst := range prog {
		if decl, ok := inst.(asm.LabelDecl); ok {
			returnLabels = append(returnLabels, decl.Name)
		}
	}
	if len(returnLabels) != 2 || returnLabels[0] == returnLabels[1] {
		t.Fatalf("expected 2 unique return labels, got %v", returnLabels)
	}
}

func TestLowerReturnStashesRetAddrBeforeOverwritingFrame(t *testing.T) {
	prog := lower(t, vm.Program{
		"Main": {vm.ReturnOp{}},
	}, false)

	// The retAddr load (R13-5 -> R14) must appear before LCL/ARG/THIS/THAT start
	// getting clobbered by the restore sequence - i.e. before the first '@ARG' (the
	// '*ARG = pop()' write, which can land on the retAddr slot) and the final 'goto R14'.
	var r14WriteIdx, jmpIdx, firstArgIdx int = -1, -1, -1
	for i, inst := range prog {
		if a, ok := inst.(asm.AInstruction); ok && a.Location == "R14" && i+1 < len(prog) {
			if c, ok := prog[i+1].(asm.CInstruction); ok && c.Dest == "M" {
				r14WriteIdx = i
			}
		}
		if a, ok := inst.(asm.AInstruction); ok && a.Location == "ARG" && firstArgIdx == -1 {
			firstArgIdx = i
		}
		if c, ok := inst.(asm.CInstruction); ok && c.Jump == "JMP" {
			jmpIdx = i
		}
	}
	if r14WriteIdx == -1 || jmpIdx == -1 || r14WriteIdx >= jmpIdx {
		t.Fatalf("expected R14 to be written before the final jump, got write=%d jmp=%d", r14WriteIdx, jmpIdx)
	}
	if firstArgIdx == -1 || r14WriteIdx >= firstArgIdx {
		t.Fatalf("expected R14 to be written before '*ARG' is overwritten, got write=%d arg=%d", r14WriteIdx, firstArgIdx)
	}
}

func TestLowerBootstrapEmitsSpAndCallsSysInit(t *testing.T) {
	prog := lower(t, vm.Program{
		"Sys": {vm.FuncDecl{Name: "Sys.init", NLocal: 0}},
	}, true)

	if len(prog) < 4 {
		t.Fatalf("expected at least SP=256 setup instructions, got %d", len(prog))
	}
	first, ok := prog[0].(asm.AInstruction)
	if !ok || first.Location != "256" {
		t.Fatalf("expected bootstrap to start with '@256', got %+v", prog[0])
	}

	foundCall := false
	for _, inst := range prog {
		if a, ok := inst.(asm.AInstruction); ok && a.Location == "Sys.init" {
			foundCall = true
		}
	}
	if !foundCall {
		t.Fatal("expected bootstrap to jump into 'Sys.init'")
	}
}

func TestLowerMultiModuleOrderIsDeterministic(t *testing.T) {
	program := vm.Program{
		"Zebra": {vm.MemoryOp{Operation: vm.Push, Segment: vm.Static, Offset: 0}},
		"Alpha": {vm.MemoryOp{Operation: vm.Push, Segment: vm.Static, Offset: 0}},
	}

	a := lower(t, program, false)
	b := lower(t, program, false)

	if len(a) != len(b) {
		t.Fatalf("expected deterministic output length, got %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic output at %d, got %+v vs %+v", i, a[i], b[i])
		}
	}

	first, ok := a[0].(asm.AInstruction)
	if !ok || first.Location != "Alpha.0" {
		t.Fatalf("expected 'Alpha' module (sorted first) to lower before 'Zebra', got %+v", a[0])
	}
}
