package jack_test

import (
	"testing"

	"github.com/luib93/nand2tetris/pkg/diag"
	"github.com/luib93/nand2tetris/pkg/jack"
)

func TestClassScope(t *testing.T) {
	test := func(st jack.ScopeTable, lookup string, expectedVar jack.Variable, expectedOffset uint16, fail bool) {
		offset, variable, err := st.ResolveVariable(lookup)
		if err != nil && !fail {
			t.Fatalf("expected to find %s, got error: %v", lookup, err)
		}
		if variable != expectedVar {
			t.Errorf("expected to find variable '%s', got %+v", lookup, variable)
		}
		if offset != expectedOffset {
			t.Errorf("expected to find offset %d for variable '%s', got '%d'", expectedOffset, lookup, offset)
		}
	}

	t.Run("Without variable shadowing", func(t *testing.T) {
		st := jack.ScopeTable{}
		st.PushClassScope("TestClass") // Push a new class scope before doing anything

		// Register a field variable and a static variable
		st.RegisterVariable(jack.Variable{Name: "test_field", Type: jack.Field, DataType: jack.Int}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.String}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_field_2", Type: jack.Field, DataType: jack.Char}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_static_2", Type: jack.Static, DataType: jack.Bool}, diag.Position{})

		// All of these variables should be found and resolved correctly
		test(st, "test_field", jack.Variable{Name: "test_field", Type: jack.Field, DataType: jack.Int}, 0, false)
		test(st, "test_static", jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.String}, 0, false)
		test(st, "test_field_2", jack.Variable{Name: "test_field_2", Type: jack.Field, DataType: jack.Char}, 1, false)
		test(st, "test_static_2", jack.Variable{Name: "test_static_2", Type: jack.Static, DataType: jack.Bool}, 1, false)

		// None of these variables should be found, they were never registered
		test(st, "random1", jack.Variable{}, 0, true)
		test(st, "random2", jack.Variable{}, 0, true)
		test(st, "random3", jack.Variable{}, 0, true)
		test(st, "random4", jack.Variable{}, 0, true)
	})

	t.Run("Redeclaration within the same scope fails", func(t *testing.T) {
		st := jack.ScopeTable{}
		st.PushClassScope("TestClass") // Push a new class scope before doing anything

		// First registration of each name succeeds
		if err := st.RegisterVariable(jack.Variable{Name: "test_field", Type: jack.Field, DataType: jack.Int}, diag.Position{}); err != nil {
			t.Fatalf("expected first declaration of 'test_field' to succeed, got: %v", err)
		}
		if err := st.RegisterVariable(jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.String}, diag.Position{}); err != nil {
			t.Fatalf("expected first declaration of 'test_static' to succeed, got: %v", err)
		}

		// Redeclaring the same name in the same scope must fail, and must not
		// replace the original entry.
		if err := st.RegisterVariable(jack.Variable{Name: "test_field", Type: jack.Field, DataType: jack.Char}, diag.Position{}); err == nil {
			t.Fatal("expected redeclaring 'test_field' in the same scope to fail")
		}
		if err := st.RegisterVariable(jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.Bool}, diag.Position{}); err == nil {
			t.Fatal("expected redeclaring 'test_static' in the same scope to fail")
		}

		// The original entries must still be the ones resolved.
		test(st, "test_field", jack.Variable{Name: "test_field", Type: jack.Field, DataType: jack.Int}, 0, false)
		test(st, "test_static", jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.String}, 0, false)
	})

	t.Run("With scope deallocation", func(t *testing.T) {
		st := jack.ScopeTable{}
		st.PushClassScope("TestClass") // Push a new class scope before doing anything

		// Register a field variable and a static variable
		st.RegisterVariable(jack.Variable{Name: "test_field", Type: jack.Field, DataType: jack.Int}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_field_2", Type: jack.Field, DataType: jack.Char}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.String}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_static_2", Type: jack.Static, DataType: jack.Bool}, diag.Position{})

		// All of these variables should be found and resolved correctly
		test(st, "test_field", jack.Variable{Name: "test_field", Type: jack.Field, DataType: jack.Int}, 0, false)
		test(st, "test_field_2", jack.Variable{Name: "test_field_2", Type: jack.Field, DataType: jack.Char}, 1, false)
		test(st, "test_static", jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.String}, 0, false)
		test(st, "test_static_2", jack.Variable{Name: "test_static_2", Type: jack.Static, DataType: jack.Bool}, 1, false)

		st.PopClassScope() // Deallocates the current class scope

		// All of these variables should not be found and resolved since the scope is deallocated
		test(st, "test_field", jack.Variable{}, 0, true)
		test(st, "test_field_2", jack.Variable{}, 0, true)
		// All of these variables should found and resolved correctly since they are static and span all scopes
		test(st, "test_static", jack.Variable{Name: "test_static", Type: jack.Static, DataType: jack.String}, 0, false)
		test(st, "test_static_2", jack.Variable{Name: "test_static_2", Type: jack.Static, DataType: jack.Bool}, 1, false)
	})
}

func TestSubroutineScope(t *testing.T) {
	test := func(st jack.ScopeTable, lookup string, expectedVar jack.Variable, expectedOffset uint16, fail bool) {
		offset, variable, err := st.ResolveVariable(lookup)
		if err != nil && !fail {
			t.Fatalf("expected to find %s, got error: %v", lookup, err)
		}
		if variable != expectedVar {
			t.Errorf("expected to find variable '%s', got %+v", lookup, variable)
		}
		if offset != expectedOffset {
			t.Errorf("expected to find offset %d for variable '%s', got '%d'", expectedOffset, lookup, offset)
		}
	}

	t.Run("Without variable shadowing", func(t *testing.T) {
		st := jack.ScopeTable{}
		st.PushClassScope("TestClass")      // Push a new class scope before doing anything
		st.PushSubRoutineScope("TestSubroutine") // Push a new subroutine scope before doing anything

		// Register a local variable and a parameter variable
		st.RegisterVariable(jack.Variable{Name: "test_local", Type: jack.Local, DataType: jack.Int}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_parameter", Type: jack.Parameter, DataType: jack.String}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_local_2", Type: jack.Local, DataType: jack.Char}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_parameter_2", Type: jack.Parameter, DataType: jack.Bool}, diag.Position{})

		// All of these variables should be found and resolved correctly
		test(st, "test_local", jack.Variable{Name: "test_local", Type: jack.Local, DataType: jack.Int}, 0, false)
		test(st, "test_parameter", jack.Variable{Name: "test_parameter", Type: jack.Parameter, DataType: jack.String}, 0, false)
		test(st, "test_local_2", jack.Variable{Name: "test_local_2", Type: jack.Local, DataType: jack.Char}, 1, false)
		test(st, "test_parameter_2", jack.Variable{Name: "test_parameter_2", Type: jack.Parameter, DataType: jack.Bool}, 1, false)

		// None of these variables should be found, they were never registered
		test(st, "random1", jack.Variable{}, 0, true)
		test(st, "random2", jack.Variable{}, 0, true)
		test(st, "random3", jack.Variable{}, 0, true)
		test(st, "random4", jack.Variable{}, 0, true)
	})

	t.Run("Redeclaration within the same scope fails (on method scope)", func(t *testing.T) {
		st := jack.ScopeTable{}
		st.PushClassScope("TestClass")      // Push a new class scope before doing anything
		st.PushSubRoutineScope("TestSubroutine") // Push a new subroutine scope before doing anything

		if err := st.RegisterVariable(jack.Variable{Name: "test_local", Type: jack.Local, DataType: jack.Int}, diag.Position{}); err != nil {
			t.Fatalf("expected first declaration of 'test_local' to succeed, got: %v", err)
		}
		if err := st.RegisterVariable(jack.Variable{Name: "test_parameter", Type: jack.Parameter, DataType: jack.String}, diag.Position{}); err != nil {
			t.Fatalf("expected first declaration of 'test_parameter' to succeed, got: %v", err)
		}

		// Redeclaring the same name with the same kind in the same scope must fail.
		if err := st.RegisterVariable(jack.Variable{Name: "test_local", Type: jack.Local, DataType: jack.Char}, diag.Position{}); err == nil {
			t.Fatal("expected redeclaring 'test_local' in the same scope to fail")
		}
		if err := st.RegisterVariable(jack.Variable{Name: "test_parameter", Type: jack.Parameter, DataType: jack.Bool}, diag.Position{}); err == nil {
			t.Fatal("expected redeclaring 'test_parameter' in the same scope to fail")
		}

		// The original entries must still be the ones resolved.
		test(st, "test_local", jack.Variable{Name: "test_local", Type: jack.Local, DataType: jack.Int}, 0, false)
		test(st, "test_parameter", jack.Variable{Name: "test_parameter", Type: jack.Parameter, DataType: jack.String}, 0, false)
	})

	t.Run("With scope deallocation", func(t *testing.T) {
		st := jack.ScopeTable{}
		st.PushClassScope("TestClass")      // Push a new class scope before doing anything
		st.PushSubRoutineScope("TestSubroutine") // Push a new subroutine scope before doing anything

		// Register a local variable and a parameter variable
		st.RegisterVariable(jack.Variable{Name: "test_local", Type: jack.Local, DataType: jack.Int}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test_parameter", Type: jack.Parameter, DataType: jack.String}, diag.Position{})

		// All of these variables should be found and resolved correctly
		test(st, "test_local", jack.Variable{Name: "test_local", Type: jack.Local, DataType: jack.Int}, 0, false)
		test(st, "test_parameter", jack.Variable{Name: "test_parameter", Type: jack.Parameter, DataType: jack.String}, 0, false)

		st.PopSubroutineScope() // Deallocates the current subroutine scope

		// All of these variables should not be found and resolved since the scope is deallocated
		test(st, "test_local", jack.Variable{}, 0, true)
		test(st, "test_parameter", jack.Variable{}, 0, true)
	})

	t.Run("With variable shadowing (on class scope)", func(t *testing.T) {
		st := jack.ScopeTable{}
		st.PushClassScope("TestClass") // Push a new class scope before doing anything

		// Register variables on the class scope
		st.RegisterVariable(jack.Variable{Name: "test1", Type: jack.Field, DataType: jack.Int}, diag.Position{})
		st.RegisterVariable(jack.Variable{Name: "test2", Type: jack.Static, DataType: jack.String}, diag.Position{})

		st.PushSubRoutineScope("TestSubroutine") // Push a new subroutine scope before doing anything

		// These reuse the same names but on a different scope kind (Local/Parameter
		// rather than Field/Static), so this is legitimate shadowing, not a collision.
		if err := st.RegisterVariable(jack.Variable{Name: "test1", Type: jack.Local, DataType: jack.Bool}, diag.Position{}); err != nil {
			t.Fatalf("expected shadowing a field with a local to succeed, got: %v", err)
		}
		if err := st.RegisterVariable(jack.Variable{Name: "test2", Type: jack.Parameter, DataType: jack.Char}, diag.Position{}); err != nil {
			t.Fatalf("expected shadowing a static with a parameter to succeed, got: %v", err)
		}

		// All of these variables should be found and resolved correctly
		test(st, "test1", jack.Variable{Name: "test1", Type: jack.Local, DataType: jack.Bool}, 0, false)
		test(st, "test2", jack.Variable{Name: "test2", Type: jack.Parameter, DataType: jack.Char}, 0, false)

		st.PopSubroutineScope() // Deallocates the current subroutine scope

		// All of these variables should be found and resolved correctly
		test(st, "test1", jack.Variable{Name: "test1", Type: jack.Field, DataType: jack.Int}, 0, false)
		test(st, "test2", jack.Variable{Name: "test2", Type: jack.Static, DataType: jack.String}, 0, false)
	})
}

func TestScopeTracking(t *testing.T) {
	test := func(st jack.ScopeTable, expected string, fail bool) {
		scope := st.GetScope()
		if scope != expected && !fail {
			t.Errorf("expected to get scope %s, got %+v", expected, scope)
		}
	}

	t.Run("Basic scope tracking checks", func(t *testing.T) {
		st := jack.ScopeTable{}

		st.PushClassScope("TestClass") // Push a new class scope before doing anything
		test(st, "TestClass.Global", false)

		st.PushSubRoutineScope("TestSubroutine") // Push a new subroutine scope before doing anything
		test(st, "TestClass.TestSubroutine", false)

		st.PopSubroutineScope() // Deallocates the current subroutine scope
		test(st, "TestClass.Global", false)

		st.PopClassScope() // Deallocates the current class scope
		test(st, "Global", false)
	})
}
