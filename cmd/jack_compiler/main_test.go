package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Copies a .jack fixture into an isolated directory so the compiler's generated
// .vm output (written next to the input) never touches testdata.
func copyFixture(t *testing.T, name string) string {
	t.Helper()

	content, err := os.ReadFile(fmt.Sprintf("testdata/%s.jack", name))
	if err != nil {
		t.Fatalf("error reading fixture %s: %v", name, err)
	}

	dst := filepath.Join(t.TempDir(), name+".jack")
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		t.Fatalf("error copying fixture %s: %v", name, err)
	}
	return dst
}

func TestJackCompiler(t *testing.T) {
	test := func(name string) {
		input := copyFixture(t, name)

		status := Handler([]string{input}, map[string]string{})
		if status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got %d", status)
		}

		generated, err := os.ReadFile(filepath.Join(filepath.Dir(input), name+".vm"))
		if err != nil {
			t.Fatalf("error reading generated output for %s: %v", name, err)
		}

		expected, err := os.ReadFile(fmt.Sprintf("testdata/%s.vm.golden", name))
		if err != nil {
			t.Fatalf("error reading golden file for %s: %v", name, err)
		}

		if string(generated) != string(expected) {
			t.Fatalf("generated and golden .vm contents do not match for %s:\ngot:\n%s\nwant:\n%s", name, generated, expected)
		}
	}

	t.Run("Main.jack", func(t *testing.T) { test("Main") })
	t.Run("Point.jack", func(t *testing.T) { test("Point") })
}

func TestJackCompilerTypecheckRejectsBadArity(t *testing.T) {
	input := copyFixture(t, "BadArity")

	status := Handler([]string{input}, map[string]string{"stdlib": "true", "typecheck": "true"})
	if status == 0 {
		t.Fatal("expected a non-zero exit status for a call with wrong arity under --stdlib --typecheck")
	}
}

func TestJackCompilerMissingArgs(t *testing.T) {
	status := Handler([]string{}, map[string]string{})
	if status == 0 {
		t.Fatal("expected a non-zero exit status with no input files")
	}
}
