package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestVMTranslator(t *testing.T) {
	test := func(name string) {
		input := fmt.Sprintf("testdata/%s.vm", name)
		golden := fmt.Sprintf("testdata/%s.asm.golden", name)
		output := filepath.Join(t.TempDir(), name+".asm")

		status := Handler([]string{input}, map[string]string{"output": output})
		if status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got %d", status)
		}

		compiledContent, err := os.ReadFile(output)
		if err != nil {
			t.Fatalf("error reading output file %s: %v", output, err)
		}

		expectedContent, err := os.ReadFile(golden)
		if err != nil {
			t.Fatalf("error reading golden file %s: %v", golden, err)
		}

		if string(compiledContent) != string(expectedContent) {
			t.Fatalf("output and golden file contents do not match:\ngot:\n%s\nwant:\n%s", compiledContent, expectedContent)
		}
	}

	t.Run("SimpleAdd.vm", func(t *testing.T) { test("simpleadd") })
	t.Run("CompareTest.vm", func(t *testing.T) { test("comparetest") })
}

func TestVMTranslatorRequiresOutputOption(t *testing.T) {
	status := Handler([]string{"testdata/simpleadd.vm"}, map[string]string{})
	if status == 0 {
		t.Fatal("expected a non-zero exit status when --output is missing")
	}
}

func TestVMTranslatorAcceptsDirectoryArgument(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"simpleadd", "comparetest"} {
		content, err := os.ReadFile(fmt.Sprintf("testdata/%s.vm", name))
		if err != nil {
			t.Fatalf("error reading fixture %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name+".vm"), content, 0o644); err != nil {
			t.Fatalf("error copying fixture %s: %v", name, err)
		}
	}

	output := filepath.Join(t.TempDir(), "linked.asm")
	status := Handler([]string{dir}, map[string]string{"output": output})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	compiled, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("error reading output file: %v", err)
	}
	if len(compiled) == 0 {
		t.Fatal("expected non-empty output when translating a directory of modules")
	}
}
