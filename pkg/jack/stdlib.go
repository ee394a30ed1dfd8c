package jack

import (
	_ "embed"
	"encoding/json"
)

// Describes the arity and return type of a single standard library subroutine -
// enough to validate call sites against during the '--typecheck' pass without
// having to ship (or parse) the OS classes' actual Jack source.
type StdlibSignature struct {
	NArgs  int      `json:"nArgs"`
	Return DataType `json:"return"`
}

//go:embed stdlib.json
var stdlibJSON string

// Maps "Class.subroutine" (e.g. "Math.multiply") to its signature, covering the
// eight built-in OS classes every Jack program implicitly links against: Math,
// String, Array, Output, Screen, Keyboard, Memory and Sys.
var StandardLibrary = map[string]StdlibSignature{}

func init() {
	if err := json.Unmarshal([]byte(stdlibJSON), &StandardLibrary); err != nil {
		panic("jack: malformed embedded stdlib.json: " + err.Error())
	}
}
