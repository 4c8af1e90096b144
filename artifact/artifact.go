// Package artifact defines the serializable (bytecode, data) pair produced
// by the compiler and consumed by the VM, plus its CBOR wire format.
package artifact

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"optimuscore/instr"
)

// CurrentVersion is the artifact format version this build writes and the
// highest version it will read.
const CurrentVersion = 1

var magic = [4]byte{'O', 'C', 'B', 'C'}

// Executable is the unit the compiler produces and the VM runs: a compiled
// program's bytecode, its interned data segment, and bookkeeping the host
// shell cares about but the VM itself does not.
type Executable struct {
	Magic      [4]byte
	Version    uint16
	Name       string
	Bytecode   []instr.Instruction
	Data       []byte
	Warnings   []string
	CreatedPID int // 0 if never instantiated as a process
}

// New wraps compiled output into an Executable ready to Encode, stamping
// the current magic and version.
func New(name string, bytecode []instr.Instruction, data []byte, warnings []string) Executable {
	return Executable{
		Magic:    magic,
		Version:  CurrentVersion,
		Name:     name,
		Bytecode: bytecode,
		Data:     data,
		Warnings: warnings,
	}
}

// wireInstruction mirrors instr.Instruction with exported-by-default CBOR
// field names; instr.Instruction already exports both fields, so this
// exists only to pin the wire encoding independent of any future
// unexported fields added to instr.Instruction.
type wireInstruction struct {
	Op  byte
	Arg float64
}

type wireExecutable struct {
	Magic      [4]byte
	Version    uint16
	Name       string
	Bytecode   []wireInstruction
	Data       []byte
	Warnings   []string
	CreatedPID int
}

// Encode serializes e to CBOR.
func Encode(e Executable) ([]byte, error) {
	w := wireExecutable{
		Magic:      magic,
		Version:    e.Version,
		Name:       e.Name,
		Data:       e.Data,
		Warnings:   e.Warnings,
		CreatedPID: e.CreatedPID,
	}
	if w.Version == 0 {
		w.Version = CurrentVersion
	}
	w.Bytecode = make([]wireInstruction, len(e.Bytecode))
	for i, ins := range e.Bytecode {
		w.Bytecode[i] = wireInstruction{Op: byte(ins.Op), Arg: ins.Arg}
	}
	return cbor.Marshal(w)
}

// Decode parses CBOR bytes into an Executable, rejecting a bad magic number
// or a version newer than this build understands — the two checks
// shared/assembler/dulf.go's DulfHeader was shaped to support but never
// actually performed.
func Decode(data []byte) (Executable, error) {
	var w wireExecutable
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Executable{}, fmt.Errorf("artifact: decode: %w", err)
	}
	if w.Magic != magic {
		return Executable{}, fmt.Errorf("artifact: bad magic %q", w.Magic)
	}
	if w.Version > CurrentVersion {
		return Executable{}, fmt.Errorf("artifact: unsupported version %d (max %d)", w.Version, CurrentVersion)
	}
	e := Executable{
		Magic:      w.Magic,
		Version:    w.Version,
		Name:       w.Name,
		Data:       w.Data,
		Warnings:   w.Warnings,
		CreatedPID: w.CreatedPID,
	}
	e.Bytecode = make([]instr.Instruction, len(w.Bytecode))
	for i, wi := range w.Bytecode {
		e.Bytecode[i] = instr.Instruction{Op: instr.Opcode(wi.Op), Arg: wi.Arg}
	}
	return e, nil
}
