package instr

import "testing"

func TestStringKnownOpcodes(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{HALT, "HALT"},
		{JMP, "JMP"},
		{JZ, "JZ"},
		{LIT, "LIT"},
		{ADD, "ADD"},
		{DIV, "DIV"},
		{LOAD64, "LOAD64"},
		{P_PUSH, "P_PUSH"},
		{S_IND64, "S_IND64"},
		{MALLOC, "MALLOC"},
		{PRINT, "PRINT"},
		{SCANF, "SCANF"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestStringUnknownOpcodeFallsBackToNumeric(t *testing.T) {
	unknown := Opcode(200)
	if got, want := unknown.String(), "OP(200)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNewBuildsArgumentlessInstruction(t *testing.T) {
	ins := New(HALT)
	if ins.Op != HALT || ins.Arg != 0 {
		t.Fatalf("New(HALT) = %+v", ins)
	}
}

func TestNewArgBuildsInstructionWithArgument(t *testing.T) {
	ins := NewArg(LIT, 42)
	if ins.Op != LIT || ins.Arg != 42 {
		t.Fatalf("NewArg(LIT, 42) = %+v", ins)
	}
}

func TestInstructionStringIncludesOpAndArg(t *testing.T) {
	ins := NewArg(JZ, 7)
	if got, want := ins.String(), "JZ 7"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
