package vm

import (
	"strings"
	"testing"

	"optimuscore/instr"
)

func collect(t *testing.T) (func(string), func() string) {
	t.Helper()
	var b strings.Builder
	return func(s string) { b.WriteString(s) }, b.String
}

func run(t *testing.T, code []instr.Instruction, data []byte) (*Process, string) {
	t.Helper()
	var out strings.Builder
	p := New(1, code, data, func(s string) { out.WriteString(s) })
	for p.Step(1000) {
	}
	return p, out.String()
}

func TestHelloWorld(t *testing.T) {
	data := append([]byte("Hello, Optimus-OS!\n"), 0)
	code := []instr.Instruction{
		instr.NewArg(instr.LIT, 0),
		instr.NewArg(instr.PRINT, 0),
		instr.New(instr.HALT),
	}
	p, out := run(t, code, data)
	if out != "Hello, Optimus-OS!\n" {
		t.Fatalf("got %q", out)
	}
	if p.State != Terminated {
		t.Fatalf("state = %v, want Terminated", p.State)
	}
}

func TestArithmeticAndComparison(t *testing.T) {
	code := []instr.Instruction{
		instr.NewArg(instr.LIT, 3),
		instr.NewArg(instr.LIT, 4),
		instr.New(instr.ADD),
		instr.NewArg(instr.LIT, 7),
		instr.New(instr.EQ),
		instr.NewArg(instr.JZ, 7),
		instr.NewArg(instr.LIT, 1),
		instr.New(instr.HALT),
	}
	p := New(1, code, nil, func(string) {})
	for p.Step(1000) {
	}
	if len(p.Stack) != 1 || p.Stack[0] != 1 {
		t.Fatalf("stack = %v", p.Stack)
	}
}

func TestDivisionByZeroFaults(t *testing.T) {
	code := []instr.Instruction{
		instr.NewArg(instr.LIT, 1),
		instr.NewArg(instr.LIT, 0),
		instr.New(instr.DIV),
		instr.New(instr.HALT),
	}
	p, out := run(t, code, nil)
	if p.State != Terminated {
		t.Fatalf("state = %v", p.State)
	}
	if !strings.Contains(out, "Segmentation Fault (Core Dumped): division by zero") {
		t.Fatalf("out = %q", out)
	}
}

func TestOutOfBoundsStoreFaults(t *testing.T) {
	code := []instr.Instruction{
		instr.NewArg(instr.LIT, 1),         // value
		instr.NewArg(instr.LIT, 99999999),  // addr, pushed last so S_IND pops it first
		instr.New(instr.S_IND),
		instr.New(instr.HALT),
	}
	p, out := run(t, code, nil)
	if p.State != Terminated || !strings.Contains(out, "Segmentation Fault") {
		t.Fatalf("state=%v out=%q", p.State, out)
	}
}

func TestLocalsRoundTrip(t *testing.T) {
	code := []instr.Instruction{
		instr.NewArg(instr.LIT, 42),
		instr.NewArg(instr.STORE, 0),
		instr.NewArg(instr.LOAD, 0),
		instr.New(instr.HALT),
	}
	p := New(1, code, nil, func(string) {})
	for p.Step(1000) {
	}
	if len(p.Stack) != 1 || p.Stack[0] != 42 {
		t.Fatalf("stack = %v", p.Stack)
	}
}

func TestMallocAdvancesHeap(t *testing.T) {
	code := []instr.Instruction{
		instr.NewArg(instr.LIT, 16),
		instr.New(instr.MALLOC),
		instr.New(instr.HALT),
	}
	p := New(1, code, nil, func(string) {})
	start := p.Heap
	for p.Step(1000) {
	}
	if p.Heap != start+16 {
		t.Fatalf("heap = %v, want %v", p.Heap, start+16)
	}
	if len(p.Stack) != 1 || p.Stack[0] != start {
		t.Fatalf("stack = %v, want first-fit pointer %v", p.Stack, start)
	}
}

func TestScanfSuspendsAndResumes(t *testing.T) {
	data := append([]byte("%d\n"), 0)
	code := []instr.Instruction{
		instr.NewArg(instr.P_PUSH, 0), // destination address fp+0
		instr.NewArg(instr.LIT, 0),    // format address
		instr.NewArg(instr.SCANF, 1),
		instr.NewArg(instr.LOAD, 0),
		instr.New(instr.HALT),
	}
	p := New(1, code, data, func(string) {})
	cont := p.Step(1000)
	if cont || p.State != WaitingInput {
		t.Fatalf("state = %v, want WaitingInput", p.State)
	}
	p.ResolveInput("123")
	if p.State != Running {
		t.Fatalf("state after resolve = %v", p.State)
	}
	for p.Step(1000) {
	}
	if len(p.Stack) != 1 || p.Stack[0] != 123 {
		t.Fatalf("stack = %v", p.Stack)
	}
}

func TestPrintFloatPrecision(t *testing.T) {
	data := append([]byte("%f\n"), 0)
	code := []instr.Instruction{
		instr.NewArg(instr.LIT, 2), // 1 value arg
		instr.NewArg(instr.LIT, 0),
		instr.NewArg(instr.PRINT, 1),
		instr.New(instr.HALT),
	}
	_, out := run(t, code, data)
	if out != "2.000000\n" {
		t.Fatalf("got %q", out)
	}
}

func TestStepReturnsFalseWhenTerminated(t *testing.T) {
	code := []instr.Instruction{instr.New(instr.HALT)}
	p := New(1, code, nil, func(string) {})
	if p.Step(10) {
		t.Fatalf("expected false after HALT")
	}
	if p.Step(10) {
		t.Fatalf("expected false once Terminated")
	}
}
