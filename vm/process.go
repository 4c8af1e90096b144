// Package vm implements the process virtual machine: a stack machine over
// a flat byte-addressed memory image, cooperatively scheduled by repeated
// calls to Step and suspendable on SCANF. See spec.md §3-4.5.
package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"optimuscore/instr"
)

// MemSize is the fixed size of a process's flat memory image (spec.md §6:
// "Memory size = 64 KiB").
const MemSize = 64 * 1024

// FrameBase is the fixed byte address the local-variable frame starts at
// and grows upward from (spec.md §6: "frame pointer initial = 60000").
const FrameBase = 60000

// dataReserve is the gap left between the end of the data segment and the
// start of the heap, matching spec.md §6's align4(data_len + 1024).
const dataReserve = 1024

// State is one point in the process state machine of spec.md §3:
// Running -> {Running, WaitingInput, Terminated}; WaitingInput ->
// {Running, Terminated}; Terminated is absorbing.
type State int

const (
	Running State = iota
	WaitingInput
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case WaitingInput:
		return "WaitingInput"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ScanContext is the {format, addresses} pair captured when SCANF
// transitions a process to WaitingInput, per spec.md §4.5.
type ScanContext struct {
	Format    string
	Addresses []float64
}

// Process is one running (or suspended, or terminated) instance of a
// compiled program: its own memory image, evaluation stack, program
// counter, frame pointer, heap cursor, and state — spec.md §3's "Process"
// and "Executable artifact".
type Process struct {
	PID  int
	Code []instr.Instruction
	Mem  []byte

	Stack []float64
	PC    int
	FP    float64
	Heap  float64

	State State
	Scan  ScanContext

	// Stdout is the caller-owned sink every PRINT and fault diagnostic
	// writes to. The VM assumes it never panics and is safe to call
	// synchronously (spec.md §5).
	Stdout func(string)
}

// New builds a Process ready to Step: its memory image is MemSize bytes,
// data copied in at address 0, frame pointer at FrameBase, and heap
// pointer at align4(len(data) + 1024).
func New(pid int, code []instr.Instruction, data []byte, stdout func(string)) *Process {
	mem := make([]byte, MemSize)
	copy(mem, data)
	return &Process{
		PID:    pid,
		Code:   code,
		Mem:    mem,
		FP:     FrameBase,
		Heap:   align4(float64(len(data) + dataReserve)),
		State:  Running,
		Stdout: stdout,
	}
}

func align4(v float64) float64 { return math.Ceil(v/4) * 4 }

// Step executes up to maxCycles instructions in program order and reports
// whether the caller should invoke Step again: false means the process
// just transitioned to WaitingInput or Terminated (including on a fault),
// true means it ran a full chunk and is still Running. No panic escapes
// Step — anything unexpected degrades to a fault, matching spec.md §7's
// "runtime faults ... never propagate beyond step".
func (p *Process) Step(maxCycles int) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			p.fault(fmt.Sprintf("%v", r))
			cont = false
		}
	}()

	if p.State != Running {
		return false
	}
	for i := 0; i < maxCycles; i++ {
		if p.PC < 0 || p.PC >= len(p.Code) {
			p.State = Terminated
			return false
		}
		if !p.exec(p.Code[p.PC]) {
			return false
		}
	}
	return p.State == Running
}

// fault degrades the process to Terminated and writes the diagnostic
// line spec.md §4.5/§7 mandate for every runtime fault.
func (p *Process) fault(reason string) {
	p.Stdout(fmt.Sprintf("Segmentation Fault (Core Dumped): %s\n", reason))
	p.State = Terminated
}

func (p *Process) push(v float64) { p.Stack = append(p.Stack, v) }

func (p *Process) pop() float64 {
	n := len(p.Stack)
	if n == 0 {
		panic("stack underflow")
	}
	v := p.Stack[n-1]
	p.Stack = p.Stack[:n-1]
	return v
}

func (p *Process) top() float64 {
	if len(p.Stack) == 0 {
		panic("stack underflow")
	}
	return p.Stack[len(p.Stack)-1]
}

func (p *Process) inRange(addr, size int) bool {
	return addr >= 0 && size >= 0 && addr+size <= len(p.Mem)
}

func (p *Process) load32(addr float64) (float64, bool) {
	a := int(addr)
	if !p.inRange(a, 4) {
		return 0, false
	}
	bits := binary.LittleEndian.Uint32(p.Mem[a : a+4])
	return float64(math.Float32frombits(bits)), true
}

func (p *Process) store32(addr, v float64) bool {
	a := int(addr)
	if !p.inRange(a, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(p.Mem[a:a+4], math.Float32bits(float32(v)))
	return true
}

func (p *Process) load64(addr float64) (float64, bool) {
	a := int(addr)
	if !p.inRange(a, 8) {
		return 0, false
	}
	bits := binary.LittleEndian.Uint64(p.Mem[a : a+8])
	return math.Float64frombits(bits), true
}

func (p *Process) store64(addr, v float64) bool {
	a := int(addr)
	if !p.inRange(a, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(p.Mem[a:a+8], math.Float64bits(v))
	return true
}

// exec runs one instruction, advancing PC (jumps set it directly, every
// other opcode falls through to PC++ at the bottom). It returns false when
// the process should stop stepping this chunk: HALT, a fault, or SCANF
// suspension.
func (p *Process) exec(ins instr.Instruction) bool {
	switch ins.Op {
	case instr.HALT:
		p.State = Terminated
		return false

	case instr.JMP:
		p.PC = int(ins.Arg)
		return true
	case instr.JZ:
		if p.pop() == 0 {
			p.PC = int(ins.Arg)
		} else {
			p.PC++
		}
		return true

	case instr.LIT:
		p.push(ins.Arg)
	case instr.POP:
		p.pop()
	case instr.DUP:
		p.push(p.top())

	case instr.ADD:
		rhs, lhs := p.pop(), p.pop()
		p.push(lhs + rhs)
	case instr.SUB:
		rhs, lhs := p.pop(), p.pop()
		p.push(lhs - rhs)
	case instr.MUL:
		rhs, lhs := p.pop(), p.pop()
		p.push(lhs * rhs)
	case instr.DIV:
		rhs, lhs := p.pop(), p.pop()
		if rhs == 0 {
			p.fault("division by zero")
			return false
		}
		p.push(lhs / rhs)
	case instr.MOD:
		rhs, lhs := p.pop(), p.pop()
		if rhs == 0 {
			p.fault("division by zero")
			return false
		}
		p.push(math.Mod(lhs, rhs))

	case instr.EQ:
		p.push(boolf(p.pop() == p.pop()))
	case instr.NEQ:
		p.push(boolf(p.pop() != p.pop()))
	case instr.LT:
		rhs, lhs := p.pop(), p.pop()
		p.push(boolf(lhs < rhs))
	case instr.GT:
		rhs, lhs := p.pop(), p.pop()
		p.push(boolf(lhs > rhs))
	case instr.LE:
		rhs, lhs := p.pop(), p.pop()
		p.push(boolf(lhs <= rhs))
	case instr.GE:
		rhs, lhs := p.pop(), p.pop()
		p.push(boolf(lhs >= rhs))

	case instr.LOAD:
		v, ok := p.load32(p.FP + ins.Arg)
		if !ok {
			p.fault(fmt.Sprintf("invalid load at %d", int(p.FP+ins.Arg)))
			return false
		}
		p.push(v)
	case instr.STORE:
		v := p.pop()
		if !p.store32(p.FP+ins.Arg, v) {
			p.fault(fmt.Sprintf("invalid store at %d", int(p.FP+ins.Arg)))
			return false
		}
	case instr.LOAD64:
		v, ok := p.load64(p.FP + ins.Arg)
		if !ok {
			p.fault(fmt.Sprintf("invalid load at %d", int(p.FP+ins.Arg)))
			return false
		}
		p.push(v)
	case instr.STORE64:
		v := p.pop()
		if !p.store64(p.FP+ins.Arg, v) {
			p.fault(fmt.Sprintf("invalid store at %d", int(p.FP+ins.Arg)))
			return false
		}

	case instr.P_PUSH:
		p.push(p.FP + ins.Arg)

	case instr.L_IND:
		addr := p.pop()
		v, ok := p.load32(addr)
		if !ok {
			p.fault(fmt.Sprintf("invalid load at %d", int(addr)))
			return false
		}
		p.push(v)
	case instr.S_IND:
		addr := p.pop()
		v := p.pop()
		if !p.store32(addr, v) {
			p.fault(fmt.Sprintf("invalid store at %d", int(addr)))
			return false
		}
	case instr.L_IND64:
		addr := p.pop()
		v, ok := p.load64(addr)
		if !ok {
			p.fault(fmt.Sprintf("invalid load at %d", int(addr)))
			return false
		}
		p.push(v)
	case instr.S_IND64:
		addr := p.pop()
		v := p.pop()
		if !p.store64(addr, v) {
			p.fault(fmt.Sprintf("invalid store at %d", int(addr)))
			return false
		}

	case instr.MALLOC:
		// The heap pointer is never checked against FP: an allocation large
		// enough to reach the frame overlaps the locals stored there.
		size := p.pop()
		ptr := p.Heap
		p.Heap = align4(p.Heap + size)
		p.push(ptr)
	case instr.FREE:
		// reserved; no-op by design (spec.md §4.5: no free-list).

	case instr.SIN:
		p.push(math.Sin(p.pop()))
	case instr.COS:
		p.push(math.Cos(p.pop()))
	case instr.TAN:
		p.push(math.Tan(p.pop()))
	case instr.SQRT:
		p.push(math.Sqrt(p.pop()))
	case instr.POW:
		exponent, base := p.pop(), p.pop()
		p.push(math.Pow(base, exponent))
	case instr.ABS:
		p.push(math.Abs(p.pop()))

	case instr.PRINT:
		if !p.execPrint(int(ins.Arg)) {
			return false
		}
	case instr.SCANF:
		p.execScanf(int(ins.Arg))
		p.PC++ // resume after SCANF once ResolveInput sets Running again
		return false

	default:
		// unknown opcode: no-op by design, the set is closed at compile
		// time (spec.md §7).
	}
	p.PC++
	return true
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// readCString reads a NUL-terminated byte string starting at addr.
func (p *Process) readCString(addr int) (string, bool) {
	if addr < 0 || addr >= len(p.Mem) {
		return "", false
	}
	end := addr
	for end < len(p.Mem) && p.Mem[end] != 0 {
		end++
	}
	return string(p.Mem[addr:end]), true
}

// execPrint implements PRINT n per spec.md §4.5: pop the format address,
// pop n value arguments (arriving in the reverse of declaration order
// because the compiler pushed them left to right), un-reverse them, then
// walk the format string.
func (p *Process) execPrint(n int) bool {
	fmtAddr := p.pop()
	args := make([]float64, n)
	for i := 0; i < n; i++ {
		args[i] = p.pop()
	}
	for l, r := 0, len(args)-1; l < r; l, r = l+1, r-1 {
		args[l], args[r] = args[r], args[l]
	}
	format, ok := p.readCString(int(fmtAddr))
	if !ok {
		p.fault(fmt.Sprintf("invalid format string address %d", int(fmtAddr)))
		return false
	}
	out, ok := p.renderFormat(format, args)
	if !ok {
		p.fault("invalid format string argument")
		return false
	}
	p.Stdout(out)
	return true
}

// renderFormat walks format copying literal characters and interpreting
// %[flags][.precision]<type> conversions against args in order, per
// spec.md §4.5's PRINT semantics (floor for %d, even on negatives —
// deliberately preserved, see spec.md §9).
func (p *Process) renderFormat(format string, args []float64) (string, bool) {
	var b strings.Builder
	ai := 0
	i := 0
	for i < len(format) {
		if format[i] != '%' {
			b.WriteByte(format[i])
			i++
			continue
		}
		start := i
		i++
		if i < len(format) && format[i] == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		for i < len(format) && strings.ContainsRune("-+ #0123456789.", rune(format[i])) {
			i++
		}
		if i < len(format) && format[i] == 'l' {
			i++
		}
		if i >= len(format) || !strings.ContainsRune("dfcsxX", rune(format[i])) {
			b.WriteString(format[start:i])
			continue
		}
		verb := format[i]
		precision := parsePrecision(format[start:i])
		i++

		if ai >= len(args) {
			b.WriteString(format[start : i])
			continue
		}
		v := args[ai]
		ai++
		switch verb {
		case 'd':
			b.WriteString(strconv.FormatInt(int64(math.Floor(v)), 10))
		case 'f':
			if precision < 0 {
				precision = 6
			}
			b.WriteString(strconv.FormatFloat(v, 'f', precision, 64))
		case 'x':
			b.WriteString(strconv.FormatInt(int64(math.Floor(v)), 16))
		case 'X':
			b.WriteString(strings.ToUpper(strconv.FormatInt(int64(math.Floor(v)), 16)))
		case 'c':
			b.WriteByte(byte(int64(math.Floor(v))))
		case 's':
			s, ok := p.readCString(int(v))
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
	}
	return b.String(), true
}

// parsePrecision extracts the digits after '.' in a specifier like
// "%-08.2" (precision 2); returns -1 if there is no '.'.
func parsePrecision(flags string) int {
	dot := strings.IndexByte(flags, '.')
	if dot < 0 {
		return -1
	}
	digits := flags[dot+1:]
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return -1
	}
	return n
}

// execScanf implements SCANF n: pop the format address, pop n destination
// addresses (un-reversed the same way PRINT's value args are), capture the
// scan context, and suspend.
func (p *Process) execScanf(n int) {
	fmtAddr := p.pop()
	addrs := make([]float64, n)
	for i := 0; i < n; i++ {
		addrs[i] = p.pop()
	}
	for l, r := 0, len(addrs)-1; l < r; l, r = l+1, r-1 {
		addrs[l], addrs[r] = addrs[r], addrs[l]
	}
	format, ok := p.readCString(int(fmtAddr))
	if !ok {
		p.fault(fmt.Sprintf("invalid format string address %d", int(fmtAddr)))
		return
	}
	p.Scan = ScanContext{Format: format, Addresses: addrs}
	p.State = WaitingInput
}

// ResolveInput feeds one line of terminal input to a process suspended in
// WaitingInput. The line is split on whitespace; each conversion in the
// captured scan context consumes one token and stores it at the
// corresponding address. Fewer tokens than conversions leaves the
// remaining addresses untouched (spec.md §8's boundary case). The VM never
// echoes input — that's the terminal's job (spec.md §6).
func (p *Process) ResolveInput(line string) {
	if p.State != WaitingInput {
		return
	}
	tokens := strings.Fields(line)
	convs := scanConversions(p.Scan.Format)

	ti := 0
	for i, conv := range convs {
		if i >= len(p.Scan.Addresses) {
			break
		}
		if ti >= len(tokens) {
			break
		}
		addr := p.Scan.Addresses[i]
		tok := tokens[ti]
		ti++
		switch conv {
		case "d", "c":
			var v float64
			if conv == "c" {
				if len(tok) > 0 {
					v = float64(tok[0])
				}
			} else if f, err := strconv.ParseFloat(tok, 64); err == nil {
				v = f
			}
			p.store32(addr, v)
		case "f":
			if f, err := strconv.ParseFloat(tok, 64); err == nil {
				p.store32(addr, f)
			}
		case "lf":
			if f, err := strconv.ParseFloat(tok, 64); err == nil {
				p.store64(addr, f)
			}
		case "s":
			a := int(addr)
			for j := 0; j < len(tok) && p.inRange(a+j, 1); j++ {
				p.Mem[a+j] = tok[j]
			}
			if p.inRange(a+len(tok), 1) {
				p.Mem[a+len(tok)] = 0
			}
		}
	}

	p.Scan = ScanContext{}
	p.State = Running
}

// scanConversions extracts the ordered conversion kinds ("d", "f", "lf",
// "c", "s") from a scanf format string.
func scanConversions(format string) []string {
	var out []string
	i := 0
	for i < len(format) {
		if format[i] != '%' {
			i++
			continue
		}
		i++
		if i < len(format) && format[i] == '%' {
			i++
			continue
		}
		for i < len(format) && strings.ContainsRune("-+ #0123456789.", rune(format[i])) {
			i++
		}
		long := false
		if i < len(format) && format[i] == 'l' {
			long = true
			i++
		}
		if i < len(format) && strings.ContainsRune("dfcs", rune(format[i])) {
			verb := string(format[i])
			if long && verb == "f" {
				verb = "lf"
			}
			out = append(out, verb)
			i++
		}
	}
	return out
}
