// Package procmgr multiplexes VM processes under a single PID registry,
// the way chazu-maggie's SessionStore multiplexes interpreter sessions:
// one mutex-guarded map, monotonically increasing identifiers, and a
// fan-out of change-notification callbacks invoked synchronously inside
// the mutating call (spec.md §4.6).
package procmgr

import (
	"sync"
	"time"

	"optimuscore/instr"
	"optimuscore/vm"
)

// startPID is the first PID ever handed out; it never decreases within a
// Manager's lifetime (spec.md §6).
const startPID = 100

// Entry is one process-manager record: the running VM plus the bookkeeping
// spec.md §4.6 requires alongside it.
type Entry struct {
	PID             int
	Name            string
	VM              *vm.Process
	StartTime       time.Time
	MemoryUsageHint int
	OwningWindowID  string
	hasWindow       bool
	isSystem        bool
}

// Snapshot is the read-only view list() returns: enough to render a
// process list without exposing the live VM.
type Snapshot struct {
	PID             int
	Name            string
	State           vm.State
	MemoryUsageHint int
	StartTime       time.Time
	WindowID        string
	HasWindow       bool
	IsSystem        bool
}

// Manager is the process-wide singleton spec.md §4.6 describes. It never
// steps a VM itself — callers drive each Process, one goroutine per
// Process at a time — and the registry is safe for concurrent access from
// the shell's event loop and any UI goroutine issuing kill/list calls.
type Manager struct {
	mu        sync.Mutex
	nextPID   int
	entries   map[int]*Entry
	observers map[int]func()
	nextObsID int
}

// New returns an empty Manager with the PID counter at its floor.
func New() *Manager {
	return &Manager{
		nextPID:   startPID,
		entries:   make(map[int]*Entry),
		observers: make(map[int]func()),
	}
}

// CreateProcess constructs a VM from bytecode/data, records an entry for
// it, and notifies subscribers — spec.md §4.6's create_process.
func (m *Manager) CreateProcess(name string, bytecode []instr.Instruction, data []byte, stdout func(string)) int {
	m.mu.Lock()
	pid := m.nextPID
	m.nextPID++
	proc := vm.New(pid, bytecode, data, stdout)
	m.entries[pid] = &Entry{
		PID:       pid,
		Name:      name,
		VM:        proc,
		StartTime: now(),
	}
	m.mu.Unlock()

	m.notify()
	return pid
}

// RegisterSystemProcess creates a zero-bytecode placeholder entry used
// purely for bookkeeping (window-owned utility processes with no VM work
// of their own) — spec.md §4.6's register_system_process. Its VM is
// parked in vm.Terminated because it has no bytecode to run and never
// will (spec.md's process state machine has no fourth "inert" state to
// reach for), but the entry itself is marked isSystem so List()'s
// termination sweep — which otherwise reaps any Terminated VM on its very
// next call — leaves it alone. A system process is removed only by an
// explicit Kill or KillByWindow, never autonomously.
func (m *Manager) RegisterSystemProcess(name string, memHint int, windowID string) int {
	m.mu.Lock()
	pid := m.nextPID
	m.nextPID++
	proc := vm.New(pid, nil, nil, func(string) {})
	proc.State = vm.Terminated
	e := &Entry{
		PID:             pid,
		Name:            name,
		VM:              proc,
		StartTime:       now(),
		MemoryUsageHint: memHint,
		isSystem:        true,
	}
	if windowID != "" {
		e.OwningWindowID = windowID
		e.hasWindow = true
	}
	m.entries[pid] = e
	m.mu.Unlock()

	m.notify()
	return pid
}

// Kill marks pid's VM Terminated and removes its entry. Unknown PIDs are a
// silent no-op (spec.md §7: the UI may race an autonomous termination).
func (m *Manager) Kill(pid int) {
	m.mu.Lock()
	e, ok := m.entries[pid]
	if ok {
		e.VM.State = vm.Terminated
		delete(m.entries, pid)
	}
	m.mu.Unlock()

	if ok {
		m.notify()
	}
}

// KillByWindow kills every process owned by windowID.
func (m *Manager) KillByWindow(windowID string) {
	m.mu.Lock()
	var hit bool
	for pid, e := range m.entries {
		if e.hasWindow && e.OwningWindowID == windowID {
			e.VM.State = vm.Terminated
			delete(m.entries, pid)
			hit = true
		}
	}
	m.mu.Unlock()

	if hit {
		m.notify()
	}
}

// Get returns the live VM for pid, for the shell to step or feed input —
// spec.md §4.6's get(pid).
func (m *Manager) Get(pid int) (*vm.Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[pid]
	if !ok {
		return nil, false
	}
	return e.VM, true
}

// List sweeps out any non-system entry whose VM autonomously terminated,
// then returns a snapshot of what remains — spec.md §4.6's list(). System
// processes (RegisterSystemProcess) are parked in vm.Terminated from
// birth since they have no bytecode to run; the sweep would otherwise
// reap the bookkeeping entry on the very next List() call.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	var dead []int
	for pid, e := range m.entries {
		if e.VM.State == vm.Terminated && !e.isSystem {
			dead = append(dead, pid)
		}
	}
	for _, pid := range dead {
		delete(m.entries, pid)
	}

	snaps := make([]Snapshot, 0, len(m.entries))
	for _, e := range m.entries {
		snaps = append(snaps, Snapshot{
			PID:             e.PID,
			Name:            e.Name,
			State:           e.VM.State,
			MemoryUsageHint: e.MemoryUsageHint,
			StartTime:       e.StartTime,
			WindowID:        e.OwningWindowID,
			HasWindow:       e.hasWindow,
			IsSystem:        e.isSystem,
		})
	}
	m.mu.Unlock()

	if len(dead) > 0 {
		m.notify()
	}
	return snaps
}

// Subscribe registers cb to be invoked synchronously on every create,
// kill, or autonomous-termination sweep, and returns an unsubscribe
// function — spec.md §4.6's subscribe(cb) → unsubscribe. A callback that
// panics is undefined behavior per spec.md §7; Manager does not guard
// against it.
func (m *Manager) Subscribe(cb func()) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	cbs := make([]func(), 0, len(m.observers))
	for _, cb := range m.observers {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// now is a seam so tests can stamp deterministic StartTime values;
// production callers get the wall clock.
var now = time.Now
