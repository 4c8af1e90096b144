package procmgr

import (
	"testing"

	"optimuscore/instr"
	"optimuscore/vm"
)

func TestCreateProcessStartsAt100(t *testing.T) {
	m := New()
	pid := m.CreateProcess("hello", []instr.Instruction{instr.New(instr.HALT)}, nil, func(string) {})
	if pid != 100 {
		t.Fatalf("pid = %d, want 100", pid)
	}
	second := m.CreateProcess("again", nil, nil, func(string) {})
	if second != 101 {
		t.Fatalf("pid = %d, want 101", second)
	}
}

func TestGetUnknownPID(t *testing.T) {
	m := New()
	if _, ok := m.Get(999); ok {
		t.Fatalf("expected unknown pid to miss")
	}
}

func TestKillRemovesEntry(t *testing.T) {
	m := New()
	pid := m.CreateProcess("p", nil, nil, func(string) {})
	m.Kill(pid)
	if _, ok := m.Get(pid); ok {
		t.Fatalf("expected entry removed after kill")
	}
	// killing again, or an unknown pid, is a silent no-op.
	m.Kill(pid)
	m.Kill(4242)
}

func TestKillByWindow(t *testing.T) {
	m := New()
	a := m.RegisterSystemProcess("editor", 0, "win-1")
	b := m.RegisterSystemProcess("terminal", 0, "win-1")
	c := m.RegisterSystemProcess("other", 0, "win-2")

	m.KillByWindow("win-1")

	if _, ok := m.Get(a); ok {
		t.Fatalf("expected %d killed", a)
	}
	if _, ok := m.Get(b); ok {
		t.Fatalf("expected %d killed", b)
	}
	if _, ok := m.Get(c); !ok {
		t.Fatalf("expected %d to survive", c)
	}
}

func TestListSweepsAutonomousTermination(t *testing.T) {
	m := New()
	pid := m.CreateProcess("halts", []instr.Instruction{instr.New(instr.HALT)}, nil, func(string) {})
	proc, _ := m.Get(pid)
	for proc.Step(10) {
	}
	if proc.State != vm.Terminated {
		t.Fatalf("expected process to have terminated")
	}

	snaps := m.List()
	for _, s := range snaps {
		if s.PID == pid {
			t.Fatalf("expected terminated process swept from list")
		}
	}
	if _, ok := m.Get(pid); ok {
		t.Fatalf("expected entry removed after sweep")
	}
}

func TestSubscribeNotifiesAndUnsubscribes(t *testing.T) {
	m := New()
	var calls int
	unsub := m.Subscribe(func() { calls++ })

	m.CreateProcess("a", nil, nil, func(string) {})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	pid := m.CreateProcess("b", nil, nil, func(string) {})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	m.Kill(pid)
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	unsub()
	m.CreateProcess("c", nil, nil, func(string) {})
	if calls != 3 {
		t.Fatalf("calls = %d after unsubscribe, want unchanged", calls)
	}
}

func TestRegisterSystemProcessIsZeroBytecode(t *testing.T) {
	m := New()
	pid := m.RegisterSystemProcess("shell", 4096, "")
	proc, ok := m.Get(pid)
	if !ok {
		t.Fatalf("expected entry to exist")
	}
	if len(proc.Code) != 0 {
		t.Fatalf("expected placeholder process to have no bytecode, got %d instructions", len(proc.Code))
	}
	if proc.State != vm.Terminated {
		t.Fatalf("expected placeholder process to be inert, got %v", proc.State)
	}
}

func TestRegisterSystemProcessSurvivesList(t *testing.T) {
	m := New()
	pid := m.RegisterSystemProcess("shell", 4096, "")

	// A system process's VM is parked in vm.Terminated from birth, which
	// is exactly the state List()'s autonomous-termination sweep reaps —
	// it must not be swept just because List() happens to run.
	for i := 0; i < 3; i++ {
		snaps := m.List()
		if _, ok := m.Get(pid); !ok {
			t.Fatalf("system process swept from registry after List() call %d", i+1)
		}
		found := false
		for _, s := range snaps {
			if s.PID == pid {
				found = true
				if !s.IsSystem {
					t.Fatalf("expected snapshot to report IsSystem = true")
				}
			}
		}
		if !found {
			t.Fatalf("expected system process %d in snapshot after List() call %d", pid, i+1)
		}
	}

	// only an explicit Kill removes it.
	m.Kill(pid)
	if _, ok := m.Get(pid); ok {
		t.Fatalf("expected system process removed after explicit Kill")
	}
}
