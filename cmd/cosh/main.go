// Command cosh is the optimuscore host shell: it compiles and runs a
// single C-subset source file, or drops into an interactive command loop
// that can launch several, exactly the way VirtualMachine/main.go drove
// the teacher's simulator from the command line — minus the GUI, since
// optimuscore's terminal is either this process's stdin/stdout or a
// remote WebSocket session.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/k0kubun/pp/v3"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"optimuscore/artifact"
	"optimuscore/compiler"
	"optimuscore/config"
	"optimuscore/journal"
	"optimuscore/procmgr"
	"optimuscore/transport"
	"optimuscore/vm"
)

func main() {
	var (
		file       = flag.String("c", "", "compile and run a single .c file, then exit")
		interctv   = flag.Bool("i", false, "drop into the interactive shell (default with no other flags)")
		serveAddr  = flag.String("serve", "", "serve the remote WebSocket shell on this address instead of running locally")
		dump       = flag.Bool("dump", false, "print bytecode instead of running it (source given by -c, or a compiled artifact given by -load)")
		save       = flag.String("save", "", "compile the file given with -c to a versioned artifact at this path, instead of running it")
		load       = flag.String("load", "", "load a previously-saved artifact instead of compiling -c from source")
		verbose    = flag.Bool("v", false, "print compiler warnings")
		configPath = flag.String("config", "", "path to a specific optimuscore.toml file (default: search upward from .)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *serveAddr != "" {
		cfg.ListenAddr = *serveAddr
		cfg.TransportEnabled = true
	}

	stdout := colorableStdout()

	switch {
	case *save != "":
		if *file == "" {
			fmt.Fprintln(os.Stderr, "usage: cosh -save <out.ocbc> -c <file.c>")
			os.Exit(2)
		}
		runSave(*file, *save)
	case *dump:
		if *file == "" && *load == "" {
			fmt.Fprintln(os.Stderr, "usage: cosh -dump (-c <file.c> | -load <file.ocbc>)")
			os.Exit(2)
		}
		runDump(*file, *load, stdout)
	case *serveAddr != "":
		runServe(cfg)
	case *file != "" || *load != "":
		runFile(*file, *load, cfg, *verbose)
	case *interctv:
		runInteractive(cfg)
	default:
		runInteractive(cfg)
	}
}

// loadConfig honors an explicit -config path, otherwise searches upward
// from the working directory the way chazu-maggie's manifest.FindAndLoad
// locates maggie.toml, falling back to Default() when nothing is found.
func loadConfig(explicitPath string) (config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, err
	}
	return config.FindAndLoad(wd)
}

func colorableStdout() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout()
	}
	return os.Stdout
}

// compileOrLoad produces a compiler.Result either by compiling sourcePath
// from scratch or, when artifactPath is set, by decoding a previously
// -saved artifact — the same (bytecode, data, warnings) triple either way,
// so every caller downstream of this point is agnostic to which happened.
func compileOrLoad(sourcePath, artifactPath string) (compiler.Result, error) {
	if artifactPath != "" {
		raw, err := os.ReadFile(artifactPath)
		if err != nil {
			return compiler.Result{}, err
		}
		exe, err := artifact.Decode(raw)
		if err != nil {
			return compiler.Result{}, err
		}
		return compiler.Result{Bytecode: exe.Bytecode, Data: exe.Data, Warnings: exe.Warnings}, nil
	}

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return compiler.Result{}, err
	}
	return compiler.Compile(string(src))
}

// runSave compiles path and writes it as a versioned artifact to outPath
// instead of running it, the inverse of -load.
func runSave(path, outPath string) {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	result, err := compiler.Compile(string(src))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	exe := artifact.New(path, result.Bytecode, result.Data, result.Warnings)
	wire, err := artifact.Encode(exe)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, wire, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDump compiles path (or decodes loadPath) and pretty-prints its
// bytecode, data segment, and any warnings, the way debug/objdump.go
// pretty-printed an assembled object file.
func runDump(path, loadPath string, out io.Writer) {
	result, err := compileOrLoad(path, loadPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	printer := pp.New()
	printer.SetOutput(out)
	printer.Println(result)
}

// runFile compiles (or loads a saved artifact for) and runs a single
// program to completion, stepping it against stdin for any SCANF calls.
func runFile(path, loadPath string, cfg config.Config, verbose bool) {
	result, err := compileOrLoad(path, loadPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if verbose {
		for _, w := range result.Warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
	}

	name := path
	if loadPath != "" {
		name = loadPath
	}
	mgr := procmgr.New()
	pid := mgr.CreateProcess(name, result.Bytecode, result.Data, func(s string) {
		fmt.Print(s)
	})
	proc, _ := mgr.Get(pid)

	scanner := bufio.NewScanner(os.Stdin)
	pump(proc, cfg.ChunkCycles)
	for proc.State == vm.WaitingInput {
		if !scanner.Scan() {
			break
		}
		proc.ResolveInput(scanner.Text())
		pump(proc, cfg.ChunkCycles)
	}
}

// runInteractive drives a tiny shell: "./name" launches a program from
// disk under a fresh PID and makes it the foreground process; while the
// foreground process is WaitingInput, subsequent lines are routed to
// resolve_input instead of being parsed as commands — spec.md §6's shell
// contract.
func runInteractive(cfg config.Config) {
	mgr := procmgr.New()
	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: journal disabled:", err)
		jrnl = nil
	} else {
		defer jrnl.Close()
	}

	var foreground int
	var haveForeground bool

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("$ ")
	for scanner.Scan() {
		line := scanner.Text()

		if haveForeground {
			if proc, ok := mgr.Get(foreground); ok && proc.State == vm.WaitingInput {
				proc.ResolveInput(line)
				pump(proc, cfg.ChunkCycles)
				if proc.State == vm.Terminated {
					haveForeground = false
					if jrnl != nil {
						jrnl.Record(foreground, "", journal.EventAutoDeath, "")
					}
				}
				fmt.Print("$ ")
				continue
			}
			haveForeground = false
		}

		switch {
		case line == "ps":
			for _, snap := range mgr.List() {
				fmt.Printf("%d\t%s\t%s\n", snap.PID, snap.Name, snap.State)
			}
		case line == "help":
			fmt.Println("./name        compile and run name as the foreground process")
			fmt.Println("ps            list live processes")
			fmt.Println("kill <pid>    terminate a process by PID")
			fmt.Println("exit          leave the shell")
		case strings.HasPrefix(line, "kill "):
			pidStr := strings.TrimSpace(strings.TrimPrefix(line, "kill "))
			pid, err := strconv.Atoi(pidStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "kill: invalid pid %q\n", pidStr)
				break
			}
			mgr.Kill(pid)
			if jrnl != nil {
				jrnl.Record(pid, "", journal.EventKill, "user requested")
			}
			if pid == foreground {
				haveForeground = false
			}
		case line == "exit":
			return
		case strings.HasPrefix(line, "./"):
			name := strings.TrimPrefix(line, "./")
			src, err := os.ReadFile(name)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				break
			}
			result, err := compiler.Compile(string(src))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				break
			}
			pid := mgr.CreateProcess(name, result.Bytecode, result.Data, func(s string) { fmt.Print(s) })
			if jrnl != nil {
				jrnl.Record(pid, name, journal.EventSpawn, "")
			}
			proc, _ := mgr.Get(pid)
			pump(proc, cfg.ChunkCycles)
			if proc.State != vm.Terminated {
				foreground = pid
				haveForeground = true
			} else if jrnl != nil {
				jrnl.Record(pid, name, journal.EventAutoDeath, "")
			}
		case line == "":
			// blank line; fall through to the next prompt.
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", line)
		}
		fmt.Print("$ ")
	}
}

// pump steps proc until it yields (WaitingInput or Terminated).
func pump(proc *vm.Process, chunk int) {
	for proc.Step(chunk) {
	}
}

// pumpCooperative behaves like pump but yields the scheduler between
// chunks, so a process that never blocks on I/O still shares the
// goroutine scheduler fairly with every other session's stepper.
func pumpCooperative(proc *vm.Process, chunk int) {
	for proc.Step(chunk) {
		runtime.Gosched()
	}
}

// runServe starts the remote WebSocket shell: each connected session gets
// its own foreground PID slot, routed exactly like the interactive
// stdin/stdout shell above but over transport.Session.Write instead of
// fmt.Print. Unlike the local shell, a remote process can't be allowed to
// tie up the one goroutine draining srv.Lines — a long-running program
// launched by one session would then block every other session's input.
// Each live remote process therefore gets its own stepper goroutine,
// woken by a per-session input channel when its owning session sends a
// line while it's WaitingInput.
func runServe(cfg config.Config) {
	if !cfg.TransportEnabled {
		fmt.Fprintln(os.Stderr, "transport-enabled is false in config; refusing to serve")
		os.Exit(1)
	}

	mgr := procmgr.New()
	srv := transport.NewServer()
	router := newSessionRouter()

	// Each connected session gets a RegisterSystemProcess bookkeeping
	// entry (spec.md §4.6's register_system_process) — no VM work of its
	// own, but it makes the session visible in "ps" and gives KillByWindow
	// a PID to clean up alongside anything the session owns once the
	// socket closes.
	srv.Closed = func(sessionID string) { router.sessionClosed(mgr, sessionID) }

	go func() {
		for line := range srv.Lines {
			sess, ok := srv.Get(line.SessionID)
			if !ok {
				continue
			}
			router.ensureSessionRegistered(mgr, sess.ID)
			handleRemoteLine(mgr, sess, router, line.Text, cfg.ChunkCycles)
		}
	}()

	if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// foregroundProc is one session's currently-attached remote process: the
// PID for "kill"/"ps" bookkeeping, and the channel its stepper goroutine
// blocks on while WaitingInput.
type foregroundProc struct {
	pid   int
	input chan string
}

// sessionRouter maps a transport session to the remote process it's
// currently attached to and to its own system-process bookkeeping PID,
// guarded for concurrent access from the line reader goroutine, every
// process's own stepper goroutine, and transport.Server's Closed callback.
type sessionRouter struct {
	mu       sync.Mutex
	table    map[string]foregroundProc
	sessions map[string]int // sessionID -> its RegisterSystemProcess PID
}

func newSessionRouter() *sessionRouter {
	return &sessionRouter{
		table:    make(map[string]foregroundProc),
		sessions: make(map[string]int),
	}
}

func (r *sessionRouter) get(sessionID string) (foregroundProc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.table[sessionID]
	return f, ok
}

func (r *sessionRouter) set(sessionID string, f foregroundProc) {
	r.mu.Lock()
	r.table[sessionID] = f
	r.mu.Unlock()
}

func (r *sessionRouter) clear(sessionID string) {
	r.mu.Lock()
	delete(r.table, sessionID)
	r.mu.Unlock()
}

// ensureSessionRegistered registers sessionID's bookkeeping system
// process on its first line, and is a no-op on every line after that.
func (r *sessionRouter) ensureSessionRegistered(mgr *procmgr.Manager, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pid, ok := r.sessions[sessionID]; ok {
		return pid
	}
	pid := mgr.RegisterSystemProcess("remote-shell", 0, sessionID)
	r.sessions[sessionID] = pid
	return pid
}

// sessionClosed tears down everything owned by sessionID once its socket
// disconnects: its foreground-process routing entry and its
// RegisterSystemProcess bookkeeping PID, via the same KillByWindow a
// window-owned utility process would use.
func (r *sessionRouter) sessionClosed(mgr *procmgr.Manager, sessionID string) {
	r.mu.Lock()
	delete(r.table, sessionID)
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	mgr.KillByWindow(sessionID)
}

func handleRemoteLine(mgr *procmgr.Manager, sess *transport.Session, router *sessionRouter, line string, chunk int) {
	if f, ok := router.get(sess.ID); ok {
		f.input <- line
		return
	}

	if !strings.HasPrefix(line, "./") {
		sess.Write(fmt.Sprintf("unknown command: %s\n", line))
		return
	}
	name := strings.TrimPrefix(line, "./")
	src, err := os.ReadFile(name)
	if err != nil {
		sess.Write(err.Error() + "\n")
		return
	}
	result, err := compiler.Compile(string(src))
	if err != nil {
		sess.Write(err.Error() + "\n")
		return
	}
	pid := mgr.CreateProcess(name, result.Bytecode, result.Data, func(s string) { sess.Write(s) })
	proc, _ := mgr.Get(pid)
	input := make(chan string)
	router.set(sess.ID, foregroundProc{pid: pid, input: input})
	go stepRemoteProcess(proc, router, sess.ID, input, chunk)
}

// stepRemoteProcess owns pid's Step loop for as long as it's alive,
// yielding the scheduler between chunks (the cooperative "next tick"
// pattern, translated from the browser's setTimeout(0)) so a CPU-bound
// remote program can't starve other sessions' stepper goroutines, and
// blocking on input only when the process is actually WaitingInput.
func stepRemoteProcess(proc *vm.Process, router *sessionRouter, sessionID string, input chan string, chunk int) {
	pumpCooperative(proc, chunk)
	for proc.State == vm.WaitingInput {
		line, ok := <-input
		if !ok {
			return
		}
		proc.ResolveInput(line)
		pumpCooperative(proc, chunk)
	}
	router.clear(sessionID)
}
