// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package phase1 is the scheduler substrate: it creates processes, runs
// exactly one of them at a time, and provides fork, join, quit and zap.
//
// Every process is a goroutine parked on its own sched channel.
// The running process holds the CPU until it blocks, quits, or traps
// into the kernel after its quantum has expired; it then hands the CPU
// to the next ready process. Kernel state is only touched by the
// process holding the CPU, so none of it is locked.
package phase1

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"
	"rsc.io/usloss/usloss"
)

var (
	ErrDeadlock   = errors.New("all processes blocked")
	ErrTableFull  = errors.New("process table full")
	ErrNoChildren = errors.New("no children")
	ErrNoProcess  = errors.New("no such process")
	ErrZapped     = errors.New("zapped while blocked")
	ErrZapSelf    = errors.New("process cannot zap itself")
	ErrPriority   = errors.New("priority out of range")
	ErrStackSize  = errors.New("stack size below minimum")
	ErrName       = errors.New("process name too long")
	ErrRunning    = errors.New("kernel already running")
)

// A StartFunc is the code a process runs.
// Its result is the status the process quits with.
type StartFunc func(k *Kernel, arg string) int

// Config holds the knobs of a Kernel.
type Config struct {
	// Logger receives lifecycle and dispatch events.
	// Nil means no logging.
	Logger hclog.Logger

	// Quantum is how long a process may hold the CPU before a trap
	// into the kernel gives it up to other ready processes.
	// Zero disables time slicing.
	Quantum time.Duration

	// Now is the time-of-day clock. Nil means time.Now.
	Now func() time.Time
}

// A Kernel is one machine: a process table, ready lists and a syscall vector.
type Kernel struct {
	cfg     Config
	log     hclog.Logger
	procs   [usloss.MAXPROC]*proc
	ready   [usloss.PRISENTINEL + 1][]*proc
	cur     *proc
	nextPid int
	boot    time.Time

	// SyscallVec maps syscall numbers to handlers.
	// Entries are installed by the layers above before user code runs.
	SyscallVec [usloss.MAXSYSCALLS]func(*usloss.Sysargs)

	done     chan runResult
	halted   chan struct{}
	finished bool
}

type runResult struct {
	status int
	err    error
}

// NewKernel returns an idle kernel.
func NewKernel(cfg Config) *Kernel {
	k := &Kernel{cfg: cfg, nextPid: 1}
	k.log = cfg.Logger
	if k.log == nil {
		k.log = hclog.NewNullLogger()
	}
	k.log = k.log.Named("phase1")
	return k
}

// Logger returns the kernel's logger.
func (k *Kernel) Logger() hclog.Logger {
	return k.log
}

func (k *Kernel) now() time.Time {
	if k.cfg.Now != nil {
		return k.cfg.Now()
	}
	return time.Now()
}

// Run starts the first process in kernel mode and waits for the machine
// to stop. It returns the status passed to Halt, or zero when every
// process has quit. If live processes remain but none can run,
// Run returns ErrDeadlock.
func (k *Kernel) Run(name string, start StartFunc, arg string, prio int) (int, error) {
	if k.done != nil {
		return 0, ErrRunning
	}
	k.done = make(chan runResult, 1)
	k.halted = make(chan struct{})
	k.boot = k.now()

	p, err := k.newProc(nil, name, start, arg, usloss.MINSTACK, prio)
	if err != nil {
		return 0, err
	}
	k.log.Debug("boot", "name", name, "pid", p.pid)
	k.setReady(p)
	k.next()

	r := <-k.done
	return r.status, r.err
}

// Halt stops the machine. Run returns status.
// Halt does not return.
func (k *Kernel) Halt(status int) {
	k.log.Info("halt", "status", status)
	k.finish(status, nil)
	runtime.Goexit()
}

// Fatal stops the machine because of a kernel error. Run returns err.
// Fatal does not return.
func (k *Kernel) Fatal(err error) {
	k.log.Error("fatal", "error", err)
	k.finish(1, err)
	runtime.Goexit()
}

func (k *Kernel) finish(status int, err error) {
	if k.finished {
		return
	}
	k.finished = true
	k.done <- runResult{status, err}
	close(k.halted)
}

// requireKernel halts the machine if the current process is in user mode.
func (k *Kernel) requireKernel(op string) {
	if p := k.cur; !p.psr.Kernel() {
		k.Fatal(fmt.Errorf("%s: called while in user mode, by process %d", op, p.pid))
	}
}

// PSR returns the current process's status word.
func (k *Kernel) PSR() usloss.PSR {
	return k.cur.psr
}

// SetPSR replaces the current process's status word.
// Only kernel code may change it.
func (k *Kernel) SetPSR(psr usloss.PSR) {
	k.requireKernel("SetPSR")
	k.cur.psr = psr
}

// InKernelMode reports whether the current process is in kernel mode.
func (k *Kernel) InKernelMode() bool {
	return k.cur.psr.Kernel()
}

// Clock returns the time of day.
func (k *Kernel) Clock() time.Time {
	return k.now()
}

// Uptime returns the time since Run.
func (k *Kernel) Uptime() time.Duration {
	return k.now().Sub(k.boot)
}

// ReadTime returns the CPU time used by the current process.
func (k *Kernel) ReadTime() time.Duration {
	p := k.cur
	return p.cpu + k.now().Sub(p.since)
}
