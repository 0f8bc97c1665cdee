// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase1

import (
	"fmt"
	"io"
	"slices"
	"time"

	"rsc.io/usloss/usloss"
)

type procState int8

const (
	procReady procState = iota + 1
	procRunning
	procBlocked
	procJoinBlocked
	procZapBlocked
	procQuit
)

func (s procState) String() string {
	switch s {
	case procReady:
		return "READY"
	case procRunning:
		return "RUNNING"
	case procBlocked:
		return "BLOCKED"
	case procJoinBlocked:
		return "JOIN_BLOCK"
	case procZapBlocked:
		return "ZAP_BLOCK"
	case procQuit:
		return "QUIT"
	}
	return fmt.Sprintf("procState(%d)", int8(s))
}

type proc struct {
	pid       int
	name      string
	prio      int
	stackSize int
	state     procState
	reason    int // BlockMe reason
	start     StartFunc
	arg       string
	status    int // quit status
	psr       usloss.PSR
	sched     chan bool

	parent   *proc
	kids     []*proc // live children, in fork order
	quitKids []*proc // quit children not yet joined, in quit order

	zapped      bool
	interrupted bool    // woken out of BlockMe or Join by a zap
	zappers     []*proc // processes blocked in Zap on this one

	cpu   time.Duration // CPU time before the current slice
	since time.Time     // start of the current slice
}

func slot(pid int) int {
	return pid % usloss.MAXPROC
}

func (k *Kernel) lookup(pid int) *proc {
	if pid <= 0 {
		return nil
	}
	if p := k.procs[slot(pid)]; p != nil && p.pid == pid {
		return p
	}
	return nil
}

func (k *Kernel) newProc(parent *proc, name string, start StartFunc, arg string, stackSize, prio int) (*proc, error) {
	if len(name) >= usloss.MAXNAME {
		return nil, ErrName
	}
	if prio < usloss.PRIHIGH || prio > usloss.PRISENTINEL {
		return nil, ErrPriority
	}
	if stackSize < usloss.MINSTACK {
		return nil, ErrStackSize
	}

	pid := 0
	for i := 0; i < usloss.MAXPROC; i++ {
		try := k.nextPid
		k.nextPid++
		if k.procs[slot(try)] == nil {
			pid = try
			break
		}
	}
	if pid == 0 {
		return nil, ErrTableFull
	}

	p := &proc{
		pid:       pid,
		name:      name,
		prio:      prio,
		stackSize: stackSize,
		start:     start,
		arg:       arg,
		psr:       usloss.PSRKernel,
		parent:    parent,
		sched:     make(chan bool, 1),
	}
	k.procs[slot(pid)] = p
	if parent != nil {
		parent.kids = append(parent.kids, p)
	}
	go k.launch(p)
	return p, nil
}

// launch is the body of every process goroutine.
func (k *Kernel) launch(p *proc) {
	k.park(p)
	k.Quit(p.start(k, p.arg))
}

// Fork creates a child of the current process running f(arg) and makes it
// ready. The child does not run until the current process gives up the CPU.
// Fork returns the child's pid.
func (k *Kernel) Fork(name string, f StartFunc, arg string, stackSize, prio int) (int, error) {
	k.requireKernel("fork")
	if f == nil {
		return -1, fmt.Errorf("fork %s: nil start function", name)
	}
	if prio == usloss.PRISENTINEL {
		return -1, fmt.Errorf("fork %s: %w", name, ErrPriority)
	}
	p, err := k.newProc(k.cur, name, f, arg, stackSize, prio)
	if err != nil {
		return -1, fmt.Errorf("fork %s: %w", name, err)
	}
	k.log.Debug("fork", "parent", k.cur.pid, "pid", p.pid, "name", name, "prio", prio)
	k.setReady(p)
	return p.pid, nil
}

// Join waits for a child of the current process to quit and returns its
// pid and status. Children are reaped in the order they quit.
func (k *Kernel) Join() (pid, status int, err error) {
	k.requireKernel("join")
	p := k.cur
	for {
		if len(p.quitKids) > 0 {
			c := p.quitKids[0]
			p.quitKids = slices.Delete(p.quitKids, 0, 1)
			k.procs[slot(c.pid)] = nil
			return c.pid, c.status, nil
		}
		if len(p.kids) == 0 {
			return -1, 0, ErrNoChildren
		}
		p.state = procJoinBlocked
		k.swtch()
		if p.interrupted {
			p.interrupted = false
			return -1, 0, ErrZapped
		}
	}
}

// Quit ends the current process with the given status.
// Its children must all have quit already.
// Quit does not return.
func (k *Kernel) Quit(status int) {
	k.requireKernel("quit")
	p := k.cur
	if len(p.kids) > 0 {
		k.Fatal(fmt.Errorf("quit: process %d has %d active children", p.pid, len(p.kids)))
	}
	for _, c := range p.quitKids {
		k.procs[slot(c.pid)] = nil
	}
	p.quitKids = nil
	p.status = status
	p.state = procQuit
	p.cpu = k.ReadTime()

	for _, z := range p.zappers {
		k.setReady(z)
	}
	p.zappers = nil

	if par := p.parent; par != nil {
		i := slices.Index(par.kids, p)
		par.kids = slices.Delete(par.kids, i, i+1)
		par.quitKids = append(par.quitKids, p)
		if par.state == procJoinBlocked {
			k.setReady(par)
		}
	} else {
		k.procs[slot(p.pid)] = nil
	}
	k.log.Debug("quit", "pid", p.pid, "status", status)
	k.swtch()
}

// Zap marks process pid as cancelled and waits for it to quit.
// A process blocked in BlockMe or Join is woken so it can notice;
// any other process notices the next time it checks IsZapped.
func (k *Kernel) Zap(pid int) error {
	k.requireKernel("zap")
	p := k.cur
	if pid == p.pid {
		return ErrZapSelf
	}
	t := k.lookup(pid)
	if t == nil {
		return fmt.Errorf("zap %d: %w", pid, ErrNoProcess)
	}
	if !t.zapped {
		t.zapped = true
		k.log.Debug("zap", "by", p.pid, "pid", pid, "state", t.state)
		if t.state == procBlocked || t.state == procJoinBlocked {
			t.interrupted = true
			k.setReady(t)
		}
	}
	if t.state == procQuit {
		return nil
	}
	t.zappers = append(t.zappers, p)
	p.state = procZapBlocked
	k.swtch()
	return nil
}

// IsZapped reports whether the current process has been zapped.
func (k *Kernel) IsZapped() bool {
	return k.cur.zapped
}

// GetPid returns the current process's pid.
func (k *Kernel) GetPid() int {
	return k.cur.pid
}

// BlockMe blocks the current process until UnblockProc is called on it.
// Reason is recorded for DumpProcesses and must be above 10.
// If the process is zapped while blocked, BlockMe returns ErrZapped.
func (k *Kernel) BlockMe(reason int) error {
	k.requireKernel("blockMe")
	if reason <= 10 {
		k.Fatal(fmt.Errorf("blockMe: reason %d is reserved", reason))
	}
	p := k.cur
	p.state = procBlocked
	p.reason = reason
	k.swtch()
	if p.interrupted {
		p.interrupted = false
		return ErrZapped
	}
	return nil
}

// UnblockProc makes a process blocked in BlockMe ready again.
func (k *Kernel) UnblockProc(pid int) error {
	k.requireKernel("unblockProc")
	t := k.lookup(pid)
	if t == nil {
		return fmt.Errorf("unblock %d: %w", pid, ErrNoProcess)
	}
	if t.state != procBlocked {
		return fmt.Errorf("unblock %d: process is %v", pid, t.state)
	}
	k.setReady(t)
	return nil
}

// DumpProcesses writes one line per process.
func (k *Kernel) DumpProcesses(w io.Writer) {
	fmt.Fprintf(w, "%-5s %-6s %-8s %-11s %-6s %-9s %s\n", "PID", "Parent", "Priority", "Status", "# Kids", "CPUtime", "Name")
	for _, p := range k.procs {
		if p == nil {
			continue
		}
		ppid := -1
		if p.parent != nil {
			ppid = p.parent.pid
		}
		state := p.state.String()
		if p.state == procBlocked {
			state = fmt.Sprint(p.reason)
		}
		cpu := p.cpu
		if p == k.cur {
			cpu = k.ReadTime()
		}
		fmt.Fprintf(w, "%-5d %-6d %-8d %-11s %-6d %-9d %s\n", p.pid, ppid, p.prio, state, len(p.kids), cpu.Microseconds(), p.name)
	}
}
