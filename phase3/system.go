// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package phase3 turns the phase1 process primitives and phase2 mailboxes
// into user-level processes (Spawn, Wait, Terminate) and counting
// semaphores (SemCreate, SemP, SemV, SemFree), reached from user mode
// through the syscall vector.
//
// The process and semaphore tables have no global lock. Only one process
// runs at a time and it keeps the CPU until it blocks, so table updates
// between two blocking calls are atomic. Every blocking call is followed
// by a check for cancellation.
package phase3

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/phase2"
	"rsc.io/usloss/usloss"
)

// A System is the phase3 layer of one machine.
type System struct {
	k      *phase1.Kernel
	mb     *phase2.Mailboxes
	log    hclog.Logger
	start3 phase1.StartFunc

	procs      [usloss.MAXPROC]procEntry
	supervisor int // pid of start3

	sems     [usloss.MAXSEMS]semEntry
	nsems    int
	semNext  int // where the next SemCreate starts looking
	semTable int // mailbox guarding nsems and semNext
}

// New returns the layer for k. Start2 installs it;
// start3 is the supervisor's user-mode code.
func New(k *phase1.Kernel, mb *phase2.Mailboxes, start3 phase1.StartFunc) *System {
	return &System{
		k:      k,
		mb:     mb,
		log:    k.Logger().Named("phase3"),
		start3: start3,
	}
}

// Run boots a machine with cfg, installs the layer and runs start3(arg)
// in user mode as the supervisor. It returns the supervisor's status.
func Run(cfg phase1.Config, start3 phase1.StartFunc, arg string) (*System, int, error) {
	k := phase1.NewKernel(cfg)
	s := New(k, phase2.NewMailboxes(k), start3)
	status, err := k.Run("start2", s.Start2, arg, usloss.PRIHIGH)
	return s, status, err
}

// Start2 is the first process. It builds the tables and the syscall
// vector, spawns start3 and waits for it. The machine halts when the
// supervisor terminates, so Start2 does not return.
func (s *System) Start2(k *phase1.Kernel, arg string) int {
	s.checkKernelMode("start2")
	s.log.Debug("start2: called in kernel mode")

	s.initProcTable()
	s.initSemTable()
	s.initSyscallVec()

	self := &s.procs[slot(k.GetPid())]
	self.reset(k.GetPid(), -1, "start2")

	pid := s.spawnReal("start3", s.start3, arg, usloss.MINSTACK, 3)
	if pid < 0 {
		k.Fatal(fmt.Errorf("start2: cannot spawn start3"))
	}
	s.supervisor = pid

	pid, status := s.waitReal()
	s.log.Debug("start2: start3 done", "pid", pid, "status", status)
	return status
}

func (s *System) checkKernelMode(name string) {
	if !s.k.InKernelMode() {
		s.k.Fatal(fmt.Errorf("%s: not in kernel mode", name))
	}
}

func (s *System) setUserMode() {
	s.k.SetPSR(s.k.PSR().User())
}

// resume runs after every point where the current process may have
// been suspended. A zapped process terminates there and never gets
// back to the code that blocked.
func (s *System) resume() {
	if s.k.IsZapped() {
		s.log.Debug("zapped", "pid", s.k.GetPid())
		s.terminateReal(usloss.StatusZapped)
	}
}

// lock acquires a one-slot mailbox used as a mutex.
func (s *System) lock(mbox int) {
	if err := s.mb.Send(mbox, nil); err != nil {
		s.resume()
		s.k.Fatal(fmt.Errorf("lock mailbox %d: %w", mbox, err))
	}
}

func (s *System) unlock(mbox int) {
	if _, err := s.mb.CondReceive(mbox); err != nil {
		s.k.Fatal(fmt.Errorf("unlock mailbox %d: %w", mbox, err))
	}
}

// drain discards a wakeup left in a private mailbox, if there is one.
func (s *System) drain(mbox int) {
	if _, err := s.mb.CondReceive(mbox); err != nil && !errors.Is(err, phase2.ErrWouldBlock) {
		s.log.Warn("drain mailbox", "mbox", mbox, "error", err)
	}
}
