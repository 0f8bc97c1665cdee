// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase3

import (
	"rsc.io/usloss/libuser"
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/usloss"
)

// spawnReal creates a child of the current process that will run
// entry(arg) in user mode, and returns its pid, or -1 if the process
// table is full. The child is forked onto launch, which waits on the
// child's private mailbox until the entry is filled in here.
func (s *System) spawnReal(name string, entry phase1.StartFunc, arg string, stackSize, priority int) int {
	s.checkKernelMode("spawnReal")
	s.log.Debug("spawnReal", "name", name, "prio", priority)

	pid, err := s.k.Fork(name, s.launch, "", stackSize, priority)
	if err != nil {
		s.log.Debug("spawnReal: fork failed", "name", name, "error", err)
		return -1
	}

	parent := s.current()
	child := &s.procs[slot(pid)]
	if child.status != procEmpty {
		s.log.Warn("spawnReal: slot still in use", "slot", slot(pid), "pid", child.pid)
	}
	child.reset(pid, parent.pid, name)
	child.status = procWaiting // until launch is signalled
	if len(arg) > usloss.MAXARG {
		arg = arg[:usloss.MAXARG]
	}
	child.entry = entry
	child.arg = arg
	s.addChild(parent, child)

	if err := s.mb.CondSend(child.wake, nil); err != nil {
		s.log.Warn("spawnReal: launch signal lost", "pid", pid, "error", err)
	}
	return pid
}

// launch is where every spawned process starts, in kernel mode.
// A process zapped before it gets here never runs its entry function.
// When the entry function returns, its result is the termination status,
// not a fixed code; entry functions with nothing to report return 0.
func (s *System) launch(k *phase1.Kernel, _ string) int {
	e := s.current()
	e.status = procWaiting
	_, err := s.mb.Receive(e.wake)
	e.status = procOccupied
	if err != nil {
		s.log.Debug("launch: receive", "pid", e.pid, "error", err)
	}
	s.resume()

	entry, arg := e.entry, e.arg
	s.log.Debug("launch", "pid", e.pid, "name", e.name)
	s.setUserMode()
	status := entry(k, arg)
	libuser.Terminate(k, status)
	return status
}

// waitReal returns the pid and status of a terminated child,
// blocking until there is one.
func (s *System) waitReal() (pid, status int) {
	e := s.current()
	for len(e.results) == 0 {
		e.status = procWaiting
		_, err := s.mb.Receive(e.wake)
		e.status = procOccupied
		if err != nil {
			s.log.Debug("waitReal: receive", "pid", e.pid, "error", err)
		}
		s.resume()
	}
	r := e.results[0]
	e.results = e.results[1:]

	// The child has already quit; collect it so its slot can be reused.
	if _, _, err := s.k.Join(); err != nil {
		s.log.Warn("waitReal: join", "pid", e.pid, "error", err)
	}
	return r.pid, r.status
}

// terminateReal ends the current process and all of its descendants.
// Each child is zapped in turn and has run its own terminateReal by the
// time Zap returns. The status goes to the parent's result queue.
// If the current process is the supervisor, the machine halts.
// terminateReal does not return.
func (s *System) terminateReal(status int) {
	s.checkKernelMode("terminateReal")
	e := s.current()
	s.log.Debug("terminateReal", "pid", e.pid, "status", status, "kids", e.numKids)

	for e.firstChild != -1 {
		c := &s.procs[e.firstChild]
		pid := c.pid
		if err := s.k.Zap(pid); err != nil {
			s.log.Warn("terminateReal: zap", "pid", pid, "error", err)
		}
		if e.firstChild == slot(pid) && c.pid == pid {
			// Zap came back with the child still linked; drop it by hand.
			s.removeChild(e, c)
			s.drain(c.wake)
			c.clear()
		}
	}

	parent := s.proc(e.ppid)
	if parent != nil {
		s.removeChild(parent, e)
	}
	if e.pid == s.supervisor {
		s.log.Info("supervisor terminated", "pid", e.pid, "status", status)
		e.clear()
		s.k.Halt(status)
	}

	if parent != nil {
		parent.results = append(parent.results, childResult{e.pid, status})
		if parent.status == procWaiting {
			parent.status = procOccupied
			if err := s.mb.CondSend(parent.wake, nil); err != nil {
				s.log.Warn("terminateReal: wake parent", "ppid", parent.pid, "error", err)
			}
		}
	}

	// Drop a wakeup nobody will consume.
	s.drain(e.wake)
	e.clear()
	s.k.Quit(status)
}
