// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase3

import (
	"fmt"
	"io"

	"rsc.io/usloss/phase1"
	"rsc.io/usloss/usloss"
)

type procStatus int8

const (
	procEmpty procStatus = iota
	procOccupied
	procWaiting
)

func (s procStatus) String() string {
	switch s {
	case procEmpty:
		return "EMPTY"
	case procOccupied:
		return "OCCUPIED"
	case procWaiting:
		return "WAITING"
	}
	return fmt.Sprintf("procStatus(%d)", int8(s))
}

// Why a process blocked in SemP was woken.
type semWake int8

const (
	wakeNone    semWake = iota
	wakeHandoff         // a SemV passed it the token
	wakeFreed           // SemFree drained the queue
)

type childResult struct {
	pid    int
	status int
}

// A procEntry is one slot of the process table.
// Children and semaphore queues are linked through slot indices;
// -1 ends a list.
type procEntry struct {
	pid    int
	ppid   int
	status procStatus
	name   string
	wake   int // private mailbox, one slot

	entry phase1.StartFunc
	arg   string

	firstChild  int
	nextSibling int
	numKids     int
	results     []childResult // terminated children not yet waited for

	semID       int // semaphore blocked on, or -1
	semGen      int
	semWoken    semWake
	nextBlocked int
}

func slot(pid int) int {
	return pid % usloss.MAXPROC
}

func (s *System) initProcTable() {
	for i := range s.procs {
		e := &s.procs[i]
		id, err := s.mb.Create(1, 0)
		if err != nil {
			s.k.Fatal(fmt.Errorf("initProcTable: %w", err))
		}
		*e = procEntry{wake: id}
		e.clear()
	}
}

// clear empties the entry, keeping its private mailbox.
func (e *procEntry) clear() {
	*e = procEntry{
		wake:        e.wake,
		ppid:        -1,
		firstChild:  -1,
		nextSibling: -1,
		semID:       -1,
		nextBlocked: -1,
	}
}

func (e *procEntry) reset(pid, ppid int, name string) {
	e.clear()
	e.pid = pid
	e.ppid = ppid
	e.name = name
	e.status = procOccupied
}

// proc returns the live entry for pid, or nil.
func (s *System) proc(pid int) *procEntry {
	if pid <= 0 {
		return nil
	}
	e := &s.procs[slot(pid)]
	if e.status == procEmpty || e.pid != pid {
		return nil
	}
	return e
}

func (s *System) current() *procEntry {
	return &s.procs[slot(s.k.GetPid())]
}

// addChild appends child to the end of parent's child list.
func (s *System) addChild(parent, child *procEntry) {
	c := slot(child.pid)
	child.nextSibling = -1
	if parent.firstChild == -1 {
		parent.firstChild = c
	} else {
		i := parent.firstChild
		for s.procs[i].nextSibling != -1 {
			i = s.procs[i].nextSibling
		}
		s.procs[i].nextSibling = c
	}
	parent.numKids++
}

func (s *System) removeChild(parent, child *procEntry) {
	c := slot(child.pid)
	if parent.firstChild == c {
		parent.firstChild = child.nextSibling
	} else {
		i := parent.firstChild
		for i != -1 && s.procs[i].nextSibling != c {
			i = s.procs[i].nextSibling
		}
		if i == -1 {
			return
		}
		s.procs[i].nextSibling = child.nextSibling
	}
	child.nextSibling = -1
	parent.numKids--
}

// children returns the pids on e's child list, in spawn order.
func (s *System) children(e *procEntry) []int {
	var pids []int
	for i := e.firstChild; i != -1; i = s.procs[i].nextSibling {
		pids = append(pids, s.procs[i].pid)
	}
	return pids
}

// Live returns the number of occupied process table slots.
func (s *System) Live() int {
	n := 0
	for i := range s.procs {
		if s.procs[i].status != procEmpty {
			n++
		}
	}
	return n
}

// Dump writes the process table, one line per slot.
func (s *System) Dump(w io.Writer) {
	fmt.Fprintf(w, "%-5s %-5s %-6s %-9s %s\n", "SLOT", "PID", "PPID", "STATUS", "KIDS")
	for i := range s.procs {
		e := &s.procs[i]
		fmt.Fprintf(w, "%-5d %-5d %-6d %-9v %d\n", i, e.pid, e.ppid, e.status, e.numKids)
	}
}
