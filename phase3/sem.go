// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase3

import (
	"fmt"
	"io"

	"rsc.io/usloss/usloss"
)

type semStatus int8

const (
	semEmpty semStatus = iota
	semOccupied
)

// A semEntry is one slot of the semaphore table.
// Processes blocked in SemP wait in FIFO order, linked through
// procEntry.nextBlocked. A waiter learns how it was woken, by a SemV
// hand-off or by SemFree, from its procEntry.semWoken.
type semEntry struct {
	status semStatus
	value  int
	mutex  int // mailbox, one slot
	head   int
	tail   int
	gen    int // bumped by every SemCreate of this slot
}

func (s *System) initSemTable() {
	for i := range s.sems {
		id, err := s.mb.Create(1, 0)
		if err != nil {
			s.k.Fatal(fmt.Errorf("initSemTable: %w", err))
		}
		s.sems[i] = semEntry{mutex: id, head: -1, tail: -1}
	}
	id, err := s.mb.Create(1, 0)
	if err != nil {
		s.k.Fatal(fmt.Errorf("initSemTable: %w", err))
	}
	s.semTable = id
}

func (sem *semEntry) empty() bool {
	return sem.head == -1
}

func (s *System) enqueue(sem *semEntry, e *procEntry) {
	i := slot(e.pid)
	e.nextBlocked = -1
	if sem.head == -1 {
		sem.head = i
	} else {
		s.procs[sem.tail].nextBlocked = i
	}
	sem.tail = i
}

func (s *System) dequeue(sem *semEntry) *procEntry {
	if sem.head == -1 {
		return nil
	}
	e := &s.procs[sem.head]
	sem.head = e.nextBlocked
	if sem.head == -1 {
		sem.tail = -1
	}
	e.nextBlocked = -1
	return e
}

// unqueue removes e from sem's queue if it is there.
func (s *System) unqueue(sem *semEntry, e *procEntry) bool {
	i := slot(e.pid)
	prev := -1
	for j := sem.head; j != -1; j = s.procs[j].nextBlocked {
		if j != i {
			prev = j
			continue
		}
		if prev == -1 {
			sem.head = e.nextBlocked
		} else {
			s.procs[prev].nextBlocked = e.nextBlocked
		}
		if sem.tail == i {
			sem.tail = prev
		}
		e.nextBlocked = -1
		return true
	}
	return false
}

func (s *System) blocked(sem *semEntry) int {
	n := 0
	for j := sem.head; j != -1; j = s.procs[j].nextBlocked {
		n++
	}
	return n
}

// sem returns the live semaphore id, or nil.
func (s *System) sem(id int) *semEntry {
	if id < 0 || id >= len(s.sems) || s.sems[id].status != semOccupied {
		return nil
	}
	return &s.sems[id]
}

// semCreateReal returns the id of a new semaphore with the given value,
// or -1 if value is negative or the table is full.
func (s *System) semCreateReal(value int) int {
	if value < 0 {
		return -1
	}
	s.lock(s.semTable)
	defer s.unlock(s.semTable)
	if s.nsems >= usloss.MAXSEMS {
		return -1
	}
	for i := 0; i < len(s.sems); i++ {
		id := (s.semNext + i) % len(s.sems)
		sem := &s.sems[id]
		if sem.status != semEmpty {
			continue
		}
		sem.status = semOccupied
		sem.value = value
		sem.head, sem.tail = -1, -1
		sem.gen++
		s.semNext = (id + 1) % len(s.sems)
		s.nsems++
		s.log.Debug("semCreate", "id", id, "value", value)
		return id
	}
	return -1
}

// semPReal takes a token from semaphore id, blocking until there is one.
// It returns -1 for a bad id. A process that is zapped while blocked, or
// whose semaphore is freed under it, terminates instead of returning.
func (s *System) semPReal(id int) int {
	sem := s.sem(id)
	if sem == nil {
		return -1
	}
	s.lock(sem.mutex)
	if sem.status != semOccupied {
		s.unlock(sem.mutex)
		return -1
	}
	if sem.value > 0 {
		sem.value--
		s.unlock(sem.mutex)
		return 0
	}

	e := s.current()
	e.semID = id
	e.semGen = sem.gen
	e.semWoken = wakeNone
	s.enqueue(sem, e)
	s.unlock(sem.mutex)

	for e.semWoken == wakeNone {
		if _, err := s.mb.Receive(e.wake); err != nil {
			s.log.Debug("semP: receive", "pid", e.pid, "error", err)
			s.leaveSem(e)
			s.resume()
		}
	}
	woken := e.semWoken
	if woken == wakeFreed {
		s.log.Debug("semP: semaphore freed", "pid", e.pid, "id", id)
		e.semID, e.semWoken = -1, wakeNone
		s.terminateReal(usloss.StatusZapped)
	}
	if s.k.IsZapped() {
		s.leaveSem(e)
		s.terminateReal(usloss.StatusZapped)
	}
	e.semID, e.semWoken = -1, wakeNone
	return 0
}

// leaveSem undoes a cancelled process's wait on its semaphore:
// still queued, it leaves the queue; already handed a token,
// it passes the token on.
func (s *System) leaveSem(e *procEntry) {
	if e.semID < 0 {
		return
	}
	sem := &s.sems[e.semID]
	s.lock(sem.mutex)
	if sem.status == semOccupied && sem.gen == e.semGen {
		switch e.semWoken {
		case wakeNone:
			s.unqueue(sem, e)
		case wakeHandoff:
			s.release(sem)
		}
	}
	s.unlock(sem.mutex)
	e.semID, e.semWoken = -1, wakeNone
}

// semVReal returns a token to semaphore id, or -1 for a bad id.
func (s *System) semVReal(id int) int {
	sem := s.sem(id)
	if sem == nil {
		return -1
	}
	s.lock(sem.mutex)
	if sem.status != semOccupied {
		s.unlock(sem.mutex)
		return -1
	}
	s.release(sem)
	s.unlock(sem.mutex)
	return 0
}

// release hands a token to the longest waiting process,
// or adds it to the value if nobody waits. Caller holds sem.mutex.
func (s *System) release(sem *semEntry) {
	e := s.dequeue(sem)
	if e == nil {
		sem.value++
		return
	}
	e.semWoken = wakeHandoff
	if err := s.mb.CondSend(e.wake, nil); err != nil {
		s.log.Warn("semV: wake", "pid", e.pid, "error", err)
	}
}

// semFreeReal frees semaphore id. It returns -1 for a bad id, 1 if
// processes were blocked on it, and 0 otherwise. Blocked processes are
// woken and terminate.
func (s *System) semFreeReal(id int) int {
	sem := s.sem(id)
	if sem == nil {
		return -1
	}
	s.lock(sem.mutex)
	if sem.status != semOccupied {
		s.unlock(sem.mutex)
		return -1
	}
	rc := 0
	if !sem.empty() {
		rc = 1
		s.log.Warn("semFree: processes blocked", "id", id, "count", s.blocked(sem))
	}
	for e := s.dequeue(sem); e != nil; e = s.dequeue(sem) {
		e.semWoken = wakeFreed
		if err := s.mb.CondSend(e.wake, nil); err != nil {
			s.log.Warn("semFree: wake", "pid", e.pid, "error", err)
		}
	}
	sem.status = semEmpty
	sem.value = 0
	s.unlock(sem.mutex)

	s.lock(s.semTable)
	s.nsems--
	s.unlock(s.semTable)
	s.log.Debug("semFree", "id", id)
	return rc
}

// Sems returns the number of live semaphores.
func (s *System) Sems() int {
	return s.nsems
}

// DumpSems writes one line per live semaphore.
func (s *System) DumpSems(w io.Writer) {
	fmt.Fprintf(w, "%-5s %-6s %s\n", "SEM", "VALUE", "BLOCKED")
	for id := range s.sems {
		sem := &s.sems[id]
		if sem.status != semOccupied {
			continue
		}
		fmt.Fprintf(w, "%-5d %-6d %d\n", id, sem.value, s.blocked(sem))
	}
}
