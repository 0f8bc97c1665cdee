// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package phase2 provides mailboxes: bounded message queues with blocking
// and conditional send and receive, built on the phase1 process blocking
// primitives. A mailbox with zero slots is a pure rendezvous: a send
// completes only when it is handed directly to a receiver.
package phase2

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/usloss"
)

var (
	ErrBadID      = errors.New("no such mailbox")
	ErrTooBig     = errors.New("message too large")
	ErrTableFull  = errors.New("mailbox table full")
	ErrNoSlots    = errors.New("system slot pool exhausted")
	ErrWouldBlock = errors.New("operation would block")
	ErrZapped     = errors.New("zapped while blocked")
	ErrReleased   = errors.New("mailbox released while blocked")
)

// BlockMe reasons.
const (
	blockSend    = 11
	blockReceive = 12
)

type mailbox struct {
	id        int
	slots     int
	slotSize  int
	msgs      [][]byte
	senders   []*waiter
	receivers []*waiter
}

// A waiter is a process blocked on a mailbox.
// Its partner fills in msg and sets done before unblocking it.
type waiter struct {
	pid      int
	msg      []byte
	done     bool
	released bool
}

// Mailboxes is the mailbox table of one kernel.
type Mailboxes struct {
	k     *phase1.Kernel
	log   hclog.Logger
	boxes [usloss.MAXMBOX]*mailbox
	next  int
	inUse int // queued messages across all mailboxes
}

// NewMailboxes returns an empty mailbox table for k.
func NewMailboxes(k *phase1.Kernel) *Mailboxes {
	return &Mailboxes{k: k, log: k.Logger().Named("phase2")}
}

func (m *Mailboxes) lookup(id int) (*mailbox, error) {
	if id < 0 || id >= len(m.boxes) || m.boxes[id] == nil {
		return nil, fmt.Errorf("mailbox %d: %w", id, ErrBadID)
	}
	return m.boxes[id], nil
}

// Create returns a new mailbox with the given number of slots,
// each holding messages of up to slotSize bytes.
func (m *Mailboxes) Create(slots, slotSize int) (int, error) {
	if slots < 0 || slotSize < 0 || slotSize > usloss.MAXMESSAGE {
		return -1, fmt.Errorf("create mailbox (%d, %d): invalid size", slots, slotSize)
	}
	for i := 0; i < len(m.boxes); i++ {
		id := (m.next + i) % len(m.boxes)
		if m.boxes[id] == nil {
			m.boxes[id] = &mailbox{id: id, slots: slots, slotSize: slotSize}
			m.next = id + 1
			return id, nil
		}
	}
	return -1, ErrTableFull
}

// Release frees mailbox id. Processes blocked on it are woken
// and their Send or Receive returns ErrReleased.
func (m *Mailboxes) Release(id int) error {
	mb, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.boxes[id] = nil
	m.inUse -= len(mb.msgs)
	for _, w := range append(mb.senders, mb.receivers...) {
		w.released = true
		m.k.UnblockProc(w.pid)
	}
	return nil
}

// Send delivers msg to mailbox id, blocking while the mailbox is full.
func (m *Mailboxes) Send(id int, msg []byte) error {
	return m.send(id, msg, true)
}

// CondSend is Send but returns ErrWouldBlock instead of blocking.
func (m *Mailboxes) CondSend(id int, msg []byte) error {
	return m.send(id, msg, false)
}

func (m *Mailboxes) send(id int, msg []byte, block bool) error {
	mb, err := m.lookup(id)
	if err != nil {
		return err
	}
	if len(msg) > mb.slotSize {
		return fmt.Errorf("mailbox %d: %w", id, ErrTooBig)
	}
	msg = clone(msg)

	if len(mb.receivers) > 0 {
		r := mb.receivers[0]
		mb.receivers = mb.receivers[1:]
		r.msg = msg
		r.done = true
		m.k.UnblockProc(r.pid)
		return nil
	}
	if len(mb.msgs) < mb.slots {
		if m.inUse >= usloss.MAXSLOTS {
			return ErrNoSlots
		}
		mb.msgs = append(mb.msgs, msg)
		m.inUse++
		return nil
	}
	if !block {
		return ErrWouldBlock
	}

	w := &waiter{pid: m.k.GetPid(), msg: msg}
	mb.senders = append(mb.senders, w)
	err = m.k.BlockMe(blockSend)
	switch {
	case w.done:
		return nil
	case w.released:
		return fmt.Errorf("mailbox %d: %w", id, ErrReleased)
	case err != nil:
		mb.senders = remove(mb.senders, w)
		return fmt.Errorf("mailbox %d: %w", id, ErrZapped)
	}
	return nil
}

// Receive returns the next message from mailbox id,
// blocking while the mailbox is empty.
func (m *Mailboxes) Receive(id int) ([]byte, error) {
	return m.receive(id, true)
}

// CondReceive is Receive but returns ErrWouldBlock instead of blocking.
func (m *Mailboxes) CondReceive(id int) ([]byte, error) {
	return m.receive(id, false)
}

func (m *Mailboxes) receive(id int, block bool) ([]byte, error) {
	mb, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	if len(mb.msgs) > 0 {
		msg := mb.msgs[0]
		mb.msgs = mb.msgs[1:]
		m.inUse--
		// A freed slot goes to the first blocked sender.
		if len(mb.senders) > 0 {
			s := mb.senders[0]
			mb.senders = mb.senders[1:]
			mb.msgs = append(mb.msgs, s.msg)
			m.inUse++
			s.done = true
			m.k.UnblockProc(s.pid)
		}
		return msg, nil
	}
	if len(mb.senders) > 0 {
		s := mb.senders[0]
		mb.senders = mb.senders[1:]
		s.done = true
		m.k.UnblockProc(s.pid)
		return s.msg, nil
	}
	if !block {
		return nil, ErrWouldBlock
	}

	w := &waiter{pid: m.k.GetPid()}
	mb.receivers = append(mb.receivers, w)
	err = m.k.BlockMe(blockReceive)
	switch {
	case w.done:
		return w.msg, nil
	case w.released:
		return nil, fmt.Errorf("mailbox %d: %w", id, ErrReleased)
	case err != nil:
		mb.receivers = remove(mb.receivers, w)
		return nil, fmt.Errorf("mailbox %d: %w", id, ErrZapped)
	}
	return w.msg, nil
}

// Waiting returns the number of processes blocked on mailbox id.
func (m *Mailboxes) Waiting(id int) int {
	mb, err := m.lookup(id)
	if err != nil {
		return 0
	}
	return len(mb.senders) + len(mb.receivers)
}

// Queued returns the number of messages sitting in mailbox id.
func (m *Mailboxes) Queued(id int) int {
	mb, err := m.lookup(id)
	if err != nil {
		return 0
	}
	return len(mb.msgs)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func remove(list []*waiter, w *waiter) []*waiter {
	for i, x := range list {
		if x == w {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
