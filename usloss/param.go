// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usloss holds the machine-level definitions shared by the kernel
// phases: table sizes, priorities, the processor status word, syscall
// numbers and the argument block passed through a syscall trap.
package usloss

/*
 * tunable variables
 */
const (
	MAXPROC     = 50        /* max number of processes */
	MAXSEMS     = 200       /* max number of semaphores */
	MAXMBOX     = 2000      /* max number of mailboxes */
	MAXSLOTS    = 2500      /* max number of queued mailbox messages */
	MAXMESSAGE  = 150       /* largest mailbox message */
	MAXSYSCALLS = 50        /* size of the syscall vector */
	MAXNAME     = 50        /* process name buffer, including terminator */
	MAXARG      = 100       /* spawn argument buffer */
	MINSTACK    = 80 * 1024 /* smallest stack a process may ask for */
)

/*
 * priorities
 * 1 is the highest; PRISENTINEL is reserved for the idle process
 */
const (
	PRIHIGH     = 1
	PRILOW      = 6
	PRISENTINEL = 7
)

/*
 * termination statuses chosen by the kernel, not the process
 */
const (
	StatusBadSyscall = -1 /* unknown syscall number */
	StatusZapped     = -3 /* cancelled while in the kernel */
)
