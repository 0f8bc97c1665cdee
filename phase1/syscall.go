// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase1

import (
	"fmt"

	"rsc.io/usloss/usloss"
)

// Syscall traps from user mode into the handler installed for args.Number.
// The handler must leave the process in user mode again.
// A trap from kernel mode, or for a number outside the vector, halts the machine.
func (k *Kernel) Syscall(args *usloss.Sysargs) {
	p := k.cur
	if p.psr.Kernel() {
		k.Fatal(fmt.Errorf("syscall %s: process %d already in kernel mode", usloss.SyscallName(args.Number), p.pid))
	}
	p.psr = p.psr.Trap()
	k.timeSlice()

	n := args.Number
	if n < 0 || n >= len(k.SyscallVec) || k.SyscallVec[n] == nil {
		k.Fatal(fmt.Errorf("syscall %d: no such syscall, process %d", n, p.pid))
	}
	if k.log.IsTrace() {
		k.log.Trace("trap", "pid", p.pid, "call", usloss.SyscallName(n))
	}
	k.SyscallVec[n](args)

	if k.cur.psr.Kernel() {
		k.Fatal(fmt.Errorf("syscall %s: returned to process %d in kernel mode", usloss.SyscallName(n), k.cur.pid))
	}
}
