// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package libuser is the user-mode side of the syscalls: each function
// packs its arguments into a usloss.Sysargs, traps into the kernel and
// unpacks the results.
package libuser

import (
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/usloss"
)

func trap(k *phase1.Kernel, n int, args *usloss.Sysargs) {
	args.Number = n
	k.Syscall(args)
}

func outInt(v any) int {
	n, _ := usloss.Int(v)
	return n
}

// Spawn starts a child process running f(arg) and returns its pid.
func Spawn(k *phase1.Kernel, name string, f phase1.StartFunc, arg string, stackSize, priority int) (int, error) {
	args := usloss.Sysargs{Arg1: f, Arg2: arg, Arg3: stackSize, Arg4: priority, Arg5: name}
	if f == nil {
		args.Arg1 = nil
	}
	trap(k, usloss.SysSpawn, &args)
	if outInt(args.Arg4) == -1 {
		return -1, usloss.EINVAL
	}
	pid := outInt(args.Arg1)
	if pid < 0 {
		return -1, usloss.EAGAIN
	}
	return pid, nil
}

// Wait blocks until a child terminates and returns its pid and status.
func Wait(k *phase1.Kernel) (pid, status int) {
	var args usloss.Sysargs
	trap(k, usloss.SysWait, &args)
	return outInt(args.Arg1), outInt(args.Arg2)
}

// Terminate ends the calling process and all of its descendants.
// It does not return.
func Terminate(k *phase1.Kernel, status int) {
	args := usloss.Sysargs{Arg1: status}
	trap(k, usloss.SysTerminate, &args)
	panic("libuser: Terminate returned")
}

// SemCreate returns a new semaphore with the given initial value.
func SemCreate(k *phase1.Kernel, value int) (int, error) {
	args := usloss.Sysargs{Arg1: value}
	trap(k, usloss.SysSemCreate, &args)
	if outInt(args.Arg4) == -1 {
		if value < 0 {
			return -1, usloss.EINVAL
		}
		return -1, usloss.EAGAIN
	}
	return outInt(args.Arg1), nil
}

// SemP takes a token from semaphore id, blocking until one is available.
func SemP(k *phase1.Kernel, id int) error {
	args := usloss.Sysargs{Arg1: id}
	trap(k, usloss.SysSemP, &args)
	if outInt(args.Arg4) == -1 {
		return usloss.EBADID
	}
	return nil
}

// SemV returns a token to semaphore id.
func SemV(k *phase1.Kernel, id int) error {
	args := usloss.Sysargs{Arg1: id}
	trap(k, usloss.SysSemV, &args)
	if outInt(args.Arg4) == -1 {
		return usloss.EBADID
	}
	return nil
}

// SemFree frees semaphore id. Processes still blocked on it are
// terminated; SemFree then reports EBLOCKED, but the semaphore is freed.
func SemFree(k *phase1.Kernel, id int) error {
	args := usloss.Sysargs{Arg1: id}
	trap(k, usloss.SysSemFree, &args)
	switch outInt(args.Arg4) {
	case -1:
		return usloss.EBADID
	case 1:
		return usloss.EBLOCKED
	}
	return nil
}

// GetPID returns the caller's pid.
func GetPID(k *phase1.Kernel) int {
	var args usloss.Sysargs
	trap(k, usloss.SysGetPID, &args)
	return outInt(args.Arg1)
}

// GetTimeOfDay returns the time of day in microseconds.
func GetTimeOfDay(k *phase1.Kernel) int {
	var args usloss.Sysargs
	trap(k, usloss.SysGetTimeOfDay, &args)
	return outInt(args.Arg1)
}

// CPUTime returns the CPU time used by the caller, in microseconds.
func CPUTime(k *phase1.Kernel) int {
	var args usloss.Sysargs
	trap(k, usloss.SysCPUTime, &args)
	return outInt(args.Arg1)
}

// Syscall traps with a raw syscall number and argument block.
func Syscall(k *phase1.Kernel, args *usloss.Sysargs) {
	k.Syscall(args)
}
