// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase3

import (
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/usloss"
)

func (s *System) initSyscallVec() {
	vec := &s.k.SyscallVec
	for i := range vec {
		vec[i] = s.handler(s.nullsys)
	}
	vec[usloss.SysSpawn] = s.handler(s.spawn)
	vec[usloss.SysWait] = s.handler(s.wait)
	vec[usloss.SysTerminate] = s.handler(s.terminate)
	vec[usloss.SysGetTimeOfDay] = s.handler(s.getTimeOfDay)
	vec[usloss.SysCPUTime] = s.handler(s.cpuTime)
	vec[usloss.SysGetPID] = s.handler(s.getPID)
	vec[usloss.SysSemCreate] = s.handler(s.semCreate)
	vec[usloss.SysSemP] = s.handler(s.semP)
	vec[usloss.SysSemV] = s.handler(s.semV)
	vec[usloss.SysSemFree] = s.handler(s.semFree)
}

// handler wraps a syscall implementation with the checks every syscall
// makes: a zapped caller terminates instead of running the call or
// returning to user code, and the caller is back in user mode on return.
func (s *System) handler(h func(*usloss.Sysargs)) func(*usloss.Sysargs) {
	return func(args *usloss.Sysargs) {
		s.resume()
		h(args)
		s.resume()
		s.setUserMode()
	}
}

func (s *System) nullsys(args *usloss.Sysargs) {
	s.log.Warn("nullsys: invalid syscall, terminating", "pid", s.k.GetPid(), "call", args.Number)
	s.terminateReal(usloss.StatusBadSyscall)
}

// spawn: Arg1 entry, Arg2 arg, Arg3 stack size, Arg4 priority, Arg5 name.
// Out: Arg1 pid or -1, Arg4 -1 if the arguments are invalid.
func (s *System) spawn(args *usloss.Sysargs) {
	var entry phase1.StartFunc
	switch f := args.Arg1.(type) {
	case phase1.StartFunc:
		entry = f
	case func(*phase1.Kernel, string) int:
		entry = f
	}
	arg, _ := args.Arg2.(string)
	stackSize, ok1 := usloss.Int(args.Arg3)
	priority, ok2 := usloss.Int(args.Arg4)
	name, _ := args.Arg5.(string)

	if entry == nil || !ok1 || !ok2 || name == "" || len(name) >= usloss.MAXNAME ||
		stackSize < usloss.MINSTACK || priority < usloss.PRIHIGH || priority > usloss.PRILOW {
		s.log.Debug("spawn: invalid arguments", "name", name, "stack", args.Arg3, "prio", args.Arg4)
		args.Arg1 = -1
		args.Arg4 = -1
		return
	}
	args.Arg1 = s.spawnReal(name, entry, arg, stackSize, priority)
	args.Arg4 = 0
}

// wait: Out Arg1 child pid, Arg2 child status.
func (s *System) wait(args *usloss.Sysargs) {
	pid, status := s.waitReal()
	args.Arg1 = pid
	args.Arg2 = status
}

// terminate: Arg1 status. Does not return.
func (s *System) terminate(args *usloss.Sysargs) {
	status, _ := usloss.Int(args.Arg1)
	s.terminateReal(status)
}

func (s *System) getTimeOfDay(args *usloss.Sysargs) {
	args.Arg1 = int(s.k.Clock().UnixMicro())
}

func (s *System) cpuTime(args *usloss.Sysargs) {
	args.Arg1 = int(s.k.ReadTime().Microseconds())
}

func (s *System) getPID(args *usloss.Sysargs) {
	args.Arg1 = s.k.GetPid()
}

// semCreate: Arg1 initial value. Out: Arg1 id, Arg4 -1 on failure.
func (s *System) semCreate(args *usloss.Sysargs) {
	value, ok := usloss.Int(args.Arg1)
	if !ok {
		args.Arg1 = -1
		args.Arg4 = -1
		return
	}
	id := s.semCreateReal(value)
	args.Arg1 = id
	args.Arg4 = 0
	if id < 0 {
		args.Arg4 = -1
	}
}

// semP: Arg1 id. Out: Arg4 -1 for a bad id.
func (s *System) semP(args *usloss.Sysargs) {
	id, ok := usloss.Int(args.Arg1)
	if !ok {
		args.Arg4 = -1
		return
	}
	args.Arg4 = s.semPReal(id)
}

// semV: Arg1 id. Out: Arg4 -1 for a bad id.
func (s *System) semV(args *usloss.Sysargs) {
	id, ok := usloss.Int(args.Arg1)
	if !ok {
		args.Arg4 = -1
		return
	}
	args.Arg4 = s.semVReal(id)
}

// semFree: Arg1 id. Out: Arg4 -1 for a bad id, 1 if processes were blocked.
func (s *System) semFree(args *usloss.Sysargs) {
	id, ok := usloss.Int(args.Arg1)
	if !ok {
		args.Arg4 = -1
		return
	}
	args.Arg4 = s.semFreeReal(id)
}
