// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usloss

import "fmt"

// Syscall numbers.
const (
	SysTermRead     = 1
	SysTermWrite    = 2
	SysSpawn        = 3
	SysWait         = 4
	SysTerminate    = 5
	SysSleep        = 12
	SysSemCreate    = 16
	SysSemP         = 17
	SysSemV         = 18
	SysSemFree      = 19
	SysGetTimeOfDay = 20
	SysCPUTime      = 21
	SysGetPID       = 22
)

var sysnames = map[int]string{
	SysTermRead:     "TermRead",
	SysTermWrite:    "TermWrite",
	SysSpawn:        "Spawn",
	SysWait:         "Wait",
	SysTerminate:    "Terminate",
	SysSleep:        "Sleep",
	SysSemCreate:    "SemCreate",
	SysSemP:         "SemP",
	SysSemV:         "SemV",
	SysSemFree:      "SemFree",
	SysGetTimeOfDay: "GetTimeOfDay",
	SysCPUTime:      "CPUTime",
	SysGetPID:       "GetPID",
}

// SyscallName returns a printable name for syscall number n.
func SyscallName(n int) string {
	if s, ok := sysnames[n]; ok {
		return s
	}
	return fmt.Sprintf("sys%d", n)
}

// Sysargs is the argument block handed to a syscall handler.
// The five slots are untyped; each call has its own convention
// for what goes in and what comes back out.
type Sysargs struct {
	Number int
	Arg1   any
	Arg2   any
	Arg3   any
	Arg4   any
	Arg5   any
}

// Int returns slot v as an int, and whether it held one.
func Int(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	}
	return 0, false
}
