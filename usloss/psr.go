// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usloss

import "strings"

// A PSR is a processor status word.
type PSR uint8

const (
	PSRKernel     PSR = 1 << iota // current mode is kernel
	PSRInt                        // interrupts enabled
	PSRPrevKernel                 // mode before the last trap
	PSRPrevInt                    // interrupts before the last trap
)

// Kernel reports whether the current mode bit is set.
func (p PSR) Kernel() bool {
	return p&PSRKernel != 0
}

// Trap returns the status word after entering the kernel from p:
// the current bits move to the previous bits and kernel mode is set.
func (p PSR) Trap() PSR {
	prev := (p & (PSRKernel | PSRInt)) << 2
	return prev | PSRKernel
}

// User returns p with the kernel mode bit cleared.
func (p PSR) User() PSR {
	return p &^ PSRKernel
}

func (p PSR) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit  PSR
		name string
	}{
		{PSRKernel, "K"},
		{PSRInt, "I"},
		{PSRPrevKernel, "PK"},
		{PSRPrevInt, "PI"},
	} {
		if p&f.bit != 0 {
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(f.name)
		}
	}
	if b.Len() == 0 {
		return "U"
	}
	return b.String()
}
