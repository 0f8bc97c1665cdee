// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usloss

import "fmt"

const (
	EINVAL  Errno = 1 + iota // bad syscall arguments
	EAGAIN                   // table full
	EBADID                   // no such semaphore or process
	EBLOCKED                 // semaphore freed with processes blocked on it
)

// An Errno is the error reported back to user code by a syscall stub.
type Errno int

func (e Errno) Error() string {
	if 0 <= e && int(e) < len(enames) && enames[e] != "" {
		return enames[e]
	}
	return fmt.Sprintf("Errno(%d)", int(e))
}

var enames = []string{
	"",
	"EINVAL",
	"EAGAIN",
	"EBADID",
	"EBLOCKED",
}
