// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase1

import (
	"fmt"
	"runtime"
)

func (k *Kernel) setReady(p *proc) {
	p.state = procReady
	k.ready[p.prio] = append(k.ready[p.prio], p)
}

// next hands the CPU to the highest priority ready process,
// first come first served among equals.
// With nothing ready the machine stops.
func (k *Kernel) next() {
	for pri := range k.ready {
		if len(k.ready[pri]) == 0 {
			continue
		}
		n := k.ready[pri][0]
		k.ready[pri] = k.ready[pri][1:]
		n.state = procRunning
		n.since = k.now()
		k.cur = n
		if k.log.IsTrace() {
			k.log.Trace("dispatch", "pid", n.pid, "name", n.name)
		}
		n.sched <- true
		return
	}

	live := 0
	for _, p := range k.procs {
		if p != nil && p.state != procQuit {
			live++
		}
	}
	if live == 0 {
		k.finish(0, nil)
		return
	}
	k.finish(1, fmt.Errorf("%w: %d live processes", ErrDeadlock, live))
}

// swtch gives up the CPU. The caller has already moved the current
// process out of the running state; swtch returns when it is running again.
// A quitting process never comes back.
func (k *Kernel) swtch() {
	p := k.cur
	quit := p.state == procQuit
	if !quit {
		p.cpu = k.ReadTime()
	}
	k.next()
	if quit {
		runtime.Goexit()
	}
	k.park(p)
}

// park waits for p to be handed the CPU.
// If the machine stops first, the goroutine exits.
func (k *Kernel) park(p *proc) {
	select {
	case <-p.sched:
	case <-k.halted:
		runtime.Goexit()
	}
}

// timeSlice gives up the CPU if the current process has used up its quantum.
func (k *Kernel) timeSlice() {
	if k.cfg.Quantum <= 0 {
		return
	}
	p := k.cur
	if k.now().Sub(p.since) < k.cfg.Quantum {
		return
	}
	k.setReady(p)
	k.swtch()
}
