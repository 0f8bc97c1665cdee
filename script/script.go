// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package script runs scenario archives on a phase3 machine.
//
// A scenario is a txtar archive. Each file is a user program with one
// step per line. The program named start3 runs first, as the
// supervisor. A file named want, if present, holds the expected output.
// The archive comment describes the scenario.
//
// The steps are:
//
//	print TEXT               write TEXT; $arg is the program's argument
//	spawn NAME [PRIO [ARG]]  start program NAME as a child (default priority 3)
//	wait                     wait for a child and report its pid and status
//	sem VAR INIT             create a semaphore and name it VAR
//	p VAR                    SemP
//	v VAR                    SemV
//	free VAR                 SemFree
//	getpid                   report the caller's pid
//	terminate CODE           terminate the caller and its children
//	return CODE              return from the program
//	loop N ... end           repeat the enclosed steps N times
//
// Lines starting with # are comments. Semaphore names are shared by
// all programs of a run. Every line of output is prefixed by the name
// of the program that wrote it. When the machine stops, Run appends
// "exit N" with the supervisor's status, or "deadlock".
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/tools/txtar"
	"rsc.io/usloss/libuser"
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/phase3"
	"rsc.io/usloss/usloss"
)

const defaultPrio = 3

// A Scenario is a parsed scenario archive.
type Scenario struct {
	Name    string
	Comment []byte

	progs   map[string][]step
	want    []byte
	hasWant bool
}

type step struct {
	line int
	op   string
	text string // print
	name string // spawn target or semaphore variable
	arg  string // spawn argument
	n    int    // priority, initial value, status or count
	body []step // loop
}

// ParseFile reads and parses the scenario archive in file.
func ParseFile(file string) (*Scenario, error) {
	ar, err := txtar.ParseFile(file)
	if err != nil {
		return nil, err
	}
	return FromArchive(file, ar)
}

// Parse parses a scenario archive.
func Parse(name string, data []byte) (*Scenario, error) {
	return FromArchive(name, txtar.Parse(data))
}

// FromArchive builds a scenario from an already parsed archive.
func FromArchive(name string, ar *txtar.Archive) (*Scenario, error) {
	sc := &Scenario{
		Name:    name,
		Comment: ar.Comment,
		progs:   make(map[string][]step),
	}
	for _, f := range ar.Files {
		if f.Name == "want" {
			sc.want = f.Data
			sc.hasWant = true
			continue
		}
		if f.Name == "" || len(f.Name) >= usloss.MAXNAME || strings.ContainsAny(f.Name, " \t") {
			return nil, fmt.Errorf("%s: invalid program name %q", name, f.Name)
		}
		if _, ok := sc.progs[f.Name]; ok {
			return nil, fmt.Errorf("%s: duplicate program %s", name, f.Name)
		}
		steps, err := parseProg(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %s:%v", name, f.Name, err)
		}
		sc.progs[f.Name] = steps
	}
	if _, ok := sc.progs["start3"]; !ok {
		return nil, fmt.Errorf("%s: no start3 program", name)
	}
	for prog, steps := range sc.progs {
		if err := sc.checkSpawns(steps); err != nil {
			return nil, fmt.Errorf("%s: %s:%v", name, prog, err)
		}
	}
	return sc, nil
}

// Want returns the expected output, if the archive has any.
func (sc *Scenario) Want() ([]byte, bool) {
	return sc.want, sc.hasWant
}

// Programs returns the number of programs in the scenario.
func (sc *Scenario) Programs() int {
	return len(sc.progs)
}

func (sc *Scenario) checkSpawns(steps []step) error {
	for _, st := range steps {
		switch st.op {
		case "spawn":
			if _, ok := sc.progs[st.name]; !ok {
				return fmt.Errorf("%d: spawn of undefined program %s", st.line, st.name)
			}
		case "loop":
			if err := sc.checkSpawns(st.body); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseProg(data []byte) ([]step, error) {
	type frame struct {
		loop  step
		outer []step
	}
	var (
		stack []frame
		cur   []step
	)
	for i, line := range strings.Split(string(data), "\n") {
		lineno := i + 1
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		op, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		f := strings.Fields(rest)
		st := step{line: lineno, op: op}
		bad := func(format string, args ...any) error {
			return fmt.Errorf("%d: %s: %s", lineno, op, fmt.Sprintf(format, args...))
		}
		var err error
		switch op {
		default:
			return nil, fmt.Errorf("%d: unknown step %q", lineno, op)

		case "print":
			st.text = rest

		case "spawn":
			if len(f) < 1 || len(f) > 3 {
				return nil, bad("usage: spawn NAME [PRIO [ARG]]")
			}
			st.name = f[0]
			st.n = defaultPrio
			if len(f) > 1 {
				if st.n, err = strconv.Atoi(f[1]); err != nil {
					return nil, bad("invalid priority %q", f[1])
				}
			}
			if len(f) > 2 {
				st.arg = f[2]
			}

		case "wait", "getpid":
			if len(f) != 0 {
				return nil, bad("takes no arguments")
			}

		case "sem":
			if len(f) != 2 {
				return nil, bad("usage: sem VAR INIT")
			}
			st.name = f[0]
			if st.n, err = strconv.Atoi(f[1]); err != nil {
				return nil, bad("invalid initial value %q", f[1])
			}

		case "p", "v", "free":
			if len(f) != 1 {
				return nil, bad("usage: %s VAR", op)
			}
			st.name = f[0]

		case "terminate", "return":
			if len(f) != 1 {
				return nil, bad("usage: %s CODE", op)
			}
			if st.n, err = strconv.Atoi(f[0]); err != nil {
				return nil, bad("invalid status %q", f[0])
			}

		case "loop":
			if len(f) != 1 {
				return nil, bad("usage: loop N")
			}
			if st.n, err = strconv.Atoi(f[0]); err != nil || st.n < 0 {
				return nil, bad("invalid count %q", f[0])
			}
			stack = append(stack, frame{st, cur})
			cur = nil
			continue

		case "end":
			if len(stack) == 0 {
				return nil, fmt.Errorf("%d: end without loop", lineno)
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			top.loop.body = cur
			cur = append(top.outer, top.loop)
			continue
		}
		cur = append(cur, st)
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%d: loop without end", stack[len(stack)-1].loop.line)
	}
	return cur, nil
}

// A Result is the outcome of one run of a scenario.
type Result struct {
	Output []byte
	Status int   // the supervisor's status
	Err    error // from phase1.Kernel.Run, such as phase1.ErrDeadlock
	System *phase3.System
}

// Check compares the output to the scenario's want file.
// A scenario without one always passes.
func (sc *Scenario) Check(res *Result) error {
	if !sc.hasWant || bytes.Equal(res.Output, sc.want) {
		return nil
	}
	return fmt.Errorf("%s: wrong output\nhave:\n%s\nwant:\n%s", sc.Name, res.Output, sc.want)
}

type run struct {
	sc   *Scenario
	log  hclog.Logger
	out  bytes.Buffer
	sems map[string]int
}

// Run boots a fresh machine configured by cfg and runs the scenario on it.
func (sc *Scenario) Run(cfg phase1.Config) *Result {
	r := &run{sc: sc, sems: make(map[string]int)}
	r.log = cfg.Logger
	if r.log == nil {
		r.log = hclog.NewNullLogger()
	}
	r.log = r.log.Named("script")

	sys, status, err := phase3.Run(cfg, r.program("start3"), "")
	switch {
	case errors.Is(err, phase1.ErrDeadlock):
		r.log.Debug("deadlock", "scenario", sc.Name, "error", err)
		fmt.Fprintf(&r.out, "deadlock\n")
	case err != nil:
		fmt.Fprintf(&r.out, "error: %v\n", err)
	default:
		fmt.Fprintf(&r.out, "exit %d\n", status)
	}
	return &Result{Output: r.out.Bytes(), Status: status, Err: err, System: sys}
}

// Dump writes the machine's process and semaphore tables.
func (res *Result) Dump(w io.Writer) {
	if res.System == nil {
		return
	}
	res.System.Dump(w)
	res.System.DumpSems(w)
}

func (r *run) program(name string) phase1.StartFunc {
	steps := r.sc.progs[name]
	return func(k *phase1.Kernel, arg string) int {
		p := &proc{r: r, k: k, name: name, arg: arg}
		status, _ := p.exec(steps)
		return status
	}
}

// sem returns the semaphore named v, or -1.
func (r *run) sem(v string) int {
	id, ok := r.sems[v]
	if !ok {
		return -1
	}
	return id
}

// A proc is one running instance of a program.
type proc struct {
	r    *run
	k    *phase1.Kernel
	name string
	arg  string
}

func (p *proc) printf(format string, args ...any) {
	fmt.Fprintf(&p.r.out, "%s: %s\n", p.name, fmt.Sprintf(format, args...))
}

// exec runs steps and reports whether a return step ended the program.
func (p *proc) exec(steps []step) (status int, returned bool) {
	for _, st := range steps {
		p.r.log.Trace("step", "prog", p.name, "line", st.line, "op", st.op)
		switch st.op {
		case "print":
			p.printf("%s", strings.ReplaceAll(st.text, "$arg", p.arg))

		case "spawn":
			pid, err := libuser.Spawn(p.k, st.name, p.r.program(st.name), st.arg, usloss.MINSTACK, st.n)
			if err != nil {
				p.printf("spawn %s: %v", st.name, err)
				break
			}
			p.printf("spawn %s: pid %d", st.name, pid)

		case "wait":
			pid, status := libuser.Wait(p.k)
			p.printf("wait: pid %d status %d", pid, status)

		case "sem":
			id, err := libuser.SemCreate(p.k, st.n)
			if err != nil {
				p.printf("sem %s: %v", st.name, err)
				break
			}
			p.r.sems[st.name] = id

		case "p":
			if err := libuser.SemP(p.k, p.r.sem(st.name)); err != nil {
				p.printf("p %s: %v", st.name, err)
			}

		case "v":
			if err := libuser.SemV(p.k, p.r.sem(st.name)); err != nil {
				p.printf("v %s: %v", st.name, err)
			}

		case "free":
			if err := libuser.SemFree(p.k, p.r.sem(st.name)); err != nil {
				p.printf("free %s: %v", st.name, err)
			}

		case "getpid":
			p.printf("pid %d", libuser.GetPID(p.k))

		case "terminate":
			libuser.Terminate(p.k, st.n)

		case "return":
			return st.n, true

		case "loop":
			for i := 0; i < st.n; i++ {
				if status, returned := p.exec(st.body); returned {
					return status, true
				}
			}
		}
	}
	return 0, false
}
