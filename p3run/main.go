// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// P3run runs scenario archives on simulated phase3 machines.
//
// Usage:
//
//	p3run [-trace] [-quantum d] [-j n] [-dump] file.txtar...
//	p3run -i [-trace] [-quantum d] [-dump]
//
// Each archive runs on a fresh machine and its output is printed.
// If an archive has a want file and the output differs, p3run reports
// the difference and exits with status 1.
//
// The -j flag sets how many machines run at once (default 1).
// Output is printed in argument order regardless.
//
// The -quantum flag sets the time slice. A process that has used up its
// slice is switched out at its next syscall. By default processes run
// until they block.
//
// The -dump flag prints the process and semaphore tables after each run.
//
// The -i flag reads a scenario from the terminal. Lines are collected
// until a line reading "run", which runs the collected scenario. If it
// does not start with a file marker, it is taken to be the start3
// program. "quit" or end of input exits.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"golang.org/x/tools/txtar"
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/script"
)

var (
	trace       = flag.Bool("trace", false, "log every syscall and scheduling decision")
	quantum     = flag.Duration("quantum", 0, "switch processes after `d` of CPU time")
	jobs        = flag.Int("j", 1, "run up to `n` machines at once")
	dump        = flag.Bool("dump", false, "print the process and semaphore tables after each run")
	interactive = flag.Bool("i", false, "read a scenario from the terminal")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: p3run [-trace] [-quantum d] [-j n] [-dump] file.txtar...\n")
	fmt.Fprintf(os.Stderr, "       p3run -i [-trace] [-quantum d] [-dump]\n")
	os.Exit(2)
}

func main() {
	log.SetPrefix("p3run: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	level := hclog.Warn
	if *trace {
		level = hclog.Trace
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "p3run",
		Level:  level,
		Output: os.Stderr,
	})

	if *interactive {
		if flag.NArg() != 0 {
			usage()
		}
		if err := runTerminal(logger); err != nil {
			log.Fatal(err)
		}
		return
	}
	if flag.NArg() == 0 {
		usage()
	}
	if *jobs < 1 {
		log.Fatalf("-j must be at least 1")
	}

	type outcome struct {
		out bytes.Buffer
		err error
	}
	files := flag.Args()
	outcomes := make([]outcome, len(files))
	var g errgroup.Group
	g.SetLimit(*jobs)
	for i, file := range files {
		file, o := file, &outcomes[i]
		g.Go(func() error {
			o.err = runFile(&o.out, file, config(logger.Named(filepath.Base(file))))
			return nil
		})
	}
	g.Wait()

	failed := false
	for i, file := range files {
		o := &outcomes[i]
		if len(files) > 1 {
			fmt.Printf("# %s\n", file)
		}
		os.Stdout.Write(o.out.Bytes())
		if o.err != nil {
			log.Print(o.err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func config(logger hclog.Logger) phase1.Config {
	return phase1.Config{
		Logger:  logger,
		Quantum: *quantum,
	}
}

func runFile(w io.Writer, file string, cfg phase1.Config) error {
	sc, err := script.ParseFile(file)
	if err != nil {
		return err
	}
	return runScenario(w, sc, cfg)
}

type rw struct {
	io.Reader
	io.Writer
}

func runTerminal(logger hclog.Logger) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("-i: standard input is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)

	t := term.NewTerminal(rw{os.Stdin, os.Stdout}, "p3> ")
	fmt.Fprintf(t, "enter a scenario; \"run\" runs it, \"quit\" exits\n")
	var buf bytes.Buffer
	for n := 1; ; {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch strings.TrimSpace(line) {
		case "quit":
			return nil
		case "run":
			name := fmt.Sprintf("scenario%d", n)
			n++
			ar := txtar.Parse(buf.Bytes())
			if len(ar.Files) == 0 {
				ar = &txtar.Archive{Files: []txtar.File{{Name: "start3", Data: ar.Comment}}}
			}
			buf.Reset()
			sc, err := script.FromArchive(name, ar)
			if err != nil {
				fmt.Fprintf(t, "%v\n", err)
				continue
			}
			if err := runScenario(t, sc, config(logger.Named(name))); err != nil {
				fmt.Fprintf(t, "%v\n", err)
			}
		default:
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
}

func runScenario(w io.Writer, sc *script.Scenario, cfg phase1.Config) error {
	start := time.Now()
	res := sc.Run(cfg)
	cfg.Logger.Debug("run", "status", res.Status, "elapsed", time.Since(start))
	w.Write(res.Output)
	if *dump {
		res.Dump(w)
	}
	return sc.Check(res)
}
