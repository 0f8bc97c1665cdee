// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"rsc.io/usloss/phase1"
)

func testConfig() phase1.Config {
	var cfg phase1.Config
	if testing.Verbose() {
		cfg.Logger = hclog.New(&hclog.LoggerOptions{Output: os.Stderr, Level: hclog.Trace})
	}
	return cfg
}

func runTimeout(t *testing.T, sc *Scenario, cfg phase1.Config) *Result {
	t.Helper()
	c := make(chan *Result, 1)
	go func() { c <- sc.Run(cfg) }()
	select {
	case res := <-c:
		return res
	case <-time.After(10 * time.Second):
		t.Fatalf("%s: machine did not stop", sc.Name)
	}
	panic("unreachable")
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/*.txtar")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no scenarios")
	}
	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".txtar"), func(t *testing.T) {
			sc, err := ParseFile(file)
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := sc.Want(); !ok {
				t.Fatalf("%s: no want file", file)
			}
			res := runTimeout(t, sc, testConfig())
			if err := sc.Check(res); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestRunDump(t *testing.T) {
	sc, err := Parse("dump", []byte("-- start3 --\nsem s 4\nreturn 3\n"))
	if err != nil {
		t.Fatal(err)
	}
	res := runTimeout(t, sc, testConfig())
	if res.Status != 3 || res.Err != nil {
		t.Fatalf("Run = %d, %v, want 3, nil", res.Status, res.Err)
	}
	var b strings.Builder
	res.Dump(&b)
	if !strings.HasPrefix(b.String(), "SLOT ") || !strings.Contains(b.String(), "\n0     4      0\n") {
		t.Errorf("Dump:\n%s", b.String())
	}
}

func TestCheckMismatch(t *testing.T) {
	sc, err := Parse("bad", []byte("-- start3 --\nprint hi\n-- want --\nstart3: bye\nexit 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	res := runTimeout(t, sc, testConfig())
	if err := sc.Check(res); err == nil {
		t.Errorf("Check passed with wrong output:\n%s", res.Output)
	}
}

func TestParseLoop(t *testing.T) {
	steps, err := parseProg([]byte("loop 2\n  loop 3\n    getpid\n  end\n  print x\nend\nreturn 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].op != "loop" || steps[1].op != "return" {
		t.Fatalf("steps = %+v", steps)
	}
	outer := steps[0]
	if outer.n != 2 || len(outer.body) != 2 || outer.body[0].op != "loop" || outer.body[0].n != 3 {
		t.Fatalf("outer loop = %+v", outer)
	}
	if inner := outer.body[0].body; len(inner) != 1 || inner[0].op != "getpid" {
		t.Errorf("inner loop body = %+v", inner)
	}
}

var parseErrorTests = []struct {
	name string
	in   string
	err  string
}{
	{"nostart3", "-- child --\nreturn 0\n", "no start3 program"},
	{"unknown", "-- start3 --\njump 3\n", `1: unknown step "jump"`},
	{"undefined", "-- start3 --\nprint x\nspawn ghost\n", "2: spawn of undefined program ghost"},
	{"prio", "-- start3 --\nspawn start3 high\n", `invalid priority "high"`},
	{"semargs", "-- start3 --\nsem s\n", "usage: sem VAR INIT"},
	{"status", "-- start3 --\nreturn x\n", `invalid status "x"`},
	{"wait", "-- start3 --\nwait 3\n", "takes no arguments"},
	{"count", "-- start3 --\nloop -1\nend\n", `invalid count "-1"`},
	{"noend", "-- start3 --\nprint a\nloop 2\nprint b\n", "2: loop without end"},
	{"noloop", "-- start3 --\nend\n", "1: end without loop"},
	{"dup", "-- start3 --\n-- start3 --\n", "duplicate program start3"},
	{"name", "-- two words --\n-- start3 --\n", "invalid program name"},
}

func TestParseErrors(t *testing.T) {
	for _, tt := range parseErrorTests {
		_, err := Parse(tt.name, []byte(tt.in))
		if err == nil || !strings.Contains(err.Error(), tt.err) {
			t.Errorf("%s: Parse error = %v, want %q", tt.name, err, tt.err)
		}
	}
}
