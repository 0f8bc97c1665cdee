// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phase3

import (
	"errors"
	"testing"
	"time"

	"rsc.io/usloss/libuser"
	"rsc.io/usloss/phase1"
	"rsc.io/usloss/usloss"
)

func TestSemHandoff(t *testing.T) {
	var bDone bool
	_, _, err := boot(t, testConfig(), func(s *System, k *phase1.Kernel) int {
		id, err := libuser.SemCreate(k, 1)
		if id != 0 || err != nil {
			t.Errorf("SemCreate(1) = %d, %v, want 0, nil", id, err)
			return 1
		}
		if err := libuser.SemP(k, id); err != nil {
			t.Errorf("SemP: %v", err)
		}
		if v := s.sems[id].value; v != 0 {
			t.Errorf("value after P = %d, want 0", v)
		}
		spawn(t, k, "B", 4, func(k *phase1.Kernel, arg string) int {
			libuser.SemP(k, id)
			bDone = true
			return 0
		})
		spawn(t, k, "C", 5, func(k *phase1.Kernel, arg string) int {
			if n := s.blocked(&s.sems[id]); n != 1 {
				t.Errorf("blocked before V = %d, want 1", n)
			}
			libuser.SemV(k, id)
			if v, n := s.sems[id].value, s.blocked(&s.sems[id]); v != 0 || n != 0 {
				t.Errorf("after V: value %d, blocked %d, want 0, 0", v, n)
			}
			if bDone {
				t.Errorf("B ran before V returned")
			}
			return 0
		})
		libuser.Wait(k)
		libuser.Wait(k)
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bDone {
		t.Errorf("B never got the token")
	}
}

// A token goes to the longest waiting process, whatever its priority.
func TestSemFIFO(t *testing.T) {
	var order []string
	_, _, err := boot(t, testConfig(), func(s *System, k *phase1.Kernel) int {
		id, _ := libuser.SemCreate(k, 0)
		step, _ := libuser.SemCreate(k, 0)
		low := spawn(t, k, "low", 5, func(k *phase1.Kernel, arg string) int {
			libuser.SemP(k, id)
			order = append(order, "low")
			return 0
		})
		spawn(t, k, "tick", 6, func(k *phase1.Kernel, arg string) int {
			libuser.SemV(k, step)
			return 0
		})
		libuser.SemP(k, step)

		high := spawn(t, k, "high", 2, func(k *phase1.Kernel, arg string) int {
			libuser.SemP(k, id)
			order = append(order, "high")
			return 0
		})
		spawn(t, k, "releaser", 6, func(k *phase1.Kernel, arg string) int {
			sem := &s.sems[id]
			if sem.head != slot(low) || sem.tail != slot(high) {
				t.Errorf("queue head %d tail %d, want %d %d", sem.head, sem.tail, slot(low), slot(high))
			}
			libuser.SemV(k, id)
			if w := s.proc(low).semWoken; w != wakeHandoff {
				t.Errorf("low not handed the token")
			}
			if w := s.proc(high).semWoken; w != wakeNone {
				t.Errorf("high handed the token first")
			}
			libuser.SemV(k, id)
			return 0
		})
		for i := 0; i < 4; i++ {
			libuser.Wait(k)
		}
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 {
		t.Errorf("order = %v, want both waiters", order)
	}
}

func TestSemFreeBlocked(t *testing.T) {
	var reached bool
	_, _, err := boot(t, testConfig(), func(s *System, k *phase1.Kernel) int {
		id, _ := libuser.SemCreate(k, 0)
		before := s.Sems()
		blocker := func(k *phase1.Kernel, arg string) int {
			libuser.SemP(k, id)
			reached = true
			return 0
		}
		b1 := spawn(t, k, "b1", 2, blocker)
		b2 := spawn(t, k, "b2", 2, blocker)
		freer := spawn(t, k, "freer", 5, func(k *phase1.Kernel, arg string) int {
			if err := libuser.SemFree(k, id); !errors.Is(err, usloss.EBLOCKED) {
				t.Errorf("SemFree = %v, want EBLOCKED", err)
			}
			if s.sem(id) != nil {
				t.Errorf("semaphore %d still live after SemFree", id)
			}
			if n := s.Sems(); n != before-1 {
				t.Errorf("Sems = %d, want %d", n, before-1)
			}
			return 0
		})

		want := map[int]int{freer: 0, b1: usloss.StatusZapped, b2: usloss.StatusZapped}
		for i := 0; i < 3; i++ {
			pid, status := libuser.Wait(k)
			if w, ok := want[pid]; !ok || status != w {
				t.Errorf("Wait = %d, %d, want status %d", pid, status, w)
			}
			delete(want, pid)
		}
		if err := libuser.SemP(k, id); !errors.Is(err, usloss.EBADID) {
			t.Errorf("SemP on freed semaphore = %v, want EBADID", err)
		}
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if reached {
		t.Errorf("process returned from SemP on a freed semaphore")
	}
}

// A process zapped after a SemV handed it the token, but before it ran,
// passes the token to the next waiter.
func TestZappedAfterHandoff(t *testing.T) {
	var reachedX, reachedY bool
	s, _, err := boot(t, testConfig(), func(s *System, k *phase1.Kernel) int {
		sem, _ := libuser.SemCreate(k, 0)
		step, _ := libuser.SemCreate(k, 0)
		mid := spawn(t, k, "mid", 4, func(k *phase1.Kernel, arg string) int {
			spawn(t, k, "X", 2, func(k *phase1.Kernel, arg string) int {
				libuser.SemP(k, sem)
				reachedX = true
				return 0
			})
			libuser.SemP(k, step)
			libuser.SemV(k, sem)
			return 7
		})
		spawn(t, k, "Y", 5, func(k *phase1.Kernel, arg string) int {
			libuser.SemP(k, sem)
			reachedY = true
			return 0
		})
		spawn(t, k, "kicker", 6, func(k *phase1.Kernel, arg string) int {
			libuser.SemV(k, step)
			return 0
		})
		got := map[int]int{}
		for i := 0; i < 3; i++ {
			pid, status := libuser.Wait(k)
			got[pid] = status
		}
		if got[mid] != 7 {
			t.Errorf("mid status = %d, want 7", got[mid])
		}
		if v := s.sems[sem].value; v != 0 {
			t.Errorf("value = %d, want 0", v)
		}
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if reachedX {
		t.Errorf("zapped process returned from SemP")
	}
	if !reachedY {
		t.Errorf("token was not passed on")
	}
	if n := s.Live(); n != 1 {
		t.Errorf("Live after halt = %d, want 1", n)
	}
}

func TestSemTable(t *testing.T) {
	_, _, err := boot(t, testConfig(), func(s *System, k *phase1.Kernel) int {
		if id, err := libuser.SemCreate(k, -1); id != -1 || !errors.Is(err, usloss.EINVAL) {
			t.Errorf("SemCreate(-1) = %d, %v, want -1, EINVAL", id, err)
		}
		var ids []int
		for i := 0; i < usloss.MAXSEMS; i++ {
			id, err := libuser.SemCreate(k, i)
			if err != nil {
				t.Errorf("SemCreate #%d: %v", i, err)
				return 1
			}
			ids = append(ids, id)
		}
		if id, err := libuser.SemCreate(k, 0); id != -1 || !errors.Is(err, usloss.EAGAIN) {
			t.Errorf("SemCreate on full table = %d, %v, want -1, EAGAIN", id, err)
		}
		if err := libuser.SemFree(k, ids[17]); err != nil {
			t.Errorf("SemFree: %v", err)
		}
		id, err := libuser.SemCreate(k, 3)
		if id != ids[17] || err != nil {
			t.Errorf("SemCreate after free = %d, %v, want %d, nil", id, err, ids[17])
		}
		if v := s.sems[id].value; v != 3 {
			t.Errorf("reused semaphore value = %d, want 3", v)
		}
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSemBadID(t *testing.T) {
	_, _, err := boot(t, testConfig(), func(s *System, k *phase1.Kernel) int {
		for _, id := range []int{-1, 5, usloss.MAXSEMS, usloss.MAXSEMS + 10} {
			if err := libuser.SemP(k, id); !errors.Is(err, usloss.EBADID) {
				t.Errorf("SemP(%d) = %v, want EBADID", id, err)
			}
			if err := libuser.SemV(k, id); !errors.Is(err, usloss.EBADID) {
				t.Errorf("SemV(%d) = %v, want EBADID", id, err)
			}
			if err := libuser.SemFree(k, id); !errors.Is(err, usloss.EBADID) {
				t.Errorf("SemFree(%d) = %v, want EBADID", id, err)
			}
		}
		id, _ := libuser.SemCreate(k, 0)
		if err := libuser.SemFree(k, id); err != nil {
			t.Errorf("SemFree: %v", err)
		}
		if err := libuser.SemV(k, id); !errors.Is(err, usloss.EBADID) {
			t.Errorf("SemV after free = %v, want EBADID", err)
		}
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
}

func fakeClock() func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
}

// Workers preempted inside a critical section guarded by a semaphore
// still update the shared counter one at a time.
func TestSemMutexPreempted(t *testing.T) {
	const workers, rounds = 4, 20
	cfg := testConfig()
	cfg.Now = fakeClock()
	cfg.Quantum = 3 * time.Millisecond
	counter := 0
	_, _, err := boot(t, cfg, func(s *System, k *phase1.Kernel) int {
		m, _ := libuser.SemCreate(k, 1)
		for i := 0; i < workers; i++ {
			spawn(t, k, "worker", 4, func(k *phase1.Kernel, arg string) int {
				for j := 0; j < rounds; j++ {
					libuser.SemP(k, m)
					if sem := &s.sems[m]; sem.value > 0 && sem.head != -1 {
						t.Errorf("value %d with processes blocked", sem.value)
					}
					c := counter
					libuser.GetPID(k)
					counter = c + 1
					libuser.SemV(k, m)
				}
				return 0
			})
		}
		for i := 0; i < workers; i++ {
			libuser.Wait(k)
		}
		if v := s.sems[m].value; v != 1 {
			t.Errorf("final value = %d, want 1", v)
		}
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if counter != workers*rounds {
		t.Errorf("counter = %d, want %d", counter, workers*rounds)
	}
}
