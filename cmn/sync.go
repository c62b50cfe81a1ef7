// Package cmn provides common low-level types and utilities shared by the
// scheduler packages: assertions, error taxonomy, configuration, and small
// synchronization helpers, in the style of aistore's own cmn package.
package cmn

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// StopCh is a specialized channel for stopping a background loop, closed at
// most once regardless of how many callers ask for it. cmd/routerd passes
// its Listen channel to transport.Server.ListenAndServe, which shuts the
// HTTP listener down once the channel is closed.
type StopCh struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{}, 1)}
}

func (sc *StopCh) Listen() <-chan struct{} { return sc.ch }

func (sc *StopCh) Close() {
	sc.once.Do(func() { close(sc.ch) })
}

// TimeoutGroup is similar to sync.WaitGroup with the difference that Wait
// can additionally time out; cmd/loadgen uses it to cap how long it waits
// for in-flight simulated requests to drain.
//
// WARNING: not safe to wait on completion from multiple goroutines.
type TimeoutGroup struct {
	jobsLeft  atomic.Int32
	postedFin atomic.Int32
	fin       chan struct{}
}

func NewTimeoutGroup() *TimeoutGroup {
	return &TimeoutGroup{fin: make(chan struct{}, 1)}
}

func (tg *TimeoutGroup) Add(delta int) {
	tg.jobsLeft.Add(int32(delta))
}

// Done decrements the number of jobs left. Panics (via AssertMsg) if the
// count underflows below zero.
func (tg *TimeoutGroup) Done() {
	if left := tg.jobsLeft.Dec(); left == 0 {
		if posted := tg.postedFin.Swap(1); posted == 0 {
			tg.fin <- struct{}{}
		}
	} else {
		AssertMsg(left > 0, "jobs left is below zero")
	}
}

// WaitTimeout waits until all jobs are done or the timeout elapses; returns
// true on timeout. NOTE: must only be invoked after all Adds.
func (tg *TimeoutGroup) WaitTimeout(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tg.fin:
		tg.postedFin.Store(0)
		return false
	case <-t.C:
		return true
	}
}
