// Package overload implements the TTFT half-window overload detector
// (spec.md component C), ported from the original scheduler's
// TTFTWindowedOverloadedDetector (original_source/multi_node/
// global_scheduler.py): a per-(node, worker) FIFO of (timestamp, ttft)
// samples, advisory-only, consulted by rebalance before it replicates a
// single hot node.
package overload

import "github.com/globalsched/scheduler/tree"

type key struct {
	node   *tree.Node
	worker tree.WorkerId
}

type sample struct {
	ts   int64
	ttft float64
}

// Detector maintains a bounded time-window of TTFT samples per
// (node, worker) pair.
type Detector struct {
	window int64 // nanoseconds
	data   map[key][]sample
}

func New(window int64) *Detector {
	return &Detector{window: window, data: make(map[key][]sample)}
}

// AddDataPoint appends one TTFT sample and purges everything older than
// ts - window for that (node, worker) pair.
func (d *Detector) AddDataPoint(ts int64, node *tree.Node, w tree.WorkerId, ttft float64) {
	k := key{node, w}
	s := append(d.data[k], sample{ts: ts, ttft: ttft})
	cutoff := ts - d.window
	i := 0
	for i < len(s) && s[i].ts < cutoff {
		i++
	}
	if i > 0 {
		s = s[i:]
	}
	d.data[k] = s
}

// Rename moves a (old, worker) series to (new, worker), mirroring
// histogram.Rename for the overload detector's own keyspace.
func (d *Detector) Rename(old, new *tree.Node, w tree.WorkerId) {
	oldKey := key{old, w}
	s, ok := d.data[oldKey]
	if !ok {
		return
	}
	delete(d.data, oldKey)
	d.data[key{new, w}] = s
}

// DeleteAfterAllocation erases the series for (node, worker), called when
// the node is replicated off worker so its ratio stops flagging it.
func (d *Detector) DeleteAfterAllocation(node *tree.Node, w tree.WorkerId) {
	delete(d.data, key{node, w})
}

// halfWindowAverages splits the current series at now - window/2 and
// returns the mean of each half. Either mean is (0, false) if its half is
// empty.
func halfWindowAverages(s []sample, now, window int64) (firstAvg, secondAvg float64, ok bool) {
	cutoff := now - window/2
	var firstSum, secondSum float64
	var firstN, secondN int
	for _, v := range s {
		if v.ts < cutoff {
			firstSum += v.ttft
			firstN++
		} else {
			secondSum += v.ttft
			secondN++
		}
	}
	if firstN == 0 || secondN == 0 {
		return 0, 0, false
	}
	return firstSum / float64(firstN), secondSum / float64(secondN), true
}

// IsOverloaded reports whether both halves of the window contain at least
// one sample for (node, worker) and the second half's mean TTFT is at
// least 2x the first half's. now is the caller's current timestamp (the
// detector is advisory and evaluated on demand, not on every AddDataPoint).
func (d *Detector) IsOverloaded(node *tree.Node, w tree.WorkerId, now int64) bool {
	s, ok := d.data[key{node, w}]
	if !ok {
		return false
	}
	first, second, ok := halfWindowAverages(s, now, d.window)
	if !ok {
		return false
	}
	return second >= 2*first
}
