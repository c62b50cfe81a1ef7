// Package histogram implements the per-prefix sliding-window popularity
// histogram (spec.md component B), grounded on the original Python
// scheduler's SlidingWindowHistogram (original_source/multi_node/
// global_scheduler.py): a FIFO of (timestamp, important_node, leaf_node)
// events, purged head-first on every update per spec.md's "Sliding-window
// purge" design note.
package histogram

import "github.com/globalsched/scheduler/tree"

// AllocationResetter lets the histogram clear a node's allocation set when
// its popularity entry expires, without histogram importing the placement
// package (which itself depends on histogram for per-worker load queries).
type AllocationResetter interface {
	ResetAllocation(n *tree.Node)
}

type entry struct {
	weightedCount int64
	eventCount    int
}

type event struct {
	ts            int64
	importantNode *tree.Node
	leafNode      *tree.Node
}

// Histogram tracks weighted_count/event_count per important node over a
// rolling window, and purges decayed entries as new events arrive.
type Histogram struct {
	window     int64 // nanoseconds
	entries    map[*tree.Node]*entry
	events     []event // FIFO, oldest at index 0
	resetter   AllocationResetter
	numWorkers int
}

func New(window int64, numWorkers int, resetter AllocationResetter) *Histogram {
	return &Histogram{
		window:     window,
		entries:    make(map[*tree.Node]*entry),
		resetter:   resetter,
		numWorkers: numWorkers,
	}
}

// Update records one popularity event and purges everything older than
// ts - window. Events are expected to arrive in non-decreasing ts order
// (spec.md section 5: timestamp-keyed structures assume monotonic input).
func (h *Histogram) Update(ts int64, importantNode, leafNode *tree.Node) {
	h.events = append(h.events, event{ts: ts, importantNode: importantNode, leafNode: leafNode})
	e := h.entries[importantNode]
	if e == nil {
		e = &entry{}
		h.entries[importantNode] = e
	}
	e.weightedCount += int64(leafNode.ContextLength)
	e.eventCount++

	h.purge(ts)
}

func (h *Histogram) purge(now int64) {
	cutoff := now - h.window
	i := 0
	for i < len(h.events) && h.events[i].ts < cutoff {
		ev := h.events[i]
		e := h.entries[ev.importantNode]
		if e != nil {
			e.weightedCount -= int64(ev.leafNode.ContextLength)
			e.eventCount--
			if e.weightedCount <= 0 {
				delete(h.entries, ev.importantNode)
				if h.resetter != nil {
					h.resetter.ResetAllocation(ev.importantNode)
				}
			}
		}
		i++
	}
	if i > 0 {
		h.events = h.events[i:]
	}
}

// WeightedCount returns the node's current weighted_count (0 if absent),
// used as the histogram-backed component of recompute cost (spec.md
// 4.E.1's `histogram.histogram.get(node, 1)` analogue would live here if
// the non-basic recompute cost were used; the basic variant in placement
// doesn't need it, but rebalance does for the min-heap cost).
func (h *Histogram) WeightedCount(n *tree.Node) int64 {
	if e := h.entries[n]; e != nil {
		return e.weightedCount
	}
	return 0
}

// EventCount returns the node's current event_count.
func (h *Histogram) EventCount(n *tree.Node) int {
	if e := h.entries[n]; e != nil {
		return e.eventCount
	}
	return 0
}

// Nodes returns every node currently tracked in the histogram. The
// rebalancer iterates this to build its candidate min-heap.
func (h *Histogram) Nodes() []*tree.Node {
	out := make([]*tree.Node, 0, len(h.entries))
	for n := range h.entries {
		out = append(out, n)
	}
	return out
}

// Rename relabels every reference to old as new: used when a tree split
// shifts the important-node identity (spec.md 4.D split handling).
func (h *Histogram) Rename(old, new *tree.Node) {
	e, ok := h.entries[old]
	if !ok {
		return
	}
	delete(h.entries, old)
	h.entries[new] = e
	for i := range h.events {
		if h.events[i].importantNode == old {
			h.events[i].importantNode = new
		}
	}
}

// PerWorkerLoad distributes each node's weighted_count equally across the
// workers in alloc(node), for every node currently tracked.
func (h *Histogram) PerWorkerLoad(alloc func(n *tree.Node) map[tree.WorkerId]struct{}) []float64 {
	return h.perWorkerLoad(alloc, 0)
}

// PerWorkerLoadMinEvents is PerWorkerLoad restricted to nodes with
// event_count >= minEvents.
func (h *Histogram) PerWorkerLoadMinEvents(alloc func(n *tree.Node) map[tree.WorkerId]struct{}, minEvents int) []float64 {
	return h.perWorkerLoad(alloc, minEvents)
}

func (h *Histogram) perWorkerLoad(alloc func(n *tree.Node) map[tree.WorkerId]struct{}, minEvents int) []float64 {
	load := make([]float64, h.numWorkers)
	for n, e := range h.entries {
		if e.eventCount < minEvents {
			continue
		}
		workers := alloc(n)
		if len(workers) == 0 {
			continue
		}
		share := float64(e.weightedCount) / float64(len(workers))
		for w := range workers {
			load[int(w)] += share
		}
	}
	return load
}
