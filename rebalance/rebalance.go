// Package rebalance implements the important-node-stealing rebalancer
// (spec.md component F), ported from handle_important_node_stealing /
// handle_important_node_stealing_recursive in the original scheduler
// (original_source/multi_node/global_scheduler.py).
package rebalance

import (
	"container/heap"
	"fmt"
	"sort"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/globalsched/scheduler/histogram"
	"github.com/globalsched/scheduler/overload"
	"github.com/globalsched/scheduler/placement"
	"github.com/globalsched/scheduler/tree"
)

// workerLoad pairs a worker with its current histogram-derived load; the
// slice these are kept in is sorted descending by Load and mutated in
// place across recursive calls, exactly as the Python original's
// allocation_cost_with_devices list is.
type workerLoad struct {
	id   tree.WorkerId
	load float64
}

type candidate struct {
	cost int64
	node *tree.Node
}

// candidateHeap is a container/heap min-heap ordered by cost. Equal-cost
// candidates pop in no defined order: they are gathered by iterating the
// histogram's node map, and container/heap does not keep insertion order
// among equal keys.
type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Rebalancer runs the important-node-stealing pass described in spec.md
// section 4.F.
type Rebalancer struct {
	Histogram         *histogram.Histogram
	Allocation        *placement.AllocationMap
	Overload          *overload.Detector
	NumWorkers        int
	HighLoadThreshold float64
}

// Run executes one rebalance pass at time now. It is meant to be invoked
// from inside the scheduler's single coarse critical section (spec.md
// section 5); it does not lock anything itself.
func (r *Rebalancer) Run(now int64) {
	load := r.Histogram.PerWorkerLoad(func(n *tree.Node) map[tree.WorkerId]struct{} {
		return r.Allocation.ParentAllocation(n)
	})

	list := make([]workerLoad, r.NumWorkers)
	for i := 0; i < r.NumWorkers; i++ {
		list[i] = workerLoad{id: tree.WorkerId(i), load: load[i]}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].load > list[j].load })

	// guards a single Run call against reconsidering the same node twice
	// across recursion levels when it shows up as a candidate for more
	// than one hot worker in succession (an anti-thrash addition beyond
	// the original source, see SPEC_FULL.md open question 3).
	moved := cuckoo.NewFilter(1024)
	r.recurse(list, now, moved)
}

func (r *Rebalancer) recurse(list []workerLoad, now int64, moved *cuckoo.Filter) {
	if len(list) <= 1 {
		return
	}
	hotIdx, coldIdx := 0, len(list)-1
	hot, cold := &list[hotIdx], &list[coldIdx]

	if hot.load < r.HighLoadThreshold*cold.load {
		return
	}

	var candidates candidateHeap
	for _, n := range r.Histogram.Nodes() {
		entry := r.Allocation.Get(n)
		if _, ok := entry[hot.id]; !ok {
			continue
		}
		if r.Histogram.EventCount(n) <= 1 {
			continue
		}
		candidates = append(candidates, candidate{cost: r.Histogram.WeightedCount(n), node: n})
	}
	heap.Init(&candidates)

	switch candidates.Len() {
	case 0:
		// nothing to move; fall through to recursing on the rest.
	case 1:
		c := candidates[0]
		costHalf := float64(c.cost) / 2
		entry := r.Allocation.Get(c.node)
		_, coldAlready := entry[cold.id]
		if !coldAlready && r.Overload.IsOverloaded(c.node, hot.id, now) {
			newSet := make(placement.WorkerSet, len(entry)+1)
			for w := range entry {
				newSet[w] = struct{}{}
			}
			newSet[cold.id] = struct{}{}
			r.Allocation.Set(c.node, newSet)
			hot.load -= costHalf
			cold.load += costHalf
			r.Overload.DeleteAfterAllocation(c.node, hot.id)
		}
	default:
		for candidates.Len() > 0 {
			c := heap.Pop(&candidates).(candidate)
			entry := r.Allocation.Get(c.node)
			if _, ok := entry[cold.id]; ok {
				continue
			}
			key := moveKey(c.node, cold.id)
			if moved.Lookup(key) {
				continue
			}
			cost := float64(c.cost)
			if hot.load-cost < cold.load+cost {
				break
			}
			r.Allocation.Set(c.node, placement.WorkerSet{cold.id: {}})
			r.Allocation.SetDescendants(c.node, cold.id)
			moved.InsertUnique(key)
			hot.load -= cost
			cold.load += cost
		}
	}

	list[hotIdx] = *hot
	list[coldIdx] = *cold
	r.recurse(list[1:], now, moved)
}

func moveKey(n *tree.Node, w tree.WorkerId) []byte {
	return []byte(fmt.Sprintf("%d:%d", n.ID, w))
}
