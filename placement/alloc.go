// Package placement implements the allocation map (spec.md component D)
// and the placement decision rule (component E). The allocation map
// mirrors the original scheduler's self.gpu_allocations dict
// (original_source/multi_node/global_scheduler.py): a sparse
// node -> worker-set map where a missing entry means "inherit from the
// nearest ancestor that has one", falling back to the full worker set at
// the root.
package placement

import "github.com/globalsched/scheduler/tree"

type WorkerSet map[tree.WorkerId]struct{}

func newWorkerSet(ids ...tree.WorkerId) WorkerSet {
	s := make(WorkerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// AllocationMap stores the explicitly-decided worker set per node.
type AllocationMap struct {
	entries    map[*tree.Node]WorkerSet
	all        WorkerSet
	numWorkers int
}

func NewAllocationMap(numWorkers int) *AllocationMap {
	all := make(WorkerSet, numWorkers)
	for i := 0; i < numWorkers; i++ {
		all[tree.WorkerId(i)] = struct{}{}
	}
	return &AllocationMap{
		entries:    make(map[*tree.Node]WorkerSet),
		all:        all,
		numWorkers: numWorkers,
	}
}

// ParentAllocation walks up from n until it finds an entry, returning the
// full worker set at the root as a default (spec.md section 4.D).
func (m *AllocationMap) ParentAllocation(n *tree.Node) WorkerSet {
	for cur := n; cur != nil; cur = cur.Parent {
		if s, ok := m.entries[cur]; ok {
			return s
		}
	}
	return m.all
}

// Get returns the node's own entry (nil if none), without walking up to an
// ancestor. Used by rebalance to test membership at an exact node.
func (m *AllocationMap) Get(n *tree.Node) WorkerSet {
	return m.entries[n]
}

// Set overwrites n's entry outright (spec.md 4.F reassignment path).
func (m *AllocationMap) Set(n *tree.Node, s WorkerSet) {
	m.entries[n] = s
}

// ResetAllocation implements histogram.AllocationResetter: when a
// histogram entry fully decays, its allocation set resets to empty.
func (m *AllocationMap) ResetAllocation(n *tree.Node) {
	m.entries[n] = WorkerSet{}
}

// PropagateAllocationUpwards unions workerSet into the allocation map at
// every ancestor of leaf, inclusive.
func (m *AllocationMap) PropagateAllocationUpwards(leaf *tree.Node, workerSet WorkerSet) {
	for n := leaf; n != nil; n = n.Parent {
		cur := m.entries[n]
		if cur == nil {
			cur = make(WorkerSet, len(workerSet))
		}
		for w := range workerSet {
			cur[w] = struct{}{}
		}
		m.entries[n] = cur
	}
}

// SetDescendants overwrites every descendant of n's allocation entry to
// {w}, recursively (spec.md 4.F step 5's "update_children").
func (m *AllocationMap) SetDescendants(n *tree.Node, w tree.WorkerId) {
	for _, c := range n.Children {
		m.entries[c] = newWorkerSet(w)
		m.SetDescendants(c, w)
	}
}

// RemoveWorkerRecursive drops w from n's entry and, only while the entry
// exists and still contains w, continues into n's children. Ported from
// the original scheduler's evict_callback /
// remove_allocations_recursive_for_children (original_source/multi_node/
// global_scheduler.py), gated by the caller on n.IsLarge() the same way
// the original only recurses for large (important) nodes.
func (m *AllocationMap) RemoveWorkerRecursive(n *tree.Node, w tree.WorkerId) {
	s, ok := m.entries[n]
	if !ok {
		return
	}
	if _, ok := s[w]; !ok {
		return
	}
	delete(s, w)
	for _, c := range n.Children {
		m.RemoveWorkerRecursive(c, w)
	}
}

// Rename is a rename pair produced by HandleSplit: old's identity in the
// histogram and overload detector must move to new because new is now the
// important node where old used to be.
type Rename struct {
	Old, New *tree.Node
}

// HandleSplit copies each split child's allocation entry onto its new
// intermediate (spec.md 4.D), and reports every (child, intermediate) pair
// where the intermediate became large while the node now holding the
// child's remaining suffix is not large — the caller (sched) applies the
// resulting renames to the histogram and overload detector, which
// placement does not import to avoid a cycle (histogram.PerWorkerLoad is
// itself called from this package).
func (m *AllocationMap) HandleSplit(splits tree.SplitMap) []Rename {
	var renames []Rename
	for child, intermediate := range splits {
		if s, ok := m.entries[child]; ok {
			m.entries[intermediate] = s
		}
		remainder := intermediate.Children[child.Value[intermediate.NumTokens]]
		if intermediate.IsLarge() && !remainder.IsLarge() {
			renames = append(renames, Rename{Old: child, New: intermediate})
		}
	}
	return renames
}
