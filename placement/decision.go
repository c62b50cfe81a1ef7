package placement

import (
	"sort"
	"strconv"

	"github.com/OneOfOne/xxhash"

	"github.com/globalsched/scheduler/histogram"
	"github.com/globalsched/scheduler/tree"
)

// Decision is the outcome of Decide: the worker set a request's leaf was
// attributed to, and the single worker actually chosen from it.
type Decision struct {
	Workers WorkerSet
	Chosen  tree.WorkerId
}

// RecomputeCostBasic walks ancestors from n until either the root or a
// node with w already cached, summing num_tokens * ref_counter[w] over the
// uncached prefix (spec.md 4.E.1).
func RecomputeCostBasic(n *tree.Node, w tree.WorkerId) int64 {
	var cost int64
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.HasCachedGPU(w) {
			return cost
		}
		cost += int64(cur.NumTokens) * int64(cur.RefCounter[w])
	}
	return cost
}

// Decide implements spec.md section 4.E: small leaves inherit their
// parent's allocation, a caller-supplied preferred worker short-circuits
// the cost search, and otherwise the worker minimizing
// recompute-cost-basic + histogram load is chosen (ties broken by the
// lowest worker id).
func (m *AllocationMap) Decide(leaf *tree.Node, preferredWorker *tree.WorkerId, hist *histogram.Histogram, tieBreakKey string) Decision {
	if leaf.IsSmall() {
		workers := m.ParentAllocation(leaf)
		if len(workers) == 0 {
			workers = m.all
		}
		return Decision{Workers: workers, Chosen: pickDeterministic(workers, tieBreakKey, leaf)}
	}

	if preferredWorker != nil {
		ws := newWorkerSet(*preferredWorker)
		return Decision{Workers: ws, Chosen: *preferredWorker}
	}

	load := hist.PerWorkerLoad(func(n *tree.Node) map[tree.WorkerId]struct{} {
		return m.ParentAllocation(n)
	})

	best := tree.WorkerId(0)
	bestCost := float64(RecomputeCostBasic(leaf.Parent, 0)) + load[0]
	for w := 1; w < m.numWorkers; w++ {
		cost := float64(RecomputeCostBasic(leaf.Parent, tree.WorkerId(w))) + load[w]
		if cost < bestCost {
			bestCost = cost
			best = tree.WorkerId(w)
		}
	}
	return Decision{Workers: newWorkerSet(best), Chosen: best}
}

// pickDeterministic picks one worker from a (possibly multi-element) set.
// spec.md 4.E says "pick one uniformly at random (deterministic
// single-element case)"; SPEC_FULL.md resolves the multi-element case as a
// deterministic hash of the caller's tie-break key and the node's stable
// id, rather than an unseeded PRNG, so identical replayed requests route
// identically (testable property 7).
func pickDeterministic(workers WorkerSet, tieBreakKey string, leaf *tree.Node) tree.WorkerId {
	ids := make([]tree.WorkerId, 0, len(workers))
	for w := range workers {
		ids = append(ids, w)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 1 {
		return ids[0]
	}
	digest := xxhash.ChecksumString64S(tieBreakKey+":"+strconv.FormatUint(leaf.ID, 10), 0)
	idx := int(digest % uint64(len(ids)))
	return ids[idx]
}
