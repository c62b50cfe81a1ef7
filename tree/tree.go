package tree

import (
	"container/heap"

	"github.com/globalsched/scheduler/cmn"
)

// SplitMap records every old-child -> new-intermediate mapping produced by
// one Insert call, so the caller can propagate the split to the histogram,
// overload detector, and allocation map (spec.md section 4.A/4.D).
type SplitMap map[*Node]*Node

// Tree is the shared radix prefix tree. Not safe for concurrent use on its
// own: the scheduler funnels every mutation through its single coarse lock
// (spec.md section 5).
type Tree struct {
	Root *Node

	nextID        uint64
	numWorkers    int
	allocatedSize []int64 // per-worker running total, see AllocatedSize
}

func New(numWorkers int) *Tree {
	t := &Tree{numWorkers: numWorkers, allocatedSize: make([]int64, numWorkers)}
	t.Root = newNode(0, nil, nil, 0)
	t.nextID = 1
	return t
}

func commonPrefixLen(a, b TokenSeq) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Insert walks from the root matching the longest common prefix of seq at
// each step, splitting an existing child on partial match, and returns the
// node whose path exactly equals seq. Every old_child -> new_intermediate
// mapping produced along the way is recorded in splits.
func (t *Tree) Insert(seq TokenSeq, now int64, splits SplitMap) *Node {
	cmn.AssertMsg(len(seq) > 0, "cannot insert an empty token sequence")

	cur := t.Root
	idx := 0
	for {
		cur.LastAccess = now
		if idx == len(seq) {
			return cur
		}
		first := seq[idx]
		child, ok := cur.Children[first]
		if !ok {
			leaf := newNode(t.nextID, seq[idx:], cur, now)
			t.nextID++
			cur.Children[first] = leaf
			return leaf
		}

		cpl := commonPrefixLen(seq[idx:], child.Value)
		if cpl == len(child.Value) {
			idx += cpl
			cur = child
			continue
		}

		// Partial match: split child into an intermediate holding the
		// common prefix and a remainder holding child's former suffix.
		intermediate := newNode(t.nextID, child.Value[:cpl], cur, now)
		t.nextID++
		intermediate.CachedGPUs = cloneWorkerSet(child.CachedGPUs)
		intermediate.EvictedGPUs = cloneWorkerSet(child.EvictedGPUs)
		intermediate.RefCounter = cloneRefCounter(child.RefCounter)
		intermediate.LastAccess = child.LastAccess
		cur.Children[first] = intermediate

		remainder := newNode(t.nextID, child.Value[cpl:], intermediate, now)
		t.nextID++
		remainder.Children = child.Children
		for _, gc := range remainder.Children {
			gc.Parent = remainder
		}
		intermediate.Children[remainder.Value[0]] = remainder

		if splits != nil {
			splits[child] = intermediate
		}

		if idx+cpl == len(seq) {
			return intermediate
		}
		suffix := newNode(t.nextID, seq[idx+cpl:], intermediate, now)
		t.nextID++
		intermediate.Children[suffix.Value[0]] = suffix
		return suffix
	}
}

// Find performs a longest-prefix match that must fully cover seq, returning
// nil if no node's root-to-node path exactly equals seq.
func (t *Tree) Find(seq TokenSeq) *Node {
	cur := t.Root
	idx := 0
	for idx < len(seq) {
		first := seq[idx]
		child, ok := cur.Children[first]
		if !ok {
			return nil
		}
		cpl := commonPrefixLen(seq[idx:], child.Value)
		if cpl != len(child.Value) {
			return nil
		}
		idx += cpl
		cur = child
	}
	return cur
}

// AllocatedSize returns the sum of num_tokens for nodes currently marked
// cached on worker w (spec.md testable property 3).
func (t *Tree) AllocatedSize(w WorkerId) int64 {
	return t.allocatedSize[int(w)]
}

// UpdateAllocatedSize marks w cached along leaf's ancestry (the tree-owned
// half of 4.D's update_gpu_cache_for_parent) and adjusts AllocatedSize(w)
// for every ancestor not already marked, so the running total never
// double-counts a node.
func (t *Tree) UpdateAllocatedSize(leaf *Node, w WorkerId) {
	for n := leaf; n != nil; n = n.Parent {
		if _, ok := n.CachedGPUs[w]; !ok {
			n.CachedGPUs[w] = struct{}{}
			t.allocatedSize[int(w)] += int64(n.NumTokens)
		}
	}
}

// IncrementRef bumps ref_counter[w] along leaf's ancestry for one in-flight
// request; RemoveCompleted undoes it on finish.
func (t *Tree) IncrementRef(leaf *Node, w WorkerId) {
	for n := leaf; n != nil; n = n.Parent {
		n.RefCounter[w]++
	}
}

// RemoveCompleted decrements ref_counter[w] along seq's path. Calling it
// twice for the same (seq, worker) underflows the counter, which is a bug
// spec.md section 5 requires the test suite to catch: it panics via
// cmn.Assert rather than silently wrapping.
func (t *Tree) RemoveCompleted(seq TokenSeq, w WorkerId) {
	leaf := t.Find(seq)
	cmn.AssertMsg(leaf != nil, "remove_completed: no node for given token sequence")
	for n := leaf; n != nil; n = n.Parent {
		cmn.AssertMsg(n.RefCounter[w] > 0, "ref-count underflow for worker %d on node %d", w, n.ID)
		n.RefCounter[w]--
	}
}

// onEvictFn is invoked once per evicted (node, worker) pair, in LRU order,
// before the node's cached_gpus/evicted_gpus bookkeeping is updated. It
// lets the caller (sched) clear the node's allocation-map entry.
type onEvictFn func(n *Node, w WorkerId)

// lruHeap is a container/heap.Interface over candidate nodes ordered by
// last_access_time, the same minHeap shape as the teacher's lru.go (there
// over *cluster.LOM, here over *Node).
type lruHeap []*Node

func (h lruHeap) Len() int            { return len(h) }
func (h lruHeap) Less(i, j int) bool  { return h[i].LastAccess < h[j].LastAccess }
func (h lruHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lruHeap) Push(x interface{}) { *h = append(*h, x.(*Node)) }
func (h *lruHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (t *Tree) collectEvictable(n *Node, w WorkerId, h *lruHeap) {
	if n != t.Root {
		if _, cached := n.CachedGPUs[w]; cached && n.RefCounter[w] == 0 {
			heap.Push(h, n)
		}
	}
	for _, c := range n.Children {
		t.collectEvictable(c, w, h)
	}
}

// Evict selects nodes by least-recently-used order, restricted to nodes
// with w in cached_gpus and no in-flight references on w, and invokes
// onEvict(node, w) until bytesToFree tokens have been freed or no further
// evictable node remains. It never deletes a node from the tree (spec.md
// section 4.A). Returns the number of tokens actually freed.
func (t *Tree) Evict(w WorkerId, bytesToFree int64, onEvict onEvictFn) int64 {
	h := &lruHeap{}
	heap.Init(h)
	t.collectEvictable(t.Root, w, h)

	var freed int64
	for freed < bytesToFree && h.Len() > 0 {
		n := heap.Pop(h).(*Node)
		if onEvict != nil {
			onEvict(n, w)
		}
		cmn.AssertMsg(n.HasCachedGPU(w), "evict: node %d lost cached_gpus[%d] before eviction ran", n.ID, w)
		delete(n.CachedGPUs, w)
		n.EvictedGPUs[w] = struct{}{}
		t.allocatedSize[int(w)] -= int64(n.NumTokens)
		freed += int64(n.NumTokens)
	}
	cmn.AssertMsg(t.allocatedSize[int(w)] >= 0, "allocated_size went negative for worker %d", w)
	return freed
}
