package placement_test

import (
	"testing"

	"github.com/globalsched/scheduler/histogram"
	"github.com/globalsched/scheduler/placement"
	"github.com/globalsched/scheduler/tree"
)

// TestS1ColdFirstRequestGoesToWorkerZero mirrors spec.md scenario S1.
func TestS1ColdFirstRequestGoesToWorkerZero(t *testing.T) {
	tr := tree.New(2)
	alloc := placement.NewAllocationMap(2)
	hist := histogram.New(1000, 2, alloc)

	leaf := tr.Insert(tree.TokenSeq{10, 11, 12, 13}, 1, tree.SplitMap{})
	decision := alloc.Decide(leaf, nil, hist, "req-1")
	if decision.Chosen != 0 {
		t.Fatalf("expected worker 0 on a cold cluster, got %d", decision.Chosen)
	}

	alloc.PropagateAllocationUpwards(leaf, decision.Workers)
	tr.UpdateAllocatedSize(leaf, decision.Chosen)
	hist.Update(1, leaf.ImportantAncestor(), leaf)

	got := alloc.Get(leaf)
	if _, ok := got[0]; !ok || len(got) != 1 {
		t.Fatalf("expected exactly worker 0 allocated to the important node, got %v", got)
	}
}

// TestS2SmallLeafInheritsParentAllocation mirrors spec.md scenario S2.
func TestS2SmallLeafInheritsParentAllocation(t *testing.T) {
	tr := tree.New(2)
	alloc := placement.NewAllocationMap(2)
	hist := histogram.New(1000, 2, alloc)

	leaf := tr.Insert(tree.TokenSeq{10, 11, 12, 13}, 1, tree.SplitMap{})
	d1 := alloc.Decide(leaf, nil, hist, "req-1")
	alloc.PropagateAllocationUpwards(leaf, d1.Workers)
	tr.UpdateAllocatedSize(leaf, d1.Chosen)
	hist.Update(1, leaf.ImportantAncestor(), leaf)

	leaf2 := tr.Insert(tree.TokenSeq{10, 11, 12, 13, 14}, 2, tree.SplitMap{})
	if !leaf2.IsSmall() {
		t.Fatalf("expected the extended leaf to be small relative to its context")
	}
	d2 := alloc.Decide(leaf2, nil, hist, "req-2")
	if d2.Chosen != d1.Chosen {
		t.Fatalf("expected inherited worker %d, got %d", d1.Chosen, d2.Chosen)
	}
}

// TestS3SecondPrefixGoesToIdleWorker mirrors spec.md scenario S3.
func TestS3SecondPrefixGoesToIdleWorker(t *testing.T) {
	tr := tree.New(2)
	alloc := placement.NewAllocationMap(2)
	hist := histogram.New(1000, 2, alloc)

	leaf1 := tr.Insert(tree.TokenSeq{10, 11, 12, 13}, 1, tree.SplitMap{})
	d1 := alloc.Decide(leaf1, nil, hist, "req-1")
	alloc.PropagateAllocationUpwards(leaf1, d1.Workers)
	tr.UpdateAllocatedSize(leaf1, d1.Chosen)
	hist.Update(1, leaf1.ImportantAncestor(), leaf1)

	leaf2 := tr.Insert(tree.TokenSeq{20, 21, 22, 23}, 2, tree.SplitMap{})
	d2 := alloc.Decide(leaf2, nil, hist, "req-2")
	if d2.Chosen == d1.Chosen {
		t.Fatalf("expected the second, unrelated prefix to land on the idle worker")
	}
}

func TestPreferredWorkerShortCircuitsCostSearch(t *testing.T) {
	tr := tree.New(3)
	alloc := placement.NewAllocationMap(3)
	hist := histogram.New(1000, 3, alloc)

	leaf := tr.Insert(tree.TokenSeq{1, 2, 3}, 1, tree.SplitMap{})
	hinted := tree.WorkerId(2)
	d := alloc.Decide(leaf, &hinted, hist, "req")
	if d.Chosen != 2 {
		t.Fatalf("expected the preferred worker to be honored, got %d", d.Chosen)
	}
}

func TestHandleSplitCopiesAllocationAndFlagsRename(t *testing.T) {
	tr := tree.New(2)
	alloc := placement.NewAllocationMap(2)

	leaf := tr.Insert(tree.TokenSeq{10, 11, 12, 13, 14, 15}, 1, tree.SplitMap{})
	alloc.Set(leaf, placement.WorkerSet{0: {}})

	splits := tree.SplitMap{}
	tr.Insert(tree.TokenSeq{10, 11, 12, 99, 100}, 2, splits)

	renames := alloc.HandleSplit(splits)
	intermediate := splits[leaf]
	if got := alloc.Get(intermediate); len(got) != 1 {
		t.Fatalf("expected the intermediate to inherit the split child's allocation, got %v", got)
	}
	if len(renames) != 1 || renames[0].Old != leaf || renames[0].New != intermediate {
		t.Fatalf("expected a rename from the old child to the new intermediate, got %+v", renames)
	}
}
