package overload_test

import (
	"testing"

	"github.com/globalsched/scheduler/overload"
	"github.com/globalsched/scheduler/tree"
)

func TestNotOverloadedWithOnlyOneHalfPopulated(t *testing.T) {
	d := overload.New(100)
	tr := tree.New(1)
	n := tr.Insert(tree.TokenSeq{1, 2, 3}, 0, tree.SplitMap{})

	d.AddDataPoint(0, n, 0, 10)
	if d.IsOverloaded(n, 0, 5) {
		t.Fatalf("expected not overloaded: first half empty")
	}
}

func TestOverloadedWhenSecondHalfDoublesFirst(t *testing.T) {
	d := overload.New(100)
	tr := tree.New(1)
	n := tr.Insert(tree.TokenSeq{1, 2, 3}, 0, tree.SplitMap{})

	// window [now-100, now], half window cutoff = now-50.
	d.AddDataPoint(0, n, 0, 10)  // first half
	d.AddDataPoint(60, n, 0, 30) // second half: mean 30 >= 2*10
	if !d.IsOverloaded(n, 0, 90) {
		t.Fatalf("expected overloaded")
	}
}

func TestNotOverloadedBelowThreshold(t *testing.T) {
	d := overload.New(100)
	tr := tree.New(1)
	n := tr.Insert(tree.TokenSeq{1, 2, 3}, 0, tree.SplitMap{})

	d.AddDataPoint(0, n, 0, 10)
	d.AddDataPoint(60, n, 0, 15) // mean 15 < 2*10
	if d.IsOverloaded(n, 0, 90) {
		t.Fatalf("expected not overloaded")
	}
}

func TestDeleteAfterAllocationClearsSeries(t *testing.T) {
	d := overload.New(100)
	tr := tree.New(1)
	n := tr.Insert(tree.TokenSeq{1, 2, 3}, 0, tree.SplitMap{})

	d.AddDataPoint(0, n, 0, 10)
	d.AddDataPoint(60, n, 0, 30)
	d.DeleteAfterAllocation(n, 0)
	if d.IsOverloaded(n, 0, 90) {
		t.Fatalf("expected series to be cleared")
	}
}

func TestRenameMovesSeries(t *testing.T) {
	d := overload.New(100)
	tr := tree.New(1)
	oldNode := tr.Insert(tree.TokenSeq{1, 2, 3}, 0, tree.SplitMap{})
	newNode := tr.Insert(tree.TokenSeq{9, 9, 9, 9, 9}, 0, tree.SplitMap{})

	d.AddDataPoint(0, oldNode, 0, 10)
	d.AddDataPoint(60, oldNode, 0, 30)
	d.Rename(oldNode, newNode, 0)

	if d.IsOverloaded(oldNode, 0, 90) {
		t.Fatalf("old node's series should be gone")
	}
	if !d.IsOverloaded(newNode, 0, 90) {
		t.Fatalf("new node should carry the renamed series")
	}
}
