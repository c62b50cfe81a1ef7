package tree_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/globalsched/scheduler/tree"
)

func TestTree(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tree Suite")
}

func seq(vals ...uint32) tree.TokenSeq {
	out := make(tree.TokenSeq, len(vals))
	for i, v := range vals {
		out[i] = tree.Token(v)
	}
	return out
}

var _ = Describe("Tree", func() {
	var tr *tree.Tree

	BeforeEach(func() {
		tr = tree.New(2)
	})

	It("creates a single leaf on first insert", func() {
		leaf := tr.Insert(seq(10, 11, 12, 13), 1, tree.SplitMap{})
		Expect(leaf.NumTokens).To(Equal(4))
		Expect(leaf.ContextLength).To(Equal(4))
		Expect(leaf.Parent).To(Equal(tr.Root))
	})

	It("round-trips find() after unrelated inserts (property 6)", func() {
		leaf := tr.Insert(seq(10, 11, 12, 13), 1, tree.SplitMap{})
		tr.Insert(seq(20, 21, 22), 2, tree.SplitMap{})
		tr.Insert(seq(10, 11, 12, 13, 14, 15), 3, tree.SplitMap{})

		found := tr.Find(seq(10, 11, 12, 13))
		Expect(found).ToNot(BeNil())
		// the original leaf may have been split; find() must return
		// whichever node's path now exactly equals the sequence.
		Expect(found.ContextLength).To(Equal(4))
		_ = leaf
	})

	It("returns nil from find() for a sequence with no exact node", func() {
		tr.Insert(seq(10, 11, 12, 13, 14, 15), 1, tree.SplitMap{})
		Expect(tr.Find(seq(10, 11, 12))).To(BeNil())
		Expect(tr.Find(seq(10, 11, 99))).To(BeNil())
	})

	It("splits on partial match and records old->new in splits (S4)", func() {
		tr.Insert(seq(10, 11, 12, 13, 14, 15), 1, tree.SplitMap{})
		originalLeaf := tr.Find(seq(10, 11, 12, 13, 14, 15))
		Expect(originalLeaf).ToNot(BeNil())

		splits := tree.SplitMap{}
		leaf2 := tr.Insert(seq(10, 11, 12, 99, 100), 2, splits)

		Expect(splits).To(HaveLen(1))
		intermediate, ok := splits[originalLeaf]
		Expect(ok).To(BeTrue())
		Expect(intermediate.NumTokens).To(Equal(3)) // [10,11,12]
		Expect(intermediate.ContextLength).To(Equal(3))
		Expect(leaf2.Value).To(Equal(seq(99, 100)))

		// two no-two-children-share-a-leading-token + context_length
		// invariants (testable property 1) hold after the split.
		Expect(intermediate.Children).To(HaveLen(2))
		seen := map[tree.Token]bool{}
		for key, child := range intermediate.Children {
			Expect(seen[key]).To(BeFalse())
			seen[key] = true
			Expect(child.ContextLength).To(Equal(intermediate.ContextLength + child.NumTokens))
		}
	})

	It("inherits cached/evicted/ref/last_access onto the intermediate, not the remainder", func() {
		tr.Insert(seq(10, 11, 12, 13, 14, 15), 1, tree.SplitMap{})
		originalLeaf := tr.Find(seq(10, 11, 12, 13, 14, 15))
		tr.UpdateAllocatedSize(originalLeaf, 0)
		Expect(originalLeaf.HasCachedGPU(0)).To(BeTrue())

		splits := tree.SplitMap{}
		tr.Insert(seq(10, 11, 12, 99), 2, splits)
		intermediate := splits[originalLeaf]

		Expect(intermediate.HasCachedGPU(0)).To(BeTrue())
		remainder := intermediate.Children[13]
		Expect(remainder).ToNot(BeNil())
		Expect(remainder.HasCachedGPU(0)).To(BeFalse())
	})

	It("keeps allocated_size consistent with cached_gpus membership (property 3)", func() {
		leaf := tr.Insert(seq(1, 2, 3, 4), 1, tree.SplitMap{})
		tr.UpdateAllocatedSize(leaf, 0)
		Expect(tr.AllocatedSize(0)).To(Equal(int64(4)))

		// updating again for the same worker must not double-count.
		tr.UpdateAllocatedSize(leaf, 0)
		Expect(tr.AllocatedSize(0)).To(Equal(int64(4)))
	})

	It("evicts least-recently-used nodes first and never deletes from the tree", func() {
		leafA := tr.Insert(seq(1, 2, 3, 4), 1, tree.SplitMap{})
		tr.UpdateAllocatedSize(leafA, 0)
		tr.IncrementRef(leafA, 0)
		tr.RemoveCompleted(seq(1, 2, 3, 4), 0)

		leafB := tr.Insert(seq(9, 9, 9, 9), 5, tree.SplitMap{})
		tr.UpdateAllocatedSize(leafB, 0)
		tr.IncrementRef(leafB, 0)
		tr.RemoveCompleted(seq(9, 9, 9, 9), 0)

		var evicted []*tree.Node
		freed := tr.Evict(0, 4, func(n *tree.Node, w tree.WorkerId) {
			evicted = append(evicted, n)
		})
		Expect(freed).To(Equal(int64(4)))
		Expect(evicted).To(HaveLen(1))
		Expect(evicted[0]).To(Equal(leafA)) // older last_access wins

		Expect(tr.Find(seq(1, 2, 3, 4))).ToNot(BeNil()) // still in the tree
		Expect(leafA.HasCachedGPU(0)).To(BeFalse())
		Expect(leafA.EvictedGPUs).To(HaveKey(tree.WorkerId(0)))
	})

	It("panics on a ref-count underflow (finish called twice)", func() {
		leaf := tr.Insert(seq(1, 2, 3), 1, tree.SplitMap{})
		tr.IncrementRef(leaf, 0)
		tr.RemoveCompleted(seq(1, 2, 3), 0)
		Expect(func() { tr.RemoveCompleted(seq(1, 2, 3), 0) }).To(Panic())
	})

	It("never lets cached_gpus and evicted_gpus overlap (property 2)", func() {
		leaf := tr.Insert(seq(1, 2, 3), 1, tree.SplitMap{})
		tr.UpdateAllocatedSize(leaf, 0)
		tr.Evict(0, 100, func(n *tree.Node, w tree.WorkerId) {})
		for w := range leaf.CachedGPUs {
			_, inEvicted := leaf.EvictedGPUs[w]
			Expect(inEvicted).To(BeFalse())
		}
	})
})
