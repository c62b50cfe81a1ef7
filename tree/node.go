// Package tree implements the shared radix prefix tree (spec.md component
// A): the structure workers' KV-caches are tracked against, keyed by token
// prefixes. Grounded on the teacher's lru package (container/heap-ordered
// eviction over *cluster.LOM) and on the plain parent-pointer, map-of-edges
// shape used throughout _examples/banks-go-immutable-radix, simplified to a
// single mutable tree since aistore's GC makes the arena-of-handles scheme
// spec.md's design notes recommend for ownership languages unnecessary: a
// plain *Node parent back-link is already cycle-safe and O(1) to follow.
package tree

import "github.com/globalsched/scheduler/cmn"

// Token is a single vocabulary entry. TokenSeq is a request's token
// sequence, oldest-first.
type Token uint32

type TokenSeq []Token

// WorkerId identifies one inference worker, always in [0, N).
type WorkerId int

// Node is one edge-label in the tree: Value is the token segment owned by
// this node (non-empty, except for the root), Parent is a weak back-link
// used only for upward walks.
type Node struct {
	ID    uint64
	Value TokenSeq

	ContextLength int // cumulative length from root through this node
	NumTokens     int // == len(Value)

	Children map[Token]*Node // keyed by Value[0] of the child
	Parent   *Node

	CachedGPUs  map[WorkerId]struct{}
	EvictedGPUs map[WorkerId]struct{}
	RefCounter  map[WorkerId]int

	LastAccess int64 // monotonic nanoseconds, see cmn.Now
}

func newNode(id uint64, value TokenSeq, parent *Node, now int64) *Node {
	n := &Node{
		ID:          id,
		Value:       value,
		NumTokens:   len(value),
		Parent:      parent,
		Children:    make(map[Token]*Node),
		CachedGPUs:  make(map[WorkerId]struct{}),
		EvictedGPUs: make(map[WorkerId]struct{}),
		RefCounter:  make(map[WorkerId]int),
		LastAccess:  now,
	}
	if parent != nil {
		n.ContextLength = parent.ContextLength + n.NumTokens
	} else {
		n.ContextLength = n.NumTokens
	}
	return n
}

// IsLarge reports whether this node's own segment dominates the path
// leading to it (spec.md section 3: num_tokens > context_length -
// num_tokens). The root is never large (num_tokens == 0).
func (n *Node) IsLarge() bool {
	if n == nil {
		return false
	}
	return n.NumTokens > n.ContextLength-n.NumTokens
}

// IsSmall is the complement of IsLarge.
func (n *Node) IsSmall() bool { return !n.IsLarge() }

// ImportantAncestor returns the nearest ancestor (inclusive) that is large.
// Guaranteed to terminate because a direct child of the root has
// ContextLength == NumTokens and is therefore always large.
func (n *Node) ImportantAncestor() *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.IsLarge() {
			return cur
		}
	}
	cmn.AssertMsg(false, "no large ancestor found up to the root")
	return nil
}

// HasCachedGPU reports whether w is currently believed to hold this prefix
// warm.
func (n *Node) HasCachedGPU(w WorkerId) bool {
	_, ok := n.CachedGPUs[w]
	return ok
}

func cloneWorkerSet(s map[WorkerId]struct{}) map[WorkerId]struct{} {
	out := make(map[WorkerId]struct{}, len(s))
	for w := range s {
		out[w] = struct{}{}
	}
	return out
}

func cloneRefCounter(s map[WorkerId]int) map[WorkerId]int {
	out := make(map[WorkerId]int, len(s))
	for w, c := range s {
		out[w] = c
	}
	return out
}
