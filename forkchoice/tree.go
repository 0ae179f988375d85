// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package forkchoice maintains the tree of candidate blocks past the last
// finalized block and computes the canonical head.
//
// The tree is a flat map from block hash to node with children referenced
// by hash, not by pointer, so it has no ownership cycles and prunes
// trivially. Each node carries a cumulative GHOST-style weight: the stake
// of its own proposer plus the weight of every descendant. The head is the
// leaf with the greatest weight; ties break toward the lowest hash so that
// every node resolves equal forks identically.
package forkchoice

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"

	"github.com/luxfi/pos/types"
)

var (
	ErrOrphanBlock    = errors.New("orphan block: unknown parent")
	ErrDuplicateBlock = errors.New("block already in tree")
	ErrUnknownBlock   = errors.New("block not in tree")
)

// BlockNode is one candidate block in the tree.
type BlockNode struct {
	ID       types.Hash
	ParentID types.Hash
	Height   uint64
	Proposer types.Address

	// SelfWeight is the proposer's active stake when the block was
	// inserted.
	SelfWeight uint64

	// Weight is SelfWeight plus the Weight of all descendants.
	Weight uint64

	// Children holds the hashes of known child blocks.
	Children []types.Hash
}

func (n *BlockNode) isLeaf() bool {
	return len(n.Children) == 0
}

// Tree is the fork-choice state rooted at the last finalized block.
// Correct under arbitrary insertion order of otherwise-valid blocks.
type Tree struct {
	mu  sync.RWMutex
	log log.Logger

	nodes map[types.Hash]*BlockNode
	root  types.Hash
	head  types.Hash
}

// New creates a tree rooted at the given block, typically genesis or the
// last finalized block on startup.
func New(rootID types.Hash, rootHeight uint64, logger log.Logger) *Tree {
	root := &BlockNode{
		ID:     rootID,
		Height: rootHeight,
	}
	return &Tree{
		log:   logger,
		nodes: map[types.Hash]*BlockNode{rootID: root},
		root:  rootID,
		head:  rootID,
	}
}

// Add inserts a block with the proposer's stake as its weight increment.
// Unknown parents are rejected with ErrOrphanBlock and leave the tree
// unchanged; re-insertion of a known block is rejected with
// ErrDuplicateBlock.
func (t *Tree) Add(id, parentID types.Hash, height uint64, proposer types.Address, stake uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, id)
	}
	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrphanBlock, parentID)
	}

	node := &BlockNode{
		ID:         id,
		ParentID:   parentID,
		Height:     height,
		Proposer:   proposer,
		SelfWeight: stake,
		Weight:     stake,
	}
	t.nodes[id] = node
	parent.Children = append(parent.Children, id)

	// Propagate the new stake up the ancestor chain.
	for ancestor := parent; ; {
		ancestor.Weight += stake
		if ancestor.ID == t.root {
			break
		}
		next, ok := t.nodes[ancestor.ParentID]
		if !ok {
			break
		}
		ancestor = next
	}

	t.recomputeHead()
	return nil
}

// recomputeHead walks from the root, at each level descending into the
// child subtree with the greatest cumulative weight, breaking ties toward
// the lexicographically smallest hash. The walk ends at a leaf, the
// canonical head. Because every comparison uses only subtree weights, the
// result is independent of insertion order. Caller holds the write lock.
func (t *Tree) recomputeHead() {
	n := t.nodes[t.root]
	for !n.isLeaf() {
		var best *BlockNode
		for _, childID := range n.Children {
			child := t.nodes[childID]
			switch {
			case best == nil,
				child.Weight > best.Weight,
				child.Weight == best.Weight && bytes.Compare(child.ID[:], best.ID[:]) < 0:
				best = child
			}
		}
		n = best
	}
	t.head = n.ID
}

// Head returns the canonical head hash.
func (t *Tree) Head() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head
}

// HeadNode returns a copy of the canonical head node.
func (t *Tree) HeadNode() BlockNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *t.nodes[t.head]
}

// Get returns a copy of the node with the given hash.
func (t *Tree) Get(id types.Hash) (BlockNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[id]
	if !ok {
		return BlockNode{}, false
	}
	return *n, true
}

// Has reports whether the block is in the tree.
func (t *Tree) Has(id types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// Len returns the number of nodes in the tree, including the root.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Root returns the current root hash.
func (t *Tree) Root() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// CanonicalAt walks back from the head and returns the canonical block
// hash at the given height, if it is within the tree.
func (t *Tree) CanonicalAt(height uint64) (types.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.nodes[t.head]
	for n != nil && n.Height > height {
		n = t.nodes[n.ParentID]
	}
	if n == nil || n.Height != height {
		return types.EmptyHash, false
	}
	return n.ID, true
}

// IsAncestor reports whether a is an ancestor of b (or equal to it).
func (t *Tree) IsAncestor(a, b types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.nodes[b]
	for n != nil {
		if n.ID == a {
			return true
		}
		if n.ID == t.root {
			return false
		}
		n = t.nodes[n.ParentID]
	}
	return false
}

// Prune re-roots the tree at the newly finalized block, discarding every
// branch that does not descend from it. Returns the number of discarded
// nodes.
func (t *Tree) Prune(finalized types.Hash) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRoot, ok := t.nodes[finalized]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBlock, finalized)
	}

	keep := make(map[types.Hash]*BlockNode, len(t.nodes))
	stack := []types.Hash{finalized}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.nodes[id]
		keep[id] = n
		stack = append(stack, n.Children...)
	}

	pruned := len(t.nodes) - len(keep)
	t.nodes = keep
	t.root = finalized
	newRoot.ParentID = types.EmptyHash

	t.recomputeHead()
	if pruned > 0 {
		t.log.Debug("pruned fork-choice tree",
			"finalized", finalized,
			"discarded", pruned,
			"remaining", len(keep),
		)
	}
	return pruned, nil
}
