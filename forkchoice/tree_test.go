// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkchoice

import (
	"bytes"
	"testing"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pos/types"
)

var testKeys = secp256k1.TestKeys()

func testAddr(i int) types.Address {
	return testKeys[i].PublicKey().Address()
}

func newTestTree(t *testing.T) (*Tree, types.Hash) {
	t.Helper()

	root := ids.GenerateTestID()
	return New(root, 0, log.NoLog{}), root
}

func TestAddAndHead(t *testing.T) {
	require := require.New(t)
	tree, root := newTestTree(t)
	require.Equal(root, tree.Head())

	b1 := ids.GenerateTestID()
	require.NoError(tree.Add(b1, root, 1, testAddr(0), 100))
	require.Equal(b1, tree.Head())

	b2 := ids.GenerateTestID()
	require.NoError(tree.Add(b2, b1, 2, testAddr(1), 100))
	require.Equal(b2, tree.Head())
	require.Equal(uint64(2), tree.HeadNode().Height)
}

func TestAddRejectsOrphanAndDuplicate(t *testing.T) {
	require := require.New(t)
	tree, root := newTestTree(t)

	err := tree.Add(ids.GenerateTestID(), ids.GenerateTestID(), 1, testAddr(0), 100)
	require.ErrorIs(err, ErrOrphanBlock)

	b1 := ids.GenerateTestID()
	require.NoError(tree.Add(b1, root, 1, testAddr(0), 100))
	err = tree.Add(b1, root, 1, testAddr(0), 100)
	require.ErrorIs(err, ErrDuplicateBlock)
}

func TestHeadFollowsHeaviestSubtree(t *testing.T) {
	require := require.New(t)
	tree, root := newTestTree(t)

	// Fork at height 1: branch A has one heavy block, branch B is longer
	// but lighter in total weight.
	a1 := ids.GenerateTestID()
	require.NoError(tree.Add(a1, root, 1, testAddr(0), 500))

	b1 := ids.GenerateTestID()
	require.NoError(tree.Add(b1, root, 1, testAddr(1), 100))
	b2 := ids.GenerateTestID()
	require.NoError(tree.Add(b2, b1, 2, testAddr(2), 100))
	b3 := ids.GenerateTestID()
	require.NoError(tree.Add(b3, b2, 3, testAddr(3), 100))

	require.Equal(a1, tree.Head())

	// Another 300 on the B branch tips the balance (400 vs 500 still
	// favors A; 700 wins).
	b4 := ids.GenerateTestID()
	require.NoError(tree.Add(b4, b3, 4, testAddr(4), 400))
	require.Equal(b4, tree.Head())
}

func TestHeadInsertionOrderInvariant(t *testing.T) {
	require := require.New(t)

	root := ids.GenerateTestID()
	type blockAdd struct {
		id, parent types.Hash
		height     uint64
		proposer   types.Address
		stake      uint64
	}

	a1, a2 := ids.GenerateTestID(), ids.GenerateTestID()
	b1, b2 := ids.GenerateTestID(), ids.GenerateTestID()
	blocks := []blockAdd{
		{a1, root, 1, testAddr(0), 300},
		{a2, a1, 2, testAddr(1), 100},
		{b1, root, 1, testAddr(2), 200},
		{b2, b1, 2, testAddr(3), 100},
	}
	orders := [][]int{
		{0, 1, 2, 3},
		{2, 3, 0, 1},
		{0, 2, 1, 3},
		{2, 0, 3, 1},
	}

	var want types.Hash
	for i, order := range orders {
		tree := New(root, 0, log.NoLog{})
		for _, j := range order {
			blk := blocks[j]
			require.NoError(tree.Add(blk.id, blk.parent, blk.height, blk.proposer, blk.stake))
		}
		if i == 0 {
			want = tree.Head()
		} else {
			require.Equal(want, tree.Head())
		}
	}
}

func TestHeadTieBreaksOnLowerHash(t *testing.T) {
	require := require.New(t)
	tree, root := newTestTree(t)

	x := ids.GenerateTestID()
	y := ids.GenerateTestID()
	require.NoError(tree.Add(x, root, 1, testAddr(0), 100))
	require.NoError(tree.Add(y, root, 1, testAddr(1), 100))

	head := tree.Head()
	if bytes.Compare(x[:], y[:]) < 0 {
		require.Equal(x, head)
	} else {
		require.Equal(y, head)
	}
}

func TestCanonicalAtAndIsAncestor(t *testing.T) {
	require := require.New(t)
	tree, root := newTestTree(t)

	b1 := ids.GenerateTestID()
	b2 := ids.GenerateTestID()
	require.NoError(tree.Add(b1, root, 1, testAddr(0), 100))
	require.NoError(tree.Add(b2, b1, 2, testAddr(1), 100))

	id, ok := tree.CanonicalAt(1)
	require.True(ok)
	require.Equal(b1, id)

	require.True(tree.IsAncestor(root, b2))
	require.True(tree.IsAncestor(b1, b2))
	require.False(tree.IsAncestor(b2, b1))
}

func TestPruneReroots(t *testing.T) {
	require := require.New(t)
	tree, root := newTestTree(t)

	// Two branches; finalize the first block of the heavy one.
	a1 := ids.GenerateTestID()
	a2 := ids.GenerateTestID()
	b1 := ids.GenerateTestID()
	require.NoError(tree.Add(a1, root, 1, testAddr(0), 300))
	require.NoError(tree.Add(a2, a1, 2, testAddr(1), 100))
	require.NoError(tree.Add(b1, root, 1, testAddr(2), 200))

	pruned, err := tree.Prune(a1)
	require.NoError(err)
	require.Equal(2, pruned) // old root and the b branch

	require.Equal(a1, tree.Root())
	require.Equal(a2, tree.Head())
	require.False(tree.Has(b1))
	require.False(tree.Has(root))
	require.True(tree.Has(a2))
}
