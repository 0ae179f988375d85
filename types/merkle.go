// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"github.com/luxfi/crypto/hash"
)

// MerkleRoot computes the root of a binary merkle tree over the
// transaction IDs, in block order. A level with an odd number of nodes
// duplicates its last node. The empty list hashes to the zero hash.
func MerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return EmptyHash
	}

	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.ID()
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:len(level)/2]
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b Hash) Hash {
	buf := make([]byte, 0, 2*HashLen)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return hash.ComputeHash256Array(buf)
}
