// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"github.com/luxfi/pos/types"
)

// orphanBuffer holds blocks whose parent has not been seen yet, keyed by
// the missing parent. Bounded; when full the oldest orphan is evicted.
type orphanBuffer struct {
	limit    int
	byParent map[types.Hash][]*types.Block
	known    map[types.Hash]types.Hash // block ID -> parent ID
	order    []types.Hash              // block IDs, oldest first
}

func newOrphanBuffer(limit int) *orphanBuffer {
	return &orphanBuffer{
		limit:    limit,
		byParent: make(map[types.Hash][]*types.Block),
		known:    make(map[types.Hash]types.Hash),
	}
}

// add buffers blk. Returns false if the block was already buffered.
func (b *orphanBuffer) add(blk *types.Block) bool {
	id := blk.ID()
	if _, ok := b.known[id]; ok {
		return false
	}
	for len(b.known) >= b.limit {
		b.evictOldest()
	}
	b.known[id] = blk.ParentID
	b.byParent[blk.ParentID] = append(b.byParent[blk.ParentID], blk)
	b.order = append(b.order, id)
	return true
}

// take removes and returns all orphans waiting on parentID.
func (b *orphanBuffer) take(parentID types.Hash) []*types.Block {
	blks := b.byParent[parentID]
	if len(blks) == 0 {
		return nil
	}
	delete(b.byParent, parentID)
	for _, blk := range blks {
		delete(b.known, blk.ID())
	}
	return blks
}

// evictBelow drops every buffered block at or below height. Blocks there
// can never attach once that height has been finalized.
func (b *orphanBuffer) evictBelow(height uint64) {
	for parentID, blks := range b.byParent {
		kept := blks[:0]
		for _, blk := range blks {
			if blk.Height <= height {
				delete(b.known, blk.ID())
			} else {
				kept = append(kept, blk)
			}
		}
		if len(kept) == 0 {
			delete(b.byParent, parentID)
		} else {
			b.byParent[parentID] = kept
		}
	}
}

func (b *orphanBuffer) evictOldest() {
	for len(b.order) > 0 {
		id := b.order[0]
		b.order = b.order[1:]
		parentID, ok := b.known[id]
		if !ok {
			continue
		}
		delete(b.known, id)
		kept := b.byParent[parentID][:0]
		for _, blk := range b.byParent[parentID] {
			if blk.ID() != id {
				kept = append(kept, blk)
			}
		}
		if len(kept) == 0 {
			delete(b.byParent, parentID)
		} else {
			b.byParent[parentID] = kept
		}
		return
	}
}

func (b *orphanBuffer) len() int {
	return len(b.known)
}
