// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"
	"sync"

	"github.com/luxfi/pos/types"
)

var (
	ErrPoolFull      = errors.New("transaction pool is full")
	ErrAlreadyPooled = errors.New("transaction already in pool")
)

// txPool holds verified transactions awaiting inclusion, in arrival
// order. Validity against the ledger is the caller's business; the pool
// only deduplicates and bounds memory.
type txPool struct {
	mu    sync.Mutex
	limit int
	order []types.Hash
	txs   map[types.Hash]*types.Transaction
}

func newTxPool(limit int) *txPool {
	return &txPool{
		limit: limit,
		txs:   make(map[types.Hash]*types.Transaction, limit),
	}
}

func (p *txPool) add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := tx.ID()
	if _, ok := p.txs[id]; ok {
		return ErrAlreadyPooled
	}
	if len(p.txs) >= p.limit {
		return ErrPoolFull
	}
	p.txs[id] = tx
	p.order = append(p.order, id)
	return nil
}

// pending returns up to max pooled transactions in arrival order.
func (p *txPool) pending(max int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*types.Transaction, 0, min(max, len(p.txs)))
	for _, id := range p.order {
		if tx, ok := p.txs[id]; ok {
			out = append(out, tx)
			if len(out) == max {
				break
			}
		}
	}
	return out
}

// removeAll drops the given transactions, typically after block inclusion.
func (p *txPool) removeAll(txs []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tx := range txs {
		delete(p.txs, tx.ID())
	}
	p.compact()
}

// drop removes a single transaction by ID.
func (p *txPool) drop(id types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.txs, id)
	p.compact()
}

// compact rebuilds the order slice once deletions leave too many holes.
func (p *txPool) compact() {
	if len(p.order) < 2*len(p.txs)+16 {
		return
	}
	kept := make([]types.Hash, 0, len(p.txs))
	for _, id := range p.order {
		if _, ok := p.txs[id]; ok {
			kept = append(kept, id)
		}
	}
	p.order = kept
}

func (p *txPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}
