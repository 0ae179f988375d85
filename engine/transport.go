// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"github.com/luxfi/pos/types"
)

// Transport is the engine's outbound network surface. Implementations
// must not block; the engine calls these from its write path.
type Transport interface {
	// BroadcastBlock announces a locally produced block to peers.
	BroadcastBlock(*types.Block)

	// BroadcastTransaction gossips a transaction accepted into the pool.
	BroadcastTransaction(*types.Transaction)

	// RequestBlock asks peers for a block body the engine is missing,
	// typically the unknown parent of a buffered orphan.
	RequestBlock(types.Hash)
}

// NoopTransport discards everything. Used by single-node setups and tests.
type NoopTransport struct{}

func (NoopTransport) BroadcastBlock(*types.Block)             {}
func (NoopTransport) BroadcastTransaction(*types.Transaction) {}
func (NoopTransport) RequestBlock(types.Hash)                 {}
