// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// Receipt records the outcome of applying a single transaction.
type Receipt struct {
	TxID Hash

	// Succeeded reports whether the value transfer was applied.
	Succeeded bool

	// FeeCharged is the fee debited from the sender and credited to the
	// block proposer.
	FeeCharged uint64

	// Log is an opaque byte string emitted by the transfer, if any.
	Log []byte
}
