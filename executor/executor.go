// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package executor applies transactions to the ledger deterministically.
package executor

import (
	"errors"
	"fmt"

	"github.com/luxfi/cache"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/pos/state"
	"github.com/luxfi/pos/types"
)

const senderCacheSize = 2048

var (
	ErrNonceMismatch     = errors.New("transaction nonce does not match account nonce")
	ErrInsufficientFunds = errors.New("insufficient funds for value plus fee")
	ErrFeeOverflow       = errors.New("value plus fee overflows")
)

// Executor validates and applies transactions against a ledger view. The
// caller supplies the view, typically a per-block diff, and decides
// whether the block's writes survive.
type Executor struct {
	log log.Logger

	// recoveredSenders caches signature checks by transaction ID. Signature
	// recovery is the dominant CPU cost of validation and transactions are
	// typically seen twice, once on gossip and once in a block.
	recoveredSenders *cache.LRU[types.Hash, types.Address]
}

// New creates an executor.
func New(logger log.Logger) *Executor {
	return &Executor{
		log:              logger,
		recoveredSenders: &cache.LRU[types.Hash, types.Address]{Size: senderCacheSize},
	}
}

// VerifySignature checks the transaction signature, consulting the cache
// first. Safe for concurrent use.
func (e *Executor) VerifySignature(tx *types.Transaction) error {
	txID := tx.ID()
	if sender, ok := e.recoveredSenders.Get(txID); ok {
		if sender == tx.Sender {
			return nil
		}
		return types.ErrInvalidSignature
	}
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	e.recoveredSenders.Put(txID, tx.Sender)
	return nil
}

// Check validates tx against ledger without mutating anything. Used on
// ingress before a transaction is pooled.
func (e *Executor) Check(ledger state.Ledger, tx *types.Transaction) error {
	if err := tx.SyntacticVerify(); err != nil {
		return err
	}
	acct, err := ledger.GetAccount(tx.Sender)
	if err != nil {
		return err
	}
	return checkAgainst(tx, acct)
}

func checkAgainst(tx *types.Transaction, acct state.Account) error {
	if tx.Nonce != acct.Nonce {
		return fmt.Errorf("%w: tx %d, account %d", ErrNonceMismatch, tx.Nonce, acct.Nonce)
	}
	needed, err := safemath.Add64(tx.Value, tx.FeePrice)
	if err != nil {
		return ErrFeeOverflow
	}
	if acct.Balance < needed {
		return fmt.Errorf("%w: balance %d, needed %d", ErrInsufficientFunds, acct.Balance, needed)
	}
	return nil
}

// Apply executes tx on ledger, crediting the fee to proposer. The
// signature must already have been verified. On error nothing is written.
func (e *Executor) Apply(ledger state.Ledger, tx *types.Transaction, proposer types.Address) (*types.Receipt, error) {
	acct, err := ledger.GetAccount(tx.Sender)
	if err != nil {
		return nil, err
	}
	if err := checkAgainst(tx, acct); err != nil {
		return nil, err
	}

	// Checked by checkAgainst.
	debit := tx.Value + tx.FeePrice

	acct.Balance -= debit
	acct.Nonce++
	if err := ledger.PutAccount(tx.Sender, acct); err != nil {
		return nil, err
	}

	if tx.Recipient != nil {
		if err := state.AddBalance(ledger, *tx.Recipient, tx.Value); err != nil {
			return nil, err
		}
	}
	if tx.FeePrice > 0 {
		if err := state.AddBalance(ledger, proposer, tx.FeePrice); err != nil {
			return nil, err
		}
	}

	return &types.Receipt{
		TxID:       tx.ID(),
		Succeeded:  true,
		FeeCharged: tx.FeePrice,
	}, nil
}

// ApplyAll executes a block's transactions in order against ledger. The
// first failure poisons the whole batch; the caller must discard it.
func (e *Executor) ApplyAll(ledger state.Ledger, txs []*types.Transaction, proposer types.Address) ([]*types.Receipt, error) {
	receipts := make([]*types.Receipt, 0, len(txs))
	for i, tx := range txs {
		receipt, err := e.Apply(ledger, tx, proposer)
		if err != nil {
			return nil, fmt.Errorf("transaction %d (%s): %w", i, tx.ID(), err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}
