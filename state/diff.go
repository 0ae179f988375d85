// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/luxfi/pos/types"
)

// Ledger is a read-write view of the account ledger. Both the committed
// store and per-block diffs implement it, so the executor is indifferent
// to which branch of the block tree it is executing on.
type Ledger interface {
	GetAccount(types.Address) (Account, error)
	PutAccount(types.Address, Account) error
}

var (
	_ Ledger = (*State)(nil)
	_ Ledger = (*Diff)(nil)
)

// Diff captures the account changes of a single block on top of its
// parent's view. Diffs chain back to the committed store, so executing a
// block on any branch reads through its own ancestors only. A diff is
// mutated only while its block is being applied and is immutable
// afterwards, which is what makes concurrent snapshot reads safe.
type Diff struct {
	parent   Ledger
	accounts map[types.Address]Account
}

// NewDiff creates an empty diff over parent.
func NewDiff(parent Ledger) *Diff {
	return &Diff{
		parent:   parent,
		accounts: make(map[types.Address]Account),
	}
}

// GetAccount returns the nearest write for addr along the diff chain,
// falling through to the committed store.
func (d *Diff) GetAccount(addr types.Address) (Account, error) {
	if acct, ok := d.accounts[addr]; ok {
		return acct, nil
	}
	return d.parent.GetAccount(addr)
}

// PutAccount records a write in this diff only.
func (d *Diff) PutAccount(addr types.Address, acct Account) error {
	d.accounts[addr] = acct
	return nil
}

// Flatten folds the whole diff chain into one override map, nearest write
// winning, down to (and excluding) the committed store.
func (d *Diff) Flatten() map[types.Address]Account {
	flat := make(map[types.Address]Account, len(d.accounts))
	for l := Ledger(d); ; {
		diff, ok := l.(*Diff)
		if !ok {
			return flat
		}
		for addr, acct := range diff.accounts {
			if _, ok := flat[addr]; !ok {
				flat[addr] = acct
			}
		}
		l = diff.parent
	}
}

// AddBalance credits addr by amount on l, rejecting overflow.
func AddBalance(l Ledger, addr types.Address, amount uint64) error {
	acct, err := l.GetAccount(addr)
	if err != nil {
		return err
	}
	acct.Balance, err = add64(acct.Balance, amount, addr)
	if err != nil {
		return err
	}
	return l.PutAccount(addr, acct)
}

// SubBalance debits addr by amount on l, rejecting underflow.
func SubBalance(l Ledger, addr types.Address, amount uint64) error {
	acct, err := l.GetAccount(addr)
	if err != nil {
		return err
	}
	acct.Balance, err = sub64(acct.Balance, amount, addr)
	if err != nil {
		return err
	}
	return l.PutAccount(addr, acct)
}
