// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/pos/types"
)

// accountLen is the fixed encoded size of an account record.
const accountLen = 8 + 8 + types.HashLen

// Account is a single entry in the ledger. Unseen addresses read as the
// zero account. Accounts are mutated only through the state store.
type Account struct {
	Balance uint64
	Nonce   uint64

	// StorageRoot is the contract storage digest, or the zero hash for
	// plain value accounts.
	StorageRoot types.Hash
}

// IsZero reports whether the account is indistinguishable from an unseen
// one. Zero accounts are deleted rather than stored.
func (a Account) IsZero() bool {
	return a.Balance == 0 && a.Nonce == 0 && a.StorageRoot == types.EmptyHash
}

func (a Account) marshal() []byte {
	buf := make([]byte, accountLen)
	binary.BigEndian.PutUint64(buf[0:], a.Balance)
	binary.BigEndian.PutUint64(buf[8:], a.Nonce)
	copy(buf[16:], a.StorageRoot[:])
	return buf
}

func unmarshalAccount(b []byte) (Account, error) {
	if len(b) != accountLen {
		return Account{}, fmt.Errorf("%w: account record is %d bytes, want %d",
			types.ErrStructural, len(b), accountLen)
	}
	var a Account
	a.Balance = binary.BigEndian.Uint64(b[0:])
	a.Nonce = binary.BigEndian.Uint64(b[8:])
	copy(a.StorageRoot[:], b[16:])
	return a, nil
}
