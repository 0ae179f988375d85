// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pos/types"
)

var testKeys = secp256k1.TestKeys()

func testAddr(i int) types.Address {
	return testKeys[i].PublicKey().Address()
}

func newTestState(t *testing.T) *State {
	t.Helper()
	return New(memdb.New(), log.NoLog{})
}

func TestAccountRoundTrip(t *testing.T) {
	require := require.New(t)
	st := newTestState(t)

	addr := testAddr(0)
	acct, err := st.GetAccount(addr)
	require.NoError(err)
	require.True(acct.IsZero())

	want := Account{Balance: 1234, Nonce: 7}
	require.NoError(st.PutAccount(addr, want))

	got, err := st.GetAccount(addr)
	require.NoError(err)
	require.Equal(want, got)

	// Zero accounts are deleted, not stored.
	require.NoError(st.PutAccount(addr, Account{}))
	got, err = st.GetAccount(addr)
	require.NoError(err)
	require.True(got.IsZero())
}

func TestBalanceHelpers(t *testing.T) {
	require := require.New(t)
	st := newTestState(t)
	addr := testAddr(0)

	require.NoError(AddBalance(st, addr, 500))
	require.NoError(SubBalance(st, addr, 200))

	acct, err := st.GetAccount(addr)
	require.NoError(err)
	require.Equal(uint64(300), acct.Balance)

	err = SubBalance(st, addr, 301)
	require.ErrorIs(err, ErrBalanceUnderflow)

	require.NoError(st.PutAccount(addr, Account{Balance: ^uint64(0)}))
	err = AddBalance(st, addr, 1)
	require.ErrorIs(err, ErrBalanceOverflow)
}

func TestRootIgnoresWriteHistory(t *testing.T) {
	require := require.New(t)

	a := newTestState(t)
	require.NoError(a.PutAccount(testAddr(0), Account{Balance: 10}))
	require.NoError(a.PutAccount(testAddr(1), Account{Balance: 20}))

	b := newTestState(t)
	require.NoError(b.PutAccount(testAddr(1), Account{Balance: 20}))
	require.NoError(b.PutAccount(testAddr(2), Account{Balance: 99}))
	require.NoError(b.PutAccount(testAddr(2), Account{}))
	require.NoError(b.PutAccount(testAddr(0), Account{Balance: 10}))

	rootA, err := a.Root()
	require.NoError(err)
	rootB, err := b.Root()
	require.NoError(err)
	require.Equal(rootA, rootB)
	require.NotEqual(types.EmptyHash, rootA)
}

func TestRootWithMatchesCommitted(t *testing.T) {
	require := require.New(t)

	st := newTestState(t)
	require.NoError(st.PutAccount(testAddr(0), Account{Balance: 10}))
	require.NoError(st.PutAccount(testAddr(1), Account{Balance: 20}))

	// One updated, one created, one deleted.
	overrides := map[types.Address]Account{
		testAddr(1): {Balance: 25},
		testAddr(2): {Balance: 5},
		testAddr(0): {},
	}
	speculative, err := st.RootWith(overrides)
	require.NoError(err)

	require.NoError(st.ApplyDiff(overrides))
	committed, err := st.Root()
	require.NoError(err)
	require.Equal(speculative, committed)
}

func TestDiffChainReads(t *testing.T) {
	require := require.New(t)

	st := newTestState(t)
	require.NoError(st.PutAccount(testAddr(0), Account{Balance: 100}))

	d1 := NewDiff(st)
	require.NoError(d1.PutAccount(testAddr(0), Account{Balance: 60}))
	require.NoError(d1.PutAccount(testAddr(1), Account{Balance: 40}))

	d2 := NewDiff(d1)
	require.NoError(d2.PutAccount(testAddr(1), Account{Balance: 45}))

	// Nearest write wins.
	acct, err := d2.GetAccount(testAddr(0))
	require.NoError(err)
	require.Equal(uint64(60), acct.Balance)
	acct, err = d2.GetAccount(testAddr(1))
	require.NoError(err)
	require.Equal(uint64(45), acct.Balance)

	// The base is untouched.
	acct, err = st.GetAccount(testAddr(0))
	require.NoError(err)
	require.Equal(uint64(100), acct.Balance)

	flat := d2.Flatten()
	require.Len(flat, 2)
	require.Equal(uint64(60), flat[testAddr(0)].Balance)
	require.Equal(uint64(45), flat[testAddr(1)].Balance)
}

func TestCommitAbort(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	st := New(db, log.NoLog{})
	addr := testAddr(0)

	require.NoError(st.PutAccount(addr, Account{Balance: 77}))
	st.Abort()

	reopened := New(db, log.NoLog{})
	acct, err := reopened.GetAccount(addr)
	require.NoError(err)
	require.True(acct.IsZero())

	require.NoError(st.PutAccount(addr, Account{Balance: 77}))
	require.NoError(st.Commit())

	reopened = New(db, log.NoLog{})
	acct, err = reopened.GetAccount(addr)
	require.NoError(err)
	require.Equal(uint64(77), acct.Balance)
}

func TestBlockStorage(t *testing.T) {
	require := require.New(t)
	st := newTestState(t)

	blk := &types.Block{
		Height:    3,
		Timestamp: 1700000000,
		ParentID:  ids.GenerateTestID(),
		StateRoot: ids.GenerateTestID(),
		TxRoot:    types.MerkleRoot(nil),
	}
	require.NoError(blk.Sign(testKeys[0]))

	_, err := st.GetBlock(blk.ID())
	require.ErrorIs(err, ErrBlockNotFound)

	require.NoError(st.PutBlock(blk))
	got, err := st.GetBlock(blk.ID())
	require.NoError(err)
	require.Equal(blk.ID(), got.ID())

	require.NoError(st.SetCanonical(3, blk.ID()))
	id, err := st.GetCanonical(3)
	require.NoError(err)
	require.Equal(blk.ID(), id)

	_, err = st.GetCanonical(4)
	require.ErrorIs(err, ErrBlockNotFound)

	require.NoError(st.SetLastAccepted(blk.ID()))
	last, err := st.LastAccepted()
	require.NoError(err)
	require.Equal(blk.ID(), last)
}

func TestEpochProgress(t *testing.T) {
	require := require.New(t)
	st := newTestState(t)

	seed, idx, err := st.EpochProgress()
	require.NoError(err)
	require.Equal(types.EmptyHash, seed)
	require.Zero(idx)

	want := ids.GenerateTestID()
	require.NoError(st.SetEpochProgress(want, 9))
	seed, idx, err = st.EpochProgress()
	require.NoError(err)
	require.Equal(want, seed)
	require.Equal(uint64(9), idx)
}
