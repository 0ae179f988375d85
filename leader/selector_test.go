// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package leader

import (
	"testing"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

var testKeys = secp256k1.TestKeys()

func testAddr(i int) types.Address {
	return testKeys[i].PublicKey().Address()
}

func testCandidates() []Candidate {
	return []Candidate{
		{Address: testAddr(0), Stake: 100},
		{Address: testAddr(1), Stake: 200},
		{Address: testAddr(2), Stake: 700},
	}
}

func TestSelectDeterministic(t *testing.T) {
	require := require.New(t)

	seed := ids.GenerateTestID()
	for slot := uint64(0); slot < 50; slot++ {
		a, err := Select(seed, slot, testCandidates())
		require.NoError(err)
		b, err := Select(seed, slot, testCandidates())
		require.NoError(err)
		require.Equal(a, b)
	}
}

func TestSelectOrderInvariant(t *testing.T) {
	require := require.New(t)

	seed := ids.GenerateTestID()
	shuffled := []Candidate{
		{Address: testAddr(2), Stake: 700},
		{Address: testAddr(0), Stake: 100},
		{Address: testAddr(1), Stake: 200},
	}
	for slot := uint64(0); slot < 50; slot++ {
		a, err := Select(seed, slot, testCandidates())
		require.NoError(err)
		b, err := Select(seed, slot, shuffled)
		require.NoError(err)
		require.Equal(a, b)
	}
}

func TestSelectSeedSensitive(t *testing.T) {
	require := require.New(t)

	seedA := ids.ID{1}
	seedB := ids.ID{2}

	differs := false
	for slot := uint64(0); slot < 100 && !differs; slot++ {
		a, err := Select(seedA, slot, testCandidates())
		require.NoError(err)
		b, err := Select(seedB, slot, testCandidates())
		require.NoError(err)
		differs = a != b
	}
	require.True(differs)
}

func TestSelectStakeWeighted(t *testing.T) {
	require := require.New(t)

	seed := ids.GenerateTestID()
	wins := make(map[types.Address]int)
	for slot := uint64(0); slot < 2000; slot++ {
		addr, err := Select(seed, slot, testCandidates())
		require.NoError(err)
		wins[addr]++
	}

	// With 70% of the stake, the heavy validator must dominate, and every
	// candidate must win at least once over 2000 slots.
	require.Greater(wins[testAddr(2)], wins[testAddr(0)])
	require.Greater(wins[testAddr(2)], wins[testAddr(1)])
	for i := range 3 {
		require.Positive(wins[testAddr(i)])
	}
}

func TestSelectErrors(t *testing.T) {
	require := require.New(t)

	_, err := Select(ids.GenerateTestID(), 0, nil)
	require.ErrorIs(err, ErrNoEligibleValidators)

	_, err = Select(ids.GenerateTestID(), 0, []Candidate{{Address: testAddr(0), Stake: 0}})
	require.ErrorIs(err, ErrZeroStake)
}

func TestSelectFromSet(t *testing.T) {
	require := require.New(t)

	set, err := validators.NewSet(memdb.New(), 100, log.NoLog{})
	require.NoError(err)
	for i := range 3 {
		require.NoError(set.Register(testAddr(i), uint64(100*(i+1))))
		require.NoError(set.Activate(testAddr(i)))
	}

	seed := ids.GenerateTestID()
	candidates := []Candidate{
		{Address: testAddr(0), Stake: 100},
		{Address: testAddr(1), Stake: 200},
		{Address: testAddr(2), Stake: 300},
	}
	for slot := uint64(0); slot < 20; slot++ {
		fromSet, err := SelectFromSet(seed, slot, set)
		require.NoError(err)
		direct, err := Select(seed, slot, candidates)
		require.NoError(err)
		require.Equal(direct, fromSet)
	}
}
