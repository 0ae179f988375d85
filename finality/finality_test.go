// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"testing"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pos/config"
	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

var testKeys = secp256k1.TestKeys()

func testAddr(i int) types.Address {
	return testKeys[i].PublicKey().Address()
}

// newTestSet stakes validators 0..2 with 100, 200, and 700.
func newTestSet(t *testing.T) *validators.Set {
	t.Helper()

	set, err := validators.NewSet(memdb.New(), 100, log.NoLog{})
	require.NoError(t, err)

	stakes := []uint64{100, 200, 700}
	for i, stake := range stakes {
		require.NoError(t, set.Register(testAddr(i), stake))
		require.NoError(t, set.Activate(testAddr(i)))
	}
	return set
}

func newTestTracker(t *testing.T) (*Tracker, types.Hash) {
	t.Helper()

	anchor := ids.GenerateTestID()
	tracker := NewTracker(config.DefaultConfig(), newTestSet(t), anchor, 0, log.NoLog{})
	return tracker, anchor
}

func TestJustificationNeedsQuorum(t *testing.T) {
	require := require.New(t)
	tracker, anchor := newTestTracker(t)

	cp := ids.GenerateTestID()
	tracker.AddCheckpoint(cp, anchor, 32)

	status, err := tracker.Status(cp)
	require.NoError(err)
	require.Equal(Proposed, status)

	// 100 + 200 of 1000 total is below the 2/3 quorum.
	require.NoError(tracker.RecordAttestation(testAddr(0), cp, 32))
	require.NoError(tracker.RecordAttestation(testAddr(1), cp, 32))
	status, err = tracker.Status(cp)
	require.NoError(err)
	require.Equal(Proposed, status)

	// The 700 validator pushes it over.
	require.NoError(tracker.RecordAttestation(testAddr(2), cp, 32))
	status, err = tracker.Status(cp)
	require.NoError(err)
	require.Equal(Justified, status)
	require.Equal(cp, tracker.LastJustified())
}

func TestDuplicateAttestationCountedOnce(t *testing.T) {
	require := require.New(t)
	tracker, anchor := newTestTracker(t)

	cp := ids.GenerateTestID()
	tracker.AddCheckpoint(cp, anchor, 32)

	// 200 attested five times is still 200.
	for range 5 {
		require.NoError(tracker.RecordAttestation(testAddr(1), cp, 32))
	}
	status, err := tracker.Status(cp)
	require.NoError(err)
	require.Equal(Proposed, status)
}

func TestAttestationErrors(t *testing.T) {
	require := require.New(t)
	tracker, anchor := newTestTracker(t)

	err := tracker.RecordAttestation(testAddr(0), ids.GenerateTestID(), 32)
	require.ErrorIs(err, ErrUnknownCheckpoint)

	cp := ids.GenerateTestID()
	tracker.AddCheckpoint(cp, anchor, 32)
	err = tracker.RecordAttestation(testAddr(3), cp, 32) // not a validator
	require.ErrorIs(err, ErrIneligibleAttester)
}

func TestAttestationHeightMismatch(t *testing.T) {
	require := require.New(t)
	tracker, anchor := newTestTracker(t)

	cp := ids.GenerateTestID()
	tracker.AddCheckpoint(cp, anchor, 32)

	err := tracker.RecordAttestation(testAddr(2), cp, 64)
	require.ErrorIs(err, ErrHeightMismatch)

	// The mismatched vote must not have been tallied.
	status, err := tracker.Status(cp)
	require.NoError(err)
	require.Equal(Proposed, status)

	require.NoError(tracker.RecordAttestation(testAddr(2), cp, 32))
	status, err = tracker.Status(cp)
	require.NoError(err)
	require.Equal(Justified, status)
}

func TestFinalizeParentOfJustified(t *testing.T) {
	require := require.New(t)
	tracker, anchor := newTestTracker(t)

	cp1 := ids.GenerateTestID()
	cp2 := ids.GenerateTestID()
	tracker.AddCheckpoint(cp1, anchor, 32)
	tracker.AddCheckpoint(cp2, cp1, 64)

	require.NoError(tracker.RecordAttestation(testAddr(2), cp1, 32))
	_, finalized := tracker.TryFinalize()
	require.False(finalized) // parent is the already finalized anchor

	require.NoError(tracker.RecordAttestation(testAddr(2), cp2, 64))
	id, finalized := tracker.TryFinalize()
	require.True(finalized)
	require.Equal(cp1, id)
	require.Equal(cp1, tracker.LastFinalized())

	status, err := tracker.Status(cp1)
	require.NoError(err)
	require.Equal(Finalized, status)

	// Nothing further to finalize until a new checkpoint is justified.
	_, finalized = tracker.TryFinalize()
	require.False(finalized)
}

func newEvidence(t *testing.T, key *secp256k1.PrivateKey, height uint64) *Evidence {
	t.Helper()

	parent := ids.GenerateTestID()
	a := &types.Block{
		Height:    height,
		Timestamp: 1700000000,
		ParentID:  parent,
		StateRoot: ids.GenerateTestID(),
		TxRoot:    types.MerkleRoot(nil),
	}
	b := &types.Block{
		Height:    height,
		Timestamp: 1700000001,
		ParentID:  parent,
		StateRoot: ids.GenerateTestID(),
		TxRoot:    types.MerkleRoot(nil),
	}
	require.NoError(t, a.Sign(key))
	require.NoError(t, b.Sign(key))
	return &Evidence{BlockA: a, BlockB: b}
}

func TestSlashEquivocation(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	set := newTestSet(t)
	slasher := NewSlasher(cfg, set, log.NoLog{})

	ev := newEvidence(t, testKeys[2], 10)
	penalty, err := slasher.Slash(ev, 12)
	require.NoError(err)

	// 1/20 of 700.
	require.Equal(uint64(35), penalty)
	v, ok := set.Get(testAddr(2))
	require.True(ok)
	require.Equal(uint64(665), v.Stake)
	require.Equal(validators.Jailed, v.Status)
	require.Equal(12+cfg.UnbondingBlocks, v.ReleaseHeight)
}

func TestSlashRejectsDuplicateAndStale(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	set := newTestSet(t)
	slasher := NewSlasher(cfg, set, log.NoLog{})

	ev := newEvidence(t, testKeys[2], 10)
	_, err := slasher.Slash(ev, 12)
	require.NoError(err)

	_, err = slasher.Slash(ev, 12)
	require.ErrorIs(err, ErrDuplicateEvidence)

	// Swapped block order is the same evidence.
	swapped := &Evidence{BlockA: ev.BlockB, BlockB: ev.BlockA}
	_, err = slasher.Slash(swapped, 12)
	require.ErrorIs(err, ErrDuplicateEvidence)

	old := newEvidence(t, testKeys[1], 1)
	_, err = slasher.Slash(old, cfg.EvidenceMaxAgeBlocks+5)
	require.ErrorIs(err, ErrStaleEvidence)
}

func TestSlashRejectsInvalidEvidence(t *testing.T) {
	require := require.New(t)

	set := newTestSet(t)
	slasher := NewSlasher(config.DefaultConfig(), set, log.NoLog{})

	ev := newEvidence(t, testKeys[2], 10)

	// Same block twice is not equivocation.
	same := &Evidence{BlockA: ev.BlockA, BlockB: ev.BlockA}
	_, err := slasher.Slash(same, 12)
	require.ErrorIs(err, ErrInvalidEvidence)

	// Different proposers are two honest forks, not equivocation.
	other := newEvidence(t, testKeys[1], 10)
	mixed := &Evidence{BlockA: ev.BlockA, BlockB: other.BlockB}
	_, err = slasher.Slash(mixed, 12)
	require.ErrorIs(err, ErrInvalidEvidence)

	// No stake was touched.
	require.Equal(uint64(700), set.StakeOf(testAddr(2)))
}

func TestAttestationSignVerify(t *testing.T) {
	require := require.New(t)

	cp := ids.GenerateTestID()
	att, err := NewAttestation(testKeys[0], cp, 32)
	require.NoError(err)
	require.Equal(testAddr(0), att.Validator)
	require.NoError(att.Verify())

	att.Validator = testAddr(1)
	err = att.Verify()
	require.ErrorIs(err, types.ErrInvalidSignature)
}
