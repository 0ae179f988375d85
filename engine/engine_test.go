// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"testing"
	"time"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pos/config"
	"github.com/luxfi/pos/genesis"
	"github.com/luxfi/pos/types"
)

var testKeys = secp256k1.TestKeys()

func testAddr(i int) types.Address {
	return testKeys[i].PublicKey().Address()
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.EpochLength = 2
	cfg.MinValidatorStake = 100
	cfg.BaseEpochReward = 0
	return cfg
}

// testGenesis stakes key 0 as sole validator and funds key 1.
func testGenesis() *genesis.Config {
	return &genesis.Config{
		ChainTime: 1700000000,
		Allocations: []genesis.Allocation{
			{Address: testAddr(1).String(), Balance: 1000},
		},
		Validators: []genesis.Validator{
			{Address: testAddr(0).String(), Stake: 1000},
		},
	}
}

func newTestEngine(t *testing.T, key *secp256k1.PrivateKey, transport Transport) *Engine {
	t.Helper()

	e, err := New(Params{
		Config:    testConfig(),
		DB:        memdb.New(),
		Genesis:   testGenesis(),
		Transport: transport,
		StakeKey:  key,
		Log:       log.NoLog{},
	})
	require.NoError(t, err)
	e.SetClock(time.Unix(1700000100, 0))
	return e
}

// recordingTransport captures everything sent out.
type recordingTransport struct {
	blocks    []*types.Block
	txs       []*types.Transaction
	requested []types.Hash
}

func (r *recordingTransport) BroadcastBlock(blk *types.Block) { r.blocks = append(r.blocks, blk) }
func (r *recordingTransport) BroadcastTransaction(tx *types.Transaction) {
	r.txs = append(r.txs, tx)
}
func (r *recordingTransport) RequestBlock(id types.Hash) { r.requested = append(r.requested, id) }

func newTransfer(t *testing.T, key *secp256k1.PrivateKey, nonce, value uint64, to types.Address) *types.Transaction {
	t.Helper()

	tx := &types.Transaction{
		Nonce:     nonce,
		Recipient: &to,
		Value:     value,
		FeePrice:  1,
		FeeLimit:  1,
	}
	require.NoError(t, tx.Sign(key))
	return tx
}

// reparse simulates a block crossing the wire.
func reparse(t *testing.T, blk *types.Block) *types.Block {
	t.Helper()

	parsed, err := types.ParseBlock(blk.Bytes())
	require.NoError(t, err)
	return parsed
}

func TestEngineGenesis(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	headID, height := e.Head()
	require.Zero(height)

	gen, err := e.GetBlockByHeight(0)
	require.NoError(err)
	require.Equal(headID, gen.ID())

	balance, err := e.GetBalance(testAddr(1))
	require.NoError(err)
	require.Equal(uint64(1000), balance)

	finalID, finalHeight := e.LastFinalized()
	require.Equal(headID, finalID)
	require.Zero(finalHeight)
}

func TestProposeExtendsChain(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	blk, err := e.ProposeBlock()
	require.NoError(err)
	require.Equal(uint64(1), blk.Height)
	require.Equal(testAddr(0), blk.Proposer)

	headID, height := e.Head()
	require.Equal(blk.ID(), headID)
	require.Equal(uint64(1), height)
}

func TestObserverCannotPropose(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	_, err := e.ProposeBlock()
	require.ErrorIs(t, err, ErrNotValidator)
}

func TestCheckpointFinalization(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	// Epoch length 2: blocks 2 and 4 are checkpoints. The sole validator's
	// implicit attestations justify each checkpoint as it appears, and
	// justifying the one at height 4 finalizes the one at height 2.
	var checkpoint types.Hash
	for i := 1; i <= 4; i++ {
		blk, err := e.ProposeBlock()
		require.NoError(err)
		if blk.Height == 2 {
			checkpoint = blk.ID()
		}
	}

	finalID, finalHeight := e.LastFinalized()
	require.Equal(checkpoint, finalID)
	require.Equal(uint64(2), finalHeight)

	// The finalized prefix is committed and canonical.
	blk, err := e.GetBlockByHeight(2)
	require.NoError(err)
	require.Equal(checkpoint, blk.ID())
}

func TestTransactionInclusion(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	tx := newTransfer(t, testKeys[1], 0, 100, testAddr(2))
	require.NoError(e.SubmitTransaction(tx))
	require.Equal(1, e.PoolLen())

	// Duplicate submission is rejected.
	err := e.SubmitTransaction(tx)
	require.ErrorIs(err, ErrAlreadyPooled)

	blk, err := e.ProposeBlock()
	require.NoError(err)
	require.Len(blk.Txs, 1)
	require.Zero(e.PoolLen())

	balance, err := e.GetBalance(testAddr(1))
	require.NoError(err)
	require.Equal(uint64(899), balance)
	balance, err = e.GetBalance(testAddr(2))
	require.NoError(err)
	require.Equal(uint64(100), balance)

	nonce, err := e.GetNonce(testAddr(1))
	require.NoError(err)
	require.Equal(uint64(1), nonce)

	// The proposer collected the fee on top of its genesis-staked zero
	// balance.
	balance, err = e.GetBalance(testAddr(0))
	require.NoError(err)
	require.Equal(uint64(1), balance)
}

func TestTwoEnginesConverge(t *testing.T) {
	require := require.New(t)

	producer := newTestEngine(t, testKeys[0], nil)
	observer := newTestEngine(t, nil, nil)

	tx := newTransfer(t, testKeys[1], 0, 250, testAddr(3))
	require.NoError(producer.SubmitTransaction(tx))

	for i := 1; i <= 4; i++ {
		blk, err := producer.ProposeBlock()
		require.NoError(err)
		require.NoError(observer.SubmitBlock(reparse(t, blk)))
	}

	producerHead, producerHeight := producer.Head()
	observerHead, observerHeight := observer.Head()
	require.Equal(producerHead, observerHead)
	require.Equal(producerHeight, observerHeight)

	producerFinal, _ := producer.LastFinalized()
	observerFinal, _ := observer.LastFinalized()
	require.Equal(producerFinal, observerFinal)

	for i := range 4 {
		pb, err := producer.GetBalance(testAddr(i))
		require.NoError(err)
		ob, err := observer.GetBalance(testAddr(i))
		require.NoError(err)
		require.Equal(pb, ob)
	}
}

func TestOrphanBufferingAndRecovery(t *testing.T) {
	require := require.New(t)

	producer := newTestEngine(t, testKeys[0], nil)
	transport := &recordingTransport{}
	observer := newTestEngine(t, nil, transport)

	blk1, err := producer.ProposeBlock()
	require.NoError(err)
	blk2, err := producer.ProposeBlock()
	require.NoError(err)

	// Delivered out of order: the child is buffered and its parent
	// requested from peers.
	err = observer.SubmitBlock(reparse(t, blk2))
	require.ErrorIs(err, ErrUnknownParent)
	require.Contains(transport.requested, blk1.ID())

	head, _ := observer.Head()
	require.NotEqual(blk2.ID(), head)

	// The parent's arrival replays the buffered child.
	require.NoError(observer.SubmitBlock(reparse(t, blk1)))
	head, height := observer.Head()
	require.Equal(blk2.ID(), head)
	require.Equal(uint64(2), height)
}

func TestRejectsIneligibleProposer(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	genID, _ := e.Head()
	blk := &types.Block{
		Height:    1,
		Timestamp: 1700000100,
		ParentID:  genID,
		StateRoot: ids.GenerateTestID(),
		TxRoot:    types.MerkleRoot(nil),
	}
	require.NoError(blk.Sign(testKeys[3]))

	err := e.SubmitBlock(blk)
	require.ErrorIs(err, ErrIneligibleProposer)
}

func TestRejectsStateRootMismatch(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	genID, _ := e.Head()
	blk := &types.Block{
		Height:    1,
		Timestamp: 1700000100,
		ParentID:  genID,
		StateRoot: ids.GenerateTestID(),
		TxRoot:    types.MerkleRoot(nil),
	}
	require.NoError(blk.Sign(testKeys[0]))

	err := e.SubmitBlock(blk)
	require.ErrorIs(err, ErrStateRootMismatch)
}

func TestHaltsOnStateRootMismatch(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)
	require.False(e.Halted())

	// Correct leader, parent, and height, but a state root execution can
	// never reproduce.
	genID, _ := e.Head()
	blk := &types.Block{
		Height:    1,
		Timestamp: 1700000100,
		ParentID:  genID,
		StateRoot: ids.GenerateTestID(),
		TxRoot:    types.MerkleRoot(nil),
	}
	require.NoError(blk.Sign(testKeys[0]))

	err := e.SubmitBlock(blk)
	require.ErrorIs(err, ErrStateRootMismatch)
	require.True(e.Halted())

	// Production stays latched off.
	_, err = e.ProposeBlock()
	require.ErrorIs(err, ErrHalted)
	_, height := e.Head()
	require.Zero(height)
}

func TestRejectsBadHeight(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	genID, _ := e.Head()
	blk := &types.Block{
		Height:    5,
		Timestamp: 1700000100,
		ParentID:  genID,
		StateRoot: ids.GenerateTestID(),
		TxRoot:    types.MerkleRoot(nil),
	}
	require.NoError(blk.Sign(testKeys[0]))

	err := e.SubmitBlock(blk)
	require.ErrorIs(err, ErrBadHeight)
}

func TestSubmitInvalidTransaction(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t, testKeys[0], nil)

	// Unfunded sender.
	tx := newTransfer(t, testKeys[4], 0, 10, testAddr(2))
	require.Error(e.SubmitTransaction(tx))
	require.Zero(e.PoolLen())
}

func TestDuplicateBlockIsNoop(t *testing.T) {
	require := require.New(t)

	producer := newTestEngine(t, testKeys[0], nil)
	observer := newTestEngine(t, nil, nil)

	blk, err := producer.ProposeBlock()
	require.NoError(err)

	require.NoError(observer.SubmitBlock(reparse(t, blk)))
	require.NoError(observer.SubmitBlock(reparse(t, blk)))

	_, height := observer.Head()
	require.Equal(uint64(1), height)
}
