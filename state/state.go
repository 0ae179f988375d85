// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state maintains the account ledger and block storage on top of a
// generic key-value database. All mutations are staged in a copy-on-write
// overlay so that a block's full effect commits atomically or not at all.
package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/pos/types"
)

var (
	// Database prefixes
	accountPrefix   = []byte("account")
	blockPrefix     = []byte("block")
	heightPrefix    = []byte("height")
	validatorPrefix = []byte("validator")
	metaPrefix      = []byte("meta")

	lastAcceptedKey = []byte("lastAccepted")
	epochSeedKey    = []byte("epochSeed")
	epochIndexKey   = []byte("epochIndex")

	ErrBalanceOverflow  = errors.New("balance overflow")
	ErrBalanceUnderflow = errors.New("balance underflow")
	ErrBlockNotFound    = errors.New("block not found")
)

// State owns the account ledger. Speculative writes go through the
// versioned overlay; Commit flushes them to the base database in one batch
// and Abort discards them. Readers of committed data never observe a
// half-applied block.
type State struct {
	mu  sync.RWMutex
	log log.Logger

	baseDB database.Database
	vdb    *versiondb.Database

	accountDB   database.Database
	blockDB     database.Database
	heightDB    database.Database
	validatorDB database.Database
	metaDB      database.Database
}

// New creates a state store over db.
func New(db database.Database, logger log.Logger) *State {
	vdb := versiondb.New(db)
	return &State{
		log:         logger,
		baseDB:      db,
		vdb:         vdb,
		accountDB:   prefixdb.New(accountPrefix, vdb),
		blockDB:     prefixdb.New(blockPrefix, vdb),
		heightDB:    prefixdb.New(heightPrefix, vdb),
		validatorDB: prefixdb.New(validatorPrefix, vdb),
		metaDB:      prefixdb.New(metaPrefix, vdb),
	}
}

// ValidatorDB exposes the validator namespace of the same overlay, so that
// validator set changes commit atomically with the block that caused them.
func (s *State) ValidatorDB() database.Database {
	return s.validatorDB
}

// GetAccount returns the account at addr, or the zero account if unseen.
func (s *State) GetAccount(addr types.Address) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccount(addr)
}

func (s *State) getAccount(addr types.Address) (Account, error) {
	b, err := s.accountDB.Get(addr[:])
	if errors.Is(err, database.ErrNotFound) {
		return Account{}, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("reading account %s: %w", addr, err)
	}
	return unmarshalAccount(b)
}

// PutAccount stages the account at addr in the overlay. Zero accounts are
// deleted so that the state root does not depend on write history.
func (s *State) PutAccount(addr types.Address, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putAccount(addr, acct)
}

func (s *State) putAccount(addr types.Address, acct Account) error {
	if acct.IsZero() {
		return s.accountDB.Delete(addr[:])
	}
	return s.accountDB.Put(addr[:], acct.marshal())
}

func add64(a, b uint64, addr types.Address) (uint64, error) {
	sum, err := safemath.Add64(a, b)
	if err != nil {
		return 0, fmt.Errorf("%w: crediting %s", ErrBalanceOverflow, addr)
	}
	return sum, nil
}

func sub64(a, b uint64, addr types.Address) (uint64, error) {
	diff, err := safemath.Sub(a, b)
	if err != nil {
		return 0, fmt.Errorf("%w: debiting %s", ErrBalanceUnderflow, addr)
	}
	return diff, nil
}

// Root computes the merkle-style digest over the committed ledger,
// including staged writes. Accounts are folded in address order, so any
// two nodes with the same logical ledger compute the same root.
func (s *State) Root() (types.Hash, error) {
	return s.RootWith(nil)
}

// RootWith computes the ledger root as if overrides were applied on top of
// the store. Zero accounts in overrides count as deleted. This is how a
// block's state root is derived without committing its diff.
func (s *State) RootWith(overrides map[types.Address]Account) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]types.Address, 0, len(overrides))
	for addr := range overrides {
		pending = append(pending, addr)
	}
	sort.Slice(pending, func(i, j int) bool {
		return bytes.Compare(pending[i][:], pending[j][:]) < 0
	})

	var leaves []types.Hash
	emit := func(addr types.Address, acct Account) {
		leaf := make([]byte, 0, types.AddressLen+accountLen)
		leaf = append(leaf, addr[:]...)
		leaf = append(leaf, acct.marshal()...)
		leaves = append(leaves, hash.ComputeHash256Array(leaf))
	}
	emitOverride := func(addr types.Address) {
		if acct := overrides[addr]; !acct.IsZero() {
			emit(addr, acct)
		}
	}

	it := s.accountDB.NewIterator()
	defer it.Release()
	for it.Next() {
		var addr types.Address
		copy(addr[:], it.Key())

		for len(pending) > 0 && bytes.Compare(pending[0][:], addr[:]) < 0 {
			emitOverride(pending[0])
			pending = pending[1:]
		}
		if len(pending) > 0 && pending[0] == addr {
			emitOverride(addr)
			pending = pending[1:]
			continue
		}

		acct, err := unmarshalAccount(it.Value())
		if err != nil {
			return types.EmptyHash, err
		}
		emit(addr, acct)
	}
	if err := it.Error(); err != nil {
		return types.EmptyHash, fmt.Errorf("iterating accounts: %w", err)
	}
	for _, addr := range pending {
		emitOverride(addr)
	}
	return foldLeaves(leaves), nil
}

// ApplyDiff stages a flattened diff onto the overlay. The caller commits.
func (s *State) ApplyDiff(overrides map[types.Address]Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, acct := range overrides {
		if err := s.putAccount(addr, acct); err != nil {
			return err
		}
	}
	return nil
}

func foldLeaves(level []types.Hash) types.Hash {
	if len(level) == 0 {
		return types.EmptyHash
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:len(level)/2]
		for i := range next {
			buf := make([]byte, 0, 2*types.HashLen)
			buf = append(buf, level[2*i][:]...)
			buf = append(buf, level[2*i+1][:]...)
			next[i] = hash.ComputeHash256Array(buf)
		}
		level = next
	}
	return level[0]
}

// Commit flushes all staged writes to the base database atomically.
func (s *State) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vdb.Commit()
}

// Abort discards all staged writes.
func (s *State) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vdb.Abort()
}

// PutBlock stages a block body keyed by its ID.
func (s *State) PutBlock(blk *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := blk.ID()
	return s.blockDB.Put(id[:], blk.Bytes())
}

// GetBlock loads a block by ID.
func (s *State) GetBlock(id types.Hash) (*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.blockDB.Get(id[:])
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return types.ParseBlock(b)
}

// HasBlock reports whether a block body is stored.
func (s *State) HasBlock(id types.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockDB.Has(id[:])
}

// SetCanonical records id as the canonical block at height. Only finalized
// heights are indexed; the fork-choice tree answers for the mutable tip.
func (s *State) SetCanonical(height uint64, id types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return s.heightDB.Put(key, id[:])
}

// GetCanonical returns the finalized canonical block ID at height.
func (s *State) GetCanonical(height uint64) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	b, err := s.heightDB.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return types.EmptyHash, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return types.EmptyHash, err
	}
	var id types.Hash
	copy(id[:], b)
	return id, nil
}

// SetEpochProgress stages the epoch seed and index so that a restarted
// node resumes leader selection where it left off.
func (s *State) SetEpochProgress(seed types.Hash, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.metaDB.Put(epochSeedKey, seed[:]); err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return s.metaDB.Put(epochIndexKey, buf)
}

// EpochProgress returns the stored epoch seed and index, or zero values if
// none were stored yet.
func (s *State) EpochProgress() (types.Hash, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seedBytes, err := s.metaDB.Get(epochSeedKey)
	if errors.Is(err, database.ErrNotFound) {
		return types.EmptyHash, 0, nil
	}
	if err != nil {
		return types.EmptyHash, 0, err
	}
	var seed types.Hash
	copy(seed[:], seedBytes)

	idxBytes, err := s.metaDB.Get(epochIndexKey)
	if errors.Is(err, database.ErrNotFound) {
		return seed, 0, nil
	}
	if err != nil {
		return types.EmptyHash, 0, err
	}
	return seed, binary.BigEndian.Uint64(idxBytes), nil
}

// SetLastAccepted records the head of the canonical chain.
func (s *State) SetLastAccepted(id types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaDB.Put(lastAcceptedKey, id[:])
}

// LastAccepted returns the recorded head, or the zero hash if none.
func (s *State) LastAccepted() (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.metaDB.Get(lastAcceptedKey)
	if errors.Is(err, database.ErrNotFound) {
		return types.EmptyHash, nil
	}
	if err != nil {
		return types.EmptyHash, err
	}
	var id types.Hash
	copy(id[:], b)
	return id, nil
}
