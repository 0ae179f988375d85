// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validators tracks who may participate in consensus and with how
// much weight.
package validators

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/pos/types"
)

var (
	ErrAlreadyRegistered = errors.New("validator already registered")
	ErrBelowMinimumStake = errors.New("stake below minimum")
	ErrUnknownValidator  = errors.New("unknown validator")
	ErrNotActive         = errors.New("validator is not active")
	ErrNotJailed         = errors.New("validator is not jailed")
	ErrNotExiting        = errors.New("validator is not exiting")
)

// Set is the registry of staked participants. Mutations are mirrored into
// the provided database namespace so they commit atomically with the block
// that caused them.
//
// Iteration order is always ascending by address bytes, so every node
// observes the same order.
type Set struct {
	mu  sync.RWMutex
	db  database.Database
	log log.Logger

	minStake uint64
	byAddr   map[types.Address]*Validator
}

// NewSet creates a validator set persisted in db, loading any existing
// records.
func NewSet(db database.Database, minStake uint64, logger log.Logger) (*Set, error) {
	s := &Set{
		db:       db,
		log:      logger,
		minStake: minStake,
		byAddr:   make(map[types.Address]*Validator),
	}

	it := db.NewIterator()
	defer it.Release()
	for it.Next() {
		v, err := unmarshalValidator(it.Value())
		if err != nil {
			return nil, err
		}
		s.byAddr[v.Address] = v
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("loading validators: %w", err)
	}
	return s, nil
}

func (s *Set) persist(v *Validator) error {
	return s.db.Put(v.Address[:], v.marshal())
}

func (s *Set) remove(addr types.Address) error {
	delete(s.byAddr, addr)
	return s.db.Delete(addr[:])
}

// Register adds a new Pending validator. Registration of a known address or
// with stake below the minimum is rejected.
func (s *Set) Register(addr types.Address, stake uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAddr[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
	}
	if stake < s.minStake {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinimumStake, stake, s.minStake)
	}
	v := &Validator{
		Address: addr,
		Stake:   stake,
		Status:  Pending,
	}
	s.byAddr[addr] = v
	return s.persist(v)
}

// IncreaseStake adds amount to an existing validator's stake.
func (s *Set) IncreaseStake(addr types.Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	newStake, err := safemath.Add64(v.Stake, amount)
	if err != nil {
		return fmt.Errorf("stake overflow for %s: %w", addr, err)
	}
	v.Stake = newStake
	return s.persist(v)
}

// BeginExit starts unbonding. The stake is released releaseHeight blocks
// later, at an epoch boundary.
func (s *Set) BeginExit(addr types.Address, releaseHeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if v.Status != Active && v.Status != Pending {
		return fmt.Errorf("%w: %s is %s", ErrNotActive, addr, v.Status)
	}
	v.Status = Exiting
	v.ReleaseHeight = releaseHeight
	return s.persist(v)
}

// Jail excludes a validator until releaseHeight.
func (s *Set) Jail(addr types.Address, reason string, releaseHeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	v.Status = Jailed
	v.ReleaseHeight = releaseHeight
	s.log.Info("validator jailed", "validator", addr, "reason", reason, "releaseHeight", releaseHeight)
	return s.persist(v)
}

// UnjailIfEligible restores a Jailed validator to Active once its release
// height has passed and it still meets the minimum stake. Validators cut
// below the minimum by slashing transition to Exiting instead.
func (s *Set) UnjailIfEligible(addr types.Address, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if v.Status != Jailed {
		return fmt.Errorf("%w: %s is %s", ErrNotJailed, addr, v.Status)
	}
	if height < v.ReleaseHeight {
		return fmt.Errorf("validator %s jailed until height %d", addr, v.ReleaseHeight)
	}
	if v.Stake >= s.minStake {
		v.Status = Active
		v.ReleaseHeight = 0
	} else {
		v.Status = Exiting
	}
	return s.persist(v)
}

// Slash burns numerator/denominator of the validator's stake and returns
// the burned amount. Stake never goes below zero.
func (s *Set) Slash(addr types.Address, numerator, denominator uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	penalty := mulDiv(v.Stake, numerator, denominator)
	v.Stake -= penalty
	return penalty, s.persist(v)
}

// mulDiv computes stake*num/denom without overflowing uint64 for stakes
// within supply bounds.
func mulDiv(stake, num, denom uint64) uint64 {
	quot := stake / denom
	rem := stake % denom
	return quot*num + rem*num/denom
}

// Activate promotes a Pending validator. Called at epoch boundaries.
func (s *Set) Activate(addr types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	v.Status = Active
	v.ReleaseHeight = 0
	return s.persist(v)
}

// Remove deletes an Exiting validator whose unbonding has elapsed and
// returns the stake to credit back to its account.
func (s *Set) Remove(addr types.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if v.Status != Exiting {
		return 0, fmt.Errorf("%w: %s is %s", ErrNotExiting, addr, v.Status)
	}
	stake := v.Stake
	return stake, s.remove(addr)
}

// AddRewards credits accumulated rewards to a validator record.
func (s *Set) AddRewards(addr types.Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	total, err := safemath.Add64(v.AccumulatedRewards, amount)
	if err != nil {
		return fmt.Errorf("reward overflow for %s: %w", addr, err)
	}
	v.AccumulatedRewards = total
	return s.persist(v)
}

// Get returns a copy of the validator record at addr.
func (s *Set) Get(addr types.Address) (Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byAddr[addr]
	if !ok {
		return Validator{}, false
	}
	return *v, true
}

// IsEligible reports whether addr may be selected as a leader.
func (s *Set) IsEligible(addr types.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byAddr[addr]
	return ok && v.Status == Active && v.Stake >= s.minStake
}

// ActiveValidators returns copies of all eligible validators in ascending
// address order.
func (s *Set) ActiveValidators() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]Validator, 0, len(s.byAddr))
	for _, v := range s.byAddr {
		if v.Status == Active && v.Stake >= s.minStake {
			active = append(active, *v)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return bytes.Compare(active[i].Address[:], active[j].Address[:]) < 0
	})
	return active
}

// All returns copies of every validator record, in ascending address
// order, regardless of status.
func (s *Set) All() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Validator, 0, len(s.byAddr))
	for _, v := range s.byAddr {
		all = append(all, *v)
	}
	sort.Slice(all, func(i, j int) bool {
		return bytes.Compare(all[i].Address[:], all[j].Address[:]) < 0
	})
	return all
}

// TotalActiveStake sums the stake of all eligible validators.
func (s *Set) TotalActiveStake() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	var err error
	for _, v := range s.byAddr {
		if v.Status != Active || v.Stake < s.minStake {
			continue
		}
		total, err = safemath.Add64(total, v.Stake)
		if err != nil {
			return 0, fmt.Errorf("total stake overflow: %w", err)
		}
	}
	return total, nil
}

// StakeOf returns the current stake of an eligible validator, or zero.
func (s *Set) StakeOf(addr types.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byAddr[addr]
	if !ok || v.Status != Active || v.Stake < s.minStake {
		return 0
	}
	return v.Stake
}

// Len returns the number of registered validators of any status.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAddr)
}

// MinStake returns the configured minimum stake.
func (s *Set) MinStake() uint64 {
	return s.minStake
}
