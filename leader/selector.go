// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package leader implements deterministic stake-weighted slot leader
// selection. Selection is a pure function of its inputs: every node
// replaying the same seed, slot, and validator set computes the same
// leader, which is what makes proposer legitimacy independently
// verifiable.
package leader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/luxfi/crypto/hash"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

var (
	ErrNoEligibleValidators = errors.New("no eligible validators")
	ErrZeroStake            = errors.New("total stake is zero")
)

// Candidate pairs an address with its stake weight.
type Candidate struct {
	Address types.Address
	Stake   uint64
}

// Select picks the leader for slot. The draw is derived from
// hash(seed || slot) and mapped onto the candidates' cumulative stake
// ranges in ascending address order, so the caller-supplied ordering of
// candidates does not affect the result.
func Select(seed types.Hash, slot uint64, candidates []Candidate) (types.Address, error) {
	if len(candidates) == 0 {
		return types.Address{}, ErrNoEligibleValidators
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Address[:], sorted[j].Address[:]) < 0
	})

	var total uint64
	var err error
	for _, c := range sorted {
		total, err = safemath.Add64(total, c.Stake)
		if err != nil {
			return types.Address{}, err
		}
	}
	if total == 0 {
		return types.Address{}, ErrZeroStake
	}

	draw := drawValue(seed, slot) % total

	var cumulative uint64
	for _, c := range sorted {
		cumulative += c.Stake
		if draw < cumulative {
			return c.Address, nil
		}
	}
	// Unreachable: draw < total and the ranges cover [0, total).
	return sorted[len(sorted)-1].Address, nil
}

// SelectFromSet picks the leader for slot among the set's active
// validators.
func SelectFromSet(seed types.Hash, slot uint64, set *validators.Set) (types.Address, error) {
	active := set.ActiveValidators()
	candidates := make([]Candidate, len(active))
	for i, v := range active {
		candidates[i] = Candidate{Address: v.Address, Stake: v.Stake}
	}
	return Select(seed, slot, candidates)
}

func drawValue(seed types.Hash, slot uint64) uint64 {
	buf := make([]byte, 0, types.HashLen+8)
	buf = append(buf, seed[:]...)
	buf = binary.BigEndian.AppendUint64(buf, slot)
	digest := hash.ComputeHash256(buf)
	return binary.BigEndian.Uint64(digest[:8])
}
