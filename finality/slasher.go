// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/log"

	"github.com/luxfi/pos/config"
	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

var (
	ErrInvalidEvidence   = errors.New("invalid slashing evidence")
	ErrStaleEvidence     = errors.New("evidence is too old")
	ErrDuplicateEvidence = errors.New("evidence already processed")
)

// Evidence proves equivocation: two distinct signed blocks by the same
// proposer at the same height.
type Evidence struct {
	BlockA *types.Block
	BlockB *types.Block
}

// Accused returns the proposer the evidence accuses.
func (ev *Evidence) Accused() types.Address {
	return ev.BlockA.Proposer
}

// id is a deterministic digest of the evidence, order-independent in the
// two blocks, used for duplicate detection.
func (ev *Evidence) id() types.Hash {
	a, b := ev.BlockA.ID(), ev.BlockB.ID()
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, 2*types.HashLen)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return hash.ComputeHash256Array(buf)
}

// Verify checks that the evidence is internally consistent: both blocks at
// the same height, with different hashes, both validly signed by the same
// proposer.
func (ev *Evidence) Verify() error {
	if ev == nil || ev.BlockA == nil || ev.BlockB == nil {
		return fmt.Errorf("%w: missing block", ErrInvalidEvidence)
	}
	if ev.BlockA.Height != ev.BlockB.Height {
		return fmt.Errorf("%w: heights %d and %d differ",
			ErrInvalidEvidence, ev.BlockA.Height, ev.BlockB.Height)
	}
	if ev.BlockA.ID() == ev.BlockB.ID() {
		return fmt.Errorf("%w: blocks are identical", ErrInvalidEvidence)
	}
	if ev.BlockA.Proposer != ev.BlockB.Proposer {
		return fmt.Errorf("%w: proposers differ", ErrInvalidEvidence)
	}
	if err := ev.BlockA.VerifySignature(); err != nil {
		return fmt.Errorf("%w: first block: %w", ErrInvalidEvidence, err)
	}
	if err := ev.BlockB.VerifySignature(); err != nil {
		return fmt.Errorf("%w: second block: %w", ErrInvalidEvidence, err)
	}
	return nil
}

// Slasher validates evidence and applies the configured stake penalty.
type Slasher struct {
	mu  sync.Mutex
	cfg config.Config
	set *validators.Set
	log log.Logger

	seen map[types.Hash]struct{}
}

// NewSlasher creates a slasher over the validator set.
func NewSlasher(cfg config.Config, vals *validators.Set, logger log.Logger) *Slasher {
	return &Slasher{
		cfg:  cfg,
		set:  vals,
		log:  logger,
		seen: make(map[types.Hash]struct{}),
	}
}

// Slash applies the penalty proven by ev at the current chain height.
// Invalid, stale, or duplicate evidence is rejected without any state
// mutation. On success the validator loses the configured fraction of its
// stake and is jailed until the unbonding delay elapses.
func (s *Slasher) Slash(ev *Evidence, currentHeight uint64) (uint64, error) {
	if err := ev.Verify(); err != nil {
		return 0, err
	}
	if ev.BlockA.Height+s.cfg.EvidenceMaxAgeBlocks < currentHeight {
		return 0, fmt.Errorf("%w: height %d, current %d",
			ErrStaleEvidence, ev.BlockA.Height, currentHeight)
	}

	accused := ev.Accused()
	if _, ok := s.set.Get(accused); !ok {
		return 0, fmt.Errorf("%w: %s", validators.ErrUnknownValidator, accused)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evID := ev.id()
	if _, ok := s.seen[evID]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateEvidence, evID)
	}

	penalty, err := s.set.Slash(accused, s.cfg.SlashingNumerator, s.cfg.SlashingDenominator)
	if err != nil {
		return 0, err
	}
	if err := s.set.Jail(accused, "equivocation", currentHeight+s.cfg.UnbondingBlocks); err != nil {
		return penalty, err
	}

	s.seen[evID] = struct{}{}
	s.log.Info("validator slashed",
		"validator", accused,
		"height", ev.BlockA.Height,
		"penalty", penalty,
	)
	return penalty, nil
}
