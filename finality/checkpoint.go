// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package finality tracks checkpoint justification and finalization, and
// applies slashing for provable equivocation.
package finality

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"
	"github.com/luxfi/math/set"

	"github.com/luxfi/pos/config"
	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

var (
	ErrUnknownCheckpoint  = errors.New("unknown checkpoint")
	ErrIneligibleAttester = errors.New("attester is not an active validator")
	ErrHeightMismatch     = errors.New("attested height does not match checkpoint")
)

// CheckpointStatus is the finality state of a checkpoint block.
type CheckpointStatus uint8

const (
	// Proposed checkpoints have been observed but lack a quorum.
	Proposed CheckpointStatus = iota

	// Justified checkpoints are referenced by attestations representing a
	// quorum of active stake.
	Justified

	// Finalized checkpoints can never be reverted by fork choice.
	Finalized
)

func (s CheckpointStatus) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Justified:
		return "justified"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// checkpoint is one checkpoint block and its attestation tally.
type checkpoint struct {
	id     types.Hash
	height uint64
	status CheckpointStatus

	// parent is the previous checkpoint this one builds on.
	parent types.Hash

	attesters     set.Set[types.Address]
	attestedStake uint64
}

// Tracker accumulates attestations and advances checkpoints through
// Proposed -> Justified -> Finalized. A checkpoint finalizes when a later
// checkpoint building on it is justified.
type Tracker struct {
	mu  sync.Mutex
	cfg config.Config
	set *validators.Set
	log log.Logger

	checkpoints   map[types.Hash]*checkpoint
	lastJustified types.Hash
	lastFinalized types.Hash
}

// NewTracker creates a tracker whose finalized anchor is the given block,
// typically genesis.
func NewTracker(cfg config.Config, vals *validators.Set, anchor types.Hash, anchorHeight uint64, logger log.Logger) *Tracker {
	root := &checkpoint{
		id:     anchor,
		height: anchorHeight,
		status: Finalized,
	}
	return &Tracker{
		cfg:           cfg,
		set:           vals,
		log:           logger,
		checkpoints:   map[types.Hash]*checkpoint{anchor: root},
		lastJustified: anchor,
		lastFinalized: anchor,
	}
}

// AddCheckpoint registers a new checkpoint block building on parent.
// Re-adding a known checkpoint is a no-op.
func (t *Tracker) AddCheckpoint(id, parent types.Hash, height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.checkpoints[id]; ok {
		return
	}
	t.checkpoints[id] = &checkpoint{
		id:     id,
		height: height,
		parent: parent,
	}
}

// RecordAttestation counts validator's stake toward the checkpoint. The
// attested height must match the height the checkpoint was registered at.
// A validator attesting the same checkpoint twice is counted once.
func (t *Tracker) RecordAttestation(validator types.Address, checkpointID types.Hash, height uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp, ok := t.checkpoints[checkpointID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCheckpoint, checkpointID)
	}
	if cp.height != height {
		return fmt.Errorf("%w: %s is at height %d, attested %d", ErrHeightMismatch, checkpointID, cp.height, height)
	}
	stake := t.set.StakeOf(validator)
	if stake == 0 {
		return fmt.Errorf("%w: %s", ErrIneligibleAttester, validator)
	}
	if cp.attesters.Contains(validator) {
		return nil
	}
	cp.attesters.Add(validator)

	var err error
	cp.attestedStake, err = safemath.Add64(cp.attestedStake, stake)
	if err != nil {
		return fmt.Errorf("attested stake overflow: %w", err)
	}

	if cp.status == Proposed {
		quorum, err := t.quorumStake()
		if err != nil {
			return err
		}
		if cp.attestedStake >= quorum {
			cp.status = Justified
			t.lastJustified = cp.id
			t.log.Info("checkpoint justified",
				"checkpoint", cp.id,
				"height", cp.height,
				"attestedStake", cp.attestedStake,
			)
		}
	}
	return nil
}

// quorumStake returns the smallest attested stake that satisfies the
// configured quorum fraction of total active stake.
func (t *Tracker) quorumStake() (uint64, error) {
	total, err := t.set.TotalActiveStake()
	if err != nil {
		return 0, err
	}
	// ceil(total * num / denom)
	quot := total / t.cfg.QuorumDenominator
	rem := total % t.cfg.QuorumDenominator
	return quot*t.cfg.QuorumNumerator +
		(rem*t.cfg.QuorumNumerator+t.cfg.QuorumDenominator-1)/t.cfg.QuorumDenominator, nil
}

// TryFinalize finalizes the parent of the most recently justified
// checkpoint, if that parent is itself justified. Returns the newly
// finalized hash, or false if nothing changed.
func (t *Tracker) TryFinalize() (types.Hash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp, ok := t.checkpoints[t.lastJustified]
	if !ok || cp.status != Justified {
		return types.EmptyHash, false
	}
	parent, ok := t.checkpoints[cp.parent]
	if !ok || parent.status == Proposed {
		return types.EmptyHash, false
	}
	if parent.status == Finalized {
		return types.EmptyHash, false
	}

	parent.status = Finalized
	t.lastFinalized = parent.id
	t.log.Info("checkpoint finalized", "checkpoint", parent.id, "height", parent.height)

	// Checkpoints at or below the finalized height can no longer change
	// status.
	for id, other := range t.checkpoints {
		if other.height < parent.height {
			delete(t.checkpoints, id)
		}
	}
	return parent.id, true
}

// Status returns the status of a known checkpoint.
func (t *Tracker) Status(id types.Hash) (CheckpointStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp, ok := t.checkpoints[id]
	if !ok {
		return Proposed, fmt.Errorf("%w: %s", ErrUnknownCheckpoint, id)
	}
	return cp.status, nil
}

// LastJustified returns the most recently justified checkpoint hash.
func (t *Tracker) LastJustified() types.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastJustified
}

// LastFinalized returns the most recently finalized checkpoint hash.
func (t *Tracker) LastFinalized() types.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFinalized
}
