// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package epoch orchestrates the work done at epoch boundaries: reward
// distribution, validator rotation, and seed evolution.
package epoch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/pos/config"
	"github.com/luxfi/pos/state"
	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

var ErrNotBoundary = errors.New("height is not an epoch boundary")

// Epoch is a closed window of block heights. Immutable once closed.
type Epoch struct {
	Index       uint64
	StartHeight uint64
	EndHeight   uint64
	Active      set.Set[types.Address]
}

// Summary reports what a boundary crossing did.
type Summary struct {
	Epoch Epoch

	// Seed drives leader selection for the next epoch.
	Seed types.Hash

	RewardsPaid uint64
	Activated   int
	Released    int
	Unjailed    int
}

// Processor runs the epoch boundary transition. It is driven by the block
// application path and writes through the boundary block's ledger view,
// so its effects land or vanish together with that block.
type Processor struct {
	cfg    config.Config
	vals   *validators.Set
	calc   *Calculator
	scorer Scorer
	log    log.Logger

	seed     types.Hash
	epochIdx uint64
}

// NewProcessor creates a processor. A nil scorer makes rewards purely
// stake-proportional.
func NewProcessor(
	cfg config.Config,
	vals *validators.Set,
	scorer Scorer,
	seed types.Hash,
	logger log.Logger,
) *Processor {
	if scorer == nil {
		scorer = UnitScorer{}
	}
	return &Processor{
		cfg:    cfg,
		vals:   vals,
		calc:   NewCalculator(cfg.BaseEpochReward),
		scorer: scorer,
		log:    logger,
		seed:   seed,
	}
}

// Restore resets the processor to previously persisted progress.
func (p *Processor) Restore(seed types.Hash, index uint64) {
	p.seed = seed
	p.epochIdx = index
}

// Seed returns the current epoch seed.
func (p *Processor) Seed() types.Hash {
	return p.seed
}

// Index returns the index of the epoch currently in progress.
func (p *Processor) Index() uint64 {
	return p.epochIdx
}

// Payout is a single balance credit owed at a boundary.
type Payout struct {
	Address types.Address
	Amount  uint64
}

// Plan is the full effect of closing the epoch ending at Height, computed
// from the validator set as it stands. A plan is pure data: competing
// boundary blocks at the same height replay the same plan into their own
// ledger views and therefore agree on the resulting state root.
type Plan struct {
	Height uint64

	Payouts []Payout
	Refunds []Payout

	Activate []types.Address
	Remove   []types.Address
	Unjail   []types.Address

	Active set.Set[types.Address]
}

// PlanBoundary computes the boundary plan for height without mutating
// anything.
func (p *Processor) PlanBoundary(height uint64) (*Plan, error) {
	if height == 0 || height%p.cfg.EpochLength != 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotBoundary, height)
	}

	active := p.vals.ActiveValidators()
	totalStake, err := p.vals.TotalActiveStake()
	if err != nil {
		return nil, err
	}

	plan := &Plan{Height: height}

	// Rewards, in the deterministic active-set order.
	for _, v := range active {
		plan.Active.Add(v.Address)

		score := p.scorer.Score(taskID(p.seed, v.Address), nil)
		reward := p.calc.Reward(v.Stake, totalStake, score)
		if reward == 0 {
			continue
		}
		plan.Payouts = append(plan.Payouts, Payout{Address: v.Address, Amount: reward})
	}

	// Rotation, over every record in address order.
	for _, v := range p.vals.All() {
		switch v.Status {
		case validators.Pending:
			if v.Stake >= p.vals.MinStake() {
				plan.Activate = append(plan.Activate, v.Address)
			}
		case validators.Exiting:
			if height >= v.ReleaseHeight {
				plan.Remove = append(plan.Remove, v.Address)
				plan.Refunds = append(plan.Refunds, Payout{Address: v.Address, Amount: v.Stake})
			}
		case validators.Jailed:
			if height >= v.ReleaseHeight {
				plan.Unjail = append(plan.Unjail, v.Address)
			}
		}
	}
	return plan, nil
}

// CreditLedger applies the plan's balance effects, rewards and returned
// stakes, to ledger. Called once per boundary block, on that block's view.
func (p *Processor) CreditLedger(plan *Plan, ledger state.Ledger) error {
	for _, payout := range plan.Payouts {
		if err := state.AddBalance(ledger, payout.Address, payout.Amount); err != nil {
			return fmt.Errorf("crediting reward to %s: %w", payout.Address, err)
		}
	}
	for _, refund := range plan.Refunds {
		if err := state.AddBalance(ledger, refund.Address, refund.Amount); err != nil {
			return fmt.Errorf("returning stake to %s: %w", refund.Address, err)
		}
	}
	return nil
}

// CommitBoundary applies the plan's validator set effects and advances the
// epoch seed. Called exactly once per epoch, when the first boundary block
// at plan.Height is accepted.
func (p *Processor) CommitBoundary(plan *Plan, finalizedAnchor types.Hash) (*Summary, error) {
	summary := &Summary{
		Epoch: Epoch{
			Index:       p.epochIdx,
			StartHeight: plan.Height - p.cfg.EpochLength + 1,
			EndHeight:   plan.Height,
			Active:      plan.Active,
		},
	}

	for _, payout := range plan.Payouts {
		if err := p.vals.AddRewards(payout.Address, payout.Amount); err != nil {
			return nil, err
		}
		summary.RewardsPaid += payout.Amount
	}
	for _, addr := range plan.Activate {
		if err := p.vals.Activate(addr); err != nil {
			return nil, err
		}
		summary.Activated++
	}
	for _, addr := range plan.Remove {
		if _, err := p.vals.Remove(addr); err != nil {
			return nil, err
		}
		summary.Released++
	}
	for _, addr := range plan.Unjail {
		if err := p.vals.UnjailIfEligible(addr, plan.Height); err == nil {
			summary.Unjailed++
		}
	}

	p.seed = nextSeed(p.seed, finalizedAnchor, p.epochIdx)
	p.epochIdx++
	summary.Seed = p.seed

	p.log.Info("epoch boundary processed",
		"epoch", summary.Epoch.Index,
		"height", plan.Height,
		"rewardsPaid", summary.RewardsPaid,
		"activated", summary.Activated,
		"released", summary.Released,
		"unjailed", summary.Unjailed,
	)
	return summary, nil
}

// taskID names the scoring task for a validator in the current epoch.
func taskID(seed types.Hash, addr types.Address) types.Hash {
	buf := make([]byte, 0, types.HashLen+types.AddressLen)
	buf = append(buf, seed[:]...)
	buf = append(buf, addr[:]...)
	return hash.ComputeHash256Array(buf)
}

// nextSeed derives the following epoch's seed from the closing epoch's
// seed, the latest finalized checkpoint, and the epoch index.
func nextSeed(seed, anchor types.Hash, index uint64) types.Hash {
	buf := make([]byte, 0, 2*types.HashLen+8)
	buf = append(buf, seed[:]...)
	buf = append(buf, anchor[:]...)
	buf = binary.BigEndian.AppendUint64(buf, index)
	return hash.ComputeHash256Array(buf)
}
