// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the policy parameters of the consensus engine.
package config

import (
	"errors"
	"time"
)

var (
	errZeroEpochLength  = errors.New("epoch length must be positive")
	errZeroSlotDuration = errors.New("slot duration must be positive")
	errBadQuorum        = errors.New("quorum must be a fraction in (1/2, 1]")
	errBadSlashFraction = errors.New("slashing fraction must be in (0, 1]")
)

// Config contains all the foundational parameters of the consensus engine.
//
// The checkpoint quorum and the slashing fraction are deliberately
// configuration rather than constants; deployments choose their own
// supermajority and penalty.
type Config struct {
	// EpochLength is the number of blocks per epoch. Checkpoints are the
	// blocks whose height is a multiple of this.
	EpochLength uint64

	// SlotDuration is the wall-clock window within which the selected
	// leader may produce a block. A leader that misses its window is
	// skipped.
	SlotDuration time.Duration

	// MinValidatorStake is the smallest stake accepted at registration and
	// required to remain eligible for selection.
	MinValidatorStake uint64

	// QuorumNumerator/QuorumDenominator is the fraction of active stake
	// whose attestations justify a checkpoint.
	QuorumNumerator   uint64
	QuorumDenominator uint64

	// SlashingNumerator/SlashingDenominator is the fraction of stake burned
	// on proven equivocation.
	SlashingNumerator   uint64
	SlashingDenominator uint64

	// UnbondingBlocks is the delay, in blocks, between an exit or a jailing
	// and the release of stake or eligibility.
	UnbondingBlocks uint64

	// EvidenceMaxAgeBlocks bounds how old slashing evidence may be.
	EvidenceMaxAgeBlocks uint64

	// PruneDepth bounds the retention window around the head: blocks
	// claiming heights further ahead are not buffered.
	PruneDepth uint64

	// BaseEpochReward is the reward pool minted per epoch, split across
	// active validators by stake and score.
	BaseEpochReward uint64

	// MaxBlockTxs caps the number of transactions the local producer packs
	// into one block.
	MaxBlockTxs int

	// TxPoolSize caps the number of pending transactions held locally.
	TxPoolSize int

	// OrphanLimit caps the number of blocks buffered while their ancestors
	// are fetched.
	OrphanLimit int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		EpochLength:          32,
		SlotDuration:         2 * time.Second,
		MinValidatorStake:    1_000_000,
		QuorumNumerator:      2,
		QuorumDenominator:    3,
		SlashingNumerator:    1,
		SlashingDenominator:  20,
		UnbondingBlocks:      256,
		EvidenceMaxAgeBlocks: 1024,
		PruneDepth:           128,
		BaseEpochReward:      50_000,
		MaxBlockTxs:          1024,
		TxPoolSize:           8192,
		OrphanLimit:          512,
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.EpochLength == 0 {
		return errZeroEpochLength
	}
	if c.SlotDuration <= 0 {
		return errZeroSlotDuration
	}
	if c.QuorumDenominator == 0 ||
		c.QuorumNumerator > c.QuorumDenominator ||
		2*c.QuorumNumerator <= c.QuorumDenominator {
		return errBadQuorum
	}
	if c.SlashingDenominator == 0 || c.SlashingNumerator == 0 ||
		c.SlashingNumerator > c.SlashingDenominator {
		return errBadSlashFraction
	}
	if c.MaxBlockTxs <= 0 {
		c.MaxBlockTxs = 1024
	}
	if c.TxPoolSize <= 0 {
		c.TxPoolSize = 8192
	}
	if c.OrphanLimit <= 0 {
		c.OrphanLimit = 512
	}
	if c.PruneDepth == 0 {
		c.PruneDepth = 128
	}
	return nil
}
