// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package epoch

import "math/big"

// PercentDenominator is the resolution used when folding a float score
// into integer reward arithmetic.
const PercentDenominator = 1_000_000

// Calculator splits an epoch's reward pool across validators.
type Calculator struct {
	baseReward uint64
}

// NewCalculator creates a calculator minting baseReward per epoch.
func NewCalculator(baseReward uint64) *Calculator {
	return &Calculator{baseReward: baseReward}
}

// Reward returns the payout for a validator holding stake out of
// totalStake, scaled by score in [0, 1]. All arithmetic is integral and
// deterministic: the score is quantized to PercentDenominator before use,
// so nodes on different floating point hardware agree bit for bit.
func (c *Calculator) Reward(stake, totalStake uint64, score float64) uint64 {
	if totalStake == 0 || stake == 0 {
		return 0
	}
	scoreQ := quantize(score)
	if scoreQ == 0 {
		return 0
	}

	// baseReward * stake * scoreQ / (totalStake * PercentDenominator)
	r := new(big.Int).SetUint64(c.baseReward)
	r.Mul(r, new(big.Int).SetUint64(stake))
	r.Mul(r, new(big.Int).SetUint64(scoreQ))
	r.Div(r, new(big.Int).SetUint64(totalStake))
	r.Div(r, big.NewInt(PercentDenominator))
	return r.Uint64()
}

// quantize clamps score to [0, 1] and scales it to PercentDenominator.
func quantize(score float64) uint64 {
	switch {
	case score <= 0:
		return 0
	case score >= 1:
		return PercentDenominator
	default:
		return uint64(score * PercentDenominator)
	}
}
