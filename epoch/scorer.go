// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package epoch

import "github.com/luxfi/pos/types"

// Scorer is an injected oracle that weights a validator's epoch reward by
// the correctness of its externally evaluated work. Implementations must
// be side-effect free and return a value in [0, 1]; this package treats
// the oracle as opaque and never interprets the task or result.
type Scorer interface {
	Score(taskID types.Hash, result []byte) float64
}

// UnitScorer scores every task 1.0. Used when no external scoring is
// configured, making rewards purely stake-proportional.
type UnitScorer struct{}

func (UnitScorer) Score(types.Hash, []byte) float64 {
	return 1
}
