// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genesis builds the initial chain state from a configuration.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/pos/state"
	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

var (
	errNoValidators  = errors.New("genesis requires at least one validator")
	errDuplicateAddr = errors.New("duplicate genesis address")
)

// Allocation funds one account at genesis.
type Allocation struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// Validator stakes one validator at genesis. Genesis validators start
// Active.
type Validator struct {
	Address string `json:"address"`
	Stake   uint64 `json:"stake"`
}

// Config describes the chain at height zero.
type Config struct {
	ChainTime   uint64       `json:"chainTime"`
	Allocations []Allocation `json:"allocations"`
	Validators  []Validator  `json:"validators"`
}

// Parse decodes a JSON genesis configuration.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStructural, err)
	}
	return cfg, nil
}

// Build populates st and vals from cfg, commits, and returns the genesis
// block. The genesis block has the zero hash as parent, carries no
// transactions, and is unsigned; its state root is computed from the
// initial ledger, so every node configured identically produces an
// identical genesis block.
func Build(cfg *Config, st *state.State, vals *validators.Set) (*types.Block, error) {
	if len(cfg.Validators) == 0 {
		return nil, errNoValidators
	}

	seen := make(map[types.Address]struct{}, len(cfg.Allocations))
	for _, alloc := range cfg.Allocations {
		addr, err := ids.ShortFromString(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: allocation address %q: %w", types.ErrStructural, alloc.Address, err)
		}
		if _, ok := seen[addr]; ok {
			return nil, fmt.Errorf("%w: %s", errDuplicateAddr, addr)
		}
		seen[addr] = struct{}{}
		if err := state.AddBalance(st, addr, alloc.Balance); err != nil {
			return nil, err
		}
	}

	for _, v := range cfg.Validators {
		addr, err := ids.ShortFromString(v.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: validator address %q: %w", types.ErrStructural, v.Address, err)
		}
		if err := vals.Register(addr, v.Stake); err != nil {
			return nil, err
		}
		if err := vals.Activate(addr); err != nil {
			return nil, err
		}
	}

	root, err := st.Root()
	if err != nil {
		return nil, err
	}

	blk := &types.Block{
		Height:    0,
		Timestamp: cfg.ChainTime,
		ParentID:  types.EmptyHash,
		StateRoot: root,
		TxRoot:    types.MerkleRoot(nil),
	}

	if err := st.PutBlock(blk); err != nil {
		return nil, err
	}
	if err := st.SetCanonical(0, blk.ID()); err != nil {
		return nil, err
	}
	if err := st.SetLastAccepted(blk.ID()); err != nil {
		return nil, err
	}
	if err := st.Commit(); err != nil {
		return nil, err
	}
	return blk, nil
}
