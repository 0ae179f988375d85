// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validators

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/pos/types"
)

// Status is the lifecycle state of a validator.
type Status uint8

const (
	// Pending validators have registered but are not yet part of the
	// active set. They activate at the next epoch boundary.
	Pending Status = iota

	// Active validators are eligible for leader selection and attestation.
	Active

	// Jailed validators have been penalized and are excluded until their
	// release height.
	Jailed

	// Exiting validators have begun unbonding. Their stake is returned
	// once the unbonding delay has elapsed.
	Exiting
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Jailed:
		return "jailed"
	case Exiting:
		return "exiting"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Validator is a staked participant.
type Validator struct {
	Address            types.Address
	Stake              uint64
	Status             Status
	AccumulatedRewards uint64

	// ReleaseHeight is the block height at which a Jailed validator may be
	// unjailed, or at which an Exiting validator's stake is returned. Zero
	// for Pending and Active validators.
	ReleaseHeight uint64
}

const validatorLen = types.AddressLen + 8 + 1 + 8 + 8

func (v *Validator) marshal() []byte {
	buf := make([]byte, validatorLen)
	copy(buf[0:], v.Address[:])
	binary.BigEndian.PutUint64(buf[types.AddressLen:], v.Stake)
	buf[types.AddressLen+8] = byte(v.Status)
	binary.BigEndian.PutUint64(buf[types.AddressLen+9:], v.AccumulatedRewards)
	binary.BigEndian.PutUint64(buf[types.AddressLen+17:], v.ReleaseHeight)
	return buf
}

func unmarshalValidator(b []byte) (*Validator, error) {
	if len(b) != validatorLen {
		return nil, fmt.Errorf("%w: validator record is %d bytes, want %d",
			types.ErrStructural, len(b), validatorLen)
	}
	v := &Validator{}
	copy(v.Address[:], b[0:])
	v.Stake = binary.BigEndian.Uint64(b[types.AddressLen:])
	v.Status = Status(b[types.AddressLen+8])
	if v.Status > Exiting {
		return nil, fmt.Errorf("%w: invalid validator status %d", types.ErrStructural, b[types.AddressLen+8])
	}
	v.AccumulatedRewards = binary.BigEndian.Uint64(b[types.AddressLen+9:])
	v.ReleaseHeight = binary.BigEndian.Uint64(b[types.AddressLen+17:])
	return v, nil
}
