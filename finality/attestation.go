// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/crypto/secp256k1"

	"github.com/luxfi/pos/types"
)

var attestationDomain = []byte("pos.attestation")

// Attestation is a validator's signed vote for a checkpoint block.
type Attestation struct {
	Validator  types.Address
	Checkpoint types.Hash
	Height     uint64
	Signature  [types.SignatureLen]byte
}

// NewAttestation builds and signs an attestation for the checkpoint at
// height with key.
func NewAttestation(key *secp256k1.PrivateKey, checkpoint types.Hash, height uint64) (*Attestation, error) {
	att := &Attestation{
		Validator:  key.PublicKey().Address(),
		Checkpoint: checkpoint,
		Height:     height,
	}
	digest := att.digest()
	sig, err := key.SignHash(digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing attestation: %w", err)
	}
	copy(att.Signature[:], sig)
	return att, nil
}

// Verify recovers the signer and requires it to match the declared
// validator.
func (a *Attestation) Verify() error {
	digest := a.digest()
	pub, err := secp256k1.RecoverPublicKeyFromHash(digest[:], a.Signature[:])
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidSignature, err)
	}
	if addr := pub.Address(); addr != a.Validator {
		return fmt.Errorf("%w: recovered %s, declared %s", types.ErrInvalidSignature, addr, a.Validator)
	}
	return nil
}

// digest is domain-separated so an attestation signature can never be
// replayed as a block or transaction signature.
func (a *Attestation) digest() types.Hash {
	buf := make([]byte, 0, len(attestationDomain)+types.HashLen+8)
	buf = append(buf, attestationDomain...)
	buf = append(buf, a.Checkpoint[:]...)
	buf = binary.BigEndian.AppendUint64(buf, a.Height)
	return hash.ComputeHash256Array(buf)
}
