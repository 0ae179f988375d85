// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/crypto/secp256k1"
)

var (
	errNilTransaction = errors.New("nil transaction")
	errNoSignature    = errors.New("transaction is unsigned")
)

// Transaction moves value between accounts. A transaction with a nil
// recipient burns its value.
type Transaction struct {
	Nonce     uint64
	Sender    Address
	Recipient *Address
	Value     uint64
	FeePrice  uint64
	FeeLimit  uint64
	Payload   []byte
	Signature [SignatureLen]byte

	// cached on first use
	id         Hash
	idComputed bool
}

// UnsignedBytes returns the canonical encoding of everything except the
// signature. This is the payload that is hashed and signed.
func (tx *Transaction) UnsignedBytes() []byte {
	w := newWireWriter(64 + len(tx.Payload))
	w.U64(tx.Nonce)
	w.Fixed(tx.Sender[:])
	w.Bool(tx.Recipient != nil)
	if tx.Recipient != nil {
		w.Fixed(tx.Recipient[:])
	}
	w.U64(tx.Value)
	w.U64(tx.FeePrice)
	w.U64(tx.FeeLimit)
	w.Bytes(tx.Payload)
	return w.Finish()
}

// Bytes returns the full canonical encoding including the signature.
func (tx *Transaction) Bytes() []byte {
	unsigned := tx.UnsignedBytes()
	w := newWireWriter(len(unsigned) + SignatureLen)
	w.Fixed(unsigned)
	w.Fixed(tx.Signature[:])
	return w.Finish()
}

// ID returns the hash of the unsigned canonical encoding. Two transactions
// with the same logical content share an ID regardless of signature bytes.
func (tx *Transaction) ID() Hash {
	if !tx.idComputed {
		tx.id = hash.ComputeHash256Array(tx.UnsignedBytes())
		tx.idComputed = true
	}
	return tx.id
}

// Sign sets the transaction signature and its declared sender from key.
func (tx *Transaction) Sign(key *secp256k1.PrivateKey) error {
	if tx == nil {
		return errNilTransaction
	}
	tx.Sender = key.PublicKey().Address()
	tx.idComputed = false
	digest := tx.ID()
	sig, err := key.SignHash(digest[:])
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	copy(tx.Signature[:], sig)
	return nil
}

// VerifySignature recovers the signer from the signature and requires it to
// match the declared sender.
func (tx *Transaction) VerifySignature() error {
	var zero [SignatureLen]byte
	if tx.Signature == zero {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, errNoSignature)
	}
	digest := tx.ID()
	pub, err := secp256k1.RecoverPublicKeyFromHash(digest[:], tx.Signature[:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if addr := pub.Address(); addr != tx.Sender {
		return fmt.Errorf("%w: recovered %s, declared %s", ErrInvalidSignature, addr, tx.Sender)
	}
	return nil
}

// SyntacticVerify checks the stateless validity rules of a transaction.
func (tx *Transaction) SyntacticVerify() error {
	if tx == nil {
		return errNilTransaction
	}
	if len(tx.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(tx.Payload))
	}
	if tx.FeeLimit < tx.FeePrice {
		return fmt.Errorf("fee limit %d below fee price %d", tx.FeeLimit, tx.FeePrice)
	}
	return tx.VerifySignature()
}

// ParseTransaction decodes a canonical transaction. Malformed input yields
// a structural error and no partial object.
func ParseTransaction(b []byte) (*Transaction, error) {
	r := newWireReader(b)
	tx, err := readTransaction(r)
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return tx, nil
}

func readTransaction(r *wireReader) (*Transaction, error) {
	tx := &Transaction{}
	tx.Nonce = r.U64()
	copy(tx.Sender[:], r.Fixed(AddressLen))
	if r.Bool() {
		var recipient Address
		copy(recipient[:], r.Fixed(AddressLen))
		tx.Recipient = &recipient
	}
	tx.Value = r.U64()
	tx.FeePrice = r.U64()
	tx.FeeLimit = r.U64()
	tx.Payload = bytes.Clone(r.Bytes(MaxPayloadBytes))
	copy(tx.Signature[:], r.Fixed(SignatureLen))
	if r.Err != nil {
		return nil, r.Err
	}
	return tx, nil
}

func writeTransaction(w *wireWriter, tx *Transaction) {
	w.Fixed(tx.Bytes())
}
