// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"errors"
	"fmt"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/crypto/secp256k1"
)

var errNilBlock = errors.New("nil block")

// Block is an immutable batch of transactions extending a parent block.
type Block struct {
	Height    uint64
	Timestamp uint64
	ParentID  Hash
	StateRoot Hash
	TxRoot    Hash
	Proposer  Address
	Txs       []*Transaction
	Signature [SignatureLen]byte

	// cached on first use
	id         Hash
	idComputed bool
}

// UnsignedBytes returns the canonical encoding of the block without its
// proposer signature.
func (b *Block) UnsignedBytes() []byte {
	w := newWireWriter(128 + 256*len(b.Txs))
	w.U64(b.Height)
	w.U64(b.Timestamp)
	w.Fixed(b.ParentID[:])
	w.Fixed(b.StateRoot[:])
	w.Fixed(b.TxRoot[:])
	w.Fixed(b.Proposer[:])
	w.U32(uint32(len(b.Txs)))
	for _, tx := range b.Txs {
		writeTransaction(w, tx)
	}
	return w.Finish()
}

// Bytes returns the full canonical encoding including the signature.
func (b *Block) Bytes() []byte {
	unsigned := b.UnsignedBytes()
	w := newWireWriter(len(unsigned) + SignatureLen)
	w.Fixed(unsigned)
	w.Fixed(b.Signature[:])
	return w.Finish()
}

// ID returns the hash of the unsigned canonical encoding.
func (b *Block) ID() Hash {
	if !b.idComputed {
		b.id = hash.ComputeHash256Array(b.UnsignedBytes())
		b.idComputed = true
	}
	return b.id
}

// Sign sets the block signature and its declared proposer from key.
func (b *Block) Sign(key *secp256k1.PrivateKey) error {
	if b == nil {
		return errNilBlock
	}
	b.Proposer = key.PublicKey().Address()
	b.idComputed = false
	digest := b.ID()
	sig, err := key.SignHash(digest[:])
	if err != nil {
		return fmt.Errorf("signing block: %w", err)
	}
	copy(b.Signature[:], sig)
	return nil
}

// VerifySignature recovers the signer and requires it to match the declared
// proposer. Genesis blocks are unsigned and must not be verified.
func (b *Block) VerifySignature() error {
	digest := b.ID()
	pub, err := secp256k1.RecoverPublicKeyFromHash(digest[:], b.Signature[:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if addr := pub.Address(); addr != b.Proposer {
		return fmt.Errorf("%w: recovered %s, declared %s", ErrInvalidSignature, addr, b.Proposer)
	}
	return nil
}

// SyntacticVerify checks the stateless validity rules of a block. It does
// not verify transaction signatures; those are checked separately so they
// can run on a worker pool.
func (b *Block) SyntacticVerify() error {
	if b == nil {
		return errNilBlock
	}
	if len(b.Txs) > MaxTxsPerBlock {
		return fmt.Errorf("%w: %d", ErrTooManyTxs, len(b.Txs))
	}
	if root := MerkleRoot(b.Txs); root != b.TxRoot {
		return fmt.Errorf("%w: computed %s, declared %s", ErrWrongTxRoot, root, b.TxRoot)
	}
	for i, tx := range b.Txs {
		if tx == nil {
			return fmt.Errorf("%w: nil transaction at index %d", ErrStructural, i)
		}
		if len(tx.Payload) > MaxPayloadBytes {
			return fmt.Errorf("transaction %d: %w", i, ErrPayloadTooLarge)
		}
	}
	return nil
}

// ParseBlock decodes a canonical block. Malformed input yields a structural
// error and no partial object.
func ParseBlock(b []byte) (*Block, error) {
	r := newWireReader(b)
	blk := &Block{}
	blk.Height = r.U64()
	blk.Timestamp = r.U64()
	copy(blk.ParentID[:], r.Fixed(HashLen))
	copy(blk.StateRoot[:], r.Fixed(HashLen))
	copy(blk.TxRoot[:], r.Fixed(HashLen))
	copy(blk.Proposer[:], r.Fixed(AddressLen))
	numTxs := r.U32()
	if r.Err != nil {
		return nil, r.Err
	}
	if numTxs > MaxTxsPerBlock {
		return nil, fmt.Errorf("%w: %d", ErrTooManyTxs, numTxs)
	}
	blk.Txs = make([]*Transaction, 0, numTxs)
	for i := uint32(0); i < numTxs; i++ {
		tx, err := readTransaction(r)
		if err != nil {
			return nil, err
		}
		blk.Txs = append(blk.Txs, tx)
	}
	copy(blk.Signature[:], r.Fixed(SignatureLen))
	if err := r.Done(); err != nil {
		return nil, err
	}
	return blk, nil
}
