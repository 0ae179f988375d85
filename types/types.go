// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types defines the block and transaction model of the PoS chain
// together with its canonical binary encoding. Any two nodes must compute
// identical bytes, and therefore identical hashes, for identical logical
// content.
package types

import (
	"errors"

	"github.com/luxfi/ids"
)

// Address identifies an account or validator.
type Address = ids.ShortID

// Hash is a 32-byte content digest.
type Hash = ids.ID

const (
	// AddressLen is the number of bytes in an Address.
	AddressLen = 20

	// HashLen is the number of bytes in a Hash.
	HashLen = 32

	// SignatureLen is the number of bytes in a recoverable secp256k1
	// signature.
	SignatureLen = 65

	// MaxPayloadBytes bounds the opaque payload carried by a transaction.
	MaxPayloadBytes = 64 * 1024

	// MaxTxsPerBlock bounds the number of transactions in a single block.
	MaxTxsPerBlock = 4096
)

// EmptyHash is the zero hash. It is the declared parent of the genesis
// block.
var EmptyHash = ids.Empty

var (
	// ErrStructural marks a decode failure: the input does not describe a
	// well-formed object. Callers must not retry the same bytes.
	ErrStructural = errors.New("structural error")

	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrTooManyTxs       = errors.New("block exceeds maximum transaction count")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrWrongTxRoot      = errors.New("transaction root does not match body")
)
