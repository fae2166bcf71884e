// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrNoOperations is returned when validating a transaction that
	// carries no operations.
	ErrNoOperations = errors.New("transaction has no operations")

	// ErrNoExpiration is returned when validating a transaction whose
	// expiration was never set.
	ErrNoExpiration = errors.New("transaction expiration not set")

	// ErrNoSignatures is returned when validating a signed transaction
	// that carries no signatures.
	ErrNoSignatures = errors.New("transaction has no signatures")
)

// Transaction is an unsigned ledger transaction: an ordered list of
// operations and an expiration time after which the chain will refuse it.
type Transaction struct {
	Expiration time.Time
	Operations []Operation
}

// SerializeTo writes the canonical encoding of the transaction.
func (tx *Transaction) SerializeTo(w io.Writer) error {
	if err := writeUint64(w, uint64(tx.Expiration.Unix())); err != nil {
		return err
	}
	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(tx.Operations)))
	if _, err := w.Write(count[:]); err != nil {
		return err
	}
	for _, op := range tx.Operations {
		if _, err := w.Write([]byte{byte(op.Type())}); err != nil {
			return err
		}
		if err := op.SerializeTo(w); err != nil {
			return err
		}
	}
	return nil
}

// Validate performs context-free structural checks on the transaction and
// every operation it carries.
func (tx *Transaction) Validate() error {
	if len(tx.Operations) == 0 {
		return ErrNoOperations
	}
	if tx.Expiration.IsZero() {
		return ErrNoExpiration
	}
	for i, op := range tx.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

// Digest returns the signing digest of the transaction against the given
// chain id.  Prefixing the digest with the chain id makes signatures invalid
// on any other chain.
func (tx *Transaction) Digest(chainID *chainhash.Hash) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(chainID[:])
	if err := tx.SerializeTo(&buf); err != nil {
		return nil, err
	}
	return chainhash.HashB(buf.Bytes()), nil
}

// SignedTransaction is a transaction together with the signatures that
// authorize it.
type SignedTransaction struct {
	Transaction
	Signatures [][]byte
}

// Sign appends a signature over the transaction's digest against the given
// chain id.
func (tx *SignedTransaction) Sign(key *btcec.PrivateKey,
	chainID *chainhash.Hash) error {

	digest, err := tx.Digest(chainID)
	if err != nil {
		return err
	}
	sig := ecdsa.Sign(key, digest)
	tx.Signatures = append(tx.Signatures, sig.Serialize())
	return nil
}

// VerifySignature reports whether signature index i is a valid signature of
// the transaction by the given public key.
func (tx *SignedTransaction) VerifySignature(i int, pub *btcec.PublicKey,
	chainID *chainhash.Hash) (bool, error) {

	if i < 0 || i >= len(tx.Signatures) {
		return false, fmt.Errorf("no signature at index %d", i)
	}
	sig, err := ecdsa.ParseDERSignature(tx.Signatures[i])
	if err != nil {
		return false, err
	}
	digest, err := tx.Digest(chainID)
	if err != nil {
		return false, err
	}
	return sig.Verify(digest, pub), nil
}

// Validate performs the unsigned transaction checks and additionally
// requires at least one signature.
func (tx *SignedTransaction) Validate() error {
	if err := tx.Transaction.Validate(); err != nil {
		return err
	}
	if len(tx.Signatures) == 0 {
		return ErrNoSignatures
	}
	return nil
}
