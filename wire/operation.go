// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// OpType is the tag distinguishing operation kinds inside a transaction.
type OpType uint8

const (
	// OpTypeTransfer moves an asset amount between two accounts,
	// optionally carrying a memo.
	OpTypeTransfer OpType = 0

	// OpTypeCustom embeds an opaque application payload in the ledger,
	// paid for by a single account.
	OpTypeCustom OpType = 1
)

func (t OpType) String() string {
	switch t {
	case OpTypeTransfer:
		return "transfer"
	case OpTypeCustom:
		return "custom"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// maxMemoLen and maxCustomDataLen bound variable-length fields.  Validate
// enforces them on operations built here, before serialization, so a
// transaction the node would refuse is never signed or broadcast.
const (
	maxMemoLen       = 1024
	maxCustomDataLen = 1 << 20
)

var (
	// ErrMalformedOp describes a structurally invalid operation.
	ErrMalformedOp = errors.New("malformed operation")
)

// Operation is a single ledger operation.  Implementations form a closed
// tagged union; code observing the chain switches on the concrete type and
// ignores kinds it does not care about.
type Operation interface {
	// Type returns the operation's union tag.
	Type() OpType

	// SerializeTo writes the canonical encoding of the operation body,
	// excluding the tag byte.
	SerializeTo(w io.Writer) error

	// Validate performs context-free structural checks.
	Validate() error
}

// TransferOperation moves Amount from one account to another.  The memo is an
// application-defined byte string; purchase payments carry the purchase's
// correlation token here.
type TransferOperation struct {
	From   AccountID
	To     AccountID
	Amount AssetAmount
	Memo   []byte
}

// Type returns OpTypeTransfer.
func (op *TransferOperation) Type() OpType { return OpTypeTransfer }

// SerializeTo writes the canonical encoding of the transfer.
func (op *TransferOperation) SerializeTo(w io.Writer) error {
	if err := writeUint64(w, uint64(op.From)); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(op.To)); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(op.Amount.Amount)); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(op.Amount.Asset)); err != nil {
		return err
	}
	return writeVarBytes(w, op.Memo)
}

// Validate performs structural checks on the transfer.
func (op *TransferOperation) Validate() error {
	if op.From == 0 || op.To == 0 {
		return fmt.Errorf("%w: transfer account not set", ErrMalformedOp)
	}
	if op.Amount.Amount <= 0 {
		return fmt.Errorf("%w: transfer of non-positive amount",
			ErrMalformedOp)
	}
	if len(op.Memo) > maxMemoLen {
		return fmt.Errorf("%w: memo of %d bytes exceeds %d",
			ErrMalformedOp, len(op.Memo), maxMemoLen)
	}
	return nil
}

// CustomOperation embeds Data in the ledger.  The payer funds the operation
// fee; the ledger itself assigns no meaning to the payload.
type CustomOperation struct {
	Payer AccountID

	// ID is an application-chosen channel discriminator so unrelated
	// applications can share the custom operation space.
	ID uint16

	Data []byte
	Fee  AssetAmount
}

// Type returns OpTypeCustom.
func (op *CustomOperation) Type() OpType { return OpTypeCustom }

// SerializeTo writes the canonical encoding of the custom operation.
func (op *CustomOperation) SerializeTo(w io.Writer) error {
	if err := writeUint64(w, uint64(op.Payer)); err != nil {
		return err
	}
	var id [2]byte
	binary.LittleEndian.PutUint16(id[:], op.ID)
	if _, err := w.Write(id[:]); err != nil {
		return err
	}
	if err := writeVarBytes(w, op.Data); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(op.Fee.Amount)); err != nil {
		return err
	}
	return writeUint64(w, uint64(op.Fee.Asset))
}

// Validate performs structural checks on the custom operation.
func (op *CustomOperation) Validate() error {
	if op.Payer == 0 {
		return fmt.Errorf("%w: custom operation payer not set",
			ErrMalformedOp)
	}
	if len(op.Data) == 0 {
		return fmt.Errorf("%w: custom operation with empty payload",
			ErrMalformedOp)
	}
	if len(op.Data) > maxCustomDataLen {
		return fmt.Errorf("%w: custom payload of %d bytes exceeds %d",
			ErrMalformedOp, len(op.Data), maxCustomDataLen)
	}
	if op.Fee.Amount < 0 {
		return fmt.Errorf("%w: negative fee", ErrMalformedOp)
	}
	return nil
}

// serializedSize returns the length of an operation's canonical encoding,
// excluding the tag byte.
func serializedSize(op Operation) (int, error) {
	var counter countingWriter
	if err := op.SerializeTo(&counter); err != nil {
		return 0, err
	}
	return int(counter), nil
}

type countingWriter int

func (c *countingWriter) Write(p []byte) (int, error) {
	*c += countingWriter(len(p))
	return len(p), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeVarBytes(w io.Writer, b []byte) error {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	if _, err := w.Write(l[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
