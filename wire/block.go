// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Block is a committed ledger block.  Blocks are produced in strict height
// order and are never reorganized once reported by the node, so observers may
// treat the stream of blocks as append-only.
type Block struct {
	Height       uint32
	Previous     chainhash.Hash
	Timestamp    time.Time
	Transactions []SignedTransaction
}

// Transfers returns every transfer operation in the block, in transaction
// and then operation order.
func (b *Block) Transfers() []*TransferOperation {
	var transfers []*TransferOperation
	for _, tx := range b.Transactions {
		for _, op := range tx.Operations {
			if transfer, ok := op.(*TransferOperation); ok {
				transfers = append(transfers, transfer)
			}
		}
	}
	return transfers
}
