// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/swvote/creatord/wire"
)

// The node's RPC speaks JSON.  The types below are the node's wire shapes;
// they are converted to and from the canonical types in the wire package at
// the client boundary so the rest of the daemon never sees JSON documents.

type assetAmountJSON struct {
	Amount int64  `json:"amount"`
	Asset  uint64 `json:"asset"`
}

type priceJSON struct {
	Base  assetAmountJSON `json:"base"`
	Quote assetAmountJSON `json:"quote"`
}

type operationJSON struct {
	Type string `json:"type"`

	// Transfer fields.
	From   uint64          `json:"from,omitempty"`
	To     uint64          `json:"to,omitempty"`
	Amount assetAmountJSON `json:"amount,omitempty"`
	Memo   string          `json:"memo,omitempty"`

	// Custom operation fields.
	Payer   uint64          `json:"payer,omitempty"`
	Channel uint16          `json:"channel,omitempty"`
	Data    string          `json:"data,omitempty"`
	Fee     assetAmountJSON `json:"fee,omitempty"`
}

type transactionJSON struct {
	Expiration time.Time       `json:"expiration"`
	Operations []operationJSON `json:"operations"`
	Signatures []string        `json:"signatures"`
}

type blockJSON struct {
	Height       uint32            `json:"height"`
	Previous     string            `json:"previous"`
	Timestamp    time.Time         `json:"timestamp"`
	Transactions []transactionJSON `json:"transactions"`
}

type feeScheduleJSON struct {
	BaseFees   map[string]int64 `json:"base_fees"`
	PerByteFee int64            `json:"per_byte_fee"`
}

type dynamicPropertiesJSON struct {
	HeadBlockNumber uint32    `json:"head_block_number"`
	HeadBlockTime   time.Time `json:"head_block_time"`
}

type accountJSON struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type assetJSON struct {
	ID               uint64    `json:"id"`
	Symbol           string    `json:"symbol"`
	CoreExchangeRate priceJSON `json:"core_exchange_rate"`
}

func amountFromJSON(a assetAmountJSON) wire.AssetAmount {
	return wire.AssetAmount{Amount: a.Amount, Asset: wire.AssetID(a.Asset)}
}

func amountToJSON(a wire.AssetAmount) assetAmountJSON {
	return assetAmountJSON{Amount: a.Amount, Asset: uint64(a.Asset)}
}

func priceFromJSON(p priceJSON) wire.Price {
	return wire.Price{
		Base:  amountFromJSON(p.Base),
		Quote: amountFromJSON(p.Quote),
	}
}

func operationFromJSON(op operationJSON) (wire.Operation, error) {
	switch op.Type {
	case "transfer":
		memo, err := base64.StdEncoding.DecodeString(op.Memo)
		if err != nil {
			return nil, fmt.Errorf("invalid transfer memo: %w", err)
		}
		return &wire.TransferOperation{
			From:   wire.AccountID(op.From),
			To:     wire.AccountID(op.To),
			Amount: amountFromJSON(op.Amount),
			Memo:   memo,
		}, nil

	case "custom":
		data, err := base64.StdEncoding.DecodeString(op.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid custom payload: %w", err)
		}
		return &wire.CustomOperation{
			Payer: wire.AccountID(op.Payer),
			ID:    op.Channel,
			Data:  data,
			Fee:   amountFromJSON(op.Fee),
		}, nil
	}

	return nil, fmt.Errorf("unknown operation type %q", op.Type)
}

func operationToJSON(op wire.Operation) (operationJSON, error) {
	switch op := op.(type) {
	case *wire.TransferOperation:
		return operationJSON{
			Type:   "transfer",
			From:   uint64(op.From),
			To:     uint64(op.To),
			Amount: amountToJSON(op.Amount),
			Memo:   base64.StdEncoding.EncodeToString(op.Memo),
		}, nil

	case *wire.CustomOperation:
		return operationJSON{
			Type:    "custom",
			Payer:   uint64(op.Payer),
			Channel: op.ID,
			Data:    base64.StdEncoding.EncodeToString(op.Data),
			Fee:     amountToJSON(op.Fee),
		}, nil
	}

	return operationJSON{}, fmt.Errorf("unknown operation type %T", op)
}

func transactionFromJSON(tx transactionJSON) (wire.SignedTransaction, error) {
	out := wire.SignedTransaction{
		Transaction: wire.Transaction{Expiration: tx.Expiration},
	}
	for _, op := range tx.Operations {
		decoded, err := operationFromJSON(op)
		if err != nil {
			return out, err
		}
		out.Operations = append(out.Operations, decoded)
	}
	for _, sig := range tx.Signatures {
		raw, err := hex.DecodeString(sig)
		if err != nil {
			return out, fmt.Errorf("invalid signature encoding: %w",
				err)
		}
		out.Signatures = append(out.Signatures, raw)
	}
	return out, nil
}

func transactionToJSON(tx *wire.SignedTransaction) (transactionJSON, error) {
	out := transactionJSON{Expiration: tx.Expiration}
	for _, op := range tx.Operations {
		encoded, err := operationToJSON(op)
		if err != nil {
			return out, err
		}
		out.Operations = append(out.Operations, encoded)
	}
	for _, sig := range tx.Signatures {
		out.Signatures = append(out.Signatures, hex.EncodeToString(sig))
	}
	return out, nil
}

func blockFromJSON(b blockJSON) (*wire.Block, error) {
	prev, err := chainhash.NewHashFromStr(b.Previous)
	if err != nil {
		return nil, fmt.Errorf("invalid previous block hash: %w", err)
	}
	block := &wire.Block{
		Height:    b.Height,
		Previous:  *prev,
		Timestamp: b.Timestamp,
	}
	for _, tx := range b.Transactions {
		decoded, err := transactionFromJSON(tx)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", b.Height, err)
		}
		block.Transactions = append(block.Transactions, decoded)
	}
	return block, nil
}

func feeScheduleFromJSON(s feeScheduleJSON) (*wire.FeeSchedule, error) {
	schedule := &wire.FeeSchedule{
		BaseFees:   make(map[wire.OpType]int64, len(s.BaseFees)),
		PerByteFee: s.PerByteFee,
	}
	for name, fee := range s.BaseFees {
		switch name {
		case "transfer":
			schedule.BaseFees[wire.OpTypeTransfer] = fee
		case "custom":
			schedule.BaseFees[wire.OpTypeCustom] = fee
		default:
			// Fee entries for operation kinds this daemon never
			// builds are ignored.
		}
	}
	return schedule, nil
}
