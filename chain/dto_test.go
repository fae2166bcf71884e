// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swvote/creatord/wire"
)

// TestOperationUnionDecoding checks that the operation union decodes into
// the right concrete types and rejects unknown tags.
func TestOperationUnionDecoding(t *testing.T) {
	t.Parallel()

	memo := base64.StdEncoding.EncodeToString([]byte("token"))
	op, err := operationFromJSON(operationJSON{
		Type:   "transfer",
		From:   1,
		To:     2,
		Amount: assetAmountJSON{Amount: 500, Asset: 5},
		Memo:   memo,
	})
	require.NoError(t, err)
	transfer, ok := op.(*wire.TransferOperation)
	require.True(t, ok)
	require.Equal(t, wire.AccountID(2), transfer.To)
	require.Equal(t, []byte("token"), transfer.Memo)

	op, err = operationFromJSON(operationJSON{
		Type:  "custom",
		Payer: 3,
		Data:  base64.StdEncoding.EncodeToString([]byte{0x01}),
	})
	require.NoError(t, err)
	_, ok = op.(*wire.CustomOperation)
	require.True(t, ok)

	_, err = operationFromJSON(operationJSON{Type: "vesting_withdraw"})
	require.Error(t, err)
}

// TestTransactionRoundTrip converts a signed transaction to the node's JSON
// shape and back.
func TestTransactionRoundTrip(t *testing.T) {
	t.Parallel()

	stx := &wire.SignedTransaction{
		Transaction: wire.Transaction{
			Expiration: time.Unix(1700000000, 0).UTC(),
			Operations: []wire.Operation{
				&wire.CustomOperation{
					Payer: 9,
					ID:    22,
					Data:  []byte("datagram"),
					Fee: wire.AssetAmount{
						Amount: 42,
						Asset:  wire.CoreAsset,
					},
				},
			},
		},
		Signatures: [][]byte{{0xde, 0xad}},
	}

	encoded, err := transactionToJSON(stx)
	require.NoError(t, err)
	decoded, err := transactionFromJSON(encoded)
	require.NoError(t, err)
	require.Equal(t, *stx, decoded)
}

// TestBlockFromJSON decodes a block and verifies transfer extraction order.
func TestBlockFromJSON(t *testing.T) {
	t.Parallel()

	raw := blockJSON{
		Height:    77,
		Previous:  "00000000000000000000000000000000000000000000000000000000000000aa",
		Timestamp: time.Unix(1700000100, 0).UTC(),
		Transactions: []transactionJSON{
			{
				Expiration: time.Unix(1700000130, 0).UTC(),
				Operations: []operationJSON{
					{
						Type: "transfer",
						From: 4, To: 5,
						Amount: assetAmountJSON{
							Amount: 10, Asset: 5,
						},
						Memo: base64.StdEncoding.
							EncodeToString([]byte("a")),
					},
					{
						Type:  "custom",
						Payer: 4,
						Data: base64.StdEncoding.
							EncodeToString([]byte("x")),
					},
					{
						Type: "transfer",
						From: 6, To: 7,
						Amount: assetAmountJSON{
							Amount: 20, Asset: 5,
						},
					},
				},
				Signatures: []string{"beef"},
			},
		},
	}

	block, err := blockFromJSON(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(77), block.Height)

	transfers := block.Transfers()
	require.Len(t, transfers, 2)
	require.Equal(t, wire.AccountID(5), transfers[0].To)
	require.Equal(t, wire.AccountID(7), transfers[1].To)
}

// TestFeeScheduleFromJSON maps known operation kinds and drops the rest.
func TestFeeScheduleFromJSON(t *testing.T) {
	t.Parallel()

	schedule, err := feeScheduleFromJSON(feeScheduleJSON{
		BaseFees: map[string]int64{
			"transfer":         100,
			"custom":           2000,
			"witness_update":   99999,
			"account_creation": 88888,
		},
		PerByteFee: 3,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2000), schedule.BaseFees[wire.OpTypeCustom])
	require.Equal(t, int64(100), schedule.BaseFees[wire.OpTypeTransfer])
	require.Len(t, schedule.BaseFees, 2)
	require.Equal(t, int64(3), schedule.PerByteFee)
}
