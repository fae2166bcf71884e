// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

var testChainID = chainhash.Hash{0x01, 0x02, 0x03}

func testTransaction() *Transaction {
	return &Transaction{
		Expiration: time.Unix(1700000000, 0),
		Operations: []Operation{
			&CustomOperation{
				Payer: 7,
				ID:    22,
				Data:  []byte("payload"),
				Fee:   AssetAmount{Amount: 100, Asset: CoreAsset},
			},
		},
	}
}

// TestTransactionDigestDeterminism ensures repeated serialization of the
// same transaction yields the same digest, and that the digest depends on
// the chain id.
func TestTransactionDigestDeterminism(t *testing.T) {
	t.Parallel()

	tx := testTransaction()
	d1, err := tx.Digest(&testChainID)
	require.NoError(t, err)
	d2, err := tx.Digest(&testChainID)
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	otherChain := chainhash.Hash{0xff}
	d3, err := tx.Digest(&otherChain)
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)
}

// TestSignAndVerify signs a transaction and verifies the signature against
// the signing key's public key, on the right chain and on a wrong chain.
func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	stx := &SignedTransaction{Transaction: *testTransaction()}
	require.NoError(t, stx.Sign(key, &testChainID))
	require.Len(t, stx.Signatures, 1)
	require.NoError(t, stx.Validate())

	ok, err := stx.VerifySignature(0, key.PubKey(), &testChainID)
	require.NoError(t, err)
	require.True(t, ok)

	otherChain := chainhash.Hash{0xff}
	ok, err = stx.VerifySignature(0, key.PubKey(), &otherChain)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestTransactionValidate exercises the structural validation rules.
func TestTransactionValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		mutate      func(*SignedTransaction)
		expectedErr error
	}{
		{
			name:        "valid",
			mutate:      func(*SignedTransaction) {},
			expectedErr: nil,
		},
		{
			name: "no operations",
			mutate: func(tx *SignedTransaction) {
				tx.Operations = nil
			},
			expectedErr: ErrNoOperations,
		},
		{
			name: "no expiration",
			mutate: func(tx *SignedTransaction) {
				tx.Expiration = time.Time{}
			},
			expectedErr: ErrNoExpiration,
		},
		{
			name: "no signatures",
			mutate: func(tx *SignedTransaction) {
				tx.Signatures = nil
			},
			expectedErr: ErrNoSignatures,
		},
		{
			name: "empty custom payload",
			mutate: func(tx *SignedTransaction) {
				tx.Operations[0].(*CustomOperation).Data = nil
			},
			expectedErr: ErrMalformedOp,
		},
		{
			name: "oversized custom payload",
			mutate: func(tx *SignedTransaction) {
				tx.Operations[0].(*CustomOperation).Data =
					make([]byte, maxCustomDataLen+1)
			},
			expectedErr: ErrMalformedOp,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			key, err := btcec.NewPrivateKey()
			require.NoError(t, err)
			stx := &SignedTransaction{Transaction: *testTransaction()}
			require.NoError(t, stx.Sign(key, &testChainID))

			tc.mutate(stx)
			err = stx.Validate()
			if tc.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

// TestFeeForSizeCharge checks that the per-byte component of the fee grows
// with the payload.
func TestFeeForSizeCharge(t *testing.T) {
	t.Parallel()

	schedule := &FeeSchedule{
		BaseFees: map[OpType]int64{
			OpTypeCustom:   1000,
			OpTypeTransfer: 500,
		},
		PerByteFee: 2,
	}

	small := &CustomOperation{Payer: 1, Data: bytes.Repeat([]byte{0xaa}, 10)}
	large := &CustomOperation{Payer: 1, Data: bytes.Repeat([]byte{0xaa}, 110)}

	smallFee, err := schedule.FeeFor(small)
	require.NoError(t, err)
	largeFee, err := schedule.FeeFor(large)
	require.NoError(t, err)

	require.Equal(t, CoreAsset, smallFee.Asset)
	require.Equal(t, int64(200), largeFee.Amount-smallFee.Amount)

	// An operation kind missing from the schedule is an error, not a
	// free operation.
	_, err = (&FeeSchedule{PerByteFee: 1}).FeeFor(small)
	require.Error(t, err)
}

// TestPriceConvert checks exchange-rate conversion in both directions and
// the incompatible-asset error.
func TestPriceConvert(t *testing.T) {
	t.Parallel()

	// 100 core == 250 of asset 5.
	rate := Price{
		Base:  AssetAmount{Amount: 100, Asset: CoreAsset},
		Quote: AssetAmount{Amount: 250, Asset: 5},
	}

	out, err := rate.Convert(AssetAmount{Amount: 40, Asset: CoreAsset})
	require.NoError(t, err)
	require.Equal(t, AssetAmount{Amount: 100, Asset: 5}, out)

	back, err := rate.Convert(AssetAmount{Amount: 100, Asset: 5})
	require.NoError(t, err)
	require.Equal(t, AssetAmount{Amount: 40, Asset: CoreAsset}, back)

	// Conversion rounds down.
	out, err = rate.Convert(AssetAmount{Amount: 1, Asset: 5})
	require.NoError(t, err)
	require.Equal(t, int64(0), out.Amount)

	_, err = rate.Convert(AssetAmount{Amount: 1, Asset: 9})
	require.ErrorIs(t, err, ErrIncompatibleAssets)
}
