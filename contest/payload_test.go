// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPayloadStability encodes the same request twice and expects identical
// bytes: a session's published datagram must never change between the quote
// and the settlement.
func TestPayloadStability(t *testing.T) {
	t.Parallel()

	req := validRequest()
	first, err := EncodePayload(req)
	require.NoError(t, err)
	second, err := EncodePayload(req)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

// TestPayloadRoundTrip decodes an encoded datagram back into the original
// request parts.
func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	req := &PurchaseRequest{
		Options: Options{
			Name:        "Best pie",
			Description: "pick one",
			Contestants: []Contestant{
				{Name: "Apple", Description: "classic"},
				{Name: "Cherry"},
				{Name: "Pecan", Description: "sweet"},
			},
			EndTime: time.Date(2016, 11, 1, 0, 0, 0, 0, time.UTC),
			Type:    TypeOneOfN,
			Tally:   TallyPlurality,
		},
		CreatorSignature: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	payload, err := EncodePayload(req)
	require.NoError(t, err)

	datagram, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Equal(t, DatagramTypeContest, datagram.Kind)
	require.Equal(t, req.CreatorSignature, datagram.Key)

	opts, err := DecodeOptions(datagram.Content)
	require.NoError(t, err)
	require.Equal(t, req.Options, *opts)
}

// TestPayloadOpenEnded checks that the zero end time survives the round
// trip as the open-ended sentinel.
func TestPayloadOpenEnded(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.Options.EndTime = time.Time{}

	payload, err := EncodePayload(req)
	require.NoError(t, err)
	datagram, err := DecodePayload(payload)
	require.NoError(t, err)
	opts, err := DecodeOptions(datagram.Content)
	require.NoError(t, err)
	require.True(t, opts.EndTime.IsZero())
}
