// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
)

// FeeSchedule is the chain's current fee parameters: a flat base fee per
// operation kind plus a per-byte charge on the operation's serialized size.
// Fees are always denominated in the core asset.
type FeeSchedule struct {
	BaseFees   map[OpType]int64
	PerByteFee int64
}

// FeeFor computes the fee the chain will charge for the given operation
// under this schedule.
func (s *FeeSchedule) FeeFor(op Operation) (AssetAmount, error) {
	base, ok := s.BaseFees[op.Type()]
	if !ok {
		return AssetAmount{}, fmt.Errorf("fee schedule has no entry "+
			"for %v operations", op.Type())
	}
	size, err := serializedSize(op)
	if err != nil {
		return AssetAmount{}, err
	}
	return AssetAmount{
		Amount: base + int64(size)*s.PerByteFee,
		Asset:  CoreAsset,
	}, nil
}
