// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrIncompatibleAssets is returned when arithmetic is attempted
	// between amounts of two different assets.
	ErrIncompatibleAssets = errors.New("amounts are of different assets")

	// ErrAmountOverflow is returned when an asset conversion does not fit
	// in a 64-bit amount.
	ErrAmountOverflow = errors.New("amount overflows 64 bits")
)

// AccountID identifies a registered account on the ledger.  The zero value is
// never a valid account.
type AccountID uint64

// AssetID identifies a registered asset on the ledger.  The core asset, which
// all operation fees are charged in, is always asset 0.
type AssetID uint64

// CoreAsset is the asset id of the ledger's core asset.
const CoreAsset AssetID = 0

// AssetAmount is a quantity of a specific asset, in the asset's minor units.
type AssetAmount struct {
	Amount int64
	Asset  AssetID
}

func (a AssetAmount) String() string {
	return fmt.Sprintf("%d (asset %d)", a.Amount, a.Asset)
}

// AssetInfo describes a registered asset as reported by the chain node.
type AssetInfo struct {
	ID     AssetID
	Symbol string

	// CoreExchangeRate is the rate published by the asset's issuer for
	// converting fees between the core asset and this asset.
	CoreExchangeRate Price
}

// Price is an exchange rate between two assets, expressed as the ratio
// Quote/Base.
type Price struct {
	Base  AssetAmount
	Quote AssetAmount
}

// Convert converts a into the opposite asset of the price pair, rounding
// down.  The amount must be denominated in one of the pair's two assets.
func (p Price) Convert(a AssetAmount) (AssetAmount, error) {
	var from, to AssetAmount
	switch a.Asset {
	case p.Base.Asset:
		from, to = p.Base, p.Quote
	case p.Quote.Asset:
		from, to = p.Quote, p.Base
	default:
		return AssetAmount{}, ErrIncompatibleAssets
	}
	if from.Amount == 0 {
		return AssetAmount{}, errors.New("price has a zero denominator")
	}

	// 64-bit multiplication can overflow for legitimate rates, so the
	// intermediate product is computed at full precision.
	product := new(big.Int).Mul(big.NewInt(a.Amount), big.NewInt(to.Amount))
	product.Quo(product, big.NewInt(from.Amount))
	if !product.IsInt64() {
		return AssetAmount{}, ErrAmountOverflow
	}
	return AssetAmount{Amount: product.Int64(), Asset: to.Asset}, nil
}
