// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package contest defines the contest domain model: the purchase request
// types, the configured price schedule and limits, the pricing calculation,
// and the datagram payload published to the ledger when a purchase settles.
package contest

import (
	"fmt"
	"time"
)

// Type enumerates the supported contest kinds.
type Type uint8

const (
	// TypeOneOfN is a contest where each voter picks exactly one of the
	// listed contestants.
	TypeOneOfN Type = 0
)

func (t Type) String() string {
	switch t {
	case TypeOneOfN:
		return "one-of-n"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// TallyAlgorithm enumerates the supported tally algorithms.
type TallyAlgorithm uint8

const (
	// TallyPlurality declares the contestant with the most stake-weight
	// the winner.
	TallyPlurality TallyAlgorithm = 0
)

func (t TallyAlgorithm) String() string {
	switch t {
	case TallyPlurality:
		return "plurality"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Contestant is one entry in a contest.
type Contestant struct {
	Name        string
	Description string
}

// Options describes the contest a buyer wants published.  An options value
// is immutable once received: it is validated and priced, never modified.
type Options struct {
	Name        string
	Description string
	Contestants []Contestant

	// EndTime is when the contest stops accepting decisions.  The zero
	// time means the contest never ends, which carries a surcharge.
	EndTime time.Time

	Type  Type
	Tally TallyAlgorithm
}

// PurchaseRequest is the caller-supplied request to buy a contest: the
// contest itself plus the creator's signature blob, carried opaquely into
// the published datagram.
type PurchaseRequest struct {
	Options          Options
	CreatorSignature []byte
}
