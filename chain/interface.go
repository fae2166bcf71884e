// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/swvote/creatord/wire"
)

// Interface is the access surface this daemon needs from a chain node.  The
// concrete implementation talks to a node over RPC, but consumers only rely
// on this interface so tests can substitute their own backend.
type Interface interface {
	Start() error
	Stop()
	WaitForShutdown()

	// Notifications returns the channel typed notifications are
	// delivered on.  Block notifications arrive in height order.
	Notifications() <-chan interface{}

	// GetBlock fetches the committed block at the given height.
	GetBlock(height uint32) (*wire.Block, error)

	// HeadBlockTime returns the timestamp of the chain's current head
	// block.
	HeadBlockTime() (time.Time, error)

	// ChainID returns the chain's genesis-derived identifier, which
	// scopes transaction signatures to this chain.
	ChainID() (*chainhash.Hash, error)

	// FeeSchedule returns the chain's current fee parameters.
	FeeSchedule() (*wire.FeeSchedule, error)

	// LookupAccount resolves a registered account name to its id.
	// Returns ErrAccountNotFound if no such account is registered.
	LookupAccount(name string) (wire.AccountID, error)

	// LookupAsset resolves a registered asset symbol.  Returns
	// ErrAssetNotFound if no such asset is registered.
	LookupAsset(symbol string) (*wire.AssetInfo, error)

	// BroadcastTransaction submits a signed transaction to the network.
	BroadcastTransaction(tx *wire.SignedTransaction) error
}

// Notification types.  These are defined here and processed from reading a
// notification channel so consumers never run on the RPC client's read loop.
type (
	// ClientConnected is a notification for when the client connection to
	// the chain node is established.
	ClientConnected struct{}

	// BlockConnected is a notification for a newly committed block.
	BlockConnected struct {
		Block *wire.Block
	}
)
