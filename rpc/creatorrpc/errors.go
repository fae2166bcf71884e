// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package creatorrpc

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/swvote/creatord/contest"
	"github.com/swvote/creatord/purchase"
)

// Error variables that are defined once here to avoid duplication below.
var (
	ErrUnknownPurchase = btcjson.RPCError{
		Code:    btcjson.ErrRPCInvalidParameter,
		Message: "purchase handle is unknown or was released",
	}

	ErrNeedsWebsocket = btcjson.RPCError{
		Code:    btcjson.ErrRPCInvalidParameter,
		Message: "method is only available to websocket clients",
	}

	ErrServerMisconfigured = btcjson.RPCError{
		Code:    btcjson.ErrRPCInternal.Code,
		Message: "server is misconfigured and cannot settle purchases",
	}
)

// jsonError converts a handler error into the *btcjson.RPCError sent to the
// client.  Validation failures keep their field-level detail; server
// misconfigurations are reported without it.
func jsonError(err error) *btcjson.RPCError {
	if err == nil {
		return nil
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var validationErr *contest.ValidationError
	if errors.As(err, &validationErr) {
		return btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			validationErr.Error())
	}

	if errors.Is(err, purchase.ErrSessionReleased) {
		return &ErrUnknownPurchase
	}

	var fault *purchase.ConfigurationFault
	if errors.As(err, &fault) {
		return &ErrServerMisconfigured
	}

	return btcjson.NewRPCError(btcjson.ErrRPCMisc, err.Error())
}
