// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/swvote/creatord/chain"
	"github.com/swvote/creatord/contest"
	"github.com/swvote/creatord/wire"
)

// txExpirationDelta is how far past the chain's head time a settlement
// transaction's expiration is set.  Plenty of time for broadcast, short
// enough that a stuck transaction dies quickly.
const txExpirationDelta = 30 * time.Second

// Publisher builds, signs, and broadcasts the follow-up transaction for a
// settled purchase.  Failures never propagate out: every outcome is reported
// to the session through its settlement callback, so a bad transaction can
// never crash the path that found the payment.
type Publisher struct {
	chain      chain.Interface
	payerID    wire.AccountID
	privKeyWIF string
}

// NewPublisher creates a publisher paying from the given account with the
// given WIF-encoded key.
func NewPublisher(c chain.Interface, payerID wire.AccountID,
	privKeyWIF string) *Publisher {

	return &Publisher{
		chain:      c,
		payerID:    payerID,
		privKeyWIF: privKeyWIF,
	}
}

// Settle publishes the session's follow-up payload and reports the outcome
// to the session.  It runs once per session, guarded by the session's
// single-fire transition into Settling.
func (p *Publisher) Settle(s *Session) {
	if err := p.publish(s); err != nil {
		log.Errorf("Session %s: settlement failed: %v", s.Token(), err)
		s.settled(false)
		return
	}
	s.settled(true)
}

func (p *Publisher) publish(s *Session) error {
	// A missing or corrupt key is a fatal misconfiguration, not a
	// transient failure; check it before anything else.
	wif, err := btcutil.DecodeWIF(p.privKeyWIF)
	if err != nil {
		return configFault("cannot publish contest",
			fmt.Errorf("%w: %v", ErrPublisherKeyInvalid, err))
	}

	op := &wire.CustomOperation{
		Payer: p.payerID,
		ID:    contest.DatagramChannel,
		Data:  s.payload,
	}
	schedule, err := p.chain.FeeSchedule()
	if err != nil {
		return fmt.Errorf("fetching fee schedule: %w", err)
	}
	op.Fee, err = schedule.FeeFor(op)
	if err != nil {
		return fmt.Errorf("computing fee: %w", err)
	}

	headTime, err := p.chain.HeadBlockTime()
	if err != nil {
		return fmt.Errorf("fetching head block time: %w", err)
	}

	stx := &wire.SignedTransaction{
		Transaction: wire.Transaction{
			Expiration: headTime.Add(txExpirationDelta),
			Operations: []wire.Operation{op},
		},
	}

	chainID, err := p.chain.ChainID()
	if err != nil {
		return fmt.Errorf("fetching chain id: %w", err)
	}
	if err := stx.Sign(wif.PrivKey, chainID); err != nil {
		return fmt.Errorf("signing: %w", err)
	}
	if err := stx.Validate(); err != nil {
		return fmt.Errorf("validating: %w", err)
	}

	if err := p.chain.BroadcastTransaction(stx); err != nil {
		return fmt.Errorf("broadcasting: %w", err)
	}

	log.Debugf("Session %s: broadcast settlement transaction expiring "+
		"%v", s.Token(), stx.Expiration)
	return nil
}
