// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swvote/creatord/chain"
	"github.com/swvote/creatord/contest"
	"github.com/swvote/creatord/wire"
)

// State is a purchase session's lifecycle state.  Transitions are monotonic:
// AwaitingPayment -> Settling -> Completed | Failed, with no way back out of
// a terminal state.
type State uint8

const (
	// StateAwaitingPayment is the initial state: the quote has been (or
	// can be) issued and the watcher is looking for a matching payment.
	StateAwaitingPayment State = iota

	// StateSettling means a sufficient payment was observed and the
	// follow-up transaction is being published.  A session enters this
	// state at most once.
	StateSettling

	// StateCompleted means the follow-up transaction was broadcast.
	StateCompleted

	// StateFailed means publishing the follow-up transaction failed.
	// The payment was received; an operator must intervene.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingPayment:
		return "awaiting-payment"
	case StateSettling:
		return "settling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Terminal reports whether the state is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Subscriber receives a session's one-shot terminal notification.  Notify is
// called at most once per subscriber; the boolean reports settlement
// success.  The session does not own the subscriber's lifetime.
type Subscriber interface {
	Notify(completed bool) error
}

// Adjustment is a named price adjustment applied to a quote, e.g. the data
// fee surcharge on oversized contests.
type Adjustment struct {
	Name  string
	Price int64
}

// Quote is what a buyer needs to pay for a purchase: the amount and asset,
// the account to pay, and the memo that binds the payment to this session.
type Quote struct {
	Amount      int64
	Asset       wire.AssetID
	PayAddress  string
	Memo        string
	Adjustments []Adjustment
}

// Session is a single purchase in flight.  It owns the quoted price, the
// correlation token the buyer must put in the payment memo, and the payload
// published once the payment is observed.
type Session struct {
	// Immutable after creation.
	token      string
	payload    []byte
	oversized  bool
	created    time.Time
	payAccount wire.AccountID
	payAddress string
	asset      wire.AssetID
	assetSym   string
	chain      chain.Interface

	mu          sync.Mutex
	price       int64
	surcharged  bool
	adjustments []Adjustment
	state       State
	result      bool
	released    bool
	subscribers []Subscriber
}

type sessionConfig struct {
	price      int64
	oversized  bool
	payload    []byte
	payAccount wire.AccountID
	payAddress string
	asset      wire.AssetID
	assetSym   string
	chain      chain.Interface
	created    time.Time
}

func newSession(cfg sessionConfig) *Session {
	return &Session{
		token:      uuid.NewString(),
		payload:    cfg.payload,
		oversized:  cfg.oversized,
		created:    cfg.created,
		payAccount: cfg.payAccount,
		payAddress: cfg.payAddress,
		asset:      cfg.asset,
		assetSym:   cfg.assetSym,
		chain:      cfg.chain,
		price:      cfg.price,
	}
}

// Token returns the session's correlation token.  Payments carry it in
// their memo to bind them to this session.
func (s *Session) Token() string { return s.token }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Complete reports whether the session has settled successfully.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateCompleted
}

// Quote returns the current price, pay address, and payment memo.  For an
// oversized contest the data surcharge is computed on the first call, from
// the follow-up operation's fee at the current exchange rate, and folded
// into the session's price exactly once; subsequent calls return the
// adjusted price unchanged.
func (s *Session) Quote() (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrSessionReleased
	}

	if s.oversized && !s.surcharged {
		charge, err := s.dataSurcharge()
		if err != nil {
			// Nothing was applied; the next quote retries.
			return nil, err
		}
		s.price += charge
		s.adjustments = append(s.adjustments, Adjustment{
			Name:  "Data fee",
			Price: charge,
		})
		s.surcharged = true

		log.Debugf("Session %s: applied data fee of %d", s.token,
			charge)
	}

	quote := &Quote{
		Amount:      s.price,
		Asset:       s.asset,
		PayAddress:  s.payAddress,
		Memo:        s.token,
		Adjustments: make([]Adjustment, len(s.adjustments)),
	}
	copy(quote.Adjustments, s.adjustments)
	return quote, nil
}

// dataSurcharge computes the oversized-contest surcharge: the ledger fee of
// the follow-up operation, converted into the payment asset at the asset's
// current core exchange rate.  Called with the session mutex held.
func (s *Session) dataSurcharge() (int64, error) {
	schedule, err := s.chain.FeeSchedule()
	if err != nil {
		return 0, err
	}
	fee, err := schedule.FeeFor(&wire.CustomOperation{
		Payer: s.payAccount,
		ID:    contest.DatagramChannel,
		Data:  s.payload,
	})
	if err != nil {
		return 0, err
	}
	asset, err := s.chain.LookupAsset(s.assetSym)
	if err != nil {
		return 0, err
	}
	charge, err := asset.CoreExchangeRate.Convert(fee)
	if err != nil {
		return 0, err
	}
	return charge.Amount, nil
}

// matchPayment is called by the watcher for a transfer whose memo matched
// this session's token.  It re-checks the match exactly, and when the
// transfer pays at least the quoted price in the right asset, moves the
// session to Settling.  It returns true when the caller should schedule
// settlement; any heavier work is the caller's to defer, since this runs on
// the block delivery path.
func (s *Session) matchPayment(transfer *wire.TransferOperation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if transfer.To != s.payAccount ||
		!bytes.Equal(transfer.Memo, []byte(s.token)) {

		return false
	}

	// Once settling has begun, later matching payments are ignored; one
	// payment buys one settlement.
	if s.state != StateAwaitingPayment {
		log.Debugf("Session %s: ignoring payment while %v", s.token,
			s.state)
		return false
	}

	// TODO: decide how to reconcile underpayments, wrong-asset payments,
	// and payments split across transfers; for now they are logged and
	// ignored.
	if transfer.Amount.Asset != s.asset {
		log.Debugf("Session %s: ignoring payment in asset %d", s.token,
			transfer.Amount.Asset)
		return false
	}
	if transfer.Amount.Amount < s.price {
		log.Debugf("Session %s: ignoring underpayment of %d (quoted "+
			"%d)", s.token, transfer.Amount.Amount, s.price)
		return false
	}

	s.state = StateSettling
	log.Infof("Session %s: matched payment of %d, settling", s.token,
		transfer.Amount.Amount)
	return true
}

// settled is called by the settlement publisher exactly once with the
// outcome.  It moves the session to its terminal state, caches the result
// for late subscribers, and fans the result out to everyone registered.
func (s *Session) settled(success bool) {
	s.mu.Lock()
	if s.state != StateSettling {
		s.mu.Unlock()
		log.Warnf("Session %s: spurious settlement result in state "+
			"%v", s.token, s.state)
		return
	}
	if success {
		s.state = StateCompleted
	} else {
		s.state = StateFailed
	}
	s.result = success
	subscribers := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()

	log.Infof("Session %s: %v", s.token, s.state)
	notifyAll(subscribers, success)
}

// Subscribe registers target for the session's terminal notification.  If
// the session is already terminal the cached result is delivered
// immediately and synchronously.  Each target is notified at most once.
func (s *Session) Subscribe(target Subscriber) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrSessionReleased
	}
	if s.state.Terminal() {
		result := s.result
		s.mu.Unlock()
		notifyAll([]Subscriber{target}, result)
		return nil
	}
	s.subscribers = append(s.subscribers, target)
	s.mu.Unlock()
	return nil
}

// Release detaches the session from its owner: pending subscribers are
// dropped and future quotes and subscriptions are refused.  A settlement
// already in flight still runs to completion against the session, it just
// has nobody left to notify.
func (s *Session) Release() {
	s.mu.Lock()
	s.released = true
	s.subscribers = nil
	s.mu.Unlock()
}

// Released reports whether the session has been released, by its owner or
// by the watcher's sweeper.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// expired reports whether the session has been waiting for payment longer
// than ttl.
func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAwaitingPayment && now.Sub(s.created) > ttl
}

// PaymentSent records the buyer's advisory that payment was transmitted.
// Settlement does not depend on it; the payment is found on-chain either
// way.
func (s *Session) PaymentSent() {
	log.Debugf("Session %s: buyer reports payment sent", s.token)
}
