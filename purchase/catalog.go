// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/swvote/creatord/chain"
	"github.com/swvote/creatord/contest"
	"github.com/swvote/creatord/wire"
)

// CatalogConfig bundles everything the purchase catalog needs.
type CatalogConfig struct {
	Chain chain.Interface

	// PriceSchedule and Limits are the configured pricing tables.  Nil
	// means the built-in defaults.  They are treated as read-only after
	// the catalog is created.
	PriceSchedule contest.PriceSchedule
	Limits        contest.Limits

	// PublishingAccount is the registered name of the account that
	// receives payments and publishes settled contests.
	PublishingAccount string

	// PaymentAsset is the symbol of the asset purchases are priced in.
	PaymentAsset string

	// PublisherWIF is the publishing account's WIF-encoded private key.
	PublisherWIF string

	// Clock is the time source for validation and session expiry.
	// Defaults to the system clock.
	Clock clock.Clock

	// SessionTTL and SweepTicker tune the watcher's stale-session
	// sweeper; zero values mean the defaults.
	SessionTTL  time.Duration
	SweepTicker ticker.Ticker
}

// Catalog is the purchase entry point: it validates and prices creation
// requests, spins up a session per accepted request, and owns the watcher
// and publisher shared by all sessions.
type Catalog struct {
	started int32
	stopped int32

	cfg       CatalogConfig
	watcher   *Watcher
	publisher *Publisher

	// Resolved once at startup, read-only afterwards.
	payAccountID wire.AccountID
	paymentAsset *wire.AssetInfo
}

// NewCatalog creates a catalog.  Start must be called before purchases are
// accepted.
func NewCatalog(cfg CatalogConfig) *Catalog {
	if cfg.PriceSchedule == nil {
		cfg.PriceSchedule = contest.DefaultPriceSchedule()
	}
	if cfg.Limits == nil {
		cfg.Limits = contest.DefaultLimits()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Catalog{cfg: cfg}
}

// Start resolves the publishing account and payment asset on the chain and
// launches the shared watcher.  An unregistered account or asset is a
// configuration fault: the daemon cannot sell anything without them.
func (c *Catalog) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return nil
	}

	accountID, err := c.cfg.Chain.LookupAccount(c.cfg.PublishingAccount)
	if err != nil {
		if errors.Is(err, chain.ErrAccountNotFound) {
			return configFault("publishing account "+
				c.cfg.PublishingAccount+" is not registered",
				err)
		}
		return err
	}
	c.payAccountID = accountID

	asset, err := c.cfg.Chain.LookupAsset(c.cfg.PaymentAsset)
	if err != nil {
		if errors.Is(err, chain.ErrAssetNotFound) {
			return configFault("payment asset "+
				c.cfg.PaymentAsset+" is not registered", err)
		}
		return err
	}
	c.paymentAsset = asset

	c.publisher = NewPublisher(c.cfg.Chain, accountID, c.cfg.PublisherWIF)
	c.watcher = NewWatcher(WatcherConfig{
		Chain:       c.cfg.Chain,
		Publisher:   c.publisher,
		Clock:       c.cfg.Clock,
		SessionTTL:  c.cfg.SessionTTL,
		SweepTicker: c.cfg.SweepTicker,
	})
	if err := c.watcher.Start(); err != nil {
		return err
	}

	log.Infof("Selling contests for account %s (id %d), priced in %s",
		c.cfg.PublishingAccount, accountID, asset.Symbol)
	return nil
}

// Stop shuts down the watcher.  Sessions already settling finish first.
func (c *Catalog) Stop() {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return
	}
	if c.watcher != nil {
		c.watcher.Stop()
	}
}

// PriceSchedule returns the configured price schedule in display order.
func (c *Catalog) PriceSchedule() []contest.PriceEntry {
	return c.cfg.PriceSchedule.Entries()
}

// ContestLimits returns the configured limits in display order.
func (c *Catalog) ContestLimits() []contest.LimitEntry {
	return c.cfg.Limits.Entries()
}

// PurchaseContest validates and prices a creation request and, when it
// passes, creates and registers a new purchase session.  Validation
// failures are returned synchronously as *contest.ValidationError.
func (c *Catalog) PurchaseContest(req *contest.PurchaseRequest) (*Session,
	error) {

	price, oversized, err := contest.Price(req, c.cfg.PriceSchedule,
		c.cfg.Limits, c.cfg.Clock.Now())
	if err != nil {
		return nil, err
	}

	// The payload is fixed now, at creation; settlement publishes these
	// exact bytes no matter how long the payment takes to arrive.
	payload, err := contest.EncodePayload(req)
	if err != nil {
		return nil, err
	}

	session := newSession(sessionConfig{
		price:      price,
		oversized:  oversized,
		payload:    payload,
		payAccount: c.payAccountID,
		payAddress: c.cfg.PublishingAccount,
		asset:      c.paymentAsset.ID,
		assetSym:   c.paymentAsset.Symbol,
		chain:      c.cfg.Chain,
		created:    c.cfg.Clock.Now(),
	})
	if err := c.watcher.Register(session); err != nil {
		return nil, err
	}

	log.Infof("New purchase session %s: %d contestants, price %d %s"+
		" (oversized=%v)", session.Token(),
		len(req.Options.Contestants), price, c.paymentAsset.Symbol,
		oversized)
	return session, nil
}

// Release detaches a session from its owner and stops watching for its
// payment.  A settlement already in flight is unaffected.
func (c *Catalog) Release(s *Session) {
	s.Release()
	c.watcher.Deregister(s.Token())
}
