// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/swvote/creatord/chain"
	"github.com/swvote/creatord/wire"
)

const (
	// defaultSessionTTL is how long an unpaid session stays registered
	// with the watcher before the sweeper drops it.
	defaultSessionTTL = 24 * time.Hour

	// defaultSweepInterval is how often the sweeper scans for stale
	// sessions.
	defaultSweepInterval = 10 * time.Minute
)

// WatcherConfig bundles a Watcher's dependencies.
type WatcherConfig struct {
	Chain     chain.Interface
	Publisher *Publisher

	// Clock is the time source for session expiry.  Defaults to the
	// system clock.
	Clock clock.Clock

	// SessionTTL is how long an unpaid session is watched.  Zero means
	// the default.
	SessionTTL time.Duration

	// SweepTicker drives the stale-session sweeper.  Defaults to a
	// ticker at defaultSweepInterval.
	SweepTicker ticker.Ticker
}

// Watcher holds the single block subscription shared by every purchase
// session, and dispatches observed transfer operations to the session whose
// correlation token is in the transfer's memo.  The registry never owns a
// session's lifetime; entries are dropped on release, on settlement, or by
// the sweeper.
//
// Matching runs on the block delivery path and is kept cheap: a map lookup
// and an amount comparison.  Settlement work is handed to a separate
// goroutine through a concurrent queue so block processing never waits on
// transaction building or broadcast.
type Watcher struct {
	started int32
	stopped int32

	cfg WatcherConfig

	sessionMtx sync.RWMutex
	sessions   map[string]*Session

	settleQueue *queue.ConcurrentQueue

	// lastHeight is the height of the last block scanned, used to fetch
	// any blocks the node's notification stream skipped.  Only touched
	// from the notification handler.
	lastHeight uint32

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewWatcher creates a watcher over the given chain.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.SweepTicker == nil {
		cfg.SweepTicker = ticker.New(defaultSweepInterval)
	}
	return &Watcher{
		cfg:         cfg,
		sessions:    make(map[string]*Session),
		settleQueue: queue.NewConcurrentQueue(16),
		quit:        make(chan struct{}),
	}
}

// Start launches the notification and settlement handlers.
func (w *Watcher) Start() error {
	if !atomic.CompareAndSwapInt32(&w.started, 0, 1) {
		return nil
	}

	w.settleQueue.Start()
	w.cfg.SweepTicker.Resume()

	w.wg.Add(2)
	go w.notificationHandler()
	go w.settlementHandler()
	return nil
}

// Stop terminates the handlers and waits for them to exit.
func (w *Watcher) Stop() {
	if !atomic.CompareAndSwapInt32(&w.stopped, 0, 1) {
		return
	}
	close(w.quit)
	w.cfg.SweepTicker.Stop()
	w.wg.Wait()
	w.settleQueue.Stop()
}

// Register adds a session to the dispatch registry.  Correlation tokens
// must be unique across live sessions; a collision is refused outright
// rather than risking payment misattribution.
func (w *Watcher) Register(s *Session) error {
	w.sessionMtx.Lock()
	defer w.sessionMtx.Unlock()

	if _, ok := w.sessions[s.Token()]; ok {
		return fmt.Errorf("correlation token %s already registered",
			s.Token())
	}
	w.sessions[s.Token()] = s

	log.Debugf("Watching for payments with memo %s (%d sessions live)",
		s.Token(), len(w.sessions))
	return nil
}

// Deregister removes a session from the dispatch registry.  Safe to call
// for tokens that are no longer (or were never) registered.
func (w *Watcher) Deregister(token string) {
	w.sessionMtx.Lock()
	defer w.sessionMtx.Unlock()
	delete(w.sessions, token)
}

// lookup returns the session registered under token, or nil.
func (w *Watcher) lookup(token string) *Session {
	w.sessionMtx.RLock()
	defer w.sessionMtx.RUnlock()
	return w.sessions[token]
}

func (w *Watcher) notificationHandler() {
	defer w.wg.Done()

	notifications := w.cfg.Chain.Notifications()
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				log.Warnf("Chain notification channel closed")
				return
			}
			switch n := n.(type) {
			case chain.ClientConnected:
				log.Infof("Chain connection established")
			case chain.BlockConnected:
				w.processBlock(n.Block)
			}

		case <-w.cfg.SweepTicker.Ticks():
			w.sweep()

		case <-w.quit:
			return
		}
	}
}

// processBlock scans a newly committed block, first backfilling any blocks
// the notification stream skipped so sessions never miss a payment between
// two notifications.
func (w *Watcher) processBlock(block *wire.Block) {
	if w.lastHeight != 0 && block.Height <= w.lastHeight {
		log.Debugf("Ignoring already-scanned block %d", block.Height)
		return
	}

	if w.lastHeight != 0 && block.Height > w.lastHeight+1 {
		log.Warnf("Notification gap: blocks %d through %d were "+
			"skipped, backfilling", w.lastHeight+1, block.Height-1)
		for height := w.lastHeight + 1; height < block.Height; height++ {
			missed, err := w.cfg.Chain.GetBlock(height)
			if err != nil {
				log.Errorf("Unable to backfill block %d: %v",
					height, err)
				break
			}
			w.scanBlock(missed)
		}
	}

	w.scanBlock(block)
	w.lastHeight = block.Height
}

// scanBlock dispatches each transfer in the block to the session whose
// token matches the transfer's memo, and schedules settlement for sessions
// that accept the payment.
func (w *Watcher) scanBlock(block *wire.Block) {
	for _, transfer := range block.Transfers() {
		if len(transfer.Memo) == 0 {
			continue
		}
		session := w.lookup(string(transfer.Memo))
		if session == nil {
			continue
		}
		if !session.matchPayment(transfer) {
			continue
		}

		// The session accepted the payment; everything heavier than
		// the match happens off this goroutine.
		select {
		case w.settleQueue.ChanIn() <- session:
		case <-w.quit:
			return
		}
	}
}

func (w *Watcher) settlementHandler() {
	defer w.wg.Done()

	for {
		select {
		case item, ok := <-w.settleQueue.ChanOut():
			if !ok {
				return
			}
			session := item.(*Session)

			// Holding the session here keeps it alive for the
			// whole settlement even if its owner releases it
			// mid-flight.
			w.cfg.Publisher.Settle(session)
			w.Deregister(session.Token())

		case <-w.quit:
			return
		}
	}
}

// sweep drops released sessions and unpaid sessions older than the TTL from
// the registry.
func (w *Watcher) sweep() {
	now := w.cfg.Clock.Now()

	w.sessionMtx.Lock()
	defer w.sessionMtx.Unlock()

	for token, session := range w.sessions {
		switch {
		case session.Released():
			delete(w.sessions, token)

		case session.expired(now, w.cfg.SessionTTL):
			log.Infof("Session %s: no payment after %v, dropping "+
				"watch", token, w.cfg.SessionTTL)
			// Releasing marks the session dead for everyone still
			// holding its handle: quotes are refused and handle
			// tables can reap it.
			session.Release()
			delete(w.sessions, token)
		}
	}
}
