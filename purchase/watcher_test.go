// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/swvote/creatord/chain"
	"github.com/swvote/creatord/wire"
)

// testTimeout bounds every wait in this file.
const testTimeout = 5 * time.Second

type watcherHarness struct {
	t       *testing.T
	chain   *mockChain
	watcher *Watcher
	clock   *clock.TestClock
	sweeper *ticker.Force
}

// newWatcherHarness starts a watcher over a mock chain with a manually
// driven sweeper and clock.
func newWatcherHarness(t *testing.T) *watcherHarness {
	t.Helper()

	m := newMockChain()
	testClock := clock.NewTestClock(testHeadTime)
	sweeper := ticker.NewForce(time.Hour)

	w := NewWatcher(WatcherConfig{
		Chain:       m,
		Publisher:   NewPublisher(m, testPublisherID, testWIF),
		Clock:       testClock,
		SweepTicker: sweeper,
	})
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	return &watcherHarness{
		t:       t,
		chain:   m,
		watcher: w,
		clock:   testClock,
		sweeper: sweeper,
	}
}

// register creates and registers a session priced at price.
func (h *watcherHarness) register(price int64) *Session {
	h.t.Helper()
	session := newTestSession(h.chain, price, false)
	require.NoError(h.t, h.watcher.Register(session))
	return session
}

// deliver pushes a block notification into the watcher.
func (h *watcherHarness) deliver(block *wire.Block) {
	h.chain.ntfns <- chain.BlockConnected{Block: block}
}

// waitForState blocks until the session reaches want.
func (h *watcherHarness) waitForState(s *Session, want State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return s.State() == want
	}, testTimeout, 10*time.Millisecond)
}

// TestWatcherDispatchAndSettle delivers a block paying one of two registered
// sessions and expects only that session to settle.
func TestWatcherDispatchAndSettle(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.chain.expectSettlementCalls()
	h.chain.On("BroadcastTransaction", mock.Anything).Return(nil)

	paid := h.register(1000)
	unpaid := h.register(1000)

	h.deliver(blockWith(1, paymentTo(paid.Token(), 1000)))

	h.waitForState(paid, StateCompleted)
	require.Equal(t, StateAwaitingPayment, unpaid.State())

	// The settled session is dropped from the registry, the other stays.
	require.Eventually(t, func() bool {
		return h.watcher.lookup(paid.Token()) == nil
	}, testTimeout, 10*time.Millisecond)
	require.NotNil(t, h.watcher.lookup(unpaid.Token()))
}

// TestWatcherSettlesAtMostOnce pays the same session in two consecutive
// blocks and expects exactly one broadcast.
func TestWatcherSettlesAtMostOnce(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.chain.expectSettlementCalls()
	h.chain.On("BroadcastTransaction", mock.Anything).Return(nil)

	session := h.register(1000)

	h.deliver(blockWith(1, paymentTo(session.Token(), 1000)))
	h.deliver(blockWith(2, paymentTo(session.Token(), 1000)))

	h.waitForState(session, StateCompleted)

	// Drain: deliver a third, empty block and wait until it is scanned so
	// the first two are fully processed before counting broadcasts.
	h.deliver(blockWith(3))
	require.Eventually(t, func() bool {
		return h.watcher.lookup(session.Token()) == nil
	}, testTimeout, 10*time.Millisecond)

	h.chain.AssertNumberOfCalls(t, "BroadcastTransaction", 1)
}

// TestWatcherBackfillsGap skips block 2 in the notification stream and
// expects the watcher to fetch it so the payment inside still settles.
func TestWatcherBackfillsGap(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.chain.expectSettlementCalls()
	h.chain.On("BroadcastTransaction", mock.Anything).Return(nil)

	session := h.register(1000)

	h.chain.On("GetBlock", uint32(2)).
		Return(blockWith(2, paymentTo(session.Token(), 1000)), nil).
		Once()

	h.deliver(blockWith(1))
	h.deliver(blockWith(3))

	h.waitForState(session, StateCompleted)
	h.chain.AssertExpectations(t)
}

// TestWatcherIgnoresStaleBlocks delivers the same height twice and expects
// the duplicate to be skipped without touching the session.
func TestWatcherIgnoresStaleBlocks(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.chain.expectSettlementCalls()
	h.chain.On("BroadcastTransaction", mock.Anything).Return(nil)

	stale := h.register(1000)
	fresh := h.register(1000)

	// An underpayment in the first block leaves the session waiting.
	h.deliver(blockWith(1, paymentTo(stale.Token(), 999)))
	// Re-delivering height 1, now with a sufficient payment, must be
	// skipped as already scanned.
	h.deliver(blockWith(1, paymentTo(stale.Token(), 1000)))

	// A later payment to a second session proves the stream kept moving:
	// once it settles, everything before it has been processed.
	h.deliver(blockWith(2, paymentTo(fresh.Token(), 1000)))
	h.waitForState(fresh, StateCompleted)

	require.Equal(t, StateAwaitingPayment, stale.State())
	h.chain.AssertNumberOfCalls(t, "BroadcastTransaction", 1)
}

// TestWatcherSweepsStaleSessions advances the clock past the TTL and forces
// a sweep; released sessions go too.
func TestWatcherSweepsStaleSessions(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)

	expired := h.register(1000)
	released := h.register(1000)
	fresh := newTestSession(h.chain, 1000, false)
	fresh.created = testHeadTime.Add(defaultSessionTTL)
	require.NoError(t, h.watcher.Register(fresh))

	released.Release()
	h.clock.SetTime(testHeadTime.Add(defaultSessionTTL + time.Second))
	h.sweeper.Force <- h.clock.Now()

	require.Eventually(t, func() bool {
		return h.watcher.lookup(expired.Token()) == nil &&
			h.watcher.lookup(released.Token()) == nil
	}, testTimeout, 10*time.Millisecond)
	require.NotNil(t, h.watcher.lookup(fresh.Token()))

	// Sweeping an expired session releases it, so anyone still holding
	// its handle sees a dead session rather than one quoting forever.
	require.True(t, expired.Released())
	_, err := expired.Quote()
	require.ErrorIs(t, err, ErrSessionReleased)
}

// TestWatcherRejectsDuplicateToken registers the same session twice.
func TestWatcherRejectsDuplicateToken(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	session := h.register(1000)
	require.Error(t, h.watcher.Register(session))
}
