// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"

	"github.com/swvote/creatord/chain"
	"github.com/swvote/creatord/wire"
)

// testWIF is a checksummed WIF private key used by success-path settlement
// tests.
const testWIF = "5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dZ1jvhTVqvbTLvyTJ"

const (
	testPublisherName = "contest-publisher"
	testAssetSymbol   = "VOTE"
)

var (
	testPublisherID = wire.AccountID(42)
	testAssetID     = wire.AssetID(5)

	// testAssetInfo converts core fees at a 1:2 rate.
	testAssetInfo = &wire.AssetInfo{
		ID:     testAssetID,
		Symbol: testAssetSymbol,
		CoreExchangeRate: wire.Price{
			Base:  wire.AssetAmount{Amount: 100, Asset: wire.CoreAsset},
			Quote: wire.AssetAmount{Amount: 200, Asset: testAssetID},
		},
	}

	testFeeSchedule = &wire.FeeSchedule{
		BaseFees: map[wire.OpType]int64{
			wire.OpTypeCustom:   1000,
			wire.OpTypeTransfer: 10,
		},
		PerByteFee: 0,
	}

	testChainID = &chainhash.Hash{0xc0, 0xff, 0xee}

	testHeadTime = time.Date(2016, 10, 5, 12, 0, 0, 0, time.UTC)
)

// mockChain implements chain.Interface for tests.  The notification channel
// is driven directly by the test; everything else goes through testify's
// expectation engine.
type mockChain struct {
	mock.Mock

	ntfns chan interface{}
}

var _ chain.Interface = (*mockChain)(nil)

func newMockChain() *mockChain {
	return &mockChain{ntfns: make(chan interface{}, 16)}
}

func (m *mockChain) Start() error     { return nil }
func (m *mockChain) Stop()            {}
func (m *mockChain) WaitForShutdown() {}

func (m *mockChain) Notifications() <-chan interface{} {
	return m.ntfns
}

func (m *mockChain) GetBlock(height uint32) (*wire.Block, error) {
	args := m.Called(height)
	block, _ := args.Get(0).(*wire.Block)
	return block, args.Error(1)
}

func (m *mockChain) HeadBlockTime() (time.Time, error) {
	args := m.Called()
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockChain) ChainID() (*chainhash.Hash, error) {
	args := m.Called()
	id, _ := args.Get(0).(*chainhash.Hash)
	return id, args.Error(1)
}

func (m *mockChain) FeeSchedule() (*wire.FeeSchedule, error) {
	args := m.Called()
	schedule, _ := args.Get(0).(*wire.FeeSchedule)
	return schedule, args.Error(1)
}

func (m *mockChain) LookupAccount(name string) (wire.AccountID, error) {
	args := m.Called(name)
	return args.Get(0).(wire.AccountID), args.Error(1)
}

func (m *mockChain) LookupAsset(symbol string) (*wire.AssetInfo, error) {
	args := m.Called(symbol)
	info, _ := args.Get(0).(*wire.AssetInfo)
	return info, args.Error(1)
}

func (m *mockChain) BroadcastTransaction(tx *wire.SignedTransaction) error {
	args := m.Called(tx)
	return args.Error(0)
}

// expectSettlementCalls wires up everything a successful settlement needs
// except the broadcast itself.
func (m *mockChain) expectSettlementCalls() {
	m.On("FeeSchedule").Return(testFeeSchedule, nil)
	m.On("HeadBlockTime").Return(testHeadTime, nil)
	m.On("ChainID").Return(testChainID, nil)
}

// newTestSession builds an unregistered session paying testPublisherID.
func newTestSession(c chain.Interface, price int64,
	oversized bool) *Session {

	return newSession(sessionConfig{
		price:      price,
		oversized:  oversized,
		payload:    []byte("datagram-bytes"),
		payAccount: testPublisherID,
		payAddress: testPublisherName,
		asset:      testAssetID,
		assetSym:   testAssetSymbol,
		chain:      c,
		created:    testHeadTime,
	})
}

// paymentTo builds a transfer paying amount to the publishing account with
// the given memo.
func paymentTo(memo string, amount int64) *wire.TransferOperation {
	return &wire.TransferOperation{
		From:   7,
		To:     testPublisherID,
		Amount: wire.AssetAmount{Amount: amount, Asset: testAssetID},
		Memo:   []byte(memo),
	}
}

// blockWith wraps transfers into a committed block at the given height.
func blockWith(height uint32, ops ...wire.Operation) *wire.Block {
	return &wire.Block{
		Height:    height,
		Timestamp: testHeadTime,
		Transactions: []wire.SignedTransaction{
			{
				Transaction: wire.Transaction{
					Expiration: testHeadTime,
					Operations: ops,
				},
				Signatures: [][]byte{{0x01}},
			},
		},
	}
}

// recordingSubscriber records every notification it receives.
type recordingSubscriber struct {
	mu            sync.Mutex
	notifications []bool
	failWith      error
}

func (r *recordingSubscriber) Notify(completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, completed)
	return r.failWith
}

func (r *recordingSubscriber) received() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.notifications))
	copy(out, r.notifications)
	return out
}
