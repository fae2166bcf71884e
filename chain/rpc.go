// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/websocket"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/queue"
	"golang.org/x/sync/errgroup"

	"github.com/swvote/creatord/wire"
)

const (
	// defaultRequestTimeout bounds how long a synchronous RPC call waits
	// for the node's response.
	defaultRequestTimeout = 30 * time.Second

	// blockCacheCapacity is the number of recently fetched blocks kept in
	// memory so overlapping catch-up scans do not refetch them.
	blockCacheCapacity = 64
)

var (
	// ErrClientShutdown is returned by calls made on a client that has
	// been stopped.
	ErrClientShutdown = errors.New("chain client is shut down")

	// ErrAccountNotFound is returned by LookupAccount when the name is
	// not registered on the chain.
	ErrAccountNotFound = errors.New("account is not registered")

	// ErrAssetNotFound is returned by LookupAsset when the symbol is not
	// registered on the chain.
	ErrAssetNotFound = errors.New("asset is not registered")

	// ErrBroadcastRejected is returned by BroadcastTransaction when the
	// node refuses the submitted transaction.
	ErrBroadcastRejected = errors.New("transaction rejected by node")
)

// errCodeNotFound is the node's error code for lookups of unregistered
// objects.
const errCodeNotFound = -404

// RPCError is an error returned by the chain node for a request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`

	// Method is non-empty for server-initiated notifications, which carry
	// no id.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// cachedBlock wraps a block for the lru cache, which sizes its contents by
// transaction count.
type cachedBlock struct {
	block *wire.Block
}

func (c *cachedBlock) Size() (uint64, error) {
	return uint64(len(c.block.Transactions)) + 1, nil
}

// Config describes the connection to the chain node.
type Config struct {
	// Connect is the host:port of the chain node's websocket RPC.
	Connect string

	// Endpoint is the websocket endpoint path, e.g. "/ws".
	Endpoint string

	// RequestTimeout bounds synchronous calls.  Zero means the default.
	RequestTimeout time.Duration
}

// RPCClient implements Interface over a websocket JSON-RPC connection to a
// chain node.  The node pushes a notification for every block it commits;
// these are decoded and forwarded, in order, on the Notifications channel.
type RPCClient struct {
	started int32
	stopped int32

	cfg  Config
	conn *websocket.Conn

	requestMtx      sync.Mutex
	pendingRequests map[uint64]chan *rpcResponse
	nextID          uint64

	sendChan chan []byte

	// ntfns decouples the read pump from notification consumers: blocks
	// are queued here so a slow consumer never stalls the connection.
	ntfns *queue.ConcurrentQueue

	blockCache *lru.Cache[uint32, *cachedBlock]

	group errgroup.Group
	quit  chan struct{}
}

// Ensure RPCClient implements Interface.
var _ Interface = (*RPCClient)(nil)

// NewRPCClient creates a client for the given node.  Start must be called
// before any other method.
func NewRPCClient(cfg Config) *RPCClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &RPCClient{
		cfg:             cfg,
		pendingRequests: make(map[uint64]chan *rpcResponse),
		sendChan:        make(chan []byte, 16),
		ntfns:           queue.NewConcurrentQueue(16),
		blockCache: lru.NewCache[uint32, *cachedBlock](
			blockCacheCapacity,
		),
		quit: make(chan struct{}),
	}
}

// Start dials the node, begins the connection pumps, and subscribes to block
// notifications.
func (c *RPCClient) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return nil
	}

	url := "ws://" + c.cfg.Connect + c.cfg.Endpoint
	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(url, http.Header{})
	if err != nil {
		return fmt.Errorf("dialing chain node %s: %w",
			c.cfg.Connect, err)
	}
	c.conn = conn

	c.ntfns.Start()
	c.group.Go(c.readPump)
	c.group.Go(c.writePump)

	if err := c.Call("subscribe_blocks", nil, nil); err != nil {
		c.Stop()
		return fmt.Errorf("subscribing to blocks: %w", err)
	}

	log.Infof("Connected to chain node %s", c.cfg.Connect)
	c.ntfns.ChanIn() <- ClientConnected{}
	return nil
}

// Stop disconnects the client and terminates all pumps.
func (c *RPCClient) Stop() {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return
	}
	close(c.quit)
	if c.conn != nil {
		c.conn.Close()
	}
}

// WaitForShutdown blocks until the pumps have exited.
func (c *RPCClient) WaitForShutdown() {
	if err := c.group.Wait(); err != nil &&
		atomic.LoadInt32(&c.stopped) == 0 {

		log.Errorf("Chain connection terminated: %v", err)
	}
	c.ntfns.Stop()
}

// Notifications returns the typed notification channel.
func (c *RPCClient) Notifications() <-chan interface{} {
	return c.ntfns.ChanOut()
}

func (c *RPCClient) readPump() error {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.quit:
				return nil
			default:
			}
			c.Stop()
			return err
		}

		var resp rpcResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Warnf("Ignoring unparsable message from chain "+
				"node: %v", err)
			continue
		}

		if resp.Method != "" {
			c.handleNotification(&resp)
			continue
		}

		c.requestMtx.Lock()
		ch, ok := c.pendingRequests[resp.ID]
		delete(c.pendingRequests, resp.ID)
		c.requestMtx.Unlock()
		if !ok {
			log.Warnf("Received response for unknown request "+
				"id %d", resp.ID)
			continue
		}
		ch <- &resp
	}
}

func (c *RPCClient) writePump() error {
	for {
		select {
		case msg := <-c.sendChan:
			err := c.conn.WriteMessage(websocket.TextMessage, msg)
			if err != nil {
				select {
				case <-c.quit:
					return nil
				default:
				}
				c.Stop()
				return err
			}
		case <-c.quit:
			return nil
		}
	}
}

func (c *RPCClient) handleNotification(resp *rpcResponse) {
	switch resp.Method {
	case "block_applied":
		var params []blockJSON
		err := json.Unmarshal(resp.Params, &params)
		if err != nil || len(params) != 1 {
			log.Errorf("Malformed block notification: %v", err)
			return
		}
		block, err := blockFromJSON(params[0])
		if err != nil {
			log.Errorf("Undecodable block at height %d: %v",
				params[0].Height, err)
			return
		}

		log.Tracef("Block %d applied with %d transactions",
			block.Height, len(block.Transactions))

		select {
		case c.ntfns.ChanIn() <- BlockConnected{Block: block}:
		case <-c.quit:
		}

	default:
		log.Debugf("Ignoring notification method %q", resp.Method)
	}
}

// Call performs a synchronous RPC against the node, unmarshalling the result
// into result when it is non-nil.
func (c *RPCClient) Call(method string, params []interface{},
	result interface{}) error {

	id := atomic.AddUint64(&c.nextID, 1)
	payload, err := json.Marshal(&rpcRequest{
		ID:     id,
		Method: method,
		Params: params,
	})
	if err != nil {
		return err
	}

	respChan := make(chan *rpcResponse, 1)
	c.requestMtx.Lock()
	c.pendingRequests[id] = respChan
	c.requestMtx.Unlock()

	cleanup := func() {
		c.requestMtx.Lock()
		delete(c.pendingRequests, id)
		c.requestMtx.Unlock()
	}

	select {
	case c.sendChan <- payload:
	case <-c.quit:
		cleanup()
		return ErrClientShutdown
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)

	case <-time.After(c.cfg.RequestTimeout):
		cleanup()
		return fmt.Errorf("timed out waiting for %s response", method)

	case <-c.quit:
		cleanup()
		return ErrClientShutdown
	}
}

// GetBlock fetches the committed block at the given height, consulting the
// lru cache first.
func (c *RPCClient) GetBlock(height uint32) (*wire.Block, error) {
	if entry, err := c.blockCache.Get(height); err == nil {
		return entry.block, nil
	} else if !errors.Is(err, cache.ErrElementNotFound) {
		return nil, err
	}

	var raw blockJSON
	err := c.Call("get_block", []interface{}{height}, &raw)
	if err != nil {
		return nil, err
	}
	block, err := blockFromJSON(raw)
	if err != nil {
		return nil, err
	}
	if _, err := c.blockCache.Put(height, &cachedBlock{block: block}); err != nil {
		log.Warnf("Unable to cache block %d: %v", height, err)
	}
	return block, nil
}

// HeadBlockTime returns the timestamp of the chain's current head block.
func (c *RPCClient) HeadBlockTime() (time.Time, error) {
	var props dynamicPropertiesJSON
	err := c.Call("get_dynamic_global_properties", nil, &props)
	if err != nil {
		return time.Time{}, err
	}
	return props.HeadBlockTime, nil
}

// ChainID returns the chain's identifier.
func (c *RPCClient) ChainID() (*chainhash.Hash, error) {
	var idStr string
	if err := c.Call("get_chain_id", nil, &idStr); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(idStr)
}

// FeeSchedule returns the chain's current fee parameters.
func (c *RPCClient) FeeSchedule() (*wire.FeeSchedule, error) {
	var raw feeScheduleJSON
	if err := c.Call("get_fee_schedule", nil, &raw); err != nil {
		return nil, err
	}
	return feeScheduleFromJSON(raw)
}

// LookupAccount resolves a registered account name to its id.
func (c *RPCClient) LookupAccount(name string) (wire.AccountID, error) {
	var raw accountJSON
	err := c.Call("lookup_account", []interface{}{name}, &raw)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == errCodeNotFound {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return wire.AccountID(raw.ID), nil
}

// LookupAsset resolves a registered asset symbol.
func (c *RPCClient) LookupAsset(symbol string) (*wire.AssetInfo, error) {
	var raw assetJSON
	err := c.Call("lookup_asset", []interface{}{symbol}, &raw)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == errCodeNotFound {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return &wire.AssetInfo{
		ID:               wire.AssetID(raw.ID),
		Symbol:           raw.Symbol,
		CoreExchangeRate: priceFromJSON(raw.CoreExchangeRate),
	}, nil
}

// BroadcastTransaction submits a signed transaction to the network.
func (c *RPCClient) BroadcastTransaction(tx *wire.SignedTransaction) error {
	encoded, err := transactionToJSON(tx)
	if err != nil {
		return err
	}
	log.Tracef("Broadcasting transaction: %v",
		newLogClosure(func() string { return spew.Sdump(tx) }))
	err = c.Call("broadcast_transaction", []interface{}{encoded}, nil)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return fmt.Errorf("%w: %s", ErrBroadcastRejected,
				rpcErr.Message)
		}
		return err
	}
	return nil
}
