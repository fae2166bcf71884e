// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package creatorrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/swvote/creatord/contest"
	"github.com/swvote/creatord/purchase"
)

// requestHandler is a handler function to handle an unmarshaled and parsed
// request into a marshalable response.  If the error is a *btcjson.RPCError
// or any of the mapped domain errors, the server will respond with the
// appropriate JSON-RPC error code.  The websocket client is nil for HTTP
// POST requests.
type requestHandler func(*Server, *btcjson.Request,
	*websocketClient) (interface{}, error)

var rpcHandlers = map[string]struct {
	handler requestHandler

	// Methods that deliver asynchronous notifications are only usable
	// over a websocket connection.
	websocketOnly bool
}{
	"getpriceschedule":    {handler: getPriceSchedule},
	"getcontestlimits":    {handler: getContestLimits},
	"purchasecontest":     {handler: purchaseContest},
	"quote":               {handler: purchaseQuote},
	"complete":            {handler: purchaseComplete},
	"paymentsent":         {handler: paymentSent},
	"subscribecompletion": {handler: subscribeCompletion, websocketOnly: true},
}

// dispatch looks up and runs the handler for a request, converting any
// handler error to the *btcjson.RPCError sent to the client.
func (s *Server) dispatch(req *btcjson.Request,
	wsc *websocketClient) (interface{}, *btcjson.RPCError) {

	data, ok := rpcHandlers[req.Method]
	if !ok {
		return nil, btcjson.ErrRPCMethodNotFound
	}
	if data.websocketOnly && wsc == nil {
		return nil, &ErrNeedsWebsocket
	}

	res, err := data.handler(s, req, wsc)
	if err != nil {
		log.Debugf("Method %s failed: %v", req.Method, err)
		return nil, jsonError(err)
	}
	return res, nil
}

// marshalResponse marshals a JSON-RPC response.  Responses are expected to
// always marshal; a failure indicates a non-marshalable type in the result
// and is programmer error.
func marshalResponse(id interface{}, result interface{},
	rpcErr *btcjson.RPCError) []byte {

	resp, err := btcjson.MarshalResponse(btcjson.RpcVersion1, id, result,
		rpcErr)
	if err != nil {
		panic(err)
	}
	return resp
}

// unmarshalAuthenticate extracts the "user:pass" login string from an
// authenticate request.
func unmarshalAuthenticate(req *btcjson.Request) (string, error) {
	if len(req.Params) != 2 {
		return "", errors.New("authenticate requires a username and " +
			"passphrase")
	}
	var username, passphrase string
	if err := json.Unmarshal(req.Params[0], &username); err != nil {
		return "", err
	}
	if err := json.Unmarshal(req.Params[1], &passphrase); err != nil {
		return "", err
	}
	return username + ":" + passphrase, nil
}

// parseHandle extracts the purchase handle from a request with a single
// numeric parameter.
func parseHandle(req *btcjson.Request) (uint64, error) {
	if len(req.Params) != 1 {
		return 0, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"a single purchase handle parameter is required")
	}
	var handle uint64
	if err := json.Unmarshal(req.Params[0], &handle); err != nil {
		return 0, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			fmt.Sprintf("malformed purchase handle: %v", err))
	}
	return handle, nil
}

// sessionForRequest resolves the handle parameter to the caller's session.
func sessionForRequest(s *Server, req *btcjson.Request,
	wsc *websocketClient) (*purchase.Session, uint64, error) {

	handle, err := parseHandle(req)
	if err != nil {
		return nil, 0, err
	}
	session, ok := s.lookupHandle(handle, wsc)
	if !ok {
		return nil, 0, &ErrUnknownPurchase
	}
	return session, handle, nil
}

// PriceScheduleEntry is one row of the getpriceschedule result.
type PriceScheduleEntry struct {
	Item  string `json:"item"`
	Price int64  `json:"price"`
}

// ContestLimitEntry is one row of the getcontestlimits result.
type ContestLimitEntry struct {
	Limit string `json:"limit"`
	Value int64  `json:"value"`
}

// PurchaseContestResult is the result of a purchasecontest request.
type PurchaseContestResult struct {
	Handle uint64 `json:"handle"`
}

// QuoteAdjustment is one named price adjustment in a quote result.
type QuoteAdjustment struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// QuoteResult is the result of a quote request: everything a buyer needs to
// pay for the purchase.
type QuoteResult struct {
	TotalPrice  int64             `json:"totalprice"`
	Asset       uint64            `json:"asset"`
	PayAddress  string            `json:"payaddress"`
	Memo        string            `json:"memo"`
	Adjustments []QuoteAdjustment `json:"adjustments,omitempty"`
}

// contestantRequest is one contestant in a purchasecontest request.
type contestantRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// purchaseContestRequest is the single object parameter of a purchasecontest
// request.  A missing or zero endtime buys an open-ended contest.
type purchaseContestRequest struct {
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	Contestants      []contestantRequest `json:"contestants"`
	EndTime          *time.Time          `json:"endtime,omitempty"`
	Type             string              `json:"type"`
	Tally            string              `json:"tally"`
	CreatorSignature []byte              `json:"creatorsignature,omitempty"`
}

func parseContestType(s string) (contest.Type, error) {
	switch s {
	case "one-of-n":
		return contest.TypeOneOfN, nil
	}
	return 0, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
		fmt.Sprintf("unknown contest type %q", s))
}

func parseTallyAlgorithm(s string) (contest.TallyAlgorithm, error) {
	switch s {
	case "plurality":
		return contest.TallyPlurality, nil
	}
	return 0, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
		fmt.Sprintf("unknown tally algorithm %q", s))
}

func getPriceSchedule(s *Server, req *btcjson.Request,
	wsc *websocketClient) (interface{}, error) {

	entries := s.catalog.PriceSchedule()
	result := make([]PriceScheduleEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, PriceScheduleEntry{
			Item:  entry.Item.String(),
			Price: entry.Price,
		})
	}
	return result, nil
}

func getContestLimits(s *Server, req *btcjson.Request,
	wsc *websocketClient) (interface{}, error) {

	entries := s.catalog.ContestLimits()
	result := make([]ContestLimitEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, ContestLimitEntry{
			Limit: entry.Limit.String(),
			Value: entry.Value,
		})
	}
	return result, nil
}

func purchaseContest(s *Server, req *btcjson.Request,
	wsc *websocketClient) (interface{}, error) {

	if len(req.Params) != 1 {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"a single contest options parameter is required")
	}
	var options purchaseContestRequest
	if err := json.Unmarshal(req.Params[0], &options); err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			fmt.Sprintf("malformed contest options: %v", err))
	}

	contestType, err := parseContestType(options.Type)
	if err != nil {
		return nil, err
	}
	tally, err := parseTallyAlgorithm(options.Tally)
	if err != nil {
		return nil, err
	}

	contestants := make([]contest.Contestant, 0, len(options.Contestants))
	for _, c := range options.Contestants {
		contestants = append(contestants, contest.Contestant{
			Name:        c.Name,
			Description: c.Description,
		})
	}
	var endTime time.Time
	if options.EndTime != nil {
		endTime = *options.EndTime
	}

	session, err := s.catalog.PurchaseContest(&contest.PurchaseRequest{
		Options: contest.Options{
			Name:        options.Name,
			Description: options.Description,
			Contestants: contestants,
			EndTime:     endTime,
			Type:        contestType,
			Tally:       tally,
		},
		CreatorSignature: options.CreatorSignature,
	})
	if err != nil {
		return nil, err
	}

	return &PurchaseContestResult{
		Handle: s.newHandle(session, wsc),
	}, nil
}

func purchaseQuote(s *Server, req *btcjson.Request,
	wsc *websocketClient) (interface{}, error) {

	session, _, err := sessionForRequest(s, req, wsc)
	if err != nil {
		return nil, err
	}

	quote, err := session.Quote()
	if err != nil {
		return nil, err
	}

	result := &QuoteResult{
		TotalPrice: quote.Amount,
		Asset:      uint64(quote.Asset),
		PayAddress: quote.PayAddress,
		Memo:       quote.Memo,
	}
	for _, adjustment := range quote.Adjustments {
		result.Adjustments = append(result.Adjustments, QuoteAdjustment{
			Name:  adjustment.Name,
			Price: adjustment.Price,
		})
	}
	return result, nil
}

func purchaseComplete(s *Server, req *btcjson.Request,
	wsc *websocketClient) (interface{}, error) {

	session, handle, err := sessionForRequest(s, req, wsc)
	if err != nil {
		return nil, err
	}
	completed := session.Complete()

	// The poll that observes a terminal outcome retires the handle; the
	// session has nothing further to report.
	if session.State().Terminal() {
		s.releaseHandle(handle)
	}
	return completed, nil
}

func paymentSent(s *Server, req *btcjson.Request,
	wsc *websocketClient) (interface{}, error) {

	session, _, err := sessionForRequest(s, req, wsc)
	if err != nil {
		return nil, err
	}
	session.PaymentSent()
	return nil, nil
}

func subscribeCompletion(s *Server, req *btcjson.Request,
	wsc *websocketClient) (interface{}, error) {

	session, handle, err := sessionForRequest(s, req, wsc)
	if err != nil {
		return nil, err
	}
	err = session.Subscribe(&wsNotifier{wsc: wsc, handle: handle})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// purchaseCompletedNtfn is the single object parameter of a
// purchasecompleted notification.
type purchaseCompletedNtfn struct {
	Handle    uint64 `json:"handle"`
	Completed bool   `json:"completed"`
}

// wsNotifier delivers a session's terminal notification to a subscribed
// websocket client as a purchasecompleted JSON-RPC notification.
type wsNotifier struct {
	wsc    *websocketClient
	handle uint64
}

func (n *wsNotifier) Notify(completed bool) error {
	param, err := json.Marshal(&purchaseCompletedNtfn{
		Handle:    n.handle,
		Completed: completed,
	})
	if err != nil {
		panic(err)
	}
	ntfn, err := json.Marshal(&btcjson.Request{
		Jsonrpc: btcjson.RpcVersion1,
		Method:  "purchasecompleted",
		Params:  []json.RawMessage{param},
	})
	if err != nil {
		panic(err)
	}
	return n.wsc.send(ntfn)
}
