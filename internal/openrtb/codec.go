package openrtb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/buger/jsonparser"
)

var (
	// ErrBadResponse is returned when a bid response body cannot be decoded
	ErrBadResponse = errors.New("undecodable bid response")
	// ErrUnexpectedStatus is returned for non-2xx, non-204 responses
	ErrUnexpectedStatus = errors.New("unexpected auction response status")
)

// AuctionResult is the win-relevant view of one auction response
type AuctionResult struct {
	Status      int
	NoBid       bool
	NoBidReason NoBidReason
	ResponseID  string
	// Bid is seatbid[0].bid[0]; nil when NoBid
	Bid *Bid
}

// EncodeRequest serializes a bid request for the wire
func EncodeRequest(req *BidRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("nil bid request")
	}
	return json.Marshal(req)
}

// DecodeResponse turns an auction response into a win determination input.
// 204 is a no-bid without looking at the body; other 2xx statuses must carry a
// bid response, of which only the first seat's first bid is consulted.
func DecodeResponse(status int, body []byte) (*AuctionResult, error) {
	result := &AuctionResult{Status: status}

	if status == http.StatusNoContent {
		result.NoBid = true
		return result, nil
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body with status %d", ErrBadResponse, status)
	}
	if _, dataType, _, err := jsonparser.Get(body); err != nil || dataType != jsonparser.Object {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrBadResponse)
	}

	id, err := jsonparser.GetString(body, "id")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("%w: id: %v", ErrBadResponse, err)
	}
	result.ResponseID = id

	if nbr, err := jsonparser.GetInt(body, "nbr"); err == nil {
		result.NoBidReason = NoBidReason(nbr)
	}

	bid, dataType, _, err := jsonparser.Get(body, "seatbid", "[0]", "bid", "[0]")
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		result.NoBid = true
		return result, nil
	}
	if err != nil || dataType != jsonparser.Object {
		return nil, fmt.Errorf("%w: seatbid[0].bid[0] is not an object", ErrBadResponse)
	}

	if _, err := jsonparser.GetFloat(bid, "price"); err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrBadResponse, err)
	}
	var b Bid
	if err := json.Unmarshal(bid, &b); err != nil {
		return nil, fmt.Errorf("%w: seatbid[0].bid[0]: %v", ErrBadResponse, err)
	}

	result.Bid = &b
	return result, nil
}
