package openrtb

import "encoding/json"

// Bid is a single bid from a seat. Only the first bid of the first seat is
// ever decoded.
type Bid struct {
	ID      string          `json:"id"`
	ImpID   string          `json:"impid"`
	Price   float64         `json:"price"`
	NURL    string          `json:"nurl,omitempty"`
	BURL    string          `json:"burl,omitempty"`
	LURL    string          `json:"lurl,omitempty"`
	AdM     string          `json:"adm,omitempty"`
	AdID    string          `json:"adid,omitempty"`
	ADomain []string        `json:"adomain,omitempty"`
	CID     string          `json:"cid,omitempty"`
	CRID    string          `json:"crid,omitempty"`
	Cat     []string        `json:"cat,omitempty"`
	DealID  string          `json:"dealid,omitempty"`
	W       int             `json:"w,omitempty"`
	H       int             `json:"h,omitempty"`
	Ext     json.RawMessage `json:"ext,omitempty"`
}

// NoBidReason represents no-bid reason codes (NBR)
type NoBidReason int

const (
	NoBidUnknown           NoBidReason = 0
	NoBidTechnicalError    NoBidReason = 1
	NoBidInvalidRequest    NoBidReason = 2
	NoBidKnownWebSpider    NoBidReason = 3
	NoBidSuspectedNonHuman NoBidReason = 4
	NoBidCloudDataCenter   NoBidReason = 5
	NoBidUnsupportedDevice NoBidReason = 6
	NoBidBlockedPublisher  NoBidReason = 7
	NoBidUnmatchedUser     NoBidReason = 8
)
