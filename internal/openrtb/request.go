// Package openrtb holds the OpenRTB 2.x wire types spoken to the auction
// endpoint, plus the encode/decode helpers used by the replay loop.
package openrtb

// BidRequest represents an OpenRTB bid request as sent by the exchange
type BidRequest struct {
	ID     string   `json:"id"`
	Imp    []Imp    `json:"imp"`
	Device *Device  `json:"device,omitempty"`
	AT     int      `json:"at,omitempty"`   // 1 = first price, 2 = second price
	TMax   int      `json:"tmax,omitempty"` // milliseconds
	WSeat  []string `json:"wseat,omitempty"`
	BCat   []string `json:"bcat,omitempty"`
	BAdv   []string `json:"badv,omitempty"`
}

// Imp represents an impression
type Imp struct {
	ID       string  `json:"id"`
	Banner   *Banner `json:"banner,omitempty"`
	BidFloor float64 `json:"bidfloor"`
}

// Banner represents a banner impression
type Banner struct {
	W     int      `json:"w"`
	H     int      `json:"h"`
	Mimes []string `json:"mimes,omitempty"`
}

// Device represents the user's device
type Device struct {
	DNT int    `json:"dnt"`
	UA  string `json:"ua"`
	IP  string `json:"ip"`
	Geo *Geo   `json:"geo,omitempty"`
}

// Geo represents a geographic location
type Geo struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// AuctionType values for BidRequest.AT
const (
	FirstPriceAuction  = 1
	SecondPriceAuction = 2
)
