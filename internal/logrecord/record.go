// Package logrecord turns historical auction log lines into bid requests
package logrecord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/lookup"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/openrtb"
)

// ErrMalformedRecord is returned for log lines that do not match the schema
var ErrMalformedRecord = errors.New("malformed log record")

// Field positions in a tab-separated log line
const (
	fieldBidRequestID = 0
	fieldUserAgent    = 4
	fieldIP           = 5
	fieldRegion       = 6
	fieldCity         = 7
	fieldAdExchange   = 8
	fieldSlotWidth    = 13
	fieldSlotHeight   = 14
	fieldFloorPrice   = 17
	fieldBiddingPrice = 19
	fieldPayingPrice  = 20

	minFields = fieldPayingPrice + 1
)

// minFloor replaces a zero floor so no auction runs floor-less
const minFloor = 0.1

// impID is the id of the single impression in every replayed request
const impID = "1"

// Record is one replayed impression opportunity: the wire request plus
// bookkeeping from the log that is never sent.
type Record struct {
	Request *openrtb.BidRequest

	// Historical prices from the log, informational only
	BiddingPrice float64
	PayingPrice  float64

	AdExchangeID int
	RegionCode   int
	CityCode     int
}

// Banner returns the record's single banner impression
func (r *Record) Banner() *openrtb.Banner {
	if r == nil || r.Request == nil || len(r.Request.Imp) == 0 {
		return nil
	}
	return r.Request.Imp[0].Banner
}

// Parser converts log lines into Records
type Parser struct {
	tables *lookup.Tables
	mimes  []string
	dnt    int
}

// NewParser creates a parser. tables may be nil, in which case geography is left empty.
func NewParser(tables *lookup.Tables, mimes []string, dnt int) *Parser {
	if tables == nil {
		tables = &lookup.Tables{}
	}
	return &Parser{tables: tables, mimes: mimes, dnt: dnt}
}

// Parse converts one tab-separated line. No partial record is returned on error.
func (p *Parser) Parse(line string) (*Record, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, "\t")
	if len(fields) < minFields {
		return nil, fmt.Errorf("%w: %d fields, need at least %d", ErrMalformedRecord, len(fields), minFields)
	}

	id := fields[fieldBidRequestID]
	if id == "" {
		return nil, fmt.Errorf("%w: empty bid request id", ErrMalformedRecord)
	}

	region, err := atoi(fields, fieldRegion, "region")
	if err != nil {
		return nil, err
	}
	city, err := atoi(fields, fieldCity, "city")
	if err != nil {
		return nil, err
	}
	adx, err := atoi(fields, fieldAdExchange, "ad exchange id")
	if err != nil {
		return nil, err
	}
	width, err := atoi(fields, fieldSlotWidth, "slot width")
	if err != nil {
		return nil, err
	}
	height, err := atoi(fields, fieldSlotHeight, "slot height")
	if err != nil {
		return nil, err
	}
	floor, err := atof(fields, fieldFloorPrice, "slot floor price")
	if err != nil {
		return nil, err
	}
	bidding, err := atof(fields, fieldBiddingPrice, "bidding price")
	if err != nil {
		return nil, err
	}
	paying, err := atof(fields, fieldPayingPrice, "paying price")
	if err != nil {
		return nil, err
	}

	req := &openrtb.BidRequest{
		ID: id,
		Imp: []openrtb.Imp{{
			ID:       impID,
			Banner:   &openrtb.Banner{W: width, H: height, Mimes: p.mimes},
			BidFloor: Floor(floor),
		}},
		Device: &openrtb.Device{
			DNT: p.dnt,
			UA:  fields[fieldUserAgent],
			IP:  NormalizeIP(fields[fieldIP]),
		},
	}

	regionName := p.tables.Region.Get(region)
	cityName := p.tables.City.Get(city)
	if regionName != "" || cityName != "" {
		req.Device.Geo = &openrtb.Geo{Region: regionName, City: cityName}
	}

	return &Record{
		Request:      req,
		BiddingPrice: bidding / 10,
		PayingPrice:  paying / 10,
		AdExchangeID: adx,
		RegionCode:   region,
		CityCode:     city,
	}, nil
}

// Floor converts a logged slot floor price to the protocol unit
func Floor(logged float64) float64 {
	floor := logged / 10
	if floor == 0 {
		return minFloor
	}
	return floor
}

// NormalizeIP replaces a trailing anonymization '*' with '0'
func NormalizeIP(ip string) string {
	if strings.HasSuffix(ip, "*") {
		return ip[:len(ip)-1] + "0"
	}
	return ip
}

func atoi(fields []string, idx int, name string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(fields[idx]))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedRecord, name, fields[idx])
	}
	return v, nil
}

func atof(fields []string, idx int, name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[idx]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedRecord, name, fields[idx])
	}
	return v, nil
}
