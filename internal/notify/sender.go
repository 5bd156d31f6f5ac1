// Package notify delivers win notices and post-auction events to the
// bidder's notification endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/auction"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/events"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/journal"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/pkg/logger"
)

// Win URL macros
const (
	MacroAuctionID    = "${AUCTION_ID}"
	MacroAuctionImpID = "${AUCTION_IMP_ID}"
	MacroAuctionPrice = "${AUCTION_PRICE}"
)

// pricePlaces is the number of decimals a substituted price carries
const pricePlaces = 6

var (
	ErrNoWinURL         = errors.New("bid carries no win notice url")
	ErrDeliveryFailed   = errors.New("notification delivery failed")
	ErrUnexpectedStatus = errors.New("notification endpoint returned unexpected status")
)

// winPayload is the body of a structured win notice
type winPayload struct {
	Timestamp    float64     `json:"timestamp"`
	BidRequestID string      `json:"bidRequestId"`
	ImpID        string      `json:"impid"`
	Price        json.Number `json:"price"`
}

// Sender delivers win notices and events. Failures are returned to the
// caller and never retried.
type Sender struct {
	style          config.WinStyle
	winURL         string
	eventsURL      string
	clearingFactor decimal.Decimal

	winClient   *http.Client
	eventClient *http.Client
	journal     journal.Journal
	log         zerolog.Logger

	now func() time.Time
}

// NewSender creates a sender for cfg's win and events endpoints. j may be nil.
func NewSender(cfg *config.Config, j journal.Journal) *Sender {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Sender{
		style:          cfg.Win.Style,
		winURL:         cfg.WinURL(),
		eventsURL:      cfg.EventsURL(),
		clearingFactor: decimal.NewFromFloat(cfg.Win.ClearingFactor),
		winClient:      &http.Client{Transport: transport, Timeout: cfg.Win.Timeout},
		eventClient:    &http.Client{Transport: transport, Timeout: cfg.Events.Timeout},
		journal:        j,
		log:            logger.Notify(),
		now:            time.Now,
	}
}

// WinPrice scales price by the clearing factor and formats it for a win notice
func (s *Sender) WinPrice(price float64) string {
	return decimal.NewFromFloat(price).Mul(s.clearingFactor).StringFixed(pricePlaces)
}

// SendWin notifies the winning bidder
func (s *Sender) SendWin(ctx context.Context, nurl, requestID, impID string, price float64) error {
	priceStr := s.WinPrice(price)

	var (
		req *http.Request
		err error
	)
	switch s.style {
	case config.WinStylePost:
		req, err = s.postWinRequest(ctx, requestID, impID, priceStr)
	default:
		req, err = s.macroWinRequest(ctx, nurl, requestID, impID, priceStr)
	}
	if err != nil {
		return err
	}

	if err := s.do(s.winClient, req); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", requestID).
			Str("fault", auction.Classify(err).String()).
			Msg("Win notice failed")
		return err
	}

	cleared, _ := decimal.RequireFromString(priceStr).Float64()
	s.record(ctx, journal.Entry{
		Kind:      string(events.KindWin),
		RequestID: requestID,
		ImpID:     impID,
		Price:     cleared,
		Target:    req.URL.String(),
	})
	return nil
}

// SendEvent POSTs a click or conversion to the events endpoint
func (s *Sender) SendEvent(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(ev.Stamped(s.now()))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.eventsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := s.do(s.eventClient, req); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", ev.BidRequestID).
			Str("kind", string(ev.Kind)).
			Str("fault", auction.Classify(err).String()).
			Msg("Event delivery failed")
		return err
	}

	s.record(ctx, journal.Entry{
		Kind:      string(ev.Kind),
		RequestID: ev.BidRequestID,
		ImpID:     ev.ImpID,
		Target:    s.eventsURL,
	})
	return nil
}

func (s *Sender) macroWinRequest(ctx context.Context, nurl, requestID, impID, price string) (*http.Request, error) {
	if nurl == "" {
		return nil, ErrNoWinURL
	}
	u, err := url.Parse(nurl)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid nurl %q", ErrDeliveryFailed, nurl)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	// Macros may arrive percent-encoded
	path := u.Path
	if u.RawPath != "" {
		if p, err := url.PathUnescape(u.RawPath); err == nil {
			path = p
		}
	}
	u.Path = SubstituteMacros(path, requestID, impID, price)
	u.RawPath = ""

	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func (s *Sender) postWinRequest(ctx context.Context, requestID, impID, price string) (*http.Request, error) {
	body, err := json.Marshal(winPayload{
		Timestamp:    events.EpochSeconds(s.now()),
		BidRequestID: requestID,
		ImpID:        impID,
		Price:        json.Number(price),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal win: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.winURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (s *Sender) do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, req.URL.Redacted())
	}
	return nil
}

func (s *Sender) record(ctx context.Context, e journal.Entry) {
	if s.journal == nil {
		return
	}
	e.Timestamp = s.now()
	if err := s.journal.Record(ctx, e); err != nil {
		s.log.Warn().Err(err).Str("request_id", e.RequestID).Msg("Journal write failed")
	}
}

// SubstituteMacros replaces path segments that are exactly one of the
// auction macros. Other segments are left untouched.
func SubstituteMacros(path, requestID, impID, price string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		switch seg {
		case MacroAuctionID:
			segments[i] = requestID
		case MacroAuctionImpID:
			segments[i] = impID
		case MacroAuctionPrice:
			segments[i] = price
		}
	}
	return strings.Join(segments, "/")
}
