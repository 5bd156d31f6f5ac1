// Package auction talks to the auction endpoint under test over a single
// persistent HTTP connection.
package auction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/pkg/logger"
)

// Errors returned by Do. Anything else is a context error.
var (
	ErrConnectionRefused = errors.New("auction endpoint refused the connection")
	ErrHostUnresolved    = errors.New("auction host could not be resolved")
	ErrRetriesExhausted  = errors.New("auction connection retries exhausted")
	ErrProtocol          = errors.New("auction protocol error")
)

// OpenRTB headers sent with every bid request
const (
	headerVersion = "x-openrtb-version"
	headerVerbose = "x-openrtb-verbose"

	openRTBVersion = "2.0"
)

// Fault classifies a transport failure
type Fault int

const (
	FaultNone Fault = iota
	// FaultTransient covers dropped connections and timeouts; the connection is reset and the request retried
	FaultTransient
	FaultRefused
	FaultUnresolved
	FaultFatal
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultTransient:
		return "transient"
	case FaultRefused:
		return "refused"
	case FaultUnresolved:
		return "unresolved"
	default:
		return "fatal"
	}
}

// Exchange is one completed request/response round trip
type Exchange struct {
	Status int
	Body   []byte
	// Elapsed covers writing the request through reading the full body
	Elapsed time.Duration
}

// Client sends bid requests to a single auction endpoint
type Client struct {
	url       string
	http      *http.Client
	transport *http.Transport

	maxResponseBytes int64
	maxRetries       int
	initialInterval  time.Duration
	maxInterval      time.Duration

	restarts atomic.Int64
}

// NewClient creates a client for cfg's auction endpoint. No connection is
// opened until the first request.
func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.Auction.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	maxBytes := cfg.Auction.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 1024 * 1024
	}

	return &Client{
		url:       cfg.AuctionURL(),
		transport: transport,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Auction.Timeout,
		},
		maxResponseBytes: maxBytes,
		maxRetries:       cfg.Auction.MaxRetries,
		initialInterval:  cfg.Auction.RetryInitialInterval,
		maxInterval:      cfg.Auction.RetryMaxInterval,
	}
}

// Send performs exactly one POST of body, without retrying
func (c *Client) Send(ctx context.Context, body []byte) (*Exchange, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerVersion, openRTBVersion)
	req.Header.Set(headerVerbose, "1")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeded %d bytes", ErrProtocol, c.maxResponseBytes)
	}

	return &Exchange{
		Status:  resp.StatusCode,
		Body:    data,
		Elapsed: time.Since(start),
	}, nil
}

// Do sends body, resetting the connection and resending the same body on
// transient faults until the retry budget runs out.
func (c *Client) Do(ctx context.Context, body []byte) (*Exchange, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(), uint64(max(c.maxRetries, 0))),
		ctx,
	)

	var result *Exchange
	attempts := 0
	op := func() error {
		attempts++
		ex, err := c.Send(ctx, body)
		if err == nil {
			result = ex
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		switch Classify(err) {
		case FaultTransient:
			c.reset()
			return err
		case FaultRefused:
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrConnectionRefused, err))
		case FaultUnresolved:
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrHostUnresolved, err))
		default:
			if errors.Is(err, ErrProtocol) {
				return backoff.Permanent(err)
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrProtocol, err))
		}
	}

	notify := func(err error, wait time.Duration) {
		logger.Log.Warn().
			Str("component", "auction").
			Err(err).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("Connection to auction endpoint lost, reconnecting")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if Classify(err) == FaultTransient {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, err)
		}
		return nil, err
	}
	return result, nil
}

// Restarts returns how many times the connection has been reset
func (c *Client) Restarts() int64 {
	return c.restarts.Load()
}

// Close drops the pooled connection
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

func (c *Client) reset() {
	c.transport.CloseIdleConnections()
	c.restarts.Add(1)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.initialInterval > 0 {
		b.InitialInterval = c.initialInterval
	}
	if c.maxInterval > 0 {
		b.MaxInterval = c.maxInterval
	}
	// Bounded by attempt count, not wall time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Classify maps a transport error to a Fault
func Classify(err error) Fault {
	if err == nil {
		return FaultNone
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return FaultRefused
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FaultUnresolved
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return FaultTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FaultTransient
	}

	return FaultFatal
}
