// Package exchange implements the replay loop: it plays a historical log
// against the auction endpoint and simulates what happens after each bid.
package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/auction"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/events"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/logrecord"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/lookup"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/metrics"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/openrtb"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/simulator"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/pkg/logger"
)

// maxLineBytes bounds a single log line
const maxLineBytes = 1024 * 1024

// Seed salts keep the loop's and the click worker's random sources apart
const (
	saltReplay = 1
	saltClicks = 2
)

// AuctionClient sends encoded bid requests
type AuctionClient interface {
	Do(ctx context.Context, body []byte) (*auction.Exchange, error)
	Restarts() int64
	Close()
}

// Notifier delivers win notices and post-auction events
type Notifier interface {
	SendWin(ctx context.Context, nurl, requestID, impID string, price float64) error
	SendEvent(ctx context.Context, ev events.Event) error
}

// Exchange replays log records against one auction endpoint
type Exchange struct {
	cfg      *config.Config
	parser   *logrecord.Parser
	client   AuctionClient
	notifier Notifier
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	sizes    map[config.Size]bool
	tmax     time.Duration

	// decider is used by the replay loop only; clickDecider by the click worker
	decider      *simulator.Decider
	clickDecider *simulator.Decider

	clicks      *events.Queue
	conversions *events.Queue
	clickWorker *events.Worker
	convWorker  *events.Worker

	stats counters
	log   zerolog.Logger

	// Last two encoded requests, kept for fatal diagnostics
	mu       sync.Mutex
	previous []byte
	last     []byte

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates an exchange. m may be nil.
func New(cfg *config.Config, tables *lookup.Tables, client AuctionClient, notifier Notifier, m *metrics.Metrics) (*Exchange, error) {
	sizes, err := cfg.Sizes()
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		cfg:          cfg,
		parser:       logrecord.NewParser(tables, cfg.Replay.Mimes, cfg.Replay.DNT),
		client:       client,
		notifier:     notifier,
		metrics:      m,
		sizes:        make(map[config.Size]bool, len(sizes)),
		tmax:         cfg.Auction.TMax,
		decider:      simulator.FromConfig(cfg, saltReplay),
		clickDecider: simulator.FromConfig(cfg, saltClicks),
		clicks:       events.NewQueue(),
		conversions:  events.NewQueue(),
		log:          logger.Replay(),
	}
	for _, s := range sizes {
		e.sizes[s] = true
	}
	if cfg.Replay.MaxQPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.Replay.MaxQPS), 1)
	}

	e.clickWorker = events.NewWorker(events.KindClick, e.clicks,
		cfg.Events.ClickInterval, cfg.Events.ClickSettleDelay, e.deliverClick)
	e.convWorker = events.NewWorker(events.KindConversion, e.conversions,
		cfg.Events.ConversionInterval, 0, e.deliverConversion)

	return e, nil
}

// Start launches the click and conversion workers. Run calls it if needed.
// The workers keep ctx's values but not its cancellation: they run until
// Close, which stops the click worker before the conversion worker.
func (e *Exchange) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		workerCtx := context.WithoutCancel(ctx)
		e.clickWorker.Start(workerCtx)
		e.convWorker.Start(workerCtx)
	})
}

// Run replays every line of r. It returns when r is exhausted, ctx is
// cancelled or a fatal error occurs; fatal errors are *FatalError.
func (e *Exchange) Run(ctx context.Context, r io.Reader) (Stats, error) {
	e.Start(ctx)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return e.Stats(), err
		}
		lineNo++

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if err := e.replay(ctx, lineNo, line); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return e.Stats(), ctxErr
			}
			return e.Stats(), e.fatal(err)
		}
	}
	if err := scanner.Err(); err != nil {
		return e.Stats(), e.fatal(fmt.Errorf("read log: %w", err))
	}

	stats := e.Stats()
	e.log.Info().
		Int("lines", lineNo).
		Int64("sent", stats.Sent).
		Int64("filtered", stats.Filtered).
		Int64("restarts", stats.Restarts).
		Dur("avg_latency", stats.AverageLatency()).
		Msg("Log exhausted")
	return stats, nil
}

// replay handles one log line
func (e *Exchange) replay(ctx context.Context, lineNo int, line string) error {
	rec, err := e.parser.Parse(line)
	if err != nil {
		e.stats.malformed.Add(1)
		e.metrics.RecordRequest(metrics.OutcomeMalformed)
		if e.cfg.Replay.SkipMalformed {
			e.log.Warn().Err(err).Int("line", lineNo).Msg("Skipping malformed log record")
			return nil
		}
		return fmt.Errorf("line %d: %w", lineNo, err)
	}

	if !e.allowed(rec.Banner()) {
		e.stats.filtered.Add(1)
		e.metrics.RecordRequest(metrics.OutcomeFiltered)
		return nil
	}

	e.applyPolicy(rec.Request)
	body, err := openrtb.EncodeRequest(rec.Request)
	if err != nil {
		return fmt.Errorf("line %d: encode: %w", lineNo, err)
	}
	e.remember(body)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	restartsBefore := e.client.Restarts()
	ex, err := e.client.Do(ctx, body)
	if restarted := e.client.Restarts() - restartsBefore; restarted > 0 {
		e.stats.restarts.Add(restarted)
		e.metrics.RecordRestarts(restarted)
	}
	if err != nil {
		return err
	}

	e.stats.sent.Add(1)
	e.stats.latencyNanos.Add(int64(ex.Elapsed))
	e.metrics.RecordRequest(metrics.OutcomeSent)

	log := logger.Auction(rec.Request.ID)

	late := e.tmax > 0 && ex.Elapsed > e.tmax
	if late {
		e.stats.late.Add(1)
		log.Warn().Dur("elapsed", ex.Elapsed).Dur("tmax", e.tmax).Msg("Late bid response")
	}

	result, err := openrtb.DecodeResponse(ex.Status, ex.Body)
	if err != nil {
		e.stats.badResponses.Add(1)
		outcome := metrics.ResultBadResponse
		if errors.Is(err, openrtb.ErrUnexpectedStatus) {
			outcome = metrics.ResultUnexpectedStatus
		}
		e.metrics.RecordExchange(outcome, ex.Elapsed, late)
		log.Warn().Err(err).Int("status", ex.Status).Msg("Unusable auction response")
		return nil
	}

	if result.NoBid {
		e.stats.noBids.Add(1)
		e.metrics.RecordExchange(metrics.ResultNoBid, ex.Elapsed, late)
		log.Debug().Int("nbr", int(result.NoBidReason)).Msg("No bid")
		return nil
	}

	e.stats.bids.Add(1)
	e.metrics.RecordExchange(metrics.ResultBid, ex.Elapsed, late)
	e.simulate(ctx, rec, result, log)
	return nil
}

// simulate decides whether the bid wins and, if so, sends the win notice
// inline and may queue a click
func (e *Exchange) simulate(ctx context.Context, rec *logrecord.Record, result *openrtb.AuctionResult, log zerolog.Logger) {
	if !e.decider.Win() {
		return
	}

	price := e.decider.ClearingPrice(result.Bid.Price)
	e.stats.wins.Add(1)
	e.metrics.RecordWin(price)

	requestID := result.ResponseID
	if requestID == "" {
		requestID = rec.Request.ID
	}
	impID := result.Bid.ImpID
	if impID == "" {
		impID = rec.Request.Imp[0].ID
	}

	err := e.notifier.SendWin(ctx, result.Bid.NURL, requestID, impID, price)
	e.metrics.RecordNotification(string(events.KindWin), err)
	if err != nil {
		e.stats.notifyFailures.Add(1)
		log.Warn().Err(err).Float64("price", price).Msg("Win notice not delivered")
		return
	}
	log.Debug().Float64("price", price).Str("crid", result.Bid.CRID).Msg("Win notice delivered")

	if e.decider.Click() {
		e.clicks.Push(events.New(events.KindClick, requestID, impID))
		e.stats.clicksQueued.Add(1)
		e.metrics.RecordEnqueued(string(events.KindClick))
		e.metrics.SetQueueDepth(string(events.KindClick), e.clicks.Len())
	}
}

// deliverClick runs on the click worker
func (e *Exchange) deliverClick(ctx context.Context, ev events.Event) error {
	err := e.notifier.SendEvent(ctx, ev)
	e.metrics.RecordNotification(string(ev.Kind), err)
	e.metrics.SetQueueDepth(string(events.KindClick), e.clicks.Len())
	if err != nil {
		e.stats.notifyFailures.Add(1)
		return err
	}
	e.stats.eventsDelivered.Add(1)

	if e.clickDecider.Conversion() {
		e.conversions.Push(events.New(events.KindConversion, ev.BidRequestID, ev.ImpID))
		e.stats.conversionsQueued.Add(1)
		e.metrics.RecordEnqueued(string(events.KindConversion))
		e.metrics.SetQueueDepth(string(events.KindConversion), e.conversions.Len())
	}
	return nil
}

// deliverConversion runs on the conversion worker
func (e *Exchange) deliverConversion(ctx context.Context, ev events.Event) error {
	err := e.notifier.SendEvent(ctx, ev)
	e.metrics.RecordNotification(string(ev.Kind), err)
	e.metrics.SetQueueDepth(string(events.KindConversion), e.conversions.Len())
	if err != nil {
		e.stats.notifyFailures.Add(1)
		return err
	}
	e.stats.eventsDelivered.Add(1)
	return nil
}

// allowed reports whether a banner size may be sent to the auction
func (e *Exchange) allowed(b *openrtb.Banner) bool {
	if b == nil {
		return false
	}
	return e.sizes[config.Size{W: b.W, H: b.H}]
}

// applyPolicy fills the exchange-level request fields
func (e *Exchange) applyPolicy(req *openrtb.BidRequest) {
	req.AT = e.cfg.Auction.AuctionType
	req.TMax = int(e.cfg.Auction.TMax / time.Millisecond)
	req.WSeat = e.cfg.Auction.Seats
	req.BCat = e.cfg.Replay.BlockedCategories
	req.BAdv = e.cfg.Replay.BlockedAdvertisers
}

func (e *Exchange) remember(body []byte) {
	e.mu.Lock()
	e.previous, e.last = e.last, body
	e.mu.Unlock()
}

func (e *Exchange) fatal(err error) *FatalError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &FatalError{
		Err:      err,
		Stats:    e.stats.snapshot(),
		Previous: e.previous,
		Last:     e.last,
	}
}

// Stats returns the current counters
func (e *Exchange) Stats() Stats {
	return e.stats.snapshot()
}

// QueueDepths returns the number of clicks and conversions waiting
func (e *Exchange) QueueDepths() (clicks, conversions int) {
	return e.clicks.Len(), e.conversions.Len()
}

// Close stops the click worker and then the conversion worker, so
// conversions produced by the final click flush are still delivered.
func (e *Exchange) Close() {
	e.closeOnce.Do(func() {
		e.clickWorker.Stop()
		e.convWorker.Stop()
		e.client.Close()
	})
}
