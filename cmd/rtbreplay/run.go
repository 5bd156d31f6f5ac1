package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/auction"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/endpoints"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/exchange"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/journal"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/lookup"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/metrics"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/notify"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/pkg/logger"
)

type runFlags struct {
	bids        string
	metricsAddr string
	maxQPS      float64
}

func newRunCmd(opts *options) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay the configured log against the auction endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if flags.bids != "" {
				cfg.Replay.Bids = flags.bids
			}
			if flags.metricsAddr != "" {
				cfg.Metrics.Addr = flags.metricsAddr
			}
			if cmd.Flags().Changed("max-qps") {
				cfg.Replay.MaxQPS = flags.maxQPS
			}
			if cfg.Replay.Bids == "" {
				return errors.New("no input log: set replay.bids or pass --bids")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runReplay(ctx, cfg, opts.stdout, opts.stderr)
		},
	}

	cmd.Flags().StringVarP(&flags.bids, "bids", "b", "", "input auction log (overrides replay.bids)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /status and /metrics on this address")
	cmd.Flags().Float64Var(&flags.maxQPS, "max-qps", 0, "cap on bid requests per second (0 = unpaced)")
	return cmd
}

func runReplay(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	closer := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: time.RFC3339,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer closer.Close()

	runID := uuid.NewString()
	logger.WithRun(runID)
	log := logger.Replay()

	tables, err := lookup.LoadAll(lookupPaths(cfg))
	if err != nil {
		return err
	}

	input, err := os.Open(cfg.Replay.Bids)
	if err != nil {
		return fmt.Errorf("open input log: %w", err)
	}
	defer input.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(cfg.Metrics.Namespace, registry)

	j, err := journal.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			log.Warn().Err(err).Msg("Journal close failed")
		}
	}()

	ex, err := exchange.New(cfg, tables, auction.NewClient(cfg), notify.NewSender(cfg, j), m)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		server := &http.Server{
			Addr:         cfg.Metrics.Addr,
			Handler:      endpoints.NewMux(endpoints.NewStatusHandler(runID, ex), m, registry),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Ops listener failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving /status and /metrics")
	}

	log.Info().
		Str("auction", cfg.AuctionURL()).
		Str("win_style", string(cfg.Win.Style)).
		Str("input", cfg.Replay.Bids).
		Msg("Starting replay")

	_, runErr := ex.Run(ctx, input)

	// Deliver whatever the workers still hold before reporting
	ex.Close()
	stats := ex.Stats()

	var fatal *exchange.FatalError
	switch {
	case runErr == nil:
		printSummary(stdout, stats)
		return nil
	case errors.As(runErr, &fatal):
		printFatal(stderr, fatal, stats)
		return runErr
	default:
		printSummary(stderr, stats)
		return runErr
	}
}

func printSummary(w io.Writer, s exchange.Stats) {
	fmt.Fprintf(w, "average latency: %s\n", s.AverageLatency())
	fmt.Fprintf(w, "sent:            %d\n", s.Sent)
	fmt.Fprintf(w, "filtered:        %d\n", s.Filtered)
	fmt.Fprintf(w, "malformed:       %d\n", s.Malformed)
	fmt.Fprintf(w, "restarts:        %d\n", s.Restarts)
	fmt.Fprintf(w, "bids / no bids:  %d / %d\n", s.Bids, s.NoBids)
	fmt.Fprintf(w, "wins:            %d\n", s.Wins)
	fmt.Fprintf(w, "events sent:     %d\n", s.EventsDelivered)
}

func printFatal(w io.Writer, fatal *exchange.FatalError, final exchange.Stats) {
	fmt.Fprintln(w, "replay aborted:", fatal.Err)
	printSummary(w, final)
	if fatal.Previous != nil {
		fmt.Fprintf(w, "previous request: %s\n", fatal.Previous)
	}
	if fatal.Last != nil {
		fmt.Fprintf(w, "last request:     %s\n", fatal.Last)
	}
}
