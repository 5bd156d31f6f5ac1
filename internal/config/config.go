// Package config loads the replayer configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "RTBREPLAY_"

// WinStyle selects how win notices are delivered
type WinStyle string

const (
	// WinStyleMacro substitutes ${AUCTION_*} macros in the bid's nurl and issues a GET
	WinStyleMacro WinStyle = "macro"
	// WinStylePost POSTs a JSON win object to the configured win endpoint
	WinStylePost WinStyle = "post"
)

// Config is the process-wide configuration, read-only after Load
type Config struct {
	Auction    AuctionConfig    `yaml:"auction" envPrefix:"AUCTION_"`
	Win        WinConfig        `yaml:"win" envPrefix:"WIN_"`
	Events     EventsConfig     `yaml:"events" envPrefix:"EVENTS_"`
	Simulation SimulationConfig `yaml:"simulation" envPrefix:"SIM_"`
	Replay     ReplayConfig     `yaml:"replay" envPrefix:"REPLAY_"`
	Lookup     LookupConfig     `yaml:"lookup" envPrefix:"LOOKUP_"`
	Journal    JournalConfig    `yaml:"journal" envPrefix:"JOURNAL_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
}

// AuctionConfig describes the auction endpoint under test
type AuctionConfig struct {
	Host                 string        `yaml:"host" env:"HOST"`
	Port                 int           `yaml:"port" env:"PORT"`
	Path                 string        `yaml:"path" env:"PATH"`
	TMax                 time.Duration `yaml:"tmax" env:"TMAX"`
	AuctionType          int           `yaml:"auction_type" env:"TYPE"`
	Seats                []string      `yaml:"seats" env:"SEATS" envSeparator:","`
	Timeout              time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries           int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" env:"RETRY_INITIAL_INTERVAL"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval" env:"RETRY_MAX_INTERVAL"`
	MaxResponseBytes     int64         `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
}

// WinConfig describes win notice delivery
type WinConfig struct {
	Style          WinStyle      `yaml:"style" env:"STYLE"`
	Host           string        `yaml:"host" env:"HOST"`
	Port           int           `yaml:"port" env:"PORT"`
	Path           string        `yaml:"path" env:"PATH"`
	ClearingFactor float64       `yaml:"clearing_factor" env:"CLEARING_FACTOR"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EventsConfig describes post-auction event delivery
type EventsConfig struct {
	Host               string        `yaml:"host" env:"HOST"`
	Port               int           `yaml:"port" env:"PORT"`
	Path               string        `yaml:"path" env:"PATH"`
	ClickInterval      time.Duration `yaml:"click_interval" env:"CLICK_INTERVAL"`
	ConversionInterval time.Duration `yaml:"conversion_interval" env:"CONVERSION_INTERVAL"`
	ClickSettleDelay   time.Duration `yaml:"click_settle_delay" env:"CLICK_SETTLE_DELAY"`
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// SimulationConfig holds the lifecycle probabilities (percent, 0-100)
type SimulationConfig struct {
	WinProbability        int     `yaml:"win_probability" env:"WIN_PROBABILITY"`
	ClickProbability      int     `yaml:"click_probability" env:"CLICK_PROBABILITY"`
	ConversionProbability int     `yaml:"conversion_probability" env:"CONVERSION_PROBABILITY"`
	PriceFactor           float64 `yaml:"price_factor" env:"PRICE_FACTOR"`
	Seed                  int64   `yaml:"seed" env:"SEED"`
}

// ReplayConfig controls the replay loop
type ReplayConfig struct {
	Bids               string   `yaml:"bids" env:"BIDS"`
	SkipMalformed      bool     `yaml:"skip_malformed" env:"SKIP_MALFORMED"`
	MaxQPS             float64  `yaml:"max_qps" env:"MAX_QPS"`
	AllowedSizes       []string `yaml:"allowed_sizes" env:"ALLOWED_SIZES" envSeparator:","`
	BlockedCategories  []string `yaml:"blocked_categories" env:"BLOCKED_CATEGORIES" envSeparator:","`
	BlockedAdvertisers []string `yaml:"blocked_advertisers" env:"BLOCKED_ADVERTISERS" envSeparator:","`
	Mimes              []string `yaml:"mimes" env:"MIMES" envSeparator:","`
	DNT                int      `yaml:"dnt" env:"DNT"`
}

// LookupConfig points at the auxiliary dictionaries
type LookupConfig struct {
	City            string `yaml:"city" env:"CITY"`
	Region          string `yaml:"region" env:"REGION"`
	UserProfileTags string `yaml:"user_profile_tags" env:"USER_PROFILE_TAGS"`
}

// JournalConfig enables optional delivery journal sinks
type JournalConfig struct {
	RedisURL     string   `yaml:"redis_url" env:"REDIS_URL"`
	RedisStream  string   `yaml:"redis_stream" env:"REDIS_STREAM"`
	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
}

// LogConfig configures process logging
type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	Format     string `yaml:"format" env:"FORMAT"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

// MetricsConfig configures the ops listener
type MetricsConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Size is an allowed banner size
type Size struct {
	W int
	H int
}

// Default returns the configuration used when a field is not set
func Default() *Config {
	return &Config{
		Auction: AuctionConfig{
			Host:                 "localhost",
			Port:                 9976,
			Path:                 "/auctions",
			TMax:                 100 * time.Millisecond,
			AuctionType:          2,
			Timeout:              5 * time.Second,
			MaxRetries:           5,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			MaxResponseBytes:     1024 * 1024,
		},
		Win: WinConfig{
			Style:          WinStyleMacro,
			Host:           "localhost",
			Port:           17340,
			Path:           "/wins",
			ClearingFactor: 0.9765432,
			Timeout:        5 * time.Second,
		},
		Events: EventsConfig{
			Path:               "/",
			ClickInterval:      10 * time.Second,
			ConversionInterval: 95 * time.Second,
			ClickSettleDelay:   5 * time.Second,
			Timeout:            5 * time.Second,
		},
		Simulation: SimulationConfig{
			WinProbability:        50,
			ClickProbability:      20,
			ConversionProbability: 0,
			PriceFactor:           0.76,
		},
		Replay: ReplayConfig{
			SkipMalformed: true,
			AllowedSizes:  []string{"300x50", "300x250"},
			Mimes:         []string{"image/gif"},
		},
		Journal: JournalConfig{
			RedisStream: "rtbreplay:deliveries",
			KafkaTopic:  "rtbreplay-deliveries",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Metrics: MetricsConfig{
			Namespace: "rtbreplay",
		},
	}
}

// Load reads the YAML (or JSON) file at path over the defaults and then applies
// RTBREPLAY_* environment overrides. An empty path loads defaults + env only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// Events share the win endpoint host unless told otherwise
	if cfg.Events.Host == "" {
		cfg.Events.Host = cfg.Win.Host
	}
	if cfg.Events.Port == 0 {
		cfg.Events.Port = cfg.Win.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the replayer cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Auction.Host == "" {
		errs = append(errs, errors.New("auction.host is required"))
	}
	if c.Auction.Port <= 0 || c.Auction.Port > 65535 {
		errs = append(errs, fmt.Errorf("auction.port %d out of range", c.Auction.Port))
	}
	if c.Auction.MaxRetries < 0 {
		errs = append(errs, errors.New("auction.max_retries must not be negative"))
	}

	switch c.Win.Style {
	case WinStyleMacro, WinStylePost:
	default:
		errs = append(errs, fmt.Errorf("win.style %q must be %q or %q", c.Win.Style, WinStyleMacro, WinStylePost))
	}

	for name, p := range map[string]int{
		"simulation.win_probability":        c.Simulation.WinProbability,
		"simulation.click_probability":      c.Simulation.ClickProbability,
		"simulation.conversion_probability": c.Simulation.ConversionProbability,
	} {
		if p < 0 || p > 100 {
			errs = append(errs, fmt.Errorf("%s %d outside [0,100]", name, p))
		}
	}

	if c.Events.ClickInterval <= 0 || c.Events.ConversionInterval <= 0 {
		errs = append(errs, errors.New("events flush intervals must be positive"))
	}
	if c.Events.ClickSettleDelay < 0 {
		errs = append(errs, errors.New("events.click_settle_delay must not be negative"))
	}
	if c.Replay.MaxQPS < 0 {
		errs = append(errs, errors.New("replay.max_qps must not be negative"))
	}
	if _, err := c.Sizes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Sizes parses Replay.AllowedSizes ("WxH") into banner sizes
func (c *Config) Sizes() ([]Size, error) {
	sizes := make([]Size, 0, len(c.Replay.AllowedSizes))
	for _, s := range c.Replay.AllowedSizes {
		w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
		if !ok {
			return nil, fmt.Errorf("replay.allowed_sizes: %q is not WxH", s)
		}
		wi, errW := strconv.Atoi(w)
		hi, errH := strconv.Atoi(h)
		if errW != nil || errH != nil || wi <= 0 || hi <= 0 {
			return nil, fmt.Errorf("replay.allowed_sizes: %q is not WxH", s)
		}
		sizes = append(sizes, Size{W: wi, H: hi})
	}
	return sizes, nil
}

// AuctionURL returns the full auction endpoint URL
func (c *Config) AuctionURL() string {
	return fmt.Sprintf("http://%s:%d%s", c.Auction.Host, c.Auction.Port, c.Auction.Path)
}

// WinURL returns the structured win endpoint URL
func (c *Config) WinURL() string {
	return fmt.Sprintf("http://%s:%d%s", c.Win.Host, c.Win.Port, c.Win.Path)
}

// EventsURL returns the post-auction events endpoint URL
func (c *Config) EventsURL() string {
	return fmt.Sprintf("http://%s:%d%s", c.Events.Host, c.Events.Port, c.Events.Path)
}
