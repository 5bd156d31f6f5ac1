// Package simulator decides, per auction, whether a bid wins and whether a
// won impression goes on to be clicked or converted.
package simulator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
)

// maxDraw is the inclusive upper bound of a draw
const maxDraw = 100

// Thresholds are percentages compared against a draw in [0,100]
type Thresholds struct {
	Win        int
	Click      int
	Conversion int
}

// Decider owns one random source. Each goroutine that makes decisions gets
// its own Decider; the mutex only guards against accidental sharing.
type Decider struct {
	mu  sync.Mutex
	rng *rand.Rand

	thresholds  Thresholds
	priceFactor float64
}

// NewDecider creates a decider seeded with seed. A zero seed uses the clock.
func NewDecider(thresholds Thresholds, priceFactor float64, seed int64) *Decider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Decider{
		rng:         rand.New(rand.NewSource(seed)),
		thresholds:  thresholds,
		priceFactor: priceFactor,
	}
}

// FromConfig creates a decider for one execution context. salt keeps
// deciders built from the same configured seed independent of each other.
func FromConfig(cfg *config.Config, salt int64) *Decider {
	seed := cfg.Simulation.Seed
	if seed != 0 {
		seed += salt
	} else {
		seed = time.Now().UnixNano() + salt
	}
	return NewDecider(Thresholds{
		Win:        cfg.Simulation.WinProbability,
		Click:      cfg.Simulation.ClickProbability,
		Conversion: cfg.Simulation.ConversionProbability,
	}, cfg.Simulation.PriceFactor, seed)
}

// Draw returns a uniform integer in [0,100]
func (d *Decider) Draw() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Intn(maxDraw + 1)
}

// Win reports whether a bid that came back from the auction wins
func (d *Decider) Win() bool {
	return d.below(d.thresholds.Win)
}

// Click reports whether a won impression is clicked
func (d *Decider) Click() bool {
	return d.below(d.thresholds.Click)
}

// Conversion reports whether a delivered click converts
func (d *Decider) Conversion() bool {
	return d.below(d.thresholds.Conversion)
}

// below draws and compares against threshold. A threshold of 100 or more
// always succeeds.
func (d *Decider) below(threshold int) bool {
	if threshold >= maxDraw {
		return true
	}
	return d.Draw() < threshold
}

// ClearingPrice scales a winning bid price to what is actually charged
func (d *Decider) ClearingPrice(price float64) float64 {
	return price * d.priceFactor
}
