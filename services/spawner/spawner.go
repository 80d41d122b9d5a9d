// Package spawner produces a monotonically non-decreasing schedule of
// vehicle spawn times, consumed by the engine. Supports a homogeneous or
// time-varying Poisson process, with optional platoon clustering.
package spawner

import (
	"math"
	"math/rand"
)

// Config controls the spawn schedule.
type Config struct {
	TotalVehicles int
	// RateFn returns the instantaneous spawn rate (vehicles/second) at
	// clock t. A nil RateFn means homogeneous at BaseRate.
	RateFn func(t float64) float64
	// BaseRate is used when RateFn is nil: vehicles/second.
	BaseRate float64
	// PlatoonProbability is the chance a spawn is immediately followed by
	// a clustered platoon-mate at a short, fixed gap.
	PlatoonProbability float64
	PlatoonGapSeconds  float64
	MaxPlatoonSize     int
}

// Spawner generates the next spawn time on demand from a homogeneous or
// time-varying Poisson process. It is pulled (not pre-generated) so the
// engine can defer a spawn attempt without perturbing the rest of the
// schedule.
type Spawner struct {
	cfg      Config
	rng      *rand.Rand
	spawned  int
	nextTime float64
	platoon  int // remaining platoon-mates to emit before drawing a new interval
	hasNext  bool
}

// New constructs a spawner and draws its first spawn time.
func New(cfg Config, rng *rand.Rand) *Spawner {
	if cfg.BaseRate <= 0 && cfg.RateFn == nil {
		cfg.BaseRate = 1
	}
	s := &Spawner{cfg: cfg, rng: rng}
	s.drawNext(0)
	return s
}

func (s *Spawner) rate(t float64) float64 {
	if s.cfg.RateFn != nil {
		r := s.cfg.RateFn(t)
		if r > 0 {
			return r
		}
	}
	return s.cfg.BaseRate
}

// drawNext samples the next inter-arrival interval from Exp(rate(from))
// and stores from+interval as nextTime.
func (s *Spawner) drawNext(from float64) {
	if s.spawned >= s.cfg.TotalVehicles {
		s.hasNext = false
		return
	}
	rate := s.rate(from)
	if rate <= 0 {
		rate = 1e-6
	}
	interval := -logUniform(s.rng) / rate
	s.nextTime = from + interval
	s.hasNext = true
}

func logUniform(rng *rand.Rand) float64 {
	u := rng.Float64()
	if u <= 0 {
		u = 1e-12
	}
	return math.Log(u)
}

// Done reports whether every scheduled vehicle has been admitted.
func (s *Spawner) Done() bool {
	return s.spawned >= s.cfg.TotalVehicles
}

// Peek returns the next scheduled spawn time without consuming it.
func (s *Spawner) Peek() (float64, bool) {
	if !s.hasNext {
		return 0, false
	}
	return s.nextTime, true
}

// Advance consumes the current scheduled spawn (a vehicle was admitted at
// clock) and draws the next one. When platoon clustering fires, the next
// spawn is scheduled PlatoonGapSeconds later instead of a fresh Poisson
// draw, up to MaxPlatoonSize consecutive mates.
func (s *Spawner) Advance(clock float64) {
	s.spawned++
	if s.platoon > 0 {
		s.platoon--
		s.nextTime = clock + s.cfg.PlatoonGapSeconds
		s.hasNext = s.spawned < s.cfg.TotalVehicles
		return
	}
	if s.cfg.PlatoonProbability > 0 && s.cfg.MaxPlatoonSize > 1 && s.rng.Float64() < s.cfg.PlatoonProbability {
		s.platoon = s.cfg.MaxPlatoonSize - 1
		s.nextTime = clock + s.cfg.PlatoonGapSeconds
		s.hasNext = s.spawned < s.cfg.TotalVehicles
		return
	}
	s.drawNext(clock)
}

// Defer pushes the next scheduled spawn back by delaySeconds without
// consuming it, per spec.md §4.1 step 1 ("defer this spawn by 1.0s").
func (s *Spawner) Defer(delaySeconds float64) {
	if s.hasNext {
		s.nextTime += delaySeconds
	}
}
