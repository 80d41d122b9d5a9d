package engine

import (
	"math/rand"

	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
)

// vehicleProfile is a sampled bundle of physical/driver parameters for one
// vehicle type. Exact distributions are an implementation choice: spec.md
// leaves vehicle-population heterogeneity unspecified beyond "vehicles have
// varied physical and driver parameters", so values here are chosen to be
// IDM-stable (S0/T/AMax/B in textbook ranges) and are drawn from the run's
// single seeded generator per spec.md §5 Determinism.
type vehicleProfile struct {
	Type   string
	weight float64
	v0Mean float64
	v0Std  float64
	v0Min  float64
	v0Max  float64
	aMax   float64
	b      float64
	s0     float64
	t      float64
	length float64
}

var vehicleProfiles = []vehicleProfile{
	{Type: "car", weight: 0.80, v0Mean: 33.3, v0Std: 2.8, v0Min: 25, v0Max: 38, aMax: 2.5, b: 2.0, s0: 2.0, t: 1.5, length: 4.5},
	{Type: "truck", weight: 0.15, v0Mean: 25.0, v0Std: 2.0, v0Min: 18, v0Max: 30, aMax: 1.5, b: 2.0, s0: 3.0, t: 1.8, length: 12.0},
	{Type: "bus", weight: 0.05, v0Mean: 22.0, v0Std: 1.5, v0Min: 16, v0Max: 26, aMax: 1.8, b: 2.0, s0: 3.0, t: 1.8, length: 10.0},
}

type driverStyle struct {
	Name           string
	weight         float64
	politenessLow  float64
	politenessHigh float64
}

var driverStyles = []driverStyle{
	{Name: "aggressive", weight: 0.20, politenessLow: 0.0, politenessHigh: 0.3},
	{Name: "normal", weight: 0.60, politenessLow: 0.3, politenessHigh: 0.7},
	{Name: "cautious", weight: 0.20, politenessLow: 0.7, politenessHigh: 1.0},
}

func pickWeighted(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

// normClamp draws from N(mean,std) and clamps to [lo,hi].
func normClamp(rng *rand.Rand, mean, std, lo, hi float64) float64 {
	v := rng.NormFloat64()*std + mean
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}

// spawnVehicle builds a new vehicle with sampled physical and driver
// parameters and a uniformly random lane, assigns it the next id, and flags
// it as an anomaly candidate via the anomaly machine. Caller inserts it
// into e.active.
func (e *Engine) spawnVehicle(clock float64) *vehicle.Vehicle {
	e.nextID++
	v := vehicle.New(e.nextID)

	profileWeights := make([]float64, len(vehicleProfiles))
	for i, p := range vehicleProfiles {
		profileWeights[i] = p.weight
	}
	profile := vehicleProfiles[pickWeighted(e.rng, profileWeights)]

	styleWeights := make([]float64, len(driverStyles))
	for i, s := range driverStyles {
		styleWeights[i] = s.weight
	}
	style := driverStyles[pickWeighted(e.rng, styleWeights)]

	v.Type = profile.Type
	v.DriverStyle = style.Name
	v.V0 = normClamp(e.rng, profile.v0Mean, profile.v0Std, profile.v0Min, profile.v0Max)
	v.AMax = profile.aMax * (0.9 + 0.2*e.rng.Float64())
	v.B = profile.b * (0.9 + 0.2*e.rng.Float64())
	v.S0 = profile.s0
	v.T = profile.t
	v.Delta = 4.0
	v.Length = profile.length

	v.Politeness = style.politenessLow + e.rng.Float64()*(style.politenessHigh-style.politenessLow)
	v.Aggressiveness = 1 - v.Politeness
	v.ReactionTimeFactor = 0.8 + e.rng.Float64()*0.5

	v.Lane = e.rng.Intn(e.cfg.Road.NumLanes)
	v.Position = 0
	v.Speed = v.V0 * 0.9
	v.SpawnTime = clock

	e.anomalyMachine.FlagCandidate(v, clock, e.rng)

	return v
}

// admitSpawns pulls every scheduled spawn whose time has arrived, retrying
// admission against the entry lane's leader gap before giving up and
// deferring, per spec.md §4.1 step 1.
func (e *Engine) admitSpawns() []uint64 {
	var spawned []uint64
	for {
		t, ok := e.spawner.Peek()
		if !ok || t > e.clock {
			break
		}

		v := e.spawnVehicle(e.clock)

		if !e.entryGapClear(v.Lane) {
			admitted := false
			for attempt := 0; attempt < e.cfg.LaneChangeMaxRetries; attempt++ {
				v.Lane = e.rng.Intn(e.cfg.Road.NumLanes)
				if e.entryGapClear(v.Lane) {
					admitted = true
					break
				}
			}
			if !admitted {
				e.nextID-- // the sampled id is unused; re-sample next attempt
				e.spawner.Defer(1.0)
				continue
			}
		}

		e.active[v.ID] = v
		e.index.Add(spatialIndexPosition(v))
		e.spawner.Advance(e.clock)
		spawned = append(spawned, v.ID)
	}
	return spawned
}

// entryGapClear reports whether the front of lane has enough room (per
// spec.md's lane-change minimum gap, reused here as the entry gap) for a
// new vehicle to merge onto the road.
func (e *Engine) entryGapClear(lane int) bool {
	for _, v := range e.active {
		if v.Lane != lane {
			continue
		}
		if v.Position < e.cfg.LaneChangeGap {
			return false
		}
	}
	return true
}
