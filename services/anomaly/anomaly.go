// Package anomaly implements the per-vehicle anomaly state machine of
// spec.md §4.4: activation gating, the normal/active/cooling transitions,
// and the self-applied acceleration profile for an active anomaly.
package anomaly

import (
	"math"
	"math/rand"

	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
)

// Config holds the activation-gating parameters of spec.md §4.4 and §6.
type Config struct {
	AnomalyRatio       float64
	GlobalAnomalyStart float64
	VehicleSafeRunTime float64
	CoolingTicks       int     // residency in "cooling" before returning to normal, default 1000
	DT                 float64 // simulation time step, used to decrement fluctuation timers
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		AnomalyRatio:       0.01,
		GlobalAnomalyStart: 200,
		VehicleSafeRunTime: 200,
		CoolingTicks:       1000,
		DT:                 1.0,
	}
}

// Machine drives anomaly activation/transition for the vehicle population.
// It holds no per-vehicle state itself; all state lives on vehicle.Vehicle.
type Machine struct {
	cfg Config
}

// New constructs an anomaly state machine.
func New(cfg Config) *Machine {
	if cfg.CoolingTicks <= 0 {
		cfg.CoolingTicks = 1000
	}
	if cfg.DT <= 0 {
		cfg.DT = 1.0
	}
	return &Machine{cfg: cfg}
}

// FlagCandidate is called once at spawn: with probability AnomalyRatio the
// vehicle is flagged as a potential anomaly candidate for the rest of its
// life. EligibleAt records the earliest clock it may activate.
func (m *Machine) FlagCandidate(v *vehicle.Vehicle, spawnClock float64, rng *rand.Rand) {
	v.Anomaly.IsCandidate = rng.Float64() < m.cfg.AnomalyRatio
	v.Anomaly.EligibleAt = math.Max(m.cfg.GlobalAnomalyStart, spawnClock+m.cfg.VehicleSafeRunTime)
}

// Tick advances the vehicle's anomaly sub-state by one tick. It returns
// true and the activation details when a new activation fires this tick
// (for the caller to append to the anomaly log), per spec.md §4.1 step 3
// and §4.4.
func (m *Machine) Tick(v *vehicle.Vehicle, clock float64, rng *rand.Rand) (activated bool) {
	switch v.Anomaly.State {
	case vehicle.SubStateNormal:
		if !v.Anomaly.IsCandidate || clock < v.Anomaly.EligibleAt {
			return false
		}
		if rng.Float64() < 0.5*m.cfg.AnomalyRatio {
			m.activate(v, clock, rng, true)
			return true
		}
	case vehicle.SubStateCooling:
		v.Anomaly.CoolingTicks++
		if rng.Float64() < 0.3 {
			m.activate(v, clock, rng, false)
			return true
		}
		if v.Anomaly.CoolingTicks >= m.cfg.CoolingTicks {
			v.Anomaly.State = vehicle.SubStateNormal
			v.Anomaly.CoolingTicks = 0
		}
	case vehicle.SubStateActive:
		m.advanceActive(v)
	}
	return false
}

// activate transitions the vehicle into the active sub-state. first
// selects the type uniformly from {1,2,3} (spec.md's "sampled uniformly"
// activation rule — equivalent in expectation to the ~30% type-1 share
// the spec separately notes for new vehicles). Re-activation from cooling
// keeps to the fluctuation types {2,3} since a full-stop anomaly never
// re-enters cooling (it holds active until the vehicle leaves the road).
func (m *Machine) activate(v *vehicle.Vehicle, clock float64, rng *rand.Rand, first bool) {
	var t vehicle.AnomalyType
	if first {
		switch rng.Intn(3) {
		case 0:
			t = vehicle.AnomalyFullStop
		case 1:
			t = vehicle.AnomalyShortFluctuation
		default:
			t = vehicle.AnomalyLongFluctuation
		}
	} else {
		if rng.Intn(2) == 0 {
			t = vehicle.AnomalyShortFluctuation
		} else {
			t = vehicle.AnomalyLongFluctuation
		}
	}

	v.Anomaly.Type = t
	v.Anomaly.State = vehicle.SubStateActive
	v.Anomaly.TriggerTime = clock
	v.Anomaly.MinSpeedSeen = v.Speed
	v.Anomaly.ActivatedOnce = true
	v.Anomaly.CoolingTicks = 0

	switch t {
	case vehicle.AnomalyFullStop:
		v.Anomaly.TargetSpeed = 0
		v.Anomaly.Timer = math.Inf(1)
	case vehicle.AnomalyShortFluctuation:
		v.Anomaly.TargetSpeed = rng.Float64() * 40 / 3.6 // U(0,40) km/h -> m/s
		v.Anomaly.Timer = 10
	case vehicle.AnomalyLongFluctuation:
		v.Anomaly.TargetSpeed = rng.Float64() * 40 / 3.6
		v.Anomaly.Timer = 20
	}
}

// advanceActive counts down the fluctuation timer; type-1 never expires
// on its own (spec.md: "remains active until its containing vehicle
// leaves the road").
func (m *Machine) advanceActive(v *vehicle.Vehicle) {
	if v.Anomaly.Type == vehicle.AnomalyFullStop {
		return
	}
	if v.Speed < v.Anomaly.MinSpeedSeen {
		v.Anomaly.MinSpeedSeen = v.Speed
	}
	v.Anomaly.Timer -= m.cfg.DT
	if v.Anomaly.Timer <= 0 {
		v.Anomaly.State = vehicle.SubStateCooling
		v.Anomaly.CoolingTicks = 0
	}
}

// SelfAcceleration returns the acceleration an active anomaly applies to
// its own vehicle, per spec.md §4.4. v supplies the current speed and
// anomaly state, dt the simulation time step.
func SelfAcceleration(v *vehicle.Vehicle, dt float64) float64 {
	switch v.Anomaly.Type {
	case vehicle.AnomalyFullStop:
		denom := dt
		if denom < 0.5 {
			denom = 0.5
		}
		a := -0.5 * v.Speed / denom
		if v.Speed <= 1 {
			d2 := dt
			if d2 < 0.1 {
				d2 = 0.1
			}
			a = -v.Speed / d2
		}
		if a < -7 {
			a = -7
		}
		return a
	case vehicle.AnomalyShortFluctuation, vehicle.AnomalyLongFluctuation:
		a := (v.Anomaly.TargetSpeed - v.Speed) / dt
		if a < -4 {
			a = -4
		}
		if a > 3 {
			a = 3
		}
		return a
	default:
		return 0
	}
}

// CouplingRadius returns the same-lane follower influence radius for the
// active anomaly type, per spec.md §4.4 ("within 150m for type 1 or 250m
// for types 2/3").
func CouplingRadius(t vehicle.AnomalyType) float64 {
	if t == vehicle.AnomalyFullStop {
		return 150
	}
	return 250
}
