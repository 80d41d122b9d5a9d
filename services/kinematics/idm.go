// Package kinematics implements the pure car-following (IDM) and
// lane-change (MOBIL) decision math of spec.md §4.2-§4.3, plus the
// explicit-Euler kinematic integration. Every function here is a pure
// function of its inputs: it never mutates a vehicle and never queries
// the spatial index itself, so it is trivially unit-testable and keeps
// the "no back-references between vehicles across ticks" invariant of
// spec.md §9 by construction.
package kinematics

import "math"

// LeaderInfo is the minimal state of a focal vehicle's leader needed by
// the IDM kernel.
type LeaderInfo struct {
	Present        bool
	Gap            float64 // max(x_L - x_v - length/2 - L.length/2, 0.5)
	Speed          float64 // m/s
	StoppedAnomaly bool    // leader has an active type-1 (full-stop) anomaly
}

// IDMParams are a focal vehicle's physical parameters consumed by the
// kernel.
type IDMParams struct {
	V0    float64
	AMax  float64
	B     float64
	S0    float64
	T     float64
	Delta float64
}

// Acceleration computes the IDM longitudinal acceleration for a vehicle
// travelling at speed v with physical parameters p, against an optional
// leader. Returns a value already clamped to [-7, 1.5*AMax].
func Acceleration(v float64, p IDMParams, leader LeaderInfo) float64 {
	if leader.Present && leader.StoppedAnomaly {
		return clamp(stoppedLeaderAcceleration(v, leader.Gap), -7, 1.5*p.AMax)
	}

	var a float64
	if !leader.Present {
		a = p.AMax * (1 - math.Pow(v/p.V0, p.Delta))
	} else {
		dv := v - leader.Speed
		s := leader.Gap
		if s < 0.5 {
			s = 0.5
		}
		sStar := p.S0 + v*p.T + (v*dv)/(2*math.Sqrt(p.AMax*p.B))
		a = p.AMax * (1 - math.Pow(v/p.V0, p.Delta) - (sStar/s)*(sStar/s))

		denom := v
		if denom < 0.1 {
			denom = 0.1
		}
		if s/denom < 1.5 || dv > 3 {
			a *= 1.2
		}
	}

	return clamp(a, -7, 1.5*p.AMax)
}

// stoppedLeaderAcceleration implements the staged-braking override of
// spec.md §4.2 for a stopped (type-1, active) leader, ignoring the
// leader's reported speed entirely.
func stoppedLeaderAcceleration(v, gap float64) float64 {
	switch {
	case gap > 200:
		a := -0.1 * v
		if a < -1.5 {
			a = -1.5
		}
		return a
	case gap > 100:
		// linear from -1.5 (at 200m) to -4.0 (at 100m)
		frac := (gap - 100) / 100
		return -4.0 + frac*(-1.5-(-4.0))
	case gap > 30:
		// linear from -4.0 (at 100m) to -7.0 (at 30m)
		frac := (gap - 30) / 70
		return -7.0 + frac*(-4.0-(-7.0))
	default:
		return -7.0
	}
}

// Integrate advances speed and position by dt using explicit Euler
// integration, clamping speed to [0, 1.1*v0].
func Integrate(position, speed, a, dt, v0 float64) (newPosition, newSpeed float64) {
	newSpeed = clamp(speed+a*dt, 0, 1.1*v0)
	newPosition = position + newSpeed*dt
	return newPosition, newSpeed
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
