package kinematics

import "math"

// LaneChangeSteps is the number of ticks a lane change interpolates over.
const LaneChangeSteps = 5

// MobilInputs are the four accelerations needed to evaluate a candidate
// lane's utility, per spec.md §4.3:
//
//	ΔA = a_new - a_current - politeness*(a_follower_new - a_follower_old)
//
// where a_follower_old/a_follower_new are the candidate lane's follower's
// IDM acceleration before/after the hypothetical change.
type MobilInputs struct {
	CurrentAccel     float64
	NewLaneAccel     float64
	FollowerAccelOld float64
	FollowerAccelNew float64
	Politeness       float64
}

// Utility returns ΔA for a candidate lane.
func Utility(in MobilInputs) float64 {
	return (in.NewLaneAccel - in.CurrentAccel) - in.Politeness*(in.FollowerAccelNew-in.FollowerAccelOld)
}

// Threshold is the politeness-adjusted acceptance threshold of spec.md
// §4.3: 0.1 + 0.4*(1-politeness).
func Threshold(politeness float64) float64 {
	return 0.1 + 0.4*(1-politeness)
}

// Accepts reports whether a candidate lane's utility clears the
// politeness-adjusted threshold.
func Accepts(in MobilInputs) bool {
	return Utility(in) > Threshold(in.Politeness)
}

// Feasible reports whether a target lane is feasible: no vehicle in it
// has a longitudinal distance from the focal position smaller than
// minGap, in either direction.
func Feasible(focalPosition float64, neighborPositions []float64, minGap float64) bool {
	for _, p := range neighborPositions {
		if math.Abs(p-focalPosition) < minGap {
			return false
		}
	}
	return true
}

// LateralOffset returns the visual lateral offset during a lane change
// interpolation, per spec.md §4.3:
//
//	(Δ * lane_width/2) * (1 - cos(π * step/5))
//
// delta is +1 for a change to a higher lane index, -1 for lower.
func LateralOffset(delta float64, laneWidth float64, step int) float64 {
	return (delta * laneWidth / 2) * (1 - math.Cos(math.Pi*float64(step)/float64(LaneChangeSteps)))
}
