package engine

import (
	"math"

	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
	"github.com/Tuzfucius/YULU-simulation/services/anomaly"
	"github.com/Tuzfucius/YULU-simulation/services/environment"
	"github.com/Tuzfucius/YULU-simulation/services/kinematics"
	"github.com/Tuzfucius/YULU-simulation/services/spatialindex"
)

func (e *Engine) resolvePosition(id uint64) (float64, int, bool) {
	v, ok := e.active[id]
	if !ok {
		return 0, 0, false
	}
	return v.Position, v.Lane, true
}

// idmParams projects a vehicle's base physical parameters into the IDM
// kernel's input shape, scaled by the run's weather effect (spec.md §9's
// weather-model supplement): wet/icy/foggy conditions lower desired speed
// and acceleration and lengthen the safe time headway.
func (e *Engine) idmParams(v *vehicle.Vehicle) kinematics.IDMParams {
	return kinematics.IDMParams{
		V0:    environment.AdjustedSpeed(e.weather, v.V0),
		AMax:  environment.AdjustedAcceleration(e.weather, v.AMax),
		B:     v.B,
		S0:    v.S0,
		T:     environment.AdjustedHeadway(e.weather, v.Type, v.T),
		Delta: v.Delta,
	}
}

// leaderInfoFor resolves v's same-lane leader (if any) via the spatial
// index and projects it into the gap/speed/stopped-anomaly triple the IDM
// kernel needs.
func (e *Engine) leaderInfoFor(v *vehicle.Vehicle) kinematics.LeaderInfo {
	p := spatialIndexPosition(v)
	leaderID, ok := e.index.Leader(p, e.cfg.NeighborCells, e.resolvePosition)
	if !ok {
		return kinematics.LeaderInfo{Present: false}
	}
	leader := e.active[leaderID]
	gap := leader.Position - v.Position - v.Length/2 - leader.Length/2
	if gap < 0.1 {
		gap = 0.1
	}
	return kinematics.LeaderInfo{
		Present:        true,
		Gap:            gap,
		Speed:          leader.Speed,
		StoppedAnomaly: leader.IsAnomalyActive(vehicle.AnomalyFullStop),
	}
}

// laneCouplingDecel returns the extra deceleration an active anomaly in an
// adjacent lane imposes on v, per spec.md §4.4's lane-coupling radius:
// vehicles within CouplingRadius of an active anomaly in a neighboring
// lane react by easing off, scaled linearly with proximity.
func (e *Engine) laneCouplingDecel(v *vehicle.Vehicle) float64 {
	p := spatialIndexPosition(v)
	neighbors := e.index.Neighbors(p, e.cfg.NeighborCells)
	var worst float64
	for _, id := range neighbors {
		other, ok := e.active[id]
		if !ok || !other.IsAnomalyActive(vehicle.AnomalyNone) {
			continue
		}
		if abs(other.Lane-v.Lane) != 1 {
			continue
		}
		dist := math.Abs(other.Position - v.Position)
		radius := anomaly.CouplingRadius(other.Anomaly.Type)
		if dist >= radius {
			continue
		}
		decel := e.cfg.LaneCouplingFactor * (1 - dist/radius) * v.Speed
		if decel > worst {
			worst = decel
		}
	}
	return worst
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// updateVehicle runs the per-vehicle longitudinal and lateral update of
// spec.md §4.1 step 4: anomaly self-acceleration or IDM, lane-coupling
// dampening, a MOBIL lane-change decision, and kinematic integration.
func (e *Engine) updateVehicle(v *vehicle.Vehicle, blocked map[int][]float64) {
	e.evaluateLaneChange(v, blocked)

	var a float64
	if v.IsAnomalyActive(vehicle.AnomalyNone) {
		a = anomaly.SelfAcceleration(v, e.cfg.DT)
	} else {
		a = kinematics.Acceleration(v.Speed, e.idmParams(v), e.leaderInfoFor(v))
	}
	a -= e.laneCouplingDecel(v)
	if a < -7 {
		a = -7
	}

	if a < 0 {
		v.Safety.BrakeCount++
		if a < -4 {
			v.Safety.EmergencyBrakeCount++
		}
		if -a > v.Safety.MaxDeceleration {
			v.Safety.MaxDeceleration = -a
		}
	}

	newPos, newSpeed := kinematics.Integrate(v.Position, v.Speed, a, e.cfg.DT, v.V0)
	v.Position = newPos
	v.Speed = newSpeed
	v.ClampSpeed()

	if v.LaneChange.InProgress {
		v.LaneChange.Step++
		delta := 1.0
		if v.LaneChange.ToLane < v.LaneChange.FromLane {
			delta = -1.0
		}
		v.LateralOffset = kinematics.LateralOffset(delta, e.cfg.Road.LaneWidth, v.LaneChange.Step)
		if v.LaneChange.Step >= kinematics.LaneChangeSteps {
			v.LaneChange.InProgress = false
			v.LaneChange.CooldownUntil = e.clock + e.cfg.LaneChangeCooldown
			v.LateralOffset = 0
		}
	}

	if leaderGap := e.leaderInfoFor(v); leaderGap.Present {
		e.updateSafety(v, leaderGap)
	}

	v.Impacted = v.V0 > 0 && v.Speed/v.V0 <= e.cfg.ImpactSpeedRatio
}

func (e *Engine) updateSafety(v *vehicle.Vehicle, leader kinematics.LeaderInfo) {
	dv := v.Speed - leader.Speed
	if dv <= 0 || leader.Gap <= 0 {
		return
	}
	ttc := leader.Gap / dv
	if v.Safety.MinTTC == 0 || ttc < v.Safety.MinTTC {
		v.Safety.MinTTC = ttc
	}
}

// evaluateLaneChange decides whether v should initiate a lane change this
// tick: a forced change away from a blocked lane within ForcedChangeDist
// takes priority over a normal MOBIL evaluation, per spec.md §4.3.
func (e *Engine) evaluateLaneChange(v *vehicle.Vehicle, blocked map[int][]float64) {
	if v.LaneChange.InProgress || e.clock < v.LaneChange.CooldownUntil {
		return
	}

	if forcedTarget, ok := e.forcedChangeTarget(v, blocked); ok {
		e.tryLaneChange(v, forcedTarget, true)
		return
	}

	left, hasLeft := v.Lane-1, v.Lane > 0
	right, hasRight := v.Lane+1, v.Lane < e.cfg.Road.NumLanes-1

	bestLane := -1
	bestUtility := math.Inf(-1)
	if hasLeft {
		if u, ok := e.candidateUtility(v, left); ok && u > bestUtility {
			bestUtility, bestLane = u, left
		}
	}
	if hasRight {
		if u, ok := e.candidateUtility(v, right); ok && u > bestUtility {
			bestUtility, bestLane = u, right
		}
	}
	if bestLane < 0 {
		return
	}
	politeness := environment.AdjustedPoliteness(e.weather, v.Politeness)
	if bestUtility > kinematics.Threshold(politeness) {
		e.tryLaneChange(v, bestLane, false)
	}
}

// forcedChangeTarget reports an adjacent lane to escape into when v's own
// lane is blocked by an active full-stop anomaly within ForcedChangeDist
// ahead.
func (e *Engine) forcedChangeTarget(v *vehicle.Vehicle, blocked map[int][]float64) (int, bool) {
	for _, pos := range blocked[v.Lane] {
		if pos >= v.Position && pos-v.Position <= e.cfg.ForcedChangeDist {
			for _, cand := range []int{v.Lane - 1, v.Lane + 1} {
				if !e.cfg.Road.ValidLane(cand) {
					continue
				}
				if e.laneFeasible(v, cand) {
					return cand, true
				}
			}
		}
	}
	return 0, false
}

// candidateUtility evaluates the MOBIL utility of changing v into
// targetLane, using the current and hypothetical leader/follower
// accelerations.
func (e *Engine) candidateUtility(v *vehicle.Vehicle, targetLane int) (float64, bool) {
	if !e.laneFeasible(v, targetLane) {
		return 0, false
	}

	currentAccel := kinematics.Acceleration(v.Speed, e.idmParams(v), e.leaderInfoFor(v))

	newLeaderInfo := e.laneLeaderInfo(v, targetLane)
	newLaneAccel := kinematics.Acceleration(v.Speed, e.idmParams(v), newLeaderInfo)

	followerOld, followerNew := 0.0, 0.0
	if followerID, ok := e.index.Follower(spatialIndexPosition(v), targetLane, e.cfg.NeighborCells, e.resolvePosition); ok {
		follower := e.active[followerID]
		followerOld = kinematics.Acceleration(follower.Speed, e.idmParams(follower), e.leaderInfoFor(follower))

		hypoGap := v.Position - follower.Position - follower.Length/2 - v.Length/2
		if hypoGap < 0.1 {
			hypoGap = 0.1
		}
		followerNew = kinematics.Acceleration(follower.Speed, e.idmParams(follower), kinematics.LeaderInfo{
			Present: true, Gap: hypoGap, Speed: v.Speed, StoppedAnomaly: v.IsAnomalyActive(vehicle.AnomalyFullStop),
		})
	}

	utility := kinematics.Utility(kinematics.MobilInputs{
		CurrentAccel:     currentAccel,
		NewLaneAccel:     newLaneAccel,
		FollowerAccelOld: followerOld,
		FollowerAccelNew: followerNew,
		Politeness:       v.Politeness,
	})
	return utility, true
}

// laneLeaderInfo resolves the leader v would have if it were already in
// targetLane, without mutating v's actual lane.
func (e *Engine) laneLeaderInfo(v *vehicle.Vehicle, targetLane int) kinematics.LeaderInfo {
	probe := spatialindex.Position{ID: v.ID, Lane: targetLane, Position: v.Position}
	leaderID, ok := e.index.Leader(probe, e.cfg.NeighborCells, e.resolvePosition)
	if !ok {
		return kinematics.LeaderInfo{Present: false}
	}
	leader := e.active[leaderID]
	gap := leader.Position - v.Position - v.Length/2 - leader.Length/2
	if gap < 0.1 {
		gap = 0.1
	}
	return kinematics.LeaderInfo{
		Present:        true,
		Gap:            gap,
		Speed:          leader.Speed,
		StoppedAnomaly: leader.IsAnomalyActive(vehicle.AnomalyFullStop),
	}
}

// laneFeasible reports whether targetLane has room for v per spec.md
// §4.3's feasibility check against the minimum lane-change gap.
func (e *Engine) laneFeasible(v *vehicle.Vehicle, targetLane int) bool {
	if !e.cfg.Road.ValidLane(targetLane) {
		return false
	}
	p := spatialIndexPosition(v)
	var positions []float64
	for _, id := range e.index.Neighbors(p, e.cfg.NeighborCells) {
		other, ok := e.active[id]
		if !ok || other.Lane != targetLane {
			continue
		}
		positions = append(positions, other.Position)
	}
	return kinematics.Feasible(v.Position, positions, e.cfg.LaneChangeGap)
}

// tryLaneChange initiates the visual interpolation for a lane change and
// moves v into targetLane at once. forced is only recorded on the
// LaneChangeState; no retry count is kept and no retry limit is applied.
func (e *Engine) tryLaneChange(v *vehicle.Vehicle, targetLane int, forced bool) {
	v.LaneChange = vehicle.LaneChangeState{
		InProgress: true,
		FromLane:   v.Lane,
		ToLane:     targetLane,
		Step:       0,
		Forced:     forced,
	}
	v.Lane = targetLane
}
