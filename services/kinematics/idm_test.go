package kinematics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultParams() IDMParams {
	return IDMParams{V0: 30, AMax: 1.5, B: 2.0, S0: 2.0, T: 1.5, Delta: 4.0}
}

func TestAccelerationFreeRoadApproachesZeroAtDesiredSpeed(t *testing.T) {
	p := defaultParams()
	a := Acceleration(p.V0, p, LeaderInfo{Present: false})
	assert.InDelta(t, 0, a, 1e-9, "a vehicle already at v0 with no leader should see ~zero acceleration")
}

func TestAccelerationFreeRoadIsPositiveBelowDesiredSpeed(t *testing.T) {
	p := defaultParams()
	a := Acceleration(10, p, LeaderInfo{Present: false})
	assert.Greater(t, a, 0.0, "below v0 with no leader, the vehicle should accelerate")
}

func TestAccelerationWithCloseSlowerLeaderIsNegative(t *testing.T) {
	p := defaultParams()
	a := Acceleration(25, p, LeaderInfo{Present: true, Gap: 5, Speed: 10})
	assert.Less(t, a, 0.0, "a close, slower leader should force braking")
}

func TestAccelerationClampsToUpperBound(t *testing.T) {
	p := defaultParams()
	a := Acceleration(0, p, LeaderInfo{Present: false})
	assert.LessOrEqual(t, a, 1.5*p.AMax+1e-9)
}

func TestAccelerationClampsToLowerBound(t *testing.T) {
	p := defaultParams()
	a := Acceleration(30, p, LeaderInfo{Present: true, Gap: 0.5, Speed: 0})
	assert.GreaterOrEqual(t, a, -7.0-1e-9)
	assert.InDelta(t, -7.0, a, 1e-9, "an essentially touching, stationary leader should saturate braking")
}

func TestAccelerationStoppedLeaderOverrideIgnoresLeaderSpeed(t *testing.T) {
	p := defaultParams()
	// A fast-moving reported leader speed must not matter once StoppedAnomaly is set;
	// only v and gap drive the staged-braking curve.
	aSlowReported := Acceleration(20, p, LeaderInfo{Present: true, Gap: 150, StoppedAnomaly: true, Speed: 0})
	aFastReported := Acceleration(20, p, LeaderInfo{Present: true, Gap: 150, StoppedAnomaly: true, Speed: 25})
	assert.Equal(t, aSlowReported, aFastReported, "stopped-leader override should ignore the leader's reported speed")
}

func TestAccelerationGapSensitivityAmplifiesBraking(t *testing.T) {
	p := defaultParams()
	// Large closing speed (dv > 3) should trigger the 1.2x amplification branch,
	// producing a more negative acceleration than an otherwise-identical case without it.
	aAmplified := Acceleration(25, p, LeaderInfo{Present: true, Gap: 50, Speed: 20})
	aBase := Acceleration(25, p, LeaderInfo{Present: true, Gap: 50, Speed: 24})
	assert.Less(t, aAmplified, aBase, "a larger closing speed should brake harder once the amplification threshold is crossed")
}

func TestStoppedLeaderAccelerationMonotonicAcrossSegments(t *testing.T) {
	// The staged braking curve should grow strictly more negative as gap shrinks
	// across each of its three linear segments, and saturate at -7 inside 30m.
	far := stoppedLeaderAcceleration(20, 250)
	midHigh := stoppedLeaderAcceleration(20, 150)
	midLow := stoppedLeaderAcceleration(20, 60)
	near := stoppedLeaderAcceleration(20, 10)

	assert.Greater(t, far, midHigh)
	assert.Greater(t, midHigh, midLow)
	assert.Greater(t, midLow, near)
	assert.Equal(t, -7.0, near)
}

func TestStoppedLeaderAccelerationFarGapCapsAtMinusOnePointFive(t *testing.T) {
	a := stoppedLeaderAcceleration(5, 500)
	assert.GreaterOrEqual(t, a, -1.5, "a very slow vehicle far from a stopped leader should not brake harder than -1.5")
}

func TestIntegrateClampsSpeedToZeroFloor(t *testing.T) {
	_, newSpeed := Integrate(0, 1, -10, 1, 30)
	assert.Equal(t, 0.0, newSpeed, "speed should never integrate below zero")
}

func TestIntegrateClampsSpeedToOverspeedCeiling(t *testing.T) {
	_, newSpeed := Integrate(0, 30, 10, 5, 30)
	assert.Equal(t, 33.0, newSpeed, "speed should clamp to 1.1*v0")
}

func TestIntegrateAdvancesPositionBySpeedTimesDt(t *testing.T) {
	newPosition, newSpeed := Integrate(100, 10, 0, 2, 30)
	assert.Equal(t, 10.0, newSpeed)
	assert.Equal(t, 120.0, newPosition)
}

func TestClampHelper(t *testing.T) {
	assert.Equal(t, 1.0, clamp(-5, 1, 10))
	assert.Equal(t, 10.0, clamp(50, 1, 10))
	assert.Equal(t, 5.0, clamp(5, 1, 10))
}
