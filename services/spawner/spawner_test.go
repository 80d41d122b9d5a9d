package spawner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsBaseRateWhenUnset(t *testing.T) {
	s := New(Config{TotalVehicles: 5}, rand.New(rand.NewSource(1)))
	assert.Equal(t, 1.0, s.cfg.BaseRate)
}

func TestNewDrawsAFirstSpawnTimeWhenTotalVehiclesPositive(t *testing.T) {
	s := New(Config{TotalVehicles: 5, BaseRate: 1}, rand.New(rand.NewSource(1)))
	_, ok := s.Peek()
	assert.True(t, ok)
	assert.False(t, s.Done())
}

func TestNewWithZeroTotalVehiclesHasNoNextSpawn(t *testing.T) {
	s := New(Config{TotalVehicles: 0, BaseRate: 1}, rand.New(rand.NewSource(1)))
	_, ok := s.Peek()
	assert.False(t, ok)
	assert.True(t, s.Done())
}

func TestAdvanceConsumesScheduleAndEventuallyFinishes(t *testing.T) {
	s := New(Config{TotalVehicles: 3, BaseRate: 5}, rand.New(rand.NewSource(7)))
	count := 0
	clock := 0.0
	for !s.Done() {
		next, ok := s.Peek()
		require.True(t, ok)
		require.GreaterOrEqual(t, next, clock, "spawn schedule should be non-decreasing")
		clock = next
		s.Advance(clock)
		count++
		require.LessOrEqual(t, count, 1000, "spawner should terminate within a reasonable number of advances")
	}
	assert.Equal(t, 3, count)
	_, ok := s.Peek()
	assert.False(t, ok, "no more spawns should be scheduled once Done")
}

func TestAdvanceScheduleIsMonotonicNonDecreasing(t *testing.T) {
	s := New(Config{TotalVehicles: 50, BaseRate: 2}, rand.New(rand.NewSource(3)))
	clock := 0.0
	for !s.Done() {
		next, ok := s.Peek()
		require.True(t, ok)
		assert.GreaterOrEqual(t, next, clock)
		clock = next
		s.Advance(clock)
	}
}

func TestDeferPushesNextSpawnLaterWithoutConsuming(t *testing.T) {
	s := New(Config{TotalVehicles: 5, BaseRate: 1}, rand.New(rand.NewSource(1)))
	before, ok := s.Peek()
	require.True(t, ok)
	s.Defer(1.0)
	after, ok := s.Peek()
	require.True(t, ok)
	assert.InDelta(t, before+1.0, after, 1e-9)
}

func TestDeferOnFinishedScheduleIsNoop(t *testing.T) {
	s := New(Config{TotalVehicles: 0, BaseRate: 1}, rand.New(rand.NewSource(1)))
	s.Defer(5.0) // must not panic or set hasNext
	_, ok := s.Peek()
	assert.False(t, ok)
}

func TestRateFnOverridesBaseRateWhenPositive(t *testing.T) {
	calls := 0
	cfg := Config{
		TotalVehicles: 2,
		BaseRate:      1,
		RateFn: func(t float64) float64 {
			calls++
			return 100 // a very high rate should produce tight inter-arrivals
		},
	}
	_ = New(cfg, rand.New(rand.NewSource(1)))
	assert.Greater(t, calls, 0, "RateFn should be consulted when drawing a spawn time")
}

func TestRateFnFallsBackToBaseRateWhenNonPositive(t *testing.T) {
	cfg := Config{
		TotalVehicles: 2,
		BaseRate:      3,
		RateFn:        func(t float64) float64 { return 0 },
	}
	s := New(cfg, rand.New(rand.NewSource(1)))
	assert.Equal(t, 3.0, s.rate(0))
}

func TestPlatoonClusteringSchedulesFixedGapMates(t *testing.T) {
	cfg := Config{
		TotalVehicles:      10,
		BaseRate:           0.1,
		PlatoonProbability: 1.0,
		PlatoonGapSeconds:  2.0,
		MaxPlatoonSize:     3,
	}
	s := New(cfg, rand.New(rand.NewSource(1)))
	first, ok := s.Peek()
	require.True(t, ok)
	s.Advance(first)

	second, ok := s.Peek()
	require.True(t, ok)
	assert.InDelta(t, first+2.0, second, 1e-9, "with platoon_probability=1.0 the next spawn should be exactly one platoon gap later")
	s.Advance(second)

	third, ok := s.Peek()
	require.True(t, ok)
	assert.InDelta(t, second+2.0, third, 1e-9, "a max platoon size of 3 should produce two clustered mates after the leader")
}

func TestPlatoonClusteringNeverFiresWhenProbabilityZero(t *testing.T) {
	cfg := Config{TotalVehicles: 5, BaseRate: 1, PlatoonProbability: 0, MaxPlatoonSize: 3, PlatoonGapSeconds: 2}
	s := New(cfg, rand.New(rand.NewSource(1)))
	assert.Equal(t, 0, s.platoon)
	first, _ := s.Peek()
	s.Advance(first)
	assert.Equal(t, 0, s.platoon, "zero platoon probability should never start a platoon")
}

func TestLogUniformHandlesZeroSampleWithoutPanickingOrInfinity(t *testing.T) {
	// rand.Float64() can return exactly 0; logUniform must guard against log(0) = -Inf.
	rng := rand.New(rand.NewSource(1))
	v := logUniform(rng)
	assert.False(t, v > 0, "log of a value in (0,1] should never be positive")
}
