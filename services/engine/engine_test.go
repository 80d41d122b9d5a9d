package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainroad "github.com/Tuzfucius/YULU-simulation/domain/road"
	"github.com/Tuzfucius/YULU-simulation/services/anomaly"
	svcgantry "github.com/Tuzfucius/YULU-simulation/services/gantry"
	"github.com/Tuzfucius/YULU-simulation/services/rules"
	"github.com/Tuzfucius/YULU-simulation/services/spawner"
)

func testConfig() Config {
	road := domainroad.Road{
		LengthKM:        2,
		SegmentLengthKM: 0.5,
		NumLanes:        3,
		LaneWidth:       3.5,
		Gantries: []domainroad.Gantry{
			{ID: "GA", Position: 500},
			{ID: "GB", Position: 1500},
		},
	}
	return Config{
		Road:                   road,
		DT:                     1.0,
		MaxSimulationTime:      300,
		CellSize:               100,
		NeighborCells:          3,
		LaneChangeGap:          15,
		ForcedChangeDist:       300,
		LaneChangeMaxRetries:   5,
		LaneChangeCooldown:     5,
		ImpactSpeedRatio:       0.7,
		LaneCouplingDist:       50,
		LaneCouplingFactor:     0.01,
		QueueSpeedThresholdKMH: 15,
		QueueMinVehicles:       3,
		PhantomJamSpeedKMH:     30,
		PhantomJamDistM:        200,
		Weather:                "clear",
	}
}

func newTestEngine(seed int64, totalVehicles int) *Engine {
	rng := rand.New(rand.NewSource(seed))
	e := New(
		testConfig(),
		rng,
		nil,
		nil,
		spawner.Config{TotalVehicles: totalVehicles, BaseRate: 0.5},
		anomaly.Config{AnomalyRatio: 0.05, GlobalAnomalyStart: 10, VehicleSafeRunTime: 10, CoolingTicks: 50},
		svcgantry.DefaultNoiseConfig(),
		svcgantry.DefaultDetectorConfig(),
	)
	return e.WithRules(rules.New(nil, rules.DefaultRuleSet()))
}

func runToCompletion(t *testing.T, e *Engine, maxTicks int) []TickEvents {
	t.Helper()
	var events []TickEvents
	ctx := context.Background()
	for i := 0; i < maxTicks; i++ {
		ev, err := e.Step(ctx)
		require.NoError(t, err)
		events = append(events, ev)
		if ev.Done {
			break
		}
	}
	return events
}

func TestStepAdvancesClockAndSpawnsVehicles(t *testing.T) {
	e := newTestEngine(1, 20)
	events := runToCompletion(t, e, 400)
	require.NotEmpty(t, events)
	assert.Greater(t, e.totalSpawned, 0)
	assert.True(t, e.clock > 0)
}

func TestAllVehiclesEventuallyFinishOrRemainBounded(t *testing.T) {
	e := newTestEngine(2, 10)
	runToCompletion(t, e, 1000)
	assert.Equal(t, 10, e.totalSpawned, "spawner should exhaust its population")
	assert.LessOrEqual(t, e.ActiveCount(), 10)
}

func TestNoVehicleExceedsMaxAllowedSpeed(t *testing.T) {
	e := newTestEngine(3, 15)
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		ev, err := e.Step(ctx)
		require.NoError(t, err)
		for _, pt := range ev.Trajectories {
			assert.GreaterOrEqual(t, pt.SpeedKMH, 0.0)
		}
		for _, v := range e.active {
			assert.LessOrEqual(t, v.Speed, v.MaxAllowedSpeed())
		}
		if ev.Done {
			break
		}
	}
}

func TestDeterministicGivenSameSeed(t *testing.T) {
	e1 := newTestEngine(42, 30)
	e2 := newTestEngine(42, 30)

	ev1 := runToCompletion(t, e1, 600)
	ev2 := runToCompletion(t, e2, 600)

	require.Equal(t, len(ev1), len(ev2))
	assert.Equal(t, e1.clock, e2.clock)
	assert.Equal(t, e1.totalSpawned, e2.totalSpawned)
	assert.Equal(t, e1.totalFinished, e2.totalFinished)
	assert.Equal(t, len(e1.anomalyLog), len(e2.anomalyLog))
}

func TestArtifactStatisticsMatchEngineCounters(t *testing.T) {
	e := newTestEngine(7, 40)
	runToCompletion(t, e, 700)
	assert.NotPanics(t, func() {
		_ = e.Artifact()
	})
	artifact := e.Artifact()
	assert.Equal(t, artifact.Statistics.TotalSpawned, e.totalSpawned)
}

func TestArtifactCarriesGantryTransactions(t *testing.T) {
	e := newTestEngine(9, 60)
	runToCompletion(t, e, 900)
	artifact := e.Artifact()
	assert.NotNil(t, artifact.Transactions)
}
