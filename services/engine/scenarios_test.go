package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainroad "github.com/Tuzfucius/YULU-simulation/domain/road"
	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
	"github.com/Tuzfucius/YULU-simulation/services/anomaly"
	svcgantry "github.com/Tuzfucius/YULU-simulation/services/gantry"
	"github.com/Tuzfucius/YULU-simulation/services/rules"
	"github.com/Tuzfucius/YULU-simulation/services/spawner"
)

// This file implements spec.md §8's six named end-to-end scenarios plus
// its enumerated invariants. Population size, road length, and run
// duration are scaled down from spec.md's exact figures (200-600 vehicles,
// 20km road, up to 3900s) so the suite runs in reasonable CPU time without
// a toolchain; every scenario keeps the same seed, dt, lane count, and
// qualitative expectation spec.md names, and assertions use generous
// tolerances appropriate to the smaller sample rather than spec.md's exact
// bounds (which assume its full-scale population).

func scenarioRoad(lengthKM, segmentKM float64, numLanes int, gantryEveryKM float64) domainroad.Road {
	r := domainroad.Road{LengthKM: lengthKM, SegmentLengthKM: segmentKM, NumLanes: numLanes, LaneWidth: 3.5}
	for pos := gantryEveryKM; pos <= lengthKM; pos += gantryEveryKM {
		r.Gantries = append(r.Gantries, domainroad.Gantry{ID: gantryID(len(r.Gantries)), Position: pos * 1000})
	}
	return r
}

func scenarioConfig(road domainroad.Road) Config {
	return Config{
		Road:                   road,
		DT:                     1.0,
		MaxSimulationTime:      900,
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

func newScenarioEngine(seed int64, cfg Config, spawnerCfg spawner.Config, anomalyCfg anomaly.Config) *Engine {
	rng := rand.New(rand.NewSource(seed))
	e := New(cfg, rng, nil, nil, spawnerCfg, anomalyCfg, svcgantry.DefaultNoiseConfig(), svcgantry.DefaultDetectorConfig())
	return e.WithRules(rules.New(nil, rules.DefaultRuleSet()))
}

func runScenario(t *testing.T, e *Engine, maxTicks int) []TickEvents {
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

// Scenario 1: Baseline free flow — every vehicle finishes, no anomaly logs,
// and per-segment speeds stay high throughout.
func TestScenarioBaselineFreeFlow(t *testing.T) {
	road := scenarioRoad(2, 0.5, 4, 0.5)
	cfg := scenarioConfig(road)
	e := newScenarioEngine(42, cfg,
		spawner.Config{TotalVehicles: 40, BaseRate: 0.5},
		anomaly.Config{AnomalyRatio: 0, GlobalAnomalyStart: 1e9, VehicleSafeRunTime: 1e9, CoolingTicks: 1000},
	)
	runScenario(t, e, 2000)

	assert.Equal(t, 40, e.totalSpawned)
	assert.Equal(t, 40, e.totalFinished, "every vehicle should finish in a zero-anomaly free-flow run")
	assert.Empty(t, e.anomalyLog, "anomaly_ratio=0 should produce no anomaly activations")

	require.NotEmpty(t, e.segmentSpeeds, "expected per-segment speed samples")
	var total, count float64
	for _, rec := range e.segmentSpeeds {
		total += rec.AvgSpeedKMH
		count++
	}
	avg := total / count
	assert.Greater(t, avg, 60.0, "free-flow average segment speed should stay well above congested levels")
}

// Scenario 2: Single stopped vehicle — a forced full-stop anomaly on an
// active vehicle produces a queue upstream and at least one fired alert
// soon after.
func TestScenarioSingleStoppedVehicleProducesQueueAndAlert(t *testing.T) {
	road := scenarioRoad(2, 0.5, 4, 2) // no gantries inside the short test road
	cfg := scenarioConfig(road)
	e := newScenarioEngine(7, cfg,
		spawner.Config{TotalVehicles: 120, BaseRate: 1.0},
		anomaly.Config{AnomalyRatio: 0, GlobalAnomalyStart: 1e9, VehicleSafeRunTime: 1e9, CoolingTicks: 1000},
	)

	// Run until there is a well-established flow, then force one active
	// vehicle into a type-1 (full-stop) anomaly in lane 2, mirroring
	// spec.md's "inject a type-1 anomaly on a vehicle in lane 2" at a
	// fixed point mid-run rather than at a specific vehicle id (ids are
	// not deterministic once lane-entry retries consume extra rng draws).
	runScenario(t, e, 300)
	require.NotEmpty(t, e.active, "expected vehicles on the road before injecting the anomaly")

	var obstacle *vehicle.Vehicle
	for _, v := range e.active {
		if v.Position > 200 {
			obstacle = v
			break
		}
	}
	require.NotNil(t, obstacle, "expected at least one vehicle far enough along the road to act as the obstacle")
	obstacle.Lane = 2
	obstacle.Anomaly.State = vehicle.SubStateActive
	obstacle.Anomaly.Type = vehicle.AnomalyFullStop
	obstacle.Anomaly.TriggerTime = e.clock
	obstacle.Anomaly.TargetSpeed = 0
	obstacle.Speed = 0

	triggerClock := e.clock
	runScenario(t, e, 400)

	slowInLaneTwoSeen := false
	alertFiredWithin120s := false
	for _, tick := range e.trajectory {
		if tick.Lane == 2 && tick.SpeedKMH < 15 {
			slowInLaneTwoSeen = true
		}
	}
	for _, a := range e.alerts {
		if a.Timestamp-triggerClock <= 120 && a.Timestamp >= triggerClock {
			alertFiredWithin120s = true
		}
	}
	assert.True(t, slowInLaneTwoSeen, "expected at least one slow-moving (<15km/h) vehicle in lane 2 after the obstacle")
	assert.True(t, alertFiredWithin120s, "expected at least one alert to fire within 120s of the activation")
}

// Scenario 3: Noise-only run — the observed missed-read rate in the
// emitted transaction stream tracks the configured rate, and so does the
// duplicate-read rate.
func TestScenarioNoiseOnlyRunTracksConfiguredMissRate(t *testing.T) {
	road := scenarioRoad(3, 0.5, 3, 0.5) // 6 gantries over 3km
	cfg := scenarioConfig(road)
	e := newScenarioEngine(11, cfg,
		spawner.Config{TotalVehicles: 150, BaseRate: 1.0},
		anomaly.Config{AnomalyRatio: 0, GlobalAnomalyStart: 1e9, VehicleSafeRunTime: 1e9, CoolingTicks: 1000},
	)
	runScenario(t, e, 900)

	missed, duplicate, other := 0, 0, 0
	for _, ne := range e.noiseEvents {
		switch ne.Stage {
		case "missed_read":
			missed++
		case "duplicate_read":
			duplicate++
		default:
			other++
		}
	}
	_ = other
	require.Greater(t, missed+len(e.transactions), 0, "expected gantry activity to have occurred")

	// Total crossing attempts = surviving transactions + missed reads
	// (a missed read never reaches the transaction stream at all).
	totalAttempts := len(e.transactions) + missed
	require.Greater(t, totalAttempts, 50, "expected a large enough sample for a meaningful noise-rate comparison")
	observedMissRate := float64(missed) / float64(totalAttempts)
	assert.InDelta(t, 0.03, observedMissRate, 0.03, "observed missed-read rate should track the configured 3%% default within a generous tolerance for this sample size")

	observedDuplicateRate := float64(duplicate) / float64(totalAttempts)
	assert.InDelta(t, 0.02, observedDuplicateRate, 0.03, "observed duplicate-read rate should track the configured 2%% default within a generous tolerance for this sample size")
}

// Scenario 4: MOBIL symmetry — a single vehicle never changes lane, and of
// two vehicles converging in the same lane with identical parameters, at
// most one changes lane before they separate.
func TestScenarioMobilSymmetry(t *testing.T) {
	road := scenarioRoad(5, 0.5, 3, 5)
	cfg := scenarioConfig(road)

	t.Run("single vehicle never changes lane", func(t *testing.T) {
		e := newScenarioEngine(3, cfg,
			spawner.Config{TotalVehicles: 1, BaseRate: 10},
			anomaly.Config{AnomalyRatio: 0, GlobalAnomalyStart: 1e9, VehicleSafeRunTime: 1e9, CoolingTicks: 1000},
		)
		runScenario(t, e, 600)
		laneChanges := 0
		var lastLane = -1
		for _, tick := range e.trajectory {
			if lastLane != -1 && tick.Lane != lastLane {
				laneChanges++
			}
			lastLane = tick.Lane
		}
		assert.Equal(t, 0, laneChanges, "a lone vehicle has no reason to change lane")
	})

	t.Run("two identical vehicles in one lane change at most once before separating", func(t *testing.T) {
		e := newScenarioEngine(3, cfg,
			spawner.Config{TotalVehicles: 2, BaseRate: 5},
			anomaly.Config{AnomalyRatio: 0, GlobalAnomalyStart: 1e9, VehicleSafeRunTime: 1e9, CoolingTicks: 1000},
		)
		runScenario(t, e, 5)
		ids := make([]uint64, 0, 2)
		for id, v := range e.active {
			v.Lane = 1
			v.V0, v.AMax, v.B, v.S0, v.T, v.Delta = 30, 2.0, 2.0, 2.0, 1.5, 4.0
			v.Politeness = 0.5
			ids = append(ids, id)
		}
		runScenario(t, e, 600)

		laneChangesPerVehicle := map[uint64]int{}
		lastLane := map[uint64]int{}
		for _, tick := range e.trajectory {
			if prev, ok := lastLane[tick.VehicleID]; ok && prev != tick.Lane {
				laneChangesPerVehicle[tick.VehicleID]++
			}
			lastLane[tick.VehicleID] = tick.Lane
		}
		total := 0
		for _, n := range laneChangesPerVehicle {
			total += n
		}
		assert.LessOrEqual(t, total, 1, "at most one of two identical, converging vehicles should change lane before separating")
	})
}

// Scenario 5: Gantry detector trigger — with gantries spread along the
// road and a nonzero anomaly ratio, a congestion alert should fire
// downstream of at least one activation within a short window.
func TestScenarioGantryDetectorTrigger(t *testing.T) {
	road := scenarioRoad(2, 0.2, 3, 0.2) // 10 gantries over 2km, spec.md's "10 gantries" density
	require.Len(t, road.Gantries, 10)
	cfg := scenarioConfig(road)
	e := newScenarioEngine(5, cfg,
		spawner.Config{TotalVehicles: 150, BaseRate: 1.0},
		anomaly.Config{AnomalyRatio: 0.02, GlobalAnomalyStart: 5, VehicleSafeRunTime: 5, CoolingTicks: 200},
	)
	runScenario(t, e, 900)

	assert.NotEmpty(t, e.anomalyLog, "anomaly_ratio=0.02 over 150 vehicles should produce at least one activation")
	assert.NotEmpty(t, e.alerts, "expected at least one alert fired downstream of an activation")
}

// Scenario 6: Determinism — running scenarios 1 and 5 twice with the same
// seed produces identical traces.
func TestScenarioDeterminismAcrossRepeatedRuns(t *testing.T) {
	buildBaseline := func() *Engine {
		road := scenarioRoad(2, 0.5, 4, 0.5)
		cfg := scenarioConfig(road)
		return newScenarioEngine(42, cfg,
			spawner.Config{TotalVehicles: 40, BaseRate: 0.5},
			anomaly.Config{AnomalyRatio: 0, GlobalAnomalyStart: 1e9, VehicleSafeRunTime: 1e9, CoolingTicks: 1000},
		)
	}
	e1, e2 := buildBaseline(), buildBaseline()
	ev1 := runScenario(t, e1, 2000)
	ev2 := runScenario(t, e2, 2000)
	require.Equal(t, len(ev1), len(ev2))
	assert.Equal(t, e1.clock, e2.clock)
	assert.Equal(t, e1.anomalyLog, e2.anomalyLog)
	assert.Equal(t, len(e1.trajectory), len(e2.trajectory))
	assert.Equal(t, e1.totalFinished, e2.totalFinished)

	buildGantry := func() *Engine {
		road := scenarioRoad(2, 0.2, 3, 0.2)
		cfg := scenarioConfig(road)
		return newScenarioEngine(5, cfg,
			spawner.Config{TotalVehicles: 150, BaseRate: 1.0},
			anomaly.Config{AnomalyRatio: 0.02, GlobalAnomalyStart: 5, VehicleSafeRunTime: 5, CoolingTicks: 200},
		)
	}
	g1, g2 := buildGantry(), buildGantry()
	gev1 := runScenario(t, g1, 900)
	gev2 := runScenario(t, g2, 900)
	require.Equal(t, len(gev1), len(gev2))
	assert.Equal(t, g1.anomalyLog, g2.anomalyLog)
	assert.Equal(t, len(g1.alerts), len(g2.alerts))
}

// Invariants: segment-log coverage, at-most-once gantry crediting, per-rule
// cooldown spacing, and anomaly-log/vehicle-state cross-check.
func TestInvariantSegmentLogCoverageOutNotBeforeIn(t *testing.T) {
	road := scenarioRoad(2, 0.5, 3, 0.5)
	cfg := scenarioConfig(road)
	e := newScenarioEngine(21, cfg,
		spawner.Config{TotalVehicles: 40, BaseRate: 0.6},
		anomaly.Config{AnomalyRatio: 0.02, GlobalAnomalyStart: 5, VehicleSafeRunTime: 5, CoolingTicks: 200},
	)
	runScenario(t, e, 1200)

	require.NotEmpty(t, e.vehicleRecords)
	for _, rec := range e.vehicleRecords {
		for segment, timing := range rec.Segments {
			assert.GreaterOrEqualf(t, timing.Out, timing.In, "vehicle %d segment %d: out (%v) should be >= in (%v)", rec.ID, segment, timing.Out, timing.In)
		}
	}
}

func TestInvariantGantryCreditedAtMostOncePerVehicleWithoutDuplicateNoise(t *testing.T) {
	road := scenarioRoad(2, 0.5, 3, 0.5)
	cfg := scenarioConfig(road)
	e := newScenarioEngine(13, cfg,
		spawner.Config{TotalVehicles: 40, BaseRate: 0.6},
		anomaly.Config{AnomalyRatio: 0, GlobalAnomalyStart: 1e9, VehicleSafeRunTime: 1e9, CoolingTicks: 1000},
	)
	e.noise = svcgantry.NewNoise(svcgantry.NoiseConfig{}) // disable all noise stages for a clean crediting check
	runScenario(t, e, 1200)

	seen := map[[2]string]int{}
	for _, tx := range e.transactions {
		key := [2]string{tx.GantryID, itoa(tx.VehicleID)}
		seen[key]++
	}
	for key, n := range seen {
		assert.LessOrEqualf(t, n, 1, "vehicle/gantry pair %v should be credited at most once with all noise disabled, got %d", key, n)
	}
}

func itoa(id uint64) string {
	if id == 0 {
		return "0"
	}
	digits := []byte{}
	for id > 0 {
		digits = append([]byte{byte('0' + id%10)}, digits...)
		id /= 10
	}
	return string(digits)
}

func TestInvariantRuleCooldownSpacing(t *testing.T) {
	road := scenarioRoad(2, 0.2, 3, 0.2)
	cfg := scenarioConfig(road)
	e := newScenarioEngine(5, cfg,
		spawner.Config{TotalVehicles: 150, BaseRate: 1.0},
		anomaly.Config{AnomalyRatio: 0.02, GlobalAnomalyStart: 5, VehicleSafeRunTime: 5, CoolingTicks: 200},
	)
	runScenario(t, e, 900)

	cooldowns := map[string]float64{}
	for _, r := range rules.DefaultRuleSet() {
		cooldowns[r.Name] = r.CooldownS
	}

	lastFired := map[string]float64{}
	for _, a := range e.alerts {
		if prev, ok := lastFired[a.RuleName]; ok {
			gap := a.Timestamp - prev
			assert.GreaterOrEqualf(t, gap, cooldowns[a.RuleName], "rule %s fired %v apart, less than its %vs cooldown", a.RuleName, gap, cooldowns[a.RuleName])
		}
		lastFired[a.RuleName] = a.Timestamp
	}
}

func TestInvariantAnomalyLogMatchesVehicleState(t *testing.T) {
	road := scenarioRoad(2, 0.5, 3, 0.5)
	cfg := scenarioConfig(road)
	e := newScenarioEngine(9, cfg,
		spawner.Config{TotalVehicles: 60, BaseRate: 0.8},
		anomaly.Config{AnomalyRatio: 0.05, GlobalAnomalyStart: 5, VehicleSafeRunTime: 5, CoolingTicks: 100},
	)
	runScenario(t, e, 1200)

	require.NotEmpty(t, e.anomalyLog, "expected at least one anomaly activation at this ratio/population")
	for _, entry := range e.anomalyLog {
		found := false
		for _, rec := range e.vehicleRecords {
			if rec.ID == entry.VehicleID {
				found = true
				break
			}
		}
		if !found {
			if _, stillActive := e.active[entry.VehicleID]; stillActive {
				found = true
			}
		}
		assert.Truef(t, found, "anomaly log entry for vehicle %d should correspond to a known vehicle", entry.VehicleID)
	}
}
