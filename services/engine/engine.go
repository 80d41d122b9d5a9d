package engine

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
	domaingantry "github.com/Tuzfucius/YULU-simulation/domain/gantry"
	domainroad "github.com/Tuzfucius/YULU-simulation/domain/road"
	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
	"github.com/Tuzfucius/YULU-simulation/infrastructure/metrics"
	cfgpkg "github.com/Tuzfucius/YULU-simulation/pkg/config"
	"github.com/Tuzfucius/YULU-simulation/services/anomaly"
	"github.com/Tuzfucius/YULU-simulation/services/environment"
	svcgantry "github.com/Tuzfucius/YULU-simulation/services/gantry"
	"github.com/Tuzfucius/YULU-simulation/services/incident"
	"github.com/Tuzfucius/YULU-simulation/services/rules"
	"github.com/Tuzfucius/YULU-simulation/services/spatialindex"
	"github.com/Tuzfucius/YULU-simulation/services/spawner"
)

// Config is the engine's resolved geometry and behavioral tuning, a flat
// projection of pkg/config.Config's nested sections onto the values the
// tick loop actually reads.
type Config struct {
	Road domainroad.Road

	DT                float64
	MaxSimulationTime float64

	CellSize      float64
	NeighborCells int

	LaneChangeGap           float64
	ForcedChangeDist        float64
	LaneChangeMaxRetries    int
	LaneChangeRetryInterval float64
	LaneChangeCooldown      float64

	ImpactSpeedRatio   float64
	LaneCouplingDist   float64
	LaneCouplingFactor float64

	QueueSpeedThresholdKMH float64
	QueueMinVehicles       int
	PhantomJamSpeedKMH     float64
	PhantomJamDistM        float64

	Weather string
}

// FromAppConfig projects pkg/config.Config onto an engine Config, building
// the road geometry (defaulting evenly spaced gantries every 4 segments
// when the config does not pin exact positions).
func FromAppConfig(c *cfgpkg.Config) Config {
	road := domainroad.Road{
		LengthKM:        c.Road.LengthKM,
		SegmentLengthKM: c.Road.SegmentLengthKM,
		NumLanes:        c.Road.NumLanes,
		LaneWidth:       c.Road.LaneWidth,
	}
	if len(c.Road.GantryPosKM) > 0 {
		for i, km := range c.Road.GantryPosKM {
			road.Gantries = append(road.Gantries, domainroad.Gantry{
				ID:       gantryID(i),
				Position: km * 1000,
			})
		}
	} else {
		segments := road.NumSegments()
		for i := 0; i < segments; i += 4 {
			road.Gantries = append(road.Gantries, domainroad.Gantry{
				ID:       gantryID(len(road.Gantries)),
				Position: float64(i) * road.SegmentLengthM(),
			})
		}
	}

	return Config{
		Road:                    road,
		DT:                      c.Population.SimulationDT,
		MaxSimulationTime:       c.Population.MaxSimulationTime,
		CellSize:                100,
		NeighborCells:           3,
		LaneChangeGap:           c.LaneChange.LaneChangeGap,
		ForcedChangeDist:        c.LaneChange.ForcedChangeDist,
		LaneChangeMaxRetries:    c.LaneChange.MaxRetries,
		LaneChangeRetryInterval: c.LaneChange.RetryIntervalSeconds,
		LaneChangeCooldown:      c.LaneChange.CooldownSeconds,
		ImpactSpeedRatio:        c.Impact.ImpactSpeedRatio,
		LaneCouplingDist:        c.Impact.LaneCouplingDist,
		LaneCouplingFactor:      c.Impact.LaneCouplingFactor,
		QueueSpeedThresholdKMH:  c.Congestion.QueueSpeedThresholdKMH,
		QueueMinVehicles:        c.Congestion.QueueMinVehicles,
		PhantomJamSpeedKMH:      c.Congestion.PhantomJamSpeedKMH,
		PhantomJamDistM:         c.Congestion.PhantomJamDistM,
		Weather:                 "clear",
	}
}

func gantryID(i int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if i < len(letters) {
		return "G" + string(letters[i])
	}
	return "G" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}

// Engine owns the full simulation state and advances it one tick at a
// time. It is not safe for concurrent use; spec.md §5 makes Step the sole,
// non-reentrant unit of progress.
type Engine struct {
	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Metrics
	rng     *rand.Rand
	weather environment.Effect

	clock float64
	tick  int

	nextID uint64
	active map[uint64]*vehicle.Vehicle

	index          *spatialindex.Index
	spawner        *spawner.Spawner
	anomalyMachine *anomaly.Machine
	noise          *svcgantry.Noise
	detector       *svcgantry.Detector
	rules          *rules.Engine
	incidents      *incident.Manager

	recentAlerts []domainalert.Event

	totalSpawned  int
	totalFinished int

	anomalyLog     []domaingantry.AnomalyLogEntry
	trajectory     []TrajectoryPoint
	segmentSpeeds  []SegmentSpeedRecord
	transactions   []domaingantry.Transaction
	noiseEvents    []domaingantry.NoiseEvent
	queueEvents    []QueueEvent
	phantomEvents  []PhantomJamEvent
	alerts         []domainalert.Event
	vehicleRecords []VehicleRecord

	stopped bool
}

// New constructs an Engine ready to Step from clock zero.
func New(
	cfg Config,
	rng *rand.Rand,
	log *logrus.Entry,
	m *metrics.Metrics,
	spawnerCfg spawner.Config,
	anomalyCfg anomaly.Config,
	noiseCfg svcgantry.NoiseConfig,
	detectorCfg svcgantry.DetectorConfig,
) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	anomalyCfg.DT = cfg.DT

	e := &Engine{
		cfg:            cfg,
		log:            log,
		metrics:        m,
		rng:            rng,
		weather:        environment.EffectFor(environment.WeatherType(cfg.Weather)),
		active:         make(map[uint64]*vehicle.Vehicle),
		index:          spatialindex.New(cfg.CellSize, cfg.Road.NumLanes),
		spawner:        spawner.New(spawnerCfg, rng),
		anomalyMachine: anomaly.New(anomalyCfg),
		noise:          svcgantry.NewNoise(noiseCfg),
		detector:       svcgantry.NewDetector(detectorCfg),
	}
	return e
}

// WithRules attaches a prebuilt rule engine. Kept separate from New so
// callers can assemble domain/rule.Rule values (which need the engine's
// own condition implementations) after construction.
func (e *Engine) WithRules(re *rules.Engine) *Engine {
	e.rules = re
	return e
}

// WithIncidents attaches an incident/construction-zone manager (spec.md §9's
// incident-model supplement, grounded on the original implementation's
// IncidentManager). A nil manager leaves incident/construction effects
// disabled, matching the behavior before this builder was introduced.
func (e *Engine) WithIncidents(m *incident.Manager) *Engine {
	e.incidents = m
	return e
}

// Clock returns the current simulation time.
func (e *Engine) Clock() float64 { return e.clock }

// Done reports whether the run has reached its stop condition: either the
// clock has passed MaxSimulationTime, or the spawner is exhausted and the
// active set is empty.
func (e *Engine) Done() bool {
	return e.stopped
}

// ActiveCount returns the number of vehicles currently on the road.
func (e *Engine) ActiveCount() int { return len(e.active) }

// Road exposes the resolved road geometry, for callers (the outer shell's
// streaming interface) that need lane width to derive visual coordinates.
func (e *Engine) Road() domainroad.Road { return e.cfg.Road }

// Stats returns the cumulative counters without copying any trace slices,
// cheap enough to call every tick for a live status snapshot.
func (e *Engine) Stats() Statistics {
	return Statistics{
		TotalSpawned:      e.totalSpawned,
		TotalFinished:     e.totalFinished,
		TotalAnomalies:    len(e.anomalyLog),
		TotalAlerts:       len(e.alerts),
		TotalTransactions: len(e.transactions),
		TotalNoiseEvents:  len(e.noiseEvents),
		TicksElapsed:      e.tick,
		FinalClock:        e.clock,
	}
}

// Step advances the simulation by exactly one DT, per spec.md §4.1's
// ten-step per-tick algorithm. It is the engine's only unit of progress:
// callers drive a run by calling Step in a loop until Done() or ctx is
// cancelled.
func (e *Engine) Step(ctx context.Context) (TickEvents, error) {
	start := time.Now()
	events := TickEvents{Clock: e.clock}

	if e.stopped {
		events.Done = true
		return events, nil
	}
	if err := ctx.Err(); err != nil {
		return events, err
	}

	// Step 1: admit spawns.
	spawnedIDs := e.admitSpawns()
	e.totalSpawned += len(spawnedIDs)

	// Step 2: materialize active set, sorted by position, and rebuild the
	// spatial index against it.
	ordered := e.orderedActive()
	e.rebuildIndex(ordered)
	if e.metrics != nil {
		e.metrics.RecordSpatialIndexRebuild()
	}

	// Step 3: identify blocked lanes from active full-stop anomalies, plus
	// any construction zones/incidents the caller wired in.
	blocked := e.blockedLanes(ordered)
	if e.incidents != nil {
		e.incidents.Update(e.clock)
		e.incidents.CheckChainCollision(ordered, e.clock)
		for lane, positions := range e.incidents.GetBlockedLanes(e.clock) {
			blocked[lane] = append(blocked[lane], positions...)
		}
	}

	// Step 4: per-vehicle update in position order.
	for _, v := range ordered {
		activated := e.anomalyMachine.Tick(v, e.clock, e.rng)
		if activated {
			entry := domaingantry.AnomalyLogEntry{
				VehicleID:    v.ID,
				AnomalyType:  int(v.Anomaly.Type),
				TriggerTime:  e.clock,
				PositionKM:   v.Position / 1000,
				Segment:      e.cfg.Road.SegmentIndex(v.Position),
				MinSpeedSeen: v.Anomaly.MinSpeedSeen,
			}
			e.anomalyLog = append(e.anomalyLog, entry)
			events.AnomalyActivations = append(events.AnomalyActivations, entry)
			if e.metrics != nil {
				e.metrics.RecordAnomaly(anomalyTypeName(v.Anomaly.Type))
			}
			e.log.WithFields(logrus.Fields{
				"vehicle": v.ID, "type": anomalyTypeName(v.Anomaly.Type), "clock": e.clock,
			}).Debug("anomaly activated")
		}

		segment := e.cfg.Road.SegmentIndex(v.Position)
		v.RecordSegmentEntry(e.clock, segment)

		e.updateVehicle(v, blocked)

		v.RecordSegmentExit(e.clock, e.cfg.Road.SegmentIndex(v.Position))
		e.index.Update(spatialIndexPosition(v))
	}

	// Step 5: gantry crossings.
	e.processCrossings(ordered, &events)

	// Step 6: append trace.
	e.appendTrajectory(ordered, &events)
	e.appendSegmentSpeeds(ordered, &events)

	// Step 7: queue/phantom-jam detection.
	e.detectQueuesAndJams(ordered, &events)

	// Step 8: assemble alert context, invoke rule engine.
	if e.rules != nil {
		ctxSnap := e.assembleAlertContext(ordered)
		fired := e.rules.Evaluate(ctxSnap)
		for _, ev := range fired {
			e.alerts = append(e.alerts, ev)
			e.recordRecentAlert(ev)
			if e.metrics != nil {
				e.metrics.RecordAlert(ev.RuleName, string(ev.Severity))
			}
		}
		events.Alerts = fired
	}

	// Step 9: finalize.
	e.finalize(ordered, &events)

	// Step 10: advance clock.
	e.clock += e.cfg.DT
	e.tick++
	if e.clock > e.cfg.MaxSimulationTime || (e.spawner.Done() && len(e.active) == 0) {
		e.stopped = true
		events.Done = true
	}

	if e.metrics != nil {
		e.metrics.RecordTick(time.Since(start), len(e.active), e.totalFinished)
	}

	return events, nil
}

func (e *Engine) orderedActive() []*vehicle.Vehicle {
	out := make([]*vehicle.Vehicle, 0, len(e.active))
	for _, v := range e.active {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (e *Engine) rebuildIndex(ordered []*vehicle.Vehicle) {
	positions := make([]spatialindex.Position, 0, len(ordered))
	for _, v := range ordered {
		positions = append(positions, spatialIndexPosition(v))
	}
	e.index.Rebuild(positions)
}

func spatialIndexPosition(v *vehicle.Vehicle) spatialindex.Position {
	return spatialindex.Position{ID: v.ID, Lane: v.Lane, Position: v.Position}
}

// blockedLanes reports, per lane, the positions of every vehicle currently
// holding an active full-stop anomaly, per spec.md §4.1 step 2.
func (e *Engine) blockedLanes(ordered []*vehicle.Vehicle) map[int][]float64 {
	out := make(map[int][]float64)
	for _, v := range ordered {
		if v.IsAnomalyActive(vehicle.AnomalyFullStop) {
			out[v.Lane] = append(out[v.Lane], v.Position)
		}
	}
	return out
}

func anomalyTypeName(t vehicle.AnomalyType) string {
	switch t {
	case vehicle.AnomalyFullStop:
		return "full_stop"
	case vehicle.AnomalyShortFluctuation:
		return "short_fluctuation"
	case vehicle.AnomalyLongFluctuation:
		return "long_fluctuation"
	default:
		return "none"
	}
}

func (e *Engine) recordRecentAlert(ev domainalert.Event) {
	e.recentAlerts = append(e.recentAlerts, ev)
	if len(e.recentAlerts) > 50 {
		e.recentAlerts = e.recentAlerts[len(e.recentAlerts)-50:]
	}
}

// Artifact builds the full run artifact from everything accumulated so
// far, for persistence or inspection at any point during or after a run.
func (e *Engine) Artifact() RunArtifact {
	return RunArtifact{
		Statistics:          e.Stats(),
		AnomalyLogs:         e.anomalyLog,
		TrajectoryData:      e.trajectory,
		SegmentSpeedHistory: e.segmentSpeeds,
		QueueEvents:         e.queueEvents,
		PhantomJamEvents:    e.phantomEvents,
		VehicleRecords:      e.vehicleRecords,
		Transactions:        e.transactions,
		NoiseEvents:         e.noiseEvents,
		Alerts:              e.alerts,
	}
}
