// Package engine implements the fixed-dt simulation tick loop of spec.md
// §4.1: the orchestrator that owns every vehicle, the spatial index, the
// spawner, the noise/detector pipeline, and the rule engine, and exposes
// a single non-blocking Step as its unit of progress (spec.md §5).
package engine

import (
	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
	domaingantry "github.com/Tuzfucius/YULU-simulation/domain/gantry"
	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
)

// TrajectoryPoint is one per-vehicle trace record appended each tick.
type TrajectoryPoint struct {
	VehicleID     uint64  `json:"vehicle_id"`
	Position      float64 `json:"position_m"`
	Clock         float64 `json:"clock"`
	Lane          int     `json:"lane"`
	SpeedKMH      float64 `json:"speed_kmh"`
	AnomalyType   int     `json:"anomaly_type"`
	AnomalyState  string  `json:"anomaly_state"`
	VehicleType   string  `json:"vehicle_type"`
	DriverStyle   string  `json:"driver_style"`
	Impacted      bool    `json:"impacted"`
	LateralOffset float64 `json:"lateral_offset"`
	Length        float64 `json:"length"`
}

// SegmentSpeedRecord is one per-segment flow aggregate appended each tick
// for every non-empty segment.
type SegmentSpeedRecord struct {
	Clock       float64 `json:"clock"`
	Segment     int     `json:"segment"`
	AvgSpeedKMH float64 `json:"avg_speed_kmh"`
	Density     float64 `json:"density"` // veh/km
	Flow        float64 `json:"flow"`    // speed(km/h) * density(veh/km)
}

// QueueEvent records a segment/lane queue formation per spec.md §4.1
// step 7 ("a segment with >=3 vehicles all below 15 km/h").
type QueueEvent struct {
	Clock   float64 `json:"clock"`
	Segment int     `json:"segment"`
	Lane    int     `json:"lane"`
	Count   int     `json:"count"`
}

// PhantomJamEvent records a lone slow vehicle with no visible cause
// ahead, per spec.md §4.1 step 7.
type PhantomJamEvent struct {
	Clock     float64 `json:"clock"`
	VehicleID uint64  `json:"vehicle_id"`
	Segment   int     `json:"segment"`
	Lane      int     `json:"lane"`
	SpeedKMH  float64 `json:"speed_kmh"`
}

// VehicleRecord summarizes a finished vehicle for the run artifact.
type VehicleRecord struct {
	ID          uint64                        `json:"id"`
	Type        string                        `json:"type"`
	DriverStyle string                        `json:"driver_style"`
	SpawnTime   float64                       `json:"spawn_time"`
	ExitTime    float64                       `json:"exit_time"`
	Segments    map[int]vehicle.SegmentTiming `json:"segments"`
	Safety      vehicle.SafetyCounters        `json:"safety"`
}

// TickEvents is everything produced during a single Step call, in the
// ordering contract of spec.md §5: anomaly logs, then trajectory points,
// then gantry transactions, then rule-engine events.
type TickEvents struct {
	Clock              float64                        `json:"clock"`
	AnomalyActivations []domaingantry.AnomalyLogEntry `json:"anomaly_activations"`
	Trajectories       []TrajectoryPoint              `json:"trajectories"`
	SegmentSpeeds      []SegmentSpeedRecord           `json:"segment_speeds"`
	Transactions       []domaingantry.Transaction     `json:"transactions"`
	NoiseEvents        []domaingantry.NoiseEvent      `json:"noise_events"`
	QueueEvents        []QueueEvent                   `json:"queue_events"`
	PhantomJamEvents   []PhantomJamEvent              `json:"phantom_jam_events"`
	Alerts             []domainalert.Event            `json:"alerts"`
	Finished           []uint64                       `json:"finished"`
	Done               bool                           `json:"done"`
}

// Statistics summarizes a completed or in-progress run.
type Statistics struct {
	TotalSpawned      int     `json:"total_spawned"`
	TotalFinished     int     `json:"total_finished"`
	TotalAnomalies    int     `json:"total_anomalies"`
	TotalAlerts       int     `json:"total_alerts"`
	TotalTransactions int     `json:"total_transactions"`
	TotalNoiseEvents  int     `json:"total_noise_events"`
	TicksElapsed      int     `json:"ticks_elapsed"`
	FinalClock        float64 `json:"final_clock"`
}

// RunArtifact is the single document a completed run produces to
// persistent storage, per spec.md §6 "Run artifact". Field names are a
// contract for downstream tools (evaluator, feature extractor).
type RunArtifact struct {
	Statistics          Statistics                     `json:"statistics"`
	AnomalyLogs         []domaingantry.AnomalyLogEntry `json:"anomaly_logs"`
	TrajectoryData      []TrajectoryPoint              `json:"trajectory_data"`
	SegmentSpeedHistory []SegmentSpeedRecord           `json:"segment_speed_history"`
	QueueEvents         []QueueEvent                   `json:"queue_events"`
	PhantomJamEvents    []PhantomJamEvent              `json:"phantom_jam_events"`
	VehicleRecords      []VehicleRecord                `json:"vehicle_records"`
	Transactions        []domaingantry.Transaction     `json:"transactions"`
	NoiseEvents         []domaingantry.NoiseEvent      `json:"noise_events"`
	Alerts              []domainalert.Event            `json:"alerts"`
}
