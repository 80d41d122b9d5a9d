// Package alert holds the alert context snapshot and fired-event data
// model the rule engine consumes and produces.
package alert

// Severity is the fired-event severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is a rule firing, ready to append to the trace.
type Event struct {
	RuleName      string                 `json:"rule_name"`
	Severity      Severity               `json:"severity"`
	Timestamp     float64                `json:"timestamp"`
	GantryID      string                 `json:"gantry_id"`
	PositionKM    float64                `json:"position_km"`
	Description   string                 `json:"description"`
	Confidence    float64                `json:"confidence"`
	AffectedLanes []int                  `json:"affected_lanes"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// VehicleSnapshot is the per-vehicle view assembled into the context at a
// tick boundary.
type VehicleSnapshot struct {
	ID           uint64
	Position     float64
	Lane         int
	SpeedKMH     float64
	AnomalyType  int
	AnomalyState string
	Impacted     bool
}

// GantrySnapshot is the per-gantry rolling-statistics view assembled into
// the context at a tick boundary.
type GantrySnapshot struct {
	GantryID            string
	MeanTravelTime      float64
	StdTravelTime       float64
	MeanSpeed           float64
	StdSpeed            float64
	OutlierCount        int
	ConsecutiveOutliers int
	MissedReadRate      float64
	DuplicateReadRate   float64
	RecentZScore        float64
	RecentRatio         float64
}

// Context is the per-tick snapshot the rule engine evaluates conditions
// against. It is assembled by the engine and is conceptually immutable
// once handed to the rule engine.
type Context struct {
	Clock              float64
	Gantries           map[string]GantrySnapshot
	Vehicles           map[uint64]VehicleSnapshot
	QueueLengths       map[int]int // segment index -> queue length
	SegmentAvgSpeedKMH map[int]float64
	SegmentDensity     map[int]float64 // veh/km
	Weather            string
	RecentAlerts       []Event // bounded recent-history window
	MissedReadRate     float64
}
