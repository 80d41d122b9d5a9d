// Package incident models standing road hazards beyond the three
// anomaly-state vehicle misbehaviors of services/anomaly: multi-vehicle
// chain collisions, gradual breakdowns, and construction-zone speed
// restrictions with a tapered lane-closure approach. Grounded on the
// original implementation's incident/construction-zone model (spec.md §9's
// incident-model supplement).
package incident

import (
	"sort"

	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
)

// Type classifies a standing hazard.
type Type string

const (
	TypeSingleStop       Type = "single_stop"
	TypeChainCollision   Type = "chain_collision"
	TypeBreakdownGradual Type = "breakdown"
	TypeConstruction     Type = "construction"
)

// Incident is one active or cleared hazard: a stopped vehicle, a chain
// collision, or (via ConstructionZone below) a standing work zone.
type Incident struct {
	ID              int
	Type            Type
	PositionM       float64
	Lane            int // -1 for a cross-lane incident
	AffectedLanes   []int
	StartTime       float64
	Duration        float64
	SpeedLimitMS    float64 // 0 = fully blocked
	WarningDistance float64
	Cleared         bool
	VehicleIDs      []uint64
}

// EndTime is the clock value at which the incident clears itself.
func (i Incident) EndTime() float64 { return i.StartTime + i.Duration }

// IsActive reports whether the incident has not yet been cleared.
func (i Incident) IsActive() bool { return !i.Cleared }

// ConstructionZone is a standing work zone with a tapered lane-closure
// approach: drivers should merge out of closed lanes starting at
// TaperStart, well before StartPositionM.
type ConstructionZone struct {
	ID             int
	StartPositionM float64
	EndPositionM   float64
	ClosedLanes    []int
	SpeedLimitMS   float64
	StartTime      float64
	EndTime        float64
	TaperLengthM   float64
}

// WarningStart is the upstream boundary of the advance-warning zone.
func (z ConstructionZone) WarningStart() float64 {
	return z.StartPositionM - z.TaperLengthM - 500
}

// TaperStart is the upstream boundary of the merge-guidance zone.
func (z ConstructionZone) TaperStart() float64 {
	return z.StartPositionM - z.TaperLengthM
}

// IsActive reports whether the zone is in effect at the given clock.
func (z ConstructionZone) IsActive(clock float64) bool {
	return z.StartTime <= clock && clock <= z.EndTime
}

// IsInZone reports whether a position falls within the work zone itself.
func (z ConstructionZone) IsInZone(positionM float64) bool {
	return z.StartPositionM <= positionM && positionM <= z.EndPositionM
}

// IsInWarningArea reports whether a position is in the advance-warning zone.
func (z ConstructionZone) IsInWarningArea(positionM float64) bool {
	return z.WarningStart() <= positionM && positionM < z.StartPositionM
}

// IsInTaperArea reports whether a position is in the merge-guidance zone.
func (z ConstructionZone) IsInTaperArea(positionM float64) bool {
	return z.TaperStart() <= positionM && positionM < z.StartPositionM
}

// Manager owns every incident and construction zone in a run.
type Manager struct {
	numLanes       int
	roadLengthM    float64
	incidents      []*Incident
	zones          []*ConstructionZone
	nextIncidentID int
	nextZoneID     int
}

// NewManager constructs an empty Manager for a road of the given lane count
// and length.
func NewManager(numLanes int, roadLengthM float64) *Manager {
	return &Manager{numLanes: numLanes, roadLengthM: roadLengthM}
}

// AddConstructionZone registers a standing work zone. ClosedLanes always
// report a limit of 0 inside the zone; speedLimitKMH applies to the open
// lanes, so a value of 0 blocks them as well.
func (m *Manager) AddConstructionZone(startM, endM float64, closedLanes []int, speedLimitKMH, startTime, endTime, taperLength float64) *ConstructionZone {
	zone := &ConstructionZone{
		ID:             m.nextZoneID,
		StartPositionM: startM,
		EndPositionM:   endM,
		ClosedLanes:    closedLanes,
		SpeedLimitMS:   speedLimitKMH / 3.6,
		StartTime:      startTime,
		EndTime:        endTime,
		TaperLengthM:   taperLength,
	}
	m.zones = append(m.zones, zone)
	m.nextZoneID++
	return zone
}

// CreateBreakdown records a single-vehicle breakdown (gradual or immediate)
// at the given position/lane, clearing itself after clearTime seconds.
func (m *Manager) CreateBreakdown(vehicleID uint64, positionM float64, lane int, currentTime float64, gradual bool, clearTime float64) *Incident {
	t := TypeSingleStop
	if gradual {
		t = TypeBreakdownGradual
	}
	inc := &Incident{
		ID:              m.nextIncidentID,
		Type:            t,
		PositionM:       positionM,
		Lane:            lane,
		AffectedLanes:   []int{lane},
		StartTime:       currentTime,
		Duration:        clearTime,
		SpeedLimitMS:    0,
		WarningDistance: 500,
		VehicleIDs:      []uint64{vehicleID},
	}
	m.incidents = append(m.incidents, inc)
	m.nextIncidentID++
	return inc
}

// CreateChainCollision records a multi-vehicle rear-end chain collision
// across the given lanes, clearing itself after clearTime seconds.
func (m *Manager) CreateChainCollision(vehicleIDs []uint64, positionM float64, lanes []int, currentTime, clearTime float64) *Incident {
	lane := -1
	if len(lanes) > 0 {
		lane = lanes[0]
	}
	inc := &Incident{
		ID:              m.nextIncidentID,
		Type:            TypeChainCollision,
		PositionM:       positionM,
		Lane:            lane,
		AffectedLanes:   lanes,
		StartTime:       currentTime,
		Duration:        clearTime,
		SpeedLimitMS:    0,
		WarningDistance: 800,
		VehicleIDs:      vehicleIDs,
	}
	m.incidents = append(m.incidents, inc)
	m.nextIncidentID++
	return inc
}

// CheckChainCollision scans active vehicles for a tight, fast-closing
// cluster of 3+ cars in one lane and, if found, records a chain collision
// for them. Mirrors the original model's per-lane sorted-sweep detector:
// a follower/leader pair counts toward a chain when the follower is
// closing fast (speedDiff > minSpeedDiff) and the gap is inside
// speedDiff*ttcThreshold.
func (m *Manager) CheckChainCollision(vehicles []*vehicle.Vehicle, currentTime float64) *Incident {
	return m.checkChainCollision(vehicles, currentTime, 0.5, 10.0)
}

func (m *Manager) checkChainCollision(vehicles []*vehicle.Vehicle, currentTime, ttcThreshold, minSpeedDiff float64) *Incident {
	byLane := make(map[int][]*vehicle.Vehicle)
	for _, v := range vehicles {
		if v.Completed {
			continue
		}
		byLane[v.Lane] = append(byLane[v.Lane], v)
	}

	for lane, group := range byLane {
		sort.Slice(group, func(i, j int) bool { return group[i].Position < group[j].Position })

		var chain []uint64
		for i := 0; i < len(group)-1; i++ {
			follower, leader := group[i], group[i+1]
			dist := leader.Position - follower.Position
			speedDiff := follower.Speed - leader.Speed

			if speedDiff > minSpeedDiff && dist < speedDiff*ttcThreshold {
				if len(chain) == 0 {
					chain = append(chain, follower.ID)
				}
				chain = append(chain, leader.ID)
				continue
			}
			if len(chain) >= 3 {
				return m.CreateChainCollision(chain, group[i].Position, []int{lane}, currentTime, 600)
			}
			chain = nil
		}
		if len(chain) >= 3 {
			return m.CreateChainCollision(chain, group[len(group)-1].Position, []int{lane}, currentTime, 600)
		}
	}
	return nil
}

// Update clears any incident whose duration has elapsed.
func (m *Manager) Update(currentTime float64) {
	for _, inc := range m.incidents {
		if inc.IsActive() && currentTime >= inc.EndTime() {
			inc.Cleared = true
		}
	}
}

// ActiveIncidents returns every incident currently in effect.
func (m *Manager) ActiveIncidents(currentTime float64) []*Incident {
	var out []*Incident
	for _, inc := range m.incidents {
		if inc.IsActive() && inc.StartTime <= currentTime {
			out = append(out, inc)
		}
	}
	return out
}

// ActiveConstructionZones returns every construction zone currently in
// effect.
func (m *Manager) ActiveConstructionZones(currentTime float64) []*ConstructionZone {
	var out []*ConstructionZone
	for _, z := range m.zones {
		if z.IsActive(currentTime) {
			out = append(out, z)
		}
	}
	return out
}

// GetBlockedLanes returns, per lane, every position currently blocked by an
// active incident or construction zone, in the same shape the engine's
// anomaly-derived blocked-lane map uses so the two merge trivially.
func (m *Manager) GetBlockedLanes(currentTime float64) map[int][]float64 {
	blocked := make(map[int][]float64)

	for _, inc := range m.ActiveIncidents(currentTime) {
		for _, lane := range inc.AffectedLanes {
			blocked[lane] = append(blocked[lane], inc.PositionM)
		}
	}

	for _, z := range m.ActiveConstructionZones(currentTime) {
		for _, lane := range z.ClosedLanes {
			for pos := z.StartPositionM; pos <= z.EndPositionM; pos += 100 {
				blocked[lane] = append(blocked[lane], pos)
			}
		}
	}

	return blocked
}

// GetSpeedLimitAt returns the tightest speed limit (m/s) in effect at a
// position/lane/time from either a construction zone or a nearby incident,
// or ok=false if nothing restricts it.
func (m *Manager) GetSpeedLimitAt(positionM float64, lane int, currentTime float64) (limit float64, ok bool) {
	hasLimit := false

	for _, z := range m.ActiveConstructionZones(currentTime) {
		if z.IsInZone(positionM) {
			for _, l := range z.ClosedLanes {
				if l == lane {
					return 0, true
				}
			}
			if !hasLimit || z.SpeedLimitMS < limit {
				limit, hasLimit = z.SpeedLimitMS, true
			}
		} else if z.IsInWarningArea(positionM) {
			warnLimit := z.SpeedLimitMS * 1.5
			if !hasLimit || warnLimit < limit {
				limit, hasLimit = warnLimit, true
			}
		}
	}

	for _, inc := range m.ActiveIncidents(currentTime) {
		for _, l := range inc.AffectedLanes {
			if l != lane {
				continue
			}
			dist := positionM - inc.PositionM
			if dist < 0 {
				dist = -dist
			}
			if dist < 50 {
				return 0, true
			}
			if dist < inc.WarningDistance {
				ratio := dist / inc.WarningDistance
				l := ratio * 30 / 3.6 // 30km/h at the warning edge, falling to 0 as distance shrinks to zero
				if !hasLimit || l < limit {
					limit, hasLimit = l, true
				}
			}
		}
	}

	return limit, hasLimit
}

// ShouldVehicleChangeLane reports whether a vehicle at positionM/lane
// should merge out because of an upcoming construction taper or incident
// warning zone.
func (m *Manager) ShouldVehicleChangeLane(positionM float64, lane int, currentTime float64) bool {
	for _, z := range m.ActiveConstructionZones(currentTime) {
		for _, l := range z.ClosedLanes {
			if l == lane && (z.IsInTaperArea(positionM) || z.IsInZone(positionM)) {
				return true
			}
		}
	}
	for _, inc := range m.ActiveIncidents(currentTime) {
		for _, l := range inc.AffectedLanes {
			if l != lane {
				continue
			}
			dist := positionM - inc.PositionM
			if dist > -inc.WarningDistance && dist < 0 {
				return true
			}
		}
	}
	return false
}

// Summary reports a counts-by-type snapshot, mirroring the original
// implementation's get_summary().
type Summary struct {
	TotalIncidents     int
	ActiveIncidents    int
	ClearedIncidents   int
	ConstructionZones  int
	IncidentTypeCounts map[Type]int
}

// GetSummary builds the current Summary.
func (m *Manager) GetSummary() Summary {
	s := Summary{
		ConstructionZones:  len(m.zones),
		IncidentTypeCounts: make(map[Type]int),
	}
	for _, inc := range m.incidents {
		s.TotalIncidents++
		if inc.IsActive() {
			s.ActiveIncidents++
		} else {
			s.ClearedIncidents++
		}
		s.IncidentTypeCounts[inc.Type]++
	}
	return s
}
