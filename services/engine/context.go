package engine

import (
	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
)

// detectQueuesAndJams scans the position-ordered active set for segment
// queues (>= QueueMinVehicles all below QueueSpeedThresholdKMH in the same
// segment and lane) and phantom jams (a lone slow vehicle with no visible
// cause ahead), per spec.md §4.1 step 7.
func (e *Engine) detectQueuesAndJams(ordered []*vehicle.Vehicle, events *TickEvents) {
	type key struct {
		segment int
		lane    int
	}
	groups := make(map[key][]*vehicle.Vehicle)
	for _, v := range ordered {
		if v.Speed*metersPerSecondToKMH >= e.cfg.QueueSpeedThresholdKMH {
			continue
		}
		k := key{segment: e.cfg.Road.SegmentIndex(v.Position), lane: v.Lane}
		groups[k] = append(groups[k], v)
	}
	for k, vs := range groups {
		if len(vs) >= e.cfg.QueueMinVehicles {
			ev := QueueEvent{Clock: e.clock, Segment: k.segment, Lane: k.lane, Count: len(vs)}
			e.queueEvents = append(e.queueEvents, ev)
			events.QueueEvents = append(events.QueueEvents, ev)
		}
	}

	for _, v := range ordered {
		if v.Speed*metersPerSecondToKMH >= e.cfg.PhantomJamSpeedKMH {
			continue
		}
		if v.IsAnomalyActive(vehicle.AnomalyNone) {
			continue // has a visible cause: its own anomaly
		}
		leader := e.leaderInfoFor(v)
		if leader.Present && leader.Gap <= e.cfg.PhantomJamDistM && (leader.Speed*metersPerSecondToKMH < e.cfg.PhantomJamSpeedKMH || leader.StoppedAnomaly) {
			continue // cause is visible: a slow/stopped leader within range
		}
		ev := PhantomJamEvent{
			Clock:     e.clock,
			VehicleID: v.ID,
			Segment:   e.cfg.Road.SegmentIndex(v.Position),
			Lane:      v.Lane,
			SpeedKMH:  v.Speed * metersPerSecondToKMH,
		}
		e.phantomEvents = append(e.phantomEvents, ev)
		events.PhantomJamEvents = append(events.PhantomJamEvents, ev)
	}
}

// assembleAlertContext builds the per-tick snapshot the rule engine
// evaluates against, per spec.md §4.1 step 8.
func (e *Engine) assembleAlertContext(ordered []*vehicle.Vehicle) *domainalert.Context {
	vehicles := make(map[uint64]domainalert.VehicleSnapshot, len(ordered))
	for _, v := range ordered {
		vehicles[v.ID] = domainalert.VehicleSnapshot{
			ID:           v.ID,
			Position:     v.Position,
			Lane:         v.Lane,
			SpeedKMH:     v.Speed * metersPerSecondToKMH,
			AnomalyType:  int(v.Anomaly.Type),
			AnomalyState: string(v.Anomaly.State),
			Impacted:     v.Impacted,
		}
	}

	queueLengths := make(map[int]int)
	for _, ev := range e.currentQueueLengths(ordered) {
		queueLengths[ev.Segment] += ev.Count
	}

	return &domainalert.Context{
		Clock:              e.clock,
		Gantries:           e.detector.Snapshot(),
		Vehicles:           vehicles,
		QueueLengths:       queueLengths,
		SegmentAvgSpeedKMH: e.segmentAvgSpeeds(ordered),
		SegmentDensity:     e.segmentDensities(ordered),
		Weather:            e.cfg.Weather,
		RecentAlerts:       append([]domainalert.Event(nil), e.recentAlerts...),
	}
}

func (e *Engine) currentQueueLengths(ordered []*vehicle.Vehicle) []QueueEvent {
	type key struct {
		segment int
		lane    int
	}
	groups := make(map[key]int)
	for _, v := range ordered {
		if v.Speed*metersPerSecondToKMH >= e.cfg.QueueSpeedThresholdKMH {
			continue
		}
		groups[key{segment: e.cfg.Road.SegmentIndex(v.Position), lane: v.Lane}]++
	}
	out := make([]QueueEvent, 0, len(groups))
	for k, count := range groups {
		out = append(out, QueueEvent{Segment: k.segment, Lane: k.lane, Count: count})
	}
	return out
}
