package engine

import "github.com/Tuzfucius/YULU-simulation/domain/vehicle"

const metersPerSecondToKMH = 3.6

func (e *Engine) appendTrajectory(ordered []*vehicle.Vehicle, events *TickEvents) {
	for _, v := range ordered {
		point := TrajectoryPoint{
			VehicleID:     v.ID,
			Position:      v.Position,
			Clock:         e.clock,
			Lane:          v.Lane,
			SpeedKMH:      v.Speed * metersPerSecondToKMH,
			AnomalyType:   int(v.Anomaly.Type),
			AnomalyState:  string(v.Anomaly.State),
			VehicleType:   v.Type,
			DriverStyle:   v.DriverStyle,
			Impacted:      v.Impacted,
			LateralOffset: v.LateralOffset,
			Length:        v.Length,
		}
		e.trajectory = append(e.trajectory, point)
		events.Trajectories = append(events.Trajectories, point)
	}
}

// appendSegmentSpeeds computes the per-segment average speed, density, and
// flow for every segment holding at least one vehicle this tick, per
// spec.md §4.1 step 6.
func (e *Engine) appendSegmentSpeeds(ordered []*vehicle.Vehicle, events *TickEvents) {
	type agg struct {
		count    int
		speedSum float64
	}
	bySegment := make(map[int]*agg)
	for _, v := range ordered {
		seg := e.cfg.Road.SegmentIndex(v.Position)
		a, ok := bySegment[seg]
		if !ok {
			a = &agg{}
			bySegment[seg] = a
		}
		a.count++
		a.speedSum += v.Speed * metersPerSecondToKMH
	}

	segLenKM := e.cfg.Road.SegmentLengthKM
	if segLenKM <= 0 {
		segLenKM = 1
	}
	for seg, a := range bySegment {
		avgSpeed := a.speedSum / float64(a.count)
		density := float64(a.count) / (segLenKM * float64(e.cfg.Road.NumLanes))
		rec := SegmentSpeedRecord{
			Clock:       e.clock,
			Segment:     seg,
			AvgSpeedKMH: avgSpeed,
			Density:     density,
			Flow:        avgSpeed * density,
		}
		e.segmentSpeeds = append(e.segmentSpeeds, rec)
		events.SegmentSpeeds = append(events.SegmentSpeeds, rec)
	}
}

func (e *Engine) segmentAvgSpeeds(ordered []*vehicle.Vehicle) map[int]float64 {
	type agg struct {
		count    int
		speedSum float64
	}
	bySegment := make(map[int]*agg)
	for _, v := range ordered {
		seg := e.cfg.Road.SegmentIndex(v.Position)
		a, ok := bySegment[seg]
		if !ok {
			a = &agg{}
			bySegment[seg] = a
		}
		a.count++
		a.speedSum += v.Speed * metersPerSecondToKMH
	}
	out := make(map[int]float64, len(bySegment))
	for seg, a := range bySegment {
		out[seg] = a.speedSum / float64(a.count)
	}
	return out
}

func (e *Engine) segmentDensities(ordered []*vehicle.Vehicle) map[int]float64 {
	counts := make(map[int]int)
	for _, v := range ordered {
		counts[e.cfg.Road.SegmentIndex(v.Position)]++
	}
	segLenKM := e.cfg.Road.SegmentLengthKM
	if segLenKM <= 0 {
		segLenKM = 1
	}
	out := make(map[int]float64, len(counts))
	for seg, c := range counts {
		out[seg] = float64(c) / (segLenKM * float64(e.cfg.Road.NumLanes))
	}
	return out
}
