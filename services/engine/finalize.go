package engine

import "github.com/Tuzfucius/YULU-simulation/domain/vehicle"

// finalize moves every vehicle that has reached the end of the road from
// the active set into the finished record, per spec.md §4.1 step 9.
func (e *Engine) finalize(ordered []*vehicle.Vehicle, events *TickEvents) {
	roadEnd := e.cfg.Road.LengthM()
	for _, v := range ordered {
		if v.Position < roadEnd {
			continue
		}
		v.Completed = true
		v.ExitTime = e.clock

		e.vehicleRecords = append(e.vehicleRecords, VehicleRecord{
			ID:          v.ID,
			Type:        v.Type,
			DriverStyle: v.DriverStyle,
			SpawnTime:   v.SpawnTime,
			ExitTime:    v.ExitTime,
			Segments:    v.Segments,
			Safety:      v.Safety,
		})

		delete(e.active, v.ID)
		e.index.Remove(v.ID)
		e.totalFinished++
		events.Finished = append(events.Finished, v.ID)
	}
}
