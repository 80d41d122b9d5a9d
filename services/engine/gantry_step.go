package engine

import (
	domaingantry "github.com/Tuzfucius/YULU-simulation/domain/gantry"
	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
)

// processCrossings detects every vehicle entering a gantry's ±50m window
// for the first time, builds the raw transaction, runs it through the
// noise pipeline, and feeds every surviving copy to the streaming
// detector, per spec.md §4.1 step 5 and §4.6.
func (e *Engine) processCrossings(ordered []*vehicle.Vehicle, events *TickEvents) {
	for _, g := range e.cfg.Road.Gantries {
		for _, v := range ordered {
			if v.HasCrossed(g.ID) {
				continue
			}
			if v.Position < g.Position || v.Position-g.Position > 50 {
				continue
			}
			v.MarkCrossed(g.ID)

			status := domaingantry.StatusNormal
			if v.IsAnomalyActive(vehicle.AnomalyNone) {
				status = domaingantry.StatusAnomaly
			}

			raw := domaingantry.Transaction{
				VehicleID: v.ID,
				GantryID:  g.ID,
				GantryPos: g.Position / 1000,
				Timestamp: e.clock,
				Lane:      v.Lane,
				Speed:     v.Speed,
				Status:    status,
			}

			copies, noiseEvents := e.noise.Apply(raw, e.rng)
			e.noiseEvents = append(e.noiseEvents, noiseEvents...)
			events.NoiseEvents = append(events.NoiseEvents, noiseEvents...)
			for _, ne := range noiseEvents {
				if e.metrics != nil {
					e.metrics.RecordNoiseEvent(ne.Stage)
				}
			}

			for _, tx := range copies {
				e.transactions = append(e.transactions, tx)
				events.Transactions = append(events.Transactions, tx)
				if e.metrics != nil {
					e.metrics.RecordGantryTransaction(g.ID, string(tx.Status))
				}
				if fired := e.detector.Process(tx); fired != nil {
					e.alerts = append(e.alerts, *fired)
					e.recordRecentAlert(*fired)
					events.Alerts = append(events.Alerts, *fired)
					if e.metrics != nil {
						e.metrics.RecordAlert(fired.RuleName, string(fired.Severity))
					}
				}
			}
		}
	}
}
